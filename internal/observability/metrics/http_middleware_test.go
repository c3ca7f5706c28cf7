package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
)

func TestNormalizePath(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"/api/tenants", "/api/tenants"},
		{"/ws/logs/acme", "/ws/logs/:subdomain"},
		{"/ws/logs/another-tenant", "/ws/logs/:subdomain"},
		{"/ws/logs/", "/ws/logs/"},
		{"/metrics", "/metrics"},
	}
	for _, c := range cases {
		if got := normalizePath(c.in); got != c.want {
			t.Errorf("normalizePath(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestMiddlewarePreservesStatus(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})
	rec := httptest.NewRecorder()
	HTTPMetricsMiddleware(inner).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/tenants", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

// The log-streaming route sits behind this middleware, so the wrapped
// writer must still satisfy http.Hijacker or every upgrade fails.
func TestMiddlewareAllowsWebSocketUpgrade(t *testing.T) {
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.TextMessage, []byte("log line"))
	})

	srv := httptest.NewServer(HTTPMetricsMiddleware(inner))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/logs/acme"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	defer resp.Body.Close()

	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(msg) != "log line" {
		t.Fatalf("message = %q", msg)
	}
}
