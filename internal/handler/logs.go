package handler

import (
	"bufio"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/yourorg/tenantfleet/internal/domain"
	"github.com/yourorg/tenantfleet/internal/engine"
	"github.com/yourorg/tenantfleet/internal/inventory"
)

// LogsHandler streams a tenant container's logs over WebSocket
type LogsHandler struct {
	client         engine.Client
	inventory      *inventory.Reader
	logger         *slog.Logger
	allowedOrigins []string
}

// NewLogsHandler creates a logs handler
func NewLogsHandler(client engine.Client, inv *inventory.Reader, logger *slog.Logger, allowedOrigins []string) *LogsHandler {
	return &LogsHandler{
		client:         client,
		inventory:      inv,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

func (h *LogsHandler) getUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				// Allow requests with no origin (non-browser clients)
				return true
			}
			for _, allowed := range h.allowedOrigins {
				if origin == allowed {
					return true
				}
			}
			h.logger.Warn("websocket origin rejected", slog.String("origin", origin))
			return false
		},
	}
}

// ServeHTTP handles GET /ws/logs/{subdomain}
func (h *LogsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	subdomain := r.PathValue("subdomain")
	if !domain.ValidSubdomain(subdomain) {
		http.Error(w, "invalid subdomain", http.StatusBadRequest)
		return
	}

	exists, err := h.inventory.ContainerExists(r.Context(), subdomain)
	if err != nil {
		h.logger.Error("inventory lookup failed", slog.String("subdomain", subdomain), slog.String("error", err.Error()))
		http.Error(w, "runtime inventory unavailable", http.StatusBadGateway)
		return
	}
	if !exists {
		http.Error(w, "no container for tenant", http.StatusNotFound)
		return
	}

	upgrader := h.getUpgrader()
	ws, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}
	defer ws.Close()

	stream, err := h.client.StreamLogs(r.Context(), h.inventory.ContainerName(subdomain))
	if err != nil {
		h.logger.Error("failed to stream logs",
			slog.String("subdomain", subdomain),
			slog.String("error", err.Error()),
		)
		_ = ws.WriteMessage(websocket.TextMessage, []byte("Error: "+err.Error()))
		return
	}
	defer stream.Close()

	scanner := bufio.NewScanner(stream)
	scanner.Buffer(make([]byte, 1024), 1024*1024)

	// Heartbeat ping keeps the connection alive across quiet periods
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = ws.WriteControl(websocket.PingMessage, []byte("ping"), time.Now().Add(5*time.Second))
			case <-done:
				return
			}
		}
	}()

	for scanner.Scan() {
		if err := ws.WriteMessage(websocket.TextMessage, scanner.Bytes()); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Debug("websocket closed", slog.String("subdomain", subdomain))
			}
			return
		}
	}
}
