package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/yourorg/tenantfleet/internal/fleet"
	"github.com/yourorg/tenantfleet/internal/security/middleware"
)

// TenantsHandler serves the cross-store reconciliation report
type TenantsHandler struct {
	manager *fleet.Manager
	logger  *slog.Logger
}

// NewTenantsHandler creates a tenants status handler
func NewTenantsHandler(manager *fleet.Manager, logger *slog.Logger) *TenantsHandler {
	return &TenantsHandler{manager: manager, logger: logger}
}

type tenantStatusResponse struct {
	Subdomain      string `json:"subdomain"`
	InRegistry     bool   `json:"inRegistry"`
	Deployed       bool   `json:"deployed"`
	ContainerState string `json:"containerState,omitempty"`
	MemoryUsage    string `json:"memoryUsage"`
	HasImage       bool   `json:"hasImage"`
	HasDir         bool   `json:"hasDir"`
	DirSizeBytes   int64  `json:"dirSizeBytes"`
}

// ServeHTTP handles GET /api/tenants
func (h *TenantsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if claims := middleware.ClaimsFromContext(r.Context()); claims != nil {
		h.logger.Info("tenant report requested", slog.String("subject", claims.Subject))
	}

	statuses, err := h.manager.ListAllTenants(r.Context())
	if err != nil {
		h.logger.Error("failed to list tenants", slog.String("error", err.Error()))
		http.Error(w, "failed to list tenants", http.StatusInternalServerError)
		return
	}

	out := make([]tenantStatusResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, tenantStatusResponse{
			Subdomain:      s.Subdomain,
			InRegistry:     s.InRegistry,
			Deployed:       s.Deployed,
			ContainerState: s.ContainerState,
			MemoryUsage:    s.MemoryUsage,
			HasImage:       s.HasImage,
			HasDir:         s.HasDir,
			DirSizeBytes:   s.DirSize,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
