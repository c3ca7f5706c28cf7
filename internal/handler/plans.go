package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"

	"github.com/yourorg/tenantfleet/pkg/config"
)

// PlansHandler serves the sellable plan presets
type PlansHandler struct {
	cfg    *config.Config
	logger *slog.Logger
}

// NewPlansHandler creates a plans handler
func NewPlansHandler(cfg *config.Config, logger *slog.Logger) *PlansHandler {
	return &PlansHandler{cfg: cfg, logger: logger}
}

type planResponse struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Tier     string  `json:"tier"`
	MemoryMB int     `json:"memoryMB"`
	PriceUSD float64 `json:"priceUSD"`
}

// ServeHTTP handles GET /api/plans
func (h *PlansHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ids := make([]string, 0, len(h.cfg.Plans))
	for id := range h.cfg.Plans {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	out := make([]planResponse, 0, len(ids))
	for _, id := range ids {
		p := h.cfg.Plans[id]
		out = append(out, planResponse{
			ID:       id,
			Name:     p.Name,
			Tier:     p.Tier,
			MemoryMB: p.MemoryMB,
			PriceUSD: p.PriceUSD,
		})
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(out); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
