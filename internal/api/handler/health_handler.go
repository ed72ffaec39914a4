package handler

import (
	"context"
	"net/http"

	"github.com/notifyhub/dispatch/internal/channel"
	"github.com/notifyhub/dispatch/internal/domain"
)

// Pinger reports storage reachability. *pgxpool.Pool satisfies it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler serves the liveness probe and the channel health rollup.
type HealthHandler struct {
	router *channel.Router
	db     Pinger
}

func NewHealthHandler(router *channel.Router, db Pinger) *HealthHandler {
	return &HealthHandler{router: router, db: db}
}

// Live handles GET /health. Process liveness only; no dependencies probed.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Health handles GET /api/v1/health: probes the database and every
// configured channel provider. Unconfigured channels are omitted from the
// rollup instead of dragging it to degraded.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	dbStatus := "ok"
	degraded := false
	if err := h.db.Ping(ctx); err != nil {
		dbStatus = "unreachable"
		degraded = true
	}

	channels := map[string]string{}
	for ch, status := range h.router.HealthCheckAll(ctx) {
		channels[string(ch)] = string(status)
		if status != domain.HealthHealthy {
			degraded = true
		}
	}

	overall := "ok"
	httpStatus := http.StatusOK
	if degraded {
		overall = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	respondJSON(w, httpStatus, map[string]any{
		"status":   overall,
		"database": dbStatus,
		"channels": channels,
	})
}
