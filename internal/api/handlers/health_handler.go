package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/isdelr/bookshelf-be/internal/monitoring"
	"github.com/rs/zerolog/log"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// StatsSource provides the latest system stats sample.
type StatsSource interface {
	Latest() (monitoring.SystemStats, bool)
}

// HealthResponse is the body of the health endpoint.
type HealthResponse struct {
	Status   string                  `json:"status"`
	Database string                  `json:"database"`
	System   *monitoring.SystemStats `json:"system,omitempty"`
}

// HealthHandler reports service liveness.
type HealthHandler struct {
	db    Pinger
	stats StatsSource
}

// NewHealthHandler creates a new HealthHandler. stats may be nil.
func NewHealthHandler(db Pinger, stats StatsSource) *HealthHandler {
	return &HealthHandler{db: db, stats: stats}
}

// Check pings the database and includes the latest system stats.
func (h *HealthHandler) Check(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", Database: "ok"}
	status := http.StatusOK
	if err := h.db.PingContext(ctx); err != nil {
		log.Error().Err(err).Msg("Health check: database unreachable")
		resp.Status = "degraded"
		resp.Database = "unreachable"
		status = http.StatusServiceUnavailable
	}
	if h.stats != nil {
		if stats, ok := h.stats.Latest(); ok {
			resp.System = &stats
		}
	}
	respondJSON(w, status, resp)
}
