package api

import (
	"context"
	"net/http"
	"time"
)

const healthPingTimeout = 2 * time.Second

// healthResponse is the JSON response for GET /healthz. Status is "degraded"
// and the code 503 while the database cannot be reached.
type healthResponse struct {
	Status       string         `json:"status"`
	Database     string         `json:"database"`
	Governor     governorHealth `json:"governor"`
	LiveSessions int            `json:"live_sessions"`
}

type governorHealth struct {
	Enabled        bool  `json:"enabled"`
	SoftLimitMS    int64 `json:"soft_limit_ms"`
	TrackedWorkers int   `json:"tracked_workers"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	diag := s.gov.Diagnostics()
	resp := healthResponse{
		Status:   "ok",
		Database: "ok",
		Governor: governorHealth{
			Enabled:        diag.Enabled,
			SoftLimitMS:    diag.SoftLimit.Milliseconds(),
			TrackedWorkers: diag.TrackedWorkers,
		},
		LiveSessions: len(s.host.Rooms()),
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	status := http.StatusOK
	if err := s.store.Ping(ctx); err != nil {
		s.logger.Warn("healthz: database unreachable", "error", err)
		resp.Status = "degraded"
		resp.Database = err.Error()
		status = http.StatusServiceUnavailable
	}
	s.writeJSON(w, status, resp)
}
