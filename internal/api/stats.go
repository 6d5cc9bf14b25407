package api

import (
	"net/http"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total        int            `json:"total"`
	ByStatus     map[string]int `json:"by_status"`
	TotalAborts  int            `json:"total_aborts"`
	AvgHostedMS  float64        `json:"avg_hosted_ms"`
	OnlineUsers  int            `json:"online_users"`
	LiveSessions int            `json:"live_sessions"`
	RecentAborts int64          `json:"recent_aborts"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetSessionStats(r.Context())
	if err != nil {
		s.logger.Error("get session stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:        stats.Total,
		ByStatus:     stats.CountByStatus,
		TotalAborts:  stats.TotalAborts,
		AvgHostedMS:  stats.AvgHostedMS,
		OnlineUsers:  stats.OnlineUsers,
		LiveSessions: len(s.host.Rooms()),
		RecentAborts: s.gov.AbortCount(),
	})
}
