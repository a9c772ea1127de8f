package api

import (
	"net/http"

	"github.com/eth-act/ere/internal/model"
)

// statsResponse is the JSON response for GET /v1/stats.
type statsResponse struct {
	Total          int                 `json:"total"`
	InFlight       int                 `json:"in_flight"`
	ByStatus       map[string]int      `json:"by_status"`
	ByBackend      map[string]int      `json:"by_backend"`
	ByMethod       map[string]int      `json:"by_method"`
	FailuresByKind map[string]int      `json:"failures_by_kind"`
	AvgDurationMS  float64             `json:"avg_duration_ms"`
	AvgByMethodMS  map[string]float64  `json:"avg_duration_ms_by_method"`
	Serving        []model.BackendKind `json:"serving"`
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetJobStats(r.Context())
	if err != nil {
		s.logger.Error("get job stats", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	s.writeJSON(w, http.StatusOK, statsResponse{
		Total:          stats.Total,
		InFlight:       stats.CountByStatus[model.StatusPending] + stats.CountByStatus[model.StatusRunning],
		ByStatus:       stats.CountByStatus,
		ByBackend:      stats.CountByBackend,
		ByMethod:       stats.CountByMethod,
		FailuresByKind: stats.FailuresByKind,
		AvgDurationMS:  stats.AvgDurationMS,
		AvgByMethodMS:  stats.AvgDurationByMethod,
		Serving:        s.gateways.Kinds(),
	})
}
