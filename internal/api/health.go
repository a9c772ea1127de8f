package api

import (
	"net/http"

	"github.com/eth-act/ere/internal/config"
	"github.com/eth-act/ere/internal/model"
)

type healthResponse struct {
	Status   string              `json:"status"`
	Version  string              `json:"version"`
	Backends []model.BackendKind `json:"backends"`
}

// handleHealthz reports "degraded" while no gateway is serving.
func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	kinds := s.gateways.Kinds()
	resp := healthResponse{Status: "ok", Version: config.Version, Backends: kinds}
	if len(kinds) == 0 {
		resp.Status = "degraded"
		resp.Backends = []model.BackendKind{}
	}
	s.writeJSON(w, http.StatusOK, resp)
}
