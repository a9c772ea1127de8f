package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/gateway"
	"github.com/eth-act/ere/internal/model"
)

// backendInfo is one entry of GET /v1/backends.
type backendInfo struct {
	Kind       model.BackendKind `json:"kind"`
	Name       string            `json:"name"`
	SDKVersion string            `json:"sdk_version"`
	Resource   *model.Resource   `json:"resource,omitempty"`
}

type executeRequest struct {
	Stdin  []byte `json:"stdin"`
	Proofs []byte `json:"proofs,omitempty"`
}

type executeResponse struct {
	PublicValues model.PublicValues    `json:"public_values"`
	Report       model.ExecutionReport `json:"report"`
}

type verifyRequest struct {
	Proof     []byte `json:"proof"`
	ProofKind string `json:"proof_kind"`
}

type verifyResponse struct {
	PublicValues model.PublicValues `json:"public_values"`
}

func (s *Server) handleListBackends(w http.ResponseWriter, _ *http.Request) {
	kinds := s.gateways.Kinds()
	out := make([]backendInfo, 0, len(kinds))
	for _, kind := range kinds {
		b, err := s.gateways.Resolve(kind)
		if err != nil {
			continue
		}
		info := backendInfo{Kind: kind, Name: b.Name(), SDKVersion: b.SDKVersion()}
		if rb, ok := b.(interface{ Resource() model.Resource }); ok {
			res := rb.Resource()
			info.Resource = &res
		}
		out = append(out, info)
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req executeRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	pv, report, err := b.Execute(r.Context(), model.Input{Stdin: req.Stdin, Proofs: req.Proofs})
	if err != nil {
		s.writeCallError(w, "execute", err)
		return
	}
	s.writeJSON(w, http.StatusOK, executeResponse{PublicValues: pv, Report: report})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	b, ok := s.resolve(w, r)
	if !ok {
		return
	}

	var req verifyRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	kind, err := parseProofKind(req.ProofKind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	pv, err := b.Verify(r.Context(), model.Proof{Kind: kind, Bytes: req.Proof})
	if err != nil {
		s.writeCallError(w, "verify", err)
		return
	}
	s.writeJSON(w, http.StatusOK, verifyResponse{PublicValues: pv})
}

// resolve looks up the backend named by the {kind} URL parameter and writes
// the error response when there is none.
func (s *Server) resolve(w http.ResponseWriter, r *http.Request) (backend.Backend, bool) {
	kind, err := model.ParseBackendKind(chi.URLParam(r, "kind"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	b, err := s.gateways.Resolve(kind)
	if err != nil {
		s.writeError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return b, true
}

// parseProofKind defaults an empty kind to compressed.
func parseProofKind(s string) (model.ProofKind, error) {
	if s == "" {
		return model.ProofCompressed, nil
	}
	return model.ParseProofKind(s)
}

// statusFor maps a gateway call error to an HTTP status.
func statusFor(err error) int {
	if errors.Is(err, gateway.ErrNoGateway) {
		return http.StatusNotFound
	}
	switch gateway.Classify(err) {
	case gateway.KindDomain:
		return http.StatusUnprocessableEntity
	case gateway.KindBuild, gateway.KindLaunch, gateway.KindClosed:
		return http.StatusServiceUnavailable
	case gateway.KindConnectivity:
		return http.StatusBadGateway
	case gateway.KindCanceled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// writeCallError writes a failed gateway call. Domain messages are passed
// through verbatim.
func (s *Server) writeCallError(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("backend call failed", "op", op, "error_kind", gateway.Classify(err), "error", err)
	}
	s.writeJSON(w, status, callErrorResponse{Error: err.Error(), Kind: string(gateway.Classify(err))})
}

type callErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind"`
}
