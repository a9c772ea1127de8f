package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/eth-act/ere/internal/backend"
	"github.com/eth-act/ere/internal/model"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
)

// Server answers RPC calls with a single Backend.
type Server struct {
	router  *chi.Mux
	backend backend.Backend
	logger  *slog.Logger
}

// NewServer creates the HTTP handler tree for b.
func NewServer(b backend.Backend, logger *slog.Logger) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		backend: b,
		logger:  logger,
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)

	srv.routes()
	return srv
}

func (s *Server) routes() {
	s.router.Get(PathHealth, s.handleHealth)
	s.router.Get(PathInfo, s.handleInfo)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Route(PathRPC, func(r chi.Router) {
		r.Post("/"+MethodExecute, s.handleExecute)
		r.Post("/"+MethodProve, s.handleProve)
		r.Post("/"+MethodVerify, s.handleVerify)
	})
}

// Router returns the chi router.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Serve serves on ln until ctx is canceled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	httpServer := &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", ln.Addr().String(), "backend", s.backend.Name())
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	s.logger.Info("server stopped")
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}

func (s *Server) handleInfo(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, Info{
		Name:       s.backend.Name(),
		SDKVersion: s.backend.SDKVersion(),
	})
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ExecuteRequest
	if !s.decode(w, r, &req) {
		return
	}

	var resp ExecuteResponse
	err := s.invoke(MethodExecute, func() error {
		pv, report, err := s.backend.Execute(r.Context(), model.Input{Stdin: req.Stdin, Proofs: req.Proofs})
		if err != nil {
			return err
		}
		resp = ExecuteResponse{PublicValues: pv, Report: model.EncodeExecutionReport(report)}
		return nil
	})
	writeResult(s, w, resp, err)
}

func (s *Server) handleProve(w http.ResponseWriter, r *http.Request) {
	var req ProveRequest
	if !s.decode(w, r, &req) {
		return
	}
	kind, err := model.ProofKindFromWire(req.ProofKind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp ProveResponse
	err = s.invoke(MethodProve, func() error {
		pv, proof, report, err := s.backend.Prove(r.Context(), model.Input{Stdin: req.Stdin, Proofs: req.Proofs}, kind)
		if err != nil {
			return err
		}
		resp = ProveResponse{PublicValues: pv, Proof: proof.Bytes, Report: model.EncodeProvingReport(report)}
		return nil
	})
	writeResult(s, w, resp, err)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req VerifyRequest
	if !s.decode(w, r, &req) {
		return
	}
	kind, err := model.ProofKindFromWire(req.ProofKind)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var resp VerifyResponse
	err = s.invoke(MethodVerify, func() error {
		pv, err := s.backend.Verify(r.Context(), model.Proof{Kind: kind, Bytes: req.Proof})
		if err != nil {
			return err
		}
		resp = VerifyResponse{PublicValues: pv}
		return nil
	})
	writeResult(s, w, resp, err)
}

// invoke runs a backend call, turning a panic into an error so a crashing
// backend answers with the err variant instead of dropping the connection.
func (s *Server) invoke(method string, fn func() error) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			backendCallsTotal.WithLabelValues(method, outcomePanic).Inc()
			s.logger.Error("backend panicked", "method", method, "panic", rec)
			err = fmt.Errorf("%s panicked: %v", method, rec)
		}
	}()

	if err := fn(); err != nil {
		backendCallsTotal.WithLabelValues(method, outcomeErr).Inc()
		s.logger.Warn("backend call failed", "method", method, "error", err)
		return err
	}
	backendCallsTotal.WithLabelValues(method, outcomeOk).Inc()
	return nil
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, MaxBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

// writeResult answers 200 with the ok variant, or the err variant carrying
// the backend error message.
func writeResult[T any](s *Server, w http.ResponseWriter, resp T, err error) {
	if err != nil {
		msg := err.Error()
		s.writeJSON(w, http.StatusOK, envelope[T]{Err: &msg})
		return
	}
	s.writeJSON(w, http.StatusOK, envelope[T]{Ok: &resp})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, errorResponse{Error: message})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
