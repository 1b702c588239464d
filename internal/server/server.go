// Package server exposes the query pipeline over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/jmorrow/paperquery/internal/config"
	"github.com/jmorrow/paperquery/internal/pipeline"
	"github.com/jmorrow/paperquery/pkg/types"
)

// Server is the HTTP front end.
type Server struct {
	pipeline *pipeline.Pipeline
	cfg      config.ServerConfig
	log      *zap.Logger
	http     *http.Server
	started  time.Time
}

// New creates a Server with routes registered.
func New(p *pipeline.Pipeline, cfg config.ServerConfig, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		pipeline: p,
		cfg:      cfg,
		log:      log,
		started:  time.Now(),
	}

	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.HandleFunc("/query", s.handleQuery).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/stats", s.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/invalidate", s.handleInvalidate).Methods(http.MethodPost)

	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// ListenAndServe blocks until the listener fails or Shutdown is called.
func (s *Server) ListenAndServe() error {
	s.log.Info("http server listening", zap.String("addr", s.cfg.Addr))
	err := s.http.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the configured grace period.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()
	}
	return s.http.Shutdown(ctx)
}

// Handler exposes the routed handler for tests.
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req types.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return
	}

	resp, err := s.pipeline.Ask(r.Context(), req)
	if err != nil {
		s.writeError(w, r, statusForError(err), err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.pipeline.Ping(r.Context()); err != nil {
		s.log.Error("health check: storage unreachable", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status": "unavailable",
			"error":  "storage unreachable",
		})
		return
	}

	body := map[string]interface{}{
		"status":          "ok",
		"uptime_seconds":  int64(time.Since(s.started).Seconds()),
		"embedding_model": s.pipeline.ModelVersion(),
	}
	// Corpus size is informational; its failure does not flip the status.
	if corpus, err := s.pipeline.CorpusStats(r.Context()); err == nil {
		body["papers"] = corpus.Papers
	}
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	corpus, err := s.pipeline.CorpusStats(r.Context())
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, "stats: "+err.Error())
		return
	}
	cacheLen, cacheTTL := s.pipeline.CacheStats()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"papers":          corpus.Papers,
		"embeddings":      corpus.Embeddings,
		"embedding_model": s.pipeline.ModelVersion(),
		"cache_entries":   cacheLen,
		"cache_ttl":       cacheTTL.String(),
	})
}

func (s *Server) handleInvalidate(w http.ResponseWriter, r *http.Request) {
	n := s.pipeline.InvalidateCache()
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"invalidated": n,
	})
}

// statusForError maps pipeline error classes onto HTTP statuses.
func statusForError(err error) int {
	switch {
	case errors.Is(err, types.ErrInvalidFilter):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrTimeout):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrGenerationUnavailable):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

type errorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, msg string) {
	s.writeJSON(w, status, errorResponse{Error: msg, RequestID: requestIDFrom(r.Context())})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("write response", zap.Error(err))
	}
}
