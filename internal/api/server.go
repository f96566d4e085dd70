// Package api exposes the HTTP interface for the digest service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/autumnsgrove/clearing-cli/internal/model"
	"github.com/autumnsgrove/clearing-cli/internal/store"
)

// RunStarter launches a digest run in the background, returning the
// queued run.
type RunStarter interface {
	Start(ctx context.Context, topics []model.Topic) (*model.Run, error)
}

// Server wires HTTP handlers to the store and the pipeline.
type Server struct {
	router  chi.Router
	store   store.Store
	starter RunStarter
	topics  []model.Topic

	// runCtx outlives individual requests so background runs are only
	// cancelled on server shutdown.
	runCtx context.Context
}

// NewServer constructs a Server with middleware and routes. Background
// runs inherit runCtx, not the submitting request's context.
func NewServer(runCtx context.Context, st store.Store, starter RunStarter, topics []model.Topic) *Server {
	s := &Server{
		store:   st,
		starter: starter,
		topics:  topics,
		runCtx:  runCtx,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)

	r.Get("/healthz", s.healthz)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/digests", func(r chi.Router) {
			r.Post("/", s.submitDigest)
			r.Get("/{run_id}", s.getDigest)
		})
		r.Get("/runs", s.listRuns)
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type digestRequest struct {
	// Topics optionally narrows the run to a subset of the configured
	// topic names. Empty means all.
	Topics []string `json:"topics"`
}

func (s *Server) submitDigest(w http.ResponseWriter, r *http.Request) {
	var req digestRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON")
			return
		}
	}

	topics, err := s.resolveTopics(req.Topics)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	run, err := s.starter.Start(s.runCtx, topics)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{
		"run_id": run.ID,
		"status": string(run.Status),
	})
}

func (s *Server) getDigest(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "run_id")

	run, err := s.store.GetRun(r.Context(), runID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to fetch run")
		return
	}

	resp := map[string]any{"run": run}
	digest, err := s.store.GetDigestByRun(r.Context(), runID)
	switch {
	case err == nil:
		resp["digest"] = digest
	case errors.Is(err, store.ErrNotFound):
		// Run exists but has not produced a digest yet.
	default:
		writeError(w, http.StatusInternalServerError, "failed to fetch digest")
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) listRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		Status: model.RunStatus(r.URL.Query().Get("status")),
		Limit:  50,
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// resolveTopics maps requested topic names to the configured topics.
// An empty request selects every configured topic.
func (s *Server) resolveTopics(names []string) ([]model.Topic, error) {
	if len(names) == 0 {
		return s.topics, nil
	}
	byName := make(map[string]model.Topic, len(s.topics))
	for _, t := range s.topics {
		byName[t.Name] = t
	}
	selected := make([]model.Topic, 0, len(names))
	for _, name := range names {
		t, ok := byName[name]
		if !ok {
			return nil, errors.New("unknown topic: " + name)
		}
		selected = append(selected, t)
	}
	return selected, nil
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := uuid.NewString()
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		zap.L().Info("request completed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				zap.L().Error("panic recovered", zap.Any("error", rec))
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

type requestIDKey struct{}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
