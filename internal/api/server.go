// Package api exposes the HTTP interface for the crawler service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/cortexmap/cortex/internal/config"
	"github.com/cortexmap/cortex/internal/crawler"
	"github.com/cortexmap/cortex/internal/database"
	"github.com/cortexmap/cortex/internal/dispatcher"
)

const defaultMapsLimit = 50
const maxMapsLimit = 500

// Server wires HTTP handlers to the dispatcher and the map/job stores. It
// exposes an operator surface only: health, metrics, read-only map
// listings, and a debug endpoint that enqueues a REFRESH job for a domain.
// MAP work is not submitted through this API.
type Server struct {
	router     chi.Router
	jobStore   crawler.MapJobStore
	catalog    database.Provider
	dispatcher *dispatcher.Dispatcher
	cfg        config.Config
}

const metricsPayload = "# HELP cortex_build_info Build info\n" +
	"# TYPE cortex_build_info gauge\n" +
	"cortex_build_info 1\n"

// NewServer constructs a Server with middleware and routes. progress wires
// the optional progress-reporting handlers; pass nil to omit /api/jobs.
func NewServer(
	jobStore crawler.MapJobStore,
	catalog database.Provider,
	dispatcher *dispatcher.Dispatcher,
	cfg config.Config,
	progress *ProgressHandler,
) *Server {
	s := &Server{
		jobStore:   jobStore,
		catalog:    catalog,
		dispatcher: dispatcher,
		cfg:        cfg,
	}
	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware)
	r.Use(recoverMiddleware)
	r.Use(timeoutMiddleware(60 * time.Second))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Get("/metrics", s.metrics)
	r.Get("/debug/maps", s.debugMaps)
	r.Post("/debug/maps/{domain}/refresh", s.triggerRefresh)

	if progress != nil {
		r.Get("/api/jobs", progress.ListJobs)
		r.Get("/api/jobs/{job_id}", progress.GetJob)
		r.Get("/api/jobs/{job_id}/sites", progress.ListJobSites)
	}

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) metrics(w http.ResponseWriter, _ *http.Request) {
	// Placeholder metrics endpoint; wire Prometheus registry in future.
	w.Header().Set("Content-Type", "text/plain")
	if _, err := w.Write([]byte(metricsPayload)); err != nil {
		slog.Default().Error("metrics write failed", "error", err)
	}
}

// debugMaps handles GET /debug/maps?limit=. It lists the map catalog rows
// when a database.Provider is configured, falling back to the in-memory
// job-run log otherwise.
func (s *Server) debugMaps(w http.ResponseWriter, r *http.Request) {
	limit := defaultMapsLimit
	if limStr := r.URL.Query().Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		if val > maxMapsLimit {
			val = maxMapsLimit
		}
		limit = val
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.catalog != nil {
		maps, err := s.catalog.ListMaps(ctx, limit)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to list maps")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"maps": maps})
		return
	}

	if s.jobStore == nil {
		writeError(w, http.StatusServiceUnavailable, "no map catalog or job store configured")
		return
	}
	jobs, err := s.jobStore.ListRecent(ctx, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": jobs})
}

// triggerRefresh handles POST /debug/maps/{domain}/refresh, enqueuing a
// background REFRESH sweep for domain.
func (s *Server) triggerRefresh(w http.ResponseWriter, r *http.Request) {
	domain := chi.URLParam(r, "domain")
	if domain == "" {
		writeError(w, http.StatusBadRequest, "domain is required")
		return
	}
	queueCtx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	job := crawler.MapJob{Domain: domain, Refresh: true, Submitted: time.Now().Unix()}
	if err := s.dispatcher.Enqueue(queueCtx, job); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusRequestTimeout
		}
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"domain": domain, "status": "queued"})
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
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		logger.Info("request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func recoverMiddleware(next http.Handler) http.Handler {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				logger.Error("panic recovered", "error", rec)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Default().Error("write JSON failed", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
