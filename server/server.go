// Package server exposes page views over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"reddit-highlighter/pageview"
	"reddit-highlighter/surface"
	"reddit-highlighter/visits"
)

// Runner performs page views.
type Runner interface {
	Run(ctx context.Context, req pageview.Request) (*pageview.Report, error)
}

// History reads stored visit times.
type History interface {
	Load(ctx context.Context, threadID string) ([]int64, error)
}

// IsHTTP403 checks if an error is a 403 Forbidden error.
type IsHTTP403 func(error) bool

// Server handles HTTP requests.
type Server struct {
	runner    Runner
	history   History
	logger    *slog.Logger
	limiter   *rateLimiter
	isHTTP403 IsHTTP403
}

// Config holds server configuration.
type Config struct {
	Runner    Runner
	History   History
	Logger    *slog.Logger
	IsHTTP403 IsHTTP403
	// RequestsPerHour caps page views per client IP; 0 means 60.
	RequestsPerHour int
}

// New creates a new HTTP server handler.
func New(cfg *Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	isHTTP403 := cfg.IsHTTP403
	if isHTTP403 == nil {
		isHTTP403 = func(error) bool { return false }
	}
	limit := cfg.RequestsPerHour
	if limit <= 0 {
		limit = 60
	}
	return &Server{
		runner:    cfg.Runner,
		history:   cfg.History,
		logger:    logger,
		limiter:   newRateLimiter(limit, time.Hour),
		isHTTP403: isHTTP403,
	}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/highlight", s.handleHighlight)
	mux.HandleFunc("/history", s.handleHistory)
	return mux
}

// ListenAndServe serves on port until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, port string) error {
	// Configure server with timeouts to prevent resource exhaustion
	server := &http.Server{
		Addr:              ":" + port,
		Handler:           s.Handler(),
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      5 * time.Minute, // Loading every thread of a large post takes a while
		IdleTimeout:       120 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		s.logger.Info("Starting HTTP server", "port", port)
		errc <- server.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		s.logger.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := fmt.Fprint(w, `{"status":"healthy"}`); err != nil {
		s.logger.Warn("Failed to write health response", "error", err)
		return
	}
}

func (s *Server) handleHighlight(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ip := clientIP(r)
	if !s.limiter.allow(ip) {
		s.logger.Warn("Rate limit exceeded", "ip", ip)
		http.Error(w, "Too many requests. Please try again later.", http.StatusTooManyRequests)
		return
	}

	q := r.URL.Query()
	req := pageview.Request{URL: strings.TrimSpace(q.Get("url"))}
	if req.URL == "" {
		http.Error(w, "Missing url parameter", http.StatusBadRequest)
		return
	}
	if v := q.Get("reference"); v != "" {
		ref, err := strconv.ParseInt(v, 10, 64)
		if err != nil || ref < 0 {
			http.Error(w, "Invalid reference - must be milliseconds since epoch", http.StatusBadRequest)
			return
		}
		req.Reference = &ref
	}
	if v := q.Get("load_all"); v != "" {
		loadAll, err := strconv.ParseBool(v)
		if err != nil {
			http.Error(w, "Invalid load_all parameter", http.StatusBadRequest)
			return
		}
		req.LoadAll = loadAll
	}

	report, err := s.runner.Run(r.Context(), req)
	if err != nil {
		switch {
		case errors.Is(err, surface.ErrUnsupported):
			http.Error(w, "Unsupported page: "+err.Error(), http.StatusUnprocessableEntity)
		case s.isHTTP403(err):
			http.Error(w, "Thread requires login", http.StatusForbidden)
		default:
			s.logger.Error("Page view failed", "url", req.URL, "error", err)
			http.Error(w, "Failed to load thread", http.StatusBadGateway)
		}
		return
	}

	s.writeJSON(w, report)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	threadID := r.URL.Query().Get("thread_id")
	if threadID == "" {
		http.Error(w, "Missing thread_id parameter", http.StatusBadRequest)
		return
	}

	times, err := s.history.Load(r.Context(), threadID)
	if errors.Is(err, visits.ErrCorrupt) {
		s.logger.Warn("Ignoring corrupt visit record", "thread_id", threadID, "error", err)
		times, err = nil, nil
	}
	if err != nil {
		s.logger.Warn("Failed to load visit history", "thread_id", threadID, "error", err)
		http.Error(w, "Failed to load history", http.StatusInternalServerError)
		return
	}
	if times == nil {
		times = []int64{}
	}
	s.writeJSON(w, map[string]any{"thread_id": threadID, "visits": times})
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("Failed to write response", "error", err)
	}
}
