package status

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// ScriptRunner executes one G-code line, writing responses to w
type ScriptRunner interface {
	RunScript(ctx context.Context, line string, w io.Writer) error
}

// Clock supplies the eventtime stamped on status replies
type Clock func() float64

// Server exposes printer object status
type Server struct {
	agg      *Aggregator
	runner   ScriptRunner
	gatherer prometheus.Gatherer
	clock    Clock
	log      *slog.Logger
}

// ServerOption configures a Server
type ServerOption func(*Server)

// WithScriptRunner enables POST /printer/gcode/script
func WithScriptRunner(r ScriptRunner) ServerOption {
	return func(s *Server) { s.runner = r }
}

// WithGatherer enables GET /metrics
func WithGatherer(g prometheus.Gatherer) ServerOption {
	return func(s *Server) { s.gatherer = g }
}

// WithClock replaces the eventtime source
func WithClock(c Clock) ServerOption {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the server logger
func WithLogger(l *slog.Logger) ServerOption {
	return func(s *Server) { s.log = l }
}

func NewServer(agg *Aggregator, opts ...ServerOption) *Server {
	start := time.Now()
	s := &Server{
		agg:   agg,
		clock: func() float64 { return time.Since(start).Seconds() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.log = s.log.With("component", "status")
	return s
}

// Handler returns the HTTP routes
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/printer/objects/list", s.handleList)
	r.Get("/printer/objects/query", s.handleQuery)
	if s.runner != nil {
		r.Post("/printer/gcode/script", s.handleScript)
	}
	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	return r
}

// ListenAndServe serves until ctx is done
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("status server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	s.writeResult(w, map[string]any{"objects": s.agg.Objects()})
}

// handleQuery answers /printer/objects/query?name1&name2; object names are
// the query keys
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for name := range r.URL.Query() {
		names = append(names, name)
	}

	eventtime := s.clock()
	status := s.agg.Status(eventtime, names...)
	s.writeResult(w, map[string]any{
		"eventtime": eventtime,
		"status":    status,
	})
}

func (s *Server) handleScript(w http.ResponseWriter, r *http.Request) {
	script := r.URL.Query().Get("script")
	if script == "" {
		s.writeError(w, http.StatusBadRequest, "missing script parameter")
		return
	}

	var out bytes.Buffer
	for _, line := range strings.Split(script, "\n") {
		if err := s.runner.RunScript(r.Context(), line, &out); err != nil {
			s.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	s.writeResult(w, map[string]any{"responses": splitLines(out.String())})
}

func splitLines(s string) []string {
	s = strings.TrimRight(s, "\n")
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "\n")
}

func (s *Server) writeResult(w http.ResponseWriter, result any) {
	s.writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) writeError(w http.ResponseWriter, code int, msg string) {
	s.writeJSON(w, code, map[string]any{"error": map[string]any{"code": code, "message": msg}})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("failed to write response", "error", err)
	}
}
