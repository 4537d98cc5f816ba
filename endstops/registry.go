// Package endstops keeps the list of named endstops and answers
// QUERY_ENDSTOPS: one synchronized read of every endstop, cached for status
// queries and optionally reported to the operator.
package endstops

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// StatusKey is the key the last query result is published under
const StatusKey = "last_query"

// Endstop reports whether a switch is triggered as of a print time
type Endstop interface {
	QueryEndstop(ctx context.Context, printTime float64) (bool, error)
}

// TimeSource supplies the print time after all queued motion
type TimeSource interface {
	LastMoveTime() (float64, error)
}

// Responder delivers a report line to the operator
type Responder interface {
	Respond(msg string) error
}

// State is one endstop's result in a query
type State struct {
	Name      string
	Triggered bool
}

// String renders the state as it appears in reports, e.g. "x_stop:open"
func (s State) String() string {
	if s.Triggered {
		return s.Name + ":TRIGGERED"
	}
	return s.Name + ":open"
}

type registration struct {
	endstop Endstop
	name    string
}

// Registry holds registered endstops and the result of the last query
type Registry struct {
	toolhead  TimeSource
	responder Responder
	log       *slog.Logger
	metrics   *Metrics

	mu       sync.RWMutex
	endstops []registration

	// queryMu keeps queries from interleaving
	queryMu sync.Mutex
	// last is replaced whole after a query has read every endstop
	last atomic.Pointer[[]State]
}

// Option configures a Registry
type Option func(*Registry)

// WithLogger sets the registry logger
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.log = logger }
}

// WithMetrics records query metrics
func WithMetrics(m *Metrics) Option {
	return func(r *Registry) { r.metrics = m }
}

// NewRegistry creates an empty registry
func NewRegistry(toolhead TimeSource, responder Responder, opts ...Option) *Registry {
	r := &Registry{
		toolhead:  toolhead,
		responder: responder,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r.log = r.log.With("component", "query_endstops")
	return r
}

// RegisterEndstop appends an endstop under a display name.
// Names need not be unique.
func (r *Registry) RegisterEndstop(es Endstop, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.endstops = append(r.endstops, registration{endstop: es, name: name})
}

// Names returns registered names in registration order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, len(r.endstops))
	for i, reg := range r.endstops {
		names[i] = reg.name
	}
	return names
}

// Query reads every endstop at the print time following all queued motion
// and replaces the cached result. Unless quiet, the result is reported.
// Any failure aborts the query with the cached result left as it was, except
// a report failure, which happens after the result has been stored.
func (r *Registry) Query(ctx context.Context, quiet bool) error {
	r.queryMu.Lock()
	defer r.queryMu.Unlock()

	start := time.Now()
	states, err := r.read(ctx)
	if err != nil {
		r.metrics.queryFailed()
		r.log.Warn("endstop query failed", "error", err)
		return err
	}
	r.last.Store(&states)
	r.metrics.queryDone(states, time.Since(start))
	r.log.Debug("endstops queried", "count", len(states))

	if quiet {
		return nil
	}
	if err := r.responder.Respond(FormatReport(states)); err != nil {
		return fmt.Errorf("report endstop status: %w", err)
	}
	return nil
}

func (r *Registry) read(ctx context.Context) ([]State, error) {
	if r.toolhead == nil {
		return nil, ErrNoTimeSource
	}
	printTime, err := r.toolhead.LastMoveTime()
	if err != nil {
		return nil, fmt.Errorf("get last move time: %w", err)
	}

	r.mu.RLock()
	endstops := append([]registration(nil), r.endstops...)
	r.mu.RUnlock()

	states := make([]State, 0, len(endstops))
	for _, reg := range endstops {
		triggered, err := reg.endstop.QueryEndstop(ctx, printTime)
		if err != nil {
			return nil, fmt.Errorf("query endstop %s: %w", reg.name, err)
		}
		states = append(states, State{Name: reg.name, Triggered: triggered})
	}
	return states, nil
}

// LastQuery returns the result of the last successful query in
// registration order; nil before the first one
func (r *Registry) LastQuery() []State {
	p := r.last.Load()
	if p == nil {
		return nil
	}
	return append([]State(nil), (*p)...)
}

// GetStatus returns {"last_query": {name: triggered}}. The eventtime is
// accepted for status-provider uniformity and ignored; no endstop is read.
// A name registered more than once keeps its last value.
func (r *Registry) GetStatus(eventtime float64) map[string]any {
	states := make(map[string]bool)
	if p := r.last.Load(); p != nil {
		for _, s := range *p {
			states[s.Name] = s.Triggered
		}
	}
	return map[string]any{StatusKey: states}
}

// FormatReport renders states as "name:open name:TRIGGERED ..."
func FormatReport(states []State) string {
	parts := make([]string, len(states))
	for i, s := range states {
		parts[i] = s.String()
	}
	return strings.Join(parts, " ")
}
