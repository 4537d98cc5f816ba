// Package status collects printer object status and serves it over HTTP.
package status

import (
	"sort"
	"sync"
)

// Provider reports an object's status as of eventtime
type Provider interface {
	GetStatus(eventtime float64) map[string]any
}

// Aggregator maps object names to status providers
type Aggregator struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewAggregator() *Aggregator {
	return &Aggregator{providers: make(map[string]Provider)}
}

// Add registers p under name, replacing any previous provider
func (a *Aggregator) Add(name string, p Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.providers[name] = p
}

// Objects returns the registered object names, sorted
func (a *Aggregator) Objects() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	names := make([]string, 0, len(a.providers))
	for name := range a.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Status returns {object: status} for the named objects, or for every
// object when names is empty. Unknown names are skipped.
func (a *Aggregator) Status(eventtime float64, names ...string) map[string]map[string]any {
	a.mu.RLock()
	defer a.mu.RUnlock()

	if len(names) == 0 {
		names = make([]string, 0, len(a.providers))
		for name := range a.providers {
			names = append(names, name)
		}
	}

	out := make(map[string]map[string]any, len(names))
	for _, name := range names {
		if p, ok := a.providers[name]; ok {
			out[name] = p.GetStatus(eventtime)
		}
	}
	return out
}
