// Package threshold implements the threshold gate: gates cache
// admission only, never store writes or direct reads.
package threshold

import (
	"context"
	"sync"
)

const defaultThreshold = 8

// Store is the subset of the Document Store Adapter the gate needs.
type Store interface {
	AggregateCountsBySection(ctx context.Context) (map[string]int64, error)
}

// Gate is the Threshold Gate.
type Gate struct {
	store     Store
	threshold int64
	sections  []string

	mu     sync.RWMutex
	counts map[string]int64
	met    map[string]bool
}

func New(store Store, sections []string, threshold int) *Gate {
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	return &Gate{
		store:     store,
		threshold: int64(threshold),
		sections:  sections,
		counts:    make(map[string]int64),
		met:       make(map[string]bool),
	}
}

// CheckThreshold aggregates, per known section, the count of store
// articles whose aiCommentary is non-empty, and refreshes the gate's
// per-section and overall met state.
func (g *Gate) CheckThreshold(ctx context.Context) (allMet bool, err error) {
	counts, err := g.store.AggregateCountsBySection(ctx)
	if err != nil {
		return false, err
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.counts = counts
	allMet = true
	g.met = make(map[string]bool, len(g.sections))
	for _, section := range g.sections {
		met := counts[section] >= g.threshold
		g.met[section] = met
		if !met {
			allMet = false
		}
	}
	return allMet, nil
}

// IsOpen reports whether section individually meets the threshold,
// from the last CheckThreshold snapshot. Callers needing a fresh read
// should call CheckThreshold first.
func (g *Gate) IsOpen(section string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.met[section]
}

// AllMet reports whether every known section currently meets the
// threshold, from the last snapshot.
func (g *Gate) AllMet() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, section := range g.sections {
		if !g.met[section] {
			return false
		}
	}
	return true
}

// Counts returns a copy of the last observed per-section counts.
func (g *Gate) Counts() map[string]int64 {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make(map[string]int64, len(g.counts))
	for k, v := range g.counts {
		out[k] = v
	}
	return out
}
