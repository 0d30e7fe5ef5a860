// Package grain implements layer 0 of the inference cascade: an in-memory
// router over crystallised grains, offering O(1) lookup by fact id or grain
// id and a confidence-threshold routing decision for facts that aren't
// (yet) grains.
package grain

import (
	"sort"
	"strings"
	"sync"

	"github.com/cuemby/kitbash/pkg/crystallize"
	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
)

// Routing thresholds: a fact's confidence decides which cascade layer would
// handle it if it weren't already a grain. A structured-derivation bonus
// of 0.05 rewards facts with positive or negative derivations recorded.
const (
	layer0Threshold     = 0.95
	layer1Threshold     = 0.85
	layer2Threshold     = 0.75
	structuredBonus     = 0.05
)

// Router indexes every grain for one cartridge by grain_id, fact_id and
// concept keyword.
type Router struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	store *crystallize.GrainStore

	byConcept map[string]map[string]bool // keyword -> set of grain ids
}

// New wraps an already-opened GrainStore with the concept index used by
// Search.
func New(store *crystallize.GrainStore) *Router {
	r := &Router{
		logger:    log.WithComponent("grain_router"),
		store:     store,
		byConcept: make(map[string]map[string]bool),
	}
	r.reindex()
	return r
}

func (r *Router) reindex() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byConcept = make(map[string]map[string]bool)
	for _, g := range r.store.All() {
		r.indexConcepts(g)
	}
}

func (r *Router) indexConcepts(g types.Grain) {
	tokens := append(append([]string{}, g.Delta.Positive...), g.Delta.Negative...)
	tokens = append(tokens, g.Delta.Void...)
	for _, t := range tokens {
		key := strings.ToLower(strings.TrimPrefix(t, "inferred:"))
		if r.byConcept[key] == nil {
			r.byConcept[key] = make(map[string]bool)
		}
		r.byConcept[key][g.GrainID] = true
	}
}

// Put persists a new grain and updates the concept index.
func (r *Router) Put(g types.Grain) error {
	if err := r.store.Put(g); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexConcepts(g)
	return nil
}

// Lookup returns the grain crystallised from factID, if any.
func (r *Router) Lookup(factID int64) (types.Grain, bool) {
	return r.store.LookupByFactID(factID)
}

// LookupByGrainID returns the grain with the given id, if any.
func (r *Router) LookupByGrainID(grainID string) (types.Grain, bool) {
	return r.store.LookupByGrainID(grainID)
}

// Search returns every grain whose delta mentions any of the given
// concepts, ranked by confidence descending.
func (r *Router) Search(concepts []string) []types.Grain {
	r.mu.RLock()
	ids := make(map[string]bool)
	for _, c := range concepts {
		for id := range r.byConcept[strings.ToLower(c)] {
			ids[id] = true
		}
	}
	r.mu.RUnlock()

	var out []types.Grain
	for id := range ids {
		if g, ok := r.store.LookupByGrainID(id); ok {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].GrainID < out[j].GrainID
	})
	return out
}

// Len returns the number of grains held, for metrics collection.
func (r *Router) Len() int {
	return r.store.Len()
}

// RoutingDecision returns the cascade layer (0-3) a fact with the given
// confidence and derivation richness would route to, if it isn't already a
// crystallised grain.
func RoutingDecision(confidence float64, hasStructuredDerivations bool) int {
	adjusted := confidence
	if hasStructuredDerivations {
		adjusted += structuredBonus
	}

	switch {
	case adjusted >= layer0Threshold:
		return 0
	case adjusted >= layer1Threshold:
		return 1
	case adjusted >= layer2Threshold:
		return 2
	default:
		return 3
	}
}
