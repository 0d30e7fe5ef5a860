package spotlight

import (
	"context"
	"sync"
	"time"

	"github.com/cuemby/kitbash/pkg/types"
)

type memoryEntry struct {
	meta      Metadata
	expiresAt time.Time
	levels    map[types.EpistemicLevel][]types.SpotlightFact
	events    []types.SpotlightEvent
	deltas    []types.CouplingDelta
}

// memorySubstrate is the in-process fallback Substrate used when Redis is
// unreachable. Expiry is checked lazily on access, not by a background
// sweep.
type memorySubstrate struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry
}

func newMemorySubstrate() *memorySubstrate {
	return &memorySubstrate{entries: make(map[string]*memoryEntry)}
}

func (m *memorySubstrate) get(id string) *memoryEntry {
	e, ok := m.entries[id]
	if !ok {
		return nil
	}
	if time.Now().After(e.expiresAt) {
		delete(m.entries, id)
		return nil
	}
	return e
}

func (m *memorySubstrate) SetMetadata(ctx context.Context, id string, meta Metadata, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	e := m.entries[id]
	if e == nil {
		e = &memoryEntry{levels: make(map[types.EpistemicLevel][]types.SpotlightFact)}
		m.entries[id] = e
	}
	e.meta = meta
	e.expiresAt = time.Now().Add(ttl)
	return nil
}

func (m *memorySubstrate) GetMetadata(ctx context.Context, id string) (Metadata, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return Metadata{}, false, nil
	}
	return e.meta, true, nil
}

func (m *memorySubstrate) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, id)
	return nil
}

func (m *memorySubstrate) PushFact(ctx context.Context, id string, level types.EpistemicLevel, fact types.SpotlightFact, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil
	}
	e.levels[level] = append([]types.SpotlightFact{fact}, e.levels[level]...)
	return nil
}

func (m *memorySubstrate) ListFacts(ctx context.Context, id string, level types.EpistemicLevel, limit int) ([]types.SpotlightFact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil, nil
	}
	facts := e.levels[level]
	if limit > 0 && limit < len(facts) {
		facts = facts[:limit]
	}
	out := make([]types.SpotlightFact, len(facts))
	copy(out, facts)
	return out, nil
}

func (m *memorySubstrate) RemoveFact(ctx context.Context, id string, level types.EpistemicLevel, factID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil
	}
	facts := e.levels[level]
	for i, f := range facts {
		if f.ID == factID {
			e.levels[level] = append(facts[:i], facts[i+1:]...)
			break
		}
	}
	return nil
}

func (m *memorySubstrate) ClearLevel(ctx context.Context, id string, level types.EpistemicLevel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil
	}
	delete(e.levels, level)
	return nil
}

func (m *memorySubstrate) PushEvent(ctx context.Context, id string, ev types.SpotlightEvent, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil
	}
	e.events = append(e.events, ev)
	return nil
}

func (m *memorySubstrate) ListEvents(ctx context.Context, id string) ([]types.SpotlightEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil, nil
	}
	out := make([]types.SpotlightEvent, len(e.events))
	copy(out, e.events)
	return out, nil
}

func (m *memorySubstrate) PushDelta(ctx context.Context, id string, d types.CouplingDelta, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil
	}
	e.deltas = append(e.deltas, d)
	return nil
}

func (m *memorySubstrate) ListDeltas(ctx context.Context, id string) ([]types.CouplingDelta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.get(id)
	if e == nil {
		return nil, nil
	}
	out := make([]types.CouplingDelta, len(e.deltas))
	copy(out, e.deltas)
	return out, nil
}

// FetchLayerPair mirrors redisSubstrate's atomic two-layer read; the
// in-process mutex already makes this trivially consistent.
func (m *memorySubstrate) FetchLayerPair(ctx context.Context, id string, layerA, layerB types.EpistemicLevel) ([]types.SpotlightFact, []types.SpotlightFact, error) {
	a, err := m.ListFacts(ctx, id, layerA, 0)
	if err != nil {
		return nil, nil, err
	}
	b, err := m.ListFacts(ctx, id, layerB, 0)
	if err != nil {
		return nil, nil, err
	}
	return a, b, nil
}
