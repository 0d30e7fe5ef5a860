// Package phantom tracks repeated, high-confidence fact hits within one
// cartridge across query cycles, promoting them through a
// none -> transient -> persistent -> locked state machine on the way to
// crystallisation.
package phantom

import (
	"encoding/json"
	"os"
	"sort"
	"sync"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
)

const confidenceHistoryCap = 20

// Registry is one per cartridge. record_hit/advance_cycle are exclusive;
// multiple registries (one per cartridge) may proceed in parallel.
type Registry struct {
	mu     sync.Mutex
	logger zerolog.Logger

	cartridgeName string
	lockCycles    int

	currentCycle int
	phantoms     map[int64]*trackedPhantom
}

type trackedPhantom struct {
	candidate        types.PhantomCandidate
	cycleHits        int // hits in the cycle currently in progress
	persistentStreak int // consecutive cycles observed as persistent
	cyclesTracked    int
	cyclesWithHit    int
}

// New creates an empty registry for one cartridge.
func New(cartridgeName string, lockCycles int) *Registry {
	if lockCycles <= 0 {
		lockCycles = 50
	}
	return &Registry{
		logger:        log.WithCartridge(cartridgeName),
		cartridgeName: cartridgeName,
		lockCycles:    lockCycles,
		phantoms:      make(map[int64]*trackedPhantom),
	}
}

// RecordHit registers one query hit against (cartridge, factID) with the
// confidence the winning engine returned. Evaluates the
// transient -> persistent transition immediately; persistent -> locked is
// only evaluated in AdvanceCycle.
func (r *Registry) RecordHit(factID int64, confidence float64) *types.PhantomCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	tp, ok := r.phantoms[factID]
	if !ok {
		tp = &trackedPhantom{
			candidate: types.PhantomCandidate{
				CartridgeName:  r.cartridgeName,
				FactID:         factID,
				Status:         types.PhantomNone,
				FirstCycleSeen: r.currentCycle,
				CycleHistory:   make(map[int]int),
			},
		}
		r.phantoms[factID] = tp
	}

	c := &tp.candidate
	if c.Status == types.PhantomNone {
		c.Status = types.PhantomTransient
	}

	c.HitCount++
	tp.cycleHits++
	c.LastCycleSeen = r.currentCycle

	c.ConfidenceHistory = append(c.ConfidenceHistory, confidence)
	if len(c.ConfidenceHistory) > confidenceHistoryCap {
		c.ConfidenceHistory = c.ConfidenceHistory[len(c.ConfidenceHistory)-confidenceHistoryCap:]
	}

	if c.Status == types.PhantomTransient && len(c.ConfidenceHistory) >= 5 {
		if mean(c.ConfidenceHistory) >= 0.75 {
			c.Status = types.PhantomPersistent
		}
	}

	copyOut := *c
	return &copyOut
}

// AdvanceCycle snapshots the in-progress cycle's hit count into
// cycle_history, resets the per-cycle counter, recomputes cycle_consistency,
// and promotes any phantom that has been persistent for lock_cycles
// consecutive cycles into locked.
func (r *Registry) AdvanceCycle() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, tp := range r.phantoms {
		c := &tp.candidate
		c.CycleHistory[r.currentCycle] = tp.cycleHits

		tp.cyclesTracked++
		if tp.cycleHits > 0 {
			tp.cyclesWithHit++
		}
		c.CycleConsistency = float64(tp.cyclesWithHit) / float64(tp.cyclesTracked)

		switch c.Status {
		case types.PhantomPersistent:
			tp.persistentStreak++
			if tp.persistentStreak >= r.lockCycles {
				c.Status = types.PhantomLocked
				r.logger.Info().Int64("fact_id", c.FactID).Msg("phantom locked")
			}
		default:
			tp.persistentStreak = 0
		}

		tp.cycleHits = 0
	}
	r.currentCycle++
}

// GetLockedPhantoms returns every phantom currently in the locked state.
func (r *Registry) GetLockedPhantoms() []types.PhantomCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterStatus(types.PhantomLocked)
}

// GetPersistentPhantoms returns every phantom currently in the persistent
// state (not yet locked).
func (r *Registry) GetPersistentPhantoms() []types.PhantomCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterStatus(types.PhantomPersistent)
}

// StatusCounts returns the number of tracked phantoms in each status, for
// reporting purposes.
func (r *Registry) StatusCounts() map[types.PhantomStatus]int {
	r.mu.Lock()
	defer r.mu.Unlock()

	counts := map[types.PhantomStatus]int{
		types.PhantomNone:       0,
		types.PhantomTransient:  0,
		types.PhantomPersistent: 0,
		types.PhantomLocked:     0,
	}
	for _, tp := range r.phantoms {
		counts[tp.candidate.Status]++
	}
	return counts
}

func (r *Registry) filterStatus(status types.PhantomStatus) []types.PhantomCandidate {
	var ids []int64
	for id, tp := range r.phantoms {
		if tp.candidate.Status == status {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]types.PhantomCandidate, 0, len(ids))
	for _, id := range ids {
		out = append(out, r.phantoms[id].candidate)
	}
	return out
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// persisted is the JSON-on-disk shape for Save/Load.
type persisted struct {
	CurrentCycle int                        `json:"current_cycle"`
	Phantoms     map[int64]*trackedPhantom  `json:"phantoms"`
}

func (tp *trackedPhantom) MarshalJSON() ([]byte, error) {
	type alias struct {
		Candidate        types.PhantomCandidate `json:"candidate"`
		CycleHits        int                    `json:"cycle_hits"`
		PersistentStreak int                    `json:"persistent_streak"`
		CyclesTracked    int                    `json:"cycles_tracked"`
		CyclesWithHit    int                    `json:"cycles_with_hit"`
	}
	return json.Marshal(alias{tp.candidate, tp.cycleHits, tp.persistentStreak, tp.cyclesTracked, tp.cyclesWithHit})
}

func (tp *trackedPhantom) UnmarshalJSON(data []byte) error {
	type alias struct {
		Candidate        types.PhantomCandidate `json:"candidate"`
		CycleHits        int                    `json:"cycle_hits"`
		PersistentStreak int                    `json:"persistent_streak"`
		CyclesTracked    int                    `json:"cycles_tracked"`
		CyclesWithHit    int                    `json:"cycles_with_hit"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	tp.candidate = a.Candidate
	if tp.candidate.CycleHistory == nil {
		tp.candidate.CycleHistory = make(map[int]int)
	}
	tp.cycleHits = a.CycleHits
	tp.persistentStreak = a.PersistentStreak
	tp.cyclesTracked = a.CyclesTracked
	tp.cyclesWithHit = a.CyclesWithHit
	return nil
}

// Save writes the registry state as JSON to path, atomically.
func (r *Registry) Save(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(persisted{CurrentCycle: r.currentCycle, Phantoms: r.phantoms}); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// Load tolerates missing optional fields and a missing file entirely (a
// fresh registry).
func (r *Registry) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}

	var p persisted
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.currentCycle = p.CurrentCycle
	if p.Phantoms != nil {
		r.phantoms = p.Phantoms
	}
	return nil
}
