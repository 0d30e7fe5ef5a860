package crystallize

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
)

// GrainStore persists one JSON file per grain under <cartridge>.kbc/grains/
// and keeps two in-memory indices (by grain id and by fact id) for O(1)
// lookup.
type GrainStore struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	dir string

	byGrainID map[string]*types.Grain
	byFactID  map[int64]*types.Grain
}

// GrainID derives the stable id "sg_" + first 8 hex chars of
// sha256("cartridge:fact_id").
func GrainID(cartridge string, factID int64) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d", cartridge, factID)))
	return "sg_" + hex.EncodeToString(sum[:])[:8]
}

// OpenGrainStore loads every *.json file under cartridgeDir/grains, if any,
// and creates the directory if it doesn't yet exist.
func OpenGrainStore(cartridgeDir string) (*GrainStore, error) {
	dir := filepath.Join(cartridgeDir, "grains")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("grain store: %w", err)
	}

	gs := &GrainStore{
		logger:    log.WithComponent("grainstore"),
		dir:       dir,
		byGrainID: make(map[string]*types.Grain),
		byFactID:  make(map[int64]*types.Grain),
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("grain store: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(dir, e.Name()))
		if err != nil {
			gs.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to read grain file")
			continue
		}
		var g types.Grain
		if err := json.Unmarshal(data, &g); err != nil {
			gs.logger.Warn().Err(err).Str("file", e.Name()).Msg("failed to parse grain file")
			continue
		}
		gs.insert(&g)
	}

	return gs, nil
}

// insert adds g to both indices. A duplicate grain id is first-wins: the
// existing entry is kept and a warning is logged.
func (gs *GrainStore) insert(g *types.Grain) {
	if existing, ok := gs.byGrainID[g.GrainID]; ok {
		gs.logger.Warn().
			Str("grain_id", g.GrainID).
			Int64("existing_fact_id", existing.FactID).
			Int64("new_fact_id", g.FactID).
			Msg("duplicate grain id, keeping first")
		return
	}
	gs.byGrainID[g.GrainID] = g
	gs.byFactID[g.FactID] = g
}

// Put persists g to disk and adds it to the in-memory indices. If a grain
// with the same id is already held, Put logs a warning, writes nothing and
// returns nil.
func (gs *GrainStore) Put(g types.Grain) error {
	gs.mu.Lock()
	defer gs.mu.Unlock()

	if _, ok := gs.byGrainID[g.GrainID]; ok {
		gs.logger.Warn().Str("grain_id", g.GrainID).Msg("duplicate grain id, keeping first")
		return nil
	}

	path := filepath.Join(gs.dir, g.GrainID+".json")
	if err := atomicWriteGrain(path, &g); err != nil {
		return fmt.Errorf("grain store: put %s: %w", g.GrainID, err)
	}

	cp := g
	gs.insert(&cp)
	return nil
}

// LookupByFactID returns the grain crystallised from factID, if any.
func (gs *GrainStore) LookupByFactID(factID int64) (types.Grain, bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	g, ok := gs.byFactID[factID]
	if !ok {
		return types.Grain{}, false
	}
	return *g, true
}

// LookupByGrainID returns the grain with the given id, if any.
func (gs *GrainStore) LookupByGrainID(grainID string) (types.Grain, bool) {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	g, ok := gs.byGrainID[grainID]
	if !ok {
		return types.Grain{}, false
	}
	return *g, true
}

// All returns every grain, sorted by confidence descending.
func (gs *GrainStore) All() []types.Grain {
	gs.mu.RLock()
	defer gs.mu.RUnlock()

	out := make([]types.Grain, 0, len(gs.byGrainID))
	for _, g := range gs.byGrainID {
		out = append(out, *g)
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
func (gs *GrainStore) Len() int {
	gs.mu.RLock()
	defer gs.mu.RUnlock()
	return len(gs.byGrainID)
}

func atomicWriteGrain(path string, g *types.Grain) error {
	tmp := path + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(g); err != nil {
		f.Close()
		os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// BuildGrain assembles a Grain from a locked phantom candidate and its
// fact's text, running the ternary crush and pointer-map construction.
func BuildGrain(cartridge string, factText string, derivations []types.Derivation, p types.PhantomCandidate, firstSeen time.Time) types.Grain {
	delta := Crush(factText, derivations)

	access := types.AccessPattern{
		HitCount:   p.HitCount,
		Confidence: mean(p.ConfidenceHistory),
		FirstSeen:  firstSeen,
		LastSeen:   time.Now(),
	}
	pm := BuildPointerMap(delta, access)

	return types.Grain{
		GrainID:             GrainID(cartridge, p.FactID),
		FactID:              p.FactID,
		CartridgeSource:     cartridge,
		LockState:           string(types.PhantomLocked),
		Weight:              Weight(delta),
		Delta:               delta,
		Confidence:          mean(p.ConfidenceHistory),
		CyclesLocked:        p.PersistentCycles,
		ValidationTimestamp: time.Now(),
		PointerMap:          pm,
	}
}
