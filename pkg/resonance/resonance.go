// Package resonance implements the decaying pattern-popularity store: each
// recorded query-pattern hash carries a stability scalar and a
// last-reinforced turn, from which its current weight decays exponentially.
package resonance

import (
	"encoding/json"
	"math"
	"sync"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/rs/zerolog"
	bolt "go.etcd.io/bbolt"
)

const defaultInitialStability = 3.0

var bucketResonance = []byte("resonance_weights")

// Mode selects the reinforcement growth formula.
type Mode int

const (
	// ModeBase: S_new = S * growth.
	ModeBase Mode = iota
	// ModeSpacingSensitive: S_new = S * growth * (1 + k*(1 - current_weight)),
	// giving a larger stability boost the more decayed the pattern was when
	// reinforced.
	ModeSpacingSensitive
)

// Store is the resonance weight store. Writes (RecordPattern,
// ReinforcePattern, AdvanceTurn) are serialised under a single write lock;
// reads (ComputeWeight, GetActivePatterns, GetPromotionCandidates) may
// share-lock.
type Store struct {
	mu     sync.RWMutex
	logger zerolog.Logger

	db *bolt.DB

	mode              Mode
	spacingK          float64
	stabilityGrowth   float64
	cleanupThreshold  float64
	promotionHitCount int

	turn    uint64
	entries map[string]*types.ResonanceWeight
}

// Option configures a Store at construction.
type Option func(*Store)

func WithMode(m Mode) Option                { return func(s *Store) { s.mode = m } }
func WithSpacingK(k float64) Option         { return func(s *Store) { s.spacingK = k } }
func WithStabilityGrowth(g float64) Option  { return func(s *Store) { s.stabilityGrowth = g } }
func WithCleanupThreshold(t float64) Option { return func(s *Store) { s.cleanupThreshold = t } }
func WithPromotionHitCount(n int) Option    { return func(s *Store) { s.promotionHitCount = n } }

// New creates a Store, optionally backed by a BoltDB file at dbPath for
// crash recovery (pass "" for an in-memory-only store).
func New(dbPath string, opts ...Option) (*Store, error) {
	s := &Store{
		logger:            log.WithComponent("resonance"),
		mode:              ModeBase,
		spacingK:          1.0,
		stabilityGrowth:   2.0,
		cleanupThreshold:  1e-3,
		promotionHitCount: 3,
		entries:           make(map[string]*types.ResonanceWeight),
	}
	for _, opt := range opts {
		opt(s)
	}

	if dbPath != "" {
		db, err := bolt.Open(dbPath, 0o600, nil)
		if err != nil {
			return nil, err
		}
		if err := db.Update(func(tx *bolt.Tx) error {
			_, err := tx.CreateBucketIfNotExists(bucketResonance)
			return err
		}); err != nil {
			db.Close()
			return nil, err
		}
		s.db = db
		s.load()
	}

	return s, nil
}

func (s *Store) load() {
	_ = s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketResonance)
		return b.ForEach(func(k, v []byte) error {
			var w types.ResonanceWeight
			if err := json.Unmarshal(v, &w); err != nil {
				return nil
			}
			s.entries[w.PatternHash] = &w
			if w.LastReinforced > s.turn {
				s.turn = w.LastReinforced
			}
			return nil
		})
	})
}

func (s *Store) persist(w *types.ResonanceWeight) {
	if s.db == nil {
		return
	}
	data, err := json.Marshal(w)
	if err != nil {
		return
	}
	if err := s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResonance).Put([]byte(w.PatternHash), data)
	}); err != nil {
		s.logger.Warn().Err(err).Str("pattern_hash", w.PatternHash).Msg("failed to persist resonance entry")
	}
}

func (s *Store) delete(hash string) {
	if s.db == nil {
		return
	}
	_ = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketResonance).Delete([]byte(hash))
	})
}

// RecordPattern registers a new pattern hash, idempotently: if hash already
// exists, the existing entry is returned unchanged.
func (s *Store) RecordPattern(hash string, metadata map[string]any, initialStability float64) *types.ResonanceWeight {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.entries[hash]; ok {
		return existing
	}

	if initialStability <= 0 {
		initialStability = defaultInitialStability
	}

	w := &types.ResonanceWeight{
		PatternHash:    hash,
		Stability:      initialStability,
		LastReinforced: s.turn,
		CreatedTurn:    s.turn,
		HitCount:       0,
		Metadata:       metadata,
	}
	s.entries[hash] = w
	s.persist(w)
	return w
}

// ReinforcePattern is silent (a no-op) if hash is absent. Otherwise it
// increments hit_count, sets last_reinforced to the current turn, and grows
// stability according to the configured Mode.
func (s *Store) ReinforcePattern(hash string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.entries[hash]
	if !ok {
		return
	}

	currentWeight := weightAt(w, s.turn)

	w.HitCount++
	w.LastReinforced = s.turn

	switch s.mode {
	case ModeSpacingSensitive:
		w.Stability *= s.stabilityGrowth * (1 + s.spacingK*(1-currentWeight))
	default:
		w.Stability *= s.stabilityGrowth
	}

	s.persist(w)
}

// weightAt computes exp(-(turn - last_reinforced)/stability) without
// mutating state.
func weightAt(w *types.ResonanceWeight, turn uint64) float64 {
	if w.Stability <= 0 {
		return 0
	}
	age := float64(turn) - float64(w.LastReinforced)
	if age < 0 {
		age = 0
	}
	return math.Exp(-age / w.Stability)
}

// ComputeWeight returns the current decayed weight for hash, or 0 if
// unknown. Never mutates.
func (s *Store) ComputeWeight(hash string) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.entries[hash]
	if !ok {
		return 0
	}
	return weightAt(w, s.turn)
}

// AdvanceTurn increments the turn counter and prunes every entry whose
// weight has fallen below the cleanup threshold. Returns the number of
// patterns pruned.
func (s *Store) AdvanceTurn() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.turn++

	var pruned int
	for hash, w := range s.entries {
		if weightAt(w, s.turn) < s.cleanupThreshold {
			delete(s.entries, hash)
			s.delete(hash)
			pruned++
		}
	}
	return pruned
}

// GetActivePatterns returns every pattern whose current weight is at least
// threshold.
func (s *Store) GetActivePatterns(threshold float64) map[string]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]float64)
	for hash, w := range s.entries {
		weight := weightAt(w, s.turn)
		if weight >= threshold {
			result[hash] = weight
		}
	}
	return result
}

// GetPromotionCandidates returns every pattern hash whose hit_count is at
// least the configured PromotionHitCount.
func (s *Store) GetPromotionCandidates() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hashes []string
	for hash, w := range s.entries {
		if w.HitCount >= s.promotionHitCount {
			hashes = append(hashes, hash)
		}
	}
	return hashes
}

// Turn returns the current turn number (read-only helper for callers that
// need to label log lines or diagnostics events).
func (s *Store) Turn() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.turn
}

// Len returns the number of tracked entries, for metrics collection.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}
