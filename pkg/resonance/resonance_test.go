package resonance

import (
	"path/filepath"
	"testing"
)

func TestRecordPatternIsIdempotent(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	w1 := s.RecordPattern("hash1", nil, 0)
	w2 := s.RecordPattern("hash1", map[string]any{"ignored": true}, 5)

	if w1 != w2 {
		t.Fatal("expected a repeated RecordPattern call to return the existing entry unchanged")
	}
	if w1.Stability != defaultInitialStability {
		t.Fatalf("expected default initial stability %v, got %v", defaultInitialStability, w1.Stability)
	}
}

func TestComputeWeightUnknownHashIsZero(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	if got := s.ComputeWeight("missing"); got != 0 {
		t.Fatalf("expected 0 for an unknown hash, got %v", got)
	}
}

func TestComputeWeightFreshPatternIsOne(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("hash1", nil, 2.0)
	if got := s.ComputeWeight("hash1"); got != 1.0 {
		t.Fatalf("expected weight 1.0 at the turn it was recorded, got %v", got)
	}
}

func TestComputeWeightDecaysWithTurns(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("hash1", nil, 1.0)
	s.AdvanceTurn()
	s.AdvanceTurn()

	weight := s.ComputeWeight("hash1")
	if weight <= 0 || weight >= 1 {
		t.Fatalf("expected a decayed weight strictly between 0 and 1, got %v", weight)
	}
}

func TestReinforcePatternUnknownHashIsNoOp(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()
	s.ReinforcePattern("missing") // must not panic
}

func TestReinforcePatternGrowsStabilityAndHitCount(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("hash1", nil, 1.0)
	s.ReinforcePattern("hash1")

	patterns := s.GetPromotionCandidates()
	_ = patterns // hit count now 1, default promotion threshold is 3

	if got := s.ComputeWeight("hash1"); got != 1.0 {
		t.Fatalf("expected weight to remain 1.0 at the same turn after reinforcement, got %v", got)
	}
	if got := s.entries["hash1"].Stability; got != 2.0 {
		t.Fatalf("expected stability 1.0 * growth 2.0 = 2.0 after one reinforcement, got %v", got)
	}
	if got := s.entries["hash1"].HitCount; got != 1 {
		t.Fatalf("expected hit count 1 after one reinforcement, got %d", got)
	}
}

func TestAdvanceTurnPrunesDecayedEntries(t *testing.T) {
	s, err := New("", WithCleanupThreshold(0.5))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("hash1", nil, 0.1) // decays below 0.5 almost immediately
	pruned := s.AdvanceTurn()

	if pruned != 1 {
		t.Fatalf("expected 1 pruned entry, got %d", pruned)
	}
	if s.Len() != 0 {
		t.Fatalf("expected the store to be empty after pruning, got %d entries", s.Len())
	}
}

func TestGetActivePatternsFiltersByThreshold(t *testing.T) {
	s, err := New("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("strong", nil, 100)
	s.RecordPattern("weak", nil, 0.01)
	s.AdvanceTurn()

	active := s.GetActivePatterns(0.9)
	if _, ok := active["strong"]; !ok {
		t.Fatal("expected the high-stability pattern to be active")
	}
	if _, ok := active["weak"]; ok {
		t.Fatal("expected the low-stability pattern to not be active")
	}
}

func TestGetPromotionCandidatesUsesConfiguredHitCount(t *testing.T) {
	s, err := New("", WithPromotionHitCount(2))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer s.Close()

	s.RecordPattern("hash1", nil, 10)
	s.ReinforcePattern("hash1")
	s.ReinforcePattern("hash1")

	candidates := s.GetPromotionCandidates()
	if len(candidates) != 1 || candidates[0] != "hash1" {
		t.Fatalf("expected hash1 to be a promotion candidate after 2 hits, got %v", candidates)
	}
}

func TestSpacingSensitiveModeGrowsStabilityMoreWhenDecayed(t *testing.T) {
	base, err := New("", WithMode(ModeBase))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer base.Close()
	base.RecordPattern("hash1", nil, 1.0)
	for i := 0; i < 3; i++ {
		base.AdvanceTurn()
	}
	base.ReinforcePattern("hash1")
	baseWeight := base.entries["hash1"].Stability

	spacing, err := New("", WithMode(ModeSpacingSensitive), WithSpacingK(1.0))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer spacing.Close()
	spacing.RecordPattern("hash1", nil, 1.0)
	for i := 0; i < 3; i++ {
		spacing.AdvanceTurn()
	}
	spacing.ReinforcePattern("hash1")
	spacingWeight := spacing.entries["hash1"].Stability

	if spacingWeight <= baseWeight {
		t.Fatalf("expected spacing-sensitive growth to exceed base growth for a decayed pattern: base=%v spacing=%v", baseWeight, spacingWeight)
	}
}

func TestPersistenceRoundTripsThroughBoltFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "resonance.db")

	s1, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	s1.RecordPattern("hash1", map[string]any{"query": "postgres"}, 5)
	s1.ReinforcePattern("hash1")
	if err := s1.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	s2, err := New(path)
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	defer s2.Close()

	if s2.Len() != 1 {
		t.Fatalf("expected 1 entry to survive reload, got %d", s2.Len())
	}
	if got := s2.ComputeWeight("hash1"); got != 1.0 {
		t.Fatalf("expected weight 1.0 at the turn it was last reinforced, got %v", got)
	}
}
