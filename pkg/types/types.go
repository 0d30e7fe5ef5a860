// Package types holds the shared data model for the reflex-cache core:
// facts, annotations, cartridges, grains, phantoms, resonance weights,
// query results and their supporting enums.
package types

import "time"

// FactStatus is the lifecycle state of a Fact within its cartridge.
type FactStatus string

const (
	FactStatusActive  FactStatus = "active"
	FactStatusRetired FactStatus = "retired"
)

// EpistemicLevel tags the evidentiary tier a fact belongs to, from raw
// observation (L0) to narrative framing devices (L5).
type EpistemicLevel string

const (
	LevelEmpirical EpistemicLevel = "L0_empirical"
	LevelAxiom     EpistemicLevel = "L1_axiom"
	LevelNarrative EpistemicLevel = "L2_narrative"
	LevelHeuristic EpistemicLevel = "L3_heuristic"
	LevelIntent    EpistemicLevel = "L4_intent"
	LevelMask      EpistemicLevel = "L5_mask"
)

// Fact is opaque text with a content hash and a cartridge-local integer id.
// Immutable once written; content never changes after creation.
type Fact struct {
	ID          int64      `json:"id"`
	Content     string     `json:"content"`
	ContentHash string     `json:"content_hash"`
	CreatedAt   time.Time  `json:"created_at"`
	AccessCount int64      `json:"access_count"`
	Status      FactStatus `json:"status"`
}

// Derivation is a structured relationship asserted by an annotation, e.g.
// {type: "requires", target: "oxygen"}.
type Derivation struct {
	Type     string  `json:"type"`
	Target   string  `json:"target"`
	Strength float64 `json:"strength,omitempty"`
}

// TemporalValidity bounds the period during which a fact is asserted to hold.
// Start/End are nil for eternal or unbounded facts.
type TemporalValidity struct {
	Start      *time.Time `json:"start,omitempty"`
	End        *time.Time `json:"end,omitempty"`
	Approximate bool      `json:"approximate"`
}

// Annotation carries the confidence, provenance and semantic metadata for
// exactly one Fact.
type Annotation struct {
	FactID       int64             `json:"fact_id"`
	Confidence   float64           `json:"confidence"`
	Sources      []string          `json:"sources"`
	Level        EpistemicLevel    `json:"epistemic_level"`
	Derivations  []Derivation      `json:"derivations,omitempty"`
	Relationships []string         `json:"relationships,omitempty"`
	Domain       string            `json:"domain"`
	AppliesTo    []string          `json:"applies_to,omitempty"`
	Temporal     *TemporalValidity `json:"temporal,omitempty"`
}

// Manifest is the per-cartridge metadata record.
type Manifest struct {
	Name            string    `json:"name"`
	Version         string    `json:"version"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
	Domains         []string  `json:"domains"`
	Tags            []string  `json:"tags"`
	FactCount       int       `json:"fact_count"`
	AverageConfidence float64 `json:"average_confidence"`
	SplitStatus     string    `json:"split_status"`
}

// LayerAttempt records one engine's turn in the cascade, pass or fail.
type LayerAttempt struct {
	EngineName string  `json:"engine_name"`
	Threshold  float64 `json:"threshold"`
	Confidence float64 `json:"confidence"`
	Passed     bool    `json:"passed"`
	LatencyMS  float64 `json:"latency_ms"`
	Error      string  `json:"error,omitempty"`
}

// QueryResult is the single external entry point's return value. It is
// always populated, never a raw error, per the error-handling contract.
type QueryResult struct {
	QueryID          string         `json:"query_id"`
	Answer           string         `json:"answer,omitempty"`
	Confidence       float64        `json:"confidence"`
	EngineName       string         `json:"engine_name"`
	LayerResults     []LayerAttempt `json:"layer_results"`
	TriageReasoning  string         `json:"triage_reasoning,omitempty"`
	TriageLatencyMS  float64        `json:"triage_latency_ms"`
	TotalLatencyMS   float64        `json:"total_latency_ms"`
	ErrorState       string         `json:"error_state,omitempty"`
	CouplingSeverity string         `json:"coupling_severity,omitempty"`
}

// PhantomStatus is the state-machine position of a tracked fact hit.
type PhantomStatus string

const (
	PhantomNone       PhantomStatus = "none"
	PhantomTransient  PhantomStatus = "transient"
	PhantomPersistent PhantomStatus = "persistent"
	PhantomLocked     PhantomStatus = "locked"
)

// PhantomCandidate tracks repeated high-confidence hits on one (cartridge,
// fact) pair across cycles, on its way to possible crystallisation.
type PhantomCandidate struct {
	CartridgeName     string        `json:"cartridge_name"`
	FactID            int64         `json:"fact_id"`
	HitCount          int           `json:"hit_count"`
	ConfidenceHistory []float64     `json:"confidence_history"`
	FirstCycleSeen    int           `json:"first_cycle_seen"`
	LastCycleSeen     int           `json:"last_cycle_seen"`
	CycleConsistency  float64       `json:"cycle_consistency"`
	Status            PhantomStatus `json:"status"`
	PersistentCycles  int           `json:"persistent_cycles"`
	CycleHistory      map[int]int   `json:"cycle_history,omitempty"`
}

// TernaryDelta is the {+1, 0, -1} token summary produced by the ternary
// crush: dependencies (positive), negations (negative) and independences
// (void).
type TernaryDelta struct {
	Positive []string `json:"positive"`
	Negative []string `json:"negative"`
	Void     []string `json:"void"`
}

// PointerEntry locates one token in a grain's bit-packed pointer map.
type PointerEntry struct {
	BitPosition int `json:"bit_position"`
	Value       int `json:"value"` // +1, -1 or 0
}

// AccessPattern is the access-frequency metadata carried in a grain's
// pointer map, inherited from the locking phantom.
type AccessPattern struct {
	HitCount   int       `json:"hit_count"`
	Confidence float64   `json:"confidence"`
	FirstSeen  time.Time `json:"first_seen"`
	LastSeen   time.Time `json:"last_seen"`
}

// PointerMap is the bit-positioned index over a grain's ternary delta.
type PointerMap struct {
	PositivePtrs  map[string]PointerEntry `json:"positive_ptrs"`
	NegativePtrs  map[string]PointerEntry `json:"negative_ptrs"`
	VoidPtrs      map[string]PointerEntry `json:"void_ptrs"`
	TotalBits     int                     `json:"total_bits"`
	AccessPattern AccessPattern           `json:"access_pattern"`
}

// Grain is a crystallised, immutable ternary summary of a locked phantom.
type Grain struct {
	GrainID            string     `json:"grain_id"`
	FactID             int64      `json:"fact_id"`
	CartridgeSource    string     `json:"cartridge_source"`
	AxiomLink          string     `json:"axiom_link,omitempty"`
	LockState          string     `json:"lock_state"`
	Weight             float64    `json:"weight"`
	Delta              TernaryDelta `json:"delta"`
	Confidence         float64    `json:"confidence"`
	CyclesLocked       int        `json:"cycles_locked"`
	ValidationTimestamp time.Time `json:"validation_timestamp"`
	PointerMap         PointerMap `json:"pointer_map"`
}

// ResonanceWeight is the decaying popularity score attached to one query
// pattern hash.
type ResonanceWeight struct {
	PatternHash    string         `json:"pattern_hash"`
	Stability      float64        `json:"stability"`
	LastReinforced uint64         `json:"last_reinforced"`
	CreatedTurn    uint64         `json:"created_turn"`
	HitCount       int            `json:"hit_count"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// HeartbeatCheckpoint records why the heartbeat is paused and, once a step
// has run, which background priority it executed.
type HeartbeatCheckpoint struct {
	Turn            uint64 `json:"turn"`
	Priority        string `json:"priority,omitempty"`
	ExecutedPriority string `json:"executed_priority,omitempty"`
}

// HeartbeatState is the logical clock and pause/resume gate shared by the
// foreground orchestrator and the background metabolism scheduler.
type HeartbeatState struct {
	TurnNumber uint64               `json:"turn_number"`
	IsRunning  bool                 `json:"is_running"`
	Checkpoint *HeartbeatCheckpoint `json:"checkpoint,omitempty"`
}

// CouplingSeverity is the total order PASS < LOW < MEDIUM < HIGH < CRITICAL.
type CouplingSeverity string

const (
	SeverityPass     CouplingSeverity = "PASS"
	SeverityLow      CouplingSeverity = "LOW"
	SeverityMedium   CouplingSeverity = "MEDIUM"
	SeverityHigh     CouplingSeverity = "HIGH"
	SeverityCritical CouplingSeverity = "CRITICAL"
)

// SeverityRank maps each CouplingSeverity to its rank in the total order, for
// comparisons like "is at least HIGH".
var SeverityRank = map[CouplingSeverity]int{
	SeverityPass:     0,
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// SpotlightFact is one entry in a per-query epistemic-level list.
type SpotlightFact struct {
	ID         int64     `json:"id"`
	Content    string    `json:"content"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	AddedAt    time.Time `json:"added_at"`
}

// CouplingDelta is a recorded contradiction between two epistemic layers for
// a given query.
type CouplingDelta struct {
	DeltaID     string           `json:"delta_id"`
	LayerA      EpistemicLevel   `json:"layer_a"`
	LayerB      EpistemicLevel   `json:"layer_b"`
	Severity    CouplingSeverity `json:"severity"`
	Magnitude   float64          `json:"magnitude"`
	Conflict    string           `json:"conflict_description"`
	Resolution  string           `json:"resolution"`
	Timestamp   time.Time        `json:"timestamp"`
}

// SpotlightEvent is one append-only entry in a per-query event log.
type SpotlightEvent struct {
	EventID   string         `json:"event_id"`
	Timestamp time.Time      `json:"timestamp"`
	Type      string         `json:"type"`
	Fields    map[string]any `json:"fields,omitempty"`
}
