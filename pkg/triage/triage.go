// Package triage provides the rules-based agent the orchestrator consults
// before running the cascade, and the safe fallback sequence substituted
// when the real triage call fails.
package triage

// Escalate is the sentinel every layer_sequence must end in: no engine
// answered, escalate beyond the cascade (to a human, or simply fail
// gracefully).
const Escalate = "ESCALATE"

// Decision is the triage agent's verdict: which engines to try, in order,
// and at what confidence each must clear to be accepted.
type Decision struct {
	LayerSequence         []string
	ConfidenceThresholds  map[string]float64
	RecommendedCartridges []string
	Reasoning             string
}

// Agent is anything the orchestrator can ask to decide a cascade sequence.
// The real implementation is a rules engine external to this package; Agent
// only names the contract so the orchestrator and the fallback share one
// shape.
type Agent interface {
	Triage(queryText string, context map[string]any) (Decision, error)
}

// DefaultThresholds are the fallback confidence thresholds used when the
// real triage agent is unavailable or errors.
var DefaultThresholds = map[string]float64{
	"GRAIN":      0.90,
	"CARTRIDGE":  0.70,
	"BITNET":     0.75,
	"SPECIALIST": 0.65,
	"LLM":        0.0,
}

// FallbackDecision is the safe default sequence substituted whenever the
// triage agent fails: try every known engine in ascending cost order before
// escalating.
func FallbackDecision() Decision {
	return Decision{
		LayerSequence:        []string{"GRAIN", "CARTRIDGE", "BITNET", "SPECIALIST", "LLM", Escalate},
		ConfidenceThresholds: DefaultThresholds,
		Reasoning:            "triage agent unavailable, using default cascade",
	}
}
