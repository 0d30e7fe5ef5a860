package engine

import (
	"context"
	"time"
)

// InferenceRequest is what the orchestrator hands to an engine's query().
type InferenceRequest struct {
	QueryID     string
	Text        string
	Cartridges  []string
	Threshold   float64
}

// InferenceResponse is an engine's verdict on one request. Passed is the
// orchestrator's signal to stop the cascade; an engine that doesn't know the
// answer should return Passed: false rather than an error. FactID and
// CartridgeName identify the winning fact for engines backed by a single
// cartridge's store, so the orchestrator can feed a cascade win back into
// that cartridge's phantom registry; engines with no such notion (BitNet,
// specialists) leave them zero/empty.
type InferenceResponse struct {
	Answer        string
	Confidence    float64
	Passed        bool
	LatencyMS     float64
	FactID        int64
	CartridgeName string
}

// InferenceEngine is one rung of the cascade: grain, cartridge, BitNet,
// specialist or LLM. Implementations must be safe for concurrent use.
type InferenceEngine interface {
	Name() string
	Query(ctx context.Context, req InferenceRequest) (InferenceResponse, error)
	Health() HealthReport
}

// timeSince is a small seam so engines can record latency without every
// call site repeating the pattern.
func timeSince(start time.Time) float64 {
	return float64(time.Since(start).Microseconds()) / 1000.0
}
