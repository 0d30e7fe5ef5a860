package spotlight

import (
	"context"
	"time"

	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/cuemby/kitbash/pkg/types"
)

// ContradictionDetector decides whether two facts from adjacent epistemic
// layers conflict. The spec's exact linguistic contradiction rules are
// domain policy external to the core; a default keyword-overlap heuristic
// is provided for a dependency-free validator.
type ContradictionDetector func(a, b types.SpotlightFact) (conflict bool, magnitude float64, description string)

// CouplingValidator runs the four severity rules from the spec against a
// query's spotlight, in one atomic read per layer pair.
type CouplingValidator struct {
	spotlight *Spotlight
	detect    ContradictionDetector
}

// NewCouplingValidator wires a detector; pass nil to use DefaultDetector.
func NewCouplingValidator(s *Spotlight, detect ContradictionDetector) *CouplingValidator {
	if detect == nil {
		detect = DefaultDetector
	}
	return &CouplingValidator{spotlight: s, detect: detect}
}

// DefaultDetector flags a conflict whenever two facts share no confidence
// headroom: a lower-layer fact asserted with high confidence and a
// higher-layer fact contradicting it with comparable confidence. This is a
// conservative placeholder for the real linguistic/semantic check.
func DefaultDetector(a, b types.SpotlightFact) (bool, float64, string) {
	if a.Confidence >= 0.8 && b.Confidence >= 0.5 && a.Content != b.Content {
		return true, a.Confidence - b.Confidence + 0.5, "confidence-weighted heuristic conflict"
	}
	return false, 0, ""
}

// Validate runs all four coupling rules for one query and records every
// delta found. Returns the worst severity observed (PASS if none).
func (cv *CouplingValidator) Validate(ctx context.Context, queryID string) (types.CouplingSeverity, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.CouplingValidationDuration)

	worst := types.SeverityPass

	rules := []struct {
		layerA, layerB types.EpistemicLevel
		severity       types.CouplingSeverity
	}{
		{types.LevelEmpirical, types.LevelAxiom, types.SeverityCritical},
		{types.LevelAxiom, types.LevelNarrative, types.SeverityHigh},
		{types.LevelNarrative, types.LevelIntent, types.SeverityMedium},
		{types.LevelIntent, types.LevelHeuristic, types.SeverityLow},
	}

	for _, rule := range rules {
		factsA, factsB, err := cv.spotlight.Substrate().FetchLayerPair(ctx, queryID, rule.layerA, rule.layerB)
		if err != nil {
			return worst, err
		}

		for _, a := range factsA {
			for _, b := range factsB {
				conflict, magnitude, desc := cv.detect(a, b)
				if !conflict {
					continue
				}

				delta := types.CouplingDelta{
					LayerA:     rule.layerA,
					LayerB:     rule.layerB,
					Severity:   rule.severity,
					Magnitude:  magnitude,
					Conflict:   desc,
					Resolution: "",
					Timestamp:  time.Now(),
				}
				if err := cv.spotlight.RecordDelta(ctx, queryID, delta); err != nil {
					return worst, err
				}
				metrics.CouplingDeltasTotal.WithLabelValues(string(rule.severity)).Inc()

				if types.SeverityRank[rule.severity] > types.SeverityRank[worst] {
					worst = rule.severity
				}
			}
		}
	}

	// L4 vs L3/L5 is a single rule comparing the intent layer against
	// both the heuristic and mask layers; the heuristic-layer half is
	// covered above, so check mask here too.
	factsIntent, factsMask, err := cv.spotlight.Substrate().FetchLayerPair(ctx, queryID, types.LevelIntent, types.LevelMask)
	if err != nil {
		return worst, err
	}
	for _, a := range factsIntent {
		for _, b := range factsMask {
			conflict, magnitude, desc := cv.detect(a, b)
			if !conflict {
				continue
			}
			delta := types.CouplingDelta{
				LayerA: types.LevelIntent, LayerB: types.LevelMask,
				Severity: types.SeverityLow, Magnitude: magnitude, Conflict: desc,
				Timestamp: time.Now(),
			}
			if err := cv.spotlight.RecordDelta(ctx, queryID, delta); err != nil {
				return worst, err
			}
			metrics.CouplingDeltasTotal.WithLabelValues(string(types.SeverityLow)).Inc()
			if types.SeverityRank[types.SeverityLow] > types.SeverityRank[worst] {
				worst = types.SeverityLow
			}
		}
	}

	return worst, nil
}
