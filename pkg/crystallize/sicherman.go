// Package crystallize turns a locked phantom into a persisted grain:
// Sicherman-validate it, ternary-crush its fact into a compact delta, then
// write it to the grain store.
package crystallize

import (
	"fmt"
	"math"

	"github.com/cuemby/kitbash/pkg/types"
)

// RuleFailure is a structured reason one Sicherman rule rejected a phantom.
type RuleFailure struct {
	Rule   string
	Reason string
}

// ValidationResult is the outcome of running all three Sicherman gates.
type ValidationResult struct {
	Passed   bool
	Failures []RuleFailure
}

// Validator runs the three Sicherman gates: persistence, least resistance,
// independence. Only phantoms passing all three may be crystallised.
type Validator struct {
	LeastResistanceThreshold float64
	IndependenceVariance     float64
	SingleObservationThreshold float64
}

// NewValidator returns a Validator with the thresholds given in the spec:
// least-resistance mean > 0.91, independence variance < 0.02 (or a single
// observation with confidence > 0.90).
func NewValidator() *Validator {
	return &Validator{
		LeastResistanceThreshold:   0.91,
		IndependenceVariance:       0.02,
		SingleObservationThreshold: 0.90,
	}
}

// FactResolver checks that a fact id still resolves within its cartridge —
// the persistence gate.
type FactResolver func(cartridge string, factID int64) bool

// Validate runs all three gates against a phantom candidate and returns a
// ValidationResult recording every failure for auditability.
func (v *Validator) Validate(p types.PhantomCandidate, resolves FactResolver) ValidationResult {
	var failures []RuleFailure

	if !resolves(p.CartridgeName, p.FactID) {
		failures = append(failures, RuleFailure{
			Rule:   "persistence",
			Reason: fmt.Sprintf("fact %d no longer resolves in cartridge %s", p.FactID, p.CartridgeName),
		})
	}

	m := mean(p.ConfidenceHistory)
	if m <= v.LeastResistanceThreshold {
		failures = append(failures, RuleFailure{
			Rule:   "least_resistance",
			Reason: fmt.Sprintf("mean confidence %.4f does not exceed %.2f", m, v.LeastResistanceThreshold),
		})
	}

	if len(p.ConfidenceHistory) == 1 {
		if p.ConfidenceHistory[0] <= v.SingleObservationThreshold {
			failures = append(failures, RuleFailure{
				Rule:   "independence",
				Reason: fmt.Sprintf("single observation confidence %.4f does not exceed %.2f", p.ConfidenceHistory[0], v.SingleObservationThreshold),
			})
		}
	} else {
		vr := variance(p.ConfidenceHistory, m)
		if vr >= v.IndependenceVariance {
			failures = append(failures, RuleFailure{
				Rule:   "independence",
				Reason: fmt.Sprintf("confidence variance %.4f does not fall below %.2f", vr, v.IndependenceVariance),
			})
		}
	}

	return ValidationResult{Passed: len(failures) == 0, Failures: failures}
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

// variance is the sample variance (Bessel's correction, n-1 denominator),
// matching Python's statistics.variance() used by the reference
// implementation for this gate. Validate calls it for every history that
// is not a single observation, including an empty one; for fewer than two
// values it returns 0.
func variance(xs []float64, m float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

// log2Of3 is the per-token weight constant used by the ternary crush.
var log2Of3 = math.Log2(3)
