package crystallize

import (
	"testing"

	"github.com/cuemby/kitbash/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestCrushStructuredDerivations(t *testing.T) {
	tests := []struct {
		name        string
		factText    string
		derivations []types.Derivation
		wantPos     []string
		wantNeg     []string
		wantVoid    []string
	}{
		{
			name:     "dependency derivation goes positive",
			factText: "plain text with no keywords",
			derivations: []types.Derivation{
				{Type: "dependency", Target: "postgres"},
			},
			wantPos: []string{"postgres"},
		},
		{
			name:     "boundary derivation is prefixed and goes negative",
			factText: "plain text with no keywords",
			derivations: []types.Derivation{
				{Type: "boundary", Target: "max_connections"},
			},
			wantNeg: []string{"constrained_by:max_connections"},
		},
		{
			name:     "independent derivation goes void",
			factText: "plain text with no keywords",
			derivations: []types.Derivation{
				{Type: "independent", Target: "unrelated_service"},
			},
			wantVoid: []string{"unrelated_service"},
		},
		{
			name:        "unrecognised derivation type is dropped",
			factText:    "plain text with no keywords",
			derivations: []types.Derivation{{Type: "unknown", Target: "whatever"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			delta := Crush(tt.factText, tt.derivations)
			assert.Equal(t, tt.wantPos, delta.Positive)
			assert.Equal(t, tt.wantNeg, delta.Negative)
			assert.Equal(t, tt.wantVoid, delta.Void)
		})
	}
}

func TestCrushKeywordFallback(t *testing.T) {
	delta := Crush("Service A requires service B to start", nil)
	assert.NotEmpty(t, delta.Positive)
	assert.Contains(t, delta.Positive[0], "inferred:")
}

func TestCrushCapsTokenCounts(t *testing.T) {
	derivations := []types.Derivation{
		{Type: "dependency", Target: "one"},
		{Type: "requires", Target: "two"},
		{Type: "enables", Target: "three"},
		{Type: "causes", Target: "four"},
		{Type: "depends_on", Target: "five"},
	}
	delta := Crush("no keywords here", derivations)
	assert.LessOrEqual(t, len(delta.Positive), 3)
}

func TestCrushDedupesPreservingLongestFirst(t *testing.T) {
	derivations := []types.Derivation{
		{Type: "dependency", Target: "db"},
		{Type: "dependency", Target: "db"},
		{Type: "dependency", Target: "database_cluster"},
	}
	delta := Crush("no keywords here", derivations)
	assert.Equal(t, []string{"database_cluster", "db"}, delta.Positive)
}

func TestBuildPointerMapAssignsSequentialBits(t *testing.T) {
	delta := types.TernaryDelta{
		Positive: []string{"a", "b"},
		Negative: []string{"c"},
		Void:     []string{"d"},
	}
	access := types.AccessPattern{HitCount: 5, Confidence: 0.9}

	pm := BuildPointerMap(delta, access)

	assert.Equal(t, 4, pm.TotalBits)
	assert.Equal(t, 0, pm.PositivePtrs["a"].BitPosition)
	assert.Equal(t, 1, pm.PositivePtrs["b"].BitPosition)
	assert.Equal(t, 1, pm.PositivePtrs["a"].Value)
	assert.Equal(t, 2, pm.NegativePtrs["c"].BitPosition)
	assert.Equal(t, -1, pm.NegativePtrs["c"].Value)
	assert.Equal(t, 3, pm.VoidPtrs["d"].BitPosition)
	assert.Equal(t, 0, pm.VoidPtrs["d"].Value)
	assert.Equal(t, access, pm.AccessPattern)
}

func TestWeightIsTokenCountTimesLog2Of3(t *testing.T) {
	delta := types.TernaryDelta{Positive: []string{"a", "b"}, Negative: []string{"c"}}
	w := Weight(delta)
	assert.InDelta(t, 3*log2Of3, w, 1e-9)
}
