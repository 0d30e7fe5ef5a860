package crystallize

import (
	"sort"
	"strings"

	"github.com/cuemby/kitbash/pkg/types"
)

var positiveDerivationTypes = map[string]bool{
	"dependency": true, "requires": true, "enables": true, "causes": true, "depends_on": true,
}

var negativeDerivationTypes = map[string]bool{
	"negation": true, "inverse": true, "contradicts": true, "opposite": true, "boundary": true,
}

var voidDerivationTypes = map[string]bool{
	"independent": true, "orthogonal": true, "void": true,
}

var dependencyKeywords = []string{
	"requires", "depends on", "needs", "causes", "leads to", "enables",
	"triggers", "necessary for", "sufficient for",
}

var negationKeywords = []string{
	"not", "cannot", "opposite", "contradicts", "conflicts", "incompatible",
	"prevents", "blocks", "inhibits", "never",
}

var independenceKeywords = []string{
	"independent", "orthogonal", "unrelated", "separate", "parallel",
	"distinct", "isolated",
}

const maxExtractedTokenLen = 30

// Crush produces a TernaryDelta from a fact's text plus any structured
// derivations on its annotation.
func Crush(factText string, derivations []types.Derivation) types.TernaryDelta {
	var positive, negative, void []string

	for _, d := range derivations {
		target := d.Target
		switch {
		case positiveDerivationTypes[d.Type]:
			positive = append(positive, target)
		case negativeDerivationTypes[d.Type]:
			if d.Type == "boundary" {
				target = "constrained_by:" + target
			}
			negative = append(negative, target)
		case voidDerivationTypes[d.Type]:
			void = append(void, target)
		}
	}

	lowered := strings.ToLower(factText)
	positive = append(positive, extractKeywordTokens(factText, lowered, dependencyKeywords)...)
	negative = append(negative, extractKeywordTokens(factText, lowered, negationKeywords)...)
	void = append(void, extractKeywordTokens(factText, lowered, independenceKeywords)...)

	positive = capTokens(dedupPreserveOrder(positive), 3)
	negative = capTokens(dedupPreserveOrder(negative), 2)
	void = capTokens(dedupPreserveOrder(void), 2)

	return types.TernaryDelta{Positive: positive, Negative: negative, Void: void}
}

// extractKeywordTokens finds every keyword hit in text and records
// "inferred:<30-char snippet>" starting at the keyword's offset.
func extractKeywordTokens(original, lowered string, keywords []string) []string {
	var out []string
	for _, kw := range keywords {
		idx := strings.Index(lowered, kw)
		if idx < 0 {
			continue
		}
		end := idx + maxExtractedTokenLen
		if end > len(original) {
			end = len(original)
		}
		snippet := original[idx:end]
		out = append(out, "inferred:"+snippet)
	}
	return out
}

func dedupPreserveOrder(tokens []string) []string {
	seen := make(map[string]bool, len(tokens))
	var out []string
	for _, t := range tokens {
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return len(out[i]) > len(out[j]) })
	return out
}

func capTokens(tokens []string, n int) []string {
	if len(tokens) > n {
		return tokens[:n]
	}
	return tokens
}

// BuildPointerMap assigns a distinct, sequential bit position to each token
// (positive, then negative, then void), with tri-value +1/-1/0.
func BuildPointerMap(delta types.TernaryDelta, access types.AccessPattern) types.PointerMap {
	pm := types.PointerMap{
		PositivePtrs: make(map[string]types.PointerEntry),
		NegativePtrs: make(map[string]types.PointerEntry),
		VoidPtrs:     make(map[string]types.PointerEntry),
	}

	bit := 0
	for _, tok := range delta.Positive {
		pm.PositivePtrs[tok] = types.PointerEntry{BitPosition: bit, Value: 1}
		bit++
	}
	for _, tok := range delta.Negative {
		pm.NegativePtrs[tok] = types.PointerEntry{BitPosition: bit, Value: -1}
		bit++
	}
	for _, tok := range delta.Void {
		pm.VoidPtrs[tok] = types.PointerEntry{BitPosition: bit, Value: 0}
		bit++
	}

	pm.TotalBits = bit
	pm.AccessPattern = access
	return pm
}

// Weight is total_token_count * log2(3).
func Weight(delta types.TernaryDelta) float64 {
	count := len(delta.Positive) + len(delta.Negative) + len(delta.Void)
	return float64(count) * log2Of3
}
