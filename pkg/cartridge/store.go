// Package cartridge implements the on-disk fact store: a directory per
// cartridge holding a SQLite facts table, a JSON-lines annotation file,
// JSON keyword/hash/access indices, and a manifest.
package cartridge

import "github.com/cuemby/kitbash/pkg/types"

// Store is the narrow contract the rest of the system depends on; the
// concrete implementation is *Cartridge (sqlite.go).
type Store interface {
	// AddFact dedups by content hash, returning the existing id on a repeat.
	AddFact(content string, annotation types.Annotation) (int64, error)
	GetFact(id int64) (*types.Fact, *types.Annotation, error)
	// Query tokenises terms, filters stop-words, and returns fact ids
	// ranked by confidence: the keyword-intersection if non-empty, else
	// the union.
	Query(terms []string) ([]int64, error)
	Manifest() types.Manifest
	Name() string
	FactCount() int
	Save() error
	Close() error
}

var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "has": true, "he": true,
	"in": true, "is": true, "it": true, "its": true, "of": true, "on": true,
	"that": true, "the": true, "to": true, "was": true, "were": true,
	"will": true, "with": true, "this": true, "these": true, "those": true,
	"or": true, "but": true, "not": true, "what": true, "which": true,
	"who": true, "when": true, "where": true, "why": true, "how": true,
}

// Tokenize lowercases, strips punctuation other than "° ± -", splits on
// whitespace, and removes stop-words.
func Tokenize(text string) []string {
	lowered := make([]rune, 0, len(text))
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			lowered = append(lowered, r+('a'-'A'))
		case r == '°' || r == '±' || r == '-':
			lowered = append(lowered, r)
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == ' ' || r == '\t' || r == '\n':
			lowered = append(lowered, r)
		default:
			lowered = append(lowered, ' ')
		}
	}

	var tokens []string
	var cur []rune
	flush := func() {
		if len(cur) > 0 {
			tok := string(cur)
			if !stopWords[tok] {
				tokens = append(tokens, tok)
			}
			cur = cur[:0]
		}
	}
	for _, r := range lowered {
		if r == ' ' || r == '\t' || r == '\n' {
			flush()
		} else {
			cur = append(cur, r)
		}
	}
	flush()
	return tokens
}
