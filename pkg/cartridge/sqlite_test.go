package cartridge

import (
	"testing"

	"github.com/cuemby/kitbash/pkg/types"
)

func TestOpenCreatesCartridgeDirectory(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if c.Name() != "docs" {
		t.Fatalf("expected name docs, got %q", c.Name())
	}
	if c.FactCount() != 0 {
		t.Fatalf("expected a fresh cartridge to have 0 facts, got %d", c.FactCount())
	}
}

func TestAddFactThenGetFact(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	id, err := c.AddFact("Postgres needs a connection pool", types.Annotation{Confidence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id == 0 {
		t.Fatal("expected a nonzero fact id")
	}

	fact, ann, err := c.GetFact(id)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fact.Content != "Postgres needs a connection pool" {
		t.Fatalf("unexpected content: %q", fact.Content)
	}
	if ann.Confidence != 0.9 {
		t.Fatalf("expected confidence 0.9, got %v", ann.Confidence)
	}
}

func TestAddFactDedupesByContentHash(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	id1, err := c.AddFact("same content", types.Annotation{Confidence: 0.5})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id2, err := c.AddFact("same content", types.Annotation{Confidence: 0.9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id1 != id2 {
		t.Fatalf("expected duplicate content to return the same id, got %d and %d", id1, id2)
	}
	if c.FactCount() != 1 {
		t.Fatalf("expected 1 fact after a duplicate insert, got %d", c.FactCount())
	}
}

func TestGetFactIncrementsAccessCount(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	id, _ := c.AddFact("a fact", types.Annotation{Confidence: 0.5})
	fact1, _, _ := c.GetFact(id)
	fact2, _, _ := c.GetFact(id)

	if fact1.AccessCount != 1 {
		t.Fatalf("expected access count 1 on first get, got %d", fact1.AccessCount)
	}
	if fact2.AccessCount != 2 {
		t.Fatalf("expected access count 2 on second get, got %d", fact2.AccessCount)
	}
}

func TestGetFactUnknownIDErrors(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	if _, _, err := c.GetFact(999); err == nil {
		t.Fatal("expected an error for an unknown fact id")
	}
}

func TestQueryRanksByConfidenceDescending(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	lowID, _ := c.AddFact("postgres is a database", types.Annotation{Confidence: 0.3})
	highID, _ := c.AddFact("postgres needs tuning", types.Annotation{Confidence: 0.9})

	ids, err := c.Query([]string{"postgres"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(ids))
	}
	if ids[0] != highID || ids[1] != lowID {
		t.Fatalf("expected [%d, %d] ranked by confidence descending, got %v", highID, lowID, ids)
	}
}

func TestQueryIntersectsAcrossTerms(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	both, _ := c.AddFact("postgres and redis are both databases", types.Annotation{Confidence: 0.8})
	_, _ = c.AddFact("postgres alone needs a pool", types.Annotation{Confidence: 0.9})

	ids, err := c.Query([]string{"postgres", "redis"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != both {
		t.Fatalf("expected the intersection to contain only the doc mentioning both terms, got %v", ids)
	}
}

func TestQueryFallsBackToUnionWhenIntersectionEmpty(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	_, _ = c.AddFact("postgres needs a pool", types.Annotation{Confidence: 0.9})
	_, _ = c.AddFact("redis is a cache", types.Annotation{Confidence: 0.7})

	ids, err := c.Query([]string{"postgres", "redis"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected the union of both docs since no doc mentions both terms, got %v", ids)
	}
}

func TestQueryEmptyTermsReturnsNil(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	ids, err := c.Query([]string{"the", "is"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ids != nil {
		t.Fatalf("expected nil when every term is a stop word, got %v", ids)
	}
}

func TestSaveAndReopenPreservesFactsAndIndices(t *testing.T) {
	dir := t.TempDir()
	c, err := Open(dir, "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	id, _ := c.AddFact("postgres needs a connection pool", types.Annotation{Confidence: 0.85})
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}

	reopened, err := Open(dir, "docs")
	if err != nil {
		t.Fatalf("unexpected error reopening: %v", err)
	}
	defer reopened.Close()

	if reopened.FactCount() != 1 {
		t.Fatalf("expected 1 fact after reopening, got %d", reopened.FactCount())
	}
	ids, err := reopened.Query([]string{"postgres"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ids) != 1 || ids[0] != id {
		t.Fatalf("expected the saved index to resolve postgres to fact %d, got %v", id, ids)
	}
}

func TestManifestReflectsFactCount(t *testing.T) {
	c, err := Open(t.TempDir(), "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer c.Close()

	c.AddFact("fact one", types.Annotation{Confidence: 0.5})
	c.AddFact("fact two", types.Annotation{Confidence: 0.5})

	m := c.Manifest()
	if m.FactCount != 2 {
		t.Fatalf("expected manifest fact count 2, got %d", m.FactCount)
	}
}

func TestTokenizeStripsPunctuationAndStopWords(t *testing.T) {
	tokens := Tokenize("The Postgres DB, at 25°C ± 2, is what we use.")
	want := []string{"postgres", "db", "25°c", "±", "2", "we", "use"}
	if len(tokens) != len(want) {
		t.Fatalf("expected %v, got %v", want, tokens)
	}
	for i, tok := range tokens {
		if tok != want[i] {
			t.Fatalf("expected token %d to be %q, got %q (full: %v)", i, want[i], tok, tokens)
		}
	}
}
