package system

import (
	"path/filepath"
	"testing"

	"github.com/cuemby/kitbash/pkg/cartridge"
	"github.com/cuemby/kitbash/pkg/config"
	"github.com/cuemby/kitbash/pkg/types"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.CartridgesDir = t.TempDir()
	return cfg
}

func TestOpenWithNoCartridgesWiresEmptySystem(t *testing.T) {
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	if sys.CartridgesLoaded() != 0 {
		t.Fatalf("expected 0 cartridges loaded, got %d", sys.CartridgesLoaded())
	}
	if sys.GrainCount() != 0 {
		t.Fatalf("expected 0 grains loaded, got %d", sys.GrainCount())
	}
	if sys.EnginesAvailable() != 2 {
		t.Fatalf("expected 2 engines wired (cartridge + grain), got %d", sys.EnginesAvailable())
	}
	if sys.Orchestrator == nil {
		t.Fatal("expected the orchestrator to be wired")
	}
}

func TestOpenLoadsExistingCartridgeDirectories(t *testing.T) {
	cfg := testConfig(t)

	// Pre-create a cartridge directory the way Open itself would populate one.
	c, err := cartridge.Open(cfg.CartridgesDir, "docs")
	if err != nil {
		t.Fatalf("unexpected error priming a cartridge: %v", err)
	}
	if _, err := c.AddFact("postgres needs a connection pool", types.Annotation{Confidence: 0.9}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	sys, err := Open(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	if sys.CartridgesLoaded() != 1 {
		t.Fatalf("expected 1 cartridge to be discovered, got %d", sys.CartridgesLoaded())
	}
	if _, ok := sys.Cartridges["docs"]; !ok {
		t.Fatal("expected a cartridge named docs to be loaded")
	}
	if _, ok := sys.GrainRouters["docs"]; !ok {
		t.Fatal("expected a grain router to be wired for docs")
	}
	if _, ok := sys.Phantoms["docs"]; !ok {
		t.Fatal("expected a phantom registry to be wired for docs")
	}
}

func TestSearchFactsRanksByConfidenceDescending(t *testing.T) {
	cfg := testConfig(t)
	c, err := cartridge.Open(cfg.CartridgesDir, "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	c.AddFact("postgres is reliable", types.Annotation{Confidence: 0.4})
	c.AddFact("postgres needs tuning", types.Annotation{Confidence: 0.9})
	c.Close()

	sys, err := Open(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	results := sys.SearchFacts("postgres", 0)
	if len(results) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(results))
	}
	if results[0].Confidence < results[1].Confidence {
		t.Fatalf("expected results ranked by confidence descending, got %+v", results)
	}
}

func TestSearchFactsRespectsLimit(t *testing.T) {
	cfg := testConfig(t)
	c, err := cartridge.Open(cfg.CartridgesDir, "docs")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i := 0; i < 3; i++ {
		c.AddFact("postgres fact number "+string(rune('a'+i)), types.Annotation{Confidence: 0.5})
	}
	c.Close()

	sys, err := Open(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	results := sys.SearchFacts("postgres", 2)
	if len(results) != 2 {
		t.Fatalf("expected results capped at limit 2, got %d", len(results))
	}
}

func TestCloseIsIdempotentlySafeWithoutCartridges(t *testing.T) {
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := sys.Close(); err != nil {
		t.Fatalf("unexpected error closing: %v", err)
	}
}

func TestPhantomStatusCountsAggregatesAcrossCartridges(t *testing.T) {
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	counts := sys.PhantomStatusCounts()
	if counts == nil {
		t.Fatal("expected a non-nil (possibly empty) counts map")
	}
}

func TestActiveResonancePatternsWithFreshStoreIsZero(t *testing.T) {
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	if got := sys.ActiveResonancePatterns(); got != 0 {
		t.Fatalf("expected 0 active resonance patterns for a fresh store, got %d", got)
	}
}

func TestHeartbeatTurnStartsAtZero(t *testing.T) {
	sys, err := Open(testConfig(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer sys.Close()

	if got := sys.HeartbeatTurn(); got != 0 {
		t.Fatalf("expected heartbeat turn 0 on a fresh system, got %d", got)
	}
}

func TestOpenCreatesCartridgesDirIfMissing(t *testing.T) {
	cfg := config.Default()
	cfg.CartridgesDir = filepath.Join(t.TempDir(), "nested", "cartridges")

	sys, err := Open(cfg)
	if err != nil {
		t.Fatalf("expected Open to create a missing cartridges dir, got %v", err)
	}
	defer sys.Close()
}
