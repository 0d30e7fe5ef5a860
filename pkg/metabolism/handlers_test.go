package metabolism

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/cuemby/kitbash/pkg/cartridge"
	"github.com/cuemby/kitbash/pkg/crystallize"
	"github.com/cuemby/kitbash/pkg/grain"
	"github.com/cuemby/kitbash/pkg/phantom"
	"github.com/cuemby/kitbash/pkg/resonance"
	"github.com/cuemby/kitbash/pkg/types"
)

func TestDecayHandlerAdvancesResonanceAndPhantomCycles(t *testing.T) {
	store, err := resonance.New(filepath.Join(t.TempDir(), "resonance.db"))
	if err != nil {
		t.Fatalf("opening resonance store: %v", err)
	}
	defer store.Close()

	registry := phantom.New("docs", 50)
	registry.RecordHit(1, 0.9)

	handler := DecayHandler(store, map[string]*phantom.Registry{"docs": registry}, nil, nil)

	if _, err := handler(context.Background()); err != nil {
		t.Fatalf("unexpected error from decay handler: %v", err)
	}

	if store.Turn() != 1 {
		t.Fatalf("expected resonance store turn to advance to 1, got %d", store.Turn())
	}
}

func TestDecayHandlerCrystallizesLockedPhantomIntoGrain(t *testing.T) {
	dir := t.TempDir()
	c, err := cartridge.Open(dir, "docs")
	if err != nil {
		t.Fatalf("opening cartridge: %v", err)
	}
	defer c.Close()

	factID, err := c.AddFact("postgres requires a connection pool", types.Annotation{Confidence: 0.95, Sources: []string{"docs"}})
	if err != nil {
		t.Fatalf("adding fact: %v", err)
	}

	gs, err := crystallize.OpenGrainStore(c.Dir())
	if err != nil {
		t.Fatalf("opening grain store: %v", err)
	}
	router := grain.New(gs)

	store, err := resonance.New(filepath.Join(t.TempDir(), "resonance.db"))
	if err != nil {
		t.Fatalf("opening resonance store: %v", err)
	}
	defer store.Close()

	registry := phantom.New("docs", 1)
	for i := 0; i < 5; i++ {
		registry.RecordHit(factID, 0.95)
	}
	registry.AdvanceCycle() // first persistent cycle locks it (lockCycles: 1)

	handler := DecayHandler(store, map[string]*phantom.Registry{"docs": registry},
		map[string]cartridge.Store{"docs": c}, map[string]*grain.Router{"docs": router})

	if _, err := handler(context.Background()); err != nil {
		t.Fatalf("unexpected error from decay handler: %v", err)
	}

	if router.Len() != 1 {
		t.Fatalf("expected the locked phantom to crystallise into one grain, got %d", router.Len())
	}
	g, ok := router.Lookup(factID)
	if !ok {
		t.Fatal("expected a grain looked up by fact id")
	}
	if g.CartridgeSource != "docs" {
		t.Fatalf("expected grain cartridge_source docs, got %q", g.CartridgeSource)
	}
}

func TestNoOpHandlersReturnZeroAndNoError(t *testing.T) {
	handlers := []Handler{
		AnalyzeSplitHandler(),
		RoutineHandler(),
		DaydreamHandler(),
		SleepHandler(),
	}
	for _, h := range handlers {
		n, err := h(context.Background())
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if n != 0 {
			t.Fatalf("expected a no-op handler to report 0 touched, got %d", n)
		}
	}
}
