// Package system wires every component package into one running instance:
// cartridges, grain stores, phantom registries, the resonance store, the
// engine registry, the heartbeat, the metabolism scheduler, the
// orchestrator and the spotlight. cmd/kitbash's subcommands build a System
// and drive it; nothing in here is cobra- or HTTP-specific.
package system

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/cuemby/kitbash/pkg/cartridge"
	"github.com/cuemby/kitbash/pkg/config"
	"github.com/cuemby/kitbash/pkg/crystallize"
	"github.com/cuemby/kitbash/pkg/diagnostics"
	"github.com/cuemby/kitbash/pkg/engine"
	"github.com/cuemby/kitbash/pkg/grain"
	"github.com/cuemby/kitbash/pkg/heartbeat"
	"github.com/cuemby/kitbash/pkg/httpapi"
	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metabolism"
	"github.com/cuemby/kitbash/pkg/orchestrator"
	"github.com/cuemby/kitbash/pkg/phantom"
	"github.com/cuemby/kitbash/pkg/resonance"
	"github.com/cuemby/kitbash/pkg/spotlight"
	"github.com/rs/zerolog"
)

// System is the fully-wired set of live collaborators for one process.
type System struct {
	Config Config

	Cartridges map[string]*cartridge.Cartridge
	GrainRouters map[string]*grain.Router
	Phantoms   map[string]*phantom.Registry

	Resonance *resonance.Store
	Engines   *engine.Registry
	Heartbeat *heartbeat.Heartbeat
	Scheduler *metabolism.Scheduler
	Spotlight *spotlight.Spotlight

	Orchestrator *orchestrator.Orchestrator

	logger zerolog.Logger
}

// Config is an alias for config.Config, so callers can name the bootstrap's
// configuration type through this package.
type Config = config.Config

// Open loads every cartridge under cfg.CartridgesDir (one subdirectory per
// `<name>.kbc`), builds their grain routers and phantom registries, and
// wires the resonance store, engine registry, heartbeat, scheduler and
// orchestrator on top.
func Open(cfg Config) (*System, error) {
	logger := log.WithComponent("system")

	sys := &System{
		Config:       cfg,
		Cartridges:   make(map[string]*cartridge.Cartridge),
		GrainRouters: make(map[string]*grain.Router),
		Phantoms:     make(map[string]*phantom.Registry),
		logger:       logger,
	}

	if err := os.MkdirAll(cfg.CartridgesDir, 0o755); err != nil {
		return nil, fmt.Errorf("system: %w", err)
	}

	entries, err := os.ReadDir(cfg.CartridgesDir)
	if err != nil {
		return nil, fmt.Errorf("system: listing cartridges: %w", err)
	}

	for _, e := range entries {
		if !e.IsDir() || !strings.HasSuffix(e.Name(), ".kbc") {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ".kbc")
		if err := sys.loadCartridge(cfg, name); err != nil {
			return nil, fmt.Errorf("system: loading cartridge %s: %w", name, err)
		}
	}

	resonancePath := filepath.Join(cfg.CartridgesDir, ".resonance.db")
	resonanceStore, err := resonance.New(resonancePath,
		resonance.WithStabilityGrowth(cfg.StabilityGrowth),
		resonance.WithCleanupThreshold(cfg.CleanupThreshold),
		resonance.WithPromotionHitCount(cfg.PromotionHitCount),
	)
	if err != nil {
		return nil, fmt.Errorf("system: opening resonance store: %w", err)
	}
	sys.Resonance = resonanceStore

	cartridgeStores := sys.cartridgeStoreMap()

	sys.Heartbeat = heartbeat.New()
	sys.Scheduler = metabolism.New(cfg.BackgroundInterval)
	sys.Scheduler.Register("decay", metabolism.DecayHandler(sys.Resonance, sys.Phantoms, cartridgeStores, sys.GrainRouters))
	sys.Scheduler.Register("analyze_split", metabolism.AnalyzeSplitHandler())
	sys.Scheduler.Register("routine", metabolism.RoutineHandler())
	sys.Scheduler.Register("daydream", metabolism.DaydreamHandler())
	sys.Scheduler.Register("sleep", metabolism.SleepHandler())

	sys.Engines = engine.NewRegistry()
	sys.wireEngines()

	sys.Spotlight = openSpotlight(cfg)

	orch := orchestrator.New(sys.Engines, sys.Heartbeat, sys.Resonance)
	orch.Scheduler = sys.Scheduler
	orch.Phantoms = sys.Phantoms
	orch.Spotlight = sys.Spotlight
	orch.CouplingValidator = spotlight.NewCouplingValidator(sys.Spotlight, nil)
	orch.Feed = diagnostics.NewRingBuffer(0)
	sys.Orchestrator = orch

	return sys, nil
}

func (sys *System) loadCartridge(cfg Config, name string) error {
	c, err := cartridge.Open(cfg.CartridgesDir, name)
	if err != nil {
		return err
	}
	sys.Cartridges[name] = c

	store, err := crystallize.OpenGrainStore(c.Dir())
	if err != nil {
		return err
	}
	sys.GrainRouters[name] = grain.New(store)

	registry := phantom.New(name, cfg.LockCycles)
	_ = registry.Load(filepath.Join(c.Dir(), "phantoms.json"))
	sys.Phantoms[name] = registry

	return nil
}

func (sys *System) wireEngines() {
	cartridgeStores := sys.cartridgeStoreMap()
	sys.Engines.Register(engine.NewCartridgeEngine(cartridgeStores))
	sys.Engines.Register(engine.NewGrainEngine(sys.GrainRouters, cartridgeStores))
}

// cartridgeStoreMap adapts every loaded cartridge to the narrower
// cartridge.Store interface the engine and metabolism packages depend on.
func (sys *System) cartridgeStoreMap() map[string]cartridge.Store {
	out := make(map[string]cartridge.Store, len(sys.Cartridges))
	for name, c := range sys.Cartridges {
		out[name] = c
	}
	return out
}

func openSpotlight(cfg Config) *spotlight.Spotlight {
	ttl := cfg.SpotlightTTL
	addr := fmt.Sprintf("%s:%d", cfg.RedisHost, cfg.RedisPort)
	return spotlight.NewRedis(addr, cfg.RedisDB, cfg.RedisPassword, ttl)
}

// SearchFacts implements httpapi.FactsSearcher: a keyword search across
// every loaded cartridge, ranked by confidence descending and capped at
// limit.
func (sys *System) SearchFacts(query string, limit int) []httpapi.FactResult {
	terms := cartridge.Tokenize(query)

	var out []httpapi.FactResult
	for _, c := range sys.Cartridges {
		ids, err := c.Query(terms)
		if err != nil {
			continue
		}
		for _, id := range ids {
			fact, ann, err := c.GetFact(id)
			if err != nil || fact == nil {
				continue
			}
			source := ""
			if ann != nil && len(ann.Sources) > 0 {
				source = ann.Sources[0]
			}
			confidence := 0.0
			if ann != nil {
				confidence = ann.Confidence
			}
			out = append(out, httpapi.FactResult{Text: fact.Content, Confidence: confidence, Source: source})
		}
	}

	sortFactsByConfidence(out)
	if limit > 0 && limit < len(out) {
		out = out[:limit]
	}
	return out
}

func sortFactsByConfidence(facts []httpapi.FactResult) {
	for i := 1; i < len(facts); i++ {
		for j := i; j > 0 && facts[j].Confidence > facts[j-1].Confidence; j-- {
			facts[j], facts[j-1] = facts[j-1], facts[j]
		}
	}
}

// EnginesAvailable implements httpapi.Stats.
func (sys *System) EnginesAvailable() int { return len(sys.Engines.Order()) }

// CartridgesLoaded implements httpapi.Stats.
func (sys *System) CartridgesLoaded() int { return len(sys.Cartridges) }

// GrainCount implements httpapi.Stats.
func (sys *System) GrainCount() int {
	total := 0
	for _, r := range sys.GrainRouters {
		total += r.Len()
	}
	return total
}

// CartridgeFactCounts implements metrics.Source: fact count by cartridge name.
func (sys *System) CartridgeFactCounts() map[string]int {
	out := make(map[string]int, len(sys.Cartridges))
	for name, c := range sys.Cartridges {
		out[name] = c.FactCount()
	}
	return out
}

// PhantomStatusCounts implements metrics.Source: tracked-phantom counts by
// status, summed across every cartridge's registry.
func (sys *System) PhantomStatusCounts() map[string]int {
	totals := make(map[string]int)
	for _, r := range sys.Phantoms {
		for status, n := range r.StatusCounts() {
			totals[string(status)] += n
		}
	}
	return totals
}

// ActiveResonancePatterns implements metrics.Source: the number of resonance
// patterns currently above the configured cleanup threshold.
func (sys *System) ActiveResonancePatterns() int {
	if sys.Resonance == nil {
		return 0
	}
	return len(sys.Resonance.GetActivePatterns(sys.Config.CleanupThreshold))
}

// HeartbeatTurn implements metrics.Source.
func (sys *System) HeartbeatTurn() uint64 {
	if sys.Heartbeat == nil {
		return 0
	}
	return sys.Heartbeat.Turn()
}

// Close persists every cartridge and phantom registry and closes the
// resonance store.
func (sys *System) Close() error {
	for name, c := range sys.Cartridges {
		if err := c.Close(); err != nil {
			sys.logger.Warn().Err(err).Str("cartridge", name).Msg("failed to close cartridge")
		}
	}
	for name, r := range sys.Phantoms {
		c, ok := sys.Cartridges[name]
		if !ok {
			continue
		}
		if err := r.Save(filepath.Join(c.Dir(), "phantoms.json")); err != nil {
			sys.logger.Warn().Err(err).Str("cartridge", name).Msg("failed to save phantom registry")
		}
	}
	if sys.Resonance != nil {
		return sys.Resonance.Close()
	}
	return nil
}
