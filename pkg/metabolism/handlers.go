package metabolism

import (
	"context"
	"time"

	"github.com/cuemby/kitbash/pkg/cartridge"
	"github.com/cuemby/kitbash/pkg/crystallize"
	"github.com/cuemby/kitbash/pkg/grain"
	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/cuemby/kitbash/pkg/phantom"
	"github.com/cuemby/kitbash/pkg/resonance"
	"github.com/cuemby/kitbash/pkg/types"
)

// DecayHandler advances the resonance store's turn (pruning decayed
// patterns) and sweeps every cartridge's phantom registry forward one
// cycle. This is the only path that advances phantom cycles — a plain
// heartbeat AdvanceTurn never touches phantom state, per the scheduler's
// own turn/cycle distinction.
//
// Once a cartridge's registry locks a phantom, this is also the only path
// that crystallises it: each locked candidate is run through the Sicherman
// gates, and a pass mints a grain and routes it so later queries can hit it
// directly at layer 0.
func DecayHandler(store *resonance.Store, registries map[string]*phantom.Registry, cartridges map[string]cartridge.Store, routers map[string]*grain.Router) Handler {
	validator := crystallize.NewValidator()
	logger := log.WithComponent("metabolism")

	return func(ctx context.Context) (int, error) {
		pruned := store.AdvanceTurn()

		crystallized := 0
		for name, r := range registries {
			r.AdvanceCycle()

			cstore, ok := cartridges[name]
			if !ok {
				continue
			}
			router, ok := routers[name]
			if !ok {
				continue
			}

			resolves := func(cartridgeName string, factID int64) bool {
				fact, _, err := cstore.GetFact(factID)
				return err == nil && fact != nil
			}

			for _, candidate := range r.GetLockedPhantoms() {
				if _, exists := router.Lookup(candidate.FactID); exists {
					continue
				}
				result := validator.Validate(candidate, resolves)
				if !result.Passed {
					for _, f := range result.Failures {
						metrics.SichermanRejections.WithLabelValues(f.Rule).Inc()
					}
					continue
				}

				fact, ann, err := cstore.GetFact(candidate.FactID)
				if err != nil || fact == nil {
					continue
				}
				var derivations []types.Derivation
				if ann != nil {
					derivations = ann.Derivations
				}

				g := crystallize.BuildGrain(name, fact.Content, derivations, candidate, time.Now())
				if err := router.Put(g); err != nil {
					logger.Warn().Err(err).Str("cartridge", name).Int64("fact_id", candidate.FactID).Msg("failed to persist crystallised grain")
					continue
				}
				metrics.GrainsCrystallized.Inc()
				crystallized++
			}
		}

		return pruned + crystallized, nil
	}
}

// AnalyzeSplitHandler is a structured no-op: cartridge-split recommendation
// is queued for future work rather than computed inline.
func AnalyzeSplitHandler() Handler {
	return func(ctx context.Context) (int, error) {
		return 0, nil
	}
}

// RoutineHandler is a low-cost no-op placeholder priority: cartridges with
// nothing urgent pending simply record that a cycle ran.
func RoutineHandler() Handler {
	return func(ctx context.Context) (int, error) {
		return 0, nil
	}
}

// DaydreamHandler is a scheduler entry point the core doesn't yet implement
// beyond the stub the spec sanctions.
func DaydreamHandler() Handler {
	return func(ctx context.Context) (int, error) {
		return 0, nil
	}
}

// SleepHandler is the lowest-priority, lowest-cost cycle: it does nothing
// but still counts as having run, so Due() resets against it.
func SleepHandler() Handler {
	return func(ctx context.Context) (int, error) {
		return 0, nil
	}
}
