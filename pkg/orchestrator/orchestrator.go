// Package orchestrator implements the Complexity Sieve: the single
// external entry point that turns a query into a QueryResult by ticking
// the background scheduler, triaging a cascade sequence, running it under
// a paused heartbeat, and always advancing the turn counter on the way
// out.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"

	"github.com/cuemby/kitbash/pkg/diagnostics"
	"github.com/cuemby/kitbash/pkg/engine"
	"github.com/cuemby/kitbash/pkg/heartbeat"
	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/metabolism"
	"github.com/cuemby/kitbash/pkg/metrics"
	"github.com/cuemby/kitbash/pkg/phantom"
	"github.com/cuemby/kitbash/pkg/resonance"
	"github.com/cuemby/kitbash/pkg/spotlight"
	"github.com/cuemby/kitbash/pkg/triage"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ContextService optionally enriches a query's context before triage. A nil
// service is treated as always returning nil.
type ContextService interface {
	FetchContext(ctx context.Context, queryText string, existing map[string]any) (map[string]any, error)
}

// Orchestrator wires every collaborator the Complexity Sieve needs. Fields
// left nil get a safe substitute: TriageAgent falls back to
// triage.FallbackDecision, Scheduler skips phase 1, ContextService skips
// phase 2, Feed becomes a diagnostics.NoopFeed, Phantoms/Spotlight/
// CouplingValidator being nil simply skips the phantom-hit and coupling
// steps.
type Orchestrator struct {
	logger zerolog.Logger

	Engines   *engine.Registry
	Heartbeat *heartbeat.Heartbeat
	Scheduler *metabolism.Scheduler
	Triage    triage.Agent
	Context   ContextService
	Resonance *resonance.Store
	Feed      diagnostics.Feed

	// Phantoms is keyed by cartridge name; a cascade win against a
	// cartridge-backed engine reinforces that cartridge's registry.
	Phantoms map[string]*phantom.Registry

	// Spotlight and CouplingValidator are optional: when both are set,
	// every cascade attempt is recorded into the query's epistemic
	// workspace and checked for cross-layer contradictions before the
	// query completes.
	Spotlight        *spotlight.Spotlight
	CouplingValidator *spotlight.CouplingValidator

	LayerTimeout time.Duration
}

// New constructs an Orchestrator with the mandatory collaborators; optional
// ones can be assigned directly on the returned value.
func New(engines *engine.Registry, hb *heartbeat.Heartbeat, resonanceStore *resonance.Store) *Orchestrator {
	return &Orchestrator{
		logger:       log.WithComponent("orchestrator"),
		Engines:      engines,
		Heartbeat:    hb,
		Resonance:    resonanceStore,
		Feed:         diagnostics.NoopFeed{},
		LayerTimeout: 200 * time.Millisecond,
	}
}

// ProcessQuery runs the full seven-phase pipeline and always returns a
// QueryResult — callers never see a raw error for query-time failures.
func (o *Orchestrator) ProcessQuery(ctx context.Context, text string, queryContext map[string]any) types.QueryResult {
	queryID := uuid.NewString()
	logger := log.WithQueryID(queryID)
	start := time.Now()

	result := types.QueryResult{QueryID: queryID}

	defer func() {
		// Phase 7: always resume and advance turn, even on internal panic.
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("process_query panicked")
			result.Answer = "I don't know."
			result.Confidence = 0
			result.EngineName = "NONE"
			result.ErrorState = "internal_error"
		}
		o.Heartbeat.Resume()
		turn := o.Heartbeat.AdvanceTurn()
		if o.Resonance != nil {
			_ = turn // resonance store's own turn is advanced by the metabolism decay handler, not here
		}
		result.TotalLatencyMS = float64(time.Since(start).Microseconds()) / 1000.0
		o.Feed.Record(diagnostics.Event{
			Timestamp: time.Now(),
			QueryID:   queryID,
			Type:      "query_completed",
			LatencyMS: result.TotalLatencyMS,
			Fields:    map[string]any{"engine_name": result.EngineName, "confidence": result.Confidence},
		})
		if o.Spotlight != nil {
			_ = o.Spotlight.DestroyQuery(ctx, queryID)
		}
	}()

	if o.Spotlight != nil {
		if err := o.Spotlight.CreateQueryWithID(ctx, queryID, text); err != nil {
			logger.Warn().Err(err).Msg("spotlight create_query failed, coupling validation skipped")
		}
	}

	o.Feed.Record(diagnostics.Event{Timestamp: time.Now(), QueryID: queryID, Type: "query_created"})

	// Phase 1: scheduler tick. Gated on the heartbeat actually running: if
	// another query is already mid-cascade (heartbeat paused), a
	// background cycle must never interleave with it, so this tick is
	// skipped and picked up again once some query's Phase 1 observes the
	// heartbeat running.
	if o.Scheduler != nil && o.Heartbeat.IsRunning() {
		turn := o.Heartbeat.Turn()
		if o.Scheduler.Due(turn) {
			if err := o.Scheduler.Run(ctx, "decay", turn); err != nil {
				logger.Warn().Err(err).Msg("background scheduler tick failed")
			}
		}
	}

	// Phase 2: context retrieval.
	mergedContext := queryContext
	if o.Context != nil {
		fetched, err := o.Context.FetchContext(ctx, text, queryContext)
		if err != nil {
			logger.Warn().Err(err).Msg("context retrieval failed")
		} else if fetched != nil {
			if mergedContext == nil {
				mergedContext = make(map[string]any)
			}
			for k, v := range fetched {
				mergedContext[k] = v
			}
		}
	}

	// Phase 3: triage.
	decision := o.triage(text, mergedContext)
	result.TriageReasoning = decision.Reasoning

	// Phase 4: pause heartbeat.
	o.Heartbeat.Pause("cascade")

	// Phase 5: cascade.
	winner, attempts := o.cascade(ctx, queryID, text, mergedContext, decision)
	result.LayerResults = attempts

	// Phase 6: finalise.
	if winner == nil {
		result.Answer = "I don't know."
		result.Confidence = 0
		result.EngineName = "NONE"
	} else {
		result.Answer = winner.response.Answer
		result.Confidence = winner.response.Confidence
		result.EngineName = winner.name
		if o.Resonance != nil {
			hash := queryPatternHash(text)
			if w := o.Resonance.ComputeWeight(hash); w == 0 {
				o.Resonance.RecordPattern(hash, map[string]any{"query": text}, 0)
			} else {
				o.Resonance.ReinforcePattern(hash)
			}
		}
		if o.Phantoms != nil && winner.response.CartridgeName != "" {
			if registry, ok := o.Phantoms[winner.response.CartridgeName]; ok {
				registry.RecordHit(winner.response.FactID, winner.response.Confidence)
			}
		}
	}

	if o.CouplingValidator != nil && o.Spotlight != nil {
		severity, err := o.CouplingValidator.Validate(ctx, queryID)
		if err != nil {
			logger.Warn().Err(err).Msg("coupling validation failed")
		} else {
			result.CouplingSeverity = string(severity)
		}
	}

	return result
}

type cascadeWin struct {
	name     string
	response engine.InferenceResponse
}

func (o *Orchestrator) triage(text string, queryContext map[string]any) triage.Decision {
	if o.Triage == nil {
		return triage.FallbackDecision()
	}
	decision, err := o.Triage.Triage(text, queryContext)
	if err != nil {
		o.logger.Warn().Err(err).Msg("triage failed, using fallback sequence")
		return triage.FallbackDecision()
	}
	return decision
}

func (o *Orchestrator) cascade(ctx context.Context, queryID, text string, queryContext map[string]any, decision triage.Decision) (*cascadeWin, []types.LayerAttempt) {
	var attempts []types.LayerAttempt

	for _, name := range decision.LayerSequence {
		if name == triage.Escalate {
			break
		}

		eng, ok := o.Engines.Get(name)
		if !ok {
			o.logger.Debug().Str("engine", name).Msg("unknown engine in layer sequence, skipping")
			continue
		}

		threshold, ok := decision.ConfidenceThresholds[name]
		if !ok {
			threshold = triage.DefaultThresholds[name]
		}

		req := engine.InferenceRequest{
			QueryID:    queryID,
			Text:       text,
			Cartridges: decision.RecommendedCartridges,
			Threshold:  threshold,
		}

		attempt, response, err := o.attempt(ctx, eng, req)
		attempts = append(attempts, attempt)

		o.Feed.Record(diagnostics.Event{
			Timestamp:  time.Now(),
			QueryID:    queryID,
			Type:       "layer_attempt",
			Layer:      name,
			Confidence: attempt.Confidence,
			LatencyMS:  attempt.LatencyMS,
			Fields:     map[string]any{"passed": attempt.Passed},
		})

		if o.Spotlight != nil && err == nil && response.Answer != "" {
			fact := types.SpotlightFact{
				ID:         response.FactID,
				Content:    response.Answer,
				Confidence: response.Confidence,
				Source:     name,
				AddedAt:    time.Now(),
			}
			if err := o.Spotlight.AddToSpotlight(ctx, queryID, engineEpistemicLevel(name), fact); err != nil {
				o.logger.Warn().Err(err).Str("engine", name).Msg("spotlight add_to_spotlight failed")
			}
		}

		if err == nil && response.Passed && response.Answer != "" && response.Confidence >= threshold {
			return &cascadeWin{name: name, response: response}, attempts
		}
	}

	return nil, attempts
}

func (o *Orchestrator) attempt(ctx context.Context, eng engine.InferenceEngine, req engine.InferenceRequest) (types.LayerAttempt, engine.InferenceResponse, error) {
	timer := metrics.NewTimer()
	callCtx := ctx
	var cancel context.CancelFunc
	if o.LayerTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, o.LayerTimeout)
		defer cancel()
	}

	response, err := eng.Query(callCtx, req)
	timer.ObserveDurationVec(metrics.LayerLatency, eng.Name())

	outcome := "miss"
	attempt := types.LayerAttempt{
		EngineName: eng.Name(),
		Threshold:  req.Threshold,
		Confidence: response.Confidence,
		Passed:     response.Passed && err == nil,
		LatencyMS:  response.LatencyMS,
	}
	if err != nil {
		attempt.Error = err.Error()
		attempt.Passed = false
		outcome = "error"
	} else if attempt.Passed {
		outcome = "pass"
	}
	metrics.LayerAttemptsTotal.WithLabelValues(eng.Name(), outcome).Inc()

	return attempt, response, err
}

// engineEpistemicLevel maps a cascade layer's engine name to the spotlight
// tier its answers should be checked at: grains are crystallised, vetted
// facts (empirical), cartridge hits are asserted domain knowledge (axiom),
// and anything heavier in the cascade is progressively less certain.
func engineEpistemicLevel(engineName string) types.EpistemicLevel {
	switch engineName {
	case "GRAIN":
		return types.LevelEmpirical
	case "CARTRIDGE":
		return types.LevelAxiom
	case "BITNET":
		return types.LevelNarrative
	case "SPECIALIST":
		return types.LevelIntent
	default:
		return types.LevelHeuristic
	}
}

// queryPatternHash hashes a lowercased, whitespace-stripped query so
// equivalent-but-reformatted queries reinforce the same resonance entry.
func queryPatternHash(text string) string {
	normalized := strings.Join(strings.Fields(strings.ToLower(text)), " ")
	sum := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(sum[:])
}
