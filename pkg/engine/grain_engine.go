package engine

import (
	"context"
	"time"

	"github.com/cuemby/kitbash/pkg/cartridge"
	"github.com/cuemby/kitbash/pkg/grain"
)

// GrainEngine answers directly from crystallised grains: layer 0 of the
// cascade, and by far the cheapest. It fronts one router/store pair per
// cartridge, so a query without a cartridge hint still gets checked against
// every loaded cartridge's grains.
type GrainEngine struct {
	routers map[string]*grain.Router
	stores  map[string]cartridge.Store
	tracker *FailureTracker
}

// NewGrainEngine wires a name-keyed set of grain routers to the cartridge
// stores they crystallised from, so a matched grain can be resolved back to
// its fact text.
func NewGrainEngine(routers map[string]*grain.Router, stores map[string]cartridge.Store) *GrainEngine {
	return &GrainEngine{
		routers: routers,
		stores:  stores,
		tracker: NewFailureTracker(3, 10),
	}
}

func (e *GrainEngine) Name() string { return "GRAIN" }

func (e *GrainEngine) Query(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	start := time.Now()

	names := req.Cartridges
	if len(names) == 0 {
		for n := range e.routers {
			names = append(names, n)
		}
	}

	terms := cartridge.Tokenize(req.Text)

	var bestFactID int64
	var bestConfidence float64
	var bestCartridge string
	found := false

	for _, name := range names {
		router, ok := e.routers[name]
		if !ok {
			continue
		}
		candidates := router.Search(terms)
		if len(candidates) == 0 {
			continue
		}
		if !found || candidates[0].Confidence > bestConfidence {
			bestFactID = candidates[0].FactID
			bestConfidence = candidates[0].Confidence
			bestCartridge = name
			found = true
		}
	}

	if !found {
		e.tracker.RecordSuccess()
		return InferenceResponse{Passed: false, LatencyMS: timeSince(start)}, nil
	}
	if bestConfidence < req.Threshold {
		e.tracker.RecordSuccess()
		return InferenceResponse{Passed: false, Confidence: bestConfidence, LatencyMS: timeSince(start)}, nil
	}

	store, ok := e.stores[bestCartridge]
	if !ok {
		e.tracker.RecordSuccess()
		return InferenceResponse{Passed: false, LatencyMS: timeSince(start)}, nil
	}
	fact, _, err := store.GetFact(bestFactID)
	if err != nil {
		e.tracker.RecordFailure()
		return InferenceResponse{Passed: false, LatencyMS: timeSince(start)}, err
	}

	e.tracker.RecordSuccess()
	return InferenceResponse{
		Answer:        fact.Content,
		Confidence:    bestConfidence,
		Passed:        true,
		LatencyMS:     timeSince(start),
		FactID:        bestFactID,
		CartridgeName: bestCartridge,
	}, nil
}

func (e *GrainEngine) Health() HealthReport { return e.tracker.Report() }
