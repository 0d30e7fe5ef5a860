package engine

import (
	"context"
	"time"

	"github.com/cuemby/kitbash/pkg/cartridge"
)

// CartridgeEngine answers by keyword search over one or more cartridges:
// layer 1 of the cascade.
type CartridgeEngine struct {
	stores  map[string]cartridge.Store
	tracker *FailureTracker
}

// NewCartridgeEngine wires a name-keyed set of open cartridges.
func NewCartridgeEngine(stores map[string]cartridge.Store) *CartridgeEngine {
	return &CartridgeEngine{
		stores:  stores,
		tracker: NewFailureTracker(5, 15),
	}
}

func (e *CartridgeEngine) Name() string { return "CARTRIDGE" }

func (e *CartridgeEngine) Query(ctx context.Context, req InferenceRequest) (InferenceResponse, error) {
	start := time.Now()

	names := req.Cartridges
	if len(names) == 0 {
		for n := range e.stores {
			names = append(names, n)
		}
	}

	terms := cartridge.Tokenize(req.Text)

	var bestAnswer string
	var bestConfidence float64
	var bestFactID int64
	var bestCartridge string
	var found bool

	for _, name := range names {
		store, ok := e.stores[name]
		if !ok {
			continue
		}
		ids, err := store.Query(terms)
		if err != nil {
			e.tracker.RecordFailure()
			return InferenceResponse{Passed: false, LatencyMS: timeSince(start)}, err
		}
		if len(ids) == 0 {
			continue
		}
		fact, ann, err := store.GetFact(ids[0])
		if err != nil || fact == nil {
			continue
		}
		if !found || ann.Confidence > bestConfidence {
			bestAnswer = fact.Content
			bestConfidence = ann.Confidence
			bestFactID = ids[0]
			bestCartridge = name
			found = true
		}
	}

	e.tracker.RecordSuccess()

	if !found || bestConfidence < req.Threshold {
		return InferenceResponse{Passed: false, Confidence: bestConfidence, LatencyMS: timeSince(start)}, nil
	}

	return InferenceResponse{
		Answer:        bestAnswer,
		Confidence:    bestConfidence,
		Passed:        true,
		LatencyMS:     timeSince(start),
		FactID:        bestFactID,
		CartridgeName: bestCartridge,
	}, nil
}

func (e *CartridgeEngine) Health() HealthReport { return e.tracker.Report() }
