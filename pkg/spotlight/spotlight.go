// Package spotlight is the per-query epistemic workspace: six
// confidence-tiered fact lists, an event log and a coupling-delta log, all
// keyed by query id and expiring via TTL. Backed by Redis when available,
// with an in-memory fallback so a query can still be processed if the
// substrate is down.
package spotlight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/kitbash/pkg/log"
	"github.com/cuemby/kitbash/pkg/types"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const defaultTTL = time.Hour

// Status is a query's lifecycle position within the spotlight.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Metadata is the per-query record backing create_query/destroy_query.
type Metadata struct {
	QueryID   string    `json:"query_id"`
	Text      string    `json:"text"`
	Status    Status    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Substrate is the key/value backend the Spotlight writes through. Redis
// is the production implementation; memorySubstrate is the fallback.
type Substrate interface {
	SetMetadata(ctx context.Context, id string, m Metadata, ttl time.Duration) error
	GetMetadata(ctx context.Context, id string) (Metadata, bool, error)
	Delete(ctx context.Context, id string) error

	PushFact(ctx context.Context, id string, level types.EpistemicLevel, fact types.SpotlightFact, ttl time.Duration) error
	ListFacts(ctx context.Context, id string, level types.EpistemicLevel, limit int) ([]types.SpotlightFact, error)
	RemoveFact(ctx context.Context, id string, level types.EpistemicLevel, factID int64) error
	ClearLevel(ctx context.Context, id string, level types.EpistemicLevel) error

	PushEvent(ctx context.Context, id string, e types.SpotlightEvent, ttl time.Duration) error
	ListEvents(ctx context.Context, id string) ([]types.SpotlightEvent, error)

	PushDelta(ctx context.Context, id string, d types.CouplingDelta, ttl time.Duration) error
	ListDeltas(ctx context.Context, id string) ([]types.CouplingDelta, error)

	// FetchLayerPair atomically reads two epistemic levels' fact lists, so
	// the coupling validator never compares a stale read of one layer
	// against a fresh read of the other.
	FetchLayerPair(ctx context.Context, id string, layerA, layerB types.EpistemicLevel) ([]types.SpotlightFact, []types.SpotlightFact, error)
}

// Substrate returns the backing substrate, for the coupling validator.
func (s *Spotlight) Substrate() Substrate { return s.substrate }

// Spotlight is the public API the orchestrator and coupling validator use.
type Spotlight struct {
	logger    zerolog.Logger
	substrate Substrate
	ttl       time.Duration
}

// New wraps any Substrate with the default TTL (0 uses the spec default of
// 1 hour).
func New(substrate Substrate, ttl time.Duration) *Spotlight {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Spotlight{logger: log.WithComponent("spotlight"), substrate: substrate, ttl: ttl}
}

// NewRedis connects to addr and returns a Spotlight backed by it. If Redis
// does not answer a ping, it logs one warning and returns an in-memory
// Spotlight instead, so queries can still be processed.
func NewRedis(addr string, db int, password string, ttl time.Duration) *Spotlight {
	client := redis.NewClient(&redis.Options{Addr: addr, DB: db, Password: password})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		s := NewInMemory(ttl)
		s.logger.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, using in-memory spotlight")
		return s
	}
	return New(&redisSubstrate{client: client}, ttl)
}

// NewInMemory returns a Spotlight backed by an in-process map, for when the
// Redis substrate is unavailable.
func NewInMemory(ttl time.Duration) *Spotlight {
	return New(newMemorySubstrate(), ttl)
}

// CreateQuery registers a new query workspace under a freshly generated id.
func (s *Spotlight) CreateQuery(ctx context.Context, text string) (string, error) {
	id := uuid.NewString()
	if err := s.CreateQueryWithID(ctx, id, text); err != nil {
		return "", err
	}
	return id, nil
}

// CreateQueryWithID registers a new query workspace under a caller-supplied
// id, so a query's spotlight entries share the same id as its diagnostics
// and log correlation rather than minting a second, unrelated uuid.
func (s *Spotlight) CreateQueryWithID(ctx context.Context, id, text string) error {
	m := Metadata{QueryID: id, Text: text, Status: StatusPending, CreatedAt: time.Now()}
	if err := s.substrate.SetMetadata(ctx, id, m, s.ttl); err != nil {
		return fmt.Errorf("spotlight: create_query: %w", err)
	}
	return nil
}

// QueryExists reports whether id's metadata is still present (false once
// its TTL has expired).
func (s *Spotlight) QueryExists(ctx context.Context, id string) bool {
	_, ok, err := s.substrate.GetMetadata(ctx, id)
	return err == nil && ok
}

// SetStatus transitions a query's status.
func (s *Spotlight) SetStatus(ctx context.Context, id string, status Status) error {
	m, ok, err := s.substrate.GetMetadata(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("spotlight: unknown query %s", id)
	}
	m.Status = status
	return s.substrate.SetMetadata(ctx, id, m, s.ttl)
}

// AddToSpotlight appends fact to the given epistemic level's list.
func (s *Spotlight) AddToSpotlight(ctx context.Context, id string, level types.EpistemicLevel, fact types.SpotlightFact) error {
	return s.substrate.PushFact(ctx, id, level, fact, s.ttl)
}

// GetSpotlight returns up to limit facts for a level (0 means no limit).
func (s *Spotlight) GetSpotlight(ctx context.Context, id string, level types.EpistemicLevel, limit int) ([]types.SpotlightFact, error) {
	if !s.QueryExists(ctx, id) {
		return nil, nil
	}
	return s.substrate.ListFacts(ctx, id, level, limit)
}

// RemoveFromSpotlight removes one fact from a level's list.
func (s *Spotlight) RemoveFromSpotlight(ctx context.Context, id string, level types.EpistemicLevel, factID int64) error {
	return s.substrate.RemoveFact(ctx, id, level, factID)
}

// ClearSpotlight empties one level's list.
func (s *Spotlight) ClearSpotlight(ctx context.Context, id string, level types.EpistemicLevel) error {
	return s.substrate.ClearLevel(ctx, id, level)
}

// LogEvent appends an event to the query's event log.
func (s *Spotlight) LogEvent(ctx context.Context, id, eventType string, fields map[string]any) error {
	e := types.SpotlightEvent{EventID: uuid.NewString(), Timestamp: time.Now(), Type: eventType, Fields: fields}
	return s.substrate.PushEvent(ctx, id, e, s.ttl)
}

// GetEvents returns every logged event for a query.
func (s *Spotlight) GetEvents(ctx context.Context, id string) ([]types.SpotlightEvent, error) {
	return s.substrate.ListEvents(ctx, id)
}

// RecordDelta appends a coupling delta to the query's delta log.
func (s *Spotlight) RecordDelta(ctx context.Context, id string, d types.CouplingDelta) error {
	if d.DeltaID == "" {
		d.DeltaID = uuid.NewString()
	}
	if d.Timestamp.IsZero() {
		d.Timestamp = time.Now()
	}
	return s.substrate.PushDelta(ctx, id, d, s.ttl)
}

// GetDeltasBySeverity returns every delta for a query whose severity is at
// least minSeverity in the PASS < LOW < MEDIUM < HIGH < CRITICAL order.
func (s *Spotlight) GetDeltasBySeverity(ctx context.Context, id string, minSeverity types.CouplingSeverity) ([]types.CouplingDelta, error) {
	all, err := s.substrate.ListDeltas(ctx, id)
	if err != nil {
		return nil, err
	}
	minRank := types.SeverityRank[minSeverity]
	var out []types.CouplingDelta
	for _, d := range all {
		if types.SeverityRank[d.Severity] >= minRank {
			out = append(out, d)
		}
	}
	return out, nil
}

// DestroyQuery removes every key associated with id.
func (s *Spotlight) DestroyQuery(ctx context.Context, id string) error {
	return s.substrate.Delete(ctx, id)
}

// marshalJSON is shared by both substrate implementations.
func marshalJSON(v any) (string, error) {
	b, err := json.Marshal(v)
	return string(b), err
}
