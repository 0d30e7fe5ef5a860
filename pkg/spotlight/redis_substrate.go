package spotlight

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/cuemby/kitbash/pkg/types"
	"github.com/redis/go-redis/v9"
)

// redisSubstrate stores each query's workspace under a family of keys
// rooted at "spotlight:<id>": ":meta", ":events", ":deltas" and
// ":level:<L>" for each epistemic tier.
type redisSubstrate struct {
	client *redis.Client
}

func metaKey(id string) string   { return "spotlight:" + id + ":meta" }
func eventsKey(id string) string { return "spotlight:" + id + ":events" }
func deltasKey(id string) string { return "spotlight:" + id + ":deltas" }
func levelKey(id string, level types.EpistemicLevel) string {
	return "spotlight:" + id + ":level:" + string(level)
}

func (r *redisSubstrate) SetMetadata(ctx context.Context, id string, m Metadata, ttl time.Duration) error {
	data, err := marshalJSON(m)
	if err != nil {
		return err
	}
	return r.client.Set(ctx, metaKey(id), data, ttl).Err()
}

func (r *redisSubstrate) GetMetadata(ctx context.Context, id string) (Metadata, bool, error) {
	data, err := r.client.Get(ctx, metaKey(id)).Result()
	if err == redis.Nil {
		return Metadata{}, false, nil
	}
	if err != nil {
		return Metadata{}, false, err
	}
	var m Metadata
	if err := json.Unmarshal([]byte(data), &m); err != nil {
		return Metadata{}, false, err
	}
	return m, true, nil
}

func (r *redisSubstrate) Delete(ctx context.Context, id string) error {
	keys := []string{metaKey(id), eventsKey(id), deltasKey(id)}
	for _, level := range []types.EpistemicLevel{
		types.LevelEmpirical, types.LevelAxiom, types.LevelNarrative,
		types.LevelHeuristic, types.LevelIntent, types.LevelMask,
	} {
		keys = append(keys, levelKey(id, level))
	}
	return r.client.Del(ctx, keys...).Err()
}

func (r *redisSubstrate) PushFact(ctx context.Context, id string, level types.EpistemicLevel, fact types.SpotlightFact, ttl time.Duration) error {
	data, err := marshalJSON(fact)
	if err != nil {
		return err
	}
	key := levelKey(id, level)
	pipe := r.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisSubstrate) ListFacts(ctx context.Context, id string, level types.EpistemicLevel, limit int) ([]types.SpotlightFact, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	raw, err := r.client.LRange(ctx, levelKey(id, level), 0, stop).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.SpotlightFact, 0, len(raw))
	for _, s := range raw {
		var f types.SpotlightFact
		if err := json.Unmarshal([]byte(s), &f); err == nil {
			out = append(out, f)
		}
	}
	return out, nil
}

func (r *redisSubstrate) RemoveFact(ctx context.Context, id string, level types.EpistemicLevel, factID int64) error {
	facts, err := r.ListFacts(ctx, id, level, 0)
	if err != nil {
		return err
	}
	key := levelKey(id, level)
	for _, f := range facts {
		if f.ID == factID {
			data, err := marshalJSON(f)
			if err != nil {
				return err
			}
			return r.client.LRem(ctx, key, 1, data).Err()
		}
	}
	return nil
}

func (r *redisSubstrate) ClearLevel(ctx context.Context, id string, level types.EpistemicLevel) error {
	return r.client.Del(ctx, levelKey(id, level)).Err()
}

func (r *redisSubstrate) PushEvent(ctx context.Context, id string, e types.SpotlightEvent, ttl time.Duration) error {
	data, err := marshalJSON(e)
	if err != nil {
		return err
	}
	key := eventsKey(id)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisSubstrate) ListEvents(ctx context.Context, id string) ([]types.SpotlightEvent, error) {
	raw, err := r.client.LRange(ctx, eventsKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.SpotlightEvent, 0, len(raw))
	for _, s := range raw {
		var e types.SpotlightEvent
		if err := json.Unmarshal([]byte(s), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (r *redisSubstrate) PushDelta(ctx context.Context, id string, d types.CouplingDelta, ttl time.Duration) error {
	data, err := marshalJSON(d)
	if err != nil {
		return err
	}
	key := deltasKey(id)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, data)
	pipe.Expire(ctx, key, ttl)
	_, err = pipe.Exec(ctx)
	return err
}

func (r *redisSubstrate) ListDeltas(ctx context.Context, id string) ([]types.CouplingDelta, error) {
	raw, err := r.client.LRange(ctx, deltasKey(id), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	out := make([]types.CouplingDelta, 0, len(raw))
	for _, s := range raw {
		var d types.CouplingDelta
		if err := json.Unmarshal([]byte(s), &d); err == nil {
			out = append(out, d)
		}
	}
	return out, nil
}

// couplingCheckScript atomically reads both layers' fact lists for a query
// and returns them as a pair. The contradiction predicate is evaluated in
// Go, outside the script, against the returned lists — the script's role
// is only to guarantee the two LRANGE reads are consistent with any
// concurrent PushFact.
var couplingCheckScript = redis.NewScript(`
local a = redis.call('LRANGE', KEYS[1], 0, -1)
local b = redis.call('LRANGE', KEYS[2], 0, -1)
return {a, b}
`)

// FetchLayerPair atomically reads both layers' fact lists for a coupling
// check, so a concurrent write can't be observed as present on one side and
// absent on the other.
func (r *redisSubstrate) FetchLayerPair(ctx context.Context, id string, layerA, layerB types.EpistemicLevel) ([]types.SpotlightFact, []types.SpotlightFact, error) {
	res, err := couplingCheckScript.Run(ctx, r.client, []string{levelKey(id, layerA), levelKey(id, layerB)}).Result()
	if err != nil {
		return nil, nil, fmt.Errorf("spotlight: coupling script: %w", err)
	}
	rows, ok := res.([]any)
	if !ok || len(rows) != 2 {
		return nil, nil, fmt.Errorf("spotlight: unexpected coupling script result shape")
	}
	return decodeFactRows(rows[0]), decodeFactRows(rows[1]), nil
}

func decodeFactRows(v any) []types.SpotlightFact {
	raw, ok := v.([]any)
	if !ok {
		return nil
	}
	out := make([]types.SpotlightFact, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			continue
		}
		var f types.SpotlightFact
		if err := json.Unmarshal([]byte(s), &f); err == nil {
			out = append(out, f)
		}
	}
	return out
}
