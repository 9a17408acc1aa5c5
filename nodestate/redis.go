package nodestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"floorcore/config"
)

const keyPrefix = "floorcore:"

func unitKey(id string) string      { return keyPrefix + "unit:" + id }
func inventoryKey(id string) string { return keyPrefix + "inventory:" + id }
func unitSetKey() string            { return keyPrefix + "units" }

// RedisStore keeps unit meta and warehouse inventory as JSON strings.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(cfg *config.RedisConfig) *RedisStore {
	return &RedisStore{client: redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})}
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) PutUnit(ctx context.Context, state *UnitState) error {
	meta, err := json.Marshal(state.UnitMeta)
	if err != nil {
		return err
	}
	items, err := json.Marshal(state.Items)
	if err != nil {
		return err
	}
	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, unitKey(state.UnitID), meta, 0)
		if state.Kind == "warehouse" {
			pipe.Set(ctx, inventoryKey(state.UnitID), items, 0)
		}
		pipe.SAdd(ctx, unitSetKey(), state.UnitID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("put unit %s: %w", state.UnitID, err)
	}
	return nil
}

// GetUnit returns nil, nil when the unit is not mirrored.
func (r *RedisStore) GetUnit(ctx context.Context, id string) (*UnitState, error) {
	raw, err := r.client.Get(ctx, unitKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	state := &UnitState{}
	if err := json.Unmarshal(raw, &state.UnitMeta); err != nil {
		return nil, fmt.Errorf("decode unit %s: %w", id, err)
	}
	inv, err := r.client.Get(ctx, inventoryKey(id)).Bytes()
	switch {
	case errors.Is(err, redis.Nil):
	case err != nil:
		return nil, err
	default:
		if err := json.Unmarshal(inv, &state.Items); err != nil {
			return nil, fmt.Errorf("decode inventory %s: %w", id, err)
		}
	}
	return state, nil
}

func (r *RedisStore) RemoveUnit(ctx context.Context, id string) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, unitKey(id), inventoryKey(id))
		pipe.SRem(ctx, unitSetKey(), id)
		return nil
	})
	return err
}

func (r *RedisStore) UnitIDs(ctx context.Context) ([]string, error) {
	return r.client.SMembers(ctx, unitSetKey()).Result()
}

// Clear removes every mirrored unit. Called on startup.
func (r *RedisStore) Clear(ctx context.Context) error {
	ids, err := r.UnitIDs(ctx)
	if err != nil {
		return err
	}
	keys := []string{unitSetKey()}
	for _, id := range ids {
		keys = append(keys, unitKey(id), inventoryKey(id))
	}
	return r.client.Del(ctx, keys...).Err()
}
