package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"qrattend/internal/attendance"
)

const maxWatchRetries = 64

// appendScript inserts a record only if its code is free and records the
// insertion order in the same atomic step.
var appendScript = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 1 then
	redis.call('RPUSH', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// RedisStore keeps records as JSON in a hash keyed by code plus a list of
// codes in insertion order. Each update also bumps a per-code version key,
// which is what concurrent updates of the same code conflict on.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	hashKey  string
	orderKey string
	ownsConn bool
}

// NewRedisStore uses client with keys under prefix.
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "attendance"
	}
	return &RedisStore{
		client:   client,
		prefix:   prefix,
		hashKey:  prefix + ":records",
		orderKey: prefix + ":order",
	}
}

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStore) LoadAll(ctx context.Context) ([]attendance.Record, error) {
	var (
		order *redis.StringSliceCmd
		all   *redis.MapStringStringCmd
	)
	// one MULTI so the order list and the hash come from the same snapshot
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		order = pipe.LRange(ctx, s.orderKey, 0, -1)
		all = pipe.HGetAll(ctx, s.hashKey)
		return nil
	})
	if err != nil {
		return nil, attendance.Unavailable("redis: load", err)
	}
	byCode := all.Val()
	records := make([]attendance.Record, 0, len(order.Val()))
	for _, code := range order.Val() {
		raw, ok := byCode[code]
		if !ok {
			continue
		}
		var rec attendance.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, attendance.Unavailable("redis: parse "+code, err)
		}
		records = append(records, rec)
	}
	return records, nil
}

func (s *RedisStore) ListAll(ctx context.Context) ([]attendance.Record, error) {
	return s.LoadAll(ctx)
}

func (s *RedisStore) FindByCode(ctx context.Context, code string) (attendance.Record, error) {
	raw, err := s.client.HGet(ctx, s.hashKey, code).Result()
	if errors.Is(err, redis.Nil) {
		return attendance.Record{}, attendance.ErrNotFound
	}
	if err != nil {
		return attendance.Record{}, attendance.Unavailable("redis: find", err)
	}
	var rec attendance.Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return attendance.Record{}, attendance.Unavailable("redis: parse "+code, err)
	}
	return rec, nil
}

func (s *RedisStore) Append(ctx context.Context, rec attendance.Record) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("redis: encode: %w", err)
	}
	added, err := appendScript.Run(ctx, s.client, []string{s.hashKey, s.orderKey}, rec.Code, string(payload)).Int()
	if err != nil {
		return attendance.Unavailable("redis: append", err)
	}
	if added == 0 {
		return attendance.ErrDuplicateCode
	}
	return nil
}

func (s *RedisStore) versionKey(code string) string {
	return s.prefix + ":ver:" + code
}

// Update runs an optimistic WATCH/MULTI cycle on the code's version key,
// retrying when another update of the same code committed in between.
// Appends of other codes do not touch the key and never force a retry.
func (s *RedisStore) Update(ctx context.Context, code string, patch attendance.Patch) (attendance.Record, error) {
	var out attendance.Record
	verKey := s.versionKey(code)
	txf := func(tx *redis.Tx) error {
		raw, err := tx.HGet(ctx, s.hashKey, code).Result()
		if errors.Is(err, redis.Nil) {
			return attendance.ErrNotFound
		}
		if err != nil {
			return err
		}
		var rec attendance.Record
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return attendance.Unavailable("redis: parse "+code, err)
		}
		if err := patch.Apply(&rec); err != nil {
			return err
		}
		payload, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("redis: encode: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, s.hashKey, code, string(payload))
			pipe.Incr(ctx, verKey)
			return nil
		})
		if err != nil {
			return err
		}
		out = rec
		return nil
	}

	for i := 0; i < maxWatchRetries; i++ {
		err := s.client.Watch(ctx, txf, verKey)
		switch {
		case err == nil:
			return out, nil
		case errors.Is(err, redis.TxFailedErr):
			continue
		case errors.Is(err, attendance.ErrNotFound),
			errors.Is(err, attendance.ErrAlreadyCheckedOut),
			errors.Is(err, attendance.ErrStorageUnavailable):
			return attendance.Record{}, err
		default:
			return attendance.Record{}, attendance.Unavailable("redis: update", err)
		}
	}
	return attendance.Record{}, attendance.Unavailable("redis: update", fmt.Errorf("too much contention on %s", code))
}

// Close closes the client if the store opened it.
func (s *RedisStore) Close() error {
	if s.ownsConn {
		return s.client.Close()
	}
	return nil
}
