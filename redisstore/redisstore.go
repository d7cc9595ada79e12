// Package redisstore keeps collector traces in Redis.
//
// Each trace is a JSON string under checkpoint:trace:{org}:{id}. A sorted
// set checkpoint:traces:{org}, scored by creation time in milliseconds,
// indexes an org's traces.
package redisstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	"github.com/rs/xid"

	"github.com/meikuraledutech/checkpoint/collector"
)

const keyPrefix = "checkpoint:"

// Store implements collector.Store on a Redis client.
type Store struct {
	client *redis.Client
	now    func() time.Time
}

// New wraps an existing client.
func New(client *redis.Client) *Store {
	return &Store{client: client, now: time.Now}
}

// Open connects to redisURL and checks the connection.
func Open(ctx context.Context, redisURL string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("collector: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("collector: connect to redis: %w", err)
	}
	return New(client), nil
}

// Close closes the underlying client.
func (s *Store) Close() error { return s.client.Close() }

func traceKey(org, id string) string { return keyPrefix + "trace:" + org + ":" + id }

func indexKey(org string) string { return keyPrefix + "traces:" + org }

// CreateSchema only checks the connection; Redis needs no schema.
func (s *Store) CreateSchema(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// DropSchema deletes every checkpoint key.
func (s *Store) DropSchema(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, keyPrefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("collector: scan keys: %w", err)
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

// CreateTrace writes the trace and indexes it under its org.
func (s *Store) CreateTrace(ctx context.Context, t *collector.Trace) (*collector.Trace, error) {
	if t.ID == "" {
		t.ID = xid.New().String()
	}
	now := s.now().UTC()
	t.CreatedAt, t.UpdatedAt = now, now

	data, err := sonic.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("collector: marshal trace: %w", err)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, traceKey(t.Org, t.ID), data, 0)
		pipe.ZAdd(ctx, indexKey(t.Org), redis.Z{Score: float64(now.UnixMilli()), Member: t.ID})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("collector: insert trace: %w", err)
	}
	return t, nil
}

// GetTrace returns nil, nil if not found.
func (s *Store) GetTrace(ctx context.Context, org, id string) (*collector.Trace, error) {
	data, err := s.client.Get(ctx, traceKey(org, id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("collector: get trace: %w", err)
	}
	var t collector.Trace
	if err := sonic.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("collector: unmarshal trace: %w", err)
	}
	return &t, nil
}

// UpdateTrace compares versions and writes inside a WATCH transaction so
// concurrent writers cannot regress a trace.
func (s *Store) UpdateTrace(ctx context.Context, t *collector.Trace) (bool, error) {
	key := traceKey(t.Org, t.ID)
	applied := false

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return collector.ErrTraceNotFound
		}
		if err != nil {
			return err
		}
		var existing collector.Trace
		if err := sonic.Unmarshal(data, &existing); err != nil {
			return fmt.Errorf("unmarshal trace: %w", err)
		}
		if t.Version <= existing.Version {
			return nil
		}

		t.CreatedAt = existing.CreatedAt
		t.UpdatedAt = s.now().UTC()
		updated, err := sonic.Marshal(t)
		if err != nil {
			return fmt.Errorf("marshal trace: %w", err)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, updated, 0)
			return nil
		})
		if err == nil {
			applied = true
		}
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, collector.ErrTraceNotFound) {
			return false, err
		}
		if err != nil {
			return false, fmt.Errorf("collector: update trace: %w", err)
		}
		return applied, nil
	}
	return false, fmt.Errorf("collector: update trace: %w", redis.TxFailedErr)
}

// DeleteTrace removes a trace and its index entry. No error if it doesn't exist.
func (s *Store) DeleteTrace(ctx context.Context, org, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, traceKey(org, id))
		pipe.ZRem(ctx, indexKey(org), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("collector: delete trace: %w", err)
	}
	return nil
}

// ListTraces returns the org's traces without their execution trees.
func (s *Store) ListTraces(ctx context.Context, org string) ([]collector.Trace, error) {
	ids, err := s.client.ZRange(ctx, indexKey(org), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("collector: list traces: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = traceKey(org, id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("collector: list traces: %w", err)
	}

	traces := make([]collector.Trace, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var t collector.Trace
		if err := sonic.UnmarshalString(raw, &t); err != nil {
			return nil, fmt.Errorf("collector: unmarshal trace: %w", err)
		}
		t.RawExecution = ""
		traces = append(traces, t)
	}
	return traces, nil
}
