package draft

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisStore is a Redis-backed Store. Drafts are JSON values whose TTL is
// refreshed on every update; Redis expires them, so Purge has nothing to do.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	now    func() time.Time
}

// NewRedisStore creates a Redis-backed draft store. Keys are prefix followed
// by "{stage}:{actor}".
func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, now: time.Now}
}

func (s *RedisStore) key(k Key) string {
	return s.prefix + k.String()
}

// Get loads a draft.
func (s *RedisStore) Get(ctx context.Context, key Key) (*Draft, bool, error) {
	raw, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", s.key(key), err)
	}

	var d Draft
	if err := json.Unmarshal(raw, &d); err != nil {
		return nil, false, fmt.Errorf("unmarshal draft %s: %w", key, err)
	}
	return &d, true, nil
}

// Update writes d inside a WATCH transaction so concurrent writers cannot
// both pass the version check.
func (s *RedisStore) Update(ctx context.Context, d *Draft) error {
	rkey := s.key(d.Key)
	now := s.now()
	next := *d
	next.Version = d.Version + 1
	next.UpdatedAt = now
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("marshal draft %s: %w", d.Key, err)
	}

	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := storedVersion(ctx, tx, rkey)
		if err != nil {
			return err
		}
		if current != d.Version {
			return conflict(d.Key)
		}
		_, err = tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.Set(ctx, rkey, payload, s.ttl)
			return nil
		})
		return err
	}, rkey)
	if errors.Is(err, redis.TxFailedErr) {
		return conflict(d.Key)
	}
	if err != nil {
		return err
	}

	d.Version = next.Version
	d.UpdatedAt = now
	return nil
}

func storedVersion(ctx context.Context, tx *redis.Tx, key string) (int64, error) {
	raw, err := tx.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("redis get %q: %w", key, err)
	}
	var v struct {
		Version int64 `json:"version"`
	}
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, fmt.Errorf("unmarshal draft version %q: %w", key, err)
	}
	return v.Version, nil
}

// Delete removes a draft.
func (s *RedisStore) Delete(ctx context.Context, key Key) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("redis del %q: %w", s.key(key), err)
	}
	return nil
}

// Purge is a no-op: Redis expires keys itself.
func (s *RedisStore) Purge(context.Context) (int, error) { return 0, nil }

// HealthCheck pings Redis.
func (s *RedisStore) HealthCheck(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
