// SPDX-License-Identifier: MIT

package admission

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/larderhq/larder/internal/log"
)

// RedisStore implements Store on Redis. SET NX PX gives the atomic
// conditional write; the PX expiry is the TTL fail-safe.
type RedisStore struct {
	client *redis.Client
	prefix string
	logger zerolog.Logger
}

// NewRedisStore creates a store using the caller's client. The prefix
// matches the broadcast topic prefix so one deployment's keys stay together.
func NewRedisStore(client *redis.Client, prefix string, logger *zerolog.Logger) *RedisStore {
	l := log.WithComponent("admission")
	if logger != nil {
		l = *logger
	}
	return &RedisStore{client: client, prefix: prefix, logger: l}
}

func (s *RedisStore) key(key string) string {
	return s.prefix + ":admission:" + key
}

// PutIfAbsent claims key for rec if no live record holds it.
func (s *RedisStore) PutIfAbsent(ctx context.Context, key string, rec Record, ttl time.Duration) (bool, error) {
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("encode admission record: %w", err)
	}
	ok, err := s.client.SetNX(ctx, s.key(key), payload, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("admission setnx: %w", err)
	}
	return ok, nil
}

// Get reads the live record under key.
func (s *RedisStore) Get(ctx context.Context, key string) (Record, bool, error) {
	payload, err := s.client.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, fmt.Errorf("admission get: %w", err)
	}
	var rec Record
	if err := json.Unmarshal(payload, &rec); err != nil {
		// A record we cannot decode is a record we cannot trust; surface it
		// so the caller retries rather than reporting a bogus job id.
		s.logger.Warn().
			Err(err).
			Str("event", "admission.record_corrupt").
			Str(log.FieldIdentity, key).
			Msg("dropping undecodable admission record")
		return Record{}, false, fmt.Errorf("decode admission record: %w", err)
	}
	return rec, true, nil
}

// Delete removes the record under key. Deleting a missing key is a no-op.
func (s *RedisStore) Delete(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.key(key)).Err(); err != nil {
		return fmt.Errorf("admission del: %w", err)
	}
	return nil
}
