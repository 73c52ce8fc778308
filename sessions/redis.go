package sessions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var _ Store = (*RedisStore)(nil)

// redisEnvelope is the stored representation: the session blob plus the
// version CompareAndSwap checks against.
type redisEnvelope struct {
	Version uint64       `json:"version"`
	Session *UserSession `json:"session"`
}

// RedisStore implements Store on a (possibly replicated) Redis deployment.
// CompareAndSwap uses an optimistic WATCH transaction, so concurrent
// refreshes from two nodes resolve to exactly one winner.
type RedisStore struct {
	client    redis.UniversalClient
	keyPrefix string
	ttl       time.Duration
}

type RedisStoreOption func(*RedisStore)

// WithKeyPrefix overrides the default "realmkit:sessions" key prefix.
func WithKeyPrefix(prefix string) RedisStoreOption {
	return func(rs *RedisStore) {
		rs.keyPrefix = prefix
	}
}

// WithTTL bounds how long session entries live in Redis. Zero means no
// expiry; session validity is enforced by the token core either way.
func WithTTL(ttl time.Duration) RedisStoreOption {
	return func(rs *RedisStore) {
		rs.ttl = ttl
	}
}

func NewRedisStore(client redis.UniversalClient, options ...RedisStoreOption) *RedisStore {
	rs := &RedisStore{
		client:    client,
		keyPrefix: "realmkit:sessions",
	}
	for _, opt := range options {
		opt(rs)
	}
	return rs
}

func (rs *RedisStore) key(kind Kind, sessionID string) string {
	return fmt.Sprintf("%s:%s:%s", rs.keyPrefix, kind, sessionID)
}

func (rs *RedisStore) Get(ctx context.Context, kind Kind, sessionID string) (*UserSession, uint64, error) {
	data, err := rs.client.Get(ctx, rs.key(kind, sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, 0, ErrNotFound
	}
	if err != nil {
		return nil, 0, fmt.Errorf("session get: %w", err)
	}

	var envelope redisEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, 0, fmt.Errorf("session decode: %w", err)
	}
	return envelope.Session, envelope.Version, nil
}

func (rs *RedisStore) Put(ctx context.Context, kind Kind, session *UserSession) error {
	key := rs.key(kind, session.ID)

	// The version still has to advance on unconditional writes, so a Put
	// racing a CompareAndSwap invalidates the CAS snapshot.
	err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
		version := uint64(0)
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if err == nil {
			var envelope redisEnvelope
			if err := json.Unmarshal(data, &envelope); err == nil {
				version = envelope.Version
			}
		}

		payload, err := json.Marshal(redisEnvelope{Version: version + 1, Session: session})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, rs.ttl)
			return nil
		})
		return err
	}, key)
	if err != nil {
		return fmt.Errorf("session put: %w", err)
	}
	return nil
}

func (rs *RedisStore) CompareAndSwap(ctx context.Context, kind Kind, expectedVersion uint64, session *UserSession) (bool, error) {
	key := rs.key(kind, session.ID)
	swapped := false

	err := rs.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var envelope redisEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("session decode: %w", err)
		}
		if envelope.Version != expectedVersion {
			return nil
		}

		payload, err := json.Marshal(redisEnvelope{Version: expectedVersion + 1, Session: session})
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, rs.ttl)
			return nil
		})
		if err == nil {
			swapped = true
		}
		return err
	}, key)

	if errors.Is(err, redis.TxFailedErr) {
		// Another writer touched the key mid-transaction.
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return swapped, nil
}

func (rs *RedisStore) Remove(ctx context.Context, kind Kind, sessionID string) error {
	if err := rs.client.Del(ctx, rs.key(kind, sessionID)).Err(); err != nil {
		return fmt.Errorf("session remove: %w", err)
	}
	return nil
}
