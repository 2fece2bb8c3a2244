package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"suiverify/internal/otp/models"
)

const (
	// DefaultKeyPrefix namespaces OTP records in a shared Redis.
	DefaultKeyPrefix = "otp:"
	// ExpiryGrace keeps a record readable briefly past its expiry so that a
	// late verification reports "expired" rather than "not found".
	ExpiryGrace = time.Minute

	maxTxRetries = 4
)

// RedisStore keeps records as JSON values with a TTL. Update runs inside
// WATCH/MULTI and retries when a concurrent writer touches the key.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	now    func() time.Time
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		s.prefix = prefix
	}
}

func WithClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client: client,
		prefix: DefaultKeyPrefix,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *RedisStore) Get(ctx context.Context, key string) (*models.Record, error) {
	rec, err := load(ctx, s.client, s.prefix+key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if rec == nil {
		return nil, ErrNotFound
	}
	return rec, nil
}

func (s *RedisStore) Update(ctx context.Context, key string, fn UpdateFunc) error {
	rkey := s.prefix + key
	for attempt := 0; attempt < maxTxRetries; attempt++ {
		var fnErr error
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			current, err := load(ctx, tx, rkey)
			if err != nil {
				return err
			}
			change, err := fn(current)
			fnErr = err
			return s.apply(ctx, tx, rkey, change)
		}, rkey)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		return fnErr
	}
	return fmt.Errorf("%w: transaction retries exhausted", ErrUnavailable)
}

func (s *RedisStore) apply(ctx context.Context, tx *redis.Tx, rkey string, change Change) error {
	if !change.Delete && change.Save == nil {
		return nil
	}
	var payload []byte
	var ttl time.Duration
	if !change.Delete {
		ttl = change.Save.ExpiresAt.Sub(s.now()) + ExpiryGrace
		if ttl > 0 {
			var err error
			if payload, err = json.Marshal(change.Save); err != nil {
				return fmt.Errorf("encode otp record: %w", err)
			}
		}
	}
	_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		if payload == nil {
			pipe.Del(ctx, rkey)
			return nil
		}
		pipe.Set(ctx, rkey, payload, ttl)
		return nil
	})
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func load(ctx context.Context, c getter, rkey string) (*models.Record, error) {
	raw, err := c.Get(ctx, rkey).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var rec models.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode otp record: %w", err)
	}
	return &rec, nil
}
