package callstate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"
)

// ErrConflict is returned when optimistic Apply retries are exhausted.
var ErrConflict = errors.New("callstate: too many concurrent writers")

const (
	defaultRedisPrefix     = "session:"
	defaultRedisCASRetries = 64
)

// RedisStore persists sessions in Redis with native key expiry. Apply is a
// WATCH/MULTI compare-and-swap, so any number of processes may share it.
type RedisStore struct {
	client     redis.UniversalClient
	ttl        time.Duration
	prefix     string
	casRetries int
	now        func() time.Time
}

type RedisOption func(*RedisStore)

func WithKeyPrefix(prefix string) RedisOption {
	return func(s *RedisStore) {
		if prefix != "" {
			s.prefix = prefix
		}
	}
}

func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration, opts ...RedisOption) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &RedisStore{
		client:     client,
		ttl:        ttl,
		prefix:     defaultRedisPrefix,
		casRetries: defaultRedisCASRetries,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *RedisStore) key(callID string) string {
	return s.prefix + callID
}

func (s *RedisStore) Get(ctx context.Context, callID string) (CallSession, error) {
	if s == nil || s.client == nil {
		return CallSession{}, fmt.Errorf("%w: nil redis client", ErrUnavailable)
	}
	data, err := s.client.Get(ctx, s.key(callID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return CallSession{}, ErrNotFound
	}
	if err != nil {
		return CallSession{}, unavailable("redis get", err)
	}
	return decodeSession(data)
}

func (s *RedisStore) Create(ctx context.Context, callID string) (CallSession, error) {
	if s == nil || s.client == nil {
		return CallSession{}, fmt.Errorf("%w: nil redis client", ErrUnavailable)
	}
	sess := NewCallSession(callID, s.now())
	data, err := encodeSession(sess)
	if err != nil {
		return CallSession{}, err
	}
	ok, err := s.client.SetNX(ctx, s.key(callID), data, s.ttl).Result()
	if err != nil {
		return CallSession{}, unavailable("redis setnx", err)
	}
	if !ok {
		return CallSession{}, ErrAlreadyExists
	}
	return sess, nil
}

func (s *RedisStore) Apply(ctx context.Context, callID string, fn Mutation) (CallSession, error) {
	if s == nil || s.client == nil {
		return CallSession{}, fmt.Errorf("%w: nil redis client", ErrUnavailable)
	}
	key := s.key(callID)

	// Losing writers back off with jitter so a hot key does not starve one
	// of them.
	backoff := retry.WithMaxRetries(uint64(s.casRetries),
		retry.WithCappedDuration(20*time.Millisecond,
			retry.WithJitterPercent(50, retry.NewExponential(time.Millisecond))))

	var out CallSession
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		sess, err := s.applyOnce(ctx, key, fn)
		if errors.Is(err, redis.TxFailedErr) {
			return retry.RetryableError(err)
		}
		if err != nil {
			return err
		}
		out = sess
		return nil
	})
	if errors.Is(err, redis.TxFailedErr) {
		return CallSession{}, fmt.Errorf("apply %q: %w", callID, ErrConflict)
	}
	if err != nil {
		return CallSession{}, err
	}
	return out, nil
}

func (s *RedisStore) applyOnce(ctx context.Context, key string, fn Mutation) (CallSession, error) {
	var (
		out    CallSession
		mutErr error
	)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return ErrNotFound
		}
		if err != nil {
			return unavailable("redis get", err)
		}
		sess, err := decodeSession(data)
		if err != nil {
			return err
		}
		if err := applyMutation(&sess, fn, s.now()); err != nil {
			mutErr = err
			return err
		}
		enc, err := encodeSession(sess)
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, enc, s.ttl)
			return nil
		})
		if err != nil {
			return err
		}
		out = sess
		return nil
	}, key)

	switch {
	case err == nil:
		return out, nil
	case mutErr != nil:
		return CallSession{}, mutErr
	case errors.Is(err, redis.TxFailedErr),
		errors.Is(err, ErrNotFound),
		errors.Is(err, ErrUnavailable):
		return CallSession{}, err
	case ctx.Err() != nil:
		return CallSession{}, ctx.Err()
	default:
		return CallSession{}, unavailable("redis apply", err)
	}
}

// Sweep is a no-op: Redis expires keys natively.
func (s *RedisStore) Sweep(context.Context) (int, error) { return 0, nil }

func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}
