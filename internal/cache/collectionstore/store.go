// Package collectionstore caches serialized FeatureCollections in Redis.
//
// Keys embed a per-table generation counter; invalidating a table bumps the
// counter so older entries are never read again and age out by TTL.
package collectionstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/mohammed-shakir/geologic-api/internal/cache/keys"
	"github.com/mohammed-shakir/geologic-api/internal/cache/redisstore"
	"github.com/mohammed-shakir/geologic-api/internal/core/model"
	"github.com/mohammed-shakir/geologic-api/internal/core/observability"
)

const breakerName = "collection-cache"

type Store struct {
	cli       *redisstore.Client
	ttl       time.Duration
	opTimeout time.Duration
	cb        *gobreaker.CircuitBreaker[[]byte]
}

type Option func(*Store)

// WithBreaker trips reads and writes after failures consecutive Redis errors
// and keeps them short-circuited for cooldown before letting one request through.
func WithBreaker(failures uint32, cooldown time.Duration) Option {
	return func(s *Store) {
		if failures == 0 {
			s.cb = nil
			return
		}
		s.cb = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
			Name:        breakerName,
			MaxRequests: 1,
			Timeout:     cooldown,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= failures
			},
			// a caller giving up is not a Redis fault
			IsSuccessful: func(err error) bool {
				return err == nil || errors.Is(err, context.Canceled)
			},
			OnStateChange: func(name string, _, to gobreaker.State) {
				observability.SetCacheBreakerState(name, float64(to))
			},
		})
		observability.SetCacheBreakerState(breakerName, float64(gobreaker.StateClosed))
	}
}

func New(cli *redisstore.Client, ttl, opTimeout time.Duration, opts ...Option) *Store {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	s := &Store{cli: cli, ttl: ttl, opTimeout: opTimeout}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Get looks up the collection of table under the current generation. On a
// miss it returns nil and the key a later Put must write to, so an entry
// computed before an invalidation never lands in the newer generation. The
// key is empty when Redis could not be read.
func (s *Store) Get(ctx context.Context, table string, f *model.FilterParams) (*model.FeatureCollection, string, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var key string
	raw, err := s.execute(func() ([]byte, error) {
		k, err := s.key(ctx, table, f)
		if err != nil {
			return nil, err
		}
		key = k
		raw, ok, err := s.cli.Get(ctx, k)
		if err != nil {
			return nil, fmt.Errorf("collectionstore get %q: %w", k, err)
		}
		if !ok {
			return nil, nil
		}
		return raw, nil
	})
	if err != nil {
		observability.IncCacheError()
		return nil, "", err
	}
	if raw == nil {
		observability.IncCacheMiss()
		return nil, key, nil
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fc model.FeatureCollection
	if err := dec.Decode(&fc); err != nil {
		observability.IncCacheError()
		return nil, key, fmt.Errorf("collectionstore decode %s: %w", table, err)
	}
	if fc.Features == nil {
		fc.Features = []model.Feature{}
	}
	observability.IncCacheHit()
	return &fc, key, nil
}

// Put stores fc under key as returned by Get.
func (s *Store) Put(ctx context.Context, key string, fc model.FeatureCollection) error {
	if key == "" {
		return errors.New("collectionstore put: empty key")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	body, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("collectionstore encode: %w", err)
	}
	_, err = s.execute(func() ([]byte, error) {
		if err := s.cli.Set(ctx, key, body, s.ttl); err != nil {
			return nil, fmt.Errorf("collectionstore put %q: %w", key, err)
		}
		return nil, nil
	})
	return err
}

// Invalidate retires every cached collection of table and returns the new
// generation. It always goes to Redis, even with the breaker open.
func (s *Store) Invalidate(ctx context.Context, table string) (int64, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	gen, err := s.cli.Incr(ctx, keys.Generation(table))
	if err != nil {
		return 0, fmt.Errorf("collectionstore invalidate %q: %w", table, err)
	}
	return gen, nil
}

// BreakerState reports the breaker state, StateClosed when none is configured.
func (s *Store) BreakerState() gobreaker.State {
	if s.cb == nil {
		return gobreaker.StateClosed
	}
	return s.cb.State()
}

func (s *Store) execute(fn func() ([]byte, error)) ([]byte, error) {
	if s.cb == nil {
		return fn()
	}
	out, err := s.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("collectionstore: %w", err)
	}
	return out, err
}

func (s *Store) key(ctx context.Context, table string, f *model.FilterParams) (string, error) {
	gen, err := s.cli.GetInt(ctx, keys.Generation(table))
	if err != nil {
		return "", fmt.Errorf("collectionstore generation %q: %w", table, err)
	}
	return keys.Collection(table, gen, f), nil
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}
