package statestore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"BreakoutSentinel/internal/model"
)

const (
	// positionKeyPrefix is followed by the symbol.
	positionKeyPrefix = "sentinel:position"
	positionListKey   = "sentinel:positions"
	positionTTL       = 7 * 24 * time.Hour
)

// RedisStore mirrors positions into Redis. Every write also lands in an
// in-memory cache, which serves reads while Redis is unreachable.
type RedisStore struct {
	client    *redis.Client
	log       zerolog.Logger
	mu        sync.RWMutex
	cache     map[string]model.Position
	available atomic.Bool
}

// NewRedisStore wraps client. A failed ping leaves the store in cache-only
// mode until a later call succeeds.
func NewRedisStore(client *redis.Client, log zerolog.Logger) *RedisStore {
	s := &RedisStore{
		client: client,
		log:    log.With().Str("component", "statestore").Logger(),
		cache:  make(map[string]model.Position),
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		s.log.Warn().Err(err).Msg("redis unavailable at startup, using in-memory cache")
		return s
	}
	s.available.Store(true)
	return s
}

func positionKey(symbol string) string {
	return fmt.Sprintf("%s:%s", positionKeyPrefix, symbol)
}

func (s *RedisStore) Save(ctx context.Context, pos model.Position) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	s.mu.Lock()
	s.cache[pos.Symbol] = pos
	s.mu.Unlock()

	pipe := s.client.TxPipeline()
	pipe.Set(ctx, positionKey(pos.Symbol), data, positionTTL)
	pipe.SAdd(ctx, positionListKey, pos.Symbol)
	pipe.Expire(ctx, positionListKey, positionTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err)
		return nil
	}
	s.available.Store(true)
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, symbol string) error {
	s.mu.Lock()
	delete(s.cache, symbol)
	s.mu.Unlock()

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, positionKey(symbol))
	pipe.SRem(ctx, positionListKey, symbol)
	if _, err := pipe.Exec(ctx); err != nil {
		s.markDown(err)
	}
	return nil
}

// Load reads every listed position from Redis, falling back to the cache.
func (s *RedisStore) Load(ctx context.Context) ([]model.Position, error) {
	symbols, err := s.client.SMembers(ctx, positionListKey).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		s.markDown(err)
		return s.cached(), nil
	}

	out := make([]model.Position, 0, len(symbols))
	for _, symbol := range symbols {
		data, err := s.client.Get(ctx, positionKey(symbol)).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			s.markDown(err)
			return s.cached(), nil
		}
		var pos model.Position
		if err := json.Unmarshal(data, &pos); err != nil {
			s.log.Error().Err(err).Str("symbol", symbol).Msg("skip unreadable position")
			continue
		}
		out = append(out, pos)
	}
	s.available.Store(true)

	s.mu.Lock()
	for _, p := range out {
		s.cache[p.Symbol] = p
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *RedisStore) Close() error { return s.client.Close() }

// Available reports whether the last Redis call succeeded.
func (s *RedisStore) Available() bool { return s.available.Load() }

func (s *RedisStore) markDown(err error) {
	if s.available.Swap(false) {
		s.log.Warn().Err(err).Msg("redis write failed, continuing on in-memory cache")
	}
}

func (s *RedisStore) cached() []model.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Position, 0, len(s.cache))
	for _, p := range s.cache {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}
