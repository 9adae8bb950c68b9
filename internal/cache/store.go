// Package cache implements the two-tier export result cache: a private
// in-process map in front of a Redis tier shared by every instance.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	infralogger "github.com/jonesrussell/north-cloud/export-service/infrastructure/logger"
)

// KeyPrefix namespaces every cache key in the shared tier.
const KeyPrefix = "export:cache:"

const (
	defaultLocalTTL        = 60 * time.Second
	defaultMaxLocalEntries = 1000
	scanBatch              = 100
)

type entry struct {
	value     string
	expiresAt time.Time
}

// Options configures a Store.
type Options struct {
	// LocalTTL bounds how long a value is trusted in the local tier.
	LocalTTL time.Duration
	// MaxLocalEntries caps the local tier. At the cap, expired entries are
	// swept and then the entry closest to expiry is evicted.
	MaxLocalEntries int
	// Now overrides the clock in tests.
	Now func() time.Time
}

// Store is safe for concurrent use. A nil Redis client makes it local-only.
type Store struct {
	client   redis.UniversalClient
	log      infralogger.Logger
	localTTL time.Duration
	maxLocal int
	now      func() time.Time

	mu    sync.Mutex
	local map[string]entry
}

// New creates a cache store.
func New(client redis.UniversalClient, log infralogger.Logger, opts Options) *Store {
	if opts.LocalTTL <= 0 {
		opts.LocalTTL = defaultLocalTTL
	}
	if opts.MaxLocalEntries <= 0 {
		opts.MaxLocalEntries = defaultMaxLocalEntries
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = infralogger.NewNop()
	}

	return &Store{
		client:   client,
		log:      log,
		localTTL: opts.LocalTTL,
		maxLocal: opts.MaxLocalEntries,
		now:      opts.Now,
		local:    make(map[string]entry),
	}
}

// Get returns the cached value for key. Shared-tier errors are logged and read as a miss.
func (s *Store) Get(ctx context.Context, key string) (string, bool) {
	fullKey := KeyPrefix + key

	if v, ok := s.getLocal(fullKey); ok {
		return v, true
	}

	if s.client == nil {
		return "", false
	}

	v, err := s.client.Get(ctx, fullKey).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn("Cache shared tier read failed",
				infralogger.String("key", fullKey),
				infralogger.Error(err),
			)
		}
		return "", false
	}

	s.setLocal(fullKey, v, s.localTTL)
	return v, true
}

// Set writes value to the local tier and to the shared tier with ttl.
func (s *Store) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	fullKey := KeyPrefix + key

	localTTL := s.localTTL
	if ttl > 0 && ttl < localTTL {
		localTTL = ttl
	}
	s.setLocal(fullKey, value, localTTL)

	if s.client == nil {
		return nil
	}

	if err := s.client.Set(ctx, fullKey, value, ttl).Err(); err != nil {
		return fmt.Errorf("cache set %s: %w", fullKey, err)
	}
	return nil
}

// GetJSON decodes the cached value for key into dst.
func (s *Store) GetJSON(ctx context.Context, key string, dst any) bool {
	raw, ok := s.Get(ctx, key)
	if !ok {
		return false
	}

	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		s.log.Warn("Discarding undecodable cache entry",
			infralogger.String("key", key),
			infralogger.Error(err),
		)
		return false
	}
	return true
}

// SetJSON encodes value and stores it under key.
func (s *Store) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("cache encode %s: %w", key, err)
	}
	return s.Set(ctx, key, string(raw), ttl)
}

// Invalidate removes shared keys matching the glob pattern under KeyPrefix and
// local keys containing the pattern. It returns the number of keys removed.
func (s *Store) Invalidate(ctx context.Context, pattern string) (int, error) {
	removed := s.invalidateLocal(strings.Trim(pattern, "*"))

	if s.client == nil {
		return removed, nil
	}

	match := KeyPrefix + pattern
	if pattern == "" {
		match = KeyPrefix + "*"
	}

	var cursor uint64
	shared := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, match, scanBatch).Result()
		if err != nil {
			return removed, fmt.Errorf("cache scan %s: %w", match, err)
		}

		if len(keys) > 0 {
			n, delErr := s.client.Del(ctx, keys...).Result()
			if delErr != nil {
				return removed, fmt.Errorf("cache delete: %w", delErr)
			}
			shared += int(n)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	s.log.Info("Cache invalidated",
		infralogger.String("pattern", pattern),
		infralogger.Int("local", removed),
		infralogger.Int("shared", shared),
	)

	return max(removed, shared), nil
}

func (s *Store) getLocal(key string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.local[key]
	if !ok {
		return "", false
	}
	if !s.now().Before(e.expiresAt) {
		delete(s.local, key)
		return "", false
	}
	return e.value, true
}

func (s *Store) setLocal(key, value string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if _, exists := s.local[key]; !exists && len(s.local) >= s.maxLocal {
		s.evictLocked(now)
	}
	s.local[key] = entry{value: value, expiresAt: now.Add(ttl)}
}

func (s *Store) evictLocked(now time.Time) {
	for k, e := range s.local {
		if !now.Before(e.expiresAt) {
			delete(s.local, k)
		}
	}
	if len(s.local) < s.maxLocal {
		return
	}

	var (
		oldest    string
		oldestExp time.Time
	)
	for k, e := range s.local {
		if oldest == "" || e.expiresAt.Before(oldestExp) {
			oldest, oldestExp = k, e.expiresAt
		}
	}
	delete(s.local, oldest)
}

// LocalLen reports the number of entries held in the local tier.
func (s *Store) LocalLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.local)
}

func (s *Store) invalidateLocal(substr string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for k := range s.local {
		if strings.Contains(strings.TrimPrefix(k, KeyPrefix), substr) {
			delete(s.local, k)
			n++
		}
	}
	return n
}
