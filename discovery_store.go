package mongobase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DiscoveryKey identifies one entry of the collection-name cache: the kind
// of context, the connection it uses and the database it names.
type DiscoveryKey struct {
	Identity    string
	Fingerprint string
	Database    string
}

func (k DiscoveryKey) String() string {
	return k.Identity + "|" + k.Fingerprint + "|" + k.Database
}

// DiscoveryStore is a second-tier cache for discovered collection names that
// can outlive the process, so restarted services skip the listing call.
// Errors are logged by the caller and treated as a miss.
type DiscoveryStore interface {
	Load(ctx context.Context, key DiscoveryKey) (names []string, ok bool, err error)
	Save(ctx context.Context, key DiscoveryKey, names []string) error
}

// RedisDiscoveryStore keeps discovered collection names in Redis with a TTL.
// Calls go through a circuit breaker so a Redis outage falls back to direct
// discovery quickly.
type RedisDiscoveryStore struct {
	redis   *redis.Client
	prefix  string
	ttl     time.Duration
	breaker *CircuitBreaker
}

// NewRedisDiscoveryStore creates a store using client. A ttl of 0 uses DefaultDiscoveryTTL.
func NewRedisDiscoveryStore(client *redis.Client, ttl time.Duration) *RedisDiscoveryStore {
	if ttl <= 0 {
		ttl = DefaultDiscoveryTTL
	}
	return &RedisDiscoveryStore{
		redis:   client,
		prefix:  "mongobase:collections:",
		ttl:     ttl,
		breaker: NewCircuitBreaker(5, 30*time.Second),
	}
}

// WithPrefix changes the key namespace
func (s *RedisDiscoveryStore) WithPrefix(prefix string) *RedisDiscoveryStore {
	s.prefix = prefix
	return s
}

// WithCircuitBreaker replaces the default breaker (5 failures, 30s reset)
func (s *RedisDiscoveryStore) WithCircuitBreaker(cb *CircuitBreaker) *RedisDiscoveryStore {
	s.breaker = cb
	return s
}

// Breaker returns the circuit breaker guarding Redis calls
func (s *RedisDiscoveryStore) Breaker() *CircuitBreaker {
	return s.breaker
}

func (s *RedisDiscoveryStore) redisKey(key DiscoveryKey) string {
	// The fingerprint is a fixed-length hex digest, so identity and database
	// cannot collide across the separators.
	return fmt.Sprintf("%s%s:%s:%s", s.prefix, key.Identity, key.Fingerprint, key.Database)
}

// Load returns the names stored for key. ok is false when nothing is stored.
func (s *RedisDiscoveryStore) Load(ctx context.Context, key DiscoveryKey) ([]string, bool, error) {
	var data []byte
	err := s.breaker.Execute(ctx, func() error {
		var err error
		data, err = s.redis.Get(ctx, s.redisKey(key)).Bytes()
		if errors.Is(err, redis.Nil) {
			data = nil
			return nil
		}
		return err
	})
	if err != nil {
		return nil, false, fmt.Errorf("load collection names: %w", err)
	}
	if data == nil {
		return nil, false, nil
	}

	var names []string
	if err := json.Unmarshal(data, &names); err != nil {
		return nil, false, fmt.Errorf("decode collection names: %w", err)
	}
	if names == nil {
		names = []string{}
	}
	return names, true, nil
}

// Save stores names for key, replacing any previous value and resetting its TTL.
func (s *RedisDiscoveryStore) Save(ctx context.Context, key DiscoveryKey, names []string) error {
	if names == nil {
		names = []string{}
	}
	data, err := json.Marshal(names)
	if err != nil {
		return fmt.Errorf("encode collection names: %w", err)
	}
	err = s.breaker.Execute(ctx, func() error {
		return s.redis.Set(ctx, s.redisKey(key), data, s.ttl).Err()
	})
	if err != nil {
		return fmt.Errorf("save collection names: %w", err)
	}
	return nil
}

// Invalidate removes the entry for key, forcing the next process to rediscover.
func (s *RedisDiscoveryStore) Invalidate(ctx context.Context, key DiscoveryKey) error {
	return s.breaker.Execute(ctx, func() error {
		return s.redis.Del(ctx, s.redisKey(key)).Err()
	})
}
