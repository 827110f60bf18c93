// state.go stores the OAuth state parameter between the OIDC login redirect
// and the callback. With several replicas behind a load balancer the callback
// may land on another instance, so Redis is used when it is configured.
package admin

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// stateTTL bounds how long a login may take at the identity provider
const stateTTL = 5 * time.Minute

// StateStore remembers issued OAuth states. Consume succeeds at most once per
// state, and only before it expires.
type StateStore interface {
	Put(ctx context.Context, state string, ttl time.Duration) error
	Consume(ctx context.Context, state string) (bool, error)
}

// MemoryStateStore keeps states in process memory.
type MemoryStateStore struct {
	mu     sync.Mutex
	states map[string]time.Time
	now    func() time.Time
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{states: make(map[string]time.Time), now: time.Now}
}

func (s *MemoryStateStore) Put(_ context.Context, state string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	// prune while we hold the lock; abandoned logins would otherwise accumulate
	for k, exp := range s.states {
		if now.After(exp) {
			delete(s.states, k)
		}
	}
	s.states[state] = now.Add(ttl)
	return nil
}

func (s *MemoryStateStore) Consume(_ context.Context, state string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.states[state]
	if !ok {
		return false, nil
	}
	delete(s.states, state)
	return !s.now().After(exp), nil
}

// RedisStateStore shares states between replicas.
type RedisStateStore struct {
	rdb *redis.Client
}

func NewRedisStateStore(rdb *redis.Client) *RedisStateStore {
	return &RedisStateStore{rdb: rdb}
}

func stateKey(state string) string { return "oidc_state:" + state }

func (s *RedisStateStore) Put(ctx context.Context, state string, ttl time.Duration) error {
	return s.rdb.Set(ctx, stateKey(state), "1", ttl).Err()
}

func (s *RedisStateStore) Consume(ctx context.Context, state string) (bool, error) {
	_, err := s.rdb.GetDel(ctx, stateKey(state)).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// NewStateStore returns a Redis store when rdb is non-nil, else a memory one.
func NewStateStore(rdb *redis.Client) StateStore {
	if rdb != nil {
		return NewRedisStateStore(rdb)
	}
	return NewMemoryStateStore()
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
