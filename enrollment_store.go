package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// enrollmentStore keeps at most one pending two-factor secret per user
// while the confirming code is awaited. The secret never reaches a client
// after setup; only its base32 form is shown, once.
//
// Get reports a miss as (nil, nil) so callers can map it to their own
// sentinel.
type enrollmentStore interface {
	Put(ctx context.Context, userID string, secret []byte, ttl time.Duration) error
	Get(ctx context.Context, userID string) ([]byte, error)
	Delete(ctx context.Context, userID string) error
}

// memoryEnrollmentStore is the single-process default. Entries expire after
// the TTL and are pruned lazily on access.
type memoryEnrollmentStore struct {
	mu      sync.Mutex
	pending map[string]memoryEnrollment
	now     func() time.Time
}

type memoryEnrollment struct {
	secret    []byte
	expiresAt time.Time
}

func newMemoryEnrollmentStore(now func() time.Time) *memoryEnrollmentStore {
	if now == nil {
		now = time.Now
	}
	return &memoryEnrollmentStore{
		pending: make(map[string]memoryEnrollment),
		now:     now,
	}
}

// Put replaces any prior pending enrollment for the user.
func (s *memoryEnrollmentStore) Put(ctx context.Context, userID string, secret []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[userID] = memoryEnrollment{
		secret:    secret,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *memoryEnrollmentStore) Get(ctx context.Context, userID string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[userID]
	if !ok {
		return nil, nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.pending, userID)
		return nil, nil
	}
	return entry.secret, nil
}

func (s *memoryEnrollmentStore) Delete(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, userID)
	return nil
}

var errEnrollmentBackend = errors.New("auth: enrollment store backend unavailable")

// redisEnrollmentStore shares pending enrollments across instances, so a
// setup served by one instance can be confirmed by another. Redis owns the
// expiry via the key TTL.
type redisEnrollmentStore struct {
	client redis.UniversalClient
	prefix string
}

func newRedisEnrollmentStore(client redis.UniversalClient) *redisEnrollmentStore {
	return &redisEnrollmentStore{client: client, prefix: "a2fe"}
}

func (s *redisEnrollmentStore) key(userID string) string {
	return s.prefix + ":" + userID
}

func (s *redisEnrollmentStore) Put(ctx context.Context, userID string, secret []byte, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(userID), secret, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEnrollmentBackend, err)
	}
	return nil
}

func (s *redisEnrollmentStore) Get(ctx context.Context, userID string) ([]byte, error) {
	data, err := s.client.Get(ctx, s.key(userID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", errEnrollmentBackend, err)
	}
	return data, nil
}

func (s *redisEnrollmentStore) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key(userID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errEnrollmentBackend, err)
	}
	return nil
}
