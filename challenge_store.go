package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// challengeStore holds short-lived login challenges: the hash of an opaque
// challenge token mapped to the user id whose password already verified.
// LoginTwoFactor resolves the challenge so the password is never re-sent
// with the code.
//
// Get reports a miss as ("", nil).
type challengeStore interface {
	Put(ctx context.Context, tokenHash, userID string, ttl time.Duration) error
	Get(ctx context.Context, tokenHash string) (string, error)
	Delete(ctx context.Context, tokenHash string) error
}

// memoryChallengeStore is the single-process default.
type memoryChallengeStore struct {
	mu      sync.Mutex
	pending map[string]memoryChallenge
	now     func() time.Time
}

type memoryChallenge struct {
	userID    string
	expiresAt time.Time
}

func newMemoryChallengeStore(now func() time.Time) *memoryChallengeStore {
	if now == nil {
		now = time.Now
	}
	return &memoryChallengeStore{
		pending: make(map[string]memoryChallenge),
		now:     now,
	}
}

func (s *memoryChallengeStore) Put(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending[tokenHash] = memoryChallenge{
		userID:    userID,
		expiresAt: s.now().Add(ttl),
	}
	return nil
}

func (s *memoryChallengeStore) Get(ctx context.Context, tokenHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.pending[tokenHash]
	if !ok {
		return "", nil
	}
	if !s.now().Before(entry.expiresAt) {
		delete(s.pending, tokenHash)
		return "", nil
	}
	return entry.userID, nil
}

func (s *memoryChallengeStore) Delete(ctx context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, tokenHash)
	return nil
}

var errChallengeBackend = errors.New("auth: challenge store backend unavailable")

// redisChallengeStore shares challenges across instances; a login started
// on one instance can be completed on another. Redis owns the expiry.
type redisChallengeStore struct {
	client redis.UniversalClient
	prefix string
}

func newRedisChallengeStore(client redis.UniversalClient) *redisChallengeStore {
	return &redisChallengeStore{client: client, prefix: "a2fc"}
}

func (s *redisChallengeStore) key(tokenHash string) string {
	return s.prefix + ":" + tokenHash
}

func (s *redisChallengeStore) Put(ctx context.Context, tokenHash, userID string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key(tokenHash), userID, ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}

func (s *redisChallengeStore) Get(ctx context.Context, tokenHash string) (string, error) {
	userID, err := s.client.Get(ctx, s.key(tokenHash)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", nil
		}
		return "", fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return userID, nil
}

func (s *redisChallengeStore) Delete(ctx context.Context, tokenHash string) error {
	if err := s.client.Del(ctx, s.key(tokenHash)).Err(); err != nil {
		return fmt.Errorf("%w: %v", errChallengeBackend, err)
	}
	return nil
}
