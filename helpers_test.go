package auth

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/scottux/recipe-book-sub002/jwt"
	"github.com/scottux/recipe-book-sub002/password"
)

// testClock is a mutable time source shared between the engine and the
// test body.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// fakeStore is an in-memory UserStore with injectable save failures.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]*Credential
	saveErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]*Credential)}
}

func (s *fakeStore) find(match func(*Credential) bool) (*Credential, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, cred := range s.users {
		if match(cred) {
			clone := cloneCredential(cred)
			return clone, nil
		}
	}
	return nil, ErrUserNotFound
}

func (s *fakeStore) FindByEmail(_ context.Context, email string) (*Credential, error) {
	return s.find(func(c *Credential) bool { return c.Email == email })
}

func (s *fakeStore) FindByID(_ context.Context, id string) (*Credential, error) {
	return s.find(func(c *Credential) bool { return c.ID == id })
}

func (s *fakeStore) FindByUsername(_ context.Context, username string) (*Credential, error) {
	return s.find(func(c *Credential) bool { return c.Username == username })
}

func (s *fakeStore) FindByResetTokenHash(_ context.Context, hash string) (*Credential, error) {
	return s.find(func(c *Credential) bool {
		return c.ResetToken != nil && c.ResetToken.Hash == hash
	})
}

func (s *fakeStore) FindByVerificationTokenHash(_ context.Context, hash string) (*Credential, error) {
	return s.find(func(c *Credential) bool {
		return c.VerificationToken != nil && c.VerificationToken.Hash == hash
	})
}

func (s *fakeStore) Save(_ context.Context, cred *Credential) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.users[cred.ID] = cloneCredential(cred)
	return nil
}

func (s *fakeStore) DeleteByID(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.users, id)
	return nil
}

// get returns the stored record directly, bypassing the store contract.
func (s *fakeStore) get(t *testing.T, id string) *Credential {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	cred, ok := s.users[id]
	if !ok {
		t.Fatalf("no stored credential with id %s", id)
	}
	return cloneCredential(cred)
}

func cloneCredential(cred *Credential) *Credential {
	clone := *cred
	clone.RefreshTokens = append([]string(nil), cred.RefreshTokens...)
	clone.TwoFactorBackupCodes = append([]BackupCode(nil), cred.TwoFactorBackupCodes...)
	clone.TwoFactorSecret = append([]byte(nil), cred.TwoFactorSecret...)
	if cred.ResetToken != nil {
		rt := *cred.ResetToken
		clone.ResetToken = &rt
	}
	if cred.VerificationToken != nil {
		vt := *cred.VerificationToken
		clone.VerificationToken = &vt
	}
	return &clone
}

// fakeMailer records outbound mail and can be told to fail.
type fakeMailer struct {
	mu            sync.Mutex
	resets        []ResetEmail
	verifications []VerificationEmail
	failResets    bool
	failVerify    bool
}

func (m *fakeMailer) SendPasswordResetEmail(_ context.Context, email ResetEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failResets {
		return errors.New("smtp unavailable")
	}
	m.resets = append(m.resets, email)
	return nil
}

func (m *fakeMailer) SendVerificationEmail(_ context.Context, email VerificationEmail) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failVerify {
		return errors.New("smtp unavailable")
	}
	m.verifications = append(m.verifications, email)
	return nil
}

func (m *fakeMailer) lastReset(t *testing.T) ResetEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.resets) == 0 {
		t.Fatal("no reset email sent")
	}
	return m.resets[len(m.resets)-1]
}

func (m *fakeMailer) lastVerification(t *testing.T) VerificationEmail {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.verifications) == 0 {
		t.Fatal("no verification email sent")
	}
	return m.verifications[len(m.verifications)-1]
}

type fakeCascade struct {
	mu     sync.Mutex
	fail   bool
	called []string
}

func (c *fakeCascade) DeleteOwnedData(_ context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("recipe store down")
	}
	c.called = append(c.called, userID)
	return nil
}

func testConfig() Config {
	return Config{
		JWT: jwt.Config{
			AccessSecret:  []byte("test-access-secret"),
			RefreshSecret: []byte("test-refresh-secret"),
		},
		// Minimum argon2 cost keeps the suite fast.
		Password: password.Config{
			Memory:      8 * 1024,
			Time:        1,
			Parallelism: 1,
			SaltLength:  16,
			KeyLength:   32,
		},
		PasswordReset: PasswordResetConfig{
			MinResponseTime: time.Millisecond,
		},
	}
}

type engineFixture struct {
	engine *Engine
	store  *fakeStore
	mailer *fakeMailer
	clock  *testClock
}

func newTestEngine(t *testing.T, opts ...func(*Builder)) *engineFixture {
	t.Helper()
	store := newFakeStore()
	mailer := &fakeMailer{}
	clock := newTestClock()

	b := New().
		WithConfig(testConfig()).
		WithStore(store).
		WithMailer(mailer).
		WithClock(clock.Now)
	for _, opt := range opts {
		opt(b)
	}

	engine, err := b.Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(func() { _ = engine.Close() })

	return &engineFixture{engine: engine, store: store, mailer: mailer, clock: clock}
}

const testPassword = "Sup3rSecret"

func (f *engineFixture) register(t *testing.T, email string) *RegisterResult {
	t.Helper()
	res, err := f.engine.Register(context.Background(), RegisterRequest{
		Email:    email,
		Username: email,
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register(%s) failed: %v", email, err)
	}
	return res
}
