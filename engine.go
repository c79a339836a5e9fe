package auth

import (
	"context"
	"encoding/hex"
	"errors"
	"strings"
	"time"

	"github.com/scottux/recipe-book-sub002/internal"
	"github.com/scottux/recipe-book-sub002/jwt"
	"github.com/scottux/recipe-book-sub002/password"
	"github.com/scottux/recipe-book-sub002/ratelimit"
	"github.com/scottux/recipe-book-sub002/totp"
)

// Engine implements every credential lifecycle flow. Construct it with a
// Builder; the zero value is not usable.
type Engine struct {
	config  Config
	store   UserStore
	mailer  Mailer
	cascade CascadeDeleter

	limiter     ratelimit.Limiter
	ownsLimiter bool

	signer *jwt.Manager
	hasher *password.Hasher
	// dummyHash is verified against when login hits an unknown email, so
	// the argon2 cost is paid on both paths.
	dummyHash  string
	totp       *totp.Manager
	enroll     enrollmentStore
	challenges challengeStore
	audit      *auditDispatcher
	metrics    *Metrics
	locks      *internal.KeyedMutex
	now        func() time.Time
}

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// AuditDropped reports how many audit events were discarded under load.
func (e *Engine) AuditDropped() uint64 { return e.audit.Dropped() }

// VerifyAccessToken checks a bearer token and returns its subject. Handlers
// call it through the middleware; it never touches the store.
func (e *Engine) VerifyAccessToken(token string) (string, error) {
	sub, err := e.signer.Verify(token, jwt.RoleAccess)
	if err != nil {
		return "", ErrInvalidCredentials
	}
	return sub, nil
}

// Close stops the audit dispatcher and, when the engine owns it, the
// limiter's sweep goroutine.
func (e *Engine) Close() error {
	e.audit.close()
	if e.ownsLimiter {
		if c, ok := e.limiter.(interface{ Close() error }); ok {
			return c.Close()
		}
	}
	return nil
}

// normalizeEmail is applied to every inbound email before storage or lookup.
func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// hashTokenHex is the stored form of opaque tokens and refresh tokens.
func hashTokenHex(token string) string {
	sum := internal.HashToken(token)
	return hex.EncodeToString(sum[:])
}

// enforceLimit checks one budget and records the attempt when admitted. A
// denial becomes a *RateLimitError carrying header material.
func (e *Engine) enforceLimit(ctx context.Context, key string, policy ratelimit.Policy) error {
	res, err := e.limiter.Allow(ctx, key, policy)
	if err != nil {
		return err
	}
	if !res.Allowed {
		e.metrics.inc(MetricRateLimitDenials)
		e.audit.emit(AuditEvent{Type: AuditRateLimited, IP: ClientIP(ctx), At: e.now()})
		return &RateLimitError{
			Limit:      policy.Limit,
			Remaining:  res.Remaining,
			RetryAfter: ratelimit.RetryAfterSeconds(res.RetryAfter),
		}
	}
	return nil
}

// checkLimit inspects a budget without consuming it.
func (e *Engine) checkLimit(ctx context.Context, key string, policy ratelimit.Policy) error {
	res, err := e.limiter.Check(ctx, key, policy)
	if err != nil {
		return err
	}
	if !res.Allowed {
		e.metrics.inc(MetricRateLimitDenials)
		return &RateLimitError{
			Limit:      policy.Limit,
			Remaining:  res.Remaining,
			RetryAfter: ratelimit.RetryAfterSeconds(res.RetryAfter),
		}
	}
	return nil
}

// issueTokenPair mints an access/refresh pair and appends the refresh hash
// to the credential. The caller persists the credential.
func (e *Engine) issueTokenPair(cred *Credential) (*TokenPair, error) {
	access, err := e.signer.Issue(cred.ID, jwt.RoleAccess)
	if err != nil {
		return nil, err
	}
	refresh, err := e.signer.Issue(cred.ID, jwt.RoleRefresh)
	if err != nil {
		return nil, err
	}
	cred.RefreshTokens = append(cred.RefreshTokens, hashTokenHex(refresh))
	return &TokenPair{AccessToken: access, RefreshToken: refresh}, nil
}

// loadUser resolves an authenticated subject to its credential record.
func (e *Engine) loadUser(ctx context.Context, userID string) (*Credential, error) {
	if userID == "" {
		return nil, ErrUserNotFound
	}
	cred, err := e.store.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	return cred, nil
}
