package auth

import (
	"context"
	"errors"

	"github.com/scottux/recipe-book-sub002/internal"
	"github.com/scottux/recipe-book-sub002/password"
)

// RequestPasswordReset issues a reset token and mails it. The response is
// identical whether or not the email exists, and the latency floor keeps
// the two paths indistinguishable by timing. Only rate limit denials are
// surfaced.
func (e *Engine) RequestPasswordReset(ctx context.Context, email string) error {
	return runWithLatencyFloor(ctx, e.config.PasswordReset.MinResponseTime, func() error {
		return e.requestPasswordReset(ctx, email)
	})
}

func (e *Engine) requestPasswordReset(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if err := e.enforceLimit(ctx, "pwreset:email:"+email, e.config.RateLimit.ResetPerEmail); err != nil {
		return err
	}
	if ip := ClientIP(ctx); ip != "" {
		if err := e.enforceLimit(ctx, "pwreset:ip:"+ip, e.config.RateLimit.ResetPerIP); err != nil {
			return err
		}
	}

	e.metrics.inc(MetricResetRequests)
	e.audit.emit(AuditEvent{Type: AuditResetRequested, Email: email, IP: ClientIP(ctx), At: e.now()})

	cred, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return nil
	}

	unlock := e.locks.Lock(cred.ID)
	defer unlock()

	cred, err = e.store.FindByID(ctx, cred.ID)
	if err != nil {
		return nil
	}

	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return nil
	}

	// A new request replaces any prior token; at most one is live.
	prior := cred.ResetToken
	cred.ResetToken = &ResetToken{
		Hash:      hashTokenHex(raw),
		ExpiresAt: e.now().Add(e.config.PasswordReset.TokenTTL),
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return nil
	}

	mailErr := e.mailer.SendPasswordResetEmail(ctx, ResetEmail{
		To:            cred.Email,
		Username:      cred.Username,
		ResetURL:      e.resetURL(raw),
		ExpiryMinutes: int(e.config.PasswordReset.TokenTTL.Minutes()),
	})
	if mailErr != nil {
		// Undo the token so a link that never reached the user cannot
		// reset the password.
		cred.ResetToken = prior
		_ = e.store.Save(ctx, cred)
	}
	return nil
}

// ValidateResetToken classifies a presented token without consuming it, so
// reset forms can tell the user to request a new link before they type a
// password. Only the state and the target email are exposed.
func (e *Engine) ValidateResetToken(ctx context.Context, token string) (*ResetTokenStatus, error) {
	if token == "" {
		return &ResetTokenStatus{State: ResetTokenNotFound}, nil
	}
	cred, err := e.store.FindByResetTokenHash(ctx, hashTokenHex(token))
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return &ResetTokenStatus{State: ResetTokenNotFound}, nil
		}
		return nil, err
	}
	rt := cred.ResetToken
	switch {
	case rt == nil:
		return &ResetTokenStatus{State: ResetTokenNotFound}, nil
	case rt.Used:
		return &ResetTokenStatus{State: ResetTokenUsed, Email: cred.Email}, nil
	case !e.now().Before(rt.ExpiresAt):
		return &ResetTokenStatus{State: ResetTokenExpired, Email: cred.Email}, nil
	default:
		return &ResetTokenStatus{State: ResetTokenValid, Email: cred.Email}, nil
	}
}

// ResetPassword consumes a valid token: the password is replaced, the token
// is marked used for good, and every refresh token is revoked so stolen
// sessions die with the old password.
func (e *Engine) ResetPassword(ctx context.Context, token, newPassword string) error {
	if err := password.CheckStrength(newPassword); err != nil {
		return err
	}

	hash := hashTokenHex(token)
	cred, err := e.store.FindByResetTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return ErrResetTokenInvalid
		}
		return err
	}

	unlock := e.locks.Lock(cred.ID)
	defer unlock()

	cred, err = e.store.FindByID(ctx, cred.ID)
	if err != nil {
		return err
	}
	rt := cred.ResetToken
	switch {
	case rt == nil || rt.Hash != hash:
		return ErrResetTokenInvalid
	case rt.Used:
		return ErrResetTokenUsed
	case !e.now().Before(rt.ExpiresAt):
		return ErrResetTokenExpired
	}

	same, err := e.hasher.Verify(newPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if same {
		return ErrPasswordReuse
	}

	passwordHash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	cred.PasswordHash = passwordHash
	cred.ResetToken.Used = true
	cred.RefreshTokens = nil
	if err := e.store.Save(ctx, cred); err != nil {
		return err
	}

	e.metrics.inc(MetricResetCompletions)
	e.audit.emit(AuditEvent{Type: AuditResetCompleted, UserID: cred.ID, Email: cred.Email, IP: ClientIP(ctx), At: e.now()})
	return nil
}

func (e *Engine) resetURL(rawToken string) string {
	base := e.config.PasswordReset.ResetURLBase
	if base == "" {
		return rawToken
	}
	return base + rawToken
}
