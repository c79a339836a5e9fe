package auth

import (
	"context"
	"errors"

	"github.com/scottux/recipe-book-sub002/internal"
)

// SendVerificationEmail issues a fresh verification token for the caller's
// address and mails it. Already-verified accounts get a no-op success.
func (e *Engine) SendVerificationEmail(ctx context.Context, userID string) error {
	if err := e.enforceLimit(ctx, "verifymail:"+userID, e.config.RateLimit.VerificationSend); err != nil {
		return err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}
	if cred.EmailVerified {
		return nil
	}

	raw, err := e.prepareVerificationToken(cred)
	if err != nil {
		return err
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return err
	}

	if err := e.mailer.SendVerificationEmail(ctx, VerificationEmail{
		To:              cred.Email,
		Username:        cred.Username,
		VerificationURL: e.verificationURL(raw),
	}); err != nil {
		return err
	}

	e.audit.emit(AuditEvent{Type: AuditVerificationSent, UserID: userID, Email: cred.Email, IP: ClientIP(ctx), At: e.now()})
	return nil
}

// VerifyEmail consumes a verification token. Verification is monotonic: a
// verified address never goes back, and verifying twice reports
// AlreadyVerified instead of failing.
func (e *Engine) VerifyEmail(ctx context.Context, token string) (*VerifyEmailResult, error) {
	if token == "" {
		return nil, ErrVerificationTokenInvalid
	}

	hash := hashTokenHex(token)
	cred, err := e.store.FindByVerificationTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrVerificationTokenInvalid
		}
		return nil, err
	}

	unlock := e.locks.Lock(cred.ID)
	defer unlock()

	cred, err = e.store.FindByID(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	if cred.EmailVerified {
		return &VerifyEmailResult{AlreadyVerified: true}, nil
	}

	vt := cred.VerificationToken
	if vt == nil || vt.Hash != hash {
		return nil, ErrVerificationTokenInvalid
	}
	if !e.now().Before(vt.ExpiresAt) {
		return nil, ErrVerificationTokenInvalid
	}

	// The token record stays so a replay of the same link resolves to the
	// verified account and reports AlreadyVerified instead of failing.
	cred.EmailVerified = true
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	e.metrics.inc(MetricEmailVerifications)
	e.audit.emit(AuditEvent{Type: AuditEmailVerified, UserID: cred.ID, Email: cred.Email, IP: ClientIP(ctx), At: e.now()})
	return &VerifyEmailResult{}, nil
}

// prepareVerificationToken sets a fresh verification token on the credential
// and returns the raw form for the email link. The caller persists.
func (e *Engine) prepareVerificationToken(cred *Credential) (string, error) {
	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	cred.VerificationToken = &VerificationToken{
		Hash:      hashTokenHex(raw),
		ExpiresAt: e.now().Add(e.config.EmailVerification.TokenTTL),
	}
	return raw, nil
}

func (e *Engine) verificationURL(rawToken string) string {
	base := e.config.EmailVerification.VerificationURLBase
	if base == "" {
		return rawToken
	}
	return base + rawToken
}
