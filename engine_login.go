package auth

import (
	"context"
	"errors"

	"github.com/scottux/recipe-book-sub002/internal"
	"github.com/scottux/recipe-book-sub002/jwt"
)

// LoginRequest carries the login form. TwoFactorCode is optional: accounts
// with two-factor enabled may send password and code together, or omit the
// code and finish through LoginTwoFactor with the returned challenge token.
type LoginRequest struct {
	Email         string
	Password      string
	TwoFactorCode string
}

// Login checks the credentials and, when they hold, issues a token pair.
// Every credential failure surfaces as ErrInvalidCredentials so callers
// cannot tell unknown emails from wrong passwords. A successful login
// clears the account's attempt window.
func (e *Engine) Login(ctx context.Context, req LoginRequest) (*LoginResult, error) {
	email := normalizeEmail(req.Email)
	if err := e.enforceLimit(ctx, "login:"+email, e.config.RateLimit.Login); err != nil {
		if errors.Is(err, ErrRateLimited) {
			e.metrics.inc(MetricLoginRateLimited)
		}
		return nil, err
	}

	cred, err := e.store.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			// Burn the same hashing cost as the known-email path.
			_, _ = e.hasher.Verify(req.Password, e.dummyHash)
			e.failLogin(ctx, email, "")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}

	ok, err := e.hasher.Verify(req.Password, cred.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !ok {
		e.failLogin(ctx, email, cred.ID)
		return nil, ErrInvalidCredentials
	}

	if cred.TwoFactorEnabled {
		if req.TwoFactorCode == "" {
			challenge, err := e.issueLoginChallenge(ctx, cred.ID)
			if err != nil {
				return nil, err
			}
			e.audit.emit(AuditEvent{Type: AuditLoginTwoFactor, UserID: cred.ID, Email: email, IP: ClientIP(ctx), At: e.now()})
			return &LoginResult{TwoFactorRequired: true, ChallengeToken: challenge, UserID: cred.ID}, nil
		}
		if err := e.verifyTwoFactorCode(ctx, cred.ID, req.TwoFactorCode); err != nil {
			e.failLogin(ctx, email, cred.ID)
			return nil, err
		}
	}

	unlock := e.locks.Lock(cred.ID)
	defer unlock()

	// Reload under the lock so concurrent writers are serialized.
	cred, err = e.store.FindByID(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	cred.LastLogin = e.now()
	pair, err := e.issueTokenPair(cred)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	// The attempt window tracks failures; a success forgives them.
	_ = e.limiter.Clear(ctx, "login:"+email)

	e.metrics.inc(MetricLoginSuccess)
	e.audit.emit(AuditEvent{Type: AuditLoginSuccess, UserID: cred.ID, Email: email, IP: ClientIP(ctx), At: e.now()})
	return &LoginResult{Tokens: pair, UserID: cred.ID}, nil
}

// issueLoginChallenge parks a password-verified login until its second
// factor arrives. Only the token hash is stored.
func (e *Engine) issueLoginChallenge(ctx context.Context, userID string) (string, error) {
	raw, err := internal.NewOpaqueToken()
	if err != nil {
		return "", err
	}
	if err := e.challenges.Put(ctx, hashTokenHex(raw), userID, e.config.TOTP.ChallengeTTL); err != nil {
		return "", err
	}
	return raw, nil
}

// LoginTwoFactor completes a challenged login with a TOTP or backup code.
// The challenge is single use: it survives a wrong code (the verify window
// still bounds attempts) but is consumed by a successful login.
func (e *Engine) LoginTwoFactor(ctx context.Context, challengeToken, code string) (*LoginResult, error) {
	if challengeToken == "" {
		return nil, ErrTwoFactorChallengeInvalid
	}
	hash := hashTokenHex(challengeToken)
	userID, err := e.challenges.Get(ctx, hash)
	if err != nil {
		return nil, err
	}
	if userID == "" {
		return nil, ErrTwoFactorChallengeInvalid
	}

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			_ = e.challenges.Delete(ctx, hash)
			return nil, ErrTwoFactorChallengeInvalid
		}
		return nil, err
	}
	if !cred.TwoFactorEnabled {
		_ = e.challenges.Delete(ctx, hash)
		return nil, ErrTwoFactorChallengeInvalid
	}

	if err := e.verifyTwoFactorCode(ctx, cred.ID, code); err != nil {
		e.failLogin(ctx, cred.Email, cred.ID)
		return nil, err
	}
	_ = e.challenges.Delete(ctx, hash)

	unlock := e.locks.Lock(cred.ID)
	defer unlock()

	cred, err = e.store.FindByID(ctx, cred.ID)
	if err != nil {
		return nil, err
	}
	cred.LastLogin = e.now()
	pair, err := e.issueTokenPair(cred)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	_ = e.limiter.Clear(ctx, "login:"+cred.Email)

	e.metrics.inc(MetricLoginSuccess)
	e.audit.emit(AuditEvent{Type: AuditLoginSuccess, UserID: cred.ID, Email: cred.Email, IP: ClientIP(ctx), At: e.now()})
	return &LoginResult{Tokens: pair, UserID: cred.ID}, nil
}

// verifyTwoFactorCode accepts either a TOTP code or a backup code,
// distinguished by length. Backup codes are consumed under the per-user
// lock so a code cannot be spent twice.
func (e *Engine) verifyTwoFactorCode(ctx context.Context, userID, code string) error {
	if err := e.enforceLimit(ctx, "2fa:verify:"+userID, e.config.RateLimit.TwoFactorVerify); err != nil {
		return err
	}

	if len(code) == e.totp.Digits() {
		cred, err := e.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		ok, err := e.totp.VerifyCode(cred.TwoFactorSecret, code, e.now())
		if err != nil || !ok {
			return ErrTwoFactorCodeInvalid
		}
		return nil
	}

	if len(canonicalBackupCode(code)) == e.config.TOTP.BackupCodeLength {
		unlock := e.locks.Lock(userID)
		defer unlock()
		cred, err := e.loadUser(ctx, userID)
		if err != nil {
			return err
		}
		if !consumeBackupCode(cred, code) {
			return ErrTwoFactorCodeInvalid
		}
		if err := e.store.Save(ctx, cred); err != nil {
			return err
		}
		e.metrics.inc(MetricBackupCodeUses)
		e.audit.emit(AuditEvent{Type: AuditBackupCodeUsed, UserID: userID, IP: ClientIP(ctx), At: e.now()})
		return nil
	}

	return ErrTwoFactorCodeInvalid
}

func (e *Engine) failLogin(ctx context.Context, email, userID string) {
	e.metrics.inc(MetricLoginFailure)
	e.audit.emit(AuditEvent{Type: AuditLoginFailure, UserID: userID, Email: email, IP: ClientIP(ctx), At: e.now()})
}

// Refresh rotates a refresh token: the presented token must verify and
// still be in the account's active set, and is replaced by the new pair's
// token in one save.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	sub, err := e.signer.Verify(refreshToken, jwt.RoleRefresh)
	if err != nil {
		e.metrics.inc(MetricRefreshFailure)
		return nil, ErrRefreshTokenInvalid
	}

	unlock := e.locks.Lock(sub)
	defer unlock()

	cred, err := e.loadUser(ctx, sub)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			e.metrics.inc(MetricRefreshFailure)
			return nil, ErrRefreshTokenInvalid
		}
		return nil, err
	}

	hash := hashTokenHex(refreshToken)
	if !removeRefreshHash(cred, hash) {
		e.metrics.inc(MetricRefreshFailure)
		e.audit.emit(AuditEvent{Type: AuditRefreshFailure, UserID: sub, IP: ClientIP(ctx), At: e.now()})
		return nil, ErrRefreshTokenInvalid
	}

	pair, err := e.issueTokenPair(cred)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	e.metrics.inc(MetricRefreshSuccess)
	e.audit.emit(AuditEvent{Type: AuditRefreshSuccess, UserID: sub, IP: ClientIP(ctx), At: e.now()})
	return pair, nil
}

// Logout revokes one refresh token. Revoking a token that is already gone
// is not an error; the end state is the same.
func (e *Engine) Logout(ctx context.Context, refreshToken string) error {
	sub, err := e.signer.Verify(refreshToken, jwt.RoleRefresh)
	if err != nil {
		return ErrRefreshTokenInvalid
	}

	unlock := e.locks.Lock(sub)
	defer unlock()

	cred, err := e.loadUser(ctx, sub)
	if err != nil {
		if errors.Is(err, ErrUserNotFound) {
			return nil
		}
		return err
	}

	if removeRefreshHash(cred, hashTokenHex(refreshToken)) {
		if err := e.store.Save(ctx, cred); err != nil {
			return err
		}
	}
	e.audit.emit(AuditEvent{Type: AuditLogout, UserID: sub, IP: ClientIP(ctx), At: e.now()})
	return nil
}

func removeRefreshHash(cred *Credential, hash string) bool {
	for i, h := range cred.RefreshTokens {
		if h == hash {
			cred.RefreshTokens = append(cred.RefreshTokens[:i], cred.RefreshTokens[i+1:]...)
			return true
		}
	}
	return false
}
