package auth

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/scottux/recipe-book-sub002/password"
)

// Register creates a credential record, issues an initial token pair, and
// sends the verification email. A mail failure does not undo registration;
// the user can request another verification email later.
func (e *Engine) Register(ctx context.Context, req RegisterRequest) (*RegisterResult, error) {
	email := normalizeEmail(req.Email)
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, ErrInvalidEmail
	}
	username := strings.TrimSpace(req.Username)
	if username == "" {
		username = email
	}
	if err := password.CheckStrength(req.Password); err != nil {
		return nil, err
	}

	if _, err := e.store.FindByEmail(ctx, email); err == nil {
		return nil, ErrEmailTaken
	} else if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}
	if existing, err := e.store.FindByUsername(ctx, username); err == nil && existing != nil {
		return nil, ErrUsernameTaken
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	hash, err := e.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}

	cred := &Credential{
		ID:           uuid.NewString(),
		Email:        email,
		Username:     username,
		PasswordHash: hash,
		CreatedAt:    e.now(),
	}

	rawVerification, err := e.prepareVerificationToken(cred)
	if err != nil {
		return nil, err
	}
	pair, err := e.issueTokenPair(cred)
	if err != nil {
		return nil, err
	}
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}

	// Best effort; the send budget is recorded so a failed delivery still
	// counts toward the resend policy. An undelivered token is rolled
	// back rather than left dangling.
	_ = e.limiter.Record(ctx, "verifymail:"+cred.ID, e.config.RateLimit.VerificationSend)
	if err := e.mailer.SendVerificationEmail(ctx, VerificationEmail{
		To:              cred.Email,
		Username:        cred.Username,
		VerificationURL: e.verificationURL(rawVerification),
	}); err != nil {
		cred.VerificationToken = nil
		_ = e.store.Save(ctx, cred)
	}

	e.metrics.inc(MetricRegistrations)
	e.audit.emit(AuditEvent{Type: AuditRegister, UserID: cred.ID, Email: email, IP: ClientIP(ctx), At: e.now()})
	return &RegisterResult{UserID: cred.ID, Email: email, Tokens: pair}, nil
}

// Profile returns the caller-visible view of an account.
func (e *Engine) Profile(ctx context.Context, userID string) (*Profile, error) {
	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return profileOf(cred), nil
}

// UpdateProfile changes the display username. Email changes are not
// supported here; they would need a fresh verification flow.
func (e *Engine) UpdateProfile(ctx context.Context, userID, username string) (*Profile, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	if existing, err := e.store.FindByUsername(ctx, username); err == nil && existing.ID != userID {
		return nil, ErrUsernameTaken
	} else if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	cred.Username = username
	if err := e.store.Save(ctx, cred); err != nil {
		return nil, err
	}
	return profileOf(cred), nil
}

// ChangePassword requires the current password even on an authenticated
// session. Every attempt, right or wrong, consumes the change budget; a
// successful change clears it. Existing sessions stay valid.
func (e *Engine) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	key := "pwchange:" + userID
	if err := e.enforceLimit(ctx, key, e.config.RateLimit.PasswordChange); err != nil {
		return err
	}
	if err := password.CheckStrength(newPassword); err != nil {
		return err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	same, err := e.hasher.Verify(newPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if same {
		return ErrPasswordReuse
	}

	hash, err := e.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	cred.PasswordHash = hash
	if err := e.store.Save(ctx, cred); err != nil {
		return err
	}

	_ = e.limiter.Clear(ctx, key)
	e.metrics.inc(MetricPasswordChanges)
	e.audit.emit(AuditEvent{Type: AuditPasswordChanged, UserID: userID, IP: ClientIP(ctx), At: e.now()})
	return nil
}

// DeleteAccount removes the account and everything it owns. Owned data goes
// first; when the cascade fails the credential record is kept so the
// account never ends up half-deleted and orphaned.
func (e *Engine) DeleteAccount(ctx context.Context, userID, currentPassword string) error {
	if err := e.enforceLimit(ctx, "delete:"+userID, e.config.RateLimit.AccountDeletion); err != nil {
		return err
	}

	unlock := e.locks.Lock(userID)
	defer unlock()

	cred, err := e.loadUser(ctx, userID)
	if err != nil {
		return err
	}

	ok, err := e.hasher.Verify(currentPassword, cred.PasswordHash)
	if err != nil {
		return err
	}
	if !ok {
		return ErrInvalidCredentials
	}

	if e.cascade != nil {
		if err := e.cascade.DeleteOwnedData(ctx, userID); err != nil {
			return fmt.Errorf("%w: %v", ErrCascadeFailed, err)
		}
	}
	if err := e.store.DeleteByID(ctx, userID); err != nil {
		return err
	}

	_ = e.enroll.Delete(ctx, userID)
	for _, key := range []string{
		"pwchange:" + userID, "delete:" + userID,
		"2fa:verify:" + userID, "2fa:manage:" + userID,
		"verifymail:" + userID,
	} {
		_ = e.limiter.Clear(ctx, key)
	}

	e.metrics.inc(MetricAccountDeletions)
	e.audit.emit(AuditEvent{Type: AuditAccountDeleted, UserID: userID, Email: cred.Email, IP: ClientIP(ctx), At: e.now()})
	return nil
}

func profileOf(cred *Credential) *Profile {
	return &Profile{
		ID:               cred.ID,
		Email:            cred.Email,
		Username:         cred.Username,
		EmailVerified:    cred.EmailVerified,
		TwoFactorEnabled: cred.TwoFactorEnabled,
		LastLogin:        cred.LastLogin,
		CreatedAt:        cred.CreatedAt,
	}
}
