package auth

import (
	"context"
	"errors"
	"testing"

	"github.com/scottux/recipe-book-sub002/password"
)

func TestRegisterNormalizesEmailAndSendsVerification(t *testing.T) {
	f := newTestEngine(t)

	res, err := f.engine.Register(context.Background(), RegisterRequest{
		Email:    "  Alice@Example.COM ",
		Username: "alice",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if res.Email != "alice@example.com" {
		t.Fatalf("expected lowercased email, got %s", res.Email)
	}
	if res.Tokens == nil {
		t.Fatal("expected an initial token pair")
	}

	mail := f.mailer.lastVerification(t)
	if mail.To != "alice@example.com" {
		t.Fatalf("verification sent to %s", mail.To)
	}

	stored := f.store.get(t, res.UserID)
	if stored.EmailVerified {
		t.Fatal("new accounts start unverified")
	}
	if stored.VerificationToken == nil {
		t.Fatal("expected a stored verification token")
	}
}

func TestRegisterRejectsDuplicatesAndWeakPasswords(t *testing.T) {
	f := newTestEngine(t)
	f.register(t, "alice@example.com")

	_, err := f.engine.Register(context.Background(), RegisterRequest{
		Email:    "ALICE@example.com",
		Username: "someone-else",
		Password: testPassword,
	})
	if !errors.Is(err, ErrEmailTaken) {
		t.Fatalf("expected ErrEmailTaken, got %v", err)
	}

	_, err = f.engine.Register(context.Background(), RegisterRequest{
		Email:    "bob@example.com",
		Username: "alice@example.com",
		Password: testPassword,
	})
	if !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}

	for _, weak := range []string{"short1A", "alllowercase1", "ALLUPPERCASE1", "NoDigitsHere"} {
		_, err := f.engine.Register(context.Background(), RegisterRequest{
			Email:    "carol@example.com",
			Password: weak,
		})
		if !errors.Is(err, password.ErrWeakPassword) {
			t.Fatalf("password %q: expected ErrWeakPassword, got %v", weak, err)
		}
	}
}

func TestChangePassword(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	if err := f.engine.ChangePassword(ctx, reg.UserID, "WrongPass1", "NewSecret99"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("wrong current password: expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, reg.UserID, testPassword, testPassword); !errors.Is(err, ErrPasswordReuse) {
		t.Fatalf("same password: expected ErrPasswordReuse, got %v", err)
	}
	if err := f.engine.ChangePassword(ctx, reg.UserID, testPassword, "weak"); !errors.Is(err, password.ErrWeakPassword) {
		t.Fatalf("weak password: expected ErrWeakPassword, got %v", err)
	}

	if err := f.engine.ChangePassword(ctx, reg.UserID, testPassword, "NewSecret99"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword}); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("old password must stop working, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: "NewSecret99"}); err != nil {
		t.Fatalf("new password must work: %v", err)
	}
}

func TestChangePasswordKeepsSessionsAlive(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	res, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if err := f.engine.ChangePassword(ctx, reg.UserID, testPassword, "NewSecret99"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}

	// A deliberate change is not a compromise signal; sessions survive.
	if _, err := f.engine.Refresh(ctx, res.Tokens.RefreshToken); err != nil {
		t.Fatalf("refresh token must survive a password change: %v", err)
	}
}

func TestChangePasswordBudgetClearsOnSuccess(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	limit := f.engine.config.RateLimit.PasswordChange.Limit
	for i := 0; i < limit-1; i++ {
		if err := f.engine.ChangePassword(ctx, reg.UserID, "WrongPass1", "NewSecret99"); !errors.Is(err, ErrInvalidCredentials) {
			t.Fatalf("attempt %d: expected ErrInvalidCredentials, got %v", i, err)
		}
	}
	// Last try inside the budget succeeds and clears the counter.
	if err := f.engine.ChangePassword(ctx, reg.UserID, testPassword, "NewSecret99"); err != nil {
		t.Fatalf("ChangePassword failed: %v", err)
	}
	if err := f.engine.ChangePassword(ctx, reg.UserID, "NewSecret99", "NewerSecret100"); err != nil {
		t.Fatalf("budget should have been cleared: %v", err)
	}
}

func TestDeleteAccountRequiresPassword(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")

	err := f.engine.DeleteAccount(context.Background(), reg.UserID, "WrongPass1")
	if !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	f.store.get(t, reg.UserID)
}

func TestDeleteAccountAbortsWhenCascadeFails(t *testing.T) {
	cascade := &fakeCascade{fail: true}
	f := newTestEngine(t, func(b *Builder) { b.WithCascade(cascade) })
	reg := f.register(t, "alice@example.com")

	err := f.engine.DeleteAccount(context.Background(), reg.UserID, testPassword)
	if !errors.Is(err, ErrCascadeFailed) {
		t.Fatalf("expected ErrCascadeFailed, got %v", err)
	}
	// The credential must survive; a half-deleted account is worse than a
	// failed delete.
	f.store.get(t, reg.UserID)
}

func TestDeleteAccountCascadesThenRemovesCredential(t *testing.T) {
	cascade := &fakeCascade{}
	f := newTestEngine(t, func(b *Builder) { b.WithCascade(cascade) })
	reg := f.register(t, "alice@example.com")

	if err := f.engine.DeleteAccount(context.Background(), reg.UserID, testPassword); err != nil {
		t.Fatalf("DeleteAccount failed: %v", err)
	}
	if len(cascade.called) != 1 || cascade.called[0] != reg.UserID {
		t.Fatalf("cascade not invoked for %s: %v", reg.UserID, cascade.called)
	}
	if _, err := f.engine.Profile(context.Background(), reg.UserID); !errors.Is(err, ErrUserNotFound) {
		t.Fatalf("expected ErrUserNotFound after deletion, got %v", err)
	}
}

func TestProfileAndUpdate(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	f.register(t, "bob@example.com")
	ctx := context.Background()

	p, err := f.engine.Profile(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("Profile failed: %v", err)
	}
	if p.Email != "alice@example.com" || p.TwoFactorEnabled || p.EmailVerified {
		t.Fatalf("unexpected profile: %+v", p)
	}

	if _, err := f.engine.UpdateProfile(ctx, reg.UserID, "bob@example.com"); !errors.Is(err, ErrUsernameTaken) {
		t.Fatalf("expected ErrUsernameTaken, got %v", err)
	}
	updated, err := f.engine.UpdateProfile(ctx, reg.UserID, "alice-cooks")
	if err != nil {
		t.Fatalf("UpdateProfile failed: %v", err)
	}
	if updated.Username != "alice-cooks" {
		t.Fatalf("username not updated: %s", updated.Username)
	}
}

func TestRegisterRollsBackVerificationTokenOnMailFailure(t *testing.T) {
	f := newTestEngine(t)
	f.mailer.failVerify = true

	res, err := f.engine.Register(context.Background(), RegisterRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("a failed send must not fail registration: %v", err)
	}

	// No live token may be left behind for a mail that never went out.
	if f.store.get(t, res.UserID).VerificationToken != nil {
		t.Fatal("undelivered verification token not rolled back")
	}
}
