package auth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestTwoFactorSetupKeepsSecretServerSide(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")

	setup, err := f.engine.TwoFactorSetup(context.Background(), reg.UserID)
	if err != nil {
		t.Fatalf("TwoFactorSetup failed: %v", err)
	}
	if setup.SecretBase32 == "" {
		t.Fatal("expected a secret for the authenticator app")
	}
	if !strings.Contains(setup.ProvisioningURI, "otpauth://totp/") {
		t.Fatalf("unexpected provisioning URI: %s", setup.ProvisioningURI)
	}
	if !strings.Contains(setup.ProvisioningURI, "alice@example.com") {
		t.Fatalf("provisioning URI must label the account: %s", setup.ProvisioningURI)
	}

	// Nothing touches the credential record until the code is confirmed.
	stored := f.store.get(t, reg.UserID)
	if stored.TwoFactorEnabled || len(stored.TwoFactorSecret) != 0 {
		t.Fatal("setup must not persist anything")
	}
}

func TestTwoFactorEnableRejectsWrongCode(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	if _, err := f.engine.TwoFactorEnable(ctx, reg.UserID, "123456"); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatalf("enable without setup: expected ErrEnrollmentNotFound, got %v", err)
	}

	if _, err := f.engine.TwoFactorSetup(ctx, reg.UserID); err != nil {
		t.Fatalf("TwoFactorSetup failed: %v", err)
	}
	if _, err := f.engine.TwoFactorEnable(ctx, reg.UserID, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}
	if f.store.get(t, reg.UserID).TwoFactorEnabled {
		t.Fatal("failed confirmation must not enable")
	}
}

func TestTwoFactorEnableActivatesAndMintsBackupCodes(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")

	codes := enableTwoFactor(t, f, reg.UserID)
	if len(codes) != f.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("expected %d backup codes, got %d", f.engine.config.TOTP.BackupCodeCount, len(codes))
	}
	seen := make(map[string]bool, len(codes))
	for _, code := range codes {
		if len(code) != f.engine.config.TOTP.BackupCodeLength {
			t.Fatalf("code %q has wrong length", code)
		}
		if seen[code] {
			t.Fatalf("duplicate backup code %q", code)
		}
		seen[code] = true
	}

	stored := f.store.get(t, reg.UserID)
	if !stored.TwoFactorEnabled || len(stored.TwoFactorSecret) == 0 {
		t.Fatal("enrollment not persisted")
	}
	for _, rec := range stored.TwoFactorBackupCodes {
		if seen[rec.Hash] {
			t.Fatal("plaintext backup code stored")
		}
	}
	if secret, err := f.engine.enroll.Get(context.Background(), reg.UserID); err != nil || secret != nil {
		t.Fatal("pending enrollment must be discarded after activation")
	}
}

func TestTwoFactorPendingEnrollmentExpires(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	if _, err := f.engine.TwoFactorSetup(ctx, reg.UserID); err != nil {
		t.Fatalf("TwoFactorSetup failed: %v", err)
	}
	secret, err := f.engine.enroll.Get(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("enrollment lookup failed: %v", err)
	}
	if secret == nil {
		t.Fatal("no pending enrollment")
	}

	f.clock.Advance(f.engine.config.TOTP.EnrollmentTTL + time.Minute)
	code, err := f.engine.totp.GenerateCode(secret, f.clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	if _, err := f.engine.TwoFactorEnable(ctx, reg.UserID, code); !errors.Is(err, ErrEnrollmentNotFound) {
		t.Fatalf("expired enrollment: expected ErrEnrollmentNotFound, got %v", err)
	}
}

func TestTwoFactorSetupWhileEnabled(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	enableTwoFactor(t, f, reg.UserID)

	if _, err := f.engine.TwoFactorSetup(context.Background(), reg.UserID); !errors.Is(err, ErrTwoFactorAlreadyEnabled) {
		t.Fatalf("expected ErrTwoFactorAlreadyEnabled, got %v", err)
	}
}

func TestTwoFactorDisable(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	enableTwoFactor(t, f, reg.UserID)
	ctx := context.Background()

	if err := f.engine.TwoFactorDisable(ctx, reg.UserID, "WrongPass1"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := f.engine.TwoFactorDisable(ctx, reg.UserID, testPassword); err != nil {
		t.Fatalf("TwoFactorDisable failed: %v", err)
	}

	stored := f.store.get(t, reg.UserID)
	if stored.TwoFactorEnabled || len(stored.TwoFactorSecret) != 0 || len(stored.TwoFactorBackupCodes) != 0 {
		t.Fatal("disable must clear the secret and backup codes together")
	}

	if err := f.engine.TwoFactorDisable(ctx, reg.UserID, testPassword); !errors.Is(err, ErrTwoFactorNotEnabled) {
		t.Fatalf("expected ErrTwoFactorNotEnabled, got %v", err)
	}

	// Login no longer asks for a second factor.
	res, err := f.engine.Login(ctx, LoginRequest{Email: "alice@example.com", Password: testPassword})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.TwoFactorRequired {
		t.Fatal("second factor still demanded after disable")
	}
}

func TestTwoFactorState(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	status, err := f.engine.TwoFactorState(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("TwoFactorState failed: %v", err)
	}
	if status.Enabled || status.BackupCodesRemaining != 0 {
		t.Fatalf("fresh account: unexpected state %+v", status)
	}

	codes := enableTwoFactor(t, f, reg.UserID)
	status, _ = f.engine.TwoFactorState(ctx, reg.UserID)
	if !status.Enabled || status.BackupCodesRemaining != len(codes) {
		t.Fatalf("after enable: unexpected state %+v", status)
	}

	if _, err := f.engine.Login(ctx, LoginRequest{
		Email: "alice@example.com", Password: testPassword, TwoFactorCode: codes[0],
	}); err != nil {
		t.Fatalf("backup code login failed: %v", err)
	}
	status, _ = f.engine.TwoFactorState(ctx, reg.UserID)
	if status.BackupCodesRemaining != len(codes)-1 {
		t.Fatalf("expected %d remaining, got %d", len(codes)-1, status.BackupCodesRemaining)
	}
}

func TestRegenerateBackupCodesInvalidatesOldSet(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	old := enableTwoFactor(t, f, reg.UserID)
	ctx := context.Background()

	if _, err := f.engine.RegenerateBackupCodes(ctx, reg.UserID, "000000"); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("expected ErrTwoFactorCodeInvalid, got %v", err)
	}

	fresh, err := f.engine.RegenerateBackupCodes(ctx, reg.UserID, currentTOTP(t, f, reg.UserID))
	if err != nil {
		t.Fatalf("RegenerateBackupCodes failed: %v", err)
	}
	if len(fresh) != f.engine.config.TOTP.BackupCodeCount {
		t.Fatalf("expected a full new set, got %d", len(fresh))
	}

	if _, err := f.engine.Login(ctx, LoginRequest{
		Email: "alice@example.com", Password: testPassword, TwoFactorCode: old[0],
	}); !errors.Is(err, ErrTwoFactorCodeInvalid) {
		t.Fatalf("old backup code must be dead, got %v", err)
	}
	if _, err := f.engine.Login(ctx, LoginRequest{
		Email: "alice@example.com", Password: testPassword, TwoFactorCode: fresh[0],
	}); err != nil {
		t.Fatalf("new backup code must work: %v", err)
	}
}

func TestBackupCodeInputIsCanonicalized(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	codes := enableTwoFactor(t, f, reg.UserID)

	// Lowercase with a separator still matches.
	mangled := strings.ToLower(codes[0][:4]) + "-" + strings.ToLower(codes[0][4:])
	if _, err := f.engine.Login(context.Background(), LoginRequest{
		Email: "alice@example.com", Password: testPassword, TwoFactorCode: mangled,
	}); err != nil {
		t.Fatalf("canonicalized backup code must verify: %v", err)
	}
}

func TestTwoFactorEnrollmentSharedAcrossInstances(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := newFakeStore()
	clock := newTestClock()
	build := func() *Engine {
		e, err := New().
			WithConfig(testConfig()).
			WithStore(store).
			WithMailer(&fakeMailer{}).
			WithRedis(client).
			WithClock(clock.Now).
			Build()
		if err != nil {
			t.Fatalf("Build failed: %v", err)
		}
		t.Cleanup(func() { _ = e.Close() })
		return e
	}
	first := build()
	second := build()
	ctx := context.Background()

	reg, err := first.Register(ctx, RegisterRequest{
		Email:    "alice@example.com",
		Username: "alice",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	// Setup on one instance, confirm on the other.
	if _, err := first.TwoFactorSetup(ctx, reg.UserID); err != nil {
		t.Fatalf("TwoFactorSetup failed: %v", err)
	}
	secret, err := second.enroll.Get(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("enrollment lookup on the second instance failed: %v", err)
	}
	if secret == nil {
		t.Fatal("pending enrollment not visible on the second instance")
	}
	code, err := second.totp.GenerateCode(secret, clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	codes, err := second.TwoFactorEnable(ctx, reg.UserID, code)
	if err != nil {
		t.Fatalf("TwoFactorEnable on the second instance failed: %v", err)
	}
	if len(codes) == 0 {
		t.Fatal("expected backup codes from the confirming instance")
	}

	// A login challenge started on one instance completes on the other.
	challenge, err := first.Login(ctx, LoginRequest{
		Email:    "alice@example.com",
		Password: testPassword,
	})
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if !challenge.TwoFactorRequired {
		t.Fatal("expected a two-factor challenge")
	}
	stored, err := store.FindByID(ctx, reg.UserID)
	if err != nil {
		t.Fatalf("FindByID failed: %v", err)
	}
	totpCode, err := second.totp.GenerateCode(stored.TwoFactorSecret, clock.Now())
	if err != nil {
		t.Fatalf("GenerateCode failed: %v", err)
	}
	res, err := second.LoginTwoFactor(ctx, challenge.ChallengeToken, totpCode)
	if err != nil {
		t.Fatalf("LoginTwoFactor on the second instance failed: %v", err)
	}
	if res.Tokens == nil {
		t.Fatal("expected a token pair")
	}
}
