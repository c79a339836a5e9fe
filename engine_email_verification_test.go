package auth

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestVerifyEmailHappyPath(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	raw := f.mailer.lastVerification(t).VerificationURL
	res, err := f.engine.VerifyEmail(ctx, raw)
	if err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	if res.AlreadyVerified {
		t.Fatal("first verification must not report AlreadyVerified")
	}

	stored := f.store.get(t, reg.UserID)
	if !stored.EmailVerified {
		t.Fatal("EmailVerified not set")
	}
}

func TestVerifyEmailRepeatIsNoOpSuccess(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	raw := f.mailer.lastVerification(t).VerificationURL
	if _, err := f.engine.VerifyEmail(ctx, raw); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	// Clicking the same link again reports success, not an error.
	res, err := f.engine.VerifyEmail(ctx, raw)
	if err != nil {
		t.Fatalf("repeat verification must succeed: %v", err)
	}
	if !res.AlreadyVerified {
		t.Fatal("expected AlreadyVerified")
	}
	if !f.store.get(t, reg.UserID).EmailVerified {
		t.Fatal("verification must be monotonic")
	}

	// Still a success after the token's own window has passed.
	f.clock.Advance(f.engine.config.EmailVerification.TokenTTL + time.Hour)
	res, err = f.engine.VerifyEmail(ctx, raw)
	if err != nil || !res.AlreadyVerified {
		t.Fatalf("late replay must stay a no-op success, got %v", err)
	}
}

func TestVerifyEmailRejectsUnknownAndExpiredTokens(t *testing.T) {
	f := newTestEngine(t)
	f.register(t, "alice@example.com")
	ctx := context.Background()

	if _, err := f.engine.VerifyEmail(ctx, "bogus"); !errors.Is(err, ErrVerificationTokenInvalid) {
		t.Fatalf("expected ErrVerificationTokenInvalid, got %v", err)
	}

	raw := f.mailer.lastVerification(t).VerificationURL
	f.clock.Advance(f.engine.config.EmailVerification.TokenTTL + time.Minute)
	if _, err := f.engine.VerifyEmail(ctx, raw); !errors.Is(err, ErrVerificationTokenInvalid) {
		t.Fatalf("expired token: expected ErrVerificationTokenInvalid, got %v", err)
	}
}

func TestSendVerificationEmailReissuesToken(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	first := f.mailer.lastVerification(t).VerificationURL
	if err := f.engine.SendVerificationEmail(ctx, reg.UserID); err != nil {
		t.Fatalf("SendVerificationEmail failed: %v", err)
	}
	second := f.mailer.lastVerification(t).VerificationURL
	if first == second {
		t.Fatal("resend must mint a fresh token")
	}

	// The old link is dead once replaced.
	if _, err := f.engine.VerifyEmail(ctx, first); !errors.Is(err, ErrVerificationTokenInvalid) {
		t.Fatalf("replaced token must fail, got %v", err)
	}
	if _, err := f.engine.VerifyEmail(ctx, second); err != nil {
		t.Fatalf("latest token must verify: %v", err)
	}
}

func TestSendVerificationEmailVerifiedAccountIsNoOp(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	raw := f.mailer.lastVerification(t).VerificationURL
	if _, err := f.engine.VerifyEmail(ctx, raw); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}

	sent := len(f.mailer.verifications)
	if err := f.engine.SendVerificationEmail(ctx, reg.UserID); err != nil {
		t.Fatalf("send to verified account must succeed silently: %v", err)
	}
	if len(f.mailer.verifications) != sent {
		t.Fatal("no mail may be sent to a verified address")
	}
}

func TestSendVerificationEmailBudget(t *testing.T) {
	f := newTestEngine(t)
	reg := f.register(t, "alice@example.com")
	ctx := context.Background()

	// Registration already consumed one send.
	limit := f.engine.config.RateLimit.VerificationSend.Limit
	for i := 1; i < limit; i++ {
		if err := f.engine.SendVerificationEmail(ctx, reg.UserID); err != nil {
			t.Fatalf("send %d failed: %v", i, err)
		}
	}
	if err := f.engine.SendVerificationEmail(ctx, reg.UserID); !errors.Is(err, ErrRateLimited) {
		t.Fatalf("expected rate limit, got %v", err)
	}
}
