package auth

import (
	"fmt"
	"time"

	"github.com/scottux/recipe-book-sub002/jwt"
	"github.com/scottux/recipe-book-sub002/password"
	"github.com/scottux/recipe-book-sub002/ratelimit"
	"github.com/scottux/recipe-book-sub002/totp"
)

// Config groups every tunable of the engine. Zero values are filled from
// defaultConfig by the builder, so callers only set what they change.
type Config struct {
	JWT               jwt.Config
	Password          password.Config
	TOTP              TOTPConfig
	PasswordReset     PasswordResetConfig
	EmailVerification EmailVerificationConfig
	RateLimit         RateLimitConfig
	Audit             AuditConfig
}

// TOTPConfig tunes two-factor enrollment and verification.
type TOTPConfig struct {
	Codes            totp.Config
	BackupCodeCount  int
	BackupCodeLength int
	// EnrollmentTTL bounds how long a generated secret waits for its
	// confirming code before the pending enrollment is discarded.
	EnrollmentTTL time.Duration
	// ChallengeTTL bounds how long a password-verified login waits for
	// its second factor.
	ChallengeTTL time.Duration
}

// PasswordResetConfig tunes the reset token flow.
type PasswordResetConfig struct {
	TokenTTL time.Duration
	// ResetURLBase is prepended to the raw token when building the link
	// embedded in reset emails.
	ResetURLBase string
	// MinResponseTime is the latency floor applied to reset requests so
	// response timing does not reveal whether the email exists.
	MinResponseTime time.Duration
}

// EmailVerificationConfig tunes the address verification flow.
type EmailVerificationConfig struct {
	TokenTTL            time.Duration
	VerificationURLBase string
}

// RateLimitConfig holds one sliding-window policy per protected route
// family. Keys are derived by the engine (per email, per IP, or per user).
type RateLimitConfig struct {
	Login            ratelimit.Policy // per email
	PasswordChange   ratelimit.Policy // per user
	AccountDeletion  ratelimit.Policy // per user
	TwoFactorVerify  ratelimit.Policy // per user
	TwoFactorManage  ratelimit.Policy // per user
	VerificationSend ratelimit.Policy // per user
	ResetPerEmail    ratelimit.Policy
	ResetPerIP       ratelimit.Policy
	// SweepInterval is passed to the default in-memory limiter backend.
	SweepInterval time.Duration
}

// AuditConfig tunes the audit dispatcher.
type AuditConfig struct {
	// BufferSize is the dispatcher queue depth. Events beyond it are
	// dropped and counted rather than blocking request paths.
	BufferSize int
}

func defaultConfig() Config {
	return Config{
		JWT: jwt.Config{
			AccessTTL:  15 * time.Minute,
			RefreshTTL: 7 * 24 * time.Hour,
			Issuer:     "recipe-book",
		},
		Password: password.Config{
			Memory:      64 * 1024,
			Time:        3,
			Parallelism: 2,
			SaltLength:  16,
			KeyLength:   32,
		},
		TOTP: TOTPConfig{
			Codes: totp.Config{
				Issuer: "recipe-book",
				Digits: 6,
				Period: 30,
				Skew:   2,
			},
			BackupCodeCount:  10,
			BackupCodeLength: 8,
			EnrollmentTTL:    10 * time.Minute,
			ChallengeTTL:     5 * time.Minute,
		},
		PasswordReset: PasswordResetConfig{
			TokenTTL:        15 * time.Minute,
			MinResponseTime: 300 * time.Millisecond,
		},
		EmailVerification: EmailVerificationConfig{
			TokenTTL: 24 * time.Hour,
		},
		RateLimit: RateLimitConfig{
			Login:            ratelimit.Policy{Window: 15 * time.Minute, Limit: 10},
			PasswordChange:   ratelimit.Policy{Window: time.Hour, Limit: 5},
			AccountDeletion:  ratelimit.Policy{Window: time.Hour, Limit: 3},
			TwoFactorVerify:  ratelimit.Policy{Window: 15 * time.Minute, Limit: 5},
			TwoFactorManage:  ratelimit.Policy{Window: time.Hour, Limit: 10},
			VerificationSend: ratelimit.Policy{Window: time.Hour, Limit: 3},
			ResetPerEmail:    ratelimit.Policy{Window: time.Hour, Limit: 3},
			ResetPerIP:       ratelimit.Policy{Window: time.Hour, Limit: 10},
			SweepInterval:    30 * time.Second,
		},
		Audit: AuditConfig{
			BufferSize: 256,
		},
	}
}

// merged overlays non-zero caller fields on the defaults. Policies are taken
// whole when the caller set either field.
func mergedConfig(c Config) Config {
	d := defaultConfig()

	if len(c.JWT.AccessSecret) > 0 {
		d.JWT.AccessSecret = c.JWT.AccessSecret
	}
	if len(c.JWT.RefreshSecret) > 0 {
		d.JWT.RefreshSecret = c.JWT.RefreshSecret
	}
	if c.JWT.AccessTTL > 0 {
		d.JWT.AccessTTL = c.JWT.AccessTTL
	}
	if c.JWT.RefreshTTL > 0 {
		d.JWT.RefreshTTL = c.JWT.RefreshTTL
	}
	if c.JWT.Issuer != "" {
		d.JWT.Issuer = c.JWT.Issuer
	}
	if c.JWT.Leeway > 0 {
		d.JWT.Leeway = c.JWT.Leeway
	}

	if c.Password.Memory > 0 {
		d.Password = c.Password
	}

	if c.TOTP.Codes.Issuer != "" {
		d.TOTP.Codes.Issuer = c.TOTP.Codes.Issuer
	}
	if c.TOTP.Codes.Digits > 0 {
		d.TOTP.Codes.Digits = c.TOTP.Codes.Digits
	}
	if c.TOTP.Codes.Period > 0 {
		d.TOTP.Codes.Period = c.TOTP.Codes.Period
	}
	if c.TOTP.Codes.Skew > 0 {
		d.TOTP.Codes.Skew = c.TOTP.Codes.Skew
	}
	if c.TOTP.Codes.Algorithm != "" {
		d.TOTP.Codes.Algorithm = c.TOTP.Codes.Algorithm
	}
	if c.TOTP.BackupCodeCount > 0 {
		d.TOTP.BackupCodeCount = c.TOTP.BackupCodeCount
	}
	if c.TOTP.BackupCodeLength > 0 {
		d.TOTP.BackupCodeLength = c.TOTP.BackupCodeLength
	}
	if c.TOTP.EnrollmentTTL > 0 {
		d.TOTP.EnrollmentTTL = c.TOTP.EnrollmentTTL
	}
	if c.TOTP.ChallengeTTL > 0 {
		d.TOTP.ChallengeTTL = c.TOTP.ChallengeTTL
	}

	if c.PasswordReset.TokenTTL > 0 {
		d.PasswordReset.TokenTTL = c.PasswordReset.TokenTTL
	}
	if c.PasswordReset.ResetURLBase != "" {
		d.PasswordReset.ResetURLBase = c.PasswordReset.ResetURLBase
	}
	if c.PasswordReset.MinResponseTime > 0 {
		d.PasswordReset.MinResponseTime = c.PasswordReset.MinResponseTime
	}

	if c.EmailVerification.TokenTTL > 0 {
		d.EmailVerification.TokenTTL = c.EmailVerification.TokenTTL
	}
	if c.EmailVerification.VerificationURLBase != "" {
		d.EmailVerification.VerificationURLBase = c.EmailVerification.VerificationURLBase
	}

	d.RateLimit = mergedRateLimit(c.RateLimit, d.RateLimit)

	if c.Audit.BufferSize > 0 {
		d.Audit.BufferSize = c.Audit.BufferSize
	}

	return d
}

func mergedRateLimit(c, d RateLimitConfig) RateLimitConfig {
	override := func(p, def ratelimit.Policy) ratelimit.Policy {
		if p.Limit > 0 || p.Window > 0 {
			return p
		}
		return def
	}
	d.Login = override(c.Login, d.Login)
	d.PasswordChange = override(c.PasswordChange, d.PasswordChange)
	d.AccountDeletion = override(c.AccountDeletion, d.AccountDeletion)
	d.TwoFactorVerify = override(c.TwoFactorVerify, d.TwoFactorVerify)
	d.TwoFactorManage = override(c.TwoFactorManage, d.TwoFactorManage)
	d.VerificationSend = override(c.VerificationSend, d.VerificationSend)
	d.ResetPerEmail = override(c.ResetPerEmail, d.ResetPerEmail)
	d.ResetPerIP = override(c.ResetPerIP, d.ResetPerIP)
	if c.SweepInterval > 0 {
		d.SweepInterval = c.SweepInterval
	}
	return d
}

// validate rejects configurations the engine cannot run with. Secrets are
// mandatory; everything else has a default.
func (c Config) validate() error {
	if len(c.JWT.AccessSecret) == 0 || len(c.JWT.RefreshSecret) == 0 {
		return fmt.Errorf("%w: jwt secrets required", ErrEngineNotReady)
	}
	policies := []ratelimit.Policy{
		c.RateLimit.Login, c.RateLimit.PasswordChange, c.RateLimit.AccountDeletion,
		c.RateLimit.TwoFactorVerify, c.RateLimit.TwoFactorManage,
		c.RateLimit.VerificationSend, c.RateLimit.ResetPerEmail, c.RateLimit.ResetPerIP,
	}
	for _, p := range policies {
		if p.Limit <= 0 || p.Window <= 0 {
			return fmt.Errorf("%w: rate limit policy needs positive limit and window", ErrEngineNotReady)
		}
	}
	return nil
}
