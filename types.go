package auth

import (
	"context"
	"time"
)

// Credential is the persistent record the engine reads and writes for one
// account. Stores persist it opaquely; the engine owns every field.
type Credential struct {
	ID           string
	Email        string // lowercased at registration
	Username     string
	PasswordHash string // argon2id PHC string

	// RefreshTokens holds hex-encoded SHA-256 hashes of the refresh
	// tokens currently accepted for this account. Raw tokens are never
	// stored.
	RefreshTokens []string

	ResetToken        *ResetToken
	VerificationToken *VerificationToken

	EmailVerified bool

	TwoFactorEnabled     bool
	TwoFactorSecret      []byte
	TwoFactorBackupCodes []BackupCode

	LastLogin time.Time
	CreatedAt time.Time
}

// ResetToken is the stored side of a password-reset token. At most one per
// account; issuing a new one replaces it.
type ResetToken struct {
	Hash      string // hex-encoded SHA-256 of the raw token
	ExpiresAt time.Time
	Used      bool
}

// VerificationToken is the stored side of an email-verification token.
type VerificationToken struct {
	Hash      string
	ExpiresAt time.Time
}

// BackupCode is one single-use two-factor recovery code. Consuming a code
// removes it from the slice.
type BackupCode struct {
	Hash string // hex-encoded SHA-256 of userID:code
}

// UserStore is the persistence contract. Lookups that match nothing return
// ErrUserNotFound. Save upserts by ID.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*Credential, error)
	FindByID(ctx context.Context, id string) (*Credential, error)
	FindByResetTokenHash(ctx context.Context, hash string) (*Credential, error)
	FindByVerificationTokenHash(ctx context.Context, hash string) (*Credential, error)
	FindByUsername(ctx context.Context, username string) (*Credential, error)
	Save(ctx context.Context, cred *Credential) error
	DeleteByID(ctx context.Context, id string) error
}

// CascadeDeleter removes everything an account owns outside the credential
// record. DeleteAccount calls it before deleting the credential and aborts
// when it fails.
type CascadeDeleter interface {
	DeleteOwnedData(ctx context.Context, userID string) error
}

// ResetEmail is the payload handed to the Mailer for a password reset.
type ResetEmail struct {
	To            string
	Username      string
	ResetURL      string
	ExpiryMinutes int
}

// VerificationEmail is the payload handed to the Mailer for address
// verification.
type VerificationEmail struct {
	To              string
	Username        string
	VerificationURL string
}

// Mailer delivers outbound mail. Implementations decide transport and
// templating; the engine only supplies the fields above.
type Mailer interface {
	SendPasswordResetEmail(ctx context.Context, email ResetEmail) error
	SendVerificationEmail(ctx context.Context, email VerificationEmail) error
}

// TokenPair is an access/refresh token pair issued at login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// LoginResult is the outcome of a successful credential check. When the
// account has two-factor enabled and no code accompanied the request,
// TwoFactorRequired is true, Tokens is nil, and ChallengeToken completes
// the login through LoginTwoFactor.
type LoginResult struct {
	TwoFactorRequired bool
	ChallengeToken    string
	Tokens            *TokenPair
	UserID            string
}

// RegisterRequest carries the fields Register validates and persists.
type RegisterRequest struct {
	Email    string
	Username string
	Password string
}

// RegisterResult is returned by Register: the new credential's identity plus
// an initial token pair.
type RegisterResult struct {
	UserID string
	Email  string
	Tokens *TokenPair
}

// Profile is the caller-visible projection of a credential record.
type Profile struct {
	ID               string    `json:"id"`
	Email            string    `json:"email"`
	Username         string    `json:"username"`
	EmailVerified    bool      `json:"emailVerified"`
	TwoFactorEnabled bool      `json:"twoFactorEnabled"`
	LastLogin        time.Time `json:"lastLogin"`
	CreatedAt        time.Time `json:"createdAt"`
}

// TwoFactorSetup is returned by TwoFactorSetup while enrollment is pending.
// The secret never round-trips through the client for enablement; it is held
// server-side until TwoFactorEnable confirms it.
type TwoFactorSetup struct {
	SecretBase32    string `json:"secret"`
	ProvisioningURI string `json:"provisioningUri"`
}

// ResetTokenState classifies a presented reset token.
type ResetTokenState int

const (
	ResetTokenNotFound ResetTokenState = iota
	ResetTokenValid
	ResetTokenExpired
	ResetTokenUsed
)

// ResetTokenStatus is the outcome of ValidateResetToken. Email is set only
// when the token matched a record, so reset forms can show the target
// address.
type ResetTokenStatus struct {
	State ResetTokenState
	Email string
}

// VerifyEmailResult reports the outcome of VerifyEmail. AlreadyVerified is
// true when the address was verified before this call; the call still
// succeeds.
type VerifyEmailResult struct {
	AlreadyVerified bool
}
