package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned by the builder when a mandatory
	// dependency was not supplied.
	ErrEngineNotReady = errors.New("auth: engine not ready")

	// ErrInvalidCredentials covers every login failure that must stay
	// indistinguishable to the caller: unknown email, wrong password,
	// wrong two-factor code.
	ErrInvalidCredentials = errors.New("auth: invalid email or password")

	// ErrUserNotFound is returned by UserStore lookups that matched no
	// credential record.
	ErrUserNotFound = errors.New("auth: user not found")

	// ErrInvalidEmail is returned by Register when the email does not
	// parse as an address.
	ErrInvalidEmail = errors.New("auth: invalid email address")

	// ErrInvalidUsername is returned when a requested username is empty
	// after trimming.
	ErrInvalidUsername = errors.New("auth: invalid username")

	// ErrEmailTaken is returned by Register when the lowercased email
	// already has a credential record.
	ErrEmailTaken = errors.New("auth: email already registered")

	// ErrUsernameTaken is returned by Register and UpdateProfile when the
	// requested username belongs to another account.
	ErrUsernameTaken = errors.New("auth: username already taken")

	// ErrPasswordReuse is returned by ChangePassword and ResetPassword
	// when the new password verifies against the current hash.
	ErrPasswordReuse = errors.New("auth: new password must differ from current password")

	// ErrRefreshTokenInvalid is returned by Refresh and Logout when the
	// presented token fails signature, role, or expiry checks, or is no
	// longer in the account's active set.
	ErrRefreshTokenInvalid = errors.New("auth: refresh token invalid")

	// ErrResetTokenInvalid is returned when a reset token matches no
	// stored hash.
	ErrResetTokenInvalid = errors.New("auth: reset token invalid")

	// ErrResetTokenExpired is returned when a reset token matched but its
	// validity window has passed.
	ErrResetTokenExpired = errors.New("auth: reset token expired")

	// ErrResetTokenUsed is returned when a reset token matched but was
	// already consumed.
	ErrResetTokenUsed = errors.New("auth: reset token already used")

	// ErrVerificationTokenInvalid is returned by VerifyEmail when the
	// token matches no stored hash or has expired.
	ErrVerificationTokenInvalid = errors.New("auth: verification token invalid or expired")

	// ErrTwoFactorCodeInvalid is returned when a TOTP or backup code does
	// not verify.
	ErrTwoFactorCodeInvalid = errors.New("auth: two-factor code invalid")

	// ErrTwoFactorNotEnabled is returned by operations that require an
	// active enrollment.
	ErrTwoFactorNotEnabled = errors.New("auth: two-factor not enabled")

	// ErrTwoFactorAlreadyEnabled is returned by TwoFactorSetup when the
	// account already has an active enrollment.
	ErrTwoFactorAlreadyEnabled = errors.New("auth: two-factor already enabled")

	// ErrEnrollmentNotFound is returned by TwoFactorEnable when no pending
	// enrollment exists for the account or it has expired.
	ErrEnrollmentNotFound = errors.New("auth: no pending two-factor enrollment")

	// ErrTwoFactorChallengeInvalid is returned by LoginTwoFactor when the
	// challenge token matches no live challenge: unknown, expired, or
	// already consumed.
	ErrTwoFactorChallengeInvalid = errors.New("auth: two-factor challenge invalid or expired")

	// ErrCascadeFailed is returned by DeleteAccount when owned-data
	// deletion failed; the credential record is left intact.
	ErrCascadeFailed = errors.New("auth: owned data deletion failed")

	// ErrRateLimited is the sentinel matched by errors.Is against every
	// *RateLimitError.
	ErrRateLimited = errors.New("auth: rate limited")
)

// RateLimitError carries the budget details of a denied request so transports
// can emit Retry-After and X-RateLimit headers.
type RateLimitError struct {
	Limit      int
	Remaining  int
	RetryAfter int // seconds until the oldest counted event ages out
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("auth: rate limited, retry after %ds", e.RetryAfter)
}

// Is makes errors.Is(err, ErrRateLimited) match.
func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }
