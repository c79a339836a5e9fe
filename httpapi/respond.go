package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	auth "github.com/scottux/recipe-book-sub002"
	"github.com/scottux/recipe-book-sub002/password"
)

type envelope struct {
	Success    bool        `json:"success"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	RetryAfter int         `json:"retryAfter,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, body envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeData(w http.ResponseWriter, status int, data interface{}) {
	writeJSON(w, status, envelope{Success: true, Data: data})
}

// writeError maps engine errors onto the status taxonomy. Unexpected errors
// collapse to a generic 500 so internals never leak to clients.
func writeError(w http.ResponseWriter, err error) {
	var rle *auth.RateLimitError
	if errors.As(err, &rle) {
		w.Header().Set("Retry-After", strconv.Itoa(rle.RetryAfter))
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(rle.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(rle.Remaining))
		writeJSON(w, http.StatusTooManyRequests, envelope{
			Error:      "Too many requests, please try again later",
			RetryAfter: rle.RetryAfter,
		})
		return
	}

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "Invalid email or password"})
	case errors.Is(err, auth.ErrTwoFactorCodeInvalid):
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "Invalid two-factor code"})
	case errors.Is(err, auth.ErrTwoFactorChallengeInvalid):
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "Invalid or expired login challenge"})
	case errors.Is(err, auth.ErrRefreshTokenInvalid):
		writeJSON(w, http.StatusUnauthorized, envelope{Error: "Invalid refresh token"})
	case errors.Is(err, auth.ErrInvalidEmail):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid email address"})
	case errors.Is(err, auth.ErrInvalidUsername):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid username"})
	case errors.Is(err, auth.ErrEmailTaken):
		writeJSON(w, http.StatusConflict, envelope{Error: "Email already registered"})
	case errors.Is(err, auth.ErrUsernameTaken):
		writeJSON(w, http.StatusConflict, envelope{Error: "Username already taken"})
	case errors.Is(err, password.ErrWeakPassword):
		writeJSON(w, http.StatusBadRequest, envelope{
			Error: "Password must be at least 8 characters with upper case, lower case, and a digit",
		})
	case errors.Is(err, auth.ErrPasswordReuse):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "New password must be different from current password"})
	case errors.Is(err, auth.ErrResetTokenUsed):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Reset link has already been used"})
	case errors.Is(err, auth.ErrResetTokenExpired):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Reset link has expired"})
	case errors.Is(err, auth.ErrResetTokenInvalid):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid reset link"})
	case errors.Is(err, auth.ErrVerificationTokenInvalid):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid or expired verification link"})
	case errors.Is(err, auth.ErrEnrollmentNotFound):
		writeJSON(w, http.StatusBadRequest, envelope{Error: "No pending two-factor setup, start again"})
	case errors.Is(err, auth.ErrTwoFactorAlreadyEnabled):
		writeJSON(w, http.StatusConflict, envelope{Error: "Two-factor authentication is already enabled"})
	case errors.Is(err, auth.ErrTwoFactorNotEnabled):
		writeJSON(w, http.StatusConflict, envelope{Error: "Two-factor authentication is not enabled"})
	case errors.Is(err, auth.ErrUserNotFound):
		writeJSON(w, http.StatusNotFound, envelope{Error: "Account not found"})
	default:
		writeJSON(w, http.StatusInternalServerError, envelope{Error: "Internal server error"})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, envelope{Error: "Invalid request body"})
		return false
	}
	return true
}
