package password

import (
	"errors"
	"unicode"
)

// ErrWeakPassword is returned when a candidate password fails the policy.
var ErrWeakPassword = errors.New("password must be at least 8 characters with an uppercase letter, a lowercase letter, and a digit")

// CheckStrength enforces the policy applied to every new password:
// at least 8 characters, one uppercase letter, one lowercase letter,
// and one digit.
func CheckStrength(candidate string) error {
	if len([]rune(candidate)) < 8 {
		return ErrWeakPassword
	}

	var upper, lower, digit bool
	for _, r := range candidate {
		switch {
		case unicode.IsUpper(r):
			upper = true
		case unicode.IsLower(r):
			lower = true
		case unicode.IsDigit(r):
			digit = true
		}
	}

	if !upper || !lower || !digit {
		return ErrWeakPassword
	}
	return nil
}
