package auth

import (
	"crypto/subtle"
	"encoding/hex"
	"strings"

	"github.com/scottux/recipe-book-sub002/internal"
)

// generateBackupCodes mints a fresh set of single-use recovery codes and
// returns both the plaintext (shown to the caller exactly once) and the
// stored hash records.
func (e *Engine) generateBackupCodes(userID string) ([]string, []BackupCode, error) {
	count := e.config.TOTP.BackupCodeCount
	length := e.config.TOTP.BackupCodeLength
	plain := make([]string, 0, count)
	records := make([]BackupCode, 0, count)
	for i := 0; i < count; i++ {
		code, err := internal.NewBackupCode(length)
		if err != nil {
			return nil, nil, err
		}
		sum := internal.HashBackupCode(userID, code)
		plain = append(plain, code)
		records = append(records, BackupCode{Hash: hex.EncodeToString(sum[:])})
	}
	return plain, records, nil
}

// canonicalBackupCode normalizes user input before hashing: uppercase, with
// spaces and dashes stripped.
func canonicalBackupCode(input string) string {
	var b strings.Builder
	for _, r := range strings.ToUpper(strings.TrimSpace(input)) {
		if r == ' ' || r == '-' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// consumeBackupCode removes the matching code from the credential. Returns
// false when no code matched. The caller holds the per-user lock and
// persists the credential on success.
func consumeBackupCode(cred *Credential, input string) bool {
	code := canonicalBackupCode(input)
	if code == "" {
		return false
	}
	sum := internal.HashBackupCode(cred.ID, code)
	want := hex.EncodeToString(sum[:])
	for i, rec := range cred.TwoFactorBackupCodes {
		if subtle.ConstantTimeCompare([]byte(rec.Hash), []byte(want)) == 1 {
			cred.TwoFactorBackupCodes = append(
				cred.TwoFactorBackupCodes[:i],
				cred.TwoFactorBackupCodes[i+1:]...,
			)
			return true
		}
	}
	return false
}
