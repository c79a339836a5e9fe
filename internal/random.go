package internal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"math/big"
	"strings"
)

const opaqueTokenBytes = 32

// BackupCodeAlphabet excludes easily confused characters (I, O, 0, 1).
const BackupCodeAlphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// NewOpaqueToken returns a URL-safe random token for reset and
// verification links. Only its SHA-256 hash is ever persisted.
func NewOpaqueToken() (string, error) {
	raw := make([]byte, opaqueTokenBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// HashToken derives the storage hash for an opaque token.
func HashToken(token string) [32]byte {
	return sha256.Sum256([]byte(token))
}

// NewBackupCode returns a random code drawn from BackupCodeAlphabet.
func NewBackupCode(length int) (string, error) {
	if length < 4 || length > 32 {
		return "", errors.New("invalid backup code length")
	}

	var b strings.Builder
	b.Grow(length)

	max := big.NewInt(int64(len(BackupCodeAlphabet)))
	for i := 0; i < length; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		b.WriteByte(BackupCodeAlphabet[n.Int64()])
	}

	return b.String(), nil
}

// HashBackupCode salts the code hash with the user id so identical codes
// issued to different users never collide in storage.
func HashBackupCode(userID, canonicalCode string) [32]byte {
	return sha256.Sum256([]byte(userID + ":" + canonicalCode))
}
