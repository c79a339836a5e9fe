// Package totp implements RFC 6238 time-based one-time passwords for the
// two-factor subsystem: secret generation, otpauth:// provisioning URIs,
// and code verification with a configurable clock-drift window.
package totp

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"crypto/subtle"
	"encoding/base32"
	"encoding/binary"
	"errors"
	"fmt"
	"hash"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const secretBytes = 20

// Config tunes code generation. Zero values fall back to the RFC defaults
// (6 digits, 30 second period, SHA1) with a ±2 step drift window.
type Config struct {
	Issuer    string
	Digits    int
	Period    int
	Skew      int
	Algorithm string
}

// Manager generates secrets and verifies codes.
type Manager struct {
	config Config
}

// NewManager applies defaults and returns a Manager.
func NewManager(cfg Config) *Manager {
	if cfg.Digits == 0 {
		cfg.Digits = 6
	}
	if cfg.Period == 0 {
		cfg.Period = 30
	}
	if cfg.Skew == 0 {
		cfg.Skew = 2
	}
	if cfg.Algorithm == "" {
		cfg.Algorithm = "SHA1"
	}
	return &Manager{config: cfg}
}

// Digits returns the configured code length.
func (m *Manager) Digits() int {
	return m.config.Digits
}

// GenerateSecret returns a fresh 160-bit shared secret and its base32
// encoding for display to the user's authenticator app.
func (m *Manager) GenerateSecret() ([]byte, string, error) {
	raw := make([]byte, secretBytes)
	if _, err := rand.Read(raw); err != nil {
		return nil, "", err
	}

	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	return raw, enc.EncodeToString(raw), nil
}

// ProvisionURI builds the otpauth:// URI encoded into the enrollment QR
// code. Rendering the QR image itself is the caller's concern.
func (m *Manager) ProvisionURI(secretBase32, account string) string {
	issuer := m.config.Issuer
	label := url.PathEscape(issuer + ":" + account)

	v := url.Values{}
	v.Set("secret", secretBase32)
	v.Set("issuer", issuer)
	v.Set("period", strconv.Itoa(m.config.Period))
	v.Set("digits", strconv.Itoa(m.config.Digits))
	v.Set("algorithm", strings.ToUpper(m.config.Algorithm))

	return "otpauth://totp/" + label + "?" + v.Encode()
}

// GenerateCode returns the code for the step containing at. Used for
// provisioning checks and tests; verification should go through VerifyCode.
func (m *Manager) GenerateCode(secret []byte, at time.Time) (string, error) {
	if len(secret) == 0 {
		return "", errors.New("empty totp secret")
	}
	counter := at.Unix() / int64(m.config.Period)
	return hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
}

// VerifyCode reports whether code matches the secret at any step within
// ±Skew of now. Comparison is constant time per candidate step.
func (m *Manager) VerifyCode(secret []byte, code string, now time.Time) (bool, error) {
	trimmed := strings.TrimSpace(code)
	if len(trimmed) != m.config.Digits || !isNumeric(trimmed) {
		return false, nil
	}
	if len(secret) == 0 {
		return false, errors.New("empty totp secret")
	}

	baseCounter := now.Unix() / int64(m.config.Period)
	for step := -m.config.Skew; step <= m.config.Skew; step++ {
		counter := baseCounter + int64(step)
		if counter < 0 {
			continue
		}
		generated, err := hotpCode(secret, counter, m.config.Digits, m.config.Algorithm)
		if err != nil {
			return false, err
		}
		if subtle.ConstantTimeCompare([]byte(generated), []byte(trimmed)) == 1 {
			return true, nil
		}
	}

	return false, nil
}

func hotpCode(secret []byte, counter int64, digits int, algorithm string) (string, error) {
	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(counter))

	hf, err := hmacFunc(algorithm)
	if err != nil {
		return "", err
	}
	mac := hmac.New(hf, secret)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	mod := 1
	for i := 0; i < digits; i++ {
		mod *= 10
	}

	return fmt.Sprintf("%0*d", digits, bin%mod), nil
}

func hmacFunc(algorithm string) (func() hash.Hash, error) {
	switch strings.ToUpper(algorithm) {
	case "", "SHA1":
		return sha1.New, nil
	case "SHA256":
		return sha256.New, nil
	case "SHA512":
		return sha512.New, nil
	default:
		return nil, errors.New("unsupported totp algorithm")
	}
}

func isNumeric(v string) bool {
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return false
		}
	}
	return true
}
