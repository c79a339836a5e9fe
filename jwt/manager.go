package jwt

import (
	"bytes"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Role selects which signing secret and lifetime a token is issued under.
type Role string

const (
	// RoleAccess is the short-lived token presented on API calls.
	RoleAccess Role = "access"
	// RoleRefresh is the long-lived token exchanged for new access tokens.
	RoleRefresh Role = "refresh"
)

// ErrTokenInvalid is returned by Verify for every rejection: bad signature,
// wrong role secret, expiry, malformed input. Callers get no more detail
// than "invalid" on purpose.
var ErrTokenInvalid = errors.New("invalid token")

// Config holds the per-role secrets and lifetimes.
type Config struct {
	AccessSecret  []byte
	RefreshSecret []byte
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	Issuer        string
	Leeway        time.Duration
}

// Claims is the payload carried by both token roles. The role claim binds
// a token to the secret it was signed with, so a refresh token replayed on
// an access-token path fails even before the signature check matters.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Manager issues and verifies tokens. Verification is a pure cryptographic
// check: a valid signature and expiry does not imply the token is still
// authorized — revocation is enforced against stored refresh hashes by the
// engine.
type Manager struct {
	config Config
	now    func() time.Time
}

// NewManager validates the configuration and returns a ready Manager.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.AccessSecret) == 0 || len(cfg.RefreshSecret) == 0 {
		return nil, errors.New("both access and refresh secrets are required")
	}
	if bytes.Equal(cfg.AccessSecret, cfg.RefreshSecret) {
		return nil, errors.New("access and refresh secrets must differ")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("invalid TTL configuration")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("invalid leeway configuration")
	}

	return &Manager{config: cfg, now: time.Now}, nil
}

// Issue signs a token for the subject under the given role. Each token
// carries a random jti, so two tokens minted in the same second are still
// distinct strings (and hash to distinct stored refresh entries).
func (m *Manager) Issue(subjectID string, role Role) (string, error) {
	secret, ttl, err := m.roleParams(role)
	if err != nil {
		return "", err
	}

	now := m.now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subjectID,
			ID:        uuid.NewString(),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    m.config.Issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(secret)
}

// Verify checks the token against the role's secret and returns the subject
// id. It returns ErrTokenInvalid on any failure and never panics.
func (m *Manager) Verify(tokenStr string, role Role) (string, error) {
	secret, _, err := m.roleParams(role)
	if err != nil {
		return "", ErrTokenInvalid
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.config.Leeway > 0 {
		options = append(options, jwt.WithLeeway(m.config.Leeway))
	}
	if m.config.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.config.Issuer))
	}

	parser := jwt.NewParser(options...)
	token, err := parser.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return secret, nil
	})
	if err != nil {
		return "", ErrTokenInvalid
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return "", ErrTokenInvalid
	}
	if claims.Role != string(role) || claims.Subject == "" {
		return "", ErrTokenInvalid
	}

	return claims.Subject, nil
}

func (m *Manager) roleParams(role Role) ([]byte, time.Duration, error) {
	switch role {
	case RoleAccess:
		return m.config.AccessSecret, m.config.AccessTTL, nil
	case RoleRefresh:
		return m.config.RefreshSecret, m.config.RefreshTTL, nil
	default:
		return nil, 0, errors.New("unsupported token role")
	}
}
