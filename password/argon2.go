package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	minMemoryKB    uint32 = 8 * 1024
	minTimeCost    uint32 = 1
	minParallelism uint8  = 1
	minSaltLength  uint32 = 16
	minKeyLength   uint32 = 16
	algorithmID           = "argon2id"
)

// Config tunes the Argon2id cost parameters. Memory is in KB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32
}

// Hasher hashes and verifies passwords using Argon2id. The encoded form is
// a standard PHC string, so parameters travel with each hash and older
// hashes remain verifiable after a cost upgrade.
type Hasher struct {
	config Config
}

// NewHasher validates cost parameters and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	if cfg.Memory < minMemoryKB {
		return nil, errors.New("password memory must be >= 8192 KB")
	}
	if cfg.Time < minTimeCost {
		return nil, errors.New("password time must be >= 1")
	}
	if cfg.Parallelism < minParallelism {
		return nil, errors.New("password parallelism must be >= 1")
	}
	if cfg.SaltLength < minSaltLength {
		return nil, errors.New("password salt length must be >= 16")
	}
	if cfg.KeyLength < minKeyLength {
		return nil, errors.New("password key length must be >= 16")
	}

	return &Hasher{config: cfg}, nil
}

// Hash derives a PHC-encoded Argon2id hash with a fresh random salt.
func (h *Hasher) Hash(password string) (string, error) {
	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	key := argon2.IDKey(
		[]byte(password),
		salt,
		h.config.Time,
		h.config.Memory,
		h.config.Parallelism,
		h.config.KeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID,
		argon2.Version,
		h.config.Memory,
		h.config.Time,
		h.config.Parallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(key),
	), nil
}

// Verify recomputes the hash with the stored parameters and compares in
// constant time.
func (h *Hasher) Verify(password, encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey(
		[]byte(password),
		parsed.salt,
		parsed.time,
		parsed.memory,
		parsed.parallelism,
		parsed.keyLength,
	)

	return subtle.ConstantTimeCompare(computed, parsed.hash) == 1, nil
}

// NeedsUpgrade reports whether the stored hash was produced with weaker
// parameters than currently configured.
func (h *Hasher) NeedsUpgrade(encodedHash string) (bool, error) {
	parsed, err := parsePHC(encodedHash)
	if err != nil {
		return false, err
	}

	if h.config.Memory > parsed.memory {
		return true, nil
	}
	if h.config.Time > parsed.time {
		return true, nil
	}
	if h.config.Parallelism > parsed.parallelism {
		return true, nil
	}
	if h.config.KeyLength != parsed.keyLength {
		return true, nil
	}

	return false, nil
}

type parsedPHC struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	hash        []byte
	keyLength   uint32
}

func parsePHC(encodedHash string) (*parsedPHC, error) {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "" {
		return nil, errors.New("invalid PHC format")
	}
	if parts[1] != algorithmID {
		return nil, errors.New("unsupported algorithm")
	}
	if !strings.HasPrefix(parts[2], "v=") {
		return nil, errors.New("missing argon2 version")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || version != argon2.Version {
		return nil, errors.New("unsupported argon2 version")
	}

	var memory, timeCost, parallelism uint64
	pairs := strings.Split(parts[3], ",")
	if len(pairs) != 3 {
		return nil, errors.New("invalid parameter format")
	}
	for _, pair := range pairs {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return nil, errors.New("invalid parameter entry")
		}
		switch kv[0] {
		case "m":
			memory, err = strconv.ParseUint(kv[1], 10, 32)
		case "t":
			timeCost, err = strconv.ParseUint(kv[1], 10, 32)
		case "p":
			parallelism, err = strconv.ParseUint(kv[1], 10, 8)
		default:
			return nil, errors.New("unsupported parameter")
		}
		if err != nil {
			return nil, errors.New("invalid parameter value")
		}
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return nil, errors.New("missing parameters")
	}

	salt, err := base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) < int(minSaltLength) {
		return nil, errors.New("invalid salt")
	}

	hash, err := base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return nil, errors.New("invalid hash")
	}

	return &parsedPHC{
		memory:      uint32(memory),
		time:        uint32(timeCost),
		parallelism: uint8(parallelism),
		salt:        salt,
		hash:        hash,
		keyLength:   uint32(len(hash)),
	}, nil
}
