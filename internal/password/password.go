// Package password hashes and verifies user passwords.
//
// New hashes are argon2id in PHC string format. Verification also accepts
// bcrypt hashes ($2a$, $2b$, $2y$) so existing accounts keep working.
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
	"golang.org/x/crypto/bcrypt"

	"github.com/dtroode/refreshguard/internal/model"
)

const algorithmID = "argon2id"

// Upper bounds on parameters read from stored hashes. A corrupted or hostile
// hash must not make a login allocate unbounded memory.
const (
	maxMemoryKB    uint32 = 1 << 20
	maxTimeCost    uint32 = 16
	maxKeyLength   uint32 = 128
	minSaltLength         = 8
	minKeyLength          = 16
	minPasswordLen        = 8
)

// Placeholder is a well-formed argon2id hash at the default cost that no
// password matches. Verifying against it takes as long as a real check, so
// callers use it when there is no stored hash to compare with.
const Placeholder = "$argon2id$v=19$m=65536,t=3,p=4$lo+G0SCrmZLhL43Vu8GimQ$v9Adutrth1zVLOvwqebxH3zzyJsl0RBBCANml7wOrdQ"

// ErrPasswordTooShort is returned by Hash for passwords under the minimum length.
var ErrPasswordTooShort = fmt.Errorf("password must be at least %d bytes", minPasswordLen)

// Config holds argon2id cost parameters for new hashes.
type Config struct {
	Memory      uint32 `env:"MEMORY_KB" envDefault:"65536"`
	Time        uint32 `env:"TIME" envDefault:"3"`
	Parallelism uint8  `env:"PARALLELISM" envDefault:"4"`
	SaltLength  uint32 `env:"SALT_LENGTH" envDefault:"16"`
	KeyLength   uint32 `env:"KEY_LENGTH" envDefault:"32"`
}

// DefaultConfig matches the argon2 defaults of the reference deployment.
func DefaultConfig() Config {
	return Config{Memory: 64 * 1024, Time: 3, Parallelism: 4, SaltLength: 16, KeyLength: 32}
}

var _ model.PasswordVerifier = (*Hasher)(nil)

// Hasher implements model.PasswordVerifier.
type Hasher struct {
	config Config
}

// NewHasher validates cfg and returns a Hasher.
func NewHasher(cfg Config) (*Hasher, error) {
	switch {
	case cfg.Memory < 8*1024 || cfg.Memory > maxMemoryKB:
		return nil, fmt.Errorf("argon2 memory must be between 8192 and %d KiB", maxMemoryKB)
	case cfg.Time < 1 || cfg.Time > maxTimeCost:
		return nil, fmt.Errorf("argon2 time cost must be between 1 and %d", maxTimeCost)
	case cfg.Parallelism < 1:
		return nil, errors.New("argon2 parallelism must be at least 1")
	case cfg.SaltLength < 16:
		return nil, errors.New("argon2 salt length must be at least 16")
	case cfg.KeyLength < minKeyLength || cfg.KeyLength > maxKeyLength:
		return nil, fmt.Errorf("argon2 key length must be between %d and %d", minKeyLength, maxKeyLength)
	}
	return &Hasher{config: cfg}, nil
}

// Hash returns an argon2id PHC string for plain.
func (h *Hasher) Hash(plain string) (string, error) {
	if len(plain) < minPasswordLen {
		return "", ErrPasswordTooShort
	}

	salt := make([]byte, h.config.SaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to read salt: %w", err)
	}

	key := argon2.IDKey([]byte(plain), salt, h.config.Time, h.config.Memory, h.config.Parallelism, h.config.KeyLength)

	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithmID, argon2.Version,
		h.config.Memory, h.config.Time, h.config.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key),
	), nil
}

// Verify reports whether plain matches hash. Malformed hashes never match.
func (h *Hasher) Verify(plain, hash string) bool {
	switch {
	case strings.HasPrefix(hash, "$"+algorithmID+"$"):
		ok, err := verifyArgon2(plain, hash)
		return err == nil && ok
	case strings.HasPrefix(hash, "$2a$"), strings.HasPrefix(hash, "$2b$"), strings.HasPrefix(hash, "$2y$"):
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plain)) == nil
	default:
		return false
	}
}

type phc struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func verifyArgon2(plain, encoded string) (bool, error) {
	p, err := parsePHC(encoded)
	if err != nil {
		return false, err
	}
	computed := argon2.IDKey([]byte(plain), p.salt, p.time, p.memory, p.parallelism, uint32(len(p.key)))
	return subtle.ConstantTimeCompare(computed, p.key) == 1, nil
}

func parsePHC(encoded string) (phc, error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != algorithmID {
		return phc{}, errors.New("invalid PHC format")
	}

	version, err := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if err != nil || !strings.HasPrefix(parts[2], "v=") {
		return phc{}, errors.New("invalid argon2 version")
	}
	if version != argon2.Version {
		return phc{}, errors.New("unsupported argon2 version")
	}

	var p phc
	for _, kv := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(kv, "=")
		if !ok {
			return phc{}, errors.New("invalid argon2 parameters")
		}
		v, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return phc{}, fmt.Errorf("invalid argon2 parameter %s", name)
		}
		switch name {
		case "m":
			p.memory = uint32(v)
		case "t":
			p.time = uint32(v)
		case "p":
			if v > 255 {
				return phc{}, errors.New("argon2 parallelism out of range")
			}
			p.parallelism = uint8(v)
		default:
			return phc{}, fmt.Errorf("unknown argon2 parameter %s", name)
		}
	}
	if p.memory < 1 || p.memory > maxMemoryKB || p.time < 1 || p.time > maxTimeCost || p.parallelism < 1 {
		return phc{}, errors.New("argon2 parameters out of range")
	}

	if p.salt, err = decodeB64(parts[4]); err != nil || len(p.salt) < minSaltLength {
		return phc{}, errors.New("invalid salt")
	}
	if p.key, err = decodeB64(parts[5]); err != nil || len(p.key) < minKeyLength || len(p.key) > int(maxKeyLength) {
		return phc{}, errors.New("invalid hash")
	}
	return p, nil
}

// decodeB64 accepts both padded and unpadded standard base64.
func decodeB64(s string) ([]byte, error) {
	return base64.RawStdEncoding.DecodeString(strings.TrimRight(s, "="))
}
