package password

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

// testConfig keeps hashing fast in tests.
func testConfig() Config {
	return Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}
}

func newTestHasher(t *testing.T) *Hasher {
	t.Helper()
	h, err := NewHasher(testConfig())
	require.NoError(t, err)
	return h
}

func TestNewHasher(t *testing.T) {
	_, err := NewHasher(DefaultConfig())
	assert.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{name: "low memory", mutate: func(c *Config) { c.Memory = 1024 }},
		{name: "zero time", mutate: func(c *Config) { c.Time = 0 }},
		{name: "zero parallelism", mutate: func(c *Config) { c.Parallelism = 0 }},
		{name: "short salt", mutate: func(c *Config) { c.SaltLength = 4 }},
		{name: "short key", mutate: func(c *Config) { c.KeyLength = 8 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewHasher(cfg)
			assert.Error(t, err)
		})
	}
}

func TestHasher_HashAndVerify(t *testing.T) {
	h := newTestHasher(t)

	hash, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(hash, "$argon2id$v=19$m=8192,t=1,p=1$"))

	assert.True(t, h.Verify("correct horse battery", hash))
	assert.False(t, h.Verify("correct horse batterz", hash))
	assert.False(t, h.Verify("", hash))

	other, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "salts must differ")
}

func TestHasher_HashRejectsShortPassword(t *testing.T) {
	_, err := newTestHasher(t).Hash("short")
	assert.ErrorIs(t, err, ErrPasswordTooShort)
}

func TestHasher_VerifyPaddedEncoding(t *testing.T) {
	h := newTestHasher(t)
	hash, err := h.Hash("correct horse battery")
	require.NoError(t, err)

	parts := strings.Split(hash, "$")
	for _, i := range []int{4, 5} {
		for len(parts[i])%4 != 0 {
			parts[i] += "="
		}
	}
	assert.True(t, h.Verify("correct horse battery", strings.Join(parts, "$")))
}

func TestHasher_VerifyBcrypt(t *testing.T) {
	h := newTestHasher(t)
	legacy, err := bcrypt.GenerateFromPassword([]byte("legacy-password"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, h.Verify("legacy-password", string(legacy)))
	assert.False(t, h.Verify("other-password", string(legacy)))
}

func TestHasher_VerifyMalformed(t *testing.T) {
	h := newTestHasher(t)
	valid, err := h.Hash("correct horse battery")
	require.NoError(t, err)
	parts := strings.Split(valid, "$")

	tests := []struct {
		name string
		hash string
	}{
		{name: "empty", hash: ""},
		{name: "plain text", hash: "correct horse battery"},
		{name: "unknown scheme", hash: "$scrypt$ln=15$abc$def"},
		{name: "missing segments", hash: "$argon2id$v=19$m=8192,t=1,p=1$" + parts[4]},
		{name: "wrong version", hash: strings.Replace(valid, "v=19", "v=16", 1)},
		{name: "bad params", hash: strings.Replace(valid, "m=8192,t=1,p=1", "m=x,t=1,p=1", 1)},
		{name: "zero parallelism", hash: strings.Replace(valid, "p=1", "p=0", 1)},
		{name: "huge memory", hash: strings.Replace(valid, "m=8192", "m=4294967295", 1)},
		{name: "unknown param", hash: strings.Replace(valid, "p=1", "p=1,x=2", 1)},
		{name: "bad salt", hash: "$argon2id$v=19$m=8192,t=1,p=1$!!!$" + parts[5]},
		{name: "short key", hash: "$argon2id$v=19$m=8192,t=1,p=1$" + parts[4] + "$AAAA"},
		{name: "truncated bcrypt", hash: "$2b$10$abc"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotPanics(t, func() {
				assert.False(t, h.Verify("correct horse battery", tt.hash))
			})
		})
	}
}

func TestPlaceholder(t *testing.T) {
	p, err := parsePHC(Placeholder)
	require.NoError(t, err)

	def := DefaultConfig()
	assert.Equal(t, def.Memory, p.memory)
	assert.Equal(t, def.Time, p.time)
	assert.Equal(t, def.Parallelism, p.parallelism)
	assert.Len(t, p.salt, int(def.SaltLength))
	assert.Len(t, p.key, int(def.KeyLength))

	assert.False(t, newTestHasher(t).Verify("correct horse battery", Placeholder))
}
