package token

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/testutil"
)

const testSecret = "0123456789abcdef0123456789abcdef"

var testStart = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestJWT(t *testing.T) (*JWT, *testutil.FakeClock) {
	t.Helper()
	clk := testutil.NewFakeClock(testStart)
	j, err := NewJWT(testSecret, Lifetimes{Access: 30 * time.Minute, Refresh: 7 * 24 * time.Hour}, clk)
	require.NoError(t, err)
	return j, clk
}

func TestNewJWT_RejectsShortSecret(t *testing.T) {
	_, err := NewJWT("secret", Lifetimes{Access: time.Minute, Refresh: time.Hour}, testutil.NewFakeClock(testStart))
	require.ErrorIs(t, err, ErrWeakSecret)
}

func TestNewJWT_RejectsNonPositiveLifetimes(t *testing.T) {
	_, err := NewJWT(testSecret, Lifetimes{Access: 0, Refresh: time.Hour}, testutil.NewFakeClock(testStart))
	require.Error(t, err)
}

func TestJWT_AccessToken_Roundtrip(t *testing.T) {
	j, _ := newTestJWT(t)
	u := uuid.New()

	access, minted, err := j.MintAccess(u, "user@example.com")
	require.NoError(t, err)

	got, ok := j.Verify(access, model.TokenKindAccess)
	require.True(t, ok)
	assert.Equal(t, minted, got)
	assert.Equal(t, u, got.Subject)
	assert.Equal(t, "user@example.com", got.Email)
	assert.Equal(t, model.TokenKindAccess, got.Kind)
	assert.Equal(t, testStart, got.IssuedAt)
	assert.Equal(t, testStart.Add(30*time.Minute), got.ExpiresAt)
	assert.NotEmpty(t, got.TokenID)
}

func TestJWT_RefreshToken_NewFamily(t *testing.T) {
	j, _ := newTestJWT(t)
	u := uuid.New()

	refresh, minted, err := j.MintRefresh(u, "user@example.com", model.RefreshLineage{})
	require.NoError(t, err)

	got, ok := j.Verify(refresh, model.TokenKindRefresh)
	require.True(t, ok)
	assert.Equal(t, minted, got)
	assert.NotEmpty(t, got.FamilyID)
	assert.Empty(t, got.ParentTokenID)
	assert.Equal(t, 0, got.RotationSequence)
	assert.Equal(t, testStart.Add(7*24*time.Hour), got.ExpiresAt)

	_, other, err := j.MintRefresh(u, "user@example.com", model.RefreshLineage{})
	require.NoError(t, err)
	assert.NotEqual(t, got.FamilyID, other.FamilyID)
}

func TestJWT_RefreshToken_LineageRoundtrip(t *testing.T) {
	j, _ := newTestJWT(t)
	u := uuid.New()

	lineage := model.RefreshLineage{FamilyID: "family-1", ParentTokenID: "parent-1", Sequence: 3}
	refresh, _, err := j.MintRefresh(u, "user@example.com", lineage)
	require.NoError(t, err)

	got, ok := j.Verify(refresh, model.TokenKindRefresh)
	require.True(t, ok)
	assert.Equal(t, "family-1", got.FamilyID)
	assert.Equal(t, "parent-1", got.ParentTokenID)
	assert.Equal(t, 3, got.RotationSequence)
}

func TestJWT_MintRefresh_NegativeSequence(t *testing.T) {
	j, _ := newTestJWT(t)
	_, _, err := j.MintRefresh(uuid.New(), "user@example.com", model.RefreshLineage{Sequence: -1})
	require.Error(t, err)
}

func TestJWT_TokenType_Mismatch(t *testing.T) {
	j, _ := newTestJWT(t)
	u := uuid.New()

	access, _, err := j.MintAccess(u, "user@example.com")
	require.NoError(t, err)
	_, ok := j.Verify(access, model.TokenKindRefresh)
	assert.False(t, ok)

	refresh, _, err := j.MintRefresh(u, "user@example.com", model.RefreshLineage{})
	require.NoError(t, err)
	_, ok = j.Verify(refresh, model.TokenKindAccess)
	assert.False(t, ok)
}

func TestJWT_Verify_ReturnsExpiredClaims(t *testing.T) {
	j, clk := newTestJWT(t)

	access, _, err := j.MintAccess(uuid.New(), "user@example.com")
	require.NoError(t, err)

	clk.Advance(time.Hour)
	got, ok := j.Verify(access, model.TokenKindAccess)
	require.True(t, ok)
	assert.True(t, got.Expired(clk.Now()))
}

func TestJWT_Verify_Rejects(t *testing.T) {
	j, _ := newTestJWT(t)
	u := uuid.New()
	valid, _, err := j.MintAccess(u, "user@example.com")
	require.NoError(t, err)

	other, err := NewJWT(strings.Repeat("x", 40), Lifetimes{Access: time.Minute, Refresh: time.Hour}, testutil.NewFakeClock(testStart))
	require.NoError(t, err)
	foreign, _, err := other.MintAccess(u, "user@example.com")
	require.NoError(t, err)

	noneToken, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.String(),
			ID:        "id",
			IssuedAt:  jwt.NewNumericDate(testStart),
			ExpiresAt: jwt.NewNumericDate(testStart.Add(time.Hour)),
		},
		TokenType: string(model.TokenKindAccess),
	}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	badSubject, err := j.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			ID:        "id",
			IssuedAt:  jwt.NewNumericDate(testStart),
			ExpiresAt: jwt.NewNumericDate(testStart.Add(time.Hour)),
		},
		TokenType: string(model.TokenKindAccess),
	})
	require.NoError(t, err)

	missingID, err := j.sign(Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.String(),
			IssuedAt:  jwt.NewNumericDate(testStart),
			ExpiresAt: jwt.NewNumericDate(testStart.Add(time.Hour)),
		},
		TokenType: string(model.TokenKindAccess),
	})
	require.NoError(t, err)

	parts := strings.Split(valid, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "garbage", token: "not.a.jwt"},
		{name: "tampered signature", token: tampered},
		{name: "foreign secret", token: foreign},
		{name: "alg none", token: noneToken},
		{name: "bad subject", token: badSubject},
		{name: "missing jti", token: missingID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, ok := j.Verify(tt.token, model.TokenKindAccess)
			assert.False(t, ok)
		})
	}
}
