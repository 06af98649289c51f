package model

import (
	"time"

	"github.com/google/uuid"
)

// TokenKind distinguishes access tokens from refresh tokens.
type TokenKind string

const (
	TokenKindAccess  TokenKind = "access"
	TokenKindRefresh TokenKind = "refresh"
)

// Claims is the decoded content of a signed token.
// FamilyID, ParentTokenID and RotationSequence are set for refresh tokens only.
type Claims struct {
	Subject          uuid.UUID
	Email            string
	IssuedAt         time.Time
	ExpiresAt        time.Time
	TokenID          string
	Kind             TokenKind
	FamilyID         string
	ParentTokenID    string
	RotationSequence int
}

// Expired reports whether the claims are past their expiry at now.
func (c Claims) Expired(now time.Time) bool {
	return !now.Before(c.ExpiresAt)
}

// RefreshLineage positions a new refresh token inside a family.
// An empty FamilyID starts a new family.
type RefreshLineage struct {
	FamilyID      string
	ParentTokenID string
	Sequence      int
}

// TokenCodec mints and verifies signed tokens.
//
// Verify does not reject expired tokens; callers compare Claims.ExpiresAt
// with their own clock. ok is false for forged, malformed or wrong-kind tokens.
type TokenCodec interface {
	MintAccess(userID uuid.UUID, email string) (token string, claims Claims, err error)
	MintRefresh(userID uuid.UUID, email string, lineage RefreshLineage) (token string, claims Claims, err error)
	Verify(token string, kind TokenKind) (claims Claims, ok bool)
}

// TokenPair is the result of a successful login or refresh.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresIn    int64
}

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}
