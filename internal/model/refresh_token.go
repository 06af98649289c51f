package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenStore keeps server-side state of issued refresh tokens.
//
// Operations on one token id are linearizable. RevokeFamily is atomic with
// respect to Put for the same family: a member stored after the family was
// revoked is stored revoked.
type TokenStore interface {
	Put(ctx context.Context, meta TokenMetadata) error
	Get(ctx context.Context, tokenID string) (TokenMetadata, error)
	// MarkUsed sets FirstUsedAt to at unless already set. It returns the
	// effective first-use time and whether this call set it.
	MarkUsed(ctx context.Context, tokenID string, at time.Time) (firstUsedAt time.Time, marked bool, err error)
	Revoke(ctx context.Context, tokenID string) error
	RevokeFamily(ctx context.Context, familyID string) error
	// LatestInFamily returns the member with the highest rotation sequence,
	// the most recently stored one on ties.
	LatestInFamily(ctx context.Context, familyID string) (TokenMetadata, error)
	CleanupExpired(ctx context.Context) (int, error)
}

// TokenMetadata is the stored state of a refresh token.
type TokenMetadata struct {
	TokenID          string
	UserID           uuid.UUID
	Kind             TokenKind
	IssuedAt         time.Time
	ExpiresAt        time.Time
	Revoked          bool
	FirstUsedAt      *time.Time
	FamilyID         string
	RotationSequence int
	ParentTokenID    string
}

// Used reports whether the token has been redeemed at least once.
func (m TokenMetadata) Used() bool {
	return m.FirstUsedAt != nil
}

// MetadataFromClaims builds the initial stored state of a refresh token.
func MetadataFromClaims(c Claims) TokenMetadata {
	return TokenMetadata{
		TokenID:          c.TokenID,
		UserID:           c.Subject,
		Kind:             c.Kind,
		IssuedAt:         c.IssuedAt,
		ExpiresAt:        c.ExpiresAt,
		FamilyID:         c.FamilyID,
		RotationSequence: c.RotationSequence,
		ParentTokenID:    c.ParentTokenID,
	}
}
