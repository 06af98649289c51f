package token

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/dtroode/refreshguard/internal/model"
)

// MinSecretLength is the minimum accepted HMAC secret length in bytes.
const MinSecretLength = 32

// ErrWeakSecret is returned when the signing secret is shorter than MinSecretLength.
var ErrWeakSecret = fmt.Errorf("jwt secret must be at least %d bytes", MinSecretLength)

// Claims is the JWT payload for both token kinds. Lineage fields are only
// populated on refresh tokens; pid is omitted on a family root.
type Claims struct {
	jwt.RegisteredClaims
	Email     string  `json:"email"`
	TokenType string  `json:"type"`
	FamilyID  string  `json:"fid,omitempty"`
	ParentID  *string `json:"pid,omitempty"`
	Sequence  int     `json:"seq,omitempty"`
}

// Lifetimes configures how long minted tokens stay valid.
type Lifetimes struct {
	Access  time.Duration
	Refresh time.Duration
}

var _ model.TokenCodec = (*JWT)(nil)

// JWT implements model.TokenCodec backed by symmetric HMAC (HS256).
type JWT struct {
	secretKey []byte
	lifetimes Lifetimes
	clock     model.Clock
	parser    *jwt.Parser
}

// NewJWT creates a new JWT codec with the provided secret key.
func NewJWT(secretKey string, lifetimes Lifetimes, clock model.Clock) (*JWT, error) {
	if len(secretKey) < MinSecretLength {
		return nil, ErrWeakSecret
	}
	if lifetimes.Access <= 0 || lifetimes.Refresh <= 0 {
		return nil, errors.New("token lifetimes must be positive")
	}

	return &JWT{
		secretKey: []byte(secretKey),
		lifetimes: lifetimes,
		clock:     clock,
		// Expiry is compared by callers against the injected clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}, nil
}

// MintAccess creates a short-lived access token.
func (j *JWT) MintAccess(userID uuid.UUID, email string) (string, model.Claims, error) {
	now := j.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.lifetimes.Access)),
		},
		Email:     email,
		TokenType: string(model.TokenKindAccess),
	}

	tokenString, err := j.sign(claims)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("failed to sign access token: %w", err)
	}

	return tokenString, toModel(claims, userID), nil
}

// MintRefresh creates a refresh token positioned in a family by lineage.
func (j *JWT) MintRefresh(userID uuid.UUID, email string, lineage model.RefreshLineage) (string, model.Claims, error) {
	if lineage.Sequence < 0 {
		return "", model.Claims{}, fmt.Errorf("negative rotation sequence %d", lineage.Sequence)
	}
	familyID := lineage.FamilyID
	if familyID == "" {
		familyID = uuid.NewString()
	}
	var parentID *string
	if lineage.ParentTokenID != "" {
		p := lineage.ParentTokenID
		parentID = &p
	}

	now := j.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.lifetimes.Refresh)),
		},
		Email:     email,
		TokenType: string(model.TokenKindRefresh),
		FamilyID:  familyID,
		ParentID:  parentID,
		Sequence:  lineage.Sequence,
	}

	tokenString, err := j.sign(claims)
	if err != nil {
		return "", model.Claims{}, fmt.Errorf("failed to sign refresh token: %w", err)
	}

	return tokenString, toModel(claims, userID), nil
}

// Verify checks signature, structure and kind. Expiry is not enforced here.
func (j *JWT) Verify(tokenString string, kind model.TokenKind) (model.Claims, bool) {
	claims, err := j.parse(tokenString, kind)
	if err != nil {
		return model.Claims{}, false
	}
	return claims, true
}

func (j *JWT) parse(tokenString string, kind model.TokenKind) (model.Claims, error) {
	claims := &Claims{}
	token, err := j.parser.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("wrong signing method %v", t.Header["alg"])
		}
		return j.secretKey, nil
	})
	if err != nil {
		return model.Claims{}, fmt.Errorf("failed to parse token: %w", err)
	}
	if !token.Valid {
		return model.Claims{}, errors.New("token is invalid")
	}
	if claims.TokenType != string(kind) {
		return model.Claims{}, fmt.Errorf("token type mismatch: %s", claims.TokenType)
	}
	if claims.ID == "" || claims.IssuedAt == nil || claims.ExpiresAt == nil {
		return model.Claims{}, errors.New("token is missing required claims")
	}
	if claims.Sequence < 0 {
		return model.Claims{}, fmt.Errorf("negative rotation sequence %d", claims.Sequence)
	}
	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return model.Claims{}, fmt.Errorf("invalid subject: %w", err)
	}

	return toModel(*claims, userID), nil
}

func (j *JWT) sign(claims Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secretKey)
}

// now is truncated to the NumericDate precision so minted and verified claims compare equal.
func (j *JWT) now() time.Time {
	return j.clock.Now().UTC().Truncate(jwt.TimePrecision)
}

func toModel(c Claims, userID uuid.UUID) model.Claims {
	out := model.Claims{
		Subject:          userID,
		Email:            c.Email,
		IssuedAt:         c.IssuedAt.Time.UTC(),
		ExpiresAt:        c.ExpiresAt.Time.UTC(),
		TokenID:          c.ID,
		Kind:             model.TokenKind(c.TokenType),
		FamilyID:         c.FamilyID,
		RotationSequence: c.Sequence,
	}
	if c.ParentID != nil {
		out.ParentTokenID = *c.ParentID
	}
	return out
}
