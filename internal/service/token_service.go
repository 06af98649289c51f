package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/rotation"
)

// TokenService provides high-level operations for issuing, redeeming,
// and revoking tokens. It composes the TokenCodec and the rotation Engine.
type TokenService struct {
	codec  model.TokenCodec
	engine *rotation.Engine
	clock  model.Clock
	logger *logger.Logger
}

func NewTokenService(codec model.TokenCodec, engine *rotation.Engine, clock model.Clock, logger *logger.Logger) *TokenService {
	return &TokenService{codec: codec, engine: engine, clock: clock, logger: logger}
}

// Issue starts a new token family for user.
func (s *TokenService) Issue(ctx context.Context, user model.User) (model.TokenPair, error) {
	pair, err := s.engine.Issue(ctx, nil, user)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("issue token pair: %w", err)
	}
	return pair, nil
}

// Redeem verifies a presented refresh token and runs reuse detection on it.
// Every rejection is reported as model.ErrInvalidToken.
func (s *TokenService) Redeem(ctx context.Context, presentedRefresh string) (model.Claims, error) {
	var claims *model.Claims
	if c, ok := s.codec.Verify(presentedRefresh, model.TokenKindRefresh); ok {
		claims = &c
	}

	decision, err := s.engine.Redeem(ctx, claims)
	if err != nil {
		return model.Claims{}, fmt.Errorf("redeem refresh token: %w", err)
	}
	if !decision.Accepted {
		args := []any{"reason", decision.Reason}
		if claims != nil {
			args = append(args, "user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID)
		}
		s.logger.Info("Token service: refresh rejected", args...)
		return model.Claims{}, model.ErrInvalidToken
	}

	return *claims, nil
}

// Rotate issues a token pair chained to the redeemed parent.
func (s *TokenService) Rotate(ctx context.Context, parent model.Claims, user model.User) (model.TokenPair, error) {
	pair, err := s.engine.Issue(ctx, &parent, user)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("rotate token pair: %w", err)
	}
	return pair, nil
}

// RevokeByToken revokes a single refresh token, typically on logout.
func (s *TokenService) RevokeByToken(ctx context.Context, presentedRefresh string) error {
	claims, ok := s.codec.Verify(presentedRefresh, model.TokenKindRefresh)
	if !ok {
		return model.ErrInvalidToken
	}

	if err := s.engine.Revoke(ctx, claims); err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.ErrInvalidToken
		}
		return fmt.Errorf("revoke refresh token: %w", err)
	}

	s.logger.Info("Token service: refresh token revoked",
		"user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID)
	return nil
}

// ParseAccess returns the claims of a valid, unexpired access token.
func (s *TokenService) ParseAccess(token string) (model.Claims, error) {
	claims, ok := s.codec.Verify(token, model.TokenKindAccess)
	if !ok || claims.Expired(s.clock.Now()) {
		return model.Claims{}, model.ErrInvalidToken
	}
	return claims, nil
}
