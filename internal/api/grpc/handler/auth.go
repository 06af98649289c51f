package handler

import (
	"context"

	"github.com/grpc-ecosystem/go-grpc-middleware/v2/interceptors/auth"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/dtroode/refreshguard/internal/api/grpc/authv1"
	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/model"
)

// AuthService defines the login, refresh, logout and current-user operations.
type AuthService interface {
	Login(ctx context.Context, email, password string) (model.TokenPair, error)
	Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error)
	Logout(ctx context.Context, refreshToken string) error
	GetCurrentUser(ctx context.Context, accessToken string) (model.User, error)
}

// Auth handles gRPC endpoints for authentication.
type Auth struct {
	authv1.UnimplementedAuthServer
	authService AuthService
	logger      *logger.Logger
}

// NewAuth creates a new Auth handler.
func NewAuth(authService AuthService, logger *logger.Logger) *Auth {
	return &Auth{
		authService: authService,
		logger:      logger,
	}
}

// Login authenticates with email and password and returns a new token pair.
func (h *Auth) Login(ctx context.Context, req *authv1.LoginRequest) (*authv1.TokenResponse, error) {
	h.logger.Debug("Auth handler: processing login request",
		"email", req.Email)

	if req.Email == "" || req.Password == "" {
		return nil, status.Error(codes.InvalidArgument, "email and password are required")
	}

	pair, err := h.authService.Login(ctx, req.Email, req.Password)
	if err != nil {
		return nil, handleError(err)
	}

	return tokenResponse(pair), nil
}

// Refresh exchanges a refresh token for a new token pair.
func (h *Auth) Refresh(ctx context.Context, req *authv1.RefreshRequest) (*authv1.TokenResponse, error) {
	h.logger.Debug("Auth handler: processing token refresh request")

	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	pair, err := h.authService.Refresh(ctx, req.RefreshToken)
	if err != nil {
		return nil, handleError(err)
	}

	return tokenResponse(pair), nil
}

// Revoke revokes a refresh token.
func (h *Auth) Revoke(ctx context.Context, req *authv1.RevokeRequest) (*authv1.RevokeResponse, error) {
	h.logger.Debug("Auth handler: processing token revoke request")

	if req.RefreshToken == "" {
		return nil, status.Error(codes.InvalidArgument, "refresh token is required")
	}

	if err := h.authService.Logout(ctx, req.RefreshToken); err != nil {
		return nil, handleError(err)
	}

	return &authv1.RevokeResponse{}, nil
}

// Me returns the user the bearer access token was issued to.
func (h *Auth) Me(ctx context.Context, _ *authv1.MeRequest) (*authv1.UserResponse, error) {
	token, err := auth.AuthFromMD(ctx, "bearer")
	if err != nil {
		return nil, status.Error(codes.Unauthenticated, "missing authorization token")
	}

	user, err := h.authService.GetCurrentUser(ctx, token)
	if err != nil {
		return nil, handleError(err)
	}

	return &authv1.UserResponse{
		ID:        user.ID.String(),
		Email:     user.Email,
		Name:      user.Name,
		CreatedAt: user.CreatedAt,
		UpdatedAt: user.UpdatedAt,
	}, nil
}

func tokenResponse(pair model.TokenPair) *authv1.TokenResponse {
	return &authv1.TokenResponse{
		AccessToken:  pair.AccessToken,
		RefreshToken: pair.RefreshToken,
		TokenType:    pair.TokenType,
		ExpiresIn:    pair.ExpiresIn,
	}
}
