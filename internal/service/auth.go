package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
	passwordpkg "github.com/dtroode/refreshguard/internal/password"
)

// Auth implements the login, refresh and current-user use cases.
type Auth struct {
	users        model.UserDirectory
	passwords    model.PasswordVerifier
	tokenService *TokenService
	logger       *logger.Logger
}

func NewAuth(
	users model.UserDirectory,
	passwords model.PasswordVerifier,
	tokenService *TokenService,
	logger *logger.Logger,
) *Auth {
	return &Auth{
		users:        users,
		passwords:    passwords,
		tokenService: tokenService,
		logger:       logger,
	}
}

// Login checks the credentials and starts a new token family.
// Unknown email and wrong password are indistinguishable to the caller.
func (a *Auth) Login(ctx context.Context, email, password string) (model.TokenPair, error) {
	a.logger.Debug("Auth service: login attempt",
		"email", email)

	user, err := a.users.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			// Same work as a wrong password so timing does not reveal the account.
			a.passwords.Verify(password, passwordpkg.Placeholder)
			a.logger.Info("Auth service: login for unknown email",
				"email", email)
			metrics.Logins.WithLabelValues("invalid_credentials").Inc()
			return model.TokenPair{}, model.ErrInvalidCredentials
		}
		a.logger.Error("Auth service: failed to get user by email",
			"email", email,
			"error", err.Error())
		metrics.Logins.WithLabelValues("error").Inc()
		return model.TokenPair{}, fmt.Errorf("failed to get user by email: %w", err)
	}

	if !a.passwords.Verify(password, user.PasswordHash) {
		a.logger.Info("Auth service: wrong password",
			"user_id", user.ID)
		metrics.Logins.WithLabelValues("invalid_credentials").Inc()
		return model.TokenPair{}, model.ErrInvalidCredentials
	}

	pair, err := a.tokenService.Issue(ctx, user)
	if err != nil {
		a.logger.Error("Auth service: failed to issue tokens",
			"user_id", user.ID,
			"error", err.Error())
		metrics.Logins.WithLabelValues("error").Inc()
		return model.TokenPair{}, err
	}

	a.logger.Info("Auth service: user logged in",
		"user_id", user.ID)
	metrics.Logins.WithLabelValues("success").Inc()

	return pair, nil
}

// Refresh exchanges a refresh token for a new pair chained to it.
func (a *Auth) Refresh(ctx context.Context, refreshToken string) (model.TokenPair, error) {
	claims, err := a.tokenService.Redeem(ctx, refreshToken)
	if err != nil {
		if !errors.Is(err, model.ErrInvalidToken) {
			a.logger.Error("Auth service: failed to redeem refresh token",
				"error", err.Error())
		}
		return model.TokenPair{}, err
	}

	// The account may have been removed after the token was issued.
	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			a.logger.Warn("Auth service: refresh for deleted user",
				"user_id", claims.Subject,
				"family_id", claims.FamilyID)
			return model.TokenPair{}, model.ErrUserNotFound
		}
		a.logger.Error("Auth service: failed to get user by id",
			"user_id", claims.Subject,
			"error", err.Error())
		return model.TokenPair{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	pair, err := a.tokenService.Rotate(ctx, claims, user)
	if err != nil {
		a.logger.Error("Auth service: failed to rotate tokens",
			"user_id", user.ID,
			"family_id", claims.FamilyID,
			"error", err.Error())
		return model.TokenPair{}, err
	}

	return pair, nil
}

// GetCurrentUser resolves the user an access token was issued to.
func (a *Auth) GetCurrentUser(ctx context.Context, accessToken string) (model.User, error) {
	claims, err := a.tokenService.ParseAccess(accessToken)
	if err != nil {
		return model.User{}, err
	}

	user, err := a.users.GetByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return model.User{}, model.ErrUserNotFound
		}
		a.logger.Error("Auth service: failed to get user by id",
			"user_id", claims.Subject,
			"error", err.Error())
		return model.User{}, fmt.Errorf("failed to get user by id: %w", err)
	}

	return user, nil
}

// Logout revokes the presented refresh token.
func (a *Auth) Logout(ctx context.Context, refreshToken string) error {
	return a.tokenService.RevokeByToken(ctx, refreshToken)
}
