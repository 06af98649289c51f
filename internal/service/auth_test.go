package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dtroode/refreshguard/internal/mocks"
	"github.com/dtroode/refreshguard/internal/model"
	passwordpkg "github.com/dtroode/refreshguard/internal/password"
	"github.com/dtroode/refreshguard/internal/rotation"
	"github.com/dtroode/refreshguard/internal/testutil"
	"github.com/dtroode/refreshguard/internal/token"
	"github.com/dtroode/refreshguard/internal/tokenstore/memory"
)

const (
	testSecret  = "0123456789abcdef0123456789abcdef"
	testOverlap = 5 * time.Second
	testEmail   = "user@example.com"
	testPass    = "correct horse battery"
	testHash    = "$argon2id$stored"
)

type authFixture struct {
	auth      *Auth
	clock     *testutil.FakeClock
	codec     *token.JWT
	users     *mocks.UserDirectory
	passwords *mocks.PasswordVerifier
	user      model.User
}

func newAuthFixture(t *testing.T) *authFixture {
	return newAuthFixtureWithStore(t, nil)
}

func newAuthFixtureWithStore(t *testing.T, store model.TokenStore) *authFixture {
	t.Helper()
	clock := testutil.NewFakeClock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	if store == nil {
		store = memory.NewStore(clock)
	}
	codec, err := token.NewJWT(testSecret, token.Lifetimes{Access: 30 * time.Minute, Refresh: 7 * 24 * time.Hour}, clock)
	require.NoError(t, err)

	log := testutil.MakeNoopLogger()
	engine := rotation.NewEngine(store, codec, clock, testOverlap, nil, log)
	users := mocks.NewUserDirectory(t)
	passwords := mocks.NewPasswordVerifier(t)

	return &authFixture{
		auth:      NewAuth(users, passwords, NewTokenService(codec, engine, clock, log), log),
		clock:     clock,
		codec:     codec,
		users:     users,
		passwords: passwords,
		user:      model.User{ID: uuid.New(), Email: testEmail, Name: "User", PasswordHash: testHash},
	}
}

func (f *authFixture) expectLogin() {
	f.users.On("GetByEmail", mock.Anything, testEmail).Return(f.user, nil)
	f.passwords.On("Verify", testPass, testHash).Return(true)
}

func (f *authFixture) expectUser() {
	f.users.On("GetByID", mock.Anything, f.user.ID).Return(f.user, nil)
}

func (f *authFixture) login(t *testing.T) model.TokenPair {
	t.Helper()
	pair, err := f.auth.Login(context.Background(), testEmail, testPass)
	require.NoError(t, err)
	return pair
}

func (f *authFixture) refresh(t *testing.T, refreshToken string) model.TokenPair {
	t.Helper()
	pair, err := f.auth.Refresh(context.Background(), refreshToken)
	require.NoError(t, err)
	return pair
}

func (f *authFixture) refreshClaims(t *testing.T, refreshToken string) model.Claims {
	t.Helper()
	claims, ok := f.codec.Verify(refreshToken, model.TokenKindRefresh)
	require.True(t, ok)
	return claims
}

func TestAuth_Login(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()

	first := f.login(t)
	second := f.login(t)

	assert.Equal(t, "bearer", first.TokenType)
	assert.Equal(t, int64(1800), first.ExpiresIn)

	c1 := f.refreshClaims(t, first.RefreshToken)
	c2 := f.refreshClaims(t, second.RefreshToken)
	assert.Equal(t, 0, c1.RotationSequence)
	assert.Empty(t, c1.ParentTokenID)
	assert.NotEmpty(t, c1.FamilyID)
	assert.NotEqual(t, c1.FamilyID, c2.FamilyID)
	assert.Equal(t, f.user.ID, c1.Subject)

	access, ok := f.codec.Verify(first.AccessToken, model.TokenKindAccess)
	require.True(t, ok)
	assert.Equal(t, testEmail, access.Email)
}

func TestAuth_Login_InvalidCredentials(t *testing.T) {
	tests := []struct {
		name  string
		setup func(f *authFixture)
	}{
		{
			name: "unknown email",
			setup: func(f *authFixture) {
				f.users.On("GetByEmail", mock.Anything, testEmail).Return(model.User{}, model.ErrNotFound)
				f.passwords.On("Verify", testPass, passwordpkg.Placeholder).Return(false)
			},
		},
		{
			name: "wrong password",
			setup: func(f *authFixture) {
				f.users.On("GetByEmail", mock.Anything, testEmail).Return(f.user, nil)
				f.passwords.On("Verify", testPass, testHash).Return(false)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newAuthFixture(t)
			tt.setup(f)

			_, err := f.auth.Login(context.Background(), testEmail, testPass)
			assert.ErrorIs(t, err, model.ErrInvalidCredentials)
		})
	}
}

func TestAuth_Login_DirectoryError(t *testing.T) {
	f := newAuthFixture(t)
	f.users.On("GetByEmail", mock.Anything, testEmail).Return(model.User{}, assert.AnError)

	_, err := f.auth.Login(context.Background(), testEmail, testPass)
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
	assert.NotErrorIs(t, err, model.ErrInvalidCredentials)
}

func TestAuth_Refresh_ChainsToParent(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.expectUser()

	a := f.login(t).RefreshToken
	b := f.refresh(t, a).RefreshToken

	ca := f.refreshClaims(t, a)
	cb := f.refreshClaims(t, b)
	assert.Equal(t, ca.TokenID, cb.ParentTokenID)
	assert.Equal(t, ca.RotationSequence+1, cb.RotationSequence)
	assert.Equal(t, ca.FamilyID, cb.FamilyID)
}

func TestAuth_Refresh_ImmediateReuse(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.expectUser()

	a := f.login(t).RefreshToken
	b1 := f.refresh(t, a).RefreshToken
	b2 := f.refresh(t, a).RefreshToken

	ca := f.refreshClaims(t, a)
	assert.Equal(t, ca.TokenID, f.refreshClaims(t, b1).ParentTokenID)
	assert.Equal(t, ca.TokenID, f.refreshClaims(t, b2).ParentTokenID)
}

func TestAuth_Refresh_ReuseAfterWindowRevokesFamily(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.expectUser()
	ctx := context.Background()

	a := f.login(t).RefreshToken
	b := f.refresh(t, a).RefreshToken

	f.clock.Advance(1 * time.Second)
	f.refresh(t, a)

	f.clock.Advance(9 * time.Second)
	_, err := f.auth.Refresh(ctx, a)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = f.auth.Refresh(ctx, b)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestAuth_Refresh_OldTokenRevokesFamily(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.expectUser()
	ctx := context.Background()

	a := f.login(t).RefreshToken
	b := f.refresh(t, a).RefreshToken
	c := f.refresh(t, b).RefreshToken

	f.clock.Advance(1 * time.Second)
	_, err := f.auth.Refresh(ctx, a)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = f.auth.Refresh(ctx, c)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestAuth_Refresh_Rejections(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	ctx := context.Background()

	pair := f.login(t)

	tests := []struct {
		name  string
		token string
	}{
		{name: "garbage", token: "not-a-token"},
		{name: "empty", token: ""},
		{name: "access token", token: pair.AccessToken},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.auth.Refresh(ctx, tt.token)
			assert.ErrorIs(t, err, model.ErrInvalidToken)
		})
	}

	t.Run("expired", func(t *testing.T) {
		f.clock.Advance(8 * 24 * time.Hour)
		_, err := f.auth.Refresh(ctx, pair.RefreshToken)
		assert.ErrorIs(t, err, model.ErrInvalidToken)
	})
}

func TestAuth_Refresh_UserDeleted(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.users.On("GetByID", mock.Anything, f.user.ID).Return(model.User{}, model.ErrNotFound)

	pair := f.login(t)

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestAuth_Refresh_StoreFailure(t *testing.T) {
	store := mocks.NewTokenStore(t)
	f := newAuthFixtureWithStore(t, store)
	f.expectLogin()
	store.On("Put", mock.Anything, mock.Anything).Return(nil).Once()
	store.On("Get", mock.Anything, mock.Anything).Return(model.TokenMetadata{}, errors.New("connection reset"))

	pair := f.login(t)

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken)
	require.Error(t, err)
	assert.NotErrorIs(t, err, model.ErrInvalidToken)
	assert.Contains(t, err.Error(), "connection reset")
}

func TestAuth_GetCurrentUser(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.expectUser()
	ctx := context.Background()

	pair := f.login(t)

	user, err := f.auth.GetCurrentUser(ctx, pair.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, f.user.ID, user.ID)
	assert.Equal(t, "User", user.Name)

	_, err = f.auth.GetCurrentUser(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	_, err = f.auth.GetCurrentUser(ctx, "garbage")
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	f.clock.Advance(30 * time.Minute)
	_, err = f.auth.GetCurrentUser(ctx, pair.AccessToken)
	assert.ErrorIs(t, err, model.ErrInvalidToken)
}

func TestAuth_GetCurrentUser_UserDeleted(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	f.users.On("GetByID", mock.Anything, f.user.ID).Return(model.User{}, model.ErrNotFound)

	pair := f.login(t)

	_, err := f.auth.GetCurrentUser(context.Background(), pair.AccessToken)
	assert.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestAuth_Logout(t *testing.T) {
	f := newAuthFixture(t)
	f.expectLogin()
	ctx := context.Background()

	pair := f.login(t)

	require.NoError(t, f.auth.Logout(ctx, pair.RefreshToken))

	_, err := f.auth.Refresh(ctx, pair.RefreshToken)
	assert.ErrorIs(t, err, model.ErrInvalidToken)

	assert.ErrorIs(t, f.auth.Logout(ctx, "garbage"), model.ErrInvalidToken)
	assert.ErrorIs(t, f.auth.Logout(ctx, pair.AccessToken), model.ErrInvalidToken)
}
