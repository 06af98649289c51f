package handler

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/dtroode/refreshguard/internal/api/grpc/authv1"
	"github.com/dtroode/refreshguard/internal/mocks"
	"github.com/dtroode/refreshguard/internal/model"
	"github.com/dtroode/refreshguard/internal/testutil"
)

var testPair = model.TokenPair{AccessToken: "acc", RefreshToken: "ref", TokenType: "bearer", ExpiresIn: 1800}

func TestAuth_Login(t *testing.T) {
	t.Parallel()

	svc := mocks.NewAuthService(t)
	svc.On("Login", mock.Anything, "a@b.c", "secret-pass").Return(testPair, nil)

	h := NewAuth(svc, testutil.MakeNoopLogger())
	out, err := h.Login(context.Background(), &authv1.LoginRequest{Email: "a@b.c", Password: "secret-pass"})
	require.NoError(t, err)
	assert.Equal(t, &authv1.TokenResponse{AccessToken: "acc", RefreshToken: "ref", TokenType: "bearer", ExpiresIn: 1800}, out)
}

func TestAuth_Login_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		req      *authv1.LoginRequest
		svcErr   error
		wantCode codes.Code
	}{
		{name: "missing email", req: &authv1.LoginRequest{Password: "p"}, wantCode: codes.InvalidArgument},
		{name: "missing password", req: &authv1.LoginRequest{Email: "a@b.c"}, wantCode: codes.InvalidArgument},
		{name: "bad credentials", req: &authv1.LoginRequest{Email: "a@b.c", Password: "p"}, svcErr: model.ErrInvalidCredentials, wantCode: codes.Unauthenticated},
		{name: "storage failure", req: &authv1.LoginRequest{Email: "a@b.c", Password: "p"}, svcErr: assert.AnError, wantCode: codes.Internal},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc := mocks.NewAuthService(t)
			if tt.svcErr != nil {
				svc.On("Login", mock.Anything, tt.req.Email, tt.req.Password).Return(model.TokenPair{}, tt.svcErr)
			}

			h := NewAuth(svc, testutil.MakeNoopLogger())
			out, err := h.Login(context.Background(), tt.req)
			assert.Nil(t, out)
			assert.Equal(t, tt.wantCode, status.Code(err))
		})
	}
}

func TestAuth_Refresh(t *testing.T) {
	t.Parallel()

	svc := mocks.NewAuthService(t)
	svc.On("Refresh", mock.Anything, "old").Return(testPair, nil).Once()
	svc.On("Refresh", mock.Anything, "reused").Return(model.TokenPair{}, model.ErrInvalidToken).Once()
	svc.On("Refresh", mock.Anything, "orphan").Return(model.TokenPair{}, model.ErrUserNotFound).Once()

	h := NewAuth(svc, testutil.MakeNoopLogger())

	out, err := h.Refresh(context.Background(), &authv1.RefreshRequest{RefreshToken: "old"})
	require.NoError(t, err)
	assert.Equal(t, "ref", out.RefreshToken)

	_, err = h.Refresh(context.Background(), &authv1.RefreshRequest{RefreshToken: "reused"})
	st, _ := status.FromError(err)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "invalid token", st.Message())

	_, err = h.Refresh(context.Background(), &authv1.RefreshRequest{RefreshToken: "orphan"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.Refresh(context.Background(), &authv1.RefreshRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAuth_Revoke(t *testing.T) {
	t.Parallel()

	svc := mocks.NewAuthService(t)
	svc.On("Logout", mock.Anything, "ref").Return(nil).Once()
	svc.On("Logout", mock.Anything, "bad").Return(model.ErrInvalidToken).Once()

	h := NewAuth(svc, testutil.MakeNoopLogger())

	out, err := h.Revoke(context.Background(), &authv1.RevokeRequest{RefreshToken: "ref"})
	require.NoError(t, err)
	assert.NotNil(t, out)

	_, err = h.Revoke(context.Background(), &authv1.RevokeRequest{RefreshToken: "bad"})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = h.Revoke(context.Background(), &authv1.RevokeRequest{})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestAuth_Me(t *testing.T) {
	t.Parallel()

	created := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	user := model.User{ID: uuid.New(), Email: "a@b.c", Name: "Ann", CreatedAt: created, UpdatedAt: created}

	svc := mocks.NewAuthService(t)
	svc.On("GetCurrentUser", mock.Anything, "access").Return(user, nil).Once()
	svc.On("GetCurrentUser", mock.Anything, "gone").Return(model.User{}, model.ErrUserNotFound).Once()

	h := NewAuth(svc, testutil.MakeNoopLogger())
	withToken := func(token string) context.Context {
		return metadata.NewIncomingContext(context.Background(), metadata.Pairs("authorization", "Bearer "+token))
	}

	out, err := h.Me(withToken("access"), &authv1.MeRequest{})
	require.NoError(t, err)
	assert.Equal(t, user.ID.String(), out.ID)
	assert.Equal(t, "Ann", out.Name)
	assert.Equal(t, created, out.CreatedAt)

	_, err = h.Me(withToken("gone"), &authv1.MeRequest{})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = h.Me(context.Background(), &authv1.MeRequest{})
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}
