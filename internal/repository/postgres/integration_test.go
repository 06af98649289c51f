//go:build integration

package postgres_test

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/dtroode/refreshguard/internal/model"
	repo "github.com/dtroode/refreshguard/internal/repository/postgres"
	"github.com/dtroode/refreshguard/internal/testutil"
	"github.com/dtroode/refreshguard/internal/tokenstore/storetest"
)

var dsn string

func TestMain(m *testing.M) {
	ctx := context.Background()
	container, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:15-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "password",
				"POSTGRES_DB":       "refreshguard_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(2 * time.Minute),
		},
		Started: true,
	})
	if err != nil {
		panic(err)
	}
	host, err := container.Host(ctx)
	if err != nil {
		panic(err)
	}
	port, err := container.MappedPort(ctx, "5432")
	if err != nil {
		panic(err)
	}
	dsn = fmt.Sprintf("postgres://postgres:password@%s:%s/refreshguard_test?sslmode=disable", host, port.Port())

	code := m.Run()
	_ = container.Terminate(ctx)
	os.Exit(code)
}

func connect(t *testing.T) *repo.Connection {
	t.Helper()
	conn, err := repo.NewConnection(context.Background(), dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func TestRefreshTokenRepository_Store(t *testing.T) {
	conn := connect(t)

	storetest.Run(t, func(t *testing.T, clock *testutil.FakeClock) model.TokenStore {
		_, err := conn.ExecContext(context.Background(), `TRUNCATE refresh_tokens, refresh_token_families`)
		require.NoError(t, err)
		return repo.NewRefreshTokenRepository(conn, clock)
	})
}

func TestUserRepository(t *testing.T) {
	ctx := context.Background()
	ur := repo.NewUserRepository(connect(t))

	now := time.Now().UTC().Truncate(time.Microsecond)
	u := model.User{
		ID:           uuid.New(),
		Email:        "user@example.com",
		Name:         "User",
		PasswordHash: "$argon2id$v=19$m=65536,t=3,p=2$c2FsdA$aGFzaA",
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	saved, err := ur.Create(ctx, u)
	require.NoError(t, err)
	require.Equal(t, u.ID, saved.ID)

	byEmail, err := ur.GetByEmail(ctx, u.Email)
	require.NoError(t, err)
	require.Equal(t, u.ID, byEmail.ID)
	require.Equal(t, u.PasswordHash, byEmail.PasswordHash)

	byID, err := ur.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Email, byID.Email)

	require.NoError(t, ur.SoftDelete(ctx, u.ID))
	_, err = ur.GetByID(ctx, u.ID)
	require.ErrorIs(t, err, model.ErrNotFound)
	_, err = ur.GetByEmail(ctx, u.Email)
	require.ErrorIs(t, err, model.ErrNotFound)
}
