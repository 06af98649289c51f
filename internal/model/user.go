package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// UserDirectory looks up users for authentication.
type UserDirectory interface {
	GetByEmail(ctx context.Context, email string) (User, error)
	GetByID(ctx context.Context, id uuid.UUID) (User, error)
}

// User represents a stored user with its password hash.
type User struct {
	ID           uuid.UUID
	Email        string
	Name         string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// PasswordVerifier checks a plaintext password against a stored hash.
// Implementations compare in constant time and report false for malformed hashes.
type PasswordVerifier interface {
	Verify(plain, hash string) bool
}
