// Package context carries the authenticated caller through gRPC handlers.
package context

import (
	"context"

	"github.com/google/uuid"

	"github.com/dtroode/refreshguard/internal/model"
)

// userIDKey is the context key of the authenticated user id.
type userIDKey struct{}

var _ model.ContextManager = (*Manager)(nil)

// Manager stores and reads the authenticated user id.
type Manager struct{}

func NewManager() *Manager {
	return &Manager{}
}

// SetUserIDToContext returns a copy of ctx carrying userID.
func (m *Manager) SetUserIDToContext(ctx context.Context, userID uuid.UUID) context.Context {
	return context.WithValue(ctx, userIDKey{}, userID)
}

// GetUserIDFromContext returns the user id set by SetUserIDToContext.
func (m *Manager) GetUserIDFromContext(ctx context.Context) (uuid.UUID, bool) {
	userID, ok := ctx.Value(userIDKey{}).(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, false
	}
	return userID, true
}
