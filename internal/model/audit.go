package model

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AuditKind names a security-relevant event.
type AuditKind string

const (
	AuditReuseOutsideOverlap AuditKind = "reuse_outside_overlap"
	AuditReuseOldToken       AuditKind = "reuse_old_token"
	AuditRevokedTokenUsed    AuditKind = "revoked_token_used"
	AuditTokenRevoked        AuditKind = "token_revoked"
)

// AuditEvent describes a security event on a refresh-token family.
type AuditEvent struct {
	Kind             AuditKind `json:"kind"`
	UserID           uuid.UUID `json:"user_id"`
	FamilyID         string    `json:"family_id"`
	TokenID          string    `json:"token_id"`
	RotationSequence int       `json:"rotation_sequence"`
	OccurredAt       time.Time `json:"occurred_at"`
}

// AuditSink receives audit events. Publish must not block on I/O.
type AuditSink interface {
	Publish(ctx context.Context, event AuditEvent)
}

// ObjectStore persists archived audit records.
type ObjectStore interface {
	Put(ctx context.Context, key string, data []byte, contentType string) error
}
