// Package rotation implements refresh-token rotation with reuse detection.
//
// Every refresh token belongs to a family rooted at a login. Redeeming a token
// marks it used; redeeming it again is tolerated only within the overlap window
// and only while it is the immediate predecessor of the family head. Any other
// reuse revokes the whole family.
package rotation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dtroode/refreshguard/internal/logger"
	"github.com/dtroode/refreshguard/internal/metrics"
	"github.com/dtroode/refreshguard/internal/model"
)

// Reason explains why a refresh token was rejected.
type Reason string

const (
	ReasonExpiredOrInvalid    Reason = "EXPIRED_OR_INVALID"
	ReasonMissingFamily       Reason = "MISSING_FAMILY"
	ReasonNotFound            Reason = "NOT_FOUND"
	ReasonRevoked             Reason = "REVOKED"
	ReasonReuseOutsideOverlap Reason = "REUSE_OUTSIDE_OVERLAP"
	ReasonReuseOldToken       Reason = "REUSE_OLD_TOKEN"
)

// Breach reports whether the reason revoked the token's family.
func (r Reason) Breach() bool {
	return r == ReasonReuseOutsideOverlap || r == ReasonReuseOldToken
}

// Decision is the outcome of redeeming a refresh token.
type Decision struct {
	Accepted bool
	Reason   Reason
	// Reused is set when an already redeemed token was accepted inside the overlap window.
	Reused bool
}

func accept(reused bool) Decision   { return Decision{Accepted: true, Reused: reused} }
func reject(reason Reason) Decision { return Decision{Reason: reason} }

// Engine decides refresh outcomes and issues chained token pairs.
// It keeps no state between calls.
type Engine struct {
	store   model.TokenStore
	codec   model.TokenCodec
	clock   model.Clock
	overlap time.Duration
	audit   model.AuditSink
	logger  *logger.Logger
}

// NewEngine creates an Engine. audit may be nil.
func NewEngine(
	store model.TokenStore,
	codec model.TokenCodec,
	clock model.Clock,
	overlap time.Duration,
	audit model.AuditSink,
	logger *logger.Logger,
) *Engine {
	return &Engine{
		store:   store,
		codec:   codec,
		clock:   clock,
		overlap: overlap,
		audit:   audit,
		logger:  logger,
	}
}

// Redeem runs the reuse-detection checks for verified refresh claims. A nil
// claims value stands for a token that failed verification. The returned
// error is only set for store failures.
func (e *Engine) Redeem(ctx context.Context, claims *model.Claims) (Decision, error) {
	d, err := e.redeem(ctx, claims)
	if err != nil {
		return Decision{}, err
	}
	outcome := "accepted"
	if !d.Accepted {
		outcome = string(d.Reason)
	} else if d.Reused {
		outcome = "accepted_overlap"
	}
	metrics.RefreshOutcomes.WithLabelValues(outcome).Inc()
	return d, nil
}

func (e *Engine) redeem(ctx context.Context, claims *model.Claims) (Decision, error) {
	now := e.clock.Now()
	if claims == nil || claims.Expired(now) {
		return reject(ReasonExpiredOrInvalid), nil
	}

	if claims.FamilyID == "" {
		e.logger.Security("Rotation engine: refresh token without family rejected",
			"user_id", claims.Subject, "token_id", claims.TokenID)
		return reject(ReasonMissingFamily), nil
	}

	meta, err := e.store.Get(ctx, claims.TokenID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			e.logger.Warn("Rotation engine: refresh token not found, it may be expired or cleaned up",
				"user_id", claims.Subject, "token_id", claims.TokenID)
			return reject(ReasonNotFound), nil
		}
		return Decision{}, fmt.Errorf("failed to load refresh token: %w", err)
	}

	if meta.Revoked {
		e.logger.Warn("Rotation engine: revoked refresh token used",
			"user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID)
		e.publish(ctx, model.AuditRevokedTokenUsed, claims)
		return reject(ReasonRevoked), nil
	}

	if meta.Used() {
		return e.reuse(ctx, claims, now.Sub(*meta.FirstUsedAt), false)
	}

	firstUsedAt, marked, err := e.store.MarkUsed(ctx, claims.TokenID, now)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return reject(ReasonNotFound), nil
		}
		return Decision{}, fmt.Errorf("failed to mark refresh token used: %w", err)
	}
	if marked {
		e.logger.Debug("Rotation engine: refresh token redeemed for the first time",
			"user_id", claims.Subject, "token_id", claims.TokenID)
		return accept(false), nil
	}
	// A concurrent request redeemed it first; judge this one as a reuse.
	return e.reuse(ctx, claims, now.Sub(firstUsedAt), true)
}

// reuse judges a token that was already redeemed. raced is set when this
// request lost the MarkUsed race, in which case the winner's successor may
// not be stored yet and the token itself can still be the family head.
func (e *Engine) reuse(ctx context.Context, claims *model.Claims, elapsed time.Duration, raced bool) (Decision, error) {
	if elapsed > e.overlap {
		e.logger.Security("Rotation engine: BREACH DETECTED, refresh token reused outside overlap window",
			"user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID,
			"sequence", claims.RotationSequence, "elapsed", elapsed, "overlap", e.overlap)
		return e.breach(ctx, claims, ReasonReuseOutsideOverlap)
	}

	latest, err := e.store.LatestInFamily(ctx, claims.FamilyID)
	if err != nil && !errors.Is(err, model.ErrNotFound) {
		return Decision{}, fmt.Errorf("failed to load family head: %w", err)
	}
	found := err == nil

	if found && (latest.ParentTokenID == claims.TokenID || (raced && latest.TokenID == claims.TokenID)) {
		e.logger.Info("Rotation engine: previous refresh token reused within overlap window",
			"user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID,
			"sequence", claims.RotationSequence, "latest_token_id", latest.TokenID,
			"latest_sequence", latest.RotationSequence, "elapsed", elapsed)
		return accept(true), nil
	}

	args := []any{
		"user_id", claims.Subject, "family_id", claims.FamilyID, "token_id", claims.TokenID,
		"sequence", claims.RotationSequence, "elapsed", elapsed,
	}
	if found {
		args = append(args, "latest_token_id", latest.TokenID, "latest_sequence", latest.RotationSequence)
	}
	e.logger.Security("Rotation engine: BREACH DETECTED, old refresh token reused within overlap window", args...)
	return e.breach(ctx, claims, ReasonReuseOldToken)
}

func (e *Engine) breach(ctx context.Context, claims *model.Claims, reason Reason) (Decision, error) {
	if err := e.store.RevokeFamily(ctx, claims.FamilyID); err != nil {
		return Decision{}, fmt.Errorf("failed to revoke token family: %w", err)
	}
	metrics.FamilyRevocations.WithLabelValues(string(reason)).Inc()

	kind := model.AuditReuseOldToken
	if reason == ReasonReuseOutsideOverlap {
		kind = model.AuditReuseOutsideOverlap
	}
	e.publish(ctx, kind, claims)
	return reject(reason), nil
}

// Issue mints an access token and a refresh token chained to parent, and
// records the refresh token. A nil parent starts a new family.
func (e *Engine) Issue(ctx context.Context, parent *model.Claims, user model.User) (model.TokenPair, error) {
	lineage := model.RefreshLineage{}
	if parent != nil {
		lineage = model.RefreshLineage{
			FamilyID:      parent.FamilyID,
			ParentTokenID: parent.TokenID,
			Sequence:      parent.RotationSequence + 1,
		}
	}

	accessToken, accessClaims, err := e.codec.MintAccess(user.ID, user.Email)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to mint access token: %w", err)
	}

	refreshToken, refreshClaims, err := e.codec.MintRefresh(user.ID, user.Email, lineage)
	if err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to mint refresh token: %w", err)
	}

	if err := e.store.Put(ctx, model.MetadataFromClaims(refreshClaims)); err != nil {
		return model.TokenPair{}, fmt.Errorf("failed to store refresh token: %w", err)
	}

	if parent != nil {
		e.logger.Info("Rotation engine: token rotated",
			"user_id", user.ID, "family_id", refreshClaims.FamilyID,
			"old_token_id", parent.TokenID, "old_sequence", parent.RotationSequence,
			"new_token_id", refreshClaims.TokenID, "new_sequence", refreshClaims.RotationSequence)
	}

	return model.TokenPair{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(accessClaims.ExpiresAt.Sub(accessClaims.IssuedAt) / time.Second),
	}, nil
}

// Revoke revokes a single refresh token, typically on logout.
func (e *Engine) Revoke(ctx context.Context, claims model.Claims) error {
	if err := e.store.Revoke(ctx, claims.TokenID); err != nil {
		return err
	}
	e.publish(ctx, model.AuditTokenRevoked, &claims)
	return nil
}

func (e *Engine) publish(ctx context.Context, kind model.AuditKind, claims *model.Claims) {
	if e.audit == nil {
		return
	}
	e.audit.Publish(ctx, model.AuditEvent{
		Kind:             kind,
		UserID:           claims.Subject,
		FamilyID:         claims.FamilyID,
		TokenID:          claims.TokenID,
		RotationSequence: claims.RotationSequence,
		OccurredAt:       e.clock.Now(),
	})
}
