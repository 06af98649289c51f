package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dtroode/refreshguard/internal/model"
)

var _ model.TokenStore = (*RefreshTokenRepository)(nil)

// RefreshTokenRepository stores refresh-token metadata in postgres.
//
// Put and RevokeFamily both upsert the family row first, so the row lock
// serializes them per family: a member committed before a revocation is swept
// by it, and a member put afterwards reads the revoked marker.
type RefreshTokenRepository struct {
	db    *Connection
	clock model.Clock
}

func NewRefreshTokenRepository(db *Connection, clock model.Clock) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db, clock: clock}
}

const tokenColumns = `token_id, user_id, kind, issued_at, expires_at, revoked, first_used_at, family_id, rotation_sequence, parent_token_id`

func (r *RefreshTokenRepository) Put(ctx context.Context, meta model.TokenMetadata) error {
	if meta.TokenID == "" {
		return fmt.Errorf("failed to put refresh token: empty token id")
	}

	err := r.db.withTx(ctx, func(tx DBTX) error {
		revoked := meta.Revoked
		if meta.FamilyID != "" {
			const lockFamily = `
				INSERT INTO refresh_token_families (family_id) VALUES ($1)
				ON CONFLICT (family_id) DO UPDATE SET family_id = EXCLUDED.family_id
				RETURNING revoked_at IS NOT NULL`
			var familyRevoked bool
			if err := tx.QueryRowContext(ctx, lockFamily, meta.FamilyID).Scan(&familyRevoked); err != nil {
				return fmt.Errorf("failed to lock token family: %w", err)
			}
			revoked = revoked || familyRevoked
		}

		const upsert = `
			INSERT INTO refresh_tokens (` + tokenColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (token_id) DO UPDATE SET
				user_id = EXCLUDED.user_id,
				kind = EXCLUDED.kind,
				issued_at = EXCLUDED.issued_at,
				expires_at = EXCLUDED.expires_at,
				revoked = EXCLUDED.revoked,
				first_used_at = EXCLUDED.first_used_at,
				family_id = EXCLUDED.family_id,
				rotation_sequence = EXCLUDED.rotation_sequence,
				parent_token_id = EXCLUDED.parent_token_id,
				ord = DEFAULT`
		_, err := tx.ExecContext(ctx, upsert,
			meta.TokenID, meta.UserID, string(meta.Kind), meta.IssuedAt, meta.ExpiresAt, revoked,
			nullTime(meta.FirstUsedAt), nullString(meta.FamilyID), meta.RotationSequence, nullString(meta.ParentTokenID),
		)
		if err != nil {
			return fmt.Errorf("failed to upsert refresh token: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to put refresh token: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) Get(ctx context.Context, tokenID string) (model.TokenMetadata, error) {
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens WHERE token_id = $1`

	meta, err := scanToken(r.db.QueryRowContext(ctx, query, tokenID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TokenMetadata{}, model.ErrNotFound
		}
		return model.TokenMetadata{}, fmt.Errorf("failed to get refresh token: %w", err)
	}
	return meta, nil
}

func (r *RefreshTokenRepository) MarkUsed(ctx context.Context, tokenID string, at time.Time) (time.Time, bool, error) {
	const mark = `
		UPDATE refresh_tokens SET first_used_at = $2
		WHERE token_id = $1 AND first_used_at IS NULL
		RETURNING first_used_at`

	var firstUsedAt time.Time
	err := r.db.QueryRowContext(ctx, mark, tokenID, at).Scan(&firstUsedAt)
	if err == nil {
		return firstUsedAt.UTC(), true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, false, fmt.Errorf("failed to mark refresh token used: %w", err)
	}

	// Lost the race or already used; first_used_at is write-once so this read is stable.
	const current = `SELECT first_used_at FROM refresh_tokens WHERE token_id = $1`
	var existing sql.NullTime
	if err := r.db.QueryRowContext(ctx, current, tokenID).Scan(&existing); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, model.ErrNotFound
		}
		return time.Time{}, false, fmt.Errorf("failed to read refresh token first use: %w", err)
	}
	if !existing.Valid {
		return time.Time{}, false, fmt.Errorf("refresh token %s has no first use after conditional update", tokenID)
	}
	return existing.Time.UTC(), false, nil
}

func (r *RefreshTokenRepository) Revoke(ctx context.Context, tokenID string) error {
	const query = `UPDATE refresh_tokens SET revoked = TRUE WHERE token_id = $1`

	res, err := r.db.ExecContext(ctx, query, tokenID)
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to revoke refresh token: %w", err)
	}
	if n == 0 {
		return model.ErrNotFound
	}
	return nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID string) error {
	if familyID == "" {
		return fmt.Errorf("failed to revoke token family: empty family id")
	}

	err := r.db.withTx(ctx, func(tx DBTX) error {
		const markFamily = `
			INSERT INTO refresh_token_families (family_id, revoked_at) VALUES ($1, $2)
			ON CONFLICT (family_id) DO UPDATE SET revoked_at = COALESCE(refresh_token_families.revoked_at, EXCLUDED.revoked_at)`
		if _, err := tx.ExecContext(ctx, markFamily, familyID, r.clock.Now()); err != nil {
			return fmt.Errorf("failed to mark token family revoked: %w", err)
		}

		const revokeMembers = `UPDATE refresh_tokens SET revoked = TRUE WHERE family_id = $1 AND NOT revoked`
		if _, err := tx.ExecContext(ctx, revokeMembers, familyID); err != nil {
			return fmt.Errorf("failed to revoke family members: %w", err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to revoke token family: %w", err)
	}
	return nil
}

func (r *RefreshTokenRepository) LatestInFamily(ctx context.Context, familyID string) (model.TokenMetadata, error) {
	if familyID == "" {
		return model.TokenMetadata{}, model.ErrNotFound
	}
	query := `SELECT ` + tokenColumns + ` FROM refresh_tokens
		WHERE family_id = $1
		ORDER BY rotation_sequence DESC, ord DESC
		LIMIT 1`

	meta, err := scanToken(r.db.QueryRowContext(ctx, query, familyID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.TokenMetadata{}, model.ErrNotFound
		}
		return model.TokenMetadata{}, fmt.Errorf("failed to get latest refresh token in family: %w", err)
	}
	return meta, nil
}

func (r *RefreshTokenRepository) CleanupExpired(ctx context.Context) (int, error) {
	var removed int64
	err := r.db.withTx(ctx, func(tx DBTX) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, r.clock.Now())
		if err != nil {
			return fmt.Errorf("failed to delete expired refresh tokens: %w", err)
		}
		if removed, err = res.RowsAffected(); err != nil {
			return fmt.Errorf("failed to count expired refresh tokens: %w", err)
		}

		const orphans = `
			DELETE FROM refresh_token_families f
			WHERE NOT EXISTS (SELECT 1 FROM refresh_tokens t WHERE t.family_id = f.family_id)`
		if _, err := tx.ExecContext(ctx, orphans); err != nil {
			return fmt.Errorf("failed to delete empty token families: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup refresh tokens: %w", err)
	}
	return int(removed), nil
}

func scanToken(row *sql.Row) (model.TokenMetadata, error) {
	var (
		meta        model.TokenMetadata
		kind        string
		firstUsedAt sql.NullTime
		familyID    sql.NullString
		parentID    sql.NullString
	)
	err := row.Scan(
		&meta.TokenID, &meta.UserID, &kind, &meta.IssuedAt, &meta.ExpiresAt, &meta.Revoked,
		&firstUsedAt, &familyID, &meta.RotationSequence, &parentID,
	)
	if err != nil {
		return model.TokenMetadata{}, err
	}

	meta.Kind = model.TokenKind(kind)
	meta.IssuedAt = meta.IssuedAt.UTC()
	meta.ExpiresAt = meta.ExpiresAt.UTC()
	if firstUsedAt.Valid {
		t := firstUsedAt.Time.UTC()
		meta.FirstUsedAt = &t
	}
	meta.FamilyID = familyID.String
	meta.ParentTokenID = parentID.String
	return meta, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// Ping checks database connectivity.
func (r *RefreshTokenRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}
