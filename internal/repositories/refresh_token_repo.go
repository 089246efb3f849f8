package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quickstack/pos-auth/internal/database"
	"github.com/quickstack/pos-auth/internal/models"
)

// RefreshTokenRepository persists refresh token digests and their families
type RefreshTokenRepository struct {
	pool database.Pool
}

func NewRefreshTokenRepository(pool database.Pool) *RefreshTokenRepository {
	return &RefreshTokenRepository{pool: pool}
}

const refreshTokenColumns = `id, user_id, token_hash, family_id, expires_at, revoked_at, revoked_reason,
	ip_address, user_agent, created_at`

func scanRefreshTokenRow(row rowScanner) (*models.RefreshToken, error) {
	var t models.RefreshToken
	var revokedAt *time.Time
	var revokedReason *string

	err := row.Scan(
		&t.ID, &t.UserID, &t.TokenHash, &t.FamilyID, &t.ExpiresAt, &revokedAt, &revokedReason,
		&t.IPAddress, &t.UserAgent, &t.CreatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	t.RevokedAt = revokedAt
	t.RevokedReason = revokedReason
	return &t, nil
}

const insertRefreshToken = `
	INSERT INTO refresh_tokens (id, user_id, token_hash, family_id, expires_at, ip_address, user_agent, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

func insertArgs(t *models.RefreshToken) []any {
	return []any{t.ID, t.UserID, t.TokenHash, t.FamilyID, t.ExpiresAt, t.IPAddress, t.UserAgent, t.CreatedAt}
}

func (r *RefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	if _, err := r.pool.Exec(ctx, insertRefreshToken, insertArgs(t)...); err != nil {
		return fmt.Errorf("failed to create refresh token: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *RefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token_hash = $1`
	return scanRefreshTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

func (r *RefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE id = $1`
	return scanRefreshTokenRow(r.pool.QueryRow(ctx, query, id))
}

// Rotate revokes currentID and inserts next in one transaction. The revoke
// only applies to a still-live row; if another request got there first the
// transaction is rolled back and ErrConflict is returned.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, currentID string, revokedAt time.Time, next *models.RefreshToken) error {
	return database.WithTransaction(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
			WHERE id = $1 AND revoked_at IS NULL`,
			currentID, revokedAt, models.RevokeReasonRotated)
		if err != nil {
			return fmt.Errorf("failed to revoke rotated token: %w", database.MapPostgresError(err))
		}
		if tag.RowsAffected() == 0 {
			return models.ErrConflict
		}

		if _, err := tx.Exec(ctx, insertRefreshToken, insertArgs(next)...); err != nil {
			return fmt.Errorf("failed to insert rotated token: %w", database.MapPostgresError(err))
		}
		return nil
	})
}

// Revoke revokes one live token. Returns false if it was already revoked.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE id = $1 AND revoked_at IS NULL`, id, at, reason)
	if err != nil {
		return false, fmt.Errorf("failed to revoke refresh token: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected() > 0, nil
}

func (r *RefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE family_id = $1 AND revoked_at IS NULL`, familyID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke token family: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

func (r *RefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $2, revoked_reason = $3
		WHERE user_id = $1 AND revoked_at IS NULL`, userID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke user tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// RevokeAllForUserExcept revokes every live token of the user outside keepFamilyID
func (r *RefreshTokenRepository) RevokeAllForUserExcept(ctx context.Context, userID, keepFamilyID, reason string, at time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE refresh_tokens SET revoked_at = $3, revoked_reason = $4
		WHERE user_id = $1 AND family_id <> $2 AND revoked_at IS NULL`, userID, keepFamilyID, at, reason)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke other sessions: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// ListActiveByUser returns the live tokens of a user, newest first
func (r *RefreshTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	query := `SELECT ` + refreshTokenColumns + `
		FROM refresh_tokens
		WHERE user_id = $1 AND revoked_at IS NULL AND expires_at > $2
		ORDER BY created_at DESC`

	rows, err := r.pool.Query(ctx, query, userID, now)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", database.MapPostgresError(err))
	}
	defer rows.Close()

	tokens := make([]*models.RefreshToken, 0)
	for rows.Next() {
		t, err := scanRefreshTokenRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan refresh token: %w", err)
		}
		tokens = append(tokens, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating refresh token rows: %w", err)
	}
	return tokens, nil
}

// DeleteExpired removes tokens that expired or were revoked before cutoff
func (r *RefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM refresh_tokens WHERE expires_at < $1 OR revoked_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired refresh tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
