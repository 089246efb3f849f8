package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/quickstack/pos-auth/internal/database"
	"github.com/quickstack/pos-auth/internal/models"
)

// PasswordResetRepository handles persistence for password reset token digests
type PasswordResetRepository struct {
	pool database.Pool
}

func NewPasswordResetRepository(pool database.Pool) *PasswordResetRepository {
	return &PasswordResetRepository{pool: pool}
}

func scanResetTokenRow(row rowScanner) (*models.PasswordResetToken, error) {
	var t models.PasswordResetToken
	var usedAt *time.Time

	err := row.Scan(&t.ID, &t.UserID, &t.TokenHash, &t.ExpiresAt, &usedAt, &t.IPAddress, &t.CreatedAt)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}
	t.UsedAt = usedAt
	return &t, nil
}

func (r *PasswordResetRepository) Create(ctx context.Context, t *models.PasswordResetToken) error {
	query := `
		INSERT INTO password_reset_tokens (id, user_id, token_hash, expires_at, ip_address, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.pool.Exec(ctx, query, t.ID, t.UserID, t.TokenHash, t.ExpiresAt, t.IPAddress, t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create reset token: %w", database.MapPostgresError(err))
	}
	return nil
}

func (r *PasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	query := `
		SELECT id, user_id, token_hash, expires_at, used_at, ip_address, created_at
		FROM password_reset_tokens
		WHERE token_hash = $1
	`
	return scanResetTokenRow(r.pool.QueryRow(ctx, query, tokenHash))
}

// DeleteUnusedForUser drops any outstanding reset token so only the newest works
func (r *PasswordResetRepository) DeleteUnusedForUser(ctx context.Context, userID string) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM password_reset_tokens WHERE user_id = $1 AND used_at IS NULL`, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete outstanding reset tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}

// MarkUsed consumes the token. ErrConflict means it was consumed concurrently.
func (r *PasswordResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE password_reset_tokens SET used_at = $2 WHERE id = $1 AND used_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("failed to mark reset token used: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrConflict
	}
	return nil
}

func (r *PasswordResetRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM password_reset_tokens WHERE expires_at < $1 OR used_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired reset tokens: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
