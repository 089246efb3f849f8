package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/quickstack/pos-auth/internal/database"
	"github.com/quickstack/pos-auth/internal/models"
)

// LoginAttemptRepository handles database operations for login attempts.
// Attempts are keyed by tenant and normalized email so lockout also applies
// to unknown accounts.
type LoginAttemptRepository struct {
	pool database.Pool
}

// NewLoginAttemptRepository creates a new LoginAttemptRepository
func NewLoginAttemptRepository(pool database.Pool) *LoginAttemptRepository {
	return &LoginAttemptRepository{pool: pool}
}

// Record records a login attempt in the database
func (r *LoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	query := `
		INSERT INTO login_attempts (id, tenant_id, email, user_id, success, failure_reason, ip_address, user_agent, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`

	_, err := r.pool.Exec(ctx, query,
		attempt.ID,
		attempt.TenantID,
		attempt.Email,
		attempt.UserID,
		attempt.Success,
		attempt.FailureReason,
		attempt.IPAddress,
		attempt.UserAgent,
		attempt.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record login attempt: %w", database.MapPostgresError(err))
	}
	return nil
}

// CountFailuresSince returns the number of failed attempts at or after since
func (r *LoginAttemptRepository) CountFailuresSince(ctx context.Context, tenantID, email string, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*) FROM login_attempts
		WHERE tenant_id = $1 AND email = $2 AND success = false AND created_at >= $3
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, tenantID, email, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count login failures: %w", err)
	}
	return count, nil
}

// LastFailureTime returns the most recent failure at or after since, or nil
func (r *LoginAttemptRepository) LastFailureTime(ctx context.Context, tenantID, email string, since time.Time) (*time.Time, error) {
	query := `
		SELECT created_at FROM login_attempts
		WHERE tenant_id = $1 AND email = $2 AND success = false AND created_at >= $3
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.latest(ctx, query, tenantID, email, since)
}

// LastSuccessTime returns the most recent successful login, or nil
func (r *LoginAttemptRepository) LastSuccessTime(ctx context.Context, tenantID, email string) (*time.Time, error) {
	query := `
		SELECT created_at FROM login_attempts
		WHERE tenant_id = $1 AND email = $2 AND success = true
		ORDER BY created_at DESC
		LIMIT 1
	`
	return r.latest(ctx, query, tenantID, email)
}

func (r *LoginAttemptRepository) latest(ctx context.Context, query string, args ...any) (*time.Time, error) {
	var at time.Time
	err := r.pool.QueryRow(ctx, query, args...).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read login attempt time: %w", err)
	}
	return &at, nil
}

// DeleteOlderThan removes attempts created before cutoff
func (r *LoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `DELETE FROM login_attempts WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old login attempts: %w", database.MapPostgresError(err))
	}
	return tag.RowsAffected(), nil
}
