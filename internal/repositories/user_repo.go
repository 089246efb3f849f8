package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/quickstack/pos-auth/internal/database"
	"github.com/quickstack/pos-auth/internal/models"
)

// UserRepository reads POS user accounts and writes only their credential
// and lockout columns.
type UserRepository struct {
	pool database.Pool
}

func NewUserRepository(pool database.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// rowScanner interface for scanning rows (supports both single row and multiple rows)
type rowScanner interface {
	Scan(dest ...interface{}) error
}

const credentialColumns = `id, tenant_id, email, full_name, password_hash, password_changed_at,
	failed_attempts, locked_until, active, role_id, branch_id, created_at, updated_at`

// scanCredentialRow handles nullable fields and populates a Credential from a database row
func scanCredentialRow(scanner rowScanner) (*models.Credential, error) {
	var c models.Credential
	var passwordChangedAt, lockedUntil *time.Time
	var branchID *string

	err := scanner.Scan(
		&c.ID, &c.TenantID, &c.Email, &c.FullName, &c.PasswordHash, &passwordChangedAt,
		&c.FailedAttempts, &lockedUntil, &c.Active, &c.RoleID, &branchID,
		&c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, database.MapPostgresError(err)
	}

	c.PasswordChangedAt = passwordChangedAt
	c.LockedUntil = lockedUntil
	c.BranchID = branchID
	return &c, nil
}

// GetByTenantAndEmail looks a user up by tenant and case-insensitive email
func (r *UserRepository) GetByTenantAndEmail(ctx context.Context, tenantID, email string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + `
		FROM users
		WHERE tenant_id = $1 AND lower(email) = lower($2)`

	c, err := scanCredentialRow(r.pool.QueryRow(ctx, query, tenantID, email))
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *UserRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	query := `SELECT ` + credentialColumns + ` FROM users WHERE id = $1`

	c, err := scanCredentialRow(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Create inserts a new user with an already-hashed password
func (r *UserRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO users (id, tenant_id, email, full_name, password_hash, password_changed_at,
			failed_attempts, active, role_id, branch_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $8, $9, $10, $10)
	`

	_, err := r.pool.Exec(ctx, query,
		c.ID, c.TenantID, c.Email, c.FullName, c.PasswordHash, c.PasswordChangedAt,
		c.Active, c.RoleID, c.BranchID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create user: %w", database.MapPostgresError(err))
	}
	return nil
}

// UpdatePasswordHash stores a new hash and clears the failure counter and lock
func (r *UserRepository) UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error {
	query := `
		UPDATE users
		SET password_hash = $2, password_changed_at = $3, failed_attempts = 0, locked_until = NULL, updated_at = $3
		WHERE id = $1
	`

	tag, err := r.pool.Exec(ctx, query, id, hash, changedAt)
	if err != nil {
		return fmt.Errorf("failed to update password hash: %w", database.MapPostgresError(err))
	}
	if tag.RowsAffected() == 0 {
		return models.ErrNotFound
	}
	return nil
}

// UpdateLoginState persists the failure counter and lock after a login attempt
func (r *UserRepository) UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	query := `UPDATE users SET failed_attempts = $2, locked_until = $3 WHERE id = $1`

	_, err := r.pool.Exec(ctx, query, id, failedAttempts, lockedUntil)
	if err != nil {
		return fmt.Errorf("failed to update login state: %w", database.MapPostgresError(err))
	}
	return nil
}

// ReplaceHash swaps in an upgraded hash of the same password
func (r *UserRepository) ReplaceHash(ctx context.Context, id, hash string) error {
	_, err := r.pool.Exec(ctx, `UPDATE users SET password_hash = $2 WHERE id = $1`, id, hash)
	if err != nil {
		return fmt.Errorf("failed to replace password hash: %w", database.MapPostgresError(err))
	}
	return nil
}
