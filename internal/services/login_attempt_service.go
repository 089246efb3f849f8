package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/models"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

const (
	DefaultLockoutMaxAttempts = 5
	DefaultLockoutWindow      = 15 * time.Minute
	DefaultLockoutDuration    = 15 * time.Minute
)

// LoginAttemptRepository defines the interface for login attempt persistence
type LoginAttemptRepository interface {
	Record(ctx context.Context, attempt *models.LoginAttempt) error
	CountFailuresSince(ctx context.Context, tenantID, email string, since time.Time) (int, error)
	LastFailureTime(ctx context.Context, tenantID, email string, since time.Time) (*time.Time, error)
	LastSuccessTime(ctx context.Context, tenantID, email string) (*time.Time, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// LockoutConfig holds configuration for account lockout behavior
type LockoutConfig struct {
	Enabled     bool
	MaxAttempts int
	Window      time.Duration
	Duration    time.Duration
}

// AttemptInput identifies the account and client of a login attempt
type AttemptInput struct {
	TenantID  string
	Email     string
	UserID    *string
	IPAddress string
	UserAgent string
}

// LoginAttemptService records login outcomes and locks an email out after
// too many failures inside the sliding window.
type LoginAttemptService struct {
	repo   LoginAttemptRepository
	config LockoutConfig
	clock  clock.Clock
	logger *slog.Logger
}

// NewLoginAttemptService creates a new LoginAttemptService
func NewLoginAttemptService(repo LoginAttemptRepository, config LockoutConfig, clk clock.Clock, logger *slog.Logger) *LoginAttemptService {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = DefaultLockoutMaxAttempts
	}
	if config.Window <= 0 {
		config.Window = DefaultLockoutWindow
	}
	if config.Duration <= 0 {
		config.Duration = DefaultLockoutDuration
	}
	return &LoginAttemptService{repo: repo, config: config, clock: clk, logger: logger}
}

// MaxAttempts returns the failure threshold
func (s *LoginAttemptService) MaxAttempts() int {
	return s.config.MaxAttempts
}

// Status computes the current lock state. Failures only count from the
// later of the window start and the last successful login.
func (s *LoginAttemptService) Status(ctx context.Context, email, tenantID string) (*models.LockStatus, error) {
	email = models.NormalizeEmail(email)
	now := s.clock.Now()

	windowStart := now.Add(-s.config.Window)
	lastSuccess, err := s.repo.LastSuccessTime(ctx, tenantID, email)
	if err != nil {
		return nil, err
	}
	if lastSuccess != nil && lastSuccess.After(windowStart) {
		windowStart = *lastSuccess
	}

	count, err := s.repo.CountFailuresSince(ctx, tenantID, email, windowStart)
	if err != nil {
		return nil, err
	}

	status := &models.LockStatus{FailedCount: count, WindowStart: windowStart}
	if count == 0 {
		return status, nil
	}

	lastFailure, err := s.repo.LastFailureTime(ctx, tenantID, email, windowStart)
	if err != nil {
		return nil, err
	}
	status.LastFailure = lastFailure

	if count >= s.config.MaxAttempts && lastFailure != nil {
		until := lastFailure.Add(s.config.Duration)
		if now.Before(until) {
			status.Locked = true
			status.LockedUntil = &until
		}
	}
	return status, nil
}

// CheckLock returns *models.AccountLockedError while the email is locked out
func (s *LoginAttemptService) CheckLock(ctx context.Context, email, tenantID string) error {
	if !s.config.Enabled {
		return nil
	}

	status, err := s.Status(ctx, email, tenantID)
	if err != nil {
		return fmt.Errorf("failed to check lockout: %w", err)
	}
	if status.Locked {
		s.logger.Warn("login blocked by lockout",
			slog.String("email", pkglogger.SanitizedEmail(email)),
			slog.Int("failed_attempts", status.FailedCount),
			slog.Time("locked_until", *status.LockedUntil))
		return &models.AccountLockedError{Until: *status.LockedUntil}
	}
	return nil
}

// RecordSuccess stores a successful attempt, which resets the failure window
func (s *LoginAttemptService) RecordSuccess(ctx context.Context, in AttemptInput) error {
	return s.record(ctx, in, true, nil)
}

// RecordFailure stores a failed attempt and returns the failure count in the window
func (s *LoginAttemptService) RecordFailure(ctx context.Context, in AttemptInput, reason string) (int, error) {
	if err := s.record(ctx, in, false, &reason); err != nil {
		return 0, err
	}

	status, err := s.Status(ctx, in.Email, in.TenantID)
	if err != nil {
		return 0, err
	}
	return status.FailedCount, nil
}

// RemainingAttempts returns how many failures are left before lockout
func (s *LoginAttemptService) RemainingAttempts(ctx context.Context, email, tenantID string) (int, error) {
	status, err := s.Status(ctx, email, tenantID)
	if err != nil {
		return 0, err
	}
	remaining := s.config.MaxAttempts - status.FailedCount
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// LockDeadline returns when a lock caused by a failure at `at` ends, or nil
// if count is below the threshold.
func (s *LoginAttemptService) LockDeadline(count int, at time.Time) *time.Time {
	if !s.config.Enabled || count < s.config.MaxAttempts {
		return nil
	}
	until := at.Add(s.config.Duration)
	return &until
}

func (s *LoginAttemptService) record(ctx context.Context, in AttemptInput, success bool, reason *string) error {
	attempt := &models.LoginAttempt{
		ID:            uuid.NewString(),
		Email:         models.NormalizeEmail(in.Email),
		UserID:        in.UserID,
		TenantID:      in.TenantID,
		Success:       success,
		FailureReason: reason,
		IPAddress:     in.IPAddress,
		UserAgent:     in.UserAgent,
		CreatedAt:     s.clock.Now(),
	}
	if err := s.repo.Record(ctx, attempt); err != nil {
		return fmt.Errorf("failed to record login attempt: %w", err)
	}
	return nil
}

// Cleanup purges attempts older than retention
func (s *LoginAttemptService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteOlderThan(ctx, s.clock.Now().Add(-retention))
}
