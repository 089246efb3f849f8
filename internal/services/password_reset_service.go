package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/models"
	pkgauth "github.com/quickstack/pos-auth/pkg/auth"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

// PasswordResetTTL is fixed; reset links are not configurable.
const PasswordResetTTL = time.Hour

// PasswordResetRepository defines the interface for reset token operations
type PasswordResetRepository interface {
	Create(ctx context.Context, t *models.PasswordResetToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error)
	DeleteUnusedForUser(ctx context.Context, userID string) (int64, error)
	MarkUsed(ctx context.Context, id string, at time.Time) error
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// SessionRevoker revokes every refresh token of a user
type SessionRevoker interface {
	RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error)
}

// ResetInitiation is the outcome of Initiate. Callers must answer the
// client identically whether or not Matched is set.
type ResetInitiation struct {
	Matched   bool
	Token     string
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// PasswordResetService handles the forgot-password flow
type PasswordResetService struct {
	resetRepo   PasswordResetRepository
	users       CredentialRepository
	hasher      PasswordHasher
	breach      PasswordChecker
	sessions    SessionRevoker
	generator   pkgauth.TokenGenerator
	clock       clock.Clock
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewPasswordResetService creates a new PasswordResetService
func NewPasswordResetService(
	resetRepo PasswordResetRepository,
	users CredentialRepository,
	hasher PasswordHasher,
	breach PasswordChecker,
	sessions SessionRevoker,
	generator pkgauth.TokenGenerator,
	clk clock.Clock,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *PasswordResetService {
	return &PasswordResetService{
		resetRepo:   resetRepo,
		users:       users,
		hasher:      hasher,
		breach:      breach,
		sessions:    sessions,
		generator:   generator,
		clock:       clk,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// Initiate issues a reset token for an active account. Unknown and inactive
// accounts go through the same token generation and digest so both paths
// cost the same.
func (s *PasswordResetService) Initiate(ctx context.Context, email, tenantID, ipAddress string) (*ResetInitiation, error) {
	email = models.NormalizeEmail(email)

	cred, err := s.users.GetByTenantAndEmail(ctx, tenantID, email)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up account: %w", err)
	}

	plaintext, genErr := s.generator.Generate()
	if genErr != nil {
		return nil, genErr
	}
	digest := s.generator.Digest(plaintext)

	if cred == nil || !cred.Active {
		s.logger.Info("password reset requested for unknown or inactive account",
			slog.String("email", pkglogger.SanitizedEmail(email)))
		return &ResetInitiation{Email: email}, nil
	}

	if _, err := s.resetRepo.DeleteUnusedForUser(ctx, cred.ID); err != nil {
		return nil, fmt.Errorf("failed to supersede reset tokens: %w", err)
	}

	now := s.clock.Now()
	token := &models.PasswordResetToken{
		ID:        uuid.NewString(),
		UserID:    cred.ID,
		TokenHash: digest,
		ExpiresAt: now.Add(PasswordResetTTL),
		IPAddress: ipAddress,
		CreatedAt: now,
	}
	if err := s.resetRepo.Create(ctx, token); err != nil {
		return nil, fmt.Errorf("failed to store reset token: %w", err)
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventResetRequested, cred.ID, ipAddress, nil)
	return &ResetInitiation{
		Matched:   true,
		Token:     plaintext,
		UserID:    cred.ID,
		Email:     cred.Email,
		ExpiresAt: token.ExpiresAt,
	}, nil
}

// Validate returns the reset token if it is unused and unexpired
func (s *PasswordResetService) Validate(ctx context.Context, plaintext string) (*models.PasswordResetToken, error) {
	reject := func(reason models.TokenReason) error {
		s.logger.Info("password reset token rejected", slog.String("reason", string(reason)))
		return models.NewInvalidToken(models.TokenKindPasswordReset, reason)
	}

	if plaintext == "" {
		return nil, reject(models.TokenNotFound)
	}
	token, err := s.resetRepo.GetByTokenHash(ctx, s.generator.Digest(plaintext))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, reject(models.TokenNotFound)
		}
		return nil, fmt.Errorf("failed to load reset token: %w", err)
	}

	switch token.State(s.clock.Now()) {
	case models.ResetStateConsumed:
		return nil, reject(models.TokenAlreadyUsed)
	case models.ResetStateExpired:
		return nil, reject(models.TokenExpired)
	}
	return token, nil
}

// Complete sets a new password using a reset token. Every refresh token is
// revoked before the reset token is consumed, and the token is consumed
// before the hash is written, so two concurrent completions cannot both win.
func (s *PasswordResetService) Complete(ctx context.Context, plaintext, newPassword string) error {
	token, err := s.Validate(ctx, plaintext)
	if err != nil {
		return err
	}

	if err := s.hasher.ValidatePolicy(newPassword); err != nil {
		return err
	}
	if err := s.breach.Check(ctx, newPassword); err != nil {
		return err
	}

	cred, err := s.users.GetByID(ctx, token.UserID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.NewInvalidToken(models.TokenKindPasswordReset, models.TokenNotFound)
		}
		return fmt.Errorf("failed to load account: %w", err)
	}
	if !cred.Active {
		return models.NewInvalidToken(models.TokenKindPasswordReset, models.TokenNotFound)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}

	// Sessions go first: a failure past this point leaves the account
	// signed out everywhere, never holding a new password next to live
	// refresh tokens.
	revoked, err := s.sessions.RevokeAllForUser(ctx, cred.ID, models.RevokeReasonPasswordChange)
	if err != nil {
		return fmt.Errorf("failed to revoke sessions before reset: %w", err)
	}

	now := s.clock.Now()
	if err := s.resetRepo.MarkUsed(ctx, token.ID, now); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return models.NewInvalidToken(models.TokenKindPasswordReset, models.TokenAlreadyUsed)
		}
		return fmt.Errorf("failed to consume reset token: %w", err)
	}

	if err := s.users.UpdatePasswordHash(ctx, cred.ID, hash, now); err != nil {
		s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordReset, cred.ID, false, "update_failed")
		return fmt.Errorf("failed to store new password: %w", err)
	}

	s.logger.Info("password reset completed",
		slog.String("user_id", cred.ID),
		slog.Int64("sessions_revoked", revoked))
	s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordReset, cred.ID, true, "")
	return nil
}

// Cleanup removes expired and consumed tokens
func (s *PasswordResetService) Cleanup(ctx context.Context) (int64, error) {
	return s.resetRepo.DeleteExpired(ctx, s.clock.Now())
}
