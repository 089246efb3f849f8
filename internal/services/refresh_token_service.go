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

const DefaultRefreshTokenTTL = 7 * 24 * time.Hour

// RefreshTokenRepository defines the persistence operations for refresh tokens
type RefreshTokenRepository interface {
	Create(ctx context.Context, t *models.RefreshToken) error
	GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error)
	GetByID(ctx context.Context, id string) (*models.RefreshToken, error)
	Rotate(ctx context.Context, currentID string, revokedAt time.Time, next *models.RefreshToken) error
	Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error)
	RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error)
	RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error)
	RevokeAllForUserExcept(ctx context.Context, userID, keepFamilyID, reason string, at time.Time) (int64, error)
	ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error)
	DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error)
}

// ClientMeta describes where a request came from
type ClientMeta struct {
	IPAddress string
	UserAgent string
}

// RotationResult is the successor issued by Rotate
type RotationResult struct {
	Token     string
	UserID    string
	FamilyID  string
	ExpiresAt time.Time
}

// RefreshTokenService issues opaque refresh tokens grouped into families.
// Presenting a revoked token revokes its whole family.
type RefreshTokenService struct {
	repo        RefreshTokenRepository
	generator   pkgauth.TokenGenerator
	ttl         time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewRefreshTokenService creates a new RefreshTokenService
func NewRefreshTokenService(repo RefreshTokenRepository, generator pkgauth.TokenGenerator, ttl time.Duration, clk clock.Clock, logger *slog.Logger, auditLogger *pkglogger.AuditLogger) *RefreshTokenService {
	if ttl <= 0 {
		ttl = DefaultRefreshTokenTTL
	}
	return &RefreshTokenService{
		repo:        repo,
		generator:   generator,
		ttl:         ttl,
		clock:       clk,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// TTL returns the refresh token lifetime
func (s *RefreshTokenService) TTL() time.Duration {
	return s.ttl
}

// Create starts a new family and returns the plaintext token
func (s *RefreshTokenService) Create(ctx context.Context, userID string, meta ClientMeta) (string, error) {
	return s.CreateInFamily(ctx, userID, uuid.NewString(), meta)
}

// CreateInFamily issues a token in an existing family
func (s *RefreshTokenService) CreateInFamily(ctx context.Context, userID, familyID string, meta ClientMeta) (string, error) {
	plaintext, record, err := s.newToken(userID, familyID, meta)
	if err != nil {
		return "", err
	}
	if err := s.repo.Create(ctx, record); err != nil {
		return "", fmt.Errorf("failed to store refresh token: %w", err)
	}
	return plaintext, nil
}

func (s *RefreshTokenService) newToken(userID, familyID string, meta ClientMeta) (string, *models.RefreshToken, error) {
	plaintext, err := s.generator.Generate()
	if err != nil {
		return "", nil, err
	}
	now := s.clock.Now()
	return plaintext, &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    userID,
		TokenHash: s.generator.Digest(plaintext),
		FamilyID:  familyID,
		ExpiresAt: now.Add(s.ttl),
		IPAddress: meta.IPAddress,
		UserAgent: meta.UserAgent,
		CreatedAt: now,
	}, nil
}

// Validate returns the live record for plaintext. A revoked token is treated
// as stolen: its family is revoked before the error is returned.
func (s *RefreshTokenService) Validate(ctx context.Context, plaintext string) (*models.RefreshToken, error) {
	record, err := s.lookup(ctx, plaintext)
	if err != nil {
		return nil, err
	}

	if record.IsRevoked() {
		s.revokeForReuse(ctx, record)
		return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenRevoked)
	}
	if record.IsExpired(s.clock.Now()) {
		return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenExpired)
	}
	return record, nil
}

// Lookup returns the stored record for plaintext without any state checks
func (s *RefreshTokenService) Lookup(ctx context.Context, plaintext string) (*models.RefreshToken, error) {
	return s.lookup(ctx, plaintext)
}

func (s *RefreshTokenService) lookup(ctx context.Context, plaintext string) (*models.RefreshToken, error) {
	if plaintext == "" {
		return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenNotFound)
	}
	record, err := s.repo.GetByTokenHash(ctx, s.generator.Digest(plaintext))
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenNotFound)
		}
		return nil, fmt.Errorf("failed to load refresh token: %w", err)
	}
	return record, nil
}

func (s *RefreshTokenService) revokeForReuse(ctx context.Context, record *models.RefreshToken) {
	n, err := s.repo.RevokeFamily(ctx, record.FamilyID, models.RevokeReasonSuspiciousReuse, s.clock.Now())
	if err != nil {
		s.logger.Error("failed to revoke token family after reuse",
			slog.String("family_id", record.FamilyID),
			slog.Any("error", err))
		return
	}

	s.logger.Warn("refresh token reuse detected",
		slog.String("user_id", record.UserID),
		slog.String("family_id", record.FamilyID),
		slog.String("token", pkglogger.TokenFingerprint(record.TokenHash)),
		slog.Int64("revoked", n))
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventTokenReuse, record.UserID, "", map[string]string{
		"family_id": record.FamilyID,
	})
}

// Rotate consumes plaintext and issues its successor in the same family.
// Losing a concurrent rotation counts as reuse.
func (s *RefreshTokenService) Rotate(ctx context.Context, plaintext string, meta ClientMeta) (*RotationResult, error) {
	current, err := s.Validate(ctx, plaintext)
	if err != nil {
		return nil, err
	}

	next, record, err := s.newToken(current.UserID, current.FamilyID, meta)
	if err != nil {
		return nil, err
	}

	if err := s.repo.Rotate(ctx, current.ID, s.clock.Now(), record); err != nil {
		if errors.Is(err, models.ErrConflict) {
			s.revokeForReuse(ctx, current)
			return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenRevoked)
		}
		return nil, fmt.Errorf("failed to rotate refresh token: %w", err)
	}

	return &RotationResult{
		Token:     next,
		UserID:    current.UserID,
		FamilyID:  current.FamilyID,
		ExpiresAt: record.ExpiresAt,
	}, nil
}

// Revoke revokes a single token. Unknown and already revoked tokens are ignored.
func (s *RefreshTokenService) Revoke(ctx context.Context, plaintext, reason string) error {
	record, err := s.lookup(ctx, plaintext)
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			return nil
		}
		return err
	}
	if record.IsRevoked() {
		return nil
	}
	if _, err := s.repo.Revoke(ctx, record.ID, reason, s.clock.Now()); err != nil {
		return err
	}
	return nil
}

func (s *RefreshTokenService) RevokeFamily(ctx context.Context, familyID, reason string) (int64, error) {
	return s.repo.RevokeFamily(ctx, familyID, reason, s.clock.Now())
}

func (s *RefreshTokenService) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	return s.repo.RevokeAllForUser(ctx, userID, reason, s.clock.Now())
}

// RevokeOtherSessions signs the user out everywhere except keepFamilyID
func (s *RefreshTokenService) RevokeOtherSessions(ctx context.Context, userID, keepFamilyID string) (int64, error) {
	return s.repo.RevokeAllForUserExcept(ctx, userID, keepFamilyID, models.RevokeReasonLogoutAll, s.clock.Now())
}

// ListActiveSessions returns one entry per live token, newest first
func (s *RefreshTokenService) ListActiveSessions(ctx context.Context, userID string) ([]models.Session, error) {
	records, err := s.repo.ListActiveByUser(ctx, userID, s.clock.Now())
	if err != nil {
		return nil, err
	}
	sessions := make([]models.Session, 0, len(records))
	for _, r := range records {
		sessions = append(sessions, r.Session())
	}
	return sessions, nil
}

// RevokeSession revokes the family behind sessionID if it belongs to userID.
// Sessions owned by someone else are reported as not found.
func (s *RefreshTokenService) RevokeSession(ctx context.Context, userID, sessionID string) error {
	record, err := s.repo.GetByID(ctx, sessionID)
	if err != nil {
		return err
	}
	if record.UserID != userID {
		return models.ErrNotFound
	}
	_, err = s.repo.RevokeFamily(ctx, record.FamilyID, models.RevokeReasonSessionRevoked, s.clock.Now())
	return err
}

// Cleanup deletes tokens that expired or were revoked more than retention ago
func (s *RefreshTokenService) Cleanup(ctx context.Context, retention time.Duration) (int64, error) {
	return s.repo.DeleteExpired(ctx, s.clock.Now().Add(-retention))
}
