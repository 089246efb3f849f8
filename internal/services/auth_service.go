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
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
)

// CredentialRepository defines the user account operations the auth flows need
type CredentialRepository interface {
	GetByTenantAndEmail(ctx context.Context, tenantID, email string) (*models.Credential, error)
	GetByID(ctx context.Context, id string) (*models.Credential, error)
	Create(ctx context.Context, c *models.Credential) error
	UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error
	UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error
	ReplaceHash(ctx context.Context, id, hash string) error
}

// PasswordHasher is implemented by pkg/auth.Hasher
type PasswordHasher interface {
	ValidatePolicy(password string) error
	Hash(password string) (string, error)
	Verify(password, encoded string) bool
	NeedsRehash(encoded string) bool
}

// PasswordChecker rejects passwords found in breach corpora
type PasswordChecker interface {
	Check(ctx context.Context, password string) error
}

// AccessTokenIssuer is implemented by internal/auth.TokenManager
type AccessTokenIssuer interface {
	Issue(id models.Identity) (string, time.Time, error)
}

// AuthService handles authentication business logic
type AuthService struct {
	users       CredentialRepository
	hasher      PasswordHasher
	breach      PasswordChecker
	tokens      AccessTokenIssuer
	refresh     *RefreshTokenService
	attempts    *LoginAttemptService
	clock       clock.Clock
	logger      *slog.Logger
	auditLogger *pkglogger.AuditLogger
}

// NewAuthService creates a new AuthService
func NewAuthService(
	users CredentialRepository,
	hasher PasswordHasher,
	breach PasswordChecker,
	tokens AccessTokenIssuer,
	refresh *RefreshTokenService,
	attempts *LoginAttemptService,
	clk clock.Clock,
	logger *slog.Logger,
	auditLogger *pkglogger.AuditLogger,
) *AuthService {
	return &AuthService{
		users:       users,
		hasher:      hasher,
		breach:      breach,
		tokens:      tokens,
		refresh:     refresh,
		attempts:    attempts,
		clock:       clk,
		logger:      logger,
		auditLogger: auditLogger,
	}
}

// UserResponse represents a user in the HTTP response
type UserResponse struct {
	ID       string  `json:"id"`
	TenantID string  `json:"tenant_id"`
	Email    string  `json:"email"`
	FullName string  `json:"full_name"`
	RoleID   string  `json:"role_id"`
	BranchID *string `json:"branch_id,omitempty"`
}

func newUserResponse(c *models.Credential) *UserResponse {
	return &UserResponse{
		ID:       c.ID,
		TenantID: c.TenantID,
		Email:    c.Email,
		FullName: c.FullName,
		RoleID:   c.RoleID,
		BranchID: c.BranchID,
	}
}

// AuthResult carries the tokens issued by Login and Refresh
type AuthResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
	RefreshToken    string
	User            *UserResponse
}

// LoginInput is a login request together with its client metadata
type LoginInput struct {
	TenantID  string
	Email     string
	Password  string
	IPAddress string
	UserAgent string
}

// RegisterInput describes a new POS user
type RegisterInput struct {
	TenantID string
	Email    string
	FullName string
	Password string
	RoleID   string
	BranchID *string
}

// Login authenticates a user and returns tokens. Unknown emails, wrong
// passwords and inactive accounts all return ErrUnauthorized; only a lockout
// is reported distinctly.
func (s *AuthService) Login(ctx context.Context, in LoginInput) (*AuthResult, error) {
	email := models.NormalizeEmail(in.Email)
	if email == "" || in.TenantID == "" {
		s.logger.Warn("login attempt with empty email or tenant")
		return nil, models.ErrUnauthorized
	}
	attempt := AttemptInput{TenantID: in.TenantID, Email: email, IPAddress: in.IPAddress, UserAgent: in.UserAgent}

	if err := s.attempts.CheckLock(ctx, email, in.TenantID); err != nil {
		var locked *models.AccountLockedError
		if errors.As(err, &locked) {
			s.auditLogger.LogAuthAttempt(ctx, in.TenantID, email, "", in.IPAddress, false, models.FailureAccountLocked)
			return nil, err
		}
		s.logger.Error("lockout check failed", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	cred, err := s.users.GetByTenantAndEmail(ctx, in.TenantID, email)
	if err != nil {
		if !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to get user by email", slog.Any("error", err))
			return nil, models.ErrInternalServer
		}
		// Burn the same Argon2id cost as a real verification.
		s.hasher.Verify(in.Password, "")
		s.fail(ctx, attempt, nil, models.FailureUserNotFound)
		return nil, models.ErrUnauthorized
	}
	attempt.UserID = &cred.ID

	if !s.hasher.Verify(in.Password, cred.PasswordHash) {
		s.fail(ctx, attempt, cred, models.FailureInvalidCredentials)
		return nil, models.ErrUnauthorized
	}

	if !cred.Active {
		s.fail(ctx, attempt, cred, models.FailureAccountInactive)
		return nil, models.ErrUnauthorized
	}

	if err := s.attempts.RecordSuccess(ctx, attempt); err != nil {
		s.logger.Error("failed to record successful login", slog.Any("error", err))
	}
	if cred.FailedAttempts > 0 || cred.LockedUntil != nil {
		cleared := cred.WithSuccessfulLogin()
		if err := s.users.UpdateLoginState(ctx, cred.ID, cleared.FailedAttempts, cleared.LockedUntil); err != nil {
			s.logger.Error("failed to clear login state", slog.String("user_id", cred.ID), slog.Any("error", err))
		}
	}
	s.rehashIfNeeded(ctx, cred, in.Password)

	result, err := s.issue(ctx, cred, ClientMeta{IPAddress: in.IPAddress, UserAgent: in.UserAgent})
	if err != nil {
		return nil, err
	}

	s.logger.Info("user logged in", slog.String("user_id", cred.ID))
	s.auditLogger.LogAuthAttempt(ctx, cred.TenantID, email, cred.ID, in.IPAddress, true, "")
	return result, nil
}

// fail records a failed login and mirrors the lockout onto the user row
func (s *AuthService) fail(ctx context.Context, attempt AttemptInput, cred *models.Credential, reason string) {
	s.logger.Info("login failed", slog.String("reason", reason))
	s.auditLogger.LogAuthAttempt(ctx, attempt.TenantID, attempt.Email, userIDOf(cred), attempt.IPAddress, false, reason)

	count, err := s.attempts.RecordFailure(ctx, attempt, reason)
	if err != nil {
		s.logger.Error("failed to record login failure", slog.Any("error", err))
		return
	}

	lockedUntil := s.attempts.LockDeadline(count, s.clock.Now())
	if lockedUntil != nil && count == s.attempts.MaxAttempts() {
		s.auditLogger.LogAccountAction(ctx, pkglogger.EventAccountLockedOut, userIDOf(cred), attempt.IPAddress, map[string]string{
			"locked_until": lockedUntil.Format(time.RFC3339),
		})
	}

	if cred == nil {
		return
	}
	updated := cred.WithFailedLogin(count, lockedUntil)
	if err := s.users.UpdateLoginState(ctx, cred.ID, updated.FailedAttempts, updated.LockedUntil); err != nil {
		s.logger.Error("failed to persist login state", slog.String("user_id", cred.ID), slog.Any("error", err))
	}
}

func userIDOf(cred *models.Credential) string {
	if cred == nil {
		return ""
	}
	return cred.ID
}

// rehashIfNeeded upgrades hashes made with an old pepper or weaker cost.
// Failures are logged and never block the login.
func (s *AuthService) rehashIfNeeded(ctx context.Context, cred *models.Credential, password string) {
	if !s.hasher.NeedsRehash(cred.PasswordHash) {
		return
	}
	hash, err := s.hasher.Hash(password)
	if err != nil {
		s.logger.Warn("failed to rehash password", slog.String("user_id", cred.ID), slog.Any("error", err))
		return
	}
	if err := s.users.ReplaceHash(ctx, cred.ID, hash); err != nil {
		s.logger.Warn("failed to store rehashed password", slog.String("user_id", cred.ID), slog.Any("error", err))
		return
	}
	s.logger.Info("password hash upgraded", slog.String("user_id", cred.ID))
}

func (s *AuthService) issue(ctx context.Context, cred *models.Credential, meta ClientMeta) (*AuthResult, error) {
	access, expiresAt, err := s.tokens.Issue(cred.Identity())
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", cred.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	refresh, err := s.refresh.Create(ctx, cred.ID, meta)
	if err != nil {
		s.logger.Error("failed to issue refresh token", slog.String("user_id", cred.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	return &AuthResult{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    refresh,
		User:            newUserResponse(cred),
	}, nil
}

// Refresh rotates a refresh token and issues a new access token. Tokens of
// a deactivated account are all revoked.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, meta ClientMeta) (*AuthResult, error) {
	current, err := s.refresh.Validate(ctx, refreshToken)
	if err != nil {
		return nil, err
	}

	cred, err := s.users.GetByID(ctx, current.UserID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		s.logger.Error("failed to load user for refresh", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}
	if cred == nil || !cred.Active {
		if _, err := s.refresh.RevokeAllForUser(ctx, current.UserID, models.RevokeReasonAccountDisabled); err != nil {
			s.logger.Error("failed to revoke tokens of disabled account", slog.Any("error", err))
		}
		return nil, models.NewInvalidToken(models.TokenKindRefresh, models.TokenRevoked)
	}

	rotated, err := s.refresh.Rotate(ctx, refreshToken, meta)
	if err != nil {
		return nil, err
	}

	access, expiresAt, err := s.tokens.Issue(cred.Identity())
	if err != nil {
		s.logger.Error("failed to issue access token", slog.String("user_id", cred.ID), slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.auditLogger.LogAccountAction(ctx, pkglogger.EventRefresh, cred.ID, meta.IPAddress, nil)
	return &AuthResult{
		AccessToken:     access,
		AccessExpiresAt: expiresAt,
		RefreshToken:    rotated.Token,
		User:            newUserResponse(cred),
	}, nil
}

// Logout revokes the presented refresh token. It is idempotent.
func (s *AuthService) Logout(ctx context.Context, refreshToken, ipAddress string) error {
	record, err := s.refresh.Lookup(ctx, refreshToken)
	if err != nil {
		if errors.Is(err, models.ErrInvalidToken) {
			return nil
		}
		return err
	}
	if err := s.refresh.Revoke(ctx, refreshToken, models.RevokeReasonLogout); err != nil {
		return err
	}
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventLogout, record.UserID, ipAddress, nil)
	return nil
}

// LogoutAll revokes every refresh token of the user
func (s *AuthService) LogoutAll(ctx context.Context, userID, ipAddress string) (int64, error) {
	n, err := s.refresh.RevokeAllForUser(ctx, userID, models.RevokeReasonLogoutAll)
	if err != nil {
		return 0, err
	}
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventLogoutAll, userID, ipAddress, map[string]string{
		"revoked": fmt.Sprint(n),
	})
	return n, nil
}

// Register creates a POS user after policy and breach checks
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*UserResponse, error) {
	if err := s.hasher.ValidatePolicy(in.Password); err != nil {
		return nil, err
	}
	if err := s.breach.Check(ctx, in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cred := &models.Credential{
		ID:                uuid.NewString(),
		TenantID:          in.TenantID,
		Email:             models.NormalizeEmail(in.Email),
		FullName:          in.FullName,
		PasswordHash:      hash,
		PasswordChangedAt: &now,
		Active:            true,
		RoleID:            in.RoleID,
		BranchID:          in.BranchID,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.users.Create(ctx, cred); err != nil {
		if errors.Is(err, models.ErrConflict) {
			return nil, models.ErrConflict
		}
		s.logger.Error("failed to create user", slog.Any("error", err))
		return nil, models.ErrInternalServer
	}

	s.logger.Info("user registered", slog.String("user_id", cred.ID))
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventRegister, cred.ID, "", nil)
	return newUserResponse(cred), nil
}

// ChangePassword verifies the current password, signs the user out of every
// session and then stores the new password.
func (s *AuthService) ChangePassword(ctx context.Context, userID, currentPassword, newPassword string) error {
	cred, err := s.users.GetByID(ctx, userID)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrUnauthorized
		}
		return fmt.Errorf("failed to load user: %w", err)
	}

	if !s.hasher.Verify(currentPassword, cred.PasswordHash) {
		s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordChange, userID, false, models.FailureInvalidCredentials)
		return models.ErrUnauthorized
	}
	if err := s.hasher.ValidatePolicy(newPassword); err != nil {
		return err
	}
	if err := s.breach.Check(ctx, newPassword); err != nil {
		return err
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if _, err := s.refresh.RevokeAllForUser(ctx, userID, models.RevokeReasonPasswordChange); err != nil {
		return fmt.Errorf("failed to revoke sessions: %w", err)
	}
	if err := s.users.UpdatePasswordHash(ctx, userID, hash, s.clock.Now()); err != nil {
		return fmt.Errorf("failed to store new password: %w", err)
	}

	s.auditLogger.LogPasswordChange(ctx, pkglogger.EventPasswordChange, userID, true, "")
	return nil
}

// Sessions lists the user's live sessions and flags the one behind currentRefresh
func (s *AuthService) Sessions(ctx context.Context, userID, currentRefresh string) ([]models.Session, error) {
	sessions, err := s.refresh.ListActiveSessions(ctx, userID)
	if err != nil {
		return nil, err
	}
	if currentRefresh == "" {
		return sessions, nil
	}

	current, err := s.refresh.Lookup(ctx, currentRefresh)
	if err != nil || current.UserID != userID {
		return sessions, nil
	}
	for i := range sessions {
		sessions[i].Current = sessions[i].FamilyID == current.FamilyID
	}
	return sessions, nil
}

// RevokeSession ends one of the user's sessions
func (s *AuthService) RevokeSession(ctx context.Context, userID, sessionID, ipAddress string) error {
	if err := s.refresh.RevokeSession(ctx, userID, sessionID); err != nil {
		return err
	}
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventSessionRevoked, userID, ipAddress, map[string]string{
		"session_id": sessionID,
	})
	return nil
}

// RevokeOtherSessions signs the user out of every session except the one
// behind currentRefresh
func (s *AuthService) RevokeOtherSessions(ctx context.Context, userID, currentRefresh, ipAddress string) (int64, error) {
	current, err := s.refresh.Lookup(ctx, currentRefresh)
	if err != nil || current.UserID != userID {
		return 0, models.NewInvalidToken(models.TokenKindRefresh, models.TokenNotFound)
	}

	n, err := s.refresh.RevokeOtherSessions(ctx, userID, current.FamilyID)
	if err != nil {
		return 0, err
	}
	s.auditLogger.LogAccountAction(ctx, pkglogger.EventSessionRevoked, userID, ipAddress, map[string]string{
		"scope":   "others",
		"revoked": fmt.Sprint(n),
	})
	return n, nil
}
