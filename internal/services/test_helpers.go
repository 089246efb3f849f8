package services

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/quickstack/pos-auth/internal/models"
	pkgauth "github.com/quickstack/pos-auth/pkg/auth"
)

// MemCredentialRepository is an in-memory CredentialRepository for tests
type MemCredentialRepository struct {
	mu    sync.Mutex
	users map[string]*models.Credential
}

func NewMemCredentialRepository(users ...*models.Credential) *MemCredentialRepository {
	r := &MemCredentialRepository{users: make(map[string]*models.Credential)}
	for _, u := range users {
		cp := *u
		r.users[u.ID] = &cp
	}
	return r
}

func (r *MemCredentialRepository) GetByTenantAndEmail(ctx context.Context, tenantID, email string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TenantID == tenantID && strings.EqualFold(u.Email, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemCredentialRepository) GetByID(ctx context.Context, id string) (*models.Credential, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (r *MemCredentialRepository) Create(ctx context.Context, c *models.Credential) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if u.TenantID == c.TenantID && strings.EqualFold(u.Email, c.Email) {
			return models.ErrConflict
		}
	}
	cp := *c
	r.users[c.ID] = &cp
	return nil
}

func (r *MemCredentialRepository) UpdatePasswordHash(ctx context.Context, id, hash string, changedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return models.ErrNotFound
	}
	*u = u.WithPasswordHash(hash, changedAt)
	return nil
}

func (r *MemCredentialRepository) UpdateLoginState(ctx context.Context, id string, failedAttempts int, lockedUntil *time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		*u = u.WithFailedLogin(failedAttempts, lockedUntil)
	}
	return nil
}

func (r *MemCredentialRepository) ReplaceHash(ctx context.Context, id, hash string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if u, ok := r.users[id]; ok {
		u.PasswordHash = hash
	}
	return nil
}

// Get returns a copy of the stored user
func (r *MemCredentialRepository) Get(id string) models.Credential {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.users[id]
}

// MemRefreshTokenRepository is an in-memory RefreshTokenRepository for tests
type MemRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.RefreshToken
	// RotateErr, when set, is returned by Rotate before any change
	RotateErr error
}

func NewMemRefreshTokenRepository() *MemRefreshTokenRepository {
	return &MemRefreshTokenRepository{tokens: make(map[string]*models.RefreshToken)}
}

func (r *MemRefreshTokenRepository) Create(ctx context.Context, t *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.ID] = &cp
	return nil
}

func (r *MemRefreshTokenRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemRefreshTokenRepository) GetByID(ctx context.Context, id string) (*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok {
		return nil, models.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (r *MemRefreshTokenRepository) Rotate(ctx context.Context, currentID string, revokedAt time.Time, next *models.RefreshToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RotateErr != nil {
		return r.RotateErr
	}
	cur, ok := r.tokens[currentID]
	if !ok || cur.IsRevoked() {
		return models.ErrConflict
	}
	*cur = cur.Revoke(models.RevokeReasonRotated, revokedAt)
	cp := *next
	r.tokens[next.ID] = &cp
	return nil
}

func (r *MemRefreshTokenRepository) revokeWhere(match func(*models.RefreshToken) bool, reason string, at time.Time) int64 {
	var n int64
	for _, t := range r.tokens {
		if !t.IsRevoked() && match(t) {
			*t = t.Revoke(reason, at)
			n++
		}
	}
	return n
}

func (r *MemRefreshTokenRepository) Revoke(ctx context.Context, id, reason string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *models.RefreshToken) bool { return t.ID == id }, reason, at) > 0, nil
}

func (r *MemRefreshTokenRepository) RevokeFamily(ctx context.Context, familyID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *models.RefreshToken) bool { return t.FamilyID == familyID }, reason, at), nil
}

func (r *MemRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *models.RefreshToken) bool { return t.UserID == userID }, reason, at), nil
}

func (r *MemRefreshTokenRepository) RevokeAllForUserExcept(ctx context.Context, userID, keepFamilyID, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.revokeWhere(func(t *models.RefreshToken) bool {
		return t.UserID == userID && t.FamilyID != keepFamilyID
	}, reason, at), nil
}

func (r *MemRefreshTokenRepository) ListActiveByUser(ctx context.Context, userID string, now time.Time) ([]*models.RefreshToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*models.RefreshToken, 0)
	for _, t := range r.tokens {
		if t.UserID == userID && t.IsActive(now) {
			cp := *t
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *MemRefreshTokenRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.RevokedAt != nil && t.RevokedAt.Before(cutoff)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// All returns copies of every stored token
func (r *MemRefreshTokenRepository) All() []models.RefreshToken {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]models.RefreshToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		out = append(out, *t)
	}
	return out
}

// MemPasswordResetRepository is an in-memory PasswordResetRepository for tests
type MemPasswordResetRepository struct {
	mu     sync.Mutex
	tokens map[string]*models.PasswordResetToken
}

func NewMemPasswordResetRepository() *MemPasswordResetRepository {
	return &MemPasswordResetRepository{tokens: make(map[string]*models.PasswordResetToken)}
}

func (r *MemPasswordResetRepository) Create(ctx context.Context, t *models.PasswordResetToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *t
	r.tokens[t.ID] = &cp
	return nil
}

func (r *MemPasswordResetRepository) GetByTokenHash(ctx context.Context, tokenHash string) (*models.PasswordResetToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range r.tokens {
		if t.TokenHash == tokenHash {
			cp := *t
			return &cp, nil
		}
	}
	return nil, models.ErrNotFound
}

func (r *MemPasswordResetRepository) DeleteUnusedForUser(ctx context.Context, userID string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.UserID == userID && !t.IsUsed() {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

func (r *MemPasswordResetRepository) MarkUsed(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tokens[id]
	if !ok || t.IsUsed() {
		return models.ErrConflict
	}
	*t = t.MarkUsed(at)
	return nil
}

func (r *MemPasswordResetRepository) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, t := range r.tokens {
		if t.ExpiresAt.Before(cutoff) || (t.UsedAt != nil && t.UsedAt.Before(cutoff)) {
			delete(r.tokens, id)
			n++
		}
	}
	return n, nil
}

// Count returns the number of stored reset tokens
func (r *MemPasswordResetRepository) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tokens)
}

// MemLoginAttemptRepository is an in-memory LoginAttemptRepository for tests
type MemLoginAttemptRepository struct {
	mu       sync.Mutex
	attempts []models.LoginAttempt
}

func NewMemLoginAttemptRepository() *MemLoginAttemptRepository {
	return &MemLoginAttemptRepository{}
}

func (r *MemLoginAttemptRepository) Record(ctx context.Context, attempt *models.LoginAttempt) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, *attempt)
	return nil
}

func (r *MemLoginAttemptRepository) CountFailuresSince(ctx context.Context, tenantID, email string, since time.Time) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, a := range r.attempts {
		if a.TenantID == tenantID && a.Email == email && !a.Success && !a.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r *MemLoginAttemptRepository) LastFailureTime(ctx context.Context, tenantID, email string, since time.Time) (*time.Time, error) {
	return r.latest(tenantID, email, false, &since), nil
}

func (r *MemLoginAttemptRepository) LastSuccessTime(ctx context.Context, tenantID, email string) (*time.Time, error) {
	return r.latest(tenantID, email, true, nil), nil
}

func (r *MemLoginAttemptRepository) latest(tenantID, email string, success bool, since *time.Time) *time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out *time.Time
	for _, a := range r.attempts {
		if a.TenantID != tenantID || a.Email != email || a.Success != success {
			continue
		}
		if since != nil && a.CreatedAt.Before(*since) {
			continue
		}
		if out == nil || a.CreatedAt.After(*out) {
			at := a.CreatedAt
			out = &at
		}
	}
	return out
}

func (r *MemLoginAttemptRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.attempts[:0]
	var n int64
	for _, a := range r.attempts {
		if a.CreatedAt.Before(cutoff) {
			n++
			continue
		}
		kept = append(kept, a)
	}
	r.attempts = kept
	return n, nil
}

// CountingTokenGenerator wraps a TokenGenerator and counts calls
type CountingTokenGenerator struct {
	pkgauth.TokenGenerator
	Generated atomic.Int32
	Digested  atomic.Int32
}

func NewCountingTokenGenerator() *CountingTokenGenerator {
	return &CountingTokenGenerator{TokenGenerator: pkgauth.SecureTokenGenerator{}}
}

func (g *CountingTokenGenerator) Generate() (string, error) {
	g.Generated.Add(1)
	return g.TokenGenerator.Generate()
}

func (g *CountingTokenGenerator) Digest(plaintext string) string {
	g.Digested.Add(1)
	return g.TokenGenerator.Digest(plaintext)
}

// MockPasswordChecker implements PasswordChecker for testing
type MockPasswordChecker struct {
	CheckFunc func(ctx context.Context, password string) error
}

func (m *MockPasswordChecker) Check(ctx context.Context, password string) error {
	if m.CheckFunc != nil {
		return m.CheckFunc(ctx, password)
	}
	return nil
}

// MockAccessTokenIssuer implements AccessTokenIssuer for testing
type MockAccessTokenIssuer struct {
	IssueFunc func(id models.Identity) (string, time.Time, error)
}

func (m *MockAccessTokenIssuer) Issue(id models.Identity) (string, time.Time, error) {
	if m.IssueFunc != nil {
		return m.IssueFunc(id)
	}
	return "access-" + id.UserID, time.Now().Add(15 * time.Minute), nil
}

// MockResetNotifier implements ResetNotifier for testing
type MockResetNotifier struct {
	SendFunc func(ctx context.Context, email, token string, expiresAt time.Time) error
}

func (m *MockResetNotifier) SendPasswordResetEmail(ctx context.Context, email, token string, expiresAt time.Time) error {
	if m.SendFunc != nil {
		return m.SendFunc(ctx, email, token, expiresAt)
	}
	return nil
}

// MockSessionRevoker implements SessionRevoker for testing
type MockSessionRevoker struct {
	RevokeAllForUserFunc func(ctx context.Context, userID, reason string) (int64, error)
}

func (m *MockSessionRevoker) RevokeAllForUser(ctx context.Context, userID, reason string) (int64, error) {
	if m.RevokeAllForUserFunc != nil {
		return m.RevokeAllForUserFunc(ctx, userID, reason)
	}
	return 0, nil
}
