package services

import (
	"testing"
	"time"

	"github.com/quickstack/pos-auth/internal/clock"
	"github.com/quickstack/pos-auth/internal/models"
	pkgauth "github.com/quickstack/pos-auth/pkg/auth"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
	"github.com/stretchr/testify/require"
)

const (
	testTenant   = "7d4c1b54-7a4f-4b0e-9a57-0c1f1f6b2a10"
	testUserID   = "0b8f5c36-2f0e-4a38-9a43-1e0c6f8c8d01"
	testEmail    = "cashier@example.com"
	testPassword = "counter-top-1984!"
)

var testStart = time.Date(2026, 5, 4, 9, 0, 0, 0, time.UTC)

type fixture struct {
	clock       *clock.Manual
	users       *MemCredentialRepository
	refreshRepo *MemRefreshTokenRepository
	resetRepo   *MemPasswordResetRepository
	attemptRepo *MemLoginAttemptRepository
	gen         *CountingTokenGenerator
	hasher      *pkgauth.Hasher
	breach      *MockPasswordChecker

	refresh  *RefreshTokenService
	attempts *LoginAttemptService
	reset    *PasswordResetService
	auth     *AuthService
}

func testHasher(t *testing.T) *pkgauth.Hasher {
	t.Helper()
	peppers, err := pkgauth.NewPepperRegistry(1, "000102030405060708090a0b0c0d0e0f", nil)
	require.NoError(t, err)
	h, err := pkgauth.NewHasher(pkgauth.HashConfig{
		MemoryKiB: 8 * 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	}, pkgauth.DefaultPasswordPolicy(), peppers)
	require.NoError(t, err)
	return h
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := discardLogger()
	audit := pkglogger.NewAuditLogger(logger)

	f := &fixture{
		clock:       clock.NewManual(testStart),
		refreshRepo: NewMemRefreshTokenRepository(),
		resetRepo:   NewMemPasswordResetRepository(),
		attemptRepo: NewMemLoginAttemptRepository(),
		gen:         NewCountingTokenGenerator(),
		hasher:      testHasher(t),
		breach:      &MockPasswordChecker{},
	}

	hash, err := f.hasher.Hash(testPassword)
	require.NoError(t, err)
	f.users = NewMemCredentialRepository(&models.Credential{
		ID: testUserID, TenantID: testTenant, Email: testEmail, FullName: "Ana Cashier",
		PasswordHash: hash, Active: true, RoleID: "role-cashier", CreatedAt: testStart,
	})

	f.refresh = NewRefreshTokenService(f.refreshRepo, f.gen, 0, f.clock, logger, audit)
	f.attempts = NewLoginAttemptService(f.attemptRepo, LockoutConfig{Enabled: true}, f.clock, logger)
	f.reset = NewPasswordResetService(f.resetRepo, f.users, f.hasher, f.breach, f.refresh, f.gen, f.clock, logger, audit)
	f.auth = NewAuthService(f.users, f.hasher, f.breach, &MockAccessTokenIssuer{}, f.refresh, f.attempts, f.clock, logger, audit)
	return f
}

func requireTokenReason(t *testing.T, err error, want models.TokenReason) {
	t.Helper()
	require.Error(t, err)
	got, ok := models.TokenReasonOf(err)
	require.True(t, ok, "expected InvalidTokenError, got %v", err)
	require.Equal(t, want, got)
}
