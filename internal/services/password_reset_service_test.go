package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quickstack/pos-auth/internal/models"
	pkglogger "github.com/quickstack/pos-auth/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const newPassword = "fresh-drawer-count-42"

func TestPasswordReset_InitiateBranchesCostTheSame(t *testing.T) {
	ctx := context.Background()

	known := newFixture(t)
	res, err := known.reset.Initiate(ctx, "  CASHIER@example.com ", testTenant, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, res.Matched)
	assert.NotEmpty(t, res.Token)
	assert.Equal(t, testStart.Add(PasswordResetTTL), res.ExpiresAt)

	unknown := newFixture(t)
	res, err = unknown.reset.Initiate(ctx, "nobody@example.com", testTenant, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, res.Matched)
	assert.Empty(t, res.Token)
	assert.Zero(t, unknown.resetRepo.Count())

	assert.Equal(t, known.gen.Generated.Load(), unknown.gen.Generated.Load())
	assert.Equal(t, known.gen.Digested.Load(), unknown.gen.Digested.Load())
}

func TestPasswordReset_InactiveAccountIsNotMatched(t *testing.T) {
	f := newFixture(t)
	u := f.users.Get(testUserID)
	u.Active = false
	f.users = NewMemCredentialRepository(&u)
	f.reset = NewPasswordResetService(f.resetRepo, f.users, f.hasher, f.breach, f.refresh, f.gen, f.clock, discardLogger(), pkglogger.NewAuditLogger(discardLogger()))

	res, err := f.reset.Initiate(context.Background(), testEmail, testTenant, "")
	require.NoError(t, err)
	assert.False(t, res.Matched)
}

func TestPasswordReset_NewRequestSupersedesOld(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)
	second, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	_, err = f.reset.Validate(ctx, first.Token)
	requireTokenReason(t, err, models.TokenNotFound)
	_, err = f.reset.Validate(ctx, second.Token)
	assert.NoError(t, err)
	assert.Equal(t, 1, f.resetRepo.Count())
}

func TestPasswordReset_CompleteIsSingleUse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	locked := testStart.Add(time.Hour)
	require.NoError(t, f.users.UpdateLoginState(ctx, testUserID, 5, &locked))

	res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	f.clock.Advance(10 * time.Minute)
	require.NoError(t, f.reset.Complete(ctx, res.Token, newPassword))

	user := f.users.Get(testUserID)
	assert.True(t, f.hasher.Verify(newPassword, user.PasswordHash))
	assert.False(t, f.hasher.Verify(testPassword, user.PasswordHash))
	assert.Zero(t, user.FailedAttempts)
	assert.Nil(t, user.LockedUntil)

	_, err = f.refresh.Validate(ctx, session)
	requireTokenReason(t, err, models.TokenRevoked)
	record, err := f.refresh.Lookup(ctx, session)
	require.NoError(t, err)
	// Validate escalated the revoked token to a family revoke, but the
	// original reason is kept.
	assert.Equal(t, models.RevokeReasonPasswordChange, *record.RevokedReason)

	err = f.reset.Complete(ctx, res.Token, "another-long-password")
	requireTokenReason(t, err, models.TokenAlreadyUsed)
}

func TestPasswordReset_RevokeFailureLeavesPasswordAndTokenUntouched(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	session, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	failing := &MockSessionRevoker{
		RevokeAllForUserFunc: func(ctx context.Context, userID, reason string) (int64, error) {
			return 0, errors.New("db down")
		},
	}
	audit := pkglogger.NewAuditLogger(discardLogger())
	broken := NewPasswordResetService(f.resetRepo, f.users, f.hasher, f.breach, failing, f.gen, f.clock, discardLogger(), audit)

	err = broken.Complete(ctx, res.Token, newPassword)
	require.Error(t, err)
	_, ok := models.TokenReasonOf(err)
	assert.False(t, ok)

	user := f.users.Get(testUserID)
	assert.True(t, f.hasher.Verify(testPassword, user.PasswordHash))
	assert.False(t, f.hasher.Verify(newPassword, user.PasswordHash))

	// the link still works once the store recovers
	require.NoError(t, f.reset.Complete(ctx, res.Token, newPassword))
	user = f.users.Get(testUserID)
	assert.True(t, f.hasher.Verify(newPassword, user.PasswordHash))
	_, err = f.refresh.Validate(ctx, session)
	requireTokenReason(t, err, models.TokenRevoked)
}

func TestPasswordReset_ConcurrentCompleteHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	const racers = 4
	var wg sync.WaitGroup
	errs := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.reset.Complete(ctx, res.Token, newPassword)
		}()
	}
	wg.Wait()
	close(errs)

	wins := 0
	for err := range errs {
		if err == nil {
			wins++
			continue
		}
		requireTokenReason(t, err, models.TokenAlreadyUsed)
	}
	assert.Equal(t, 1, wins)
}

func TestPasswordReset_Expired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	f.clock.Advance(PasswordResetTTL)
	err = f.reset.Complete(ctx, res.Token, newPassword)
	requireTokenReason(t, err, models.TokenExpired)
}

func TestPasswordReset_CompleteRejectsWeakPasswords(t *testing.T) {
	ctx := context.Background()

	t.Run("policy", func(t *testing.T) {
		f := newFixture(t)
		res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
		require.NoError(t, err)

		err = f.reset.Complete(ctx, res.Token, "short")
		assert.ErrorIs(t, err, models.ErrPasswordPolicy)

		// The token survives a rejected password.
		_, err = f.reset.Validate(ctx, res.Token)
		assert.NoError(t, err)
	})

	t.Run("breached", func(t *testing.T) {
		f := newFixture(t)
		f.breach.CheckFunc = func(context.Context, string) error {
			return &models.CompromisedPasswordError{Count: 3}
		}
		res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
		require.NoError(t, err)

		err = f.reset.Complete(ctx, res.Token, newPassword)
		assert.ErrorIs(t, err, models.ErrPasswordCompromised)
	})

	t.Run("breach service down", func(t *testing.T) {
		f := newFixture(t)
		f.breach.CheckFunc = func(context.Context, string) error {
			return errors.Join(models.ErrBreachCheckUnavailable, errors.New("timeout"))
		}
		res, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
		require.NoError(t, err)

		err = f.reset.Complete(ctx, res.Token, newPassword)
		assert.ErrorIs(t, err, models.ErrBreachCheckUnavailable)
	})
}

func TestPasswordReset_Cleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.reset.Initiate(ctx, testEmail, testTenant, "")
	require.NoError(t, err)

	f.clock.Advance(2 * PasswordResetTTL)
	n, err := f.reset.Cleanup(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}
