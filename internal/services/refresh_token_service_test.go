package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/quickstack/pos-auth/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var meta = ClientMeta{IPAddress: "10.0.0.7", UserAgent: "register-3"}

func TestRefreshToken_CreateAndValidate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	assert.Len(t, token, 43)

	record, err := f.refresh.Validate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, testUserID, record.UserID)
	assert.Equal(t, testStart.Add(DefaultRefreshTokenTTL), record.ExpiresAt)
	assert.NotEqual(t, token, record.TokenHash)
	assert.Len(t, record.TokenHash, 64)
}

func TestRefreshToken_ValidateRejections(t *testing.T) {
	ctx := context.Background()

	t.Run("unknown", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.refresh.Validate(ctx, "not-a-real-token")
		requireTokenReason(t, err, models.TokenNotFound)
	})

	t.Run("empty", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.refresh.Validate(ctx, "")
		requireTokenReason(t, err, models.TokenNotFound)
	})

	t.Run("expired at the boundary", func(t *testing.T) {
		f := newFixture(t)
		token, err := f.refresh.Create(ctx, testUserID, meta)
		require.NoError(t, err)

		f.clock.Advance(DefaultRefreshTokenTTL)
		_, err = f.refresh.Validate(ctx, token)
		requireTokenReason(t, err, models.TokenExpired)
	})
}

func TestRefreshToken_RotationAndReuse(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	other, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	rotated, err := f.refresh.Rotate(ctx, first, meta)
	require.NoError(t, err)
	assert.NotEqual(t, first, rotated.Token)
	assert.Equal(t, testUserID, rotated.UserID)

	firstRecord, err := f.refresh.Lookup(ctx, first)
	require.NoError(t, err)
	assert.Equal(t, firstRecord.FamilyID, rotated.FamilyID)
	require.NotNil(t, firstRecord.RevokedReason)
	assert.Equal(t, models.RevokeReasonRotated, *firstRecord.RevokedReason)

	// Replaying the rotated token kills the whole family.
	_, err = f.refresh.Rotate(ctx, first, meta)
	requireTokenReason(t, err, models.TokenRevoked)

	_, err = f.refresh.Validate(ctx, rotated.Token)
	requireTokenReason(t, err, models.TokenRevoked)
	successor, err := f.refresh.Lookup(ctx, rotated.Token)
	require.NoError(t, err)
	require.NotNil(t, successor.RevokedReason)
	assert.Equal(t, models.RevokeReasonSuspiciousReuse, *successor.RevokedReason)

	// Other families are untouched.
	_, err = f.refresh.Validate(ctx, other)
	assert.NoError(t, err)
}

func TestRefreshToken_ConcurrentRotationHasOneWinner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)

	const racers = 8
	var wg sync.WaitGroup
	results := make(chan error, racers)
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.refresh.Rotate(ctx, token, meta)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins := 0
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		requireTokenReason(t, err, models.TokenRevoked)
	}
	assert.Equal(t, 1, wins)
}

func TestRefreshToken_RotateConflictRevokesFamily(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)

	f.refreshRepo.RotateErr = models.ErrConflict
	_, err = f.refresh.Rotate(ctx, token, meta)
	requireTokenReason(t, err, models.TokenRevoked)

	record, err := f.refresh.Lookup(ctx, token)
	require.NoError(t, err)
	require.NotNil(t, record.RevokedReason)
	assert.Equal(t, models.RevokeReasonSuspiciousReuse, *record.RevokedReason)
}

func TestRefreshToken_RevokeIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	token, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	sibling, err := f.refresh.CreateInFamily(ctx, testUserID, mustFamily(t, f, token), meta)
	require.NoError(t, err)

	require.NoError(t, f.refresh.Revoke(ctx, token, models.RevokeReasonLogout))
	require.NoError(t, f.refresh.Revoke(ctx, token, models.RevokeReasonLogout))
	require.NoError(t, f.refresh.Revoke(ctx, "unknown", models.RevokeReasonLogout))

	record, err := f.refresh.Lookup(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, models.RevokeReasonLogout, *record.RevokedReason)

	// Revoke never triggers reuse handling for the rest of the family.
	_, err = f.refresh.Validate(ctx, sibling)
	assert.NoError(t, err)
}

func mustFamily(t *testing.T, f *fixture, token string) string {
	t.Helper()
	record, err := f.refresh.Lookup(context.Background(), token)
	require.NoError(t, err)
	return record.FamilyID
}

func TestRefreshToken_Sessions(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mine, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)
	_, err = f.refresh.Create(ctx, testUserID, ClientMeta{IPAddress: "10.0.0.8", UserAgent: "tablet"})
	require.NoError(t, err)
	foreign, err := f.refresh.Create(ctx, "someone-else", meta)
	require.NoError(t, err)

	sessions, err := f.refresh.ListActiveSessions(ctx, testUserID)
	require.NoError(t, err)
	assert.Len(t, sessions, 2)

	foreignRecord, err := f.refresh.Lookup(ctx, foreign)
	require.NoError(t, err)
	assert.ErrorIs(t, f.refresh.RevokeSession(ctx, testUserID, foreignRecord.ID), models.ErrNotFound)
	assert.ErrorIs(t, f.refresh.RevokeSession(ctx, testUserID, "missing"), models.ErrNotFound)

	n, err := f.refresh.RevokeOtherSessions(ctx, testUserID, mustFamily(t, f, mine))
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	sessions, err = f.refresh.ListActiveSessions(ctx, testUserID)
	require.NoError(t, err)
	require.Len(t, sessions, 1)

	require.NoError(t, f.refresh.RevokeSession(ctx, testUserID, sessions[0].ID))
	sessions, err = f.refresh.ListActiveSessions(ctx, testUserID)
	require.NoError(t, err)
	assert.Empty(t, sessions)
}

func TestRefreshToken_Cleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)

	f.clock.Advance(DefaultRefreshTokenTTL + time.Hour)
	fresh, err := f.refresh.Create(ctx, testUserID, meta)
	require.NoError(t, err)

	n, err := f.refresh.Cleanup(ctx, time.Minute)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	_, err = f.refresh.Validate(ctx, fresh)
	assert.NoError(t, err)
}
