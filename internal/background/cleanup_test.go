package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewCleanupManager_RejectsBadSchedule(t *testing.T) {
	_, err := NewCleanupManager("every hour please", nil, discardLogger())
	require.Error(t, err)
}

func TestRunOnce_ContinuesPastFailures(t *testing.T) {
	var order []string
	tasks := []CleanupTask{
		{Name: "refresh_tokens", Run: func(ctx context.Context) (int64, error) {
			order = append(order, "refresh_tokens")
			return 0, errors.New("connection refused")
		}},
		{Name: "password_reset_tokens", Run: func(ctx context.Context) (int64, error) {
			order = append(order, "password_reset_tokens")
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline)
			return 4, nil
		}},
	}

	cm, err := NewCleanupManager("@every 1h", tasks, discardLogger())
	require.NoError(t, err)

	cm.RunOnce(context.Background())
	assert.Equal(t, []string{"refresh_tokens", "password_reset_tokens"}, order)
}

func TestRunOnce_StopsWhenCancelled(t *testing.T) {
	var runs atomic.Int32
	task := CleanupTask{Name: "login_attempts", Run: func(ctx context.Context) (int64, error) {
		runs.Add(1)
		return 0, nil
	}}
	cm, err := NewCleanupManager("@every 1h", []CleanupTask{task, task}, discardLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	cm.RunOnce(ctx)
	assert.Equal(t, int32(0), runs.Load())
}

func TestStartRunsImmediatelyAndStop(t *testing.T) {
	ran := make(chan struct{}, 1)
	task := CleanupTask{Name: "refresh_tokens", Run: func(ctx context.Context) (int64, error) {
		select {
		case ran <- struct{}{}:
		default:
		}
		return 1, nil
	}}
	cm, err := NewCleanupManager("@every 1h", []CleanupTask{task}, discardLogger())
	require.NoError(t, err)

	cm.Start(context.Background())
	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not run on start")
	}
	cm.Stop()
}

func TestStopWaitsForInitialRun(t *testing.T) {
	started := make(chan struct{})
	var finished atomic.Bool
	task := CleanupTask{Name: "refresh_tokens", Run: func(ctx context.Context) (int64, error) {
		close(started)
		<-ctx.Done()
		time.Sleep(50 * time.Millisecond)
		finished.Store(true)
		return 0, ctx.Err()
	}}
	cm, err := NewCleanupManager("@every 1h", []CleanupTask{task}, discardLogger())
	require.NoError(t, err)

	cm.Start(context.Background())
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup did not run on start")
	}

	cm.Stop()
	assert.True(t, finished.Load())
}
