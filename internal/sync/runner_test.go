package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// steppingClock returns successive times one second apart.
func steppingClock(start time.Time) func() time.Time {
	next := start

	return func() time.Time {
		now := next
		next = next.Add(time.Second)

		return now
	}
}

func TestSyncRunner_Run_Success(t *testing.T) {
	start := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	r := &syncRunner{
		root:       "/data/photos",
		configPath: "/etc/rclone.conf",
		nowFunc:    steppingClock(start),
		exec: ExecutorFunc(func(_ context.Context, cfg, local string) (string, error) {
			assert.Equal(t, "/etc/rclone.conf", cfg)
			assert.Equal(t, "/data/photos", local)

			return "Transferred: 3 files", nil
		}),
	}

	res := r.run(context.Background(), "run-1")

	require.NotNil(t, res)
	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, "/data/photos", res.Root)
	assert.Equal(t, "Transferred: 3 files", res.Output)
	assert.NoError(t, res.Err)
	assert.Equal(t, start, res.Started)
	assert.Equal(t, time.Second, res.Duration())
}

func TestSyncRunner_Run_Error(t *testing.T) {
	errExit := errors.New("exit status 7")

	r := &syncRunner{
		root:    "/data/docs",
		nowFunc: time.Now,
		exec: ExecutorFunc(func(context.Context, string, string) (string, error) {
			return "Failed to copy: directory not found", errExit
		}),
	}

	res := r.run(context.Background(), "run-2")

	assert.False(t, res.Success())
	assert.Equal(t, "Failed to copy: directory not found", res.Output)
	assert.ErrorIs(t, res.Err, errExit)

	var execErr *SyncExecutionError
	require.ErrorAs(t, res.Err, &execErr)
	assert.Equal(t, "/data/docs", execErr.Root)
	assert.Equal(t, "Failed to copy: directory not found", execErr.Output)
	assert.False(t, res.Finished.IsZero())
}

func TestSyncRunner_Run_PanicRecovery(t *testing.T) {
	r := &syncRunner{
		root:    "/data/panicky",
		nowFunc: time.Now,
		exec: ExecutorFunc(func(context.Context, string, string) (string, error) {
			panic("unexpected nil pointer")
		}),
	}

	res := r.run(context.Background(), "run-3")

	require.NotNil(t, res)
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "panic in executor: unexpected nil pointer")
	assert.Empty(t, res.Output)
	assert.False(t, res.Finished.IsZero())
}

func TestSyncRunner_Run_PassesContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r := &syncRunner{
		root:    "/data",
		nowFunc: time.Now,
		exec: ExecutorFunc(func(ctx context.Context, _, _ string) (string, error) {
			return "", ctx.Err()
		}),
	}

	res := r.run(ctx, "run-4")
	assert.ErrorIs(t, res.Err, context.Canceled)
}
