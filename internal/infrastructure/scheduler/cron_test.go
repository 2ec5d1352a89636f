package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNextHonorsTimezone(t *testing.T) {
	loc, err := time.LoadLocation("America/Los_Angeles")
	if err != nil {
		t.Skipf("timezone database unavailable: %v", err)
	}
	s := NewCronScheduler("0 9 * * *", loc, nil)
	require.NoError(t, s.Validate())

	from := time.Date(2025, 10, 7, 15, 0, 0, 0, time.UTC) // 08:00 PDT
	next, err := s.Next(from)
	require.NoError(t, err)
	assert.True(t, next.Equal(time.Date(2025, 10, 7, 16, 0, 0, 0, time.UTC)), "got %s", next)
}

func TestStartRejectsBadExpression(t *testing.T) {
	s := NewCronScheduler("every morning", time.UTC, nil)
	assert.Error(t, s.Validate())
	assert.Error(t, s.Start(context.Background(), func(time.Time) {}))
}

func TestStartStop(t *testing.T) {
	s := NewCronScheduler("@every 1h", time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx, func(time.Time) {}))
	assert.Error(t, s.Start(ctx, func(time.Time) {}))

	stopCtx, stopCancel := context.WithTimeout(context.Background(), time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	require.NoError(t, s.Stop(stopCtx))
}

func TestStopWaitsForRunningJobAfterCancel(t *testing.T) {
	s := NewCronScheduler("@every 1s", time.UTC, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{})
	var (
		once     sync.Once
		finished atomic.Bool
	)
	require.NoError(t, s.Start(ctx, func(time.Time) {
		once.Do(func() { close(started) })
		time.Sleep(300 * time.Millisecond)
		finished.Store(true)
	}))

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}
	cancel()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer stopCancel()
	require.NoError(t, s.Stop(stopCtx))
	assert.True(t, finished.Load())
}

func TestStopGivesUpWhenContextExpires(t *testing.T) {
	s := NewCronScheduler("@every 1s", time.UTC, nil)
	started := make(chan struct{})
	release := make(chan struct{})
	var once sync.Once
	require.NoError(t, s.Start(context.Background(), func(time.Time) {
		once.Do(func() { close(started) })
		<-release
	}))
	defer close(release)

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never fired")
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer stopCancel()
	assert.ErrorIs(t, s.Stop(stopCtx), context.DeadlineExceeded)
}
