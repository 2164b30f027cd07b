package background

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeDevices struct {
	calls int
	err   error
}

func (f *fakeDevices) SweepExpired(context.Context) (int64, error) {
	f.calls++
	return 2, f.err
}

type fakeChallenges struct {
	before time.Time
}

func (f *fakeChallenges) DeleteStale(_ context.Context, before time.Time) (int64, error) {
	f.before = before
	return 1, nil
}

type fakeCounters struct {
	before, now time.Time
}

func (f *fakeCounters) DeleteIdle(_ context.Context, before, now time.Time) (int64, error) {
	f.before, f.now = before, now
	return 0, nil
}

func newTestManager(d *fakeDevices, c *fakeChallenges, k *fakeCounters) *CleanupManager {
	cm := NewCleanupManager(d, c, k, CleanupConfig{
		Interval:           time.Hour,
		ChallengeRetention: 2 * time.Hour,
		CounterRetention:   30 * time.Minute,
	}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	cm.now = func() time.Time { return time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC) }
	return cm
}

func TestCleanupManager_RunOnce(t *testing.T) {
	d, c, k := &fakeDevices{}, &fakeChallenges{}, &fakeCounters{}
	cm := newTestManager(d, c, k)

	cm.RunOnce(context.Background())

	now := time.Date(2026, 3, 2, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, 1, d.calls)
	assert.Equal(t, now.Add(-2*time.Hour), c.before)
	assert.Equal(t, now.Add(-30*time.Minute), k.before)
	assert.Equal(t, now, k.now)
}

func TestCleanupManager_FailureDoesNotStopOtherSweeps(t *testing.T) {
	d, c, k := &fakeDevices{err: errors.New("db down")}, &fakeChallenges{}, &fakeCounters{}
	cm := newTestManager(d, c, k)

	cm.RunOnce(context.Background())

	assert.False(t, c.before.IsZero())
	assert.False(t, k.now.IsZero())
}

func TestCleanupManager_StartStops(t *testing.T) {
	cm := NewCleanupManager(&fakeDevices{}, nil, nil, CleanupConfig{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))

	done := make(chan struct{})
	go func() {
		cm.Start(context.Background())
		close(done)
	}()

	cm.Stop()
	cm.Stop()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager did not stop")
	}
}

func TestCleanupManager_StartHonoursContext(t *testing.T) {
	cm := NewCleanupManager(&fakeDevices{}, nil, nil, CleanupConfig{}, slog.New(slog.NewJSONHandler(io.Discard, nil)))
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		cm.Start(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("cleanup manager ignored cancellation")
	}
}
