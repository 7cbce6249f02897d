package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStarted(t *testing.T) *Scheduler {
	t.Helper()
	s := New(nil)
	s.Start()
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleFiresOnce(t *testing.T) {
	s := newStarted(t)
	var runs atomic.Int32

	require.NoError(t, s.Schedule("a", 100*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	}))
	assert.Equal(t, StatePending, s.State("a"))
	assert.Equal(t, 1, s.Pending())

	require.Eventually(t, func() bool { return runs.Load() == 1 }, 3*time.Second, 20*time.Millisecond)

	time.Sleep(350 * time.Millisecond)
	assert.Equal(t, int32(1), runs.Load())
	assert.Equal(t, StateFired, s.State("a"))
	assert.Zero(t, s.Pending())
}

func TestCancelPreventsFiring(t *testing.T) {
	s := newStarted(t)
	var runs atomic.Int32

	require.NoError(t, s.Schedule("b", 150*time.Millisecond, func(ctx context.Context) {
		runs.Add(1)
	}))
	assert.True(t, s.Cancel("b"))
	assert.False(t, s.Cancel("b"))

	time.Sleep(400 * time.Millisecond)
	assert.Zero(t, runs.Load())
	assert.Equal(t, StateCancelled, s.State("b"))
}

func TestCancelAfterFire(t *testing.T) {
	s := newStarted(t)
	done := make(chan struct{})

	require.NoError(t, s.Schedule("c", 50*time.Millisecond, func(ctx context.Context) {
		close(done)
	}))

	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("job did not fire")
	}
	require.Eventually(t, func() bool { return s.State("c") == StateFired }, time.Second, 10*time.Millisecond)
	assert.False(t, s.Cancel("c"))
}

func TestScheduleDuplicateKey(t *testing.T) {
	s := newStarted(t)
	noop := func(ctx context.Context) {}

	require.NoError(t, s.Schedule("d", time.Minute, noop))
	err := s.Schedule("d", time.Minute, noop)
	assert.ErrorIs(t, err, ErrAlreadyScheduled)
}

func TestScheduleRejectsNonPositiveDelay(t *testing.T) {
	s := newStarted(t)
	assert.Error(t, s.Schedule("e", 0, func(ctx context.Context) {}))
	assert.Equal(t, StateUnknown, s.State("e"))
}

func TestStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "fired", StateFired.String())
	assert.Equal(t, "cancelled", StateCancelled.String())
	assert.Equal(t, "unknown", StateUnknown.String())
}
