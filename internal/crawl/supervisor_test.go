package crawl

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRestarter struct {
	restarts int
	err      error
}

func (f *fakeRestarter) Restart(context.Context) error {
	f.restarts++
	return f.err
}

func newTestSupervisor(cfg SupervisorConfig, session Restarter) (*Supervisor, *[]time.Duration) {
	sup := NewSupervisor(cfg, session, nil, slog.Default())
	var slept []time.Duration
	sup.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}
	return sup, &slept
}

func TestSupervisorSucceedsFirstTry(t *testing.T) {
	sup, slept := newTestSupervisor(SupervisorConfig{MaxAttempts: 3}, nil)

	calls := 0
	err := sup.Run(context.Background(), "op", func(context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *slept)
}

func TestSupervisorRetriesUntilSuccess(t *testing.T) {
	sup, slept := newTestSupervisor(SupervisorConfig{MaxAttempts: 5}, nil)

	calls := 0
	err := sup.Run(context.Background(), "op", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("flaky")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	require.Len(t, *slept, 2)

	// First delay is base plus jitter, second doubles the base.
	assert.GreaterOrEqual(t, (*slept)[0], 1*time.Second+DefaultJitterMin)
	assert.LessOrEqual(t, (*slept)[0], 1*time.Second+DefaultJitterMax)
	assert.GreaterOrEqual(t, (*slept)[1], 2*time.Second+DefaultJitterMin)
	assert.LessOrEqual(t, (*slept)[1], 2*time.Second+DefaultJitterMax)
}

func TestSupervisorGivesUpAfterMaxAttempts(t *testing.T) {
	sup, slept := newTestSupervisor(SupervisorConfig{MaxAttempts: 4}, nil)

	boom := errors.New("boom")
	calls := 0
	err := sup.Run(context.Background(), "op", func(context.Context) error {
		calls++
		return boom
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)
	assert.ErrorIs(t, err, boom)
	// No sleep is scheduled after the final attempt.
	assert.Len(t, *slept, 3)
}

func TestSupervisorBackoffIsCapped(t *testing.T) {
	sup, _ := newTestSupervisor(SupervisorConfig{}, nil)

	for _, attempt := range []int{4, 8, 20} {
		d := sup.backoff(attempt)
		assert.GreaterOrEqual(t, d, DefaultBackoffCap+DefaultJitterMin)
		assert.LessOrEqual(t, d, DefaultBackoffCap+DefaultJitterMax)
	}
}

func TestSupervisorRestartsSessionOnSessionFailure(t *testing.T) {
	session := &fakeRestarter{}
	sup, _ := newTestSupervisor(SupervisorConfig{MaxAttempts: 3}, session)

	calls := 0
	err := sup.Run(context.Background(), "navigate", func(context.Context) error {
		calls++
		if calls == 1 {
			return NewSessionError("navigate", errors.New("timeout"))
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, session.restarts)
}

func TestSupervisorLeavesSessionAloneOnPlainErrors(t *testing.T) {
	session := &fakeRestarter{}
	sup, _ := newTestSupervisor(SupervisorConfig{MaxAttempts: 2}, session)

	_ = sup.Run(context.Background(), "parse", func(context.Context) error {
		return errors.New("missing field")
	})

	assert.Equal(t, 0, session.restarts)
}

func TestSupervisorStopsWhenContextCanceled(t *testing.T) {
	sup := NewSupervisor(SupervisorConfig{MaxAttempts: 5}, nil, nil, slog.Default())
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	err := sup.Run(ctx, "op", func(context.Context) error {
		calls++
		cancel()
		return errors.New("fail")
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSupervisorWatchdogFiresOncePerEpisode(t *testing.T) {
	cfg := SupervisorConfig{
		StallThreshold: 30 * time.Millisecond,
		StallInterval:  10 * time.Millisecond,
	}
	sup := NewSupervisor(cfg, nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sup.Watch(ctx)

	// First episode: no success recorded, the stall fires once.
	select {
	case stall := <-ch:
		require.NotNil(t, stall)
		assert.Greater(t, stall.Elapsed, cfg.StallThreshold)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog never fired")
	}

	// The latch holds: no repeat while the stall persists.
	select {
	case <-ch:
		t.Fatal("watchdog fired twice in one episode")
	case <-time.After(100 * time.Millisecond):
	}

	// A success rearms the watchdog for a second episode.
	sup.RecordSuccess()
	select {
	case stall := <-ch:
		require.NotNil(t, stall)
	case <-time.After(2 * time.Second):
		t.Fatal("watchdog did not rearm after success")
	}
}

func TestSupervisorRecordSuccessHoldsOffWatchdog(t *testing.T) {
	cfg := SupervisorConfig{
		StallThreshold: 80 * time.Millisecond,
		StallInterval:  10 * time.Millisecond,
	}
	sup := NewSupervisor(cfg, nil, nil, slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := sup.Watch(ctx)

	done := time.After(300 * time.Millisecond)
	for {
		select {
		case <-ch:
			t.Fatal("watchdog fired despite steady progress")
		case <-done:
			return
		default:
			sup.RecordSuccess()
			time.Sleep(5 * time.Millisecond)
		}
	}
}
