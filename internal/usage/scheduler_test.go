package usage

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingRunner struct {
	calls atomic.Int32
	err   error
}

func (r *countingRunner) RunCycle(ctx context.Context) (*CycleResult, error) {
	r.calls.Add(1)
	if r.err != nil {
		return nil, r.err
	}
	return &CycleResult{}, nil
}

func TestNewSchedulerRejectsInvalidSchedule(t *testing.T) {
	for _, schedule := range []string{"", "every five minutes", "61 * * * *", "@daily at noon"} {
		_, err := NewScheduler(&countingRunner{}, schedule, time.UTC, false, zerolog.Nop())
		assert.Error(t, err, schedule)
	}
}

func TestSchedulerRunOnStart(t *testing.T) {
	runner := &countingRunner{err: errors.New("router unreachable")}
	scheduler, err := NewScheduler(runner, "@every 1h", time.UTC, true, zerolog.Nop())
	require.NoError(t, err)

	scheduler.Start()
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	scheduler.Stop()

	assert.Equal(t, int32(1), runner.calls.Load())
}

func TestSchedulerWithoutRunOnStart(t *testing.T) {
	runner := &countingRunner{}
	scheduler, err := NewScheduler(runner, "@every 1h", time.UTC, false, zerolog.Nop())
	require.NoError(t, err)

	scheduler.Start()
	time.Sleep(20 * time.Millisecond)
	scheduler.Stop()

	assert.Zero(t, runner.calls.Load())
}

func TestSchedulerTicks(t *testing.T) {
	runner := &countingRunner{}
	scheduler, err := NewScheduler(runner, "@every 1s", time.UTC, false, zerolog.Nop())
	require.NoError(t, err)

	scheduler.Start()
	defer scheduler.Stop()

	require.Eventually(t, func() bool { return runner.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
}

type blockingRunner struct {
	started  chan struct{}
	release  chan struct{}
	finished chan error
}

func (r *blockingRunner) RunCycle(ctx context.Context) (*CycleResult, error) {
	close(r.started)
	<-r.release
	r.finished <- ctx.Err()
	return &CycleResult{}, nil
}

func TestSchedulerStopLetsRunningCycleFinish(t *testing.T) {
	runner := &blockingRunner{
		started:  make(chan struct{}),
		release:  make(chan struct{}),
		finished: make(chan error, 1),
	}
	scheduler, err := NewScheduler(runner, "@every 1h", time.UTC, true, zerolog.Nop())
	require.NoError(t, err)

	scheduler.Start()
	<-runner.started

	stopped := make(chan struct{})
	go func() {
		scheduler.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatal("Stop returned while a cycle was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	assert.NoError(t, <-runner.finished)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Stop did not return after the cycle finished")
	}
}
