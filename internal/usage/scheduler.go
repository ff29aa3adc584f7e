package usage

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// CycleRunner runs a single accounting cycle.
type CycleRunner interface {
	RunCycle(ctx context.Context) (*CycleResult, error)
}

// Scheduler triggers accounting cycles on a cron schedule. A tick that
// arrives while the previous cycle is still running is skipped.
type Scheduler struct {
	runner     CycleRunner
	cron       *cron.Cron
	schedule   string
	runOnStart bool
	ctx        context.Context
	cancel     context.CancelFunc
	startup    sync.WaitGroup
	logger     zerolog.Logger
}

// NewScheduler creates a new cycle scheduler. schedule accepts standard five
// field cron expressions and descriptors such as "@every 5m".
func NewScheduler(runner CycleRunner, schedule string, loc *time.Location, runOnStart bool, logger zerolog.Logger) (*Scheduler, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}

	logger = logger.With().Str("component", "cycle-scheduler").Logger()
	cl := cronLogger{logger: logger}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:     runner,
		schedule:   schedule,
		runOnStart: runOnStart,
		ctx:        ctx,
		cancel:     cancel,
		logger:     logger,
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}

	if _, err := s.cron.AddFunc(schedule, s.runCycle); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to schedule accounting cycle: %w", err)
	}

	return s, nil
}

// Start begins the scheduler
func (s *Scheduler) Start() {
	if s.runOnStart {
		s.startup.Add(1)
		go func() {
			defer s.startup.Done()
			s.runCycle()
		}()
	}
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Bool("run_on_start", s.runOnStart).
		Msg("Accounting cycle scheduler started")
}

// Stop stops the scheduler. A cycle already in flight is allowed to finish
// or hit its fetch timeout before Stop returns.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.startup.Wait()
	s.cancel()
	s.logger.Info().Msg("Accounting cycle scheduler stopped")
}

func (s *Scheduler) runCycle() {
	if s.ctx.Err() != nil {
		return
	}
	if _, err := s.runner.RunCycle(s.ctx); err != nil {
		s.logger.Warn().Err(err).Msg("Scheduled accounting cycle failed, retrying on next tick")
	}
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
