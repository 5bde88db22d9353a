// Package scheduler runs the periodic directory sync for tvinput.
// A cron expression drives full syncs; on start it can run the initial
// setup sequence of a current-program sync followed by a full sync.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/internal/service"
)

// ParseOptions are the cron fields accepted in schedules. The seconds field
// is optional and descriptors such as @hourly are allowed.
const ParseOptions = cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor

// SyncRunner performs directory syncs.
type SyncRunner interface {
	Sync(ctx context.Context, currentOnly bool) (*service.SyncResult, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// Schedule is the cron expression for full syncs. Empty disables
	// periodic syncs.
	Schedule string

	// RunOnStart runs a current-program sync and then a full sync when the
	// scheduler starts.
	RunOnStart bool

	// Location is the time zone schedules are evaluated in.
	// Default: time.Local
	Location *time.Location
}

// Scheduler triggers syncs on a cron schedule.
type Scheduler struct {
	mu sync.Mutex

	runner SyncRunner
	config Config
	parser cron.Parser
	logger *slog.Logger

	// Running state
	cron    *cron.Cron
	entryID cron.EntryID
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewScheduler creates a new scheduler.
func NewScheduler(runner SyncRunner, config Config) *Scheduler {
	if config.Location == nil {
		config.Location = time.Local
	}
	return &Scheduler{
		runner: runner,
		config: config,
		parser: cron.NewParser(ParseOptions),
		logger: slog.Default(),
	}
}

// WithLogger sets a custom logger.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// Start registers the schedule and begins running it.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ctx != nil {
		return fmt.Errorf("scheduler already started")
	}

	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.config.Location),
		cron.WithLogger(cronLogger{logger: s.logger}),
		cron.WithChain(cron.SkipIfStillRunning(cronLogger{logger: s.logger})),
	)

	if s.config.Schedule != "" {
		id, err := c.AddFunc(s.config.Schedule, s.runScheduled)
		if err != nil {
			return fmt.Errorf("invalid cron expression: %w", err)
		}
		s.entryID = id
	}

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = c
	c.Start()

	if s.config.RunOnStart {
		s.wg.Add(1)
		go s.setup()
	}

	s.logger.Info("scheduler started",
		slog.String("schedule", s.config.Schedule),
		slog.Bool("run_on_start", s.config.RunOnStart))

	return nil
}

// Stop stops the scheduler and waits for running syncs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	c := s.cron
	s.mu.Unlock()

	if c != nil {
		<-c.Stop().Done()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.ctx = nil
	s.cancel = nil
	s.cron = nil
	s.entryID = 0
	s.mu.Unlock()

	s.logger.Info("scheduler stopped")
}

// NextRun returns when the next scheduled sync fires. It is zero when the
// scheduler is stopped or has no schedule.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cron == nil || s.entryID == 0 {
		return time.Time{}
	}
	return s.cron.Entry(s.entryID).Next
}

// setup brings a fresh directory up to date: what is on now first, so
// tuning works quickly, then the whole window.
func (s *Scheduler) setup() {
	defer s.wg.Done()
	ctx := s.runContext()

	if !s.run(ctx, true) {
		return
	}
	s.run(ctx, false)
}

func (s *Scheduler) runScheduled() {
	s.run(s.runContext(), false)
}

func (s *Scheduler) runContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx == nil {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		return ctx
	}
	return s.ctx
}

// run performs one sync and reports whether it succeeded. Each run gets a
// correlation ID that the sync service logs with.
func (s *Scheduler) run(ctx context.Context, currentOnly bool) bool {
	if ctx.Err() != nil {
		return false
	}

	id := uuid.NewString()
	ctx = observability.ContextWithCorrelationID(ctx, id)
	logger := observability.WithCorrelationID(s.logger, id)

	operation := "full_sync"
	if currentOnly {
		operation = "current_program_sync"
	}

	var err error
	done := observability.TimedOperationWithError(ctx, logger, operation, &err)
	_, err = s.runner.Sync(ctx, currentOnly)
	if err != nil && ctx.Err() != nil {
		logger.Debug("scheduled sync cancelled", slog.String("operation", operation))
		return false
	}
	done()
	return err == nil
}

// ParseCron validates a cron expression and returns the next run time.
func (s *Scheduler) ParseCron(expr string) (time.Time, error) {
	schedule, err := s.parser.Parse(expr)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid cron expression: %w", err)
	}
	return schedule.Next(time.Now().In(s.config.Location)), nil
}

// cronLogger routes cron's own logging through slog.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{slog.String("error", err.Error())}, keysAndValues...)...)
}
