// Package schedule triggers pipeline runs on a cron schedule.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a single job on a cron spec. A tick that fires while the
// previous run is still in progress is skipped, including across a
// Reschedule.
type Scheduler struct {
	cron    *cron.Cron
	job     Job
	guarded cron.Job
	logger  *slog.Logger

	mu    sync.Mutex
	ctx   context.Context
	entry cron.EntryID
	spec  string
}

// New creates a scheduler. Specs are interpreted in loc; nil means local time.
func New(job Job, loc *time.Location, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if loc == nil {
		loc = time.Local
	}
	cl := cronLogger{logger}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		job:    job,
		logger: logger,
		ctx:    context.Background(),
	}
	// One overlap guard shared by every entry, so a replaced entry's run
	// still blocks the new one.
	s.guarded = cron.NewChain(cron.SkipIfStillRunning(cl)).Then(cron.FuncJob(s.run))
	return s
}

// Validate reports whether spec is a valid standard cron expression.
func Validate(spec string) error {
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	return nil
}

// Start schedules the job on spec and starts the cron loop. Jobs run with ctx.
func (s *Scheduler) Start(ctx context.Context, spec string) error {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()

	if err := s.Reschedule(spec); err != nil {
		return err
	}
	s.cron.Start()
	s.logger.Info("scheduler started", "schedule", spec, "next", s.Next())
	return nil
}

// Reschedule replaces the schedule. The previous schedule stays active if
// spec is invalid. A run already in progress is not interrupted.
func (s *Scheduler) Reschedule(spec string) error {
	if err := Validate(spec); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.entry != 0 && spec == s.spec {
		return nil
	}

	id, err := s.cron.AddJob(spec, s.guarded)
	if err != nil {
		return fmt.Errorf("schedule %q: %w", spec, err)
	}
	if s.entry != 0 {
		s.cron.Remove(s.entry)
		s.logger.Info("schedule changed", "from", s.spec, "to", spec)
	}
	s.entry, s.spec = id, spec
	return nil
}

// Trigger runs the job now, in the caller's goroutine, through the same
// overlap guard as scheduled ticks. It returns immediately if a run is in
// progress.
func (s *Scheduler) Trigger() {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()

	if e := s.cron.Entry(id); e.Valid() {
		e.WrappedJob.Run()
	}
}

// Next returns the next scheduled run time, or zero if none.
func (s *Scheduler) Next() time.Time {
	s.mu.Lock()
	id := s.entry
	s.mu.Unlock()
	return s.cron.Entry(id).Next
}

// Stop stops scheduling and returns a context that is done once any running
// scheduled job has finished. Runs started by Trigger are not tracked.
func (s *Scheduler) Stop() context.Context {
	ctx := s.cron.Stop()
	s.logger.Info("scheduler stopped")
	return ctx
}

func (s *Scheduler) run() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()

	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", "error", err)
	}
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		l.logger.Warn("run skipped, previous run still in progress")
		return
	}
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
