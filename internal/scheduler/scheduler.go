// Package scheduler runs each market's pipeline on its own cron schedule,
// evaluated in the market's time zone.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Job runs one market's pipeline for slot.
type Job func(ctx context.Context, market, slot string) error

// Entry is one scheduled market run.
type Entry struct {
	Market   string
	Slot     string
	Spec     string
	Timezone string
}

// Scheduler manages all cron entries.
type Scheduler struct {
	cron *cron.Cron
	job  Job
	ctx  context.Context
	log  *slog.Logger

	// Timeout bounds a single run; zero means no limit.
	Timeout time.Duration
}

// New creates a Scheduler. ctx is the parent of every run. A run that
// is still going when its next tick fires skips that tick.
func New(ctx context.Context, job Job, log *slog.Logger) *Scheduler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "scheduler")
	cl := cronLogger{log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl)),
		),
		job: job,
		ctx: ctx,
		log: log,
	}
}

// Add registers e. Spec is a standard five-field expression evaluated in
// e.Timezone.
func (s *Scheduler) Add(e Entry) error {
	spec := e.Spec
	if e.Timezone != "" {
		spec = "CRON_TZ=" + e.Timezone + " " + spec
	}
	run := cron.NewChain(cron.SkipIfStillRunning(cronLogger{s.log})).Then(cron.FuncJob(func() { s.run(e) }))
	if _, err := s.cron.AddJob(spec, run); err != nil {
		return fmt.Errorf("register %s/%s %q: %w", e.Market, e.Slot, e.Spec, err)
	}
	s.log.Info("market scheduled", "market", e.Market, "slot", e.Slot, "spec", e.Spec, "tz", e.Timezone)
	return nil
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int { return len(s.cron.Entries()) }

// Next returns the next fire time of every entry.
func (s *Scheduler) Next() []time.Time {
	var out []time.Time
	for _, e := range s.cron.Entries() {
		out = append(out, e.Next)
	}
	return out
}

// Start starts the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "entries", s.Len())
}

// Stop stops scheduling and waits for running jobs.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	s.log.Info("scheduler stopped")
}

// RunNow executes e immediately on the calling goroutine.
func (s *Scheduler) RunNow(e Entry) { s.run(e) }

func (s *Scheduler) run(e Entry) {
	ctx := s.ctx
	if s.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.Timeout)
		defer cancel()
	}
	start := time.Now()
	s.log.Info("scheduled run starting", "market", e.Market, "slot", e.Slot)
	if err := s.job(ctx, e.Market, e.Slot); err != nil {
		s.log.Error("scheduled run failed", "market", e.Market, "slot", e.Slot, "err", err)
		return
	}
	s.log.Info("scheduled run finished", "market", e.Market, "slot", e.Slot, "elapsed", time.Since(start).Round(time.Millisecond))
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct{ log *slog.Logger }

func (l cronLogger) Info(msg string, kv ...any) { l.log.Debug(msg, kv...) }

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error(msg, append(kv, "err", err)...)
}
