// Package scheduler runs periodic and daily jobs in a fixed time zone.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Job func(ctx context.Context) error

type job struct {
	name string
	next func(after time.Time) time.Time
	run  Job
}

type Scheduler struct {
	loc    *time.Location
	logger *zap.Logger
	now    func() time.Time

	mu     sync.Mutex
	jobs   []job
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(loc *time.Location, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		loc:    loc,
		logger: logger,
		now:    time.Now,
	}
}

// Every runs fn every interval, first after one interval has passed.
func (s *Scheduler) Every(name string, interval time.Duration, fn Job) {
	s.add(job{
		name: name,
		next: func(after time.Time) time.Time { return after.Add(interval) },
		run:  fn,
	})
}

// DailyAt runs fn every day at clock ("15:04") in the scheduler's zone.
func (s *Scheduler) DailyAt(name, clock string, fn Job) error {
	at, err := time.Parse("15:04", clock)
	if err != nil {
		return fmt.Errorf("scheduler: job %s: bad time %q: %w", name, clock, err)
	}
	s.add(job{
		name: name,
		next: func(after time.Time) time.Time {
			return NextDaily(after, s.loc, at.Hour(), at.Minute())
		},
		run: fn,
	})
	return nil
}

func (s *Scheduler) add(j job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, j)
}

// NextDaily returns the first hour:minute in loc strictly after after.
func NextDaily(after time.Time, loc *time.Location, hour, minute int) time.Time {
	local := after.In(loc)
	next := time.Date(local.Year(), local.Month(), local.Day(), hour, minute, 0, 0, loc)
	if !next.After(local) {
		next = time.Date(local.Year(), local.Month(), local.Day()+1, hour, minute, 0, 0, loc)
	}
	return next
}

// Start launches one goroutine per job. Jobs stop when ctx is done or Stop
// is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.loop(ctx, j)
	}
	s.logger.Info("Scheduler started",
		zap.Int("jobs", len(s.jobs)),
		zap.String("timezone", s.loc.String()))
}

// Stop cancels all jobs and waits for running ones to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
}

func (s *Scheduler) loop(ctx context.Context, j job) {
	defer s.wg.Done()

	for {
		now := s.now()
		next := j.next(now)
		timer := time.NewTimer(next.Sub(now))

		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			s.runJob(ctx, j)
		}
	}
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Scheduled job panicked",
				zap.String("job", j.name),
				zap.Any("panic", r))
		}
	}()

	start := time.Now()
	if err := j.run(ctx); err != nil {
		s.logger.Error("Scheduled job failed",
			zap.String("job", j.name),
			zap.Error(err))
		return
	}
	s.logger.Debug("Scheduled job finished",
		zap.String("job", j.name),
		zap.Duration("took", time.Since(start)))
}
