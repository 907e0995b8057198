package main

import (
	"context"
	"math/rand/v2"
	"sync"
	"time"
)

// Scheduler runs a job every interval, shifted by up to ±jitter. Runs never
// overlap: the next wait starts when the previous run returns.
type Scheduler struct {
	interval time.Duration
	jitter   time.Duration
	job      func(ctx context.Context) error

	mu      sync.Mutex
	running bool

	// offset returns a value in [-jitter, jitter]
	offset func(jitter time.Duration) time.Duration
}

func NewScheduler(interval, jitter time.Duration, job func(ctx context.Context) error) *Scheduler {
	return &Scheduler{
		interval: interval,
		jitter:   jitter,
		job:      job,
		offset:   randomOffset,
	}
}

func randomOffset(jitter time.Duration) time.Duration {
	if jitter <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(2*jitter)+1)) - jitter
}

// Run starts with an immediate run and blocks until ctx is done
func (s *Scheduler) Run(ctx context.Context) error {
	for {
		s.RunOnce(ctx)

		wait := s.nextWait()
		logger.Infof("Next run in %s", wait.Round(time.Second))
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RunOnce runs the job unless a run is already in progress. It reports whether
// the job ran.
func (s *Scheduler) RunOnce(ctx context.Context) bool {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		logger.Warnf("Previous run still in progress, skipping")
		return false
	}
	s.running = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
	}()

	if err := s.job(ctx); err != nil {
		logger.Errorf("Scheduled run failed: %v", err)
	}
	return true
}

func (s *Scheduler) nextWait() time.Duration {
	wait := s.interval + s.offset(s.jitter)
	if wait <= 0 {
		wait = s.interval
	}
	return wait
}
