// Package scheduler implements the fixed-interval, non-overlapping trigger described
// in spec §4.14: at most one cycle runs at a time, missed ticks while a cycle is still
// running coalesce into a single follow-up, and late ticks beyond a misfire grace
// period are dropped rather than fired stale.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

const (
	// defaultInterval is the spec default cycle cadence.
	defaultInterval = 3 * time.Minute
	// defaultMisfireGrace is the spec default late-fire tolerance.
	defaultMisfireGrace = 60 * time.Second
)

// Job is the unit of work the Scheduler triggers on each tick.
type Job func(ctx context.Context)

// Scheduler fires Job at a fixed interval with max_instances=1 semantics.
type Scheduler struct {
	interval     time.Duration
	misfireGrace time.Duration
	job          Job

	mu          sync.Mutex
	running     bool
	busy        bool
	pending     bool
	lastRunTime time.Time
	nextRunTime time.Time

	stopCh chan struct{}
	doneCh chan struct{}
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithInterval overrides the default 3-minute cycle interval.
func WithInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.interval = d
		}
	}
}

// WithMisfireGrace overrides the default 60-second misfire grace period.
func WithMisfireGrace(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.misfireGrace = d
		}
	}
}

// New constructs a Scheduler bound to job, which runs on every tick.
func New(job Job, opts ...Option) *Scheduler {
	s := &Scheduler{
		interval:     defaultInterval,
		misfireGrace: defaultMisfireGrace,
		job:          job,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Start begins firing ticks on their own goroutine. Start is idempotent: calling it
// again while already running is a no-op.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.nextRunTime = time.Now().Add(s.interval)
	s.mu.Unlock()

	go s.loop(ctx)
}

// Stop halts future ticks. Stop is idempotent and blocks until any in-flight tick's
// loop goroutine has exited (not until the job itself completes — callers awaiting
// a bounded grace period on the in-flight job should do so before calling Stop, per
// spec §4.16's stop() sequencing).
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopCh)
	done := s.doneCh
	s.mu.Unlock()

	<-done
}

// NextRunTime reports when the next tick is scheduled to fire.
func (s *Scheduler) NextRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextRunTime
}

// LastRunTime reports when the job last started executing.
func (s *Scheduler) LastRunTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRunTime
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.doneCh)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case fireTime := <-ticker.C:
			s.onTick(ctx, fireTime)
		}
	}
}

// onTick applies misfire-grace and non-overlap rules before invoking the job.
func (s *Scheduler) onTick(ctx context.Context, fireTime time.Time) {
	if lag := time.Since(fireTime); lag > s.misfireGrace {
		logx.WithContext(ctx).Errorf("scheduler: dropping misfired tick, lag=%s exceeds grace=%s", lag, s.misfireGrace)
		return
	}

	s.mu.Lock()
	if s.busy {
		// A cycle is already running: coalesce this tick into a single pending follow-up.
		s.pending = true
		s.mu.Unlock()
		return
	}
	s.busy = true
	s.lastRunTime = time.Now()
	s.mu.Unlock()

	s.runOnce(ctx)

	for {
		s.mu.Lock()
		if !s.pending {
			s.busy = false
			s.nextRunTime = time.Now().Add(s.interval)
			s.mu.Unlock()
			return
		}
		s.pending = false
		s.lastRunTime = time.Now()
		s.mu.Unlock()

		s.runOnce(ctx)
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logx.WithContext(ctx).Errorf("scheduler: job panicked: %v", r)
		}
	}()
	s.job(ctx)
}
