package broadcast

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"lessonbot/pkg/logx"
)

type SchedulerConfig struct {
	PollInterval time.Duration // tick cadence; default 10s
	SweepEvery   int           // run the stuck-job sweep every N ticks; default 60
	StuckAfter   time.Duration // claim age before a job counts as stuck; default 30m
}

func (c SchedulerConfig) withDefaults() SchedulerConfig {
	if c.PollInterval <= 0 {
		c.PollInterval = 10 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 60
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 30 * time.Minute
	}
	return c
}

// Scheduler drives the job state machine: a single cooperative polling loop
// that claims due jobs and dispatches them to the fanout sender one at a
// time. A slow fanout delays later due jobs within the tick; that bounded
// throughput is deliberate.
type Scheduler struct {
	store  JobStore
	sender *Sender
	log    logx.Logger

	mu     sync.Mutex
	cfg    SchedulerConfig
	stopCh chan struct{}
	wg     sync.WaitGroup

	ticks    uint64
	onResult func(Job, FanoutStats, Status)
}

func NewScheduler(cfg SchedulerConfig, store JobStore, sender *Sender, log logx.Logger) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Scheduler{cfg: cfg.withDefaults(), store: store, sender: sender, log: log}
}

// Apply updates tunables at runtime. The poll interval takes effect on the
// next tick.
func (s *Scheduler) Apply(cfg SchedulerConfig) {
	s.mu.Lock()
	s.cfg = cfg.withDefaults()
	s.mu.Unlock()
}

// OnResult registers a callback invoked after each job reaches a terminal
// state. Must be set before Start.
func (s *Scheduler) OnResult(fn func(job Job, stats FanoutStats, outcome Status)) {
	s.onResult = fn
}

func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	if s.stopCh != nil {
		s.mu.Unlock()
		return
	}
	s.stopCh = make(chan struct{})
	stopCh := s.stopCh
	interval := s.cfg.PollInterval
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.Info("scheduler started", logx.Duration("interval", interval))
		tmr := time.NewTimer(interval)
		defer tmr.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stopCh:
				return
			case <-tmr.C:
				s.tick(ctx, time.Now())
				s.mu.Lock()
				interval = s.cfg.PollInterval
				s.mu.Unlock()
				tmr.Reset(interval)
			}
		}
	}()
}

func (s *Scheduler) Stop(ctx context.Context) {
	s.mu.Lock()
	stopCh := s.stopCh
	s.stopCh = nil
	s.mu.Unlock()
	if stopCh == nil {
		return
	}
	close(stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped")
	case <-ctx.Done():
	}
}

// tick processes one polling round. Every failure is contained to the job
// that caused it; the loop itself never dies.
func (s *Scheduler) tick(ctx context.Context, now time.Time) {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	s.ticks++
	if s.ticks%uint64(cfg.SweepEvery) == 0 {
		s.sweep(ctx, cfg.StuckAfter)
	}

	due, err := s.store.ListDue(ctx, now)
	if err != nil {
		s.log.Error("listing due jobs failed", logx.Err(err))
		return
	}

	for _, job := range due {
		claimed, err := s.store.Claim(ctx, job.ID)
		if err != nil {
			s.log.Error("claim failed", logx.Int64("job", job.ID), logx.Err(err))
			continue
		}
		if !claimed {
			// Another worker or a prior partial run owns it.
			continue
		}
		s.runJob(ctx, job)
	}
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	outcome := StatusSent
	var stats FanoutStats
	func() {
		defer func() {
			if r := recover(); r != nil {
				outcome = StatusFailed
				s.log.Error("panic during fanout",
					logx.Int64("job", job.ID), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		var err error
		if stats, err = s.sender.Send(ctx, job); err != nil {
			outcome = StatusFailed
			s.log.Error("fanout failed",
				logx.Int64("job", job.ID), logx.Time("scheduled_at", job.ScheduledAt), logx.Err(err))
		}
	}()

	if err := s.store.Complete(ctx, job.ID, outcome); err != nil {
		s.log.Error("completing job failed", logx.Int64("job", job.ID), logx.String("outcome", string(outcome)), logx.Err(err))
	}
	if s.onResult != nil {
		s.onResult(job, stats, outcome)
	}
}

func (s *Scheduler) sweep(ctx context.Context, stuckAfter time.Duration) {
	n, err := s.store.RecoverStuck(ctx, stuckAfter)
	if err != nil {
		s.log.Error("stuck-job sweep failed", logx.Err(err))
		return
	}
	if n > 0 {
		s.log.Warn("reclaimed stuck jobs", logx.Int("count", n), logx.Duration("older_than", stuckAfter))
	}
}
