package broadcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"lessonbot/internal/transport"
	"lessonbot/pkg/logx"
)

// maxRateLimitPause caps how long a single flood hint can stall the fanout.
const maxRateLimitPause = 30 * time.Second

// FanoutStats summarizes one job's delivery run.
type FanoutStats struct {
	Attempted int
	Delivered int
	Skipped   int
}

// Sender fans one claimed job out to every recipient, sequentially, with
// per-recipient failures absorbed. Only a failure to obtain the recipient
// list escalates to the caller.
type Sender struct {
	dir     Directory
	safety  *Safety
	limiter *rate.Limiter
	log     logx.Logger
}

func NewSender(dir Directory, safety *Safety, ratePerSec int, log logx.Logger) *Sender {
	if ratePerSec <= 0 {
		ratePerSec = 25
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Sender{
		dir:     dir,
		safety:  safety,
		limiter: rate.NewLimiter(rate.Limit(ratePerSec), ratePerSec),
		log:     log,
	}
}

// SetRate adjusts per-recipient pacing at runtime (config reload).
func (s *Sender) SetRate(ratePerSec int) {
	if ratePerSec <= 0 {
		return
	}
	s.limiter.SetLimit(rate.Limit(ratePerSec))
	s.limiter.SetBurst(ratePerSec)
}

// Send delivers job content to all recipients. It returns an error only for
// job-level failures; per-recipient outcomes are reflected in the stats and
// the log, never in the error.
func (s *Sender) Send(ctx context.Context, job Job) (FanoutStats, error) {
	var stats FanoutStats

	targets, err := s.dir.ListAllRecipients(ctx)
	if err != nil {
		return stats, fmt.Errorf("list recipients: %w", err)
	}
	if len(targets) == 0 {
		s.log.Info("broadcast has no recipients", logx.Int64("job", job.ID))
		return stats, nil
	}

	start := time.Now()
	var markup any
	if m := job.Keyboard.Markup(); m != nil {
		markup = m
	}
	opt := &transport.SendOptions{ReplyMarkup: markup}

	s.log.Info("broadcast fanout started",
		logx.Int64("job", job.ID), logx.Int("recipients", len(targets)), logx.Bool("forward", job.Content.IsForward()))

	for _, t := range targets {
		if err := s.limiter.Wait(ctx); err != nil {
			return stats, fmt.Errorf("rate wait: %w", err)
		}

		stats.Attempted++
		ref, err := s.sendOne(ctx, t, job, markup, opt)
		if err != nil {
			stats.Skipped++
			var derr *DeliveryError
			if errors.As(err, &derr) {
				s.log.Warn("recipient skipped",
					logx.Int64("job", job.ID), logx.Int64("chat_id", t.ChatID),
					logx.String("class", derr.Class.String()), logx.Err(derr.Err))
				if derr.Class == ClassRateLimited {
					s.pause(ctx, derr.RetryAfter)
				}
			} else {
				s.log.Warn("recipient skipped",
					logx.Int64("job", job.ID), logx.Int64("chat_id", t.ChatID), logx.Err(err))
			}
			continue
		}
		if ref != nil {
			stats.Delivered++
		} else {
			stats.Skipped++
		}
	}

	s.log.Info("broadcast fanout finished",
		logx.Int64("job", job.ID), logx.Int("attempted", stats.Attempted),
		logx.Int("delivered", stats.Delivered), logx.Int("skipped", stats.Skipped),
		logx.Duration("dur", time.Since(start)))
	return stats, nil
}

func (s *Sender) sendOne(ctx context.Context, to transport.ChatTarget, job Job, markup any, opt *transport.SendOptions) (*transport.MessageRef, error) {
	if job.Content.IsForward() {
		return s.safety.ForwardSafe(ctx, to, job.Content.AuthorID, job.Content.MessageID, markup)
	}
	return s.safety.SendSafe(ctx, to, job.Content, opt)
}

// pause honors a flood hint before moving to the next recipient. The current
// recipient stays skipped for this run.
func (s *Sender) pause(ctx context.Context, retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = time.Second
	}
	if retryAfter > maxRateLimitPause {
		retryAfter = maxRateLimitPause
	}
	tmr := time.NewTimer(retryAfter)
	defer tmr.Stop()
	select {
	case <-ctx.Done():
	case <-tmr.C:
	}
}
