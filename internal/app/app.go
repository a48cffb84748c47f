// Package app wires the bot together: config, logging, storage, transport,
// and the broadcast engine.
package app

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"lessonbot/internal/broadcast"
	"lessonbot/internal/config"
	"lessonbot/internal/directory"
	"lessonbot/internal/eventbus"
	"lessonbot/internal/observability/pprof"
	"lessonbot/internal/storage"
	"lessonbot/internal/transport"
	"lessonbot/internal/transport/telegram"
	"lessonbot/pkg/logx"
)

const defaultRetention = 30 * 24 * time.Hour

type App struct {
	cfgPath string

	logsvc *logx.Service
	log    logx.Logger

	client     transport.Client
	store      *storage.Store
	jobs       *storage.JobStore
	recipients *storage.Recipients
	dir        *directory.Service
	sender     *broadcast.Sender
	scheduler  *broadcast.Scheduler
	cron       *cron.Cron
	bus        *eventbus.Bus
	profiler   *pprof.Service

	mu     sync.Mutex
	admins map[int64]bool
	drafts map[string]draft

	updates chan transport.Update
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logsvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})

	busyTimeout, _ := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	store, err := storage.Open(storage.Config{Path: cfg.Storage.Path, BusyTimeout: busyTimeout}, log.With(logx.String("svc", "storage")))
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	pollTimeout, _ := config.ParseDurationOrDefault("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	client, err := telegram.New(telegram.Config{Token: cfg.Telegram.Token, PollTimeout: pollTimeout}, log.With(logx.String("svc", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram client: %w", err)
	}

	countTTL, _ := config.ParseDurationOrDefault("directory.count_ttl", cfg.Directory.CountTTL, 30*time.Second)
	dir := directory.New(store.Recipients(), countTTL)

	safety := broadcast.NewSafety(client, log.With(logx.String("svc", "safety")))
	sender := broadcast.NewSender(dir, safety, cfg.Broadcast.RatePerSec, log.With(logx.String("svc", "fanout")))

	jobs := store.Jobs()
	scheduler := broadcast.NewScheduler(schedulerConfig(cfg), jobs, sender, log.With(logx.String("svc", "scheduler")))

	bus := eventbus.New()
	a := &App{
		cfgPath:    cfgPath,
		logsvc:     logsvc,
		log:        log,
		client:     client,
		store:      store,
		jobs:       jobs,
		recipients: store.Recipients(),
		dir:        dir,
		sender:     sender,
		scheduler:  scheduler,
		bus:        bus,
		profiler:   pprof.New(cfg.Debug.PprofAddr, log.With(logx.String("svc", "pprof"))),
		admins:     adminSet(cfg.Telegram.AdminUserIDs),
		drafts:     make(map[string]draft),
		updates:    make(chan transport.Update, 256),
	}
	scheduler.OnResult(func(job broadcast.Job, stats broadcast.FanoutStats, outcome broadcast.Status) {
		bus.Publish(eventbus.Event{Topic: eventbus.TopicJobFinished, Data: eventbus.JobResult{
			JobID:     job.ID,
			Outcome:   string(outcome),
			Attempted: stats.Attempted,
			Delivered: stats.Delivered,
			Skipped:   stats.Skipped,
		}})
	})
	a.setupRetention(cfg)
	return a, nil
}

func schedulerConfig(cfg *config.Config) broadcast.SchedulerConfig {
	poll, _ := config.ParseDurationOrDefault("broadcast.poll_interval", cfg.Broadcast.PollInterval, 10*time.Second)
	stuck, _ := config.ParseDurationOrDefault("broadcast.stuck_after", cfg.Broadcast.StuckAfter, 30*time.Minute)
	return broadcast.SchedulerConfig{
		PollInterval: poll,
		SweepEvery:   cfg.Broadcast.SweepEvery,
		StuckAfter:   stuck,
	}
}

func adminSet(ids []int64) map[int64]bool {
	m := make(map[int64]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

func (a *App) setupRetention(cfg *config.Config) {
	retention, _ := config.ParseDurationOrDefault("broadcast.retention", cfg.Broadcast.Retention, defaultRetention)
	spec := cfg.Broadcast.RetentionSchedule
	if spec == "" {
		spec = "0 4 * * *"
	}

	a.cron = cron.New()
	_, err := a.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		n, err := a.jobs.PurgeTerminal(ctx, retention)
		if err != nil {
			a.log.Warn("retention purge failed", logx.Err(err))
			return
		}
		if n > 0 {
			a.log.Info("purged old broadcast jobs", logx.Int("count", n))
		}
	})
	if err != nil {
		a.log.Warn("invalid retention schedule; purge disabled", logx.String("spec", spec), logx.Err(err))
	}
}

func (a *App) Start(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	if err := a.client.Start(runCtx, a.updates); err != nil {
		cancel()
		return fmt.Errorf("start transport: %w", err)
	}
	a.scheduler.Start(runCtx)
	a.cron.Start()
	a.profiler.Start()

	events, unsubscribe := a.bus.Subscribe(32)
	a.wg.Add(3)
	go func() {
		defer a.wg.Done()
		a.updateLoop(runCtx)
	}()
	go func() {
		defer a.wg.Done()
		defer unsubscribe()
		a.resultLoop(runCtx, events)
	}()
	go func() {
		defer a.wg.Done()
		w := config.NewWatcher(a.cfgPath, a.log.With(logx.String("svc", "config")), a.applyConfig)
		if err := w.Watch(runCtx); err != nil {
			a.log.Warn("config watch stopped", logx.Err(err))
		}
	}()

	a.log.Info("bot started")
	return nil
}

// applyConfig pushes reloadable settings into running services. Token and
// storage path changes still need a restart.
func (a *App) applyConfig(cfg *config.Config) {
	a.logsvc.Apply(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logx.FileConfig{Enabled: cfg.Logging.File.Enabled, Path: cfg.Logging.File.Path},
	})
	a.sender.SetRate(cfg.Broadcast.RatePerSec)
	a.scheduler.Apply(schedulerConfig(cfg))
	a.mu.Lock()
	a.admins = adminSet(cfg.Telegram.AdminUserIDs)
	a.mu.Unlock()
}

func (a *App) isAdmin(userID int64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.admins[userID]
}

func (a *App) Stop(ctx context.Context) error {
	if a.cancel != nil {
		a.cancel()
	}
	a.cron.Stop()
	a.scheduler.Stop(ctx)
	a.profiler.Stop(ctx)
	_ = a.client.Stop(ctx)

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	err := a.store.Close()
	_ = a.logsvc.Close()
	a.log.Info("bot stopped")
	return err
}
