package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"mercator-hq/dispatch/pkg/channel"
	"mercator-hq/dispatch/pkg/config"
	"mercator-hq/dispatch/pkg/limits"
	"mercator-hq/dispatch/pkg/limits/history"
	"mercator-hq/dispatch/pkg/limits/storage"
	"mercator-hq/dispatch/pkg/scheduler"
	"mercator-hq/dispatch/pkg/store"
)

// app is the wired dispatcher: stores, limiter, history, channels and the
// scheduler built from one configuration.
type app struct {
	cfg *config.Config

	store    store.Store
	db       *store.DB
	counters storage.Backend
	limiter  *limits.Limiter

	history  history.Store
	recorder *history.Recorder

	channels *channel.Registry
	webhooks []*channel.Webhook

	scheduler *scheduler.Scheduler

	// closers run in reverse order on Close.
	closers []io.Closer
}

type appOptions struct {
	// registerer receives limiter and scheduler metrics. Nil disables them.
	registerer prometheus.Registerer

	// notifier receives message created events.
	notifier scheduler.Notifier
}

func openApp(cfg *config.Config, opts appOptions) (_ *app, err error) {
	a := &app{cfg: cfg, channels: channel.NewRegistry()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	if err := a.openStore(); err != nil {
		return nil, err
	}
	if err := a.openLimiter(opts.registerer); err != nil {
		return nil, err
	}
	if err := a.openHistory(); err != nil {
		return nil, err
	}
	if err := a.openChannels(); err != nil {
		return nil, err
	}

	schedOpts := []scheduler.Option{
		scheduler.WithInterval(cfg.Scheduler.Interval),
		scheduler.WithBatchSize(cfg.Scheduler.BatchSize),
		scheduler.WithCostPerMessage(cfg.Scheduler.CostPerMessage),
	}
	if opts.registerer != nil {
		schedOpts = append(schedOpts, scheduler.WithMetrics(scheduler.NewMetrics(opts.registerer)))
	}

	a.scheduler, err = scheduler.New(scheduler.Deps{
		Jobs:          a.store,
		Conversations: a.store,
		Directory:     a.store,
		Channels:      a.channels,
		Limiter:       a.limiter,
		Notifier:      opts.notifier,
	}, schedOpts...)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *app) openStore() error {
	switch a.cfg.Store.Backend {
	case "memory":
		a.store = store.NewMemory()
	default:
		db, err := store.Open(store.Config{
			Path:        a.cfg.Store.Path,
			BusyTimeout: a.cfg.Store.BusyTimeout,
			WALMode:     !a.cfg.Store.DisableWAL,
		})
		if err != nil {
			return fmt.Errorf("open store: %w", err)
		}
		a.db = db
		a.store = db
	}
	a.closers = append(a.closers, a.store)
	return nil
}

func (a *app) openLimiter(reg prometheus.Registerer) error {
	sc := a.cfg.Limits.Storage
	var err error
	switch {
	case sc.Backend == "memory":
		a.counters = storage.NewMemoryBackend()
	case sc.Path != "":
		a.counters, err = storage.NewSQLiteBackend(sc.Path)
	case a.db != nil:
		a.counters, err = storage.NewSQLiteBackendWithDB(a.db.SQL())
	default:
		// The store is in memory and no counter file is configured.
		a.counters = storage.NewMemoryBackend()
	}
	if err != nil {
		return fmt.Errorf("open usage counters: %w", err)
	}
	a.closers = append(a.closers, a.counters)

	catalog, err := a.cfg.Limits.Catalog()
	if err != nil {
		return err
	}

	opts := []limits.Option{limits.WithAssignments(a.cfg.Limits.TierAssignments())}
	if reg != nil {
		opts = append(opts, limits.WithMetrics(limits.NewMetrics(reg)))
	}
	a.limiter, err = limits.NewLimiter(a.counters, catalog, opts...)
	return err
}

func (a *app) openHistory() error {
	hc := a.cfg.History
	if !hc.IsEnabled() {
		return nil
	}

	switch hc.Backend {
	case "memory":
		a.history = history.NewMemoryStore()
	default:
		sqlCfg := history.DefaultSQLiteConfig()
		sqlCfg.Path = hc.Path
		s, err := history.NewSQLiteStore(sqlCfg)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		a.history = s
	}
	a.closers = append(a.closers, a.history)

	a.recorder = history.NewRecorder(a.history,
		&history.Config{WriteTimeout: hc.WriteTimeout},
		history.WithCatalog(a.limiter),
	)
	return nil
}

func (a *app) openChannels() error {
	for _, cc := range a.cfg.Channels {
		var ch scheduler.Channel
		switch cc.Type {
		case "log":
			ch = channel.NewLog(scheduler.Platform(cc.Platform))
		default:
			wh, err := channel.NewWebhook(channel.WebhookConfig{
				Name:                cc.Name,
				URL:                 cc.URL,
				HealthURL:           cc.HealthURL,
				Token:               cc.Token,
				Timeout:             cc.Timeout,
				MaxRetries:          cc.MaxRetries,
				HealthCheckInterval: cc.HealthCheckInterval,
			})
			if err != nil {
				return fmt.Errorf("channel %s: %w", cc.Name, err)
			}
			a.webhooks = append(a.webhooks, wh)
			a.closers = append(a.closers, wh)
			ch = wh
		}

		if len(cc.Accounts) == 0 {
			a.channels.Register(scheduler.Platform(cc.Platform), ch)
		} else {
			for _, account := range cc.Accounts {
				a.channels.RegisterAccount(account, ch)
			}
		}
	}

	if len(a.cfg.Channels) == 0 {
		slog.Warn("no delivery channels configured, every due job will fail resolution")
	}
	return nil
}

// checkChannels runs one synchronous health check per webhook so the first
// poll sees a settled status instead of unknown.
func (a *app) checkChannels(ctx context.Context) {
	var wg sync.WaitGroup
	for _, wh := range a.webhooks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if h := wh.CheckNow(ctx); h.Status != scheduler.ChannelConnected {
				slog.Warn("channel not connected after initial health check",
					"channel", wh.Name(),
					"status", h.Status,
					"error", h.LastError,
				)
			}
		}()
	}
	wg.Wait()
}

// Close releases everything openApp acquired, newest first.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
