package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"mercator-hq/dispatch/pkg/cli"
	"mercator-hq/dispatch/pkg/config"
	"mercator-hq/dispatch/pkg/limits/history"
	"mercator-hq/dispatch/pkg/notify"
	"mercator-hq/dispatch/pkg/scheduler"
	"mercator-hq/dispatch/pkg/server"
	"mercator-hq/dispatch/pkg/telemetry/health"
	"mercator-hq/dispatch/pkg/telemetry/metrics"
)

type runFlags struct {
	listenAddress string
	logLevel      string
	dryRun        bool
	once          bool
}

func newRunCmd(g *globalFlags) *cobra.Command {
	flags := &runFlags{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start the dispatcher",
		Long: `Start the dispatcher: the poll loop, channel health checks, history
retention and the HTTP listener for metrics, health and notifications.

Examples:
  # Start with a config file
  dispatchd run --config /etc/dispatch/dispatch.yaml

  # Run one poll cycle and exit
  dispatchd run --once

  # Validate config and wiring without starting
  dispatchd run --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDispatcher(cmd, g, flags)
		},
	}

	cmd.Flags().StringVarP(&flags.listenAddress, "listen", "l", "", "override listen address")
	cmd.Flags().StringVar(&flags.logLevel, "log-level", "", "override log level (debug, info, warn, error)")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "open everything, then exit without polling")
	cmd.Flags().BoolVar(&flags.once, "once", false, "run a single poll cycle and exit")
	return cmd
}

func runDispatcher(cmd *cobra.Command, g *globalFlags, flags *runFlags) error {
	cfg, err := g.loadConfig(cmd.ErrOrStderr(), flags.logLevel)
	if err != nil {
		return err
	}
	if flags.listenAddress != "" {
		cfg.Server.ListenAddress = flags.listenAddress
	}

	ctx, stop := cli.SetupSignalHandler(cmd.Context())
	defer stop()

	collector := metrics.NewCollector(cfg.Telemetry.Metrics)
	collector.SetBuildInfo(Version, GitCommit)

	var hub *notify.Hub
	var notifier scheduler.Notifier = notify.Nop{}
	if cfg.Notify.Enabled {
		hub = notify.NewHub()
		notifier = hub
	}

	a, err := openApp(cfg, appOptions{registerer: collector.Registerer(), notifier: notifier})
	if err != nil {
		return cli.NewCommandError("run", err)
	}
	defer func() {
		if cerr := a.Close(); cerr != nil {
			slog.Warn("shutdown: close failed", "error", cerr)
		}
	}()

	if flags.dryRun {
		fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid, dispatcher wired")
		return nil
	}

	a.checkChannels(ctx)

	if flags.once {
		result, err := a.scheduler.Poll(ctx)
		if err != nil {
			return cli.NewCommandError("run", err)
		}
		return g.print(cmd.OutOrStdout(), pollSummary(*result))
	}

	if hub != nil {
		go hub.Run(ctx)
	}

	for _, wh := range a.webhooks {
		wh.StartHealthChecker(ctx)
	}
	go reportChannelHealth(ctx, a, collector)

	var retention *history.RetentionScheduler
	if a.history != nil {
		pruner := history.NewPruner(a.history, &history.RetentionConfig{
			RetentionDays: cfg.History.RetentionDays,
			PruneSchedule: cfg.History.PruneSchedule,
		})
		retention = history.NewRetentionScheduler(pruner)
		if err := retention.Start(ctx); err != nil {
			return cli.NewCommandError("run", err)
		}
		defer retention.Stop()
	}

	if cfgPath := g.configPath; cfgPath != "" {
		watcher, err := config.NewWatcher(cfgPath, 0)
		if err != nil {
			slog.Warn("config hot reload disabled", "error", err)
		} else {
			go func() {
				if err := watcher.Watch(ctx, a.reloadLimits); err != nil {
					slog.Error("config watcher stopped", "error", err)
				}
			}()
			defer watcher.Stop()

			go func() {
				for range cli.ReloadSignal(ctx) {
					next, err := config.LoadConfigWithEnvOverrides(cfgPath)
					if err != nil {
						slog.Error("SIGHUP reload failed, keeping current configuration", "error", err)
						continue
					}
					if err := a.reloadLimits(next); err != nil {
						slog.Error("SIGHUP reload rejected", "error", err)
					}
				}
			}()
		}
	}

	var srv *server.Server
	var errCh <-chan error
	if cfg.Server.ListenAddress != "" {
		srv = newServer(cfg, a, collector, hub)
		if errCh, err = srv.Start(); err != nil {
			return cli.NewCommandError("run", err)
		}
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return cli.NewCommandError("run", err)
	}

	slog.Info("dispatcher started",
		"version", Version,
		"interval", a.scheduler.Interval(),
		"batch_size", cfg.Scheduler.BatchSize,
		"channels", len(cfg.Channels),
		"listen", cfg.Server.ListenAddress,
	)

	var runErr error
	select {
	case <-ctx.Done():
		slog.Info("shutdown signal received")
	case err := <-errCh:
		runErr = cli.NewCommandError("run", err)
	}

	a.scheduler.Stop()

	if srv != nil {
		if err := srv.Shutdown(context.WithoutCancel(ctx)); err != nil {
			slog.Error("http shutdown failed", "error", err)
		}
	}

	slog.Info("dispatcher stopped")
	return runErr
}

// newServer mounts health, metrics and notifications on the listener.
func newServer(cfg *config.Config, a *app, collector *metrics.Collector, hub *notify.Hub) *server.Server {
	srv := server.New(cfg.Server)

	checker := health.New(2 * time.Second)
	if a.db != nil {
		checker.Register("store", health.PingCheck(a.db.SQL()))
	}
	checker.Register("scheduler", health.RunningCheck(a.scheduler.IsRunning))
	for _, wh := range a.webhooks {
		checker.Register("channel."+wh.Name(), health.ChannelCheck(wh))
	}
	health.Mount(srv.Mux(), checker, health.VersionInfo{Version: Version, Commit: GitCommit, BuildTime: BuildDate})

	if collector.Enabled() {
		srv.Handle(cfg.Telemetry.Metrics.Path, collector.Handler())
	}
	if hub != nil {
		srv.Handle(cfg.Notify.Path, hub)
	}
	return srv
}

// reportChannelHealth mirrors webhook connectivity into the channel gauge.
func reportChannelHealth(ctx context.Context, a *app, collector *metrics.Collector) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		for _, wh := range a.webhooks {
			collector.UpdateChannelHealth(wh.Name(), wh.Status() == scheduler.ChannelConnected)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// reloadLimits applies a reloaded configuration's tier catalog and tier
// assignments. Other sections take effect on restart.
func (a *app) reloadLimits(next *config.Config) error {
	catalog, err := next.Limits.Catalog()
	if err != nil {
		return err
	}
	return a.limiter.Reconfigure(catalog, next.Limits.TierAssignments())
}
