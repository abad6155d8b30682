package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rileyhilliard/fleetdash/internal/alert"
	"github.com/rileyhilliard/fleetdash/internal/config"
	"github.com/rileyhilliard/fleetdash/internal/history"
	"github.com/rileyhilliard/fleetdash/internal/logger"
	"github.com/rileyhilliard/fleetdash/internal/monitor"
	"github.com/rileyhilliard/fleetdash/internal/pubsub"
	"github.com/rileyhilliard/fleetdash/internal/scheduler"
	"github.com/rileyhilliard/fleetdash/internal/server"
	"github.com/rileyhilliard/fleetdash/pkg/sshutil"
)

var serveListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the polling daemon with the HTTP API and WebSocket push",
	Long: `Poll every configured host on the configured interval, evaluate alerts,
record history, and serve the live state.

Endpoints live under /api (status, hosts, sessions, alerts, history) and
viewers can subscribe to pushed updates on /ws. Stop with Ctrl+C or SIGTERM;
the in-flight cycle finishes before the process exits.

Examples:
  fleetdash serve
  fleetdash serve --listen 127.0.0.1:9090`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serveCommand(ctx)
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveListen, "listen", "", "override server.listen (e.g. :8080)")
	rootCmd.AddCommand(serveCmd)
}

func serveCommand(ctx context.Context) error {
	cfg, _, err := loadConfig(logger.New(logLevel(nil)))
	if err != nil {
		return err
	}
	if serveListen != "" {
		cfg.Server.Listen = serveListen
	}

	log := logger.New(logLevel(cfg))
	logger.SetDefault(log)
	defer logger.Sync(log)
	defer sshutil.CloseAgent()

	return runDaemon(ctx, cfg, newDialer(cfg), log)
}

// runDaemon wires the collector, alert engine, history store, scheduler,
// optional Redis mirror and HTTP server, then blocks until ctx is done.
func runDaemon(ctx context.Context, cfg *config.Config, dialer sshutil.Dialer, log logger.Logger) error {
	collector := monitor.NewCollector(dialer, monitor.Options{
		ConnectTimeout:  cfg.SSH.ConnectTimeout(),
		CommandTimeout:  cfg.SSH.RunTimeout(),
		LegacyThreshold: cfg.LegacyThreshold(),
		KeepConnections: true,
		MaxIdle:         3 * cfg.PollingInterval(),
		Logger:          logger.Named(log, "collector"),
	})
	defer collector.Close()

	engine := alert.NewEngine(cfg.Alerts, cfg.LegacyThreshold(),
		alert.WithLogger(logger.Named(log, "alerts")))

	store, err := history.Open(cfg.History, logger.Named(log, "history"))
	if err != nil {
		return err
	}
	defer func() {
		if err := store.Close(); err != nil {
			log.Warn("history close: %v", err)
		}
	}()

	sched := scheduler.New(collector, engine, store, scheduler.Options{
		Hosts:     cfg.Hosts,
		Interval:  cfg.PollingInterval(),
		Retention: cfg.History.Retention(),
		Logger:    logger.Named(log, "scheduler"),
	})

	if cfg.Redis.Enabled {
		client, err := pubsub.Connect(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		pub := pubsub.NewPublisher(client, cfg.Redis.Channel, logger.Named(log, "redis"))
		defer pub.Close()
		sched.AddBroadcaster(pub)
		log.Info("mirroring events to redis channel %s", pub.Channel())
	}

	srv := server.New(server.Options{
		Config:    cfg,
		Scheduler: sched,
		Dialer:    dialer,
		Version:   formatVersion(version),
		PoolSize:  collector.PoolSize,
		Logger:    logger.Named(log, "http"),
	})

	log.Info("fleetdash %s: %d hosts, polling every %s, history in %s",
		formatVersion(version), len(cfg.Hosts), cfg.PollingInterval(), historyDriver(cfg))

	sched.Start(ctx)
	defer sched.Stop()

	return srv.Run(ctx)
}

func historyDriver(cfg *config.Config) string {
	if cfg.History.Driver == "" {
		return config.DriverMemory
	}
	return cfg.History.Driver
}
