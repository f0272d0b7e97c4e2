package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"tasksync/internal/api"
	"tasksync/internal/database"
	"tasksync/internal/events"
	"tasksync/internal/logging"
	"tasksync/internal/metrics"
	"tasksync/internal/notify"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	NoAPI bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the background sync daemon",
		Long: `Run sync cycles on the configured interval until interrupted.

Depending on config this also starts the HTTP API, the Prometheus metrics
endpoint, scheduled database backups and Telegram dead-letter alerts.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.NoAPI, "no-api", false, "do not start the HTTP API even if enabled in config")

	return cmd
}

func runServe(parent context.Context, opts *ServeOptions) error {
	if parent == nil {
		parent = context.Background()
	}
	a, err := openApp(opts.RootOptions, true)
	if err != nil {
		return err
	}
	defer a.Close()

	logger := logging.Component(a.logger, "serve")
	cfg := a.cfg

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	bus := events.NewEventBus()
	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		metrics.Subscribe(bus)
	}

	orch, cleanup, err := a.newOrchestrator(ctx, bus)
	if err != nil {
		return err
	}
	defer cleanup()

	var wg sync.WaitGroup
	spawn := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	if commands := startTelegram(a, bus, orch, logger); commands != nil {
		spawn(func() { commands.Start(ctx) })
	}

	if cfg.Backup.Enabled {
		backups := database.NewBackupService(a.db, cfg.Backup, logging.Component(a.logger, "backup"))
		spawn(func() { backups.Start(ctx) })
	}

	apiEnabled := cfg.API.Enabled && !opts.NoAPI
	sharedMetrics := cfg.Monitoring.PrometheusEnabled && apiEnabled && cfg.Monitoring.PrometheusPort == cfg.API.Port
	if cfg.Monitoring.PrometheusEnabled && !sharedMetrics {
		spawn(func() { startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger) })
	}

	var httpServer *api.HTTPServer
	if apiEnabled {
		httpServer = api.NewHTTPServer(cfg.API, orch, sharedMetrics, logging.Component(a.logger, "api"))
		spawn(func() {
			if err := httpServer.Start(); err != nil {
				logger.Error().Err(err).Msg("http server stopped")
			}
		})
	}

	spawn(func() { orch.Run(ctx) })

	logger.Info().
		Dur("interval", cfg.Sync.Interval).
		Bool("api", apiEnabled).
		Bool("metrics", cfg.Monitoring.PrometheusEnabled).
		Msg("sync daemon started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	if httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn().Err(err).Msg("http server shutdown")
		}
		cancel()
	}

	wg.Wait()
	logger.Info().Msg("sync daemon stopped")
	return nil
}

// startTelegram subscribes alerts when a bot token and chat are configured and returns the
// command bot when chat commands are enabled. A bad token is logged and the daemon continues
// without Telegram.
func startTelegram(a *app, bus *events.EventBus, op notify.Operator, logger *zerolog.Logger) *notify.CommandBot {
	tg := a.cfg.Telegram
	if tg.BotToken == "" || tg.AlertChatID == 0 {
		return nil
	}

	bot, err := notify.NewBotSender(tg.BotToken)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram init failed, continuing without alerts")
		return nil
	}
	notify.NewTelegramNotifier(bot, tg.AlertChatID, a.logger).Subscribe(bus)
	logger.Info().Int64("chat_id", tg.AlertChatID).Bool("commands", tg.CommandsEnabled).Msg("telegram alerts enabled")

	if !tg.CommandsEnabled {
		return nil
	}
	return notify.NewCommandBot(bot, op, tg.AlertChatID, a.logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", port).Msg("metrics server listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
