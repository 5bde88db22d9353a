package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tvinput/internal/host"
	internalhttp "github.com/jmylchreest/tvinput/internal/http"
	"github.com/jmylchreest/tvinput/internal/http/handlers"
	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/internal/player"
	"github.com/jmylchreest/tvinput/internal/scheduler"
	"github.com/jmylchreest/tvinput/internal/session"
	"github.com/jmylchreest/tvinput/internal/version"
	"github.com/jmylchreest/tvinput/pkg/format"
)

// serveCmd represents the serve command.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tvinput server",
	Long: `Start the tvinput HTTP server.

The server keeps the channel directory in sync with the configured feed and
exposes TV input sessions, parental controls and the channel directory over
a REST API.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")

	bindFlag("server.host", serveCmd.Flags().Lookup("host"))
	bindFlag("server.port", serveCmd.Flags().Lookup("port"))
}

func runServe(_ *cobra.Command, _ []string) error {
	logger := slog.Default()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			observability.WithError(logger, err).Error("failed to close database")
		}
	}()

	worker := session.NewWorker().WithLogger(observability.WithComponent(logger, "worker"))
	if err := worker.Start(ctx); err != nil {
		return fmt.Errorf("starting session worker: %w", err)
	}
	defer worker.Stop()

	foreground := session.NewWorker().WithLogger(observability.WithComponent(logger, "foreground"))
	if err := foreground.Start(ctx); err != nil {
		return fmt.Errorf("starting session foreground: %w", err)
	}
	defer foreground.Stop()

	// Stream fetching does not retry: a failed segment surfaces as a
	// playback error.
	factory := player.NewFactory(httpclient.New(httpclient.Config{
		ConnectTimeout: cfg.Sync.ConnectTimeout,
		UserAgent:      version.UserAgent(),
		Logger:         observability.WithComponent(logger, "stream_client"),
	})).WithLogger(observability.WithComponent(logger, "player"))
	defer factory.Wait()

	parental := host.NewParentalSettings(cfg.Parental.Enabled, cfg.Parental.Ratings())

	manager := session.NewManager(session.Dependencies{
		Directory:  a.directory,
		Engines:    factory,
		Sync:       a.sync,
		Parental:   parental,
		Worker:     worker,
		Foreground: foreground,
	}).WithLogger(observability.WithComponent(logger, "session")).WithOptions(session.Options{
		DefaultStreamKind: cfg.Input.StreamKind(),
		FallbackWindow:    cfg.Playback.FallbackWindow.Duration(),
		BoundaryGrace:     cfg.Playback.BoundaryGrace,
		DefaultVolume:     float32(cfg.Playback.DefaultVolume),
	})
	parental.OnChange(manager.RecheckBlocking)

	hosts := host.NewService(manager).WithLogger(observability.WithComponent(logger, "host"))
	defer hosts.Close()

	go a.sync.Run(ctx)

	if cfg.Sync.Enabled {
		sched := scheduler.NewScheduler(a.sync, scheduler.Config{
			Schedule:   cfg.Sync.Schedule,
			RunOnStart: cfg.Sync.RunOnStart,
		}).WithLogger(observability.WithComponent(logger, "scheduler"))
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("starting scheduler: %w", err)
		}
		defer sched.Stop()

		next := sched.NextRun()
		if next.IsZero() && cfg.Sync.Schedule != "" {
			// The cron loop fills in NextRun asynchronously.
			next, _ = sched.ParseCron(cfg.Sync.Schedule)
		}
		if !next.IsZero() {
			logger.Info("next directory sync scheduled",
				slog.Time("at", next),
				slog.String("in", format.Relative(next, time.Now())))
		}
	}

	server := internalhttp.NewServer(cfg.Server, observability.WithComponent(logger, "http"), version.Version)
	server.Register(
		handlers.NewHealthHandler(version.Version).
			WithDB(a.db.DB).
			WithSessions(manager).
			WithSync(a.sync).
			WithHTTPClient(a.client),
		handlers.NewSessionHandler(hosts, cfg.Input.ID),
		handlers.NewParentalHandler(parental),
		handlers.NewChannelHandler(a.directory, cfg.Input.ID).
			WithLogoBaseURL(cfg.Input.LogoBaseURL).
			WithFallback(cfg.Input.StreamKind(), cfg.Playback.FallbackWindow.Duration()),
		handlers.NewSyncHandler(a.sync, cfg.Input.ID).WithFeedCircuit(a.client),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			logger.Info("received shutdown signal", slog.String("signal", sig.String()))
			cancel()
		case <-ctx.Done():
		}
	}()

	logger.Info("starting tvinput server",
		slog.String("host", cfg.Server.Host),
		slog.Int("port", cfg.Server.Port),
		slog.String("input_id", cfg.Input.ID),
		slog.String("database", a.db.Driver()),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}
