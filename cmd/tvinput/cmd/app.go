package cmd

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jmylchreest/tvinput/internal/config"
	"github.com/jmylchreest/tvinput/internal/database"
	"github.com/jmylchreest/tvinput/internal/httpclient"
	"github.com/jmylchreest/tvinput/internal/ingestor"
	"github.com/jmylchreest/tvinput/internal/observability"
	"github.com/jmylchreest/tvinput/internal/repository"
	"github.com/jmylchreest/tvinput/internal/service"
	"github.com/jmylchreest/tvinput/internal/version"
)

// app holds the components shared by the serve and one-shot commands.
type app struct {
	db        *database.DB
	client    *httpclient.Client
	directory *service.DirectoryService
	sync      *service.SyncService
}

// newApp opens the database and wires the directory and sync services.
func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	db, err := database.New(cfg.Database, observability.WithComponent(logger, "database"), nil)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to %s database: %w", db.Driver(), err)
	}
	if err := db.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrating database: %w", err)
	}

	channelRepo := repository.NewChannelRepository(db.DB)
	programRepo := repository.NewProgramRepository(db.DB)

	client := httpclient.New(httpclient.Config{
		ConnectTimeout:      cfg.Sync.ConnectTimeout,
		ReadTimeout:         cfg.Sync.ReadTimeout,
		RetryAttempts:       cfg.Sync.RetryAttempts,
		RetryDelay:          cfg.Sync.RetryDelay,
		UserAgent:           version.UserAgent(),
		EnableDecompression: true,
		Logger:              observability.WithComponent(logger, "feed_client"),
	})

	loader := ingestor.NewLoader(ingestor.NewResourceFetcher(client)).
		WithLogger(observability.WithComponent(logger, "ingestor")).
		WithLogoBaseURL(cfg.Input.LogoBaseURL)

	format, err := ingestor.ParseFormat(cfg.Input.ChannelsFormat)
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	syncService := service.NewSyncService(channelRepo, programRepo, loader, service.SyncSource{
		InputID:           cfg.Input.ID,
		ChannelsURL:       cfg.Input.ChannelsURL,
		ChannelsFormat:    format,
		EPGURL:            cfg.Input.EPGURL,
		DefaultStreamKind: cfg.Input.StreamKind(),
		Window:            cfg.Sync.Window.Duration(),
	}).WithLogger(observability.WithComponent(logger, "sync"))

	return &app{
		db:        db,
		client:    client,
		directory: service.NewDirectoryService(channelRepo, programRepo).WithLogger(observability.WithComponent(logger, "directory")),
		sync:      syncService,
	}, nil
}

// Close releases the database connection.
func (a *app) Close() error {
	return a.db.Close()
}
