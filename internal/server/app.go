// Package server wires storage, services, the gRPC endpoint, metrics and
// backups into one runnable application.
package server

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/dmitrijs2005/chatvault/internal/logging"
	"github.com/dmitrijs2005/chatvault/internal/server/backup"
	"github.com/dmitrijs2005/chatvault/internal/server/config"
	"github.com/dmitrijs2005/chatvault/internal/server/metrics"
	"github.com/dmitrijs2005/chatvault/internal/server/passkey"
	"github.com/dmitrijs2005/chatvault/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/chatvault/internal/server/services"

	gs "github.com/dmitrijs2005/chatvault/internal/server/grpc"
)

type App struct {
	config      *config.Config
	logger      logging.Logger
	repomanager repomanager.RepositoryManager
	services    gs.Services
	metrics     *metrics.Metrics
}

// NewRepositoryManager opens the configured storage backend. Postgres
// schemas are migrated before the manager is returned.
func NewRepositoryManager(ctx context.Context, c *config.Config) (repomanager.RepositoryManager, error) {
	switch c.StorageBackend {
	case config.StorageMemory:
		return repomanager.NewInMemoryRepositoryManager(), nil
	case config.StoragePostgres:
		db, err := repomanager.OpenPostgres(ctx, c.DatabaseDSN)
		if err != nil {
			return nil, err
		}
		m := repomanager.NewPostgresRepositoryManager(db)
		if err := m.RunMigrations(ctx); err != nil {
			_ = m.Close()
			return nil, err
		}
		return m, nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", c.StorageBackend)
	}
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	logger, err := logging.New("json", c.LogLevel, os.Stdout)
	if err != nil {
		return nil, err
	}

	rm, err := NewRepositoryManager(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	verifier := passkey.NewVerifier(passkey.Config{RPID: c.RPID, RPName: c.RPName, Origin: c.RPOrigin})
	svc := gs.Services{
		Users:       services.NewUserService(rm, c),
		Records:     services.NewRecordService(rm),
		Credentials: services.NewCredentialService(rm, verifier),
		Devices:     services.NewDeviceService(rm),
	}

	return &App{config: c, logger: logger, repomanager: rm, services: svc, metrics: metrics.New()}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	s := gs.NewGRPCServer(app.config.EndpointAddrGRPC, app.logger, app.services, app.metrics, app.config.SecretKey)
	if err := s.Run(ctx); err != nil {
		app.logger.Error(ctx, err.Error())
		cancelFunc()
	}
}

func (app *App) startMetricsServer(ctx context.Context) {
	if err := app.metrics.Serve(ctx, app.config.MetricsAddr, app.logger); err != nil {
		app.logger.Error(ctx, "metrics server stopped", "error", err)
	}
}

func (app *App) startBackups(ctx context.Context) {
	client, err := backup.NewS3Client(ctx, app.config)
	if err != nil {
		app.logger.Error(ctx, "backups disabled", "error", err)
		return
	}
	source := app.repomanager.Records(app.repomanager.Conn())
	backup.NewExporter(client, app.config.S3Bucket, source, app.metrics, app.logger).Run(ctx, app.config.BackupInterval)
}

// Run blocks until a termination signal arrives or the gRPC server fails.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...", "storage", app.config.StorageBackend)

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()

	if app.config.MetricsAddr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startMetricsServer(ctx)
		}()
	}

	if app.config.BackupInterval > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			app.startBackups(ctx)
		}()
	}

	wg.Wait()

	if err := app.repomanager.Close(); err != nil {
		app.logger.Error(context.Background(), "close storage", "error", err)
	}
	app.logger.Info(context.Background(), "Stopped")
}
