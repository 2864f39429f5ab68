// Package server wires the board server together: configuration, the
// database and migrations, the blob store, services, the HTTP transport
// and the background stale-upload reporter, with graceful shutdown.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/postboard/internal/cryptox"
	"github.com/dmitrijs2005/postboard/internal/filex"
	"github.com/dmitrijs2005/postboard/internal/logging"
	"github.com/dmitrijs2005/postboard/internal/server/blobstore"
	"github.com/dmitrijs2005/postboard/internal/server/config"
	"github.com/dmitrijs2005/postboard/internal/server/health"
	"github.com/dmitrijs2005/postboard/internal/server/httpserver"
	"github.com/dmitrijs2005/postboard/internal/server/monitoring"
	"github.com/dmitrijs2005/postboard/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/postboard/internal/server/services"
)

const warmupTimeout = 5 * time.Second

type App struct {
	config *config.Config
	logger *logging.ZapLogger
	db     *sql.DB
	store  blobstore.Store
	server *httpserver.Server
	stale  *services.StaleReporter
}

// NewLogger builds the zap-backed logger described by cfg.
func NewLogger(cfg *config.Config) (*logging.ZapLogger, error) {
	zl, err := logging.NewZap(logging.ZapConfig{
		Level:       cfg.LogLevel,
		Development: cfg.LogDevelopment,
		LogFile:     cfg.LogFile,
		MaxSizeMB:   100,
		MaxBackups:  5,
		MaxAgeDays:  30,
		Compress:    true,
	})
	if err != nil {
		return nil, fmt.Errorf("logger init error: %w", err)
	}
	return logging.NewZapLogger(zl), nil
}

// NewStore opens the blob store selected by cfg.StorageBackend.
func NewStore(ctx context.Context, cfg *config.Config) (blobstore.Store, error) {
	switch cfg.StorageBackend {
	case config.StorageS3:
		return blobstore.NewS3Store(ctx, blobstore.S3Config{
			AccessKey:    cfg.S3RootUser,
			SecretKey:    cfg.S3RootPassword,
			Region:       cfg.S3Region,
			BaseEndpoint: cfg.S3BaseEndpoint,
			Bucket:       cfg.S3Bucket,
		})
	case config.StorageFS:
		return blobstore.NewFSStore(cfg.StorageRoot)
	case config.StorageMemory:
		return blobstore.NewMemoryStore(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
	}
}

func NewApp(ctx context.Context, cfg *config.Config) (*App, error) {
	logger, err := NewLogger(cfg)
	if err != nil {
		return nil, err
	}
	if !cfg.LogDevelopment {
		gin.SetMode(gin.ReleaseMode)
	}

	if _, err := filex.EnsureDir(cfg.SpoolDir); err != nil {
		return nil, fmt.Errorf("spool dir: %w", err)
	}

	db, err := repomanager.OpenDB(ctx, cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	rm := repomanager.NewPostgresRepositoryManager()
	if err := rm.RunMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	store, err := NewStore(ctx, cfg)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("blob store init error: %w", err)
	}

	metrics, err := monitoring.New()
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("metrics init error: %w", err)
	}

	verifier := cryptox.NewBcryptVerifier(cfg.BcryptCost)

	srv := httpserver.NewServer(cfg, httpserver.Deps{
		Posts:     services.NewPostService(db, rm, store, verifier, cfg, logger.With("service", "posts"), metrics),
		Uploads:   services.NewUploadService(db, rm, store, cfg, logger.With("service", "uploads"), metrics),
		Downloads: services.NewDownloadService(db, rm, store, logger.With("service", "downloads"), metrics),
		Admins:    services.NewAdminService(db, rm, verifier, cfg, logger.With("service", "admins")),
		Metrics:   metrics,
		Health:    health.NewHandler(db, store),
		Logger:    logger,
	})

	return &App{
		config: cfg,
		logger: logger,
		db:     db,
		store:  store,
		server: srv,
		stale:  services.NewStaleReporter(db, rm, cfg, logger.With("module", "stale_reporter"), metrics),
	}, nil
}

// warmup checks the blob store once. Failure is logged only: the store may
// come up after the server does.
func (app *App) warmup(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, warmupTimeout)
	defer cancel()
	if err := app.store.Ping(ctx); err != nil {
		app.logger.Warn(ctx, "blob store warmup failed", "backend", app.config.StorageBackend, "error", err)
		return
	}
	app.logger.Info(ctx, "blob store reachable", "backend", app.config.StorageBackend)
}

// Run serves until SIGINT, SIGTERM or SIGQUIT, or until ctx is done.
func (app *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	defer func() {
		_ = app.db.Close()
		_ = app.logger.Sync()
	}()

	app.logger.Info(ctx, "Starting app...")
	app.warmup(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return app.server.Run(gctx) })
	g.Go(func() error { return app.stale.Run(gctx) })

	err := g.Wait()
	app.logger.Info(context.Background(), "App stopped")
	return err
}
