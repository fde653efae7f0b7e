// Package server assembles and runs the storage core: database, object
// store, key vault, login window store, and the services on top of them.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mzakharov/filevault/internal/logging"
	"github.com/mzakharov/filevault/internal/server/blob"
	"github.com/mzakharov/filevault/internal/server/config"
	"github.com/mzakharov/filevault/internal/server/notify"
	"github.com/mzakharov/filevault/internal/server/repositories/logins"
	"github.com/mzakharov/filevault/internal/server/repositories/repomanager"
	"github.com/mzakharov/filevault/internal/server/services"
	"github.com/mzakharov/filevault/internal/vault"
)

// App owns the wired service layer and the infrastructure handles behind it.
// Transports (HTTP, gRPC) mount on top of the exposed services.
type App struct {
	config *config.Config
	logger logging.Logger

	db    *sql.DB
	redis *redis.Client

	FileService   *services.FileService
	ShareService  *services.ShareService
	AccessService *services.AccessService
	AuditService  *services.AuditService
}

// NewApp wires the application from config and a provisioned master key.
func NewApp(ctx context.Context, cfg *config.Config, masterKey []byte) (*App, error) {
	logger := logging.NewJSONLogger()

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}

	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		return nil, fmt.Errorf("migrations error: %w", err)
	}

	v, err := vault.New(masterKey)
	if err != nil {
		return nil, fmt.Errorf("vault init error: %w", err)
	}

	store, err := blob.NewS3Store(ctx, blob.S3Config{
		AccessKey:    cfg.S3RootUser,
		SecretKey:    cfg.S3RootPassword,
		Bucket:       cfg.S3Bucket,
		Region:       cfg.S3Region,
		BaseEndpoint: cfg.S3BaseEndpoint,
	})
	if err != nil {
		return nil, fmt.Errorf("object store init error: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	loginRepo := logins.NewRedisRepository(rdb)

	notifier := notify.NewAsync(notify.NewLogNotifier(logger), logger)

	audit := services.NewAuditService(db, repos, loginRepo, notifier, logger)
	files := services.NewFileService(db, repos, store, v, audit, logger)
	shares := services.NewShareService(db, repos, audit, notifier, logger)
	access := services.NewAccessService(db, repos, audit,
		[]byte(cfg.GrantSecret), cfg.GrantValidity, logger)

	return &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		redis:         rdb,
		FileService:   files,
		ShareService:  shares,
		AccessService: access,
		AuditService:  audit,
	}, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// Run blocks until the context is cancelled or a termination signal
// arrives, then closes the infrastructure handles.
func (app *App) Run(ctx context.Context) {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	<-ctx.Done()

	app.logger.Info(ctx, "Shutting down...")
	app.Close()
}

// Close releases the database and redis connections.
func (app *App) Close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.db.Close(); err != nil {
		app.logger.Error(shutdownCtx, "db close error", "error", err.Error())
	}
	if err := app.redis.Close(); err != nil {
		app.logger.Error(shutdownCtx, "redis close error", "error", err.Error())
	}
}
