// Package bootstrap turns a loaded config into the shared connections and
// services each binary needs.
package bootstrap

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feichai0017/receipt-processor/config"
	"github.com/feichai0017/receipt-processor/internal/agent/fiscal"
	"github.com/feichai0017/receipt-processor/internal/repository/postgres"
	"github.com/feichai0017/receipt-processor/internal/service/receipt"
	"github.com/feichai0017/receipt-processor/pkg/logger"
	"github.com/feichai0017/receipt-processor/pkg/queue"
	"github.com/feichai0017/receipt-processor/pkg/storage"
	"github.com/feichai0017/receipt-processor/pkg/worker"
)

// NewLogger builds the process logger. role ends up on every entry.
func NewLogger(cfg config.LogConfig, role string) (logger.Logger, error) {
	outputs := []string{"stdout"}
	if cfg.File != "" {
		outputs = append(outputs, cfg.File)
	}
	return logger.NewLogger(
		logger.WithLevel(cfg.Level),
		logger.WithEncoding(cfg.Encoding),
		logger.WithOutputPaths(outputs),
		logger.WithInitialFields(map[string]interface{}{"role": role}),
	)
}

// Infra holds the connections every process shares.
type Infra struct {
	Config  *config.Config
	Logger  logger.Logger
	Pool    *pgxpool.Pool
	Store   *postgres.Store
	Queue   *queue.AsynqQueue
	Storage storage.Storage
}

// Open connects to postgres, redis and object storage. Close releases
// whatever was opened, also after a partial failure.
func Open(ctx context.Context, cfg *config.Config, log logger.Logger) (*Infra, error) {
	infra := &Infra{Config: cfg, Logger: log}

	pool, err := postgres.Open(ctx, PostgresConfig(cfg.Postgres), log)
	if err != nil {
		return nil, err
	}
	infra.Pool = pool
	infra.Store = postgres.NewStore(pool)

	infra.Queue, err = queue.NewAsynqQueue(QueueConfig(cfg))
	if err != nil {
		infra.Close()
		return nil, err
	}

	infra.Storage, err = storage.NewStorage(ctx, cfg, log)
	if err != nil {
		infra.Close()
		return nil, fmt.Errorf("failed to create storage: %w", err)
	}
	return infra, nil
}

func (i *Infra) Close() {
	if i.Queue != nil {
		if err := i.Queue.Close(); err != nil {
			i.Logger.Warn("Failed to close queue", logger.Error(err))
		}
	}
	if i.Store != nil {
		i.Store.Close()
	}
}

// Migrate applies the schema.
func (i *Infra) Migrate(ctx context.Context) error {
	if err := postgres.Migrate(ctx, i.Pool); err != nil {
		return err
	}
	i.Logger.Info("Database schema up to date")
	return nil
}

// Ping checks postgres and redis.
func (i *Infra) Ping(ctx context.Context) error {
	return errors.Join(i.Store.Ping(ctx), i.Queue.Ping(ctx))
}

func (i *Infra) Dispatcher() *receipt.Dispatcher {
	return receipt.NewDispatcher(i.Store, i.Queue, i.Logger)
}

func (i *Infra) Relay(d *receipt.Dispatcher) *receipt.Relay {
	p := i.Config.Pipeline
	return receipt.NewRelay(d, i.Store, p.OutboxInterval, p.OutboxBatch, i.Logger)
}

func (i *Infra) Coordinator(d *receipt.Dispatcher) *receipt.Coordinator {
	p := i.Config.Pipeline
	return receipt.NewCoordinator(receipt.Config{
		Folder:         i.Config.Storage.Folder,
		UploadMaxBytes: p.UploadMaxBytes,
		ImageMaxSide:   p.ImageMaxSide,
		JPEGQuality:    p.JPEGQuality,
	}, i.Store, i.Storage, d, i.Logger)
}

// FiscalLookup returns nil when no fiscal API is configured. Answers are
// cached in the broker's redis.
func (i *Infra) FiscalLookup() fiscal.Lookup {
	cfg := i.Config.Fiscal
	if cfg.APIURL == "" {
		i.Logger.Info("Fiscal lookup disabled")
		return nil
	}
	var lookup fiscal.Lookup = fiscal.NewHTTPLookup(cfg, i.Logger)
	if cfg.CacheTTL > 0 {
		lookup = fiscal.NewCachedLookup(lookup, fiscal.NewRedisCache(i.Queue.Redis()), cfg.CacheTTL, i.Logger)
	}
	return lookup
}

// WorkerConfig binds a strictly sequential consumer to queueName.
func (i *Infra) WorkerConfig(queueName string) *worker.Config {
	qc := QueueConfig(i.Config)
	return &worker.Config{
		Redis:           qc.RedisOpt(),
		Queue:           queueName,
		Concurrency:     1,
		ShutdownTimeout: i.Config.Queue.ShutdownTimeout,
	}
}

func PostgresConfig(cfg config.PostgresConfig) postgres.Config {
	return postgres.Config{
		DSN:              cfg.URL,
		MaxConns:         cfg.MaxConns,
		StatementTimeout: cfg.StatementTimeout,
		ApplicationName:  cfg.ApplicationName,
	}
}

func QueueConfig(cfg *config.Config) *queue.Config {
	return &queue.Config{
		RedisAddr:     cfg.Redis.Addr,
		RedisPassword: cfg.Redis.Password,
		RedisDB:       cfg.Redis.DB,
		TaskTimeout:   cfg.Queue.TaskTimeout,
		Retention:     cfg.Queue.Retention,
	}
}
