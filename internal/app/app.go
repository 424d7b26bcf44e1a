// Package app assembles the service from configuration. The server binary
// and the operator CLI share it.
package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/database"
	"github.com/carverify/carverify/internal/mail"
	"github.com/carverify/carverify/internal/maintenance"
	"github.com/carverify/carverify/internal/payment"
	"github.com/carverify/carverify/internal/ppsr"
	"github.com/carverify/carverify/internal/queue"
	"github.com/carverify/carverify/internal/repository"
	"github.com/carverify/carverify/internal/service"
	"github.com/carverify/carverify/internal/storage"
	"github.com/carverify/carverify/internal/valuation"
	"github.com/carverify/carverify/internal/workflow"
	"github.com/carverify/carverify/pkg/log"
)

// App holds the long-lived dependencies.
type App struct {
	Cfg       config.Config
	DB        *sql.DB
	Redis     *redis.Client // nil when Redis is unreachable
	Reports   *repository.ReportRepo
	Gateway   *ppsr.Client
	Guard     *maintenance.Guard
	Acquirer  *workflow.Acquirer
	Fulfiller *service.Fulfiller
	Checkout  *payment.CheckoutClient
	Archive   storage.Archive // nil when archiving is off
	Log       log.Logger
}

// Options select optional parts. The CLI skips Redis.
type Options struct {
	Redis bool
}

// New opens the database, runs migrations and builds the clients.
func New(ctx context.Context, cfg config.Config, logger log.Logger, opts Options) (*App, error) {
	db, err := database.Open(ctx, cfg.DBDriver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	a := &App{Cfg: cfg, DB: db, Log: logger, Guard: maintenance.NewGuard()}
	a.Reports = repository.NewReportRepo(db, cfg.DBDriver)

	if opts.Redis {
		a.Redis = config.NewRedisClient(ctx)
		if a.Redis == nil {
			logger.Warn("redis unavailable, using in-memory rate limits and no cache")
		}
	}

	a.Gateway = ppsr.NewClient(ppsr.Config{
		BaseURL:        cfg.PPSR.BaseURL,
		TokenURL:       cfg.PPSR.TokenURL,
		ClientID:       cfg.PPSR.ClientID,
		ClientSecret:   cfg.PPSR.ClientSecret,
		Scope:          cfg.PPSR.Scope,
		Timeout:        cfg.PPSR.Timeout,
		Retry:          ppsr.RetryPolicy{MaxRetries: cfg.PPSR.MaxRetries, Delay: cfg.PPSR.RetryDelay},
		RetryableCodes: cfg.PPSR.RetryableCodes,
	}, ppsr.WithLogger(logger))
	a.Acquirer = workflow.NewAcquirer(a.Gateway, a.Guard, cfg.WorkflowTimeout, logger)
	a.Checkout = payment.NewCheckoutClient(cfg.Payment.APIBase, cfg.Payment.SecretKey, nil)

	if cfg.Archive.Endpoint != "" {
		archive, err := storage.NewMinIOArchive(storage.Options{
			Endpoint:  cfg.Archive.Endpoint,
			AccessKey: cfg.Archive.AccessKey,
			SecretKey: cfg.Archive.SecretKey,
			Bucket:    cfg.Archive.Bucket,
			UseSSL:    cfg.Archive.UseSSL,
		})
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("archive: %w", err)
		}
		if err := archive.EnsureBucket(ctx); err != nil {
			logger.Warn("archive bucket check failed, archiving disabled", "err", err)
		} else {
			a.Archive = archive
		}
	}

	fo := service.Options{
		Store:         a.Reports,
		Acquirer:      a.Acquirer,
		Archive:       a.Archive,
		From:          cfg.Mail.From,
		ReplyTo:       cfg.Mail.ReplyTo,
		LinkSecret:    cfg.JWTSecret,
		LinkTTL:       cfg.LinkTTL,
		PublicBaseURL: cfg.PublicBaseURL,
		Logger:        logger,
	}
	if cfg.Mail.Enabled && cfg.Mail.APIKey != "" {
		fo.Mailer = mail.NewMailer(cfg.Mail.APIBase, cfg.Mail.APIKey, cfg.Mail.From, cfg.Mail.ReplyTo)
	}
	if cfg.Valuation.Enabled && cfg.Valuation.APIKey != "" {
		fo.Valuer = valuation.NewValuer(cfg.Valuation.BaseURL, cfg.Valuation.APIKey, cfg.Valuation.Model, cfg.Valuation.Timeout)
	}
	if cfg.DeliveryMode == "queue" {
		fo.Dispatcher = queue.NewPublisher(cfg.AMQPURL, cfg.DeliveryQueue)
	}
	a.Fulfiller = service.NewFulfiller(fo)
	return a, nil
}

// Close releases the database and Redis connections.
func (a *App) Close() {
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}
