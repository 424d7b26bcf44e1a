package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/spf13/pflag"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/carverify/carverify/internal/app"
	"github.com/carverify/carverify/internal/config"
	"github.com/carverify/carverify/internal/handler"
	"github.com/carverify/carverify/internal/middleware"
	"github.com/carverify/carverify/internal/queue"
	"github.com/carverify/carverify/internal/router"
	"github.com/carverify/carverify/pkg/log"
)

func main() {
	logOpts := log.NewOptions()
	logOpts.Service = "carverify"
	logOpts.AddFlags(pflag.CommandLine)
	pflag.Parse()
	if err := log.Init(logOpts); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	defer func() { _ = log.Std().Sync() }()

	if err := run(); err != nil {
		log.Error(err, "server exited")
		_ = log.Std().Sync()
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := log.Std()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{Redis: true})
	if err != nil {
		return err
	}
	defer a.Close()

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logger))

	router.RegisterRoutes(e, router.Deps{
		Guard:     a.Guard,
		Checks:    handler.NewCheckHandler(a.Guard),
		Checkout:  handler.NewCheckoutHandler(cfg.Payment, a.Checkout, logger),
		Webhook:   handler.NewWebhookHandler(cfg.Payment.WebhookSecret, cfg.Payment.WebhookTolerance, cfg.WorkflowTimeout, a.Reports, a.Fulfiller, logger),
		Reports:   handler.NewReportHandler(a.Reports, a.Archive, cfg.JWTSecret, logger),
		Operator:  handler.NewOperatorHandler(cfg.JWTSecret, cfg.OperatorKeyHash, cfg.OperatorTTL, a.Reports, a.Fulfiller, cfg.WorkflowTimeout, logger),
		JWTSecret: cfg.JWTSecret,
		RateLimit: config.LoadRateLimitConfig(),
		Cache:     config.LoadCacheConfig(),
		Redis:     a.Redis,
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info("listening", "addr", addr, "env", cfg.Env, "db", cfg.DBDriver, "delivery", cfg.DeliveryMode)
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if cfg.DeliveryMode == "queue" {
		g.Go(func() error {
			err := queue.StartDeliveryConsumer(ctx, cfg.AMQPURL, cfg.DeliveryQueue, func(ctx context.Context, ev queue.ReportReadyEvent) error {
				return a.Fulfiller.Deliver(ctx, ev.OrderID)
			})
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}
