// @title			AgentDeploy API
// @version		1.0
// @description	Provisions and operates hosted chat agents for paying owners.
// @BasePath		/api/v1
// @securityDefinitions.apikey	OwnerAuth
// @in							header
// @name						X-User-ID

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/urfave/cli/v2"

	"github.com/mtlprog/agentdeploy/internal/billing"
	"github.com/mtlprog/agentdeploy/internal/config"
	"github.com/mtlprog/agentdeploy/internal/database"
	"github.com/mtlprog/agentdeploy/internal/gateway"
	"github.com/mtlprog/agentdeploy/internal/handler"
	"github.com/mtlprog/agentdeploy/internal/logger"
	"github.com/mtlprog/agentdeploy/internal/metrics"
	"github.com/mtlprog/agentdeploy/internal/middleware"
	"github.com/mtlprog/agentdeploy/internal/repository"
	"github.com/mtlprog/agentdeploy/internal/service"
	"github.com/mtlprog/agentdeploy/internal/telegram"
	"github.com/mtlprog/agentdeploy/internal/vault"
	"github.com/mtlprog/agentdeploy/internal/worker"
)

func main() {
	app := &cli.App{
		Name:  "agentdeploy",
		Usage: "Agent provisioning orchestrator",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "log-level",
				Aliases: []string{"l"},
				Value:   config.DefaultLogLevel,
				Usage:   "Log level (debug, info, warn, error)",
				EnvVars: []string{"LOG_LEVEL"},
			},
			&cli.StringFlag{
				Name:     "database-url",
				Aliases:  []string{"d"},
				Value:    config.DefaultDatabaseURL,
				Usage:    "PostgreSQL database URL",
				EnvVars:  []string{"DATABASE_URL"},
				Required: true,
			},
			&cli.StringFlag{
				Name:    "app-secret",
				Usage:   "Secret the credential encryption key is derived from",
				EnvVars: []string{"APP_SECRET"},
			},
		},
		Before: func(c *cli.Context) error {
			logger.Setup(logger.ParseLevel(c.String("log-level")))
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:  "serve",
				Usage: "Start the web server and background workers",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "port",
						Aliases: []string{"p"},
						Value:   config.DefaultPort,
						Usage:   "HTTP server port",
						EnvVars: []string{"PORT"},
					},
					&cli.StringFlag{
						Name:    "redis-url",
						Usage:   "Redis URL for finalize job state (in-memory when empty)",
						EnvVars: []string{"REDIS_URL"},
					},
				},
				Action: runServe,
			},
			{
				Name:   "reconcile-billing",
				Usage:  "Re-check overdue subscriptions with the billing provider once",
				Action: runReconcileBilling,
			},
			{
				Name:   "migrate",
				Usage:  "Apply pending database migrations and exit",
				Action: runMigrate,
			},
		},
		Action: runServe,
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("application error", "error", err)
		os.Exit(1)
	}
}

// app is the wired service graph shared by the commands.
type app struct {
	cfg     *config.Config
	db      *database.DB
	metrics *metrics.Metrics
	agents  *service.AgentService
	billing *service.BillingReconciler
}

func (a *app) Close() {
	a.billing.Close()
	a.db.Close()
}

func setup(c *cli.Context) (*app, error) {
	ctx := c.Context

	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	appSecret := c.String("app-secret")
	if appSecret == "" {
		return nil, errors.New("app secret is required (--app-secret or APP_SECRET)")
	}

	cipher, err := vault.New(appSecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize vault: %w", err)
	}

	db, err := database.New(ctx, c.String("database-url"), cfg.Database.Pool())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	m := metrics.New()
	pool := db.Pool()
	subscriptions := repository.NewSubscriptionRepository(pool)

	agents := service.NewAgentService(service.AgentServiceDeps{
		Agents:        repository.NewAgentRepository(pool),
		Secrets:       repository.NewSecretRepository(pool),
		Deployments:   repository.NewDeploymentRepository(pool),
		Subscriptions: subscriptions,
		Cipher:        cipher,
		Gateway:       gateway.New(cfg.Railway.Gateway(), cfg.Handshake.Policy(), m),
		Metrics:       m,
	})

	billingClient := billing.NewClient(cfg.Billing.APIURL, cfg.Billing.AccessToken)
	if !billingClient.Configured() {
		slog.Warn("billing access token is not configured, webhooks will fail to resolve events")
	}

	reconciler, err := service.NewBillingReconciler(service.BillingReconcilerDeps{
		Subscriptions: subscriptions,
		Payments:      repository.NewPaymentRepository(pool),
		API:           billingClient,
		Agents:        agents,
		Metrics:       m,
		DedupeTTL:     cfg.Billing.DedupeTTL,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create billing reconciler: %w", err)
	}

	return &app{cfg: cfg, db: db, metrics: m, agents: agents, billing: reconciler}, nil
}

func newJobStore(ctx context.Context, redisURL string, ttl time.Duration) (worker.JobStore, func(), error) {
	if redisURL == "" {
		slog.Info("finalize jobs kept in memory")
		return worker.NewMemoryJobStore(ttl), func() {}, nil
	}

	store, err := worker.NewRedisJobStore(ctx, redisURL, ttl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	slog.Info("finalize jobs kept in redis")
	return store, func() {
		if err := store.Close(); err != nil {
			slog.Error("failed to close redis", "error", err)
		}
	}, nil
}

func runServe(c *cli.Context) error {
	ctx := c.Context

	port := c.String("port")
	if port == "" {
		port = config.DefaultPort
	}

	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	jobs, closeJobs, err := newJobStore(ctx, c.String("redis-url"), a.cfg.Jobs.FinalizeJobTTL)
	if err != nil {
		return err
	}
	defer closeJobs()

	finalizer := worker.NewFinalizeWorker(a.agents, jobs, a.cfg.Jobs.FinalizeMaxConcurrent, a.metrics)

	scheduler := cron.New()
	if _, err := scheduler.AddFunc(a.cfg.Billing.SweepSchedule, func() {
		sweepCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		count, err := a.billing.SweepOverdue(sweepCtx)
		if err != nil {
			slog.Error("billing sweep failed", "reconciled", count, "error", err)
			return
		}
		slog.Info("billing sweep completed", "reconciled", count)
	}); err != nil {
		return fmt.Errorf("failed to schedule billing sweep: %w", err)
	}
	scheduler.Start()

	h := handler.New(handler.Deps{
		DB:            a.db,
		Agents:        a.agents,
		Finalizer:     finalizer,
		Billing:       a.billing,
		Telegram:      telegram.NewClient(a.cfg.Telegram.APIURL),
		WebhookSecret: a.cfg.Billing.WebhookSecret,
		Metrics:       a.metrics.Handler(),
	})

	mux := http.NewServeMux()
	h.RegisterRoutes(mux)

	server := &http.Server{
		Addr:              ":" + port,
		Handler:           middleware.Observe(a.metrics)(mux),
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
	}

	serverErr := make(chan error, 1)
	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("starting server", "server_addr", "http://localhost:"+port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return fmt.Errorf("server error: %w", err)
	case <-done:
		slog.Info("shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	<-scheduler.Stop().Done()

	if err := finalizer.Shutdown(shutdownCtx); err != nil {
		slog.Error("finalize worker shutdown incomplete", "error", err)
	}

	slog.Info("server stopped")
	return nil
}

func runReconcileBilling(c *cli.Context) error {
	a, err := setup(c)
	if err != nil {
		return err
	}
	defer a.Close()

	count, err := a.billing.SweepOverdue(c.Context)
	if err != nil {
		return fmt.Errorf("billing reconciliation failed: %w", err)
	}

	slog.Info("billing reconciliation completed", "reconciled", count)
	return nil
}

func runMigrate(c *cli.Context) error {
	ctx := c.Context

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	db, err := database.New(ctx, c.String("database-url"), cfg.Database.Pool())
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer db.Close()

	if err := database.RunMigrations(ctx, db.Pool()); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	version, pending, err := database.MigrationStatus(ctx, db.Pool())
	if err != nil {
		return err
	}

	slog.Info("schema up to date", "version", version, "pending", pending)
	return nil
}
