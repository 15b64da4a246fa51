package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buildledger/buildledger/internal/app"
	jobmetrics "github.com/buildledger/buildledger/internal/jobs"
	"github.com/buildledger/buildledger/internal/mail"
	"github.com/buildledger/buildledger/internal/platform/db"
	"github.com/buildledger/buildledger/internal/store/postgres"
	"github.com/buildledger/buildledger/jobs"
)

func main() {
	_ = godotenv.Load()
	app.RefreshTestMode()
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	store := postgres.New(pool)
	mailer, err := mail.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom, cfg.ResendBaseURL)
	if err != nil {
		logger.Error("init mailer", slog.Any("error", err))
		os.Exit(1)
	}
	metrics := jobmetrics.NewMetrics(nil)
	receiptJob := jobs.NewReceiptJob(
		store.Documents(),
		store.Payments(),
		mailer,
		mail.NewComposer(cfg.Currency),
		store.Profiles(),
		logger,
		metrics,
	)

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	queue, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init job client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() { _ = queue.Close() }()
	sweepJob := jobs.NewReceiptSweepJob(store.Payments(), queue, logger, metrics)

	var cron []jobs.CronRegistration
	if cfg.ReceiptSweepSpec != "" {
		cron = append(cron, jobs.CronRegistration{Spec: cfg.ReceiptSweepSpec, Task: jobs.NewReceiptSweepTask()})
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskPaymentReceipt, Handler: receiptJob.Handle},
			{Type: jobs.TaskReceiptSweep, Handler: sweepJob.Handle},
		},
		Cron: cron,
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if cfg.WorkerMetricsAddr != "" {
		metricsServer := &http.Server{Addr: cfg.WorkerMetricsAddr, Handler: promhttp.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Warn("worker metrics server", slog.Any("error", err))
			}
		}()
		defer func() { _ = metricsServer.Close() }()
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
