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

	"github.com/hibiken/asynq"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/buildledger/buildledger/internal/app"
	"github.com/buildledger/buildledger/internal/documents"
	"github.com/buildledger/buildledger/internal/mail"
	"github.com/buildledger/buildledger/internal/observability"
	"github.com/buildledger/buildledger/internal/payments"
	"github.com/buildledger/buildledger/internal/platform/cache"
	"github.com/buildledger/buildledger/internal/platform/db"
	"github.com/buildledger/buildledger/internal/profile"
	"github.com/buildledger/buildledger/internal/shared"
	"github.com/buildledger/buildledger/internal/storage"
	"github.com/buildledger/buildledger/internal/store/memory"
	"github.com/buildledger/buildledger/internal/store/postgres"
	stripeadapter "github.com/buildledger/buildledger/internal/stripe"
	"github.com/buildledger/buildledger/jobs"
	"github.com/buildledger/buildledger/migrations"
	"github.com/buildledger/buildledger/report"
)

// stores bundles the persistence ports for one driver.
type stores struct {
	documents documents.Repository
	ledger    payments.Ledger
	uow       payments.UnitOfWork
	profiles  profile.Repository
	close     func()
}

func main() {
	_ = godotenv.Load()
	app.RefreshTestMode()
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
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

	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		if err := migrate(ctx, cfg, logger); err != nil {
			logger.Error("migrate", slog.Any("error", err))
			os.Exit(1)
		}
		return
	}

	if err := run(ctx, stop, cfg, logger); err != nil {
		logger.Error("buildledger", slog.Any("error", err))
		os.Exit(1)
	}
}

func migrate(ctx context.Context, cfg *app.Config, logger *slog.Logger) error {
	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()
	return db.Migrate(ctx, pool, migrations.Files, logger)
}

func openStores(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*stores, error) {
	if cfg.StoreDriver == "memory" {
		logger.Warn("using in-memory store, data is lost on restart")
		store := memory.New()
		return &stores{documents: store.Documents(), ledger: store.Payments(), uow: store, profiles: store.Profiles(), close: func() {}}, nil
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if cfg.PGMigrate {
		if err := db.Migrate(ctx, pool, migrations.Files, logger); err != nil {
			pool.Close()
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	store := postgres.New(pool)
	return &stores{documents: store.Documents(), ledger: store.Payments(), uow: store, profiles: store.Profiles(), close: pool.Close}, nil
}

func run(ctx context.Context, stop context.CancelFunc, cfg *app.Config, logger *slog.Logger) error {
	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.close()

	metrics := observability.NewMetrics()
	engineOpts := []payments.EngineOption{payments.WithOutcomeRecorder(metrics)}

	var (
		locker    shared.Locker = shared.NewKeyedMutex()
		inspector *asynq.Inspector
	)
	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword}
	if cfg.StoreDriver == "postgres" {
		var redisClient *redis.Client
		redisClient, err = cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer closeWith(logger, "redis", redisClient.Close)
		locker = shared.NewRedisLocker(redisClient, cfg.LockTTL)

		queue, err := jobs.NewClient(redisOpts)
		if err != nil {
			return fmt.Errorf("init job client: %w", err)
		}
		defer closeWith(logger, "job client", queue.Close)
		engineOpts = append(engineOpts, payments.WithReceiptQueue(queue))

		inspector = asynq.NewInspector(redisOpts)
		defer closeWith(logger, "inspector", inspector.Close)
	}

	checkout := stripeadapter.NewCheckoutClient(stripeadapter.CheckoutConfig{
		SecretKey: cfg.StripeSecretKey,
		BaseURL:   cfg.AppBaseURL,
	})
	issuer := payments.NewIssuer(st.documents, checkout, cfg.Currency, logger, payments.WithLinkRecorder(metrics))
	engine := payments.NewEngine(stripeadapter.NewVerifier(cfg.StripeWebhookSecret), st.uow, locker, logger, engineOpts...)

	profileService := profile.NewService(st.profiles, logger)
	reportClient := report.NewClient(cfg.GotenbergURL)
	renderer, err := report.NewDocumentRenderer(reportClient, cfg.Currency, report.WithProfiles(st.profiles))
	if err != nil {
		return fmt.Errorf("init document renderer: %w", err)
	}
	blobs, err := openStorage(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeWith(logger, "blob store", blobs.Close)
	mailer, err := mail.NewResendMailer(cfg.ResendAPIKey, cfg.MailFrom, cfg.ResendBaseURL)
	if err != nil {
		return fmt.Errorf("init mailer: %w", err)
	}
	notifier := mail.NewDocumentNotifier(mailer, mail.NewComposer(cfg.Currency), st.profiles, logger)
	documentService := documents.NewService(st.documents, renderer, blobs, notifier, logger,
		documents.WithTaxDefaults(profileService))

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		Metrics:          metrics,
		DocumentsHandler: documents.NewHandler(logger, documentService, documents.WithFileLinks(blobs)),
		PaymentsHandler:  payments.NewHandler(logger, engine, issuer, st.ledger, st.documents, cfg.WebhookTimeout),
		ReportHandler:    report.NewHandler(reportClient, logger),
		ProfileHandler:   profile.NewHandler(logger, profileService),
		JobHandler:       jobs.NewHandler(inspector, logger),
		Files:            blobs.Handler(),
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr), slog.String("store", cfg.StoreDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
	return nil
}

func closeWith(logger *slog.Logger, name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		logger.Warn(name+" close", slog.Any("error", err))
	}
}

func openStorage(ctx context.Context, cfg *app.Config, logger *slog.Logger) (*storage.Store, error) {
	if cfg.StorageURL != "" {
		return storage.Open(ctx, cfg.StorageURL, cfg.AppBaseURL, logger)
	}
	return storage.OpenDir(cfg.StorageDir, cfg.AppBaseURL, logger)
}
