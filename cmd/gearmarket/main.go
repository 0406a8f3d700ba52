package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/ManuelReschke/GearMarket/app/controllers"
	"github.com/ManuelReschke/GearMarket/app/repository"
	"github.com/ManuelReschke/GearMarket/internal/pkg/archive"
	"github.com/ManuelReschke/GearMarket/internal/pkg/cache"
	"github.com/ManuelReschke/GearMarket/internal/pkg/checkout"
	"github.com/ManuelReschke/GearMarket/internal/pkg/config"
	"github.com/ManuelReschke/GearMarket/internal/pkg/constants"
	"github.com/ManuelReschke/GearMarket/internal/pkg/crm"
	"github.com/ManuelReschke/GearMarket/internal/pkg/database"
	"github.com/ManuelReschke/GearMarket/internal/pkg/env"
	"github.com/ManuelReschke/GearMarket/internal/pkg/fulfillment"
	"github.com/ManuelReschke/GearMarket/internal/pkg/jobqueue"
	"github.com/ManuelReschke/GearMarket/internal/pkg/mail"
	"github.com/ManuelReschke/GearMarket/internal/pkg/merchant"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics"
	"github.com/ManuelReschke/GearMarket/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/GearMarket/internal/pkg/processor"
	"github.com/ManuelReschke/GearMarket/internal/pkg/reconcile"
	"github.com/ManuelReschke/GearMarket/internal/pkg/router"
	"github.com/ManuelReschke/GearMarket/internal/pkg/session"
	"github.com/ManuelReschke/GearMarket/internal/pkg/webhook"
)

func main() {
	env.SetupEnvFile()
	cfg := config.MustLoad()

	app, shutdown, err := NewApplication(cfg)
	if err != nil {
		log.Fatalf("[Main] Startup failed: %v", err)
	}

	go func() {
		if err := app.Listen(cfg.ListenAddr()); err != nil {
			log.Fatalf("[Main] Listener stopped: %v", err)
		}
	}()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info("[Main] Shutting down")
	if err := app.ShutdownWithTimeout(15 * time.Second); err != nil {
		log.Errorf("[Main] HTTP shutdown: %v", err)
	}
	shutdown()
}

// NewApplication wires the payments core and returns the HTTP app and a
// function that stops the background workers.
func NewApplication(cfg *config.Config) (*fiber.App, func(), error) {
	ctx := context.Background()
	if cfg.IsDev() {
		log.SetLevel(log.LevelDebug)
	}

	db, err := database.SetupDatabase(cfg.DB, cfg.IsDev())
	if err != nil {
		return nil, nil, err
	}
	repository.InitializeFactory(db)
	store := repository.GetGlobalStore()

	cache.SetupCache(cfg.Cache)
	redisClient := cache.GetClient()
	useRedis := redisReachable(ctx, redisClient)
	if !useRedis {
		log.Warn("[Main] Cache unreachable, using in-process queue, counters and sessions")
	}

	m := metrics.Default()

	gateway := processor.NewStripeGateway(processor.StripeConfig{
		SecretKey: cfg.Stripe.SecretKey,
		Timeout:   cfg.Stripe.APITimeout,
		BaseURL:   cfg.Stripe.APIBaseURL,
	})

	var statusCache merchant.StatusCache
	if useRedis {
		statusCache = cache.NewJSONCache(redisClient, "merchant:status:")
	}
	merchants := merchant.NewService(store, gateway, statusCache, merchant.Config{
		DefaultCountry: cfg.Payments.MerchantCountry,
		StatusTTL:      cfg.Payments.MerchantStatusTTL,
		RefreshURL:     cfg.App.PublicBaseURL + constants.SellerAccountRoute + constants.OnboardingRefreshQuery,
		ReturnURL:      cfg.App.PublicBaseURL + constants.SellerAccountRoute + constants.OnboardingReturnQuery,
	}, m)

	issuer, err := checkout.NewIssuer(store, gateway, merchants, checkout.Config{
		PlatformFeeBPS: cfg.Payments.PlatformFeeBPS,
		SessionTTL:     cfg.Payments.CheckoutSessionTTL,
		PublicBaseURL:  cfg.App.PublicBaseURL,
	}, m)
	if err != nil {
		return nil, nil, err
	}

	// side effects
	publisher := crm.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.CRMTopic)
	jobs := jobqueue.NewProcessor(store, mail.NewSMTPMailer(cfg.SMTP), publisher, cfg.Alerts.OpsEmail)
	var (
		queue    *jobqueue.Queue
		enqueuer jobqueue.Enqueuer
	)
	if useRedis {
		queue = jobqueue.NewQueue(redisClient, cfg.JobQueue.Workers, jobs, m)
		enqueuer = queue
	} else {
		enqueuer = jobqueue.NewInlineQueue(jobs)
	}
	dispatcher := jobqueue.NewDispatcher(enqueuer, m)

	machine := fulfillment.NewMachine(store, dispatcher, m)

	var failures counter.WindowCounter = counter.NewMemoryWindowCounter(cfg.Payments.TamperWindow)
	if useRedis {
		failures = counter.NewRedisWindowCounter(redisClient, "webhook:signature_failures", cfg.Payments.TamperWindow)
	}
	deliveries := webhook.NewHandler(store, machine, merchants, dispatcher, failures, webhook.Config{
		Secret:          cfg.Stripe.WebhookSecret,
		Tolerance:       cfg.Payments.WebhookTolerance,
		TamperThreshold: cfg.Payments.TamperThreshold,
		TamperWindow:    cfg.Payments.TamperWindow,
	}, m)

	sweeper := reconcile.NewSweeper(store, gateway, machine, nil, reconcile.Config{
		Deadline: cfg.Reconcile.Deadline,
		Batch:    cfg.Reconcile.Batch,
	}, m)

	var archiver archive.Archiver
	if cfg.Archive.Enabled {
		s3, err := archive.NewS3Archiver(ctx, cfg.Archive)
		if err != nil {
			return nil, nil, err
		}
		archiver = s3
	}
	pruner := jobqueue.NewLedgerPruner(store, archiver, cfg.Ledger.Retention, cfg.Ledger.PruneBatch, m)

	tasks := []jobqueue.PeriodicTask{{
		Name:     "ledger_prune",
		Interval: cfg.Ledger.PruneInterval,
		Run: func(ctx context.Context) error {
			_, err := pruner.PruneOnce(ctx)
			return err
		},
	}}
	if cfg.Reconcile.Enabled {
		tasks = append(tasks, jobqueue.PeriodicTask{
			Name:     "reconcile",
			Interval: cfg.Reconcile.Interval,
			Run: func(ctx context.Context) error {
				_, err := sweeper.RunOnce(ctx)
				return err
			},
		})
	}
	manager := jobqueue.NewManager(queue, tasks...)
	manager.Start()

	// HTTP
	app := fiber.New(fiber.Config{
		BodyLimit: 1 << 20,
	})
	app.Use(recover.New(), logger.New())

	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: "public/docs/v1/openapi.yml",
		Path:     "v1",
	}))

	checks := map[string]controllers.Pinger{"database": store}
	var limiterStorage fiber.Storage
	if useRedis {
		checks["cache"] = controllers.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		})
		limiterStorage = fiberredis.New(fiberredis.Config{
			Host:     cfg.Cache.Host,
			Port:     atoiDefault(cfg.Cache.Port, 6379),
			Password: cfg.Cache.Password,
			Database: 2,
		})
	}

	router.InstallRouter(app, router.Dependencies{
		Store:          store,
		Sessions:       session.NewSessionStore(cfg.Cache, useRedis),
		Payments:       controllers.NewPaymentsController(issuer, merchants, store.Orders()),
		Webhooks:       controllers.NewWebhookController(deliveries),
		Ops:            controllers.NewOpsController(sweeper, checks),
		OpsAPIKey:      cfg.Alerts.OpsAPIKey,
		Gatherer:       prometheus.DefaultGatherer,
		LimiterStorage: limiterStorage,
	})

	shutdown := func() {
		manager.Stop()
		if err := publisher.Close(); err != nil {
			log.Errorf("[Main] Closing CRM publisher: %v", err)
		}
		if err := redisClient.Close(); err != nil {
			log.Errorf("[Main] Closing cache client: %v", err)
		}
	}
	return app, shutdown, nil
}

func redisReachable(ctx context.Context, client *redis.Client) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return client.Ping(ctx).Err() == nil
}
