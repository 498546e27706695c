package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Gobusters/ectoenv"
	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/scribeworks/quill/config"
	attemptrepo "github.com/scribeworks/quill/internal/repositories/matchattempt"
	requestrepo "github.com/scribeworks/quill/internal/repositories/request"
	volunteerrepo "github.com/scribeworks/quill/internal/repositories/volunteer"
	"github.com/scribeworks/quill/pkg/database"
	"github.com/scribeworks/quill/pkg/events"
	"github.com/scribeworks/quill/pkg/geo"
	"github.com/scribeworks/quill/pkg/kafka"
	"github.com/scribeworks/quill/pkg/matching"
	"github.com/scribeworks/quill/pkg/middleware"
	"github.com/scribeworks/quill/pkg/notify"
	"github.com/scribeworks/quill/pkg/redis"
	attemptroutes "github.com/scribeworks/quill/pkg/routes/attempt"
	"github.com/scribeworks/quill/pkg/routes/health"
	requestroutes "github.com/scribeworks/quill/pkg/routes/request"
	volunteerroutes "github.com/scribeworks/quill/pkg/routes/volunteer"
	"github.com/scribeworks/quill/pkg/startup"
	"github.com/scribeworks/quill/pkg/sweeper"
	"github.com/scribeworks/quill/pkg/tracing"
	"github.com/scribeworks/quill/pkg/tracing/exporters"
)

const version = "1.0.0"

func main() {
	// .env is optional; real deployments use the environment directly
	_ = godotenv.Load()

	var cfg config.Config
	if err := ectoenv.BindEnv(&cfg); err != nil {
		fmt.Fprintf(os.Stderr, "failed to read configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	ctx := context.Background()

	shutdownTracing := setupTracing(ctx, cfg, logger)
	defer shutdownTracing()

	db, sqlxDB, err := connectDatabase(cfg, logger)
	if err != nil {
		logger.WithError(err).Error("Failed to connect to database")
		os.Exit(1)
	}
	defer sqlxDB.Close()

	if err := runMigrations(cfg, sqlxDB, logger); err != nil {
		logger.WithError(err).Error("Failed to run migrations")
		os.Exit(1)
	}

	// Repositories
	requests := requestrepo.NewRepository(db, logger)
	volunteers := volunteerrepo.NewRepository(db, logger)
	attempts := attemptrepo.NewRepository(db, logger)

	// Kafka producers (optional; engine degrades to log-only when absent)
	var historyProducer, notifyProducer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		historyProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaMatchEventsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer historyProducer.Close()

		notifyProducer = kafka.NewProducer(kafka.ProducerConfig{
			Brokers:      cfg.KafkaBrokers,
			Topic:        cfg.KafkaNotificationsTopic,
			BatchSize:    cfg.KafkaBatchSize,
			BatchTimeout: time.Duration(cfg.KafkaBatchTimeout) * time.Millisecond,
			RequiredAcks: cfg.KafkaRequiredAcks,
			Compression:  cfg.KafkaCompression,
		}, logger)
		defer notifyProducer.Close()
	}

	emitter := events.NewEmitter(historyProducer, logger)

	var dispatcher notify.Dispatcher = notify.NewLogDispatcher(logger)
	if notifyProducer != nil {
		dispatcher = notify.NewKafkaDispatcher(notifyProducer, logger)
	}

	// Per-request lock: Redis when configured, in-process otherwise
	var locker matching.Locker = matching.NewKeyedMutex()
	var redisClient *redis.Client
	if cfg.RedisEnabled {
		redisClient, err = redis.NewClient(redis.Config{
			Host:     cfg.RedisHost,
			Port:     cfg.RedisPort,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		}, logger)
		if err != nil {
			logger.WithError(err).Error("Failed to connect to Redis")
			os.Exit(1)
		}
		defer redisClient.Close()
		locker = matching.NewRedisLocker(
			redis.NewLocker(redisClient, "quill:match:"),
			time.Duration(cfg.MatchLockTTLSeconds)*time.Second,
		)
	}

	// Matching engine
	index := geo.NewIndex(volunteers)
	scorer := matching.NewScorer()
	ranker := matching.NewRanker(index, scorer, matching.RankerConfig{
		DefaultRadiusKm:  cfg.MatchDefaultRadiusKm,
		CriticalRadiusKm: cfg.MatchCriticalRadiusKm,
	}, logger)
	lifecycle := matching.NewLifecycle(attempts, requests, database.NewTxManager(db, logger), emitter, logger)
	coordinator := matching.NewCoordinator(ranker, lifecycle, requests, volunteers, attempts, dispatcher, locker, logger, matching.CoordinatorConfig{
		BackupCount: cfg.MatchBackupCount,
	})

	// Background workers
	sweep := sweeper.NewSweeper(attempts, coordinator, sweeper.Config{
		PollInterval: time.Duration(cfg.SweepIntervalSeconds) * time.Second,
		BatchSize:    cfg.SweepBatchSize,
	}, logger)

	var consumer *kafka.Consumer
	if cfg.KafkaConsumerEnabled && len(cfg.KafkaBrokers) > 0 {
		consumer = kafka.NewConsumer(kafka.ConsumerConfig{
			Brokers:       cfg.KafkaBrokers,
			Topic:         cfg.KafkaTriggerTopic,
			ConsumerGroup: cfg.KafkaConsumerGroup,
		}, logger, triggerHandler(coordinator, logger))
	}

	// HTTP server
	checker := health.NewChecker(sqlxDB, redisPinger(redisClient), version)
	e := newServer(cfg, logger, checker, requests, volunteers, attempts, coordinator)

	manager := startup.NewStartup[any](logger, cfg.StartupMaxAttempts)
	manager.AddDependency(&dependency{
		name:  "sweeper",
		start: sweep.Start,
		stop:  sweep.Stop,
	})
	if consumer != nil {
		manager.AddDependency(&dependency{
			name:  "kafka-consumer",
			start: consumer.Start,
			stop:  func(context.Context) error { return consumer.Stop() },
		})
	}
	manager.AddDependency(&dependency{
		name: "http-server",
		start: func(context.Context) error {
			go func() {
				addr := fmt.Sprintf(":%d", cfg.Port)
				if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
					logger.WithError(err).Error("HTTP server stopped")
				}
			}()
			return nil
		},
		stop: func(ctx context.Context) error { return e.Shutdown(ctx) },
	})

	if err := manager.Start(ctx); err != nil {
		logger.WithError(err).Error("Startup failed")
		os.Exit(1)
	}
	checker.SetReady(true)

	logger.Infof("%s listening on port %d", cfg.AppName, cfg.Port)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	logger.Info("Shutting down...")
	checker.SetReady(false)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := manager.Stop(shutdownCtx); err != nil {
		logger.WithError(err).Error("Shutdown failed")
	}
}

func newLogger(cfg config.Config) ectologger.Logger {
	var zapLogger *zap.Logger
	var err error
	if cfg.PrettyLogs {
		zapLogger, err = zap.NewDevelopment()
	} else {
		zapLogger, err = zap.NewProduction()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil)
}

func setupTracing(ctx context.Context, cfg config.Config, logger ectologger.Logger) func() {
	var exporter sdktrace.SpanExporter
	var err error

	if endpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"); endpoint != "" {
		exporter, err = exporters.NewOTLPExporter(ctx, exporters.OTLPConfig{
			Endpoint: endpoint,
			Insecure: true,
			Timeout:  10 * time.Second,
		})
	} else {
		exporter, err = exporters.NewConsoleExporter(cfg.PrettyLogs)
	}
	if err != nil {
		logger.WithError(err).Warn("Failed to create trace exporter, tracing disabled")
		return func() {}
	}

	provider := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(provider)
	tracing.SetTracer(provider.Tracer(cfg.AppName))

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("Failed to shut down tracer provider")
		}
	}
}

func connectDatabase(cfg config.Config, logger ectologger.Logger) (database.DB, *sqlx.DB, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.DatabaseHost, cfg.DatabasePort, cfg.DatabaseUserName, cfg.DatabasePassword, cfg.DatabaseName, cfg.DatabaseSSLMode)

	sqlxDB, err := sqlx.Connect(cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, nil, err
	}

	sqlxDB.SetMaxOpenConns(cfg.DatabaseMaxOpenConns)
	sqlxDB.SetMaxIdleConns(cfg.DatabaseMaxIdleConns)
	sqlxDB.SetConnMaxLifetime(cfg.DatabaseConnMaxLifetime)

	return database.NewDatabaseInstance(sqlxDB, logger), sqlxDB, nil
}

func runMigrations(cfg config.Config, sqlxDB *sqlx.DB, logger ectologger.Logger) error {
	driver, err := postgres.WithInstance(sqlxDB.DB, &postgres.Config{})
	if err != nil {
		return err
	}

	service := database.NewMigrationService(logger, &database.MigrationConfig{
		MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
		Version:             uint(cfg.DatabaseMigrationVersion),
		Force:               cfg.DatabaseMigrationForce,
		AutoRollback:        cfg.DatabaseMigrationAutoRollback,
	})

	return service.Migrate(cfg.DatabaseName, driver)
}

func newServer(
	cfg config.Config,
	logger ectologger.Logger,
	checker *health.Checker,
	requests *requestrepo.Repository,
	volunteers *volunteerrepo.Repository,
	attempts *attemptrepo.Repository,
	coordinator *matching.Coordinator,
) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.HTTPErrorHandler = middleware.Error(logger)
	e.Use(otelecho.Middleware(cfg.AppName))
	e.Use(middleware.Context())
	e.Use(middleware.Logger(logger))
	e.Use(echomiddleware.CORSWithConfig(echomiddleware.CORSConfig{
		AllowOrigins: cfg.AllowOrigins,
		AllowMethods: cfg.AllowMethods,
	}))
	e.Use(echomiddleware.Recover())

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := e.Group("/api/v1")
	requestroutes.Register(api.Group("/requests"), requestroutes.NewHandler(requests, attempts, coordinator, logger))
	attemptroutes.Register(api.Group("/attempts"), attemptroutes.NewHandler(coordinator))
	volunteerroutes.Register(api.Group("/volunteers"), volunteerroutes.NewHandler(volunteers))

	return e
}

// triggerHandler starts a matching cycle for each request-created message.
// Triggers are idempotent: a duplicate for a request with an active proposal
// is a benign conflict.
func triggerHandler(coordinator *matching.Coordinator, logger ectologger.Logger) kafka.MessageHandler {
	return func(ctx context.Context, msg *kafka.IncomingMessage) error {
		trigger, err := msg.ParseRequestTrigger()
		if err != nil {
			logger.WithContext(ctx).WithError(err).Error("Failed to parse request trigger")
			return nil
		}
		if trigger.RequestID == "" {
			return nil
		}

		if _, err := coordinator.StartMatching(ctx, trigger.RequestID); err != nil {
			if matching.IsConflict(err) || matching.IsNotFound(err) {
				logger.WithContext(ctx).WithFields(map[string]any{
					"request_id": trigger.RequestID,
				}).Debug("Skipping trigger")
				return nil
			}
			return err
		}
		return nil
	}
}

// redisPinger adapts the Redis client to the health checker's interface
func redisPinger(client *redis.Client) interface{ Ping() error } {
	if client == nil {
		return nil
	}
	return pingAdapter{client}
}

type pingAdapter struct {
	client *redis.Client
}

func (p pingAdapter) Ping() error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return p.client.Ping(ctx)
}

// dependency adapts start/stop funcs to the startup manager
type dependency struct {
	name      string
	dependsOn []string
	start     func(ctx context.Context) error
	stop      func(ctx context.Context) error
}

func (d *dependency) GetName() string                 { return d.name }
func (d *dependency) DependsOn() []string             { return d.dependsOn }
func (d *dependency) Start(ctx context.Context) error { return d.start(ctx) }
func (d *dependency) Stop(ctx context.Context) error  { return d.stop(ctx) }
