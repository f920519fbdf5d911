package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"turfie/internal/api"
	"turfie/internal/config"
	"turfie/internal/database"
	"turfie/internal/domain"
	"turfie/internal/events"
	"turfie/internal/export"
	"turfie/internal/logging"
	"turfie/internal/metrics"
	"turfie/internal/repository"
	"turfie/internal/service"
	"turfie/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, logger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer (func() { _ = repository.Close(redisClient) })()
	}
	locker := initLocker(cfg, redisClient, logger)

	bus := events.NewEventBus(logging.Component(logger, "events"))
	if forwarder := initAMQP(cfg, logger); forwarder != nil {
		forwarder.Attach(bus)
		defer (func() { _ = forwarder.Close() })()
	}

	engine := service.NewEngine(db, db,
		service.WithLocation(cfg.Booking.Location()),
		service.WithHorizonDays(cfg.Booking.HorizonDays),
		service.WithSlotDuration(cfg.Booking.SlotDuration()),
		service.WithMinDuration(cfg.Booking.MinDuration()),
		service.WithLocker(locker),
		service.WithEventPublisher(bus),
		service.WithLogger(logging.Component(logger, "engine")),
	)

	exporter := export.NewExporter(cfg.Exports.Path, cfg.Booking.Location(), logging.Component(logger, "export"))

	checks := map[string]api.ReadinessCheck{
		"database": func(ctx context.Context) error { return db.PingContext(ctx) },
	}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return repository.Ping(ctx, redisClient) }
	}
	httpServer := api.NewHTTPServer(cfg.API, engine, exporter, checks, logging.Component(logger, "http"))

	startMetrics(ctx, cfg, logger)

	var wg sync.WaitGroup
	completion := worker.NewCompletionWorker(engine, cfg.Worker.CompletionInterval, cfg.Worker.BatchSize,
		worker.DefaultRetryPolicy, logging.Component(logger, "completion"))
	backups := database.NewBackupService(db, cfg.Backup)
	wg.Add(2)
	go func() { defer wg.Done(); completion.Start(ctx) }()
	go func() { defer wg.Done(); backups.Start(ctx) }()

	err = serve(ctx, httpServer, cfg, logger)
	stop()
	wg.Wait()
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logging.Component(baseLogger, "api-main"), closer, nil
}

func initDatabase(cfg *config.Config, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logging.Component(logger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Database.Path).Msg("init database")
		return nil, err
	}

	venuesPath := os.Getenv("VENUES_PATH")
	if venuesPath == "" {
		venuesPath = cfg.VenuesFile
	}
	if venuesPath == "" {
		return db, nil
	}

	venues, err := config.LoadVenues(venuesPath)
	if err != nil {
		_ = db.Close()
		logger.Error().Err(err).Str("venues_path", venuesPath).Msg("load venues")
		return nil, err
	}
	if err := db.SyncVenues(context.Background(), venues); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sync venues: %w", err)
	}
	logger.Info().Int("venues", len(venues)).Str("venues_path", venuesPath).Msg("venues synced")
	return db, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		logger.Warn().Err(err).Msg("redis connection failed, locks fall back to in-process")
	} else {
		logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	}
	return client
}

// initLocker prefers the shared Redis lock and falls back to an in-process
// lock whenever Redis is unreachable.
func initLocker(cfg *config.Config, client *redis.Client, logger *zerolog.Logger) domain.VenueLocker {
	memory := repository.NewMemoryLocker(cfg.Booking.LockTimeout)
	if client == nil {
		return memory
	}
	primary := repository.NewRedisLocker(client, cfg.Booking.LockTimeout, cfg.Booking.LockTTL)
	return repository.NewFailoverLocker(primary, memory, logging.Component(logger, "locker"))
}

func initAMQP(cfg *config.Config, logger *zerolog.Logger) *events.AMQPForwarder {
	if cfg.AMQP.URL == "" {
		return nil
	}
	forwarder, err := events.DialAMQP(cfg.AMQP.URL, cfg.AMQP.Exchange, logging.Component(logger, "amqp"))
	if err != nil {
		logger.Warn().Err(err).Msg("amqp connection failed, events stay in-process")
		return nil
	}
	logger.Info().Str("exchange", cfg.AMQP.Exchange).Msg("amqp connected")
	return forwarder
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func serve(ctx context.Context, httpServer *api.HTTPServer, cfg *config.Config, logger *zerolog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Start()
	}()

	logger.Info().Int("http_port", cfg.API.HTTP.Port).Str("timezone", cfg.Booking.Timezone).Msg("API server started")

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		if serveErr != nil {
			logger.Error().Err(serveErr).Msg("http server stopped")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn().Err(err).Msg("http shutdown")
	}

	logger.Info().Msg("API server stopped")
	return serveErr
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
