package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"darshan/internal/api"
	"darshan/internal/config"
	"darshan/internal/database"
	"darshan/internal/domain"
	"darshan/internal/events"
	"darshan/internal/export"
	"darshan/internal/ledger"
	"darshan/internal/logging"
	"darshan/internal/metrics"
	"darshan/internal/models"
	"darshan/internal/repository"
	"darshan/internal/service"
	"darshan/internal/token"
	"darshan/internal/worker"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v2"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, slots, logger, closer, loadErr := loadConfigAndLogger()
	if loadErr != nil {
		return loadErr
	}
	if closer != nil {
		defer (func(c io.Closer) { _ = c.Close() })(closer)
	}

	if err := prepareDirectories(cfg, &logger); err != nil {
		return err
	}

	db, err := initDatabase(cfg, slots, &logger)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	location, err := time.LoadLocation(cfg.App.Timezone)
	if err != nil {
		logger.Error().Err(err).Str("timezone", cfg.App.Timezone).Msg("Ошибка загрузки часового пояса")
		return err
	}

	redisClient, cache := initAvailabilityCache(ctx, cfg, &logger)
	defer func() { _ = repository.Close(redisClient) }()

	eventBus := events.NewEventBus()

	notifyWorker := worker.NewNotifyWorker(db, worker.NewLogMailer(&logger), redisClient, worker.RetryPolicy{}, &logger)
	go notifyWorker.Start(ctx)

	capLedger := ledger.NewCapacityLedger(&logger)
	codec := token.NewCodec(cfg.Token.Secret, time.Duration(cfg.Token.MaxAgeHours)*time.Hour)

	bookingService := service.NewBookingService(db, capLedger, codec, eventBus, notifyWorker, cache, location, cfg.Booking, &logger)
	slotService := service.NewSlotService(db, capLedger, cache, eventBus, &logger)
	gate := service.NewCheckinGate(db, codec, eventBus, location, &logger)
	exporter := export.NewExcelExporter(db, cfg.Exports.Path, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}

	apiServer := api.NewHTTPServer(cfg.API, bookingService, slotService, gate, exporter, &logger)
	go func() {
		if err := apiServer.Start(); err != nil {
			logger.Error().Err(err).Msg("API server error")
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("API shutdown error")
	}

	logger.Info().Msg("Shutdown complete.")
	return nil
}

func loadConfigAndLogger() (*config.Config, []models.Slot, zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}

	baseLogger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, zerolog.Logger{}, nil, err
	}
	logger := baseLogger.With().Str("component", "api-main").Logger()

	slotsPath := os.Getenv("SLOTS_PATH")
	if slotsPath == "" {
		slotsPath = "configs/slots.yaml"
	}
	slotsData, err := os.ReadFile(slotsPath)
	if err != nil {
		logger.Error().Err(err).Msgf("Ошибка чтения %s", slotsPath)
		return nil, nil, zerolog.Logger{}, closer, err
	}

	var slotsConfig struct {
		Slots []models.Slot `yaml:"slots"`
	}
	if err := yaml.Unmarshal(slotsData, &slotsConfig); err != nil {
		logger.Error().Err(err).Msg("Ошибка парсинга slots.yaml")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	if err := config.ValidateSlots(slotsConfig.Slots); err != nil {
		logger.Error().Err(err).Msg("Slots validation failed")
		return nil, nil, zerolog.Logger{}, closer, err
	}

	return cfg, slotsConfig.Slots, logger, closer, nil
}

func prepareDirectories(cfg *config.Config, logger *zerolog.Logger) error {
	if cfg == nil {
		return os.ErrInvalid
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для базы данных")
		return err
	}
	if err := os.MkdirAll(cfg.Exports.Path, 0o755); err != nil {
		logger.Error().Err(err).Msg("Ошибка создания директории для экспорта")
		return err
	}
	return nil
}

func initDatabase(cfg *config.Config, slots []models.Slot, logger *zerolog.Logger) (*database.DB, error) {
	db, err := database.NewDB(cfg.Database.Path, logger)
	if err != nil {
		logger.Error().Err(err).Msg("Ошибка инициализации базы данных")
		return nil, err
	}

	if err := db.SeedSlots(context.Background(), slots); err != nil {
		logger.Error().Err(err).Msg("Ошибка загрузки слотов")
	}
	return db, nil
}

func initAvailabilityCache(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*redis.Client, domain.AvailabilityCache) {
	ttl := time.Duration(models.DefaultAvailabilityCacheTTL) * time.Second
	fallback := repository.NewMemoryAvailabilityCache(ttl)

	if cfg.Redis.Address == "" {
		return nil, fallback
	}

	redisClient := repository.NewRedisClient(cfg.Redis)
	if errPing := repository.Ping(ctx, redisClient); errPing != nil {
		logger.Warn().Err(errPing).Msg("Redis unavailable")
	}

	primary := repository.NewRedisAvailabilityCache(redisClient, ttl)
	return redisClient, repository.NewFailoverAvailabilityCache(primary, fallback, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	logger.Info().Int("port", port).Msg("Metrics server listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("Metrics server error")
	}
}
