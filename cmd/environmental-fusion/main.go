package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	httpapi "github.com/i474232898/environmental-fusion/internal/api/http"
	"github.com/i474232898/environmental-fusion/internal/config"
	"github.com/i474232898/environmental-fusion/internal/fusion"
	"github.com/i474232898/environmental-fusion/internal/fusion/providers"
	"github.com/i474232898/environmental-fusion/internal/geocode"
	"github.com/i474232898/environmental-fusion/internal/observability"
	"github.com/i474232898/environmental-fusion/internal/prediction"
	"github.com/i474232898/environmental-fusion/internal/publish/kafka"
	"github.com/i474232898/environmental-fusion/internal/scheduler"
	"github.com/i474232898/environmental-fusion/internal/store"
	"github.com/i474232898/environmental-fusion/internal/store/sqlite"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(log)

	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()

	// Shared HTTP client for outbound provider calls.
	httpClient := &http.Client{
		Timeout: cfg.HTTPTimeout,
	}

	chains, err := providers.BuildChains(cfg, httpClient, clock, log, metrics)
	if err != nil {
		log.Error("failed to build provider chains", "error", err)
		os.Exit(1)
	}

	detector := fusion.NewChangeDetector(chains.HistoricalImagery, chains.CurrentImagery, clock, log)
	facade := fusion.NewFacade(chains.Current, chains.Forecast, detector, fusion.FacadeConfig{
		WeatherTTL:      cfg.WeatherCacheTTL,
		ImageryTTL:      cfg.ImageryCacheTTL,
		OverallDeadline: cfg.OverallDeadline,
	}, clock, log, metrics)

	// Record store: SQLite when a path is configured, otherwise in memory.
	var records store.Store
	if cfg.SQLitePath != "" {
		db, err := sqlite.NewStore(cfg.SQLitePath)
		if err != nil {
			log.Error("failed to open sqlite store", "path", cfg.SQLitePath, "error", err)
			os.Exit(1)
		}
		defer db.Close()
		records = db
	} else {
		records = store.NewMemoryStore(cfg.StoreMaxHistory, cfg.StoreMaxAge).WithClock(clock)
	}

	var sink store.Store = records
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewWriter(cfg.KafkaBrokers, cfg.KafkaTopic, log)
		defer producer.Close()
		sink = store.NewTee(records, producer)
		log.Info("publishing records to kafka", "topic", cfg.KafkaTopic)
	}

	var predictor scheduler.Predictor
	if cfg.PredictionURL != "" {
		predictor = prediction.NewClient(cfg.PredictionURL, &http.Client{Timeout: cfg.PredictionTimeout})
	}

	var resolver geocode.Resolver
	if cfg.GeocoderAPIKey != "" {
		resolver = geocode.NewGoogle(cfg.GeocoderAPIKey, clock, metrics)
	}

	// Scheduler that periodically polls tracked locations.
	sched := scheduler.New(scheduler.Config{
		Locations:         cfg.Locations,
		WeatherInterval:   cfg.WeatherPollInterval,
		FloodInterval:     cfg.FloodPollInterval,
		LakeInterval:      cfg.LakePollInterval,
		LakeHistoryOffset: cfg.LakeHistoryOffset,
	}, facade, predictor, sink, clock, log, metrics)
	if err := sched.Start(); err != nil {
		log.Error("failed to start scheduler", "error", err)
		os.Exit(1)
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "environmental-fusion",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          60 * time.Second, // change detection may wait on two imagery chains
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			if code >= fiber.StatusInternalServerError {
				log.Error("request failed", "path", c.Path(), "status", code, "error", err)
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "environmental-fusion",
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	httpapi.RegisterRoutes(app, httpapi.Handlers{
		Fusion:   facade,
		Geocoder: resolver,
		Records:  records,

		RequestTimeout: cfg.RequestTimeout,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", "error", err)
		}
	}()
	log.Info("server started", "port", cfg.Port, "locations", len(cfg.Locations))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", "error", err)
	}
}
