package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"go.uber.org/zap"

	"github.com/birth-rectifier/backend/internal/api/handlers"
	rediscache "github.com/birth-rectifier/backend/internal/cache/redis"
	"github.com/birth-rectifier/backend/internal/engine"
	"github.com/birth-rectifier/backend/internal/events"
	"github.com/birth-rectifier/backend/internal/geocode"
	"github.com/birth-rectifier/backend/internal/interpret"
	"github.com/birth-rectifier/backend/internal/metrics"
	"github.com/birth-rectifier/backend/internal/middleware/ratelimit"
	"github.com/birth-rectifier/backend/internal/middleware/security"
	"github.com/birth-rectifier/backend/internal/middleware/validation"
	"github.com/birth-rectifier/backend/internal/questionnaire"
	"github.com/birth-rectifier/backend/internal/rectify"
	apprt "github.com/birth-rectifier/backend/internal/runtime"
	"github.com/birth-rectifier/backend/internal/storage/sqlite"
	"github.com/birth-rectifier/backend/pkg/config"
	appLogger "github.com/birth-rectifier/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting Birth Time Rectification API Server")

	metrics.Init()

	store, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer store.Close()

	err = store.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	// Redis is an accelerator, not a dependency: without it the service
	// runs on SQLite alone and finalize races fall back to the
	// persisted-result check.
	var cache *rediscache.Client
	if cfg.Redis.Enabled {
		cache, err = rediscache.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			appLogger.Warn("Redis unavailable, continuing without hot cache", zap.Error(err))
			cache = nil
		} else {
			defer cache.Close()
		}
	}

	engineClient := engine.NewClient(cfg.Engine.BaseURL, cfg.Engine.TimeoutSec)

	var geocodeCache geocode.HotCache
	if cache != nil {
		geocodeCache = cache
	}
	geocoder := geocode.NewClient(
		cfg.Geocode.BaseURL,
		cfg.Geocode.TimeoutSec,
		time.Duration(cfg.Geocode.CacheTTLMin)*time.Minute,
		store,
		geocodeCache,
	)

	var interpreter rectify.Interpreter
	if cfg.OpenAI.APIKey != "" {
		interpreter = interpret.NewClient(
			cfg.OpenAI.APIKey,
			cfg.OpenAI.Model,
			cfg.OpenAI.Temperature,
			cfg.OpenAI.MaxTokens,
			cfg.OpenAI.TimeoutSec,
		)
	} else {
		appLogger.Info("No OpenAI key configured, interpretation enrichment disabled")
	}

	env := apprt.Default()
	env.DemoMode = cfg.Session.DemoMode

	bus := events.NewBus()

	var sessionCache questionnaire.Cache
	var finalizeLocker rectify.Locker
	if cache != nil {
		sessionCache = cache
		finalizeLocker = cache
	}

	sessions := questionnaire.NewService(store, sessionCache, engineClient, geocoder, env, bus, cfg.Session.CompletionThreshold)
	orchestrator := rectify.NewOrchestrator(store, finalizeLocker, engineClient, interpreter, env, bus, cfg.Session.RectifyWindowMin, cfg.Session.SynthesizedShiftMin)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Session-ID",
		AllowMethods: "GET, POST, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{}))

	limiter := ratelimit.New(ratelimit.Config{
		MaxRequestsPerMinute: cfg.RateLimit.MaxRequestsPerMinute,
		Logger:               appLogger.GetLogger(),
	})
	app.Use(limiter.Middleware())

	sessionHandler := handlers.NewSessionHandler(sessions, orchestrator, store)
	geocodeHandler := handlers.NewGeocodeHandler(geocoder, engineClient)
	healthHandler := handlers.NewHealthHandler(engineClient)
	wsHandler := handlers.NewWebSocketHandler(sessions, bus)

	api := app.Group("/api/v1")
	api.Use(validation.Middleware(validation.Config{Logger: appLogger.GetLogger()}))

	api.Post("/sessions", sessionHandler.StartSession)
	api.Get("/sessions/:id", sessionHandler.GetSession)
	api.Post("/sessions/:id/answers", sessionHandler.SubmitAnswer)
	api.Post("/sessions/:id/rectify", sessionHandler.FinalizeSession)
	api.Get("/sessions/:id/result", sessionHandler.GetResult)
	api.Get("/geocode", geocodeHandler.HandleGeocode)
	api.Get("/geocode/reverse", geocodeHandler.HandleReverseGeocode)

	api.Get("/health", healthHandler.HandleHealth)

	app.Get("/metrics", metrics.MetricsHandler())

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/sessions/:id", websocket.New(wsHandler.HandleConnection))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}
