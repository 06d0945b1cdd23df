package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"market-data-api/internal/api"
	"market-data-api/internal/cache"
	"market-data-api/internal/config"
	"market-data-api/internal/logger"
	"market-data-api/internal/platform"
	"market-data-api/internal/provider"
	"market-data-api/internal/ratelimit"
	"market-data-api/internal/service"
	"market-data-api/internal/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	appLogger := logger.New(cfg.LogLevel)

	// Shared store is optional infrastructure: absence or unreachability
	// degrades to local-only caching and counting, never to a startup error.
	var redisClient *redis.Client
	var sharedCache cache.SharedStore
	var counterStore ratelimit.CounterStore
	if cfg.SharedStoreConfigured() {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		if err := redisClient.Ping(pingCtx).Err(); err != nil {
			appLogger.Warnf("shared store unreachable, running local-only: %v", err)
		} else {
			sharedCache = cache.NewRedisStore(redisClient)
			counterStore = ratelimit.NewRedisStore(redisClient)
			appLogger.Info("shared store connected")
		}
		cancel()
	} else {
		appLogger.Info("no shared store configured, running local-only")
	}

	// Initialize services
	recorder := telemetry.NewRecorder(appLogger, nil)
	quoteCache := cache.New(cache.NewLocal(cfg.CacheMaxEntries), sharedCache, appLogger, cfg.CacheTTL, cfg.CacheStaleRetention)

	providers := []provider.QuoteProvider{}
	if cfg.AlphaVantage.Enabled {
		providers = append(providers, provider.NewAlphaVantage(cfg.AlphaVantage, appLogger))
	}
	if cfg.TwelveData.Enabled {
		providers = append(providers, provider.NewTwelveData(cfg.TwelveData, appLogger))
	}

	quoteService := service.NewQuoteService(cfg, appLogger, recorder, quoteCache, providers)
	rateLimiter := ratelimit.NewLimiter(cfg, appLogger, counterStore)

	var refresher *service.Refresher
	if cfg.EnableRealtime {
		refresher = service.NewRefresher(quoteService, appLogger, cfg.RefreshInterval)
		refresher.Start()
		appLogger.Info("background refresh enabled")
	}

	// Initialize HTTP handlers and Gin router
	handlers := api.NewHandlers(quoteService, appLogger).WithRateLimit(rateLimiter)
	router := handlers.SetupRoutes()

	// Setup HTTP server
	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		appLogger.Info("Starting market data service on port " + cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Create a shutdown context that works across platforms
	shutdownCtx, stop := platform.NewShutdownContext(context.Background())
	defer stop()
	<-shutdownCtx.Done()

	appLogger.Info("Shutting down server...")

	if refresher != nil {
		refresher.Stop()
	}
	rateLimiter.Stop()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	// Give outstanding requests 30 seconds to complete
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		appLogger.Fatalf("Server forced to shutdown: %v", err)
	}

	appLogger.Info("Server exited")
}
