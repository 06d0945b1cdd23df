package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"market-data-api/internal/logger"
	"market-data-api/internal/middleware"
	"market-data-api/internal/models"
	"market-data-api/internal/ratelimit"
	"market-data-api/internal/service"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	quoteService *service.QuoteService
	logger       *logger.Logger
	rateLimiter  *ratelimit.Limiter
	startTime    time.Time
}

// NewHandlers creates a new handlers instance
func NewHandlers(quoteService *service.QuoteService, log *logger.Logger) *Handlers {
	return &Handlers{
		quoteService: quoteService,
		logger:       log,
		startTime:    time.Now(),
	}
}

// WithRateLimit attaches the rate limiter after initialization
func (handlers *Handlers) WithRateLimit(limiter *ratelimit.Limiter) *Handlers {
	handlers.rateLimiter = limiter
	return handlers
}

// SetupRoutes configures all the routes using Gin
func (handlers *Handlers) SetupRoutes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(middleware.RequestLogger(handlers.logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestID())
	router.Use(middleware.CORS())

	generic := func(c *gin.Context) { c.Next() }
	data := generic
	strict := generic
	if handlers.rateLimiter != nil {
		generic = middleware.RateLimit(handlers.rateLimiter, ratelimit.ClassGeneric, ratelimit.KeyByIP)
		data = middleware.RateLimit(handlers.rateLimiter, ratelimit.ClassData, ratelimit.KeyByIPPath)
		strict = middleware.RateLimit(handlers.rateLimiter, ratelimit.ClassStrict, ratelimit.KeyByIPIdentity("X-Operator"))
	}

	router.GET("/health", generic, handlers.HealthCheck)

	apiV1 := router.Group("/api/v1")
	apiV1.Use(data)
	{
		apiV1.GET("/stocks", handlers.GetStockQuotes)
		apiV1.GET("/stocks/:symbol", handlers.GetStockQuote)
		apiV1.GET("/forex/:pair", handlers.GetForexRate)
		apiV1.GET("/indices/:symbol", handlers.GetIndexQuote)
		apiV1.GET("/baskets/korea", handlers.GetKoreanBasket)
		apiV1.GET("/baskets/forex", handlers.GetForexBasket)
		apiV1.GET("/status", handlers.GetStatus)
	}

	admin := router.Group("/api/v1/admin")
	admin.Use(strict)
	{
		admin.POST("/errors/reset", handlers.ResetErrorStats)
	}

	return router
}

// HealthCheck handles liveness requests.
func (handlers *Handlers) HealthCheck(context *gin.Context) {
	context.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": time.Now(),
		"uptime":    time.Since(handlers.startTime).String(),
	})
}

// GetStockQuote returns one stock quote, optionally bypassing the cache.
func (handlers *Handlers) GetStockQuote(context *gin.Context) {
	symbol := strings.ToUpper(context.Param("symbol"))
	if symbol == "" {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid symbol", "symbol must not be empty")
		return
	}

	quote, err := handlers.quoteService.GetStockQuote(context.Request.Context(), symbol, forceRefresh(context))
	if err != nil {
		handlers.writeFetchError(context, err)
		return
	}
	context.JSON(http.StatusOK, quote)
}

// GetStockQuotes returns quotes for a comma-separated symbols query.
// Partial success is a 200 with per-symbol errors in the body.
func (handlers *Handlers) GetStockQuotes(context *gin.Context) {
	raw := context.Query("symbols")
	symbols := splitSymbols(raw)
	if len(symbols) == 0 {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid symbols", "symbols query parameter is required")
		return
	}

	result := handlers.quoteService.GetStockQuotes(context.Request.Context(), symbols, forceRefresh(context))
	context.JSON(http.StatusOK, result)
}

// GetForexRate returns one currency pair. The path form uses a dash
// (USD-KRW); it is translated to the canonical USD/KRW.
func (handlers *Handlers) GetForexRate(context *gin.Context) {
	pair := strings.ToUpper(strings.ReplaceAll(context.Param("pair"), "-", "/"))
	if !strings.Contains(pair, "/") {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid pair", "pair must look like USD-KRW")
		return
	}

	rate, err := handlers.quoteService.GetForexRate(context.Request.Context(), pair, forceRefresh(context))
	if err != nil {
		handlers.writeFetchError(context, err)
		return
	}
	context.JSON(http.StatusOK, rate)
}

// GetIndexQuote returns one index level.
func (handlers *Handlers) GetIndexQuote(context *gin.Context) {
	symbol := strings.ToUpper(context.Param("symbol"))
	if symbol == "" {
		handlers.writeErrorResponse(context, http.StatusBadRequest, "invalid symbol", "symbol must not be empty")
		return
	}

	quote, err := handlers.quoteService.GetIndexQuote(context.Request.Context(), symbol, forceRefresh(context))
	if err != nil {
		handlers.writeFetchError(context, err)
		return
	}
	context.JSON(http.StatusOK, quote)
}

// GetKoreanBasket returns the Korean market basket.
func (handlers *Handlers) GetKoreanBasket(context *gin.Context) {
	basket := handlers.quoteService.GetKoreanBasket(context.Request.Context(), forceRefresh(context))
	context.JSON(http.StatusOK, basket)
}

// GetForexBasket returns the major currency pairs.
func (handlers *Handlers) GetForexBasket(context *gin.Context) {
	basket := handlers.quoteService.GetForexBasket(context.Request.Context(), forceRefresh(context))
	context.JSON(http.StatusOK, basket)
}

// GetStatus returns the aggregated health report: provider probes, cache
// statistics and error statistics.
func (handlers *Handlers) GetStatus(context *gin.Context) {
	health := handlers.quoteService.Health(context.Request.Context())
	context.JSON(http.StatusOK, gin.H{
		"health": health,
		"errors": handlers.quoteService.ErrorStats(),
	})
}

// ResetErrorStats clears accumulated error statistics. Operator action.
func (handlers *Handlers) ResetErrorStats(context *gin.Context) {
	handlers.quoteService.ResetErrorStats()
	handlers.logger.Warn("error statistics reset by operator")
	context.JSON(http.StatusOK, gin.H{"status": "reset"})
}

func forceRefresh(context *gin.Context) bool {
	return context.Query("refresh") == "true"
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.ToUpper(strings.TrimSpace(p)); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func (handlers *Handlers) writeFetchError(context *gin.Context, err error) {
	if service.IsAllProvidersFailed(err) {
		handlers.writeErrorResponse(context, http.StatusBadGateway, "failed to fetch quote", err.Error())
		return
	}
	handlers.writeErrorResponse(context, http.StatusInternalServerError, "internal error", err.Error())
}

// writeErrorResponse writes an error response using Gin context
func (handlers *Handlers) writeErrorResponse(context *gin.Context, statusCode int, errorMessage, errorDetails string) {
	context.JSON(statusCode, models.ErrorResponse{
		Error:   errorMessage,
		Message: errorDetails,
		Code:    statusCode,
	})
}
