package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/stonefield/broker-api/internal/auth"
	"github.com/stonefield/broker-api/internal/clock"
	"github.com/stonefield/broker-api/internal/config"
	"github.com/stonefield/broker-api/internal/database"
	"github.com/stonefield/broker-api/internal/notify"
	"github.com/stonefield/broker-api/internal/orders"
	"github.com/stonefield/broker-api/internal/preview"
	"github.com/stonefield/broker-api/internal/scheduler"
	"github.com/stonefield/broker-api/pkg/middleware"

	"github.com/gin-gonic/gin"
)

// init configures the application logging based on environment settings
// In development mode, it enables pretty printing with timestamps
// Debug logging can be enabled via DEBUG environment variable
func init() {
	// Configure pretty logging for development
	if os.Getenv("ENV") != "production" {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	// Set global log level
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

// main initializes and runs the brokerage API server with graceful
// shutdown support. It wires the order state machine, the settlement
// scheduler and the order-entry routes.
func main() {
	cfg, err := config.Load()
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Initialize database
	db, err := database.NewDatabase(cfg.DatabasePath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	// Initialize router
	router := gin.Default()

	// Initialize services and handlers
	authService := auth.NewService(cfg.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	// Register demo credentials for the seeded clients
	authService.RegisterAPICredentials("demo-api-key", "demo-api-secret", "CLI_001")
	authService.RegisterAPICredentials("demo-api-key-2", "demo-api-secret-2", "CLI_002")

	calendar := clock.NewCalendar()
	previewCache, err := preview.NewCache(cfg.PreviewTTL)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize preview cache")
	}

	orderService := orders.NewService(db, previewCache, notify.NewLogNotifier(), calendar, cfg.SettlementOffsetDays)
	orderHandlers := orders.NewGinHandlers(orderService)

	// Create and start the settlement scheduler
	processor := scheduler.NewProcessor(orderService, calendar, cfg.SchedulerInterval, cfg.MarketRestingTime)
	schedulerHandlers := scheduler.NewGinHandlers(processor, calendar)

	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()

	go processor.Start(processorCtx)

	// Setup middleware
	router.Use(middleware.RateLimit())

	// Setup API routes
	setupRoutes(router, cfg.JWTSecret, authHandlers, orderHandlers, schedulerHandlers)

	// Create server
	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// Graceful shutdown setup
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zlog.Info().Msg("Shutting down server...")

	// Give outstanding operations 5 seconds to complete
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zlog.Fatal().Err(err).Msg("Server forced to shutdown")
	}

	zlog.Info().Msg("Server exiting")
}

// setupRoutes configures all API endpoints and their handlers
// It groups routes by functionality and applies appropriate middleware:
// - Auth routes: Public endpoints for authentication
// - Order routes: Protected by JWT authentication
// - Internal routes: Protected by internal network authentication
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	orderHandlers *orders.GinHandlers,
	schedulerHandlers *scheduler.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Order-entry routes
		orderGroup := v1.Group("/orders")
		orderGroup.Use(middleware.JWTAuth(jwtSecret))
		{
			orderGroup.POST("/preview", orderHandlers.PreviewOrderHandler())
			orderGroup.POST("", orderHandlers.SubmitOrderHandler())
			orderGroup.GET("", orderHandlers.ListOrdersHandler())
			orderGroup.GET("/:order_id", orderHandlers.GetOrderHandler())
			orderGroup.POST("/:order_id/cancel", orderHandlers.CancelOrderHandler())
		}

		// Portfolio and account reads
		portfolio := v1.Group("/portfolio")
		portfolio.Use(middleware.JWTAuth(jwtSecret))
		{
			portfolio.GET("", orderHandlers.GetPortfolioHandler())
		}
		accounts := v1.Group("/accounts")
		accounts.Use(middleware.JWTAuth(jwtSecret))
		{
			accounts.GET("/:account_id", orderHandlers.GetAccountHandler())
		}

		// Internal routes (should be protected by internal network)
		internal := v1.Group("/internal")
		internal.Use(middleware.InternalAuth(jwtSecret))
		{
			internal.POST("/calendar/advance", schedulerHandlers.AdvanceCalendarHandler())
			internal.POST("/scheduler/run", schedulerHandlers.RunPassHandler())
		}
	}
}
