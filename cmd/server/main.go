package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"

	"github.com/saiboyizhan/flip-predict-sub005/internal/accounts"
	"github.com/saiboyizhan/flip-predict-sub005/internal/amm"
	"github.com/saiboyizhan/flip-predict-sub005/internal/auth"
	"github.com/saiboyizhan/flip-predict-sub005/internal/config"
	"github.com/saiboyizhan/flip-predict-sub005/internal/database"
	"github.com/saiboyizhan/flip-predict-sub005/internal/events"
	"github.com/saiboyizhan/flip-predict-sub005/internal/liquidity"
	"github.com/saiboyizhan/flip-predict-sub005/internal/market"
	"github.com/saiboyizhan/flip-predict-sub005/internal/orderbook"
	"github.com/saiboyizhan/flip-predict-sub005/internal/position"
	"github.com/saiboyizhan/flip-predict-sub005/internal/revshare"
	"github.com/saiboyizhan/flip-predict-sub005/internal/settlement"
	"github.com/saiboyizhan/flip-predict-sub005/pkg/middleware"

	"github.com/gin-gonic/gin"
)

func configureLogging(cfg config.LogConfig) {
	if cfg.Pretty {
		output := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: time.RFC3339,
		}
		zlog.Logger = zerolog.New(output).With().Timestamp().Logger()
	}

	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if os.Getenv("DEBUG") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to load config")
	}
	configureLogging(cfg.Log)

	db, err := database.NewDatabase(cfg.Storage.DSN)
	if err != nil {
		zlog.Fatal().Err(err).Msg("Failed to initialize database")
	}

	router := gin.Default()

	authService := auth.NewService(cfg.Auth.JWTSecret)
	authHandlers := auth.NewGinHandlers(authService)
	registerCredentials(authService)

	locks := market.NewLocks()

	marketService := market.NewService(db, locks, cfg.Engine)
	marketHandlers := market.NewGinHandlers(marketService)

	ammService := amm.NewService(db, locks)
	ammHandlers := amm.NewGinHandlers(ammService)

	liquidityService := liquidity.NewService(db, locks)
	liquidityHandlers := liquidity.NewGinHandlers(liquidityService)

	positionService := position.NewService(db, locks)
	positionHandlers := position.NewGinHandlers(positionService)

	depth := orderbook.NewDepth()
	if err := depth.Rebuild(db); err != nil {
		zlog.Fatal().Err(err).Msg("Failed to rebuild depth index")
	}
	orderbookService := orderbook.NewService(db, locks, depth)
	orderbookHandlers := orderbook.NewGinHandlers(orderbookService)

	settlementService := settlement.NewService(db, locks)
	settlementHandlers := settlement.NewGinHandlers(settlementService)

	accountService := accounts.NewService(db)
	accountHandlers := accounts.NewGinHandlers(accountService)

	eventProcessor := events.NewProcessor(
		events.NewDatabase(db),
		cfg.Engine.ProcessorInterval(),
		revshare.NewConsumer(db, locks, uint64(cfg.Engine.RevenueSharePct)),
		orderbook.NewDepthReset(depth),
	)
	processorCtx, processorCancel := context.WithCancel(context.Background())
	defer processorCancel()
	go eventProcessor.Start(processorCtx)

	router.Use(middleware.RateLimit())

	setupRoutes(router, cfg.Auth.JWTSecret,
		authHandlers, marketHandlers, ammHandlers, liquidityHandlers,
		positionHandlers, orderbookHandlers, settlementHandlers, accountHandlers)

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			zlog.Fatal().Err(err).Msg("listen")
		}
	}()

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

// registerCredentials loads API credentials from the environment, falling
// back to development defaults.
func registerCredentials(authService *auth.Service) {
	apiKey := envOr("API_KEY", "dev-api-key")
	apiSecret := envOr("API_SECRET", "dev-api-secret")
	authService.RegisterAPICredentials(apiKey, apiSecret)

	resolverKey := envOr("RESOLVER_KEY", "dev-resolver-key")
	resolverSecret := envOr("RESOLVER_SECRET", "dev-resolver-secret")
	authService.RegisterResolverCredentials(resolverKey, resolverSecret)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// setupRoutes groups endpoints by concern: public auth and reads, JWT-gated
// trading, and resolver-gated lifecycle transitions.
func setupRoutes(
	router *gin.Engine,
	jwtSecret string,
	authHandlers *auth.GinHandlers,
	marketHandlers *market.GinHandlers,
	ammHandlers *amm.GinHandlers,
	liquidityHandlers *liquidity.GinHandlers,
	positionHandlers *position.GinHandlers,
	orderbookHandlers *orderbook.GinHandlers,
	settlementHandlers *settlement.GinHandlers,
	accountHandlers *accounts.GinHandlers,
) {
	v1 := router.Group("/api/v1")
	{
		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/token", authHandlers.GenerateTokenHandler())
		}

		// Public reads
		v1.GET("/markets", marketHandlers.ListMarketsHandler())
		v1.GET("/markets/:market_id", marketHandlers.GetMarketHandler())
		v1.GET("/markets/:market_id/pool", marketHandlers.GetPoolHandler())
		v1.GET("/markets/:market_id/book", orderbookHandlers.GetBookHandler())
		v1.GET("/markets/:market_id/settlements", settlementHandlers.RecordsHandler())
		v1.GET("/markets/:market_id/positions/:address", positionHandlers.GetPositionHandler())
		v1.GET("/markets/:market_id/liquidity/:address", liquidityHandlers.GetLpInfoHandler())
		v1.GET("/accounts/:address", accountHandlers.GetBalanceHandler())
		v1.GET("/orders/:order_id", orderbookHandlers.GetOrderHandler())

		// Trading routes
		trading := v1.Group("")
		trading.Use(middleware.JWTAuth(jwtSecret))
		{
			trading.POST("/accounts/deposit", accountHandlers.DepositHandler())
			trading.POST("/markets", marketHandlers.CreateMarketHandler())
			trading.POST("/markets/:market_id/buy", ammHandlers.BuyHandler())
			trading.POST("/markets/:market_id/sell", ammHandlers.SellHandler())
			trading.POST("/markets/:market_id/liquidity", liquidityHandlers.AddLiquidityHandler())
			trading.DELETE("/markets/:market_id/liquidity", liquidityHandlers.RemoveLiquidityHandler())
			trading.POST("/markets/:market_id/split", positionHandlers.SplitHandler())
			trading.POST("/markets/:market_id/merge", positionHandlers.MergeHandler())
			trading.POST("/markets/:market_id/orders", orderbookHandlers.PlaceOrderHandler())
			trading.DELETE("/orders/:order_id", orderbookHandlers.CancelOrderHandler())
			trading.POST("/markets/:market_id/claim", settlementHandlers.ClaimWinningsHandler())
			trading.POST("/markets/:market_id/claim/lp", settlementHandlers.LpClaimHandler())
			trading.POST("/markets/:market_id/refund", settlementHandlers.RefundHandler())
			trading.POST("/markets/:market_id/refund/lp", settlementHandlers.LpRefundHandler())
		}

		// Resolver routes
		resolver := v1.Group("/markets")
		resolver.Use(middleware.JWTAuth(jwtSecret), middleware.ResolverAuth())
		{
			resolver.POST("/:market_id/resolve", marketHandlers.ResolveHandler())
			resolver.POST("/:market_id/cancel", marketHandlers.CancelMarketHandler())
		}
	}
}
