package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/realstake/realstake-backend/internal/api"
	"github.com/realstake/realstake-backend/internal/config"
	"github.com/realstake/realstake-backend/internal/econia"
	"github.com/realstake/realstake-backend/internal/jobs"
	"github.com/realstake/realstake-backend/internal/listings"
	"github.com/realstake/realstake-backend/internal/livecache"
	"github.com/realstake/realstake-backend/internal/log"
	"github.com/realstake/realstake-backend/internal/markets"
	"github.com/realstake/realstake-backend/internal/metrics"
	"github.com/realstake/realstake-backend/internal/mirror"
	"github.com/realstake/realstake-backend/internal/onchain"
	"github.com/realstake/realstake-backend/internal/orderbook"
	"github.com/realstake/realstake-backend/internal/portfolio"
	"github.com/realstake/realstake-backend/internal/store"
	"github.com/realstake/realstake-backend/internal/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	logger, err := log.NewSugar(cfg.Env, "realstake-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Infow("Starting RealStake API server",
		"env", cfg.Env,
		"addr", cfg.HTTPAddr,
		"network", cfg.Aptos.Network,
	)

	// Setup metrics
	metricsObj, metricsHandler, err := metrics.Setup("realstake-api")
	if err != nil {
		logger.Fatalw("Failed to setup metrics", "error", err)
	}

	// Setup Redis cache, in-memory when Redis is unreachable
	cache, err := store.NewCache(cfg.Cache.RedisAddr, logger, metricsObj)
	if err != nil {
		logger.Fatalw("Failed to setup cache", "error", err)
	}
	defer cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := cache.Ping(ctx); err != nil {
		logger.Fatalw("Cache ping failed", "error", err)
	}
	cancel()
	logger.Infow("Cache connection established", "in_memory", cache.IsInMemoryMode())

	// Upstream clients
	bookClient := econia.NewClient(cfg.Orderbook.APIURL, cfg.Aptos.RequestTimeout, log.Component(logger, "econia"))
	chainClient := onchain.NewClient(onchain.ClientOptions{
		NodeURL:       cfg.Aptos.NodeURL,
		IndexerURL:    cfg.Aptos.IndexerURL,
		APIKey:        cfg.Aptos.APIKey,
		ModuleAddress: cfg.Aptos.ModuleAddress,
		EconiaAddress: cfg.Aptos.EconiaAddress,
		Timeout:       cfg.Aptos.RequestTimeout,
	}, log.Component(logger, "onchain"))
	coinSvc := onchain.NewCoinService(chainClient, cache, logger)

	// Live queries and the shared order book state
	live := livecache.NewStore(cache, log.Component(logger, "livecache"), metricsObj)
	defer live.Close()

	state := mirror.New(cache, log.Component(logger, "mirror"), metricsObj)
	writer, err := state.Writer()
	if err != nil {
		logger.Fatalw("Failed to acquire mirror writer", "error", err)
	}

	// Setup services
	marketsSvc := markets.NewService(bookClient, cache, logger)
	normalizer := orderbook.NewNormalizer(writer, log.Component(logger, "orderbook"))
	orderbookSvc := orderbook.NewService(bookClient, normalizer, live, cfg.Orderbook.PollInterval, cfg.Orderbook.Depth)
	portfolioSvc := portfolio.NewService(bookClient, chainClient, coinSvc, live, portfolio.Config{
		BalanceInterval: cfg.Orderbook.BalancePollInterval,
		TokenInterval:   cfg.Orderbook.TokenPollInterval,
		CollectionID:    cfg.Aptos.CollectionAddress,
	}, log.Component(logger, "portfolio"))
	listingsSvc := listings.NewService(chainClient, live, listings.Config{
		CollectionID:  cfg.Aptos.CollectionAddress,
		TokenInterval: cfg.Orderbook.TokenPollInterval,
	}, log.Component(logger, "listings"))

	// Setup WebSocket hub and SSE handler
	wsHub := ws.NewHub(cache, cfg.Security.CORSAllowedOrigins, log.Component(logger, "ws"), metricsObj)
	sseHandler := ws.NewSSEHandler(cache, cfg.Security.CORSAllowedOrigins, log.Component(logger, "sse"))

	// Create context for background services
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go wsHub.Run(bgCtx)

	watcher := jobs.NewMarketWatcher(orderbookSvc, log.Component(logger, "watcher"), jobs.MarketWatcherConfig{
		Markets: cfg.Orderbook.WatchMarkets,
		Depth:   cfg.Orderbook.Depth,
	})
	go func() {
		if err := watcher.Start(bgCtx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Errorw("Market watcher error", "error", err)
		}
	}()

	// Setup API handler and middleware
	handler := api.NewHandler(marketsSvc, orderbookSvc, portfolioSvc, listingsSvc, state, wsHub, sseHandler, cache, cfg, logger)
	middleware := api.NewMiddleware(logger, metricsObj)
	router := handler.Routes(middleware, metricsHandler, cfg.Security.CORSAllowedOrigins, cfg.Security.RateLimitRPM)

	logger.Infow("CORS configured", "allowed_origins", cfg.Security.CORSAllowedOrigins)

	// Setup HTTP server. No WriteTimeout: /v1/ws and /v1/stream are long lived
	// and the other routes carry their own timeout.
	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErrors := make(chan error, 1)
	go func() {
		logger.Infow("API server starting", "addr", server.Addr)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		logger.Fatalw("Server startup failed", "error", err)
	case sig := <-shutdown:
		logger.Infow("Shutdown signal received", "signal", sig.String())

		bgCancel()
		watcher.Stop()

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Errorw("Graceful shutdown failed", "error", err)
			server.Close()
		}

		logger.Infow("Server stopped")
	}
}
