package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ecash-wallet/config"
	httpHandler "ecash-wallet/internal/adapter/http/handler"
	"ecash-wallet/internal/adapter/mint"
	pgStorage "ecash-wallet/internal/adapter/storage/postgres"
	redisStorage "ecash-wallet/internal/adapter/storage/redis"
	"ecash-wallet/internal/core/ports"
	"ecash-wallet/internal/service"
	"ecash-wallet/pkg/logger"
)

func main() {
	// Load configuration
	cfg, err := config.Load("")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("mode", cfg.Server.Mode).
		Int("port", cfg.Server.Port).
		Str("mint_url", cfg.Mint.URL).
		Msg("Starting ecash wallet")

	ctx := context.Background()

	// Initialize PostgreSQL pool
	pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()
	log.Info().Msg("PostgreSQL connected")

	// Initialize Redis client
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	// Initialize core services
	encSvc, err := service.NewAESEncryptionService(cfg.AES.Key)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize encryption service")
	}
	sigSvc := service.NewHMACSignatureService()
	hashSvc := service.NewArgon2HashService()
	tokenSvc := service.NewJWTTokenService(cfg.JWT.Secret, cfg.JWT.Expiry, cfg.JWT.Issuer)

	// Initialize repositories
	proofRepo := pgStorage.NewProofRepo(pool, encSvc)
	txRepo := pgStorage.NewTransactionRepo(pool)
	quoteRepo := pgStorage.NewQuoteRepo(pool)
	idempotencyRepo := pgStorage.NewIdempotencyRepo(pool)
	transactor := pgStorage.NewTransactor(pool)

	// Initialize Redis stores
	idempotencyCache := redisStorage.NewIdempotencyCache(rdb)
	issuanceGuard := redisStorage.NewIssuanceGuard(rdb)

	// Initialize the mint client and business services
	mintClient := mint.NewClient(cfg.Mint, nil, log)
	notifierSvc := service.NewNotifierService(
		cfg.Notifier.URL, cfg.Notifier.Secret, sigSvc,
		&http.Client{Timeout: 10 * time.Second}, log,
	)
	authSvc := service.NewAuthService(cfg.Auth.PassphraseHash, hashSvc, tokenSvc)
	walletSvc := service.NewWalletService(
		proofRepo,
		txRepo,
		quoteRepo,
		idempotencyRepo,
		idempotencyCache,
		issuanceGuard,
		mintClient,
		notifierSvc,
		transactor,
		cfg.Mint.URL,
		cfg.Quote.Expiry,
		log,
	)

	// The tracker drives asynchronous quote confirmation and calls back
	// into the wallet service to finalize paid quotes.
	tracker := service.NewQuoteTracker(
		mintClient, quoteRepo, walletSvc,
		cfg.Quote.PollInterval, cfg.Quote.Expiry, log,
	)
	walletSvc.SetQuoteTracker(tracker)
	defer tracker.Close()

	// Re-register quotes that were still pending when the process last exited
	if err := tracker.Resume(ctx); err != nil {
		log.Error().Err(err).Msg("Failed to resume pending quotes")
	}

	// Initialize rate limit store
	rateLimitStore := redisStorage.NewRateLimitStore(rdb)

	// Initialize health checkers
	pgHealth := pgStorage.NewHealthCheck(pool)
	redisHealth := redisStorage.NewHealthCheck(rdb)

	// Setup Gin router with all routes
	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		AuthSvc:        authSvc,
		WalletSvc:      walletSvc,
		Tracker:        tracker,
		TokenSvc:       tokenSvc,
		RateLimitStore: rateLimitStore,
		HealthCheckers: []ports.HealthChecker{pgHealth, redisHealth},
		MintURL:        cfg.Mint.URL,
		Logger:         log,
	})

	// HTTP Server with graceful shutdown
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	// Start server in goroutine
	go func() {
		log.Info().Str("addr", addr).Msg("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server failed")
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited")
}
