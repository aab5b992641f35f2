package handler

import (
	"ecash-wallet/internal/adapter/http/middleware"
	redisStore "ecash-wallet/internal/adapter/storage/redis"
	"ecash-wallet/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	AuthSvc        ports.AuthService
	WalletSvc      ports.WalletService
	Tracker        ports.QuoteTracker
	TokenSvc       ports.TokenService
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	MintURL        string
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep: verifies PostgreSQL and Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.AuthSvc)
	v1.POST("/unlock", rl("unlock"), authHandler.Unlock)

	// --- Session-authenticated wallet routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	walletHandler := NewWalletHandler(deps.WalletSvc, deps.Tracker, deps.MintURL)

	wallet := v1.Group("/wallet", jwtAuth)
	{
		wallet.POST("/mint", rl("operations"), walletHandler.Mint)
		wallet.POST("/send", rl("operations"), walletHandler.Send)
		wallet.POST("/receive", rl("operations"), walletHandler.Receive)
		wallet.POST("/melt", rl("operations"), walletHandler.Melt)

		wallet.GET("/balance", rl("queries"), walletHandler.Balance)
		wallet.GET("/transactions", rl("queries"), walletHandler.Transactions)
		wallet.GET("/stats", rl("queries"), walletHandler.Stats)
		wallet.GET("/events", walletHandler.Events)
	}

	return r
}
