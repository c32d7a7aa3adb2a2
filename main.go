package main

import (
	"encoding/json"
	"flag"
	"fmt"
	stdlog "log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/fintrack/backend/src/config"
	"github.com/username/fintrack/backend/src/database"
	"github.com/username/fintrack/backend/src/handlers"
	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/processors"
	"github.com/username/fintrack/backend/src/security"
	"github.com/username/fintrack/backend/src/services"
	"golang.org/x/time/rate"
)

func rateLimitMiddleware(limiter *rate.Limiter, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow() {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
			logger.L.Warn("Rate limit exceeded",
				"method", r.Method,
				"path", r.URL.Path,
				"remoteAddr", r.RemoteAddr)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func enableCORS(origins []string, next http.Handler) http.Handler {
	allowedOrigins := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			allowedOrigins[o] = true
		}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if allowedOrigins[origin] {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Credentials", "true")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-Requested-With, If-None-Match, X-Request-ID")
			w.Header().Set("Access-Control-Expose-Headers", "ETag, X-Request-ID")
			w.Header().Add("Vary", "Origin")
		}

		if r.Method == http.MethodOptions {
			logger.L.Debug("Handling OPTIONS preflight request", "path", r.URL.Path, "origin", origin)
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func newRouter(investmentHandler *handlers.InvestmentHandler, authHandler *handlers.AuthHandler, healthHandler *handlers.HealthHandler) *http.ServeMux {
	rootMux := http.NewServeMux()
	rootMux.HandleFunc("GET /api/health", healthHandler.HandleHealth)
	investmentHandler.RegisterRoutes(rootMux, authHandler.AuthMiddleware)

	rootMux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" && r.Method == http.MethodGet {
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]string{"message": "Fintrack investments backend is running"})
			return
		}
		logger.L.Warn("Path not found", "method", r.Method, "path", r.URL.Path)
		http.NotFound(w, r)
	})
	return rootMux
}

func main() {
	issueToken := flag.Int64("issue-token", 0, "print a signed access token for the given user id and exit (development only)")
	flag.Parse()

	config.LoadConfig()
	logger.InitLogger(config.Cfg.LogLevel)

	authService := security.NewAuthService(config.Cfg.JWTSecret, config.Cfg.AccessTokenExpiry)
	if *issueToken != 0 {
		token, err := authService.GenerateToken(*issueToken)
		if err != nil {
			stdlog.Fatalf("Failed to issue token: %v", err)
		}
		fmt.Println(token)
		os.Exit(0)
	}

	logger.L.Info("Fintrack investments backend starting...")

	logger.L.Info("Initializing database...", "path", config.Cfg.DatabasePath)
	database.InitDB(config.Cfg.DatabasePath)
	logger.L.Info("Database initialized successfully.")

	logger.L.Info("Initializing caches...")
	reportCache := cache.New(config.Cfg.SummaryCacheTTL, services.CacheCleanupInterval)
	quoteCache := cache.New(config.Cfg.QuoteCacheTTL, services.CacheCleanupInterval)

	logger.L.Info("Initializing services and handlers...")
	quoteService := services.NewQuoteService(
		database.NewPriceCacheStore(database.DB),
		quoteCache,
		services.DefaultProviderChains(config.Cfg),
		services.NewQuoteThrottle(config.Cfg.QuoteRequestDelay),
		config.Cfg.QuoteCacheTTL,
	)
	investmentService := services.NewInvestmentService(
		database.DB,
		database.NewPositionStore(database.DB),
		database.NewLedgerStore(),
		quoteService,
		processors.NewSummaryProcessor(),
		processors.NewEvolutionProcessor(),
		reportCache,
	)

	investmentHandler := handlers.NewInvestmentHandler(investmentService, quoteService)
	authHandler := handlers.NewAuthHandler(authService)
	healthHandler := handlers.NewHealthHandler(database.DB)

	logger.L.Info("Configuring routes...")
	rootMux := newRouter(investmentHandler, authHandler, healthHandler)

	logger.L.Info("Applying global middleware...")
	limiter := rate.NewLimiter(rate.Every(config.Cfg.RequestRateInterval), config.Cfg.RequestRateBurst)
	finalHandler := handlers.RequestLogger(enableCORS(config.Cfg.AllowedOrigins, rateLimitMiddleware(limiter, rootMux)))

	serverAddr := ":" + config.Cfg.Port
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      finalHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second, // price updates call providers sequentially
		IdleTimeout:  60 * time.Second,
	}

	logger.L.Info("Server starting", "address", serverAddr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.L.Error("Failed to start server", "error", err)
		stdlog.Fatalf("Failed to start server: %v", err)
	} else if err == http.ErrServerClosed {
		logger.L.Info("Server stopped gracefully.")
	}
}
