package config

import (
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

const defaultJWTSecret = "your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes"

type AppConfig struct {
	Port              string        `env:"PORT" envDefault:"8080"`
	DatabasePath      string        `env:"DATABASE_PATH" envDefault:"./fintrack.db"`
	LogLevel          string        `env:"LOG_LEVEL" envDefault:"info"`
	JWTSecret         string        `env:"JWT_SECRET" envDefault:"your-very-secure-and-long-jwt-secret-key-for-hs256-minimum-32-bytes"`
	AccessTokenExpiry time.Duration `env:"ACCESS_TOKEN_EXPIRY" envDefault:"60m"`
	AllowedOrigins    []string      `env:"ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`

	// Inbound request limiter, shared by every client.
	RequestRateInterval time.Duration `env:"REQUEST_RATE_INTERVAL" envDefault:"100ms"`
	RequestRateBurst    int           `env:"REQUEST_RATE_BURST" envDefault:"30"`

	// Market data
	QuoteCacheTTL       time.Duration `env:"QUOTE_CACHE_TTL" envDefault:"15m"`
	QuoteRequestDelay   time.Duration `env:"QUOTE_REQUEST_DELAY" envDefault:"200ms"`
	QuoteHTTPTimeout    time.Duration `env:"QUOTE_HTTP_TIMEOUT" envDefault:"20s"`
	AlphaVantageAPIKey  string        `env:"ALPHA_VANTAGE_API_KEY" envDefault:"demo"`
	CoinGeckoAPIKey     string        `env:"COINGECKO_API_KEY"`
	YahooBaseURL        string        `env:"YAHOO_BASE_URL" envDefault:"https://query1.finance.yahoo.com"`
	AlphaVantageBaseURL string        `env:"ALPHA_VANTAGE_BASE_URL" envDefault:"https://www.alphavantage.co"`
	CoinGeckoBaseURL    string        `env:"COINGECKO_BASE_URL" envDefault:"https://api.coingecko.com/api/v3"`

	SummaryCacheTTL time.Duration `env:"SUMMARY_CACHE_TTL" envDefault:"15m"`
}

var Cfg *AppConfig

// LoadConfig reads .env (if present) and the process environment into Cfg.
// It exits the process when the environment cannot be parsed.
func LoadConfig() {
	errEnv := godotenv.Load()
	if errEnv != nil {
		log.Println("Info: No .env file found or error loading .env file. Relying on OS environment variables and defaults. Error (if any):", errEnv)
	} else {
		log.Println(".env file loaded successfully.")
	}

	log.Println("Loading application configuration...")
	cfg, err := Parse()
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	Cfg = cfg

	log.Printf("Configuration loaded: Port=%s, LogLevel=%s, DBPath=%s, QuoteCacheTTL=%s, QuoteRequestDelay=%s",
		Cfg.Port, Cfg.LogLevel, Cfg.DatabasePath, Cfg.QuoteCacheTTL, Cfg.QuoteRequestDelay)
}

// Parse builds an AppConfig from the current environment without touching Cfg.
func Parse() (*AppConfig, error) {
	cfg := &AppConfig{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if cfg.JWTSecret == defaultJWTSecret {
		log.Println("WARNING: Using default insecure JWT_SECRET. Set JWT_SECRET environment variable for production.")
	}
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("JWT_SECRET must be at least 32 bytes long, got %d", len(cfg.JWTSecret))
	}
	if cfg.AlphaVantageAPIKey == "demo" {
		log.Println("WARNING: ALPHA_VANTAGE_API_KEY not set, using the demo key with limited symbols.")
	}
	if cfg.QuoteRequestDelay < 0 {
		log.Printf("WARNING: Negative QUOTE_REQUEST_DELAY %s, using 0.", cfg.QuoteRequestDelay)
		cfg.QuoteRequestDelay = 0
	}
	return cfg, nil
}
