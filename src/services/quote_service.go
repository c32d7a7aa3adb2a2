package services

import (
	"context"
	"fmt"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/fintrack/backend/src/config"
	"github.com/username/fintrack/backend/src/database"
	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/services/providers"
	"golang.org/x/time/rate"
)

const ckQuote = "quote_%s"

type quoteServiceImpl struct {
	priceCache database.PriceCacheStore
	quoteCache *cache.Cache
	chains     map[models.Market][]providers.Provider
	throttle   Throttle
	ttl        time.Duration
	now        Clock
}

// NewQuoteService wires the caches and the per-market provider chains.
// quoteCache entries expire after ttl; persisted quotes younger than ttl are
// served without calling a provider.
func NewQuoteService(
	priceCache database.PriceCacheStore,
	quoteCache *cache.Cache,
	chains map[models.Market][]providers.Provider,
	throttle Throttle,
	ttl time.Duration,
) QuoteService {
	return &quoteServiceImpl{
		priceCache: priceCache,
		quoteCache: quoteCache,
		chains:     chains,
		throttle:   throttle,
		ttl:        ttl,
		now:        time.Now,
	}
}

// DefaultProviderChains builds the provider order for each market from cfg.
// OTHER has no provider.
func DefaultProviderChains(cfg *config.AppConfig) map[models.Market][]providers.Provider {
	client := providers.NewHTTPClient(cfg.QuoteHTTPTimeout)
	yahoo := providers.NewYahoo(client, cfg.YahooBaseURL)
	alphaVantage := providers.NewAlphaVantage(client, cfg.AlphaVantageBaseURL, cfg.AlphaVantageAPIKey)
	coinGecko := providers.NewCoinGecko(client, cfg.CoinGeckoBaseURL, cfg.CoinGeckoAPIKey)

	return map[models.Market][]providers.Provider{
		models.MarketASX:    {yahoo},
		models.MarketB3:     {yahoo},
		models.MarketUS:     {alphaVantage, yahoo},
		models.MarketCrypto: {coinGecko},
	}
}

// NewQuoteThrottle allows one provider call per delay.
func NewQuoteThrottle(delay time.Duration) *rate.Limiter {
	if delay <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(delay), 1)
}

func (s *quoteServiceImpl) GetQuote(ctx context.Context, symbol string, market models.Market) *models.Quote {
	key := models.QuoteKey{Symbol: symbol, Market: market}
	cacheKey := fmt.Sprintf(ckQuote, key)

	if cached, found := s.quoteCache.Get(cacheKey); found {
		q := cached.(models.Quote)
		return &q
	}

	persisted, err := s.priceCache.Get(ctx, key)
	if err != nil {
		logger.L.Warn("Could not read persisted quote", "key", key.String(), "error", err)
	}
	if persisted != nil && s.now().Sub(persisted.LastUpdated) < s.ttl {
		logger.L.Debug("Using cached price", "key", key.String())
		s.quoteCache.Set(cacheKey, *persisted, s.ttl-s.now().Sub(persisted.LastUpdated))
		return persisted
	}

	chain := s.chains[market]
	if len(chain) == 0 {
		logger.L.Warn("No quote provider for market", "market", market, "symbol", symbol)
		return persisted
	}

	for _, provider := range chain {
		quote, err := provider.Fetch(ctx, symbol, market)
		if err != nil {
			logger.L.Warn("Quote provider failed", "provider", provider.Name(), "key", key.String(), "error", err)
			continue
		}
		quote.Symbol = symbol
		quote.Market = market
		if err := s.priceCache.Upsert(ctx, *quote); err != nil {
			logger.L.Warn("Could not persist quote", "key", key.String(), "error", err)
		}
		s.quoteCache.Set(cacheKey, *quote, s.ttl)
		logger.L.Info("Fetched quote", "provider", provider.Name(), "key", key.String(), "price", quote.Price, "currency", quote.Currency)
		return quote
	}

	logger.L.Error("Every quote provider failed", "key", key.String(), "error", fmt.Errorf("%w: %s", models.ErrQuoteProvider, key), "staleFallback", persisted != nil)
	return persisted
}

// BatchQuotes looks keys up one after the other, waiting on the throttle before
// each lookup. Keys without a quote are absent from the result.
func (s *quoteServiceImpl) BatchQuotes(ctx context.Context, keys []models.QuoteKey) map[models.QuoteKey]models.Quote {
	results := make(map[models.QuoteKey]models.Quote)
	seen := make(map[models.QuoteKey]bool)

	for _, key := range keys {
		if seen[key] {
			continue
		}
		seen[key] = true

		if err := s.throttle.Wait(ctx); err != nil {
			logger.L.Warn("Quote batch interrupted", "error", err, "fetched", len(results))
			break
		}
		if quote := s.GetQuote(ctx, key.Symbol, key.Market); quote != nil {
			results[key] = *quote
		}
	}
	return results
}
