package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/fintrack/backend/src/models"
)

// PriceCacheStore persists the last known quote per (symbol, market).
type PriceCacheStore interface {
	Get(ctx context.Context, key models.QuoteKey) (*models.Quote, error)
	Upsert(ctx context.Context, quote models.Quote) error
}

type priceCacheStoreImpl struct {
	db *sql.DB
}

func NewPriceCacheStore(db *sql.DB) PriceCacheStore {
	return &priceCacheStoreImpl{db: db}
}

// Get returns nil, nil when nothing is cached for key.
func (s *priceCacheStoreImpl) Get(ctx context.Context, key models.QuoteKey) (*models.Quote, error) {
	var (
		q           models.Quote
		lastUpdated int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT symbol, market, price, currency, last_updated
		FROM price_cache WHERE symbol = ? AND market = ?`, key.Symbol, key.Market).
		Scan(&q.Symbol, &q.Market, &q.Price, &q.Currency, &lastUpdated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading cached price for %s: %w", key, err)
	}
	q.LastUpdated = time.Unix(lastUpdated, 0).UTC()
	q.Source = models.QuoteSourceCache
	return &q, nil
}

func (s *priceCacheStoreImpl) Upsert(ctx context.Context, quote models.Quote) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO price_cache (symbol, market, price, currency, last_updated)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(symbol, market) DO UPDATE SET
			price = excluded.price,
			currency = excluded.currency,
			last_updated = excluded.last_updated`,
		quote.Symbol, quote.Market, quote.Price, quote.Currency, quote.LastUpdated.Unix())
	if err != nil {
		return fmt.Errorf("error caching price for %s-%s: %w", quote.Symbol, quote.Market, err)
	}
	return nil
}
