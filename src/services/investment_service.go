package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/fintrack/backend/src/database"
	"github.com/username/fintrack/backend/src/logger"
	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/processors"
	"github.com/username/fintrack/backend/src/security/validation"
	"github.com/username/fintrack/backend/src/utils"
)

const (
	ckPortfolioSummary = "agg_portfolio_summary_user_%d"

	DefaultCacheExpiration = 15 * time.Minute
	CacheCleanupInterval   = 30 * time.Minute
)

type investmentServiceImpl struct {
	db                 *sql.DB
	positions          database.PositionStore
	ledger             database.LedgerStore
	quotes             QuoteService
	summaryProcessor   processors.SummaryProcessor
	evolutionProcessor processors.EvolutionProcessor
	reportCache        *cache.Cache
	now                Clock
}

func NewInvestmentService(
	db *sql.DB,
	positions database.PositionStore,
	ledger database.LedgerStore,
	quotes QuoteService,
	summaryProcessor processors.SummaryProcessor,
	evolutionProcessor processors.EvolutionProcessor,
	reportCache *cache.Cache,
) InvestmentService {
	return &investmentServiceImpl{
		db:                 db,
		positions:          positions,
		ledger:             ledger,
		quotes:             quotes,
		summaryProcessor:   summaryProcessor,
		evolutionProcessor: evolutionProcessor,
		reportCache:        reportCache,
		now:                time.Now,
	}
}

// storageError tags failures that did not come from a domain rule.
func storageError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, models.ErrInvalidInput) ||
		errors.Is(err, models.ErrPositionNotFound) ||
		errors.Is(err, models.ErrInsufficientQuantity) ||
		errors.Is(err, models.ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %v", models.ErrStorageUnavailable, err)
}

func invalidInput(err error) error {
	return fmt.Errorf("%w: %v", models.ErrInvalidInput, err)
}

// Buy opens the position on its first purchase and otherwise folds the lot into
// the weighted average. The position change and the ledger row commit together.
func (s *investmentServiceImpl) Buy(ctx context.Context, userID int64, req BuyRequest) (*TradeResult, error) {
	req, err := validateBuy(req)
	if err != nil {
		return nil, invalidInput(err)
	}

	var result TradeResult
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		pos, err := s.positions.FindOpenPosition(ctx, tx, userID, req.Symbol, req.Market)
		if err != nil {
			return err
		}

		var updated models.Position
		if pos == nil {
			updated, err = s.positions.CreatePosition(ctx, tx, database.NewPosition{
				UserID:       userID,
				AccountID:    req.AccountID,
				Type:         req.Type,
				Market:       req.Market,
				Symbol:       req.Symbol,
				Name:         req.Name,
				Quantity:     req.Quantity,
				Price:        req.Price,
				CurrencyCode: req.CurrencyCode,
			})
		} else {
			if pos.CurrencyCode != req.CurrencyCode {
				return invalidInput(fmt.Errorf("position %s-%s is held in %s, not %s", pos.Symbol, pos.Market, pos.CurrencyCode, req.CurrencyCode))
			}
			updated, err = s.positions.ApplyBuy(ctx, tx, *pos, req.Quantity, req.Price)
		}
		if err != nil {
			return err
		}

		total, err := processors.MulAdd(req.Quantity, req.Price, req.Fee)
		if err != nil {
			return invalidInput(err)
		}
		row, err := s.ledger.Append(ctx, tx, models.InvestmentTransaction{
			UserID:       userID,
			PositionID:   updated.ID,
			AccountID:    req.AccountID,
			Type:         models.TransactionTypeBuy,
			Symbol:       updated.Symbol,
			Market:       updated.Market,
			Quantity:     req.Quantity,
			Price:        req.Price,
			Total:        total,
			Fee:          req.Fee,
			CurrencyCode: updated.CurrencyCode,
			Date:         req.Date,
			Notes:        req.Notes,
		})
		if err != nil {
			return err
		}

		result = TradeResult{Position: &updated, Transaction: row}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Recorded buy", "userID", userID, "positionID", result.Position.ID, "symbol", req.Symbol,
		"market", req.Market, "quantity", req.Quantity, "price", req.Price, "avgBuyPrice", result.Position.AvgBuyPrice)
	return &result, nil
}

// Sell reduces the position, deleting its row when nothing is left. The ledger
// row always references the position id it was sold from.
func (s *investmentServiceImpl) Sell(ctx context.Context, userID int64, req SellRequest) (*TradeResult, error) {
	req, err := validateSell(req)
	if err != nil {
		return nil, invalidInput(err)
	}

	var result TradeResult
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		pos, err := s.positions.GetPosition(ctx, tx, req.PositionID, userID)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("%w: id %d", models.ErrPositionNotFound, req.PositionID)
		}

		updated, closed, err := s.positions.ApplySell(ctx, tx, *pos, req.Quantity)
		if err != nil {
			return err
		}

		total, err := processors.MulAdd(req.Quantity, req.Price, -req.Fee)
		if err != nil {
			return invalidInput(err)
		}

		row, err := s.ledger.Append(ctx, tx, models.InvestmentTransaction{
			UserID:       userID,
			PositionID:   pos.ID,
			AccountID:    req.AccountID,
			Type:         models.TransactionTypeSell,
			Symbol:       pos.Symbol,
			Market:       pos.Market,
			Quantity:     req.Quantity,
			Price:        req.Price,
			Total:        total,
			Fee:          req.Fee,
			CurrencyCode: pos.CurrencyCode,
			Date:         req.Date,
			Notes:        req.Notes,
		})
		if err != nil {
			return err
		}

		result = TradeResult{Closed: closed, Transaction: row}
		if !closed {
			result.Position = &updated
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Recorded sell", "userID", userID, "positionID", req.PositionID, "quantity", req.Quantity,
		"price", req.Price, "closed", result.Closed)
	return &result, nil
}

// RecordIncome appends a dividend or interest row. The position is left untouched.
func (s *investmentServiceImpl) RecordIncome(ctx context.Context, userID int64, req IncomeRequest) (*models.InvestmentTransaction, error) {
	req, err := validateIncome(req)
	if err != nil {
		return nil, invalidInput(err)
	}

	var row models.InvestmentTransaction
	err = database.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		pos, err := s.positions.GetPosition(ctx, tx, req.PositionID, userID)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("%w: id %d", models.ErrPositionNotFound, req.PositionID)
		}
		row, err = s.ledger.Append(ctx, tx, models.InvestmentTransaction{
			UserID:       userID,
			PositionID:   pos.ID,
			AccountID:    req.AccountID,
			Type:         req.Type,
			Symbol:       pos.Symbol,
			Market:       pos.Market,
			Quantity:     0,
			Price:        req.Amount,
			Total:        req.Amount - req.Fee,
			Fee:          req.Fee,
			CurrencyCode: pos.CurrencyCode,
			Date:         req.Date,
			Notes:        req.Notes,
		})
		return err
	})
	if err != nil {
		return nil, storageError(err)
	}

	s.InvalidateUserCache(userID)
	logger.L.Info("Recorded income", "userID", userID, "positionID", req.PositionID, "type", req.Type, "amount", req.Amount)
	return &row, nil
}

func (s *investmentServiceImpl) UpdatePosition(ctx context.Context, userID, positionID int64, req UpdatePositionRequest) (*models.Position, error) {
	upd := database.PositionUpdate{}
	if req.Name != nil {
		name, err := validation.SanitizeText("name", *req.Name, validation.MaxNameLength)
		if err != nil {
			return nil, invalidInput(err)
		}
		if name == "" {
			return nil, invalidInput(errors.New("name must not be empty"))
		}
		upd.Name = &name
	}
	if req.CurrentPrice != nil {
		if *req.CurrentPrice < 0 {
			return nil, invalidInput(errors.New("currentPrice must not be negative"))
		}
		now := s.now()
		upd.CurrentPrice = req.CurrentPrice
		upd.LastPriceUpdate = &now
	}

	pos, err := s.positions.UpdatePosition(ctx, s.db, positionID, userID, upd)
	if err != nil {
		return nil, storageError(err)
	}
	s.InvalidateUserCache(userID)
	return &pos, nil
}

// DeletePosition removes the position together with its ledger history.
func (s *investmentServiceImpl) DeletePosition(ctx context.Context, userID, positionID int64) error {
	if err := s.positions.DeletePosition(ctx, positionID, userID); err != nil {
		return storageError(err)
	}
	s.InvalidateUserCache(userID)
	logger.L.Info("Deleted position", "userID", userID, "positionID", positionID)
	return nil
}

// GetSummary is cached per user until the next write.
func (s *investmentServiceImpl) GetSummary(ctx context.Context, userID int64) (*models.PortfolioSummary, error) {
	cacheKey := fmt.Sprintf(ckPortfolioSummary, userID)
	if cached, found := s.reportCache.Get(cacheKey); found {
		logger.L.Debug("Cache hit for portfolio summary", "userID", userID)
		summary := cached.(models.PortfolioSummary)
		return &summary, nil
	}

	positions, err := s.positions.ListPositions(ctx, s.db, userID)
	if err != nil {
		return nil, storageError(err)
	}
	summary, err := s.summaryProcessor.Summarize(positions)
	if err != nil {
		return nil, fmt.Errorf("error summarizing portfolio for user %d: %w", userID, err)
	}
	s.reportCache.Set(cacheKey, summary, cache.DefaultExpiration)
	return &summary, nil
}

func (s *investmentServiceImpl) GetPositions(ctx context.Context, userID int64) ([]models.Position, error) {
	positions, err := s.positions.ListPositions(ctx, s.db, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return positions, nil
}

func (s *investmentServiceImpl) GetPosition(ctx context.Context, userID, positionID int64) (*models.Position, error) {
	pos, err := s.positions.GetPosition(ctx, s.db, positionID, userID)
	if err != nil {
		return nil, storageError(err)
	}
	if pos == nil {
		return nil, fmt.Errorf("%w: id %d", models.ErrPositionNotFound, positionID)
	}
	return pos, nil
}

// GetPositionTransactions also serves closed positions, whose history outlives the row.
func (s *investmentServiceImpl) GetPositionTransactions(ctx context.Context, userID, positionID int64) ([]models.InvestmentTransaction, error) {
	txs, err := s.ledger.ListByPosition(ctx, s.db, positionID, userID)
	if err != nil {
		return nil, storageError(err)
	}
	return txs, nil
}

func (s *investmentServiceImpl) GetAllTransactions(ctx context.Context, userID int64, filter models.TransactionFilter) ([]models.InvestmentTransaction, error) {
	if filter.Limit < 0 {
		return nil, invalidInput(fmt.Errorf("limit must not be negative, got %d", filter.Limit))
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, invalidInput(fmt.Errorf("unknown transaction type '%s'", filter.Type))
	}
	txs, err := s.ledger.ListAll(ctx, s.db, userID, filter)
	if err != nil {
		return nil, storageError(err)
	}
	return txs, nil
}

// GetPortfolioEvolution defaults to monthly buckets over the last year.
func (s *investmentServiceImpl) GetPortfolioEvolution(ctx context.Context, userID int64, query EvolutionQuery) ([]models.EvolutionPoint, error) {
	query, err := s.evolutionDefaults(query)
	if err != nil {
		return nil, invalidInput(err)
	}

	txs, err := s.ledger.ListUntil(ctx, s.db, userID, query.EndDate)
	if err != nil {
		return nil, storageError(err)
	}
	series, err := s.evolutionProcessor.Evolution(txs, query.Interval, query.StartDate)
	if err != nil {
		return nil, storageError(err)
	}
	return series, nil
}

func (s *investmentServiceImpl) evolutionDefaults(query EvolutionQuery) (EvolutionQuery, error) {
	today := s.now().UTC()
	if query.Interval == "" {
		query.Interval = models.IntervalMonthly
	}
	if !query.Interval.Valid() {
		return query, fmt.Errorf("unknown interval '%s'", query.Interval)
	}
	if query.EndDate == "" {
		query.EndDate = utils.FormatDate(today)
	}
	if query.StartDate == "" {
		query.StartDate = utils.FormatDate(today.AddDate(-1, 0, 0))
	}
	if err := validation.ValidateDate("endDate", query.EndDate); err != nil {
		return query, err
	}
	if err := validation.ValidateDate("startDate", query.StartDate); err != nil {
		return query, err
	}
	if query.StartDate > query.EndDate {
		return query, fmt.Errorf("startDate %s is after endDate %s", query.StartDate, query.EndDate)
	}
	return query, nil
}

// UpdatePrices refreshes the stored price of every open position. Positions
// without a quote keep their previous price.
func (s *investmentServiceImpl) UpdatePrices(ctx context.Context, userID int64) (*PriceUpdateResult, error) {
	positions, err := s.positions.ListPositions(ctx, s.db, userID)
	if err != nil {
		return nil, storageError(err)
	}
	result := &PriceUpdateResult{}
	if len(positions) == 0 {
		return result, nil
	}

	keys := make([]models.QuoteKey, 0, len(positions))
	for _, pos := range positions {
		keys = append(keys, pos.Key())
	}
	quotes := s.quotes.BatchQuotes(ctx, keys)

	for _, pos := range positions {
		quote, ok := quotes[pos.Key()]
		if !ok {
			result.Failed++
			continue
		}
		if !strings.EqualFold(quote.Currency, pos.CurrencyCode) {
			logger.L.Warn("Quote currency differs from position currency, keeping previous price",
				"userID", userID, "positionID", pos.ID, "key", pos.Key().String(),
				"quoteCurrency", quote.Currency, "positionCurrency", pos.CurrencyCode)
			result.Failed++
			continue
		}
		price := quote.Price
		lastUpdated := quote.LastUpdated
		_, err := s.positions.UpdatePosition(ctx, s.db, pos.ID, userID, database.PositionUpdate{
			CurrentPrice:    &price,
			LastPriceUpdate: &lastUpdated,
		})
		if errors.Is(err, models.ErrPositionNotFound) || errors.Is(err, models.ErrInvalidInput) {
			// Sold while the batch was running, or the quote values it out of range.
			result.Failed++
			continue
		}
		if err != nil {
			return nil, storageError(err)
		}
		result.Updated++
	}

	if result.Updated > 0 {
		s.InvalidateUserCache(userID)
	}
	logger.L.Info("Updated prices", "userID", userID, "updated", result.Updated, "failed", result.Failed)
	return result, nil
}

// InvalidateUserCache drops every cached aggregate for the user.
func (s *investmentServiceImpl) InvalidateUserCache(userID int64) {
	s.reportCache.Delete(fmt.Sprintf(ckPortfolioSummary, userID))
	logger.L.Debug("Invalidated caches for user", "userID", userID)
}

func validateBuy(req BuyRequest) (BuyRequest, error) {
	var err error
	if req.Symbol, err = validation.NormalizeSymbol(req.Symbol); err != nil {
		return req, err
	}
	if req.Name, err = validation.SanitizeText("name", req.Name, validation.MaxNameLength); err != nil {
		return req, err
	}
	if req.Name == "" {
		req.Name = req.Symbol
	}
	if !req.Type.Valid() {
		return req, fmt.Errorf("unknown position type '%s'", req.Type)
	}
	if !req.Market.Valid() {
		return req, fmt.Errorf("unknown market '%s'", req.Market)
	}
	if req.CurrencyCode, err = validation.NormalizeCurrencyCode(req.CurrencyCode); err != nil {
		return req, err
	}
	if err := validateTrade(req.Quantity, req.Price, req.Fee, req.Date, req.AccountID); err != nil {
		return req, err
	}
	req.Notes, err = validation.SanitizeText("notes", req.Notes, validation.MaxNotesLength)
	return req, err
}

func validateSell(req SellRequest) (SellRequest, error) {
	if req.PositionID <= 0 {
		return req, fmt.Errorf("positionId is required")
	}
	if err := validateTrade(req.Quantity, req.Price, req.Fee, req.Date, req.AccountID); err != nil {
		return req, err
	}
	var err error
	req.Notes, err = validation.SanitizeText("notes", req.Notes, validation.MaxNotesLength)
	return req, err
}

func validateIncome(req IncomeRequest) (IncomeRequest, error) {
	if req.PositionID <= 0 {
		return req, fmt.Errorf("positionId is required")
	}
	if req.Type != models.TransactionTypeDividend && req.Type != models.TransactionTypeInterest {
		return req, fmt.Errorf("income type must be dividend or interest, got '%s'", req.Type)
	}
	if req.Amount <= 0 {
		return req, fmt.Errorf("amount must be positive")
	}
	if req.Fee < 0 {
		return req, fmt.Errorf("fee must not be negative")
	}
	if err := validation.ValidateDate("date", req.Date); err != nil {
		return req, err
	}
	if req.AccountID != nil && *req.AccountID <= 0 {
		return req, fmt.Errorf("accountId must be positive")
	}
	var err error
	req.Notes, err = validation.SanitizeText("notes", req.Notes, validation.MaxNotesLength)
	return req, err
}

func validateTrade(quantity, price, fee int64, date string, accountID *int64) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive")
	}
	if price <= 0 {
		return fmt.Errorf("price must be positive")
	}
	if fee < 0 {
		return fmt.Errorf("fee must not be negative")
	}
	if err := validation.ValidateDate("date", date); err != nil {
		return err
	}
	if accountID != nil && *accountID <= 0 {
		return fmt.Errorf("accountId must be positive")
	}
	if _, err := processors.MulAdd(quantity, price, fee); err != nil {
		return fmt.Errorf("quantity*price+fee: %w", err)
	}
	return nil
}
