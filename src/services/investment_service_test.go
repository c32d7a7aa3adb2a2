package services

import (
	"context"
	"database/sql"
	"errors"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/patrickmn/go-cache"
	"github.com/username/fintrack/backend/src/database"
	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/processors"
)

type fakeQuoteService struct {
	quotes map[models.QuoteKey]models.Quote
	calls  int
}

func (f *fakeQuoteService) GetQuote(ctx context.Context, symbol string, market models.Market) *models.Quote {
	if q, ok := f.quotes[models.QuoteKey{Symbol: symbol, Market: market}]; ok {
		return &q
	}
	return nil
}

func (f *fakeQuoteService) BatchQuotes(ctx context.Context, keys []models.QuoteKey) map[models.QuoteKey]models.Quote {
	f.calls++
	out := make(map[models.QuoteKey]models.Quote)
	for _, k := range keys {
		if q, ok := f.quotes[k]; ok {
			out[k] = q
		}
	}
	return out
}

var fixedNow = time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

func newTestService(t *testing.T, quotes QuoteService) (*investmentServiceImpl, *sql.DB) {
	t.Helper()
	db, err := database.Open(filepath.Join(t.TempDir(), "invest.db"))
	if err != nil {
		t.Fatalf("database.Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	if quotes == nil {
		quotes = &fakeQuoteService{}
	}
	svc := NewInvestmentService(
		db,
		database.NewPositionStore(db),
		database.NewLedgerStore(),
		quotes,
		processors.NewSummaryProcessor(),
		processors.NewEvolutionProcessor(),
		cache.New(DefaultCacheExpiration, CacheCleanupInterval),
	).(*investmentServiceImpl)
	svc.now = func() time.Time { return fixedNow }
	return svc, db
}

func buyReq(symbol string, qty, price int64, date string) BuyRequest {
	return BuyRequest{
		Symbol: symbol, Name: symbol, Type: models.PositionTypeStock, Market: models.MarketUS,
		Quantity: qty, Price: price, CurrencyCode: "USD", Date: date,
	}
}

func TestBuySell_WeightedAverageAndPartialSell(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	first, err := svc.Buy(ctx, 1, buyReq("AAPL", 100, 1000, "2024-01-10"))
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	if first.Transaction.Total != 100000 {
		t.Errorf("first buy total = %d, want 100000", first.Transaction.Total)
	}
	second, err := svc.Buy(ctx, 1, buyReq("aapl", 100, 2000, "2024-02-10"))
	if err != nil {
		t.Fatalf("Buy() error = %v", err)
	}
	if second.Position.ID != first.Position.ID {
		t.Errorf("second buy opened position %d, want %d", second.Position.ID, first.Position.ID)
	}
	if second.Position.Quantity != 200 || second.Position.AvgBuyPrice != 1500 {
		t.Errorf("after buys = %d @ %d, want 200 @ 1500", second.Position.Quantity, second.Position.AvgBuyPrice)
	}

	sold, err := svc.Sell(ctx, 1, SellRequest{PositionID: first.Position.ID, Quantity: 150, Price: 1800, Fee: 10, Date: "2024-03-01"})
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if sold.Closed || sold.Position == nil {
		t.Fatalf("Sell() closed the position, want it open")
	}
	if sold.Position.Quantity != 50 || sold.Position.AvgBuyPrice != 1500 {
		t.Errorf("after sell = %d @ %d, want 50 @ 1500", sold.Position.Quantity, sold.Position.AvgBuyPrice)
	}
	if sold.Transaction.Total != 269990 || sold.Transaction.Symbol != "AAPL" {
		t.Errorf("sell row = %+v, want total 269990 for AAPL", sold.Transaction)
	}
}

func TestSell_InsufficientQuantityLeavesStateUnchanged(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("MSFT", 10, 500, "2024-01-10"))
	_, err := svc.Sell(ctx, 1, SellRequest{PositionID: bought.Position.ID, Quantity: 11, Price: 600, Date: "2024-01-11"})
	if !errors.Is(err, models.ErrInsufficientQuantity) {
		t.Fatalf("Sell() error = %v, want ErrInsufficientQuantity", err)
	}
	var details *models.InsufficientQuantityError
	if !errors.As(err, &details) || details.Held != 10 || details.Requested != 11 {
		t.Errorf("error details = %+v, want held 10 requested 11", details)
	}

	pos, _ := svc.GetPosition(ctx, 1, bought.Position.ID)
	if pos.Quantity != 10 {
		t.Errorf("quantity after failed sell = %d, want 10", pos.Quantity)
	}
	txs, _ := svc.GetAllTransactions(ctx, 1, models.TransactionFilter{})
	if len(txs) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(txs))
	}
}

func TestSell_FullSellClosesAndKeepsHistory(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("TSLA", 10, 500, "2024-01-10"))
	sold, err := svc.Sell(ctx, 1, SellRequest{PositionID: bought.Position.ID, Quantity: 10, Price: 700, Date: "2024-02-10"})
	if err != nil {
		t.Fatalf("Sell() error = %v", err)
	}
	if !sold.Closed || sold.Position != nil {
		t.Errorf("Sell() = %+v, want closed with no position", sold)
	}
	if sold.Transaction.PositionID != bought.Position.ID {
		t.Errorf("sell row position = %d, want %d", sold.Transaction.PositionID, bought.Position.ID)
	}

	if _, err := svc.GetPosition(ctx, 1, bought.Position.ID); !errors.Is(err, models.ErrPositionNotFound) {
		t.Errorf("GetPosition(closed) error = %v, want ErrPositionNotFound", err)
	}
	history, err := svc.GetPositionTransactions(ctx, 1, bought.Position.ID)
	if err != nil || len(history) != 2 {
		t.Errorf("GetPositionTransactions() = %d rows, %v, want 2", len(history), err)
	}

	reopened, err := svc.Buy(ctx, 1, buyReq("TSLA", 5, 800, "2024-03-10"))
	if err != nil {
		t.Fatalf("Buy() after close error = %v", err)
	}
	if reopened.Position.ID == bought.Position.ID || reopened.Position.AvgBuyPrice != 800 {
		t.Errorf("reopened = %+v, want a fresh position at 800", reopened.Position)
	}
}

func TestSell_UnknownOrForeignPosition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("NVDA", 10, 500, "2024-01-10"))
	for _, tc := range []struct {
		userID, positionID int64
	}{{1, 9999}, {2, bought.Position.ID}} {
		_, err := svc.Sell(ctx, tc.userID, SellRequest{PositionID: tc.positionID, Quantity: 1, Price: 1, Date: "2024-01-11"})
		if !errors.Is(err, models.ErrPositionNotFound) {
			t.Errorf("Sell(user %d, position %d) error = %v, want ErrPositionNotFound", tc.userID, tc.positionID, err)
		}
	}
}

func TestBuy_InvalidInput(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	tests := map[string]func(r *BuyRequest){
		"zero quantity":   func(r *BuyRequest) { r.Quantity = 0 },
		"negative price":  func(r *BuyRequest) { r.Price = -1 },
		"negative fee":    func(r *BuyRequest) { r.Fee = -1 },
		"bad date":        func(r *BuyRequest) { r.Date = "10/01/2024" },
		"unknown market":  func(r *BuyRequest) { r.Market = "LSE" },
		"unknown type":    func(r *BuyRequest) { r.Type = "bond" },
		"bad currency":    func(r *BuyRequest) { r.CurrencyCode = "XXY" },
		"empty symbol":    func(r *BuyRequest) { r.Symbol = " " },
		"zero account id": func(r *BuyRequest) { zero := int64(0); r.AccountID = &zero },
		"total overflows": func(r *BuyRequest) { r.Quantity, r.Price = 5_000_000_000, 5_000_000_000 },
		"fee overflows":   func(r *BuyRequest) { r.Quantity, r.Price, r.Fee = 1, math.MaxInt64, 1 },
	}
	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			req := buyReq("AAPL", 1, 1, "2024-01-01")
			mutate(&req)
			if _, err := svc.Buy(ctx, 1, req); !errors.Is(err, models.ErrInvalidInput) {
				t.Errorf("Buy() error = %v, want ErrInvalidInput", err)
			}
		})
	}

	positions, _ := svc.GetPositions(ctx, 1)
	if len(positions) != 0 {
		t.Errorf("positions after invalid buys = %d, want 0", len(positions))
	}
}

func TestBuy_CurrencyMismatchRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	svc.Buy(ctx, 1, buyReq("AAPL", 10, 100, "2024-01-01"))
	req := buyReq("AAPL", 10, 200, "2024-01-02")
	req.CurrencyCode = "EUR"
	if _, err := svc.Buy(ctx, 1, req); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("Buy(EUR) error = %v, want ErrInvalidInput", err)
	}
	txs, _ := svc.GetAllTransactions(ctx, 1, models.TransactionFilter{})
	if len(txs) != 1 {
		t.Errorf("ledger rows = %d, want 1", len(txs))
	}
}

func TestBuy_AccumulatedCostOutOfRangeRollsBack(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	// Each lot fits on its own; together their cost does not.
	const qty, price = 3_000_000_000, 2_000_000_000
	first, err := svc.Buy(ctx, 1, buyReq("AAPL", qty, price, "2024-01-01"))
	if err != nil {
		t.Fatalf("first Buy() error = %v", err)
	}
	if _, err := svc.Buy(ctx, 1, buyReq("AAPL", qty, price, "2024-01-02")); !errors.Is(err, models.ErrInvalidInput) {
		t.Fatalf("second Buy() error = %v, want ErrInvalidInput", err)
	}

	pos, err := svc.GetPosition(ctx, 1, first.Position.ID)
	if err != nil {
		t.Fatalf("GetPosition() error = %v", err)
	}
	if pos.Quantity != qty || pos.AvgBuyPrice != price || pos.CostBasis != qty*price {
		t.Errorf("position after rejected buy = qty %d avg %d cost %d, want %d %d %d",
			pos.Quantity, pos.AvgBuyPrice, pos.CostBasis, qty, price, int64(qty*price))
	}
	txs, _ := svc.GetAllTransactions(ctx, 1, models.TransactionFilter{})
	if len(txs) != 1 || txs[0].Total != qty*price {
		t.Errorf("ledger after rejected buy = %+v, want the first buy only", txs)
	}

	summary, err := svc.GetSummary(ctx, 1)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if summary.TotalInvested != qty*price {
		t.Errorf("TotalInvested = %d, want %d", summary.TotalInvested, int64(qty*price))
	}
}

func TestUpdatePosition_PriceOutOfRange(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	res, _ := svc.Buy(ctx, 1, buyReq("AAPL", 1000, 100, "2024-01-01"))
	huge := int64(math.MaxInt64 / 10)
	if _, err := svc.UpdatePosition(ctx, 1, res.Position.ID, UpdatePositionRequest{CurrentPrice: &huge}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("UpdatePosition(huge price) error = %v, want ErrInvalidInput", err)
	}
	pos, _ := svc.GetPosition(ctx, 1, res.Position.ID)
	if pos.CurrentPrice != nil {
		t.Errorf("CurrentPrice = %d, want unset", *pos.CurrentPrice)
	}
}

func TestBuy_ConcurrentBuysAreSerialized(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	const workers = 8
	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Buy(ctx, 1, buyReq("AMZN", 10, 1000, "2024-01-01"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Buy() error = %v", err)
		}
	}

	positions, _ := svc.GetPositions(ctx, 1)
	if len(positions) != 1 || positions[0].Quantity != workers*10 {
		t.Errorf("positions = %+v, want one position of %d", positions, workers*10)
	}
}

func TestRecordIncome_DoesNotTouchPosition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("KO", 100, 6000, "2024-01-10"))
	row, err := svc.RecordIncome(ctx, 1, IncomeRequest{
		PositionID: bought.Position.ID, Type: models.TransactionTypeDividend, Amount: 4600, Fee: 690, Date: "2024-04-01",
	})
	if err != nil {
		t.Fatalf("RecordIncome() error = %v", err)
	}
	if row.Total != 3910 || row.Symbol != "KO" || row.Quantity != 0 {
		t.Errorf("income row = %+v, want total 3910 for KO", row)
	}

	pos, _ := svc.GetPosition(ctx, 1, bought.Position.ID)
	if pos.Quantity != 100 || pos.AvgBuyPrice != 6000 {
		t.Errorf("position after dividend = %d @ %d, want 100 @ 6000", pos.Quantity, pos.AvgBuyPrice)
	}

	if _, err := svc.RecordIncome(ctx, 1, IncomeRequest{PositionID: bought.Position.ID, Type: models.TransactionTypeBuy, Amount: 1, Date: "2024-04-01"}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("RecordIncome(buy) error = %v, want ErrInvalidInput", err)
	}
}

func TestGetSummary_CachedAndInvalidatedOnWrite(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	svc.Buy(ctx, 1, buyReq("AAPL", 100, 1000, "2024-01-10"))
	first, err := svc.GetSummary(ctx, 1)
	if err != nil {
		t.Fatalf("GetSummary() error = %v", err)
	}
	if first.TotalInvested != 100000 || first.PositionsCount != 1 {
		t.Errorf("summary = %+v, want invested 100000 over 1 position", first)
	}

	svc.Buy(ctx, 1, buyReq("MSFT", 10, 100, "2024-01-11"))
	second, _ := svc.GetSummary(ctx, 1)
	if second.PositionsCount != 2 || second.TotalInvested != 101000 {
		t.Errorf("summary after buy = %+v, want 2 positions and 101000", second)
	}
}

func TestUpdatePosition(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("AAPL", 100, 1000, "2024-01-10"))
	name := "Apple Inc."
	price := int64(1234)
	pos, err := svc.UpdatePosition(ctx, 1, bought.Position.ID, UpdatePositionRequest{Name: &name, CurrentPrice: &price})
	if err != nil {
		t.Fatalf("UpdatePosition() error = %v", err)
	}
	if pos.Name != name || *pos.CurrentPrice != 1234 || !pos.LastPriceUpdate.Equal(fixedNow) {
		t.Errorf("UpdatePosition() = %+v", pos)
	}

	empty := "  "
	if _, err := svc.UpdatePosition(ctx, 1, bought.Position.ID, UpdatePositionRequest{Name: &empty}); !errors.Is(err, models.ErrInvalidInput) {
		t.Errorf("UpdatePosition(empty name) error = %v, want ErrInvalidInput", err)
	}
	if _, err := svc.UpdatePosition(ctx, 2, bought.Position.ID, UpdatePositionRequest{Name: &name}); !errors.Is(err, models.ErrPositionNotFound) {
		t.Errorf("UpdatePosition(other user) error = %v, want ErrPositionNotFound", err)
	}
}

func TestDeletePosition_Cascades(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	bought, _ := svc.Buy(ctx, 1, buyReq("AAPL", 100, 1000, "2024-01-10"))
	svc.Buy(ctx, 1, buyReq("AAPL", 100, 1000, "2024-01-11"))
	if err := svc.DeletePosition(ctx, 1, bought.Position.ID); err != nil {
		t.Fatalf("DeletePosition() error = %v", err)
	}
	txs, _ := svc.GetAllTransactions(ctx, 1, models.TransactionFilter{})
	if len(txs) != 0 {
		t.Errorf("ledger after delete = %d rows, want 0", len(txs))
	}
	if err := svc.DeletePosition(ctx, 1, bought.Position.ID); !errors.Is(err, models.ErrPositionNotFound) {
		t.Errorf("second DeletePosition() error = %v, want ErrPositionNotFound", err)
	}
}

func TestGetPortfolioEvolution_Defaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t, nil)

	svc.Buy(ctx, 1, buyReq("AAPL", 10, 100, "2023-01-05")) // before the default window
	svc.Buy(ctx, 1, buyReq("AAPL", 10, 100, "2023-08-05"))
	svc.Buy(ctx, 1, buyReq("AAPL", 10, 100, "2024-06-01"))
	svc.Buy(ctx, 1, buyReq("AAPL", 10, 100, "2024-07-01")) // after today

	got, err := svc.GetPortfolioEvolution(ctx, 1, EvolutionQuery{})
	if err != nil {
		t.Fatalf("GetPortfolioEvolution() error = %v", err)
	}
	want := []models.EvolutionPoint{
		{Date: "2023-08-01", Invested: 2000, Transactions: 1},
		{Date: "2024-06-01", Invested: 3000, Transactions: 1},
	}
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Errorf("GetPortfolioEvolution() = %+v, want %+v", got, want)
	}

	for _, q := range []EvolutionQuery{
		{Interval: "yearly"},
		{StartDate: "2024-02-01", EndDate: "2024-01-01"},
		{EndDate: "June"},
	} {
		if _, err := svc.GetPortfolioEvolution(ctx, 1, q); !errors.Is(err, models.ErrInvalidInput) {
			t.Errorf("GetPortfolioEvolution(%+v) error = %v, want ErrInvalidInput", q, err)
		}
	}
}

func TestUpdatePrices(t *testing.T) {
	ctx := context.Background()
	quoted := time.Date(2024, 6, 15, 9, 30, 0, 0, time.UTC)
	quotes := &fakeQuoteService{quotes: map[models.QuoteKey]models.Quote{
		{Symbol: "AAPL", Market: models.MarketUS}: {Symbol: "AAPL", Market: models.MarketUS, Price: 1900, Currency: "USD", LastUpdated: quoted},
	}}
	svc, _ := newTestService(t, quotes)

	empty, err := svc.UpdatePrices(ctx, 1)
	if err != nil || empty.Updated != 0 || quotes.calls != 0 {
		t.Errorf("UpdatePrices(no positions) = %+v, %v, calls %d", empty, err, quotes.calls)
	}

	aapl, _ := svc.Buy(ctx, 1, buyReq("AAPL", 10, 1500, "2024-01-01"))
	svc.Buy(ctx, 1, buyReq("IBM", 10, 1500, "2024-01-01"))

	res, err := svc.UpdatePrices(ctx, 1)
	if err != nil {
		t.Fatalf("UpdatePrices() error = %v", err)
	}
	if res.Updated != 1 || res.Failed != 1 {
		t.Errorf("UpdatePrices() = %+v, want 1 updated 1 failed", res)
	}
	pos, _ := svc.GetPosition(ctx, 1, aapl.Position.ID)
	if pos.CurrentPrice == nil || *pos.CurrentPrice != 1900 || !pos.LastPriceUpdate.Equal(quoted) {
		t.Errorf("AAPL after update = %+v", pos)
	}

	summary, _ := svc.GetSummary(ctx, 1)
	if summary.CurrentValue != 19000+15000 {
		t.Errorf("summary current value = %d, want 34000", summary.CurrentValue)
	}
}

func TestUpdatePrices_SkipsQuoteInOtherCurrency(t *testing.T) {
	ctx := context.Background()
	quotes := &fakeQuoteService{quotes: map[models.QuoteKey]models.Quote{
		{Symbol: "BHP", Market: models.MarketASX}:  {Symbol: "BHP", Market: models.MarketASX, Price: 3100, Currency: "USD", LastUpdated: fixedNow},
		{Symbol: "PETR4", Market: models.MarketB3}: {Symbol: "PETR4", Market: models.MarketB3, Price: 3850, Currency: "brl", LastUpdated: fixedNow},
	}}
	svc, _ := newTestService(t, quotes)

	bhpReq := buyReq("BHP", 10, 4500, "2024-01-01")
	bhpReq.Market, bhpReq.CurrencyCode = models.MarketASX, "AUD"
	bhp, _ := svc.Buy(ctx, 1, bhpReq)
	petrReq := buyReq("PETR4", 10, 3500, "2024-01-01")
	petrReq.Market, petrReq.CurrencyCode = models.MarketB3, "BRL"
	petr, _ := svc.Buy(ctx, 1, petrReq)

	res, err := svc.UpdatePrices(ctx, 1)
	if err != nil {
		t.Fatalf("UpdatePrices() error = %v", err)
	}
	if res.Updated != 1 || res.Failed != 1 {
		t.Errorf("UpdatePrices() = %+v, want 1 updated 1 failed", res)
	}

	pos, _ := svc.GetPosition(ctx, 1, bhp.Position.ID)
	if pos.CurrentPrice != nil {
		t.Errorf("BHP current price = %d, want unset after a USD quote", *pos.CurrentPrice)
	}
	pos, _ = svc.GetPosition(ctx, 1, petr.Position.ID)
	if pos.CurrentPrice == nil || *pos.CurrentPrice != 3850 {
		t.Errorf("PETR4 current price = %v, want 3850", pos.CurrentPrice)
	}
}

func TestStorageUnavailable(t *testing.T) {
	ctx := context.Background()
	svc, db := newTestService(t, nil)
	db.Close()

	if _, err := svc.Buy(ctx, 1, buyReq("AAPL", 1, 1, "2024-01-01")); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("Buy() error = %v, want ErrStorageUnavailable", err)
	}
	if _, err := svc.GetPositions(ctx, 1); !errors.Is(err, models.ErrStorageUnavailable) {
		t.Errorf("GetPositions() error = %v, want ErrStorageUnavailable", err)
	}
}
