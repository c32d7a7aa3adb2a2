package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/username/fintrack/backend/src/models"
)

// LedgerStore is the append-only history of investment events.
type LedgerStore interface {
	Append(ctx context.Context, q Querier, tx models.InvestmentTransaction) (models.InvestmentTransaction, error)
	ListByPosition(ctx context.Context, q Querier, positionID, userID int64) ([]models.InvestmentTransaction, error)
	ListAll(ctx context.Context, q Querier, userID int64, filter models.TransactionFilter) ([]models.InvestmentTransaction, error)
	ListUntil(ctx context.Context, q Querier, userID int64, endDate string) ([]models.InvestmentTransaction, error)
}

type ledgerStoreImpl struct{}

func NewLedgerStore() LedgerStore {
	return &ledgerStoreImpl{}
}

const transactionColumns = `id, user_id, position_id, account_id, type, symbol, market, quantity, price,
	total, fee, currency_code, date, notes, created_at`

func scanTransaction(row rowScanner) (models.InvestmentTransaction, error) {
	var (
		t         models.InvestmentTransaction
		accountID sql.NullInt64
		notes     sql.NullString
		createdAt int64
	)
	err := row.Scan(&t.ID, &t.UserID, &t.PositionID, &accountID, &t.Type, &t.Symbol, &t.Market, &t.Quantity,
		&t.Price, &t.Total, &t.Fee, &t.CurrencyCode, &t.Date, &notes, &createdAt)
	if err != nil {
		return models.InvestmentTransaction{}, err
	}
	if accountID.Valid {
		t.AccountID = &accountID.Int64
	}
	t.Notes = notes.String
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return t, nil
}

// Append writes a ledger row. Rows are never updated afterwards.
func (s *ledgerStoreImpl) Append(ctx context.Context, q Querier, tx models.InvestmentTransaction) (models.InvestmentTransaction, error) {
	tx.CreatedAt = time.Now().UTC().Truncate(time.Second)
	var notes sql.NullString
	if tx.Notes != "" {
		notes = sql.NullString{String: tx.Notes, Valid: true}
	}
	res, err := q.ExecContext(ctx, `INSERT INTO investment_transactions
		(user_id, position_id, account_id, type, symbol, market, quantity, price, total, fee, currency_code, date, notes, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tx.UserID, tx.PositionID, tx.AccountID, tx.Type, tx.Symbol, tx.Market, tx.Quantity, tx.Price,
		tx.Total, tx.Fee, tx.CurrencyCode, tx.Date, notes, tx.CreatedAt.Unix())
	if err != nil {
		return models.InvestmentTransaction{}, fmt.Errorf("error inserting %s transaction for position %d: %w", tx.Type, tx.PositionID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.InvestmentTransaction{}, fmt.Errorf("error reading new transaction id: %w", err)
	}
	tx.ID = id
	return tx, nil
}

func (s *ledgerStoreImpl) ListByPosition(ctx context.Context, q Querier, positionID, userID int64) ([]models.InvestmentTransaction, error) {
	return queryTransactions(ctx, q, `SELECT `+transactionColumns+` FROM investment_transactions
		WHERE position_id = ? AND user_id = ? ORDER BY date DESC, id DESC`, positionID, userID)
}

// ListAll returns the newest rows first. A zero filter returns everything.
func (s *ledgerStoreImpl) ListAll(ctx context.Context, q Querier, userID int64, filter models.TransactionFilter) ([]models.InvestmentTransaction, error) {
	query := `SELECT ` + transactionColumns + ` FROM investment_transactions WHERE user_id = ?`
	args := []any{userID}
	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	query += ` ORDER BY date DESC, id DESC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}
	return queryTransactions(ctx, q, query, args...)
}

// ListUntil returns every row dated on or before endDate in chronological order.
// Earlier rows are included so the caller can seed running totals.
func (s *ledgerStoreImpl) ListUntil(ctx context.Context, q Querier, userID int64, endDate string) ([]models.InvestmentTransaction, error) {
	return queryTransactions(ctx, q, `SELECT `+transactionColumns+` FROM investment_transactions
		WHERE user_id = ? AND date <= ? ORDER BY date ASC, id ASC`, userID, endDate)
}

func queryTransactions(ctx context.Context, q Querier, query string, args ...any) ([]models.InvestmentTransaction, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("error querying investment transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.InvestmentTransaction{}
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning investment transaction: %w", err)
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating investment transactions: %w", err)
	}
	return txs, nil
}
