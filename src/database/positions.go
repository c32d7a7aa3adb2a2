package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/username/fintrack/backend/src/models"
	"github.com/username/fintrack/backend/src/processors"
)

// PositionStore persists open positions. Methods that take a Querier run on
// whatever transaction the caller supplies.
type PositionStore interface {
	FindOpenPosition(ctx context.Context, q Querier, userID int64, symbol string, market models.Market) (*models.Position, error)
	GetPosition(ctx context.Context, q Querier, id, userID int64) (*models.Position, error)
	ListPositions(ctx context.Context, q Querier, userID int64) ([]models.Position, error)
	CreatePosition(ctx context.Context, q Querier, data NewPosition) (models.Position, error)
	ApplyBuy(ctx context.Context, q Querier, pos models.Position, quantity, price int64) (models.Position, error)
	ApplySell(ctx context.Context, q Querier, pos models.Position, quantity int64) (models.Position, bool, error)
	UpdatePosition(ctx context.Context, q Querier, id, userID int64, upd PositionUpdate) (models.Position, error)
	DeletePosition(ctx context.Context, id, userID int64) error
}

// NewPosition is the data for a position opened by a first buy.
type NewPosition struct {
	UserID       int64
	AccountID    *int64
	Type         models.PositionType
	Market       models.Market
	Symbol       string
	Name         string
	Quantity     int64
	Price        int64
	CurrencyCode string
}

// PositionUpdate holds the editable fields of a position. Nil fields are left as they are.
type PositionUpdate struct {
	Name            *string
	CurrentPrice    *int64
	LastPriceUpdate *time.Time
}

type positionStoreImpl struct {
	db *sql.DB
}

func NewPositionStore(db *sql.DB) PositionStore {
	return &positionStoreImpl{db: db}
}

const positionColumns = `id, user_id, account_id, type, market, symbol, name, quantity, avg_buy_price,
	cost_basis, current_price, currency_code, last_price_update, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanPosition(row rowScanner) (models.Position, error) {
	var (
		p               models.Position
		accountID       sql.NullInt64
		currentPrice    sql.NullInt64
		lastPriceUpdate sql.NullInt64
		createdAt       int64
		updatedAt       int64
	)
	err := row.Scan(&p.ID, &p.UserID, &accountID, &p.Type, &p.Market, &p.Symbol, &p.Name, &p.Quantity,
		&p.AvgBuyPrice, &p.CostBasis, &currentPrice, &p.CurrencyCode, &lastPriceUpdate, &createdAt, &updatedAt)
	if err != nil {
		return models.Position{}, err
	}
	if accountID.Valid {
		p.AccountID = &accountID.Int64
	}
	if currentPrice.Valid {
		p.CurrentPrice = &currentPrice.Int64
	}
	if lastPriceUpdate.Valid {
		t := time.Unix(lastPriceUpdate.Int64, 0).UTC()
		p.LastPriceUpdate = &t
	}
	p.CreatedAt = time.Unix(createdAt, 0).UTC()
	p.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return p, nil
}

// FindOpenPosition returns nil, nil when the user holds nothing of symbol on market.
func (s *positionStoreImpl) FindOpenPosition(ctx context.Context, q Querier, userID int64, symbol string, market models.Market) (*models.Position, error) {
	row := q.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM investment_positions
		WHERE user_id = ? AND symbol = ? AND market = ?`, userID, symbol, market)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error finding position %s-%s for user %d: %w", symbol, market, userID, err)
	}
	return &p, nil
}

// GetPosition returns nil, nil when id does not exist or belongs to another user.
func (s *positionStoreImpl) GetPosition(ctx context.Context, q Querier, id, userID int64) (*models.Position, error) {
	row := q.QueryRowContext(ctx, `SELECT `+positionColumns+` FROM investment_positions
		WHERE id = ? AND user_id = ?`, id, userID)
	p, err := scanPosition(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error loading position %d: %w", id, err)
	}
	return &p, nil
}

func (s *positionStoreImpl) ListPositions(ctx context.Context, q Querier, userID int64) ([]models.Position, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+positionColumns+` FROM investment_positions
		WHERE user_id = ? ORDER BY symbol ASC, market ASC`, userID)
	if err != nil {
		return nil, fmt.Errorf("error querying positions for user %d: %w", userID, err)
	}
	defer rows.Close()

	positions := []models.Position{}
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("error scanning position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating positions: %w", err)
	}
	return positions, nil
}

// CreatePosition opens a position holding data.Quantity at data.Price.
func (s *positionStoreImpl) CreatePosition(ctx context.Context, q Querier, data NewPosition) (models.Position, error) {
	now := time.Now().UTC().Truncate(time.Second)
	costBasis, err := processors.MulAdd(data.Quantity, data.Price, 0)
	if err != nil {
		return models.Position{}, outOfRange(fmt.Sprintf("cost of %s-%s", data.Symbol, data.Market), err)
	}
	res, err := q.ExecContext(ctx, `INSERT INTO investment_positions
		(user_id, account_id, type, market, symbol, name, quantity, avg_buy_price, cost_basis, currency_code, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		data.UserID, data.AccountID, data.Type, data.Market, data.Symbol, data.Name,
		data.Quantity, data.Price, costBasis, data.CurrencyCode, now.Unix(), now.Unix())
	if err != nil {
		return models.Position{}, fmt.Errorf("error inserting position %s-%s: %w", data.Symbol, data.Market, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return models.Position{}, fmt.Errorf("error reading new position id: %w", err)
	}
	return models.Position{
		ID:           id,
		UserID:       data.UserID,
		AccountID:    data.AccountID,
		Type:         data.Type,
		Market:       data.Market,
		Symbol:       data.Symbol,
		Name:         data.Name,
		Quantity:     data.Quantity,
		AvgBuyPrice:  data.Price,
		CostBasis:    costBasis,
		CurrencyCode: data.CurrencyCode,
		CreatedAt:    now,
		UpdatedAt:    now,
	}, nil
}

// ApplyBuy adds quantity units at price and recomputes the weighted average
// from the exact cost of the holding. Nothing is written when the new cost,
// quantity or quantity*average would not fit in an int64.
func (s *positionStoreImpl) ApplyBuy(ctx context.Context, q Querier, pos models.Position, quantity, price int64) (models.Position, error) {
	costBasis, err := processors.MulAdd(quantity, price, pos.CostBasis)
	if err != nil {
		return models.Position{}, outOfRange(fmt.Sprintf("cost basis of position %d", pos.ID), err)
	}
	held, err := processors.Add(pos.Quantity, quantity)
	if err != nil {
		return models.Position{}, outOfRange(fmt.Sprintf("quantity of position %d", pos.ID), err)
	}
	avg := processors.AverageFromTotalCost(costBasis, held)
	if _, err := processors.MulAdd(held, avg, 0); err != nil {
		return models.Position{}, outOfRange(fmt.Sprintf("value of position %d", pos.ID), err)
	}

	pos.CostBasis = costBasis
	pos.Quantity = held
	pos.AvgBuyPrice = avg
	pos.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	if err := s.writeHolding(ctx, q, pos); err != nil {
		return models.Position{}, err
	}
	return pos, nil
}

// ApplySell removes quantity units. The average buy price does not change.
// When nothing is left the row is deleted and closed is true; ledger rows are kept.
func (s *positionStoreImpl) ApplySell(ctx context.Context, q Querier, pos models.Position, quantity int64) (models.Position, bool, error) {
	if quantity > pos.Quantity {
		return models.Position{}, false, &models.InsufficientQuantityError{PositionID: pos.ID, Requested: quantity, Held: pos.Quantity}
	}

	pos.Quantity -= quantity
	if pos.Quantity == 0 {
		res, err := q.ExecContext(ctx, `DELETE FROM investment_positions WHERE id = ? AND user_id = ?`, pos.ID, pos.UserID)
		if err != nil {
			return models.Position{}, false, fmt.Errorf("error closing position %d: %w", pos.ID, err)
		}
		if err := expectOneRow(res, pos.ID); err != nil {
			return models.Position{}, false, err
		}
		pos.CostBasis = 0
		return pos, true, nil
	}

	pos.CostBasis = pos.Quantity * pos.AvgBuyPrice
	pos.UpdatedAt = time.Now().UTC().Truncate(time.Second)
	if err := s.writeHolding(ctx, q, pos); err != nil {
		return models.Position{}, false, err
	}
	return pos, false, nil
}

func (s *positionStoreImpl) writeHolding(ctx context.Context, q Querier, pos models.Position) error {
	res, err := q.ExecContext(ctx, `UPDATE investment_positions
		SET quantity = ?, avg_buy_price = ?, cost_basis = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		pos.Quantity, pos.AvgBuyPrice, pos.CostBasis, pos.UpdatedAt.Unix(), pos.ID, pos.UserID)
	if err != nil {
		return fmt.Errorf("error updating position %d: %w", pos.ID, err)
	}
	return expectOneRow(res, pos.ID)
}

// UpdatePosition edits the name or the stored quote. Quantity and cost are never touched.
func (s *positionStoreImpl) UpdatePosition(ctx context.Context, q Querier, id, userID int64, upd PositionUpdate) (models.Position, error) {
	pos, err := s.GetPosition(ctx, q, id, userID)
	if err != nil {
		return models.Position{}, err
	}
	if pos == nil {
		return models.Position{}, fmt.Errorf("%w: id %d", models.ErrPositionNotFound, id)
	}

	if upd.Name != nil {
		pos.Name = *upd.Name
	}
	if upd.CurrentPrice != nil {
		if _, err := processors.MulAdd(pos.Quantity, *upd.CurrentPrice, 0); err != nil {
			return models.Position{}, outOfRange(fmt.Sprintf("value of position %d", id), err)
		}
		pos.CurrentPrice = upd.CurrentPrice
	}
	if upd.LastPriceUpdate != nil {
		t := upd.LastPriceUpdate.UTC().Truncate(time.Second)
		pos.LastPriceUpdate = &t
	}
	pos.UpdatedAt = time.Now().UTC().Truncate(time.Second)

	var lastUpdate sql.NullInt64
	if pos.LastPriceUpdate != nil {
		lastUpdate = sql.NullInt64{Int64: pos.LastPriceUpdate.Unix(), Valid: true}
	}
	res, err := q.ExecContext(ctx, `UPDATE investment_positions
		SET name = ?, current_price = ?, last_price_update = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		pos.Name, pos.CurrentPrice, lastUpdate, pos.UpdatedAt.Unix(), pos.ID, pos.UserID)
	if err != nil {
		return models.Position{}, fmt.Errorf("error updating position %d: %w", id, err)
	}
	if err := expectOneRow(res, id); err != nil {
		return models.Position{}, err
	}
	return *pos, nil
}

// DeletePosition removes a position and all of its ledger rows in one transaction.
func (s *positionStoreImpl) DeletePosition(ctx context.Context, id, userID int64) error {
	return WithTx(ctx, s.db, func(tx *sql.Tx) error {
		pos, err := s.GetPosition(ctx, tx, id, userID)
		if err != nil {
			return err
		}
		if pos == nil {
			return fmt.Errorf("%w: id %d", models.ErrPositionNotFound, id)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM investment_transactions WHERE position_id = ? AND user_id = ?`, id, userID); err != nil {
			return fmt.Errorf("error deleting transactions of position %d: %w", id, err)
		}
		res, err := tx.ExecContext(ctx, `DELETE FROM investment_positions WHERE id = ? AND user_id = ?`, id, userID)
		if err != nil {
			return fmt.Errorf("error deleting position %d: %w", id, err)
		}
		return expectOneRow(res, id)
	})
}

func outOfRange(what string, err error) error {
	return fmt.Errorf("%w: %s: %w", models.ErrInvalidInput, what, err)
}

func expectOneRow(res sql.Result, id int64) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("error reading affected rows for position %d: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: id %d", models.ErrPositionNotFound, id)
	}
	return nil
}
