package database

import (
	"context"
	"database/sql"
	"fmt"
	stdlog "log"
	"strings"

	"github.com/username/fintrack/backend/src/logger"
	_ "modernc.org/sqlite"
)

var DB *sql.DB

// Querier is satisfied by both *sql.DB and *sql.Tx.
type Querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const createTableStatement = `
	CREATE TABLE IF NOT EXISTS investment_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		account_id INTEGER,
		type TEXT NOT NULL,
		market TEXT NOT NULL,
		symbol TEXT NOT NULL,
		name TEXT NOT NULL,
		quantity INTEGER NOT NULL CHECK (quantity >= 0),
		avg_buy_price INTEGER NOT NULL,
		cost_basis INTEGER NOT NULL DEFAULT 0,
		current_price INTEGER,
		currency_code TEXT NOT NULL,
		last_price_update INTEGER,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_investment_positions_key
		ON investment_positions(user_id, symbol, market);

	-- No foreign key on position_id: the history of a closed position stays in the ledger.
	CREATE TABLE IF NOT EXISTS investment_transactions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		user_id INTEGER NOT NULL,
		position_id INTEGER NOT NULL,
		account_id INTEGER,
		type TEXT NOT NULL,
		symbol TEXT NOT NULL DEFAULT '',
		market TEXT NOT NULL DEFAULT '',
		quantity INTEGER NOT NULL,
		price INTEGER NOT NULL,
		total INTEGER NOT NULL,
		fee INTEGER NOT NULL DEFAULT 0,
		currency_code TEXT NOT NULL,
		date TEXT NOT NULL,
		notes TEXT,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_investment_transactions_user_date
		ON investment_transactions(user_id, date);
	CREATE INDEX IF NOT EXISTS idx_investment_transactions_position
		ON investment_transactions(position_id);

	CREATE TABLE IF NOT EXISTS price_cache (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		market TEXT NOT NULL,
		price INTEGER NOT NULL,
		currency TEXT NOT NULL,
		last_updated INTEGER NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_price_cache_key ON price_cache(symbol, market);
	`

// InitDB opens the database into DB and exits the process on failure.
func InitDB(databasePath string) {
	db, err := Open(databasePath)
	if err != nil {
		stdlog.Fatalf("failed to open database at %s: %v", databasePath, err)
	}
	DB = db
}

// Open opens (creating if needed) the SQLite database at databasePath,
// applies column migrations and ensures the schema exists.
//
// Write transactions take the database lock at BEGIN (_txlock=immediate) and a
// single connection is used, so concurrent read-modify-write sequences on a
// position are serialized instead of losing updates.
func Open(databasePath string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn(databasePath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database at %s: %w", databasePath, err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database at %s: %w", databasePath, err)
	}

	logger.L.Info("Checking database migrations", "databasePath", databasePath)
	if err := migrateDatabase(db); err != nil {
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(createTableStatement); err != nil {
		logger.L.Error("failed to create tables", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	logger.L.Info("Database tables ensured/created.")
	return db, nil
}

func dsn(databasePath string) string {
	params := "_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_txlock=immediate"
	if strings.Contains(databasePath, "?") {
		return databasePath + "&" + params
	}
	if databasePath == ":memory:" {
		return "file::memory:?" + params
	}
	return "file:" + databasePath + "?" + params
}

// WithTx runs fn inside a transaction, committing only if fn succeeds.
func WithTx(ctx context.Context, db *sql.DB, fn func(tx *sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("error beginning database transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("error committing transaction: %w", err)
	}
	return nil
}

type columnMigration struct {
	column   string
	ddl      string
	backfill string
}

var migrations = map[string][]columnMigration{
	"investment_positions": {
		{column: "account_id", ddl: "ALTER TABLE investment_positions ADD COLUMN account_id INTEGER"},
		{column: "last_price_update", ddl: "ALTER TABLE investment_positions ADD COLUMN last_price_update INTEGER"},
		{
			column:   "cost_basis",
			ddl:      "ALTER TABLE investment_positions ADD COLUMN cost_basis INTEGER NOT NULL DEFAULT 0",
			backfill: "UPDATE investment_positions SET cost_basis = quantity * avg_buy_price WHERE cost_basis = 0",
		},
	},
	"investment_transactions": {
		{column: "symbol", ddl: "ALTER TABLE investment_transactions ADD COLUMN symbol TEXT NOT NULL DEFAULT ''"},
		{column: "market", ddl: "ALTER TABLE investment_transactions ADD COLUMN market TEXT NOT NULL DEFAULT ''"},
		{column: "fee", ddl: "ALTER TABLE investment_transactions ADD COLUMN fee INTEGER NOT NULL DEFAULT 0"},
	},
}

// migrateDatabase adds columns introduced after a table was first created.
// Tables that do not exist yet are left to createTableStatement.
func migrateDatabase(db *sql.DB) error {
	for _, table := range []string{"investment_positions", "investment_transactions"} {
		exists, err := tableExists(db, table)
		if err != nil {
			return fmt.Errorf("error checking for %s table: %w", table, err)
		}
		if !exists {
			logger.L.Info("Table does not exist, no migration needed as table will be created.", "table", table)
			continue
		}

		columnExists, err := tableColumns(db, table)
		if err != nil {
			return err
		}
		for _, m := range migrations[table] {
			if columnExists[m.column] {
				continue
			}
			if _, err := db.Exec(m.ddl); err != nil {
				logger.L.Error("Error adding column", "table", table, "column", m.column, "error", err)
				return fmt.Errorf("error adding %s.%s: %w", table, m.column, err)
			}
			logger.L.Info("Added column", "table", table, "column", m.column)
			if m.backfill != "" {
				if _, err := db.Exec(m.backfill); err != nil {
					logger.L.Error("Error backfilling column", "table", table, "column", m.column, "error", err)
					return fmt.Errorf("error backfilling %s.%s: %w", table, m.column, err)
				}
			}
		}
	}
	return nil
}

func tableExists(db *sql.DB, table string) (bool, error) {
	var name string
	err := db.QueryRow("SELECT name FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&name)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func tableColumns(db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.Query("PRAGMA table_info(" + table + ")")
	if err != nil {
		return nil, fmt.Errorf("error querying table schema for %s: %w", table, err)
	}
	defer rows.Close()

	columnExists := make(map[string]bool)
	for rows.Next() {
		var cid, pk int
		var name, dataType string
		var notnullVal int
		var dfltValue interface{}
		if err := rows.Scan(&cid, &name, &dataType, &notnullVal, &dfltValue, &pk); err != nil {
			return nil, fmt.Errorf("error scanning column info for %s: %w", table, err)
		}
		columnExists[name] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over column info for %s: %w", table, err)
	}
	return columnExists, nil
}
