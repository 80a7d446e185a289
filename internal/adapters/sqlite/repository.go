package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rasesh6/alpaca-trading/internal/domain"
	"github.com/rasesh6/alpaca-trading/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements the ports.StrategyRepository interface using SQLite.
// Each strategy record is one row keyed by the entry order ID; the config and
// exit-order-id list are stored as JSON columns. Row-level statements give
// the atomic per-key writes the store contract requires.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

var _ ports.StrategyRepository = (*Repository)(nil)

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/exit_strategies.db" // Default path
	}

	// Create data directory if it doesn't exist
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Open database connection; WAL keeps a reader from ever observing a
	// half-written row after a crash.
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite serializes writers internally; one Go-side connection avoids
	// SQLITE_BUSY churn from the monitor goroutines.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}

	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "Strategy store initialized", map[string]interface{}{"path": dbPath})

	return repo, nil
}

// initializeSchema creates tables if they don't exist.
func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS exit_strategies (
		order_id TEXT PRIMARY KEY,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity REAL NOT NULL,
		strategy_type TEXT NOT NULL,
		config TEXT NOT NULL,
		status TEXT NOT NULL,
		fill_price REAL DEFAULT NULL,
		trigger_price REAL DEFAULT NULL,
		triggered INTEGER NOT NULL DEFAULT 0,
		exit_order_ids TEXT NOT NULL DEFAULT '[]',
		last_error TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_exit_strategies_status ON exit_strategies (status);
	`
	_, err := r.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		r.logger.Info(context.Background(), "Closing strategy store")
		return r.db.Close()
	}
	return nil
}

// --- StrategyRepository Implementation ---

// Put saves or replaces the record for its order ID.
func (r *Repository) Put(ctx context.Context, rec *domain.StrategyRecord) error {
	const query = `
	INSERT INTO exit_strategies
		(order_id, symbol, side, quantity, strategy_type, config, status,
		 fill_price, trigger_price, triggered, exit_order_ids, last_error, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(order_id) DO UPDATE SET
		symbol = excluded.symbol,
		side = excluded.side,
		quantity = excluded.quantity,
		strategy_type = excluded.strategy_type,
		config = excluded.config,
		status = excluded.status,
		fill_price = excluded.fill_price,
		trigger_price = excluded.trigger_price,
		triggered = excluded.triggered,
		exit_order_ids = excluded.exit_order_ids,
		last_error = excluded.last_error,
		updated_at = excluded.updated_at`

	configJSON, exitIDsJSON, err := marshalRecordColumns(rec)
	if err != nil {
		return err
	}

	_, err = r.db.ExecContext(ctx, query,
		rec.OrderID, rec.Symbol, rec.Side, rec.Quantity, rec.StrategyType, configJSON, rec.Status,
		nullableFloat(rec.FillPrice), nullableFloat(rec.TriggerPrice), rec.Triggered, exitIDsJSON, rec.LastError,
		rec.CreatedAt, rec.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to put strategy record %s: %w", rec.OrderID, ports.ErrPersistence)
	}
	r.logger.Debug(ctx, "Strategy record saved", map[string]interface{}{"orderID": rec.OrderID, "status": rec.Status})
	return nil
}

// Get retrieves a record by entry order ID. Returns nil, nil if not found.
func (r *Repository) Get(ctx context.Context, orderID string) (*domain.StrategyRecord, error) {
	const query = selectColumns + ` WHERE order_id = ?`

	row := r.db.QueryRowContext(ctx, query, orderID)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // Not an error, just not found
		}
		return nil, fmt.Errorf("failed to query strategy record %s: %w", orderID, ports.ErrPersistence)
	}
	return rec, nil
}

// ListActive retrieves all non-terminal records, ordered by creation time.
func (r *Repository) ListActive(ctx context.Context) ([]*domain.StrategyRecord, error) {
	const query = selectColumns + ` WHERE status IN (?, ?) ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, domain.StatusWaitingFill, domain.StatusWaitingTrigger)
	if err != nil {
		return nil, fmt.Errorf("failed to query active strategy records: %w", ports.ErrPersistence)
	}
	defer rows.Close()

	records := make([]*domain.StrategyRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy record during ListActive: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy record rows: %w", ports.ErrPersistence)
	}
	return records, nil
}

// List retrieves all records, terminal ones included, ordered by creation
// time.
func (r *Repository) List(ctx context.Context) ([]*domain.StrategyRecord, error) {
	const query = selectColumns + ` ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query strategy records: %w", ports.ErrPersistence)
	}
	defer rows.Close()

	records := make([]*domain.StrategyRecord, 0)
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan strategy record during List: %w", err)
		}
		records = append(records, rec)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating strategy record rows: %w", ports.ErrPersistence)
	}
	return records, nil
}

// Delete removes the record for an order ID.
func (r *Repository) Delete(ctx context.Context, orderID string) error {
	const query = `DELETE FROM exit_strategies WHERE order_id = ?`

	if _, err := r.db.ExecContext(ctx, query, orderID); err != nil {
		return fmt.Errorf("failed to delete strategy record %s: %w", orderID, ports.ErrPersistence)
	}
	r.logger.Debug(ctx, "Strategy record deleted", map[string]interface{}{"orderID": orderID})
	return nil
}

// Transition atomically replaces the record only if its persisted status
// still equals from. The conditional UPDATE is the idempotency guard for the
// push-vs-poll race: the second writer matches zero rows and is told it lost.
func (r *Repository) Transition(ctx context.Context, from domain.StrategyStatus, rec *domain.StrategyRecord) (bool, error) {
	if !from.CanTransitionTo(rec.Status) {
		return false, fmt.Errorf("illegal transition %s -> %s for order %s", from, rec.Status, rec.OrderID)
	}

	const query = `
	UPDATE exit_strategies
	SET status = ?, fill_price = ?, trigger_price = ?, triggered = ?, exit_order_ids = ?, last_error = ?, updated_at = ?
	WHERE order_id = ? AND status = ?`

	_, exitIDsJSON, err := marshalRecordColumns(rec)
	if err != nil {
		return false, err
	}

	result, err := r.db.ExecContext(ctx, query,
		rec.Status, nullableFloat(rec.FillPrice), nullableFloat(rec.TriggerPrice), rec.Triggered, exitIDsJSON, rec.LastError, rec.UpdatedAt,
		rec.OrderID, from)
	if err != nil {
		return false, fmt.Errorf("failed to transition strategy record %s: %w", rec.OrderID, ports.ErrPersistence)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected for transition of %s: %w", rec.OrderID, ports.ErrPersistence)
	}
	won := rowsAffected > 0
	r.logger.Debug(ctx, "Strategy record transition", map[string]interface{}{
		"orderID": rec.OrderID, "from": from, "to": rec.Status, "won": won,
	})
	return won, nil
}

// --- Helpers ---

const selectColumns = `
	SELECT order_id, symbol, side, quantity, strategy_type, config, status,
	       fill_price, trigger_price, triggered, exit_order_ids, last_error, created_at, updated_at
	FROM exit_strategies`

func marshalRecordColumns(rec *domain.StrategyRecord) (configJSON, exitIDsJSON string, err error) {
	cfg, err := json.Marshal(rec.Config)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal config for %s: %w", rec.OrderID, err)
	}
	ids := rec.ExitOrderIDs
	if ids == nil {
		ids = []string{}
	}
	idsBytes, err := json.Marshal(ids)
	if err != nil {
		return "", "", fmt.Errorf("failed to marshal exit order IDs for %s: %w", rec.OrderID, err)
	}
	return string(cfg), string(idsBytes), nil
}

func nullableFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

// scanner abstracts over sql.Row and sql.Rows for scanning.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(s scanner) (*domain.StrategyRecord, error) {
	var (
		rec          domain.StrategyRecord
		configJSON   string
		exitIDsJSON  string
		fillPrice    sql.NullFloat64
		triggerPrice sql.NullFloat64
	)
	err := s.Scan(&rec.OrderID, &rec.Symbol, &rec.Side, &rec.Quantity, &rec.StrategyType,
		&configJSON, &rec.Status, &fillPrice, &triggerPrice, &rec.Triggered, &exitIDsJSON, &rec.LastError,
		&rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(configJSON), &rec.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config for %s: %w", rec.OrderID, err)
	}
	if err := json.Unmarshal([]byte(exitIDsJSON), &rec.ExitOrderIDs); err != nil {
		return nil, fmt.Errorf("failed to unmarshal exit order IDs for %s: %w", rec.OrderID, err)
	}
	if fillPrice.Valid {
		rec.FillPrice = &fillPrice.Float64
	}
	if triggerPrice.Valid {
		rec.TriggerPrice = &triggerPrice.Float64
	}
	return &rec, nil
}
