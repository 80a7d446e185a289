package ports

import (
	"context"

	"github.com/rasesh6/alpaca-trading/internal/domain"
)

// StrategyRepository defines the interface for durable storage of strategy
// records, keyed by entry order ID. Writes must be atomic relative to the
// persisted representation: a crash mid-write must never leave a partial
// record observable on reload.
type StrategyRepository interface {
	// Put saves or replaces the record for its order ID.
	Put(ctx context.Context, rec *domain.StrategyRecord) error
	// Get retrieves a record by entry order ID.
	// Returns nil, nil if no record exists.
	Get(ctx context.Context, orderID string) (*domain.StrategyRecord, error)
	// ListActive retrieves all non-terminal records, ordered by creation
	// time. Called once at process startup to seed reconciliation.
	ListActive(ctx context.Context) ([]*domain.StrategyRecord, error)
	// List retrieves all records, terminal ones included, ordered by
	// creation time.
	List(ctx context.Context) ([]*domain.StrategyRecord, error)
	// Delete removes the record for an order ID. Deleting a missing record
	// is not an error.
	Delete(ctx context.Context, orderID string) error
	// Transition atomically replaces the record only if its persisted
	// status still equals from. It returns true if this caller won the
	// transition, false if another writer got there first. The record's
	// Status must already be set to the target status.
	Transition(ctx context.Context, from domain.StrategyStatus, rec *domain.StrategyRecord) (bool, error)
}
