package ports

import (
	"context"

	"marketCollector/internal/domain"
)

// BarRepository persists collected bars to a durable store, alongside the
// file exports. Wired only when an archive database is configured.
type BarRepository interface {
	// SaveBars writes the batch. Re-saving a (symbol, timeframe, timestamp)
	// triple replaces the previous record, keeping repeated runs idempotent.
	SaveBars(ctx context.Context, bars []*domain.Bar) error

	// FindBySymbol returns archived bars for the symbol and timeframe,
	// ordered oldest to newest. limit <= 0 means no limit.
	FindBySymbol(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) ([]*domain.Bar, error)

	// Close releases the underlying store.
	Close() error
}
