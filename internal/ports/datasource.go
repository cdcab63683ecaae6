package ports

import (
	"context"

	"marketCollector/internal/domain"
)

// DataSource defines the capability set every market-data backend must
// provide. This abstraction decouples the collection orchestrator from
// specific providers; backends are selected by name through the registry.
type DataSource interface {
	// Name returns the backend's provider tag (e.g. "IBKR", "YAHOO").
	Name() string

	// Connect establishes the provider session. Backends without an explicit
	// connection step (e.g. plain HTTP APIs) report success immediately.
	// Stateful backends retry internally before reporting failure.
	Connect(ctx context.Context) error

	// Disconnect tears down the provider session and any live subscriptions.
	// It must be safe to call on a source that never connected.
	Disconnect(ctx context.Context) error

	// FetchHistoricalData retrieves bars for the symbol over the lookback
	// window, ordered oldest to newest, each carrying symbol, timeframe and
	// source attribution. Provider-level failures are wrapped with the
	// sentinel errors in this package; callers treat any error or an empty
	// result as "try the next source". useRTH restricts the window to
	// regular trading hours on backends that support the concept; others
	// ignore it silently.
	FetchHistoricalData(ctx context.Context, symbol string, timeframe domain.Timeframe, lookbackDays int, useRTH bool) ([]*domain.Bar, error)

	// SubscribeToBars starts a live bar feed for the symbol, caching the
	// most recent bar for GetLatestBar. Backends without streaming support
	// return ErrStreamingUnsupported.
	SubscribeToBars(ctx context.Context, symbol string, timeframe domain.Timeframe) error

	// GetLatestBar returns the most recently cached bar for the symbol.
	// Purely a local cache read; never triggers network I/O.
	GetLatestBar(symbol string) (*domain.Bar, bool)
}
