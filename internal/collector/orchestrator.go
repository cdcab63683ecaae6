package collector

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"marketCollector/config"
	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

// defaultPacing is the floor between successive historical requests,
// dictated by the primary provider's rate limit. Applied unconditionally
// between symbols, regardless of which source actually served the data.
const defaultPacing = 10 * time.Second

// State tracks the orchestrator lifecycle. No transition skips Initialized.
type State int

const (
	StateUninitialized State = iota
	StateInitialized
	StateCollecting
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitialized:
		return "initialized"
	case StateCollecting:
		return "collecting"
	case StateShutDown:
		return "shut down"
	default:
		return "unknown"
	}
}

// Result is the per-symbol outcome of one collection pass. A failed symbol
// never aborts the batch; the orchestrator aggregates Results instead.
type Result struct {
	Symbol       string
	ValidCount   int
	InvalidCount int
	Persisted    bool
	Err          error
}

// Orchestrator drives the connect → fetch → validate → normalize → persist
// pipeline across the configured symbol list, with failover from the
// primary source to an ephemeral backup, rate-limit pacing between symbols,
// and per-symbol error isolation.
//
// Symbols are processed strictly sequentially: the pacing floor only works
// as a rate-limit guard when requests to the upstream never overlap.
type Orchestrator struct {
	cfg        *config.Config
	logger     ports.Logger
	factory    SourceFactory
	archive    ports.BarRepository
	validator  *Validator
	normalizer *Normalizer
	pacing     time.Duration

	mu      sync.Mutex
	state   State
	primary ports.DataSource
}

// OrchestratorConfig holds the orchestrator's dependencies.
type OrchestratorConfig struct {
	Config  *config.Config
	Logger  ports.Logger
	Factory SourceFactory       // defaults to NewSource
	Archive ports.BarRepository // optional sqlite archive
	Pacing  time.Duration       // defaults to the 10s provider floor
}

// NewOrchestrator creates an orchestrator in the Uninitialized state.
func NewOrchestrator(cfg OrchestratorConfig) (*Orchestrator, error) {
	if cfg.Config == nil || cfg.Logger == nil {
		return nil, fmt.Errorf("missing required dependencies for Orchestrator")
	}
	factory := cfg.Factory
	if factory == nil {
		factory = NewSource
	}
	pacing := cfg.Pacing
	if pacing <= 0 {
		pacing = defaultPacing
	}
	return &Orchestrator{
		cfg:        cfg.Config,
		logger:     cfg.Logger,
		factory:    factory,
		archive:    cfg.Archive,
		validator:  NewValidator(cfg.Logger),
		normalizer: NewNormalizer(cfg.Logger),
		pacing:     pacing,
		state:      StateUninitialized,
	}, nil
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Initialize constructs and connects the primary source and prepares the
// output directory. A failed connect is logged as a warning but does not
// fail initialization: failover happens lazily per symbol, which gives the
// backup source a chance even when the primary never connected. Only source
// construction itself (e.g. an unknown backend name) is fatal.
func (o *Orchestrator) Initialize(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateShutDown {
		return ports.ErrShutDown
	}

	dc := &o.cfg.DataCollector

	primary, err := o.factory(dc.DataSource, o.cfg, o.logger)
	if err != nil {
		o.logger.Error(ctx, err, "Failed to construct primary data source", map[string]interface{}{"source": dc.DataSource})
		return fmt.Errorf("%w: primary source %q: %w", ports.ErrConfiguration, dc.DataSource, err)
	}

	if err := primary.Connect(ctx); err != nil {
		o.logger.Warn(ctx, "Primary source connection failed; will retry via backup per symbol", map[string]interface{}{
			"source": dc.DataSource, "error": err.Error(),
		})
	}

	if err := os.MkdirAll(dc.DataDir, 0755); err != nil {
		o.logger.Error(ctx, err, "Failed to create data directory", map[string]interface{}{"dataDir": dc.DataDir})
		return fmt.Errorf("create data directory %q: %w", dc.DataDir, err)
	}

	o.primary = primary
	o.state = StateInitialized
	o.logger.Info(ctx, "Collection orchestrator initialized", map[string]interface{}{
		"primary": dc.DataSource, "backup": dc.BackupSource, "symbols": len(dc.Symbols),
	})
	return nil
}

// CollectAll runs one collection pass over the configured symbols, in list
// order. "No data for a symbol" is a soft per-symbol condition: the symbol
// is skipped and the run continues. A panic inside a symbol's processing
// aborts the whole run, recovered and reported as the run error.
func (o *Orchestrator) CollectAll(ctx context.Context) (results []Result, err error) {
	o.mu.Lock()
	if o.state != StateInitialized {
		state := o.state
		o.mu.Unlock()
		o.logger.Error(ctx, ports.ErrNotInitialized, "CollectAll called in wrong state", map[string]interface{}{"state": state.String()})
		return nil, fmt.Errorf("%w: state is %s", ports.ErrNotInitialized, state)
	}
	o.state = StateCollecting
	o.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("collection run aborted: %v", r)
			o.logger.Error(ctx, err, "Unexpected panic during collection")
		}
		o.mu.Lock()
		if o.state == StateCollecting {
			o.state = StateInitialized
		}
		o.mu.Unlock()
	}()

	dc := &o.cfg.DataCollector
	timeframe := o.cfg.Timeframe()

	for i, symbol := range dc.Symbols {
		result := o.collectSymbol(ctx, symbol, timeframe)
		results = append(results, result)

		// Pacing floor between symbols, regardless of serving source.
		if i < len(dc.Symbols)-1 {
			select {
			case <-time.After(o.pacing):
			case <-ctx.Done():
				return results, fmt.Errorf("%w: %v", ports.ErrContextCanceled, ctx.Err())
			}
		}
	}

	o.logger.Info(ctx, "Collection run finished", map[string]interface{}{"symbols": len(results)})
	return results, nil
}

func (o *Orchestrator) collectSymbol(ctx context.Context, symbol string, timeframe domain.Timeframe) Result {
	dc := &o.cfg.DataCollector
	result := Result{Symbol: symbol}

	bars, err := o.primary.FetchHistoricalData(ctx, symbol, timeframe, dc.LookbackDays, dc.UseRTH)
	if err != nil {
		o.logger.Warn(ctx, "Primary source fetch failed", map[string]interface{}{
			"symbol": symbol, "source": o.primary.Name(), "error": err.Error(),
		})
		bars = nil
	}

	if len(bars) == 0 && dc.BackupSource != "" {
		bars = o.fetchFromBackup(ctx, symbol, timeframe)
	}

	if len(bars) == 0 {
		o.logger.Warn(ctx, "No data for symbol from any source; skipping", map[string]interface{}{"symbol": symbol})
		return result
	}

	result.ValidCount, result.InvalidCount = o.validator.ValidateBars(bars)
	o.logger.Info(ctx, "Validated bars", map[string]interface{}{
		"symbol": symbol, "valid": result.ValidCount, "invalid": result.InvalidCount,
	})

	// Validation is advisory: invalid records are persisted as received.
	result.Persisted, result.Err = o.persist(ctx, symbol, timeframe, bars)
	return result
}

// fetchFromBackup runs one ephemeral backup cycle: construct, connect,
// fetch, disconnect. The backup source is never stored in long-lived state
// or shared across symbols.
func (o *Orchestrator) fetchFromBackup(ctx context.Context, symbol string, timeframe domain.Timeframe) []*domain.Bar {
	dc := &o.cfg.DataCollector

	o.logger.Info(ctx, "Falling back to backup source", map[string]interface{}{
		"symbol": symbol, "backup": dc.BackupSource,
	})

	backup, err := o.factory(dc.BackupSource, o.cfg, o.logger)
	if err != nil {
		o.logger.Error(ctx, err, "Failed to construct backup source", map[string]interface{}{"backup": dc.BackupSource})
		return nil
	}
	if err := backup.Connect(ctx); err != nil {
		o.logger.Warn(ctx, "Backup source connection failed", map[string]interface{}{
			"backup": dc.BackupSource, "error": err.Error(),
		})
		return nil
	}
	defer func() {
		if err := backup.Disconnect(ctx); err != nil {
			o.logger.Warn(ctx, "Backup source disconnect failed", map[string]interface{}{"backup": dc.BackupSource})
		}
	}()

	bars, err := backup.FetchHistoricalData(ctx, symbol, timeframe, dc.LookbackDays, dc.UseRTH)
	if err != nil {
		o.logger.Warn(ctx, "Backup source fetch failed", map[string]interface{}{
			"symbol": symbol, "backup": dc.BackupSource, "error": err.Error(),
		})
		return nil
	}
	return bars
}

// persist writes the batch in every configured output format and to the
// archive repository when one is wired. A failed format is logged and
// reflected in the returned error but does not stop the remaining formats.
func (o *Orchestrator) persist(ctx context.Context, symbol string, timeframe domain.Timeframe, bars []*domain.Bar) (bool, error) {
	dc := &o.cfg.DataCollector
	date := time.Now().UTC().Format("20060102")
	base := fmt.Sprintf("%s/%s_%s_%s", dc.DataDir, symbol, timeframe, date)

	var firstErr error
	persisted := false
	for _, format := range dc.OutputFormat {
		var err error
		switch format {
		case "csv":
			err = o.normalizer.BarsToCSV(bars, base+".csv")
		case "json":
			err = o.normalizer.BarsToJSON(bars, base+".json", symbol, timeframe)
		case "parquet":
			err = o.normalizer.BarsToParquet(bars, base+".parquet")
		default:
			err = fmt.Errorf("%w: unsupported output format %q", ports.ErrConfiguration, format)
		}
		if err != nil {
			o.logger.Error(ctx, err, "Persist failed", map[string]interface{}{"symbol": symbol, "format": format})
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		persisted = true
	}

	if o.archive != nil {
		if err := o.archive.SaveBars(ctx, bars); err != nil {
			o.logger.Error(ctx, err, "Archive write failed", map[string]interface{}{"symbol": symbol})
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return persisted, firstErr
}

// Shutdown disconnects the primary source. Idempotent: repeated calls are
// no-ops.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.state == StateShutDown {
		return nil
	}

	if o.primary != nil {
		if err := o.primary.Disconnect(ctx); err != nil {
			o.logger.Error(ctx, err, "Primary source disconnect failed")
			o.state = StateShutDown
			return err
		}
	}

	o.state = StateShutDown
	o.logger.Info(ctx, "Collection orchestrator shut down")
	return nil
}
