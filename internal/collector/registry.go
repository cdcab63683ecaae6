package collector

import (
	"fmt"

	"marketCollector/config"
	"marketCollector/internal/adapters/sources/binance"
	"marketCollector/internal/adapters/sources/ibkr"
	"marketCollector/internal/adapters/sources/yahoo"
	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

// SourceFactory builds a data source backend by name. The orchestrator
// takes one of these so tests can substitute mock backends.
type SourceFactory func(name string, cfg *config.Config, logger ports.Logger) (ports.DataSource, error)

// NewSource is the default SourceFactory: it resolves the backend name to a
// concrete adapter. Unknown names are an explicit configuration error, never
// a silent fallback.
func NewSource(name string, cfg *config.Config, logger ports.Logger) (ports.DataSource, error) {
	switch name {
	case domain.SourceIBKR:
		return ibkr.New(ibkr.Config{
			Host:     cfg.IBKR.Host,
			Port:     cfg.IBKR.Port,
			ClientID: cfg.IBKR.ClientID,
			Logger:   logger,
		})
	case domain.SourceYahoo:
		return yahoo.New(yahoo.Config{Logger: logger})
	case domain.SourceBinance:
		return binance.New(binance.Config{
			APIKey:     cfg.Binance.APIKey,
			SecretKey:  cfg.Binance.SecretKey,
			UseTestnet: cfg.Binance.UseTestnet,
			Logger:     logger,
		})
	default:
		return nil, fmt.Errorf("%w: %q", ports.ErrUnknownSource, name)
	}
}
