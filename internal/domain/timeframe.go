package domain

import "fmt"

// Timeframe is the canonical interval label used across the collector.
// Each source adapter maps it to its provider's own interval vocabulary.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1H  Timeframe = "1H"
	Timeframe4H  Timeframe = "4H"
	Timeframe1D  Timeframe = "1D"
	Timeframe1W  Timeframe = "1W"
	Timeframe1M  Timeframe = "1M"
)

// Timeframes lists every supported interval, shortest first.
var Timeframes = []Timeframe{
	Timeframe1m, Timeframe5m, Timeframe15m,
	Timeframe1H, Timeframe4H,
	Timeframe1D, Timeframe1W, Timeframe1M,
}

// ParseTimeframe validates a configuration string against the supported set.
func ParseTimeframe(s string) (Timeframe, error) {
	for _, tf := range Timeframes {
		if string(tf) == s {
			return tf, nil
		}
	}
	return "", fmt.Errorf("unsupported timeframe %q", s)
}

// BarsPerDay returns how many bars of this timeframe fit in one trading day.
// Used by adapters that size historical requests by record count rather than
// by calendar window. Weekly and monthly intervals return 1.
func (tf Timeframe) BarsPerDay() int {
	switch tf {
	case Timeframe1m:
		return 1440
	case Timeframe5m:
		return 288
	case Timeframe15m:
		return 96
	case Timeframe1H:
		return 24
	case Timeframe4H:
		return 6
	default:
		return 1
	}
}

// Known source backend names. The registry in internal/collector resolves
// these to concrete adapters.
const (
	SourceIBKR    = "IBKR"
	SourceYahoo   = "YAHOO"
	SourceBinance = "BINANCE"
)
