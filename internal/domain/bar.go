package domain

import (
	"fmt"
	"time"
)

// Bar represents a single OHLCV observation for one symbol at one timeframe.
// A Bar is built by a data source adapter when translating a provider-specific
// record and is treated as immutable once constructed.
type Bar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`

	// Optional fields, populated by the source adapter where the provider
	// supplies them. Pointers distinguish "absent" from a genuine zero.
	Symbol     string    `json:"symbol,omitempty"`
	Timeframe  Timeframe `json:"timeframe,omitempty"`
	Count      *int64    `json:"count,omitempty"`   // Number of trades in the period
	WAP        *float64  `json:"wap,omitempty"`     // Weighted average price
	HasGaps    *bool     `json:"hasGaps,omitempty"` // Provider-reported discontinuity flag
	Source     string    `json:"source,omitempty"`  // Provider tag: IBKR, YAHOO, BINANCE
	Normalized bool      `json:"normalized,omitempty"`
}

// NewBar validates the OHLCV invariants and builds a Bar.
// Construction fails on malformed input; this is a hard contract, unlike the
// advisory checks in the collector's Validator.
func NewBar(timestamp time.Time, open, high, low, closePrice float64, volume int64) (*Bar, error) {
	if high < low {
		return nil, fmt.Errorf("high (%v) cannot be less than low (%v)", high, low)
	}
	if open < low || open > high {
		return nil, fmt.Errorf("open (%v) must be between low (%v) and high (%v)", open, low, high)
	}
	if closePrice < low || closePrice > high {
		return nil, fmt.Errorf("close (%v) must be between low (%v) and high (%v)", closePrice, low, high)
	}
	if volume < 0 {
		return nil, fmt.Errorf("volume (%d) cannot be negative", volume)
	}
	return &Bar{
		Timestamp: timestamp,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
	}, nil
}

// PriceChange returns close - open.
func (b *Bar) PriceChange() float64 {
	return b.Close - b.Open
}

// PriceChangePct returns the relative price change over the bar.
func (b *Bar) PriceChangePct() float64 {
	if b.Open == 0 {
		return 0
	}
	return (b.Close - b.Open) / b.Open
}

// Range returns high - low.
func (b *Bar) Range() float64 {
	return b.High - b.Low
}
