package yahoo

import (
	"context"
	"fmt"
	"math"
	"net/url"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

const defaultBaseURL = "https://query1.finance.yahoo.com"

// Source implements ports.DataSource over the Yahoo Finance chart API.
// It is the stateless free-tier backend: no connection step, no retry, no
// live streaming. A single provider round-trip per fetch, best effort.
type Source struct {
	client *resty.Client
	logger ports.Logger

	mu        sync.RWMutex
	barsCache map[string]*domain.Bar
	connected bool
}

// Config holds configuration for the Yahoo backend.
type Config struct {
	Logger  ports.Logger
	BaseURL string // override for tests; defaults to the public endpoint
}

// New creates a Yahoo Finance data source.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Yahoo source")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(30 * time.Second).
		SetHeader("User-Agent", "Mozilla/5.0")
	return &Source{
		client:    client,
		logger:    cfg.Logger,
		barsCache: make(map[string]*domain.Bar),
	}, nil
}

// Name returns the provider tag.
func (s *Source) Name() string { return domain.SourceYahoo }

// Connect is a no-op: Yahoo Finance needs no explicit session.
func (s *Source) Connect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info(ctx, "Yahoo Finance data source ready (no connection needed)")
	return nil
}

// Disconnect is a no-op.
func (s *Source) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	s.logger.Info(ctx, "Yahoo Finance data source disconnected")
	return nil
}

// chartResponse mirrors the Yahoo Finance chart API payload. Price and
// volume arrays use pointers because Yahoo emits nulls for holidays and
// half-days.
type chartResponse struct {
	Chart struct {
		Result []struct {
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []*float64 `json:"open"`
					High   []*float64 `json:"high"`
					Low    []*float64 `json:"low"`
					Close  []*float64 `json:"close"`
					Volume []*int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// FetchHistoricalData downloads bars for the lookback window. useRTH has no
// Yahoo equivalent beyond excluding pre/post-market, which the request does
// unconditionally. No retry: any failure is reported once and wrapped.
func (s *Source) FetchHistoricalData(ctx context.Context, symbol string, timeframe domain.Timeframe, lookbackDays int, useRTH bool) ([]*domain.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol must not be empty", ports.ErrInvalidRequest)
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: lookback_days must be positive", ports.ErrInvalidRequest)
	}

	end := time.Now()
	start := end.AddDate(0, 0, -lookbackDays)

	s.logger.Info(ctx, "Fetching bars from Yahoo Finance", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "lookbackDays": lookbackDays,
	})

	var chart chartResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"period1":        fmt.Sprintf("%d", start.Unix()),
			"period2":        fmt.Sprintf("%d", end.Unix()),
			"interval":       convertTimeframe(timeframe),
			"includePrePost": "false",
		}).
		SetResult(&chart).
		Get("/v8/finance/chart/" + url.PathEscape(symbol))
	if err != nil {
		wrapped := fmt.Errorf("%w: yahoo fetch for %s: %v", ports.ErrProviderUnavailable, symbol, err)
		s.logger.Error(ctx, wrapped, "Yahoo Finance fetch error", map[string]interface{}{"symbol": symbol})
		return nil, wrapped
	}
	if resp.StatusCode() != 200 {
		wrapped := fmt.Errorf("%w: yahoo returned status %d for %s", ports.ErrProviderUnavailable, resp.StatusCode(), symbol)
		s.logger.Error(ctx, wrapped, "Yahoo Finance fetch error", map[string]interface{}{"symbol": symbol})
		return nil, wrapped
	}
	if chart.Chart.Error != nil {
		wrapped := fmt.Errorf("%w: yahoo api error: %s", ports.ErrProviderUnavailable, chart.Chart.Error.Description)
		s.logger.Error(ctx, wrapped, "Yahoo Finance fetch error", map[string]interface{}{"symbol": symbol})
		return nil, wrapped
	}
	if len(chart.Chart.Result) == 0 || len(chart.Chart.Result[0].Timestamp) == 0 {
		s.logger.Warn(ctx, "No data from Yahoo Finance", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}

	result := chart.Chart.Result[0]
	if len(result.Indicators.Quote) == 0 {
		s.logger.Warn(ctx, "No quote data from Yahoo Finance", map[string]interface{}{"symbol": symbol})
		return nil, nil
	}
	quote := result.Indicators.Quote[0]

	bars := make([]*domain.Bar, 0, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		o, h, l, c := deref(quote.Open, i), deref(quote.High, i), deref(quote.Low, i), deref(quote.Close, i)
		if o == 0 && h == 0 && l == 0 && c == 0 {
			continue // null bar (holiday etc.)
		}
		var vol int64
		if i < len(quote.Volume) && quote.Volume[i] != nil {
			vol = *quote.Volume[i]
		}
		bar, err := domain.NewBar(time.Unix(ts, 0).UTC(), round2(o), round2(h), round2(l), round2(c), vol)
		if err != nil {
			s.logger.Warn(ctx, "Skipping malformed Yahoo bar", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		bar.Symbol = symbol
		bar.Timeframe = timeframe
		bar.Source = domain.SourceYahoo
		bar.Normalized = true
		bars = append(bars, bar)
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	if len(bars) > 0 {
		s.mu.Lock()
		s.barsCache[symbol] = bars[len(bars)-1]
		s.mu.Unlock()
	}

	s.logger.Info(ctx, "Fetched bars from Yahoo Finance", map[string]interface{}{"symbol": symbol, "bars": len(bars)})
	return bars, nil
}

// SubscribeToBars is not supported: Yahoo Finance offers no live stream.
func (s *Source) SubscribeToBars(ctx context.Context, symbol string, timeframe domain.Timeframe) error {
	s.logger.Warn(ctx, "Yahoo Finance does not support live streaming; use the broker backend for live data")
	return ports.ErrStreamingUnsupported
}

// GetLatestBar returns the most recent bar seen for the symbol.
func (s *Source) GetLatestBar(symbol string) (*domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bar, ok := s.barsCache[symbol]
	return bar, ok
}

// convertTimeframe maps the canonical timeframe to Yahoo's interval
// vocabulary. Unmapped values fall back to one day.
func convertTimeframe(tf domain.Timeframe) string {
	switch tf {
	case domain.Timeframe1m:
		return "1m"
	case domain.Timeframe5m:
		return "5m"
	case domain.Timeframe15m:
		return "15m"
	case domain.Timeframe1H:
		return "1h"
	case domain.Timeframe4H:
		return "4h"
	case domain.Timeframe1D:
		return "1d"
	case domain.Timeframe1W:
		return "1wk"
	case domain.Timeframe1M:
		return "1mo"
	default:
		return "1d"
	}
}

func deref(vals []*float64, i int) float64 {
	if i >= len(vals) || vals[i] == nil {
		return 0
	}
	return *vals[i]
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
