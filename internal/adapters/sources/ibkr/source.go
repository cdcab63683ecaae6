package ibkr

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/jpillora/backoff"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

const (
	connectRetries  = 3
	defaultRetryMin = 1 * time.Second
	defaultRetryMax = 4 * time.Second
	minPollInterval = time.Minute
	requestTimeout  = 60 * time.Second
)

// Source implements ports.DataSource against an IB Client Portal gateway.
// This is the stateful primary backend: an explicit session is established
// on Connect (retried with exponential backoff), historical fetches block
// until the gateway responds, and live subscriptions feed a local bars
// cache keyed by symbol.
//
// Pacing note: the gateway rate-limits historical requests. The collection
// orchestrator owns that pacing (it never issues two historical requests
// within the pacing floor); this adapter relies on that contract rather
// than throttling internally.
type Source struct {
	client   *resty.Client
	logger   ports.Logger
	host     string
	port     int
	clientID int
	retryMin time.Duration
	retryMax time.Duration

	mu        sync.RWMutex
	connected bool
	barsCache map[string]*domain.Bar
	conids    map[string]string
	pollers   map[string]context.CancelFunc
}

// Config holds configuration for the IBKR backend. Host, Port and ClientID
// are passed through unchanged from the ibkr config section.
type Config struct {
	Host     string
	Port     int
	ClientID int
	Logger   ports.Logger

	// RetryMin/RetryMax shrink the connect backoff in tests.
	// Defaults give the 1s/2s/4s sequence.
	RetryMin time.Duration
	RetryMax time.Duration
	BaseURL  string // override for tests; defaults to https://host:port
}

// New creates an IBKR data source.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for IBKR source")
	}
	if cfg.Host == "" {
		return nil, fmt.Errorf("%w: ibkr host must be set", ports.ErrConfiguration)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = fmt.Sprintf("https://%s:%d", cfg.Host, cfg.Port)
	}
	retryMin := cfg.RetryMin
	if retryMin <= 0 {
		retryMin = defaultRetryMin
	}
	retryMax := cfg.RetryMax
	if retryMax <= 0 {
		retryMax = defaultRetryMax
	}
	client := resty.New().
		SetBaseURL(baseURL + "/v1/api").
		SetTimeout(requestTimeout)
	return &Source{
		client:    client,
		logger:    cfg.Logger,
		host:      cfg.Host,
		port:      cfg.Port,
		clientID:  cfg.ClientID,
		retryMin:  retryMin,
		retryMax:  retryMax,
		barsCache: make(map[string]*domain.Bar),
		conids:    make(map[string]string),
		pollers:   make(map[string]context.CancelFunc),
	}, nil
}

// Name returns the provider tag.
func (s *Source) Name() string { return domain.SourceIBKR }

type authStatus struct {
	Authenticated bool `json:"authenticated"`
	Connected     bool `json:"connected"`
}

// Connect checks the gateway session, retrying up to 3 times with
// exponential backoff (1s, 2s, 4s) before giving up.
func (s *Source) Connect(ctx context.Context) error {
	b := &backoff.Backoff{
		Min:    s.retryMin,
		Max:    s.retryMax,
		Factor: 2,
	}

	var lastErr error
	for attempt := 1; attempt <= connectRetries; attempt++ {
		err := s.checkSession(ctx)
		if err == nil {
			s.mu.Lock()
			s.connected = true
			s.mu.Unlock()
			s.logger.Info(ctx, "IBKR connected", map[string]interface{}{
				"host": s.host, "port": s.port, "clientId": s.clientID,
			})
			return nil
		}
		lastErr = err
		s.logger.Warn(ctx, "IBKR connection attempt failed", map[string]interface{}{
			"attempt": attempt, "retries": connectRetries, "error": err.Error(),
		})
		if attempt < connectRetries {
			select {
			case <-time.After(b.Duration()):
			case <-ctx.Done():
				return fmt.Errorf("%w: %v", ports.ErrContextCanceled, ctx.Err())
			}
		}
	}

	s.mu.Lock()
	s.connected = false
	s.mu.Unlock()
	return fmt.Errorf("%w: %v", ports.ErrConnectionFailed, lastErr)
}

func (s *Source) checkSession(ctx context.Context) error {
	var status authStatus
	resp, err := s.client.R().
		SetContext(ctx).
		SetResult(&status).
		Post("/iserver/auth/status")
	if err != nil {
		return fmt.Errorf("gateway unreachable: %v", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("gateway returned status %d", resp.StatusCode())
	}
	if !status.Authenticated {
		return fmt.Errorf("gateway session not authenticated")
	}
	return nil
}

// Disconnect stops all live subscriptions and drops the session flag.
// Safe to call on a source that never connected.
func (s *Source) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	for symbol, cancel := range s.pollers {
		cancel()
		delete(s.pollers, symbol)
	}
	wasConnected := s.connected
	s.connected = false
	s.mu.Unlock()

	if wasConnected {
		s.logger.Info(ctx, "IBKR disconnected")
	}
	return nil
}

type secdefEntry struct {
	Conid       any    `json:"conid"`
	Symbol      string `json:"symbol"`
	Description string `json:"description"`
}

type historyResponse struct {
	Symbol string `json:"symbol"`
	Data   []struct {
		T int64   `json:"t"` // Unix timestamp in milliseconds
		O float64 `json:"o"`
		H float64 `json:"h"`
		L float64 `json:"l"`
		C float64 `json:"c"`
		V float64 `json:"v"`
	} `json:"data"`
}

// FetchHistoricalData downloads bars for the lookback window. The call
// blocks until the gateway responds; callers must respect the pacing floor
// between successive requests.
func (s *Source) FetchHistoricalData(ctx context.Context, symbol string, timeframe domain.Timeframe, lookbackDays int, useRTH bool) ([]*domain.Bar, error) {
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol must not be empty", ports.ErrInvalidRequest)
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: lookback_days must be positive", ports.ErrInvalidRequest)
	}

	s.mu.RLock()
	connected := s.connected
	s.mu.RUnlock()
	if !connected {
		s.logger.Error(ctx, ports.ErrNotConnected, "Not connected to IBKR", map[string]interface{}{"symbol": symbol})
		return nil, ports.ErrNotConnected
	}

	conid, err := s.resolveConid(ctx, symbol)
	if err != nil {
		s.logger.Error(ctx, err, "IBKR contract lookup failed", map[string]interface{}{"symbol": symbol})
		return nil, err
	}

	s.logger.Info(ctx, "Fetching bars from IBKR", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "lookbackDays": lookbackDays, "useRTH": useRTH,
	})

	var history historyResponse
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"conid":      conid,
			"period":     fmt.Sprintf("%dd", lookbackDays),
			"bar":        convertTimeframe(timeframe),
			"outsideRth": fmt.Sprintf("%t", !useRTH),
		}).
		SetResult(&history).
		Get("/iserver/marketdata/history")
	if err != nil {
		wrapped := fmt.Errorf("%w: history request for %s: %v", ports.ErrProviderUnavailable, symbol, err)
		s.logger.Error(ctx, wrapped, "IBKR fetch error", map[string]interface{}{"symbol": symbol})
		return nil, wrapped
	}
	if resp.StatusCode() != 200 {
		wrapped := fmt.Errorf("%w: history request for %s returned status %d", ports.ErrProviderUnavailable, symbol, resp.StatusCode())
		s.logger.Error(ctx, wrapped, "IBKR fetch error", map[string]interface{}{"symbol": symbol})
		return nil, wrapped
	}

	bars := make([]*domain.Bar, 0, len(history.Data))
	for _, raw := range history.Data {
		bar, err := domain.NewBar(
			time.UnixMilli(raw.T).UTC(),
			round2(raw.O), round2(raw.H), round2(raw.L), round2(raw.C),
			int64(raw.V),
		)
		if err != nil {
			s.logger.Warn(ctx, "Skipping malformed IBKR bar", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		bar.Symbol = symbol
		bar.Timeframe = timeframe
		bar.Source = domain.SourceIBKR
		bar.Normalized = true
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	s.logger.Info(ctx, "Fetched bars from IBKR", map[string]interface{}{"symbol": symbol, "bars": len(bars)})
	return bars, nil
}

// resolveConid maps a symbol to the gateway's contract id, caching results.
func (s *Source) resolveConid(ctx context.Context, symbol string) (string, error) {
	s.mu.RLock()
	conid, ok := s.conids[symbol]
	s.mu.RUnlock()
	if ok {
		return conid, nil
	}

	var entries []secdefEntry
	resp, err := s.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&entries).
		Get("/iserver/secdef/search")
	if err != nil {
		return "", fmt.Errorf("%w: contract search for %s: %v", ports.ErrProviderUnavailable, symbol, err)
	}
	if resp.StatusCode() != 200 || len(entries) == 0 {
		return "", fmt.Errorf("%w: no contract found for %s", ports.ErrNotFound, symbol)
	}

	conid = fmt.Sprintf("%v", entries[0].Conid)
	s.mu.Lock()
	s.conids[symbol] = conid
	s.mu.Unlock()
	return conid, nil
}

// SubscribeToBars starts a polling loop that keeps the latest bar for the
// symbol in the local cache. The Client Portal streaming channel is not
// used; a best-effort poll at the bar interval is enough for the
// synchronous GetLatestBar read.
func (s *Source) SubscribeToBars(ctx context.Context, symbol string, timeframe domain.Timeframe) error {
	s.mu.Lock()
	if !s.connected {
		s.mu.Unlock()
		s.logger.Error(ctx, ports.ErrNotConnected, "Not connected to IBKR", map[string]interface{}{"symbol": symbol})
		return ports.ErrNotConnected
	}
	if _, exists := s.pollers[symbol]; exists {
		s.mu.Unlock()
		return nil // already subscribed
	}
	pollCtx, cancel := context.WithCancel(ctx)
	s.pollers[symbol] = cancel
	s.mu.Unlock()

	interval := pollInterval(timeframe)
	go s.pollBars(pollCtx, symbol, timeframe, interval)

	s.logger.Info(ctx, "Subscribed to live bars", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "pollInterval": interval.String(),
	})
	return nil
}

func (s *Source) pollBars(ctx context.Context, symbol string, timeframe domain.Timeframe, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			bars, err := s.FetchHistoricalData(ctx, symbol, timeframe, 1, true)
			if err != nil || len(bars) == 0 {
				continue
			}
			latest := bars[len(bars)-1]
			s.mu.Lock()
			s.barsCache[symbol] = latest
			s.mu.Unlock()
			s.logger.Debug(ctx, "Bar update", map[string]interface{}{"symbol": symbol, "close": latest.Close})
		}
	}
}

// GetLatestBar returns the most recently cached bar for the symbol.
func (s *Source) GetLatestBar(symbol string) (*domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bar, ok := s.barsCache[symbol]
	return bar, ok
}

// convertTimeframe maps the canonical timeframe to the gateway's bar sizes.
// Unmapped values fall back to one hour. Note the gateway uses "1m" for one
// month; the one-minute size is "1min".
func convertTimeframe(tf domain.Timeframe) string {
	switch tf {
	case domain.Timeframe1m:
		return "1min"
	case domain.Timeframe5m:
		return "5min"
	case domain.Timeframe15m:
		return "15min"
	case domain.Timeframe1H:
		return "1h"
	case domain.Timeframe4H:
		return "4h"
	case domain.Timeframe1D:
		return "1d"
	case domain.Timeframe1W:
		return "1w"
	case domain.Timeframe1M:
		return "1m"
	default:
		return "1h"
	}
}

func pollInterval(tf domain.Timeframe) time.Duration {
	switch tf {
	case domain.Timeframe1m:
		return minPollInterval
	case domain.Timeframe5m:
		return 5 * time.Minute
	case domain.Timeframe15m:
		return 15 * time.Minute
	default:
		return 30 * time.Minute
	}
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}
