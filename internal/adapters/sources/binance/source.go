package binance

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

const (
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	maxKlineLimit = 1000
)

// Source implements ports.DataSource using the go-binance library. It is a
// full-featured backend: historical klines over REST and live bar updates
// over the websocket stream, cached per symbol for GetLatestBar.
//
// useRTH has no meaning on a 24/7 crypto venue and is ignored.
type Source struct {
	futuresClient *futures.Client
	logger        ports.Logger

	mu        sync.RWMutex
	connected bool
	barsCache map[string]*domain.Bar
	streams   map[string]chan struct{}
}

// Config holds configuration specific to the Binance backend.
type Config struct {
	APIKey     string
	SecretKey  string
	UseTestnet bool
	Logger     ports.Logger
}

// New creates a Binance data source. API keys may be empty: public market
// data endpoints do not require authentication.
func New(cfg Config) (*Source, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance source")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)
	if cfg.UseTestnet {
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance source configured for Testnet", map[string]interface{}{"baseURL": client.BaseURL})
	} else {
		client.BaseURL = baseURLProduction
	}

	return &Source{
		futuresClient: client,
		logger:        cfg.Logger,
		barsCache:     make(map[string]*domain.Bar),
		streams:       make(map[string]chan struct{}),
	}, nil
}

// Name returns the provider tag.
func (s *Source) Name() string { return domain.SourceBinance }

// handleError translates Binance API errors into the standard ports errors.
func (s *Source) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := map[string]interface{}{"operation": operation, "originalError": err.Error()}

	var mappedErr error
	var apiErr *common.APIError
	switch {
	case errors.As(err, &apiErr):
		fields["apiErrorCode"] = apiErr.Code
		if apiErr.Code == -1003 {
			mappedErr = ports.ErrRateLimited
		} else {
			mappedErr = ports.ErrProviderUnavailable
		}
	case errors.Is(err, context.DeadlineExceeded):
		mappedErr = ports.ErrTimeout
	case errors.Is(err, context.Canceled):
		mappedErr = ports.ErrContextCanceled
	case strings.Contains(err.Error(), "connection refused"),
		strings.Contains(err.Error(), "connection reset by peer"),
		strings.Contains(err.Error(), "use of closed network connection"):
		mappedErr = ports.ErrConnectionFailed
	default:
		mappedErr = ports.ErrUnknown
	}

	s.logger.Error(ctx, err, fmt.Sprintf("%s failed", operation), fields)
	return fmt.Errorf("%s failed: %w: %w", operation, mappedErr, err)
}

// Connect verifies API reachability and synchronizes client time with the
// exchange. Binance needs no session, so a successful ping is enough.
func (s *Source) Connect(ctx context.Context) error {
	op := "Connect"
	if err := s.futuresClient.NewPingService().Do(ctx); err != nil {
		return s.handleError(ctx, err, op)
	}
	if _, err := s.futuresClient.NewSetServerTimeService().Do(ctx); err != nil {
		return s.handleError(ctx, err, op)
	}

	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	s.logger.Info(ctx, "Binance source connected")
	return nil
}

// Disconnect stops all websocket streams.
func (s *Source) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	for symbol, stopCh := range s.streams {
		close(stopCh)
		delete(s.streams, symbol)
	}
	s.connected = false
	s.mu.Unlock()
	s.logger.Info(ctx, "Binance source disconnected")
	return nil
}

// FetchHistoricalData retrieves klines for the lookback window. The request
// is sized by bar count (lookback days times bars per day), capped at the
// exchange's per-request limit.
func (s *Source) FetchHistoricalData(ctx context.Context, symbol string, timeframe domain.Timeframe, lookbackDays int, useRTH bool) ([]*domain.Bar, error) {
	op := "FetchHistoricalData"
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol must not be empty", ports.ErrInvalidRequest)
	}
	if lookbackDays <= 0 {
		return nil, fmt.Errorf("%w: lookback_days must be positive", ports.ErrInvalidRequest)
	}

	limit := lookbackDays * timeframe.BarsPerDay()
	if limit > maxKlineLimit {
		limit = maxKlineLimit
	}
	if limit < 1 {
		limit = 1
	}

	s.logger.Info(ctx, "Fetching klines from Binance", map[string]interface{}{
		"symbol": symbol, "timeframe": timeframe, "limit": limit,
	})

	klines, err := s.futuresClient.NewKlinesService().
		Symbol(symbol).
		Interval(convertTimeframe(timeframe)).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, s.handleError(ctx, err, op)
	}

	bars := make([]*domain.Bar, 0, len(klines))
	for _, k := range klines {
		bar, err := translateKline(k, symbol, timeframe)
		if err != nil {
			s.logger.Warn(ctx, "Skipping malformed Binance kline", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			continue
		}
		bars = append(bars, bar)
	}
	sort.Slice(bars, func(i, j int) bool { return bars[i].Timestamp.Before(bars[j].Timestamp) })

	s.logger.Info(ctx, "Fetched klines from Binance", map[string]interface{}{"symbol": symbol, "bars": len(bars)})
	return bars, nil
}

// SubscribeToBars starts a websocket kline stream feeding the bars cache.
func (s *Source) SubscribeToBars(ctx context.Context, symbol string, timeframe domain.Timeframe) error {
	op := "SubscribeToBars"

	s.mu.Lock()
	if _, exists := s.streams[symbol]; exists {
		s.mu.Unlock()
		return nil // already subscribed
	}
	s.mu.Unlock()

	handler := func(event *futures.WsKlineEvent) {
		bar, err := translateWsKline(event, timeframe)
		if err != nil {
			s.logger.Warn(ctx, op+": failed to translate websocket kline", map[string]interface{}{"symbol": symbol, "error": err.Error()})
			return
		}
		s.mu.Lock()
		s.barsCache[event.Symbol] = bar
		s.mu.Unlock()
		s.logger.Debug(ctx, "Bar update", map[string]interface{}{"symbol": event.Symbol, "close": bar.Close})
	}
	errHandler := func(err error) {
		s.logger.Warn(ctx, op+": websocket error reported", map[string]interface{}{"symbol": symbol, "error": err.Error()})
	}

	doneCh, stopCh, err := futures.WsKlineServe(symbol, convertTimeframe(timeframe), handler, errHandler)
	if err != nil {
		return s.handleError(ctx, err, op)
	}

	s.mu.Lock()
	s.streams[symbol] = stopCh
	s.mu.Unlock()

	// Drop the stream registration once the connection closes.
	go func() {
		<-doneCh
		s.mu.Lock()
		delete(s.streams, symbol)
		s.mu.Unlock()
	}()

	s.logger.Info(ctx, "Subscribed to live bars", map[string]interface{}{"symbol": symbol, "timeframe": timeframe})
	return nil
}

// GetLatestBar returns the most recently cached bar for the symbol.
func (s *Source) GetLatestBar(symbol string) (*domain.Bar, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	bar, ok := s.barsCache[symbol]
	return bar, ok
}

// translateKline converts an exchange kline into a domain Bar.
func translateKline(k *futures.Kline, symbol string, timeframe domain.Timeframe) (*domain.Bar, error) {
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parse open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parse high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parse low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parse close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", k.Volume, err)
	}

	bar, err := domain.NewBar(time.UnixMilli(k.OpenTime).UTC(), open, high, low, closePrice, int64(volume))
	if err != nil {
		return nil, err
	}
	bar.Symbol = symbol
	bar.Timeframe = timeframe
	count := k.TradeNum
	bar.Count = &count
	bar.Source = domain.SourceBinance
	bar.Normalized = true
	return bar, nil
}

// translateWsKline converts a websocket kline event into a domain Bar.
func translateWsKline(event *futures.WsKlineEvent, timeframe domain.Timeframe) (*domain.Bar, error) {
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parse open %q: %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parse high %q: %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parse low %q: %w", k.Low, err)
	}
	closePrice, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parse close %q: %w", k.Close, err)
	}
	volume, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parse volume %q: %w", k.Volume, err)
	}

	bar, err := domain.NewBar(time.UnixMilli(k.StartTime).UTC(), open, high, low, closePrice, int64(volume))
	if err != nil {
		return nil, err
	}
	bar.Symbol = event.Symbol
	bar.Timeframe = timeframe
	count := k.TradeNum
	bar.Count = &count
	bar.Source = domain.SourceBinance
	bar.Normalized = true
	return bar, nil
}

// convertTimeframe maps the canonical timeframe to Binance's interval
// vocabulary. Unmapped values fall back to one hour.
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
		return "1w"
	case domain.Timeframe1M:
		return "1M"
	default:
		return "1h"
	}
}
