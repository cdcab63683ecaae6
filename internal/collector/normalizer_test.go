package collector

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

func testBar(t *testing.T, ts time.Time, open, high, low, closePrice float64, volume int64) *domain.Bar {
	t.Helper()
	bar, err := domain.NewBar(ts, open, high, low, closePrice, volume)
	require.NoError(t, err)
	bar.Symbol = "AAPL"
	bar.Timeframe = domain.Timeframe1D
	bar.Source = domain.SourceIBKR
	bar.Normalized = true
	return bar
}

func testBars(t *testing.T, n int) []*domain.Bar {
	t.Helper()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]*domain.Bar, 0, n)
	for i := 0; i < n; i++ {
		bars = append(bars, testBar(t, base.AddDate(0, 0, i), 100.123, 105.456, 99.789, 103.001, int64(1000+i)))
	}
	return bars
}

func TestBarsToCSV_RoundTrip(t *testing.T) {
	n := NewNormalizer(&mockLogger{})
	path := filepath.Join(t.TempDir(), "out", "AAPL_1D_20240301.csv")

	bars := testBars(t, 3)
	wap := 103.456
	count := int64(42)
	bars[0].WAP = &wap
	bars[0].Count = &count

	require.NoError(t, n.BarsToCSV(bars, path))

	file, err := os.Open(path)
	require.NoError(t, err)
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4) // header + 3 rows

	header := records[0]
	assert.Equal(t, []string{
		"symbol", "timeframe", "timestamp",
		"open", "high", "low", "close", "volume",
		"count", "wap", "hasGaps", "source", "normalized",
	}, header)

	first := records[1]
	assert.Equal(t, "AAPL", first[0])
	assert.Equal(t, "1D", first[1])
	assert.Equal(t, "2024-03-01 00:00:00", first[2])

	open, err := strconv.ParseFloat(first[3], 64)
	require.NoError(t, err)
	assert.InDelta(t, 100.123, open, 0.005) // 2-decimal rounding tolerance
	assert.Equal(t, "1000", first[7])
	assert.Equal(t, "42", first[8])
	assert.Equal(t, "103.46", first[9])
	assert.Equal(t, "false", first[10])
	assert.Equal(t, "IBKR", first[11])
	assert.Equal(t, "true", first[12])

	// Bars without optionals fall back to zero values.
	second := records[2]
	assert.Equal(t, "0", second[8])
	assert.Equal(t, "0.00", second[9])
}

func TestBarsToJSON_RefusesEmpty(t *testing.T) {
	n := NewNormalizer(&mockLogger{})
	path := filepath.Join(t.TempDir(), "empty.json")

	err := n.BarsToJSON(nil, path, "AAPL", domain.Timeframe1D)
	require.Error(t, err)
	assert.ErrorIs(t, err, ports.ErrNoData)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr), "no file should be written for an empty batch")
}

func TestBarsToJSON_Envelope(t *testing.T) {
	n := NewNormalizer(&mockLogger{})
	path := filepath.Join(t.TempDir(), "AAPL_1D_20240301.json")

	bars := testBars(t, 4)
	// Introduce one duplicate timestamp and one gap flag.
	bars[1].Timestamp = bars[0].Timestamp
	gap := true
	bars[2].HasGaps = &gap

	require.NoError(t, n.BarsToJSON(bars, path, "AAPL", domain.Timeframe1D))

	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var envelope struct {
		Symbol    string `json:"symbol"`
		Timeframe string `json:"timeframe"`
		Period    struct {
			Start         string `json:"start"`
			End           string `json:"end"`
			TotalBars     int    `json:"total_bars"`
			DateGenerated string `json:"date_generated"`
		} `json:"period"`
		Metadata struct {
			Source      string `json:"source"`
			Normalized  bool   `json:"normalized"`
			DataQuality struct {
				MissingBars  int `json:"missing_bars"`
				GapsDetected int `json:"gaps_detected"`
				Duplicates   int `json:"duplicates"`
			} `json:"data_quality"`
		} `json:"metadata"`
		Bars []json.RawMessage `json:"bars"`
	}
	require.NoError(t, json.Unmarshal(data, &envelope))

	assert.Equal(t, "AAPL", envelope.Symbol)
	assert.Equal(t, "1D", envelope.Timeframe)
	assert.Len(t, envelope.Bars, 4)
	assert.Equal(t, 4, envelope.Period.TotalBars)
	assert.Equal(t, "2024-03-01 00:00:00", envelope.Period.Start)
	assert.NotEmpty(t, envelope.Period.DateGenerated)
	assert.Equal(t, "IBKR", envelope.Metadata.Source)
	assert.True(t, envelope.Metadata.Normalized)
	assert.Equal(t, 0, envelope.Metadata.DataQuality.MissingBars)
	assert.Equal(t, 1, envelope.Metadata.DataQuality.GapsDetected)
	assert.Equal(t, 1, envelope.Metadata.DataQuality.Duplicates)
}

func TestBarsToParquet_RoundTrip(t *testing.T) {
	n := NewNormalizer(&mockLogger{})
	path := filepath.Join(t.TempDir(), "AAPL_1D_20240301.parquet")

	bars := testBars(t, 5)
	require.NoError(t, n.BarsToParquet(bars, path))

	rows, err := parquet.ReadFile[parquetRow](path)
	require.NoError(t, err)
	require.Len(t, rows, 5)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assert.Equal(t, bars[0].Timestamp.UnixMilli(), rows[0].Timestamp)
	assert.InDelta(t, bars[0].Open, rows[0].Open, 1e-9)
}

func TestCountDuplicates(t *testing.T) {
	bars := testBars(t, 3)
	assert.Equal(t, 0, countDuplicates(bars))

	bars[2].Timestamp = bars[0].Timestamp
	assert.Equal(t, 1, countDuplicates(bars))

	bars[1].Timestamp = bars[0].Timestamp
	assert.Equal(t, 2, countDuplicates(bars))
}
