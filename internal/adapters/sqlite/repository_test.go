package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

type nopLogger struct{}

func (nopLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {}
func (nopLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{})  {}
func (nopLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
}

func newTestRepo(t *testing.T) *Repository {
	t.Helper()
	repo, err := NewRepository(Config{
		DBPath: filepath.Join(t.TempDir(), "archive", "bars.db"),
		Logger: nopLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })
	return repo
}

func archiveBar(t *testing.T, ts time.Time, closePrice float64) *domain.Bar {
	t.Helper()
	bar, err := domain.NewBar(ts, closePrice-1, closePrice+2, closePrice-3, closePrice, 1000)
	require.NoError(t, err)
	bar.Symbol = "AAPL"
	bar.Timeframe = domain.Timeframe1D
	bar.Source = domain.SourceIBKR
	bar.Normalized = true
	return bar
}

func TestNewRepository_RequiresPath(t *testing.T) {
	_, err := NewRepository(Config{Logger: nopLogger{}})
	assert.ErrorIs(t, err, ports.ErrConfiguration)
}

func TestSaveBars_RoundTrip(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	count := int64(42)
	wap := 101.25
	gaps := false

	bars := []*domain.Bar{
		archiveBar(t, base, 100),
		archiveBar(t, base.AddDate(0, 0, 1), 102),
	}
	bars[0].Count = &count
	bars[0].WAP = &wap
	bars[0].HasGaps = &gaps

	require.NoError(t, repo.SaveBars(ctx, bars))

	got, err := repo.FindBySymbol(ctx, "AAPL", domain.Timeframe1D, 0)
	require.NoError(t, err)
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "AAPL", first.Symbol)
	assert.Equal(t, domain.Timeframe1D, first.Timeframe)
	assert.True(t, first.Timestamp.Equal(base))
	assert.InDelta(t, 100.0, first.Close, 1e-9)
	require.NotNil(t, first.Count)
	assert.Equal(t, int64(42), *first.Count)
	require.NotNil(t, first.WAP)
	assert.InDelta(t, 101.25, *first.WAP, 1e-9)
	require.NotNil(t, first.HasGaps)
	assert.False(t, *first.HasGaps)
	assert.Equal(t, domain.SourceIBKR, first.Source)
	assert.True(t, first.Normalized)

	// Absent optionals stay nil after the round trip.
	second := got[1]
	assert.Nil(t, second.Count)
	assert.Nil(t, second.WAP)
	assert.Nil(t, second.HasGaps)
}

func TestSaveBars_ReplacesOnConflict(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.SaveBars(ctx, []*domain.Bar{archiveBar(t, ts, 100)}))

	// Same (symbol, timeframe, timestamp), corrected close.
	require.NoError(t, repo.SaveBars(ctx, []*domain.Bar{archiveBar(t, ts, 105)}))

	got, err := repo.FindBySymbol(ctx, "AAPL", domain.Timeframe1D, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.InDelta(t, 105.0, got[0].Close, 1e-9)
}

func TestSaveBars_EmptyBatch(t *testing.T) {
	repo := newTestRepo(t)
	assert.NoError(t, repo.SaveBars(context.Background(), nil))
}

func TestFindBySymbol_OrderAndLimit(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	// Insert newest first; reads must still come back oldest first.
	bars := []*domain.Bar{
		archiveBar(t, base.AddDate(0, 0, 2), 104),
		archiveBar(t, base, 100),
		archiveBar(t, base.AddDate(0, 0, 1), 102),
	}
	require.NoError(t, repo.SaveBars(ctx, bars))

	got, err := repo.FindBySymbol(ctx, "AAPL", domain.Timeframe1D, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.True(t, got[0].Timestamp.Before(got[1].Timestamp))
	assert.True(t, got[1].Timestamp.Before(got[2].Timestamp))

	limited, err := repo.FindBySymbol(ctx, "AAPL", domain.Timeframe1D, 2)
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestFindBySymbol_FiltersSymbolAndTimeframe(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	aapl := archiveBar(t, ts, 100)
	msft := archiveBar(t, ts, 200)
	msft.Symbol = "MSFT"
	hourly := archiveBar(t, ts, 100)
	hourly.Timeframe = domain.Timeframe1H

	require.NoError(t, repo.SaveBars(ctx, []*domain.Bar{aapl, msft, hourly}))

	got, err := repo.FindBySymbol(ctx, "AAPL", domain.Timeframe1D, 0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "AAPL", got[0].Symbol)

	none, err := repo.FindBySymbol(ctx, "SPY", domain.Timeframe1D, 0)
	require.NoError(t, err)
	assert.Empty(t, none)
}
