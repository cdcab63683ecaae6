package collector

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketCollector/internal/domain"
)

// mockLogger collects messages for assertions.
type mockLogger struct {
	debugMsgs []string
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.debugMsgs = append(m.debugMsgs, msg)
}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	m.errorMsgs = append(m.errorMsgs, msg)
}

// rawBar builds a Bar without the construction invariants, simulating
// records arriving from an untrusted external feed.
func rawBar(open, high, low, closePrice float64, volume int64) *domain.Bar {
	return &domain.Bar{
		Timestamp: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC),
		Open:      open,
		High:      high,
		Low:       low,
		Close:     closePrice,
		Volume:    volume,
		Symbol:    "AAPL",
		Timeframe: domain.Timeframe1D,
	}
}

func TestValidateBar_OK(t *testing.T) {
	v := NewValidator(&mockLogger{})

	ok, reason := v.ValidateBar(rawBar(100, 105, 99, 103, 1000))
	assert.True(t, ok)
	assert.Equal(t, "OK", reason)
}

func TestValidateBar_HighBelowMaxOpenClose(t *testing.T) {
	v := NewValidator(&mockLogger{})

	ok, reason := v.ValidateBar(rawBar(110, 105, 99, 103, 1000))
	assert.False(t, ok)
	assert.Contains(t, reason, "High")
}

func TestValidateBar_LowAboveMinOpenClose(t *testing.T) {
	v := NewValidator(&mockLogger{})

	ok, reason := v.ValidateBar(rawBar(100, 105, 102, 103, 1000))
	assert.False(t, ok)
	assert.Contains(t, reason, "Low")
}

func TestValidateBar_NonPositivePrice(t *testing.T) {
	v := NewValidator(&mockLogger{})

	ok, reason := v.ValidateBar(rawBar(0, 105, 0, 103, 1000))
	assert.False(t, ok)
	assert.Contains(t, reason, "Price")
}

func TestValidateBar_NegativeVolume(t *testing.T) {
	v := NewValidator(&mockLogger{})

	ok, reason := v.ValidateBar(rawBar(100, 105, 99, 103, -5))
	assert.False(t, ok)
	assert.Contains(t, reason, "Volume")
}

func TestValidateBar_WAPAndCountRules(t *testing.T) {
	v := NewValidator(&mockLogger{})

	badWAP := 0.0
	bar := rawBar(100, 105, 99, 103, 1000)
	bar.WAP = &badWAP
	ok, reason := v.ValidateBar(bar)
	assert.False(t, ok)
	assert.Contains(t, reason, "WAP")

	badCount := int64(0)
	bar = rawBar(100, 105, 99, 103, 1000)
	bar.Count = &badCount
	ok, reason = v.ValidateBar(bar)
	assert.False(t, ok)
	assert.Contains(t, reason, "Count")

	// Zero volume makes both rules moot.
	bar = rawBar(100, 105, 99, 103, 0)
	bar.WAP = &badWAP
	bar.Count = &badCount
	ok, _ = v.ValidateBar(bar)
	assert.True(t, ok)
}

func TestValidateBar_JoinsMultipleViolations(t *testing.T) {
	v := NewValidator(&mockLogger{})

	// High below max(open, close), low above min(open, close), high below
	// low, and a non-positive close, all at once.
	ok, reason := v.ValidateBar(rawBar(100, 90, 95, 0, 1000))
	require.False(t, ok)
	parts := strings.Split(reason, "; ")
	assert.Len(t, parts, 4)
	assert.Contains(t, reason, "High")
	assert.Contains(t, reason, "Low")
	assert.Contains(t, reason, "Price")
}

func TestValidateBars_Tally(t *testing.T) {
	v := NewValidator(&mockLogger{})

	bars := []*domain.Bar{
		rawBar(100, 105, 99, 103, 1000), // valid
		rawBar(110, 105, 99, 103, 1000), // high below open
		rawBar(100, 105, 99, 103, 500),  // valid
		rawBar(100, 105, 99, 103, -1),   // negative volume
		rawBar(100, 105, 99, 103, 0),    // valid
	}

	valid, invalid := v.ValidateBars(bars)
	assert.Equal(t, 3, valid)
	assert.Equal(t, 2, invalid)
}

func TestValidateBars_Empty(t *testing.T) {
	v := NewValidator(&mockLogger{})

	valid, invalid := v.ValidateBars(nil)
	assert.Equal(t, 0, valid)
	assert.Equal(t, 0, invalid)
}
