package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"marketCollector/internal/domain"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

const validYAML = `
data_collector:
  data_source: IBKR
  backup_source: YAHOO
  symbols:
    - AAPL
    - MSFT
  timeframe: 1H
  lookback_days: 10
  useRTH: false
  data_dir: /tmp/bars
  output_format:
    - csv
    - parquet
ibkr:
  host: gateway.local
  port: 4002
  clientId: 7
log_level: DEBUG
`

func TestLoad_FromYAML(t *testing.T) {
	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "IBKR", cfg.DataCollector.DataSource)
	assert.Equal(t, "YAHOO", cfg.DataCollector.BackupSource)
	assert.Equal(t, []string{"AAPL", "MSFT"}, cfg.DataCollector.Symbols)
	assert.Equal(t, domain.Timeframe1H, cfg.Timeframe())
	assert.Equal(t, 10, cfg.DataCollector.LookbackDays)
	assert.False(t, cfg.DataCollector.UseRTH)
	assert.Equal(t, []string{"csv", "parquet"}, cfg.DataCollector.OutputFormat)
	assert.Equal(t, "gateway.local", cfg.IBKR.Host)
	assert.Equal(t, 4002, cfg.IBKR.Port)
	assert.Equal(t, 7, cfg.IBKR.ClientID)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
}

func TestLoad_DefaultsWhenFileMissing(t *testing.T) {
	// Symbols have no default, so a missing file alone cannot validate.
	t.Setenv("COLLECTOR_SYMBOLS", "SPY")

	cfg, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, domain.SourceIBKR, cfg.DataCollector.DataSource)
	assert.Equal(t, domain.SourceYahoo, cfg.DataCollector.BackupSource)
	assert.Equal(t, []string{"SPY"}, cfg.DataCollector.Symbols)
	assert.Equal(t, domain.Timeframe1D, cfg.Timeframe())
	assert.Equal(t, 30, cfg.DataCollector.LookbackDays)
	assert.True(t, cfg.DataCollector.UseRTH)
	assert.Equal(t, "data", cfg.DataCollector.DataDir)
	assert.Equal(t, []string{"csv", "json"}, cfg.DataCollector.OutputFormat)
	assert.Equal(t, 7497, cfg.IBKR.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("COLLECTOR_DATA_SOURCE", "YAHOO")
	t.Setenv("COLLECTOR_BACKUP_SOURCE", "BINANCE")
	t.Setenv("COLLECTOR_SYMBOLS", "SPY, QQQ ,IWM")
	t.Setenv("COLLECTOR_TIMEFRAME", "5m")
	t.Setenv("COLLECTOR_LOOKBACK_DAYS", "3")
	t.Setenv("COLLECTOR_USE_RTH", "true")
	t.Setenv("COLLECTOR_OUTPUT_FORMAT", "json")
	t.Setenv("IBKR_PORT", "4001")
	t.Setenv("LOG_LEVEL", "WARN")

	cfg, err := Load(writeConfig(t, validYAML))
	require.NoError(t, err)

	assert.Equal(t, "YAHOO", cfg.DataCollector.DataSource)
	assert.Equal(t, "BINANCE", cfg.DataCollector.BackupSource)
	assert.Equal(t, []string{"SPY", "QQQ", "IWM"}, cfg.DataCollector.Symbols)
	assert.Equal(t, domain.Timeframe5m, cfg.Timeframe())
	assert.Equal(t, 3, cfg.DataCollector.LookbackDays)
	assert.True(t, cfg.DataCollector.UseRTH)
	assert.Equal(t, []string{"json"}, cfg.DataCollector.OutputFormat)
	assert.Equal(t, 4001, cfg.IBKR.Port)
	assert.Equal(t, "WARN", cfg.LogLevel)
}

func TestLoad_MalformedYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "data_collector: ["))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse config")
}

func TestValidate_CollectsAllViolations(t *testing.T) {
	cfg := defaults()
	cfg.DataCollector.DataSource = ""
	cfg.DataCollector.Symbols = nil
	cfg.DataCollector.Timeframe = "7h"
	cfg.DataCollector.LookbackDays = 0
	cfg.DataCollector.OutputFormat = []string{"xml"}

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "data_source")
	assert.Contains(t, msg, "symbols")
	assert.Contains(t, msg, "timeframe")
	assert.Contains(t, msg, "lookback_days")
	assert.Contains(t, msg, `unsupported format "xml"`)
}

func TestValidate_InvalidPort(t *testing.T) {
	cfg := defaults()
	cfg.DataCollector.Symbols = []string{"AAPL"}
	cfg.IBKR.Port = 0

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ibkr.port")
}

func TestValidate_EmptySymbolEntry(t *testing.T) {
	cfg := defaults()
	cfg.DataCollector.Symbols = []string{"AAPL", "  "}

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty entries")
}

func TestTimeframe_FallsBackToDaily(t *testing.T) {
	cfg := defaults()
	cfg.DataCollector.Timeframe = "garbage"
	assert.Equal(t, domain.Timeframe1D, cfg.Timeframe())
}
