package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"marketCollector/internal/domain"
)

// Config holds all application configuration.
type Config struct {
	DataCollector DataCollectorConfig `yaml:"data_collector"`
	IBKR          IBKRConfig          `yaml:"ibkr"`
	Binance       BinanceConfig       `yaml:"binance"`
	LogLevel      string              `yaml:"log_level"`
}

// DataCollectorConfig drives the collection orchestrator.
type DataCollectorConfig struct {
	DataSource   string   `yaml:"data_source"`   // primary backend name: IBKR, YAHOO, BINANCE
	BackupSource string   `yaml:"backup_source"` // optional fallback backend
	Symbols      []string `yaml:"symbols"`
	Timeframe    string   `yaml:"timeframe"`
	LookbackDays int      `yaml:"lookback_days"`
	UseRTH       bool     `yaml:"useRTH"`
	DataDir      string   `yaml:"data_dir"`
	OutputFormat []string `yaml:"output_format"` // subset of csv, json, parquet
	ArchiveDB    string   `yaml:"archive_db"`    // optional sqlite archive path
	Schedule     string   `yaml:"schedule"`      // optional cron spec for repeated runs
}

// IBKRConfig is passed through unchanged to the IBKR gateway connection.
type IBKRConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID int    `yaml:"clientId"`
}

// BinanceConfig configures the Binance backend.
type BinanceConfig struct {
	APIKey     string `yaml:"api_key"`
	SecretKey  string `yaml:"secret_key"`
	UseTestnet bool   `yaml:"use_testnet"`
}

// Load reads configuration from a YAML file, then applies environment
// variable overrides (a .env file is honored if present).
func Load(path string) (*Config, error) {
	// Load .env file, but don't fail if it doesn't exist (allow pure env vars)
	_ = godotenv.Load()

	cfg := defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config %q: %w", path, err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %q: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		DataCollector: DataCollectorConfig{
			DataSource:   domain.SourceIBKR,
			BackupSource: domain.SourceYahoo,
			Timeframe:    string(domain.Timeframe1D),
			LookbackDays: 30,
			UseRTH:       true,
			DataDir:      "data",
			OutputFormat: []string{"csv", "json"},
		},
		IBKR: IBKRConfig{
			Host:     "127.0.0.1",
			Port:     7497,
			ClientID: 1,
		},
		LogLevel: "INFO",
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("COLLECTOR_DATA_SOURCE"); v != "" {
		cfg.DataCollector.DataSource = v
	}
	if v := os.Getenv("COLLECTOR_BACKUP_SOURCE"); v != "" {
		cfg.DataCollector.BackupSource = v
	}
	if v := os.Getenv("COLLECTOR_SYMBOLS"); v != "" {
		cfg.DataCollector.Symbols = splitList(v)
	}
	if v := os.Getenv("COLLECTOR_TIMEFRAME"); v != "" {
		cfg.DataCollector.Timeframe = v
	}
	if v := os.Getenv("COLLECTOR_LOOKBACK_DAYS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.DataCollector.LookbackDays = n
		}
	}
	if v := os.Getenv("COLLECTOR_USE_RTH"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DataCollector.UseRTH = b
		}
	}
	if v := os.Getenv("COLLECTOR_DATA_DIR"); v != "" {
		cfg.DataCollector.DataDir = v
	}
	if v := os.Getenv("COLLECTOR_OUTPUT_FORMAT"); v != "" {
		cfg.DataCollector.OutputFormat = splitList(v)
	}
	if v := os.Getenv("COLLECTOR_ARCHIVE_DB"); v != "" {
		cfg.DataCollector.ArchiveDB = v
	}
	if v := os.Getenv("COLLECTOR_SCHEDULE"); v != "" {
		cfg.DataCollector.Schedule = v
	}
	if v := os.Getenv("IBKR_HOST"); v != "" {
		cfg.IBKR.Host = v
	}
	if v := os.Getenv("IBKR_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IBKR.Port = n
		}
	}
	if v := os.Getenv("IBKR_CLIENT_ID"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.IBKR.ClientID = n
		}
	}
	if v := os.Getenv("BINANCE_API_KEY"); v != "" {
		cfg.Binance.APIKey = v
	}
	if v := os.Getenv("BINANCE_API_SECRET"); v != "" {
		cfg.Binance.SecretKey = v
	}
	if v := os.Getenv("BINANCE_USE_TESTNET"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Binance.UseTestnet = b
		}
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var knownFormats = map[string]bool{"csv": true, "json": true, "parquet": true}

// Validate checks the loaded configuration, collecting all violations
// before failing.
func (c *Config) Validate() error {
	var errs []string

	dc := &c.DataCollector
	if dc.DataSource == "" {
		errs = append(errs, "data_collector.data_source must be set")
	}
	if len(dc.Symbols) == 0 {
		errs = append(errs, "data_collector.symbols must list at least one symbol")
	}
	for _, s := range dc.Symbols {
		if strings.TrimSpace(s) == "" {
			errs = append(errs, "data_collector.symbols must not contain empty entries")
			break
		}
	}
	if _, err := domain.ParseTimeframe(dc.Timeframe); err != nil {
		errs = append(errs, fmt.Sprintf("data_collector.timeframe: %v", err))
	}
	if dc.LookbackDays <= 0 {
		errs = append(errs, "data_collector.lookback_days must be positive")
	}
	if dc.DataDir == "" {
		errs = append(errs, "data_collector.data_dir must be set")
	}
	if len(dc.OutputFormat) == 0 {
		errs = append(errs, "data_collector.output_format must list at least one format")
	}
	for _, f := range dc.OutputFormat {
		if !knownFormats[strings.ToLower(f)] {
			errs = append(errs, fmt.Sprintf("data_collector.output_format: unsupported format %q", f))
		}
	}
	if c.IBKR.Port <= 0 || c.IBKR.Port > 65535 {
		errs = append(errs, "ibkr.port must be a valid TCP port")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Timeframe returns the parsed canonical timeframe. Call only after a
// successful Validate.
func (c *Config) Timeframe() domain.Timeframe {
	tf, err := domain.ParseTimeframe(c.DataCollector.Timeframe)
	if err != nil {
		return domain.Timeframe1D
	}
	return tf
}
