package collector

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/parquet-go/parquet-go"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"
)

const timestampLayout = "2006-01-02 15:04:05"

// Normalizer serializes validated bars to durable formats, attaching derived
// metadata (quality counters, period bounds) on the JSON export. Each export
// is idempotent and side-effect-isolated to its target path; parent
// directories are created as needed.
type Normalizer struct {
	logger ports.Logger
}

// NewNormalizer creates a Normalizer.
func NewNormalizer(logger ports.Logger) *Normalizer {
	return &Normalizer{logger: logger}
}

func ensureParentDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// BarsToCSV flattens each bar to the fixed column set and writes one row per
// bar. Prices and WAP are rounded to 2 decimals; absent optional fields fall
// back to zero values.
func (n *Normalizer) BarsToCSV(bars []*domain.Bar, path string) error {
	if err := ensureParentDir(path); err != nil {
		n.logger.Error(context.Background(), err, "CSV export: failed to create directory", map[string]interface{}{"path": path})
		return err
	}

	file, err := os.Create(path)
	if err != nil {
		n.logger.Error(context.Background(), err, "CSV export: failed to create file", map[string]interface{}{"path": path})
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"symbol", "timeframe", "timestamp",
		"open", "high", "low", "close", "volume",
		"count", "wap", "hasGaps", "source", "normalized",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, b := range bars {
		var count int64
		if b.Count != nil {
			count = *b.Count
		}
		var wap float64
		if b.WAP != nil {
			wap = *b.WAP
		}
		var hasGaps bool
		if b.HasGaps != nil {
			hasGaps = *b.HasGaps
		}
		row := []string{
			b.Symbol,
			string(b.Timeframe),
			b.Timestamp.Format(timestampLayout),
			strconv.FormatFloat(round2(b.Open), 'f', 2, 64),
			strconv.FormatFloat(round2(b.High), 'f', 2, 64),
			strconv.FormatFloat(round2(b.Low), 'f', 2, 64),
			strconv.FormatFloat(round2(b.Close), 'f', 2, 64),
			strconv.FormatInt(b.Volume, 10),
			strconv.FormatInt(count, 10),
			strconv.FormatFloat(round2(wap), 'f', 2, 64),
			strconv.FormatBool(hasGaps),
			b.Source,
			strconv.FormatBool(b.Normalized),
		}
		if err := writer.Write(row); err != nil {
			n.logger.Error(context.Background(), err, "CSV export: failed to write row", map[string]interface{}{"path": path})
			return err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		n.logger.Error(context.Background(), err, "CSV export failed", map[string]interface{}{"path": path})
		return err
	}

	n.logger.Info(context.Background(), "Saved bars to CSV", map[string]interface{}{"path": path, "bars": len(bars)})
	return nil
}

func round2(f float64) float64 {
	return math.Round(f*100) / 100
}

// jsonEnvelope is the metadata wrapper written by BarsToJSON.
type jsonEnvelope struct {
	Symbol    string        `json:"symbol"`
	Timeframe string        `json:"timeframe"`
	Period    jsonPeriod    `json:"period"`
	Metadata  jsonMetadata  `json:"metadata"`
	Bars      []*domain.Bar `json:"bars"`
}

type jsonPeriod struct {
	Start         string `json:"start"`
	End           string `json:"end"`
	TotalBars     int    `json:"total_bars"`
	DateGenerated string `json:"date_generated"`
}

type jsonMetadata struct {
	Source      string          `json:"source"`
	Normalized  bool            `json:"normalized"`
	DataQuality jsonDataQuality `json:"data_quality"`
}

type jsonDataQuality struct {
	MissingBars  int `json:"missing_bars"`
	GapsDetected int `json:"gaps_detected"`
	Duplicates   int `json:"duplicates"`
}

// BarsToJSON writes the bars inside a metadata envelope describing the
// covered period and observed data quality. An empty batch is refused:
// there is no meaningful period to describe.
func (n *Normalizer) BarsToJSON(bars []*domain.Bar, path, symbol string, timeframe domain.Timeframe) error {
	if len(bars) == 0 {
		n.logger.Warn(context.Background(), "No bars to export", map[string]interface{}{"symbol": symbol})
		return fmt.Errorf("%w: no bars to export for %s", ports.ErrNoData, symbol)
	}

	if err := ensureParentDir(path); err != nil {
		n.logger.Error(context.Background(), err, "JSON export: failed to create directory", map[string]interface{}{"path": path})
		return err
	}

	envelope := jsonEnvelope{
		Symbol:    symbol,
		Timeframe: string(timeframe),
		Period: jsonPeriod{
			Start:         bars[0].Timestamp.Format(timestampLayout),
			End:           bars[len(bars)-1].Timestamp.Format(timestampLayout),
			TotalBars:     len(bars),
			DateGenerated: time.Now().UTC().Format(timestampLayout),
		},
		Metadata: jsonMetadata{
			Source:     bars[0].Source,
			Normalized: true,
			DataQuality: jsonDataQuality{
				MissingBars:  countMissingBars(bars),
				GapsDetected: countGaps(bars),
				Duplicates:   countDuplicates(bars),
			},
		},
		Bars: bars,
	}

	file, err := os.Create(path)
	if err != nil {
		n.logger.Error(context.Background(), err, "JSON export: failed to create file", map[string]interface{}{"path": path})
		return err
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(envelope); err != nil {
		n.logger.Error(context.Background(), err, "JSON export failed", map[string]interface{}{"path": path})
		return err
	}

	n.logger.Info(context.Background(), "Saved bars to JSON", map[string]interface{}{"path": path, "bars": len(bars)})
	return nil
}

// countMissingBars is a declared placeholder: a timeframe-aware scan of the
// expected bar grid has not been implemented, so the counter is always 0.
// TODO: detect missing bars from the timeframe step once requirements settle.
func countMissingBars(bars []*domain.Bar) int {
	return 0
}

func countGaps(bars []*domain.Bar) int {
	gaps := 0
	for _, b := range bars {
		if b.HasGaps != nil && *b.HasGaps {
			gaps++
		}
	}
	return gaps
}

// countDuplicates counts timestamp collisions: len(timestamps) minus the
// number of distinct timestamps.
func countDuplicates(bars []*domain.Bar) int {
	if len(bars) == 0 {
		return 0
	}
	distinct := make(map[int64]struct{}, len(bars))
	for _, b := range bars {
		distinct[b.Timestamp.UnixNano()] = struct{}{}
	}
	return len(bars) - len(distinct)
}

// parquetRow is the flat record schema for the parquet export.
type parquetRow struct {
	Symbol     string  `parquet:"symbol"`
	Timeframe  string  `parquet:"timeframe"`
	Timestamp  int64   `parquet:"t"` // Unix timestamp in milliseconds
	Open       float64 `parquet:"o"`
	High       float64 `parquet:"h"`
	Low        float64 `parquet:"l"`
	Close      float64 `parquet:"c"`
	Volume     int64   `parquet:"v"`
	WAP        float64 `parquet:"vw,optional"`
	Count      int64   `parquet:"n,optional"`
	Source     string  `parquet:"source"`
	Normalized bool    `parquet:"normalized"`
}

// BarsToParquet writes the bars as a flat parquet file.
func (n *Normalizer) BarsToParquet(bars []*domain.Bar, path string) error {
	if err := ensureParentDir(path); err != nil {
		n.logger.Error(context.Background(), err, "Parquet export: failed to create directory", map[string]interface{}{"path": path})
		return err
	}

	rows := make([]parquetRow, 0, len(bars))
	for _, b := range bars {
		row := parquetRow{
			Symbol:     b.Symbol,
			Timeframe:  string(b.Timeframe),
			Timestamp:  b.Timestamp.UnixMilli(),
			Open:       b.Open,
			High:       b.High,
			Low:        b.Low,
			Close:      b.Close,
			Volume:     b.Volume,
			Source:     b.Source,
			Normalized: b.Normalized,
		}
		if b.WAP != nil {
			row.WAP = *b.WAP
		}
		if b.Count != nil {
			row.Count = *b.Count
		}
		rows = append(rows, row)
	}

	if err := parquet.WriteFile(path, rows); err != nil {
		n.logger.Error(context.Background(), err, "Parquet export failed", map[string]interface{}{"path": path})
		return err
	}

	n.logger.Info(context.Background(), "Saved bars to parquet", map[string]interface{}{"path": path, "bars": len(bars)})
	return nil
}
