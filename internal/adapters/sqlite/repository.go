package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"marketCollector/internal/domain"
	"marketCollector/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.BarRepository using SQLite. It is the
// optional archive sink next to the file exports: collected bars accumulate
// across runs and can be queried by downstream tooling.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository creates a new SQLite repository instance.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	if cfg.DBPath == "" {
		return nil, fmt.Errorf("%w: archive db path must be set", ports.ErrConfiguration)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0755); err != nil {
		err = fmt.Errorf("failed to create archive directory %q: %w", filepath.Dir(cfg.DBPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_busy_timeout=5000") // WAL mode for better concurrency
	if err != nil {
		err = fmt.Errorf("%w: open database at %q: %w", ports.ErrDBConnection, cfg.DBPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("%w: ping database at %q: %w", ports.ErrDBConnection, cfg.DBPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// SQLite handles concurrency internally; the Go driver benefits from a
	// single connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("initialize archive schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	cfg.Logger.Info(context.Background(), "Bar archive ready", map[string]interface{}{"path": cfg.DBPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS bars (
		symbol TEXT NOT NULL,
		timeframe TEXT NOT NULL,
		timestamp TIMESTAMP NOT NULL,
		open REAL NOT NULL,
		high REAL NOT NULL,
		low REAL NOT NULL,
		close REAL NOT NULL,
		volume INTEGER NOT NULL,
		count INTEGER DEFAULT NULL,
		wap REAL DEFAULT NULL,
		has_gaps INTEGER DEFAULT NULL,
		source TEXT NOT NULL DEFAULT '',
		normalized INTEGER NOT NULL DEFAULT 0,
		PRIMARY KEY (symbol, timeframe, timestamp)
	);
	CREATE INDEX IF NOT EXISTS idx_bars_symbol_timestamp ON bars (symbol, timestamp);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%w: %w", ports.ErrQueryFailed, err)
	}
	return nil
}

// SaveBars writes the batch inside one transaction. Re-saving a
// (symbol, timeframe, timestamp) triple replaces the previous record,
// keeping repeated collection runs idempotent.
func (r *Repository) SaveBars(ctx context.Context, bars []*domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin transaction: %w", ports.ErrQueryFailed, err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO bars
		(symbol, timeframe, timestamp, open, high, low, close, volume, count, wap, has_gaps, source, normalized)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("%w: prepare insert: %w", ports.ErrQueryFailed, err)
	}
	defer stmt.Close()

	for _, b := range bars {
		var count sql.NullInt64
		if b.Count != nil {
			count = sql.NullInt64{Int64: *b.Count, Valid: true}
		}
		var wap sql.NullFloat64
		if b.WAP != nil {
			wap = sql.NullFloat64{Float64: *b.WAP, Valid: true}
		}
		var hasGaps sql.NullBool
		if b.HasGaps != nil {
			hasGaps = sql.NullBool{Bool: *b.HasGaps, Valid: true}
		}
		if _, err := stmt.ExecContext(ctx,
			b.Symbol, string(b.Timeframe), b.Timestamp.UTC(),
			b.Open, b.High, b.Low, b.Close, b.Volume,
			count, wap, hasGaps, b.Source, b.Normalized,
		); err != nil {
			return fmt.Errorf("%w: insert bar %s@%s: %w", ports.ErrQueryFailed, b.Symbol, b.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %w", ports.ErrQueryFailed, err)
	}

	r.logger.Debug(ctx, "Archived bars", map[string]interface{}{"bars": len(bars)})
	return nil
}

// FindBySymbol returns archived bars for the symbol and timeframe, ordered
// oldest to newest. limit <= 0 means no limit.
func (r *Repository) FindBySymbol(ctx context.Context, symbol string, timeframe domain.Timeframe, limit int) ([]*domain.Bar, error) {
	query := `
		SELECT symbol, timeframe, timestamp, open, high, low, close, volume, count, wap, has_gaps, source, normalized
		FROM bars WHERE symbol = ? AND timeframe = ? ORDER BY timestamp ASC`
	args := []interface{}{symbol, string(timeframe)}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: query bars for %s: %w", ports.ErrQueryFailed, symbol, err)
	}
	defer rows.Close()

	var bars []*domain.Bar
	for rows.Next() {
		var (
			b       domain.Bar
			tf      string
			count   sql.NullInt64
			wap     sql.NullFloat64
			hasGaps sql.NullBool
		)
		if err := rows.Scan(
			&b.Symbol, &tf, &b.Timestamp,
			&b.Open, &b.High, &b.Low, &b.Close, &b.Volume,
			&count, &wap, &hasGaps, &b.Source, &b.Normalized,
		); err != nil {
			return nil, fmt.Errorf("%w: scan bar row: %w", ports.ErrQueryFailed, err)
		}
		b.Timeframe = domain.Timeframe(tf)
		if count.Valid {
			v := count.Int64
			b.Count = &v
		}
		if wap.Valid {
			v := wap.Float64
			b.WAP = &v
		}
		if hasGaps.Valid {
			v := hasGaps.Bool
			b.HasGaps = &v
		}
		bars = append(bars, &b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate bar rows: %w", ports.ErrQueryFailed, err)
	}
	return bars, nil
}

// Close releases the database handle.
func (r *Repository) Close() error {
	return r.db.Close()
}
