// Package clickhouse stores and serves OHLCV candles for the backtest
// engine. One ReplacingMergeTree table holds every symbol and interval;
// version-based dedup makes re-ingesting the same file a no-op.
package clickhouse

import (
	"context"
	"fmt"
	"time"

	clickhouse "github.com/ClickHouse/clickhouse-go/v2"
	"github.com/shopspring/decimal"

	"cfdbacktest/services/engine"
)

// Config locates the candle store.
type Config struct {
	Addr     string `yaml:"addr"`
	Database string `yaml:"database"`
	Table    string `yaml:"table"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// DefaultConfig matches the local docker-compose setup.
func DefaultConfig() Config {
	return Config{
		Addr:     "localhost:9000",
		Database: "backtest",
		Table:    "ohlcv",
		Username: "backtest",
		Password: "backtest123",
	}
}

// Client wraps a native-protocol connection to the candle store.
type Client struct {
	conn clickhouse.Conn
	cfg  Config
}

// NewClient connects and pings. Callers own the returned client and must
// Close it.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{cfg.Addr},
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": uint64(0),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("clickhouse open: %w", err)
	}
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("clickhouse ping: %w", err)
	}
	return &Client{conn: conn, cfg: cfg}, nil
}

// Close releases the connection.
func (c *Client) Close() error { return c.conn.Close() }

// EnsureSchema creates the database and candle table if absent.
func (c *Client) EnsureSchema(ctx context.Context) error {
	dbDDL := fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", c.cfg.Database)
	if err := c.conn.Exec(ctx, dbDDL); err != nil {
		return fmt.Errorf("create database: %w", err)
	}

	tableDDL := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s.%s (
			symbol String,
			interval LowCardinality(String),
			open_time_ms UInt64,
			open Float64,
			high Float64,
			low Float64,
			close Float64,
			volume Float64,
			ingested_at DateTime64(3),
			version UInt64
		)
		ENGINE = ReplacingMergeTree(version)
		ORDER BY (symbol, interval, open_time_ms)
		SETTINGS index_granularity = 8192
	`, c.cfg.Database, c.cfg.Table)
	return c.conn.Exec(ctx, tableDDL)
}

// IngestSeries batch-inserts every bar of a series under one version, so
// ReplacingMergeTree collapses repeated ingests of the same data.
func (c *Client) IngestSeries(ctx context.Context, symbol, interval string, s *engine.Series) (int, error) {
	batch, err := c.conn.PrepareBatch(ctx, fmt.Sprintf(
		`INSERT INTO %s.%s SETTINGS insert_deduplicate=1`, c.cfg.Database, c.cfg.Table))
	if err != nil {
		return 0, fmt.Errorf("prepare batch: %w", err)
	}

	now := time.Now().UTC()
	ver := uint64(now.UnixNano())

	rows := 0
	for _, b := range s.Bars {
		open, _ := b.Open.Float64()
		high, _ := b.High.Float64()
		low, _ := b.Low.Float64()
		closep, _ := b.Close.Float64()
		vol, _ := b.Volume.Float64()
		if err := batch.Append(
			symbol,
			interval,
			uint64(b.Timestamp),
			open,
			high,
			low,
			closep,
			vol,
			now,
			ver,
		); err != nil {
			return rows, fmt.Errorf("append row %d: %w", rows, err)
		}
		rows++
	}
	if err := batch.Send(); err != nil {
		return rows, fmt.Errorf("send batch: %w", err)
	}
	return rows, nil
}

// LoadBars reads the candle range [fromMs, toMs] for one symbol and
// interval, FINAL-deduplicated and ordered, into a validated series.
func (c *Client) LoadBars(ctx context.Context, symbol, interval string, fromMs, toMs int64) (*engine.Series, error) {
	q := fmt.Sprintf(`
		SELECT open_time_ms, open, high, low, close, volume
		FROM %s.%s FINAL
		WHERE symbol = ? AND interval = ? AND open_time_ms BETWEEN ? AND ?
		ORDER BY open_time_ms`, c.cfg.Database, c.cfg.Table)

	rows, err := c.conn.Query(ctx, q, symbol, interval, uint64(fromMs), uint64(toMs))
	if err != nil {
		return nil, fmt.Errorf("query bars: %w", err)
	}
	defer rows.Close()

	var bars []engine.Bar
	for rows.Next() {
		var (
			ot             uint64
			o, h, l, cl, v float64
		)
		if err := rows.Scan(&ot, &o, &h, &l, &cl, &v); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		bars = append(bars, engine.Bar{
			Timestamp: int64(ot),
			Open:      decimal.NewFromFloat(o),
			High:      decimal.NewFromFloat(h),
			Low:       decimal.NewFromFloat(l),
			Close:     decimal.NewFromFloat(cl),
			Volume:    decimal.NewFromFloat(v),
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate bars: %w", err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("no bars for %s %s in [%d, %d]", symbol, interval, fromMs, toMs)
	}
	return engine.NewSeries(bars)
}

// Count returns the stored bar count for a symbol and interval.
func (c *Client) Count(ctx context.Context, symbol, interval string) (uint64, error) {
	q := fmt.Sprintf(`SELECT count() FROM %s.%s FINAL WHERE symbol = ? AND interval = ?`,
		c.cfg.Database, c.cfg.Table)
	var n uint64
	if err := c.conn.QueryRow(ctx, q, symbol, interval).Scan(&n); err != nil {
		return 0, fmt.Errorf("count bars: %w", err)
	}
	return n, nil
}
