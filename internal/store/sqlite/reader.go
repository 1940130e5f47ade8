package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/model"
)

// Reader serves persisted candles as startup history.
// It implements model.HistoryLoader.
type Reader struct {
	db  *sql.DB
	log zerolog.Logger
}

// NewReader opens dbPath for reading. A missing file yields a Reader that
// returns empty history.
func NewReader(dbPath string, log zerolog.Logger) (*Reader, error) {
	log = log.With().Str("component", "sqlite-reader").Logger()
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		log.Warn().Str("path", dbPath).Msg("database missing, history starts empty")
		return &Reader{log: log}, nil
	}

	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open reader: %w", err)
	}
	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(2)

	log.Info().Str("path", dbPath).Msg("opened")
	return &Reader{db: db, log: log}, nil
}

// LoadHistory returns up to count most recent candles of (symbol, tf),
// oldest first.
func (r *Reader) LoadHistory(ctx context.Context, symbol string, tf model.Timeframe, count int) ([]model.Candle, error) {
	if r.db == nil || count <= 0 {
		return nil, nil
	}

	rows, err := r.db.QueryContext(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles_tf
		WHERE symbol = ? AND tf = ?
		ORDER BY ts DESC
		LIMIT ?
	`, symbol, int(tf), count)
	if err != nil {
		if strings.Contains(err.Error(), "no such table") {
			return nil, nil
		}
		return nil, fmt.Errorf("sqlite query candles_tf: %w", err)
	}
	defer rows.Close()

	var candles []model.Candle
	for rows.Next() {
		c := model.Candle{Symbol: symbol, Timeframe: tf, Final: true}
		var o, h, l, cl string
		if err := rows.Scan(&c.PeriodStart, &o, &h, &l, &cl, &c.TickCount); err != nil {
			return nil, fmt.Errorf("sqlite scan candles_tf: %w", err)
		}
		if c.Open, err = decimal.NewFromString(o); err != nil {
			return nil, fmt.Errorf("candle %s@%d open: %w", symbol, c.PeriodStart, err)
		}
		if c.High, err = decimal.NewFromString(h); err != nil {
			return nil, fmt.Errorf("candle %s@%d high: %w", symbol, c.PeriodStart, err)
		}
		if c.Low, err = decimal.NewFromString(l); err != nil {
			return nil, fmt.Errorf("candle %s@%d low: %w", symbol, c.PeriodStart, err)
		}
		if c.Close, err = decimal.NewFromString(cl); err != nil {
			return nil, fmt.Errorf("candle %s@%d close: %w", symbol, c.PeriodStart, err)
		}
		candles = append(candles, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(candles)-1; i < j; i, j = i+1, j-1 {
		candles[i], candles[j] = candles[j], candles[i]
	}
	return candles, nil
}

// Close closes the reader.
func (r *Reader) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
