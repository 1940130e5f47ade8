// Package sqlite persists closed candles and serves them back as startup
// history.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"trading-signalsv1/internal/model"
)

const (
	defaultBatchSize  = 100
	defaultFlushDelay = 2 * time.Second
	defaultQueueSize  = 4096
)

// dsn enables WAL so the reader never blocks the writer.
func dsn(path string) string {
	return path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
}

// WriterConfig configures the SQLite writer.
type WriterConfig struct {
	DBPath        string // e.g. "data/candles.db"
	BatchSize     int
	FlushInterval time.Duration
	QueueSize     int
}

// Writer is a single-goroutine SQLite writer with transaction batching.
// It implements model.CandleSink.
type Writer struct {
	db    *sql.DB
	cfg   WriterConfig
	ch    chan model.Candle
	log   zerolog.Logger
	drops atomic.Int64
}

// DB returns the underlying sql.DB for health checks.
func (w *Writer) DB() *sql.DB { return w.db }

// New opens the database in WAL mode and creates the schema.
func New(cfg WriterConfig, log zerolog.Logger) (*Writer, error) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaultFlushDelay
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultQueueSize
	}

	db, err := sql.Open("sqlite3", dsn(cfg.DBPath))
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	// single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log = log.With().Str("component", "sqlite").Logger()
	log.Info().Str("path", cfg.DBPath).Msg("database opened")
	return &Writer{db: db, cfg: cfg, ch: make(chan model.Candle, cfg.QueueSize), log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS candles_tf (
			symbol  TEXT    NOT NULL,
			tf      INTEGER NOT NULL,
			ts      INTEGER NOT NULL,
			open    TEXT    NOT NULL,
			high    TEXT    NOT NULL,
			low     TEXT    NOT NULL,
			close   TEXT    NOT NULL,
			volume  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (symbol, tf, ts)
		);
	`)
	return err
}

// Write queues a closed candle. It never blocks; a full queue drops.
func (w *Writer) Write(c model.Candle) {
	select {
	case w.ch <- c:
	default:
		if n := w.drops.Add(1); n == 1 || n%1000 == 0 {
			w.log.Warn().Int64("dropped", n).Msg("write queue full, candle dropped")
		}
	}
}

// Dropped returns the number of candles dropped on a full queue.
func (w *Writer) Dropped() int64 { return w.drops.Load() }

// Run inserts queued candles in batched transactions. Flushes every
// BatchSize candles or every FlushInterval, whichever first. Blocks until
// ctx is cancelled, then flushes what is queued.
func (w *Writer) Run(ctx context.Context) {
	batch := make([]model.Candle, 0, w.cfg.BatchSize)
	timer := time.NewTimer(w.cfg.FlushInterval)
	defer timer.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		start := time.Now()
		if err := w.insertBatch(batch); err != nil {
			w.log.Error().Err(err).Int("candles", len(batch)).Msg("batch insert failed")
		} else {
			w.log.Debug().Int("candles", len(batch)).Dur("took", time.Since(start)).Msg("batch committed")
		}
		batch = batch[:0]
	}

	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case c := <-w.ch:
					batch = append(batch, c)
					continue
				default:
				}
				break
			}
			flush()
			return

		case c := <-w.ch:
			batch = append(batch, c)
			if len(batch) >= w.cfg.BatchSize {
				flush()
				timer.Reset(w.cfg.FlushInterval)
			}

		case <-timer.C:
			flush()
			timer.Reset(w.cfg.FlushInterval)
		}
	}
}

// insertBatch inserts candles in a single transaction.
func (w *Writer) insertBatch(candles []model.Candle) error {
	tx, err := w.db.Begin()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO candles_tf (symbol, tf, ts, open, high, low, close, volume)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()

	for _, c := range candles {
		_, err := stmt.Exec(c.Symbol, int(c.Timeframe), c.PeriodStart,
			c.Open.String(), c.High.String(), c.Low.String(), c.Close.String(), c.TickCount)
		if err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Close closes the database. Call after Run has returned.
func (w *Writer) Close() error {
	return w.db.Close()
}
