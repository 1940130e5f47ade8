package gale

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"trading-signalsv1/internal/model"
)

var (
	// ErrSequenceActive is returned when a start is attempted while a
	// sequence past level 0 is running for the same key.
	ErrSequenceActive = errors.New("gale: sequence active")
	// ErrDisplaying is returned while a LOSS_MAX result is still on display.
	ErrDisplaying = errors.New("gale: result on display")
	// ErrInvalidSignal is returned for a malformed strategy signal or candle.
	ErrInvalidSignal = errors.New("gale: invalid signal")
)

// Config configures a Manager.
type Config struct {
	Ladder *Ladder

	// IndependentDirections keys sequences by (symbol, direction) so a CALL
	// and a PUT sequence may run side by side. Otherwise one per symbol.
	IndependentDirections bool

	// DisplayDelay keeps a LOSS_MAX sequence visible before removal.
	DisplayDelay time.Duration

	// EvalGapLimit cancels a sequence once its evaluation candle has been
	// missing for this many periods.
	EvalGapLimit int

	Now    func() time.Time
	NewID  func() string
	Logger zerolog.Logger
}

// Stats aggregates sequence outcomes since start.
type Stats struct {
	Started     int             `json:"started"`
	Replaced    int             `json:"replaced"`
	Blocked     int             `json:"blocked"`
	Won         int             `json:"won"`
	LostMax     int             `json:"lost_max"`
	Cancelled   int             `json:"cancelled"`
	NetProfit   decimal.Decimal `json:"net_profit"`
	WinsByLevel map[int]int     `json:"wins_by_level"`
}

type key struct {
	symbol string
	dir    model.Direction
}

// Manager owns every gale sequence. Not goroutine-safe: the pipeline
// engine is its only caller.
type Manager struct {
	cfg   Config
	seqs  map[key]*Sequence
	stats Stats
	log   zerolog.Logger
}

// NewManager creates a Manager. cfg.Ladder is required.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.Ladder == nil {
		return nil, fmt.Errorf("gale: ladder required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.EvalGapLimit <= 0 {
		cfg.EvalGapLimit = 3
	}
	return &Manager{
		cfg:   cfg,
		seqs:  make(map[key]*Sequence),
		stats: Stats{WinsByLevel: make(map[int]int)},
		log:   cfg.Logger.With().Str("component", "gale").Logger(),
	}, nil
}

// SetLadder replaces the ladder for sequences started from now on.
// Running sequences keep the ladder they started with.
func (m *Manager) SetLadder(l *Ladder) {
	if l != nil {
		m.cfg.Ladder = l
	}
}

// Ladder returns the ladder new sequences start with.
func (m *Manager) Ladder() *Ladder { return m.cfg.Ladder }

func (m *Manager) key(symbol string, dir model.Direction) key {
	if m.cfg.IndependentDirections {
		return key{symbol, dir}
	}
	return key{symbol: symbol}
}

// Start opens a sequence from a strategy signal produced on the close of
// candle closed. The traded period is the one following closed.
// A pending level-0 sequence is replaced and reported in the returned
// events as signal_cancelled{replaced}; anything further along blocks.
func (m *Manager) Start(closed model.Candle, sig model.StrategySignal) (model.Signal, []model.Event, error) {
	if !sig.Direction.Valid() || !closed.Close.IsPositive() || closed.Timeframe <= 0 {
		return model.Signal{}, nil, fmt.Errorf("%w: dir=%q close=%s", ErrInvalidSignal, sig.Direction, closed.Close)
	}

	var events []model.Event

	k := m.key(closed.Symbol, sig.Direction)
	if cur, ok := m.seqs[k]; ok {
		switch {
		case !cur.Active:
			m.stats.Blocked++
			m.log.Info().Str("symbol", closed.Symbol).Str("dir", string(sig.Direction)).
				Str("result", string(cur.FinalResult)).Msg("signal blocked: result on display")
			return model.Signal{}, nil, ErrDisplaying
		case cur.Level > 0:
			m.stats.Blocked++
			m.log.Info().Str("symbol", closed.Symbol).Str("dir", string(sig.Direction)).
				Int("level", cur.Level).Msg("signal blocked: gale in progress")
			return model.Signal{}, nil, ErrSequenceActive
		}
		m.stats.Replaced++
		events = append(events, model.SignalCancelledEvent{
			Symbol: cur.Symbol, Direction: cur.Direction, SequenceID: cur.ID, Reason: model.ReasonReplaced,
		})
		m.log.Info().Str("symbol", closed.Symbol).Str("old_seq", cur.ID).Msg("replacing pending level-0 signal")
	}

	ladder := m.cfg.Ladder
	generatedAt := closed.End()
	seq := &Sequence{
		ID:            m.cfg.NewID(),
		Symbol:        closed.Symbol,
		Direction:     sig.Direction,
		Timeframe:     closed.Timeframe,
		Confidence:    sig.Confidence,
		Indicators:    sig.Indicators,
		BasePrice:     closed.Close,
		CurrentPrice:  closed.Close,
		StartTime:     generatedAt,
		GeneratedAt:   generatedAt,
		ExpiresAt:     generatedAt + closed.Timeframe.Seconds(),
		TotalInvested: ladder.Stake(0),
		Trades:        []model.GaleEntry{},
		Active:        true,
		ladder:        ladder,
	}
	m.seqs[k] = seq
	m.stats.Started++

	m.log.Info().Str("symbol", seq.Symbol).Str("dir", string(seq.Direction)).
		Str("seq", seq.ID).Str("entry", seq.BasePrice.String()).
		Int64("expires_at", seq.ExpiresAt).Msg("sequence started")
	return seq.Snapshot(m.cfg.Now()), events, nil
}

// Evaluate resolves every active sequence of closed.Symbol whose traded
// period has ended, using closed or, for late evaluations, lookup.
// Returns gale_continue / gale_result / signal_cancelled events in order.
func (m *Manager) Evaluate(closed model.Candle, lookup func(periodStart int64) (model.Candle, bool)) []model.Event {
	var events []model.Event
	for _, k := range m.keysOf(closed.Symbol) {
		seq := m.seqs[k]
		if !seq.Active || seq.Timeframe != closed.Timeframe {
			continue
		}
		events = m.evaluateSeq(k, seq, closed, lookup, events)
	}
	return events
}

func (m *Manager) evaluateSeq(k key, seq *Sequence, closed model.Candle, lookup func(int64) (model.Candle, bool), events []model.Event) []model.Event {
	tf := seq.Timeframe.Seconds()
	for seq.Active {
		es := seq.evalStart()
		if closed.PeriodStart < es {
			return events
		}

		c, ok := closed, closed.PeriodStart == es
		if !ok && lookup != nil {
			c, ok = lookup(es)
		}
		if !ok {
			missed := (closed.PeriodStart - es) / tf
			if missed >= int64(m.cfg.EvalGapLimit) {
				m.log.Warn().Str("symbol", seq.Symbol).Str("seq", seq.ID).Int64("eval_start", es).
					Msg("evaluation candle missing, cancelling sequence")
				delete(m.seqs, k)
				m.stats.Cancelled++
				return append(events, model.SignalCancelledEvent{
					Symbol: seq.Symbol, Direction: seq.Direction, SequenceID: seq.ID, Reason: model.ReasonDataMissing,
				})
			}
			m.log.Debug().Str("symbol", seq.Symbol).Str("seq", seq.ID).Int64("eval_start", es).
				Msg("evaluation candle missing, deferring")
			return events
		}

		events = append(events, m.resolve(k, seq, c))
	}
	return events
}

// resolve applies one evaluation candle to seq.
func (m *Manager) resolve(k key, seq *Sequence, c model.Candle) model.Event {
	now := m.cfg.Now()
	won := seq.Direction.Wins(c.Close, seq.BasePrice)
	level := seq.Level

	entry := model.GaleEntry{
		Level:     level,
		Result:    model.ResultLoss,
		Price:     c.Close,
		Stake:     seq.ladder.Stake(level),
		Timestamp: c.End(),
	}
	if won {
		entry.Result = model.ResultWin
	}
	seq.Trades = append(seq.Trades, entry)
	seq.CurrentPrice = c.Close

	switch {
	case won:
		profit := seq.ladder.Profit(level)
		seq.Active = false
		seq.FinalResult = model.ResultWin
		delete(m.seqs, k)

		m.stats.Won++
		m.stats.WinsByLevel[level]++
		m.stats.NetProfit = m.stats.NetProfit.Add(profit)
		m.log.Info().Str("symbol", seq.Symbol).Str("seq", seq.ID).Int("level", level).
			Str("profit", profit.String()).Msg("sequence won")
		return model.GaleResultEvent{Result: model.ResultWin, Level: level, Profit: profit, Signal: seq.Snapshot(now)}

	case level >= seq.ladder.MaxLevel():
		loss := seq.TotalInvested
		seq.Active = false
		seq.FinalResult = model.ResultLossMax
		seq.removeAt = now.Add(m.cfg.DisplayDelay)

		m.stats.LostMax++
		m.stats.NetProfit = m.stats.NetProfit.Sub(loss)
		m.log.Info().Str("symbol", seq.Symbol).Str("seq", seq.ID).Int("level", level).
			Str("loss", loss.String()).Msg("sequence lost at max level")
		return model.GaleResultEvent{Result: model.ResultLossMax, Level: level, Profit: loss.Neg(), Signal: seq.Snapshot(now)}

	default:
		seq.Level++
		seq.BasePrice = c.Close
		seq.GeneratedAt = seq.ExpiresAt
		seq.ExpiresAt += seq.Timeframe.Seconds()
		seq.TotalInvested = seq.TotalInvested.Add(seq.ladder.Stake(seq.Level))

		m.log.Info().Str("symbol", seq.Symbol).Str("seq", seq.ID).Int("level", seq.Level).
			Str("base", seq.BasePrice.String()).Msg("gale continue")
		return model.GaleContinueEvent{Level: seq.Level, Signal: seq.Snapshot(now)}
	}
}

// UpdatePrice records the latest price (and forming candle) on every
// active sequence of symbol, for is_winning and current_ohlc.
func (m *Manager) UpdatePrice(symbol string, price decimal.Decimal, ohlc *model.OHLC) {
	for _, k := range m.keysOf(symbol) {
		if seq := m.seqs[k]; seq.Active {
			seq.CurrentPrice = price
			if ohlc != nil {
				seq.OHLC = ohlc
			}
		}
	}
}

// Cancel drops every sequence of symbol without evaluating it.
// Active sequences yield a signal_cancelled event; completed ones on
// display are removed silently.
func (m *Manager) Cancel(symbol, reason string) []model.Event {
	var events []model.Event
	for _, k := range m.keysOf(symbol) {
		seq := m.seqs[k]
		delete(m.seqs, k)
		if !seq.Active {
			continue
		}
		m.stats.Cancelled++
		events = append(events, model.SignalCancelledEvent{
			Symbol: seq.Symbol, Direction: seq.Direction, SequenceID: seq.ID, Reason: reason,
		})
		m.log.Info().Str("symbol", seq.Symbol).Str("seq", seq.ID).Str("reason", reason).Msg("sequence cancelled")
	}
	return events
}

// CancelAll drops every sequence of every symbol.
func (m *Manager) CancelAll(reason string) []model.Event {
	var events []model.Event
	for _, sym := range m.symbols() {
		events = append(events, m.Cancel(sym, reason)...)
	}
	return events
}

// Sweep removes completed sequences whose display delay has elapsed.
// Returns the number removed.
func (m *Manager) Sweep() int {
	now := m.cfg.Now()
	n := 0
	for k, seq := range m.seqs {
		if !seq.Active && !now.Before(seq.removeAt) {
			delete(m.seqs, k)
			n++
		}
	}
	return n
}

// Signals returns snapshots of all sequences (active and on display),
// ordered by symbol then direction.
func (m *Manager) Signals() []model.Signal {
	now := m.cfg.Now()
	var out []model.Signal
	for _, sym := range m.symbols() {
		for _, k := range m.keysOf(sym) {
			out = append(out, m.seqs[k].Snapshot(now))
		}
	}
	return out
}

// Active reports whether an active sequence exists for (symbol, dir).
func (m *Manager) Active(symbol string, dir model.Direction) bool {
	seq, ok := m.seqs[m.key(symbol, dir)]
	return ok && seq.Active && seq.Direction == dir
}

// Len returns the number of tracked sequences, including displays.
func (m *Manager) Len() int { return len(m.seqs) }

// Stats returns a copy of the outcome counters.
func (m *Manager) Stats() Stats {
	st := m.stats
	st.WinsByLevel = make(map[int]int, len(m.stats.WinsByLevel))
	for k, v := range m.stats.WinsByLevel {
		st.WinsByLevel[k] = v
	}
	return st
}

// keysOf returns the keys of symbol in deterministic order.
func (m *Manager) keysOf(symbol string) []key {
	var keys []key
	for k := range m.seqs {
		if k.symbol == symbol {
			keys = append(keys, k)
		}
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].dir < keys[j].dir })
	return keys
}

func (m *Manager) symbols() []string {
	seen := make(map[string]bool, len(m.seqs))
	var out []string
	for k := range m.seqs {
		if !seen[k.symbol] {
			seen[k.symbol] = true
			out = append(out, k.symbol)
		}
	}
	sort.Strings(out)
	return out
}
