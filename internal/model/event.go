package model

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// EventType is the "type" field of every message sent to observers.
type EventType string

const (
	EventCandle          EventType = "candle"
	EventCandleClosed    EventType = "candle_closed"
	EventIndicators      EventType = "indicators"
	EventSignal          EventType = "signal"
	EventGaleContinue    EventType = "gale_continue"
	EventGaleResult      EventType = "gale_result"
	EventSignalCancelled EventType = "signal_cancelled"
	EventInitCandles     EventType = "init_candles"
	EventInitIndicators  EventType = "init_indicators"
	EventBotStatus       EventType = "bot_status"
)

// Cancellation reasons carried by SignalCancelledEvent.
const (
	ReasonSymbolChanged   = "symbol_changed"
	ReasonScanningStopped = "scanning_stopped"
	ReasonDataMissing     = "evaluation_data_missing"
	ReasonReplaced        = "replaced"
)

// Event is one state change published through the hub.
// Implementations marshal to a flat JSON object carrying "type".
type Event interface {
	EventType() EventType
	EventSymbol() string
	json.Marshaler
}

// CandleEvent carries a forming (candle) or closed (candle_closed) candle.
type CandleEvent struct {
	Candle Candle
}

func (e CandleEvent) EventType() EventType {
	if e.Candle.Final {
		return EventCandleClosed
	}
	return EventCandle
}

func (e CandleEvent) EventSymbol() string { return e.Candle.Symbol }

func (e CandleEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Symbol    string    `json:"symbol"`
		Timeframe string    `json:"timeframe"`
		Data      Candle    `json:"data"`
	}{e.EventType(), e.Candle.Symbol, e.Candle.Timeframe.Label(), e.Candle})
}

// IndicatorsEvent carries the indicator values of one series.
// Live is true for previews computed from a forming candle.
type IndicatorsEvent struct {
	Symbol    string
	Timeframe Timeframe
	Time      int64
	Live      bool
	Values    map[string]float64
}

func (e IndicatorsEvent) EventType() EventType { return EventIndicators }
func (e IndicatorsEvent) EventSymbol() string  { return e.Symbol }

func (e IndicatorsEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType          `json:"type"`
		Symbol    string             `json:"symbol"`
		Timeframe string             `json:"timeframe"`
		Time      int64              `json:"time"`
		Live      bool               `json:"live"`
		Data      map[string]float64 `json:"data"`
	}{EventIndicators, e.Symbol, e.Timeframe.Label(), e.Time, e.Live, e.Values})
}

// SignalEvent announces a new sequence, or replays an active one.
type SignalEvent struct {
	Signal Signal
}

func (e SignalEvent) EventType() EventType { return EventSignal }
func (e SignalEvent) EventSymbol() string  { return e.Signal.Symbol }

func (e SignalEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
		Signal
	}{EventSignal, e.Signal})
}

// GaleContinueEvent reports a loss with capacity remaining.
type GaleContinueEvent struct {
	Level  int
	Signal Signal
}

func (e GaleContinueEvent) EventType() EventType { return EventGaleContinue }
func (e GaleContinueEvent) EventSymbol() string  { return e.Signal.Symbol }

func (e GaleContinueEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Symbol    string    `json:"symbol"`
		GaleLevel int       `json:"gale_level"`
		Signal    Signal    `json:"signal"`
	}{EventGaleContinue, e.Signal.Symbol, e.Level, e.Signal})
}

// GaleResultEvent reports the terminal outcome of a sequence.
type GaleResultEvent struct {
	Result Result
	Level  int
	Profit decimal.Decimal
	Signal Signal
}

func (e GaleResultEvent) EventType() EventType { return EventGaleResult }
func (e GaleResultEvent) EventSymbol() string  { return e.Signal.Symbol }

func (e GaleResultEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType       `json:"type"`
		Symbol    string          `json:"symbol"`
		Result    Result          `json:"result"`
		GaleLevel int             `json:"gale_level"`
		Profit    decimal.Decimal `json:"profit"`
		Signal    Signal          `json:"signal"`
	}{EventGaleResult, e.Signal.Symbol, e.Result, e.Level, e.Profit, e.Signal})
}

// SignalCancelledEvent reports a sequence dropped without evaluation.
type SignalCancelledEvent struct {
	Symbol     string
	Direction  Direction
	SequenceID string
	Reason     string
}

func (e SignalCancelledEvent) EventType() EventType { return EventSignalCancelled }
func (e SignalCancelledEvent) EventSymbol() string  { return e.Symbol }

func (e SignalCancelledEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type       EventType `json:"type"`
		Symbol     string    `json:"symbol"`
		Direction  Direction `json:"direction,omitempty"`
		SequenceID string    `json:"sequence_id,omitempty"`
		Reason     string    `json:"reason"`
	}{EventSignalCancelled, e.Symbol, e.Direction, e.SequenceID, e.Reason})
}

// InitCandlesEvent replays a series history to a newly attached observer.
type InitCandlesEvent struct {
	Symbol    string
	Timeframe Timeframe
	Candles   []Candle
}

func (e InitCandlesEvent) EventType() EventType { return EventInitCandles }
func (e InitCandlesEvent) EventSymbol() string  { return e.Symbol }

func (e InitCandlesEvent) MarshalJSON() ([]byte, error) {
	candles := e.Candles
	if candles == nil {
		candles = []Candle{}
	}
	return json.Marshal(struct {
		Type      EventType `json:"type"`
		Symbol    string    `json:"symbol"`
		Timeframe string    `json:"timeframe"`
		Data      []Candle  `json:"data"`
	}{EventInitCandles, e.Symbol, e.Timeframe.Label(), candles})
}

// InitIndicatorsEvent replays current indicator values of a series.
type InitIndicatorsEvent struct {
	Symbol    string
	Timeframe Timeframe
	Values    map[string]float64
}

func (e InitIndicatorsEvent) EventType() EventType { return EventInitIndicators }
func (e InitIndicatorsEvent) EventSymbol() string  { return e.Symbol }

func (e InitIndicatorsEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type      EventType          `json:"type"`
		Symbol    string             `json:"symbol"`
		Timeframe string             `json:"timeframe"`
		Data      map[string]float64 `json:"data"`
	}{EventInitIndicators, e.Symbol, e.Timeframe.Label(), e.Values})
}

// Martingale holds the operator-tunable staking parameters.
type Martingale struct {
	MaxGales     int     `json:"max_gales"`
	InitialStake float64 `json:"initial_stake"`
	Multiplier   float64 `json:"multiplier"`
}

// BotStatus is the operator-visible control state.
type BotStatus struct {
	ScanningActive  bool       `json:"scanning_active"`
	ActiveSymbol    string     `json:"active_symbol"`
	SelectedSymbols []string   `json:"selected_symbols"`
	Symbols         []string   `json:"symbols"`
	Martingale      Martingale `json:"martingale_config"`
}

// BotStatusEvent broadcasts a control-state change.
type BotStatusEvent struct {
	Status BotStatus
}

func (e BotStatusEvent) EventType() EventType { return EventBotStatus }
func (e BotStatusEvent) EventSymbol() string  { return e.Status.ActiveSymbol }

func (e BotStatusEvent) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type EventType `json:"type"`
		BotStatus
	}{EventBotStatus, e.Status})
}
