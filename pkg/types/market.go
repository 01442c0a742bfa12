package types

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Bar is an immutable OHLCV + bid/ask record for one symbol at one
// timestamp. Timestamp is milliseconds since epoch.
type Bar struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Open      decimal.Decimal `json:"open"`
	High      decimal.Decimal `json:"high"`
	Low       decimal.Decimal `json:"low"`
	Close     decimal.Decimal `json:"close"`
	Volume    decimal.Decimal `json:"volume"`
	Bid       decimal.Decimal `json:"bid,omitempty"`
	Ask       decimal.Decimal `json:"ask,omitempty"`
}

// MidPrice returns (bid+ask)/2. Callers should check HasQuote first.
func (b Bar) MidPrice() decimal.Decimal {
	return b.Bid.Add(b.Ask).Div(decimal.NewFromInt(2))
}

// HasQuote reports whether both bid and ask were supplied.
func (b Bar) HasQuote() bool {
	return !b.Bid.IsZero() && !b.Ask.IsZero()
}

// Validate checks the invariants from the data model: low <= open,close
// <= high, and bid <= ask when both are set.
func (b Bar) Validate() error {
	if b.Low.GreaterThan(b.Open) || b.Open.GreaterThan(b.High) {
		return fmt.Errorf("bar %s@%d: open %s out of [low,high] = [%s,%s]", b.Symbol, b.Timestamp, b.Open, b.Low, b.High)
	}
	if b.Low.GreaterThan(b.Close) || b.Close.GreaterThan(b.High) {
		return fmt.Errorf("bar %s@%d: close %s out of [low,high] = [%s,%s]", b.Symbol, b.Timestamp, b.Close, b.Low, b.High)
	}
	if b.HasQuote() && b.Bid.GreaterThan(b.Ask) {
		return fmt.Errorf("bar %s@%d: bid %s greater than ask %s", b.Symbol, b.Timestamp, b.Bid, b.Ask)
	}
	return nil
}

// PositionSide is Long or Short.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Position is the at-most-one open trade held by a runner.
type Position struct {
	Side            PositionSide     `json:"side"`
	EntryPrice      decimal.Decimal  `json:"entry_price"`
	Quantity        decimal.Decimal  `json:"quantity"`
	EntryTimestamp  int64            `json:"entry_timestamp"`
	StopLoss        *decimal.Decimal `json:"stop_loss,omitempty"`
	TakeProfit      *decimal.Decimal `json:"take_profit,omitempty"`
	CurrentPrice    decimal.Decimal  `json:"current_price"`
}

// UnrealizedPnL computes (current-entry)*qty for Long, negated for Short.
func (p *Position) UnrealizedPnL() decimal.Decimal {
	diff := p.CurrentPrice.Sub(p.EntryPrice)
	pnl := diff.Mul(p.Quantity)
	if p.Side == Short {
		pnl = pnl.Neg()
	}
	return pnl
}

// RealizedPnL computes the closed P&L at a given exit price.
func (p *Position) RealizedPnL(exitPrice decimal.Decimal) decimal.Decimal {
	diff := exitPrice.Sub(p.EntryPrice)
	pnl := diff.Mul(p.Quantity)
	if p.Side == Short {
		pnl = pnl.Neg()
	}
	return pnl
}

// RunnerState is one of the three FSM states.
type RunnerState string

const (
	StateIdle       RunnerState = "idle"
	StateAnalyzing  RunnerState = "analyzing"
	StateInPosition RunnerState = "in_position"
)

// RunnerStatus is the control-plane lifecycle status, independent of FSM
// state: a Paused runner still has a current_state, but stops processing.
type RunnerStatus string

const (
	StatusRunning RunnerStatus = "running"
	StatusPaused  RunnerStatus = "paused"
	StatusStopped RunnerStatus = "stopped"
)

// Transition is one FSM transition record.
type Transition struct {
	From      RunnerState `json:"from"`
	To        RunnerState `json:"to"`
	Reason    string      `json:"reason"`
	Timestamp int64       `json:"timestamp"`
}

// RunnerStats aggregates per-runner counters and tick-duration timing.
type RunnerStats struct {
	TicksProcessed  int64 `json:"ticks_processed"`
	ActionsExecuted int64 `json:"actions_executed"`
	Errors          int64 `json:"errors"`
	MinTickNanos    int64 `json:"min_tick_nanos"`
	MaxTickNanos    int64 `json:"max_tick_nanos"`
	AvgTickNanos    int64 `json:"avg_tick_nanos"`
}

// ContextValueKind is one of the four typed scratchpad value kinds.
type ContextValueKind string

const (
	ContextNumber  ContextValueKind = "number"
	ContextInteger ContextValueKind = "integer"
	ContextString  ContextValueKind = "string"
	ContextBoolean ContextValueKind = "boolean"
)

// ContextView is a read-only, type-partitioned snapshot of a runner's
// context store, suitable for JSON serialization in a Snapshot.
type ContextView struct {
	Numbers  map[string]float64 `json:"numbers,omitempty"`
	Integers map[string]int64   `json:"integers,omitempty"`
	Strings  map[string]string  `json:"strings,omitempty"`
	Booleans map[string]bool    `json:"booleans,omitempty"`
}

// Snapshot is the point-in-time view of a runner returned by
// get_snapshot, built without locks from the runner's own goroutine.
type Snapshot struct {
	RunnerID          string       `json:"runner_id"`
	Symbol            string       `json:"symbol"`
	Status            RunnerStatus `json:"status"`
	CurrentState      RunnerState  `json:"current_state"`
	Position          *Position    `json:"position,omitempty"`
	UnrealizedPnL     *decimal.Decimal `json:"unrealized_pnl,omitempty"`
	Context           ContextView  `json:"context"`
	Stats             RunnerStats  `json:"stats"`
	UptimeSecs        float64      `json:"uptime_secs"`
	SnapshotTimestamp int64        `json:"snapshot_timestamp"`
}

// EngineSummary is the result of Engine.Summary().
type EngineSummary struct {
	RunnerCount int            `json:"runner_count"`
	BySymbol    map[string]int `json:"by_symbol"`
	BarsFed     int64          `json:"bars_fed"`
}
