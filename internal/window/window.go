// Package window implements the fixed-capacity market-data window and
// the typed context store used as a strategy scratchpad.
package window

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

// Window is a fixed-capacity ordered sequence of bars for one symbol.
// It is owned exclusively by a single runner goroutine; no locking.
type Window struct {
	capacity int
	bars     []types.Bar
	start    int // index of oldest element in bars
}

// New creates a window with the given positive capacity.
func New(capacity int) *Window {
	if capacity <= 0 {
		capacity = 100
	}
	return &Window{
		capacity: capacity,
		bars:     make([]types.Bar, 0, capacity),
	}
}

// Len returns the number of bars currently held.
func (w *Window) Len() int {
	return len(w.bars)
}

// Capacity returns the configured capacity.
func (w *Window) Capacity() int {
	return w.capacity
}

// Append adds a bar, evicting the oldest if the window is full. O(1)
// amortized via a ring implemented over a plain slice with a start
// cursor.
func (w *Window) Append(b types.Bar) {
	if len(w.bars) < w.capacity {
		w.bars = append(w.bars, b)
		return
	}
	// full: overwrite oldest slot in place
	w.bars[w.start] = b
	w.start = (w.start + 1) % w.capacity
}

// at translates logical index i (0 = oldest) to the physical slice index.
func (w *Window) at(i int) int {
	if len(w.bars) < w.capacity {
		return i
	}
	return (w.start + i) % w.capacity
}

// Latest returns the most recently appended bar.
func (w *Window) Latest() (types.Bar, bool) {
	if len(w.bars) == 0 {
		return types.Bar{}, false
	}
	return w.bars[w.at(len(w.bars)-1)], true
}

// Oldest returns the oldest bar still retained.
func (w *Window) Oldest() (types.Bar, bool) {
	if len(w.bars) == 0 {
		return types.Bar{}, false
	}
	return w.bars[w.at(0)], true
}

// Get returns the bar at logical index i (0 = oldest).
func (w *Window) Get(i int) (types.Bar, error) {
	if i < 0 || i >= len(w.bars) {
		return types.Bar{}, fmt.Errorf("window: index %d out of range [0,%d)", i, len(w.bars))
	}
	return w.bars[w.at(i)], nil
}

// Iter returns bars in chronological (oldest-first) order.
func (w *Window) Iter() []types.Bar {
	out := make([]types.Bar, len(w.bars))
	for i := range out {
		out[i] = w.bars[w.at(i)]
	}
	return out
}

// lastN returns the most recent n bars in chronological order, or an
// error if n exceeds the number of bars held (WindowUnderflow).
func (w *Window) lastN(n int) ([]types.Bar, error) {
	if n <= 0 {
		return nil, fmt.Errorf("window: lookback must be positive, got %d", n)
	}
	if n > len(w.bars) {
		return nil, fmt.Errorf("window: lookback %d exceeds held bars %d: %w", n, len(w.bars), ErrWindowUnderflow)
	}
	out := make([]types.Bar, n)
	for i := 0; i < n; i++ {
		out[i] = w.bars[w.at(len(w.bars)-n+i)]
	}
	return out, nil
}

// ErrWindowUnderflow is returned when a lookback query asks for more
// history than the window currently holds.
var ErrWindowUnderflow = fmt.Errorf("window underflow: not enough data")

// Closes returns the last n closing prices, oldest first.
func (w *Window) Closes(n int) ([]decimal.Decimal, error) {
	bars, err := w.lastN(n)
	if err != nil {
		return nil, err
	}
	out := make([]decimal.Decimal, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out, nil
}

// High returns the maximum high over the last n bars.
func (w *Window) High(n int) (decimal.Decimal, error) {
	bars, err := w.lastN(n)
	if err != nil {
		return decimal.Zero, err
	}
	max := bars[0].High
	for _, b := range bars[1:] {
		if b.High.GreaterThan(max) {
			max = b.High
		}
	}
	return max, nil
}

// Low returns the minimum low over the last n bars.
func (w *Window) Low(n int) (decimal.Decimal, error) {
	bars, err := w.lastN(n)
	if err != nil {
		return decimal.Zero, err
	}
	min := bars[0].Low
	for _, b := range bars[1:] {
		if b.Low.LessThan(min) {
			min = b.Low
		}
	}
	return min, nil
}

// AvgVolume returns the mean volume over the last n bars.
func (w *Window) AvgVolume(n int) (decimal.Decimal, error) {
	bars, err := w.lastN(n)
	if err != nil {
		return decimal.Zero, err
	}
	sum := decimal.Zero
	for _, b := range bars {
		sum = sum.Add(b.Volume)
	}
	return sum.Div(decimal.NewFromInt(int64(len(bars)))), nil
}

// Range returns (high - low) over the last n bars.
func (w *Window) Range(n int) (decimal.Decimal, error) {
	hi, err := w.High(n)
	if err != nil {
		return decimal.Zero, err
	}
	lo, err := w.Low(n)
	if err != nil {
		return decimal.Zero, err
	}
	return hi.Sub(lo), nil
}
