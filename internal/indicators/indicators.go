// Package indicators computes SMA, EMA, RSI, MACD, and Bollinger Bands
// over a finite price vector, and is passed through to strategies as the
// on-demand callable view described in the strategy host contract.
//
// Every function here is the primary, incremental implementation. A
// second, independently coded reference implementation lives in
// reference.go and is exercised only by crosscheck_test.go.
package indicators

import (
	"errors"
	"math"
)

// ErrInvalidArgument covers period <= 0, period > length, num_std_dev <=
// 0, and fast >= slow.
var ErrInvalidArgument = errors.New("indicators: invalid argument")

// SMA computes the simple moving average with the given period over
// closes. Output has length len(closes)-period+1; SMA[i] is the mean of
// closes[i : i+period]. Returns ErrInvalidArgument if period <= 0 or
// period > len(closes).
func SMA(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	out := make([]float64, n-period+1)
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += closes[i]
	}
	out[0] = sum / float64(period)
	for i := period; i < n; i++ {
		sum += closes[i] - closes[i-period]
		out[i-period+1] = sum / float64(period)
	}
	return out, nil
}

// EMA computes the exponential moving average with the given period.
// Output has length len(closes); indices 0..period-2 hold the seed
// value (SMA(period)[0]) as a neutral warm-up.
func EMA(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	sma, err := SMA(closes, period)
	if err != nil {
		return nil, err
	}
	alpha := 2.0 / float64(period+1)
	out := make([]float64, n)
	seed := sma[0]
	for i := 0; i < period-1; i++ {
		out[i] = seed
	}
	out[period-1] = seed
	for i := period; i < n; i++ {
		out[i] = alpha*closes[i] + (1-alpha)*out[i-1]
	}
	return out, nil
}

// emaSeries is like EMA but operates directly on an arbitrary input
// series (used to compute the MACD signal line over the macd line).
func emaSeries(series []float64, period int) []float64 {
	n := len(series)
	if period <= 0 || period > n {
		return nil
	}
	sum := 0.0
	for i := 0; i < period; i++ {
		sum += series[i]
	}
	seed := sum / float64(period)
	alpha := 2.0 / float64(period+1)
	out := make([]float64, n)
	for i := 0; i < period; i++ {
		out[i] = seed
	}
	for i := period; i < n; i++ {
		out[i] = alpha*series[i] + (1-alpha)*out[i-1]
	}
	return out
}

// RSI computes the relative strength index with Wilder smoothing.
// Output has length len(closes); indices 0..period-1 hold 50.0 as a
// neutral warm-up value.
func RSI(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	out := make([]float64, n)
	for i := 0; i < period; i++ {
		out[i] = 50.0
	}
	if n <= period {
		return out, nil
	}
	var gainSum, lossSum float64
	for i := 1; i <= period; i++ {
		diff := closes[i] - closes[i-1]
		if diff > 0 {
			gainSum += diff
		} else {
			lossSum += -diff
		}
	}
	avgGain := gainSum / float64(period)
	avgLoss := lossSum / float64(period)
	out[period] = rsiFromAverages(avgGain, avgLoss)
	for i := period + 1; i < n; i++ {
		diff := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if diff > 0 {
			gain = diff
		} else {
			loss = -diff
		}
		avgGain = (avgGain*float64(period-1) + gain) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + loss) / float64(period)
		out[i] = rsiFromAverages(avgGain, avgLoss)
	}
	return out, nil
}

func rsiFromAverages(avgGain, avgLoss float64) float64 {
	if avgLoss == 0 {
		return 100.0
	}
	rs := avgGain / avgLoss
	return 100.0 - 100.0/(1.0+rs)
}

// MACDResult carries the three MACD output series, all of length n.
type MACDResult struct {
	MACD      []float64
	Signal    []float64
	Histogram []float64
}

// MACD computes the MACD line, signal line, and histogram. Requires
// fast < slow.
func MACD(closes []float64, fast, slow, signal int) (*MACDResult, error) {
	if fast <= 0 || slow <= 0 || signal <= 0 || fast >= slow {
		return nil, ErrInvalidArgument
	}
	n := len(closes)
	if slow > n {
		return nil, ErrInvalidArgument
	}
	emaFast, err := EMA(closes, fast)
	if err != nil {
		return nil, err
	}
	emaSlow, err := EMA(closes, slow)
	if err != nil {
		return nil, err
	}
	macdLine := make([]float64, n)
	for i := range macdLine {
		macdLine[i] = emaFast[i] - emaSlow[i]
	}
	signalLine := emaSeries(macdLine, signal)
	if signalLine == nil {
		return nil, ErrInvalidArgument
	}
	hist := make([]float64, n)
	for i := range hist {
		hist[i] = macdLine[i] - signalLine[i]
	}
	return &MACDResult{MACD: macdLine, Signal: signalLine, Histogram: hist}, nil
}

// BollingerResult carries the three Bollinger Band output series.
type BollingerResult struct {
	Middle []float64
	Upper  []float64
	Lower  []float64
}

// Bollinger computes Bollinger Bands with the given period and number
// of standard deviations. For indices before the warm-up point (period
// - 1), all three bands equal the raw close.
func Bollinger(closes []float64, period int, numStdDev float64) (*BollingerResult, error) {
	n := len(closes)
	if period <= 0 || period > n || numStdDev <= 0 {
		return nil, ErrInvalidArgument
	}
	middle := make([]float64, n)
	upper := make([]float64, n)
	lower := make([]float64, n)
	for i := 0; i < period-1; i++ {
		middle[i] = closes[i]
		upper[i] = closes[i]
		lower[i] = closes[i]
	}
	for i := period - 1; i < n; i++ {
		window := closes[i-period+1 : i+1]
		mean := 0.0
		for _, v := range window {
			mean += v
		}
		mean /= float64(period)
		variance := 0.0
		for _, v := range window {
			d := v - mean
			variance += d * d
		}
		variance /= float64(period)
		std := math.Sqrt(variance)
		middle[i] = mean
		upper[i] = mean + numStdDev*std
		lower[i] = mean - numStdDev*std
	}
	return &BollingerResult{Middle: middle, Upper: upper, Lower: lower}, nil
}
