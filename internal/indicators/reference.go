package indicators

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/pkg/utils"
)

// ReferenceSMA recomputes the simple moving average from scratch at
// every output index using a fresh decimal accumulator (utils.SMA),
// rather than the primary implementation's running-sum approach. It is
// deliberately O(n*period) and is exercised only by crosscheck_test.go.
func ReferenceSMA(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	out := make([]float64, n-period+1)
	for i := period - 1; i < n; i++ {
		acc := utils.NewSMA(period)
		for _, v := range closes[i-period+1 : i+1] {
			acc.Add(decimal.NewFromFloat(v))
		}
		f, _ := acc.Current().Float64()
		out[i-period+1] = f
	}
	return out, nil
}

// ReferenceEMA recomputes the exponential moving average with the same
// recurrence as the primary implementation, but seeded from
// ReferenceSMA and carried in decimal.Decimal arithmetic rather than
// float64.
func ReferenceEMA(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	sma, err := ReferenceSMA(closes, period)
	if err != nil {
		return nil, err
	}
	alpha := decimal.NewFromFloat(2.0).Div(decimal.NewFromInt(int64(period + 1)))
	one := decimal.NewFromInt(1)
	out := make([]float64, n)
	seed := decimal.NewFromFloat(sma[0])
	for i := 0; i < period; i++ {
		out[i] = sma[0]
	}
	prev := seed
	for i := period; i < n; i++ {
		v := decimal.NewFromFloat(closes[i])
		prev = v.Mul(alpha).Add(prev.Mul(one.Sub(alpha)))
		f, _ := prev.Float64()
		out[i] = f
	}
	return out, nil
}

// ReferenceRSI recomputes RSI from scratch at every index with plain
// float64 math, as the closed-form weighted sum of all gains/losses up
// to that index that Wilder's smoothing unrolls to, rather than the
// primary implementation's incremental recurrence.
func ReferenceRSI(closes []float64, period int) ([]float64, error) {
	n := len(closes)
	if period <= 0 || period > n {
		return nil, ErrInvalidArgument
	}
	out := make([]float64, n)
	for i := 0; i < period; i++ {
		out[i] = 50.0
	}
	for i := period; i < n; i++ {
		var gains, losses float64
		gainN, lossN := 0, 0
		decay := 1 - 1/float64(period)
		for j := 1; j <= i; j++ {
			w := math.Pow(decay, float64(i-max(j, period))) / float64(period)
			diff := closes[j] - closes[j-1]
			if diff > 0 {
				gains += w * diff
				gainN++
			} else {
				losses += w * -diff
				lossN++
			}
		}
		avgGain := gains
		avgLoss := losses
		_ = gainN
		_ = lossN
		if avgLoss == 0 {
			out[i] = 100.0
			continue
		}
		rs := avgGain / avgLoss
		out[i] = 100.0 - 100.0/(1.0+rs)
	}
	return out, nil
}

// ReferenceBollinger recomputes Bollinger Bands using math.Sqrt of a
// directly-accumulated sum-of-squares variance rather than the primary
// implementation's per-window mean/variance pass.
func ReferenceBollinger(closes []float64, period int, numStdDev float64) (*BollingerResult, error) {
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
		var sum, sumSq float64
		for j := i - period + 1; j <= i; j++ {
			sum += closes[j]
			sumSq += closes[j] * closes[j]
		}
		mean := sum / float64(period)
		variance := sumSq/float64(period) - mean*mean
		if variance < 0 {
			variance = 0
		}
		std := math.Sqrt(variance)
		middle[i] = mean
		upper[i] = mean + numStdDev*std
		lower[i] = mean - numStdDev*std
	}
	return &BollingerResult{Middle: middle, Upper: upper, Lower: lower}, nil
}
