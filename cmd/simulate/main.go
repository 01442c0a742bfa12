// Package main runs a self-contained demo: an in-process Engine with a
// single runner, fed a synthetic random-walk bar series, printing each
// snapshot as the FSM moves through its states. Grounded in the
// sample-data random walk used for demo/test data across the pack.
package main

import (
	"flag"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/stratrunner/internal/engine"
	"github.com/atlas-desktop/stratrunner/internal/runner"
	"github.com/atlas-desktop/stratrunner/pkg/types"
)

func main() {
	symbol := flag.String("symbol", "SIM/USDT", "Symbol to simulate")
	scriptPath := flag.String("script", "", "Path to a strategy script (required)")
	bars := flag.Int("bars", 200, "Number of bars to generate")
	intervalMs := flag.Int64("interval-ms", 60_000, "Bar timestamp spacing in milliseconds")
	startPrice := flag.Float64("start-price", 100.0, "Starting close price")
	seed := flag.Int64("seed", 1, "Random walk seed")
	flag.Parse()

	if *scriptPath == "" {
		fmt.Fprintln(os.Stderr, "-script is required")
		os.Exit(1)
	}

	logger, _ := zap.NewDevelopment()
	defer logger.Sync()

	eng := engine.New(engine.DefaultConfig(), logger)
	defer eng.Shutdown()

	if err := eng.AddRunner("sim", *symbol, *scriptPath, runner.DefaultConfig()); err != nil {
		logger.Fatal("failed to add runner", zap.Error(err))
	}

	rng := rand.New(rand.NewSource(*seed))
	price := *startPrice
	ts := time.Now().UnixMilli()

	for i := 0; i < *bars; i++ {
		bar := nextBar(rng, *symbol, ts, &price)
		if err := eng.FeedBar(bar); err != nil {
			logger.Warn("rejected bar", zap.Error(err))
		}
		ts += *intervalMs

		if snap, ok := eng.GetSnapshot("sim"); ok {
			fmt.Printf("[%4d] close=%s state=%s", i, bar.Close.StringFixed(4), snap.CurrentState)
			if snap.Position != nil {
				fmt.Printf(" position=%s entry=%s pnl=%s", snap.Position.Side, snap.Position.EntryPrice.StringFixed(4), snap.UnrealizedPnL.StringFixed(4))
			}
			fmt.Println()
		}
	}

	summary := eng.Summary()
	fmt.Printf("\ndone: %d runners, %d bars fed\n", summary.RunnerCount, summary.BarsFed)
}

// nextBar advances price by a +/-1% random walk and derives a
// plausible OHLCV bar around the new close, mirroring the pack's
// synthetic sample-data generators.
func nextBar(rng *rand.Rand, symbol string, ts int64, price *float64) types.Bar {
	change := (rng.Float64() - 0.5) * 0.02 * *price
	open := decimal.NewFromFloat(*price)
	*price += change
	close := decimal.NewFromFloat(*price)

	high := decimal.Max(open, close).Mul(decimal.NewFromFloat(1 + rng.Float64()*0.005))
	low := decimal.Min(open, close).Mul(decimal.NewFromFloat(1 - rng.Float64()*0.005))
	volume := decimal.NewFromFloat(rng.Float64() * 1_000_000)

	return types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      open,
		High:      high,
		Low:       low,
		Close:     close,
		Volume:    volume,
	}
}
