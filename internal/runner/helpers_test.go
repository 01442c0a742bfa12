package runner

import (
	"github.com/shopspring/decimal"

	"github.com/atlas-desktop/stratrunner/pkg/types"
)

func makeBar(symbol string, ts int64, close float64) types.Bar {
	c := decimal.NewFromFloat(close)
	return types.Bar{
		Symbol:    symbol,
		Timestamp: ts,
		Open:      c,
		High:      c,
		Low:       c,
		Close:     c,
		Volume:    decimal.NewFromInt(1000),
	}
}
