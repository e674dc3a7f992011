package domain

import (
	"context"

	"github.com/shopspring/decimal"
)

// MarketData supplies current prices and candle history.
type MarketData interface {
	CurrentPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error)
	History(ctx context.Context, symbol string, lookback int) ([]Bar, error)
}
