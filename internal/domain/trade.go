package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Close reasons recorded on trade history entries.
const (
	ReasonStopLoss   = "stop_loss"
	ReasonTakeProfit = "take_profit"
	ReasonMaxHold    = "max_hold"
	ReasonReversal   = "direction_change"
	ReasonManual     = "manual"
)

// ClosedTrade is one append-only trade-history record.
type ClosedTrade struct {
	ID         string
	PositionID string
	Symbol     string
	ProducerID string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	PnL        decimal.Decimal
	Reason     string
	EntryTime  time.Time
	ExitTime   time.Time
}

// HoldDuration is how long the position was open.
func (t ClosedTrade) HoldDuration() time.Duration {
	return t.ExitTime.Sub(t.EntryTime)
}

// Won reports whether the trade closed with positive P&L.
func (t ClosedTrade) Won() bool {
	return t.PnL.IsPositive()
}
