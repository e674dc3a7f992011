package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PositionOpened is emitted after a position is recorded in the ledger.
type PositionOpened struct {
	Symbol     string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	ProducerID string
	Reason     string
	OpenedAt   time.Time
}

// PositionClosed is emitted after a position is removed from the ledger.
type PositionClosed struct {
	Symbol       string
	Side         Side
	Size         decimal.Decimal
	EntryPrice   decimal.Decimal
	ExitPrice    decimal.Decimal
	PnL          decimal.Decimal
	Reason       string
	ProducerID   string
	HoldDuration time.Duration
}

// ClosedEvent builds the close notification for a trade.
func ClosedEvent(t ClosedTrade) PositionClosed {
	return PositionClosed{
		Symbol:       t.Symbol,
		Side:         t.Side,
		Size:         t.Size,
		EntryPrice:   t.EntryPrice,
		ExitPrice:    t.ExitPrice,
		PnL:          t.PnL,
		Reason:       t.Reason,
		ProducerID:   t.ProducerID,
		HoldDuration: t.HoldDuration(),
	}
}

// PositionEvents receives lifecycle notifications. Implementations must not
// block the caller and must swallow their own delivery failures.
type PositionEvents interface {
	OnPositionOpened(ev PositionOpened)
	OnPositionClosed(ev PositionClosed)
}

// BotStatus is a summary of the bot's current operational state.
type BotStatus struct {
	Mode          string
	State         string
	Cycles        int64
	UptimeSeconds int64
	OpenPositions int
	LastCycleAt   time.Time
	Symbols       []string
}
