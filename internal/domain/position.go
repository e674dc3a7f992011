package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of an open position.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// PositionKey identifies a position: one per producer per symbol.
type PositionKey struct {
	Symbol     string
	ProducerID string
}

// Position is a live exposure held between a successful open and its close.
type Position struct {
	ID         string
	Symbol     string
	ProducerID string
	Side       Side
	Size       decimal.Decimal
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	MaxHold    time.Duration
	EntryTime  time.Time
	Reason     string
}

// Key returns the ledger key of p.
func (p Position) Key() PositionKey {
	return PositionKey{Symbol: p.Symbol, ProducerID: p.ProducerID}
}

// CostBasis is size times entry price.
func (p Position) CostBasis() decimal.Decimal {
	return p.Size.Mul(p.EntryPrice)
}

// PnL returns the side-aware profit of p if it were closed at price.
func (p Position) PnL(price decimal.Decimal) decimal.Decimal {
	if p.Side == SideSell {
		return p.EntryPrice.Sub(price).Mul(p.Size)
	}
	return price.Sub(p.EntryPrice).Mul(p.Size)
}

// PositionView is a position annotated with its latest mark.
type PositionView struct {
	Position
	CurrentPrice  decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// PortfolioSummary is the reporting snapshot of the ledger.
type PortfolioSummary struct {
	CashBalance   decimal.Decimal
	TotalValue    decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	ExposurePct   decimal.Decimal // fraction of total value, not x100
	WinRate       float64
	TradeCount    int
	OpenPositions int
}
