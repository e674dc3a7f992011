package handler

import (
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Decimals are rendered as strings so clients never see float rounding.

type positionJSON struct {
	ID            string    `json:"id"`
	Symbol        string    `json:"symbol"`
	ProducerID    string    `json:"producer_id"`
	Side          string    `json:"side"`
	Size          string    `json:"size"`
	EntryPrice    string    `json:"entry_price"`
	CurrentPrice  string    `json:"current_price"`
	StopLoss      string    `json:"stop_loss"`
	TakeProfit    string    `json:"take_profit"`
	UnrealizedPnL string    `json:"unrealized_pnl"`
	MaxHold       string    `json:"max_hold"`
	EntryTime     time.Time `json:"entry_time"`
	Reason        string    `json:"reason"`
}

func toPositionJSON(v domain.PositionView) positionJSON {
	return positionJSON{
		ID:            v.ID,
		Symbol:        v.Symbol,
		ProducerID:    v.ProducerID,
		Side:          string(v.Side),
		Size:          v.Size.String(),
		EntryPrice:    v.EntryPrice.String(),
		CurrentPrice:  v.CurrentPrice.String(),
		StopLoss:      v.StopLoss.String(),
		TakeProfit:    v.TakeProfit.String(),
		UnrealizedPnL: v.UnrealizedPnL.StringFixed(2),
		MaxHold:       v.MaxHold.String(),
		EntryTime:     v.EntryTime,
		Reason:        v.Reason,
	}
}

type tradeJSON struct {
	ID           string    `json:"id"`
	Symbol       string    `json:"symbol"`
	ProducerID   string    `json:"producer_id"`
	Side         string    `json:"side"`
	Size         string    `json:"size"`
	EntryPrice   string    `json:"entry_price"`
	ExitPrice    string    `json:"exit_price"`
	PnL          string    `json:"pnl"`
	Reason       string    `json:"reason"`
	EntryTime    time.Time `json:"entry_time"`
	ExitTime     time.Time `json:"exit_time"`
	HoldDuration string    `json:"hold_duration"`
}

func toTradeJSON(t domain.ClosedTrade) tradeJSON {
	return tradeJSON{
		ID:           t.ID,
		Symbol:       t.Symbol,
		ProducerID:   t.ProducerID,
		Side:         string(t.Side),
		Size:         t.Size.String(),
		EntryPrice:   t.EntryPrice.String(),
		ExitPrice:    t.ExitPrice.String(),
		PnL:          t.PnL.StringFixed(2),
		Reason:       t.Reason,
		EntryTime:    t.EntryTime,
		ExitTime:     t.ExitTime,
		HoldDuration: t.HoldDuration().String(),
	}
}

type portfolioJSON struct {
	CashBalance   string  `json:"cash_balance"`
	TotalValue    string  `json:"total_value"`
	UnrealizedPnL string  `json:"unrealized_pnl"`
	RealizedPnL   string  `json:"realized_pnl"`
	ExposurePct   float64 `json:"exposure_pct"`
	WinRate       float64 `json:"win_rate"`
	TradeCount    int     `json:"trade_count"`
	OpenPositions int     `json:"open_positions"`
}

// toPortfolioJSON reports exposure as a percentage; the ledger keeps a fraction.
func toPortfolioJSON(s domain.PortfolioSummary) portfolioJSON {
	return portfolioJSON{
		CashBalance:   s.CashBalance.StringFixed(2),
		TotalValue:    s.TotalValue.StringFixed(2),
		UnrealizedPnL: s.UnrealizedPnL.StringFixed(2),
		RealizedPnL:   s.RealizedPnL.StringFixed(2),
		ExposurePct:   s.ExposurePct.Shift(2).Round(2).InexactFloat64(),
		WinRate:       s.WinRate,
		TradeCount:    s.TradeCount,
		OpenPositions: s.OpenPositions,
	}
}
