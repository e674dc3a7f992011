package ledger

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// ErrUnreconciled means cash plus open cost basis no longer matches the
// initial balance plus the net cash flow of closed trades.
var ErrUnreconciled = errors.New("ledger: portfolio does not reconcile")

// MarkToMarket records the latest prices used for valuation. Stored positions
// are not touched. Symbols missing from prices are valued at entry until a
// later call supplies them.
func (l *Ledger) MarkToMarket(prices map[string]decimal.Decimal) {
	marks := make(map[string]decimal.Decimal, len(prices))
	for sym, p := range prices {
		if p.IsPositive() {
			marks[sym] = p
		}
	}
	l.mu.Lock()
	l.marks = marks
	l.mu.Unlock()
}

// Summary values the portfolio at the last marks.
func (l *Ledger) Summary() domain.PortfolioSummary {
	l.mu.RLock()
	defer l.mu.RUnlock()

	marketValue := decimal.Zero
	unrealized := decimal.Zero
	for _, pos := range l.positions {
		price := l.markLocked(pos)
		marketValue = marketValue.Add(pos.Size.Mul(price))
		unrealized = unrealized.Add(pos.PnL(price))
	}

	realized := decimal.Zero
	wins := 0
	for _, t := range l.history {
		realized = realized.Add(t.PnL)
		if t.Won() {
			wins++
		}
	}

	total := l.cash.Add(marketValue)
	exposure := decimal.Zero
	if total.IsPositive() {
		exposure = marketValue.Div(total)
	}
	winRate := 0.0
	if len(l.history) > 0 {
		winRate = float64(wins) / float64(len(l.history))
	}

	return domain.PortfolioSummary{
		CashBalance:   l.cash,
		TotalValue:    total,
		UnrealizedPnL: unrealized,
		RealizedPnL:   realized,
		ExposurePct:   exposure,
		WinRate:       winRate,
		TradeCount:    len(l.history),
		OpenPositions: len(l.positions),
	}
}

func (l *Ledger) markLocked(pos domain.Position) decimal.Decimal {
	if p, ok := l.marks[pos.Symbol]; ok {
		return p
	}
	return pos.EntryPrice
}

// Cash returns the current cash balance.
func (l *Ledger) Cash() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.cash
}

// Position returns the open position for key.
func (l *Ledger) Position(key domain.PositionKey) (domain.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[key]
	return pos, ok
}

// Positions returns open positions annotated with their marks, ordered by
// symbol then producer.
func (l *Ledger) Positions() []domain.PositionView {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.PositionView, 0, len(l.positions))
	for _, pos := range l.positions {
		price := l.markLocked(pos)
		out = append(out, domain.PositionView{
			Position:      pos,
			CurrentPrice:  price,
			UnrealizedPnL: pos.PnL(price),
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].ProducerID < out[j].ProducerID
	})
	return out
}

// History returns a copy of the trade history, oldest first.
func (l *Ledger) History() []domain.ClosedTrade {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return append([]domain.ClosedTrade(nil), l.history...)
}

// Reconcile checks that no value leaked: cash plus the cost basis of open
// positions equals the initial balance plus Σ (exit − entry) × size over
// closed trades.
func (l *Ledger) Reconcile() error {
	l.mu.RLock()
	defer l.mu.RUnlock()

	held := l.cash
	for _, pos := range l.positions {
		held = held.Add(pos.CostBasis())
	}
	expected := l.initial
	for _, t := range l.history {
		expected = expected.Add(t.ExitPrice.Sub(t.EntryPrice).Mul(t.Size))
	}
	if !held.Equal(expected) {
		return fmt.Errorf("%w: held %s, expected %s", ErrUnreconciled, held, expected)
	}
	return nil
}

func sortKeys(keys []domain.PositionKey) {
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Symbol != keys[j].Symbol {
			return keys[i].Symbol < keys[j].Symbol
		}
		return keys[i].ProducerID < keys[j].ProducerID
	})
}
