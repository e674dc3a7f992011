// Package exit closes open positions whose stop-loss, take-profit or
// max-hold limit has been reached.
package exit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Book is the slice of the ledger the monitor needs.
type Book interface {
	Positions() []domain.PositionView
	Close(symbol, producerID string, exitPrice decimal.Decimal, reason string) (domain.ClosedTrade, bool)
}

// Trigger returns the close reason for pos at price and now, checking
// stop-loss, take-profit and max-hold in that order. The boolean is false
// when nothing fires.
func Trigger(pos domain.Position, price decimal.Decimal, now time.Time) (string, bool) {
	switch pos.Side {
	case domain.SideBuy:
		if price.LessThanOrEqual(pos.StopLoss) {
			return domain.ReasonStopLoss, true
		}
		if price.GreaterThanOrEqual(pos.TakeProfit) {
			return domain.ReasonTakeProfit, true
		}
	case domain.SideSell:
		if price.GreaterThanOrEqual(pos.StopLoss) {
			return domain.ReasonStopLoss, true
		}
		if price.LessThanOrEqual(pos.TakeProfit) {
			return domain.ReasonTakeProfit, true
		}
	}
	if pos.MaxHold > 0 && now.Sub(pos.EntryTime) >= pos.MaxHold {
		return domain.ReasonMaxHold, true
	}
	return "", false
}

// Monitor sweeps the ledger once per cycle.
type Monitor struct {
	book     Book
	executor domain.OrderExecutor
	logger   *slog.Logger
}

// New creates a Monitor. When executor is non-nil a closing order is placed
// before each ledger close; a failed order leaves the position open for the
// next sweep.
func New(book Book, executor domain.OrderExecutor, logger *slog.Logger) *Monitor {
	return &Monitor{
		book:     book,
		executor: executor,
		logger:   logger.With(slog.String("component", "exit_monitor")),
	}
}

// Sweep evaluates every open position against prices and closes those that
// trigger. Positions whose symbol has no positive price are skipped.
func (m *Monitor) Sweep(ctx context.Context, prices map[string]decimal.Decimal, now time.Time) []domain.ClosedTrade {
	var closed []domain.ClosedTrade
	for _, view := range m.book.Positions() {
		pos := view.Position
		price, ok := prices[pos.Symbol]
		if !ok || !price.IsPositive() {
			m.logger.Debug("no price, exit check skipped",
				slog.String("symbol", pos.Symbol),
				slog.String("producer", pos.ProducerID),
			)
			continue
		}
		reason, fire := Trigger(pos, price, now)
		if !fire {
			continue
		}
		if !m.placeClose(ctx, pos, price, reason) {
			continue
		}
		trade, ok := m.book.Close(pos.Symbol, pos.ProducerID, price, reason)
		if ok {
			closed = append(closed, trade)
		}
	}
	return closed
}

func (m *Monitor) placeClose(ctx context.Context, pos domain.Position, price decimal.Decimal, reason string) bool {
	if m.executor == nil {
		return true
	}
	res, err := m.executor.Place(ctx, domain.OrderRequest{
		ID:       uuid.NewString(),
		Symbol:   pos.Symbol,
		Side:     pos.Side.Opposite(),
		Size:     pos.Size,
		Price:    price,
		Producer: pos.ProducerID,
		Purpose:  "close",
	})
	if err != nil || !res.Success {
		msg := res.Message
		if err != nil {
			msg = err.Error()
		}
		m.logger.Warn("closing order failed, position kept",
			slog.String("symbol", pos.Symbol),
			slog.String("producer", pos.ProducerID),
			slog.String("reason", reason),
			slog.String("error", msg),
		)
		return false
	}
	return true
}
