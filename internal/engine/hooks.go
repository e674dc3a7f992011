package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// positionEvent is the JSON shape published on ChannelPositions and
// appended to StreamTrades.
type positionEvent struct {
	Type         string           `json:"type"`
	ID           string           `json:"id"`
	Symbol       string           `json:"symbol"`
	ProducerID   string           `json:"producer_id"`
	Side         domain.Side      `json:"side"`
	Size         decimal.Decimal  `json:"size"`
	EntryPrice   decimal.Decimal  `json:"entry_price"`
	ExitPrice    *decimal.Decimal `json:"exit_price,omitempty"`
	PnL          *decimal.Decimal `json:"pnl,omitempty"`
	Reason       string           `json:"reason"`
	HoldDuration string           `json:"hold_duration,omitempty"`
	At           time.Time        `json:"at"`
}

type cycleEvent struct {
	Type          string          `json:"type"`
	Cycle         int64           `json:"cycle"`
	Warmup        bool            `json:"warmup"`
	Opened        int             `json:"opened"`
	Closed        int             `json:"closed"`
	TotalValue    decimal.Decimal `json:"total_value"`
	CashBalance   decimal.Decimal `json:"cash_balance"`
	OpenPositions int             `json:"open_positions"`
	At            time.Time       `json:"at"`
}

func (o *Orchestrator) afterOpen(ctx context.Context, pos domain.Position) {
	if o.deps.Events != nil {
		o.deps.Events.OnPositionOpened(domain.PositionOpened{
			Symbol:     pos.Symbol,
			Side:       pos.Side,
			Size:       pos.Size,
			EntryPrice: pos.EntryPrice,
			ProducerID: pos.ProducerID,
			Reason:     pos.Reason,
			OpenedAt:   pos.EntryTime,
		})
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.PositionOpened(pos.ProducerID)
	}
	o.publish(ctx, ChannelPositions, positionEvent{
		Type:       "position_opened",
		ID:         pos.ID,
		Symbol:     pos.Symbol,
		ProducerID: pos.ProducerID,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		Reason:     pos.Reason,
		At:         pos.EntryTime,
	})
	o.audit(ctx, "position_opened", map[string]any{
		"position_id": pos.ID,
		"symbol":      pos.Symbol,
		"producer":    pos.ProducerID,
		"side":        string(pos.Side),
		"size":        pos.Size.String(),
		"entry":       pos.EntryPrice.String(),
	})
}

func (o *Orchestrator) afterClose(ctx context.Context, trade domain.ClosedTrade) {
	if o.deps.Events != nil {
		o.deps.Events.OnPositionClosed(domain.ClosedEvent(trade))
	}
	if o.deps.Metrics != nil {
		o.deps.Metrics.PositionClosed(trade.ProducerID, trade.Reason, trade.PnL.InexactFloat64())
	}
	if o.deps.Journal != nil {
		jctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
		if err := o.deps.Journal.Record(jctx, trade); err != nil {
			o.logger.Warn("journal write failed",
				slog.String("trade_id", trade.ID),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}

	exit, pnl := trade.ExitPrice, trade.PnL
	ev := positionEvent{
		Type:         "position_closed",
		ID:           trade.ID,
		Symbol:       trade.Symbol,
		ProducerID:   trade.ProducerID,
		Side:         trade.Side,
		Size:         trade.Size,
		EntryPrice:   trade.EntryPrice,
		ExitPrice:    &exit,
		PnL:          &pnl,
		Reason:       trade.Reason,
		HoldDuration: trade.HoldDuration().String(),
		At:           trade.ExitTime,
	}
	o.publish(ctx, ChannelPositions, ev)
	o.appendStream(ctx, StreamTrades, ev)
	o.audit(ctx, "position_closed", map[string]any{
		"trade_id": trade.ID,
		"symbol":   trade.Symbol,
		"producer": trade.ProducerID,
		"reason":   trade.Reason,
		"pnl":      trade.PnL.String(),
	})
}

func (o *Orchestrator) publish(ctx context.Context, channel string, v any) {
	if o.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		o.logger.Warn("marshal event failed", slog.String("error", err.Error()))
		return
	}
	pctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	defer cancel()
	if err := o.deps.Bus.Publish(pctx, channel, data); err != nil {
		o.logger.Warn("publish failed",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) appendStream(ctx context.Context, stream string, v any) {
	if o.deps.Bus == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	sctx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	defer cancel()
	if err := o.deps.Bus.StreamAppend(sctx, stream, data); err != nil {
		o.logger.Warn("stream append failed",
			slog.String("stream", stream),
			slog.String("error", err.Error()),
		)
	}
}

func (o *Orchestrator) audit(ctx context.Context, event string, detail map[string]any) {
	if o.deps.Audit == nil {
		return
	}
	actx, cancel := context.WithTimeout(ctx, o.opts.IOTimeout)
	defer cancel()
	if err := o.deps.Audit.Log(actx, event, detail); err != nil {
		o.logger.Warn("audit log failed",
			slog.String("event", event),
			slog.String("error", err.Error()),
		)
	}
}
