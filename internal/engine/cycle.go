package engine

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/ledger"
	"github.com/alanyoungcy/cryptobot/internal/sizing"
)

// CycleReport summarises one pass of the loop.
type CycleReport struct {
	Cycle    int64
	Warmup   bool
	Prices   int
	Closed   []domain.ClosedTrade
	Opened   []domain.Position
	Rejected map[ledger.Reason]int
	Duration time.Duration
}

// RunCycle executes one full cycle. External I/O failures skip the affected
// step and the cycle carries on; nothing here returns an error.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleReport {
	o.cycleMu.Lock()
	defer o.cycleMu.Unlock()

	start := o.now()
	rep := CycleReport{Cycle: o.cycles.Add(1), Rejected: make(map[ledger.Reason]int)}
	log := o.logger.With(slog.Int64("cycle", rep.Cycle))

	prices, err := o.deps.Market.CurrentPrices(ctx, o.opts.Symbols)
	if err != nil {
		log.Warn("price refresh failed", slog.String("error", err.Error()))
	}
	rep.Prices = len(prices)
	o.deps.Ledger.MarkToMarket(prices)

	for _, trade := range o.deps.Exits.Sweep(ctx, prices, o.now()) {
		rep.Closed = append(rep.Closed, trade)
		o.afterClose(ctx, trade)
	}

	if rep.Cycle <= int64(o.opts.WarmupCycles) {
		rep.Warmup = true
		log.Info("warm-up cycle, not opening positions",
			slog.Int("remaining", o.opts.WarmupCycles-int(rep.Cycle)),
		)
		return o.finishCycle(ctx, rep, start)
	}

	history := make(map[string][]domain.Bar, len(o.opts.Symbols))
	for _, symbol := range o.opts.Symbols {
		bars, err := o.deps.Market.History(ctx, symbol, o.opts.Lookback)
		if err != nil {
			log.Warn("history fetch failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		history[symbol] = bars
	}

	for _, symbol := range o.opts.Symbols {
		if _, ok := history[symbol]; !ok {
			continue
		}
		res := o.deps.Aggregator.Aggregate(ctx, history, symbol)
		for _, sig := range res.Signals {
			o.execute(ctx, log, symbol, sig, prices, &rep)
		}
	}

	return o.finishCycle(ctx, rep, start)
}

func (o *Orchestrator) finishCycle(ctx context.Context, rep CycleReport, start time.Time) CycleReport {
	end := o.now()
	rep.Duration = end.Sub(start)

	o.mu.Lock()
	o.lastCycle = end
	o.mu.Unlock()

	summary := o.deps.Ledger.Summary()
	if o.deps.Metrics != nil {
		o.deps.Metrics.ObserveCycle(rep.Duration)
		o.deps.Metrics.ObservePortfolio(summary)
	}
	o.publish(ctx, ChannelCycles, cycleEvent{
		Type:          "cycle",
		Cycle:         rep.Cycle,
		Warmup:        rep.Warmup,
		Opened:        len(rep.Opened),
		Closed:        len(rep.Closed),
		TotalValue:    summary.TotalValue,
		CashBalance:   summary.CashBalance,
		OpenPositions: summary.OpenPositions,
		At:            end,
	})
	o.logger.Debug("cycle complete",
		slog.Int64("cycle", rep.Cycle),
		slog.Int("opened", len(rep.Opened)),
		slog.Int("closed", len(rep.Closed)),
		slog.Duration("took", rep.Duration),
	)
	return rep
}

func (o *Orchestrator) execute(ctx context.Context, log *slog.Logger, symbol string, sig domain.Signal, prices map[string]decimal.Decimal, rep *CycleReport) {
	if o.deps.Risk != nil {
		sig = o.deps.Risk.Apply(sig)
	}
	log = log.With(slog.String("symbol", symbol), slog.String("producer", sig.ProducerID))

	dec := o.deps.Ledger.CanExecute(sig, symbol)
	if !dec.Allowed && dec.Reason == ledger.ReasonOpposite {
		if !o.reverse(ctx, log, symbol, sig, prices, rep) {
			return
		}
		dec = o.deps.Ledger.CanExecute(sig, symbol)
	}
	if !dec.Allowed {
		o.rejected(log, dec, rep)
		return
	}

	size, err := sizing.Size(sig, o.deps.Ledger.Cash(), o.deps.Settings.Load().Sizing)
	if err != nil {
		log.Warn("sizing failed, signal dropped", slog.String("error", err.Error()))
		return
	}

	if !o.deps.Ledger.CanAfford(size, sig.EntryPrice) {
		o.rejected(log, ledger.Decision{Reason: ledger.ReasonInsufficientFunds}, rep)
		return
	}

	side, _ := sig.Action.Side()
	if !o.placeOrder(ctx, log, domain.OrderRequest{
		ID:       uuid.NewString(),
		Symbol:   symbol,
		Side:     side,
		Size:     size,
		Price:    sig.EntryPrice,
		Producer: sig.ProducerID,
		Purpose:  "open",
	}) {
		return
	}

	pos, dec := o.deps.Ledger.Open(sig, symbol, size)
	if !dec.Allowed {
		o.rejected(log, dec, rep)
		return
	}
	rep.Opened = append(rep.Opened, pos)
	o.afterOpen(ctx, pos)
}

// reverse closes every position on symbol so that sig, which points the
// other way, can open. Each position leaves the ledger as soon as its own
// closing order fills. It returns false if any closing order failed; the
// positions already closed stay closed and sig does not open this cycle.
func (o *Orchestrator) reverse(ctx context.Context, log *slog.Logger, symbol string, sig domain.Signal, prices map[string]decimal.Decimal, rep *CycleReport) bool {
	exitPrice, ok := prices[symbol]
	if !ok || !exitPrice.IsPositive() {
		exitPrice = sig.EntryPrice
	}
	side, _ := sig.Action.Side()

	log.Info("direction change, closing symbol",
		slog.String("new_side", string(sig.Action)),
		slog.String("exit", exitPrice.String()),
	)
	reopen := true
	for _, view := range o.deps.Ledger.Positions() {
		if view.Symbol != symbol {
			continue
		}
		if !o.placeOrder(ctx, log, domain.OrderRequest{
			ID:       uuid.NewString(),
			Symbol:   symbol,
			Side:     view.Side.Opposite(),
			Size:     view.Size,
			Price:    exitPrice,
			Producer: view.ProducerID,
			Purpose:  "close",
		}) {
			return false
		}
		trade, ok := o.deps.Ledger.Close(symbol, view.ProducerID, exitPrice, domain.ReasonReversal)
		if !ok {
			continue
		}
		// A same-side position closed alongside means the book was mixed;
		// the ordinary cooldown then applies to both sides.
		if trade.Side == side {
			reopen = false
		}
		rep.Closed = append(rep.Closed, trade)
		o.afterClose(ctx, trade)
	}

	if reopen {
		o.deps.Ledger.AllowReopen(symbol, side)
	}
	return true
}

func (o *Orchestrator) placeOrder(ctx context.Context, log *slog.Logger, req domain.OrderRequest) bool {
	if o.deps.Executor == nil {
		return true
	}
	res, err := o.deps.Executor.Place(ctx, req)
	if err != nil {
		log.Warn("order failed",
			slog.String("purpose", req.Purpose),
			slog.String("error", err.Error()),
		)
		return false
	}
	if !res.Success {
		log.Warn("order rejected",
			slog.String("purpose", req.Purpose),
			slog.String("message", res.Message),
		)
		return false
	}
	return true
}

func (o *Orchestrator) rejected(log *slog.Logger, dec ledger.Decision, rep *CycleReport) {
	rep.Rejected[dec.Reason]++
	if o.deps.Metrics != nil {
		o.deps.Metrics.OpenRejected(string(dec.Reason))
	}
	attrs := []any{slog.String("reason", string(dec.Reason))}
	if dec.Remaining > 0 {
		attrs = append(attrs, slog.Duration("remaining", dec.Remaining))
	}
	if dec.Detail != "" {
		attrs = append(attrs, slog.String("detail", dec.Detail))
	}
	log.Info("signal skipped", attrs...)
}
