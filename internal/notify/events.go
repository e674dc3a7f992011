package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// PositionNotifier turns position lifecycle events into chat messages. It
// implements domain.PositionEvents: delivery runs in the background and
// failures are logged, never returned.
type PositionNotifier struct {
	notifier  *Notifier
	portfolio func() domain.PortfolioSummary
	timeout   time.Duration
	wg        sync.WaitGroup
	logger    *slog.Logger
}

// NewPositionNotifier creates a PositionNotifier. portfolio may be nil; when
// set, each message carries a portfolio status line.
func NewPositionNotifier(n *Notifier, portfolio func() domain.PortfolioSummary, timeout time.Duration, logger *slog.Logger) *PositionNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &PositionNotifier{
		notifier:  n,
		portfolio: portfolio,
		timeout:   timeout,
		logger:    logger.With(slog.String("component", "position_notifier")),
	}
}

func (p *PositionNotifier) OnPositionOpened(ev domain.PositionOpened) {
	if !p.notifier.Enabled(EventPositionOpened) {
		return
	}
	msg := Message{
		Title: fmt.Sprintf("Opened %s %s", strings.ToUpper(string(ev.Side)), ev.Symbol),
		Body:  ev.Reason,
		Level: LevelInfo,
		Fields: []Field{
			{"Producer", ev.ProducerID},
			{"Size", ev.Size.StringFixed(6)},
			{"Entry", ev.EntryPrice.StringFixed(2)},
		},
	}
	p.dispatch(EventPositionOpened, p.withPortfolio(msg))
}

func (p *PositionNotifier) OnPositionClosed(ev domain.PositionClosed) {
	if !p.notifier.Enabled(EventPositionClosed) {
		return
	}
	level := LevelBad
	if ev.PnL.IsPositive() {
		level = LevelGood
	}
	msg := Message{
		Title: fmt.Sprintf("Closed %s %s (%s)", strings.ToUpper(string(ev.Side)), ev.Symbol, ev.Reason),
		Level: level,
		Fields: []Field{
			{"Producer", ev.ProducerID},
			{"Size", ev.Size.StringFixed(6)},
			{"Entry", ev.EntryPrice.StringFixed(2)},
			{"Exit", ev.ExitPrice.StringFixed(2)},
			{"P&L", ev.PnL.StringFixed(2)},
			{"Held", ev.HoldDuration.Round(time.Second).String()},
		},
	}
	p.dispatch(EventPositionClosed, p.withPortfolio(msg))
}

// NotifyEngine sends an engine lifecycle message such as start or stop.
func (p *PositionNotifier) NotifyEngine(title, body string) {
	if !p.notifier.Enabled(EventEngine) {
		return
	}
	p.dispatch(EventEngine, Message{Title: title, Body: body, Level: LevelInfo})
}

// Wait blocks until in-flight deliveries have finished.
func (p *PositionNotifier) Wait() {
	p.wg.Wait()
}

func (p *PositionNotifier) withPortfolio(msg Message) Message {
	if p.portfolio == nil {
		return msg
	}
	s := p.portfolio()
	msg.Fields = append(msg.Fields,
		Field{"Portfolio", s.TotalValue.StringFixed(2)},
		Field{"Cash", s.CashBalance.StringFixed(2)},
		Field{"Open", fmt.Sprintf("%d", s.OpenPositions)},
		Field{"Win rate", fmt.Sprintf("%.1f%% of %d", s.WinRate*100, s.TradeCount)},
	)
	return msg
}

func (p *PositionNotifier) dispatch(event string, msg Message) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("notification panicked",
					slog.String("event", event),
					slog.String("error", fmt.Sprint(r)),
				)
			}
		}()
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		defer cancel()
		if err := p.notifier.Notify(ctx, event, msg); err != nil {
			p.logger.Warn("notification dropped",
				slog.String("event", event),
				slog.String("error", err.Error()),
			)
		}
	}()
}

var _ domain.PositionEvents = (*PositionNotifier)(nil)
