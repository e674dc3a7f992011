// Package ledger is the single owner of portfolio state: cash, open
// positions, trade history and per-symbol cooldowns. Every mutation goes
// through Ledger methods and either fully applies or leaves state untouched.
package ledger

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Reason explains why an open is not allowed. Rejections are expected
// control flow, not errors.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonCooldown          Reason = "cooldown"
	ReasonDuplicate         Reason = "duplicate producer position"
	ReasonOpposite          Reason = "must close existing opposite position first"
	ReasonInvalidSignal     Reason = "invalid signal"
	ReasonInsufficientFunds Reason = "insufficient cash"
)

// Decision is the result of CanExecute and Open.
type Decision struct {
	Allowed bool
	Reason  Reason
	// Remaining is set for cooldown rejections.
	Remaining time.Duration
	// Detail carries the validation message for invalid signals.
	Detail string
}

func allow() Decision { return Decision{Allowed: true} }

func reject(r Reason) Decision { return Decision{Reason: r} }

// Config parameterises a Ledger.
type Config struct {
	InitialBalance decimal.Decimal
	// Cooldown is consulted on every check so the window can be changed at
	// runtime. Nil means no cooldown.
	Cooldown func() time.Duration
	// Now defaults to time.Now.
	Now func() time.Time
}

type cooldownStamp struct {
	at time.Time
	// reopen is the side allowed to open through the cooldown after a
	// direction-change close. Empty for ordinary stamps.
	reopen domain.Side
}

// Ledger is safe for concurrent use. The cycle loop is its only writer; the
// HTTP API reads snapshots.
type Ledger struct {
	mu        sync.RWMutex
	initial   decimal.Decimal
	cash      decimal.Decimal
	positions map[domain.PositionKey]domain.Position
	history   []domain.ClosedTrade
	cooldowns map[string]cooldownStamp
	marks     map[string]decimal.Decimal

	cooldown func() time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// New creates a Ledger holding cfg.InitialBalance in cash.
func New(cfg Config, logger *slog.Logger) *Ledger {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Cooldown == nil {
		cfg.Cooldown = func() time.Duration { return 0 }
	}
	return &Ledger{
		initial:   cfg.InitialBalance,
		cash:      cfg.InitialBalance,
		positions: make(map[domain.PositionKey]domain.Position),
		cooldowns: make(map[string]cooldownStamp),
		marks:     make(map[string]decimal.Decimal),
		cooldown:  cfg.Cooldown,
		now:       cfg.Now,
		logger:    logger.With(slog.String("component", "ledger")),
	}
}

// CanExecute reports whether sig may open a position on symbol right now.
// Checks run in order: cooldown, duplicate producer position, opposite
// position held by another producer.
func (l *Ledger) CanExecute(sig domain.Signal, symbol string) Decision {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.canExecuteLocked(sig, symbol, l.now())
}

func (l *Ledger) canExecuteLocked(sig domain.Signal, symbol string, now time.Time) Decision {
	side, _ := sig.Action.Side()

	if stamp, ok := l.cooldowns[symbol]; ok {
		window := l.cooldown()
		elapsed := now.Sub(stamp.at)
		if elapsed < window && (stamp.reopen == "" || stamp.reopen != side) {
			d := reject(ReasonCooldown)
			d.Remaining = window - elapsed
			return d
		}
	}

	if _, ok := l.positions[domain.PositionKey{Symbol: symbol, ProducerID: sig.ProducerID}]; ok {
		return reject(ReasonDuplicate)
	}

	for key, pos := range l.positions {
		if key.Symbol == symbol && key.ProducerID != sig.ProducerID && pos.Side != side {
			return reject(ReasonOpposite)
		}
	}
	return allow()
}

// CanAfford reports whether cash covers size units at price.
func (l *Ledger) CanAfford(size, price decimal.Decimal) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return !size.Mul(price).GreaterThan(l.cash)
}

// Open records a new position for sig on symbol with size units, deducting
// size × entry from cash. On rejection nothing changes.
func (l *Ledger) Open(sig domain.Signal, symbol string, size decimal.Decimal) (domain.Position, Decision) {
	if err := sig.Validate(); err != nil {
		d := reject(ReasonInvalidSignal)
		d.Detail = err.Error()
		return domain.Position{}, d
	}
	if !size.IsPositive() {
		d := reject(ReasonInvalidSignal)
		d.Detail = "size must be positive"
		return domain.Position{}, d
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if d := l.canExecuteLocked(sig, symbol, now); !d.Allowed {
		return domain.Position{}, d
	}

	cost := size.Mul(sig.EntryPrice)
	if cost.GreaterThan(l.cash) {
		return domain.Position{}, reject(ReasonInsufficientFunds)
	}

	side, _ := sig.Action.Side()
	pos := domain.Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		ProducerID: sig.ProducerID,
		Side:       side,
		Size:       size,
		EntryPrice: sig.EntryPrice,
		StopLoss:   sig.StopLoss,
		TakeProfit: sig.TakeProfit,
		MaxHold:    sig.MaxHold,
		EntryTime:  now,
		Reason:     sig.Reason,
	}
	l.positions[pos.Key()] = pos
	l.cash = l.cash.Sub(cost)
	l.cooldowns[symbol] = cooldownStamp{at: now}

	l.logger.Info("position opened",
		slog.String("symbol", symbol),
		slog.String("producer", sig.ProducerID),
		slog.String("side", string(side)),
		slog.String("size", size.String()),
		slog.String("entry", sig.EntryPrice.String()),
		slog.String("cash", l.cash.String()),
	)
	return pos, allow()
}

// Close removes the (symbol, producerID) position at exitPrice, credits
// exitPrice × size to cash and appends a trade record. It returns false and
// changes nothing if no such position exists.
func (l *Ledger) Close(symbol, producerID string, exitPrice decimal.Decimal, reason string) (domain.ClosedTrade, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	trade, ok := l.closeLocked(domain.PositionKey{Symbol: symbol, ProducerID: producerID}, exitPrice, reason, now)
	if ok {
		l.cooldowns[symbol] = cooldownStamp{at: now}
	}
	return trade, ok
}

// AllowReopen restarts the cooldown on symbol and lets side open through it.
// It finishes a direction change whose positions were closed one at a time.
func (l *Ledger) AllowReopen(symbol string, side domain.Side) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cooldowns[symbol] = cooldownStamp{at: l.now(), reopen: side}
}

// CloseAllForSymbol closes every position on symbol regardless of producer.
// It is the first half of a direction change: the opposite side may open on
// symbol through the resulting cooldown, the same side may not.
func (l *Ledger) CloseAllForSymbol(symbol string, exitPrice decimal.Decimal, reason string) []domain.ClosedTrade {
	l.mu.Lock()
	defer l.mu.Unlock()

	var keys []domain.PositionKey
	for key := range l.positions {
		if key.Symbol == symbol {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil
	}
	sortKeys(keys)

	now := l.now()
	closed := make([]domain.ClosedTrade, 0, len(keys))
	var closedSide domain.Side
	mixed := false
	for _, key := range keys {
		trade, ok := l.closeLocked(key, exitPrice, reason, now)
		if !ok {
			continue
		}
		if closedSide != "" && closedSide != trade.Side {
			mixed = true
		}
		closedSide = trade.Side
		closed = append(closed, trade)
	}

	stamp := cooldownStamp{at: now}
	if !mixed {
		stamp.reopen = closedSide.Opposite()
	}
	l.cooldowns[symbol] = stamp
	return closed
}

func (l *Ledger) closeLocked(key domain.PositionKey, exitPrice decimal.Decimal, reason string, now time.Time) (domain.ClosedTrade, bool) {
	pos, ok := l.positions[key]
	if !ok {
		return domain.ClosedTrade{}, false
	}

	trade := domain.ClosedTrade{
		ID:         uuid.NewString(),
		PositionID: pos.ID,
		Symbol:     pos.Symbol,
		ProducerID: pos.ProducerID,
		Side:       pos.Side,
		Size:       pos.Size,
		EntryPrice: pos.EntryPrice,
		ExitPrice:  exitPrice,
		PnL:        pos.PnL(exitPrice),
		Reason:     reason,
		EntryTime:  pos.EntryTime,
		ExitTime:   now,
	}
	delete(l.positions, key)
	l.cash = l.cash.Add(exitPrice.Mul(pos.Size))
	l.history = append(l.history, trade)

	l.logger.Info("position closed",
		slog.String("symbol", pos.Symbol),
		slog.String("producer", pos.ProducerID),
		slog.String("side", string(pos.Side)),
		slog.String("exit", exitPrice.String()),
		slog.String("pnl", trade.PnL.String()),
		slog.String("reason", reason),
		slog.String("cash", l.cash.String()),
	)
	return trade, true
}
