// Package engine runs the trading cycle: refresh prices, mark the book,
// sweep exits, aggregate signals and open positions.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/aggregator"
	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/exit"
	"github.com/alanyoungcy/cryptobot/internal/ledger"
	"github.com/alanyoungcy/cryptobot/internal/risk"
)

// State is the lifecycle state of an Orchestrator.
type State string

const (
	StateStopped State = "stopped"
	StateRunning State = "running"
)

var (
	// ErrRunning is returned by Start when the loop is already running.
	ErrRunning = errors.New("engine: already running")
	// ErrNoSymbols is returned by Start when there is nothing to trade.
	ErrNoSymbols = errors.New("engine: no symbols configured")
)

// Bus channels and streams written by the orchestrator.
const (
	ChannelPositions = "positions"
	ChannelCycles    = "cycles"
	StreamTrades     = "trades"
)

// Aggregator selects actionable signals for a symbol.
type Aggregator interface {
	Aggregate(ctx context.Context, historyBySymbol map[string][]domain.Bar, symbol string) aggregator.Result
}

// Metrics receives cycle and position telemetry.
type Metrics interface {
	ObserveCycle(d time.Duration)
	PositionOpened(producer string)
	PositionClosed(producer, reason string, pnl float64)
	OpenRejected(reason string)
	ObservePortfolio(s domain.PortfolioSummary)
}

// Options are the static orchestrator settings.
type Options struct {
	Mode         string
	Symbols      []string
	Lookback     int
	WarmupCycles int
	LockKey      string
	LockTTL      time.Duration
	// IOTimeout bounds journal, bus and audit writes.
	IOTimeout time.Duration
}

// Deps are the orchestrator's collaborators. Market, Aggregator, Ledger,
// Exits and Settings are required; the rest may be nil.
type Deps struct {
	Market     domain.MarketData
	Aggregator Aggregator
	Ledger     *ledger.Ledger
	Exits      *exit.Monitor
	Settings   *config.Store
	Risk       *risk.Manager
	Executor   domain.OrderExecutor
	Events     domain.PositionEvents
	Journal    domain.TradeJournal
	Audit      domain.AuditStore
	Bus        domain.EventBus
	Locks      domain.LockManager
	Metrics    Metrics
	Now        func() time.Time
}

// Orchestrator owns the cycle loop and its start/stop lifecycle. Only the
// loop mutates the ledger, so at most one cycle runs at a time.
type Orchestrator struct {
	opts Options
	deps Deps
	now  func() time.Time

	cycleMu sync.Mutex

	mu        sync.Mutex
	state     State
	stop      chan struct{}
	done      chan struct{}
	stopping  bool
	startedAt time.Time
	lastCycle time.Time

	cycles atomic.Int64
	logger *slog.Logger
}

// New creates a stopped Orchestrator.
func New(deps Deps, opts Options, logger *slog.Logger) *Orchestrator {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	if opts.IOTimeout <= 0 {
		opts.IOTimeout = 5 * time.Second
	}
	if opts.LockKey == "" {
		opts.LockKey = "engine"
	}
	if opts.LockTTL <= 0 {
		opts.LockTTL = time.Minute
	}
	return &Orchestrator{
		opts:   opts,
		deps:   deps,
		now:    now,
		state:  StateStopped,
		logger: logger.With(slog.String("component", "engine")),
	}
}

// State returns the current lifecycle state.
func (o *Orchestrator) State() State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

// Start moves the orchestrator to running and launches the cycle loop. The
// loop exits when Stop is called or ctx is cancelled.
func (o *Orchestrator) Start(ctx context.Context) error {
	if len(o.opts.Symbols) == 0 {
		return ErrNoSymbols
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.state == StateRunning {
		return ErrRunning
	}

	var lock domain.Lock
	if o.deps.Locks != nil {
		l, err := o.deps.Locks.Acquire(ctx, o.opts.LockKey, o.opts.LockTTL)
		if err != nil {
			return fmt.Errorf("engine: acquire run lock: %w", err)
		}
		lock = l
	}

	o.state = StateRunning
	o.stopping = false
	o.stop = make(chan struct{})
	o.done = make(chan struct{})
	o.startedAt = o.now()

	o.logger.Info("engine started",
		slog.Any("symbols", o.opts.Symbols),
		slog.Int("warmup_cycles", o.opts.WarmupCycles),
	)
	o.audit(ctx, "engine_started", map[string]any{"symbols": o.opts.Symbols})

	go o.loop(ctx, o.stop, o.done, lock)
	return nil
}

// Stop asks the loop to exit and waits for the in-flight cycle to finish.
// It is a no-op when already stopped.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if o.state != StateRunning {
		o.mu.Unlock()
		return
	}
	if !o.stopping {
		o.stopping = true
		close(o.stop)
	}
	done := o.done
	o.mu.Unlock()
	<-done
}

// Run starts the loop when autoStart is set and blocks until ctx is done,
// then stops it. The loop can also be driven through Start and Stop while
// Run is blocked.
func (o *Orchestrator) Run(ctx context.Context, autoStart bool) error {
	if autoStart {
		if err := o.Start(ctx); err != nil {
			return err
		}
	}
	<-ctx.Done()
	o.Stop()
	return nil
}

func (o *Orchestrator) loop(ctx context.Context, stop <-chan struct{}, done chan struct{}, lock domain.Lock) {
	defer func() {
		if lock != nil {
			lock.Release()
		}
		o.mu.Lock()
		o.state = StateStopped
		o.stopping = false
		o.mu.Unlock()
		o.logger.Info("engine stopped", slog.Int64("cycles", o.cycles.Load()))
		o.audit(context.WithoutCancel(ctx), "engine_stopped", map[string]any{"cycles": o.cycles.Load()})
		close(done)
	}()

	for {
		o.RunCycle(ctx)

		if lock != nil {
			if err := lock.Refresh(ctx, o.opts.LockTTL); err != nil {
				if errors.Is(err, domain.ErrLockHeld) {
					o.logger.Error("run lock lost, stopping", slog.String("error", err.Error()))
					return
				}
				o.logger.Warn("run lock refresh failed", slog.String("error", err.Error()))
			}
		}

		timer := time.NewTimer(o.deps.Settings.Load().CycleInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// Status summarises the orchestrator for the status API.
func (o *Orchestrator) Status() domain.BotStatus {
	o.mu.Lock()
	st := domain.BotStatus{
		Mode:        o.opts.Mode,
		State:       string(o.state),
		Cycles:      o.cycles.Load(),
		LastCycleAt: o.lastCycle,
		Symbols:     append([]string(nil), o.opts.Symbols...),
	}
	if o.state == StateRunning {
		st.UptimeSeconds = int64(o.now().Sub(o.startedAt).Seconds())
	}
	o.mu.Unlock()
	st.OpenPositions = len(o.deps.Ledger.Positions())
	return st
}

// Cycles returns the number of cycles run so far.
func (o *Orchestrator) Cycles() int64 {
	return o.cycles.Load()
}
