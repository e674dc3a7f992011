package engine

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/aggregator"
	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/exit"
	"github.com/alanyoungcy/cryptobot/internal/ledger"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2024, 7, 20, 12, 0, 0, 0, time.UTC)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(dur time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(dur)
	c.mu.Unlock()
}

type fakeMarket struct {
	mu         sync.Mutex
	prices     map[string]decimal.Decimal
	priceErr   error
	historyErr map[string]error
	calls      int
	entered    chan struct{}
	gate       chan struct{}
}

func (m *fakeMarket) CurrentPrices(context.Context, []string) (map[string]decimal.Decimal, error) {
	m.mu.Lock()
	m.calls++
	entered, gate := m.entered, m.gate
	m.mu.Unlock()
	if entered != nil {
		entered <- struct{}{}
	}
	if gate != nil {
		<-gate
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.priceErr != nil {
		return nil, m.priceErr
	}
	out := make(map[string]decimal.Decimal, len(m.prices))
	for k, v := range m.prices {
		out[k] = v
	}
	return out, nil
}

func (m *fakeMarket) History(_ context.Context, symbol string, _ int) ([]domain.Bar, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.historyErr[symbol]; err != nil {
		return nil, err
	}
	return []domain.Bar{{Close: 100}}, nil
}

func (m *fakeMarket) set(symbol string, price float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol] = d(price)
}

type fakeAggregator struct {
	mu      sync.Mutex
	signals map[string][]domain.Signal
	calls   []string
}

func (a *fakeAggregator) Aggregate(_ context.Context, _ map[string][]domain.Bar, symbol string) aggregator.Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.calls = append(a.calls, symbol)
	return aggregator.Result{Symbol: symbol, Signals: a.signals[symbol]}
}

func (a *fakeAggregator) set(symbol string, sigs ...domain.Signal) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.signals[symbol] = sigs
}

type recordedEvents struct {
	mu     sync.Mutex
	opened []domain.PositionOpened
	closed []domain.PositionClosed
}

func (r *recordedEvents) OnPositionOpened(ev domain.PositionOpened) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.opened = append(r.opened, ev)
}

func (r *recordedEvents) OnPositionClosed(ev domain.PositionClosed) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, ev)
}

type failingJournal struct{ calls int }

func (j *failingJournal) Record(context.Context, domain.ClosedTrade) error {
	j.calls++
	return errors.New("db down")
}
func (j *failingJournal) List(context.Context, domain.ListOpts) ([]domain.ClosedTrade, error) {
	return nil, nil
}
func (j *failingJournal) Close() error { return nil }

type harness struct {
	orch    *Orchestrator
	clock   *clock
	market  *fakeMarket
	agg     *fakeAggregator
	events  *recordedEvents
	ledger  *ledger.Ledger
	journal *failingJournal
}

func newHarness(t *testing.T, symbols []string, warmup int) *harness {
	t.Helper()
	return newHarnessWith(t, symbols, warmup, d(10000), nil)
}

func newHarnessWith(t *testing.T, symbols []string, warmup int, balance decimal.Decimal, orders domain.OrderExecutor) *harness {
	t.Helper()
	clk := &clock{now: t0}
	store, err := config.NewStore(config.Defaults().Runtime())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	book := ledger.New(ledger.Config{
		InitialBalance: balance,
		Cooldown:       func() time.Duration { return store.Load().CooldownWindow },
		Now:            clk.Now,
	}, testLogger)
	h := &harness{
		clock:   clk,
		market:  &fakeMarket{prices: map[string]decimal.Decimal{}},
		agg:     &fakeAggregator{signals: map[string][]domain.Signal{}},
		events:  &recordedEvents{},
		ledger:  book,
		journal: &failingJournal{},
	}
	h.orch = New(Deps{
		Market:     h.market,
		Aggregator: h.agg,
		Ledger:     book,
		Exits:      exit.New(book, nil, testLogger),
		Settings:   store,
		Executor:   orders,
		Events:     h.events,
		Journal:    h.journal,
		Now:        clk.Now,
	}, Options{Symbols: symbols, Lookback: 100, WarmupCycles: warmup}, testLogger)
	return h
}

// countingExecutor fills every order except those whose producer and
// purpose are listed in fail.
type countingExecutor struct {
	mu     sync.Mutex
	fail   map[string]bool
	filled []domain.OrderRequest
}

func (e *countingExecutor) Place(_ context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.fail[req.Producer+"/"+req.Purpose] {
		return domain.OrderResult{}, errors.New("venue rejected")
	}
	e.filled = append(e.filled, req)
	return domain.OrderResult{Success: true, OrderID: req.ID, FilledPrice: req.Price}, nil
}

func (e *countingExecutor) count(purpose string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := 0
	for _, req := range e.filled {
		if req.Purpose == purpose {
			n++
		}
	}
	return n
}

func buy(producer string, entry, sl, tp float64) domain.Signal {
	return domain.Signal{
		Action:     domain.ActionBuy,
		Confidence: 0.8,
		ProducerID: producer,
		EntryPrice: d(entry),
		StopLoss:   d(sl),
		TakeProfit: d(tp),
		MaxHold:    time.Hour,
	}
}

func sell(producer string, entry, sl, tp float64) domain.Signal {
	s := buy(producer, entry, sl, tp)
	s.Action = domain.ActionSell
	return s
}

func TestRunCycleOpensPosition(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))

	rep := h.orch.RunCycle(context.Background())
	if len(rep.Opened) != 1 {
		t.Fatalf("expected 1 open, got %d (rejected %v)", len(rep.Opened), rep.Rejected)
	}
	// Default sizing: 10% of 10,000 at 100 = 10 units.
	if !rep.Opened[0].Size.Equal(d(10)) {
		t.Fatalf("size = %s, want 10", rep.Opened[0].Size)
	}
	if !h.ledger.Cash().Equal(d(9000)) {
		t.Fatalf("cash = %s, want 9000", h.ledger.Cash())
	}
	if len(h.events.opened) != 1 || h.events.opened[0].ProducerID != "a" {
		t.Fatalf("open event not emitted: %+v", h.events.opened)
	}
	if h.orch.Cycles() != 1 {
		t.Fatalf("cycles = %d", h.orch.Cycles())
	}
}

func TestRunCycleExitsBeforeOpening(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	// Price falls through the stop; the same producer signals again once
	// the cooldown has passed.
	h.clock.Advance(10 * time.Minute)
	h.market.set("BTC-USD", 97)
	h.agg.set("BTC-USD", buy("a", 97, 95, 100))

	rep := h.orch.RunCycle(context.Background())
	if len(rep.Closed) != 1 || rep.Closed[0].Reason != domain.ReasonStopLoss {
		t.Fatalf("expected a stop_loss close, got %+v", rep.Closed)
	}
	// The close stamps a fresh cooldown, so the new signal waits.
	if rep.Rejected[ledger.ReasonCooldown] != 1 {
		t.Fatalf("expected a cooldown rejection, got %v", rep.Rejected)
	}
	if len(h.events.closed) != 1 {
		t.Fatalf("close event not emitted")
	}
	if h.journal.calls != 1 {
		t.Fatalf("journal not written")
	}
	if err := h.ledger.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
}

func TestRunCycleDirectionChange(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	h.clock.Advance(6 * time.Minute)
	h.market.set("BTC-USD", 101)
	h.agg.set("BTC-USD", sell("b", 101, 103, 99))

	rep := h.orch.RunCycle(context.Background())
	if len(rep.Closed) != 1 || rep.Closed[0].Reason != domain.ReasonReversal {
		t.Fatalf("expected a direction_change close, got %+v", rep.Closed)
	}
	if !rep.Closed[0].ExitPrice.Equal(d(101)) {
		t.Fatalf("exit price = %s", rep.Closed[0].ExitPrice)
	}
	if len(rep.Opened) != 1 || rep.Opened[0].Side != domain.SideSell {
		t.Fatalf("expected the sell to open, got %+v (rejected %v)", rep.Opened, rep.Rejected)
	}
	positions := h.ledger.Positions()
	if len(positions) != 1 || positions[0].ProducerID != "b" {
		t.Fatalf("unexpected book: %+v", positions)
	}
}

func TestRunCycleSkipsOrderWhenCashIsShort(t *testing.T) {
	orders := &countingExecutor{}
	h := newHarnessWith(t, []string{"BTC-USD"}, 0, d(5), orders)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))

	rep := h.orch.RunCycle(context.Background())
	if len(rep.Opened) != 0 || rep.Rejected[ledger.ReasonInsufficientFunds] != 1 {
		t.Fatalf("opened=%d rejected=%v, want one insufficient cash rejection", len(rep.Opened), rep.Rejected)
	}
	if n := orders.count("open"); n != 0 {
		t.Fatalf("open orders filled = %d, want 0", n)
	}
	if len(h.ledger.Positions()) != 0 || !h.ledger.Cash().Equal(d(5)) {
		t.Fatalf("ledger changed: positions=%d cash=%s", len(h.ledger.Positions()), h.ledger.Cash())
	}
}

func TestRunCycleDirectionChangeWithFailedClose(t *testing.T) {
	orders := &countingExecutor{fail: map[string]bool{"b/close": true}}
	h := newHarnessWith(t, []string{"BTC-USD"}, 0, d(10000), orders)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	h.clock.Advance(6 * time.Minute)
	h.agg.set("BTC-USD", buy("b", 100, 98, 104))
	h.orch.RunCycle(context.Background())
	if n := len(h.ledger.Positions()); n != 2 {
		t.Fatalf("expected a and b open, got %d positions", n)
	}

	h.clock.Advance(6 * time.Minute)
	h.market.set("BTC-USD", 101)
	h.agg.set("BTC-USD", sell("c", 101, 103, 99))

	rep := h.orch.RunCycle(context.Background())
	if n := orders.count("close"); n != 1 {
		t.Fatalf("close orders filled = %d, want 1", n)
	}
	if len(rep.Closed) != 1 || rep.Closed[0].ProducerID != "a" || rep.Closed[0].Reason != domain.ReasonReversal {
		t.Fatalf("expected only a closed, got %+v", rep.Closed)
	}
	if len(rep.Opened) != 0 {
		t.Fatalf("sell opened despite a failed close: %+v", rep.Opened)
	}
	positions := h.ledger.Positions()
	if len(positions) != 1 || positions[0].ProducerID != "b" {
		t.Fatalf("ledger should hold only b, got %+v", positions)
	}
	if len(h.events.closed) != 1 {
		t.Fatalf("close events = %d, want 1", len(h.events.closed))
	}
	if err := h.ledger.Reconcile(); err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
}

func TestRunCycleDirectionChangeClosesThenOpens(t *testing.T) {
	orders := &countingExecutor{}
	h := newHarnessWith(t, []string{"BTC-USD"}, 0, d(10000), orders)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	h.clock.Advance(6 * time.Minute)
	h.agg.set("BTC-USD", buy("b", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	// The reopen goes through even though the closes restarted the cooldown.
	h.clock.Advance(6 * time.Minute)
	h.agg.set("BTC-USD", sell("c", 100, 102, 98))
	rep := h.orch.RunCycle(context.Background())
	if len(rep.Closed) != 2 || orders.count("close") != 2 {
		t.Fatalf("expected both positions closed, got %+v", rep.Closed)
	}
	if len(rep.Opened) != 1 || rep.Opened[0].ProducerID != "c" {
		t.Fatalf("expected c to open, got %+v (rejected %v)", rep.Opened, rep.Rejected)
	}

	h.clock.Advance(time.Second)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	if rep := h.orch.RunCycle(context.Background()); rep.Rejected[ledger.ReasonCooldown] != 1 {
		t.Fatalf("same side reopened inside the cooldown: %v", rep.Rejected)
	}
}

func TestRunCycleFallsBackToEntryWhenPricesFail(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	h.agg.set("BTC-USD")
	h.market.set("BTC-USD", 102)
	h.orch.RunCycle(context.Background())
	if got := h.ledger.Positions()[0].CurrentPrice; !got.Equal(d(102)) {
		t.Fatalf("mark = %s, want 102", got)
	}

	h.market.mu.Lock()
	h.market.priceErr = errors.New("ticker timeout")
	h.market.mu.Unlock()
	h.orch.RunCycle(context.Background())
	if got := h.ledger.Positions()[0].CurrentPrice; !got.Equal(d(100)) {
		t.Fatalf("mark after failed refresh = %s, want entry 100", got)
	}
}

func TestRunCycleWarmup(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 2)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))

	for i := 0; i < 2; i++ {
		rep := h.orch.RunCycle(context.Background())
		if !rep.Warmup || len(rep.Opened) != 0 {
			t.Fatalf("cycle %d: expected warm-up with no opens, got %+v", i+1, rep)
		}
	}
	if len(h.agg.calls) != 0 {
		t.Fatalf("aggregator ran during warm-up")
	}
	if rep := h.orch.RunCycle(context.Background()); len(rep.Opened) != 1 {
		t.Fatalf("expected an open after warm-up")
	}
}

func TestRunCycleSurvivesIOFailures(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD", "ETH-USD"}, 0)
	h.market.priceErr = errors.New("ticker timeout")
	h.market.historyErr = map[string]error{"BTC-USD": errors.New("candles 502")}
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.agg.set("ETH-USD", buy("a", 50, 49, 52))

	rep := h.orch.RunCycle(context.Background())
	if rep.Prices != 0 {
		t.Fatalf("expected no prices")
	}
	if len(h.agg.calls) != 1 || h.agg.calls[0] != "ETH-USD" {
		t.Fatalf("expected only ETH-USD aggregated, got %v", h.agg.calls)
	}
	if len(rep.Opened) != 1 || rep.Opened[0].Symbol != "ETH-USD" {
		t.Fatalf("expected ETH-USD to open, got %+v", rep.Opened)
	}
}

func TestStartStopLifecycle(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.market.entered = make(chan struct{})
	h.market.gate = make(chan struct{})

	if h.orch.State() != StateStopped {
		t.Fatalf("initial state = %s", h.orch.State())
	}
	if err := h.orch.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := h.orch.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Fatalf("second Start = %v, want ErrRunning", err)
	}

	select {
	case <-h.market.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("cycle never started")
	}

	stopped := make(chan struct{})
	go func() {
		h.orch.Stop()
		close(stopped)
	}()

	select {
	case <-stopped:
		t.Fatalf("Stop returned while a cycle was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(h.market.gate)
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatalf("Stop did not return after the cycle finished")
	}

	if h.orch.State() != StateStopped {
		t.Fatalf("state after Stop = %s", h.orch.State())
	}
	if h.orch.Cycles() != 1 {
		t.Fatalf("cycles = %d, want 1", h.orch.Cycles())
	}
	h.orch.Stop()
}

func TestStartRequiresSymbols(t *testing.T) {
	h := newHarness(t, nil, 0)
	if err := h.orch.Start(context.Background()); !errors.Is(err, ErrNoSymbols) {
		t.Fatalf("Start = %v, want ErrNoSymbols", err)
	}
}

type heldLocks struct{}

func (heldLocks) Acquire(context.Context, string, time.Duration) (domain.Lock, error) {
	return nil, domain.ErrLockHeld
}

func TestStartFailsWhenLockHeld(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.orch.deps.Locks = heldLocks{}
	if err := h.orch.Start(context.Background()); !errors.Is(err, domain.ErrLockHeld) {
		t.Fatalf("Start = %v, want ErrLockHeld", err)
	}
	if h.orch.State() != StateStopped {
		t.Fatalf("state = %s", h.orch.State())
	}
}

func TestStatus(t *testing.T) {
	h := newHarness(t, []string{"BTC-USD"}, 0)
	h.market.set("BTC-USD", 100)
	h.agg.set("BTC-USD", buy("a", 100, 98, 104))
	h.orch.RunCycle(context.Background())

	st := h.orch.Status()
	if st.State != string(StateStopped) || st.Cycles != 1 || st.OpenPositions != 1 {
		t.Fatalf("status = %+v", st)
	}
	if !st.LastCycleAt.Equal(t0) {
		t.Fatalf("last cycle = %s", st.LastCycleAt)
	}
}
