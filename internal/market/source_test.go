package market

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/platform/coinbase"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var t0 = time.Date(2024, 7, 20, 12, 0, 0, 0, time.UTC)

type fakeExchange struct {
	prices map[string]decimal.Decimal
	calls  int
}

func (f *fakeExchange) Ticker(_ context.Context, product string) (coinbase.Tick, error) {
	f.calls++
	p, ok := f.prices[product]
	if !ok {
		return coinbase.Tick{}, domain.ErrNotFound
	}
	return coinbase.Tick{Product: product, Price: p, Time: t0}, nil
}

func (f *fakeExchange) Candles(_ context.Context, product string, granularity, limit int) ([]domain.Bar, error) {
	if granularity != 60 {
		return nil, errors.New("unexpected granularity")
	}
	return make([]domain.Bar, limit), nil
}

type memCache struct {
	mu     sync.Mutex
	prices map[string]decimal.Decimal
	times  map[string]time.Time
}

func newMemCache() *memCache {
	return &memCache{prices: map[string]decimal.Decimal{}, times: map[string]time.Time{}}
}

func (m *memCache) SetPrice(_ context.Context, symbol string, price decimal.Decimal, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[symbol], m.times[symbol] = price, ts
	return nil
}

func (m *memCache) GetPrice(_ context.Context, symbol string) (decimal.Decimal, time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.prices[symbol]
	if !ok {
		return decimal.Zero, time.Time{}, domain.ErrNotFound
	}
	return p, m.times[symbol], nil
}

func (m *memCache) GetPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	out := map[string]decimal.Decimal{}
	for _, s := range symbols {
		if p, _, err := m.GetPrice(ctx, s); err == nil {
			out[s] = p
		}
	}
	return out, nil
}

func TestCurrentPricesPrefersFreshCache(t *testing.T) {
	ex := &fakeExchange{prices: map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(1), "ETH-USD": decimal.NewFromInt(2)}}
	cache := newMemCache()
	_ = cache.SetPrice(context.Background(), "BTC-USD", decimal.NewFromInt(64000), t0.Add(-5*time.Second))
	_ = cache.SetPrice(context.Background(), "ETH-USD", decimal.NewFromInt(3000), t0.Add(-time.Hour))

	src := NewSource(ex, cache, 60, 30*time.Second, testLogger)
	src.now = func() time.Time { return t0 }

	prices, err := src.CurrentPrices(context.Background(), []string{"BTC-USD", "ETH-USD"})
	if err != nil {
		t.Fatalf("CurrentPrices: %v", err)
	}
	if !prices["BTC-USD"].Equal(decimal.NewFromInt(64000)) {
		t.Fatalf("BTC should come from cache, got %s", prices["BTC-USD"])
	}
	if !prices["ETH-USD"].Equal(decimal.NewFromInt(2)) {
		t.Fatalf("stale ETH should be refetched, got %s", prices["ETH-USD"])
	}
	if ex.calls != 1 {
		t.Fatalf("expected 1 REST call, got %d", ex.calls)
	}
	if p, _, _ := cache.GetPrice(context.Background(), "ETH-USD"); !p.Equal(decimal.NewFromInt(2)) {
		t.Fatalf("REST price not written back to cache")
	}
}

func TestCurrentPricesPartialAndTotalFailure(t *testing.T) {
	ex := &fakeExchange{prices: map[string]decimal.Decimal{"BTC-USD": decimal.NewFromInt(1)}}
	src := NewSource(ex, nil, 60, 0, testLogger)

	prices, err := src.CurrentPrices(context.Background(), []string{"BTC-USD", "DOGE-USD"})
	if err != nil {
		t.Fatalf("partial failure should not error: %v", err)
	}
	if len(prices) != 1 {
		t.Fatalf("prices = %v", prices)
	}

	if _, err := src.CurrentPrices(context.Background(), []string{"DOGE-USD"}); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected wrapped ErrNotFound, got %v", err)
	}
}

func TestHandleTickAndHistory(t *testing.T) {
	cache := newMemCache()
	src := NewSource(&fakeExchange{}, cache, 60, time.Minute, testLogger)
	src.HandleTick(context.Background(), coinbase.Tick{Product: "SOL-USD", Price: decimal.NewFromInt(150), Time: t0})
	if p, ts, err := cache.GetPrice(context.Background(), "SOL-USD"); err != nil || !p.Equal(decimal.NewFromInt(150)) || !ts.Equal(t0) {
		t.Fatalf("cache = %s %s %v", p, ts, err)
	}

	bars, err := src.History(context.Background(), "SOL-USD", 100)
	if err != nil || len(bars) != 100 {
		t.Fatalf("History = %d bars, %v", len(bars), err)
	}
}

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []string
}

func (r *recordingPublisher) Publish(_ context.Context, channel string, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs = append(r.msgs, channel+" "+string(payload))
	return nil
}

func TestHandleTickPublishesThrottled(t *testing.T) {
	src := NewSource(&fakeExchange{}, nil, 60, time.Minute, testLogger)
	now := t0
	src.now = func() time.Time { return now }
	pub := &recordingPublisher{}
	src.SetPublisher(pub, time.Second)

	tick := func(sym string, p int64) {
		src.HandleTick(context.Background(), coinbase.Tick{Product: sym, Price: decimal.NewFromInt(p), Time: now})
	}
	tick("BTC-USD", 100)
	tick("BTC-USD", 101)
	tick("ETH-USD", 5)
	now = now.Add(time.Second)
	tick("BTC-USD", 102)

	want := []string{
		`prices {"event":"price","symbol":"BTC-USD","price":"100","timestamp":"2024-07-20T12:00:00Z"}`,
		`prices {"event":"price","symbol":"ETH-USD","price":"5","timestamp":"2024-07-20T12:00:00Z"}`,
		`prices {"event":"price","symbol":"BTC-USD","price":"102","timestamp":"2024-07-20T12:00:01Z"}`,
	}
	if len(pub.msgs) != len(want) {
		t.Fatalf("published %d messages: %v", len(pub.msgs), pub.msgs)
	}
	for i := range want {
		if pub.msgs[i] != want[i] {
			t.Fatalf("msg %d = %s, want %s", i, pub.msgs[i], want[i])
		}
	}
}
