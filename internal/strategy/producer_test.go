package strategy

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

var producerKinds = []string{"ultra_scalp", "fast_scalp", "quick_momentum", "ttm_squeeze"}

func buildAll(t *testing.T) []Producer {
	t.Helper()
	out := make([]Producer, 0, len(producerKinds))
	for _, kind := range producerKinds {
		p, err := Build(kind, Config{MaxHold: 10 * time.Minute}, testLogger)
		if err != nil {
			t.Fatalf("Build(%s): %v", kind, err)
		}
		out = append(out, p)
	}
	return out
}

// randomWalk builds n one-minute bars with occasional volume spikes and
// sharp moves so that producers sometimes fire.
func randomWalk(seed int64, n int) []domain.Bar {
	rng := rand.New(rand.NewSource(seed))
	bars := make([]domain.Bar, n)
	price := 100.0
	start := time.Date(2024, 7, 20, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		open := price
		step := rng.NormFloat64() * 0.25
		if rng.Intn(12) == 0 {
			step *= 6
		}
		price = math.Max(1, price*(1+step/100))
		vol := 100 + rng.Float64()*20
		if rng.Intn(8) == 0 {
			vol *= 3
		}
		bars[i] = domain.Bar{
			Time:   start.Add(time.Duration(i) * time.Minute),
			Open:   open,
			High:   math.Max(open, price) * (1 + rng.Float64()*0.001),
			Low:    math.Min(open, price) * (1 - rng.Float64()*0.001),
			Close:  price,
			Volume: vol,
		}
	}
	return bars
}

func flatBars(n int, price float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return bars
}

func TestProducersHonourSignalContract(t *testing.T) {
	ctx := context.Background()
	actionable := 0
	for _, p := range buildAll(t) {
		for seed := int64(1); seed <= 60; seed++ {
			for _, n := range []int{3, 30, 120} {
				sig, err := p.Analyze(ctx, "BTC-USD", randomWalk(seed, n))
				if err != nil {
					if !errors.Is(err, domain.ErrInsufficientData) {
						t.Fatalf("%s seed=%d n=%d: unexpected error %v", p.Name(), seed, n, err)
					}
					continue
				}
				if sig.ProducerID != p.Name() {
					t.Fatalf("%s: producer id = %q", p.Name(), sig.ProducerID)
				}
				if sig.Action == domain.ActionHold {
					continue
				}
				actionable++
				if err := sig.Validate(); err != nil {
					t.Fatalf("%s seed=%d n=%d: invalid signal: %v", p.Name(), seed, n, err)
				}
				if sig.Confidence < 0 || sig.Confidence > 1 {
					t.Fatalf("%s: confidence %v out of range", p.Name(), sig.Confidence)
				}
				if sig.MaxHold != 10*time.Minute {
					t.Fatalf("%s: max hold %v", p.Name(), sig.MaxHold)
				}
			}
		}
	}
	t.Logf("%d actionable signals checked", actionable)
}

func TestProducersNeedHistory(t *testing.T) {
	for _, p := range buildAll(t) {
		_, err := p.Analyze(context.Background(), "BTC-USD", flatBars(2, 100))
		if !errors.Is(err, domain.ErrInsufficientData) {
			t.Fatalf("%s: err = %v, want ErrInsufficientData", p.Name(), err)
		}
	}
}

func TestProducersHoldOnFlatMarket(t *testing.T) {
	for _, p := range buildAll(t) {
		sig, err := p.Analyze(context.Background(), "BTC-USD", flatBars(150, 100))
		if err != nil {
			t.Fatalf("%s: %v", p.Name(), err)
		}
		if sig.Action != domain.ActionHold {
			t.Fatalf("%s: action = %s on a flat market", p.Name(), sig.Action)
		}
	}
}

func TestProducersRejectBadBars(t *testing.T) {
	bars := randomWalk(7, 120)
	bars[50].Close = 0
	for _, p := range buildAll(t) {
		_, err := p.Analyze(context.Background(), "BTC-USD", bars)
		if err == nil || errors.Is(err, domain.ErrInsufficientData) {
			t.Fatalf("%s: err = %v, want a producer failure", p.Name(), err)
		}
	}
}

func TestProducersRespectCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, p := range buildAll(t) {
		if _, err := p.Analyze(ctx, "BTC-USD", randomWalk(1, 120)); !errors.Is(err, context.Canceled) {
			t.Fatalf("%s: err = %v", p.Name(), err)
		}
	}
}

// breakoutThenPlateau rises 0.45% over four bars and then holds flat for
// twenty bars, finishing on a volume spike.
func breakoutThenPlateau() []domain.Bar {
	bars := make([]domain.Bar, 60)
	for i := range bars {
		c := 100.0
		switch {
		case i >= 36 && i <= 39:
			c = 100 + 0.1125*float64(i-35)
		case i >= 40:
			c = 100.45
		}
		bars[i] = domain.Bar{Open: c, High: c + 0.1, Low: c - 0.1, Close: c, Volume: 100}
	}
	bars[59].Volume = 400
	return bars
}

func TestQuickMomentumBuysBreakoutPlateau(t *testing.T) {
	p, err := Build("quick_momentum", Config{MaxHold: 15 * time.Minute}, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	sig, err := p.Analyze(context.Background(), "ETH-USD", breakoutThenPlateau())
	if err != nil {
		t.Fatal(err)
	}
	if sig.Action != domain.ActionBuy {
		t.Fatalf("action = %s (%s), want buy", sig.Action, sig.Reason)
	}
	if math.Abs(sig.Confidence-0.7) > 1e-9 {
		t.Fatalf("confidence = %v, want 0.7", sig.Confidence)
	}
	if err := sig.Validate(); err != nil {
		t.Fatal(err)
	}
}

func TestQuickMomentumIgnoresMoveWithoutVolume(t *testing.T) {
	bars := breakoutThenPlateau()
	bars[59].Volume = 100
	p, _ := Build("quick_momentum", Config{MaxHold: time.Minute}, testLogger)
	sig, err := p.Analyze(context.Background(), "ETH-USD", bars)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Action != domain.ActionHold {
		t.Fatalf("action = %s, want hold", sig.Action)
	}
}

func TestLevelsAreSideAware(t *testing.T) {
	stop, target := levels(domain.ActionBuy, 100, 2, 1.5, 3, 0.005)
	if stop.String() != "97" || target.String() != "106" {
		t.Fatalf("buy levels = %s/%s", stop, target)
	}
	stop, target = levels(domain.ActionSell, 100, 2, 1.5, 3, 0.005)
	if stop.String() != "103" || target.String() != "94" {
		t.Fatalf("sell levels = %s/%s", stop, target)
	}
	stop, target = levels(domain.ActionBuy, 100, 0, 1.5, 3, 0.005)
	if stop.String() != "99.5" || target.String() != "101" {
		t.Fatalf("fallback levels = %s/%s", stop, target)
	}
}

func TestParamsOverrideDefaults(t *testing.T) {
	p, err := Build("fast_scalp", Config{Params: map[string]any{"rsi_period": int64(21), "rsi_buy": 25.0}}, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	fs := p.(*FastScalp)
	if fs.rsiPeriod != 21 || fs.buyRSI != 25 {
		t.Fatalf("params not applied: period=%d buy=%v", fs.rsiPeriod, fs.buyRSI)
	}
	if _, err := Build("martingale", Config{}, testLogger); err == nil {
		t.Fatal("unknown kind should fail")
	}
}

func TestRegistryKeepsOrderAndRejectsDuplicates(t *testing.T) {
	r := NewRegistry()
	for _, p := range buildAll(t) {
		if err := r.Register(p); err != nil {
			t.Fatal(err)
		}
	}
	dup, _ := Build("fast_scalp", Config{}, testLogger)
	if err := r.Register(dup); err == nil {
		t.Fatal("duplicate registration should fail")
	}
	names := r.Names()
	for i, want := range producerKinds {
		if names[i] != want || r.Order(want) != i {
			t.Fatalf("names = %v", names)
		}
	}
	if r.Order("nope") != -1 {
		t.Fatal("unknown order should be -1")
	}
	if _, err := r.Get("ttm_squeeze"); err != nil {
		t.Fatal(err)
	}
}
