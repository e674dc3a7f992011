package risk

import (
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func newManager(t *testing.T) *Manager {
	t.Helper()
	store, err := config.NewStore(config.Defaults().Runtime())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return NewManager(store, testLogger)
}

func TestCompute(t *testing.T) {
	price := decimal.NewFromInt(200)
	sl, tp := Compute(domain.SideBuy, price, Pct{StopLoss: 0.5, TakeProfit: 1})
	if !sl.Equal(decimal.NewFromInt(199)) || !tp.Equal(decimal.NewFromInt(202)) {
		t.Fatalf("buy levels = %s / %s", sl, tp)
	}
	sl, tp = Compute(domain.SideSell, price, Pct{StopLoss: 0.5, TakeProfit: 1})
	if !sl.Equal(decimal.NewFromInt(201)) || !tp.Equal(decimal.NewFromInt(198)) {
		t.Fatalf("sell levels = %s / %s", sl, tp)
	}
}

func TestResolveFallsBackToGlobal(t *testing.T) {
	rt := config.Defaults().Runtime()
	p := rt.Producers[config.ProducerFastScalp]
	p.StopLossPct = 0
	rt.Producers[config.ProducerFastScalp] = p

	got := Resolve(&rt, config.ProducerFastScalp)
	if got.StopLoss != rt.Risk.StopLossPct {
		t.Fatalf("stop loss %.2f, want global %.2f", got.StopLoss, rt.Risk.StopLossPct)
	}
	if got.TakeProfit != p.TakeProfitPct {
		t.Fatalf("take profit %.2f, want producer %.2f", got.TakeProfit, p.TakeProfitPct)
	}
	if got := Resolve(&rt, "unknown"); got.StopLoss != rt.Risk.StopLossPct {
		t.Fatalf("unknown producer should use global levels, got %+v", got)
	}
}

func signal() domain.Signal {
	return domain.Signal{
		Action:     domain.ActionBuy,
		Confidence: 0.7,
		ProducerID: config.ProducerUltraScalp,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(90),
		TakeProfit: decimal.NewFromInt(130),
		MaxHold:    time.Minute,
	}
}

func TestApplyOnlyWhenOverrideEnabled(t *testing.T) {
	m := newManager(t)
	sig := signal()
	if got := m.Apply(sig); !got.StopLoss.Equal(sig.StopLoss) {
		t.Fatalf("levels changed with override off: %s", got.StopLoss)
	}

	on := true
	if _, err := m.ApplyUpdate(Update{OverrideLevels: &on}); err != nil {
		t.Fatalf("ApplyUpdate: %v", err)
	}
	got := m.Apply(sig)
	// ultra_scalp default: 0.25% stop, 0.50% target.
	if !got.StopLoss.Equal(decimal.NewFromFloat(99.75)) || !got.TakeProfit.Equal(decimal.NewFromFloat(100.5)) {
		t.Fatalf("override levels = %s / %s", got.StopLoss, got.TakeProfit)
	}
	if err := got.Validate(); err != nil {
		t.Fatalf("overridden signal invalid: %v", err)
	}
}

func TestApplyPreset(t *testing.T) {
	m := newManager(t)
	rt, err := m.ApplyPreset("aggressive")
	if err != nil {
		t.Fatalf("ApplyPreset: %v", err)
	}
	if rt.Risk.StopLossPct != 1.0 || rt.Risk.TakeProfitPct != 2.0 {
		t.Fatalf("global = %.2f / %.2f", rt.Risk.StopLossPct, rt.Risk.TakeProfitPct)
	}
	if p := rt.Producers[config.ProducerQuickMomentum]; p.StopLossPct != 0.8 || p.TakeProfitPct != 1.6 {
		t.Fatalf("quick_momentum = %+v", p)
	}
	if m.store.Load().Risk.StopLossPct != 1.0 {
		t.Fatalf("preset not published to the store")
	}
}

func TestApplyUpdateRejectsBadInput(t *testing.T) {
	m := newManager(t)
	before := m.store.Version()

	bogus := "yolo"
	if _, err := m.ApplyUpdate(Update{Preset: &bogus}); !errors.Is(err, ErrUnknownPreset) {
		t.Fatalf("expected ErrUnknownPreset, got %v", err)
	}
	if _, err := m.ApplyUpdate(Update{Global: &Pct{StopLoss: -1, TakeProfit: 1}}); err == nil {
		t.Fatalf("expected validation error for negative stop")
	}
	if _, err := m.ApplyUpdate(Update{Producers: map[string]Pct{"nope": {1, 2}}}); err == nil {
		t.Fatalf("expected error for unknown producer")
	}
	if m.store.Version() != before {
		t.Fatalf("failed updates must not publish")
	}
}

func TestPresetNames(t *testing.T) {
	names := PresetNames()
	want := []string{"aggressive", "conservative", "default"}
	if len(names) != len(want) {
		t.Fatalf("names = %v", names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("names = %v", names)
		}
	}
}
