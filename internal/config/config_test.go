package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestDefaultsValidate(t *testing.T) {
	cfg := Defaults()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}

func TestValidateCollectsEveryProblem(t *testing.T) {
	cfg := Defaults()
	cfg.Mode = "backtest"
	cfg.Aggregator.TopK = 0
	cfg.Sizing.Mode = "kelly"

	err := cfg.Validate()
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"unknown mode", "top_k", "sizing: unknown mode"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err, want)
		}
	}
}

func TestValidateBoundsProducerStopLoss(t *testing.T) {
	for _, pct := range []float64{0, 2.5, 99.9} {
		rt := Defaults().Runtime()
		p := rt.Producers[ProducerUltraScalp]
		p.StopLossPct = pct
		rt.Producers[ProducerUltraScalp] = p
		if err := rt.Validate(); err != nil {
			t.Fatalf("stop_loss_pct %v rejected: %v", pct, err)
		}
	}
	for _, pct := range []float64{-1, 100, 150} {
		rt := Defaults().Runtime()
		p := rt.Producers[ProducerUltraScalp]
		p.StopLossPct = pct
		rt.Producers[ProducerUltraScalp] = p
		err := rt.Validate()
		if err == nil || !strings.Contains(err.Error(), "stop_loss_pct must be in [0,100)") {
			t.Fatalf("stop_loss_pct %v: err = %v", pct, err)
		}
	}
}

func TestLoadKeepsProducerDefaultsForOmittedKeys(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	body := `
mode = "trade"

[engine]
symbols = ["BTC-USD"]
interval = "10s"

[aggregator]
agreement_threshold = 2

[producers.fast_scalp]
min_confidence = 0.7
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Engine.Interval.Duration != 10*time.Second {
		t.Fatalf("interval = %v, want 10s", cfg.Engine.Interval.Duration)
	}
	if cfg.Aggregator.AgreementThreshold != 2 {
		t.Fatalf("agreement_threshold = %d, want 2", cfg.Aggregator.AgreementThreshold)
	}
	fs := cfg.Producers[ProducerFastScalp]
	if fs.MinConfidence != 0.7 {
		t.Fatalf("fast_scalp min_confidence = %v, want 0.7", fs.MinConfidence)
	}
	if !fs.Enabled || fs.Weight != 1.0 || fs.MaxHold.Duration != 15*time.Minute {
		t.Fatalf("fast_scalp lost defaults: %+v", fs)
	}
	if _, ok := cfg.Producers[ProducerTTMSqueeze]; !ok {
		t.Fatal("untouched producers should survive decoding")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CRYPTOBOT_ENGINE_SYMBOLS", "BTC-USD, ETH-USD ,")
	t.Setenv("CRYPTOBOT_SIZING_MODE", "risk")
	t.Setenv("CRYPTOBOT_ENGINE_COOLDOWN_WINDOW", "90s")

	cfg := Defaults()
	applyEnvOverrides(&cfg)

	if got := strings.Join(cfg.Engine.Symbols, "|"); got != "BTC-USD|ETH-USD" {
		t.Fatalf("symbols = %q", got)
	}
	if cfg.Sizing.Mode != SizingRisk {
		t.Fatalf("sizing mode = %q", cfg.Sizing.Mode)
	}
	if cfg.Engine.CooldownWindow.Duration != 90*time.Second {
		t.Fatalf("cooldown = %v", cfg.Engine.CooldownWindow.Duration)
	}
}

func TestProducerNamesCanonicalOrder(t *testing.T) {
	cfg := Defaults()
	cfg.Producers["zeta"] = cfg.Producers[ProducerFastScalp]
	cfg.Producers["alpha"] = cfg.Producers[ProducerFastScalp]

	got := strings.Join(cfg.ProducerNames(), ",")
	want := "ultra_scalp,fast_scalp,quick_momentum,ttm_squeeze,alpha,zeta"
	if got != want {
		t.Fatalf("ProducerNames = %s, want %s", got, want)
	}
}

func TestRedactedConfig(t *testing.T) {
	cfg := Defaults()
	cfg.Postgres.Password = "hunter2"
	cfg.Notify.TelegramToken = "token"

	out := RedactedConfig(&cfg)
	if out.Postgres.Password != redacted || out.Notify.TelegramToken != redacted {
		t.Fatalf("secrets not redacted: %+v %+v", out.Postgres, out.Notify)
	}
	if cfg.Postgres.Password != "hunter2" {
		t.Fatal("original mutated")
	}
	out.Engine.Symbols[0] = "DOGE-USD"
	if cfg.Engine.Symbols[0] == "DOGE-USD" {
		t.Fatal("redacted copy shares symbols slice")
	}
}

func TestStoreUpdateIsAllOrNothing(t *testing.T) {
	cfg := Defaults()
	store, err := NewStore(cfg.Runtime())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	_, err = store.Update(func(rt *Runtime) error {
		rt.TopK = 3
		rt.Sizing.MinPositionValue = -1
		return nil
	})
	if err == nil {
		t.Fatal("expected validation failure")
	}
	if store.Load().TopK != 1 {
		t.Fatalf("rejected update leaked: top_k = %d", store.Load().TopK)
	}

	boom := errors.New("boom")
	if _, err := store.Update(func(rt *Runtime) error {
		rt.TopK = 4
		return boom
	}); !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	if store.Load().TopK != 1 || store.Version() != 0 {
		t.Fatal("failed mutation must not publish")
	}

	next, err := store.Update(func(rt *Runtime) error {
		rt.AgreementThreshold = 2
		p := rt.Producers[ProducerUltraScalp]
		p.MinConfidence = 0.8
		rt.Producers[ProducerUltraScalp] = p
		return nil
	})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if next.AgreementThreshold != 2 || store.Load().Producers[ProducerUltraScalp].MinConfidence != 0.8 {
		t.Fatalf("update not applied: %+v", store.Load())
	}
	if store.Version() != 1 {
		t.Fatalf("version = %d, want 1", store.Version())
	}
}

func TestStoreSnapshotsAreIsolated(t *testing.T) {
	cfg := Defaults()
	store, err := NewStore(cfg.Runtime())
	if err != nil {
		t.Fatal(err)
	}
	before := store.Load()

	if _, err := store.Update(func(rt *Runtime) error {
		p := rt.Producers[ProducerTTMSqueeze]
		p.Weight = 5
		rt.Producers[ProducerTTMSqueeze] = p
		return nil
	}); err != nil {
		t.Fatal(err)
	}
	if before.Producers[ProducerTTMSqueeze].Weight != 1.2 {
		t.Fatal("old snapshot changed after update")
	}
}

func TestStoreConcurrentUpdates(t *testing.T) {
	cfg := Defaults()
	store, err := NewStore(cfg.Runtime())
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = store.Update(func(rt *Runtime) error {
				rt.TopK++
				return nil
			})
			_ = store.Load().TopK
		}()
	}
	wg.Wait()
	if got := store.Load().TopK; got != 51 {
		t.Fatalf("top_k = %d, want 51", got)
	}
}
