package app

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/engine"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestWireWithoutExternalServices(t *testing.T) {
	cfg := config.Defaults()
	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()

	if deps.Engine == nil || deps.Ledger == nil || deps.Settings == nil || deps.Market == nil {
		t.Fatal("core dependencies missing")
	}
	if deps.Journal != nil || deps.Audit != nil || deps.Bus != nil || deps.Locks != nil || deps.APILimiter != nil {
		t.Fatal("optional dependencies should stay nil without configuration")
	}
	if deps.Archiver != nil {
		t.Fatal("archiver needs s3")
	}
	if len(deps.Checks) != 0 {
		t.Fatalf("checks = %v", deps.Checks)
	}
	if deps.Engine.State() != engine.StateStopped {
		t.Fatalf("engine state = %s", deps.Engine.State())
	}
	if !deps.Ledger.Cash().Equal(deps.Ledger.Summary().CashBalance) {
		t.Fatal("ledger not seeded")
	}
}

func TestWireSQLiteJournal(t *testing.T) {
	cfg := config.Defaults()
	cfg.SQLite.Enabled = true
	cfg.SQLite.Path = filepath.Join(t.TempDir(), "journal.db")

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger)
	if err != nil {
		t.Fatalf("Wire: %v", err)
	}
	defer cleanup()
	if deps.Journal == nil || deps.Audit == nil {
		t.Fatal("sqlite journal not wired")
	}
}

func TestNewRegistryKeepsDisabledProducersInOrder(t *testing.T) {
	cfg := config.Defaults()
	p := cfg.Producers[config.ProducerFastScalp]
	p.Enabled = false
	cfg.Producers[config.ProducerFastScalp] = p

	reg, err := newRegistry(&cfg, testLogger)
	if err != nil {
		t.Fatal(err)
	}
	got := strings.Join(reg.Names(), ",")
	want := "ultra_scalp,fast_scalp,quick_momentum,ttm_squeeze"
	if got != want {
		t.Fatalf("names = %s, want %s", got, want)
	}

	cfg.Producers["martingale"] = config.ProducerConfig{Enabled: true, Weight: 1}
	if _, err := newRegistry(&cfg, testLogger); err == nil {
		t.Fatal("unknown producer should fail")
	}
}
