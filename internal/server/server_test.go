package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/engine"
	"github.com/alanyoungcy/cryptobot/internal/ledger"
	"github.com/alanyoungcy/cryptobot/internal/risk"
	"github.com/alanyoungcy/cryptobot/internal/server/handler"
)

var testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeEngine struct {
	running bool
}

func (f *fakeEngine) Status() domain.BotStatus {
	state := "stopped"
	if f.running {
		state = "running"
	}
	return domain.BotStatus{State: state, Cycles: 7, Symbols: []string{"BTC-USD"}}
}

func (f *fakeEngine) Start(context.Context) error {
	if f.running {
		return engine.ErrRunning
	}
	f.running = true
	return nil
}

func (f *fakeEngine) Stop() { f.running = false }

type fixture struct {
	handler  http.Handler
	settings *config.Store
	engine   *fakeEngine
}

func signal(producer string) domain.Signal {
	return domain.Signal{
		Action:     domain.ActionBuy,
		Confidence: 0.8,
		ProducerID: producer,
		EntryPrice: decimal.NewFromInt(100),
		StopLoss:   decimal.NewFromInt(95),
		TakeProfit: decimal.NewFromInt(110),
		MaxHold:    10 * time.Minute,
		Reason:     "test",
	}
}

func newFixture(t *testing.T, cfg Config, eng handler.EngineController, checks map[string]handler.Check) *fixture {
	t.Helper()
	settings, err := config.NewStore(config.Defaults().Runtime())
	if err != nil {
		t.Fatal(err)
	}
	book := ledger.New(ledger.Config{InitialBalance: decimal.NewFromInt(10000)}, testLogger)
	if _, d := book.Open(signal("fast_scalp"), "BTC-USD", decimal.NewFromInt(10)); !d.Allowed {
		t.Fatalf("open BTC: %+v", d)
	}
	if _, d := book.Open(signal("ultra_scalp"), "ETH-USD", decimal.NewFromInt(5)); !d.Allowed {
		t.Fatalf("open ETH: %+v", d)
	}
	if _, ok := book.Close("ETH-USD", "ultra_scalp", decimal.NewFromInt(110), domain.ReasonTakeProfit); !ok {
		t.Fatal("close ETH failed")
	}

	f := &fixture{settings: settings}
	if fe, ok := eng.(*fakeEngine); ok {
		f.engine = fe
	}
	f.handler = Routes(cfg, Handlers{
		Health:    handler.NewHealthHandler(checks, testLogger),
		Status:    handler.NewStatusHandler(context.Background(), eng, "full", testLogger),
		Portfolio: handler.NewPortfolioHandler(book, nil, testLogger),
		Config:    handler.NewConfigHandler(settings, risk.NewManager(settings, testLogger), testLogger),
		Metrics: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			io.WriteString(w, "cryptobot_cycles_total 7\n")
		}),
	}, testLogger)
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, header ...string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if strings.HasPrefix(rec.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
			t.Fatalf("%s %s: bad json %q: %v", method, path, rec.Body.String(), err)
		}
	} else {
		out["body"] = rec.Body.String()
	}
	return rec.Code, out
}

func TestPortfolioEndpoints(t *testing.T) {
	f := newFixture(t, Config{}, &fakeEngine{}, nil)

	code, body := f.do(t, "GET", "/api/portfolio", "")
	if code != http.StatusOK {
		t.Fatalf("portfolio status = %d", code)
	}
	// 10000 - 1000 (BTC) - 500 (ETH) + 550 (ETH exit)
	if body["cash_balance"] != "9050.00" || body["open_positions"] != float64(1) || body["trade_count"] != float64(1) {
		t.Fatalf("portfolio = %v", body)
	}
	if body["win_rate"] != float64(1) {
		t.Fatalf("win rate = %v", body["win_rate"])
	}

	_, body = f.do(t, "GET", "/api/positions", "")
	positions := body["positions"].([]any)
	if len(positions) != 1 || positions[0].(map[string]any)["symbol"] != "BTC-USD" {
		t.Fatalf("positions = %v", positions)
	}
	_, body = f.do(t, "GET", "/api/positions?symbol=eth-usd", "")
	if len(body["positions"].([]any)) != 0 {
		t.Fatalf("filtered positions = %v", body)
	}

	_, body = f.do(t, "GET", "/api/trades?limit=10", "")
	trades := body["trades"].([]any)
	if len(trades) != 1 {
		t.Fatalf("trades = %v", trades)
	}
	tr := trades[0].(map[string]any)
	if tr["pnl"] != "50.00" || tr["reason"] != domain.ReasonTakeProfit {
		t.Fatalf("trade = %v", tr)
	}
}

func TestRuntimeAndRisk(t *testing.T) {
	f := newFixture(t, Config{}, &fakeEngine{}, nil)

	code, body := f.do(t, "GET", "/api/config/runtime", "")
	if code != http.StatusOK || body["agreement_threshold"] != float64(1) || body["version"] != float64(0) {
		t.Fatalf("runtime = %d %v", code, body)
	}

	code, body = f.do(t, "PUT", "/api/risk", `{"preset":"aggressive","override_levels":true}`)
	if code != http.StatusOK {
		t.Fatalf("risk update = %d %v", code, body)
	}
	rt := f.settings.Load()
	if !rt.Risk.OverrideLevels || rt.Risk.StopLossPct != risk.Presets["aggressive"].Global.StopLoss {
		t.Fatalf("risk not applied: %+v", rt.Risk)
	}
	if body["version"] != float64(1) {
		t.Fatalf("version = %v", body["version"])
	}

	for _, bad := range []string{
		`{"preset":"yolo"}`,
		`{"global":{"stop_loss_pct":-1,"take_profit_pct":1}}`,
		`{"producers":{"nope":{"stop_loss_pct":1,"take_profit_pct":2}}}`,
		`{"leverage":10}`,
		`not json`,
	} {
		if code, _ := f.do(t, "PUT", "/api/risk", bad); code != http.StatusBadRequest {
			t.Errorf("PUT %s = %d, want 400", bad, code)
		}
	}
	if f.settings.Version() != 1 {
		t.Fatalf("rejected updates changed the store: version %d", f.settings.Version())
	}
}

func TestEngineControls(t *testing.T) {
	f := newFixture(t, Config{}, &fakeEngine{}, nil)

	code, body := f.do(t, "POST", "/api/engine/start", "")
	if code != http.StatusOK || body["state"] != "running" || body["mode"] != "full" {
		t.Fatalf("start = %d %v", code, body)
	}
	if code, _ := f.do(t, "POST", "/api/engine/start", ""); code != http.StatusConflict {
		t.Fatalf("second start = %d", code)
	}
	code, body = f.do(t, "POST", "/api/engine/stop", "")
	if code != http.StatusOK || body["state"] != "stopped" || f.engine.running {
		t.Fatalf("stop = %d %v", code, body)
	}
	_, body = f.do(t, "GET", "/api/status", "")
	if body["cycles"] != float64(7) {
		t.Fatalf("status = %v", body)
	}
}

func TestServerModeHasNoEngine(t *testing.T) {
	f := newFixture(t, Config{}, nil, nil)
	if code, _ := f.do(t, "POST", "/api/engine/start", ""); code != http.StatusNotImplemented {
		t.Fatalf("start = %d", code)
	}
	_, body := f.do(t, "GET", "/api/status", "")
	if body["state"] != "stopped" {
		t.Fatalf("status = %v", body)
	}
}

func TestHealthAndAuth(t *testing.T) {
	checks := map[string]handler.Check{
		"redis":    func(context.Context) error { return nil },
		"postgres": func(context.Context) error { return errors.New("connection refused") },
	}
	f := newFixture(t, Config{APIKey: "k"}, &fakeEngine{}, checks)

	code, body := f.do(t, "GET", "/api/health", "")
	if code != http.StatusServiceUnavailable || body["status"] != "degraded" {
		t.Fatalf("health = %d %v", code, body)
	}
	deps := body["dependencies"].(map[string]any)
	if deps["redis"] != "ok" || deps["postgres"] != "connection refused" {
		t.Fatalf("dependencies = %v", deps)
	}

	if code, _ := f.do(t, "GET", "/api/portfolio", ""); code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated portfolio = %d", code)
	}
	if code, _ := f.do(t, "GET", "/api/portfolio", "", "X-API-Key", "k"); code != http.StatusOK {
		t.Fatalf("authenticated portfolio = %d", code)
	}
	code, body = f.do(t, "GET", "/metrics", "")
	if code != http.StatusOK || !strings.Contains(body["body"].(string), "cryptobot_cycles_total") {
		t.Fatalf("metrics = %d %v", code, body)
	}
}
