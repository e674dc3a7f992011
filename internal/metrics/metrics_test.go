package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// value returns the sample of the named family whose labels match.
func value(t *testing.T, m *Metrics, name string, labels map[string]string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
	next:
		for _, s := range mf.GetMetric() {
			got := map[string]string{}
			for _, lp := range s.GetLabel() {
				got[lp.GetName()] = lp.GetValue()
			}
			for k, v := range labels {
				if got[k] != v {
					continue next
				}
			}
			switch {
			case s.GetCounter() != nil:
				return s.GetCounter().GetValue()
			case s.GetGauge() != nil:
				return s.GetGauge().GetValue()
			case s.GetHistogram() != nil:
				return float64(s.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("series %s%v not found", name, labels)
	return 0
}

func TestCountersAndGauges(t *testing.T) {
	m := New()
	m.ObserveCycle(120 * time.Millisecond)
	m.ObserveCycle(80 * time.Millisecond)
	m.ProducerOutcome("fast_scalp", domain.OutcomeSignal)
	m.ProducerOutcome("fast_scalp", domain.OutcomeFailed)
	m.ProducerOutcome("fast_scalp", domain.OutcomeFailed)
	m.PositionOpened("fast_scalp")
	m.PositionClosed("fast_scalp", domain.ReasonStopLoss, -75)
	m.PositionClosed("fast_scalp", domain.ReasonTakeProfit, 30)
	m.PositionClosed("fast_scalp", domain.ReasonMaxHold, 0)
	m.OpenRejected("cooldown")
	m.TickReceived("BTC-USD")
	m.ObservePortfolio(domain.PortfolioSummary{
		CashBalance:   decimal.NewFromInt(9925),
		TotalValue:    decimal.NewFromInt(9925),
		ExposurePct:   decimal.RequireFromString("0.25"),
		WinRate:       0.5,
		OpenPositions: 2,
	})

	checks := []struct {
		name   string
		labels map[string]string
		want   float64
	}{
		{"cryptobot_cycles_total", nil, 2},
		{"cryptobot_cycle_duration_seconds", nil, 2},
		{"cryptobot_producer_outcomes_total", map[string]string{"producer": "fast_scalp", "outcome": "failed"}, 2},
		{"cryptobot_positions_opened_total", map[string]string{"producer": "fast_scalp"}, 1},
		{"cryptobot_positions_closed_total", map[string]string{"reason": "stop_loss"}, 1},
		{"cryptobot_realized_pnl_abs_total", map[string]string{"result": "loss"}, 75},
		{"cryptobot_realized_pnl_abs_total", map[string]string{"result": "gain"}, 30},
		{"cryptobot_open_rejections_total", map[string]string{"reason": "cooldown"}, 1},
		{"cryptobot_ticks_total", map[string]string{"symbol": "BTC-USD"}, 1},
		{"cryptobot_cash_balance", nil, 9925},
		{"cryptobot_exposure_ratio", nil, 0.25},
		{"cryptobot_open_positions", nil, 2},
	}
	for _, c := range checks {
		if got := value(t, m, c.name, c.labels); got != c.want {
			t.Errorf("%s%v = %v, want %v", c.name, c.labels, got, c.want)
		}
	}
}

func TestHandlerServesExposition(t *testing.T) {
	m := New()
	m.OpenRejected("duplicate producer position")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if rec.Code != 200 {
		t.Fatalf("status = %d", rec.Code)
	}
	if !strings.Contains(string(body), `cryptobot_open_rejections_total{reason="duplicate producer position"} 1`) {
		t.Fatalf("exposition missing rejection counter:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatal("runtime collector not registered")
	}
}

func TestSeparateInstancesDoNotCollide(t *testing.T) {
	a, b := New(), New()
	a.PositionOpened("ultra_scalp")
	if got := value(t, a, "cryptobot_positions_opened_total", nil); got != 1 {
		t.Fatalf("a = %v", got)
	}
	mfs, _ := b.Registry().Gather()
	for _, mf := range mfs {
		if mf.GetName() == "cryptobot_positions_opened_total" && len(mf.GetMetric()) > 0 {
			t.Fatal("b saw a's series")
		}
	}
}
