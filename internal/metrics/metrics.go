// Package metrics exposes engine and aggregator activity as Prometheus series.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

const namespace = "cryptobot"

// Metrics holds every collector on its own registry so tests and multiple
// instances never collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	cycleSeconds   prometheus.Histogram
	cycles         prometheus.Counter
	producerOutput *prometheus.CounterVec
	opened         *prometheus.CounterVec
	closed         *prometheus.CounterVec
	realizedPnL    *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	ticks          *prometheus.CounterVec

	cash          prometheus.Gauge
	totalValue    prometheus.Gauge
	unrealizedPnL prometheus.Gauge
	exposure      prometheus.Gauge
	winRate       prometheus.Gauge
	openPositions prometheus.Gauge
}

// New registers the collectors, plus the Go runtime and process collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		cycleSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one engine cycle.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Engine cycles completed.",
		}),
		producerOutput: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "producer_outcomes_total",
			Help:      "Producer results per aggregation, by outcome.",
		}, []string{"producer", "outcome"}),
		opened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_opened_total",
			Help:      "Positions opened.",
		}, []string{"producer"}),
		closed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "positions_closed_total",
			Help:      "Positions closed, by close reason.",
		}, []string{"producer", "reason"}),
		realizedPnL: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "realized_pnl_abs_total",
			Help:      "Absolute realized P&L, split into gains and losses.",
		}, []string{"producer", "result"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "open_rejections_total",
			Help:      "Signals that did not become positions, by reason.",
		}, []string{"reason"}),
		ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_total",
			Help:      "Ticker feed updates received.",
		}, []string{"symbol"}),
		cash:          gauge("cash_balance", "Uncommitted cash."),
		totalValue:    gauge("portfolio_value", "Cash plus marked value of open positions."),
		unrealizedPnL: gauge("unrealized_pnl", "Unrealized P&L at the last marks."),
		exposure:      gauge("exposure_ratio", "Marked position value over total value."),
		winRate:       gauge("win_rate", "Fraction of closed trades with positive P&L."),
		openPositions: gauge("open_positions", "Open positions."),
	}

	m.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.cycleSeconds, m.cycles, m.producerOutput, m.opened, m.closed,
		m.realizedPnL, m.rejected, m.ticks,
		m.cash, m.totalValue, m.unrealizedPnL, m.exposure, m.winRate, m.openPositions,
	)
	return m
}

func gauge(name, help string) prometheus.Gauge {
	return prometheus.NewGauge(prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// ObserveCycle records one completed cycle.
func (m *Metrics) ObserveCycle(d time.Duration) {
	m.cycles.Inc()
	m.cycleSeconds.Observe(d.Seconds())
}

// ProducerOutcome counts one producer result.
func (m *Metrics) ProducerOutcome(producer string, outcome domain.Outcome) {
	m.producerOutput.WithLabelValues(producer, string(outcome)).Inc()
}

// PositionOpened counts an open.
func (m *Metrics) PositionOpened(producer string) {
	m.opened.WithLabelValues(producer).Inc()
}

// PositionClosed counts a close and adds |pnl| to the gain or loss series.
func (m *Metrics) PositionClosed(producer, reason string, pnl float64) {
	m.closed.WithLabelValues(producer, reason).Inc()
	switch {
	case pnl > 0:
		m.realizedPnL.WithLabelValues(producer, "gain").Add(pnl)
	case pnl < 0:
		m.realizedPnL.WithLabelValues(producer, "loss").Add(-pnl)
	}
}

// OpenRejected counts a signal that was not opened.
func (m *Metrics) OpenRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

// ObservePortfolio sets the portfolio gauges.
func (m *Metrics) ObservePortfolio(s domain.PortfolioSummary) {
	m.cash.Set(s.CashBalance.InexactFloat64())
	m.totalValue.Set(s.TotalValue.InexactFloat64())
	m.unrealizedPnL.Set(s.UnrealizedPnL.InexactFloat64())
	m.exposure.Set(s.ExposurePct.InexactFloat64())
	m.winRate.Set(s.WinRate)
	m.openPositions.Set(float64(s.OpenPositions))
}

// TickReceived counts one ticker feed update.
func (m *Metrics) TickReceived(symbol string) {
	m.ticks.WithLabelValues(symbol).Inc()
}
