package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// QuickMomentum enters after a directional move that has since flattened
// into a tight plateau, with the fast EMA on the side of the move.
type QuickMomentum struct {
	cfg    Config
	logger *slog.Logger

	emaFast       int
	emaSlow       int
	growthWindow  int
	plateauWindow int
	atrPeriod     int
	minChangePct  float64
	maxPlateauPct float64
	volumeMult    float64
	baseConf      float64
	trendBonus    float64
	slMult        float64
	tpMult        float64
}

// NewQuickMomentum reads these keys from cfg.Params (defaults in brackets):
// ema_fast [8], ema_slow [21], growth_window [25], plateau_window [20],
// atr_period [14], min_change_pct [0.3], max_plateau_pct [0.5],
// volume_multiplier [1.5], base_confidence [0.6], trend_bonus [0.1],
// atr_sl [1.5], atr_tp [3.0].
func NewQuickMomentum(cfg Config, logger *slog.Logger) *QuickMomentum {
	return &QuickMomentum{
		cfg:           cfg,
		logger:        logger.With(slog.String("strategy", cfg.Name)),
		emaFast:       cfg.intParam("ema_fast", 8),
		emaSlow:       cfg.intParam("ema_slow", 21),
		growthWindow:  cfg.intParam("growth_window", 25),
		plateauWindow: cfg.intParam("plateau_window", 20),
		atrPeriod:     cfg.intParam("atr_period", 14),
		minChangePct:  cfg.floatParam("min_change_pct", 0.3),
		maxPlateauPct: cfg.floatParam("max_plateau_pct", 0.5),
		volumeMult:    cfg.floatParam("volume_multiplier", 1.5),
		baseConf:      cfg.floatParam("base_confidence", 0.6),
		trendBonus:    cfg.floatParam("trend_bonus", 0.1),
		slMult:        cfg.floatParam("atr_sl", 1.5),
		tpMult:        cfg.floatParam("atr_tp", 3.0),
	}
}

// Name returns the producer identifier.
func (q *QuickMomentum) Name() string { return q.cfg.Name }

func (q *QuickMomentum) minBars() int {
	return max(q.emaSlow+1, q.growthWindow, q.plateauWindow, q.atrPeriod+1, 10)
}

// Analyze implements Producer.
func (q *QuickMomentum) Analyze(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if err := requireBars(q.Name(), bars, q.minBars()); err != nil {
		return domain.Signal{}, err
	}
	s := newSeries(bars)
	price := s.lastClose()

	fast := last(ema(s.close, q.emaFast))
	slow := last(ema(s.close, q.emaSlow))
	bullish := fast > slow

	n := s.len()
	growth := (price/s.close[n-q.growthWindow] - 1) * 100
	hi, lo := math.Inf(-1), math.Inf(1)
	for _, c := range s.close[n-q.plateauWindow:] {
		hi = math.Max(hi, c)
		lo = math.Min(lo, c)
	}
	plateau := (hi/lo - 1) * 100
	surge := volumeSurge(s.volume, 10, q.volumeMult)

	var action domain.Action
	switch {
	case growth > q.minChangePct && plateau < q.maxPlateauPct && bullish && surge:
		action = domain.ActionBuy
	case growth < -q.minChangePct && plateau < q.maxPlateauPct && !bullish && surge:
		action = domain.ActionSell
	default:
		return domain.Hold(q.Name(), fmt.Sprintf("growth=%.2f%% plateau=%.2f%%", growth, plateau)), nil
	}

	conf := q.baseConf + 0.1
	if math.Abs(growth) > 0.5 {
		conf += q.trendBonus
	}

	stop, target := levels(action, price, last(atr(s, q.atrPeriod)), q.slMult, q.tpMult, 0.005)
	q.logger.Debug("signal",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("confidence", conf),
	)
	return domain.Signal{
		Action:     action,
		Confidence: clamp01(math.Min(0.9, conf)),
		ProducerID: q.Name(),
		EntryPrice: decimalPrice(price),
		StopLoss:   stop,
		TakeProfit: target,
		MaxHold:    q.cfg.MaxHold,
		Reason:     fmt.Sprintf("quick-momentum %s: growth=%.2f%% plateau=%.2f%%", action, growth, plateau),
	}, nil
}
