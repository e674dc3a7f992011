package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// TTMSqueeze waits for Bollinger bands to sit inside the Keltner channel for
// several bars, then trades the direction price moves away from the midline.
type TTMSqueeze struct {
	cfg    Config
	logger *slog.Logger

	bbPeriod      int
	bbDev         float64
	kcPeriod      int
	kcMult        float64
	squeezeWindow int
	minSqueeze    int
	momentum      float64
	atrPeriod     int
	baseConf      float64
	slMult        float64
	tpMult        float64
}

// NewTTMSqueeze reads these keys from cfg.Params (defaults in brackets):
// bb_period [20], bb_std [2.0], kc_period [20], kc_multiplier [1.5],
// squeeze_window [6], min_squeeze [3], momentum_threshold [0.001],
// atr_period [14], base_confidence [0.5], atr_sl [1.5], atr_tp [3.0].
func NewTTMSqueeze(cfg Config, logger *slog.Logger) *TTMSqueeze {
	return &TTMSqueeze{
		cfg:           cfg,
		logger:        logger.With(slog.String("strategy", cfg.Name)),
		bbPeriod:      cfg.intParam("bb_period", 20),
		bbDev:         cfg.floatParam("bb_std", 2.0),
		kcPeriod:      cfg.intParam("kc_period", 20),
		kcMult:        cfg.floatParam("kc_multiplier", 1.5),
		squeezeWindow: cfg.intParam("squeeze_window", 6),
		minSqueeze:    cfg.intParam("min_squeeze", 3),
		momentum:      cfg.floatParam("momentum_threshold", 0.001),
		atrPeriod:     cfg.intParam("atr_period", 14),
		baseConf:      cfg.floatParam("base_confidence", 0.5),
		slMult:        cfg.floatParam("atr_sl", 1.5),
		tpMult:        cfg.floatParam("atr_tp", 3.0),
	}
}

// Name returns the producer identifier.
func (t *TTMSqueeze) Name() string { return t.cfg.Name }

func (t *TTMSqueeze) minBars() int {
	return max(t.bbPeriod, t.kcPeriod+1, t.atrPeriod+1) + t.squeezeWindow
}

// Analyze implements Producer.
func (t *TTMSqueeze) Analyze(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if err := requireBars(t.Name(), bars, t.minBars()); err != nil {
		return domain.Signal{}, err
	}
	s := newSeries(bars)
	price := s.lastClose()

	bbUpper, _, bbLower := bollinger(s.close, t.bbPeriod, t.bbDev)
	mid := sma(s.close, t.kcPeriod)
	kcATR := atr(s, t.kcPeriod)

	// Count squeeze bars over the window ending one bar before the last, so
	// the release bar itself can break out.
	squeezed := 0
	for back := 1; back <= t.squeezeWindow; back++ {
		kcUpper := at(mid, back) + t.kcMult*at(kcATR, back)
		kcLower := at(mid, back) - t.kcMult*at(kcATR, back)
		if at(bbUpper, back) < kcUpper && at(bbLower, back) > kcLower {
			squeezed++
		}
	}
	momentum := (price - last(mid)) / price

	var action domain.Action
	switch {
	case squeezed >= t.minSqueeze && momentum > t.momentum:
		action = domain.ActionBuy
	case squeezed >= t.minSqueeze && momentum < -t.momentum:
		action = domain.ActionSell
	default:
		return domain.Hold(t.Name(), fmt.Sprintf("squeeze=%d momentum=%.4f", squeezed, momentum)), nil
	}

	conf := t.baseConf
	if squeezed >= 3 {
		conf += 0.1
	}
	if math.Abs(momentum) > t.momentum*1.5 {
		conf += 0.1
	}

	stop, target := levels(action, price, last(atr(s, t.atrPeriod)), t.slMult, t.tpMult, 0.005)
	t.logger.Debug("signal",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("confidence", conf),
	)
	return domain.Signal{
		Action:     action,
		Confidence: clamp01(math.Min(0.95, conf)),
		ProducerID: t.Name(),
		EntryPrice: decimalPrice(price),
		StopLoss:   stop,
		TakeProfit: target,
		MaxHold:    t.cfg.MaxHold,
		Reason:     fmt.Sprintf("ttm-squeeze %s: squeeze=%d momentum=%.4f", action, squeezed, momentum),
	}, nil
}
