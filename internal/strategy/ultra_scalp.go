package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// UltraScalp fades short RSI extremes once the RSI slope turns, provided
// price is on the trend side of the long SMA and the last bar moved on
// above-average volume.
type UltraScalp struct {
	cfg    Config
	logger *slog.Logger

	rsiPeriod    int
	smaPeriod    int
	atrPeriod    int
	buyRSI       float64
	sellRSI      float64
	minMovePct   float64
	volumeMult   float64
	baseConf     float64
	rsiConfScale float64
	slMult       float64
	tpMult       float64
}

// NewUltraScalp reads these keys from cfg.Params (defaults in brackets):
// rsi_period [7], sma_period [20], atr_period [7], rsi_buy [30],
// rsi_sell [70], min_move_pct [0.3], volume_multiplier [1.5],
// base_confidence [0.55], rsi_confidence_scale [100], atr_sl [1.0],
// atr_tp [2.0].
func NewUltraScalp(cfg Config, logger *slog.Logger) *UltraScalp {
	return &UltraScalp{
		cfg:          cfg,
		logger:       logger.With(slog.String("strategy", cfg.Name)),
		rsiPeriod:    cfg.intParam("rsi_period", 7),
		smaPeriod:    cfg.intParam("sma_period", 20),
		atrPeriod:    cfg.intParam("atr_period", 7),
		buyRSI:       cfg.floatParam("rsi_buy", 30),
		sellRSI:      cfg.floatParam("rsi_sell", 70),
		minMovePct:   cfg.floatParam("min_move_pct", 0.3),
		volumeMult:   cfg.floatParam("volume_multiplier", 1.5),
		baseConf:     cfg.floatParam("base_confidence", 0.55),
		rsiConfScale: cfg.floatParam("rsi_confidence_scale", 100),
		slMult:       cfg.floatParam("atr_sl", 1.0),
		tpMult:       cfg.floatParam("atr_tp", 2.0),
	}
}

// Name returns the producer identifier.
func (u *UltraScalp) Name() string { return u.cfg.Name }

func (u *UltraScalp) minBars() int {
	return max(u.rsiPeriod+4, u.smaPeriod, u.atrPeriod+1, 11)
}

// Analyze implements Producer.
func (u *UltraScalp) Analyze(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if err := requireBars(u.Name(), bars, u.minBars()); err != nil {
		return domain.Signal{}, err
	}
	s := newSeries(bars)
	price := s.lastClose()

	r := rsi(s.close, u.rsiPeriod)
	cur, prev1, prev2 := last(r), at(r, 1), at(r, 2)
	slope1 := prev1 - prev2
	slope2 := cur - prev1
	reversal := (slope1 < -0.5 && slope2 > 0.5) || (slope1 > 0.5 && slope2 < -0.5)

	trend := last(sma(s.close, u.smaPeriod))
	move := pctChange(s.close)
	surge := volumeSurge(s.volume, 10, u.volumeMult)

	var action domain.Action
	var conf float64
	switch {
	case cur < u.buyRSI && reversal && price > trend && math.Abs(move) > u.minMovePct && surge:
		action = domain.ActionBuy
		momentum := bounded(slope2/5+move/100, 0, 0.2)
		conf = math.Min(0.9, u.baseConf+(u.buyRSI-cur)/u.rsiConfScale+momentum+0.1)
	case cur > u.sellRSI && reversal && price < trend && math.Abs(move) > u.minMovePct && surge:
		action = domain.ActionSell
		momentum := bounded(math.Abs(slope2)/5+math.Abs(move)/100, 0, 0.2)
		conf = math.Min(0.9, u.baseConf+(cur-u.sellRSI)/u.rsiConfScale+momentum+0.1)
	default:
		return domain.Hold(u.Name(), fmt.Sprintf("rsi=%.1f slope=%.1f move=%.2f%%", cur, slope2, move)), nil
	}

	stop, target := levels(action, price, last(atr(s, u.atrPeriod)), u.slMult, u.tpMult, 0.005)
	u.logger.Debug("signal",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("confidence", conf),
	)
	return domain.Signal{
		Action:     action,
		Confidence: clamp01(conf),
		ProducerID: u.Name(),
		EntryPrice: decimalPrice(price),
		StopLoss:   stop,
		TakeProfit: target,
		MaxHold:    u.cfg.MaxHold,
		Reason:     fmt.Sprintf("ultra-scalp %s: rsi=%.1f slope=%.1f move=%.2f%%", action, cur, slope2, move),
	}, nil
}
