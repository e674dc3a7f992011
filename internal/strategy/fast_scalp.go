package strategy

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// FastScalp trades RSI extremes confirmed by the MACD line crossing its
// signal line and a volume surge.
type FastScalp struct {
	cfg    Config
	logger *slog.Logger

	rsiPeriod     int
	macdFast      int
	macdSlow      int
	macdSignal    int
	atrPeriod     int
	buyRSI        float64
	sellRSI       float64
	histThreshold float64
	minMovePct    float64
	volumeMult    float64
	baseConf      float64
	slMult        float64
	tpMult        float64
}

// NewFastScalp reads these keys from cfg.Params (defaults in brackets):
// rsi_period [14], macd_fast [12], macd_slow [26], macd_signal [9],
// atr_period [14], rsi_buy [35], rsi_sell [65], histogram_threshold [0],
// min_move_pct [0.1], volume_multiplier [1.5], base_confidence [0.55],
// atr_sl [1.5], atr_tp [2.5].
func NewFastScalp(cfg Config, logger *slog.Logger) *FastScalp {
	return &FastScalp{
		cfg:           cfg,
		logger:        logger.With(slog.String("strategy", cfg.Name)),
		rsiPeriod:     cfg.intParam("rsi_period", 14),
		macdFast:      cfg.intParam("macd_fast", 12),
		macdSlow:      cfg.intParam("macd_slow", 26),
		macdSignal:    cfg.intParam("macd_signal", 9),
		atrPeriod:     cfg.intParam("atr_period", 14),
		buyRSI:        cfg.floatParam("rsi_buy", 35),
		sellRSI:       cfg.floatParam("rsi_sell", 65),
		histThreshold: cfg.floatParam("histogram_threshold", 0),
		minMovePct:    cfg.floatParam("min_move_pct", 0.1),
		volumeMult:    cfg.floatParam("volume_multiplier", 1.5),
		baseConf:      cfg.floatParam("base_confidence", 0.55),
		slMult:        cfg.floatParam("atr_sl", 1.5),
		tpMult:        cfg.floatParam("atr_tp", 2.5),
	}
}

// Name returns the producer identifier.
func (f *FastScalp) Name() string { return f.cfg.Name }

func (f *FastScalp) minBars() int {
	return max(f.macdSlow+f.macdSignal, f.rsiPeriod+1, f.atrPeriod+1, 11)
}

// Analyze implements Producer.
func (f *FastScalp) Analyze(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error) {
	if err := ctx.Err(); err != nil {
		return domain.Signal{}, err
	}
	if err := requireBars(f.Name(), bars, f.minBars()); err != nil {
		return domain.Signal{}, err
	}
	s := newSeries(bars)
	price := s.lastClose()

	cur := last(rsi(s.close, f.rsiPeriod))
	line, sig, hist := macd(s.close, f.macdFast, f.macdSlow, f.macdSignal)
	curLine, curSig, curHist := last(line), last(sig), last(hist)
	move := pctChange(s.close)
	surge := volumeSurge(s.volume, 10, f.volumeMult)

	spread := 0.0
	if curSig != 0 {
		spread = math.Abs(curLine-curSig) / math.Abs(curSig) * 100
	}

	var action domain.Action
	var conf float64
	switch {
	case cur < f.buyRSI && curHist > f.histThreshold && curLine > curSig && math.Abs(move) > f.minMovePct && surge:
		action = domain.ActionBuy
		conf = f.baseConf +
			math.Min(0.15, (f.buyRSI-cur)/30) +
			bounded(curHist/0.5, 0, 0.1) +
			math.Min(0.1, spread) +
			0.1
	case cur > f.sellRSI && curHist < f.histThreshold && curLine < curSig && math.Abs(move) > f.minMovePct && surge:
		action = domain.ActionSell
		conf = f.baseConf +
			math.Min(0.15, (cur-f.sellRSI)/30) +
			bounded(math.Abs(curHist)/0.5, 0, 0.1) +
			math.Min(0.1, spread) +
			0.1
	default:
		return domain.Hold(f.Name(), fmt.Sprintf("rsi=%.1f hist=%.4f", cur, curHist)), nil
	}

	stop, target := levels(action, price, last(atr(s, f.atrPeriod)), f.slMult, f.tpMult, 0.005)
	f.logger.Debug("signal",
		slog.String("symbol", symbol),
		slog.String("action", string(action)),
		slog.Float64("confidence", conf),
	)
	return domain.Signal{
		Action:     action,
		Confidence: clamp01(math.Min(0.95, conf)),
		ProducerID: f.Name(),
		EntryPrice: decimalPrice(price),
		StopLoss:   stop,
		TakeProfit: target,
		MaxHold:    f.cfg.MaxHold,
		Reason:     fmt.Sprintf("fast-scalp %s: rsi=%.1f hist=%.4f move=%.2f%%", action, cur, curHist, move),
	}, nil
}
