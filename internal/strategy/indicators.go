package strategy

import (
	"fmt"
	"math"

	"github.com/markcheno/go-talib"
	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// series is the indicator input extracted once per Analyze call.
type series struct {
	open, high, low, close, volume []float64
}

func newSeries(bars []domain.Bar) series {
	s := series{
		open:   make([]float64, len(bars)),
		high:   domain.Highs(bars),
		low:    domain.Lows(bars),
		close:  domain.Closes(bars),
		volume: domain.Volumes(bars),
	}
	for i, b := range bars {
		s.open[i] = b.Open
	}
	return s
}

func (s series) len() int { return len(s.close) }

func (s series) lastClose() float64 { return s.close[len(s.close)-1] }

// requireBars guards the talib calls, which index past short inputs.
func requireBars(name string, bars []domain.Bar, need int) error {
	if len(bars) < need {
		return fmt.Errorf("%s: %w: have %d bars, need %d", name, domain.ErrInsufficientData, len(bars), need)
	}
	for i, b := range bars {
		if !(b.Close > 0) || math.IsInf(b.Close, 0) {
			return fmt.Errorf("%s: bar %d has invalid close %v", name, i, b.Close)
		}
	}
	return nil
}

func last(xs []float64) float64 { return xs[len(xs)-1] }

func at(xs []float64, back int) float64 { return xs[len(xs)-1-back] }

// pctChange is the percent change between the last close and the one before.
func pctChange(closes []float64) float64 {
	if len(closes) < 2 || closes[len(closes)-2] == 0 {
		return 0
	}
	return (last(closes)/at(closes, 1) - 1) * 100
}

// volumeSurge reports whether the last volume exceeds mult times the mean of
// the trailing window (inclusive of the last bar).
func volumeSurge(volume []float64, window int, mult float64) bool {
	if len(volume) == 0 {
		return false
	}
	if window > len(volume) {
		window = len(volume)
	}
	avg := mean(volume[len(volume)-window:])
	return last(volume) > avg*mult
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func rsi(closes []float64, period int) []float64 { return talib.Rsi(closes, period) }

func sma(closes []float64, period int) []float64 { return talib.Sma(closes, period) }

func ema(closes []float64, period int) []float64 { return talib.Ema(closes, period) }

func macd(closes []float64, fast, slow, signal int) (line, sig, hist []float64) {
	return talib.Macd(closes, fast, slow, signal)
}

func atr(s series, period int) []float64 { return talib.Atr(s.high, s.low, s.close, period) }

func bollinger(closes []float64, period int, dev float64) (upper, middle, lower []float64) {
	return talib.BBands(closes, period, dev, dev, talib.SMA)
}

// levels turns an entry price and ATR into side-aware stop and target
// prices. A flat market yields ATR 0; fallbackPct of the price is used
// instead so the levels always straddle the entry.
func levels(side domain.Action, price, atrValue, slMult, tpMult, fallbackPct float64) (stop, target decimal.Decimal) {
	slDist := atrValue * slMult
	tpDist := atrValue * tpMult
	if !(slDist > 0) || !(tpDist > 0) || math.IsNaN(atrValue) {
		slDist = price * fallbackPct
		tpDist = price * fallbackPct * 2
	}
	// Never let a stop fall through zero on a sell target.
	if tpDist >= price {
		tpDist = price / 2
	}
	if slDist >= price {
		slDist = price / 2
	}

	entry := decimal.NewFromFloat(price)
	sl := decimal.NewFromFloat(slDist)
	tp := decimal.NewFromFloat(tpDist)
	if side == domain.ActionSell {
		return entry.Add(sl), entry.Sub(tp)
	}
	return entry.Sub(sl), entry.Add(tp)
}

func clamp01(x float64) float64 {
	if x < 0 || math.IsNaN(x) {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func bounded(x, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, x))
}

func decimalPrice(p float64) decimal.Decimal { return decimal.NewFromFloat(p) }
