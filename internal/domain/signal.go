package domain

import (
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// Action is what a producer recommends for a symbol in one cycle.
type Action string

const (
	ActionBuy  Action = "buy"
	ActionSell Action = "sell"
	ActionHold Action = "hold"
)

// Side returns the position side an actionable signal opens. Hold has no side.
func (a Action) Side() (Side, bool) {
	switch a {
	case ActionBuy:
		return SideBuy, true
	case ActionSell:
		return SideSell, true
	default:
		return "", false
	}
}

// Signal is a producer's recommendation for one symbol in one cycle. It is
// built fresh each cycle and never mutated after it leaves the producer.
type Signal struct {
	Action     Action
	Confidence float64
	ProducerID string
	EntryPrice decimal.Decimal
	StopLoss   decimal.Decimal
	TakeProfit decimal.Decimal
	MaxHold    time.Duration
	Reason     string
}

// Hold builds a non-actionable signal for producer id.
func Hold(producerID, reason string) Signal {
	return Signal{Action: ActionHold, ProducerID: producerID, Reason: reason}
}

// Validate checks that an actionable signal carries every required field and
// that its risk levels sit on the correct sides of the entry price.
func (s Signal) Validate() error {
	if s.ProducerID == "" {
		return fmt.Errorf("%w: missing producer id", ErrInvalidSignal)
	}
	if s.Action != ActionBuy && s.Action != ActionSell {
		return fmt.Errorf("%w: action %q is not actionable", ErrInvalidSignal, s.Action)
	}
	if math.IsNaN(s.Confidence) || s.Confidence < 0 || s.Confidence > 1 {
		return fmt.Errorf("%w: confidence %.4f outside [0,1]", ErrInvalidSignal, s.Confidence)
	}
	if !s.EntryPrice.IsPositive() || !s.StopLoss.IsPositive() || !s.TakeProfit.IsPositive() {
		return fmt.Errorf("%w: entry, stop loss and take profit must be positive", ErrInvalidSignal)
	}
	if s.MaxHold <= 0 {
		return fmt.Errorf("%w: max hold must be positive", ErrInvalidSignal)
	}
	switch s.Action {
	case ActionBuy:
		if !(s.StopLoss.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.TakeProfit)) {
			return fmt.Errorf("%w: buy requires stop %s < entry %s < target %s",
				ErrInvalidSignal, s.StopLoss, s.EntryPrice, s.TakeProfit)
		}
	case ActionSell:
		if !(s.TakeProfit.LessThan(s.EntryPrice) && s.EntryPrice.LessThan(s.StopLoss)) {
			return fmt.Errorf("%w: sell requires target %s < entry %s < stop %s",
				ErrInvalidSignal, s.TakeProfit, s.EntryPrice, s.StopLoss)
		}
	}
	return nil
}

// Outcome classifies what a single producer returned in one aggregation.
type Outcome string

const (
	OutcomeSignal   Outcome = "signal"
	OutcomeNoSignal Outcome = "no_signal"
	OutcomeFailed   Outcome = "failed"
	OutcomeInvalid  Outcome = "invalid"
	// OutcomeFiltered marks an actionable signal dropped by its producer's
	// minimum confidence.
	OutcomeFiltered Outcome = "filtered"
)

// ProducerReport records the outcome of one producer for one symbol.
type ProducerReport struct {
	ProducerID string
	Symbol     string
	Outcome    Outcome
	Signal     Signal
	Err        error
}
