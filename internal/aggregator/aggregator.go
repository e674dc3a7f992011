// Package aggregator combines the signal producers' opinions for a symbol
// into at most K ranked, actionable signals.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/strategy"
)

// Recorder observes producer outcomes. The metrics package implements it.
type Recorder interface {
	ProducerOutcome(producer string, outcome domain.Outcome)
}

// Result is the outcome of one aggregation.
type Result struct {
	Symbol string
	// Signals holds at most TopK signals, best first, all on one side.
	Signals []domain.Signal
	// Reports has one entry per enabled producer in registration order.
	Reports []domain.ProducerReport
	// BuyVotes and SellVotes count producers that cleared their own
	// minimum confidence on each side.
	BuyVotes  int
	SellVotes int
}

// Aggregator runs every registered producer for a symbol and selects the
// actionable signals. Settings are read from the config store on each call.
type Aggregator struct {
	registry *strategy.Registry
	settings *config.Store
	recorder Recorder
	logger   *slog.Logger
}

// New creates an Aggregator. recorder may be nil.
func New(registry *strategy.Registry, settings *config.Store, recorder Recorder, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		registry: registry,
		settings: settings,
		recorder: recorder,
		logger:   logger.With(slog.String("component", "aggregator")),
	}
}

type candidate struct {
	signal domain.Signal
	score  float64
	order  int
}

// Aggregate evaluates symbol using its bars from historyBySymbol. Producer
// failures are confined to their own report and never abort the call.
func (a *Aggregator) Aggregate(ctx context.Context, historyBySymbol map[string][]domain.Bar, symbol string) Result {
	rt := a.settings.Load()
	bars := historyBySymbol[symbol]

	var producers []strategy.Producer
	for _, p := range a.registry.Producers() {
		if params, ok := rt.Producer(p.Name()); ok && params.Enabled {
			producers = append(producers, p)
		}
	}

	// Producers only read bars, so they run concurrently; every result is
	// collected before any ranking happens.
	reports := make([]domain.ProducerReport, len(producers))
	var g errgroup.Group
	for i, p := range producers {
		g.Go(func() error {
			reports[i] = a.evaluate(ctx, p, symbol, bars)
			return nil
		})
	}
	_ = g.Wait()

	res := Result{Symbol: symbol, Reports: reports}
	var buys, sells []candidate
	for i := range reports {
		rep := &reports[i]
		if rep.Outcome == domain.OutcomeSignal {
			params, _ := rt.Producer(rep.ProducerID)
			if rep.Signal.Confidence < params.MinConfidence {
				rep.Outcome = domain.OutcomeFiltered
			} else {
				c := candidate{signal: rep.Signal, score: rep.Signal.Confidence * params.Weight, order: i}
				if rep.Signal.Action == domain.ActionBuy {
					buys = append(buys, c)
				} else {
					sells = append(sells, c)
				}
			}
		}
		a.observe(*rep)
	}
	res.BuyVotes, res.SellVotes = len(buys), len(sells)

	winners := pickDirection(buys, sells, rt.AgreementThreshold)
	if len(winners) == 0 {
		return res
	}
	sort.SliceStable(winners, func(i, j int) bool {
		if winners[i].score != winners[j].score {
			return winners[i].score > winners[j].score
		}
		return winners[i].order < winners[j].order
	})
	if len(winners) > rt.TopK {
		winners = winners[:rt.TopK]
	}
	for _, c := range winners {
		res.Signals = append(res.Signals, c.signal)
	}
	return res
}

// pickDirection applies the agreement threshold and, when both sides clear
// it, keeps the side with the larger summed score. Equal sums go to the side
// holding the earliest-registered producer.
func pickDirection(buys, sells []candidate, threshold int) []candidate {
	buyOK := len(buys) >= threshold && len(buys) > 0
	sellOK := len(sells) >= threshold && len(sells) > 0
	switch {
	case buyOK && !sellOK:
		return buys
	case sellOK && !buyOK:
		return sells
	case !buyOK && !sellOK:
		return nil
	}
	bs, ss := total(buys), total(sells)
	if bs != ss {
		if bs > ss {
			return buys
		}
		return sells
	}
	if buys[0].order < sells[0].order {
		return buys
	}
	return sells
}

func total(cs []candidate) float64 {
	sum := 0.0
	for _, c := range cs {
		sum += c.score
	}
	return sum
}

func (a *Aggregator) evaluate(ctx context.Context, p strategy.Producer, symbol string, bars []domain.Bar) (rep domain.ProducerReport) {
	rep = domain.ProducerReport{ProducerID: p.Name(), Symbol: symbol}
	defer func() {
		if r := recover(); r != nil {
			rep.Outcome = domain.OutcomeFailed
			rep.Err = fmt.Errorf("aggregator: producer %s panicked: %v", p.Name(), r)
		}
	}()

	sig, err := p.Analyze(ctx, symbol, bars)
	switch {
	case errors.Is(err, domain.ErrInsufficientData):
		rep.Outcome = domain.OutcomeNoSignal
		rep.Err = err
		return rep
	case err != nil:
		rep.Outcome = domain.OutcomeFailed
		rep.Err = err
		return rep
	}

	if sig.ProducerID == "" {
		sig.ProducerID = p.Name()
	}
	rep.Signal = sig
	if sig.Action == domain.ActionHold {
		rep.Outcome = domain.OutcomeNoSignal
		return rep
	}
	if sig.ProducerID != p.Name() {
		rep.Outcome = domain.OutcomeInvalid
		rep.Err = fmt.Errorf("%w: producer %s signed as %s", domain.ErrInvalidSignal, p.Name(), sig.ProducerID)
		return rep
	}
	if err := sig.Validate(); err != nil {
		rep.Outcome = domain.OutcomeInvalid
		rep.Err = err
		return rep
	}
	rep.Outcome = domain.OutcomeSignal
	return rep
}

func (a *Aggregator) observe(rep domain.ProducerReport) {
	if a.recorder != nil {
		a.recorder.ProducerOutcome(rep.ProducerID, rep.Outcome)
	}
	switch rep.Outcome {
	case domain.OutcomeFailed, domain.OutcomeInvalid:
		a.logger.Warn("producer excluded",
			slog.String("producer", rep.ProducerID),
			slog.String("symbol", rep.Symbol),
			slog.String("outcome", string(rep.Outcome)),
			slog.String("error", rep.Err.Error()),
		)
	case domain.OutcomeFiltered:
		a.logger.Debug("signal below min confidence",
			slog.String("producer", rep.ProducerID),
			slog.String("symbol", rep.Symbol),
			slog.Float64("confidence", rep.Signal.Confidence),
		)
	}
}
