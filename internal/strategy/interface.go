// Package strategy holds the signal producers: independent evaluators that
// turn a symbol's candle history into a buy, sell or hold recommendation.
package strategy

import (
	"context"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Producer evaluates candle history for one symbol. Returning a hold signal
// or an error wrapping domain.ErrInsufficientData means "no signal"; any
// other error means the producer failed for this cycle.
type Producer interface {
	Name() string
	Analyze(ctx context.Context, symbol string, bars []domain.Bar) (domain.Signal, error)
}

// Config holds the settings shared by every producer.
type Config struct {
	Name    string
	MaxHold time.Duration
	Params  map[string]any
}

func (c Config) floatParam(key string, def float64) float64 {
	switch v := c.Params[key].(type) {
	case float64:
		return v
	case int64:
		return float64(v)
	case int:
		return float64(v)
	}
	return def
}

func (c Config) intParam(key string, def int) int {
	switch v := c.Params[key].(type) {
	case int64:
		return int(v)
	case int:
		return v
	case float64:
		return int(v)
	}
	return def
}
