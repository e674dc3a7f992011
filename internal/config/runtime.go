package config

import (
	"fmt"
	"strings"
	"time"
)

// Runtime is the hot-reloadable subset of the configuration: everything the
// cycle loop reads on each pass. Values are plain and JSON-friendly so the
// HTTP API can show and patch them.
type Runtime struct {
	AgreementThreshold int                       `json:"agreement_threshold"`
	TopK               int                       `json:"top_k"`
	Producers          map[string]ProducerParams `json:"producers"`
	Sizing             SizingParams              `json:"sizing"`
	Risk               RiskParams                `json:"risk"`
	CooldownWindow     time.Duration             `json:"cooldown_window"`
	CycleInterval      time.Duration             `json:"cycle_interval"`
}

// ProducerParams are the per-producer aggregation and risk settings.
type ProducerParams struct {
	Enabled       bool          `json:"enabled"`
	MinConfidence float64       `json:"min_confidence"`
	Weight        float64       `json:"weight"`
	StopLossPct   float64       `json:"stop_loss_pct"`
	TakeProfitPct float64       `json:"take_profit_pct"`
	MaxHold       time.Duration `json:"max_hold"`
}

// SizingParams mirrors SizingConfig.
type SizingParams struct {
	Mode                string  `json:"mode"`
	PositionSizePercent float64 `json:"position_size_percent"`
	MinPositionValue    float64 `json:"min_position_value"`
	MaxPositionValue    float64 `json:"max_position_value"`
	RiskPerTrade        float64 `json:"risk_per_trade"`
}

// RiskParams mirrors RiskConfig.
type RiskParams struct {
	OverrideLevels bool    `json:"override_levels"`
	StopLossPct    float64 `json:"stop_loss_pct"`
	TakeProfitPct  float64 `json:"take_profit_pct"`
}

// Runtime extracts the hot-reloadable settings from c.
func (c Config) Runtime() Runtime {
	rt := Runtime{
		AgreementThreshold: c.Aggregator.AgreementThreshold,
		TopK:               c.Aggregator.TopK,
		Producers:          make(map[string]ProducerParams, len(c.Producers)),
		Sizing: SizingParams{
			Mode:                c.Sizing.Mode,
			PositionSizePercent: c.Sizing.PositionSizePercent,
			MinPositionValue:    c.Sizing.MinPositionValue,
			MaxPositionValue:    c.Sizing.MaxPositionValue,
			RiskPerTrade:        c.Sizing.RiskPerTrade,
		},
		Risk: RiskParams{
			OverrideLevels: c.Risk.OverrideLevels,
			StopLossPct:    c.Risk.StopLossPct,
			TakeProfitPct:  c.Risk.TakeProfitPct,
		},
		CooldownWindow: c.Engine.CooldownWindow.Duration,
		CycleInterval:  c.Engine.Interval.Duration,
	}
	for name, p := range c.Producers {
		rt.Producers[name] = ProducerParams{
			Enabled:       p.Enabled,
			MinConfidence: p.MinConfidence,
			Weight:        p.Weight,
			StopLossPct:   p.StopLossPct,
			TakeProfitPct: p.TakeProfitPct,
			MaxHold:       p.MaxHold.Duration,
		}
	}
	return rt
}

// Clone returns a deep copy of r.
func (r Runtime) Clone() Runtime {
	out := r
	out.Producers = make(map[string]ProducerParams, len(r.Producers))
	for k, v := range r.Producers {
		out.Producers[k] = v
	}
	return out
}

// Producer returns the settings for name. Unknown producers are disabled.
func (r Runtime) Producer(name string) (ProducerParams, bool) {
	p, ok := r.Producers[name]
	return p, ok
}

// Validate reports every invalid runtime value.
func (r Runtime) Validate() error {
	if errs := r.problems(); len(errs) > 0 {
		return fmt.Errorf("runtime config invalid:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func (r Runtime) problems() []string {
	var errs []string
	if r.AgreementThreshold < 1 {
		errs = append(errs, "aggregator: agreement_threshold must be >= 1")
	}
	if r.TopK < 1 {
		errs = append(errs, "aggregator: top_k must be >= 1")
	}
	if len(r.Producers) == 0 {
		errs = append(errs, "producers: at least one producer must be configured")
	}
	for name, p := range r.Producers {
		if p.MinConfidence < 0 || p.MinConfidence > 1 {
			errs = append(errs, fmt.Sprintf("producers.%s: min_confidence must be in [0,1]", name))
		}
		if p.Weight <= 0 {
			errs = append(errs, fmt.Sprintf("producers.%s: weight must be > 0", name))
		}
		if p.StopLossPct < 0 || p.StopLossPct >= 100 {
			errs = append(errs, fmt.Sprintf("producers.%s: stop_loss_pct must be in [0,100), 0 uses risk.stop_loss_pct", name))
		}
		if p.TakeProfitPct < 0 {
			errs = append(errs, fmt.Sprintf("producers.%s: take_profit_pct must be >= 0", name))
		}
		if p.MaxHold <= 0 {
			errs = append(errs, fmt.Sprintf("producers.%s: max_hold must be > 0", name))
		}
	}

	switch r.Sizing.Mode {
	case SizingPercent:
		if r.Sizing.PositionSizePercent <= 0 || r.Sizing.PositionSizePercent > 1 {
			errs = append(errs, "sizing: position_size_percent must be in (0,1]")
		}
	case SizingRisk:
		if r.Sizing.RiskPerTrade <= 0 || r.Sizing.RiskPerTrade > 1 {
			errs = append(errs, "sizing: risk_per_trade must be in (0,1]")
		}
	default:
		errs = append(errs, fmt.Sprintf("sizing: unknown mode %q (valid: percent, risk)", r.Sizing.Mode))
	}
	if r.Sizing.MinPositionValue <= 0 {
		errs = append(errs, "sizing: min_position_value must be > 0")
	}
	if r.Sizing.MaxPositionValue < r.Sizing.MinPositionValue {
		errs = append(errs, "sizing: max_position_value must be >= min_position_value")
	}

	if r.Risk.StopLossPct <= 0 || r.Risk.StopLossPct >= 100 {
		errs = append(errs, "risk: stop_loss_pct must be in (0,100)")
	}
	if r.Risk.TakeProfitPct <= 0 {
		errs = append(errs, "risk: take_profit_pct must be > 0")
	}
	if r.CooldownWindow < 0 {
		errs = append(errs, "engine: cooldown_window must be >= 0")
	}
	if r.CycleInterval <= 0 {
		errs = append(errs, "engine: interval must be > 0")
	}
	return errs
}
