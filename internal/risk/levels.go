// Package risk derives stop-loss and take-profit prices from configured
// percentages and manages the named risk presets.
package risk

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/domain"
)

var hundred = decimal.NewFromInt(100)

// ErrUnknownPreset is returned by ApplyPreset for names not in Presets.
var ErrUnknownPreset = errors.New("risk: unknown preset")

// Pct is a stop-loss / take-profit pair expressed in percent of price.
type Pct struct {
	StopLoss   float64 `json:"stop_loss_pct"`
	TakeProfit float64 `json:"take_profit_pct"`
}

// Preset is a named set of global and per-producer percentages.
type Preset struct {
	Global    Pct
	Producers map[string]Pct
}

// Presets are selectable through ApplyPreset.
var Presets = map[string]Preset{
	"conservative": {
		Global: Pct{0.3, 0.6},
		Producers: map[string]Pct{
			config.ProducerUltraScalp:    {0.15, 0.30},
			config.ProducerFastScalp:     {0.20, 0.40},
			config.ProducerQuickMomentum: {0.25, 0.50},
			config.ProducerTTMSqueeze:    {0.30, 0.60},
		},
	},
	"default": {
		Global: Pct{0.5, 1.0},
		Producers: map[string]Pct{
			config.ProducerUltraScalp:    {0.25, 0.50},
			config.ProducerFastScalp:     {0.30, 0.60},
			config.ProducerQuickMomentum: {0.40, 0.80},
			config.ProducerTTMSqueeze:    {0.50, 1.00},
		},
	},
	"aggressive": {
		Global: Pct{1.0, 2.0},
		Producers: map[string]Pct{
			config.ProducerUltraScalp:    {0.50, 1.00},
			config.ProducerFastScalp:     {0.60, 1.20},
			config.ProducerQuickMomentum: {0.80, 1.60},
			config.ProducerTTMSqueeze:    {1.00, 2.00},
		},
	},
}

// PresetNames lists the preset names alphabetically.
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Compute returns stop-loss and take-profit prices for an entry at price.
// Buy stops sit below the entry and sell stops above it.
func Compute(side domain.Side, price decimal.Decimal, pct Pct) (stopLoss, takeProfit decimal.Decimal) {
	sl := decimal.NewFromFloat(pct.StopLoss).Div(hundred)
	tp := decimal.NewFromFloat(pct.TakeProfit).Div(hundred)
	one := decimal.NewFromInt(1)
	if side == domain.SideSell {
		return price.Mul(one.Add(sl)), price.Mul(one.Sub(tp))
	}
	return price.Mul(one.Sub(sl)), price.Mul(one.Add(tp))
}

// Resolve picks producer's own percentages, falling back to the global
// ones field by field when the producer leaves them at zero.
func Resolve(rt *config.Runtime, producer string) Pct {
	pct := Pct{StopLoss: rt.Risk.StopLossPct, TakeProfit: rt.Risk.TakeProfitPct}
	if p, ok := rt.Producer(producer); ok {
		if p.StopLossPct > 0 {
			pct.StopLoss = p.StopLossPct
		}
		if p.TakeProfitPct > 0 {
			pct.TakeProfit = p.TakeProfitPct
		}
	}
	return pct
}

// Manager applies the live risk settings held in a config store.
type Manager struct {
	store  *config.Store
	logger *slog.Logger
}

// NewManager creates a Manager backed by store.
func NewManager(store *config.Store, logger *slog.Logger) *Manager {
	return &Manager{store: store, logger: logger.With(slog.String("component", "risk"))}
}

// Levels returns the configured stop-loss and take-profit prices for a
// position opened by producer at price.
func (m *Manager) Levels(producer string, side domain.Side, price decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	return Compute(side, price, Resolve(m.store.Load(), producer))
}

// Apply replaces sig's levels with the configured ones when level override
// is enabled. Other signals are returned unchanged.
func (m *Manager) Apply(sig domain.Signal) domain.Signal {
	if !m.store.Load().Risk.OverrideLevels {
		return sig
	}
	side, ok := sig.Action.Side()
	if !ok || !sig.EntryPrice.IsPositive() {
		return sig
	}
	sig.StopLoss, sig.TakeProfit = m.Levels(sig.ProducerID, side, sig.EntryPrice)
	return sig
}

// Update is a partial change to the risk settings. Nil fields are left as
// they are.
type Update struct {
	Preset         *string        `json:"preset,omitempty"`
	OverrideLevels *bool          `json:"override_levels,omitempty"`
	Global         *Pct           `json:"global,omitempty"`
	Producers      map[string]Pct `json:"producers,omitempty"`
}

// ApplyUpdate validates and publishes u in one store update. A preset is
// applied first and explicit fields are layered on top of it.
func (m *Manager) ApplyUpdate(u Update) (config.Runtime, error) {
	rt, err := m.store.Update(func(rt *config.Runtime) error {
		if u.Preset != nil {
			p, ok := Presets[*u.Preset]
			if !ok {
				return fmt.Errorf("%w %q (valid: %v)", ErrUnknownPreset, *u.Preset, PresetNames())
			}
			applyPreset(rt, p)
		}
		if u.OverrideLevels != nil {
			rt.Risk.OverrideLevels = *u.OverrideLevels
		}
		if u.Global != nil {
			rt.Risk.StopLossPct = u.Global.StopLoss
			rt.Risk.TakeProfitPct = u.Global.TakeProfit
		}
		for name, pct := range u.Producers {
			p, ok := rt.Producers[name]
			if !ok {
				return fmt.Errorf("risk: unknown producer %q", name)
			}
			p.StopLossPct, p.TakeProfitPct = pct.StopLoss, pct.TakeProfit
			rt.Producers[name] = p
		}
		return nil
	})
	if err != nil {
		return config.Runtime{}, err
	}
	m.logger.Info("risk settings updated",
		slog.Bool("override_levels", rt.Risk.OverrideLevels),
		slog.Float64("stop_loss_pct", rt.Risk.StopLossPct),
		slog.Float64("take_profit_pct", rt.Risk.TakeProfitPct),
	)
	return rt, nil
}

// ApplyPreset switches to the named preset.
func (m *Manager) ApplyPreset(name string) (config.Runtime, error) {
	return m.ApplyUpdate(Update{Preset: &name})
}

func applyPreset(rt *config.Runtime, p Preset) {
	rt.Risk.StopLossPct = p.Global.StopLoss
	rt.Risk.TakeProfitPct = p.Global.TakeProfit
	for name, pct := range p.Producers {
		if cur, ok := rt.Producers[name]; ok {
			cur.StopLossPct, cur.TakeProfitPct = pct.StopLoss, pct.TakeProfit
			rt.Producers[name] = cur
		}
	}
}
