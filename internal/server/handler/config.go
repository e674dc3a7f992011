package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/cryptobot/internal/config"
	"github.com/alanyoungcy/cryptobot/internal/risk"
)

// ConfigHandler exposes the hot-reloadable settings and the risk controls.
type ConfigHandler struct {
	settings *config.Store
	risk     *risk.Manager
	logger   *slog.Logger
}

// NewConfigHandler creates a ConfigHandler.
func NewConfigHandler(settings *config.Store, riskMgr *risk.Manager, logger *slog.Logger) *ConfigHandler {
	return &ConfigHandler{settings: settings, risk: riskMgr, logger: logger}
}

type producerJSON struct {
	Name          string  `json:"name"`
	Enabled       bool    `json:"enabled"`
	MinConfidence float64 `json:"min_confidence"`
	Weight        float64 `json:"weight"`
	StopLossPct   float64 `json:"stop_loss_pct"`
	TakeProfitPct float64 `json:"take_profit_pct"`
	MaxHold       string  `json:"max_hold"`
}

type runtimeJSON struct {
	Version            int64               `json:"version"`
	AgreementThreshold int                 `json:"agreement_threshold"`
	TopK               int                 `json:"top_k"`
	Producers          []producerJSON      `json:"producers"`
	Sizing             config.SizingParams `json:"sizing"`
	Risk               config.RiskParams   `json:"risk"`
	CooldownWindow     string              `json:"cooldown_window"`
	CycleInterval      string              `json:"cycle_interval"`
	Presets            []string            `json:"risk_presets"`
}

func (h *ConfigHandler) snapshot(rt config.Runtime) runtimeJSON {
	out := runtimeJSON{
		Version:            h.settings.Version(),
		AgreementThreshold: rt.AgreementThreshold,
		TopK:               rt.TopK,
		Sizing:             rt.Sizing,
		Risk:               rt.Risk,
		CooldownWindow:     rt.CooldownWindow.String(),
		CycleInterval:      rt.CycleInterval.String(),
		Presets:            risk.PresetNames(),
		Producers:          make([]producerJSON, 0, len(rt.Producers)),
	}
	for name, p := range rt.Producers {
		out.Producers = append(out.Producers, producerJSON{
			Name:          name,
			Enabled:       p.Enabled,
			MinConfidence: p.MinConfidence,
			Weight:        p.Weight,
			StopLossPct:   p.StopLossPct,
			TakeProfitPct: p.TakeProfitPct,
			MaxHold:       p.MaxHold.String(),
		})
	}
	sort.Slice(out.Producers, func(i, j int) bool { return out.Producers[i].Name < out.Producers[j].Name })
	return out
}

// GetRuntime returns the live settings.
// GET /api/config/runtime
func (h *ConfigHandler) GetRuntime(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot(*h.settings.Load()))
}

// UpdateRisk applies a preset and/or explicit stop/target percentages.
// PUT /api/risk
//
//	{"preset":"conservative","override_levels":true,
//	 "global":{"stop_loss_pct":0.3,"take_profit_pct":0.6},
//	 "producers":{"fast_scalp":{"stop_loss_pct":0.2,"take_profit_pct":0.4}}}
func (h *ConfigHandler) UpdateRisk(w http.ResponseWriter, r *http.Request) {
	var u risk.Update
	if err := decodeJSON(w, r, &u); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	// Every ApplyUpdate failure is a rejected value; nothing is published.
	rt, err := h.risk.ApplyUpdate(u)
	if err != nil {
		h.logger.WarnContext(r.Context(), "risk update rejected", slog.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot(rt))
}
