package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/engine"
)

// EngineController is the orchestrator surface the API drives.
type EngineController interface {
	Status() domain.BotStatus
	Start(ctx context.Context) error
	Stop()
}

// StatusHandler serves engine state and the start/stop controls. A nil
// engine (server mode) reports "stopped" and rejects control requests.
type StatusHandler struct {
	engine EngineController
	mode   string
	// runCtx outlives the request that starts the engine.
	runCtx context.Context
	logger *slog.Logger
}

// NewStatusHandler creates a StatusHandler. runCtx bounds engines started
// through the API.
func NewStatusHandler(runCtx context.Context, eng EngineController, mode string, logger *slog.Logger) *StatusHandler {
	return &StatusHandler{engine: eng, mode: mode, runCtx: runCtx, logger: logger}
}

type statusJSON struct {
	Mode          string     `json:"mode"`
	State         string     `json:"state"`
	Cycles        int64      `json:"cycles"`
	UptimeSeconds int64      `json:"uptime_seconds"`
	OpenPositions int        `json:"open_positions"`
	LastCycleAt   *time.Time `json:"last_cycle_at,omitempty"`
	Symbols       []string   `json:"symbols"`
}

func (h *StatusHandler) status() statusJSON {
	if h.engine == nil {
		return statusJSON{Mode: h.mode, State: "stopped", Symbols: []string{}}
	}
	s := h.engine.Status()
	out := statusJSON{
		Mode:          h.mode,
		State:         s.State,
		Cycles:        s.Cycles,
		UptimeSeconds: s.UptimeSeconds,
		OpenPositions: s.OpenPositions,
		Symbols:       s.Symbols,
	}
	if !s.LastCycleAt.IsZero() {
		t := s.LastCycleAt
		out.LastCycleAt = &t
	}
	if out.Symbols == nil {
		out.Symbols = []string{}
	}
	return out
}

// GetStatus reports the engine state and cycle counters.
// GET /api/status
func (h *StatusHandler) GetStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.status())
}

// StartEngine starts the cycle loop.
// POST /api/engine/start
func (h *StatusHandler) StartEngine(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusNotImplemented, "engine not available in "+h.mode+" mode")
		return
	}
	if err := h.engine.Start(h.runCtx); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, engine.ErrRunning) || errors.Is(err, domain.ErrLockHeld) {
			status = http.StatusConflict
		}
		h.logger.WarnContext(r.Context(), "engine start rejected", slog.String("error", err.Error()))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, h.status())
}

// StopEngine stops the loop after the in-flight cycle finishes.
// POST /api/engine/stop
func (h *StatusHandler) StopEngine(w http.ResponseWriter, r *http.Request) {
	if h.engine == nil {
		writeError(w, http.StatusNotImplemented, "engine not available in "+h.mode+" mode")
		return
	}
	h.engine.Stop()
	writeJSON(w, http.StatusOK, h.status())
}
