package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// Portfolio is the read side of the position ledger.
type Portfolio interface {
	Summary() domain.PortfolioSummary
	Positions() []domain.PositionView
	History() []domain.ClosedTrade
}

// PortfolioHandler serves the portfolio, positions and trade history.
type PortfolioHandler struct {
	portfolio Portfolio
	journal   domain.TradeJournal
	logger    *slog.Logger
}

// NewPortfolioHandler creates a PortfolioHandler. When journal is non-nil,
// trade history is read from it so it survives restarts; otherwise the
// in-memory ledger history is served.
func NewPortfolioHandler(portfolio Portfolio, journal domain.TradeJournal, logger *slog.Logger) *PortfolioHandler {
	return &PortfolioHandler{portfolio: portfolio, journal: journal, logger: logger}
}

// GetPortfolio returns the portfolio summary at the last marks.
// GET /api/portfolio
func (h *PortfolioHandler) GetPortfolio(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, toPortfolioJSON(h.portfolio.Summary()))
}

// ListPositions returns open positions, optionally for one symbol.
// GET /api/positions?symbol=BTC-USD
func (h *PortfolioHandler) ListPositions(w http.ResponseWriter, r *http.Request) {
	symbol := strings.ToUpper(r.URL.Query().Get("symbol"))
	out := []positionJSON{}
	for _, v := range h.portfolio.Positions() {
		if symbol != "" && v.Symbol != symbol {
			continue
		}
		out = append(out, toPositionJSON(v))
	}
	writeJSON(w, http.StatusOK, map[string]any{"positions": out})
}

// ListTrades returns closed trades, most recent first.
// GET /api/trades?limit=50&offset=0&since=RFC3339
func (h *PortfolioHandler) ListTrades(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	var trades []domain.ClosedTrade
	if h.journal != nil {
		var err error
		trades, err = h.journal.List(r.Context(), opts)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "list trades failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to list trades")
			return
		}
	} else {
		trades = pageHistory(h.portfolio.History(), opts)
	}

	out := make([]tradeJSON, 0, len(trades))
	for _, t := range trades {
		out = append(out, toTradeJSON(t))
	}
	writeJSON(w, http.StatusOK, map[string]any{"trades": out})
}

// pageHistory applies opts to oldest-first history and returns newest first.
func pageHistory(history []domain.ClosedTrade, opts domain.ListOpts) []domain.ClosedTrade {
	var filtered []domain.ClosedTrade
	for i := len(history) - 1; i >= 0; i-- {
		t := history[i]
		if opts.Since != nil && t.ExitTime.Before(*opts.Since) {
			continue
		}
		if opts.Until != nil && t.ExitTime.After(*opts.Until) {
			continue
		}
		filtered = append(filtered, t)
	}
	if opts.Offset >= len(filtered) {
		return nil
	}
	filtered = filtered[opts.Offset:]
	if opts.Limit > 0 && len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}
	return filtered
}
