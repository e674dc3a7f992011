package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/cryptobot/internal/engine"
	"github.com/alanyoungcy/cryptobot/internal/market"
	"github.com/alanyoungcy/cryptobot/internal/platform/coinbase"
	"github.com/alanyoungcy/cryptobot/internal/server"
	"github.com/alanyoungcy/cryptobot/internal/server/handler"
	"github.com/alanyoungcy/cryptobot/internal/server/ws"
)

// TradeMode runs the cycle loop, the ticker feed and the trade archiver. The
// loop always starts here since there is no API to start it.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode",
		slog.Any("symbols", a.cfg.Engine.Symbols),
		slog.Bool("auto_start", a.cfg.Engine.AutoStart),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startTrading(ctx, g, deps, true)
	return g.Wait()
}

// ServerMode serves the HTTP API without driving the engine. Trades come
// from the journal and live events from the event bus, so it can sit next to
// a trade-mode process that shares the same stores.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)
	a.startHTTPServer(ctx, g, deps, nil)
	return g.Wait()
}

// FullMode runs everything TradeMode does plus the HTTP API and websocket
// hub. With auto_start off the loop waits for POST /api/engine/start.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode",
		slog.Any("symbols", a.cfg.Engine.Symbols),
		slog.Bool("auto_start", a.cfg.Engine.AutoStart),
	)

	g, ctx := errgroup.WithContext(ctx)
	a.startTrading(ctx, g, deps, a.cfg.Engine.AutoStart)
	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, deps.Engine)
	}
	return g.Wait()
}

// startTrading adds the engine, ticker feed and archiver goroutines to g.
func (a *App) startTrading(ctx context.Context, g *errgroup.Group, deps *Dependencies, autoStart bool) {
	g.Go(func() error {
		defer deps.Notifier.Wait()
		if autoStart {
			if err := deps.Engine.Start(ctx); err != nil {
				return fmt.Errorf("engine: %w", err)
			}
			deps.Notifier.NotifyEngine("Engine started", fmt.Sprintf("Trading %v in %s mode", a.cfg.Engine.Symbols, a.cfg.Mode))
		}
		if err := deps.Engine.Run(ctx, false); err != nil {
			return fmt.Errorf("engine: %w", err)
		}
		deps.Notifier.NotifyEngine("Engine stopped", fmt.Sprintf("%d cycles run", deps.Engine.Status().Cycles))
		return nil
	})

	if a.cfg.Market.UseTickerFeed && deps.PriceCache != nil {
		feed := coinbase.NewTickerFeed(a.cfg.Market.WsHost, a.cfg.Engine.Symbols,
			func(ctx context.Context, tick coinbase.Tick) {
				deps.Market.HandleTick(ctx, tick)
				deps.Metrics.TickReceived(tick.Product)
			}, a.logger)
		g.Go(func() error {
			if err := feed.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("ticker feed: %w", err)
			}
			return nil
		})
	}

	if deps.Archiver != nil {
		interval := a.cfg.S3.ArchiveInterval.Duration
		if interval <= 0 {
			interval = time.Hour
		}
		g.Go(func() error {
			return deps.Archiver.Run(ctx, interval)
		})
	}
}

// startHTTPServer adds the API server and websocket hub to g. eng is nil in
// server mode, which turns the engine control routes into 501s.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine.Orchestrator) {
	var (
		controller handler.EngineController
		status     ws.StatusFunc
	)
	if eng != nil {
		controller = eng
		status = func() any { return eng.Status() }
	} else {
		status = func() any {
			return map[string]any{"mode": a.cfg.Mode, "state": "observer"}
		}
	}

	var channels []string
	if deps.Bus != nil {
		channels = []string{engine.ChannelPositions, engine.ChannelCycles, market.ChannelPrices}
	}
	hub := ws.NewHub(deps.Bus, channels, status, a.cfg.Server.CORSOrigins, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	h := server.Handlers{
		Health:    handler.NewHealthHandler(deps.Checks, a.logger),
		Status:    handler.NewStatusHandler(ctx, controller, a.cfg.Mode, a.logger),
		Portfolio: handler.NewPortfolioHandler(deps.Ledger, deps.Journal, a.logger),
		Config:    handler.NewConfigHandler(deps.Settings, deps.Risk, a.logger),
		Hub:       hub,
		Limiter:   deps.APILimiter,
	}
	if a.cfg.Server.MetricsEnabled {
		h.Metrics = deps.Metrics.Handler()
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
	}, h, a.logger)

	g.Go(func() error {
		a.logger.InfoContext(ctx, "HTTP server listening",
			slog.Int("port", a.cfg.Server.Port),
			slog.String("url", fmt.Sprintf("http://localhost:%d", a.cfg.Server.Port)))
		if err := srv.Start(); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
