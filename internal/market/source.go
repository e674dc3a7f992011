// Package market implements domain.MarketData on top of the Coinbase REST
// API with an optional price cache fed by the websocket ticker.
package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/cryptobot/internal/domain"
	"github.com/alanyoungcy/cryptobot/internal/platform/coinbase"
)

// Exchange is the REST surface the source needs.
type Exchange interface {
	Ticker(ctx context.Context, product string) (coinbase.Tick, error)
	Candles(ctx context.Context, product string, granularity, limit int) ([]domain.Bar, error)
}

// Source serves cached prices while they are fresh and falls back to REST.
type Source struct {
	exchange    Exchange
	cache       domain.PriceCache
	granularity int
	maxAge      time.Duration
	now         func() time.Time
	logger      *slog.Logger

	pubMu     sync.Mutex
	publisher Publisher
	pubEvery  time.Duration
	published map[string]time.Time
}

// NewSource creates a Source. cache may be nil, in which case every price
// comes from REST.
func NewSource(exchange Exchange, cache domain.PriceCache, granularity int, maxAge time.Duration, logger *slog.Logger) *Source {
	return &Source{
		exchange:    exchange,
		cache:       cache,
		granularity: granularity,
		maxAge:      maxAge,
		now:         time.Now,
		logger:      logger.With(slog.String("component", "market_data")),
	}
}

// CurrentPrices returns a price for every symbol it could resolve. It fails
// only when no symbol could be priced.
func (s *Source) CurrentPrices(ctx context.Context, symbols []string) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(symbols))
	var errs []error
	for _, symbol := range symbols {
		if p, ok := s.cached(ctx, symbol); ok {
			prices[symbol] = p
			continue
		}
		tick, err := s.exchange.Ticker(ctx, symbol)
		if err != nil {
			errs = append(errs, err)
			s.logger.Warn("ticker fetch failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		prices[symbol] = tick.Price
		s.store(ctx, tick)
	}
	if len(prices) == 0 && len(errs) > 0 {
		return nil, fmt.Errorf("market: no prices: %w", errors.Join(errs...))
	}
	return prices, nil
}

// History returns the most recent lookback bars for symbol, oldest first.
func (s *Source) History(ctx context.Context, symbol string, lookback int) ([]domain.Bar, error) {
	bars, err := s.exchange.Candles(ctx, symbol, s.granularity, lookback)
	if err != nil {
		return nil, fmt.Errorf("market: history %s: %w", symbol, err)
	}
	return bars, nil
}

// ChannelPrices carries throttled ticker updates for live clients.
const ChannelPrices = "prices"

// Publisher is the publish side of the event bus.
type Publisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

type priceEvent struct {
	Event     string    `json:"event"`
	Symbol    string    `json:"symbol"`
	Price     string    `json:"price"`
	Timestamp time.Time `json:"timestamp"`
}

// SetPublisher makes HandleTick publish at most one price per symbol every
// interval on ChannelPrices.
func (s *Source) SetPublisher(p Publisher, interval time.Duration) {
	s.pubMu.Lock()
	defer s.pubMu.Unlock()
	s.publisher = p
	s.pubEvery = interval
	s.published = make(map[string]time.Time)
}

// HandleTick stores a websocket tick in the cache and forwards it to the
// publisher. It matches the ticker feed's handler signature.
func (s *Source) HandleTick(ctx context.Context, tick coinbase.Tick) {
	s.store(ctx, tick)
	s.publish(ctx, tick)
}

func (s *Source) publish(ctx context.Context, tick coinbase.Tick) {
	s.pubMu.Lock()
	if s.publisher == nil {
		s.pubMu.Unlock()
		return
	}
	now := s.now()
	if last, ok := s.published[tick.Product]; ok && now.Sub(last) < s.pubEvery {
		s.pubMu.Unlock()
		return
	}
	s.published[tick.Product] = now
	pub := s.publisher
	s.pubMu.Unlock()

	ts := tick.Time
	if ts.IsZero() {
		ts = now
	}
	payload, err := json.Marshal(priceEvent{
		Event:     "price",
		Symbol:    tick.Product,
		Price:     tick.Price.String(),
		Timestamp: ts.UTC(),
	})
	if err != nil {
		return
	}
	if err := pub.Publish(ctx, ChannelPrices, payload); err != nil {
		s.logger.Debug("price publish failed",
			slog.String("symbol", tick.Product),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Source) cached(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if s.cache == nil {
		return decimal.Zero, false
	}
	price, ts, err := s.cache.GetPrice(ctx, symbol)
	if err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Debug("price cache read failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()),
			)
		}
		return decimal.Zero, false
	}
	if s.maxAge > 0 && s.now().Sub(ts) > s.maxAge {
		return decimal.Zero, false
	}
	return price, price.IsPositive()
}

func (s *Source) store(ctx context.Context, tick coinbase.Tick) {
	if s.cache == nil {
		return
	}
	if err := s.cache.SetPrice(ctx, tick.Product, tick.Price, tick.Time); err != nil {
		s.logger.Debug("price cache write failed",
			slog.String("symbol", tick.Product),
			slog.String("error", err.Error()),
		)
	}
}

var _ domain.MarketData = (*Source)(nil)
