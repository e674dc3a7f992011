// Package executor places orders. Only a paper venue is implemented; it is
// wrapped with duplicate suppression and a circuit breaker so a failing
// venue is skipped instead of retried every cycle.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/cryptobot/internal/domain"
)

// ErrDuplicateOrder is returned when an identical order was placed within
// the dedup window.
var ErrDuplicateOrder = errors.New("executor: duplicate order")

// Paper fills every valid order immediately at the requested price.
type Paper struct {
	mu     sync.Mutex
	fills  []domain.OrderResult
	now    func() time.Time
	logger *slog.Logger
}

// NewPaper creates a paper venue.
func NewPaper(logger *slog.Logger) *Paper {
	return &Paper{now: time.Now, logger: logger.With(slog.String("component", "paper_executor"))}
}

func (p *Paper) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.OrderResult{}, err
	}
	if err := validate(req); err != nil {
		return domain.OrderResult{}, err
	}
	res := domain.OrderResult{
		Success:     true,
		OrderID:     "paper-" + uuid.NewString(),
		FilledPrice: req.Price,
		Message:     "filled",
		FilledAt:    p.now(),
	}
	p.mu.Lock()
	p.fills = append(p.fills, res)
	p.mu.Unlock()

	p.logger.Info("paper fill",
		slog.String("symbol", req.Symbol),
		slog.String("side", string(req.Side)),
		slog.String("size", req.Size.String()),
		slog.String("price", req.Price.String()),
		slog.String("purpose", req.Purpose),
	)
	return res, nil
}

// Fills returns the number of orders filled so far.
func (p *Paper) Fills() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.fills)
}

func validate(req domain.OrderRequest) error {
	switch {
	case req.Symbol == "":
		return fmt.Errorf("%w: empty symbol", domain.ErrInvalidOrder)
	case req.Side != domain.SideBuy && req.Side != domain.SideSell:
		return fmt.Errorf("%w: side %q", domain.ErrInvalidOrder, req.Side)
	case !req.Size.IsPositive():
		return fmt.Errorf("%w: size %s", domain.ErrInvalidOrder, req.Size)
	case !req.Price.IsPositive():
		return fmt.Errorf("%w: price %s", domain.ErrInvalidOrder, req.Price)
	}
	return nil
}

// Guarded wraps a venue with dedup and a circuit breaker.
type Guarded struct {
	inner   domain.OrderExecutor
	breaker *Breaker
	dedup   *Dedup
	logger  *slog.Logger
}

// NewGuarded wraps inner.
func NewGuarded(inner domain.OrderExecutor, breaker *Breaker, dedup *Dedup, logger *slog.Logger) *Guarded {
	return &Guarded{
		inner:   inner,
		breaker: breaker,
		dedup:   dedup,
		logger:  logger.With(slog.String("component", "executor")),
	}
}

func (g *Guarded) Place(ctx context.Context, req domain.OrderRequest) (domain.OrderResult, error) {
	key := fmt.Sprintf("%s|%s|%s|%s|%s", req.Symbol, req.Side, req.Producer, req.Purpose, req.Size)
	if g.dedup.IsDuplicate(key) {
		return domain.OrderResult{}, fmt.Errorf("%w: %s", ErrDuplicateOrder, key)
	}
	if !g.breaker.Allow() {
		return domain.OrderResult{}, fmt.Errorf("executor: %w", domain.ErrCircuitOpen)
	}

	res, err := g.inner.Place(ctx, req)
	switch {
	case err != nil:
		// Bad input says nothing about venue health.
		if !errors.Is(err, domain.ErrInvalidOrder) {
			g.breaker.RecordFailure()
		}
		return res, fmt.Errorf("executor: place %s %s: %w", req.Side, req.Symbol, err)
	case !res.Success:
		g.breaker.RecordFailure()
	default:
		g.breaker.RecordSuccess()
		g.dedup.Record(key)
	}
	return res, nil
}

// BreakerState exposes the breaker for status reporting.
func (g *Guarded) BreakerState() BreakerState {
	return g.breaker.State()
}

var (
	_ domain.OrderExecutor = (*Paper)(nil)
	_ domain.OrderExecutor = (*Guarded)(nil)
)
