package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// OrderRequest asks the venue to move size units of symbol on side.
type OrderRequest struct {
	ID       string
	Symbol   string
	Side     Side
	Size     decimal.Decimal
	Price    decimal.Decimal
	Producer string
	Purpose  string // "open" or "close"
}

// OrderResult wraps the venue response after order submission.
type OrderResult struct {
	Success     bool
	OrderID     string
	FilledPrice decimal.Decimal
	Message     string
	FilledAt    time.Time
}

// OrderExecutor places orders. Retry and backoff belong to the implementation.
type OrderExecutor interface {
	Place(ctx context.Context, req OrderRequest) (OrderResult, error)
}
