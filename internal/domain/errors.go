package domain

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAlreadyExists    = errors.New("already exists")
	ErrRateLimited      = errors.New("rate limited")
	ErrInvalidSignal    = errors.New("invalid signal")
	ErrInvalidOrder     = errors.New("invalid order parameters")
	ErrInsufficientData = errors.New("insufficient data")
	ErrNoPrice          = errors.New("no current price")
	ErrCircuitOpen      = errors.New("circuit breaker open")
	ErrWSDisconnect     = errors.New("websocket disconnected")
	ErrLockHeld         = errors.New("lock already held")
)
