package scheduler

import (
	"errors"

	"github.com/kilianp07/arbitrage/core/timeseries"
)

var (
	// ErrInvalidValue reports an argument outside its allowed range.
	ErrInvalidValue = timeseries.ErrInvalidValue
	// ErrDimensionMismatch reports a price or consumption vector that does not cover the horizon.
	ErrDimensionMismatch = errors.New("dimension mismatch")
	// ErrPrecedence reports a stage invoked before the previous one completed.
	ErrPrecedence = errors.New("stage invoked out of order")
	// ErrNotSolved reports output requested without an optimal solution.
	ErrNotSolved = errors.New("model not solved")
)
