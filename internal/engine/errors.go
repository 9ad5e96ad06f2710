package engine

import (
	"errors"
	"fmt"

	"DealMetrics/internal/store"
)

// ErrNotConfigured is returned when a batch is submitted for a rollup that
// has no registered calculator or store.
var ErrNotConfigured = errors.New("rollup not configured")

// MalformedDealError marks a deal whose grouping fields cannot be derived.
// It fails the whole batch: partial absorption would leave the cursor unable
// to say which deals were applied.
type MalformedDealError struct {
	Rollup string
	DealID int64
	Err    error
}

func (e *MalformedDealError) Error() string {
	return fmt.Sprintf("rollup %s: malformed deal %d: %v", e.Rollup, e.DealID, e.Err)
}

func (e *MalformedDealError) Unwrap() error { return e.Err }

// TransitionError wraps a transition failure with the partition key and deal
// that triggered it.
type TransitionError struct {
	Rollup string
	Key    store.Key
	DealID int64
	Err    error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("rollup %s: transition failed at key %q deal %d: %v", e.Rollup, e.Key, e.DealID, e.Err)
}

func (e *TransitionError) Unwrap() error { return e.Err }

// StateLoadError wraps a store failure while fetching the latest state for a
// partition.
type StateLoadError struct {
	Rollup string
	Key    store.Key
	Err    error
}

func (e *StateLoadError) Error() string {
	return fmt.Sprintf("rollup %s: loading state for key %q: %v", e.Rollup, e.Key, e.Err)
}

func (e *StateLoadError) Unwrap() error { return e.Err }
