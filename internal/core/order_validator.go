package core

import (
	"errors"
	"fmt"

	"GebLedger/internal/event"
)

// ErrOutOfOrder is returned for a new event at or behind the applied position.
var ErrOutOfOrder = errors.New("out-of-order event")

// OrderValidator enforces strict chain order: every new event must sit
// after the last applied (block, logIndex). Log positions are sparse, so
// gaps are expected and never reported.
// Not thread-safe: only accessed from the single-threaded processor.
type OrderValidator struct {
	last    event.Meta
	started bool
}

func NewOrderValidator() *OrderValidator {
	return &OrderValidator{}
}

// Validate checks meta against the applied position. Replays of already
// applied events are accepted when flagged as duplicates; the caller then
// skips them.
func (ov *OrderValidator) Validate(meta event.Meta, isDuplicate bool) error {
	if !ov.started || ov.last.Before(meta) {
		return nil
	}

	if isDuplicate {
		return nil
	}

	return fmt.Errorf("%w: applied=%d/%d, got=%d/%d",
		ErrOutOfOrder, ov.last.BlockNumber, ov.last.LogIndex, meta.BlockNumber, meta.LogIndex)
}

// Advance moves the applied position to meta after a successful commit.
func (ov *OrderValidator) Advance(meta event.Meta) {
	ov.last = meta
	ov.started = true
}

// SetPosition initializes the applied position (used during recovery).
func (ov *OrderValidator) SetPosition(meta event.Meta) {
	ov.Advance(meta)
}

// Position returns the last applied position, if any.
func (ov *OrderValidator) Position() (event.Meta, bool) {
	return ov.last, ov.started
}
