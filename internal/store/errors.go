package store

import "errors"

var (
	// ErrNotFound is returned when a requested entity does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput is returned for empty kinds or ids.
	ErrInvalidInput = errors.New("invalid input")

	// ErrClosed is returned when a unit of work is used after commit or discard.
	ErrClosed = errors.New("unit of work closed")
)
