package storage

import "errors"

var (
	// ErrPositionNotFound is returned when an operation references an unknown position.
	ErrPositionNotFound = errors.New("position not found")
	// ErrNotTerminal is returned when archiving a position that is neither closed nor cancelled.
	ErrNotTerminal = errors.New("position is not closed or cancelled")
	// ErrUnknownDriver is returned for an unsupported storage driver.
	ErrUnknownDriver = errors.New("unknown storage driver")
)
