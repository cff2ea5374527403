package jitter

import "errors"

// Sentinel errors for jitter package operations.
// These errors enable reliable error classification using errors.Is().

// Buffer write errors.
var (
	// ErrFull indicates the buffer reached its item or duration capacity.
	ErrFull = errors.New("jitter buffer full")

	// ErrStale indicates the item is at or behind the last read sequence.
	ErrStale = errors.New("item older than last read")
)

// Configuration errors.
var (
	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid jitter configuration")

	// ErrInvalidDuration indicates an item reported a negative duration.
	ErrInvalidDuration = errors.New("invalid item duration")
)
