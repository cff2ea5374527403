package av

import "errors"

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Lifecycle errors.
var (
	// ErrAlreadyRunning indicates Start was called on a running service.
	ErrAlreadyRunning = errors.New("service is already running")

	// ErrNotRunning indicates the service has not been started.
	ErrNotRunning = errors.New("service is not running")
)

// Source errors.
var (
	// ErrSourceNotFound indicates the source identifier is not registered.
	ErrSourceNotFound = errors.New("source not found")

	// ErrSourceExists indicates a source with this identifier is registered.
	ErrSourceExists = errors.New("source already exists")

	// ErrTrackNotFound indicates the track is not part of the source.
	ErrTrackNotFound = errors.New("track not found")

	// ErrMediaKindMismatch indicates a unit whose kind does not match the
	// source it was submitted to.
	ErrMediaKindMismatch = errors.New("media kind does not match source")

	// ErrUnsupportedMediaType indicates an object with no playout path.
	ErrUnsupportedMediaType = errors.New("unsupported media type")

	// ErrNoVariants indicates a video source declared without variants.
	ErrNoVariants = errors.New("video source has no variants")
)
