package video

import "errors"

// Sentinel errors for video package operations.
// These errors enable reliable error classification using errors.Is().

// Configuration errors.
var (
	// ErrLayerWithSimulreceive indicates layer mode was combined with
	// simulreceive, which needs decoded frames to choose between.
	ErrLayerWithSimulreceive = errors.New("simulreceive and layer mode are not compatible")

	// ErrInvalidConfig indicates a configuration value is out of range.
	ErrInvalidConfig = errors.New("invalid video configuration")
)

// Subscription errors.
var (
	// ErrUnknownVariant indicates a variant not registered with the set.
	ErrUnknownVariant = errors.New("unknown video variant")

	// ErrVariantExists indicates a variant registered twice.
	ErrVariantExists = errors.New("video variant already registered")
)

// Decode errors.
var (
	// ErrNoDecoder indicates a decoding mode without a decoder.
	ErrNoDecoder = errors.New("no video decoder")

	// ErrEmptyFrame indicates a frame without payload.
	ErrEmptyFrame = errors.New("empty video frame")
)
