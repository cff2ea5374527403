package audio

import "errors"

// Sentinel errors for audio package operations.
// These errors enable reliable error classification using errors.Is().

// Playout errors.
var (
	// ErrPlayoutFull indicates decoded audio did not fit in the playout buffer.
	ErrPlayoutFull = errors.New("playout buffer full")

	// ErrConcealmentOverflow indicates a sequence gap too large to conceal.
	ErrConcealmentOverflow = errors.New("discontinuity too large to conceal")

	// ErrMissingTiming indicates no alignment offset is available yet.
	ErrMissingTiming = errors.New("missing timing information")
)

// Decode errors.
var (
	// ErrDecode indicates the decoder rejected a packet.
	ErrDecode = errors.New("audio decode failed")

	// ErrInvalidPacket indicates a packet too short or malformed to size.
	ErrInvalidPacket = errors.New("invalid audio packet")

	// ErrInvalidFormat indicates an unsupported sample rate or channel count.
	ErrInvalidFormat = errors.New("invalid audio format")

	// ErrFormatMismatch indicates samples that do not match the buffer format.
	ErrFormatMismatch = errors.New("audio format mismatch")
)
