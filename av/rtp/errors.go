package rtp

import "errors"

// Sentinel errors for RTP ingest.
var (
	// ErrEmptyPacket indicates a zero-length datagram.
	ErrEmptyPacket = errors.New("empty RTP packet")

	// ErrUnexpectedSSRC indicates a packet from a stream other than the
	// one the depacketizer locked onto.
	ErrUnexpectedSSRC = errors.New("unexpected SSRC")

	// ErrUnexpectedPayloadType indicates a payload type that does not
	// match the configured one.
	ErrUnexpectedPayloadType = errors.New("unexpected payload type")

	// ErrSequenceUnderflow indicates a packet that would extend to a
	// sequence number before the start of the stream.
	ErrSequenceUnderflow = errors.New("sequence number precedes stream start")

	// ErrInvalidClockRate indicates a zero clock rate.
	ErrInvalidClockRate = errors.New("invalid clock rate")
)
