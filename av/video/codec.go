package video

import (
	"fmt"
	"time"
)

// Decoder turns encoded frames into displayable frames.
//
// Decoders are used from a single goroutine: the handler's dequeue loop, or
// the submitting goroutine in ModeNone.
type Decoder interface {
	// Decode decodes one frame. A nil result with a nil error means the
	// decoder consumed the frame without producing output.
	Decode(frame *Frame) (*DecodedFrame, error)

	// Reset discards decoder state, after which the next frame must be a
	// group start.
	Reset() error
}

// Sink receives frames ready for display.
type Sink interface {
	// Enqueue queues a frame for display with an optional orientation
	// transform.
	Enqueue(frame *DecodedFrame, transform *Transform) error
}

// TimebaseSetter is implemented by sinks with a controllable presentation
// clock. Layer mode sets the start anchor through it.
type TimebaseSetter interface {
	SetStartTime(pts time.Duration)
}

// Flusher is implemented by sinks that can drop queued frames.
type Flusher interface {
	Flush() error
}

// PassthroughDecoder copies the payload through unchanged. It is used for
// uncompressed frames and when decoding happens in the sink.
type PassthroughDecoder struct{}

// Decode wraps the frame payload as a decoded frame.
func (PassthroughDecoder) Decode(frame *Frame) (*DecodedFrame, error) {
	if frame == nil || len(frame.Payload) == 0 {
		return nil, ErrEmptyFrame
	}
	return &DecodedFrame{
		Sequence:      frame.Sequence,
		PTS:           frame.PTS,
		Length:        frame.Length,
		Width:         frame.Width,
		Height:        frame.Height,
		FPS:           frame.FPS,
		Data:          frame.Payload,
		Discontinuous: frame.Discontinuous,
	}, nil
}

// Reset does nothing.
func (PassthroughDecoder) Reset() error { return nil }

// DecoderFactory creates the decoder for a variant.
type DecoderFactory func(config Config) (Decoder, error)

// PassthroughFactory returns a factory producing PassthroughDecoder values.
func PassthroughFactory() DecoderFactory {
	return func(Config) (Decoder, error) {
		return PassthroughDecoder{}, nil
	}
}

func decodeFrame(decoder Decoder, frame *Frame) (*DecodedFrame, error) {
	if decoder == nil {
		return nil, ErrNoDecoder
	}
	decoded, err := decoder.Decode(frame)
	if err != nil {
		return nil, fmt.Errorf("decode frame %d: %w", frame.Sequence, err)
	}
	return decoded, nil
}
