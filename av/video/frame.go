package video

import (
	"math"
	"time"
)

// Orientation is the capture rotation signalled by the sender.
type Orientation uint8

const (
	// OrientationUnknown means no rotation hint was received.
	OrientationUnknown Orientation = iota
	OrientationPortrait
	OrientationPortraitUpsideDown
	OrientationLandscapeRight
	OrientationLandscapeLeft
)

// String returns the string representation of the orientation.
func (o Orientation) String() string {
	switch o {
	case OrientationPortrait:
		return "portrait"
	case OrientationPortraitUpsideDown:
		return "portrait_upside_down"
	case OrientationLandscapeRight:
		return "landscape_right"
	case OrientationLandscapeLeft:
		return "landscape_left"
	default:
		return "unknown"
	}
}

// Transform is the display transform derived from orientation hints.
// Rotation is in radians about the view normal.
type Transform struct {
	Rotation float64
	ScaleX   float64
	ScaleY   float64
}

// Transform returns the display transform for o, or nil when unknown.
func (o Orientation) Transform(verticalMirror bool) *Transform {
	t := &Transform{ScaleX: 1, ScaleY: 1}
	switch o {
	case OrientationPortrait:
		t.Rotation = math.Pi / 2
	case OrientationLandscapeLeft:
		t.Rotation = math.Pi
	case OrientationLandscapeRight:
		t.Rotation = -math.Pi
		if verticalMirror {
			t.ScaleX = -1
			return t
		}
	case OrientationPortraitUpsideDown:
		t.Rotation = -math.Pi / 2
	default:
		return nil
	}
	if verticalMirror {
		t.ScaleY = -1
	}
	return t
}

// Frame is one encoded video object.
type Frame struct {
	Sequence uint64
	GroupID  uint64
	ObjectID uint64

	// PTS is the presentation timestamp as an offset from jitter.MediaEpoch.
	PTS time.Duration
	DTS time.Duration

	// Capture is the sender wall clock at capture, zero when not signalled.
	Capture time.Time

	// Length is the nominal display duration, zero if unknown.
	Length time.Duration

	Width  int
	Height int
	FPS    int // Zero when the sender did not signal a rate

	Orientation    Orientation
	VerticalMirror bool

	Payload []byte

	// Discontinuous is set when the frame failed the name gate but was
	// decoded anyway.
	Discontinuous bool
}

// SequenceNumber returns the frame sequence number.
func (f *Frame) SequenceNumber() uint64 { return f.Sequence }

// Timestamp returns the presentation timestamp.
func (f *Frame) Timestamp() time.Duration { return f.PTS }

// Duration returns the nominal display duration.
func (f *Frame) Duration() time.Duration { return f.Length }

// DecodedFrame is a frame ready for display.
type DecodedFrame struct {
	Sequence uint64
	PTS      time.Duration
	Length   time.Duration
	Width    int
	Height   int
	FPS      int

	// Data holds decoder output. Its layout is defined by the decoder.
	Data []byte

	Discontinuous bool
}
