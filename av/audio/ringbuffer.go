package audio

import (
	"fmt"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

// segment is a run of interleaved samples whose first frame is due at timestamp.
type segment struct {
	samples   []float32
	timestamp time.Time
	offset    int // Frames already consumed
}

func (s *segment) remaining(channels int) int {
	return len(s.samples)/channels - s.offset
}

// PlayoutBuffer is a bounded queue of decoded audio tagged with playout times.
//
// The decode goroutine enqueues and the render callback dequeues. Each
// dequeue reports the playout time of the first frame it returns, advanced
// for frames consumed by earlier partial reads.
type PlayoutBuffer struct {
	format   Format
	capacity int

	mu       sync.Mutex
	segments deque.Deque[*segment]
	frames   int
}

// NewPlayoutBuffer creates a playout buffer holding up to capacity frames.
//
// Parameters:
//   - format: Sample format of the buffered audio
//   - capacity: Maximum number of buffered frames
//
// Returns:
//   - *PlayoutBuffer: New empty buffer
//   - error: ErrInvalidFormat for a bad format or capacity
func NewPlayoutBuffer(format Format, capacity int) (*PlayoutBuffer, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	if capacity <= 0 {
		return nil, fmt.Errorf("%w: capacity %d frames", ErrInvalidFormat, capacity)
	}
	return &PlayoutBuffer{format: format, capacity: capacity}, nil
}

// Enqueue appends samples due at timestamp.
// Returns ErrPlayoutFull without modifying the buffer if they do not fit.
func (p *PlayoutBuffer) Enqueue(samples []float32, timestamp time.Time) error {
	if len(samples)%p.format.Channels != 0 {
		return fmt.Errorf("%w: %d samples for %d channels", ErrFormatMismatch, len(samples), p.format.Channels)
	}
	frames := len(samples) / p.format.Channels
	if frames == 0 {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.frames+frames > p.capacity {
		return fmt.Errorf("%w: %d buffered, %d offered, capacity %d", ErrPlayoutFull, p.frames, frames, p.capacity)
	}

	p.segments.PushBack(&segment{samples: samples, timestamp: timestamp})
	p.frames += frames
	return nil
}

// Dequeue copies up to len(dst)/channels frames into dst.
//
// Returns:
//   - int: Frames copied
//   - time.Time: Playout time of the first copied frame, zero if none
func (p *PlayoutBuffer) Dequeue(dst []float32) (int, time.Time) {
	channels := p.format.Channels
	want := len(dst) / channels

	p.mu.Lock()
	defer p.mu.Unlock()

	var first time.Time
	copied := 0
	for copied < want && p.segments.Len() > 0 {
		head := p.segments.Front()
		if copied == 0 {
			first = head.timestamp.Add(p.format.DurationOf(head.offset))
		}

		n := min(head.remaining(channels), want-copied)
		start := head.offset * channels
		copy(dst[copied*channels:(copied+n)*channels], head.samples[start:start+n*channels])
		head.offset += n
		copied += n

		if head.remaining(channels) == 0 {
			p.segments.PopFront()
		}
	}
	p.frames -= copied
	return copied, first
}

// Peek returns the buffered frame count and the playout time of the next frame.
func (p *PlayoutBuffer) Peek() (int, time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.segments.Len() == 0 {
		return 0, time.Time{}
	}
	head := p.segments.Front()
	return p.frames, head.timestamp.Add(p.format.DurationOf(head.offset))
}

// Frames returns the number of buffered frames.
func (p *PlayoutBuffer) Frames() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.frames
}

// Capacity returns the maximum number of buffered frames.
func (p *PlayoutBuffer) Capacity() int {
	return p.capacity
}

// Clear discards all buffered audio.
func (p *PlayoutBuffer) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.segments.Clear()
	p.frames = 0
}
