package video

import (
	"errors"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
)

const (
	testFPS      = 25
	testDuration = 40 * time.Millisecond
	testTransit  = 60 * time.Millisecond
)

// testStart is the presentation timestamp of sequence zero.
var testStart = 500 * time.Second

type mockTimeProvider struct {
	mu  sync.Mutex
	now time.Time
}

func (m *mockTimeProvider) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *mockTimeProvider) Since(t time.Time) time.Duration {
	return m.Now().Sub(t)
}

func (m *mockTimeProvider) Set(now time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

type recordingSink struct {
	mu         sync.Mutex
	frames     []*DecodedFrame
	transforms []*Transform
	startTime  *time.Duration
	flushes    int
	fail       bool
}

func (s *recordingSink) Enqueue(frame *DecodedFrame, transform *Transform) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errors.New("sink closed")
	}
	s.frames = append(s.frames, frame)
	s.transforms = append(s.transforms, transform)
	return nil
}

func (s *recordingSink) SetStartTime(pts time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.startTime = &pts
}

func (s *recordingSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSink) sequences() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	seqs := make([]uint64, len(s.frames))
	for i, f := range s.frames {
		seqs[i] = f.Sequence
	}
	return seqs
}

func (s *recordingSink) last() *DecodedFrame {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

// testFrame builds a frame of group 0 whose object id equals its sequence.
func testFrame(seq uint64, width int) *Frame {
	return &Frame{
		Sequence: seq,
		ObjectID: seq,
		PTS:      testStart + time.Duration(seq)*testDuration,
		Width:    width,
		Height:   width * 9 / 16,
		FPS:      testFPS,
		Payload:  []byte{byte(seq)},
	}
}

func arrivalOf(f *Frame) time.Time {
	return jitter.MediaEpoch.Add(f.PTS + testTransit)
}

func testConfig(mode Mode) Config {
	config := DefaultConfig()
	config.Mode = mode
	config.MinDepth = 120 * time.Millisecond
	config.FPS = testFPS
	return config
}
