package audio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPlayoutBuffer(t *testing.T) {
	_, err := NewPlayoutBuffer(PlayoutFormat, 0)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	_, err = NewPlayoutBuffer(Format{}, 10)
	assert.ErrorIs(t, err, ErrInvalidFormat)

	p, err := NewPlayoutBuffer(PlayoutFormat, 10)
	require.NoError(t, err)
	assert.Equal(t, 10, p.Capacity())
	assert.Zero(t, p.Frames())
}

func TestPlayoutBufferTimestamps(t *testing.T) {
	format := Format{SampleRate: 1000, Channels: 1} // 1 frame per ms
	p, err := NewPlayoutBuffer(format, 100)
	require.NoError(t, err)

	base := time.Unix(100, 0)
	require.NoError(t, p.Enqueue([]float32{1, 2, 3, 4}, base))
	require.NoError(t, p.Enqueue([]float32{5, 6}, base.Add(10*time.Millisecond)))
	assert.Equal(t, 6, p.Frames())

	dst := make([]float32, 3)
	n, ts := p.Dequeue(dst)
	assert.Equal(t, 3, n)
	assert.True(t, ts.Equal(base))
	assert.Equal(t, []float32{1, 2, 3}, dst)

	frames, next := p.Peek()
	assert.Equal(t, 3, frames)
	assert.True(t, next.Equal(base.Add(3*time.Millisecond)))

	// Crossing a segment boundary reports the first frame's time.
	n, ts = p.Dequeue(dst)
	assert.Equal(t, 3, n)
	assert.True(t, ts.Equal(base.Add(3*time.Millisecond)))
	assert.Equal(t, []float32{4, 5, 6}, dst)

	n, ts = p.Dequeue(dst)
	assert.Zero(t, n)
	assert.True(t, ts.IsZero())
}

func TestPlayoutBufferFull(t *testing.T) {
	p, err := NewPlayoutBuffer(PlayoutFormat, 4)
	require.NoError(t, err)

	require.NoError(t, p.Enqueue([]float32{1, 2, 3}, time.Now()))
	err = p.Enqueue([]float32{4, 5}, time.Now())
	assert.ErrorIs(t, err, ErrPlayoutFull)
	assert.Equal(t, 3, p.Frames(), "rejected enqueue must not modify the buffer")

	require.NoError(t, p.Enqueue([]float32{4}, time.Now()))
	assert.Equal(t, 4, p.Frames())
}

func TestPlayoutBufferStereo(t *testing.T) {
	p, err := NewPlayoutBuffer(Format{SampleRate: 48000, Channels: 2}, 10)
	require.NoError(t, err)

	assert.ErrorIs(t, p.Enqueue([]float32{1, 2, 3}, time.Now()), ErrFormatMismatch)
	require.NoError(t, p.Enqueue([]float32{1, 2, 3, 4}, time.Now()))

	dst := make([]float32, 6)
	n, _ := p.Dequeue(dst)
	assert.Equal(t, 2, n)
	assert.Equal(t, []float32{1, 2, 3, 4, 0, 0}, dst)
}

func TestPlayoutBufferClear(t *testing.T) {
	p, err := NewPlayoutBuffer(PlayoutFormat, 10)
	require.NoError(t, err)
	require.NoError(t, p.Enqueue([]float32{1, 2}, time.Now()))

	p.Clear()
	assert.Zero(t, p.Frames())
	frames, ts := p.Peek()
	assert.Zero(t, frames)
	assert.True(t, ts.IsZero())
}
