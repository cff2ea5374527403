package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAligner(selection OffsetSelection, alignables ...Alignable) *Aligner {
	config := DefaultAlignerConfig()
	config.Selection = selection
	return NewAligner("test", config, func() []Alignable { return alignables })
}

func TestAlignerFirstObservationPublishes(t *testing.T) {
	first := &testAlignable{}
	second := &testAlignable{}
	aligner := newTestAligner(SelectClosestToZero, first, second)
	defer aligner.Stop()

	capture := time.Unix(2000, 0)
	aligner.Record(capture, capture.Add(80*time.Millisecond), true)

	offset, ok := aligner.Offset()
	require.True(t, ok)
	assert.Equal(t, 80*time.Millisecond, offset)

	for _, alignable := range []*testAlignable{first, second} {
		value, ok := alignable.diff.Get()
		require.True(t, ok)
		assert.Equal(t, 80*time.Millisecond, value)
	}
}

func TestAlignerSelection(t *testing.T) {
	capture := time.Unix(3000, 0)
	diffs := []time.Duration{120 * time.Millisecond, -30 * time.Millisecond, 50 * time.Millisecond, -200 * time.Millisecond}

	tests := []struct {
		name      string
		selection OffsetSelection
		expected  time.Duration
	}{
		{name: "closest_to_zero", selection: SelectClosestToZero, expected: -30 * time.Millisecond},
		{name: "minimum", selection: SelectMinimum, expected: -200 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alignable := &testAlignable{}
			aligner := newTestAligner(tt.selection, alignable)
			defer aligner.Stop()

			var last time.Time
			for i, diff := range diffs {
				arrival := capture.Add(time.Duration(i) * 10 * time.Millisecond)
				last = arrival
				aligner.Record(arrival.Add(-diff), arrival, true)
			}

			offset, ok := aligner.Refresh(last)
			require.True(t, ok)
			assert.Equal(t, tt.expected, offset)

			value, ok := alignable.diff.Get()
			require.True(t, ok)
			assert.Equal(t, tt.expected, value)
		})
	}
}

func TestAlignerEmptyWindowResetsOffset(t *testing.T) {
	alignable := &testAlignable{}
	aligner := newTestAligner(SelectClosestToZero, alignable)
	defer aligner.Stop()

	arrival := time.Unix(4000, 0)
	aligner.Record(arrival.Add(-40*time.Millisecond), arrival, true)
	_, ok := aligner.Offset()
	require.True(t, ok)

	_, ok = aligner.Refresh(arrival.Add(10 * time.Second))
	assert.False(t, ok)
	_, ok = aligner.Offset()
	assert.False(t, ok)
}

func TestAlignerMaintenanceLoop(t *testing.T) {
	alignable := &testAlignable{}
	config := DefaultAlignerConfig()
	config.RefreshInterval = 5 * time.Millisecond
	aligner := NewAligner("loop", config, func() []Alignable { return []Alignable{alignable} })

	start := time.Unix(5000, 0)
	tp := newMockTimeProvider(start)
	aligner.SetTimeProvider(tp)

	aligner.Record(start.Add(-90*time.Millisecond), start, false)
	value, ok := alignable.diff.Get()
	require.True(t, ok)
	assert.Equal(t, 90*time.Millisecond, value)

	// A closer observation is only published by the loop.
	aligner.Record(start.Add(-20*time.Millisecond), start, false)
	assert.Eventually(t, func() bool {
		value, ok := alignable.diff.Get()
		return ok && value == 20*time.Millisecond
	}, time.Second, 5*time.Millisecond)

	aligner.Stop()
	aligner.Stop()
}

func TestOffsetSelectionString(t *testing.T) {
	assert.Equal(t, "closest_to_zero", SelectClosestToZero.String())
	assert.Equal(t, "minimum", SelectMinimum.String())
	assert.Equal(t, "unknown", OffsetSelection(9).String())
}
