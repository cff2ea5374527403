package jitter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSlidingWindow(t *testing.T) {
	base := time.Unix(1000, 0)

	tests := []struct {
		name     string
		capacity int
		adds     []time.Duration // offsets from base, value = index
		from     time.Duration
		expected []int
	}{
		{
			name:     "all_within_window",
			adds:     []time.Duration{0, time.Second, 2 * time.Second},
			from:     2 * time.Second,
			expected: []int{0, 1, 2},
		},
		{
			name:     "evicted_on_add",
			adds:     []time.Duration{0, time.Second, 7 * time.Second},
			from:     7 * time.Second,
			expected: []int{2},
		},
		{
			name:     "filtered_on_get",
			adds:     []time.Duration{0, 4 * time.Second},
			from:     6 * time.Second,
			expected: []int{1},
		},
		{
			name:     "boundary_inclusive",
			adds:     []time.Duration{0},
			from:     5 * time.Second,
			expected: []int{0},
		},
		{
			name:     "capacity_bound",
			capacity: 2,
			adds:     []time.Duration{0, time.Millisecond, 2 * time.Millisecond},
			from:     2 * time.Millisecond,
			expected: []int{1, 2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := NewSlidingWindow[int](5*time.Second, tt.capacity)
			for i, offset := range tt.adds {
				w.Add(base.Add(offset), i)
			}
			assert.Equal(t, tt.expected, w.Values(base.Add(tt.from)))
		})
	}
}

func TestSlidingWindowEmpty(t *testing.T) {
	w := NewSlidingWindow[time.Duration](time.Second, 0)
	assert.Empty(t, w.Values(time.Now()))
	assert.Equal(t, 0, w.Len())
}

func TestTimeDiff(t *testing.T) {
	var diff TimeDiff

	_, ok := diff.Get()
	assert.False(t, ok)

	diff.Set(35 * time.Millisecond)
	value, ok := diff.Get()
	assert.True(t, ok)
	assert.Equal(t, 35*time.Millisecond, value)

	diff.Set(0)
	value, ok = diff.Get()
	assert.True(t, ok, "zero offset must remain distinguishable from unset")
	assert.Equal(t, time.Microsecond, value)

	diff.Set(-2 * time.Second)
	value, ok = diff.Get()
	assert.True(t, ok)
	assert.Equal(t, -2*time.Second, value)

	diff.Reset()
	_, ok = diff.Get()
	assert.False(t, ok)
}
