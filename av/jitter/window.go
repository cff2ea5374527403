package jitter

import (
	"time"

	"github.com/gammazero/deque"
)

type windowSample[T any] struct {
	at    time.Time
	value T
}

// SlidingWindow holds timestamped values whose validity is bounded by age
// and, optionally, by count. It is not safe for concurrent use.
type SlidingWindow[T any] struct {
	length   time.Duration
	capacity int
	samples  deque.Deque[windowSample[T]]
}

// NewSlidingWindow creates a window retaining values for length.
// A positive capacity also caps the number of retained samples.
func NewSlidingWindow[T any](length time.Duration, capacity int) *SlidingWindow[T] {
	return &SlidingWindow[T]{length: length, capacity: capacity}
}

// Add appends value observed at `at`, evicting samples older than the
// window length relative to `at`.
func (w *SlidingWindow[T]) Add(at time.Time, value T) {
	for w.samples.Len() > 0 && at.Sub(w.samples.Front().at) > w.length {
		w.samples.PopFront()
	}
	if w.capacity > 0 {
		for w.samples.Len() >= w.capacity {
			w.samples.PopFront()
		}
	}
	w.samples.PushBack(windowSample[T]{at: at, value: value})
}

// Values returns the samples no older than the window length at `from`.
func (w *SlidingWindow[T]) Values(from time.Time) []T {
	values := make([]T, 0, w.samples.Len())
	for i := 0; i < w.samples.Len(); i++ {
		sample := w.samples.At(i)
		if from.Sub(sample.at) <= w.length {
			values = append(values, sample.value)
		}
	}
	return values
}

// Len returns the number of stored samples, including expired ones not
// yet evicted.
func (w *SlidingWindow[T]) Len() int {
	return w.samples.Len()
}
