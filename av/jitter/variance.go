package jitter

import (
	"sync"
	"time"

	"github.com/huandu/skiplist"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// VarianceCalculator measures how far apart the variants of one source
// deliver the same presentation instant.
//
// Arrival times are collected per presentation timestamp until every
// expected variant has reported, at which point the spread between the
// earliest and latest arrival is returned.
type VarianceCalculator struct {
	identifier          string
	expectedOccurrences int
	maxInFlight         int

	mu      sync.Mutex
	pending *skiplist.SkipList // presentation timestamp -> []time.Time

	onVariance func(variance time.Duration, count int)
}

// NewVarianceCalculator creates a calculator expecting expectedOccurrences
// arrivals per timestamp, keeping at most maxInFlight incomplete timestamps.
func NewVarianceCalculator(identifier string, expectedOccurrences, maxInFlight int) *VarianceCalculator {
	if maxInFlight <= 0 {
		maxInFlight = 10
	}
	return &VarianceCalculator{
		identifier:          identifier,
		expectedOccurrences: expectedOccurrences,
		maxInFlight:         maxInFlight,
		pending:             skiplist.New(skiplist.Int64),
	}
}

// OnVariance sets a callback invoked for every computed variance,
// including those flushed incomplete.
func (v *VarianceCalculator) OnVariance(callback func(variance time.Duration, count int)) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.onVariance = callback
}

// SetExpectedOccurrences updates the number of variants expected per timestamp.
func (v *VarianceCalculator) SetExpectedOccurrences(expected int) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.expectedOccurrences = expected
}

// Record notes that timestamp arrived at now.
// It returns the spread once every expected variant has reported.
func (v *VarianceCalculator) Record(timestamp time.Duration, now time.Time) (time.Duration, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.pending.Len() > v.maxInFlight {
		v.flushOldestLocked()
	}

	key := int64(timestamp)
	elem := v.pending.Get(key)
	if elem == nil {
		if v.expectedOccurrences <= 1 {
			v.reportLocked(0, 1)
			return 0, true
		}
		v.pending.Set(key, []time.Time{now})
		return 0, false
	}

	arrivals := append(elem.Value.([]time.Time), now)
	if len(arrivals) < v.expectedOccurrences {
		elem.Value = arrivals
		return 0, false
	}

	v.pending.Remove(key)
	variance := spread(arrivals)
	v.reportLocked(variance, len(arrivals))
	return variance, true
}

func (v *VarianceCalculator) flushOldestLocked() {
	flush := v.maxInFlight/2 + 1
	for i := 0; i < flush; i++ {
		elem := v.pending.RemoveFront()
		if elem == nil {
			return
		}
		arrivals := elem.Value.([]time.Time)
		v.reportLocked(spread(arrivals), len(arrivals))
	}
	logrus.WithFields(logrus.Fields{
		"function":   "VarianceCalculator.flushOldestLocked",
		"calculator": v.identifier,
		"flushed":    flush,
	}).Debug("Flushed incomplete variance sets")
}

func (v *VarianceCalculator) reportLocked(variance time.Duration, count int) {
	if v.onVariance != nil {
		v.onVariance(variance, count)
	}
}

// Pending returns the number of incomplete timestamps.
func (v *VarianceCalculator) Pending() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.pending.Len()
}

func spread(arrivals []time.Time) time.Duration {
	oldest := lo.MinBy(arrivals, func(a, b time.Time) bool { return a.Before(b) })
	newest := lo.MaxBy(arrivals, func(a, b time.Time) bool { return a.After(b) })
	return newest.Sub(oldest)
}
