package jitter

import (
	"math"
	"sync"
	"time"
)

// smoothingAlpha weights the newest jitter sample in the slow average.
const smoothingAlpha = 0.1

// Estimator computes RFC 3550 interarrival jitter with an additional slower
// exponential average used to size adaptive target depths.
type Estimator struct {
	mu       sync.Mutex
	transit  float64
	jitter   float64
	smoothed float64
}

// NewEstimator creates a jitter estimator.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Record adds a unit captured at timestamp that arrived at arrival.
func (e *Estimator) Record(timestamp, arrival time.Time) {
	transit := arrival.Sub(timestamp).Seconds()

	e.mu.Lock()
	defer e.mu.Unlock()

	d := math.Abs(transit - e.transit)
	e.transit = transit
	e.jitter += (d - e.jitter) / 16
	e.smoothed = smoothingAlpha*e.jitter + (1-smoothingAlpha)*e.smoothed
}

// Jitter returns the RFC 3550 interarrival jitter.
func (e *Estimator) Jitter() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return secondsToDuration(e.jitter)
}

// Smoothed returns the slowly smoothed jitter.
func (e *Estimator) Smoothed() time.Duration {
	e.mu.Lock()
	defer e.mu.Unlock()
	return secondsToDuration(e.smoothed)
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
