package video

import (
	"time"
)

// Dequeuer paces reads from a video jitter buffer.
type Dequeuer interface {
	// CalculateWaitTime returns how long to wait before the next read.
	CalculateWaitTime(now time.Time) time.Duration
}

// PIDGains are the coefficients of a PIDDequeuer.
type PIDGains struct {
	Kp float64
	Ki float64
	Kd float64
}

// DefaultPIDGains returns the default controller coefficients.
func DefaultPIDGains() PIDGains {
	return PIDGains{
		Kp: 0.01,  // Proportional
		Ki: 0.001, // Integral
		Kd: 0.001, // Derivative
	}
}

// PIDDequeuer varies the read interval around the frame duration to steer
// the buffer towards a target depth. Arithmetic is in seconds.
type PIDDequeuer struct {
	targetDepth   float64
	frameDuration float64
	gains         PIDGains

	currentDepth float64
	integral     float64
	lastError    float64
}

// NewPIDDequeuer creates a PID pacing controller.
func NewPIDDequeuer(targetDepth, frameDuration time.Duration, gains PIDGains) *PIDDequeuer {
	return &PIDDequeuer{
		targetDepth:   targetDepth.Seconds(),
		frameDuration: frameDuration.Seconds(),
		gains:         gains,
	}
}

// SetCurrentDepth sets the measured buffer depth used by the next calculation.
func (p *PIDDequeuer) SetCurrentDepth(depth time.Duration) {
	p.currentDepth = depth.Seconds()
}

// CalculateWaitTime advances the controller and returns the next interval.
// A buffer below target yields a longer wait so it can fill.
func (p *PIDDequeuer) CalculateWaitTime(time.Time) time.Duration {
	e := p.targetDepth - p.currentDepth
	p.integral += e
	derivative := e - p.lastError
	p.lastError = e
	wait := p.frameDuration + p.gains.Kp*e + p.gains.Ki*p.integral + p.gains.Kd*derivative
	return time.Duration(wait * float64(time.Second))
}

// IntervalDequeuer schedules frame N at anchor + minDepth + N*frameDuration.
type IntervalDequeuer struct {
	minDepth      time.Duration
	frameDuration time.Duration
	anchor        time.Time
	dequeued      uint64
}

// NewIntervalDequeuer creates an interval scheduler anchored at the arrival
// of the first frame.
func NewIntervalDequeuer(minDepth, frameDuration time.Duration, anchor time.Time) *IntervalDequeuer {
	return &IntervalDequeuer{
		minDepth:      minDepth,
		frameDuration: frameDuration,
		anchor:        anchor,
	}
}

// CalculateWaitTime returns the time from now until the next frame is due.
func (d *IntervalDequeuer) CalculateWaitTime(now time.Time) time.Duration {
	due := d.anchor.Add(d.minDepth + time.Duration(d.dequeued)*d.frameDuration)
	return due.Sub(now)
}

// Dequeued records that a frame was read.
func (d *IntervalDequeuer) Dequeued() {
	d.dequeued++
}

// Count returns the number of frames read.
func (d *IntervalDequeuer) Count() uint64 {
	return d.dequeued
}
