package jitter

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// Alignable is a consumer of the offset published by an Aligner.
type Alignable interface {
	TimeDiff() *TimeDiff
}

// OffsetSelection chooses how the published offset is derived from the window.
type OffsetSelection int

const (
	// SelectClosestToZero publishes the windowed sample nearest zero.
	SelectClosestToZero OffsetSelection = iota
	// SelectMinimum publishes the smallest windowed sample.
	SelectMinimum
)

// String returns the string representation of the selection.
func (s OffsetSelection) String() string {
	switch s {
	case SelectClosestToZero:
		return "closest_to_zero"
	case SelectMinimum:
		return "minimum"
	default:
		return "unknown"
	}
}

// AlignerConfig holds Aligner configuration.
type AlignerConfig struct {
	// WindowLength is the age bound of retained offset samples.
	WindowLength time.Duration

	// Capacity caps the number of retained samples. Zero disables it.
	Capacity int

	// RefreshInterval is the period of the maintenance loop.
	RefreshInterval time.Duration

	// Selection chooses the published sample.
	Selection OffsetSelection
}

// DefaultAlignerConfig returns the default aligner configuration.
func DefaultAlignerConfig() AlignerConfig {
	return AlignerConfig{
		WindowLength:    5 * time.Second,        // Sliding window span
		Capacity:        250,                    // 5s of 20ms units
		RefreshInterval: 250 * time.Millisecond, // Maintenance period
		Selection:       SelectClosestToZero,
	}
}

// Aligner converts (capture, arrival) observations into a single offset
// shared by every variant of one source.
//
// The offset is recomputed synchronously on the first observation and then
// periodically by a maintenance goroutine started on demand. Every refresh
// publishes the offset to all alignables returned by the getter so that
// variants of the same source stay mutually synchronised.
type Aligner struct {
	identifier string
	config     AlignerConfig
	alignables func() []Alignable

	mu     sync.Mutex
	window *SlidingWindow[time.Duration]

	offsetUs atomic.Int64

	timeProvider TimeProvider

	loopMu  sync.Mutex
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewAligner creates a time aligner.
//
// Parameters:
//   - identifier: Label used in log output
//   - config: Aligner configuration
//   - alignables: Returns the consumers to publish offsets to
//
// Returns:
//   - *Aligner: New aligner with no offset
func NewAligner(identifier string, config AlignerConfig, alignables func() []Alignable) *Aligner {
	logrus.WithFields(logrus.Fields{
		"function":         "NewAligner",
		"aligner":          identifier,
		"window_length":    config.WindowLength,
		"capacity":         config.Capacity,
		"refresh_interval": config.RefreshInterval,
		"selection":        config.Selection.String(),
	}).Info("Creating time aligner")

	if config.RefreshInterval <= 0 {
		config.RefreshInterval = DefaultAlignerConfig().RefreshInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Aligner{
		identifier:   identifier,
		config:       config,
		alignables:   alignables,
		window:       NewSlidingWindow[time.Duration](config.WindowLength, config.Capacity),
		timeProvider: DefaultTimeProvider{},
		ctx:          ctx,
		cancel:       cancel,
	}
}

// SetTimeProvider sets the time provider used by the maintenance loop.
func (a *Aligner) SetTimeProvider(tp TimeProvider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.timeProvider = tp
}

// Record adds an observation of a unit captured at capture arriving at arrival.
//
// The first call without force starts the maintenance loop. The offset is
// recomputed immediately when force is set or no offset exists yet.
func (a *Aligner) Record(capture, arrival time.Time, force bool) {
	diff := arrival.Sub(capture)

	a.mu.Lock()
	a.window.Add(arrival, diff)
	a.mu.Unlock()

	if !force {
		a.startLoop()
	}

	if force || a.offsetUs.Load() == 0 {
		a.publish(arrival)
	}
}

// Refresh recomputes the offset as of now and publishes it.
// The boolean is false when the window holds no valid samples.
func (a *Aligner) Refresh(now time.Time) (time.Duration, bool) {
	return a.publish(now)
}

// Offset returns the currently published offset.
func (a *Aligner) Offset() (time.Duration, bool) {
	us := a.offsetUs.Load()
	if us == 0 {
		return 0, false
	}
	return time.Duration(us) * time.Microsecond, true
}

func (a *Aligner) publish(now time.Time) (time.Duration, bool) {
	value, ok := a.compute(now)
	if !ok {
		return 0, false
	}
	if a.alignables == nil {
		return value, true
	}
	for _, alignable := range a.alignables() {
		alignable.TimeDiff().Set(value)
	}
	return value, true
}

func (a *Aligner) compute(now time.Time) (time.Duration, bool) {
	a.mu.Lock()
	values := a.window.Values(now)
	a.mu.Unlock()

	if len(values) == 0 {
		if a.offsetUs.Swap(0) != 0 {
			logrus.WithFields(logrus.Fields{
				"function": "Aligner.compute",
				"aligner":  a.identifier,
			}).Warn("Alignment window empty, offset unavailable")
		}
		return 0, false
	}

	var selected time.Duration
	switch a.config.Selection {
	case SelectMinimum:
		selected = lo.Min(values)
	default:
		selected = closestToZero(values)
	}

	us := selected.Microseconds()
	if us == 0 {
		us = 1
	}
	a.offsetUs.Store(us)
	return selected, true
}

func closestToZero(values []time.Duration) time.Duration {
	return lo.MinBy(values, func(candidate, current time.Duration) bool {
		return absDuration(candidate) < absDuration(current)
	})
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func (a *Aligner) startLoop() {
	a.loopMu.Lock()
	defer a.loopMu.Unlock()
	if a.started || a.stopped {
		return
	}
	a.started = true
	a.wg.Add(1)
	go a.maintenanceLoop()

	logrus.WithFields(logrus.Fields{
		"function": "Aligner.startLoop",
		"aligner":  a.identifier,
		"interval": a.config.RefreshInterval,
	}).Debug("Started alignment maintenance loop")
}

func (a *Aligner) maintenanceLoop() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.config.RefreshInterval)
	defer ticker.Stop()

	for {
		a.mu.Lock()
		now := a.timeProvider.Now()
		a.mu.Unlock()
		a.publish(now)

		select {
		case <-a.ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Stop cancels the maintenance loop and waits for it to exit.
func (a *Aligner) Stop() {
	a.loopMu.Lock()
	a.stopped = true
	a.loopMu.Unlock()

	a.cancel()
	a.wg.Wait()

	logrus.WithFields(logrus.Fields{
		"function": "Aligner.Stop",
		"aligner":  a.identifier,
	}).Debug("Time aligner stopped")
}
