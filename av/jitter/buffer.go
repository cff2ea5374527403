package jitter

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gammazero/deque"
	"github.com/huandu/skiplist"
	"github.com/sirupsen/logrus"
)

// Item is a media unit held by a Buffer.
//
// Timestamp is the presentation timestamp expressed as an offset from
// MediaEpoch. Duration is the nominal playback duration of the unit.
type Item interface {
	SequenceNumber() uint64
	Timestamp() time.Duration
	Duration() time.Duration
}

// State is the fill gate state of a Buffer.
type State int

const (
	// StateFilling means reads return nothing until MinDepth is buffered.
	StateFilling State = iota
	// StatePlaying means reads return the head item. This state is terminal.
	StatePlaying
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateFilling:
		return "filling"
	case StatePlaying:
		return "playing"
	default:
		return "unknown"
	}
}

// Config holds Buffer configuration.
type Config struct {
	// MinDepth is the buffered duration required to leave StateFilling and
	// the initial base target depth.
	MinDepth time.Duration

	// Capacity is the maximum number of buffered items. Zero disables it.
	Capacity int

	// MaxDuration is the maximum buffered duration. Zero disables it.
	MaxDuration time.Duration

	// Unsorted keeps arrival order for transports that already deliver
	// units in order. No sorting is performed.
	Unsorted bool

	// PlayingFromStart starts the buffer in StatePlaying.
	PlayingFromStart bool
}

// DefaultConfig returns the default buffer configuration.
func DefaultConfig() Config {
	return Config{
		MinDepth:    200 * time.Millisecond, // Initial target and pre-roll
		Capacity:    0,                      // Bounded by duration only
		MaxDuration: 5 * time.Second,        // Maximum stored media
	}
}

// Validate checks the configuration for out of range values.
func (c Config) Validate() error {
	if c.MinDepth < 0 {
		return fmt.Errorf("%w: negative min depth %v", ErrInvalidConfig, c.MinDepth)
	}
	if c.Capacity < 0 {
		return fmt.Errorf("%w: negative capacity %d", ErrInvalidConfig, c.Capacity)
	}
	if c.MaxDuration < 0 {
		return fmt.Errorf("%w: negative max duration %v", ErrInvalidConfig, c.MaxDuration)
	}
	if c.MaxDuration > 0 && c.MinDepth > c.MaxDuration {
		return fmt.Errorf("%w: min depth %v exceeds max duration %v", ErrInvalidConfig, c.MinDepth, c.MaxDuration)
	}
	return nil
}

// BufferStats is a snapshot of the buffer counters.
type BufferStats struct {
	Writes     uint64
	Reads      uint64
	Underruns  uint64
	FullDrops  uint64
	StaleDrops uint64
}

// Buffer is a reorder and delay queue keyed by sequence number.
//
// Exactly one goroutine writes and one goroutine reads. Writes evaluate the
// fill gate; once the buffered duration reaches MinDepth the buffer starts
// playing and never returns to filling, even when drained to empty.
type Buffer struct {
	identifier string
	config     Config

	mu          sync.Mutex
	sorted      *skiplist.SkipList
	fifo        deque.Deque[Item]
	depth       time.Duration
	lastRead    uint64
	lastReadSet bool

	playing      atomic.Bool
	baseTargetUs atomic.Int64
	adjustmentUs atomic.Int64

	writes     atomic.Uint64
	reads      atomic.Uint64
	underruns  atomic.Uint64
	fullDrops  atomic.Uint64
	staleDrops atomic.Uint64
}

// NewBuffer creates a jitter buffer.
//
// Parameters:
//   - identifier: Label used in log output
//   - config: Buffer configuration
//
// Returns:
//   - *Buffer: New buffer in StateFilling, or StatePlaying if configured
//   - error: ErrInvalidConfig if the configuration is out of range
func NewBuffer(identifier string, config Config) (*Buffer, error) {
	logrus.WithFields(logrus.Fields{
		"function":           "NewBuffer",
		"buffer":             identifier,
		"min_depth":          config.MinDepth,
		"capacity":           config.Capacity,
		"max_duration":       config.MaxDuration,
		"unsorted":           config.Unsorted,
		"playing_from_start": config.PlayingFromStart,
	}).Info("Creating jitter buffer")

	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewBuffer",
			"buffer":   identifier,
			"error":    err.Error(),
		}).Error("Jitter buffer configuration rejected")
		return nil, err
	}

	b := &Buffer{
		identifier: identifier,
		config:     config,
	}
	if !config.Unsorted {
		b.sorted = skiplist.New(skiplist.Uint64)
	}
	b.playing.Store(config.PlayingFromStart)
	b.baseTargetUs.Store(config.MinDepth.Microseconds())
	return b, nil
}

// Identifier returns the buffer label.
func (b *Buffer) Identifier() string {
	return b.identifier
}

// Write inserts an item in sequence order.
//
// Returns ErrStale if the item is at or behind the last read sequence and
// ErrFull if the item would exceed the item or duration capacity. In both
// cases the buffer is left unchanged.
func (b *Buffer) Write(item Item) error {
	if item.Duration() < 0 {
		return fmt.Errorf("%w: sequence %d duration %v", ErrInvalidDuration, item.SequenceNumber(), item.Duration())
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	seq := item.SequenceNumber()
	if b.lastReadSet && seq <= b.lastRead {
		b.staleDrops.Add(1)
		logrus.WithFields(logrus.Fields{
			"function":  "Buffer.Write",
			"buffer":    b.identifier,
			"sequence":  seq,
			"last_read": b.lastRead,
		}).Debug("Rejected stale item")
		return fmt.Errorf("%w: sequence %d, last read %d", ErrStale, seq, b.lastRead)
	}

	if !b.config.Unsorted && b.sorted.Get(seq) != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Buffer.Write",
			"buffer":   b.identifier,
			"sequence": seq,
		}).Debug("Ignoring duplicate sequence")
		return nil
	}

	if b.exceedsCapacity(item) {
		b.fullDrops.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Buffer.Write",
			"buffer":   b.identifier,
			"sequence": seq,
			"items":    b.lenLocked(),
			"depth":    b.depth,
		}).Debug("Rejected item on full buffer")
		return fmt.Errorf("%w: sequence %d", ErrFull, seq)
	}

	if b.config.Unsorted {
		b.fifo.PushBack(item)
	} else {
		b.sorted.Set(seq, item)
	}
	b.depth += item.Duration()
	b.writes.Add(1)

	if !b.playing.Load() && b.depth >= b.config.MinDepth {
		b.playing.Store(true)
		logrus.WithFields(logrus.Fields{
			"function":  "Buffer.Write",
			"buffer":    b.identifier,
			"depth":     b.depth,
			"min_depth": b.config.MinDepth,
		}).Info("Jitter buffer filled, starting playout")
	}
	return nil
}

func (b *Buffer) exceedsCapacity(item Item) bool {
	if b.config.Capacity > 0 && b.lenLocked() >= b.config.Capacity {
		return true
	}
	return b.config.MaxDuration > 0 && b.depth+item.Duration() > b.config.MaxDuration
}

// Read removes and returns the oldest item.
//
// Returns nil while filling or when empty. An empty read while playing is
// counted as an underrun.
func (b *Buffer) Read() Item {
	if !b.playing.Load() {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	item := b.popLocked()
	if item == nil {
		b.underruns.Add(1)
		return nil
	}
	b.depth -= item.Duration()
	b.lastRead = item.SequenceNumber()
	b.lastReadSet = true
	b.reads.Add(1)
	return item
}

func (b *Buffer) popLocked() Item {
	if b.config.Unsorted {
		if b.fifo.Len() == 0 {
			return nil
		}
		return b.fifo.PopFront()
	}
	elem := b.sorted.RemoveFront()
	if elem == nil {
		return nil
	}
	return elem.Value.(Item)
}

// Peek returns the oldest item without removing it, or nil if empty.
func (b *Buffer) Peek() Item {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peekLocked()
}

func (b *Buffer) peekLocked() Item {
	if b.config.Unsorted {
		if b.fifo.Len() == 0 {
			return nil
		}
		return b.fifo.Front()
	}
	elem := b.sorted.Front()
	if elem == nil {
		return nil
	}
	return elem.Value.(Item)
}

// Depth returns the summed duration of the buffered items.
func (b *Buffer) Depth() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.depth
}

// Len returns the number of buffered items.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lenLocked()
}

func (b *Buffer) lenLocked() int {
	if b.config.Unsorted {
		return b.fifo.Len()
	}
	return b.sorted.Len()
}

// State returns the fill gate state.
func (b *Buffer) State() State {
	if b.playing.Load() {
		return StatePlaying
	}
	return StateFilling
}

// IsPlaying reports whether the fill gate has opened.
func (b *Buffer) IsPlaying() bool {
	return b.playing.Load()
}

// StartPlaying opens the fill gate regardless of the buffered depth.
func (b *Buffer) StartPlaying() {
	if b.playing.Swap(true) {
		return
	}
	logrus.WithFields(logrus.Fields{
		"function": "Buffer.StartPlaying",
		"buffer":   b.identifier,
	}).Info("Jitter buffer playout started explicitly")
}

// Clear removes every buffered item. The fill gate and read cursor are kept.
func (b *Buffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := b.lenLocked()
	if b.config.Unsorted {
		b.fifo.Clear()
	} else {
		b.sorted.Init()
	}
	b.depth = 0

	logrus.WithFields(logrus.Fields{
		"function": "Buffer.Clear",
		"buffer":   b.identifier,
		"dropped":  dropped,
	}).Info("Cleared jitter buffer")
}

// UpdateLastSequenceRead moves the read cursor as if seq had been read.
// The cursor never moves backwards.
func (b *Buffer) UpdateLastSequenceRead(seq uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.lastReadSet && seq <= b.lastRead {
		return
	}
	b.lastRead = seq
	b.lastReadSet = true
}

// LastSequenceRead returns the read cursor and whether it has been set.
func (b *Buffer) LastSequenceRead() (uint64, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRead, b.lastReadSet
}

// SetBaseTargetDepth sets the depth the buffer aims to hold.
func (b *Buffer) SetBaseTargetDepth(depth time.Duration) {
	b.baseTargetUs.Store(depth.Microseconds())
}

// BaseTargetDepth returns the unadjusted target depth.
func (b *Buffer) BaseTargetDepth() time.Duration {
	return time.Duration(b.baseTargetUs.Load()) * time.Microsecond
}

// SetTargetAdjustment sets a temporary addition to the base target depth.
// Callers reset it to zero when the adjustment is no longer needed.
func (b *Buffer) SetTargetAdjustment(adjustment time.Duration) {
	b.adjustmentUs.Store(adjustment.Microseconds())
}

// CurrentTargetDepth returns the base target depth plus any adjustment.
func (b *Buffer) CurrentTargetDepth() time.Duration {
	return time.Duration(b.baseTargetUs.Load()+b.adjustmentUs.Load()) * time.Microsecond
}

// PlayoutTime returns the local time at which item should be played.
//
// Parameters:
//   - item: Item whose timestamp is converted
//   - offset: Alignment offset between sender and local clocks
//   - since: Origin of the item timeline, normally MediaEpoch
func (b *Buffer) PlayoutTime(item Item, offset time.Duration, since time.Time) time.Time {
	return since.Add(item.Timestamp() + offset + b.CurrentTargetDepth())
}

// CalculateWaitTime returns the time from `from` until item is due.
// Negative values mean the item is late.
func (b *Buffer) CalculateWaitTime(item Item, from time.Time, offset time.Duration) time.Duration {
	return b.PlayoutTime(item, offset, MediaEpoch).Sub(from)
}

// NextWaitTime returns the wait until the head item is due.
// The boolean is false when the buffer is empty.
func (b *Buffer) NextWaitTime(from time.Time, offset time.Duration) (time.Duration, bool) {
	head := b.Peek()
	if head == nil {
		return 0, false
	}
	return b.CalculateWaitTime(head, from, offset), true
}

// Stats returns a snapshot of the buffer counters.
func (b *Buffer) Stats() BufferStats {
	return BufferStats{
		Writes:     b.writes.Load(),
		Reads:      b.reads.Load(),
		Underruns:  b.underruns.Load(),
		FullDrops:  b.fullDrops.Load(),
		StaleDrops: b.staleDrops.Load(),
	}
}
