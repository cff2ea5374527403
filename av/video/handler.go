package video

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/sirupsen/logrus"
)

// Mode selects how a video handler paces frames.
type Mode int

const (
	// ModeNone decodes each frame as it is submitted.
	ModeNone Mode = iota
	// ModeInterval releases frames on a fixed grid anchored at the first
	// arrival, or at their aligned presentation time once known.
	ModeInterval
	// ModePID varies the release interval to hold the buffer at its target.
	ModePID
	// ModeLayer hands encoded frames straight to the sink, which paces them
	// against a start anchor.
	ModeLayer
)

// String returns the string representation of the mode.
func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeInterval:
		return "interval"
	case ModePID:
		return "pid"
	case ModeLayer:
		return "layer"
	default:
		return "unknown"
	}
}

// buffered reports whether the mode uses a jitter buffer.
func (m Mode) buffered() bool {
	return m == ModeInterval || m == ModePID
}

// Config holds video handler configuration.
type Config struct {
	Mode      Mode
	Behaviour Behaviour

	// MinDepth is the pre-roll and the initial target depth.
	MinDepth time.Duration

	// Capacity is the buffered duration at which writes are refused.
	Capacity time.Duration

	// FPS is the frame rate assumed when frames do not carry one.
	FPS int

	// Width and Height describe the variant for selection.
	Width  int
	Height int

	// Adaptive enables jitter-driven target depth.
	Adaptive bool

	// Gains are the PID coefficients used in ModePID.
	Gains PIDGains

	// Unsorted trusts the transport to deliver in order.
	Unsorted bool
}

// DefaultConfig returns the default video handler configuration.
func DefaultConfig() Config {
	return Config{
		Mode:      ModeInterval,
		Behaviour: BehaviourFreeze,
		MinDepth:  200 * time.Millisecond, // Pre-roll
		Capacity:  2 * time.Second,        // Buffer bound
		FPS:       30,
		Gains:     DefaultPIDGains(),
	}
}

// Validate checks the configuration for out of range values.
func (c Config) Validate() error {
	if c.MinDepth < 0 || c.Capacity <= 0 || c.MinDepth > c.Capacity {
		return fmt.Errorf("%w: min depth %v, capacity %v", ErrInvalidConfig, c.MinDepth, c.Capacity)
	}
	if c.FPS <= 0 {
		return fmt.Errorf("%w: fps %d", ErrInvalidConfig, c.FPS)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("%w: size %dx%d", ErrInvalidConfig, c.Width, c.Height)
	}
	if c.Mode < ModeNone || c.Mode > ModeLayer {
		return fmt.Errorf("%w: mode %d", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// FrameDuration returns the nominal frame duration at the configured rate.
func (c Config) FrameDuration() time.Duration {
	return frameDuration(c.FPS)
}

func frameDuration(fps int) time.Duration {
	if fps <= 0 {
		return 0
	}
	return time.Second / time.Duration(fps)
}

// Stats is a snapshot of video handler counters.
type Stats struct {
	Received      uint64
	Decoded       uint64
	GateDrops     uint64
	Discontinuous uint64
	DecodeErrors  uint64
	SinkErrors    uint64
	Buffer        jitter.BufferStats
}

// Handler plays out one video variant.
//
// Frames enter through Submit. Depending on the mode they are decoded
// immediately, passed to the sink untouched, or buffered and released by
// the loop in Run. Decoded frames go to the sink, or when the handler
// belongs to a simulreceive set, to a single slot mailbox that the set's
// selector drains.
type Handler struct {
	identifier string
	config     Config
	decoder    Decoder
	sink       Sink
	gate       NameGate
	estimator  *jitter.Estimator
	timeDiff   jitter.TimeDiff

	mu           sync.Mutex
	buffer       *jitter.Buffer
	dequeuer     Dequeuer
	duration     time.Duration
	playRequest  bool
	anchored     bool
	timeProvider jitter.TimeProvider

	// Touched only by the goroutine that decodes.
	lastGroup  *uint64
	lastObject *uint64

	orientation    atomic.Uint32
	verticalMirror atomic.Bool

	slotMu sync.Mutex
	slot   *DecodedFrame

	// Set by an owning SubscriptionSet before the handler receives frames.
	mailbox     bool
	onReceived  func(h *Handler, frame *Frame, arrival time.Time, cached bool)
	onDecoded   func(h *Handler)
	onDisplayed func(h *Handler, frame *DecodedFrame)

	objectCallbacks callbackTable[ObjectReceived]

	received      atomic.Uint64
	decoded       atomic.Uint64
	gateDrops     atomic.Uint64
	discontinuous atomic.Uint64
	decodeErrors  atomic.Uint64
	sinkErrors    atomic.Uint64
}

// NewHandler creates a video playout handler.
//
// Parameters:
//   - identifier: Variant label used in log output and selection
//   - config: Playout configuration
//   - decoder: Decoder for the variant, unused in ModeLayer
//   - sink: Destination for displayable frames
//
// Returns:
//   - *Handler: New handler awaiting its first frame
//   - error: Configuration error
func NewHandler(identifier string, config Config, decoder Decoder, sink Sink) (*Handler, error) {
	logrus.WithFields(logrus.Fields{
		"function":  "NewHandler",
		"handler":   identifier,
		"mode":      config.Mode.String(),
		"behaviour": config.Behaviour.String(),
		"min_depth": config.MinDepth,
		"capacity":  config.Capacity,
		"fps":       config.FPS,
		"adaptive":  config.Adaptive,
	}).Info("Creating video handler")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if decoder == nil && config.Mode != ModeLayer {
		return nil, fmt.Errorf("%w: mode %s", ErrNoDecoder, config.Mode)
	}

	return &Handler{
		identifier:   identifier,
		config:       config,
		decoder:      decoder,
		sink:         sink,
		gate:         SequentialObjectGate{},
		estimator:    jitter.NewEstimator(),
		duration:     config.FrameDuration(),
		timeProvider: jitter.DefaultTimeProvider{},
	}, nil
}

// SetNameGate replaces the continuity check applied before decoding.
func (h *Handler) SetNameGate(gate NameGate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.gate = gate
}

// SetTimeProvider sets the time provider used by the dequeue loop.
func (h *Handler) SetTimeProvider(tp jitter.TimeProvider) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.timeProvider = tp
}

func (h *Handler) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeProvider.Now()
}

// Identifier returns the variant label.
func (h *Handler) Identifier() string {
	return h.identifier
}

// Config returns the handler configuration.
func (h *Handler) Config() Config {
	return h.config
}

// TimeDiff returns the alignment offset published to this handler.
func (h *Handler) TimeDiff() *jitter.TimeDiff {
	return &h.timeDiff
}

// Buffer returns the jitter buffer, or nil before the first buffered frame.
func (h *Handler) Buffer() *jitter.Buffer {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.buffer
}

// FrameDuration returns the frame duration in use.
func (h *Handler) FrameDuration() time.Duration {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.duration
}

// Transform returns the display transform from the latest orientation hint.
func (h *Handler) Transform() *Transform {
	return Orientation(h.orientation.Load()).Transform(h.verticalMirror.Load())
}

// RegisterObjectCallback registers a callback for every object submitted or
// dropped.
func (h *Handler) RegisterObjectCallback(callback func(ObjectReceived)) CallbackToken {
	return h.objectCallbacks.register(callback)
}

// UnregisterObjectCallback removes a callback. It reports whether the token
// was registered.
func (h *Handler) UnregisterObjectCallback(token CallbackToken) bool {
	return h.objectCallbacks.unregister(token)
}

// Submit accepts an encoded frame that arrived at arrival.
//
// Cached frames are excluded from time alignment. Returns jitter.ErrFull or
// jitter.ErrStale when the jitter buffer rejects the frame.
func (h *Handler) Submit(frame *Frame, arrival time.Time, cached bool) error {
	if frame == nil {
		return ErrEmptyFrame
	}
	h.received.Add(1)

	pts := frame.PTS
	details := ObjectReceived{
		Timestamp: &pts,
		When:      arrival,
		Cached:    cached,
		GroupID:   frame.GroupID,
		ObjectID:  frame.ObjectID,
		Usable:    true,
	}
	if !frame.Capture.IsZero() {
		capture := frame.Capture
		details.PublishTimestamp = &capture
	}
	h.objectCallbacks.fire(details)
	if h.onReceived != nil {
		h.onReceived(h, frame, arrival, cached)
	}

	switch h.config.Mode {
	case ModeNone:
		h.process(frame)
		return nil
	case ModeLayer:
		h.anchorLayer(frame)
		h.process(frame)
		return nil
	}

	buf, err := h.ensureBuffer(frame, arrival)
	if err != nil {
		return err
	}
	if frame.Length == 0 {
		frame.Length = h.FrameDuration()
	}
	if h.config.Adaptive {
		h.adaptTarget(buf, frame, arrival)
	}

	if err := buf.Write(frame); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.Submit",
			"handler":  h.identifier,
			"sequence": frame.Sequence,
			"group":    frame.GroupID,
			"object":   frame.ObjectID,
			"error":    err.Error(),
		}).Warn("Jitter buffer rejected video frame")
		return err
	}
	return nil
}

// Drop reports an object that could not be used. Object callbacks fire
// with Usable false.
func (h *Handler) Drop(details ObjectReceived) {
	details.Usable = false
	h.objectCallbacks.fire(details)

	logrus.WithFields(logrus.Fields{
		"function": "Handler.Drop",
		"handler":  h.identifier,
		"group":    details.GroupID,
		"object":   details.ObjectID,
	}).Debug("Dropped unusable video object")
}

// anchorLayer sets the sink start time from the first frame, leaving
// MinDepth of headroom.
func (h *Handler) anchorLayer(frame *Frame) {
	h.mu.Lock()
	if h.anchored {
		h.mu.Unlock()
		return
	}
	h.anchored = true
	h.mu.Unlock()

	start := frame.PTS - h.config.MinDepth
	if setter, ok := h.sink.(TimebaseSetter); ok {
		setter.SetStartTime(start)
	}
	logrus.WithFields(logrus.Fields{
		"function": "Handler.anchorLayer",
		"handler":  h.identifier,
		"start":    start,
	}).Info("Anchored layer timebase")
}

// ensureBuffer creates the jitter buffer and dequeuer sized from the first
// frame's rate.
func (h *Handler) ensureBuffer(frame *Frame, arrival time.Time) (*jitter.Buffer, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.buffer != nil {
		return h.buffer, nil
	}

	fps := frame.FPS
	if fps <= 0 {
		fps = h.config.FPS
	}
	duration := frameDuration(fps)
	capacity := int(h.config.Capacity / duration)

	buf, err := jitter.NewBuffer(h.identifier, jitter.Config{
		MinDepth: h.config.MinDepth,
		Capacity: capacity,
		Unsorted: h.config.Unsorted,
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.ensureBuffer",
			"handler":  h.identifier,
			"error":    err.Error(),
		}).Error("Cannot create video jitter buffer")
		return nil, err
	}

	switch h.config.Mode {
	case ModePID:
		h.dequeuer = NewPIDDequeuer(h.config.MinDepth, duration, h.config.Gains)
	default:
		h.dequeuer = NewIntervalDequeuer(h.config.MinDepth, duration, arrival)
	}
	if h.playRequest {
		buf.StartPlaying()
	}
	h.duration = duration
	h.buffer = buf

	logrus.WithFields(logrus.Fields{
		"function": "Handler.ensureBuffer",
		"handler":  h.identifier,
		"fps":      fps,
		"capacity": capacity,
		"mode":     h.config.Mode.String(),
	}).Info("Created video jitter buffer")
	return buf, nil
}

// adaptTarget moves the base target towards three times the smoothed jitter.
func (h *Handler) adaptTarget(buf *jitter.Buffer, frame *Frame, arrival time.Time) {
	h.estimator.Record(jitter.MediaEpoch.Add(frame.PTS), arrival)
	target := max(h.config.MinDepth, 3*h.estimator.Smoothed())

	existing := buf.BaseTargetDepth()
	if existing <= 0 {
		buf.SetBaseTargetDepth(target)
		return
	}
	change := float64(target-existing) / float64(existing)
	if change > 0 || change < -0.1 {
		buf.SetBaseTargetDepth(target)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.adaptTarget",
			"handler":  h.identifier,
			"previous": existing,
			"target":   target,
		}).Debug("Adjusted video target depth")
	}
}

// Play opens the fill gate in ModeInterval without waiting for MinDepth.
// Other modes ignore it.
func (h *Handler) Play() {
	if h.config.Mode != ModeInterval {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.playRequest = true
	if h.buffer != nil {
		h.buffer.StartPlaying()
	}
}

// Run drives the dequeue loop until ctx is cancelled. It returns
// immediately for modes without a jitter buffer.
func (h *Handler) Run(ctx context.Context) error {
	if !h.config.Mode.buffered() {
		return nil
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handler.Run",
		"handler":  h.identifier,
		"mode":     h.config.Mode.String(),
	}).Info("Starting video dequeue loop")

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		wait := h.nextWait(h.now())
		if wait > 0 {
			timer.Reset(wait)
			select {
			case <-ctx.Done():
				return nil
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		h.dequeue()
	}
}

// nextWait returns how long the dequeue loop sleeps before reading.
func (h *Handler) nextWait(now time.Time) time.Duration {
	h.mu.Lock()
	buf, dequeuer, duration := h.buffer, h.dequeuer, h.duration
	h.mu.Unlock()
	if buf == nil {
		return duration
	}

	switch d := dequeuer.(type) {
	case *PIDDequeuer:
		d.SetCurrentDepth(buf.Depth())
		return d.CalculateWaitTime(now)
	case *IntervalDequeuer:
		if offset, ok := h.timeDiff.Get(); ok && buf.IsPlaying() {
			if wait, ok := buf.NextWaitTime(now, offset); ok {
				return wait
			}
		}
		return d.CalculateWaitTime(now)
	}
	return duration
}

// CalculateWaitTime returns the time until the head of the jitter buffer is
// due. The boolean is false without a buffer, head or alignment offset.
func (h *Handler) CalculateWaitTime(now time.Time) (time.Duration, bool) {
	buf := h.Buffer()
	if buf == nil {
		return 0, false
	}
	offset, ok := h.timeDiff.Get()
	if !ok {
		return 0, false
	}
	return buf.NextWaitTime(now, offset)
}

func (h *Handler) dequeue() {
	h.mu.Lock()
	buf, dequeuer := h.buffer, h.dequeuer
	h.mu.Unlock()
	if buf == nil {
		return
	}

	item := buf.Read()
	if item == nil {
		return
	}
	if interval, ok := dequeuer.(*IntervalDequeuer); ok {
		interval.Dequeued()
	}
	frame, ok := item.(*Frame)
	if !ok {
		return
	}
	h.process(frame)
}

// process applies the name gate, decodes and delivers one frame.
func (h *Handler) process(frame *Frame) {
	h.mu.Lock()
	gate := h.gate
	h.mu.Unlock()

	if gate.Allow(frame.GroupID, frame.ObjectID, h.lastGroup, h.lastObject) {
		group, object := frame.GroupID, frame.ObjectID
		h.lastGroup, h.lastObject = &group, &object
	} else {
		if h.config.Behaviour == BehaviourFreeze {
			h.gateDrops.Add(1)
			logrus.WithFields(logrus.Fields{
				"function": "Handler.process",
				"handler":  h.identifier,
				"group":    frame.GroupID,
				"object":   frame.ObjectID,
			}).Debug("Dropping discontinuous video frame")
			return
		}
		frame.Discontinuous = true
		h.discontinuous.Add(1)
	}

	if frame.Orientation != OrientationUnknown {
		h.orientation.Store(uint32(frame.Orientation))
		h.verticalMirror.Store(frame.VerticalMirror)
	}

	var decoded *DecodedFrame
	var err error
	if h.config.Mode == ModeLayer {
		decoded, err = PassthroughDecoder{}.Decode(frame)
	} else {
		decoded, err = decodeFrame(h.decoder, frame)
	}
	if err != nil {
		h.decodeErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.process",
			"handler":  h.identifier,
			"sequence": frame.Sequence,
			"error":    err.Error(),
		}).Error("Failed to decode video")
		return
	}
	if decoded == nil {
		return
	}
	if decoded.FPS == 0 {
		decoded.FPS = frame.FPS
	}
	if decoded.Length == 0 {
		decoded.Length = h.FrameDuration()
	}
	h.decoded.Add(1)
	h.deliver(decoded)
}

func (h *Handler) deliver(decoded *DecodedFrame) {
	if h.mailbox {
		h.slotMu.Lock()
		h.slot = decoded
		h.slotMu.Unlock()
		if h.onDecoded != nil {
			h.onDecoded(h)
		}
		return
	}

	if h.sink == nil {
		return
	}
	if err := h.sink.Enqueue(decoded, h.Transform()); err != nil {
		h.sinkErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.deliver",
			"handler":  h.identifier,
			"sequence": decoded.Sequence,
			"error":    err.Error(),
		}).Warn("Sink rejected video frame")
		return
	}
	if h.onDisplayed != nil {
		h.onDisplayed(h, decoded)
	}
}

// LastDecoded returns the decoded frame waiting in the mailbox, or nil.
func (h *Handler) LastDecoded() *DecodedFrame {
	h.slotMu.Lock()
	defer h.slotMu.Unlock()
	return h.slot
}

// clearLastDecoded empties the mailbox if it still holds frame.
func (h *Handler) clearLastDecoded(frame *DecodedFrame) {
	h.slotMu.Lock()
	defer h.slotMu.Unlock()
	if h.slot == frame {
		h.slot = nil
	}
}

func (h *Handler) resetLastDecoded() {
	h.slotMu.Lock()
	defer h.slotMu.Unlock()
	h.slot = nil
}

// Stats returns a snapshot of the handler counters.
func (h *Handler) Stats() Stats {
	stats := Stats{
		Received:      h.received.Load(),
		Decoded:       h.decoded.Load(),
		GateDrops:     h.gateDrops.Load(),
		Discontinuous: h.discontinuous.Load(),
		DecodeErrors:  h.decodeErrors.Load(),
		SinkErrors:    h.sinkErrors.Load(),
	}
	if buf := h.Buffer(); buf != nil {
		stats.Buffer = buf.Stats()
	}
	return stats
}

// Close drops buffered frames and resets the decoder. The dequeue loop is
// stopped by cancelling the context passed to Run.
func (h *Handler) Close() {
	if buf := h.Buffer(); buf != nil {
		buf.Clear()
	}
	h.resetLastDecoded()
	if h.decoder != nil {
		if err := h.decoder.Reset(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Handler.Close",
				"handler":  h.identifier,
				"error":    err.Error(),
			}).Warn("Decoder reset failed")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handler.Close",
		"handler":  h.identifier,
	}).Info("Video handler closed")
}
