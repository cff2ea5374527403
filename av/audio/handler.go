package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/sirupsen/logrus"
)

// Config holds audio playout configuration.
type Config struct {
	// JitterDepth is the pre-roll and initial target depth.
	JitterDepth time.Duration

	// JitterMax bounds both the jitter buffer and the playout buffer.
	JitterMax time.Duration

	// Window is the packet duration assumed until the first packet is sized.
	Window time.Duration

	// PlayoutBufferTime is how far ahead of its playout time a packet is
	// decoded into the playout buffer.
	PlayoutBufferTime time.Duration

	// MaxPLCThreshold is the largest sequence gap concealed with PLC.
	MaxPLCThreshold int

	// SlidingWindow is the span of the time alignment window.
	SlidingWindow time.Duration

	// Adaptive enables jitter-driven target depth.
	Adaptive bool

	// Unsorted trusts the transport to deliver in order.
	Unsorted bool
}

// DefaultConfig returns the default audio playout configuration.
func DefaultConfig() Config {
	return Config{
		JitterDepth:       200 * time.Millisecond, // Pre-roll
		JitterMax:         500 * time.Millisecond, // Buffer bound
		Window:            20 * time.Millisecond,  // Opus default frame
		PlayoutBufferTime: 20 * time.Millisecond,  // Early decode margin
		MaxPLCThreshold:   5,                      // 100ms of 20ms packets
		SlidingWindow:     5 * time.Second,        // Alignment window
		Adaptive:          false,
	}
}

// Validate checks the configuration for out of range values.
func (c Config) Validate() error {
	if c.JitterDepth < 0 || c.JitterMax <= 0 || c.JitterDepth > c.JitterMax {
		return fmt.Errorf("%w: jitter depth %v, max %v", jitter.ErrInvalidConfig, c.JitterDepth, c.JitterMax)
	}
	if c.Window <= 0 {
		return fmt.Errorf("%w: window %v", jitter.ErrInvalidConfig, c.Window)
	}
	if c.PlayoutBufferTime < 0 {
		return fmt.Errorf("%w: playout buffer time %v", jitter.ErrInvalidConfig, c.PlayoutBufferTime)
	}
	if c.MaxPLCThreshold < 0 {
		return fmt.Errorf("%w: max plc threshold %d", jitter.ErrInvalidConfig, c.MaxPLCThreshold)
	}
	return nil
}

// Stats is a snapshot of audio playout counters. Frame counts are at the
// decoded rate.
type Stats struct {
	CallbackFrames        uint64
	UnderrunFrames        uint64
	SilenceRemovedFrames  uint64
	ConcealedFrames       uint64
	ConcealmentOverflows  uint64
	PlayoutFull           uint64
	DecodeErrors          uint64
	DroppedBeforePlayback uint64
	// PublishLatency is arrival minus the sender capture wall clock of the
	// latest packet that signalled one.
	PublishLatency time.Duration
	Buffer         jitter.BufferStats
}

// Handler plays out one audio track.
//
// Submit is called from the transport goroutine, Run drives the dequeue
// loop, and Render is called from the audio device callback. The jitter
// buffer is created on the first submitted packet once its duration is
// known.
type Handler struct {
	identifier string
	config     Config
	decoder    Decoder
	ring       *PlayoutBuffer
	aligner    *jitter.Aligner
	estimator  *jitter.Estimator
	timeDiff   jitter.TimeDiff

	mu           sync.Mutex
	buffer       atomic.Pointer[jitter.Buffer]
	windowUs     atomic.Int64
	timeProvider jitter.TimeProvider

	// Touched only by the dequeue goroutine.
	lastUsed    uint64
	lastUsedSet bool

	rendering atomic.Bool

	callbackFrames       atomic.Uint64
	underrunFrames       atomic.Uint64
	silenceRemoved       atomic.Uint64
	concealedFrames      atomic.Uint64
	concealmentOverflows atomic.Uint64
	playoutFull          atomic.Uint64
	decodeErrors         atomic.Uint64
	droppedBeforePlay    atomic.Uint64
	publishLatencyNs     atomic.Int64
}

// NewHandler creates an audio playout handler.
//
// Parameters:
//   - identifier: Label used in log output
//   - config: Playout configuration
//   - decoder: Decoder for the track payloads
//
// Returns:
//   - *Handler: New handler awaiting its first packet
//   - error: Configuration or format error
func NewHandler(identifier string, config Config, decoder Decoder) (*Handler, error) {
	logrus.WithFields(logrus.Fields{
		"function":            "NewHandler",
		"handler":             identifier,
		"jitter_depth":        config.JitterDepth,
		"jitter_max":          config.JitterMax,
		"playout_buffer_time": config.PlayoutBufferTime,
		"max_plc":             config.MaxPLCThreshold,
		"adaptive":            config.Adaptive,
	}).Info("Creating audio handler")

	if err := config.Validate(); err != nil {
		return nil, err
	}
	if decoder == nil {
		return nil, fmt.Errorf("%w: nil decoder", ErrInvalidFormat)
	}

	format := decoder.DecodedFormat()
	ring, err := NewPlayoutBuffer(format, format.FramesFor(config.JitterMax))
	if err != nil {
		return nil, err
	}

	h := &Handler{
		identifier:   identifier,
		config:       config,
		decoder:      decoder,
		ring:         ring,
		estimator:    jitter.NewEstimator(),
		timeProvider: jitter.DefaultTimeProvider{},
	}
	h.windowUs.Store(config.Window.Microseconds())

	alignerConfig := jitter.DefaultAlignerConfig()
	alignerConfig.WindowLength = config.SlidingWindow
	alignerConfig.Capacity = int(config.SlidingWindow / config.Window)
	h.aligner = jitter.NewAligner(identifier, alignerConfig, func() []jitter.Alignable {
		return []jitter.Alignable{h}
	})
	return h, nil
}

// SetTimeProvider sets the time provider used by the dequeue loop and the
// alignment maintenance loop.
func (h *Handler) SetTimeProvider(tp jitter.TimeProvider) {
	h.mu.Lock()
	h.timeProvider = tp
	h.mu.Unlock()
	h.aligner.SetTimeProvider(tp)
}

func (h *Handler) now() time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.timeProvider.Now()
}

// TimeDiff returns the alignment offset published to this handler.
func (h *Handler) TimeDiff() *jitter.TimeDiff {
	return &h.timeDiff
}

// Identifier returns the handler label.
func (h *Handler) Identifier() string {
	return h.identifier
}

// Window returns the packet duration in use.
func (h *Handler) Window() time.Duration {
	return time.Duration(h.windowUs.Load()) * time.Microsecond
}

// Buffer returns the jitter buffer, or nil before the first packet.
func (h *Handler) Buffer() *jitter.Buffer {
	return h.buffer.Load()
}

// Submit accepts an encoded packet that arrived at arrival.
//
// Packets are dropped until Render has been called at least once. Returns
// jitter.ErrFull or jitter.ErrStale when the jitter buffer rejects the packet.
func (h *Handler) Submit(packet *Packet, arrival time.Time) error {
	buf, err := h.ensureBuffer(packet)
	if err != nil {
		return err
	}
	if packet.Length == 0 {
		packet.Length = h.Window()
	}

	capture := jitter.MediaEpoch.Add(packet.PTS)
	h.aligner.Record(capture, arrival, false)
	if !packet.Capture.IsZero() {
		h.publishLatencyNs.Store(int64(arrival.Sub(packet.Capture)))
	}

	if h.config.Adaptive {
		h.adaptTarget(buf, capture, arrival)
	}

	if !h.rendering.Load() {
		h.droppedBeforePlay.Add(1)
		return nil
	}

	if err := buf.Write(packet); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.Submit",
			"handler":  h.identifier,
			"sequence": packet.Sequence,
			"error":    err.Error(),
		}).Warn("Jitter buffer rejected audio packet")
		return err
	}
	return nil
}

func (h *Handler) ensureBuffer(packet *Packet) (*jitter.Buffer, error) {
	if buf := h.buffer.Load(); buf != nil {
		return buf, nil
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if buf := h.buffer.Load(); buf != nil {
		return buf, nil
	}

	frames, err := h.decoder.Frames(packet.Payload)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.ensureBuffer",
			"handler":  h.identifier,
			"error":    err.Error(),
		}).Error("Cannot size first audio packet")
		return nil, err
	}
	window := h.decoder.EncodedFormat().DurationOf(frames)
	if window <= 0 {
		return nil, fmt.Errorf("%w: zero length first packet", ErrInvalidPacket)
	}
	h.windowUs.Store(window.Microseconds())

	buf, err := jitter.NewBuffer(h.identifier, jitter.Config{
		MinDepth: h.config.JitterDepth,
		Capacity: int(h.config.JitterMax / window),
		Unsorted: h.config.Unsorted,
	})
	if err != nil {
		return nil, err
	}
	h.buffer.Store(buf)

	logrus.WithFields(logrus.Fields{
		"function": "Handler.ensureBuffer",
		"handler":  h.identifier,
		"window":   window,
		"capacity": int(h.config.JitterMax / window),
	}).Info("Created audio jitter buffer")
	return buf, nil
}

// adaptTarget moves the base target towards three times the smoothed jitter,
// leaving the playout buffer time out of the jitter buffer.
func (h *Handler) adaptTarget(buf *jitter.Buffer, capture, arrival time.Time) {
	h.estimator.Record(capture, arrival)
	target := max(h.config.JitterDepth-h.config.PlayoutBufferTime,
		3*h.estimator.Smoothed()-h.config.PlayoutBufferTime)

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
		}).Debug("Adjusted audio target depth")
	}
}

// Run drives the dequeue loop until ctx is cancelled.
func (h *Handler) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "Handler.Run",
		"handler":  h.identifier,
	}).Info("Starting audio dequeue loop")

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
		h.dequeue(h.now())
	}
}

// nextWait returns how long the dequeue loop sleeps before reading. Packets
// are read PlayoutBufferTime ahead of their playout time.
func (h *Handler) nextWait(now time.Time) time.Duration {
	window := h.Window()
	buf := h.buffer.Load()
	if buf == nil || !buf.IsPlaying() {
		return window
	}
	offset, ok := h.timeDiff.Get()
	if !ok {
		return window
	}
	wait, ok := buf.NextWaitTime(now, offset)
	if !ok {
		return window
	}
	return wait - h.config.PlayoutBufferTime
}

// dequeue reads at most one packet, conceals any gap before it and decodes
// it into the playout buffer.
func (h *Handler) dequeue(now time.Time) {
	buf := h.buffer.Load()
	if buf == nil {
		return
	}
	item := buf.Read()
	if item == nil {
		return
	}
	packet, ok := item.(*Packet)
	if !ok {
		return
	}

	if err := h.checkDiscontinuity(buf, packet); err != nil && !errors.Is(err, ErrConcealmentOverflow) {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.dequeue",
			"handler":  h.identifier,
			"error":    err.Error(),
		}).Warn("Concealment failed")
	}
	h.decode(buf, packet)
}

func (h *Handler) checkDiscontinuity(buf *jitter.Buffer, packet *Packet) error {
	if !h.lastUsedSet || packet.Sequence <= h.lastUsed || packet.Sequence == h.lastUsed+1 {
		return nil
	}

	gap := packet.Sequence - h.lastUsed - 1
	if gap > uint64(h.config.MaxPLCThreshold) {
		h.concealmentOverflows.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.checkDiscontinuity",
			"handler":  h.identifier,
			"gap":      gap,
			"max":      h.config.MaxPLCThreshold,
		}).Warn("Discontinuity too large to conceal, resetting playout")

		h.ring.Clear()
		if err := h.decoder.Reset(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Handler.checkDiscontinuity",
				"handler":  h.identifier,
				"error":    err.Error(),
			}).Warn("Decoder reset failed")
		}
		buf.Clear()
		return fmt.Errorf("%w: gap %d", ErrConcealmentOverflow, gap)
	}

	offset, ok := h.timeDiff.Get()
	if !ok {
		return ErrMissingTiming
	}

	logrus.WithFields(logrus.Fields{
		"function": "Handler.checkDiscontinuity",
		"handler":  h.identifier,
		"gap":      gap,
	}).Debug("Concealing lost audio")

	window := h.Window()
	frames := h.decoder.DecodedFormat().FramesFor(window)
	itemPlayout := buf.PlayoutTime(packet, offset, jitter.MediaEpoch)
	for i := uint64(0); i < gap; i++ {
		plc, err := h.decoder.PLC(frames)
		if err != nil {
			return err
		}
		h.lastUsed++
		buf.UpdateLastSequenceRead(h.lastUsed)

		at := itemPlayout.Add(-time.Duration(gap-i) * window)
		if err := h.ring.Enqueue(plc, at); err != nil {
			h.playoutFull.Add(1)
			continue
		}
		h.concealedFrames.Add(uint64(frames))
	}
	return nil
}

func (h *Handler) decode(buf *jitter.Buffer, packet *Packet) {
	h.lastUsed = packet.Sequence
	h.lastUsedSet = true

	decoded, err := h.decoder.Decode(packet.Payload)
	if err != nil {
		h.decodeErrors.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.decode",
			"handler":  h.identifier,
			"sequence": packet.Sequence,
			"error":    err.Error(),
		}).Error("Failed to decode audio")
		return
	}

	offset, ok := h.timeDiff.Get()
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "Handler.decode",
			"handler":  h.identifier,
			"sequence": packet.Sequence,
		}).Warn("Missing timing information, discarding audio")
		return
	}

	playout := buf.PlayoutTime(packet, offset, jitter.MediaEpoch)
	if err := h.ring.Enqueue(decoded, playout); err != nil {
		h.playoutFull.Add(1)
		logrus.WithFields(logrus.Fields{
			"function": "Handler.decode",
			"handler":  h.identifier,
			"sequence": packet.Sequence,
			"error":    err.Error(),
		}).Warn("Failed to enqueue decoded audio")
	}
}

// Render fills out with interleaved samples for the device callback at now.
//
// Audio running more than twice PlayoutBufferTime late has silent 5ms
// windows removed and is refilled from the playout buffer. Any shortfall is
// zero filled and counted as underrun.
//
// Returns the number of frames copied from the playout buffer.
func (h *Handler) Render(out []float32, now time.Time) int {
	h.rendering.Store(true)

	channels := h.ring.format.Channels
	frames := len(out) / channels
	h.callbackFrames.Add(uint64(frames))
	window := analysisFrames(h.ring.format)
	lateThreshold := -2 * h.config.PlayoutBufferTime

	copied := 0
	for copied < frames {
		dst := out[copied*channels : frames*channels]
		n, due := h.ring.Dequeue(dst)
		if n == 0 {
			break
		}
		if due.Sub(now) >= lateThreshold {
			copied += n
			break
		}

		remaining := h.ring.Frames()
		if remaining == 0 {
			copied += n
			break
		}

		kept, removed := trimSilence(dst[:n*channels], channels, window, remaining)
		if removed > 0 {
			h.silenceRemoved.Add(uint64(removed))
		}
		copied += kept
	}

	if copied < frames {
		clear(out[copied*channels : frames*channels])
		h.underrunFrames.Add(uint64(frames - copied))
	}
	return copied
}

// Stats returns a snapshot of the playout counters.
func (h *Handler) Stats() Stats {
	stats := Stats{
		CallbackFrames:        h.callbackFrames.Load(),
		UnderrunFrames:        h.underrunFrames.Load(),
		SilenceRemovedFrames:  h.silenceRemoved.Load(),
		ConcealedFrames:       h.concealedFrames.Load(),
		ConcealmentOverflows:  h.concealmentOverflows.Load(),
		PlayoutFull:           h.playoutFull.Load(),
		DecodeErrors:          h.decodeErrors.Load(),
		DroppedBeforePlayback: h.droppedBeforePlay.Load(),
		PublishLatency:        time.Duration(h.publishLatencyNs.Load()),
	}
	if buf := h.buffer.Load(); buf != nil {
		stats.Buffer = buf.Stats()
	}
	return stats
}

// Close stops the alignment maintenance loop. The dequeue loop is stopped by
// cancelling the context passed to Run.
func (h *Handler) Close() {
	h.aligner.Stop()
	h.ring.Clear()

	logrus.WithFields(logrus.Fields{
		"function": "Handler.Close",
		"handler":  h.identifier,
	}).Info("Audio handler closed")
}
