package video

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// SimulreceiveMode selects how a SubscriptionSet treats several variants of
// one source.
type SimulreceiveMode int

const (
	// SimulreceiveNone lets every variant deliver to the sink directly.
	SimulreceiveNone SimulreceiveMode = iota
	// SimulreceiveEnable decodes all variants and displays one per instant.
	SimulreceiveEnable
	// SimulreceiveVisualizeOnly runs the selection without displaying,
	// reporting the winning variant through the highlight callback.
	SimulreceiveVisualizeOnly
)

// String returns the string representation of the mode.
func (m SimulreceiveMode) String() string {
	switch m {
	case SimulreceiveNone:
		return "none"
	case SimulreceiveEnable:
		return "enable"
	case SimulreceiveVisualizeOnly:
		return "visualize_only"
	default:
		return "unknown"
	}
}

// MediaState is the display progress of a source.
type MediaState int

const (
	MediaSubscribed MediaState = iota
	MediaReceived
	MediaRendered
)

// String returns the string representation of the state.
func (s MediaState) String() string {
	switch s {
	case MediaSubscribed:
		return "subscribed"
	case MediaReceived:
		return "received"
	case MediaRendered:
		return "rendered"
	default:
		return "unknown"
	}
}

// DecisionReason records why a candidate was selected.
type DecisionReason int

const (
	// DecisionOnlyChoice means a single candidate was available.
	DecisionOnlyChoice DecisionReason = iota
	// DecisionHighestResPristine means the widest continuous candidate won.
	DecisionHighestResPristine
	// DecisionHighestRes means every candidate was discontinuous and the
	// widest won.
	DecisionHighestRes
)

// String returns the string representation of the reason.
func (r DecisionReason) String() string {
	switch r {
	case DecisionOnlyChoice:
		return "only_choice"
	case DecisionHighestResPristine:
		return "highest_res_pristine"
	case DecisionHighestRes:
		return "highest_res"
	default:
		return "unknown"
	}
}

// SetConfig holds SubscriptionSet configuration.
type SetConfig struct {
	Mode SimulreceiveMode

	// QualityMissThreshold is the number of consecutive downgrade proposals
	// needed before a lower quality variant is displayed.
	QualityMissThreshold int

	// PauseMissThreshold is the number of lost selections after which a
	// higher resolution variant is suggested for pausing. Zero disables it.
	PauseMissThreshold int

	// CleanupTime clears the display after this long without objects.
	CleanupTime time.Duration

	// SlidingWindow is the span of the shared time alignment window.
	SlidingWindow time.Duration
}

// DefaultSetConfig returns the default subscription set configuration.
func DefaultSetConfig() SetConfig {
	return SetConfig{
		Mode:                 SimulreceiveEnable,
		QualityMissThreshold: 3,                       // Ticks before downgrade
		PauseMissThreshold:   30,                      // One second at 30fps
		CleanupTime:          1500 * time.Millisecond, // Idle participant timeout
		SlidingWindow:        5 * time.Second,         // Alignment window
	}
}

// Validate checks the configuration for out of range values.
func (c SetConfig) Validate() error {
	if c.QualityMissThreshold < 0 || c.PauseMissThreshold < 0 {
		return fmt.Errorf("%w: quality threshold %d, pause threshold %d",
			ErrInvalidConfig, c.QualityMissThreshold, c.PauseMissThreshold)
	}
	if c.CleanupTime <= 0 || c.SlidingWindow <= 0 {
		return fmt.Errorf("%w: cleanup %v, sliding window %v", ErrInvalidConfig, c.CleanupTime, c.SlidingWindow)
	}
	if c.Mode < SimulreceiveNone || c.Mode > SimulreceiveVisualizeOnly {
		return fmt.Errorf("%w: simulreceive mode %d", ErrInvalidConfig, c.Mode)
	}
	return nil
}

// PauseFunc asks the transport to pause a variant's subscription.
type PauseFunc func(sourceID, variantID string)

// candidate is one variant's pending decoded frame during a decision.
type candidate struct {
	variant string
	handler *Handler
	frame   *DecodedFrame
}

// selection is the variant most recently chosen for display.
type selection struct {
	variant       string
	width         int
	fps           int
	discontinuous bool
}

// SubscriptionSet groups the variants of one source. It shares a time
// aligner across them and, with simulreceive enabled, chooses which
// variant's frame to display at each instant.
type SubscriptionSet struct {
	sourceID string
	config   SetConfig
	sink     Sink

	aligner  *jitter.Aligner
	variance *jitter.VarianceCalculator

	mu            sync.Mutex
	handlers      map[string]*Handler
	mediaState    MediaState
	lastUpdate    time.Time
	last          *selection
	lastImagePTS  *time.Duration
	qualityMisses int
	pauseMisses   map[string]int
	lastHighlight string
	pause         PauseFunc
	highlight     func(variantID string)
	timeProvider  jitter.TimeProvider
	renderActive  bool

	start chan struct{}
	wake  chan struct{}

	displayCallbacks callbackTable[DisplayEvent]
}

// NewSubscriptionSet creates the variant set for one source.
//
// Parameters:
//   - sourceID: Source label used in log output and callbacks
//   - config: Set configuration
//   - sink: Destination for displayed frames
//
// Returns:
//   - *SubscriptionSet: Set without variants
//   - error: Configuration error
func NewSubscriptionSet(sourceID string, config SetConfig, sink Sink) (*SubscriptionSet, error) {
	logrus.WithFields(logrus.Fields{
		"function":               "NewSubscriptionSet",
		"source":                 sourceID,
		"mode":                   config.Mode.String(),
		"quality_miss_threshold": config.QualityMissThreshold,
		"pause_miss_threshold":   config.PauseMissThreshold,
		"cleanup_time":           config.CleanupTime,
	}).Info("Creating subscription set")

	if err := config.Validate(); err != nil {
		return nil, err
	}

	s := &SubscriptionSet{
		sourceID:     sourceID,
		config:       config,
		sink:         sink,
		handlers:     make(map[string]*Handler),
		pauseMisses:  make(map[string]int),
		timeProvider: jitter.DefaultTimeProvider{},
		start:        make(chan struct{}, 1),
		wake:         make(chan struct{}, 1),
	}

	alignerConfig := jitter.DefaultAlignerConfig()
	alignerConfig.WindowLength = config.SlidingWindow
	s.aligner = jitter.NewAligner(sourceID, alignerConfig, s.alignables)

	s.variance = jitter.NewVarianceCalculator(sourceID, 0, 0)
	s.variance.OnVariance(func(variance time.Duration, count int) {
		logrus.WithFields(logrus.Fields{
			"function": "SubscriptionSet.variance",
			"source":   sourceID,
			"variance": variance,
			"variants": count,
		}).Debug("Variant arrival variance")
	})
	return s, nil
}

func (s *SubscriptionSet) alignables() []jitter.Alignable {
	s.mu.Lock()
	defer s.mu.Unlock()
	alignables := make([]jitter.Alignable, 0, len(s.handlers))
	for _, h := range s.handlers {
		alignables = append(alignables, h)
	}
	return alignables
}

// SetTimeProvider sets the time provider used by the loops.
func (s *SubscriptionSet) SetTimeProvider(tp jitter.TimeProvider) {
	s.mu.Lock()
	s.timeProvider = tp
	handlers := lo.Values(s.handlers)
	s.mu.Unlock()

	s.aligner.SetTimeProvider(tp)
	for _, h := range handlers {
		h.SetTimeProvider(tp)
	}
}

func (s *SubscriptionSet) now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.timeProvider.Now()
}

// SourceID returns the source label.
func (s *SubscriptionSet) SourceID() string {
	return s.sourceID
}

// OnPause sets the function called when a variant should be paused.
func (s *SubscriptionSet) OnPause(pause PauseFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pause = pause
}

// OnHighlight sets the function called with the winning variant in
// SimulreceiveVisualizeOnly mode.
func (s *SubscriptionSet) OnHighlight(highlight func(variantID string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.highlight = highlight
}

// RegisterDisplayCallback registers a callback for every displayed frame.
func (s *SubscriptionSet) RegisterDisplayCallback(callback func(DisplayEvent)) CallbackToken {
	return s.displayCallbacks.register(callback)
}

// UnregisterDisplayCallback removes a display callback.
func (s *SubscriptionSet) UnregisterDisplayCallback(token CallbackToken) bool {
	return s.displayCallbacks.unregister(token)
}

// MediaState returns the display progress of the source.
func (s *SubscriptionSet) MediaState() MediaState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mediaState
}

// AddHandler creates and registers a variant.
//
// Returns ErrVariantExists for a duplicate identifier and
// ErrLayerWithSimulreceive when ModeLayer is combined with simulreceive.
func (s *SubscriptionSet) AddHandler(variantID string, config Config, decoder Decoder) (*Handler, error) {
	if config.Mode == ModeLayer && s.config.Mode != SimulreceiveNone {
		return nil, fmt.Errorf("%w: variant %s", ErrLayerWithSimulreceive, variantID)
	}

	s.mu.Lock()
	if _, ok := s.handlers[variantID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrVariantExists, variantID)
	}
	tp := s.timeProvider
	s.mu.Unlock()

	h, err := NewHandler(variantID, config, decoder, s.sink)
	if err != nil {
		return nil, err
	}
	h.SetTimeProvider(tp)
	h.mailbox = s.config.Mode != SimulreceiveNone
	h.onReceived = s.receivedObject
	h.onDecoded = s.decoded
	h.onDisplayed = s.displayedDirect

	s.mu.Lock()
	if _, ok := s.handlers[variantID]; ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrVariantExists, variantID)
	}
	s.handlers[variantID] = h
	count := len(s.handlers)
	s.mu.Unlock()

	s.variance.SetExpectedOccurrences(count)
	if offset, ok := s.aligner.Offset(); ok {
		h.TimeDiff().Set(offset)
	}

	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.AddHandler",
		"source":   s.sourceID,
		"variant":  variantID,
		"width":    config.Width,
		"height":   config.Height,
		"variants": count,
	}).Info("Added video variant")
	return h, nil
}

// Handler returns a registered variant.
func (s *SubscriptionSet) Handler(variantID string) (*Handler, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.handlers[variantID]
	return h, ok
}

// Handlers returns the registered variants ordered by identifier.
func (s *SubscriptionSet) Handlers() []*Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sortedHandlersLocked()
}

func (s *SubscriptionSet) sortedHandlersLocked() []*Handler {
	handlers := lo.Values(s.handlers)
	sort.Slice(handlers, func(i, j int) bool {
		return handlers[i].Identifier() < handlers[j].Identifier()
	})
	return handlers
}

// RemoveHandler unregisters and closes a variant. Removing the last variant
// stops the render loop.
func (s *SubscriptionSet) RemoveHandler(variantID string) error {
	s.mu.Lock()
	h, ok := s.handlers[variantID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownVariant, variantID)
	}
	delete(s.handlers, variantID)
	delete(s.pauseMisses, variantID)
	count := len(s.handlers)
	s.mu.Unlock()

	h.Close()
	s.variance.SetExpectedOccurrences(count)
	s.signal(s.wake)

	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.RemoveHandler",
		"source":   s.sourceID,
		"variant":  variantID,
		"variants": count,
	}).Info("Removed video variant")
	return nil
}

func (s *SubscriptionSet) signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// receivedObject is called by variants for every submitted frame.
func (s *SubscriptionSet) receivedObject(h *Handler, frame *Frame, arrival time.Time, cached bool) {
	if !cached {
		s.aligner.Record(jitter.MediaEpoch.Add(frame.PTS), arrival, false)
	}
	s.variance.Record(frame.PTS, arrival)

	s.mu.Lock()
	s.lastUpdate = arrival
	if s.mediaState == MediaSubscribed {
		s.mediaState = MediaReceived
	}
	startRender := s.config.Mode != SimulreceiveNone && !s.renderActive
	s.mu.Unlock()

	if startRender {
		s.signal(s.start)
	}
}

func (s *SubscriptionSet) decoded(*Handler) {
	s.signal(s.wake)
}

// displayedDirect is called by variants delivering straight to the sink.
func (s *SubscriptionSet) displayedDirect(h *Handler, frame *DecodedFrame) {
	s.mu.Lock()
	s.mediaState = MediaRendered
	s.mu.Unlock()
	s.displayCallbacks.fire(DisplayEvent{
		SourceID:  s.sourceID,
		VariantID: h.Identifier(),
		PTS:       frame.PTS,
		Width:     frame.Width,
		When:      s.now(),
	})
}

// Run drives the render and cleanup loops until ctx is cancelled. The render
// loop starts on the first received object and stops when the set has no
// variants, restarting on the next object.
func (s *SubscriptionSet) Run(ctx context.Context) error {
	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.Run",
		"source":   s.sourceID,
		"mode":     s.config.Mode.String(),
	}).Info("Starting subscription set")

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-s.start:
			}
			s.renderLoop(ctx)
		}
	})
	if s.config.Mode == SimulreceiveEnable {
		g.Go(func() error {
			s.cleanupLoop(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (s *SubscriptionSet) renderLoop(ctx context.Context) {
	s.mu.Lock()
	if s.renderActive {
		s.mu.Unlock()
		return
	}
	s.renderActive = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.renderActive = false
		s.mu.Unlock()
	}()

	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.renderLoop",
		"source":   s.sourceID,
	}).Debug("Render loop started")

	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	for {
		wait, ok := s.Decide(s.now())
		if !ok {
			logrus.WithFields(logrus.Fields{
				"function": "SubscriptionSet.renderLoop",
				"source":   s.sourceID,
			}).Debug("No variants left, render loop stopped")
			return
		}
		if wait <= 0 {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		timer.Reset(wait)
		select {
		case <-ctx.Done():
			return
		case <-s.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

func (s *SubscriptionSet) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(s.config.CleanupTime)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup(s.now())
		}
	}
}

// Cleanup clears the display when no object arrived for CleanupTime. It
// reports whether the display was cleared.
func (s *SubscriptionSet) Cleanup(now time.Time) bool {
	s.mu.Lock()
	if s.lastUpdate.IsZero() || now.Sub(s.lastUpdate) < s.config.CleanupTime || s.last == nil {
		s.mu.Unlock()
		return false
	}
	idle := now.Sub(s.lastUpdate)
	s.last = nil
	s.lastImagePTS = nil
	s.qualityMisses = 0
	handlers := s.sortedHandlersLocked()
	s.mu.Unlock()

	for _, h := range handlers {
		h.resetLastDecoded()
	}
	if flusher, ok := s.sink.(Flusher); ok {
		if err := flusher.Flush(); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SubscriptionSet.Cleanup",
				"source":   s.sourceID,
				"error":    err.Error(),
			}).Warn("Failed to flush sink")
		}
	}

	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.Cleanup",
		"source":   s.sourceID,
		"idle":     idle,
	}).Info("Cleared idle participant")
	return true
}

// outcome holds the callbacks a decision step fires once the lock is
// released.
type outcome struct {
	display   *DisplayEvent
	highlight string
	pauses    []string
}

// Decide runs one selection step and returns the wait until the next one.
// The boolean is false when the set has no variants.
func (s *SubscriptionSet) Decide(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	wait, out, ok := s.decideLocked(now)
	pause, highlight := s.pause, s.highlight
	s.mu.Unlock()

	for _, variant := range out.pauses {
		pause(s.sourceID, variant)
	}
	if out.highlight != "" && highlight != nil {
		highlight(out.highlight)
	}
	if out.display != nil {
		s.displayCallbacks.fire(*out.display)
	}
	return wait, ok
}

func (s *SubscriptionSet) decideLocked(now time.Time) (time.Duration, outcome, bool) {
	var out outcome
	handlers := s.sortedHandlersLocked()
	if len(handlers) == 0 {
		return 0, out, false
	}

	candidates := s.collectCandidatesLocked(handlers)
	if len(candidates) == 0 {
		return s.idleWaitLocked(handlers, now), out, true
	}

	chosen, considered, reason := choose(candidates)
	for _, c := range considered {
		c.handler.clearLastDecoded(c.frame)
	}

	out.pauses = s.suggestPausesLocked(handlers, chosen)

	if s.wouldStepDownLocked(chosen) {
		s.qualityMisses++
		if s.qualityMisses < s.config.QualityMissThreshold {
			logrus.WithFields(logrus.Fields{
				"function": "SubscriptionSet.Decide",
				"source":   s.sourceID,
				"variant":  chosen.variant,
				"misses":   s.qualityMisses,
			}).Debug("Holding quality against downgrade")
			return s.waitAfterLocked(handlers, chosen.handler, chosen.frame, now), out, true
		}
	}

	s.displayLocked(chosen, reason, now, &out)
	return s.waitAfterLocked(handlers, chosen.handler, chosen.frame, now), out, true
}

// collectCandidatesLocked clears slots that would move display backwards
// and returns the rest.
func (s *SubscriptionSet) collectCandidatesLocked(handlers []*Handler) []candidate {
	candidates := make([]candidate, 0, len(handlers))
	for _, h := range handlers {
		frame := h.LastDecoded()
		if frame == nil {
			continue
		}
		if s.lastImagePTS != nil && frame.PTS <= *s.lastImagePTS {
			h.clearLastDecoded(frame)
			continue
		}
		candidates = append(candidates, candidate{variant: h.Identifier(), handler: h, frame: frame})
	}
	return candidates
}

// choose picks among candidates. It returns the winner, the candidates whose
// slots were considered and the reason.
func choose(candidates []candidate) (candidate, []candidate, DecisionReason) {
	if len(candidates) == 1 {
		return candidates[0], candidates, DecisionOnlyChoice
	}

	oldest := lo.MinBy(candidates, func(a, b candidate) bool {
		return a.frame.PTS < b.frame.PTS
	}).frame.PTS
	considered := lo.Filter(candidates, func(c candidate, _ int) bool {
		return c.frame.PTS == oldest
	})

	pristine := lo.Filter(considered, func(c candidate, _ int) bool {
		return !c.frame.Discontinuous
	})
	reason := DecisionHighestResPristine
	pool := pristine
	if len(pristine) == 0 {
		reason = DecisionHighestRes
		pool = considered
	}
	widest := lo.MaxBy(pool, func(a, b candidate) bool {
		return candidateWidth(a) > candidateWidth(b)
	})
	return widest, considered, reason
}

func candidateWidth(c candidate) int {
	if c.frame.Width > 0 {
		return c.frame.Width
	}
	return c.handler.Config().Width
}

func (s *SubscriptionSet) wouldStepDownLocked(chosen candidate) bool {
	if s.last == nil {
		return false
	}
	if candidateWidth(chosen) < s.last.width {
		return true
	}
	return chosen.frame.Discontinuous && !s.last.discontinuous
}

// suggestPausesLocked counts lost selections for variants wider than the
// winner and asks for a pause once the count exceeds the threshold.
func (s *SubscriptionSet) suggestPausesLocked(handlers []*Handler, chosen candidate) []string {
	if s.pause == nil || s.config.PauseMissThreshold <= 0 {
		return nil
	}
	var pauses []string
	selectedWidth := candidateWidth(chosen)
	for _, h := range handlers {
		if h.Config().Width <= selectedWidth {
			continue
		}
		variant := h.Identifier()
		s.pauseMisses[variant]++
		if s.pauseMisses[variant] <= s.config.PauseMissThreshold {
			continue
		}
		s.pauseMisses[variant] = 0

		logrus.WithFields(logrus.Fields{
			"function": "SubscriptionSet.suggestPauses",
			"source":   s.sourceID,
			"variant":  variant,
			"selected": chosen.variant,
		}).Info("Suggesting pause of losing variant")
		pauses = append(pauses, variant)
	}
	return pauses
}

func (s *SubscriptionSet) displayLocked(chosen candidate, reason DecisionReason, now time.Time, out *outcome) {
	changed := s.last == nil || s.last.variant != chosen.variant
	s.qualityMisses = 0
	s.pauseMisses[chosen.variant] = 0
	s.last = &selection{
		variant:       chosen.variant,
		width:         candidateWidth(chosen),
		fps:           chosen.frame.FPS,
		discontinuous: chosen.frame.Discontinuous,
	}
	pts := chosen.frame.PTS
	s.lastImagePTS = &pts

	if changed {
		logrus.WithFields(logrus.Fields{
			"function": "SubscriptionSet.display",
			"source":   s.sourceID,
			"variant":  chosen.variant,
			"reason":   reason.String(),
		}).Debug("Switched displayed variant")
	}

	switch s.config.Mode {
	case SimulreceiveVisualizeOnly:
		if chosen.variant != s.lastHighlight {
			s.lastHighlight = chosen.variant
			out.highlight = chosen.variant
		}
	default:
		if s.sink != nil {
			if err := s.sink.Enqueue(chosen.frame, chosen.handler.Transform()); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "SubscriptionSet.display",
					"source":   s.sourceID,
					"variant":  chosen.variant,
					"error":    err.Error(),
				}).Warn("Sink rejected video frame")
				return
			}
		}
		s.mediaState = MediaRendered
		out.display = &DisplayEvent{
			SourceID:  s.sourceID,
			VariantID: chosen.variant,
			PTS:       chosen.frame.PTS,
			Width:     candidateWidth(chosen),
			When:      now,
		}
	}
}

// idleWaitLocked is the wait when no candidate is pending: the last
// displayed variant's pacing, else its frame rate, else the fastest rate.
func (s *SubscriptionSet) idleWaitLocked(handlers []*Handler, now time.Time) time.Duration {
	if s.last != nil {
		if h, ok := s.handlers[s.last.variant]; ok {
			if wait, ok := h.CalculateWaitTime(now); ok {
				return wait
			}
		}
		if s.last.fps > 0 {
			return frameDuration(s.last.fps)
		}
	}
	return highestRateDuration(handlers)
}

// waitAfterLocked is the wait after a selection: the winner's pacing, else
// its frame duration, else the fastest rate.
func (s *SubscriptionSet) waitAfterLocked(handlers []*Handler, h *Handler, frame *DecodedFrame, now time.Time) time.Duration {
	if wait, ok := h.CalculateWaitTime(now); ok {
		return wait
	}
	if frame.Length > 0 {
		return frame.Length
	}
	return highestRateDuration(handlers)
}

func highestRateDuration(handlers []*Handler) time.Duration {
	fastest := lo.MaxBy(handlers, func(a, b *Handler) bool {
		return a.Config().FPS > b.Config().FPS
	})
	return fastest.Config().FrameDuration()
}

// Close stops the aligner and closes every variant.
func (s *SubscriptionSet) Close() {
	s.aligner.Stop()

	s.mu.Lock()
	handlers := s.sortedHandlersLocked()
	s.handlers = make(map[string]*Handler)
	s.mu.Unlock()

	for _, h := range handlers {
		h.Close()
	}

	logrus.WithFields(logrus.Fields{
		"function": "SubscriptionSet.Close",
		"source":   s.sourceID,
	}).Info("Subscription set closed")
}
