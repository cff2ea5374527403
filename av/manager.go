package av

import (
	"context"
	"fmt"
	"math"
	"net"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/opd-ai/moqplayout/av/loc"
	"github.com/opd-ai/moqplayout/av/rtp"
	"github.com/opd-ai/moqplayout/av/video"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Object is one received MoQ object with its serialized LOC header
// extensions.
type Object struct {
	GroupID    uint64
	ObjectID   uint64
	Extensions []byte
	Payload    []byte

	// Cached marks objects served from a relay cache rather than live.
	Cached bool
}

// PauseFunc is called when a track should be paused upstream.
type PauseFunc func(sourceID, trackID string)

// Option configures a Manager.
type Option func(*Manager)

// WithTimeProvider sets the clock used for arrival times and metrics.
func WithTimeProvider(tp jitter.TimeProvider) Option {
	return func(m *Manager) { m.timeProvider = tp }
}

// WithReportCallback registers the periodic metrics report callback.
func WithReportCallback(callback func(AggregatedReport)) Option {
	return func(m *Manager) { m.metrics.OnReport(callback) }
}

// Manager owns the playout pipeline of every remote source: one audio
// handler per audio source and one subscription set per video source.
//
// Sources may be added before or after Start. Start runs every source loop
// and the metrics loops under one errgroup; Stop cancels and waits for them
// and releases all sources.
type Manager struct {
	config  Config
	metrics *MetricsAggregator

	mu           sync.RWMutex
	sources      map[string]*source
	running      bool
	group        *errgroup.Group
	groupCtx     context.Context
	cancel       context.CancelFunc
	pause        PauseFunc
	timeProvider jitter.TimeProvider
}

// NewManager creates a manager.
//
// Parameters:
//   - config: Playout configuration applied to every source
//   - opts: Optional settings
//
// Returns:
//   - *Manager: The new manager instance
//   - error: Configuration error
func NewManager(config Config, opts ...Option) (*Manager, error) {
	logrus.WithFields(logrus.Fields{
		"function":         "NewManager",
		"video_mode":       config.Video.Mode.String(),
		"simulreceive":     config.Set.Mode.String(),
		"metrics_interval": config.MetricsInterval,
	}).Info("Creating playout manager")

	if err := config.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewManager",
			"error":    err.Error(),
		}).Error("Configuration validation failed")
		return nil, err
	}

	m := &Manager{
		config:       config,
		metrics:      NewMetricsAggregator(config.MetricsInterval),
		sources:      make(map[string]*source),
		timeProvider: jitter.DefaultTimeProvider{},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.metrics.SetTimeProvider(m.timeProvider)
	return m, nil
}

// Config returns the manager configuration.
func (m *Manager) Config() Config {
	return m.config
}

// Metrics returns the metrics aggregator.
func (m *Manager) Metrics() *MetricsAggregator {
	return m.metrics
}

// OnPause registers the callback receiving upstream pause suggestions.
func (m *Manager) OnPause(pause PauseFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pause = pause
}

func (m *Manager) firePause(sourceID, trackID string) {
	m.mu.RLock()
	pause := m.pause
	m.mu.RUnlock()

	logrus.WithFields(logrus.Fields{
		"function": "Manager.firePause",
		"source":   sourceID,
		"track":    trackID,
	}).Info("Suggesting track pause")

	if pause != nil {
		pause(sourceID, trackID)
	}
}

// Start runs every source and the metrics loops until ctx is cancelled or
// Stop is called.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.running {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.group, m.groupCtx = errgroup.WithContext(runCtx)
	m.cancel = cancel
	m.running = true

	m.group.Go(func() error { return m.metrics.Run(m.groupCtx) })
	m.group.Go(func() error { return m.collectLoop(m.groupCtx) })
	for _, src := range m.sources {
		m.launchLocked(src)
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.Start",
		"sources":  len(m.sources),
	}).Info("Playout manager started")
	return nil
}

// launchLocked starts a source's loops in the manager group.
func (m *Manager) launchLocked(src *source) {
	ctx, cancel := context.WithCancel(m.groupCtx)
	done := make(chan struct{})

	src.mu.Lock()
	src.cancel, src.done = cancel, done
	src.mu.Unlock()

	m.group.Go(func() error {
		defer close(done)
		if err := src.run(ctx); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Manager.launch",
				"source":   src.id,
				"error":    err.Error(),
			}).Error("Source loop failed")
		}
		return nil
	})
}

// Stop cancels every loop, waits for them to exit and releases all sources.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return ErrNotRunning
	}
	m.running = false
	cancel, group := m.cancel, m.group
	sources := lo.Values(m.sources)
	m.sources = make(map[string]*source)
	m.mu.Unlock()

	cancel()
	err := group.Wait()

	for _, src := range sources {
		src.close()
		m.metrics.StopTracking(src.id)
	}

	logrus.WithFields(logrus.Fields{
		"function":       "Manager.Stop",
		"sources_closed": len(sources),
	}).Info("Playout manager stopped")
	return err
}

// IsRunning returns whether the manager loops are active.
func (m *Manager) IsRunning() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.running
}

// register adds a source and starts it when the manager is running.
func (m *Manager) register(src *source) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sources[src.id]; ok {
		return fmt.Errorf("%w: %s", ErrSourceExists, src.id)
	}
	m.sources[src.id] = src
	m.metrics.StartTracking(src.id)
	if m.running {
		m.launchLocked(src)
	}
	return nil
}

// AddAudioSource creates the audio playout handler for a source.
func (m *Manager) AddAudioSource(sourceID string, decoder audio.Decoder) (*audio.Handler, error) {
	if m.hasSource(sourceID) {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, sourceID)
	}

	handler, err := audio.NewHandler(sourceID, m.config.Audio, decoder)
	if err != nil {
		return nil, err
	}
	handler.SetTimeProvider(m.timeProvider)

	src := newSource(sourceID, SourceAudio)
	src.audio = handler
	if err := m.register(src); err != nil {
		handler.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.AddAudioSource",
		"source":   sourceID,
	}).Info("Added audio source")
	return handler, nil
}

// AddRTPAudioSource creates an audio source fed by RTP datagrams read
// from conn. The connection is closed when the source is removed.
func (m *Manager) AddRTPAudioSource(sourceID string, decoder audio.Decoder, conn net.PacketConn, config rtp.DepacketizerConfig) (*audio.Handler, error) {
	if m.hasSource(sourceID) {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, sourceID)
	}

	handler, err := audio.NewHandler(sourceID, m.config.Audio, decoder)
	if err != nil {
		return nil, err
	}
	handler.SetTimeProvider(m.timeProvider)

	src := newSource(sourceID, SourceAudio)
	src.audio = handler
	session, err := rtp.NewSession(conn, config, sourceSubmitter{manager: m, source: src})
	if err != nil {
		handler.Close()
		return nil, err
	}
	session.SetTimeProvider(m.timeProvider)
	src.ingest = session

	if err := m.register(src); err != nil {
		handler.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.AddRTPAudioSource",
		"source":   sourceID,
		"local":    conn.LocalAddr().String(),
	}).Info("Added RTP audio source")
	return handler, nil
}

// AddVideoSource creates the subscription set for a source with one
// handler per variant.
//
// Parameters:
//   - sourceID: Source identifier
//   - variants: Quality variants received for the source
//   - factory: Decoder factory, nil selects passthrough decoding
//   - sink: Destination for displayed frames
//
// Returns:
//   - *video.SubscriptionSet: The configured set
//   - error: ErrSourceExists, ErrNoVariants or a configuration error
func (m *Manager) AddVideoSource(sourceID string, variants []VideoVariant, factory video.DecoderFactory, sink video.Sink) (*video.SubscriptionSet, error) {
	if len(variants) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoVariants, sourceID)
	}
	if m.hasSource(sourceID) {
		return nil, fmt.Errorf("%w: %s", ErrSourceExists, sourceID)
	}
	if factory == nil {
		factory = video.PassthroughFactory()
	}

	set, err := video.NewSubscriptionSet(sourceID, m.config.Set, sink)
	if err != nil {
		return nil, err
	}
	set.SetTimeProvider(m.timeProvider)
	set.OnPause(func(src, variant string) { m.firePause(src, variant) })

	for _, variant := range variants {
		config := m.config.Video
		if variant.Width > 0 {
			config.Width = variant.Width
		}
		if variant.Height > 0 {
			config.Height = variant.Height
		}
		if variant.FPS > 0 {
			config.FPS = variant.FPS
		}

		decoder, err := factory(config)
		if err == nil {
			_, err = set.AddHandler(variant.ID, config, decoder)
		}
		if err != nil {
			set.Close()
			logrus.WithFields(logrus.Fields{
				"function": "Manager.AddVideoSource",
				"source":   sourceID,
				"variant":  variant.ID,
				"error":    err.Error(),
			}).Error("Failed to create video variant")
			return nil, fmt.Errorf("variant %s: %w", variant.ID, err)
		}
	}

	src := newSource(sourceID, SourceVideo)
	src.set = set
	if err := m.register(src); err != nil {
		set.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"function": "Manager.AddVideoSource",
		"source":   sourceID,
		"variants": len(variants),
	}).Info("Added video source")
	return set, nil
}

// RemoveSource stops and releases a source.
func (m *Manager) RemoveSource(sourceID string) error {
	m.mu.Lock()
	src, ok := m.sources[sourceID]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	delete(m.sources, sourceID)
	m.mu.Unlock()

	src.close()
	m.metrics.StopTracking(sourceID)

	logrus.WithFields(logrus.Fields{
		"function": "Manager.RemoveSource",
		"source":   sourceID,
	}).Info("Removed source")
	return nil
}

// Sources returns the registered source identifiers in order.
func (m *Manager) Sources() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := lo.Keys(m.sources)
	sort.Strings(ids)
	return ids
}

func (m *Manager) hasSource(sourceID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sources[sourceID]
	return ok
}

func (m *Manager) lookup(sourceID string) (*source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSourceNotFound, sourceID)
	}
	return src, nil
}

// Submit hands a media unit to its source. Audio units are *audio.Packet
// and ignore trackID; video units are *video.Frame addressed to the
// variant named by trackID.
func (m *Manager) Submit(ctx context.Context, sourceID, trackID string, unit jitter.Item) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := m.lookup(sourceID)
	if err != nil {
		return err
	}
	arrival := m.timeProvider.Now()

	switch u := unit.(type) {
	case *audio.Packet:
		return m.submitAudio(src, u, arrival)
	case *video.Frame:
		return m.submitVideo(src, trackID, u, arrival, false)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedMediaType, unit)
	}
}

func (m *Manager) submitAudio(src *source, packet *audio.Packet, arrival time.Time) error {
	if src.kind != SourceAudio {
		return fmt.Errorf("%w: audio to %s source %s", ErrMediaKindMismatch, src.kind, src.id)
	}
	src.record("", packet.PTS, arrival)
	return src.audio.Submit(packet, arrival)
}

func (m *Manager) submitVideo(src *source, trackID string, frame *video.Frame, arrival time.Time, cached bool) error {
	if src.kind != SourceVideo {
		return fmt.Errorf("%w: video to %s source %s", ErrMediaKindMismatch, src.kind, src.id)
	}
	h, ok := src.set.Handler(trackID)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrTrackNotFound, src.id, trackID)
	}
	if frame.Width == 0 && frame.Height == 0 {
		config := h.Config()
		frame.Width, frame.Height = config.Width, config.Height
	}
	if !cached {
		src.record(trackID, frame.PTS, arrival)
	}
	return h.Submit(frame, arrival, cached)
}

// SubmitObject parses the LOC header extensions of a MoQ object and hands
// the resulting media unit to its source.
//
// Returns loc errors for malformed extensions and ErrUnsupportedMediaType
// for objects with no playout path, such as text.
func (m *Manager) SubmitObject(ctx context.Context, sourceID, trackID string, obj Object) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := m.lookup(sourceID)
	if err != nil {
		return err
	}
	arrival := m.timeProvider.Now()

	ext, err := loc.Parse(obj.Extensions)
	if err != nil {
		return err
	}
	mediaType, err := ext.MediaType()
	if err != nil {
		return err
	}

	switch mediaType {
	case loc.MediaTypeOpus, loc.MediaTypeAAC:
		key, _ := mediaType.MetadataKey()
		packet, err := audioPacket(ext, key, obj)
		if err != nil {
			return err
		}
		return m.submitAudio(src, packet, arrival)
	case loc.MediaTypeH264:
		frame, err := videoFrame(ext, obj)
		if err != nil {
			return err
		}
		return m.submitVideo(src, trackID, frame, arrival, obj.Cached)
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedMediaType, mediaType)
	}
}

func audioPacket(ext loc.Extensions, key loc.Key, obj Object) (*audio.Packet, error) {
	meta, err := ext.AudioMetadata(key)
	if err != nil {
		return nil, err
	}
	pts, err := meta.PresentationTime()
	if err != nil {
		return nil, err
	}
	length, err := meta.Length()
	if err != nil {
		return nil, err
	}
	packet := &audio.Packet{
		Sequence: meta.Sequence,
		PTS:      pts,
		Payload:  obj.Payload,
		Length:   length,
	}
	if capture, ok := meta.PublishTime(); ok {
		packet.Capture = capture
	}
	return packet, nil
}

func videoFrame(ext loc.Extensions, obj Object) (*video.Frame, error) {
	meta, err := ext.VideoMetadata()
	if err != nil {
		return nil, err
	}
	pts, err := meta.PresentationTime()
	if err != nil {
		return nil, err
	}
	dts, err := meta.DecodeTime()
	if err != nil {
		return nil, err
	}
	length, err := meta.Length()
	if err != nil {
		return nil, err
	}

	frame := &video.Frame{
		Sequence: meta.Sequence,
		GroupID:  obj.GroupID,
		ObjectID: obj.ObjectID,
		PTS:      pts,
		DTS:      dts,
		Length:   length,
		Payload:  obj.Payload,
	}
	if capture, ok := meta.PublishTime(); ok {
		frame.Capture = capture
	}
	if length > 0 {
		frame.FPS = int(math.Round(float64(time.Second) / float64(length)))
	}
	return frame, nil
}

// Render fills out with interleaved samples of an audio source for the
// device callback. Returns the number of frames copied from playout.
func (m *Manager) Render(sourceID string, out []float32) (int, error) {
	src, err := m.lookup(sourceID)
	if err != nil {
		return 0, err
	}
	if src.kind != SourceAudio {
		return 0, fmt.Errorf("%w: render from %s source %s", ErrMediaKindMismatch, src.kind, sourceID)
	}
	return src.audio.Render(out, m.timeProvider.Now()), nil
}

// CollectMetrics samples every source and records the samples with the
// aggregator.
func (m *Manager) CollectMetrics() []SourceMetrics {
	m.mu.RLock()
	sources := lo.Values(m.sources)
	m.mu.RUnlock()
	sort.Slice(sources, func(i, j int) bool { return sources[i].id < sources[j].id })

	now := m.timeProvider.Now()
	samples := make([]SourceMetrics, 0, len(sources))
	for _, src := range sources {
		sample := src.sample(now, m.config.Thresholds)
		m.metrics.RecordMetrics(sample)
		samples = append(samples, sample)
	}
	return samples
}

func (m *Manager) collectLoop(ctx context.Context) error {
	ticker := time.NewTicker(m.config.MetricsInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.CollectMetrics()
		}
	}
}
