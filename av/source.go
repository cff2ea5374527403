package av

import (
	"context"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/opd-ai/moqplayout/av/rtp"
	"github.com/opd-ai/moqplayout/av/video"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// VideoVariant describes one quality variant of a video source. Zero
// dimensions or frame rate inherit the manager's video configuration.
type VideoVariant struct {
	ID     string
	Width  int
	Height int
	FPS    int
}

// sourceSubmitter routes RTP ingest through the manager so arrivals feed
// the source metrics.
type sourceSubmitter struct {
	manager *Manager
	source  *source
}

func (s sourceSubmitter) Submit(packet *audio.Packet, arrival time.Time) error {
	return s.manager.submitAudio(s.source, packet, arrival)
}

// source is one remote participant's audio track or video variant set.
type source struct {
	id    string
	kind  SourceKind
	audio *audio.Handler
	set   *video.SubscriptionSet

	// ingest reads RTP for audio sources fed from a packet connection.
	ingest *rtp.Session

	mu sync.Mutex
	// estimators hold one RFC3550 estimate per track, since variants of
	// one source deliver the same timestamps on independent paths.
	estimators  map[string]*jitter.Estimator
	lastArrival time.Time
	cancel      context.CancelFunc
	done        chan struct{}
}

func newSource(id string, kind SourceKind) *source {
	return &source{
		id:         id,
		kind:       kind,
		estimators: make(map[string]*jitter.Estimator),
	}
}

// run drives every loop of the source until ctx is cancelled.
func (s *source) run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	switch s.kind {
	case SourceAudio:
		g.Go(func() error { return s.audio.Run(ctx) })
		if s.ingest != nil {
			g.Go(func() error { return s.ingest.Run(ctx) })
		}
	case SourceVideo:
		g.Go(func() error { return s.set.Run(ctx) })
		for _, h := range s.set.Handlers() {
			h := h
			g.Go(func() error { return h.Run(ctx) })
		}
	}
	return g.Wait()
}

// stop cancels the source loops and waits for them to exit.
func (s *source) stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *source) close() {
	s.stop()
	switch s.kind {
	case SourceAudio:
		if s.ingest != nil {
			if err := s.ingest.Close(); err != nil {
				logrus.WithFields(logrus.Fields{
					"function": "source.close",
					"source":   s.id,
					"error":    err.Error(),
				}).Warn("Failed to close RTP connection")
			}
		}
		s.audio.Close()
	case SourceVideo:
		s.set.Close()
	}
}

// record feeds the interarrival jitter estimate of a track.
func (s *source) record(trackID string, pts time.Duration, arrival time.Time) {
	s.mu.Lock()
	estimator, ok := s.estimators[trackID]
	if !ok {
		estimator = jitter.NewEstimator()
		s.estimators[trackID] = estimator
	}
	s.lastArrival = arrival
	s.mu.Unlock()

	estimator.Record(jitter.MediaEpoch.Add(pts), arrival)
}

// worstJitter returns the highest track estimate.
func (s *source) worstJitter() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	var worst time.Duration
	for _, estimator := range s.estimators {
		worst = max(worst, estimator.Jitter())
	}
	return worst
}

// sample builds a metrics sample from the handler counters.
func (s *source) sample(now time.Time, thresholds QualityThresholds) SourceMetrics {
	m := SourceMetrics{
		SourceID:  s.id,
		Kind:      s.kind,
		Jitter:    s.worstJitter(),
		Timestamp: now,
	}

	switch s.kind {
	case SourceAudio:
		stats := s.audio.Stats()
		m.Received = stats.Buffer.Writes
		m.Dropped = stats.Buffer.FullDrops + stats.Buffer.StaleDrops + stats.ConcealmentOverflows
		m.Underruns = stats.UnderrunFrames
		m.Concealed = stats.ConcealedFrames
		m.DecodeErrors = stats.DecodeErrors
	case SourceVideo:
		for _, h := range s.set.Handlers() {
			stats := h.Stats()
			m.Received += stats.Received
			m.Dropped += stats.Buffer.FullDrops + stats.Buffer.StaleDrops + stats.GateDrops
			m.Underruns += stats.Buffer.Underruns
			m.Concealed += stats.Discontinuous
			m.DecodeErrors += stats.DecodeErrors
		}
	}
	m.LossRate = lossRate(m.Received, m.Dropped)

	s.mu.Lock()
	if !s.lastArrival.IsZero() {
		m.LastUnitAge = now.Sub(s.lastArrival)
	}
	s.mu.Unlock()

	m.Quality = thresholds.Assess(m)
	return m
}
