package rtp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/sirupsen/logrus"
)

// maxDatagram bounds a single RTP read.
const maxDatagram = 1500

// readPoll is the read deadline used to observe cancellation.
const readPoll = 100 * time.Millisecond

// PacketSubmitter accepts depacketized audio. *audio.Handler satisfies it.
type PacketSubmitter interface {
	Submit(packet *audio.Packet, arrival time.Time) error
}

// Statistics summarizes a receive session.
type Statistics struct {
	PacketsReceived uint64
	PacketsRejected uint64
	PacketsLost     uint64
	SubmitErrors    uint64
	Jitter          time.Duration
}

// Session receives RTP audio from a packet connection and feeds a playout
// handler.
type Session struct {
	mu           sync.Mutex
	conn         net.PacketConn
	depacketizer *Depacketizer
	submitter    PacketSubmitter
	estimator    *jitter.Estimator
	timeProvider jitter.TimeProvider

	received     uint64
	submitErrors uint64
	firstSeq     uint64
	started      bool
}

// NewSession creates a receive session.
//
// Parameters:
//   - conn: Packet connection to read RTP datagrams from
//   - config: Depacketizer configuration
//   - submitter: Destination for depacketized audio
//
// Returns:
//   - *Session: The new session
//   - error: Any error that occurred during setup
func NewSession(conn net.PacketConn, config DepacketizerConfig, submitter PacketSubmitter) (*Session, error) {
	if conn == nil {
		return nil, fmt.Errorf("packet connection cannot be nil")
	}
	if submitter == nil {
		return nil, fmt.Errorf("submitter cannot be nil")
	}
	depacketizer, err := NewDepacketizer(config)
	if err != nil {
		return nil, err
	}
	return &Session{
		conn:         conn,
		depacketizer: depacketizer,
		submitter:    submitter,
		estimator:    jitter.NewEstimator(),
		timeProvider: jitter.DefaultTimeProvider{},
	}, nil
}

// SetTimeProvider replaces the arrival clock.
func (s *Session) SetTimeProvider(tp jitter.TimeProvider) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timeProvider = tp
}

// HandleDatagram processes one received datagram.
func (s *Session) HandleDatagram(data []byte) error {
	s.mu.Lock()
	arrival := s.timeProvider.Now()
	s.mu.Unlock()

	packet, err := s.depacketizer.Unmarshal(data, arrival)
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.received++
	if !s.started {
		s.started = true
		s.firstSeq = packet.Sequence
	}
	s.estimator.Record(jitter.MediaEpoch.Add(packet.PTS), arrival)
	s.mu.Unlock()

	if err := s.submitter.Submit(packet, arrival); err != nil {
		s.mu.Lock()
		s.submitErrors++
		s.mu.Unlock()
		return fmt.Errorf("failed to submit packet %d: %w", packet.Sequence, err)
	}
	return nil
}

// Run reads datagrams until ctx is cancelled or the connection fails.
func (s *Session) Run(ctx context.Context) error {
	buf := make([]byte, maxDatagram)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := s.conn.SetReadDeadline(time.Now().Add(readPoll)); err != nil {
			return fmt.Errorf("failed to set read deadline: %w", err)
		}
		n, addr, err := s.conn.ReadFrom(buf)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read RTP datagram: %w", err)
		}

		// The depacketizer may keep the payload; hand it a private copy.
		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		if err := s.HandleDatagram(datagram); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "Session.Run",
				"remote":   addr.String(),
				"size":     n,
				"error":    err.Error(),
			}).Debug("Dropped RTP datagram")
		}
	}
}

// Statistics returns current session statistics.
func (s *Session) Statistics() Statistics {
	ds := s.depacketizer.Stats()

	s.mu.Lock()
	defer s.mu.Unlock()

	stats := Statistics{
		PacketsReceived: s.received,
		PacketsRejected: ds.Rejected,
		SubmitErrors:    s.submitErrors,
		Jitter:          s.estimator.Jitter(),
	}
	if s.started {
		expected := ds.HighestSeq - s.firstSeq + 1
		if expected > s.received {
			stats.PacketsLost = expected - s.received
		}
	}
	return stats
}

// Close closes the underlying connection.
func (s *Session) Close() error {
	return s.conn.Close()
}
