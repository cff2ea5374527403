package rtp

import (
	"fmt"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// DepacketizerConfig configures RTP audio ingest.
type DepacketizerConfig struct {
	// ClockRate is the RTP timestamp rate in Hz (48000 for Opus).
	ClockRate uint32

	// PayloadType restricts accepted packets when non-zero.
	PayloadType uint8

	// SSRC locks the stream to a known source when non-zero. Otherwise
	// the first packet's SSRC is used.
	SSRC uint32
}

// DefaultDepacketizerConfig returns the Opus ingest configuration.
func DefaultDepacketizerConfig() DepacketizerConfig {
	return DepacketizerConfig{
		ClockRate:   48000,
		PayloadType: 0, // any
	}
}

// DepacketizerStats counts ingest outcomes.
type DepacketizerStats struct {
	Accepted   uint64
	Rejected   uint64
	Wraps      uint64
	Reordered  uint64
	HighestSeq uint64
}

// unwrapper extends a counter of the given bit width to 64 bits relative
// to the highest value seen so far.
type unwrapper struct {
	bits    uint
	started bool
	highest int64
	wraps   uint64
}

// extend returns the extended value. The boolean is false when the value
// falls before zero, in which case the state is left unchanged.
func (u *unwrapper) extend(v uint64) (int64, bool) {
	if !u.started {
		u.started = true
		u.highest = int64(v)
		return u.highest, true
	}

	span := int64(1) << u.bits
	delta := int64(v-uint64(u.highest)) & (span - 1)
	if delta >= span/2 {
		delta -= span
	}

	ext := u.highest + delta
	if ext < 0 {
		return ext, false
	}
	if ext > u.highest {
		if ext/span != u.highest/span {
			u.wraps++
		}
		u.highest = ext
	}
	return ext, true
}

// Depacketizer turns RTP audio packets into playout packets with 64-bit
// sequence numbers and presentation timestamps.
//
// The first packet is anchored at its arrival time so that presentation
// timestamps share the wall clock domain used by the time aligner.
type Depacketizer struct {
	mu     sync.Mutex
	config DepacketizerConfig

	ssrc    uint32
	hasSSRC bool

	seq unwrapper
	ts  unwrapper

	firstTS int64
	anchor  time.Duration

	stats DepacketizerStats
}

// NewDepacketizer creates a depacketizer.
//
// Parameters:
//   - config: Clock rate and stream filters
//
// Returns:
//   - *Depacketizer: New depacketizer instance
//   - error: ErrInvalidClockRate for a zero clock rate
func NewDepacketizer(config DepacketizerConfig) (*Depacketizer, error) {
	if config.ClockRate == 0 {
		logrus.WithFields(logrus.Fields{
			"function": "NewDepacketizer",
			"error":    ErrInvalidClockRate.Error(),
		}).Error("Invalid depacketizer configuration")
		return nil, ErrInvalidClockRate
	}
	d := &Depacketizer{
		config: config,
		seq:    unwrapper{bits: 16},
		ts:     unwrapper{bits: 32},
	}
	if config.SSRC != 0 {
		d.ssrc = config.SSRC
		d.hasSSRC = true
	}
	return d, nil
}

// Unmarshal parses a raw datagram and converts it.
func (d *Depacketizer) Unmarshal(data []byte, arrival time.Time) (*audio.Packet, error) {
	if len(data) == 0 {
		return nil, ErrEmptyPacket
	}
	packet := &rtp.Packet{}
	if err := packet.Unmarshal(data); err != nil {
		d.mu.Lock()
		d.stats.Rejected++
		d.mu.Unlock()
		return nil, fmt.Errorf("failed to unmarshal RTP packet: %w", err)
	}
	return d.Depacketize(packet, arrival)
}

// Depacketize converts a parsed RTP packet into an audio packet.
//
// Parameters:
//   - packet: Parsed RTP packet
//   - arrival: Local receive time
//
// Returns:
//   - *audio.Packet: Packet with extended sequence and presentation time
//   - error: ErrUnexpectedSSRC, ErrUnexpectedPayloadType or
//     ErrSequenceUnderflow
func (d *Depacketizer) Depacketize(packet *rtp.Packet, arrival time.Time) (*audio.Packet, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.accept(packet); err != nil {
		d.stats.Rejected++
		logrus.WithFields(logrus.Fields{
			"function": "Depacketizer.Depacketize",
			"ssrc":     packet.SSRC,
			"sequence": packet.SequenceNumber,
			"error":    err.Error(),
		}).Debug("Rejected RTP packet")
		return nil, err
	}

	first := !d.seq.started
	previous := d.seq.highest
	seq, ok := d.seq.extend(uint64(packet.SequenceNumber))
	if !ok {
		d.stats.Rejected++
		return nil, fmt.Errorf("%w: %d", ErrSequenceUnderflow, packet.SequenceNumber)
	}
	if !first && seq < previous {
		d.stats.Reordered++
	}

	// Timestamps of reordered packets may precede zero; the offset from
	// the first timestamp is still meaningful.
	ts, _ := d.ts.extend(uint64(packet.Timestamp))
	if first {
		d.firstTS = ts
		d.anchor = arrival.Sub(jitter.MediaEpoch)
	}

	d.stats.Accepted++
	d.stats.Wraps = d.seq.wraps
	d.stats.HighestSeq = uint64(d.seq.highest)

	return &audio.Packet{
		Sequence: uint64(seq),
		PTS:      d.anchor + d.ticks(ts-d.firstTS),
		Payload:  packet.Payload,
	}, nil
}

func (d *Depacketizer) accept(packet *rtp.Packet) error {
	if d.config.PayloadType != 0 && packet.PayloadType != d.config.PayloadType {
		return fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedPayloadType, d.config.PayloadType, packet.PayloadType)
	}
	if !d.hasSSRC {
		d.ssrc = packet.SSRC
		d.hasSSRC = true
		logrus.WithFields(logrus.Fields{
			"function": "Depacketizer.accept",
			"ssrc":     packet.SSRC,
		}).Info("Accepted new SSRC for stream")
		return nil
	}
	if packet.SSRC != d.ssrc {
		return fmt.Errorf("%w: expected %d, got %d", ErrUnexpectedSSRC, d.ssrc, packet.SSRC)
	}
	return nil
}

// ticks converts signed RTP ticks to a duration.
func (d *Depacketizer) ticks(n int64) time.Duration {
	rate := int64(d.config.ClockRate)
	whole := n / rate
	frac := n % rate
	return time.Duration(whole)*time.Second + time.Duration(frac)*time.Second/time.Duration(rate)
}

// Stats returns a snapshot of ingest counters.
func (d *Depacketizer) Stats() DepacketizerStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}

// Reset forgets the locked SSRC and sequence state.
func (d *Depacketizer) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.seq = unwrapper{bits: 16}
	d.ts = unwrapper{bits: 32}
	d.hasSSRC = d.config.SSRC != 0
	d.ssrc = d.config.SSRC
}
