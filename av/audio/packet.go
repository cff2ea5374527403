package audio

import "time"

// Packet is one encoded audio unit awaiting playout.
type Packet struct {
	// Sequence is the per-track object sequence number.
	Sequence uint64

	// PTS is the capture timestamp as an offset from jitter.MediaEpoch.
	PTS time.Duration

	// Capture is the sender wall clock at capture, zero when not signalled.
	Capture time.Time

	// Payload is the encoded audio.
	Payload []byte

	// Length is the playback duration. The handler fills it from the
	// decoder frame count when zero.
	Length time.Duration
}

// SequenceNumber returns the packet sequence number.
func (p *Packet) SequenceNumber() uint64 { return p.Sequence }

// Timestamp returns the presentation timestamp.
func (p *Packet) Timestamp() time.Duration { return p.PTS }

// Duration returns the playback duration.
func (p *Packet) Duration() time.Duration { return p.Length }
