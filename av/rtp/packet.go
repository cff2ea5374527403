package rtp

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/pion/rtp"
	"github.com/sirupsen/logrus"
)

// opusPayloadType is the dynamic payload type conventionally used for Opus.
const opusPayloadType = 111

// Packetizer wraps encoded audio frames in RTP packets. It is the sending
// counterpart of Depacketizer and is used for loopback feeds and tests.
type Packetizer struct {
	mu             sync.Mutex
	ssrc           uint32
	payloadType    uint8
	sequenceNumber uint16
	timestamp      uint32
}

// NewPacketizer creates a packetizer with a random SSRC.
//
// Parameters:
//   - payloadType: RTP payload type, zero selects the Opus default
//   - initialSequence: First sequence number to emit
//
// Returns:
//   - *Packetizer: New packetizer instance
//   - error: Any error that occurred generating the SSRC
func NewPacketizer(payloadType uint8, initialSequence uint16) (*Packetizer, error) {
	ssrcBytes := make([]byte, 4)
	if _, err := rand.Read(ssrcBytes); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewPacketizer",
			"error":    err.Error(),
		}).Error("Failed to generate SSRC")
		return nil, fmt.Errorf("failed to generate SSRC: %w", err)
	}
	if payloadType == 0 {
		payloadType = opusPayloadType
	}
	return &Packetizer{
		ssrc:           binary.BigEndian.Uint32(ssrcBytes),
		payloadType:    payloadType,
		sequenceNumber: initialSequence,
	}, nil
}

// SSRC returns the stream identifier.
func (p *Packetizer) SSRC() uint32 { return p.ssrc }

// Packetize builds one RTP packet and advances sequence and timestamp.
//
// Parameters:
//   - payload: Encoded audio frame
//   - sampleCount: Samples in the frame at the RTP clock rate
//
// Returns:
//   - []byte: Marshalled RTP packet
//   - error: ErrEmptyPacket or a marshal failure
func (p *Packetizer) Packetize(payload []byte, sampleCount uint32) ([]byte, error) {
	if len(payload) == 0 {
		return nil, ErrEmptyPacket
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    p.payloadType,
			SequenceNumber: p.sequenceNumber,
			Timestamp:      p.timestamp,
			SSRC:           p.ssrc,
		},
		Payload: payload,
	}
	data, err := packet.Marshal()
	if err != nil {
		return nil, fmt.Errorf("failed to marshal RTP packet: %w", err)
	}

	p.sequenceNumber++
	p.timestamp += sampleCount
	return data, nil
}
