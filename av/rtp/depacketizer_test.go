package rtp

import (
	"testing"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/pion/rtp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func rtpPacket(seq uint16, ts uint32) *rtp.Packet {
	return &rtp.Packet{
		Header: rtp.Header{
			Version:        2,
			PayloadType:    opusPayloadType,
			SequenceNumber: seq,
			Timestamp:      ts,
			SSRC:           0xcafe,
		},
		Payload: []byte{0xfc, 0x01},
	}
}

func TestUnwrapperSequence(t *testing.T) {
	tests := []struct {
		name  string
		input []uint64
		want  []int64
		wraps uint64
	}{
		{"in_order", []uint64{10, 11, 12}, []int64{10, 11, 12}, 0},
		{"wrap", []uint64{65534, 65535, 0, 1}, []int64{65534, 65535, 65536, 65537}, 1},
		{"reorder_across_wrap", []uint64{65535, 1, 0}, []int64{65535, 65537, 65536}, 1},
		{"late_before_wrap", []uint64{2, 65535}, []int64{2, -1}, 0},
		{"second_wrap", []uint64{65535, 0, 32767, 65534, 0}, []int64{65535, 65536, 98303, 131070, 131072}, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			u := unwrapper{bits: 16}
			for i, v := range tt.input {
				got, ok := u.extend(v)
				assert.Equal(t, tt.want[i], got, "input %d", i)
				assert.Equal(t, got >= 0, ok)
			}
			assert.Equal(t, tt.wraps, u.wraps)
		})
	}
}

func TestDepacketizerTiming(t *testing.T) {
	d, err := NewDepacketizer(DefaultDepacketizerConfig())
	require.NoError(t, err)

	arrival := time.Unix(1000, 0)
	first, err := d.Depacketize(rtpPacket(65535, 4294966336), arrival)
	require.NoError(t, err)
	assert.Equal(t, uint64(65535), first.Sequence)
	assert.Equal(t, arrival.Sub(jitter.MediaEpoch), first.PTS)

	// 960 ticks at 48kHz is 20ms, across both the sequence and timestamp wrap.
	second, err := d.Depacketize(rtpPacket(0, 0), arrival.Add(25*time.Millisecond))
	require.NoError(t, err)
	assert.Equal(t, uint64(65536), second.Sequence)
	assert.Equal(t, first.PTS+20*time.Millisecond, second.PTS)
	assert.Equal(t, []byte{0xfc, 0x01}, second.Payload)

	stats := d.Stats()
	assert.Equal(t, uint64(2), stats.Accepted)
	assert.Equal(t, uint64(1), stats.Wraps)
	assert.Equal(t, uint64(65536), stats.HighestSeq)
}

func TestDepacketizerReorder(t *testing.T) {
	d, err := NewDepacketizer(DefaultDepacketizerConfig())
	require.NoError(t, err)
	arrival := time.Unix(1000, 0)

	_, err = d.Depacketize(rtpPacket(100, 96000), arrival)
	require.NoError(t, err)
	_, err = d.Depacketize(rtpPacket(102, 97920), arrival)
	require.NoError(t, err)

	late, err := d.Depacketize(rtpPacket(101, 96960), arrival)
	require.NoError(t, err)
	assert.Equal(t, uint64(101), late.Sequence)
	assert.Equal(t, arrival.Sub(jitter.MediaEpoch)+20*time.Millisecond, late.PTS)
	assert.Equal(t, uint64(1), d.Stats().Reordered)
}

func TestDepacketizerRejects(t *testing.T) {
	t.Run("ssrc", func(t *testing.T) {
		d, err := NewDepacketizer(DefaultDepacketizerConfig())
		require.NoError(t, err)
		_, err = d.Depacketize(rtpPacket(1, 0), time.Unix(1, 0))
		require.NoError(t, err)

		other := rtpPacket(2, 960)
		other.SSRC = 0xbeef
		_, err = d.Depacketize(other, time.Unix(1, 0))
		assert.ErrorIs(t, err, ErrUnexpectedSSRC)
		assert.Equal(t, uint64(1), d.Stats().Rejected)

		d.Reset()
		_, err = d.Depacketize(other, time.Unix(1, 0))
		assert.NoError(t, err)
	})

	t.Run("configured_ssrc", func(t *testing.T) {
		d, err := NewDepacketizer(DepacketizerConfig{ClockRate: 48000, SSRC: 0xbeef})
		require.NoError(t, err)
		_, err = d.Depacketize(rtpPacket(1, 0), time.Unix(1, 0))
		assert.ErrorIs(t, err, ErrUnexpectedSSRC)
	})

	t.Run("payload_type", func(t *testing.T) {
		d, err := NewDepacketizer(DepacketizerConfig{ClockRate: 48000, PayloadType: 96})
		require.NoError(t, err)
		_, err = d.Depacketize(rtpPacket(1, 0), time.Unix(1, 0))
		assert.ErrorIs(t, err, ErrUnexpectedPayloadType)
	})

	t.Run("underflow", func(t *testing.T) {
		d, err := NewDepacketizer(DefaultDepacketizerConfig())
		require.NoError(t, err)
		_, err = d.Depacketize(rtpPacket(5, 0), time.Unix(1, 0))
		require.NoError(t, err)
		_, err = d.Depacketize(rtpPacket(65530, 0), time.Unix(1, 0))
		assert.ErrorIs(t, err, ErrSequenceUnderflow)
	})

	t.Run("garbage", func(t *testing.T) {
		d, err := NewDepacketizer(DefaultDepacketizerConfig())
		require.NoError(t, err)
		_, err = d.Unmarshal(nil, time.Unix(1, 0))
		assert.ErrorIs(t, err, ErrEmptyPacket)
		_, err = d.Unmarshal([]byte{0x80}, time.Unix(1, 0))
		assert.Error(t, err)
	})

	t.Run("clock_rate", func(t *testing.T) {
		_, err := NewDepacketizer(DepacketizerConfig{})
		assert.ErrorIs(t, err, ErrInvalidClockRate)
	})
}

func TestPacketizerRoundTrip(t *testing.T) {
	p, err := NewPacketizer(0, 65535)
	require.NoError(t, err)
	d, err := NewDepacketizer(DepacketizerConfig{ClockRate: 48000, PayloadType: opusPayloadType})
	require.NoError(t, err)

	arrival := time.Unix(2000, 0)
	for i := 0; i < 3; i++ {
		data, err := p.Packetize([]byte{byte(i)}, 960)
		require.NoError(t, err)

		packet, err := d.Unmarshal(data, arrival)
		require.NoError(t, err)
		assert.Equal(t, uint64(65535+i), packet.Sequence)
		assert.Equal(t, arrival.Sub(jitter.MediaEpoch)+time.Duration(i)*20*time.Millisecond, packet.PTS)
		assert.Equal(t, []byte{byte(i)}, packet.Payload)
	}

	_, err = p.Packetize(nil, 960)
	assert.ErrorIs(t, err, ErrEmptyPacket)
}
