package audio

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"
)

// Format describes interleaved PCM audio.
type Format struct {
	SampleRate uint32
	Channels   int
}

// PlayoutFormat is the format delivered to renderers: 48kHz mono float32.
var PlayoutFormat = Format{SampleRate: 48000, Channels: 1}

// Validate checks the format for supported values.
func (f Format) Validate() error {
	if f.SampleRate == 0 {
		return fmt.Errorf("%w: zero sample rate", ErrInvalidFormat)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("%w: %d channels", ErrInvalidFormat, f.Channels)
	}
	return nil
}

// FramesFor returns the number of frames covering d.
func (f Format) FramesFor(d time.Duration) int {
	return int(int64(f.SampleRate) * d.Microseconds() / int64(time.Second/time.Microsecond))
}

// DurationOf returns the playback duration of frames.
func (f Format) DurationOf(frames int) time.Duration {
	if f.SampleRate == 0 {
		return 0
	}
	return time.Duration(frames) * time.Second / time.Duration(f.SampleRate)
}

// Decoder converts encoded audio packets into interleaved float32 PCM.
//
// Implementations are used from a single goroutine.
type Decoder interface {
	// EncodedFormat returns the format of the stream as sent.
	EncodedFormat() Format

	// DecodedFormat returns the format produced by Decode and PLC.
	DecodedFormat() Format

	// Decode decodes one packet.
	Decode(data []byte) ([]float32, error)

	// Frames returns the number of frames in a packet at the encoded rate.
	Frames(data []byte) (int, error)

	// PLC synthesises frames of concealment audio at the decoded rate.
	PLC(frames int) ([]float32, error)

	// Reset discards decoder state.
	Reset() error
}

// PCMDecoder passes through signed 16-bit little-endian PCM.
type PCMDecoder struct {
	format Format
}

// NewPCMDecoder creates a decoder for raw s16le audio in format.
func NewPCMDecoder(format Format) (*PCMDecoder, error) {
	if err := format.Validate(); err != nil {
		return nil, err
	}
	return &PCMDecoder{format: format}, nil
}

// EncodedFormat returns the stream format.
func (d *PCMDecoder) EncodedFormat() Format { return d.format }

// DecodedFormat returns the stream format.
func (d *PCMDecoder) DecodedFormat() Format { return d.format }

// Decode converts s16le bytes to float32 samples.
func (d *PCMDecoder) Decode(data []byte) ([]float32, error) {
	if _, err := d.Frames(data); err != nil {
		return nil, err
	}
	return int16BytesToFloat32(data), nil
}

// Frames returns the number of frames in data.
func (d *PCMDecoder) Frames(data []byte) (int, error) {
	frameBytes := 2 * d.format.Channels
	if len(data) == 0 || len(data)%frameBytes != 0 {
		return 0, fmt.Errorf("%w: %d bytes for %d channels", ErrInvalidPacket, len(data), d.format.Channels)
	}
	return len(data) / frameBytes, nil
}

// PLC returns silence.
func (d *PCMDecoder) PLC(frames int) ([]float32, error) {
	return make([]float32, frames*d.format.Channels), nil
}

// Reset is a no-op for PCM.
func (d *PCMDecoder) Reset() error { return nil }

func int16BytesToFloat32(data []byte) []float32 {
	out := make([]float32, len(data)/2)
	for i := range out {
		out[i] = float32(int16(binary.LittleEndian.Uint16(data[i*2:]))) / 32768
	}
	return out
}

func int16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		out[i] = float32(s) / 32768
	}
	return out
}

// float32ToInt16 clamps samples to [-1, 1) and scales them to 16 bits.
func float32ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		v := float64(s) * 32768
		switch {
		case v > math.MaxInt16:
			v = math.MaxInt16
		case v < math.MinInt16:
			v = math.MinInt16
		}
		out[i] = int16(v)
	}
	return out
}
