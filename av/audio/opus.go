package audio

import (
	"fmt"
	"time"

	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// opusMaxFrameSamples holds 120ms of 48kHz stereo, the largest packet.
const opusMaxFrameSamples = 5760 * 2

// opusUpsampleFactor is the fixed upsampling pion/opus applies to SILK
// output, so a decoded frame runs at three times the bandwidth rate.
const opusUpsampleFactor = 3

// opusPLCAttenuation scales each successive concealment frame.
const opusPLCAttenuation = 0.5

// OpusEncodedFormat is the nominal format of an Opus stream.
var OpusEncodedFormat = Format{SampleRate: 48000, Channels: 1}

// PacketDuration returns the audio duration carried by an Opus packet,
// derived from its TOC byte and frame count code.
func PacketDuration(data []byte) (time.Duration, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("%w: empty opus packet", ErrInvalidPacket)
	}

	config := data[0] >> 3
	var frame time.Duration
	switch {
	case config < 12: // SILK-only
		frame = []time.Duration{10, 20, 40, 60}[config%4] * time.Millisecond
	case config < 16: // Hybrid
		frame = []time.Duration{10, 20}[config%2] * time.Millisecond
	default: // CELT-only
		frame = []time.Duration{2500, 5000, 10000, 20000}[config%4] * time.Microsecond
	}

	var count int
	switch data[0] & 0x03 {
	case 0:
		count = 1
	case 1, 2:
		count = 2
	default:
		if len(data) < 2 {
			return 0, fmt.Errorf("%w: code 3 packet without frame count", ErrInvalidPacket)
		}
		count = int(data[1] & 0x3F)
		if count == 0 {
			return 0, fmt.Errorf("%w: zero frame count", ErrInvalidPacket)
		}
	}

	total := frame * time.Duration(count)
	if total > 120*time.Millisecond {
		return 0, fmt.Errorf("%w: packet duration %v exceeds 120ms", ErrInvalidPacket, total)
	}
	return total, nil
}

// OpusDecoder decodes Opus packets with pion/opus and resamples the output
// to the playout rate.
//
// pion/opus has no loss concealment, so PLC repeats the last decoded frame
// with increasing attenuation and falls back to silence.
type OpusDecoder struct {
	decoder   *opus.Decoder
	output    Format
	resampler *Resampler
	scratch   []float32

	lastFrame   []float32
	concealRuns int
}

// NewOpusDecoder creates an Opus decoder producing audio in output format.
//
// Parameters:
//   - output: Decoded format, normally PlayoutFormat
//
// Returns:
//   - *OpusDecoder: New decoder instance
//   - error: ErrInvalidFormat if output is unsupported
func NewOpusDecoder(output Format) (*OpusDecoder, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewOpusDecoder",
		"sample_rate": output.SampleRate,
		"channels":    output.Channels,
	}).Info("Creating Opus decoder")

	if err := output.Validate(); err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "NewOpusDecoder",
			"error":    err.Error(),
		}).Error("Opus decoder output format rejected")
		return nil, err
	}

	decoder := opus.NewDecoder()
	return &OpusDecoder{
		decoder: &decoder,
		output:  output,
		scratch: make([]float32, opusMaxFrameSamples),
	}, nil
}

// EncodedFormat returns the nominal Opus stream format.
func (d *OpusDecoder) EncodedFormat() Format { return OpusEncodedFormat }

// DecodedFormat returns the output format.
func (d *OpusDecoder) DecodedFormat() Format { return d.output }

// Frames returns the number of 48kHz frames carried by data.
func (d *OpusDecoder) Frames(data []byte) (int, error) {
	duration, err := PacketDuration(data)
	if err != nil {
		return 0, err
	}
	return OpusEncodedFormat.FramesFor(duration), nil
}

// Decode decodes one Opus packet into the output format.
func (d *OpusDecoder) Decode(data []byte) ([]float32, error) {
	duration, err := PacketDuration(data)
	if err != nil {
		return nil, err
	}

	bandwidth, isStereo, err := d.decoder.DecodeFloat32(data, d.scratch)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function":  "OpusDecoder.Decode",
			"data_size": len(data),
			"error":     err.Error(),
		}).Warn("Opus decode failed")
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}

	rate := uint32(bandwidth.SampleRate() * opusUpsampleFactor)
	channels := 1
	if isStereo {
		channels = 2
	}
	decodedFormat := Format{SampleRate: rate, Channels: channels}
	samples := decodedFormat.FramesFor(duration) * channels
	if samples > len(d.scratch) {
		samples = len(d.scratch) - len(d.scratch)%channels
	}

	pcm := make([]float32, samples)
	copy(pcm, d.scratch[:samples])
	out := remix(pcm, channels, d.output.Channels)

	if rate != d.output.SampleRate {
		resampled, err := d.resample(float32ToInt16(out), rate)
		if err != nil {
			return nil, err
		}
		out = int16ToFloat32(resampled)
	}

	d.lastFrame = out
	d.concealRuns = 0
	return out, nil
}

func (d *OpusDecoder) resample(pcm []int16, rate uint32) ([]int16, error) {
	if d.resampler == nil || d.resampler.InputRate() != rate {
		logrus.WithFields(logrus.Fields{
			"function":    "OpusDecoder.resample",
			"input_rate":  rate,
			"output_rate": d.output.SampleRate,
		}).Debug("Opus bandwidth changed, creating resampler")
		resampler, err := NewResampler(ResamplerConfig{
			InputRate:  rate,
			OutputRate: d.output.SampleRate,
			Channels:   d.output.Channels,
		})
		if err != nil {
			return nil, err
		}
		d.resampler = resampler
	}
	return d.resampler.Resample(pcm)
}

// PLC synthesises frames of concealment audio.
func (d *OpusDecoder) PLC(frames int) ([]float32, error) {
	out := make([]float32, frames*d.output.Channels)
	if len(d.lastFrame) == 0 {
		return out, nil
	}

	d.concealRuns++
	gain := float32(1)
	for i := 0; i < d.concealRuns; i++ {
		gain *= opusPLCAttenuation
	}
	for i := range out {
		out[i] = d.lastFrame[i%len(d.lastFrame)] * gain
	}
	return out, nil
}

// Reset discards decoder, resampler and concealment state.
func (d *OpusDecoder) Reset() error {
	logrus.WithFields(logrus.Fields{
		"function": "OpusDecoder.Reset",
	}).Info("Resetting Opus decoder")

	decoder := opus.NewDecoder()
	d.decoder = &decoder
	d.resampler = nil
	d.lastFrame = nil
	d.concealRuns = 0
	return nil
}

// remix converts interleaved samples between mono and stereo.
func remix[S ~int16 | ~float32](pcm []S, from, to int) []S {
	switch {
	case from == to:
		return pcm
	case from == 2 && to == 1:
		out := make([]S, len(pcm)/2)
		for i := range out {
			out[i] = S((float64(pcm[2*i]) + float64(pcm[2*i+1])) / 2)
		}
		return out
	default:
		out := make([]S, len(pcm)*2)
		for i, s := range pcm {
			out[2*i] = s
			out[2*i+1] = s
		}
		return out
	}
}
