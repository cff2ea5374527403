package audio

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Resampler converts interleaved 16-bit PCM between sample rates using
// linear interpolation. State is carried across calls so consecutive
// packets join without discontinuities.
type Resampler struct {
	inputRate  uint32
	outputRate uint32
	channels   int
	lastFrame  []int16 // Last input frame of the previous call
	position   float64 // Fractional read position relative to the current input
}

// ResamplerConfig holds configuration for creating a resampler.
type ResamplerConfig struct {
	InputRate  uint32 // Input sample rate in Hz
	OutputRate uint32 // Output sample rate in Hz
	Channels   int    // Number of audio channels (1=mono, 2=stereo)
}

// NewResampler creates a new audio resampler instance.
//
// Parameters:
//   - config: Resampler configuration
//
// Returns:
//   - *Resampler: New resampler instance
//   - error: ErrInvalidFormat for zero rates or unsupported channel counts
func NewResampler(config ResamplerConfig) (*Resampler, error) {
	logrus.WithFields(logrus.Fields{
		"function":    "NewResampler",
		"input_rate":  config.InputRate,
		"output_rate": config.OutputRate,
		"channels":    config.Channels,
	}).Debug("Creating audio resampler")

	if config.InputRate == 0 || config.OutputRate == 0 {
		return nil, fmt.Errorf("%w: input=%d output=%d", ErrInvalidFormat, config.InputRate, config.OutputRate)
	}
	if config.Channels < 1 || config.Channels > 2 {
		return nil, fmt.Errorf("%w: %d channels", ErrInvalidFormat, config.Channels)
	}

	return &Resampler{
		inputRate:  config.InputRate,
		outputRate: config.OutputRate,
		channels:   config.Channels,
		lastFrame:  make([]int16, config.Channels),
	}, nil
}

// Resample converts input to the output rate.
//
// Parameters:
//   - input: Interleaved input samples, a whole number of frames
//
// Returns:
//   - []int16: Interleaved resampled output
//   - error: ErrFormatMismatch if input is not frame aligned
func (r *Resampler) Resample(input []int16) ([]int16, error) {
	if len(input) == 0 || len(input)%r.channels != 0 {
		logrus.WithFields(logrus.Fields{
			"function":     "Resampler.Resample",
			"input_length": len(input),
			"channels":     r.channels,
		}).Error("Input not aligned to channel count")
		return nil, fmt.Errorf("%w: %d samples for %d channels", ErrFormatMismatch, len(input), r.channels)
	}

	if r.inputRate == r.outputRate {
		out := make([]int16, len(input))
		copy(out, input)
		return out, nil
	}

	ratio := float64(r.inputRate) / float64(r.outputRate)
	inputFrames := len(input) / r.channels
	out := make([]int16, 0, int(float64(inputFrames)/ratio+1)*r.channels)

	// Position -1 refers to the last frame of the previous call.
	for r.position < float64(inputFrames-1) {
		index := int(r.position)
		if r.position < 0 {
			index = -1
		}
		frac := r.position - float64(index)
		for ch := 0; ch < r.channels; ch++ {
			a := r.sampleAt(input, index, ch)
			b := r.sampleAt(input, index+1, ch)
			out = append(out, int16(float64(a)*(1-frac)+float64(b)*frac))
		}
		r.position += ratio
	}

	r.position -= float64(inputFrames)
	copy(r.lastFrame, input[len(input)-r.channels:])
	return out, nil
}

func (r *Resampler) sampleAt(input []int16, frame, ch int) int16 {
	if frame < 0 {
		return r.lastFrame[ch]
	}
	return input[frame*r.channels+ch]
}

// Reset discards interpolation state.
func (r *Resampler) Reset() {
	r.position = 0
	for i := range r.lastFrame {
		r.lastFrame[i] = 0
	}
}

// InputRate returns the configured input sample rate.
func (r *Resampler) InputRate() uint32 { return r.inputRate }

// OutputRate returns the configured output sample rate.
func (r *Resampler) OutputRate() uint32 { return r.outputRate }

// Channels returns the configured number of channels.
func (r *Resampler) Channels() int { return r.channels }
