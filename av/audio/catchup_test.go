package audio

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	loud  = float32(0.5)
	quiet = float32(0.0001)
)

// windows builds mono audio from per-window levels, tagging loud windows
// with their index so reordering is detectable.
func windows(levels []bool, size int) []float32 {
	out := make([]float32, 0, len(levels)*size)
	for i, isLoud := range levels {
		for j := 0; j < size; j++ {
			if isLoud {
				out = append(out, loud+float32(i)/1000)
			} else {
				out = append(out, quiet)
			}
		}
	}
	return out
}

func TestAnalysisFrames(t *testing.T) {
	assert.Equal(t, 240, analysisFrames(PlayoutFormat))
	assert.Equal(t, 221, analysisFrames(Format{SampleRate: 44100, Channels: 1}))
	assert.Equal(t, 1, analysisFrames(Format{SampleRate: 1, Channels: 1}))
}

func TestTrimSilence(t *testing.T) {
	tests := []struct {
		name            string
		levels          []bool
		limit           int
		expectedKept    int
		expectedRemoved int
	}{
		{"all_loud", []bool{true, true, true}, 100, 30, 0},
		{"all_silent_unbounded", []bool{false, false, false}, 100, 0, 30},
		{"all_silent_limited", []bool{false, false, false}, 15, 10, 20},
		{"mixed", []bool{true, false, true, false}, 100, 20, 20},
		{"zero_limit", []bool{false, false}, 0, 20, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			samples := windows(tt.levels, 10)
			kept, removed := trimSilence(samples, 1, 10, tt.limit)
			assert.Equal(t, tt.expectedKept, kept)
			assert.Equal(t, tt.expectedRemoved, removed)
		})
	}
}

func TestTrimSilenceRemainder(t *testing.T) {
	// 25 frames with a 10 frame window leaves a 5 frame remainder.
	samples := make([]float32, 25)
	for i := range samples {
		samples[i] = quiet
	}

	kept, removed := trimSilence(samples, 1, 10, 100)
	assert.Equal(t, 0, kept)
	assert.Equal(t, 25, removed)

	// The remainder is only removed when enough data remains to refill it.
	kept, removed = trimSilence(samples, 1, 10, 24)
	assert.Equal(t, 5, kept)
	assert.Equal(t, 20, removed)
}

func TestTrimSilenceNeverRemovesAudio(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for iteration := 0; iteration < 200; iteration++ {
		levels := make([]bool, 1+rng.Intn(20))
		loudCount := 0
		for i := range levels {
			levels[i] = rng.Intn(2) == 0
			if levels[i] {
				loudCount++
			}
		}
		original := windows(levels, 8)
		samples := append([]float32(nil), original...)
		limit := rng.Intn(len(levels) * 8)

		kept, removed := trimSilence(samples, 1, 8, limit)
		assert.Equal(t, len(original), kept+removed)

		// Every loud window survives in order.
		var expected []float32
		for _, s := range original {
			if s >= loud {
				expected = append(expected, s)
			}
		}
		var got []float32
		for _, s := range samples[:kept] {
			if s >= loud {
				got = append(got, s)
			}
		}
		assert.Equal(t, expected, got)

		// Removal stops within one window of the limit.
		assert.Less(t, removed, max(limit, 0)+8)
	}
}

func TestRMS(t *testing.T) {
	assert.Zero(t, rms(nil))
	assert.InDelta(t, 0.5, rms([]float32{0.5, -0.5, 0.5, -0.5}), 1e-9)
	assert.Less(t, rms([]float32{quiet, quiet}), float64(silenceThreshold))
}
