package audio

import (
	"math"
	"time"
)

const (
	// silenceAnalysisWindow is the span over which RMS is measured.
	silenceAnalysisWindow = 5 * time.Millisecond

	// silenceThreshold is the RMS below which a window counts as silent.
	silenceThreshold = 0.001
)

// analysisFrames returns the number of frames in one analysis window,
// rounded up.
func analysisFrames(format Format) int {
	us := int64(format.SampleRate) * silenceAnalysisWindow.Microseconds()
	frames := int((us + int64(time.Second/time.Microsecond) - 1) / int64(time.Second/time.Microsecond))
	return max(frames, 1)
}

// trimSilence removes silent analysis windows from samples in place until at
// least limit frames have been removed. Windows with audible content are never
// removed and keep their order.
//
// Returns the number of frames kept at the front of samples and the number of
// frames removed.
func trimSilence(samples []float32, channels, window, limit int) (kept, removed int) {
	total := len(samples) / channels
	index := 0
	for index+window <= total && removed < limit {
		chunk := samples[index*channels : (index+window)*channels]
		if rms(chunk) < silenceThreshold {
			removed += window
		} else {
			copy(samples[kept*channels:], chunk)
			kept += window
		}
		index += window
	}

	left := total - index
	if left == 0 {
		return kept, removed
	}

	rest := samples[index*channels : total*channels]
	if left < window && limit > removed+left && rms(rest) < silenceThreshold {
		return kept, removed + left
	}
	copy(samples[kept*channels:], rest)
	return kept + left, removed
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
