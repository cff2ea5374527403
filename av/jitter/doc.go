// Package jitter provides the timing primitives shared by the audio and video
// playout engines.
//
// The package contains:
//
//   - Buffer: a sequence-ordered reorder/delay queue with a latched
//     fill-to-play gate, staleness and capacity rejection
//   - Aligner: wall-clock alignment of sender capture timestamps, published
//     to every registered consumer of one source through a TimeDiff
//   - SlidingWindow: age-bounded sample window backing the aligner
//   - Estimator: RFC 3550 interarrival jitter with a slower smoothing stage
//   - VarianceCalculator: arrival spread of the same instant across variants
//
// # Buffer Usage
//
//	buf, err := jitter.NewBuffer("alice/audio", jitter.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	if err := buf.Write(item); errors.Is(err, jitter.ErrStale) {
//	    // already played or concealed
//	}
//	if next := buf.Read(); next != nil {
//	    decode(next)
//	}
//
// A Buffer has exactly one writer and one reader. Both are serialised by a
// single mutex; counters reported by Stats are maintained atomically.
package jitter
