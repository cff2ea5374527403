package av

import (
	"testing"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/stretchr/testify/assert"
)

func TestSourceJitterPerTrack(t *testing.T) {
	tests := []struct {
		name    string
		sdDelay time.Duration
		max     time.Duration
	}{
		// The first sample of a late track contributes delay/16 and then decays.
		{name: "steady_variants", sdDelay: 0, max: time.Microsecond},
		{name: "offset_variant", sdDelay: 50 * time.Millisecond, max: 50 * time.Millisecond / 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newSource("bob", SourceVideo)
			for i := 0; i < 40; i++ {
				pts := time.Duration(i) * time.Second / 30
				arrival := jitter.MediaEpoch.Add(pts)
				src.record("hd", pts, arrival)
				src.record("sd", pts, arrival.Add(tt.sdDelay))
			}
			assert.LessOrEqual(t, src.worstJitter(), tt.max)
		})
	}
}

func TestSourceJitterReportsWorstTrack(t *testing.T) {
	src := newSource("bob", SourceVideo)
	delays := []time.Duration{0, 40 * time.Millisecond}
	for i := 0; i < 20; i++ {
		pts := time.Duration(i) * time.Second / 30
		src.record("hd", pts, jitter.MediaEpoch.Add(pts))
		src.record("sd", pts, jitter.MediaEpoch.Add(pts+delays[i%2]))
	}

	sd := src.estimators["sd"].Jitter()
	assert.Greater(t, sd, 10*time.Millisecond)
	assert.Equal(t, sd, src.worstJitter())
	assert.Less(t, src.estimators["hd"].Jitter(), time.Microsecond)
}
