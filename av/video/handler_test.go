package video

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, config Config) (*Handler, *recordingSink, *mockTimeProvider) {
	t.Helper()
	sink := &recordingSink{}
	h, err := NewHandler("test/video", config, PassthroughDecoder{}, sink)
	require.NoError(t, err)
	tp := &mockTimeProvider{now: jitter.MediaEpoch.Add(testStart)}
	h.SetTimeProvider(tp)
	t.Cleanup(h.Close)
	return h, sink, tp
}

func TestNewHandlerValidation(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"negative_min_depth", func(c *Config) { c.MinDepth = -time.Millisecond }},
		{"zero_capacity", func(c *Config) { c.Capacity = 0 }},
		{"depth_exceeds_capacity", func(c *Config) { c.MinDepth = 3 * time.Second }},
		{"zero_fps", func(c *Config) { c.FPS = 0 }},
		{"negative_width", func(c *Config) { c.Width = -1 }},
		{"unknown_mode", func(c *Config) { c.Mode = Mode(9) }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			_, err := NewHandler("invalid", config, PassthroughDecoder{}, nil)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestNewHandlerDecoderRequirement(t *testing.T) {
	_, err := NewHandler("no-decoder", testConfig(ModeInterval), nil, nil)
	assert.ErrorIs(t, err, ErrNoDecoder)

	_, err = NewHandler("layer", testConfig(ModeLayer), nil, &recordingSink{})
	assert.NoError(t, err)
}

func TestHandlerNameGateBehaviour(t *testing.T) {
	tests := []struct {
		name          string
		behaviour     Behaviour
		objects       []uint64
		wantDelivered []uint64
		wantDropped   uint64
		wantMarked    []bool
	}{
		{
			name:          "freeze_drops_until_next_group",
			behaviour:     BehaviourFreeze,
			objects:       []uint64{0, 1, 3, 4},
			wantDelivered: []uint64{0, 1},
			wantDropped:   2,
			wantMarked:    []bool{false, false},
		},
		{
			name:          "artifact_decodes_marked",
			behaviour:     BehaviourArtifact,
			objects:       []uint64{0, 1, 3, 4},
			wantDelivered: []uint64{0, 1, 3, 4},
			wantMarked:    []bool{false, false, true, true},
		},
		{
			name:          "contiguous",
			behaviour:     BehaviourFreeze,
			objects:       []uint64{0, 1, 2},
			wantDelivered: []uint64{0, 1, 2},
			wantMarked:    []bool{false, false, false},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := testConfig(ModeNone)
			config.Behaviour = tt.behaviour
			h, sink, _ := newTestHandler(t, config)

			for _, object := range tt.objects {
				f := testFrame(object, 640)
				require.NoError(t, h.Submit(f, arrivalOf(f), false))
			}

			assert.Equal(t, tt.wantDelivered, sink.sequences())
			marked := make([]bool, 0, len(sink.frames))
			for _, f := range sink.frames {
				marked = append(marked, f.Discontinuous)
			}
			assert.Equal(t, tt.wantMarked, marked)
			assert.Equal(t, tt.wantDropped, h.Stats().GateDrops)
		})
	}
}

func TestHandlerNewGroupRecovers(t *testing.T) {
	h, sink, _ := newTestHandler(t, testConfig(ModeNone))

	frames := []*Frame{testFrame(0, 640), testFrame(2, 640)}
	next := testFrame(3, 640)
	next.GroupID, next.ObjectID = 1, 0
	frames = append(frames, next)

	for _, f := range frames {
		require.NoError(t, h.Submit(f, arrivalOf(f), false))
	}
	assert.Equal(t, []uint64{0, 3}, sink.sequences())
}

func TestHandlerObjectCallbacks(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig(ModeNone))

	var events []ObjectReceived
	token := h.RegisterObjectCallback(func(e ObjectReceived) { events = append(events, e) })

	f := testFrame(0, 640)
	require.NoError(t, h.Submit(f, arrivalOf(f), true))
	h.Drop(ObjectReceived{GroupID: 0, ObjectID: 1, When: arrivalOf(f), Usable: true})

	require.Len(t, events, 2)
	assert.True(t, events[0].Usable)
	assert.True(t, events[0].Cached)
	require.NotNil(t, events[0].Timestamp)
	assert.Equal(t, f.PTS, *events[0].Timestamp)
	assert.False(t, events[1].Usable)
	assert.Equal(t, uint64(1), events[1].ObjectID)

	assert.True(t, h.UnregisterObjectCallback(token))
	require.NoError(t, h.Submit(testFrame(1, 640), arrivalOf(testFrame(1, 640)), false))
	assert.Len(t, events, 2)
}

func TestHandlerLayerMode(t *testing.T) {
	sink := &recordingSink{}
	config := testConfig(ModeLayer)
	h, err := NewHandler("layer", config, nil, sink)
	require.NoError(t, err)

	for seq := uint64(0); seq < 3; seq++ {
		f := testFrame(seq, 640)
		require.NoError(t, h.Submit(f, arrivalOf(f), false))
	}

	require.NotNil(t, sink.startTime)
	assert.Equal(t, testStart-config.MinDepth, *sink.startTime)
	assert.Equal(t, []uint64{0, 1, 2}, sink.sequences())
	assert.Nil(t, h.Buffer())
	assert.NoError(t, h.Run(context.Background()))
}

func TestHandlerOrientation(t *testing.T) {
	h, sink, _ := newTestHandler(t, testConfig(ModeNone))
	assert.Nil(t, h.Transform())

	f := testFrame(0, 640)
	f.Orientation = OrientationPortrait
	f.VerticalMirror = true
	require.NoError(t, h.Submit(f, arrivalOf(f), false))

	// Frames without a hint keep the last one.
	g := testFrame(1, 640)
	require.NoError(t, h.Submit(g, arrivalOf(g), false))

	require.Len(t, sink.transforms, 2)
	for _, tr := range sink.transforms {
		require.NotNil(t, tr)
		assert.Equal(t, -1.0, tr.ScaleY)
	}
}

func TestHandlerSinkError(t *testing.T) {
	h, sink, _ := newTestHandler(t, testConfig(ModeNone))
	sink.fail = true

	f := testFrame(0, 640)
	require.NoError(t, h.Submit(f, arrivalOf(f), false))
	assert.Equal(t, uint64(1), h.Stats().SinkErrors)
	assert.Equal(t, uint64(1), h.Stats().Decoded)
}

type failingDecoder struct{}

func (failingDecoder) Decode(*Frame) (*DecodedFrame, error) { return nil, errors.New("corrupt") }
func (failingDecoder) Reset() error                          { return nil }

func TestHandlerDecodeError(t *testing.T) {
	sink := &recordingSink{}
	h, err := NewHandler("failing", testConfig(ModeNone), failingDecoder{}, sink)
	require.NoError(t, err)

	f := testFrame(0, 640)
	require.NoError(t, h.Submit(f, arrivalOf(f), false))
	assert.Equal(t, uint64(1), h.Stats().DecodeErrors)
	assert.Zero(t, sink.count())
}

func TestHandlerBufferSizing(t *testing.T) {
	tests := []struct {
		name         string
		frameFPS     int
		wantDuration time.Duration
		wantCapacity int
	}{
		{"frame_rate", 50, 20 * time.Millisecond, 100},
		{"config_rate", 0, testDuration, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, _, _ := newTestHandler(t, testConfig(ModeInterval))
			assert.Nil(t, h.Buffer())

			f := testFrame(0, 640)
			f.FPS = tt.frameFPS
			require.NoError(t, h.Submit(f, arrivalOf(f), false))

			require.NotNil(t, h.Buffer())
			assert.Equal(t, tt.wantDuration, h.FrameDuration())
			assert.Equal(t, tt.wantDuration, f.Length)
			assert.False(t, h.Buffer().IsPlaying())

			// Fill the remaining capacity, then one more.
			for seq := uint64(1); seq < uint64(tt.wantCapacity); seq++ {
				g := testFrame(seq, 640)
				require.NoError(t, h.Submit(g, arrivalOf(g), false))
			}
			extra := testFrame(uint64(tt.wantCapacity), 640)
			assert.ErrorIs(t, h.Submit(extra, arrivalOf(extra), false), jitter.ErrFull)
		})
	}
}

func TestHandlerIntervalPacing(t *testing.T) {
	config := testConfig(ModeInterval)
	h, sink, tp := newTestHandler(t, config)

	first := testFrame(0, 640)
	anchor := arrivalOf(first)
	require.NoError(t, h.Submit(first, anchor, false))
	require.NoError(t, h.Submit(testFrame(1, 640), anchor, false))

	// Without an offset the grid anchored at the first arrival applies.
	assert.Equal(t, config.MinDepth, h.nextWait(anchor))
	_, ok := h.CalculateWaitTime(anchor)
	assert.False(t, ok)

	// Filling: nothing is read until Play.
	h.dequeue()
	assert.Zero(t, sink.count())

	h.Play()
	assert.True(t, h.Buffer().IsPlaying())
	h.dequeue()
	assert.Equal(t, []uint64{0}, sink.sequences())
	assert.Equal(t, config.MinDepth+testDuration-10*time.Millisecond, h.nextWait(anchor.Add(10*time.Millisecond)))

	// With an offset the head frame's playout time drives the wait.
	h.TimeDiff().Set(testTransit)
	tp.Set(anchor)
	due := jitter.MediaEpoch.Add(testFrame(1, 640).PTS + testTransit + config.MinDepth)
	assert.Equal(t, due.Sub(anchor), h.nextWait(anchor))
	wait, ok := h.CalculateWaitTime(anchor)
	require.True(t, ok)
	assert.Equal(t, due.Sub(anchor), wait)

	// Stale frames are rejected.
	assert.ErrorIs(t, h.Submit(testFrame(0, 640), anchor, false), jitter.ErrStale)
}

func TestHandlerPlayBeforeFirstFrame(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig(ModeInterval))
	h.Play()

	f := testFrame(0, 640)
	require.NoError(t, h.Submit(f, arrivalOf(f), false))
	assert.True(t, h.Buffer().IsPlaying())
}

func TestHandlerPlayIgnoredOutsideInterval(t *testing.T) {
	h, _, _ := newTestHandler(t, testConfig(ModePID))
	h.Play()

	f := testFrame(0, 640)
	require.NoError(t, h.Submit(f, arrivalOf(f), false))
	assert.False(t, h.Buffer().IsPlaying())
}

func TestHandlerPIDPacing(t *testing.T) {
	config := testConfig(ModePID)
	config.MinDepth = 200 * time.Millisecond
	h, _, _ := newTestHandler(t, config)

	assert.Equal(t, testDuration, h.nextWait(time.Time{}))

	// Two frames hold 80ms, 120ms short of the target.
	for seq := uint64(0); seq < 2; seq++ {
		f := testFrame(seq, 640)
		require.NoError(t, h.Submit(f, arrivalOf(f), false))
	}
	want := 40*time.Millisecond + 1200*time.Microsecond + 120*time.Microsecond + 120*time.Microsecond
	assert.InDelta(t, float64(want), float64(h.nextWait(time.Time{})), float64(time.Microsecond))
}

func TestHandlerAdaptiveTarget(t *testing.T) {
	config := testConfig(ModeInterval)
	config.Adaptive = true
	h, _, _ := newTestHandler(t, config)

	// Steady transit keeps the configured minimum.
	for seq := uint64(0); seq < 5; seq++ {
		f := testFrame(seq, 640)
		require.NoError(t, h.Submit(f, arrivalOf(f), false))
	}
	assert.Equal(t, config.MinDepth, h.Buffer().BaseTargetDepth())

	// Alternating transit raises it.
	for seq := uint64(5); seq < 200; seq++ {
		f := testFrame(seq, 640)
		arrival := arrivalOf(f)
		if seq%2 == 0 {
			arrival = arrival.Add(300 * time.Millisecond)
		}
		require.NoError(t, h.Submit(f, arrival, false))
		if h.Buffer().IsPlaying() {
			h.Buffer().Read()
		}
	}
	assert.Greater(t, h.Buffer().BaseTargetDepth(), config.MinDepth)
}

func TestHandlerRun(t *testing.T) {
	config := testConfig(ModeInterval)
	config.MinDepth = 0
	sink := &recordingSink{}
	h, err := NewHandler("run", config, PassthroughDecoder{}, sink)
	require.NoError(t, err)
	defer h.Close()

	now := time.Now()
	for seq := uint64(0); seq < 3; seq++ {
		require.NoError(t, h.Submit(testFrame(seq, 640), now, false))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	assert.Eventually(t, func() bool { return sink.count() == 3 }, 2*time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("dequeue loop did not stop")
	}
	assert.Equal(t, []uint64{0, 1, 2}, sink.sequences())
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "none", ModeNone.String())
	assert.Equal(t, "interval", ModeInterval.String())
	assert.Equal(t, "pid", ModePID.String())
	assert.Equal(t, "layer", ModeLayer.String())
	assert.Equal(t, "unknown", Mode(-1).String())
}
