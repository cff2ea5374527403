package av

import (
	"testing"
	"time"

	"github.com/opd-ai/moqplayout/av/video"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()
	require.NoError(t, config.Validate())
	assert.Equal(t, 200*time.Millisecond, config.Audio.JitterDepth)
	assert.Equal(t, video.ModeInterval, config.Video.Mode)
	assert.Equal(t, video.SimulreceiveEnable, config.Set.Mode)
	assert.Equal(t, 5*time.Second, config.MetricsInterval)
}

func TestLoadConfigFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, c Config)
	}{
		{
			name: "depths",
			env: map[string]string{
				"PLAYOUT_MIN_DEPTH_MS":   "120",
				"PLAYOUT_CAPACITY_MS":    "800",
				"PLAYOUT_BUFFER_TIME_MS": "40",
			},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 120*time.Millisecond, c.Audio.JitterDepth)
				assert.Equal(t, 120*time.Millisecond, c.Video.MinDepth)
				assert.Equal(t, 800*time.Millisecond, c.Audio.JitterMax)
				assert.Equal(t, 800*time.Millisecond, c.Video.Capacity)
				assert.Equal(t, 40*time.Millisecond, c.Audio.PlayoutBufferTime)
			},
		},
		{
			name: "modes",
			env: map[string]string{
				"PLAYOUT_JITTER_MODE":     "PID",
				"PLAYOUT_VIDEO_BEHAVIOUR": "artifact",
				"PLAYOUT_SIMULRECEIVE":    " visualize_only ",
				"PLAYOUT_ADAPTIVE":        "true",
			},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, video.ModePID, c.Video.Mode)
				assert.Equal(t, video.BehaviourArtifact, c.Video.Behaviour)
				assert.Equal(t, video.SimulreceiveVisualizeOnly, c.Set.Mode)
				assert.True(t, c.Audio.Adaptive)
				assert.True(t, c.Video.Adaptive)
			},
		},
		{
			name: "thresholds",
			env: map[string]string{
				"PLAYOUT_MAX_PLC":                "8",
				"PLAYOUT_QUALITY_MISS_THRESHOLD": "5",
				"PLAYOUT_PAUSE_MISS_THRESHOLD":   "0",
				"PLAYOUT_SLIDING_WINDOW_MS":      "2000",
				"PLAYOUT_METRICS_INTERVAL_MS":    "1000",
			},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, 8, c.Audio.MaxPLCThreshold)
				assert.Equal(t, 5, c.Set.QualityMissThreshold)
				assert.Equal(t, 0, c.Set.PauseMissThreshold)
				assert.Equal(t, 2*time.Second, c.Audio.SlidingWindow)
				assert.Equal(t, 2*time.Second, c.Set.SlidingWindow)
				assert.Equal(t, time.Second, c.MetricsInterval)
			},
		},
		{
			name: "invalid_values_ignored",
			env: map[string]string{
				"PLAYOUT_MIN_DEPTH_MS":        "soon",
				"PLAYOUT_CAPACITY_MS":         "5",
				"PLAYOUT_MAX_PLC":             "1000",
				"PLAYOUT_ADAPTIVE":            "perhaps",
				"PLAYOUT_JITTER_MODE":         "turbo",
				"PLAYOUT_METRICS_INTERVAL_MS": "-1",
			},
			check: func(t *testing.T, c Config) {
				assert.Equal(t, DefaultConfig(), c)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			config := LoadConfigFromEnv()
			tt.check(t, config)
		})
	}
}
