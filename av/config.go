package av

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/opd-ai/moqplayout/av/audio"
	"github.com/opd-ai/moqplayout/av/video"
	"github.com/sirupsen/logrus"
)

// Validation bounds for environment overrides.
const (
	// MinDepthMs and MaxDepthMs bound the pre-roll depth in milliseconds.
	MinDepthMs = 0
	MaxDepthMs = 5000
	// MinCapacityMs and MaxCapacityMs bound the buffer capacity in milliseconds.
	MinCapacityMs = 20
	MaxCapacityMs = 30000
	// MinBufferTimeMs and MaxBufferTimeMs bound the audio early decode margin.
	MinBufferTimeMs = 0
	MaxBufferTimeMs = 1000
	// MaxPLC bounds the concealment threshold in packets.
	MaxPLC = 100
	// MaxMissThreshold bounds both simulreceive miss thresholds.
	MaxMissThreshold = 10000
	// MinWindowMs and MaxWindowMs bound the alignment window.
	MinWindowMs = 100
	MaxWindowMs = 60000
	// MinMetricsIntervalMs and MaxMetricsIntervalMs bound the report interval.
	MinMetricsIntervalMs = 100
	MaxMetricsIntervalMs = 600000
)

// Config holds the playout configuration for every source a Manager owns.
type Config struct {
	// Audio is applied to every audio source.
	Audio audio.Config

	// Video is the base configuration of every video variant. Variant
	// dimensions and frame rate are set per variant.
	Video video.Config

	// Set configures simulreceive selection for video sources.
	Set video.SetConfig

	// MetricsInterval is the period of source metric sampling and reports.
	MetricsInterval time.Duration

	// Thresholds grade source quality in metric reports.
	Thresholds QualityThresholds
}

// DefaultConfig returns the default manager configuration.
func DefaultConfig() Config {
	return Config{
		Audio:           audio.DefaultConfig(),
		Video:           video.DefaultConfig(),
		Set:             video.DefaultSetConfig(),
		MetricsInterval: 5 * time.Second, // Dashboard cadence
		Thresholds:      DefaultQualityThresholds(),
	}
}

// Validate checks every nested configuration.
func (c Config) Validate() error {
	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio: %w", err)
	}
	if err := c.Video.Validate(); err != nil {
		return fmt.Errorf("video: %w", err)
	}
	if err := c.Set.Validate(); err != nil {
		return fmt.Errorf("simulreceive: %w", err)
	}
	if c.MetricsInterval <= 0 {
		return fmt.Errorf("%w: metrics interval %v", video.ErrInvalidConfig, c.MetricsInterval)
	}
	return nil
}

// LoadConfigFromEnv returns DefaultConfig with PLAYOUT_* environment
// overrides applied. Unparseable or out of range values are logged and
// ignored.
func LoadConfigFromEnv() Config {
	config := DefaultConfig()
	applyEnvironmentOverrides(&config)
	logConfigurationInfo(config)
	return config
}

func applyEnvironmentOverrides(config *Config) {
	parseMillisSetting("PLAYOUT_MIN_DEPTH_MS", MinDepthMs, MaxDepthMs, func(d time.Duration) {
		config.Audio.JitterDepth = d
		config.Video.MinDepth = d
	})
	parseMillisSetting("PLAYOUT_CAPACITY_MS", MinCapacityMs, MaxCapacityMs, func(d time.Duration) {
		config.Audio.JitterMax = d
		config.Video.Capacity = d
	})
	parseMillisSetting("PLAYOUT_BUFFER_TIME_MS", MinBufferTimeMs, MaxBufferTimeMs, func(d time.Duration) {
		config.Audio.PlayoutBufferTime = d
	})
	parseIntSetting("PLAYOUT_MAX_PLC", 0, MaxPLC, func(n int) {
		config.Audio.MaxPLCThreshold = n
	})
	parseBoolSetting("PLAYOUT_ADAPTIVE", func(b bool) {
		config.Audio.Adaptive = b
		config.Video.Adaptive = b
	})
	parseChoiceSetting("PLAYOUT_JITTER_MODE", map[string]func(){
		"none":     func() { config.Video.Mode = video.ModeNone },
		"interval": func() { config.Video.Mode = video.ModeInterval },
		"pid":      func() { config.Video.Mode = video.ModePID },
		"layer":    func() { config.Video.Mode = video.ModeLayer },
	})
	parseChoiceSetting("PLAYOUT_VIDEO_BEHAVIOUR", map[string]func(){
		"freeze":   func() { config.Video.Behaviour = video.BehaviourFreeze },
		"artifact": func() { config.Video.Behaviour = video.BehaviourArtifact },
	})
	parseChoiceSetting("PLAYOUT_SIMULRECEIVE", map[string]func(){
		"none":           func() { config.Set.Mode = video.SimulreceiveNone },
		"enable":         func() { config.Set.Mode = video.SimulreceiveEnable },
		"visualize_only": func() { config.Set.Mode = video.SimulreceiveVisualizeOnly },
	})
	parseIntSetting("PLAYOUT_QUALITY_MISS_THRESHOLD", 0, MaxMissThreshold, func(n int) {
		config.Set.QualityMissThreshold = n
	})
	parseIntSetting("PLAYOUT_PAUSE_MISS_THRESHOLD", 0, MaxMissThreshold, func(n int) {
		config.Set.PauseMissThreshold = n
	})
	parseMillisSetting("PLAYOUT_SLIDING_WINDOW_MS", MinWindowMs, MaxWindowMs, func(d time.Duration) {
		config.Audio.SlidingWindow = d
		config.Set.SlidingWindow = d
	})
	parseMillisSetting("PLAYOUT_METRICS_INTERVAL_MS", MinMetricsIntervalMs, MaxMetricsIntervalMs, func(d time.Duration) {
		config.MetricsInterval = d
	})
}

// parseIntSetting applies an integer variable within [minValue, maxValue].
func parseIntSetting(name string, minValue, maxValue int, apply func(int)) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "parseIntSetting",
			"env_var":  name,
			"value":    raw,
			"error":    err.Error(),
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	if value < minValue || value > maxValue {
		logrus.WithFields(logrus.Fields{
			"function": "parseIntSetting",
			"env_var":  name,
			"value":    value,
			"min":      minValue,
			"max":      maxValue,
		}).Warn("Environment variable out of bounds, using default")
		return
	}
	apply(value)
}

func parseMillisSetting(name string, minValue, maxValue int, apply func(time.Duration)) {
	parseIntSetting(name, minValue, maxValue, func(ms int) {
		apply(time.Duration(ms) * time.Millisecond)
	})
}

func parseBoolSetting(name string, apply func(bool)) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "parseBoolSetting",
			"env_var":  name,
			"value":    raw,
			"error":    err.Error(),
		}).Warn("Failed to parse environment variable, using default")
		return
	}
	apply(value)
}

// parseChoiceSetting applies the option whose name matches the variable,
// case insensitively.
func parseChoiceSetting(name string, options map[string]func()) {
	raw := os.Getenv(name)
	if raw == "" {
		return
	}
	apply, ok := options[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		logrus.WithFields(logrus.Fields{
			"function": "parseChoiceSetting",
			"env_var":  name,
			"value":    raw,
		}).Warn("Unknown value for environment variable, using default")
		return
	}
	apply()
}

func logConfigurationInfo(config Config) {
	logrus.WithFields(logrus.Fields{
		"function":         "LoadConfigFromEnv",
		"audio_depth":      config.Audio.JitterDepth,
		"audio_max":        config.Audio.JitterMax,
		"video_mode":       config.Video.Mode.String(),
		"video_min_depth":  config.Video.MinDepth,
		"simulreceive":     config.Set.Mode.String(),
		"adaptive":         config.Audio.Adaptive,
		"metrics_interval": config.MetricsInterval,
	}).Info("Loaded playout configuration")
}
