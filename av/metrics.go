package av

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/opd-ai/moqplayout/av/jitter"
	"github.com/samber/lo"
	"github.com/sirupsen/logrus"
)

// defaultMaxHistory is the rolling history length per source.
const defaultMaxHistory = 60

// SourceHistory keeps the rolling metrics of one source.
type SourceHistory struct {
	SourceID string
	Current  SourceMetrics
	History  []SourceMetrics
}

// SystemMetrics aggregates every tracked source.
type SystemMetrics struct {
	ActiveSources int
	TotalSources  uint64

	AverageLoss   float64
	AverageJitter time.Duration
	WorstJitter   time.Duration

	ExcellentSources int
	GoodSources      int
	FairSources      int
	PoorSources      int

	LastUpdate time.Time
}

// AggregatedReport is delivered at every report interval.
type AggregatedReport struct {
	SystemMetrics  SystemMetrics
	SourceReports  map[string]SourceMetrics
	OverallQuality QualityLevel
	Timestamp      time.Time
	ReportDuration time.Duration
}

// MetricsAggregator collects per-source playout metrics and produces
// periodic system-wide reports.
//
// Example usage:
//
//	aggregator := NewMetricsAggregator(5 * time.Second)
//	aggregator.OnReport(func(report AggregatedReport) {
//	    fmt.Printf("Playout quality: %s, sources: %d\n",
//	        report.OverallQuality, report.SystemMetrics.ActiveSources)
//	})
//	go aggregator.Run(ctx)
type MetricsAggregator struct {
	reportInterval time.Duration
	maxHistory     int

	mu           sync.RWMutex
	sources      map[string]*SourceHistory
	system       SystemMetrics
	callback     func(report AggregatedReport)
	timeProvider jitter.TimeProvider
}

// NewMetricsAggregator creates an aggregator reporting every reportInterval.
func NewMetricsAggregator(reportInterval time.Duration) *MetricsAggregator {
	logrus.WithFields(logrus.Fields{
		"function":        "NewMetricsAggregator",
		"report_interval": reportInterval,
	}).Info("Creating new metrics aggregator")

	return &MetricsAggregator{
		reportInterval: reportInterval,
		maxHistory:     defaultMaxHistory,
		sources:        make(map[string]*SourceHistory),
		timeProvider:   jitter.DefaultTimeProvider{},
	}
}

// SetTimeProvider replaces the report clock.
func (ma *MetricsAggregator) SetTimeProvider(tp jitter.TimeProvider) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.timeProvider = tp
}

// OnReport registers the periodic report callback. The callback runs on
// the report goroutine.
func (ma *MetricsAggregator) OnReport(callback func(report AggregatedReport)) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	ma.callback = callback
}

// StartTracking begins tracking a source.
func (ma *MetricsAggregator) StartTracking(sourceID string) {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	if _, ok := ma.sources[sourceID]; ok {
		return
	}
	ma.sources[sourceID] = &SourceHistory{
		SourceID: sourceID,
		History:  make([]SourceMetrics, 0, ma.maxHistory),
	}
	ma.system.TotalSources++
	ma.updateSystemMetricsLocked()

	logrus.WithFields(logrus.Fields{
		"function": "MetricsAggregator.StartTracking",
		"source":   sourceID,
	}).Debug("Started source tracking")
}

// StopTracking forgets a source and its history.
func (ma *MetricsAggregator) StopTracking(sourceID string) {
	ma.mu.Lock()
	defer ma.mu.Unlock()
	delete(ma.sources, sourceID)
	ma.updateSystemMetricsLocked()
}

// RecordMetrics stores a sample for a source, tracking it if needed.
func (ma *MetricsAggregator) RecordMetrics(metrics SourceMetrics) {
	ma.mu.Lock()
	defer ma.mu.Unlock()

	history, ok := ma.sources[metrics.SourceID]
	if !ok {
		history = &SourceHistory{
			SourceID: metrics.SourceID,
			History:  make([]SourceMetrics, 0, ma.maxHistory),
		}
		ma.sources[metrics.SourceID] = history
		ma.system.TotalSources++
	}
	history.Current = metrics
	history.History = append(history.History, metrics)
	if len(history.History) > ma.maxHistory {
		history.History = history.History[1:]
	}
	ma.updateSystemMetricsLocked()

	if logrus.IsLevelEnabled(logrus.TraceLevel) {
		logrus.WithFields(logrus.Fields{
			"function":        "MetricsAggregator.RecordMetrics",
			"source":          metrics.SourceID,
			"quality":         metrics.Quality.String(),
			"history_entries": len(history.History),
		}).Trace("Metrics recorded")
	}
}

// SystemMetrics returns the current aggregate.
func (ma *MetricsAggregator) SystemMetrics() SystemMetrics {
	ma.mu.RLock()
	defer ma.mu.RUnlock()
	return ma.system
}

// History returns a copy of a source's rolling history, or nil when the
// source is not tracked.
func (ma *MetricsAggregator) History(sourceID string) []SourceMetrics {
	ma.mu.RLock()
	defer ma.mu.RUnlock()

	history, ok := ma.sources[sourceID]
	if !ok {
		return nil
	}
	out := make([]SourceMetrics, len(history.History))
	copy(out, history.History)
	return out
}

// Run delivers reports every interval until ctx is cancelled.
func (ma *MetricsAggregator) Run(ctx context.Context) error {
	ticker := time.NewTicker(ma.reportInterval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "MetricsAggregator.Run",
		"interval": ma.reportInterval,
	}).Debug("Starting aggregated report loop")

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			ma.Report()
		}
	}
}

// Report builds a report and hands it to the callback, if any.
func (ma *MetricsAggregator) Report() AggregatedReport {
	ma.mu.RLock()
	report := AggregatedReport{
		SystemMetrics:  ma.system,
		SourceReports:  make(map[string]SourceMetrics, len(ma.sources)),
		OverallQuality: ma.overallQualityLocked(),
		Timestamp:      ma.timeProvider.Now(),
		ReportDuration: ma.reportInterval,
	}
	for id, history := range ma.sources {
		report.SourceReports[id] = history.Current
	}
	callback := ma.callback
	ma.mu.RUnlock()

	if callback != nil {
		callback(report)
	}

	logrus.WithFields(logrus.Fields{
		"function":        "MetricsAggregator.Report",
		"active_sources":  report.SystemMetrics.ActiveSources,
		"overall_quality": report.OverallQuality.String(),
	}).Debug("Generated aggregated report")
	return report
}

func (ma *MetricsAggregator) updateSystemMetricsLocked() {
	current := make([]SourceMetrics, 0, len(ma.sources))
	for _, history := range ma.sources {
		current = append(current, history.Current)
	}
	sort.Slice(current, func(i, j int) bool { return current[i].SourceID < current[j].SourceID })

	s := &ma.system
	s.ActiveSources = len(current)
	s.ExcellentSources, s.GoodSources, s.FairSources, s.PoorSources = 0, 0, 0, 0
	s.AverageLoss, s.AverageJitter, s.WorstJitter = 0, 0, 0
	s.LastUpdate = ma.timeProvider.Now()
	if len(current) == 0 {
		return
	}

	var totalLoss float64
	var totalJitter time.Duration
	for _, m := range current {
		totalLoss += m.LossRate
		totalJitter += m.Jitter
		switch m.Quality {
		case QualityExcellent:
			s.ExcellentSources++
		case QualityGood:
			s.GoodSources++
		case QualityFair:
			s.FairSources++
		case QualityPoor, QualityUnacceptable:
			s.PoorSources++
		}
	}
	s.AverageLoss = totalLoss / float64(len(current))
	s.AverageJitter = totalJitter / time.Duration(len(current))
	s.WorstJitter = lo.MaxBy(current, func(a, b SourceMetrics) bool { return a.Jitter > b.Jitter }).Jitter
}

// overallQualityLocked summarizes the quality distribution by majority.
func (ma *MetricsAggregator) overallQualityLocked() QualityLevel {
	s := ma.system
	if s.ActiveSources == 0 {
		return QualityExcellent
	}
	half := s.ActiveSources / 2
	switch {
	case s.PoorSources > half:
		return QualityPoor
	case s.FairSources+s.PoorSources > half:
		return QualityFair
	case s.ExcellentSources > s.GoodSources && s.GoodSources+s.ExcellentSources > half:
		return QualityExcellent
	default:
		return QualityGood
	}
}
