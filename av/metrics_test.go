package av

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsAggregatorTracking(t *testing.T) {
	ma := NewMetricsAggregator(time.Second)
	ma.SetTimeProvider(newMockTimeProvider())

	ma.StartTracking("alice")
	ma.StartTracking("alice")
	assert.Equal(t, 1, ma.SystemMetrics().ActiveSources)
	assert.Equal(t, uint64(1), ma.SystemMetrics().TotalSources)

	ma.RecordMetrics(SourceMetrics{SourceID: "alice", LossRate: 2, Jitter: 10 * time.Millisecond, Quality: QualityGood})
	ma.RecordMetrics(SourceMetrics{SourceID: "bob", LossRate: 0, Jitter: 30 * time.Millisecond, Quality: QualityExcellent})

	system := ma.SystemMetrics()
	assert.Equal(t, 2, system.ActiveSources)
	assert.Equal(t, uint64(2), system.TotalSources)
	assert.InDelta(t, 1.0, system.AverageLoss, 1e-9)
	assert.Equal(t, 20*time.Millisecond, system.AverageJitter)
	assert.Equal(t, 30*time.Millisecond, system.WorstJitter)
	assert.Equal(t, 1, system.GoodSources)
	assert.Equal(t, 1, system.ExcellentSources)

	ma.StopTracking("bob")
	assert.Equal(t, 1, ma.SystemMetrics().ActiveSources)
	assert.Nil(t, ma.History("bob"))
}

func TestMetricsAggregatorHistoryBound(t *testing.T) {
	ma := NewMetricsAggregator(time.Second)
	for i := 0; i < defaultMaxHistory+5; i++ {
		ma.RecordMetrics(SourceMetrics{SourceID: "alice", Received: uint64(i)})
	}
	history := ma.History("alice")
	require.Len(t, history, defaultMaxHistory)
	assert.Equal(t, uint64(5), history[0].Received)

	// Returned slices are copies.
	history[0].Received = 999
	assert.Equal(t, uint64(5), ma.History("alice")[0].Received)
}

func TestMetricsAggregatorOverallQuality(t *testing.T) {
	tests := []struct {
		name      string
		qualities []QualityLevel
		want      QualityLevel
	}{
		{"empty", nil, QualityExcellent},
		{"mostly_poor", []QualityLevel{QualityPoor, QualityUnacceptable, QualityGood}, QualityPoor},
		{"mostly_fair", []QualityLevel{QualityFair, QualityPoor, QualityExcellent}, QualityFair},
		{"mostly_excellent", []QualityLevel{QualityExcellent, QualityExcellent, QualityGood}, QualityExcellent},
		{"mostly_good", []QualityLevel{QualityGood, QualityGood, QualityExcellent}, QualityGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ma := NewMetricsAggregator(time.Second)
			for i, q := range tt.qualities {
				ma.RecordMetrics(SourceMetrics{SourceID: string(rune('a' + i)), Quality: q})
			}
			assert.Equal(t, tt.want, ma.Report().OverallQuality)
		})
	}
}

func TestMetricsAggregatorRun(t *testing.T) {
	ma := NewMetricsAggregator(10 * time.Millisecond)
	ma.RecordMetrics(SourceMetrics{SourceID: "alice", Quality: QualityGood})

	var mu sync.Mutex
	var reports []AggregatedReport
	ma.OnReport(func(report AggregatedReport) {
		mu.Lock()
		defer mu.Unlock()
		reports = append(reports, report)
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ma.Run(ctx) }()

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(reports) >= 2
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, reports[0].SourceReports, "alice")
	assert.Equal(t, 10*time.Millisecond, reports[0].ReportDuration)
}
