package av

import (
	"fmt"
	"time"
)

// QualityLevel grades the playout health of a source.
type QualityLevel int

const (
	// QualityExcellent indicates clean playout.
	QualityExcellent QualityLevel = iota
	// QualityGood indicates minor jitter or loss.
	QualityGood
	// QualityFair indicates noticeable impairment.
	QualityFair
	// QualityPoor indicates significant impairment.
	QualityPoor
	// QualityUnacceptable indicates a stalled or unusable source.
	QualityUnacceptable
)

// String returns the string representation of QualityLevel.
func (q QualityLevel) String() string {
	switch q {
	case QualityExcellent:
		return "Excellent"
	case QualityGood:
		return "Good"
	case QualityFair:
		return "Fair"
	case QualityPoor:
		return "Poor"
	case QualityUnacceptable:
		return "Unacceptable"
	default:
		return fmt.Sprintf("Unknown(%d)", int(q))
	}
}

// SourceKind distinguishes audio and video sources.
type SourceKind int

const (
	SourceAudio SourceKind = iota
	SourceVideo
)

// String returns the string representation of the kind.
func (k SourceKind) String() string {
	if k == SourceVideo {
		return "video"
	}
	return "audio"
}

// SourceMetrics is one sample of a source's playout counters.
type SourceMetrics struct {
	SourceID string
	Kind     SourceKind

	// Received counts units accepted into playout.
	Received uint64
	// Dropped counts units refused as full, stale or gated.
	Dropped uint64
	// LossRate is Dropped as a percentage of all submitted units.
	LossRate float64
	// Jitter is the RFC 3550 interarrival jitter.
	Jitter time.Duration

	Underruns    uint64
	Concealed    uint64
	DecodeErrors uint64

	// LastUnitAge is the time since the last submitted unit.
	LastUnitAge time.Duration

	Quality   QualityLevel
	Timestamp time.Time
}

// QualityThresholds grades SourceMetrics.
type QualityThresholds struct {
	// Loss thresholds in percent.
	ExcellentLoss float64
	GoodLoss      float64
	FairLoss      float64
	PoorLoss      float64

	ExcellentJitter time.Duration
	GoodJitter      time.Duration
	FairJitter      time.Duration
	PoorJitter      time.Duration

	// UnitTimeout marks a source with no recent units as unacceptable.
	UnitTimeout time.Duration
}

// DefaultQualityThresholds returns VoIP style grading thresholds.
func DefaultQualityThresholds() QualityThresholds {
	return QualityThresholds{
		ExcellentLoss:   1.0,
		GoodLoss:        3.0,
		FairLoss:        8.0,
		PoorLoss:        15.0,
		ExcellentJitter: 20 * time.Millisecond,
		GoodJitter:      50 * time.Millisecond,
		FairJitter:      100 * time.Millisecond,
		PoorJitter:      200 * time.Millisecond,
		UnitTimeout:     2 * time.Second,
	}
}

// Assess grades a metrics sample. A stalled source is unacceptable; loss is
// the primary indicator and jitter refines an otherwise loss free source.
func (t QualityThresholds) Assess(m SourceMetrics) QualityLevel {
	if t.UnitTimeout > 0 && m.LastUnitAge > t.UnitTimeout {
		return QualityUnacceptable
	}

	switch {
	case m.LossRate >= t.PoorLoss:
		return QualityUnacceptable
	case m.LossRate >= t.FairLoss:
		return QualityPoor
	case m.LossRate >= t.GoodLoss:
		return QualityFair
	case m.LossRate >= t.ExcellentLoss:
		if m.Jitter >= t.GoodJitter {
			return QualityFair
		}
		return QualityGood
	}

	switch {
	case m.Jitter >= t.PoorJitter:
		return QualityFair
	case m.Jitter >= t.ExcellentJitter:
		return QualityGood
	default:
		return QualityExcellent
	}
}

// lossRate returns dropped as a percentage of received plus dropped.
func lossRate(received, dropped uint64) float64 {
	total := received + dropped
	if total == 0 {
		return 0
	}
	return float64(dropped) * 100 / float64(total)
}
