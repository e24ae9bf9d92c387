package detector

import (
	"errors"
	"fmt"
	"math"
	"time"

	"incidentwatch/internal/fleet"
)

const (
	DefaultMaxGapFactor     = 2.0
	DefaultFallbackInterval = 2 * time.Minute
)

var (
	ErrUnorderedSeries = errors.New("series timestamps are not strictly increasing")
	ErrMixedDevices    = errors.New("series mixes devices")
	ErrInvalidScore    = errors.New("aggregate score is not a finite non-negative number")
	ErrInvalidParams   = errors.New("invalid detection parameters")
)

// IsSeriesError reports whether err rejects the series itself rather than the
// detection parameters.
func IsSeriesError(err error) bool {
	return errors.Is(err, ErrUnorderedSeries) || errors.Is(err, ErrMixedDevices) || errors.Is(err, ErrInvalidScore)
}

type Options struct {
	// MaxGapFactor breaks a run when two consecutive points are further apart
	// than factor × nominal interval. Zero disables the check.
	MaxGapFactor float64
	// FallbackInterval is the nominal interval of a series with fewer than two points.
	FallbackInterval time.Duration
}

func DefaultOptions() Options {
	return Options{MaxGapFactor: DefaultMaxGapFactor, FallbackInterval: DefaultFallbackInterval}
}

// Span is a detected run. Start and End are inclusive indexes into the series.
type Span struct {
	Start     int           `json:"start"`
	End       int           `json:"end"`
	StartTime time.Time     `json:"startTime"`
	EndTime   time.Time     `json:"endTime"`
	Duration  time.Duration `json:"duration"`
}

// Detect scans a single device's series once, left to right, and returns
// every maximal run of points with Aggregate > threshold whose duration is at
// least minDuration.
func Detect(series []fleet.ScorePoint, threshold float64, minDuration time.Duration, opts Options) ([]Span, error) {
	if math.IsNaN(threshold) || math.IsInf(threshold, 0) {
		return nil, fmt.Errorf("%w: threshold %v", ErrInvalidParams, threshold)
	}
	if opts.MaxGapFactor < 0 || math.IsNaN(opts.MaxGapFactor) {
		return nil, fmt.Errorf("%w: max gap factor %v", ErrInvalidParams, opts.MaxGapFactor)
	}
	if err := ValidateSeries(series); err != nil {
		return nil, err
	}
	spans := []Span{}
	if len(series) == 0 {
		return spans, nil
	}
	nominal := NominalInterval(series, opts.FallbackInterval)
	maxGap := time.Duration(0)
	if opts.MaxGapFactor > 0 {
		maxGap = time.Duration(float64(nominal) * opts.MaxGapFactor)
	}

	runStart := -1
	closeRun := func(end int) {
		duration := series[end].Time.Sub(series[runStart].Time) + nominal
		if duration >= minDuration {
			spans = append(spans, Span{
				Start:     runStart,
				End:       end,
				StartTime: series[runStart].Time,
				EndTime:   series[end].Time,
				Duration:  duration,
			})
		}
		runStart = -1
	}
	for i, point := range series {
		above := point.Aggregate > threshold
		if runStart >= 0 && (!above || (maxGap > 0 && point.Time.Sub(series[i-1].Time) > maxGap)) {
			closeRun(i - 1)
		}
		if above && runStart < 0 {
			runStart = i
		}
	}
	if runStart >= 0 {
		closeRun(len(series) - 1)
	}
	return spans, nil
}

// ValidateSeries rejects series the scan cannot interpret.
func ValidateSeries(series []fleet.ScorePoint) error {
	for i, point := range series {
		if math.IsNaN(point.Aggregate) || math.IsInf(point.Aggregate, 0) || point.Aggregate < 0 {
			return fmt.Errorf("%w: index %d", ErrInvalidScore, i)
		}
		if i == 0 {
			continue
		}
		if point.DeviceID != series[0].DeviceID {
			return fmt.Errorf("%w: %q and %q", ErrMixedDevices, series[0].DeviceID, point.DeviceID)
		}
		if !point.Time.After(series[i-1].Time) {
			return fmt.Errorf("%w: index %d at %s", ErrUnorderedSeries, i, point.Time.Format(time.RFC3339))
		}
	}
	return nil
}

// NominalInterval is the smallest positive gap between consecutive points.
func NominalInterval(series []fleet.ScorePoint, fallback time.Duration) time.Duration {
	nominal := time.Duration(0)
	for i := 1; i < len(series); i++ {
		gap := series[i].Time.Sub(series[i-1].Time)
		if gap <= 0 {
			continue
		}
		if nominal == 0 || gap < nominal {
			nominal = gap
		}
	}
	if nominal == 0 {
		return fallback
	}
	return nominal
}
