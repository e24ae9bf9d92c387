package detector

import (
	"time"

	"incidentwatch/internal/fleet"
)

type ContinuitySummary struct {
	Nominal      time.Duration `json:"nominal"`
	LargestGap   time.Duration `json:"largestGap"`
	GapsDetected int           `json:"gapsDetected"`
}

func (c ContinuitySummary) Continuous() bool {
	return c.GapsDetected == 0
}

// Continuity reports how regular a series is sampled. A gap counts when it
// exceeds opts.MaxGapFactor × nominal interval.
func Continuity(series []fleet.ScorePoint, opts Options) ContinuitySummary {
	summary := ContinuitySummary{Nominal: NominalInterval(series, opts.FallbackInterval)}
	limit := time.Duration(0)
	if opts.MaxGapFactor > 0 {
		limit = time.Duration(float64(summary.Nominal) * opts.MaxGapFactor)
	}
	for i := 1; i < len(series); i++ {
		gap := series[i].Time.Sub(series[i-1].Time)
		if gap > summary.LargestGap {
			summary.LargestGap = gap
		}
		if limit > 0 && gap > limit {
			summary.GapsDetected++
		}
	}
	return summary
}
