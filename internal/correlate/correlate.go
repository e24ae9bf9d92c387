package correlate

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"incidentwatch/internal/detector"
	"incidentwatch/internal/fleet"
)

const DefaultEvidenceThreshold = 1.0

// incidentNamespace scopes incident IDs so the same window always maps to
// the same identifier.
var incidentNamespace = uuid.MustParse("6f1c2a0e-6c1b-4d53-9a55-2a6b1f1e7c40")

type Options struct {
	EvidenceThreshold float64
}

func DefaultOptions() Options {
	return Options{EvidenceThreshold: DefaultEvidenceThreshold}
}

type SensorAnomaly struct {
	Time   time.Time `json:"time"`
	Sensor string    `json:"sensor"`
	Score  float64   `json:"score"`
}

type Incident struct {
	ID              string          `json:"id"`
	DeviceID        string          `json:"deviceId"`
	Start           time.Time       `json:"start"`
	End             time.Time       `json:"end"`
	Duration        time.Duration   `json:"duration"`
	MaxScore        float64         `json:"maxScore"`
	SensorAnomalies []SensorAnomaly `json:"sensorAnomalies"`
	Events          []fleet.Event   `json:"events"`
	Points          int             `json:"points"`
	SkippedPoints   int             `json:"skippedPoints"`
}

// Correlate enriches a detected span with the sensor and event evidence that
// falls inside it. series must be the series the span was detected on.
func Correlate(deviceID string, span detector.Span, series []fleet.ScorePoint, events []fleet.Event, opts Options) Incident {
	points := series[span.Start : span.End+1]
	anomalies, skipped := Evidence(points, opts.EvidenceThreshold)
	maxScore := 0.0
	for _, point := range points {
		if point.Aggregate > maxScore {
			maxScore = point.Aggregate
		}
	}
	matched := EventsBetween(events, span.StartTime, span.EndTime)
	if matched == nil {
		matched = []fleet.Event{}
	}
	return Incident{
		ID:              IncidentID(deviceID, span.StartTime, span.EndTime),
		DeviceID:        deviceID,
		Start:           span.StartTime,
		End:             span.EndTime,
		Duration:        span.Duration,
		MaxScore:        maxScore,
		SensorAnomalies: anomalies,
		Events:          matched,
		Points:          len(points),
		SkippedPoints:   skipped,
	}
}

// Evidence lists every sensor with Score >= threshold, ordered by point time
// and then by the sensor order of the source map. Points whose sensor map
// failed to decode contribute nothing and are counted as skipped.
func Evidence(points []fleet.ScorePoint, threshold float64) ([]SensorAnomaly, int) {
	anomalies := []SensorAnomaly{}
	skipped := 0
	for _, point := range points {
		if point.SensorsErr != nil {
			skipped++
			continue
		}
		for _, sensor := range point.Sensors {
			if sensor.Score >= threshold {
				anomalies = append(anomalies, SensorAnomaly{Time: point.Time, Sensor: sensor.Sensor, Score: sensor.Score})
			}
		}
	}
	return anomalies, skipped
}

// EventsBetween keeps events with start <= Time <= end. The input need not be
// sorted; matches keep the input order.
func EventsBetween(events []fleet.Event, start, end time.Time) []fleet.Event {
	var matched []fleet.Event
	for _, event := range events {
		if event.Time.Before(start) || event.Time.After(end) {
			continue
		}
		matched = append(matched, event)
	}
	return matched
}

func IncidentID(deviceID string, start, end time.Time) string {
	name := fmt.Sprintf("%s|%s|%s", deviceID, start.UTC().Format(time.RFC3339Nano), end.UTC().Format(time.RFC3339Nano))
	return uuid.NewSHA1(incidentNamespace, []byte(name)).String()
}
