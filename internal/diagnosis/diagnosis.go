// Package diagnosis turns the evidence of a time window into a severity band,
// an ordered list of recommendations and a summary. It is a fixed rule table:
// the same input always yields the same result.
package diagnosis

import (
	"sort"

	"incidentwatch/internal/correlate"
	"incidentwatch/internal/fleet"
)

type Severity string

const (
	SeverityLow    Severity = "low"
	SeverityMedium Severity = "medium"
	SeverityHigh   Severity = "high"
)

const (
	RecInspectTemperatureSensor = "inspect-temperature-sensor"
	RecInspectCoolingSystem     = "inspect-cooling-system"
	RecCitePastFix              = "cite-past-fix"
	RecPhysicalInspection       = "physical-inspection"
	RecContinueMonitoring       = "continue-monitoring"
	RecInspectFlaggedSensors    = "inspect-flagged-sensors"
	RecPreventiveMaintenance    = "schedule-preventive-maintenance"
	RecMaintainSchedule         = "maintain-inspection-schedule"
)

var recommendationText = map[string]string{
	RecInspectTemperatureSensor: "Inspect the temperature sensor and consider replacing it",
	RecInspectCoolingSystem:     "Inspect and service the cooling system",
	RecCitePastFix:              "Maintenance history shows temperature sensor replacement was effective",
	RecPhysicalInspection:       "Confirm the physical condition with an on-site inspection",
	RecContinueMonitoring:       "Continue monitoring and collecting data",
	RecInspectFlaggedSensors:    "Inspect the sensors flagged as anomalous in detail",
	RecPreventiveMaintenance:    "Consider scheduling preventive maintenance",
	RecMaintainSchedule:         "Keep the regular inspection schedule",
}

type Thresholds struct {
	High   float64 `yaml:"high" json:"high"`
	Medium float64 `yaml:"medium" json:"medium"`
}

type Rules struct {
	Thresholds    Thresholds `yaml:"thresholds" json:"thresholds"`
	RecentActions int        `yaml:"recentActions" json:"recentActions"`
	Categories    Categories `yaml:"categories" json:"categories"`
}

func DefaultRules() Rules {
	return Rules{
		Thresholds:    Thresholds{High: 2.5, Medium: 1.5},
		RecentActions: 3,
		Categories:    DefaultCategories(),
	}
}

// Input is the evidence of one window. Actions must be ordered most recent
// first.
type Input struct {
	Points          []fleet.ScorePoint
	Events          []fleet.Event
	SensorAnomalies []correlate.SensorAnomaly
	Actions         []fleet.MaintenanceAction
}

type Recommendation struct {
	Code string `json:"code"`
	Text string `json:"text"`
}

type SensorPeak struct {
	Sensor string  `json:"sensor"`
	Score  float64 `json:"score"`
}

type EventCount struct {
	Identifier string `json:"identifier"`
	Count      int    `json:"count"`
}

type Summary struct {
	Points       int                       `json:"points"`
	MaxScore     float64                   `json:"maxScore"`
	AvgScore     float64                   `json:"avgScore"`
	Sensors      []SensorPeak              `json:"sensors"`
	Events       []EventCount              `json:"events"`
	SimilarCases []fleet.MaintenanceAction `json:"similarCases"`
}

type Result struct {
	Severity        Severity         `json:"severity"`
	Recommendations []Recommendation `json:"recommendations"`
	Summary         Summary          `json:"summary"`
}

func Diagnose(in Input, rules Rules) Result {
	scores := make([]float64, 0, len(in.Points))
	for _, point := range in.Points {
		scores = append(scores, point.Aggregate)
	}
	maxScore := maxOf(scores)
	recent := recentActions(in.Actions, rules.RecentActions)
	severity := classify(maxScore, rules.Thresholds)

	return Result{
		Severity:        severity,
		Recommendations: recommend(severity, in, recent, rules.Categories.index()),
		Summary: Summary{
			Points:       len(in.Points),
			MaxScore:     maxScore,
			AvgScore:     mean(scores),
			Sensors:      sensorPeaks(in.SensorAnomalies),
			Events:       countEvents(in.Events),
			SimilarCases: recent,
		},
	}
}

func classify(maxScore float64, thresholds Thresholds) Severity {
	switch {
	case maxScore >= thresholds.High:
		return SeverityHigh
	case maxScore >= thresholds.Medium:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

func recommend(severity Severity, in Input, recent []fleet.MaintenanceAction, idx categoryIndex) []Recommendation {
	codes := []string{}
	switch severity {
	case SeverityHigh:
		if hasSensorCategory(in.SensorAnomalies, idx, CategoryTemperature) {
			codes = append(codes, RecInspectTemperatureSensor)
		}
		if hasEventCategory(in.Events, idx, CategoryOverheat) {
			codes = append(codes, RecInspectCoolingSystem)
		}
		if hasTreatmentCategory(recent, idx, CategoryTemperatureSensorSwap) {
			codes = append(codes, RecCitePastFix)
		}
		codes = append(codes, RecPhysicalInspection)
	case SeverityMedium:
		codes = append(codes, RecContinueMonitoring)
		if len(in.SensorAnomalies) > 0 {
			codes = append(codes, RecInspectFlaggedSensors)
		}
		codes = append(codes, RecPreventiveMaintenance)
	default:
		codes = append(codes, RecMaintainSchedule, RecContinueMonitoring)
	}
	out := make([]Recommendation, 0, len(codes))
	for _, code := range codes {
		out = append(out, Recommendation{Code: code, Text: recommendationText[code]})
	}
	return out
}

func hasSensorCategory(anomalies []correlate.SensorAnomaly, idx categoryIndex, category Category) bool {
	for _, anomaly := range anomalies {
		if idx.sensor(anomaly.Sensor) == category {
			return true
		}
	}
	return false
}

func hasEventCategory(events []fleet.Event, idx categoryIndex, category Category) bool {
	for _, event := range events {
		if idx.event(event.Identifier) == category {
			return true
		}
	}
	return false
}

func hasTreatmentCategory(actions []fleet.MaintenanceAction, idx categoryIndex, category Category) bool {
	for _, action := range actions {
		if idx.treatment(action.Treatment) == category {
			return true
		}
	}
	return false
}

func recentActions(actions []fleet.MaintenanceAction, limit int) []fleet.MaintenanceAction {
	if limit < 0 {
		limit = 0
	}
	if len(actions) < limit {
		limit = len(actions)
	}
	out := make([]fleet.MaintenanceAction, limit)
	copy(out, actions[:limit])
	return out
}

// sensorPeaks keeps the highest score per sensor, highest first.
func sensorPeaks(anomalies []correlate.SensorAnomaly) []SensorPeak {
	best := map[string]float64{}
	for _, anomaly := range anomalies {
		if score, ok := best[anomaly.Sensor]; !ok || anomaly.Score > score {
			best[anomaly.Sensor] = anomaly.Score
		}
	}
	peaks := make([]SensorPeak, 0, len(best))
	for sensor, score := range best {
		peaks = append(peaks, SensorPeak{Sensor: sensor, Score: score})
	}
	sort.Slice(peaks, func(i, j int) bool {
		if peaks[i].Score != peaks[j].Score {
			return peaks[i].Score > peaks[j].Score
		}
		return peaks[i].Sensor < peaks[j].Sensor
	})
	return peaks
}

// countEvents counts identifiers in first-seen order.
func countEvents(events []fleet.Event) []EventCount {
	counts := []EventCount{}
	pos := map[string]int{}
	for _, event := range events {
		if i, ok := pos[event.Identifier]; ok {
			counts[i].Count++
			continue
		}
		pos[event.Identifier] = len(counts)
		counts = append(counts, EventCount{Identifier: event.Identifier, Count: 1})
	}
	return counts
}
