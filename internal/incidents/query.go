package incidents

import (
	"fmt"
	"math"
	"time"

	"incidentwatch/internal/correlate"
	"incidentwatch/internal/detector"
	"incidentwatch/internal/diagnosis"
	"incidentwatch/internal/fleet"
)

// Query selects incidents. An empty DeviceID scans every device.
type Query struct {
	DeviceID    string
	Threshold   float64
	MinDuration time.Duration
}

type WindowQuery struct {
	DeviceID string
	Start    time.Time
	End      time.Time
}

// SeriesQuery selects raw series. Empty DeviceIDs means every device; a zero
// Start or End leaves that side unbounded.
type SeriesQuery struct {
	DeviceIDs []string
	Start     time.Time
	End       time.Time
}

type WindowReport struct {
	DeviceID        string                    `json:"deviceId"`
	Start           time.Time                 `json:"start"`
	End             time.Time                 `json:"end"`
	Diagnosis       diagnosis.Result          `json:"diagnosis"`
	Points          []fleet.ScorePoint        `json:"points"`
	Events          []fleet.Event             `json:"events"`
	SensorAnomalies []correlate.SensorAnomaly `json:"sensorAnomalies"`
	SkippedPoints   int                       `json:"skippedPoints"`
	Actions         []fleet.MaintenanceAction `json:"actions"`
	Info            *fleet.DeviceInfo         `json:"info,omitempty"`
}

type DeviceSeries struct {
	DeviceID   string                     `json:"deviceId"`
	Points     []fleet.ScorePoint         `json:"points"`
	Events     []fleet.Event              `json:"events"`
	Continuity detector.ContinuitySummary `json:"continuity"`
}

type DeviceOverview struct {
	DeviceID string            `json:"deviceId"`
	Points   int               `json:"points"`
	Events   int               `json:"events"`
	First    time.Time         `json:"first"`
	Last     time.Time         `json:"last"`
	Info     *fleet.DeviceInfo `json:"info,omitempty"`
}

type SnapshotSummary struct {
	fleet.Summary
	LoadedAt time.Time `json:"loadedAt"`
}

func (q Query) validate() error {
	var details []ErrorDetail
	if math.IsNaN(q.Threshold) || math.IsInf(q.Threshold, 0) || q.Threshold < 0 {
		details = append(details, ErrorDetail{Field: "threshold", Problem: "invalid", Hint: "Use a finite number >= 0"})
	}
	if q.MinDuration <= 0 {
		details = append(details, ErrorDetail{Field: "minDuration", Problem: "must be positive", Hint: "Example: 4m"})
	}
	return invalid("invalid incident query", details)
}

func (q WindowQuery) validate(maxWindow time.Duration) error {
	var details []ErrorDetail
	if q.DeviceID == "" {
		details = append(details, ErrorDetail{Field: "deviceId", Problem: "required"})
	}
	if q.Start.IsZero() {
		details = append(details, ErrorDetail{Field: "start", Problem: "required"})
	}
	if q.End.IsZero() {
		details = append(details, ErrorDetail{Field: "end", Problem: "required"})
	}
	if !q.Start.IsZero() && !q.End.IsZero() {
		if q.End.Before(q.Start) {
			details = append(details, ErrorDetail{Field: "end", Problem: "before start", Hint: "end >= start"})
		} else if maxWindow > 0 && q.End.Sub(q.Start) > maxWindow {
			details = append(details, ErrorDetail{Field: "end", Problem: "window too large", Hint: fmt.Sprintf("max %s", maxWindow)})
		}
	}
	return invalid("invalid diagnosis window", details)
}

func (q SeriesQuery) validate() error {
	var details []ErrorDetail
	if !q.Start.IsZero() && !q.End.IsZero() && q.End.Before(q.Start) {
		details = append(details, ErrorDetail{Field: "end", Problem: "before start", Hint: "end >= start"})
	}
	for i, id := range q.DeviceIDs {
		if id == "" {
			details = append(details, ErrorDetail{Field: fmt.Sprintf("deviceIds[%d]", i), Problem: "empty"})
		}
	}
	return invalid("invalid series query", details)
}
