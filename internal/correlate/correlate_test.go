package correlate

import (
	"errors"
	"testing"
	"time"

	"incidentwatch/internal/detector"
	"incidentwatch/internal/fleet"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func minute(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Minute)
}

func point(m int, aggregate float64, sensors ...fleet.SensorScore) fleet.ScorePoint {
	return fleet.ScorePoint{Time: minute(m), DeviceID: "D1", Aggregate: aggregate, Sensors: sensors}
}

func scenarioSeries() []fleet.ScorePoint {
	return []fleet.ScorePoint{
		point(0, 0.1, fleet.SensorScore{Sensor: "fuse-state", Score: 0.1}),
		point(2, 0.1, fleet.SensorScore{Sensor: "fuse-state", Score: 0.1}),
		point(4, 1.5, fleet.SensorScore{Sensor: "temperature-sensor", Score: 1.5}, fleet.SensorScore{Sensor: "snr-db", Score: 1.0}),
		point(6, 1.6, fleet.SensorScore{Sensor: "snr-db", Score: 1.6}, fleet.SensorScore{Sensor: "adb-value", Score: 0.3}),
		point(8, 1.4, fleet.SensorScore{Sensor: "temperature-sensor", Score: 1.4}),
		point(10, 0.2, fleet.SensorScore{Sensor: "temperature-sensor", Score: 0.2}),
	}
}

func TestCorrelateScenarioA(t *testing.T) {
	series := scenarioSeries()
	spans, err := detector.Detect(series, 1.0, 4*time.Minute, detector.DefaultOptions())
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected one span, got %+v (%v)", spans, err)
	}
	events := []fleet.Event{
		{Time: minute(3), DeviceID: "D1", Identifier: "before"},
		{Time: minute(4), DeviceID: "D1", Identifier: "start"},
		{Time: minute(7), DeviceID: "D1", Identifier: "middle"},
		{Time: minute(8), DeviceID: "D1", Identifier: "end"},
		{Time: minute(9), DeviceID: "D1", Identifier: "after"},
	}
	incident := Correlate("D1", spans[0], series, events, DefaultOptions())

	if incident.MaxScore != 1.6 {
		t.Fatalf("expected max score 1.6, got %v", incident.MaxScore)
	}
	if incident.Points != 3 || incident.SkippedPoints != 0 {
		t.Fatalf("unexpected point counts %d/%d", incident.Points, incident.SkippedPoints)
	}
	expected := []SensorAnomaly{
		{Time: minute(4), Sensor: "temperature-sensor", Score: 1.5},
		{Time: minute(4), Sensor: "snr-db", Score: 1.0},
		{Time: minute(6), Sensor: "snr-db", Score: 1.6},
		{Time: minute(8), Sensor: "temperature-sensor", Score: 1.4},
	}
	if len(incident.SensorAnomalies) != len(expected) {
		t.Fatalf("expected %d anomalies, got %+v", len(expected), incident.SensorAnomalies)
	}
	for i, want := range expected {
		got := incident.SensorAnomalies[i]
		if !got.Time.Equal(want.Time) || got.Sensor != want.Sensor || got.Score != want.Score {
			t.Fatalf("anomaly %d: expected %+v, got %+v", i, want, got)
		}
	}
	if len(incident.Events) != 3 {
		t.Fatalf("expected 3 events, got %+v", incident.Events)
	}
	if incident.Events[0].Identifier != "start" || incident.Events[2].Identifier != "end" {
		t.Fatalf("expected boundary events to be included, got %+v", incident.Events)
	}
	if incident.Duration != 6*time.Minute {
		t.Fatalf("expected 6m duration, got %v", incident.Duration)
	}
}

func TestCorrelateScenarioDSkipsMalformedPoint(t *testing.T) {
	series := scenarioSeries()
	series[3].Sensors = nil
	series[3].SensorsErr = errors.New("bad map")
	spans, err := detector.Detect(series, 1.0, 4*time.Minute, detector.DefaultOptions())
	if err != nil || len(spans) != 1 {
		t.Fatalf("expected the run to still be detected, got %+v (%v)", spans, err)
	}
	incident := Correlate("D1", spans[0], series, nil, DefaultOptions())
	if incident.SkippedPoints != 1 {
		t.Fatalf("expected 1 skipped point, got %d", incident.SkippedPoints)
	}
	if len(incident.SensorAnomalies) != 3 {
		t.Fatalf("expected anomalies from other points, got %+v", incident.SensorAnomalies)
	}
	for _, anomaly := range incident.SensorAnomalies {
		if anomaly.Time.Equal(minute(6)) {
			t.Fatalf("expected no anomalies from malformed point")
		}
	}
	if incident.MaxScore != 1.6 {
		t.Fatalf("expected aggregate of malformed point to still count, got %v", incident.MaxScore)
	}
	if incident.Events == nil {
		t.Fatalf("expected empty non-nil events")
	}
}

func TestEvidenceThresholdInclusive(t *testing.T) {
	points := []fleet.ScorePoint{point(0, 2, fleet.SensorScore{Sensor: "a", Score: 2.0}, fleet.SensorScore{Sensor: "b", Score: 1.99})}
	anomalies, skipped := Evidence(points, 2.0)
	if skipped != 0 || len(anomalies) != 1 || anomalies[0].Sensor != "a" {
		t.Fatalf("expected only sensor at threshold, got %+v", anomalies)
	}
}

func TestIncidentIDIsDeterministic(t *testing.T) {
	first := IncidentID("D1", minute(4), minute(8))
	second := IncidentID("D1", minute(4), minute(8))
	if first != second {
		t.Fatalf("expected stable id, got %s and %s", first, second)
	}
	if other := IncidentID("D2", minute(4), minute(8)); other == first {
		t.Fatalf("expected device to change the id")
	}
}
