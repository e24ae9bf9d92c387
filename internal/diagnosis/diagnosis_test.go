package diagnosis

import (
	"reflect"
	"strings"
	"testing"
	"time"

	"incidentwatch/internal/correlate"
	"incidentwatch/internal/fleet"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func points(scores ...float64) []fleet.ScorePoint {
	out := make([]fleet.ScorePoint, len(scores))
	for i, score := range scores {
		out[i] = fleet.ScorePoint{Time: t0.Add(time.Duration(i) * 2 * time.Minute), DeviceID: "D1", Aggregate: score}
	}
	return out
}

func codes(recs []Recommendation) []string {
	out := make([]string, len(recs))
	for i, rec := range recs {
		out[i] = rec.Code
	}
	return out
}

func TestDiagnoseScenarioE(t *testing.T) {
	in := Input{
		Points: points(1.2, 3.0, 2.1),
		Events: []fleet.Event{{Time: t0, DeviceID: "D1", Identifier: "과열"}},
		SensorAnomalies: []correlate.SensorAnomaly{
			{Time: t0.Add(2 * time.Minute), Sensor: "temperature-sensor", Score: 3.0},
		},
		Actions: []fleet.MaintenanceAction{
			{Date: t0.AddDate(0, -1, 0), Symptom: "과열", Treatment: "온도센서교체"},
		},
	}
	result := Diagnose(in, DefaultRules())
	if result.Severity != SeverityHigh {
		t.Fatalf("expected high severity, got %s", result.Severity)
	}
	expected := []string{RecInspectTemperatureSensor, RecInspectCoolingSystem, RecCitePastFix, RecPhysicalInspection}
	if got := codes(result.Recommendations); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
	for _, rec := range result.Recommendations {
		if rec.Text == "" {
			t.Fatalf("expected text for %s", rec.Code)
		}
	}
}

func TestDiagnoseHighWithoutEvidence(t *testing.T) {
	result := Diagnose(Input{Points: points(2.5)}, DefaultRules())
	if result.Severity != SeverityHigh {
		t.Fatalf("expected high severity at boundary, got %s", result.Severity)
	}
	if got := codes(result.Recommendations); !reflect.DeepEqual(got, []string{RecPhysicalInspection}) {
		t.Fatalf("expected only physical inspection, got %v", got)
	}
}

func TestDiagnoseCitesOnlyRecentActions(t *testing.T) {
	actions := []fleet.MaintenanceAction{
		{Date: t0.AddDate(0, 0, -1), Treatment: "fan cleaning"},
		{Date: t0.AddDate(0, 0, -2), Treatment: "firmware update"},
		{Date: t0.AddDate(0, 0, -3), Treatment: "cable check"},
		{Date: t0.AddDate(0, 0, -4), Treatment: "온도센서교체"},
	}
	result := Diagnose(Input{Points: points(3.1), Actions: actions}, DefaultRules())
	for _, code := range codes(result.Recommendations) {
		if code == RecCitePastFix {
			t.Fatalf("expected fourth-most-recent action to be ignored")
		}
	}
	if len(result.Summary.SimilarCases) != 3 {
		t.Fatalf("expected 3 similar cases, got %d", len(result.Summary.SimilarCases))
	}
}

func TestDiagnoseMedium(t *testing.T) {
	anomalies := []correlate.SensorAnomaly{{Time: t0, Sensor: "snr-db", Score: 1.2}}
	result := Diagnose(Input{Points: points(1.5, 0.4), SensorAnomalies: anomalies}, DefaultRules())
	if result.Severity != SeverityMedium {
		t.Fatalf("expected medium severity, got %s", result.Severity)
	}
	expected := []string{RecContinueMonitoring, RecInspectFlaggedSensors, RecPreventiveMaintenance}
	if got := codes(result.Recommendations); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}

	result = Diagnose(Input{Points: points(1.7)}, DefaultRules())
	expected = []string{RecContinueMonitoring, RecPreventiveMaintenance}
	if got := codes(result.Recommendations); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v without anomalies, got %v", expected, got)
	}
}

func TestDiagnoseLow(t *testing.T) {
	result := Diagnose(Input{Points: points(0.3, 1.49)}, DefaultRules())
	if result.Severity != SeverityLow {
		t.Fatalf("expected low severity, got %s", result.Severity)
	}
	expected := []string{RecMaintainSchedule, RecContinueMonitoring}
	if got := codes(result.Recommendations); !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestDiagnoseCustomThresholds(t *testing.T) {
	rules := DefaultRules()
	rules.Thresholds = Thresholds{High: 5, Medium: 3}
	if got := Diagnose(Input{Points: points(4)}, rules).Severity; got != SeverityMedium {
		t.Fatalf("expected medium with custom bands, got %s", got)
	}
}

func TestDiagnoseSummary(t *testing.T) {
	in := Input{
		Points: points(1.0, 2.0, 3.0),
		Events: []fleet.Event{
			{Identifier: "fan"}, {Identifier: "과열"}, {Identifier: "fan"},
		},
		SensorAnomalies: []correlate.SensorAnomaly{
			{Sensor: "snr-db", Score: 1.2},
			{Sensor: "adb-value", Score: 2.0},
			{Sensor: "snr-db", Score: 2.4},
			{Sensor: "fuse-state", Score: 2.0},
		},
	}
	summary := Diagnose(in, DefaultRules()).Summary
	if summary.Points != 3 || summary.MaxScore != 3.0 || summary.AvgScore != 2.0 {
		t.Fatalf("unexpected stats %+v", summary)
	}
	expectedSensors := []SensorPeak{{"snr-db", 2.4}, {"adb-value", 2.0}, {"fuse-state", 2.0}}
	if !reflect.DeepEqual(summary.Sensors, expectedSensors) {
		t.Fatalf("expected %+v, got %+v", expectedSensors, summary.Sensors)
	}
	expectedEvents := []EventCount{{"fan", 2}, {"과열", 1}}
	if !reflect.DeepEqual(summary.Events, expectedEvents) {
		t.Fatalf("expected %+v, got %+v", expectedEvents, summary.Events)
	}
}

func TestDiagnoseEmptyInput(t *testing.T) {
	result := Diagnose(Input{}, DefaultRules())
	if result.Severity != SeverityLow || result.Summary.MaxScore != 0 || result.Summary.AvgScore != 0 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestDiagnoseIsReproducible(t *testing.T) {
	in := Input{
		Points:          points(2.6, 1.1),
		SensorAnomalies: []correlate.SensorAnomaly{{Sensor: "b", Score: 1.5}, {Sensor: "a", Score: 1.5}},
	}
	first := Diagnose(in, DefaultRules())
	for i := 0; i < 20; i++ {
		if next := Diagnose(in, DefaultRules()); !reflect.DeepEqual(first, next) {
			t.Fatalf("expected identical results, got %+v and %+v", first, next)
		}
	}
}

func TestCategoriesNormalizeKeys(t *testing.T) {
	idx := DefaultCategories().index()
	if idx.sensor("Temperature_Sensor") != CategoryTemperature {
		t.Fatalf("expected normalised sensor match")
	}
	if idx.sensor("temperature-sensor-backup") != "" {
		t.Fatalf("expected no substring match")
	}
	if idx.event(" 오버 히팅 ") != CategoryOverheat {
		t.Fatalf("expected trimmed event match")
	}
	if idx.treatment("Temperature Sensor Replacement") != CategoryTemperatureSensorSwap {
		t.Fatalf("expected normalised treatment match")
	}
}

func TestDefaultOverheatEventsAreExact(t *testing.T) {
	idx := DefaultCategories().index()
	if idx.event("과열") != CategoryOverheat || idx.event("오버 히팅") != CategoryOverheat {
		t.Fatalf("expected both overheat identifiers to match")
	}
	for _, id := range []string{"내부 과열", "overheating", "과열 경고"} {
		if idx.event(id) != "" {
			t.Fatalf("expected %q to need an explicit mapping", id)
		}
	}
}

func TestRender(t *testing.T) {
	result := Diagnose(Input{
		Points:          points(3.0),
		Events:          []fleet.Event{{Identifier: "과열"}},
		SensorAnomalies: []correlate.SensorAnomaly{{Sensor: "temperature-sensor", Score: 3.0}},
		Actions:         []fleet.MaintenanceAction{{Date: t0, Symptom: "과열", Treatment: "온도센서교체"}},
	}, DefaultRules())
	lines := Render(result)
	text := strings.Join(lines, "\n")
	if !strings.HasPrefix(lines[0], "Severity: HIGH") {
		t.Fatalf("expected severity headline, got %q", lines[0])
	}
	for _, want := range []string{"1. Inspect the temperature sensor", "4. Confirm the physical condition", "- max anomaly score: 3.00", "- temperature-sensor: 3.00", "- 과열: 1", "- 2024-03-01 | 과열 | 온도센서교체"} {
		if !strings.Contains(text, want) {
			t.Fatalf("expected %q in output:\n%s", want, text)
		}
	}
	if !reflect.DeepEqual(lines, Render(result)) {
		t.Fatalf("expected deterministic rendering")
	}
}
