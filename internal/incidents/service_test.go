package incidents

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math"
	"reflect"
	"testing"
	"time"

	"incidentwatch/internal/detector"
	"incidentwatch/internal/diagnosis"
	"incidentwatch/internal/fleet"
)

var t0 = time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

func minute(n int) time.Time {
	return t0.Add(time.Duration(n) * time.Minute)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func addSeries(b *fleet.Builder, device string, scores ...float64) {
	for i, score := range scores {
		b.AddScore(fleet.ScorePoint{
			Time:      minute(i * 2),
			DeviceID:  device,
			Aggregate: score,
			Sensors:   []fleet.SensorScore{{Sensor: "temperature-sensor", Score: score}},
		})
	}
}

func testSnapshot() *fleet.Snapshot {
	b := fleet.NewBuilder()
	addSeries(b, "D2", 0.1, 1.2, 1.3, 1.4, 0.1)
	addSeries(b, "D1", 0.1, 0.1, 1.5, 1.6, 1.4, 0.2, 2.8, 3.0, 0.1)
	b.AddEvent(fleet.Event{Time: minute(4), DeviceID: "D1", Identifier: "과열"})
	b.AddEvent(fleet.Event{Time: minute(14), DeviceID: "D1", Identifier: "fan"})
	b.AddAction(fleet.MaintenanceAction{Date: t0.AddDate(0, -1, 0), DeviceID: "D1", Symptom: "과열", Treatment: "온도센서교체"})
	b.AddDeviceInfo(fleet.DeviceInfo{DeviceID: "D1", HWVersion: "2.0", FWVersion: "1.4.2"})
	return b.Build(t0.Add(time.Hour))
}

func newTestService() *Service {
	return NewService(testSnapshot(), DefaultSettings(), testLogger())
}

func TestListIncidentsAllDevices(t *testing.T) {
	svc := newTestService()
	found, err := svc.ListIncidents(context.Background(), Query{Threshold: 1.0, MinDuration: 4 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 3 {
		t.Fatalf("expected 3 incidents, got %d", len(found))
	}
	if found[0].DeviceID != "D1" || found[1].DeviceID != "D1" || found[2].DeviceID != "D2" {
		t.Fatalf("expected device-ordered incidents, got %+v", found)
	}
	if !found[0].Start.Equal(minute(4)) || found[0].MaxScore != 1.6 {
		t.Fatalf("unexpected first incident %+v", found[0])
	}
	if len(found[0].Events) != 1 || found[0].Events[0].Identifier != "과열" {
		t.Fatalf("expected start-boundary event, got %+v", found[0].Events)
	}
	if !found[1].Start.Equal(minute(12)) || found[1].MaxScore != 3.0 {
		t.Fatalf("unexpected second incident %+v", found[1])
	}
}

func TestListIncidentsIsIdempotent(t *testing.T) {
	svc := newTestService()
	q := Query{Threshold: 1.0, MinDuration: 2 * time.Minute}
	first, err := svc.ListIncidents(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := svc.ListIncidents(context.Background(), q)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("expected identical results")
	}
}

func TestListIncidentsSingleAndUnknownDevice(t *testing.T) {
	svc := newTestService()
	found, err := svc.ListIncidents(context.Background(), Query{DeviceID: "D2", Threshold: 1.0, MinDuration: 4 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].DeviceID != "D2" {
		t.Fatalf("expected one D2 incident, got %+v", found)
	}
	found, err = svc.ListIncidents(context.Background(), Query{DeviceID: "missing", Threshold: 1.0, MinDuration: time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if found == nil || len(found) != 0 {
		t.Fatalf("expected empty result for unknown device, got %#v", found)
	}
}

func TestListIncidentsValidation(t *testing.T) {
	svc := newTestService()
	_, err := svc.ListIncidents(context.Background(), Query{Threshold: -1, MinDuration: 0})
	if !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected ErrInvalidQuery, got %v", err)
	}
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %T", err)
	}
	if len(verr.Details) != 2 || verr.Details[0].Field != "threshold" || verr.Details[1].Field != "minDuration" {
		t.Fatalf("unexpected details %+v", verr.Details)
	}
}

func TestListIncidentsRejectsInvalidSeries(t *testing.T) {
	b := fleet.NewBuilder()
	b.AddScore(fleet.ScorePoint{Time: minute(0), DeviceID: "D1", Aggregate: 2})
	b.AddScore(fleet.ScorePoint{Time: minute(2), DeviceID: "D1", Aggregate: -1})
	svc := NewService(b.Build(t0), DefaultSettings(), testLogger())
	_, err := svc.ListIncidents(context.Background(), Query{DeviceID: "D1", Threshold: 1, MinDuration: time.Minute})
	if !errors.Is(err, detector.ErrInvalidScore) {
		t.Fatalf("expected ErrInvalidScore, got %v", err)
	}
}

func TestListIncidentsAllDevicesSkipsInvalidSeries(t *testing.T) {
	b := fleet.NewBuilder()
	addSeries(b, "D1", 0.1, 0.1, 1.5, 1.6, 1.4, 0.2)
	addSeries(b, "D2", 0.1, 1.2, 1.3)
	b.AddScore(fleet.ScorePoint{Time: minute(6), DeviceID: "D2", Aggregate: math.NaN()})
	svc := NewService(b.Build(t0.Add(time.Hour)), DefaultSettings(), testLogger())

	found, err := svc.ListIncidents(context.Background(), Query{Threshold: 1.0, MinDuration: 4 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].DeviceID != "D1" || !found[0].Start.Equal(minute(4)) {
		t.Fatalf("expected only the D1 incident, got %+v", found)
	}
}

func TestListIncidentsDuplicateTimestampDoesNotFailFleet(t *testing.T) {
	b := fleet.NewBuilder()
	addSeries(b, "D1", 0.1, 0.1, 1.5, 1.6, 1.4, 0.2)
	addSeries(b, "D2", 0.1, 0.2, 0.3)
	b.AddScore(fleet.ScorePoint{Time: minute(2), DeviceID: "D2", Aggregate: 0.4})
	snap := b.Build(t0.Add(time.Hour))
	if snap.Summary().DuplicatePoints != 1 {
		t.Fatalf("expected one duplicate point, got %+v", snap.Summary())
	}
	svc := NewService(snap, DefaultSettings(), testLogger())

	found, err := svc.ListIncidents(context.Background(), Query{Threshold: 1.0, MinDuration: 4 * time.Minute})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(found) != 1 || found[0].DeviceID != "D1" || found[0].MaxScore != 1.6 {
		t.Fatalf("expected the D1 incident, got %+v", found)
	}
	if _, err := svc.ListIncidents(context.Background(), Query{DeviceID: "D2", Threshold: 1.0, MinDuration: time.Minute}); err != nil {
		t.Fatalf("expected deduplicated D2 series to scan, got %v", err)
	}
}

func TestListIncidentsCanceledContext(t *testing.T) {
	svc := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := svc.ListIncidents(ctx, Query{Threshold: 1, MinDuration: time.Minute}); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDiagnoseWindow(t *testing.T) {
	svc := newTestService()
	report, err := svc.DiagnoseWindow(context.Background(), WindowQuery{DeviceID: "D1", Start: minute(0), End: minute(16)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report == nil {
		t.Fatalf("expected report")
	}
	if report.Diagnosis.Severity != diagnosis.SeverityHigh {
		t.Fatalf("expected high severity, got %s", report.Diagnosis.Severity)
	}
	codes := []string{}
	for _, rec := range report.Diagnosis.Recommendations {
		codes = append(codes, rec.Code)
	}
	expected := []string{diagnosis.RecInspectTemperatureSensor, diagnosis.RecInspectCoolingSystem, diagnosis.RecCitePastFix, diagnosis.RecPhysicalInspection}
	if !reflect.DeepEqual(codes, expected) {
		t.Fatalf("expected %v, got %v", expected, codes)
	}
	if len(report.Points) != 9 || len(report.Events) != 2 || len(report.Actions) != 1 {
		t.Fatalf("unexpected report contents %+v", report)
	}
	if report.Info == nil || report.Info.FWVersion != "1.4.2" {
		t.Fatalf("expected device info, got %+v", report.Info)
	}
}

func TestDiagnoseWindowWithoutPoints(t *testing.T) {
	svc := newTestService()
	report, err := svc.DiagnoseWindow(context.Background(), WindowQuery{DeviceID: "D1", Start: minute(100), End: minute(200)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if report != nil {
		t.Fatalf("expected nil report, got %+v", report)
	}
}

func TestDiagnoseWindowValidation(t *testing.T) {
	svc := newTestService()
	_, err := svc.DiagnoseWindow(context.Background(), WindowQuery{DeviceID: "", Start: minute(10), End: minute(0)})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Details) != 2 {
		t.Fatalf("expected 2 details, got %+v", verr.Details)
	}

	settings := DefaultSettings()
	settings.Limits.MaxWindow = time.Hour
	svc = NewService(testSnapshot(), settings, testLogger())
	if _, err := svc.DiagnoseWindow(context.Background(), WindowQuery{DeviceID: "D1", Start: t0, End: t0.Add(2 * time.Hour)}); !errors.Is(err, ErrInvalidQuery) {
		t.Fatalf("expected window limit error, got %v", err)
	}
}

func TestSeries(t *testing.T) {
	svc := newTestService()
	out, err := svc.Series(context.Background(), SeriesQuery{DeviceIDs: []string{"D1", "missing"}, Start: minute(4), End: minute(8)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 1 || out[0].DeviceID != "D1" {
		t.Fatalf("expected only known device, got %+v", out)
	}
	if len(out[0].Points) != 3 || len(out[0].Events) != 1 {
		t.Fatalf("unexpected window contents %+v", out[0])
	}
	if out[0].Continuity.Nominal != 2*time.Minute || !out[0].Continuity.Continuous() {
		t.Fatalf("unexpected continuity %+v", out[0].Continuity)
	}

	all, err := svc.Series(context.Background(), SeriesQuery{Start: minute(6)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(all) != 2 || len(all[0].Points) != 6 || len(all[1].Points) != 2 {
		t.Fatalf("unexpected open-ended series %+v", all)
	}
}

func TestDevicesAndSummary(t *testing.T) {
	svc := newTestService()
	devices := svc.Devices()
	if len(devices) != 2 || devices[0].DeviceID != "D1" || devices[0].Points != 9 || devices[0].Info == nil {
		t.Fatalf("unexpected devices %+v", devices)
	}
	if devices[1].Info != nil {
		t.Fatalf("expected no info for D2")
	}
	summary := svc.Summary()
	if summary.Records != 14 || summary.Devices != 2 || !summary.LoadedAt.Equal(t0.Add(time.Hour)) {
		t.Fatalf("unexpected summary %+v", summary)
	}
}

func TestReplaceSwapsSnapshot(t *testing.T) {
	svc := newTestService()
	svc.Replace(nil)
	if got := svc.Summary().Records; got != 0 {
		t.Fatalf("expected empty snapshot after replace, got %d records", got)
	}
	svc.Replace(testSnapshot())
	if got := svc.Summary().Records; got != 14 {
		t.Fatalf("expected restored snapshot, got %d records", got)
	}
}
