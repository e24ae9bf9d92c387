package fleet

import (
	"testing"
	"time"
)

func at(minute int) time.Time {
	return time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(minute) * time.Minute)
}

func TestBuilderSortsAndSummarizes(t *testing.T) {
	b := NewBuilder()
	b.AddScore(ScorePoint{Time: at(4), DeviceID: "p2", Aggregate: 0.3})
	b.AddScore(ScorePoint{Time: at(2), DeviceID: "p1", Aggregate: 1.2})
	b.AddScore(ScorePoint{Time: at(0), DeviceID: "p1", Aggregate: 0.4})
	b.AddEvent(Event{Time: at(3), DeviceID: "p1", Identifier: "과열"})
	b.AddEvent(Event{Time: at(1), DeviceID: "p1", Identifier: "fan"})
	b.AddAction(MaintenanceAction{Date: at(0), DeviceID: "p1", Treatment: "old"})
	b.AddAction(MaintenanceAction{Date: at(60 * 24), DeviceID: "p1", Treatment: "new"})
	b.AddDeviceInfo(DeviceInfo{DeviceID: "p1", HWVersion: "v1"})

	loaded := time.Date(2024, 3, 2, 0, 0, 0, 0, time.UTC)
	snap := b.Build(loaded)

	ids := snap.DeviceIDs()
	if len(ids) != 2 || ids[0] != "p1" || ids[1] != "p2" {
		t.Fatalf("expected sorted device ids, got %v", ids)
	}
	series := snap.Series("p1")
	if len(series) != 2 || !series[0].Time.Equal(at(0)) {
		t.Fatalf("expected time-ordered series, got %+v", series)
	}
	events := snap.Events("p1")
	if events[0].Identifier != "fan" {
		t.Fatalf("expected time-ordered events, got %+v", events)
	}
	actions := snap.Actions("p1")
	if actions[0].Treatment != "new" {
		t.Fatalf("expected most recent action first, got %+v", actions)
	}
	if info, ok := snap.Info("p1"); !ok || info.HWVersion != "v1" {
		t.Fatalf("expected device info, got %+v %v", info, ok)
	}
	summary := snap.Summary()
	if summary.Records != 3 || summary.Devices != 2 || summary.Events != 2 || summary.Actions != 2 {
		t.Fatalf("unexpected summary: %+v", summary)
	}
	if !summary.Start.Equal(at(0)) || !summary.End.Equal(at(4)) {
		t.Fatalf("unexpected summary range: %+v", summary)
	}
	if !snap.LoadedAt.Equal(loaded) {
		t.Fatalf("expected LoadedAt to be kept")
	}
}

func TestSnapshotUnknownDevice(t *testing.T) {
	snap := NewBuilder().Build(time.Now())
	if snap.Series("missing") != nil || snap.Events("missing") != nil {
		t.Fatalf("expected nil slices for unknown device")
	}
	if snap.HasDevice("missing") {
		t.Fatalf("expected unknown device")
	}
	var nilSnap *Snapshot
	if nilSnap.DeviceIDs() != nil || nilSnap.Summary().Records != 0 {
		t.Fatalf("expected nil snapshot to be empty")
	}
}

func TestPointsBetweenInclusive(t *testing.T) {
	series := []ScorePoint{{Time: at(0)}, {Time: at(2)}, {Time: at(4)}, {Time: at(6)}}
	got := PointsBetween(series, at(2), at(4))
	if len(got) != 2 || !got[0].Time.Equal(at(2)) || !got[1].Time.Equal(at(4)) {
		t.Fatalf("expected both boundaries included, got %+v", got)
	}
	if got := PointsBetween(series, at(7), at(9)); got != nil {
		t.Fatalf("expected nil outside range, got %+v", got)
	}
}

func TestEventsBetweenInclusive(t *testing.T) {
	events := []Event{{Time: at(1), Identifier: "a"}, {Time: at(3), Identifier: "b"}, {Time: at(5), Identifier: "c"}}
	got := EventsBetween(events, at(1), at(3))
	if len(got) != 2 || got[0].Identifier != "a" || got[1].Identifier != "b" {
		t.Fatalf("expected events at both boundaries, got %+v", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	ts, err := ParseTimestamp("2024-03-01 10:02:00")
	if err != nil || !ts.Equal(at(2)) {
		t.Fatalf("expected %v, got %v (%v)", at(2), ts, err)
	}
	ts, err = ParseTimestamp("2024-03-01T19:02:00+09:00")
	if err != nil || !ts.Equal(at(2)) {
		t.Fatalf("expected ISO timestamp to resolve to %v, got %v (%v)", at(2), ts, err)
	}
	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Fatalf("expected error for invalid timestamp")
	}
	d, err := ParseDate("2023-11-05")
	if err != nil || d.Year() != 2023 || d.Month() != time.November || d.Day() != 5 {
		t.Fatalf("unexpected date %v (%v)", d, err)
	}
}

func TestBuilderDropsDuplicateTimestamps(t *testing.T) {
	b := NewBuilder()
	b.AddScore(ScorePoint{Time: at(2), DeviceID: "p1", Aggregate: 1.5})
	b.AddScore(ScorePoint{Time: at(0), DeviceID: "p1", Aggregate: 0.1})
	b.AddScore(ScorePoint{Time: at(2), DeviceID: "p1", Aggregate: 9.9})
	b.AddScore(ScorePoint{Time: at(2), DeviceID: "p2", Aggregate: 0.3})
	snap := b.Build(at(10))

	series := snap.Series("p1")
	if len(series) != 2 || series[1].Aggregate != 1.5 {
		t.Fatalf("expected the first point at a timestamp to win, got %+v", series)
	}
	summary := snap.Summary()
	if summary.DuplicatePoints != 1 || summary.Records != 3 {
		t.Fatalf("unexpected summary %+v", summary)
	}
}
