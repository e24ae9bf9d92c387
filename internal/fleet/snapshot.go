package fleet

import (
	"sort"
	"time"
)

// Snapshot is an immutable view of loaded fleet data. All accessors return
// shared slices; callers must not modify them.
type Snapshot struct {
	series   map[string][]ScorePoint
	events   map[string][]Event
	actions  map[string][]MaintenanceAction
	info     map[string]DeviceInfo
	devices  []string
	summary  Summary
	LoadedAt time.Time
}

type Summary struct {
	Records int       `json:"records"`
	Devices int       `json:"devices"`
	Events  int       `json:"events"`
	Actions int       `json:"actions"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	// DuplicatePoints counts score rows dropped because their device already
	// had a point at the same timestamp.
	DuplicatePoints int `json:"duplicatePoints"`
}

func (s *Snapshot) DeviceIDs() []string {
	if s == nil {
		return nil
	}
	out := make([]string, len(s.devices))
	copy(out, s.devices)
	return out
}

// AllDeviceIDs includes devices that only appear in events, actions or
// device info.
func (s *Snapshot) AllDeviceIDs() []string {
	if s == nil {
		return nil
	}
	seen := map[string]struct{}{}
	for id := range s.series {
		seen[id] = struct{}{}
	}
	for id := range s.events {
		seen[id] = struct{}{}
	}
	for id := range s.actions {
		seen[id] = struct{}{}
	}
	for id := range s.info {
		seen[id] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *Snapshot) Series(deviceID string) []ScorePoint {
	if s == nil {
		return nil
	}
	return s.series[deviceID]
}

func (s *Snapshot) Events(deviceID string) []Event {
	if s == nil {
		return nil
	}
	return s.events[deviceID]
}

// Actions returns the maintenance history of a device, most recent first.
func (s *Snapshot) Actions(deviceID string) []MaintenanceAction {
	if s == nil {
		return nil
	}
	return s.actions[deviceID]
}

func (s *Snapshot) Info(deviceID string) (DeviceInfo, bool) {
	if s == nil {
		return DeviceInfo{}, false
	}
	info, ok := s.info[deviceID]
	return info, ok
}

func (s *Snapshot) HasDevice(deviceID string) bool {
	if s == nil {
		return false
	}
	_, ok := s.series[deviceID]
	return ok
}

func (s *Snapshot) Summary() Summary {
	if s == nil {
		return Summary{}
	}
	return s.summary
}

// PointsBetween returns the sub-slice of a time-ordered series with
// start <= Time <= end.
func PointsBetween(series []ScorePoint, start, end time.Time) []ScorePoint {
	lo := sort.Search(len(series), func(i int) bool { return !series[i].Time.Before(start) })
	hi := sort.Search(len(series), func(i int) bool { return series[i].Time.After(end) })
	if lo >= hi {
		return nil
	}
	return series[lo:hi]
}

// EventsBetween returns the sub-slice of a time-ordered event list with
// start <= Time <= end.
func EventsBetween(events []Event, start, end time.Time) []Event {
	lo := sort.Search(len(events), func(i int) bool { return !events[i].Time.Before(start) })
	hi := sort.Search(len(events), func(i int) bool { return events[i].Time.After(end) })
	if lo >= hi {
		return nil
	}
	return events[lo:hi]
}

// Builder collects records in any order and produces a Snapshot.
// A Builder is not safe for concurrent use.
type Builder struct {
	series  map[string][]ScorePoint
	events  map[string][]Event
	actions map[string][]MaintenanceAction
	info    map[string]DeviceInfo
}

func NewBuilder() *Builder {
	return &Builder{
		series:  map[string][]ScorePoint{},
		events:  map[string][]Event{},
		actions: map[string][]MaintenanceAction{},
		info:    map[string]DeviceInfo{},
	}
}

func (b *Builder) AddScore(p ScorePoint) {
	b.series[p.DeviceID] = append(b.series[p.DeviceID], p)
}

func (b *Builder) AddEvent(e Event) {
	b.events[e.DeviceID] = append(b.events[e.DeviceID], e)
}

func (b *Builder) AddAction(a MaintenanceAction) {
	b.actions[a.DeviceID] = append(b.actions[a.DeviceID], a)
}

// AddDeviceInfo keeps the last info row seen for a device.
func (b *Builder) AddDeviceInfo(info DeviceInfo) {
	b.info[info.DeviceID] = info
}

// Build sorts every per-device list and freezes the result. Of several score
// points sharing a device and timestamp only the first added is kept, so every
// series is strictly increasing.
func (b *Builder) Build(loadedAt time.Time) *Snapshot {
	snap := &Snapshot{
		series:   make(map[string][]ScorePoint, len(b.series)),
		events:   make(map[string][]Event, len(b.events)),
		actions:  make(map[string][]MaintenanceAction, len(b.actions)),
		info:     make(map[string]DeviceInfo, len(b.info)),
		LoadedAt: loadedAt,
	}
	var summary Summary
	for id, points := range b.series {
		sorted := append([]ScorePoint(nil), points...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		var dropped int
		sorted, dropped = dropDuplicateTimes(sorted)
		summary.DuplicatePoints += dropped
		snap.series[id] = sorted
		snap.devices = append(snap.devices, id)
		summary.Records += len(sorted)
		if len(sorted) == 0 {
			continue
		}
		first, last := sorted[0].Time, sorted[len(sorted)-1].Time
		if summary.Start.IsZero() || first.Before(summary.Start) {
			summary.Start = first
		}
		if last.After(summary.End) {
			summary.End = last
		}
	}
	sort.Strings(snap.devices)
	summary.Devices = len(snap.devices)

	for id, events := range b.events {
		sorted := append([]Event(nil), events...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Time.Before(sorted[j].Time) })
		snap.events[id] = sorted
		summary.Events += len(sorted)
	}
	for id, actions := range b.actions {
		sorted := append([]MaintenanceAction(nil), actions...)
		sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Date.After(sorted[j].Date) })
		snap.actions[id] = sorted
		summary.Actions += len(sorted)
	}
	for id, info := range b.info {
		snap.info[id] = info
	}
	snap.summary = summary
	return snap
}

func dropDuplicateTimes(sorted []ScorePoint) ([]ScorePoint, int) {
	if len(sorted) < 2 {
		return sorted, 0
	}
	out := sorted[:1]
	for _, p := range sorted[1:] {
		if p.Time.Equal(out[len(out)-1].Time) {
			continue
		}
		out = append(out, p)
	}
	return out, len(sorted) - len(out)
}
