package incidents

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"incidentwatch/internal/correlate"
	"incidentwatch/internal/detector"
	"incidentwatch/internal/diagnosis"
	"incidentwatch/internal/fleet"
	"incidentwatch/internal/metrics"
)

type Limits struct {
	MaxQueryDuration   time.Duration
	MaxConcurrentScans int
	MaxWindow          time.Duration
}

func DefaultLimits() Limits {
	return Limits{
		MaxQueryDuration:   30 * time.Second,
		MaxConcurrentScans: 8,
		MaxWindow:          31 * 24 * time.Hour,
	}
}

type Settings struct {
	Detection detector.Options
	Evidence  correlate.Options
	Rules     diagnosis.Rules
	Limits    Limits
}

func DefaultSettings() Settings {
	return Settings{
		Detection: detector.DefaultOptions(),
		Evidence:  correlate.DefaultOptions(),
		Rules:     diagnosis.DefaultRules(),
		Limits:    DefaultLimits(),
	}
}

// Service answers queries against the current snapshot. Replace swaps the
// snapshot atomically; in-flight queries keep the one they started with.
type Service struct {
	snapshot atomic.Pointer[fleet.Snapshot]
	settings Settings
	logger   *slog.Logger
}

func NewService(snapshot *fleet.Snapshot, settings Settings, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Service{settings: settings, logger: logger}
	s.Replace(snapshot)
	return s
}

func (s *Service) Replace(snapshot *fleet.Snapshot) {
	if snapshot == nil {
		snapshot = fleet.NewBuilder().Build(time.Now().UTC())
	}
	s.snapshot.Store(snapshot)
	summary := snapshot.Summary()
	metrics.SnapshotRecords.WithLabelValues("scores").Set(float64(summary.Records))
	metrics.SnapshotRecords.WithLabelValues("events").Set(float64(summary.Events))
	metrics.SnapshotRecords.WithLabelValues("actions").Set(float64(summary.Actions))
	metrics.SnapshotRecords.WithLabelValues("devices").Set(float64(summary.Devices))
}

func (s *Service) Snapshot() *fleet.Snapshot {
	return s.snapshot.Load()
}

func (s *Service) Settings() Settings {
	return s.settings
}

// ListIncidents runs detection and correlation per device. Results are
// ordered by device id, then by start time. A scan of every device leaves out
// devices whose series the detector rejects; a single-device query returns
// that error.
func (s *Service) ListIncidents(ctx context.Context, q Query) ([]correlate.Incident, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	devices := snap.DeviceIDs()
	if q.DeviceID != "" {
		if !snap.HasDevice(q.DeviceID) {
			return []correlate.Incident{}, nil
		}
		devices = []string{q.DeviceID}
	}
	if s.settings.Limits.MaxQueryDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.settings.Limits.MaxQueryDuration)
		defer cancel()
	}

	started := time.Now()
	perDevice := make([][]correlate.Incident, len(devices))
	group, groupCtx := errgroup.WithContext(ctx)
	if s.settings.Limits.MaxConcurrentScans > 0 {
		group.SetLimit(s.settings.Limits.MaxConcurrentScans)
	}
	for idx, deviceID := range devices {
		idx, deviceID := idx, deviceID
		group.Go(func() error {
			if err := groupCtx.Err(); err != nil {
				return err
			}
			found, err := s.scanDevice(snap, deviceID, q)
			if err != nil {
				if q.DeviceID != "" || !detector.IsSeriesError(err) {
					return err
				}
				metrics.SkippedDevicesTotal.Inc()
				s.logger.Warn("skipped device with invalid series", slog.String("device", deviceID), slog.String("error", err.Error()))
				return nil
			}
			perDevice[idx] = found
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}

	out := []correlate.Incident{}
	skipped := 0
	for _, found := range perDevice {
		for _, incident := range found {
			skipped += incident.SkippedPoints
		}
		out = append(out, found...)
	}
	metrics.ScanDurationSeconds.Observe(time.Since(started).Seconds())
	metrics.IncidentsDetectedTotal.Add(float64(len(out)))
	if skipped > 0 {
		metrics.SkippedSensorMapsTotal.Add(float64(skipped))
		s.logger.Warn("skipped undecodable sensor maps", slog.Int("points", skipped))
	}
	return out, nil
}

func (s *Service) scanDevice(snap *fleet.Snapshot, deviceID string, q Query) ([]correlate.Incident, error) {
	series := snap.Series(deviceID)
	spans, err := detector.Detect(series, q.Threshold, q.MinDuration, s.settings.Detection)
	if err != nil {
		return nil, fmt.Errorf("device %s: %w", deviceID, err)
	}
	events := snap.Events(deviceID)
	found := make([]correlate.Incident, 0, len(spans))
	for _, span := range spans {
		found = append(found, correlate.Correlate(deviceID, span, series, events, s.settings.Evidence))
	}
	return found, nil
}

// DiagnoseWindow diagnoses an arbitrary window of one device. It returns a
// nil report when the device has no points in the window.
func (s *Service) DiagnoseWindow(ctx context.Context, q WindowQuery) (*WindowReport, error) {
	if err := q.validate(s.settings.Limits.MaxWindow); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	points := fleet.PointsBetween(snap.Series(q.DeviceID), q.Start, q.End)
	if len(points) == 0 {
		return nil, nil
	}
	events := fleet.EventsBetween(snap.Events(q.DeviceID), q.Start, q.End)
	if events == nil {
		events = []fleet.Event{}
	}
	anomalies, skipped := correlate.Evidence(points, s.settings.Evidence.EvidenceThreshold)
	actions := snap.Actions(q.DeviceID)
	if actions == nil {
		actions = []fleet.MaintenanceAction{}
	}

	result := diagnosis.Diagnose(diagnosis.Input{
		Points:          points,
		Events:          events,
		SensorAnomalies: anomalies,
		Actions:         actions,
	}, s.settings.Rules)
	metrics.DiagnosesTotal.WithLabelValues(string(result.Severity)).Inc()

	report := &WindowReport{
		DeviceID:        q.DeviceID,
		Start:           q.Start,
		End:             q.End,
		Diagnosis:       result,
		Points:          points,
		Events:          events,
		SensorAnomalies: anomalies,
		SkippedPoints:   skipped,
		Actions:         actions,
	}
	if info, ok := snap.Info(q.DeviceID); ok {
		report.Info = &info
	}
	return report, nil
}

// Series passes raw points and events through for charting. Unknown devices
// are left out of the result.
func (s *Service) Series(ctx context.Context, q SeriesQuery) ([]DeviceSeries, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	snap := s.Snapshot()
	devices := q.DeviceIDs
	if len(devices) == 0 {
		devices = snap.DeviceIDs()
	}
	out := make([]DeviceSeries, 0, len(devices))
	for _, deviceID := range devices {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !snap.HasDevice(deviceID) {
			continue
		}
		points := snap.Series(deviceID)
		events := snap.Events(deviceID)
		if !q.Start.IsZero() || !q.End.IsZero() {
			start, end := q.Start, q.End
			if end.IsZero() {
				end = latest(points, events)
			}
			points = fleet.PointsBetween(points, start, end)
			events = fleet.EventsBetween(events, start, end)
		}
		if points == nil {
			points = []fleet.ScorePoint{}
		}
		if events == nil {
			events = []fleet.Event{}
		}
		out = append(out, DeviceSeries{
			DeviceID:   deviceID,
			Points:     points,
			Events:     events,
			Continuity: detector.Continuity(points, s.settings.Detection),
		})
	}
	return out, nil
}

func latest(points []fleet.ScorePoint, events []fleet.Event) time.Time {
	var last time.Time
	if len(points) > 0 {
		last = points[len(points)-1].Time
	}
	if len(events) > 0 && events[len(events)-1].Time.After(last) {
		last = events[len(events)-1].Time
	}
	return last
}

func (s *Service) Devices() []DeviceOverview {
	snap := s.Snapshot()
	ids := snap.DeviceIDs()
	out := make([]DeviceOverview, 0, len(ids))
	for _, id := range ids {
		series := snap.Series(id)
		overview := DeviceOverview{DeviceID: id, Points: len(series), Events: len(snap.Events(id))}
		if len(series) > 0 {
			overview.First = series[0].Time
			overview.Last = series[len(series)-1].Time
		}
		if info, ok := snap.Info(id); ok {
			overview.Info = &info
		}
		out = append(out, overview)
	}
	return out
}

func (s *Service) Summary() SnapshotSummary {
	snap := s.Snapshot()
	return SnapshotSummary{Summary: snap.Summary(), LoadedAt: snap.LoadedAt}
}
