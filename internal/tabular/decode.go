package tabular

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"incidentwatch/internal/fleet"
)

const maxReportedErrors = 10

var errMissingSensorColumn = errors.New("sensor score column missing")

// Report describes how one table was decoded.
type Report struct {
	Kind                Kind     `json:"kind"`
	Rows                int      `json:"rows"`
	Loaded              int      `json:"loaded"`
	Skipped             int      `json:"skipped"`
	SensorErrors        int      `json:"sensorErrors,omitempty"`
	// AggregateMismatches counts rows whose aggregate differs from their
	// highest sensor score. Such rows are still loaded.
	AggregateMismatches int      `json:"aggregateMismatches,omitempty"`
	Missing             bool     `json:"missing,omitempty"`
	// Truncated is set when the table held more rows than the configured cap.
	Truncated           bool     `json:"truncated,omitempty"`
	Errors              []string `json:"errors,omitempty"`
}

func (r *Report) skip(row int, err error) {
	r.Skipped++
	if len(r.Errors) < maxReportedErrors {
		r.Errors = append(r.Errors, fmt.Sprintf("row %d: %v", row, err))
	}
}

// Decode adds every valid row of a table to the builder. Invalid rows are
// skipped and reported; decoding never stops early.
func Decode(kind Kind, rows []map[string]any, b *fleet.Builder) Report {
	report := Report{Kind: kind, Rows: len(rows)}
	if len(rows) == 0 {
		return report
	}
	columns := resolveColumns(kind, keysOf(rows[0]))
	for _, field := range requiredFields[kind] {
		if _, ok := columns[field]; !ok {
			report.Skipped = len(rows)
			report.Errors = append(report.Errors, fmt.Sprintf("missing column for %s", field))
			return report
		}
	}
	for i, row := range rows {
		var err error
		switch kind {
		case Scores:
			var point fleet.ScorePoint
			point, err = decodeScore(row, columns)
			if err == nil {
				if point.SensorsErr != nil {
					report.SensorErrors++
				} else if !aggregateMatchesSensors(point) {
					report.AggregateMismatches++
				}
				b.AddScore(point)
			}
		case Events:
			var event fleet.Event
			event, err = decodeEvent(row, columns)
			if err == nil {
				b.AddEvent(event)
			}
		case Actions:
			var action fleet.MaintenanceAction
			action, err = decodeAction(row, columns)
			if err == nil {
				b.AddAction(action)
			}
		case Devices:
			var info fleet.DeviceInfo
			info, err = decodeDevice(row, columns)
			if err == nil {
				b.AddDeviceInfo(info)
			}
		default:
			err = fmt.Errorf("unknown table kind %q", kind)
		}
		if err != nil {
			report.skip(i+1, err)
			continue
		}
		report.Loaded++
	}
	return report
}

// aggregateTolerance absorbs the two-decimal rounding of stored aggregates.
const aggregateTolerance = 0.01

func aggregateMatchesSensors(p fleet.ScorePoint) bool {
	if len(p.Sensors) == 0 {
		return true
	}
	return math.Abs(fleet.MaxSensorScore(p.Sensors)-p.Aggregate) <= aggregateTolerance
}

func decodeScore(row map[string]any, columns map[string]string) (fleet.ScorePoint, error) {
	ts, err := timeField(row, columns, fieldTime)
	if err != nil {
		return fleet.ScorePoint{}, err
	}
	device, err := deviceField(row, columns)
	if err != nil {
		return fleet.ScorePoint{}, err
	}
	aggregate, ok := toFloat(row[columns[fieldAggregate]])
	if !ok || math.IsNaN(aggregate) || math.IsInf(aggregate, 0) || aggregate < 0 {
		return fleet.ScorePoint{}, fmt.Errorf("invalid aggregate score %v", row[columns[fieldAggregate]])
	}
	point := fleet.ScorePoint{Time: ts, DeviceID: device, Aggregate: aggregate}
	key, ok := columns[fieldSensors]
	if !ok {
		point.SensorsErr = errMissingSensorColumn
		return point, nil
	}
	point.Sensors, point.SensorsErr = sensorScores(row[key])
	return point, nil
}

func decodeEvent(row map[string]any, columns map[string]string) (fleet.Event, error) {
	ts, err := timeField(row, columns, fieldTime)
	if err != nil {
		return fleet.Event{}, err
	}
	device, err := deviceField(row, columns)
	if err != nil {
		return fleet.Event{}, err
	}
	identifier := stringField(row, columns, fieldIdentifier)
	if identifier == "" {
		return fleet.Event{}, errors.New("empty identifier")
	}
	return fleet.Event{Time: ts, DeviceID: device, Identifier: identifier}, nil
}

func decodeAction(row map[string]any, columns map[string]string) (fleet.MaintenanceAction, error) {
	date, err := dateField(row, columns, fieldDate)
	if err != nil {
		return fleet.MaintenanceAction{}, err
	}
	device, err := deviceField(row, columns)
	if err != nil {
		return fleet.MaintenanceAction{}, err
	}
	return fleet.MaintenanceAction{
		Date:      date,
		DeviceID:  device,
		Symptom:   stringField(row, columns, fieldSymptom),
		Cause:     stringField(row, columns, fieldCause),
		Treatment: stringField(row, columns, fieldTreatment),
	}, nil
}

func decodeDevice(row map[string]any, columns map[string]string) (fleet.DeviceInfo, error) {
	device, err := deviceField(row, columns)
	if err != nil {
		return fleet.DeviceInfo{}, err
	}
	info := fleet.DeviceInfo{
		DeviceID:  device,
		HWVersion: stringField(row, columns, fieldHWVersion),
		FWVersion: stringField(row, columns, fieldFWVersion),
	}
	if _, ok := columns[fieldInstalled]; ok && stringField(row, columns, fieldInstalled) != "" {
		installed, err := dateField(row, columns, fieldInstalled)
		if err != nil {
			return fleet.DeviceInfo{}, err
		}
		info.InstallationDate = installed
	}
	return info, nil
}

func deviceField(row map[string]any, columns map[string]string) (string, error) {
	device := stringField(row, columns, fieldDevice)
	if device == "" {
		return "", errors.New("empty device id")
	}
	return device, nil
}

func stringField(row map[string]any, columns map[string]string, field string) string {
	key, ok := columns[field]
	if !ok {
		return ""
	}
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case []byte:
		return strings.TrimSpace(string(v))
	case time.Time:
		return v.UTC().Format(time.RFC3339)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func timeField(row map[string]any, columns map[string]string, field string) (time.Time, error) {
	switch v := row[columns[field]].(type) {
	case time.Time:
		return v.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing %s", field)
	default:
		return fleet.ParseTimestamp(stringField(row, columns, field))
	}
}

func dateField(row map[string]any, columns map[string]string, field string) (time.Time, error) {
	switch v := row[columns[field]].(type) {
	case time.Time:
		return v.UTC(), nil
	case nil:
		return time.Time{}, fmt.Errorf("missing %s", field)
	default:
		return fleet.ParseDate(stringField(row, columns, field))
	}
}

func sensorScores(v any) ([]fleet.SensorScore, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("%w: null value", fleet.ErrInvalidSensorMap)
	case string:
		return fleet.DecodeSensorScores(t)
	case []byte:
		return fleet.DecodeSensorScores(string(t))
	case map[string]any:
		return fleet.SensorScoresFromMap(t)
	default:
		return nil, fmt.Errorf("%w: unsupported type %T", fleet.ErrInvalidSensorMap, v)
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case int:
		return float64(t), true
	case int32:
		return float64(t), true
	case int64:
		return float64(t), true
	case float32:
		return float64(t), true
	case float64:
		return t, true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	case []byte:
		f, err := strconv.ParseFloat(strings.TrimSpace(string(t)), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func keysOf(row map[string]any) []string {
	keys := make([]string, 0, len(row))
	for key := range row {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
