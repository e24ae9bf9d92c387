package api

import (
	"net/url"
	"strconv"
	"strings"
	"time"

	"incidentwatch/internal/config"
	"incidentwatch/internal/fleet"
	"incidentwatch/internal/incidents"
)

// Parameter errors are reported with the same shape as service validation
// errors so clients handle one format.
func badParams(message string, details []incidents.ErrorDetail) error {
	if len(details) == 0 {
		return nil
	}
	return &incidents.ValidationError{Code: "INVALID_QUERY", Message: message, Details: details}
}

func parseIncidentQuery(values url.Values, defaults incidents.Query) (incidents.Query, error) {
	q := defaults
	var details []incidents.ErrorDetail
	if raw := strings.TrimSpace(values.Get("threshold")); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			details = append(details, incidents.ErrorDetail{Field: "threshold", Problem: "not a number", Hint: "Example: 1.0"})
		} else {
			q.Threshold = v
		}
	}
	if raw := values.Get("min_duration"); raw != "" {
		d, err := config.ParseDuration(raw)
		if err != nil {
			details = append(details, incidents.ErrorDetail{Field: "min_duration", Problem: "not a duration", Hint: "Use 4m, PT4M or minutes"})
		} else {
			q.MinDuration = d
		}
	}
	return q, badParams("invalid incident query", details)
}

func parseWindowQuery(deviceID string, values url.Values) (incidents.WindowQuery, error) {
	q := incidents.WindowQuery{DeviceID: deviceID}
	var details []incidents.ErrorDetail
	q.Start, details = parseTime(values, "start", details)
	q.End, details = parseTime(values, "end", details)
	return q, badParams("invalid diagnosis window", details)
}

func parseSeriesQuery(devices []string, values url.Values) (incidents.SeriesQuery, error) {
	q := incidents.SeriesQuery{}
	for _, d := range devices {
		for _, id := range strings.Split(d, ",") {
			if id = strings.TrimSpace(id); id != "" {
				q.DeviceIDs = append(q.DeviceIDs, id)
			}
		}
	}
	var details []incidents.ErrorDetail
	q.Start, details = parseTime(values, "start", details)
	q.End, details = parseTime(values, "end", details)
	return q, badParams("invalid series query", details)
}

func parseTime(values url.Values, field string, details []incidents.ErrorDetail) (time.Time, []incidents.ErrorDetail) {
	raw := strings.TrimSpace(values.Get(field))
	if raw == "" {
		return time.Time{}, details
	}
	ts, err := fleet.ParseTimestamp(raw)
	if err != nil {
		return time.Time{}, append(details, incidents.ErrorDetail{Field: field, Problem: "not a timestamp", Hint: "Use 2006-01-02 15:04:05 or RFC 3339"})
	}
	return ts, details
}
