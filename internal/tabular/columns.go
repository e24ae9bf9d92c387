package tabular

import (
	"strings"
)

type Kind string

const (
	Scores  Kind = "scores"
	Events  Kind = "events"
	Actions Kind = "actions"
	Devices Kind = "devices"
)

// Kinds lists every table kind in load order.
var Kinds = []Kind{Scores, Events, Actions, Devices}

const (
	fieldTime       = "time"
	fieldDevice     = "device"
	fieldSensors    = "sensors"
	fieldAggregate  = "aggregate"
	fieldIdentifier = "identifier"
	fieldDate       = "date"
	fieldSymptom    = "symptom"
	fieldCause      = "cause"
	fieldTreatment  = "treatment"
	fieldInstalled  = "installation_date"
	fieldHWVersion  = "hw_version"
	fieldFWVersion  = "fw_version"
)

var deviceAliases = []string{"product_id", "device_id", "productid", "deviceid"}

// columnAliases lists accepted header names per logical field. The first
// alias is the canonical column name used by migrations.
var columnAliases = map[Kind]map[string][]string{
	Scores: {
		fieldTime:      {"time", "timestamp"},
		fieldDevice:    deviceAliases,
		fieldSensors:   {"sensor_anomaly_score", "sensor_scores"},
		fieldAggregate: {"product_anomaly_score", "aggregate_score"},
	},
	Events: {
		fieldTime:       {"time", "timestamp"},
		fieldDevice:     deviceAliases,
		fieldIdentifier: {"identifier", "alert"},
	},
	Actions: {
		fieldDate:      {"action_date", "조치 일자", "조치일자"},
		fieldDevice:    deviceAliases,
		fieldSymptom:   {"symptom", "현상"},
		fieldCause:     {"cause", "원인"},
		fieldTreatment: {"treatment", "처방"},
	},
	Devices: {
		fieldDevice:    deviceAliases,
		fieldInstalled: {"installation_date", "installed_at"},
		fieldHWVersion: {"hw_version"},
		fieldFWVersion: {"fw_version"},
	},
}

var requiredFields = map[Kind][]string{
	Scores:  {fieldTime, fieldDevice, fieldAggregate},
	Events:  {fieldTime, fieldDevice, fieldIdentifier},
	Actions: {fieldDate, fieldDevice},
	Devices: {fieldDevice},
}

// CanonicalColumns returns the column names a SQL table of the given kind is
// expected to carry.
func CanonicalColumns(kind Kind) []string {
	fields := columnAliases[kind]
	out := make([]string, 0, len(fields))
	for _, field := range fieldOrder(kind) {
		out = append(out, fields[field][0])
	}
	return out
}

// OrderColumn is the canonical column rows of a kind are sorted by.
func OrderColumn(kind Kind) string {
	switch kind {
	case Scores, Events:
		return columnAliases[kind][fieldTime][0]
	case Actions:
		return columnAliases[kind][fieldDate][0]
	default:
		return columnAliases[kind][fieldDevice][0]
	}
}

func fieldOrder(kind Kind) []string {
	switch kind {
	case Scores:
		return []string{fieldTime, fieldDevice, fieldSensors, fieldAggregate}
	case Events:
		return []string{fieldTime, fieldDevice, fieldIdentifier}
	case Actions:
		return []string{fieldDate, fieldDevice, fieldSymptom, fieldCause, fieldTreatment}
	default:
		return []string{fieldDevice, fieldInstalled, fieldHWVersion, fieldFWVersion}
	}
}

func normalizeHeader(name string) string {
	name = strings.TrimPrefix(name, "\ufeff")
	return strings.ToLower(strings.TrimSpace(name))
}

// resolveColumns maps logical fields to the actual keys present in a row.
func resolveColumns(kind Kind, keys []string) map[string]string {
	byNormalized := make(map[string]string, len(keys))
	for _, key := range keys {
		byNormalized[normalizeHeader(key)] = key
	}
	resolved := map[string]string{}
	for field, aliases := range columnAliases[kind] {
		for _, alias := range aliases {
			if key, ok := byNormalized[normalizeHeader(alias)]; ok {
				resolved[field] = key
				break
			}
		}
	}
	return resolved
}
