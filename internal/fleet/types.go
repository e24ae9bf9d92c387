// Package fleet holds the read-only records a monitoring snapshot is made of:
// per-device anomaly score series, discrete events, maintenance history and
// device metadata.
package fleet

import "time"

type SensorScore struct {
	Sensor string  `json:"sensor"`
	Score  float64 `json:"score"`
}

// ScorePoint is one scored sample of a device. Sensors keeps the order of the
// source map. SensorsErr is set when the per-sensor map could not be decoded;
// the aggregate score is still usable in that case.
type ScorePoint struct {
	Time       time.Time     `json:"time"`
	DeviceID   string        `json:"deviceId"`
	Sensors    []SensorScore `json:"sensors"`
	SensorsErr error         `json:"-"`
	Aggregate  float64       `json:"aggregate"`
}

type Event struct {
	Time       time.Time `json:"time"`
	DeviceID   string    `json:"deviceId"`
	Identifier string    `json:"identifier"`
}

type MaintenanceAction struct {
	Date      time.Time `json:"date"`
	DeviceID  string    `json:"deviceId"`
	Symptom   string    `json:"symptom"`
	Cause     string    `json:"cause"`
	Treatment string    `json:"treatment"`
}

type DeviceInfo struct {
	DeviceID         string    `json:"deviceId"`
	InstallationDate time.Time `json:"installationDate"`
	HWVersion        string    `json:"hwVersion"`
	FWVersion        string    `json:"fwVersion"`
}
