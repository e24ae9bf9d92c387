package fleet

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/relvacode/iso8601"
)

const (
	naiveLayout = "2006-01-02 15:04:05"
	dateLayout  = "2006-01-02"
)

// ParseTimestamp accepts the "2006-01-02 15:04:05" form written by the score
// exporter and any ISO-8601 date-time. Values without a zone are UTC.
func ParseTimestamp(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	if ts, err := time.Parse(naiveLayout, s); err == nil {
		return ts, nil
	}
	ts, err := iso8601.ParseString(s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", value, err)
	}
	return ts.UTC(), nil
}

func ParseDate(value string) (time.Time, error) {
	s := strings.TrimSpace(value)
	if ts, err := time.Parse(dateLayout, s); err == nil {
		return ts, nil
	}
	return ParseTimestamp(s)
}
