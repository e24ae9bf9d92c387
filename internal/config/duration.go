package config

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/sosodev/duration"
	"gopkg.in/yaml.v3"
)

// ParseDuration accepts Go durations ("4m"), ISO-8601 durations ("PT4M") and
// bare numbers, which are read as minutes.
func ParseDuration(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, fmt.Errorf("empty duration")
	}
	if d, err := time.ParseDuration(value); err == nil {
		return d, nil
	}
	if strings.HasPrefix(value, "P") || strings.HasPrefix(value, "p") {
		iso, err := duration.Parse(strings.ToUpper(value))
		if err != nil {
			return 0, fmt.Errorf("invalid ISO-8601 duration %q: %w", value, err)
		}
		return iso.ToTimeDuration(), nil
	}
	minutes, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(minutes) || math.IsInf(minutes, 0) {
		return 0, fmt.Errorf("invalid duration %q", value)
	}
	return time.Duration(minutes * float64(time.Minute)), nil
}

// Duration is a time.Duration that decodes from any form ParseDuration
// accepts.
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) String() string {
	return time.Duration(d).String()
}

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	parsed, err := ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}
