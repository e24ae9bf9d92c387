package fleet

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrInvalidSensorMap = errors.New("invalid sensor score map")

// DecodeSensorScores decodes a serialized sensor→score map. Both JSON objects
// and Python dict literals ({'temperature-sensor': 0.05}) are flow mappings,
// so one YAML decode covers them while keeping the key order.
func DecodeSensorScores(raw string) ([]SensorScore, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty value", ErrInvalidSensorMap)
	}
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(trimmed), &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSensorMap, err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) != 1 {
		return nil, fmt.Errorf("%w: expected a single mapping", ErrInvalidSensorMap)
	}
	mapping := doc.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("%w: expected a mapping", ErrInvalidSensorMap)
	}
	scores := make([]SensorScore, 0, len(mapping.Content)/2)
	seen := map[string]struct{}{}
	for i := 0; i+1 < len(mapping.Content); i += 2 {
		key, value := mapping.Content[i], mapping.Content[i+1]
		if key.Kind != yaml.ScalarNode || value.Kind != yaml.ScalarNode {
			return nil, fmt.Errorf("%w: nested value at entry %d", ErrInvalidSensorMap, i/2)
		}
		name := strings.TrimSpace(key.Value)
		if name == "" {
			return nil, fmt.Errorf("%w: empty sensor name", ErrInvalidSensorMap)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: duplicate sensor %q", ErrInvalidSensorMap, name)
		}
		seen[name] = struct{}{}
		score, err := parseScoreScalar(value)
		if err != nil {
			return nil, fmt.Errorf("%w: sensor %q: %v", ErrInvalidSensorMap, name, err)
		}
		scores = append(scores, SensorScore{Sensor: name, Score: score})
	}
	return scores, nil
}

// SensorScoresFromMap converts an already decoded map (for example a jsonb
// column). Maps carry no order, so sensors are sorted by name.
func SensorScoresFromMap(values map[string]any) ([]SensorScore, error) {
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)
	scores := make([]SensorScore, 0, len(names))
	for _, name := range names {
		score, ok := numeric(values[name])
		if !ok || !validScore(score) {
			return nil, fmt.Errorf("%w: sensor %q", ErrInvalidSensorMap, name)
		}
		scores = append(scores, SensorScore{Sensor: name, Score: score})
	}
	return scores, nil
}

// MaxSensorScore returns the highest sensor score, or 0 for an empty slice.
func MaxSensorScore(scores []SensorScore) float64 {
	maxScore := 0.0
	for _, s := range scores {
		if s.Score > maxScore {
			maxScore = s.Score
		}
	}
	return maxScore
}

func parseScoreScalar(node *yaml.Node) (float64, error) {
	switch node.ShortTag() {
	case "!!float", "!!int":
	default:
		return 0, fmt.Errorf("value %q is not a number", node.Value)
	}
	score, err := strconv.ParseFloat(node.Value, 64)
	if err != nil {
		return 0, err
	}
	if !validScore(score) {
		return 0, fmt.Errorf("value %v out of range", score)
	}
	return score, nil
}

func validScore(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v >= 0
}

func numeric(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case int32:
		return float64(t), true
	default:
		return 0, false
	}
}
