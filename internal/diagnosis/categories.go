package diagnosis

import (
	"sort"
	"strings"

	"github.com/iancoleman/strcase"
)

type Category string

const (
	CategoryTemperature           Category = "temperature"
	CategoryOverheat              Category = "overheat"
	CategoryTemperatureSensorSwap Category = "temperature-sensor-replacement"
)

// Categories maps raw sensor names, event identifiers and maintenance
// treatments to semantic categories. Lookups are exact after normalisation.
type Categories struct {
	Sensors    map[string]Category `yaml:"sensors" json:"sensors"`
	Events     map[string]Category `yaml:"events" json:"events"`
	Treatments map[string]Category `yaml:"treatments" json:"treatments"`
}

func DefaultCategories() Categories {
	return Categories{
		Sensors: map[string]Category{
			"temperature-sensor": CategoryTemperature,
		},
		Events: map[string]Category{
			"과열":    CategoryOverheat,
			"오버 히팅": CategoryOverheat,
		},
		Treatments: map[string]Category{
			"온도센서교체":                         CategoryTemperatureSensorSwap,
			"temperature-sensor-replacement": CategoryTemperatureSensorSwap,
		},
	}
}

// NormalizeKey trims and kebab-cases a key so "Temperature_Sensor" and
// "temperature-sensor" are the same entry.
func NormalizeKey(key string) string {
	return strcase.ToKebab(strings.TrimSpace(key))
}

type categoryIndex struct {
	sensors    map[string]Category
	events     map[string]Category
	treatments map[string]Category
}

func (c Categories) index() categoryIndex {
	return categoryIndex{
		sensors:    normalizeTable(c.Sensors),
		events:     normalizeTable(c.Events),
		treatments: normalizeTable(c.Treatments),
	}
}

// normalizeTable walks keys in sorted order so colliding keys resolve the
// same way on every call.
func normalizeTable(table map[string]Category) map[string]Category {
	keys := make([]string, 0, len(table))
	for key := range table {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make(map[string]Category, len(keys))
	for _, key := range keys {
		out[NormalizeKey(key)] = table[key]
	}
	return out
}

func (idx categoryIndex) sensor(name string) Category {
	return idx.sensors[NormalizeKey(name)]
}

func (idx categoryIndex) event(identifier string) Category {
	return idx.events[NormalizeKey(identifier)]
}

func (idx categoryIndex) treatment(treatment string) Category {
	return idx.treatments[NormalizeKey(treatment)]
}
