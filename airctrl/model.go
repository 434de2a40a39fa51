package airctrl

import (
	"regexp"
	"strings"
)

// Model identifies a purifier model
type Model string

// Known models
const (
	ModelAC0850_11 Model = "AC0850/11"
	ModelAC0850_20 Model = "AC0850/20"
	ModelAC1214    Model = "AC1214"
	ModelAC1715    Model = "AC1715"
	ModelAC2729    Model = "AC2729"
	ModelAC2889    Model = "AC2889"
	ModelAC3033    Model = "AC3033"
	ModelAC3059    Model = "AC3059"
	ModelAC3829    Model = "AC3829"
	ModelAC4220    Model = "AC4220"
	ModelUnknown   Model = "Unknown"
)

func (m Model) String() string {
	return string(m)
}

// knownModels is in lookup order for extracted model numbers
var knownModels = []Model{
	ModelAC0850_11, ModelAC0850_20, ModelAC1214, ModelAC1715, ModelAC2729,
	ModelAC2889, ModelAC3033, ModelAC3059, ModelAC3829, ModelAC4220,
}

// Substrings that identify a model, checked in order
var modelPatterns = []struct {
	pattern string
	model   Model
}{
	{"AC0850/11", ModelAC0850_11},
	{"AC0850/10", ModelAC0850_11}, // close enough to /11
	{"AC0850/20", ModelAC0850_20},
	{"AC1214", ModelAC1214},
	{"AC1715", ModelAC1715},
	{"AC2729", ModelAC2729},
	{"AC2889", ModelAC2889},
	{"AC3033", ModelAC3033},
	{"AC3059", ModelAC3059},
	{"AC3829", ModelAC3829},
	{"AC4220", ModelAC4220},
}

var modelNumberRe = regexp.MustCompile(`(?i)AC[0-9]{4}`)

// DetectModel guesses the model from the identifiers in a report
func DetectModel(r RawReport) Model {
	ids := r.ModelIdentifiers()

	for _, id := range ids {
		for _, p := range modelPatterns {
			if strings.Contains(id, p.pattern) {
				return p.model
			}
		}
	}

	if wifi, ok := r.String(FieldWifiVersion); ok && strings.Contains(wifi, "AWS_Philips_AIR") {
		for _, id := range ids {
			if strings.Contains(id, "AC0850") {
				return ModelAC0850_11
			}
		}
	}

	for _, id := range ids {
		num := modelNumberRe.FindString(id)
		if num == "" {
			continue
		}
		num = strings.ToUpper(num)
		for _, m := range knownModels {
			if strings.Contains(string(m), num) {
				return m
			}
		}
	}

	return ModelUnknown
}

// Supports lists optional features of a model
type Supports struct {
	Humidity     bool `json:"humidity" yaml:"humidity"`
	Temperature  bool `json:"temperature" yaml:"temperature"`
	FilterStatus bool `json:"filter_status" yaml:"filter_status"`
	DebugLogging bool `json:"debug_logging" yaml:"debug_logging"`
}

// AirQualityThresholds are the upper PM2.5 bounds, in µg/m³, of each band
type AirQualityThresholds struct {
	Good float64 `json:"good" yaml:"good"`
	Fair float64 `json:"fair" yaml:"fair"`
	Poor float64 `json:"poor" yaml:"poor"`
}

// ModelConfig describes what a model supports
type ModelConfig struct {
	Modes       []string             `json:"modes" yaml:"modes"`
	Speeds      []int                `json:"speeds" yaml:"speeds"`
	Supports    Supports             `json:"supports" yaml:"supports"`
	PM25Divisor float64              `json:"pm25_divisor" yaml:"pm25_divisor"`
	Thresholds  AirQualityThresholds `json:"air_quality_thresholds" yaml:"air_quality_thresholds"`
}

var defaultThresholds = AirQualityThresholds{Good: 12, Fair: 35, Poor: 55}

func standardConfig(debug bool) ModelConfig {
	return ModelConfig{
		Modes:       []string{"auto", "sleep", "turbo"},
		Speeds:      []int{1, 2, 3},
		Supports:    Supports{FilterStatus: true, DebugLogging: debug},
		PM25Divisor: 100,
		Thresholds:  defaultThresholds,
	}
}

var modelConfigs = map[Model]ModelConfig{
	ModelAC0850_11: standardConfig(true),
	ModelAC0850_20: standardConfig(false),
	ModelAC1214: {
		Modes:       []string{"auto", "allergen", "night", "turbo"},
		Speeds:      []int{1, 2, 3},
		Supports:    Supports{FilterStatus: true},
		PM25Divisor: 100,
		Thresholds:  defaultThresholds,
	},
	ModelAC1715: standardConfig(false),
	ModelAC2729: standardConfig(false),
	ModelAC2889: standardConfig(false),
	ModelAC3033: standardConfig(false),
	ModelAC3059: standardConfig(false),
	ModelAC3829: standardConfig(false),
	ModelAC4220: standardConfig(true),
	ModelUnknown: {
		Modes:       []string{"auto"},
		Speeds:      []int{1},
		Supports:    Supports{DebugLogging: true},
		PM25Divisor: 100,
		Thresholds:  defaultThresholds,
	},
}

// Capabilities returns the configuration of m, falling back to the unknown
// model entry.
func Capabilities(m Model) ModelConfig {
	cfg, ok := modelConfigs[m]
	if !ok {
		cfg = modelConfigs[ModelUnknown]
	}
	cfg.Modes = append([]string(nil), cfg.Modes...)
	cfg.Speeds = append([]int(nil), cfg.Speeds...)
	return cfg
}

// PM25 converts a raw particulate reading to µg/m³
func (c ModelConfig) PM25(raw float64) float64 {
	d := c.PM25Divisor
	if d == 0 {
		d = 100
	}
	return raw / d
}

// AirQuality is a PM2.5 band
type AirQuality uint8

const (
	AirQualityUnknown AirQuality = iota
	AirQualityGood
	AirQualityFair
	AirQualityPoor
	AirQualityInferior
)

func (q AirQuality) String() string {
	switch q {
	case AirQualityGood:
		return "good"
	case AirQualityFair:
		return "fair"
	case AirQualityPoor:
		return "poor"
	case AirQualityInferior:
		return "inferior"
	default:
		return "unknown"
	}
}

// Classify bands a converted PM2.5 value
func (c ModelConfig) Classify(pm25 float64) AirQuality {
	switch {
	case pm25 <= c.Thresholds.Good:
		return AirQualityGood
	case pm25 <= c.Thresholds.Fair:
		return AirQualityFair
	case pm25 <= c.Thresholds.Poor:
		return AirQualityPoor
	default:
		return AirQualityInferior
	}
}

// AirQuality classifies a state. A purifier that is off reports no quality.
func (c ModelConfig) AirQuality(s State) AirQuality {
	if s.Power != PowerOn {
		return AirQualityUnknown
	}
	return c.Classify(c.PM25(s.ParticulateLevel))
}
