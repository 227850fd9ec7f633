package obd

import (
	"os"
	"strconv"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Severity buckets a decoded value for display purposes. Classification
// never rejects out-of-range input.
type Severity uint8

const (
	SeverityNormal Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityNormal:
		return "Normal"
	case SeverityInfo:
		return "Info"
	case SeverityWarning:
		return "Warning"
	case SeverityCritical:
		return "Critical"
	default:
		panic("unknown severity value: " + strconv.Itoa(int(s)))
	}
}

// Color returns the display color associated with the severity bucket.
func (s Severity) Color() string {
	switch s {
	case SeverityCritical:
		return "#e53935"
	case SeverityWarning:
		return "#fb8c00"
	case SeverityInfo:
		return "#1e88e5"
	default:
		return "#43a047"
	}
}

// Thresholds holds the per-parameter classification boundaries. The zero
// value is not useful; start from DefaultThresholds.
type Thresholds struct {
	CoolantCritical float64 `yaml:"coolant_critical"`
	CoolantWarn     float64 `yaml:"coolant_warn"`
	CoolantCold     float64 `yaml:"coolant_cold"`

	RPMCritical float64 `yaml:"rpm_critical"`
	RPMWarn     float64 `yaml:"rpm_warn"`

	FuelCritical float64 `yaml:"fuel_critical"`
	FuelWarn     float64 `yaml:"fuel_warn"`

	ThrottleHigh float64 `yaml:"throttle_high"`
	LoadHigh     float64 `yaml:"load_high"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		CoolantCritical: 110,
		CoolantWarn:     100,
		CoolantCold:     50,
		RPMCritical:     6500,
		RPMWarn:         5500,
		FuelCritical:    10,
		FuelWarn:        25,
		ThrottleHigh:    95,
		LoadHigh:        90,
	}
}

// LoadThresholds reads threshold overrides from a yaml file, starting
// from the defaults so partial files are fine.
func LoadThresholds(path string) (Thresholds, error) {
	t := DefaultThresholds()

	data, err := os.ReadFile(path)

	if err != nil {
		return t, errors.Wrap(err, "failed to read thresholds file")
	}

	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, errors.Wrap(err, "failed to parse thresholds file")
	}

	return t, nil
}

// Classify buckets a value for the given parameter. Parameters without
// dedicated thresholds land in the informational bucket.
func (t Thresholds) Classify(p PID, v float64) Severity {
	switch p.Code {
	case CoolantTemp.Code:
		switch {
		case v >= t.CoolantCritical:
			return SeverityCritical
		case v >= t.CoolantWarn:
			return SeverityWarning
		case v < t.CoolantCold:
			return SeverityInfo
		default:
			return SeverityNormal
		}
	case EngineRPM.Code:
		switch {
		case v >= t.RPMCritical:
			return SeverityCritical
		case v >= t.RPMWarn:
			return SeverityWarning
		default:
			return SeverityNormal
		}
	case FuelLevel.Code:
		switch {
		case v <= t.FuelCritical:
			return SeverityCritical
		case v <= t.FuelWarn:
			return SeverityWarning
		default:
			return SeverityNormal
		}
	case ThrottlePosition.Code:
		if v >= t.ThrottleHigh {
			return SeverityWarning
		}
		return SeverityNormal
	case EngineLoad.Code:
		if v >= t.LoadHigh {
			return SeverityWarning
		}
		return SeverityNormal
	default:
		return SeverityInfo
	}
}

// Classify applies the default thresholds.
func Classify(p PID, v float64) Severity {
	return DefaultThresholds().Classify(p, v)
}
