package obd

import (
	"fmt"
	"strings"
)

// PID describes one mode-01 live-data parameter: the command used to query
// it, how many data bytes the reply carries and how to turn those bytes
// into a display value. Definitions are immutable and created once at
// startup; Decode and Format are pure.
type PID struct {
	Code   string // two uppercase hex digits, e.g. "0C"
	Name   string
	Unit   string
	Min    float64 // display range only, never enforced by Decode
	Max    float64
	Bytes  int
	Decode func(b []byte) float64
	Format func(v float64) string
}

// Command returns the full mode-01 read command for this parameter.
func (p PID) Command() string {
	return "01" + p.Code
}

func (p PID) String() string {
	return fmt.Sprintf("pid[%s %s]", p.Code, p.Name)
}

// Sample is one decoded reading. Valid is false for no-data, malformed or
// short responses, which are normal outcomes rather than failures.
type Sample struct {
	Value float64
	Valid bool
}

func (s Sample) String() string {
	if !s.Valid {
		return "sample:none"
	}
	return fmt.Sprintf("sample:%g", s.Value)
}

var (
	EngineRPM = PID{
		Code:  "0C",
		Name:  "Engine RPM",
		Unit:  "rpm",
		Min:   0,
		Max:   8000,
		Bytes: 2,
		Decode: func(b []byte) float64 {
			return (float64(b[0])*256 + float64(b[1])) / 4
		},
		Format: func(v float64) string { return fmt.Sprintf("%.0f rpm", v) },
	}

	VehicleSpeed = PID{
		Code:  "0D",
		Name:  "Vehicle Speed",
		Unit:  "km/h",
		Min:   0,
		Max:   220,
		Bytes: 1,
		Decode: func(b []byte) float64 { return float64(b[0]) },
		Format: func(v float64) string { return fmt.Sprintf("%.0f km/h", v) },
	}

	CoolantTemp = PID{
		Code:  "05",
		Name:  "Coolant Temperature",
		Unit:  "°C",
		Min:   -40,
		Max:   140,
		Bytes: 1,
		Decode: func(b []byte) float64 { return float64(b[0]) - 40 },
		Format: func(v float64) string { return fmt.Sprintf("%.0f °C", v) },
	}

	FuelLevel = PID{
		Code:  "2F",
		Name:  "Fuel Level",
		Unit:  "%",
		Min:   0,
		Max:   100,
		Bytes: 1,
		Decode: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
		Format: func(v float64) string { return fmt.Sprintf("%.0f %%", v) },
	}

	ThrottlePosition = PID{
		Code:  "11",
		Name:  "Throttle Position",
		Unit:  "%",
		Min:   0,
		Max:   100,
		Bytes: 1,
		Decode: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
		Format: func(v float64) string { return fmt.Sprintf("%.1f %%", v) },
	}

	EngineLoad = PID{
		Code:  "04",
		Name:  "Engine Load",
		Unit:  "%",
		Min:   0,
		Max:   100,
		Bytes: 1,
		Decode: func(b []byte) float64 { return float64(b[0]) * 100 / 255 },
		Format: func(v float64) string { return fmt.Sprintf("%.1f %%", v) },
	}
)

// All lists every supported parameter in poll order.
var All = []PID{
	EngineRPM,
	VehicleSpeed,
	CoolantTemp,
	FuelLevel,
	ThrottlePosition,
	EngineLoad,
}

// Lookup resolves a parameter by its hex code (case-insensitive).
func Lookup(code string) (PID, bool) {
	code = strings.ToUpper(code)

	for _, p := range All {
		if p.Code == code {
			return p, true
		}
	}

	return PID{}, false
}

// Percent maps a value onto the parameter's display range, clamped to
// [0, 100]. Out-of-range input is legal (see Decode) and just saturates.
func Percent(p PID, v float64) float64 {
	if p.Max == p.Min {
		return 0
	}

	pct := (v - p.Min) / (p.Max - p.Min) * 100

	if pct < 0 {
		return 0
	}

	if pct > 100 {
		return 100
	}

	return pct
}
