package airctrl

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Normalize maps a raw report onto a State. It never fails: missing or
// unrecognised values fall back to zero particulates, automatic mode and
// power off.
func Normalize(raw RawReport) State {
	st := State{
		ParticulateLevel: decodeParticulate(raw[FieldParticulate]),
		Mode:             decodeMode(raw[FieldModeCode]),
		Power:            decodePower(raw[FieldPowerCode]),
	}
	if speed, ok := decodeInt(raw[FieldManualSpeed]); ok {
		st.ManualSpeed = &speed
	}
	return st
}

func decodeParticulate(v interface{}) float64 {
	switch t := v.(type) {
	case json.Number:
		f, err := t.Float64()
		if err == nil {
			return f
		}
	case float64:
		return t
	case int:
		return float64(t)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
			return f
		}
	}
	return 0
}

// decodeMode accepts numeric codes 0-3, their string forms and the mnemonic
// tokens firmware variants report. Tokens match exactly. Numeric
// interpretation wins over tokens.
func decodeMode(v interface{}) Mode {
	if code, ok := decodeInt(v); ok {
		return modeFromCode(code)
	}
	s, ok := v.(string)
	if !ok {
		return ModeAuto
	}
	switch s {
	case "Auto+", "AI", "P":
		return ModeAutoPlus
	case "Auto", "Auto General":
		return ModeAuto
	case "Sleep":
		return ModeSleep
	case "Medium":
		return ModeMedium
	case "Turbo":
		return ModeTurbo
	case "Manual", "M":
		return ModeManual
	default:
		return ModeAuto
	}
}

func modeFromCode(code int) Mode {
	switch code {
	case 1:
		return ModeSleep
	case 2:
		return ModeMedium
	case 3:
		return ModeTurbo
	default:
		return ModeAuto
	}
}

func decodePower(v interface{}) PowerStatus {
	if code, ok := decodeInt(v); ok {
		if code == 1 {
			return PowerOn
		}
		return PowerOff
	}
	if s, ok := v.(string); ok && s == "ON" {
		return PowerOn
	}
	return PowerOff
}

// decodeInt reads integral numbers and canonical decimal strings. Padded or
// non-canonical forms such as " 1 ", "01" and "+1" are rejected.
func decodeInt(v interface{}) (int, bool) {
	switch t := v.(type) {
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return int(n), true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			return int(f), true
		}
	case float64:
		if t == math.Trunc(t) && !math.IsInf(t, 0) {
			return int(t), true
		}
	case int:
		return t, true
	case string:
		if n, err := strconv.Atoi(t); err == nil && strconv.Itoa(n) == t {
			return n, true
		}
	}
	return 0, false
}
