// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package airctrl provides a client for air purifiers that speak the encrypted
// CoAP control protocol (sync, control and observed status resources).
package airctrl

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// DefaultPort is the CoAP port the purifiers listen on
const DefaultPort = 5683

// Resource paths
const (
	PathSync    = "/sys/dev/sync"
	PathControl = "/sys/dev/control"
	PathStatus  = "/sys/dev/status"
)

// Reported field codes
const (
	FieldParticulate = "D03224"
	FieldModeCode    = "D0310C"
	FieldPowerCode   = "D03102"
	FieldFirmware    = "D01S12"
	FieldDeviceID    = "DeviceId"
	FieldAltDeviceID = "D01S0D"
	FieldModelID     = "D01S05"
	FieldModelIDAlt  = "modelid"
	FieldProductID   = "ProductId"
	FieldName        = "name"
	FieldType        = "type"
	FieldWifiVersion = "WifiVersion"
	FieldManualSpeed = "D03-13"
)

// Desired-state parameter keys
const (
	ParamPower       = "D03-02"
	ParamMode        = "D03-12"
	ParamManualSpeed = "D03-13"
	ParamTrigger     = "D03-03"
)

// Manual speed bounds
const (
	MinManualSpeed = 1
	MaxManualSpeed = 100
)

// ConnectionState represents the client connection state
type ConnectionState int32

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateObserving
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateObserving:
		return "connected-observing"
	default:
		return "unknown"
	}
}

// Mode is the purifier operating mode
type Mode uint8

const (
	ModeAuto Mode = iota
	ModeAutoPlus
	ModeSleep
	ModeMedium
	ModeTurbo
	ModeManual
)

func (m Mode) String() string {
	switch m {
	case ModeAuto:
		return "auto"
	case ModeAutoPlus:
		return "auto+"
	case ModeSleep:
		return "sleep"
	case ModeMedium:
		return "medium"
	case ModeTurbo:
		return "turbo"
	case ModeManual:
		return "manual"
	default:
		return fmt.Sprintf("mode(%d)", m)
	}
}

// Mnemonic returns the token the device expects in the mode parameter.
// Unknown modes are sent as automatic mode.
func (m Mode) Mnemonic() string {
	switch m {
	case ModeAutoPlus:
		return "Auto+"
	case ModeSleep:
		return "Sleep"
	case ModeMedium:
		return "Medium"
	case ModeTurbo:
		return "Turbo"
	case ModeManual:
		return "Manual"
	default:
		return "Auto General"
	}
}

// IsAuto reports whether the mode lets the device pick its own fan speed
func (m Mode) IsAuto() bool {
	return m == ModeAuto || m == ModeAutoPlus
}

// RotationSpeed maps the mode onto a 0-100 fan percentage. Manual mode reports
// the manual speed, or 0 when none is known.
func (m Mode) RotationSpeed(manual *int) int {
	switch m {
	case ModeSleep:
		return 20
	case ModeAuto:
		return 40
	case ModeAutoPlus:
		return 60
	case ModeMedium:
		return 80
	case ModeTurbo:
		return 100
	case ModeManual:
		if manual != nil {
			return *manual
		}
		return 0
	default:
		return 0
	}
}

// ModeForSpeed picks the mode whose rotation band contains pct.
// The boolean is false for 0, which means "turn off" rather than a mode.
func ModeForSpeed(pct int) (Mode, bool) {
	switch {
	case pct <= 0:
		return ModeAuto, false
	case pct <= 20:
		return ModeSleep, true
	case pct <= 40:
		return ModeAuto, true
	case pct <= 60:
		return ModeAutoPlus, true
	case pct <= 80:
		return ModeMedium, true
	default:
		return ModeTurbo, true
	}
}

// ParseMode parses a user supplied mode name
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "auto", "auto general", "a":
		return ModeAuto, nil
	case "auto+", "autoplus", "auto-plus", "ai", "p":
		return ModeAutoPlus, nil
	case "sleep", "s":
		return ModeSleep, nil
	case "medium":
		return ModeMedium, nil
	case "turbo", "t":
		return ModeTurbo, nil
	case "manual", "m":
		return ModeManual, nil
	default:
		return ModeAuto, &CapabilityError{Field: ParamMode, Value: s}
	}
}

// PowerStatus is the purifier power state
type PowerStatus uint8

const (
	PowerOff PowerStatus = iota
	PowerOn
)

func (p PowerStatus) String() string {
	if p == PowerOn {
		return "on"
	}
	return "off"
}

// Token returns the value the device expects in the power parameter
func (p PowerStatus) Token() string {
	if p == PowerOn {
		return "ON"
	}
	return "OFF"
}

// State is the normalized device status
type State struct {
	ParticulateLevel float64     `json:"pm2_5" yaml:"pm2_5"`
	Mode             Mode        `json:"-" yaml:"-"`
	Power            PowerStatus `json:"-" yaml:"-"`
	ManualSpeed      *int        `json:"speed,omitempty" yaml:"speed,omitempty"`
}

// MarshalJSON renders modes and power by name
func (s State) MarshalJSON() ([]byte, error) {
	type alias State
	return json.Marshal(struct {
		alias
		Mode  string `json:"mode"`
		Power string `json:"power"`
	}{alias(s), s.Mode.String(), s.Power.String()})
}

// MarshalYAML renders modes and power by name
func (s State) MarshalYAML() (interface{}, error) {
	out := map[string]interface{}{
		"pm2_5": s.ParticulateLevel,
		"mode":  s.Mode.String(),
		"power": s.Power.String(),
	}
	if s.ManualSpeed != nil {
		out["speed"] = *s.ManualSpeed
	}
	return out, nil
}

func (s State) String() string {
	speed := "-"
	if s.ManualSpeed != nil {
		speed = strconv.Itoa(*s.ManualSpeed)
	}
	return fmt.Sprintf("power=%s mode=%s pm2.5=%g speed=%s", s.Power, s.Mode, s.ParticulateLevel, speed)
}

// Equal reports whether two states carry the same values
func (s State) Equal(o State) bool {
	if s.ParticulateLevel != o.ParticulateLevel || s.Mode != o.Mode || s.Power != o.Power {
		return false
	}
	if (s.ManualSpeed == nil) != (o.ManualSpeed == nil) {
		return false
	}
	return s.ManualSpeed == nil || *s.ManualSpeed == *o.ManualSpeed
}

// Params is a desired-state parameter set merged into the command envelope
type Params map[string]interface{}

// Outcome is the device acknowledgement of a control command
type Outcome uint8

const (
	OutcomeFailure Outcome = iota
	OutcomeSuccess
)

func (o Outcome) String() string {
	if o == OutcomeSuccess {
		return "success"
	}
	return "failed"
}

// CommandResult is the parsed acknowledgement of a control command
type CommandResult struct {
	Outcome Outcome
	// NoOp is set when the command was skipped because the device already
	// reports the requested value.
	NoOp bool
}

// Succeeded reports whether the device accepted the command
func (r CommandResult) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}
