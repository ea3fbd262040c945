package bemfa

import (
	"math"
	"strings"
)

// Target temperature range in °C.
const (
	MinTemp = 16
	MaxTemp = 32
)

// HVAC modes.
const (
	ModeAuto    = "auto"
	ModeCool    = "cool"
	ModeHeat    = "heat"
	ModeFanOnly = "fan_only"
	ModeDry     = "dry"
	ModeOff     = "off"
)

// Fan modes.
const (
	FanModeAuto   = "auto"
	FanModeLow    = "low"
	FanModeMedium = "medium"
	FanModeHigh   = "high"
)

// Swing modes, each a horizontal/vertical pair on the wire.
const (
	SwingOff        = "off"
	SwingHorizontal = "horizontal"
	SwingVertical   = "vertical"
	SwingBoth       = "both"
)

// climateModes lists HVAC modes by wire code, starting at 1.
var climateModes = []string{ModeAuto, ModeCool, ModeHeat, ModeFanOnly, ModeDry}

// climateFanModes lists fan modes by wire code, starting at 0.
var climateFanModes = []string{FanModeAuto, FanModeLow, FanModeMedium, FanModeHigh}

// ClimateModes returns the supported HVAC modes, off first.
func ClimateModes() []string {
	return append([]string{ModeOff}, climateModes...)
}

// ClimateFanModes returns the supported fan modes.
func ClimateFanModes() []string {
	return append([]string(nil), climateFanModes...)
}

// ClimateSwingModes returns the supported swing modes.
func ClimateSwingModes() []string {
	return []string{SwingOff, SwingHorizontal, SwingVertical, SwingBoth}
}

// parseSwingMode maps a swing mode to its axis pair.
func parseSwingMode(mode string) (h, v bool, ok bool) {
	switch strings.ToLower(mode) {
	case SwingOff:
		return false, false, true
	case SwingHorizontal:
		return true, false, true
	case SwingVertical:
		return false, true, true
	case SwingBoth:
		return true, true, true
	}
	return false, false, false
}

// ClimateState is the decoded state of an air conditioner.
type ClimateState struct {
	Power      bool    `json:"power"`
	Mode       string  `json:"mode"`
	TargetTemp float64 `json:"target_temperature"`
	FanMode    string  `json:"fan_mode"`
	SwingH     bool    `json:"swing_horizontal"`
	SwingV     bool    `json:"swing_vertical"`
}

// HVACMode returns Mode, or "off" when the unit is powered down.
func (s ClimateState) HVACMode() string {
	if !s.Power {
		return ModeOff
	}
	return s.Mode
}

// SwingMode names the current axis pair.
func (s ClimateState) SwingMode() string {
	switch {
	case s.SwingH && s.SwingV:
		return SwingBoth
	case s.SwingH:
		return SwingHorizontal
	case s.SwingV:
		return SwingVertical
	default:
		return SwingOff
	}
}

// ClimateIntent changes any subset of the settings. Mode "off" powers the
// unit down; any other mode powers it up. Nil fields keep the current value.
type ClimateIntent struct {
	Power      *bool    `json:"power,omitempty"`
	Mode       *string  `json:"mode,omitempty"`
	TargetTemp *float64 `json:"target_temperature,omitempty"`
	FanMode    *string  `json:"fan_mode,omitempty"`
	SwingH     *bool    `json:"swing_horizontal,omitempty"`
	SwingV     *bool    `json:"swing_vertical,omitempty"`

	// SwingMode sets both axes at once and wins over SwingH and SwingV.
	SwingMode *string `json:"swing_mode,omitempty"`
}

// ClimateCodec handles "on#<mode>#<temp>#<fan>#<h>#<v>" payloads.
type ClimateCodec struct{}

func defaultClimate() ClimateState {
	return ClimateState{Mode: ModeAuto, TargetTemp: MinTemp, FanMode: FanModeAuto}
}

// withDefaults fills settings a zero-value state leaves empty.
func (s ClimateState) withDefaults() ClimateState {
	if s.Mode == "" {
		s.Mode = ModeAuto
	}
	if s.TargetTemp == 0 {
		s.TargetTemp = MinTemp
	}
	if s.FanMode == "" {
		s.FanMode = FanModeAuto
	}
	return s
}

// Decode parses a climate payload.
//
// A payload whose first token is not "on" powers the unit down and keeps the
// previous settings for display. Unknown mode or fan codes fall back to auto,
// an unparsable temperature to 16, and an incomplete or invalid swing pair
// to off/off.
func (ClimateCodec) Decode(raw string, prev ClimateState) ClimateState {
	parts := fields(raw)
	if len(parts) == 0 {
		return defaultClimate()
	}
	if !isOn(parts) {
		st := prev.withDefaults()
		st.Power = false
		return st
	}

	st := defaultClimate()
	st.Power = true

	if code, ok := parseInt(parts, 1); ok && code >= 1 && code <= len(climateModes) {
		st.Mode = climateModes[code-1]
	}
	if t, ok := parseFloat(parts, 2); ok {
		st.TargetTemp = t
	}
	if code, ok := parseInt(parts, 3); ok && code >= 0 && code < len(climateFanModes) {
		st.FanMode = climateFanModes[code]
	}
	h, hok := field(parts, 4)
	v, vok := field(parts, 5)
	if hok && vok && isBinaryDigit(h) && isBinaryDigit(v) {
		st.SwingH = h == "1"
		st.SwingV = v == "1"
	}
	return st
}

// Encode emits "off" or a complete six-field payload. The temperature is
// clamped to 16-32 and truncated to an integer.
func (ClimateCodec) Encode(intent ClimateIntent, current ClimateState) (string, error) {
	st := current.withDefaults()

	if intent.Power != nil {
		st.Power = *intent.Power
	}
	if intent.Mode != nil {
		mode := strings.ToLower(*intent.Mode)
		if mode == ModeOff {
			st.Power = false
		} else {
			if indexOf(climateModes, mode) < 0 {
				return "", errInvalid("unknown hvac mode " + *intent.Mode)
			}
			st.Mode = mode
			st.Power = true
		}
	}
	if intent.TargetTemp != nil {
		st.TargetTemp = *intent.TargetTemp
	}
	if intent.FanMode != nil {
		fan := strings.ToLower(*intent.FanMode)
		if indexOf(climateFanModes, fan) < 0 {
			return "", errInvalid("unknown fan mode " + *intent.FanMode)
		}
		st.FanMode = fan
	}
	if intent.SwingH != nil {
		st.SwingH = *intent.SwingH
	}
	if intent.SwingV != nil {
		st.SwingV = *intent.SwingV
	}
	if intent.SwingMode != nil {
		h, v, ok := parseSwingMode(*intent.SwingMode)
		if !ok {
			return "", errInvalid("unknown swing mode " + *intent.SwingMode)
		}
		st.SwingH, st.SwingV = h, v
	}

	if !st.Power {
		return TokenOff, nil
	}

	mode := indexOf(climateModes, st.Mode) + 1
	if mode == 0 {
		mode = 1
	}
	fan := indexOf(climateFanModes, st.FanMode)
	if fan < 0 {
		fan = 0
	}
	temp := int(math.Max(MinTemp, math.Min(MaxTemp, st.TargetTemp)))

	return join(TokenOn, itoa(mode), itoa(temp), itoa(fan), boolDigit(st.SwingH), boolDigit(st.SwingV)), nil
}

func isBinaryDigit(s string) bool {
	return s == "0" || s == "1"
}

func indexOf(list []string, v string) int {
	for i, item := range list {
		if item == v {
			return i
		}
	}
	return -1
}
