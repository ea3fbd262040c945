package bemfa

import "math"

// Light limits. Brightness is carried as 0-255 locally and as 1-100% on the wire.
const (
	MinKelvin     = 2700
	MaxKelvin     = 6500
	MaxBrightness = 255
	kelvinStep    = 100
)

// LightState is the decoded state of a colour-temperature light.
type LightState struct {
	On         bool `json:"on"`
	Brightness int  `json:"brightness"`
	Kelvin     int  `json:"color_temp_kelvin"`
}

// LightIntent turns a light on or off. Nil fields keep the current value.
type LightIntent struct {
	On         bool `json:"on"`
	Brightness *int `json:"brightness,omitempty"`
	Kelvin     *int `json:"color_temp_kelvin,omitempty"`
}

// LightCodec handles "on#<pct>#<kelvin>" payloads.
type LightCodec struct{}

// Decode parses a light payload. An off or empty payload gives brightness 0 at
// the coldest temperature; a missing or unparsable brightness on an "on"
// payload gives full brightness.
func (LightCodec) Decode(raw string, _ LightState) LightState {
	parts := fields(raw)
	if !isOn(parts) {
		return LightState{Brightness: 0, Kelvin: MaxKelvin}
	}

	st := LightState{On: true, Brightness: MaxBrightness, Kelvin: MaxKelvin}
	if pct, ok := parseFloat(parts, 1); ok {
		pct = math.Max(0, math.Min(100, pct))
		st.Brightness = int(math.Round(pct * MaxBrightness / 100))
	}
	if k, ok := parseFloat(parts, 2); ok {
		st.Kelvin = normaliseKelvin(k)
	}
	return st
}

// Encode emits "off" or a complete "on#<pct>#<kelvin>" payload. A light that
// is on never reports less than 1%.
func (LightCodec) Encode(intent LightIntent, current LightState) (string, error) {
	if !intent.On {
		return TokenOff, nil
	}

	brightness := current.Brightness
	if intent.Brightness != nil {
		brightness = clamp(*intent.Brightness, 0, MaxBrightness)
	} else if brightness <= 0 {
		brightness = MaxBrightness
	}
	pct := clamp(int(math.Round(float64(brightness)*100/MaxBrightness)), 1, 100)

	kelvin := current.Kelvin
	if intent.Kelvin != nil {
		kelvin = *intent.Kelvin
	}
	if kelvin <= 0 {
		kelvin = MaxKelvin
	}

	return join(TokenOn, itoa(pct), itoa(normaliseKelvin(float64(kelvin)))), nil
}

// normaliseKelvin rounds to the nearest 100K and clamps to the supported range.
func normaliseKelvin(k float64) int {
	k = math.Max(MinKelvin, math.Min(MaxKelvin, k))
	rounded := int(math.Round(k/kelvinStep)) * kelvinStep
	return clamp(rounded, MinKelvin, MaxKelvin)
}
