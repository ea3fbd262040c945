package entity

import (
	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// Feature names.
const (
	FeatureTurnOn        = "turn_on"
	FeatureTurnOff       = "turn_off"
	FeatureBrightness    = "brightness"
	FeatureColorTemp     = "color_temp"
	FeatureSetPercentage = "set_percentage"
	FeatureOscillate     = "oscillate"
	FeatureOpen          = "open"
	FeatureClose         = "close"
	FeatureStop          = "stop"
	FeatureSetPosition   = "set_position"
	FeatureTargetTemp    = "target_temperature"
	FeatureHVACMode      = "hvac_mode"
	FeatureFanMode       = "fan_mode"
	FeatureSwingMode     = "swing_mode"
)

// Range is an inclusive numeric range.
type Range struct {
	Min  float64 `json:"min"`
	Max  float64 `json:"max"`
	Step float64 `json:"step,omitempty"`
}

// Capabilities describes what an entity supports.
type Capabilities struct {
	Platform    device.Type               `json:"platform"`
	ReadOnly    bool                      `json:"read_only"`
	DeviceClass string                    `json:"device_class,omitempty"`
	Features    []string                  `json:"features,omitempty"`
	Ranges      map[string]Range          `json:"ranges,omitempty"`
	HVACModes   []string                  `json:"hvac_modes,omitempty"`
	FanModes    []string                  `json:"fan_modes,omitempty"`
	SwingModes  []string                  `json:"swing_modes,omitempty"`
	SpeedCount  int                       `json:"speed_count,omitempty"`
	Channels    []bemfa.SensorChannelInfo `json:"channels,omitempty"`
}

// Supports reports whether the feature is listed.
func (c Capabilities) Supports(feature string) bool {
	for _, f := range c.Features {
		if f == feature {
			return true
		}
	}
	return false
}

func switchCapabilities() Capabilities {
	return Capabilities{
		Platform: device.TypeSwitch,
		Features: []string{FeatureTurnOn, FeatureTurnOff},
	}
}

func lightCapabilities() Capabilities {
	return Capabilities{
		Platform: device.TypeLight,
		Features: []string{FeatureTurnOn, FeatureTurnOff, FeatureBrightness, FeatureColorTemp},
		Ranges: map[string]Range{
			"brightness":        {Min: 0, Max: bemfa.MaxBrightness, Step: 1},
			"color_temp_kelvin": {Min: bemfa.MinKelvin, Max: bemfa.MaxKelvin, Step: 100},
		},
	}
}

func fanCapabilities() Capabilities {
	return Capabilities{
		Platform:   device.TypeFan,
		Features:   []string{FeatureTurnOn, FeatureTurnOff, FeatureSetPercentage, FeatureOscillate},
		Ranges:     map[string]Range{"percentage": {Min: 0, Max: 100, Step: 25}},
		SpeedCount: 4,
	}
}

func coverCapabilities() Capabilities {
	return Capabilities{
		Platform:    device.TypeCover,
		DeviceClass: "curtain",
		Features:    []string{FeatureOpen, FeatureClose, FeatureStop, FeatureSetPosition},
		Ranges:      map[string]Range{"position": {Min: 0, Max: 100, Step: 1}},
	}
}

func climateCapabilities() Capabilities {
	return Capabilities{
		Platform:   device.TypeClimate,
		Features:   []string{FeatureTurnOn, FeatureTurnOff, FeatureTargetTemp, FeatureHVACMode, FeatureFanMode, FeatureSwingMode},
		Ranges:     map[string]Range{"target_temperature": {Min: bemfa.MinTemp, Max: bemfa.MaxTemp, Step: 1}},
		HVACModes:  bemfa.ClimateModes(),
		FanModes:   bemfa.ClimateFanModes(),
		SwingModes: bemfa.ClimateSwingModes(),
	}
}

func sensorCapabilities() Capabilities {
	return Capabilities{
		Platform: device.TypeSensor,
		ReadOnly: true,
	}
}

// sensorChannels lists the channels present in the current payload.
func sensorChannels(caps Capabilities, raw string) Capabilities {
	caps.Channels = bemfa.SensorChannels(raw)
	return caps
}
