package bemfa

import "strings"

// SensorChannel names one reading carried in a sensor payload.
type SensorChannel string

// Sensor channels, in wire order.
const (
	ChannelTemperature SensorChannel = "temperature"
	ChannelHumidity    SensorChannel = "humidity"
	ChannelSwitch      SensorChannel = "switch"
	ChannelIlluminance SensorChannel = "illuminance"
	ChannelPM25        SensorChannel = "pm25"
	ChannelHeartRate   SensorChannel = "heart_rate"
)

// SensorChannelInfo describes how a channel is presented.
type SensorChannelInfo struct {
	Channel     SensorChannel `json:"channel"`
	Index       int           `json:"index"`
	Name        string        `json:"name"`
	DeviceClass string        `json:"device_class,omitempty"`
	Unit        string        `json:"unit,omitempty"`
	Binary      bool          `json:"binary,omitempty"`
}

// sensorChannels is indexed by wire position minus one.
var sensorChannels = []SensorChannelInfo{
	{Channel: ChannelTemperature, Index: 1, Name: "温度", DeviceClass: "temperature", Unit: "°C"},
	{Channel: ChannelHumidity, Index: 2, Name: "湿度", DeviceClass: "humidity", Unit: "%"},
	{Channel: ChannelSwitch, Index: 3, Name: "开关", DeviceClass: "power", Binary: true},
	{Channel: ChannelIlluminance, Index: 4, Name: "光照", DeviceClass: "illuminance", Unit: "lx"},
	{Channel: ChannelPM25, Index: 5, Name: "PM2.5", DeviceClass: "pm25", Unit: "µg/m³"},
	{Channel: ChannelHeartRate, Index: 6, Name: "心率", Unit: "bpm"},
}

// SensorState holds the readings present in a payload. Nil means absent.
type SensorState struct {
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	Switch      *bool    `json:"switch"`
	Illuminance *float64 `json:"illuminance"`
	PM25        *float64 `json:"pm25"`
	HeartRate   *float64 `json:"heart_rate"`
}

// Value returns the numeric reading for a channel. The switch channel
// reports 1 or 0.
func (s SensorState) Value(ch SensorChannel) (float64, bool) {
	var p *float64
	switch ch {
	case ChannelTemperature:
		p = s.Temperature
	case ChannelHumidity:
		p = s.Humidity
	case ChannelIlluminance:
		p = s.Illuminance
	case ChannelPM25:
		p = s.PM25
	case ChannelHeartRate:
		p = s.HeartRate
	case ChannelSwitch:
		if s.Switch == nil {
			return 0, false
		}
		if *s.Switch {
			return 1, true
		}
		return 0, true
	}
	if p == nil {
		return 0, false
	}
	return *p, true
}

// SensorIntent exists to satisfy the codec shape; sensors accept no commands.
type SensorIntent struct{}

// SensorCodec decodes multi-channel sensor payloads.
type SensorCodec struct{}

// Decode reads each channel at its fixed index. Blank or unparsable fields
// are absent; the switch channel is true only for "on".
func (SensorCodec) Decode(raw string, _ SensorState) SensorState {
	parts := fields(raw)
	var st SensorState

	st.Temperature = floatAt(parts, 1)
	st.Humidity = floatAt(parts, 2)
	if tok, ok := field(parts, 3); ok {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok != "" {
			on := tok == TokenOn
			st.Switch = &on
		}
	}
	st.Illuminance = floatAt(parts, 4)
	st.PM25 = floatAt(parts, 5)
	st.HeartRate = floatAt(parts, 6)
	return st
}

// Encode always fails: sensors are read-only.
func (SensorCodec) Encode(SensorIntent, SensorState) (string, error) {
	return "", ErrReadOnly
}

// SensorChannels lists the channels a payload exposes. Temperature is always
// present; every other channel appears once the payload has a field at its
// index.
func SensorChannels(raw string) []SensorChannelInfo {
	n := len(fields(raw))
	out := []SensorChannelInfo{sensorChannels[0]}
	for _, info := range sensorChannels[1:] {
		if n > info.Index {
			out = append(out, info)
		}
	}
	return out
}

// AllSensorChannels returns every channel description.
func AllSensorChannels() []SensorChannelInfo {
	return append([]SensorChannelInfo(nil), sensorChannels...)
}

func floatAt(parts []string, i int) *float64 {
	v, ok := parseFloat(parts, i)
	if !ok {
		return nil
	}
	return &v
}
