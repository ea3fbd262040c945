package bemfa

import (
	"strings"

	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// Domain is the identifier prefix used for entity unique ids.
const Domain = "bemfa_to_homeassistant"

// Manufacturer and Model label every device in views and discovery payloads.
const (
	Manufacturer = "巴法云"
	Model        = "巴法云智能设备"
)

const typeCodeLength = 3

// typeCodes maps the 3-character topic suffix to a device class.
var typeCodes = map[string]device.Type{
	"001": device.TypeSwitch,
	"002": device.TypeLight,
	"003": device.TypeFan,
	"004": device.TypeSensor,
	"005": device.TypeClimate,
	"006": device.TypeSwitch, // multi-gang switch panel
	"009": device.TypeCover,
}

// typeKeywords is the ordered substring fallback. Order matters: the first
// keyword found in the topic wins.
var typeKeywords = []struct {
	keyword string
	typ     device.Type
}{
	{"fan", device.TypeFan},
	{"switch", device.TypeSwitch},
	{"light", device.TypeLight},
	{"sensor", device.TypeSensor},
}

// Classify derives the device class of a topic.
//
// The suffix code is authoritative: "light003" is a fan. Only when the suffix
// is not a known code are topic keywords consulted, case-insensitively.
// Topics matching neither return false and are ignored by the bridge.
func Classify(topic string) (device.Type, bool) {
	if len(topic) >= typeCodeLength {
		if t, ok := typeCodes[topic[len(topic)-typeCodeLength:]]; ok {
			return t, true
		}
	}

	lower := strings.ToLower(topic)
	for _, kw := range typeKeywords {
		if strings.Contains(lower, kw.keyword) {
			return kw.typ, true
		}
	}
	return "", false
}

// UniqueID returns the stable entity id for a topic and class.
func UniqueID(topic string, t device.Type) string {
	return Domain + "_" + topic + "_" + string(t)
}

// SensorUniqueID returns the stable entity id for one sensor channel.
func SensorUniqueID(topic string, channel SensorChannel) string {
	return Domain + "_" + topic + "_" + string(channel)
}
