package hass

import "strings"

const (
	stateSuffix        = "state"
	availabilitySuffix = "availability"
	commandSuffix      = "set"

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// Topics derives every topic the bridge uses.
type Topics struct {
	DiscoveryPrefix string
	BaseTopic       string
}

// ObjectID is the discovery node id for a device topic.
func ObjectID(topic string) string {
	return "bemfa_" + topic
}

// Discovery returns the config topic for a component.
func (t Topics) Discovery(component, topic string) string {
	return t.DiscoveryPrefix + "/" + component + "/" + ObjectID(topic) + "/config"
}

// SensorDiscovery returns the config topic for one sensor channel.
func (t Topics) SensorDiscovery(component, topic, channel string) string {
	return t.DiscoveryPrefix + "/" + component + "/" + ObjectID(topic) + "/" + channel + "/config"
}

// State returns the state topic for a device.
func (t Topics) State(topic string) string {
	return t.BaseTopic + "/" + topic + "/" + stateSuffix
}

// Availability returns the availability topic for a device.
func (t Topics) Availability(topic string) string {
	return t.BaseTopic + "/" + topic + "/" + availabilitySuffix
}

// Command returns the command topic for a device.
func (t Topics) Command(topic string) string {
	return t.BaseTopic + "/" + topic + "/" + commandSuffix
}

// CommandSubscription matches every device command topic.
func (t Topics) CommandSubscription() string {
	return t.BaseTopic + "/+/" + commandSuffix
}

// HAStatus is where Home Assistant announces its own restarts.
func (t Topics) HAStatus() string {
	return t.DiscoveryPrefix + "/status"
}

// ParseCommand extracts the device topic from a command topic.
func (t Topics) ParseCommand(topic string) (string, bool) {
	prefix := t.BaseTopic + "/"
	suffix := "/" + commandSuffix
	if !strings.HasPrefix(topic, prefix) || !strings.HasSuffix(topic, suffix) {
		return "", false
	}
	dev := strings.TrimSuffix(strings.TrimPrefix(topic, prefix), suffix)
	if dev == "" || strings.Contains(dev, "/") {
		return "", false
	}
	return dev, true
}
