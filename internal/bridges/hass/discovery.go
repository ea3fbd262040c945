package hass

import (
	"encoding/json"
	"fmt"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
)

// Message is one MQTT publication.
type Message struct {
	Topic   string
	Payload []byte
}

type haDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	ViaDevice    string   `json:"via_device,omitempty"`
}

type haOrigin struct {
	Name            string `json:"name"`
	SoftwareVersion string `json:"sw_version,omitempty"`
}

type haAvailability struct {
	Topic               string `json:"topic"`
	ValueTemplate       string `json:"value_template,omitempty"`
	PayloadAvailable    string `json:"payload_available,omitempty"`
	PayloadNotAvailable string `json:"payload_not_available,omitempty"`
}

// entityConfig is a discovery payload. One struct serves every component;
// unused fields are omitted.
type entityConfig struct {
	Name              *string          `json:"name"`
	UniqueID          string           `json:"unique_id"`
	ObjectID          string           `json:"object_id,omitempty"`
	Device            haDevice         `json:"device"`
	Origin            haOrigin         `json:"origin"`
	Availability      []haAvailability `json:"availability"`
	AvailabilityMode  string           `json:"availability_mode"`
	StateTopic        string           `json:"state_topic,omitempty"`
	ValueTemplate     string           `json:"value_template,omitempty"`
	CommandTopic      string           `json:"command_topic,omitempty"`
	DeviceClass       string           `json:"device_class,omitempty"`
	StateClass        string           `json:"state_class,omitempty"`
	UnitOfMeasurement string           `json:"unit_of_measurement,omitempty"`
	PayloadOn         string           `json:"payload_on,omitempty"`
	PayloadOff        string           `json:"payload_off,omitempty"`
	StateOn           string           `json:"state_on,omitempty"`
	StateOff          string           `json:"state_off,omitempty"`

	// light (template schema)
	Schema             string `json:"schema,omitempty"`
	CommandOnTemplate  string `json:"command_on_template,omitempty"`
	CommandOffTemplate string `json:"command_off_template,omitempty"`
	StateTemplate      string `json:"state_template,omitempty"`
	BrightnessTemplate string `json:"brightness_template,omitempty"`
	ColorTempTemplate  string `json:"color_temp_template,omitempty"`
	ColorTempKelvin    bool   `json:"color_temp_kelvin,omitempty"`
	MinKelvin          int    `json:"min_kelvin,omitempty"`
	MaxKelvin          int    `json:"max_kelvin,omitempty"`

	// fan
	StateValueTemplate         string `json:"state_value_template,omitempty"`
	PercentageCommandTopic     string `json:"percentage_command_topic,omitempty"`
	PercentageCommandTemplate  string `json:"percentage_command_template,omitempty"`
	PercentageStateTopic       string `json:"percentage_state_topic,omitempty"`
	PercentageValueTemplate    string `json:"percentage_value_template,omitempty"`
	OscillationCommandTopic    string `json:"oscillation_command_topic,omitempty"`
	OscillationCommandTemplate string `json:"oscillation_command_template,omitempty"`
	OscillationStateTopic      string `json:"oscillation_state_topic,omitempty"`
	OscillationValueTemplate   string `json:"oscillation_value_template,omitempty"`
	SpeedRangeMin              int    `json:"speed_range_min,omitempty"`
	SpeedRangeMax              int    `json:"speed_range_max,omitempty"`

	// cover
	PayloadOpen         string `json:"payload_open,omitempty"`
	PayloadClose        string `json:"payload_close,omitempty"`
	PayloadStop         string `json:"payload_stop,omitempty"`
	StateOpen           string `json:"state_open,omitempty"`
	StateClosed         string `json:"state_closed,omitempty"`
	PositionTopic       string `json:"position_topic,omitempty"`
	PositionTemplate    string `json:"position_template,omitempty"`
	SetPositionTopic    string `json:"set_position_topic,omitempty"`
	SetPositionTemplate string `json:"set_position_template,omitempty"`

	// climate
	Modes                      []string `json:"modes,omitempty"`
	FanModes                   []string `json:"fan_modes,omitempty"`
	SwingModes                 []string `json:"swing_modes,omitempty"`
	MinTemp                    float64  `json:"min_temp,omitempty"`
	MaxTemp                    float64  `json:"max_temp,omitempty"`
	TempStep                   float64  `json:"temp_step,omitempty"`
	TemperatureUnit            string   `json:"temperature_unit,omitempty"`
	ModeCommandTopic           string   `json:"mode_command_topic,omitempty"`
	ModeCommandTemplate        string   `json:"mode_command_template,omitempty"`
	ModeStateTopic             string   `json:"mode_state_topic,omitempty"`
	ModeStateTemplate          string   `json:"mode_state_template,omitempty"`
	TemperatureCommandTopic    string   `json:"temperature_command_topic,omitempty"`
	TemperatureCommandTemplate string   `json:"temperature_command_template,omitempty"`
	TemperatureStateTopic      string   `json:"temperature_state_topic,omitempty"`
	TemperatureStateTemplate   string   `json:"temperature_state_template,omitempty"`
	FanModeCommandTopic        string   `json:"fan_mode_command_topic,omitempty"`
	FanModeCommandTemplate     string   `json:"fan_mode_command_template,omitempty"`
	FanModeStateTopic          string   `json:"fan_mode_state_topic,omitempty"`
	FanModeStateTemplate       string   `json:"fan_mode_state_template,omitempty"`
	SwingModeCommandTopic      string   `json:"swing_mode_command_topic,omitempty"`
	SwingModeCommandTemplate   string   `json:"swing_mode_command_template,omitempty"`
	SwingModeStateTopic        string   `json:"swing_mode_state_topic,omitempty"`
	SwingModeStateTemplate     string   `json:"swing_mode_state_template,omitempty"`
}

// Intent templates. They render the JSON intents entity.HandleCommand accepts.
const (
	switchOnPayload  = `{"on":true}`
	switchOffPayload = `{"on":false}`

	lightOnTemplate  = `{"on":true{% if brightness is defined %},"brightness":{{ brightness }}{% endif %}{% if color_temp is defined %},"color_temp_kelvin":{{ color_temp }}{% endif %}}`
	lightOffTemplate = `{"on":false}`

	fanOnPayload           = `{"action":"turn_on"}`
	fanOffPayload          = `{"action":"turn_off"}`
	fanPercentageTemplate  = `{"action":"set_percentage","percentage":{{ value }}}`
	fanOscillationTemplate = `{"action":"oscillate","oscillating":{{ 'true' if value == 'oscillate_on' else 'false' }}}`

	coverOpenPayload      = `{"action":"open"}`
	coverClosePayload     = `{"action":"close"}`
	coverStopPayload      = `{"action":"stop"}`
	coverPositionTemplate = `{"action":"set_position","position":{{ position }}}`

	climateModeTemplate        = `{"mode":"{{ value }}"}`
	climateTemperatureTemplate = `{"target_temperature":{{ value }}}`
	climateFanModeTemplate     = `{"fan_mode":"{{ value }}"}`
	climateSwingModeTemplate   = `{"swing_mode":"{{ value }}"}`
)

// Builder renders discovery configs and state documents.
type Builder struct {
	Topics      Topics
	StatusTopic string
	Version     string
}

func (b Builder) base(uniqueID string, v entity.View) entityConfig {
	avail := []haAvailability{{Topic: b.Topics.Availability(v.Topic)}}
	if b.StatusTopic != "" {
		avail = append(avail, haAvailability{
			Topic:               b.StatusTopic,
			ValueTemplate:       "{{ value_json.status }}",
			PayloadAvailable:    payloadOnline,
			PayloadNotAvailable: payloadOffline,
		})
	}
	return entityConfig{
		UniqueID: uniqueID,
		ObjectID: ObjectID(v.Topic),
		Device: haDevice{
			Identifiers:  []string{bemfa.Domain + "_" + v.Topic},
			Name:         v.Name,
			Manufacturer: v.Manufacturer,
			Model:        v.Model,
		},
		Origin:           haOrigin{Name: "bemfa-bridge", SoftwareVersion: b.Version},
		Availability:     avail,
		AvailabilityMode: "all",
	}
}

// Discovery returns every config message for an entity.
func (b Builder) Discovery(v entity.View) ([]Message, error) {
	state := b.Topics.State(v.Topic)
	cmd := b.Topics.Command(v.Topic)
	cfg := b.base(v.UniqueID, v)

	var component string
	switch v.Type {
	case device.TypeSwitch:
		component = "switch"
		cfg.StateTopic = state
		cfg.ValueTemplate = "{{ 'ON' if value_json.on else 'OFF' }}"
		cfg.CommandTopic = cmd
		cfg.PayloadOn = switchOnPayload
		cfg.PayloadOff = switchOffPayload
		cfg.StateOn = "ON"
		cfg.StateOff = "OFF"

	case device.TypeLight:
		component = "light"
		cfg.Schema = "template"
		cfg.StateTopic = state
		cfg.CommandTopic = cmd
		cfg.CommandOnTemplate = lightOnTemplate
		cfg.CommandOffTemplate = lightOffTemplate
		cfg.StateTemplate = "{{ 'on' if value_json.on else 'off' }}"
		cfg.BrightnessTemplate = "{{ value_json.brightness }}"
		cfg.ColorTempTemplate = "{{ value_json.color_temp_kelvin }}"
		cfg.ColorTempKelvin = true
		cfg.MinKelvin = bemfa.MinKelvin
		cfg.MaxKelvin = bemfa.MaxKelvin

	case device.TypeFan:
		component = "fan"
		cfg.StateTopic = state
		cfg.StateValueTemplate = "{{ 'ON' if value_json.on else 'OFF' }}"
		cfg.CommandTopic = cmd
		cfg.PayloadOn = fanOnPayload
		cfg.PayloadOff = fanOffPayload
		cfg.PercentageCommandTopic = cmd
		cfg.PercentageCommandTemplate = fanPercentageTemplate
		cfg.PercentageStateTopic = state
		cfg.PercentageValueTemplate = "{{ value_json.percentage }}"
		cfg.OscillationCommandTopic = cmd
		cfg.OscillationCommandTemplate = fanOscillationTemplate
		cfg.OscillationStateTopic = state
		cfg.OscillationValueTemplate = "{{ 'oscillate_on' if value_json.oscillating else 'oscillate_off' }}"

	case device.TypeCover:
		component = "cover"
		cfg.DeviceClass = v.Capabilities.DeviceClass
		cfg.StateTopic = state
		cfg.ValueTemplate = "{{ 'closed' if value_json.closed else 'open' }}"
		cfg.StateOpen = "open"
		cfg.StateClosed = "closed"
		cfg.CommandTopic = cmd
		cfg.PayloadOpen = coverOpenPayload
		cfg.PayloadClose = coverClosePayload
		cfg.PayloadStop = coverStopPayload
		cfg.PositionTopic = state
		cfg.PositionTemplate = "{{ value_json.position }}"
		cfg.SetPositionTopic = cmd
		cfg.SetPositionTemplate = coverPositionTemplate

	case device.TypeClimate:
		component = "climate"
		cfg.Modes = v.Capabilities.HVACModes
		cfg.FanModes = v.Capabilities.FanModes
		cfg.SwingModes = v.Capabilities.SwingModes
		cfg.MinTemp = bemfa.MinTemp
		cfg.MaxTemp = bemfa.MaxTemp
		cfg.TempStep = 1
		cfg.TemperatureUnit = "C"
		cfg.ModeCommandTopic = cmd
		cfg.ModeCommandTemplate = climateModeTemplate
		cfg.ModeStateTopic = state
		cfg.ModeStateTemplate = "{{ value_json.hvac_mode }}"
		cfg.TemperatureCommandTopic = cmd
		cfg.TemperatureCommandTemplate = climateTemperatureTemplate
		cfg.TemperatureStateTopic = state
		cfg.TemperatureStateTemplate = "{{ value_json.target_temperature }}"
		cfg.FanModeCommandTopic = cmd
		cfg.FanModeCommandTemplate = climateFanModeTemplate
		cfg.FanModeStateTopic = state
		cfg.FanModeStateTemplate = "{{ value_json.fan_mode }}"
		cfg.SwingModeCommandTopic = cmd
		cfg.SwingModeCommandTemplate = climateSwingModeTemplate
		cfg.SwingModeStateTopic = state
		cfg.SwingModeStateTemplate = "{{ value_json.swing_mode }}"

	case device.TypeSensor:
		return b.sensorDiscovery(v)

	default:
		return nil, fmt.Errorf("hass: no discovery mapping for %q", v.Type)
	}

	payload, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("hass: encoding %s config: %w", v.Topic, err)
	}
	return []Message{{Topic: b.Topics.Discovery(component, v.Topic), Payload: payload}}, nil
}

// sensorDiscovery emits one entity per channel present in the payload. The
// switch channel is a binary sensor.
func (b Builder) sensorDiscovery(v entity.View) ([]Message, error) {
	msgs := make([]Message, 0, len(v.Capabilities.Channels))
	for _, ch := range v.Capabilities.Channels {
		name := ch.Name
		cfg := b.base(bemfa.SensorUniqueID(v.Topic, ch.Channel), v)
		cfg.Name = &name
		cfg.ObjectID = ObjectID(v.Topic) + "_" + string(ch.Channel)
		cfg.StateTopic = b.Topics.State(v.Topic)
		cfg.DeviceClass = ch.DeviceClass

		component := "sensor"
		if ch.Binary {
			component = "binary_sensor"
			cfg.ValueTemplate = fmt.Sprintf("{{ 'ON' if value_json.%s else 'OFF' }}", ch.Channel)
			cfg.PayloadOn = "ON"
			cfg.PayloadOff = "OFF"
		} else {
			cfg.ValueTemplate = fmt.Sprintf("{{ value_json.%s }}", ch.Channel)
			cfg.StateClass = "measurement"
			cfg.UnitOfMeasurement = ch.Unit
		}

		payload, err := json.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("hass: encoding %s/%s config: %w", v.Topic, ch.Channel, err)
		}
		msgs = append(msgs, Message{
			Topic:   b.Topics.SensorDiscovery(component, v.Topic, string(ch.Channel)),
			Payload: payload,
		})
	}
	return msgs, nil
}

// climateDocument adds the derived fields the climate templates read.
type climateDocument struct {
	bemfa.ClimateState
	HVACModeValue  string `json:"hvac_mode"`
	SwingModeValue string `json:"swing_mode"`
}

// State returns the retained state and availability messages for an entity.
func (b Builder) State(v entity.View) ([]Message, error) {
	doc := v.State
	if st, ok := v.State.(bemfa.ClimateState); ok {
		doc = climateDocument{ClimateState: st, HVACModeValue: st.HVACMode(), SwingModeValue: st.SwingMode()}
	}
	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("hass: encoding %s state: %w", v.Topic, err)
	}

	avail := payloadOffline
	if v.Available {
		avail = payloadOnline
	}
	return []Message{
		{Topic: b.Topics.State(v.Topic), Payload: payload},
		{Topic: b.Topics.Availability(v.Topic), Payload: []byte(avail)},
	}, nil
}
