package hass

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/entity"
)

var testTopics = Topics{DiscoveryPrefix: "homeassistant", BaseTopic: "bemfa"}

func testBuilder() Builder {
	return Builder{Topics: testTopics, StatusTopic: "bemfa/bridge/status", Version: "test"}
}

func viewFor(t *testing.T, rec device.Record) entity.View {
	t.Helper()
	table := device.NewTable()
	if _, err := table.Union([]device.Record{rec}, device.SourceRefresh); err != nil {
		t.Fatalf("Union() error = %v", err)
	}
	e, err := entity.New(rec, table, nil)
	if err != nil {
		t.Fatalf("entity.New() error = %v", err)
	}
	return e.Render()
}

func decodeConfig(t *testing.T, payload []byte) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal(payload, &m); err != nil {
		t.Fatalf("config is not JSON: %v", err)
	}
	return m
}

func TestTopics(t *testing.T) {
	if got := testTopics.Discovery("light", "lamp002"); got != "homeassistant/light/bemfa_lamp002/config" {
		t.Errorf("Discovery() = %q", got)
	}
	if got := testTopics.SensorDiscovery("sensor", "room004", "humidity"); got != "homeassistant/sensor/bemfa_room004/humidity/config" {
		t.Errorf("SensorDiscovery() = %q", got)
	}

	tests := []struct {
		topic  string
		want   string
		wantOK bool
	}{
		{"bemfa/lamp002/set", "lamp002", true},
		{"bemfa//set", "", false},
		{"bemfa/a/b/set", "", false},
		{"other/lamp002/set", "", false},
		{"bemfa/lamp002/state", "", false},
	}
	for _, tt := range tests {
		got, ok := testTopics.ParseCommand(tt.topic)
		if got != tt.want || ok != tt.wantOK {
			t.Errorf("ParseCommand(%q) = %q, %v, want %q, %v", tt.topic, got, ok, tt.want, tt.wantOK)
		}
	}
}

func TestBuilder_LightDiscovery(t *testing.T) {
	v := viewFor(t, device.Record{Topic: "lamp002", Name: "Desk", Type: device.TypeLight, RawState: "on#50#4000", Online: true})

	msgs, err := testBuilder().Discovery(v)
	if err != nil {
		t.Fatalf("Discovery() error = %v", err)
	}
	if len(msgs) != 1 || msgs[0].Topic != "homeassistant/light/bemfa_lamp002/config" {
		t.Fatalf("msgs = %+v", msgs)
	}

	cfg := decodeConfig(t, msgs[0].Payload)
	if cfg["unique_id"] != "bemfa_to_homeassistant_lamp002_light" {
		t.Errorf("unique_id = %v", cfg["unique_id"])
	}
	if cfg["schema"] != "template" || cfg["command_topic"] != "bemfa/lamp002/set" {
		t.Errorf("schema/command_topic = %v/%v", cfg["schema"], cfg["command_topic"])
	}
	if cfg["name"] != nil {
		t.Errorf("name = %v, want null so the device name is used", cfg["name"])
	}
	dev, _ := cfg["device"].(map[string]any)
	if dev["manufacturer"] != "巴法云" || dev["name"] != "Desk" {
		t.Errorf("device = %v", dev)
	}
	avail, _ := cfg["availability"].([]any)
	if len(avail) != 2 || cfg["availability_mode"] != "all" {
		t.Errorf("availability = %v mode %v", avail, cfg["availability_mode"])
	}
}

func TestBuilder_SensorDiscovery(t *testing.T) {
	v := viewFor(t, device.Record{Topic: "room004", Type: device.TypeSensor, RawState: "#21.5#40#on", Online: true})

	msgs, err := testBuilder().Discovery(v)
	if err != nil {
		t.Fatalf("Discovery() error = %v", err)
	}
	if len(msgs) != 3 {
		t.Fatalf("got %d configs, want temperature, humidity and switch", len(msgs))
	}

	want := []string{
		"homeassistant/sensor/bemfa_room004/temperature/config",
		"homeassistant/sensor/bemfa_room004/humidity/config",
		"homeassistant/binary_sensor/bemfa_room004/switch/config",
	}
	for i, m := range msgs {
		if m.Topic != want[i] {
			t.Errorf("msgs[%d].Topic = %q, want %q", i, m.Topic, want[i])
		}
	}

	temp := decodeConfig(t, msgs[0].Payload)
	if temp["unit_of_measurement"] != "°C" || temp["unique_id"] != "bemfa_to_homeassistant_room004_temperature" {
		t.Errorf("temperature config = %v", temp)
	}
	if !strings.Contains(temp["value_template"].(string), "value_json.temperature") {
		t.Errorf("value_template = %v", temp["value_template"])
	}
}

func TestBuilder_AllTypesHaveDiscovery(t *testing.T) {
	for _, typ := range device.AllTypes {
		v := viewFor(t, device.Record{Topic: "dev", Type: typ, Online: true})
		msgs, err := testBuilder().Discovery(v)
		if err != nil {
			t.Errorf("Discovery(%s) error = %v", typ, err)
		}
		if len(msgs) == 0 {
			t.Errorf("Discovery(%s) returned no configs", typ)
		}
	}
}

func TestBuilder_ClimateState(t *testing.T) {
	v := viewFor(t, device.Record{Topic: "ac005", Type: device.TypeClimate, RawState: "on#2#24#1#0#1", Online: true})

	msgs, err := testBuilder().State(v)
	if err != nil {
		t.Fatalf("State() error = %v", err)
	}
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want state and availability", len(msgs))
	}

	var doc map[string]any
	if err := json.Unmarshal(msgs[0].Payload, &doc); err != nil {
		t.Fatalf("state is not JSON: %v", err)
	}
	if doc["hvac_mode"] != "cool" || doc["swing_mode"] != "vertical" || doc["target_temperature"] != 24.0 {
		t.Errorf("state = %v", doc)
	}
	if msgs[1].Topic != "bemfa/ac005/availability" || string(msgs[1].Payload) != "online" {
		t.Errorf("availability = %s %s", msgs[1].Topic, msgs[1].Payload)
	}
}
