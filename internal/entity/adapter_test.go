package entity

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// fakeCommander records applied commands.
type fakeCommander struct {
	mu       sync.Mutex
	commands []appliedCommand
	err      error
}

type appliedCommand struct {
	topic string
	wire  string
}

func (f *fakeCommander) Apply(_ context.Context, topic, wire string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.commands = append(f.commands, appliedCommand{topic: topic, wire: wire})
	return nil
}

func (f *fakeCommander) last() appliedCommand {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.commands) == 0 {
		return appliedCommand{}
	}
	return f.commands[len(f.commands)-1]
}

func newTable(t *testing.T, records ...device.Record) *device.Table {
	t.Helper()
	table := device.NewTable()
	if _, err := table.Union(records, device.SourceRefresh); err != nil {
		t.Fatalf("Union() error = %v", err)
	}
	return table
}

func intPtr(v int) *int { return &v }

func TestLight_StateAndCommand(t *testing.T) {
	table := newTable(t, device.Record{Topic: "lamp002", Name: "Lamp", Type: device.TypeLight, RawState: "on#50#4000", Online: true})
	cmd := &fakeCommander{}
	light := NewLight("lamp002", table, cmd)

	st := light.State()
	if !st.On || st.Brightness != 128 || st.Kelvin != 4000 {
		t.Errorf("State() = %+v", st)
	}

	if err := light.Command(context.Background(), bemfa.LightIntent{On: true, Kelvin: intPtr(3000)}); err != nil {
		t.Fatalf("Command() error = %v", err)
	}
	if got := cmd.last(); got.topic != "lamp002" || got.wire != "on#50#3000" {
		t.Errorf("applied %+v, want lamp002 on#50#3000", got)
	}
}

func TestAdapter_Available(t *testing.T) {
	table := newTable(t, device.Record{Topic: "plug001", Type: device.TypeSwitch, RawState: "on", Online: true})
	sw := NewSwitch("plug001", table, &fakeCommander{})
	if !sw.Available() {
		t.Error("Available() = false for online record")
	}

	table.SetOnline([]string{"plug001"}, false, device.SourceHeartbeat)
	if sw.Available() {
		t.Error("Available() = true for offline record")
	}

	ghost := NewSwitch("ghost001", table, &fakeCommander{})
	if ghost.Available() {
		t.Error("Available() = true for missing record")
	}
}

func TestCover_TracksPreviousState(t *testing.T) {
	table := newTable(t, device.Record{Topic: "curtain009", Type: device.TypeCover, RawState: "on#40", Online: true})
	cover := NewCover("curtain009", table, &fakeCommander{})

	if st := cover.State(); st.Position != 40 || st.Closed {
		t.Fatalf("State() = %+v", st)
	}

	// "pause" keeps the previous position.
	table.Patch("curtain009", "pause", device.SourcePush)
	if st := cover.State(); st.Position != 40 || st.Closed {
		t.Errorf("State() after pause = %+v, want position 40", st)
	}

	// A fresh adapter starts from the empty-payload state.
	fresh := NewCover("curtain009", table, &fakeCommander{})
	if st := fresh.State(); !st.Closed || st.Position != 0 {
		t.Errorf("fresh State() = %+v, want closed at 0", st)
	}
}

func TestSensor_ReadOnly(t *testing.T) {
	table := newTable(t, device.Record{Topic: "room004", Type: device.TypeSensor, RawState: "#21.5#40", Online: true})
	cmd := &fakeCommander{}
	sensor := NewSensor("room004", table, cmd)

	if err := sensor.Command(context.Background(), bemfa.SensorIntent{}); !errors.Is(err, ErrReadOnly) {
		t.Errorf("Command() error = %v, want ErrReadOnly", err)
	}
	if err := sensor.HandleCommand(context.Background(), json.RawMessage(`{}`)); !errors.Is(err, ErrReadOnly) {
		t.Errorf("HandleCommand() error = %v, want ErrReadOnly", err)
	}
	if len(cmd.commands) != 0 {
		t.Errorf("read-only sensor applied %d commands", len(cmd.commands))
	}

	caps := sensor.Capabilities()
	if !caps.ReadOnly || len(caps.Channels) != 2 {
		t.Errorf("Capabilities() = %+v, want read-only with 2 channels", caps)
	}
}

func TestAdapter_HandleCommand(t *testing.T) {
	table := newTable(t, device.Record{Topic: "fan003", Type: device.TypeFan, RawState: "off", Online: true})
	cmd := &fakeCommander{}
	fan := NewFan("fan003", table, cmd)

	tests := []struct {
		name     string
		body     string
		wantWire string
		wantErr  error
	}{
		{"turn on", `{"action":"turn_on","percentage":60,"oscillating":true}`, "on#3#1", nil},
		{"turn off", `{"action":"turn_off"}`, "off", nil},
		{"oscillate while off", `{"action":"oscillate","oscillating":true}`, "", ErrInvalidIntent},
		{"unknown field", `{"action":"turn_on","speed":3}`, "", ErrInvalidIntent},
		{"malformed json", `{"action":`, "", ErrInvalidIntent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fan.HandleCommand(context.Background(), json.RawMessage(tt.body))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("HandleCommand() error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("HandleCommand() error = %v", err)
			}
			if got := cmd.last().wire; got != tt.wantWire {
				t.Errorf("wire = %q, want %q", got, tt.wantWire)
			}
		})
	}
}

func TestAdapter_CommandErrorPassesThrough(t *testing.T) {
	table := newTable(t, device.Record{Topic: "plug001", Type: device.TypeSwitch, RawState: "off", Online: true})
	cmd := &fakeCommander{err: bemfa.ErrNotConnected}
	sw := NewSwitch("plug001", table, cmd)

	if err := sw.Command(context.Background(), bemfa.SwitchIntent{On: true}); !errors.Is(err, bemfa.ErrNotConnected) {
		t.Errorf("Command() error = %v, want ErrNotConnected", err)
	}
}

func TestAdapter_Render(t *testing.T) {
	table := newTable(t, device.Record{Topic: "ac005", Type: device.TypeClimate, RawState: "on#2#24#1#1#0", Online: true})
	view := NewClimate("ac005", table, &fakeCommander{}).Render()

	if view.UniqueID != "bemfa_to_homeassistant_ac005_climate" {
		t.Errorf("UniqueID = %q", view.UniqueID)
	}
	if view.Name != "ac005" {
		t.Errorf("Name = %q, want topic as default", view.Name)
	}
	if view.Manufacturer != bemfa.Manufacturer || view.RawState != "on#2#24#1#1#0" || !view.Available {
		t.Errorf("view = %+v", view)
	}
	st, ok := view.State.(bemfa.ClimateState)
	if !ok {
		t.Fatalf("State is %T, want bemfa.ClimateState", view.State)
	}
	if st.Mode != bemfa.ModeCool || st.TargetTemp != 24 {
		t.Errorf("State = %+v", st)
	}
	if !view.Capabilities.Supports(FeatureSwingMode) || len(view.Capabilities.HVACModes) != 6 {
		t.Errorf("Capabilities = %+v", view.Capabilities)
	}

	if _, err := json.Marshal(view); err != nil {
		t.Errorf("view does not marshal: %v", err)
	}
}

func TestNew(t *testing.T) {
	table := device.NewTable()
	for _, typ := range device.AllTypes {
		e, err := New(device.Record{Topic: "t", Type: typ}, table, &fakeCommander{})
		if err != nil {
			t.Fatalf("New(%s) error = %v", typ, err)
		}
		if e.Type() != typ || e.Capabilities().Platform != typ {
			t.Errorf("New(%s) built %s", typ, e.Type())
		}
	}
	if _, err := New(device.Record{Topic: "t", Type: "toaster"}, table, &fakeCommander{}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("New(toaster) error = %v, want ErrUnsupportedType", err)
	}
}
