package entity

import (
	"fmt"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// Concrete adapter types, one per device class.
type (
	Switch  = Adapter[bemfa.SwitchState, bemfa.SwitchIntent]
	Light   = Adapter[bemfa.LightState, bemfa.LightIntent]
	Fan     = Adapter[bemfa.FanState, bemfa.FanIntent]
	Cover   = Adapter[bemfa.CoverState, bemfa.CoverIntent]
	Climate = Adapter[bemfa.ClimateState, bemfa.ClimateIntent]
	Sensor  = Adapter[bemfa.SensorState, bemfa.SensorIntent]
)

// NewSwitch creates a switch adapter.
func NewSwitch(topic string, states StateReader, cmd Commander) *Switch {
	return newAdapter[bemfa.SwitchState, bemfa.SwitchIntent](topic, device.TypeSwitch, bemfa.SwitchCodec{}, switchCapabilities(), states, cmd)
}

// NewLight creates a light adapter.
func NewLight(topic string, states StateReader, cmd Commander) *Light {
	return newAdapter[bemfa.LightState, bemfa.LightIntent](topic, device.TypeLight, bemfa.LightCodec{}, lightCapabilities(), states, cmd)
}

// NewFan creates a fan adapter.
func NewFan(topic string, states StateReader, cmd Commander) *Fan {
	return newAdapter[bemfa.FanState, bemfa.FanIntent](topic, device.TypeFan, bemfa.FanCodec{}, fanCapabilities(), states, cmd)
}

// NewCover creates a cover adapter.
func NewCover(topic string, states StateReader, cmd Commander) *Cover {
	return newAdapter[bemfa.CoverState, bemfa.CoverIntent](topic, device.TypeCover, bemfa.CoverCodec{}, coverCapabilities(), states, cmd)
}

// NewClimate creates a climate adapter.
func NewClimate(topic string, states StateReader, cmd Commander) *Climate {
	return newAdapter[bemfa.ClimateState, bemfa.ClimateIntent](topic, device.TypeClimate, bemfa.ClimateCodec{}, climateCapabilities(), states, cmd)
}

// NewSensor creates a read-only sensor adapter. Its capabilities list the
// channels present in the current payload.
func NewSensor(topic string, states StateReader, cmd Commander) *Sensor {
	a := newAdapter[bemfa.SensorState, bemfa.SensorIntent](topic, device.TypeSensor, bemfa.SensorCodec{}, sensorCapabilities(), states, cmd)
	a.refine = sensorChannels
	return a
}

// New builds the adapter for a record's device class.
//
// Parameters:
//   - rec: the table record; only Topic and Type are read
//   - states: where the adapter reads current state
//   - cmd: where the adapter sends encoded commands
//
// Returns:
//   - Entity: the adapter for rec.Type
//   - error: ErrUnsupportedType for an unknown class
func New(rec device.Record, states StateReader, cmd Commander) (Entity, error) {
	switch rec.Type {
	case device.TypeSwitch:
		return NewSwitch(rec.Topic, states, cmd), nil
	case device.TypeLight:
		return NewLight(rec.Topic, states, cmd), nil
	case device.TypeFan:
		return NewFan(rec.Topic, states, cmd), nil
	case device.TypeCover:
		return NewCover(rec.Topic, states, cmd), nil
	case device.TypeClimate:
		return NewClimate(rec.Topic, states, cmd), nil
	case device.TypeSensor:
		return NewSensor(rec.Topic, states, cmd), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedType, rec.Type)
	}
}
