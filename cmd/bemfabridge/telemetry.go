package main

import (
	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// pointWriter is satisfied by *influxdb.Client. Writes are non-blocking.
type pointWriter interface {
	WriteSensorReading(topic, channel string, value float64)
	WriteDeviceState(topic, deviceType, raw string, online bool)
}

// telemetry forwards table changes to the time-series store.
type telemetry struct {
	w pointWriter
}

func newTelemetry(w pointWriter) *telemetry {
	return &telemetry{w: w}
}

// HandleChange writes one device_state point per change and, for online
// sensors, one reading per channel present in the payload.
func (t *telemetry) HandleChange(ch device.Change) {
	rec := ch.Record
	t.w.WriteDeviceState(rec.Topic, string(rec.Type), rec.RawState, rec.Online)

	if rec.Type != device.TypeSensor || !rec.Online || rec.RawState == "" {
		return
	}
	// Availability-only changes carry no new reading.
	if !ch.Added && ch.Previous.RawState == rec.RawState {
		return
	}
	st := bemfa.SensorCodec{}.Decode(rec.RawState, bemfa.SensorState{})
	for _, info := range bemfa.AllSensorChannels() {
		if v, ok := st.Value(info.Channel); ok {
			t.w.WriteSensorReading(rec.Topic, string(info.Channel), v)
		}
	}
}
