package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Measurement names written by the bridge.
const (
	MeasurementSensor = "bemfa_sensor"
	MeasurementDevice = "bemfa_device"
)

// WriteSensorReading records one sensor channel value.
//
// Example:
//
//	client.WriteSensorReading("temp004", "temperature", 21.5)
func (c *Client) WriteSensorReading(topic, channel string, value float64) {
	c.writePoint(MeasurementSensor,
		map[string]string{"topic": topic, "channel": channel},
		map[string]any{"value": value},
		time.Now(),
	)
}

// WriteDeviceState records the availability and raw payload of a device.
// High-cardinality raw strings go in a field, not a tag.
func (c *Client) WriteDeviceState(topic, deviceType, raw string, online bool) {
	c.writePoint(MeasurementDevice,
		map[string]string{"topic": topic, "type": deviceType},
		map[string]any{"online": online, "raw": raw},
		time.Now(),
	)
}

func (c *Client) writePoint(measurement string, tags map[string]string, fields map[string]any, ts time.Time) {
	if !c.IsConnected() {
		return
	}
	c.writeAPI.WritePoint(write.NewPoint(measurement, tags, fields, ts))
}
