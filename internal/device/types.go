package device

import (
	"fmt"
	"time"
)

// Type is the device class derived from a Bemfa topic suffix.
type Type string

// Device classes understood by the bridge.
const (
	TypeSwitch  Type = "switch"
	TypeLight   Type = "light"
	TypeFan     Type = "fan"
	TypeCover   Type = "cover"
	TypeClimate Type = "climate"
	TypeSensor  Type = "sensor"
)

// AllTypes lists every device class in a stable order.
var AllTypes = []Type{TypeSwitch, TypeLight, TypeFan, TypeCover, TypeClimate, TypeSensor}

// Valid reports whether t is one of the known device classes.
func (t Type) Valid() bool {
	switch t {
	case TypeSwitch, TypeLight, TypeFan, TypeCover, TypeClimate, TypeSensor:
		return true
	}
	return false
}

// ParseType converts a string to a Type.
func ParseType(s string) (Type, error) {
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("%w: unknown type %q", ErrInvalidRecord, s)
	}
	return t, nil
}

// Source identifies what produced a change to the table.
type Source string

// Change sources.
const (
	// SourceRefresh is a full listing pulled from the HTTP API.
	SourceRefresh Source = "refresh"

	// SourcePush is a state message received on a subscribed topic.
	SourcePush Source = "push"

	// SourceCommand is an optimistic update applied before a publish.
	SourceCommand Source = "command"

	// SourceHeartbeat is an availability change driven by the heartbeat.
	SourceHeartbeat Source = "heartbeat"
)

// Record is the bridge's knowledge of one cloud topic.
//
// RawState is the last '#'-delimited payload seen for the topic, either from
// the HTTP listing ("msg") or from a push. Online is the cloud's own flag,
// overridden by the heartbeat when the connection is lost.
type Record struct {
	Topic     string    `json:"topic"`
	Name      string    `json:"name"`
	Type      Type      `json:"type"`
	RawState  string    `json:"raw_state"`
	Online    bool      `json:"online"`
	UpdatedAt time.Time `json:"updated_at"`
}

// sameState reports whether two records would render identically.
func (r Record) sameState(other Record) bool {
	return r.Name == other.Name &&
		r.Type == other.Type &&
		r.RawState == other.RawState &&
		r.Online == other.Online
}

// Change describes one record transition produced by a table write.
type Change struct {
	// Record is the record after the write.
	Record Record `json:"record"`

	// Previous is the record before the write. Zero when Added is true.
	Previous Record `json:"previous"`

	// Added is true the first time a topic enters the table.
	Added bool `json:"added"`

	// Source is what triggered the write.
	Source Source `json:"source"`
}
