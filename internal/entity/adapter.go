package entity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/bridges/bemfa"
	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// Codec translates between wire payloads and typed state.
type Codec[S, I any] interface {
	Decode(raw string, prev S) S
	Encode(intent I, current S) (string, error)
}

// StateReader reads device records. Satisfied by *device.Table.
type StateReader interface {
	Get(topic string) (device.Record, bool)
}

// Commander applies an encoded command. Satisfied by *coordinator.Coordinator.
type Commander interface {
	Apply(ctx context.Context, topic, wire string) error
}

// Entity is the type-erased view of an Adapter.
type Entity interface {
	Topic() string
	Type() device.Type
	UniqueID() string
	Available() bool
	Capabilities() Capabilities
	Render() View
	HandleCommand(ctx context.Context, raw json.RawMessage) error
	Observe(raw string)
}

// View is the rendered form of an entity.
type View struct {
	UniqueID     string       `json:"unique_id"`
	Topic        string       `json:"topic"`
	Name         string       `json:"name"`
	Type         device.Type  `json:"type"`
	Available    bool         `json:"available"`
	State        any          `json:"state"`
	Capabilities Capabilities `json:"capabilities"`
	RawState     string       `json:"raw_state"`
	Manufacturer string       `json:"manufacturer"`
	Model        string       `json:"model"`
	UpdatedAt    time.Time    `json:"updated_at,omitempty"`
}

// Adapter binds one topic to a codec.
type Adapter[S, I any] struct {
	topic  string
	typ    device.Type
	codec  Codec[S, I]
	caps   Capabilities
	refine func(Capabilities, string) Capabilities

	states StateReader
	cmd    Commander

	mu      sync.Mutex
	prev    S
	prevRaw string
	decoded bool
}

func newAdapter[S, I any](topic string, typ device.Type, codec Codec[S, I], caps Capabilities, states StateReader, cmd Commander) *Adapter[S, I] {
	var zero S
	return &Adapter[S, I]{
		topic:  topic,
		typ:    typ,
		codec:  codec,
		caps:   caps,
		states: states,
		cmd:    cmd,
		// Stateful codecs start from their empty-payload state.
		prev: codec.Decode("", zero),
	}
}

// Topic returns the device topic.
func (a *Adapter[S, I]) Topic() string { return a.topic }

// Type returns the device class.
func (a *Adapter[S, I]) Type() device.Type { return a.typ }

// UniqueID returns the stable entity id.
func (a *Adapter[S, I]) UniqueID() string { return bemfa.UniqueID(a.topic, a.typ) }

// Capabilities describes what the entity supports for its current state.
func (a *Adapter[S, I]) Capabilities() Capabilities {
	if a.refine == nil {
		return a.caps
	}
	rec, _ := a.states.Get(a.topic)
	return a.refine(a.caps, rec.RawState)
}

// Available reports the record's online flag. A missing record is unavailable.
func (a *Adapter[S, I]) Available() bool {
	rec, ok := a.states.Get(a.topic)
	return ok && rec.Online
}

// State decodes the current raw state.
func (a *Adapter[S, I]) State() S {
	rec, _ := a.states.Get(a.topic)
	return a.decode(rec.RawState)
}

// Observe feeds one raw state transition through the codec, so that codecs
// which depend on the previous state see every step.
func (a *Adapter[S, I]) Observe(raw string) {
	a.decode(raw)
}

func (a *Adapter[S, I]) decode(raw string) S {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.decoded && raw == a.prevRaw {
		return a.prev
	}
	a.prev = a.codec.Decode(raw, a.prev)
	a.prevRaw = raw
	a.decoded = true
	return a.prev
}

// Command encodes intent against the current state and applies it.
func (a *Adapter[S, I]) Command(ctx context.Context, intent I) error {
	if a.caps.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.topic)
	}

	wire, err := a.codec.Encode(intent, a.State())
	if err != nil {
		if errors.Is(err, bemfa.ErrReadOnly) {
			return fmt.Errorf("%w: %s", ErrReadOnly, a.topic)
		}
		return fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}
	return a.cmd.Apply(ctx, a.topic, wire)
}

// HandleCommand decodes a JSON intent and applies it. Unknown fields are
// rejected.
func (a *Adapter[S, I]) HandleCommand(ctx context.Context, raw json.RawMessage) error {
	if a.caps.ReadOnly {
		return fmt.Errorf("%w: %s", ErrReadOnly, a.topic)
	}

	var intent I
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&intent); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidIntent, err)
	}
	return a.Command(ctx, intent)
}

// Render returns the entity view.
func (a *Adapter[S, I]) Render() View {
	rec, ok := a.states.Get(a.topic)
	name := rec.Name
	if name == "" {
		name = a.topic
	}
	return View{
		UniqueID:     a.UniqueID(),
		Topic:        a.topic,
		Name:         name,
		Type:         a.typ,
		Available:    ok && rec.Online,
		State:        a.decode(rec.RawState),
		Capabilities: a.Capabilities(),
		RawState:     rec.RawState,
		Manufacturer: bemfa.Manufacturer,
		Model:        bemfa.Model,
		UpdatedAt:    rec.UpdatedAt,
	}
}
