package entity

import (
	"sort"
	"sync"

	"github.com/nerrad567/bemfa-bridge/internal/device"
)

// Logger is the logging interface used by the registry.
type Logger interface {
	Warn(msg string, keysAndValues ...any)
	Debug(msg string, keysAndValues ...any)
}

type noopLogger struct{}

func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Debug(string, ...any) {}

// Registry holds one entity per topic.
//
// Entities are created on first sight of a topic and never removed.
//
// Thread Safety: all methods are safe for concurrent use.
type Registry struct {
	states StateReader
	cmd    Commander

	mu       sync.RWMutex
	entities map[string]Entity

	logger   Logger
	loggerMu sync.RWMutex
}

// NewRegistry creates an empty registry.
//
// Parameters:
//   - states: shared by every entity the registry creates
//   - cmd: shared by every entity the registry creates
//
// Returns:
//   - *Registry: empty, with a no-op logger
func NewRegistry(states StateReader, cmd Commander) *Registry {
	return &Registry{
		states:   states,
		cmd:      cmd,
		entities: make(map[string]Entity),
		logger:   noopLogger{},
	}
}

// SetLogger sets the logger.
func (r *Registry) SetLogger(logger Logger) {
	if logger == nil {
		logger = noopLogger{}
	}
	r.loggerMu.Lock()
	r.logger = logger
	r.loggerMu.Unlock()
}

func (r *Registry) getLogger() Logger {
	r.loggerMu.RLock()
	defer r.loggerMu.RUnlock()
	return r.logger
}

// HandleChange is a coordinator subscriber. It creates the entity for a new
// topic and feeds the new raw state through its codec.
func (r *Registry) HandleChange(ch device.Change) {
	e := r.ensure(ch.Record)
	if e != nil {
		e.Observe(ch.Record.RawState)
	}
}

// Sync creates entities for records that do not have one yet.
func (r *Registry) Sync(records []device.Record) {
	for _, rec := range records {
		r.ensure(rec)
	}
}

func (r *Registry) ensure(rec device.Record) Entity {
	r.mu.RLock()
	e, ok := r.entities[rec.Topic]
	r.mu.RUnlock()
	if ok {
		return e
	}

	created, err := New(rec, r.states, r.cmd)
	if err != nil {
		r.getLogger().Warn("cannot build entity", "topic", rec.Topic, "error", err)
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entities[rec.Topic]; ok {
		return e
	}
	r.entities[rec.Topic] = created
	r.getLogger().Debug("entity created", "topic", rec.Topic, "type", rec.Type)
	return created
}

// Get returns the entity for a topic.
func (r *Registry) Get(topic string) (Entity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[topic]
	return e, ok
}

// Entities returns all entities sorted by topic.
func (r *Registry) Entities() []Entity {
	r.mu.RLock()
	out := make([]Entity, 0, len(r.entities))
	for _, e := range r.entities {
		out = append(out, e)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Topic() < out[j].Topic() })
	return out
}

// Views renders every entity, sorted by topic.
func (r *Registry) Views() []View {
	entities := r.Entities()
	views := make([]View, len(entities))
	for i, e := range entities {
		views[i] = e.Render()
	}
	return views
}

// Len returns the number of entities.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entities)
}
