package device

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Table is the topic-keyed device table.
//
// Thread Safety:
//   - Get, Snapshot, Topics and Len are lock-free and may run concurrently
//     with writes; they see either the old or the new map, never a mix.
//   - Writes are serialised by an internal mutex. In the bridge the
//     coordinator loop is the only writer.
type Table struct {
	current atomic.Pointer[map[string]Record]
	writeMu sync.Mutex
	now     func() time.Time
}

// NewTable creates an empty table.
//
// Returns:
//   - *Table: empty, stamping records with UTC time.Now
func NewTable() *Table {
	t := &Table{now: func() time.Time { return time.Now().UTC() }}
	empty := make(map[string]Record)
	t.current.Store(&empty)
	return t
}

// SetClock overrides the timestamp source. Intended for tests.
func (t *Table) SetClock(now func() time.Time) {
	t.writeMu.Lock()
	t.now = now
	t.writeMu.Unlock()
}

func (t *Table) load() map[string]Record {
	return *t.current.Load()
}

// Get returns the record for topic.
func (t *Table) Get(topic string) (Record, bool) {
	rec, ok := t.load()[topic]
	return rec, ok
}

// Len returns the number of known topics.
func (t *Table) Len() int {
	return len(t.load())
}

// Topics returns every known topic in sorted order.
func (t *Table) Topics() []string {
	m := t.load()
	topics := make([]string, 0, len(m))
	for topic := range m {
		topics = append(topics, topic)
	}
	sort.Strings(topics)
	return topics
}

// Snapshot returns a copy of every record, sorted by topic.
func (t *Table) Snapshot() []Record {
	m := t.load()
	out := make([]Record, 0, len(m))
	for _, rec := range m {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out
}

// clone copies the current map for a write.
func (t *Table) clone() map[string]Record {
	old := t.load()
	next := make(map[string]Record, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	return next
}

func (t *Table) publish(next map[string]Record) {
	t.current.Store(&next)
}

// Union merges a refreshed listing into the table.
//
// New topics are added. Known topics take the listing's name, raw state and
// online flag. Topics absent from the listing are left untouched; use
// Reconcile to mark them offline in the same write.
//
// A record whose type differs from the one already stored is skipped and
// reported through an error wrapping ErrTypeConflict. Records with an empty
// topic or unknown type are skipped with ErrInvalidRecord. The remaining
// records are still applied, so the returned changes are valid even when the
// error is non-nil.
//
// Parameters:
//   - records: the listing, in any order
//   - source: what produced the listing, copied into every Change
//
// Returns:
//   - []Change: one entry per added or changed record
//   - error: joined per-record rejections, or nil
func (t *Table) Union(records []Record, source Source) ([]Change, error) {
	changes, _, err := t.Reconcile(records, source, false)
	return changes, err
}

// Reconcile is Union that can also mark every known topic absent from the
// listing offline. Both happen in one write: readers see the whole old table
// or the whole new one.
//
// Parameters:
//   - records: the listing, in any order
//   - source: what produced the listing, copied into every Change
//   - offlineMissing: mark known topics absent from records offline
//
// Returns:
//   - []Change: listing changes first, then offline transitions
//   - []string: topics absent from the listing, sorted (nil unless offlineMissing)
//   - error: joined per-record rejections, or nil
func (t *Table) Reconcile(records []Record, source Source, offlineMissing bool) ([]Change, []string, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	next := t.clone()
	now := t.now()
	var changes []Change
	var errs []error
	present := make(map[string]struct{}, len(records))

	for _, rec := range records {
		if rec.Topic == "" || !rec.Type.Valid() {
			errs = append(errs, fmt.Errorf("%w: topic %q type %q", ErrInvalidRecord, rec.Topic, rec.Type))
			continue
		}
		present[rec.Topic] = struct{}{}
		if rec.Name == "" {
			rec.Name = rec.Topic
		}

		prev, known := next[rec.Topic]
		if known && prev.Type != rec.Type {
			errs = append(errs, fmt.Errorf("%w: topic %q is %s, listing says %s",
				ErrTypeConflict, rec.Topic, prev.Type, rec.Type))
			continue
		}
		if known && prev.sameState(rec) {
			continue
		}

		rec.UpdatedAt = now
		next[rec.Topic] = rec
		change := Change{Record: rec, Source: source, Added: !known}
		if known {
			change.Previous = prev
		}
		changes = append(changes, change)
	}

	var missing []string
	if offlineMissing {
		for topic := range next {
			if _, ok := present[topic]; !ok {
				missing = append(missing, topic)
			}
		}
		sort.Strings(missing)
		for _, topic := range missing {
			prev := next[topic]
			if !prev.Online {
				continue
			}
			rec := prev
			rec.Online = false
			rec.UpdatedAt = now
			next[topic] = rec
			changes = append(changes, Change{Record: rec, Previous: prev, Source: source})
		}
	}

	if len(changes) > 0 {
		t.publish(next)
	}
	return changes, missing, errors.Join(errs...)
}

// Patch replaces the raw state of a known topic and marks it online.
//
// Parameters:
//   - topic: a topic already in the table
//   - raw: the new wire state
//   - source: what produced the state, copied into the Change
//
// Returns:
//   - Change: the transition, valid only when the bool is true
//   - bool: false when the write was a no-op
//   - error: ErrRecordNotFound for unknown topics
func (t *Table) Patch(topic, raw string, source Source) (Change, bool, error) {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	prev, ok := t.load()[topic]
	if !ok {
		return Change{}, false, fmt.Errorf("%w: %s", ErrRecordNotFound, topic)
	}

	rec := prev
	rec.RawState = raw
	rec.Online = true
	if rec.sameState(prev) {
		return Change{}, false, nil
	}
	rec.UpdatedAt = t.now()

	next := t.clone()
	next[topic] = rec
	t.publish(next)

	return Change{Record: rec, Previous: prev, Source: source}, true, nil
}

// SetOnline sets the online flag on the given topics. Unknown topics and
// topics already in the requested state are skipped.
//
// Parameters:
//   - topics: topics to change, in any order
//   - online: the flag to set
//   - source: copied into every Change
//
// Returns:
//   - []Change: one entry per topic whose flag changed
func (t *Table) SetOnline(topics []string, online bool, source Source) []Change {
	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	var next map[string]Record
	now := t.now()
	var changes []Change

	for _, topic := range topics {
		cur := t.load()
		if next != nil {
			cur = next
		}
		prev, ok := cur[topic]
		if !ok || prev.Online == online {
			continue
		}
		if next == nil {
			next = t.clone()
		}
		rec := prev
		rec.Online = online
		rec.UpdatedAt = now
		next[topic] = rec
		changes = append(changes, Change{Record: rec, Previous: prev, Source: source})
	}

	if next != nil {
		t.publish(next)
	}
	return changes
}

// MarkAllOffline marks every known topic offline.
func (t *Table) MarkAllOffline(source Source) []Change {
	return t.SetOnline(t.Topics(), false, source)
}

// Missing returns the known topics that are not in present, sorted.
func (t *Table) Missing(present []Record) []string {
	seen := make(map[string]struct{}, len(present))
	for _, rec := range present {
		seen[rec.Topic] = struct{}{}
	}
	var missing []string
	for _, topic := range t.Topics() {
		if _, ok := seen[topic]; !ok {
			missing = append(missing, topic)
		}
	}
	return missing
}
