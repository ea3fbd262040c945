package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/nerrad567/bemfa-bridge/internal/device"
	"github.com/nerrad567/bemfa-bridge/internal/infrastructure/config"
)

type eventKind int

const (
	eventUnion eventKind = iota
	eventPatch
	eventOffline
	eventLink
)

func (k eventKind) String() string {
	switch k {
	case eventUnion:
		return "union"
	case eventPatch:
		return "patch"
	case eventOffline:
		return "offline"
	case eventLink:
		return "link"
	default:
		return "unknown"
	}
}

// event is one unit of work for the loop. reply is nil for fire-and-forget
// events.
type event struct {
	kind      eventKind
	records   []device.Record
	topic     string
	raw       string
	source    device.Source
	connected bool
	reply     chan result
}

type result struct {
	changes []device.Change
	err     error
}

// submit enqueues ev and waits for the loop to apply it.
//
// If ctx ends after the event was queued, the loop still applies it; only
// the wait is abandoned.
func (c *Coordinator) submit(ctx context.Context, ev event) ([]device.Change, error) {
	ev.reply = make(chan result, 1)

	select {
	case c.events <- ev:
	case <-c.quit:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case r := <-ev.reply:
		return r.changes, r.err
	case <-c.done:
		return nil, ErrStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// trySend enqueues ev without blocking.
func (c *Coordinator) trySend(ev event) bool {
	select {
	case <-c.quit:
		return false
	default:
	}
	select {
	case c.events <- ev:
		return true
	default:
		return false
	}
}

// loop is the only goroutine that writes the table.
func (c *Coordinator) loop() {
	defer close(c.done)

	ticker := time.NewTicker(c.cfg.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case ev := <-c.events:
			r := c.apply(ev)
			if ev.reply != nil {
				ev.reply <- r
			}
		case <-ticker.C:
			c.RequestRefresh()
		}
	}
}

// apply runs one event against the table and notifies subscribers.
func (c *Coordinator) apply(ev event) result {
	var r result

	switch ev.kind {
	case eventUnion:
		offline := c.cfg.StalePolicy == config.StalePolicyOffline
		changes, missing, err := c.table.Reconcile(ev.records, ev.source, offline)
		if err != nil {
			// Per-record rejections; the rest of the listing was applied.
			c.logger.Warn("device list records rejected", "error", err)
		}
		if len(missing) > 0 {
			c.logger.Info("devices missing from listing marked offline", "topics", missing)
		}
		r.changes = changes

	case eventPatch:
		change, changed, err := c.table.Patch(ev.topic, ev.raw, ev.source)
		switch {
		case errors.Is(err, device.ErrRecordNotFound):
			r.err = errors.Join(ErrUnknownTopic, err)
		case err != nil:
			r.err = err
		case changed:
			r.changes = []device.Change{change}
		}

	case eventOffline:
		r.changes = c.table.MarkAllOffline(ev.source)
		if len(r.changes) > 0 {
			c.logger.Warn("all devices marked offline", "count", len(r.changes))
		}

	case eventLink:
		was := c.connected.Swap(ev.connected)
		if ev.connected && !was {
			c.RequestRefresh()
		}
	}

	c.notify(r.changes)
	return r
}

// notify dispatches changes to every subscriber in subscription order.
func (c *Coordinator) notify(changes []device.Change) {
	if len(changes) == 0 {
		return
	}

	c.subsMu.RLock()
	subs := make([]subscriber, len(c.subs))
	copy(subs, c.subs)
	c.subsMu.RUnlock()

	for _, ch := range changes {
		for _, s := range subs {
			c.dispatch(s, ch)
		}
	}
}

// dispatch calls one subscriber. A panic affects only this delivery.
func (c *Coordinator) dispatch(s subscriber, ch device.Change) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("subscriber panic recovered",
				"topic", ch.Record.Topic,
				"panic", r,
			)
		}
	}()
	s.fn(ch)
}
