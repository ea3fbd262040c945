// Package device holds the bridge's view of the Bemfa account: one Record per
// cloud topic, kept in a Table that the coordinator owns.
//
// The Table is copy-on-write. Readers take a snapshot through an atomic
// pointer and never block; writers (the coordinator loop) build a new map and
// swap it in. Every write returns the list of Changes it produced so callers
// can fan them out to adapters, the API hub and the history store.
//
// Records are never deleted. A topic that disappears from the cloud listing
// stays in the table and is either kept as-is or marked offline, depending on
// the stale policy chosen by the coordinator.
//
// Optional persistence lives in state_history*.go: a SQLite-backed log of
// every change, written asynchronously by HistoryWriter.
package device
