// Package entity presents Bemfa devices as typed entities.
//
// Each device class is one instantiation of the generic Adapter, bound to its
// codec from package bemfa and a Capabilities descriptor. Adapters hold no
// state of their own beyond the last decoded value: they read the raw state
// from the device table and write commands through the coordinator.
//
// Registry keeps one adapter per topic. It is fed by coordinator changes and
// never deletes an adapter; a topic that vanishes from the cloud simply goes
// unavailable.
package entity
