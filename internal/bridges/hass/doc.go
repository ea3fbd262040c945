// Package hass exposes bridged Bemfa devices to Home Assistant through MQTT
// discovery on a local broker.
//
// # Topics
//
//	<prefix>/<component>/bemfa_<topic>/config            retained discovery config
//	<prefix>/sensor/bemfa_<topic>/<channel>/config       one per sensor channel
//	<base>/<topic>/state                                  retained JSON state
//	<base>/<topic>/availability                           retained online/offline
//	<base>/<topic>/set                                    JSON intent from Home Assistant
//
// Every discovery config lists two availability topics in "all" mode: the
// device's own and the bridge status topic carried by the client's LWT, so
// entities go unavailable when either the device or the bridge drops.
//
// Command payloads are the same JSON intents the REST API accepts. Discovery
// templates convert Home Assistant's native commands into them.
//
// When Home Assistant publishes "online" on <prefix>/status, every config and
// state is published again.
package hass
