// Package bemfa speaks the Bemfa cloud protocol.
//
// It covers three concerns:
//
//   - Classification: mapping a topic to a device class by its 3-character
//     suffix code, with a substring fallback (registry.go).
//   - Wire codecs: one Decode/Encode pair per device class for the
//     '#'-delimited payloads (switch.go, light.go, fan.go, cover.go,
//     climate.go, sensor.go). Decoding is total; malformed input resolves to
//     documented defaults.
//   - Transport: the HTTP device list (client.go) and the MQTT link with its
//     hassping heartbeat (transport.go, heartbeat.go).
//
// # Wire format
//
// A payload is a list of fields separated by '#'. The first field is the
// power or action token ("on", "off", "pause"); the rest are positional:
//
//	light    on#<brightness%>#<kelvin>
//	fan      on#<speed 1-4>#<oscillate 0/1>
//	cover    on#<position> | off | pause
//	climate  on#<mode 1-5>#<temp>#<fan 0-3>#<swingH>#<swingV>
//	sensor   #<temp>#<humidity>#<switch>#<lux>#<pm2.5>#<heart rate>
//
// Commands are published to "<topic>/set"; state arrives on "<topic>".
package bemfa
