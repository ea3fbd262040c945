// Package logging builds the bridge's slog-based logger from the logging
// config section. JSON is the default format; text is for a terminal.
// Every entry carries service and version fields.
//
//	logging:
//	  level: info     # debug, info, warn, error
//	  format: json    # json, text
//	  output: stdout  # stdout, stderr
//
// The Bemfa API key is also the cloud MQTT client ID. Pass it through
// Redact before logging it.
package logging
