// Bemfa Bridge mirrors the devices of a Bemfa cloud account into a local
// device table and keeps both sides in sync.
//
// The bridge polls the Bemfa device list, listens on the Bemfa MQTT broker
// for pushed states, and re-publishes every device to an optional local
// Home Assistant broker, an HTTP/WebSocket API, SQLite history and InfluxDB.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// getConfigPath returns the configuration file path.
// The --config flag wins over BEMFA_CONFIG, which wins over the default.
func getConfigPath() string {
	if flagConfig != "" {
		return flagConfig
	}
	if path := os.Getenv("BEMFA_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}
