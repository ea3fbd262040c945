// Package config loads the bridge configuration from a YAML file, applies
// BEMFA_* environment overrides and validates the result.
//
// Secrets are better supplied through the environment than the file:
// BEMFA_API_KEY for the account key (which is also the cloud MQTT client
// ID), BEMFA_HASS_MQTT_PASSWORD and BEMFA_INFLUXDB_TOKEN for the optional
// sinks.
//
//	cfg, err := config.Load("configs/config.yaml")
//	if err != nil {
//	    return err
//	}
package config
