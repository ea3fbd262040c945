package influxdb

import "errors"

var (
	// ErrDisabled is returned by Connect when the section is switched off.
	ErrDisabled = errors.New("influxdb: disabled in configuration")

	ErrConnectionFailed = errors.New("influxdb: connection failed")
	ErrNotConnected     = errors.New("influxdb: not connected")

	// ErrWriteFailed wraps batch failures handed to the SetOnError callback.
	ErrWriteFailed = errors.New("influxdb: write failed")
)
