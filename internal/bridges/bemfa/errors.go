package bemfa

import "errors"

// Domain errors for the Bemfa bridge package.
var (
	// ErrRefreshFailed is returned when the device-list endpoint cannot be
	// reached, answers with a non-2xx status, or returns a malformed body.
	ErrRefreshFailed = errors.New("bemfa: device list refresh failed")

	// ErrInvalidAPIKey is returned when the device-list endpoint rejects the key.
	ErrInvalidAPIKey = errors.New("bemfa: invalid api key")

	// ErrReadOnly is returned when encoding a command for a read-only device.
	ErrReadOnly = errors.New("bemfa: device is read-only")

	// ErrInvalidIntent is returned when a command cannot be encoded, such as
	// an unknown mode or oscillating a fan that is off.
	ErrInvalidIntent = errors.New("bemfa: invalid intent")

	// ErrNotConnected is returned when publishing while the cloud link is down.
	ErrNotConnected = errors.New("bemfa: not connected")
)
