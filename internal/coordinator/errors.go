package coordinator

import "errors"

var (
	// ErrStopped is returned by operations on a coordinator that is not running.
	ErrStopped = errors.New("coordinator: stopped")

	// ErrUnknownTopic is returned when commanding a topic the table does not hold.
	ErrUnknownTopic = errors.New("coordinator: unknown topic")

	// ErrAlreadyStarted is returned by a second call to Start.
	ErrAlreadyStarted = errors.New("coordinator: already started")
)
