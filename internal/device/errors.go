package device

import "errors"

// Domain errors for the device package.
//
// These errors can be checked using errors.Is() for error handling:
//
//	if errors.Is(err, device.ErrTypeConflict) {
//	    // configuration problem, not a transient failure
//	}
var (
	// ErrRecordNotFound is returned when a topic is not in the table.
	ErrRecordNotFound = errors.New("device: not found")

	// ErrInvalidRecord is returned when a record has no topic or an unknown type.
	ErrInvalidRecord = errors.New("device: invalid record")

	// ErrTypeConflict is returned when a refresh reports a different device
	// type for a topic that is already known. Types are fixed at first sight.
	ErrTypeConflict = errors.New("device: type conflict")

	// ErrInvalidTopic is returned when a history query has no topic.
	ErrInvalidTopic = errors.New("device: topic is required")
)
