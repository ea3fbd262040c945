package entity

import "errors"

var (
	// ErrReadOnly is returned when commanding an entity that accepts no commands.
	ErrReadOnly = errors.New("entity: read-only")

	// ErrInvalidIntent is returned for malformed or unencodable commands.
	ErrInvalidIntent = errors.New("entity: invalid intent")

	// ErrNotFound is returned when no entity exists for a topic.
	ErrNotFound = errors.New("entity: not found")

	// ErrUnsupportedType is returned when building an adapter for an unknown type.
	ErrUnsupportedType = errors.New("entity: unsupported device type")
)
