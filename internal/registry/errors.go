package registry

import "errors"

var (
	// ErrResourceExhausted is returned when the registry is full or a unique
	// connection id could not be allocated.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrUnknownConnection is returned for ids that are not (or no longer)
	// registered.
	ErrUnknownConnection = errors.New("unknown connection")
)
