package sources

import "errors"

var (
	// ErrAdapterNotFound is returned when no adapter is registered for a source type.
	ErrAdapterNotFound = errors.New("no adapter registered for source type")

	// ErrInvalidSeed is returned when a seed entry is missing a field or has an unknown type.
	ErrInvalidSeed = errors.New("invalid seed")

	// ErrInvalidURL is returned when a target URL cannot be used as an external identifier.
	ErrInvalidURL = errors.New("invalid url")
)
