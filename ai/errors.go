package ai

import "errors"

var (
	// ErrEmptyResponse is returned when a model answers without any content.
	ErrEmptyResponse = errors.New("model returned an empty response")

	// ErrDimensionMismatch is returned when a provider returns a different number
	// of embeddings than texts it was given.
	ErrDimensionMismatch = errors.New("embedding count does not match input count")
)
