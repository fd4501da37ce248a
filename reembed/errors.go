package reembed

import "errors"

var (
	// ErrGatewayRequired is returned when a storage gateway is not provided.
	ErrGatewayRequired = errors.New("storage gateway required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")
)
