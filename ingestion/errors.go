package ingestion

import "errors"

var (
	// ErrGatewayRequired is returned when a storage gateway is not provided.
	ErrGatewayRequired = errors.New("storage gateway required")

	// ErrIndexRequired is returned when a dedup index is not provided.
	ErrIndexRequired = errors.New("dedup index required")

	// ErrTaggerRequired is returned when a tagger is not provided.
	ErrTaggerRequired = errors.New("tagger required")

	// ErrEmbedderRequired is returned when an embedder is not provided.
	ErrEmbedderRequired = errors.New("embedder required")

	// ErrRegistryRequired is returned when a source adapter registry is not provided.
	ErrRegistryRequired = errors.New("source registry required")

	// ErrRunHalted is returned by Run when the store went away mid-run.
	ErrRunHalted = errors.New("ingestion run halted")
)
