// Package mock provides test double implementations of AI service interfaces.
//
// This package contains mock implementations of ai.Embedder, ai.Classifier,
// and ai.AIProvider for use in unit tests. The mocks allow tests to run without
// external AI service dependencies and enable controlled, deterministic behavior.
// All mocks are safe for concurrent use, so they can back a pipeline running
// on a worker pool.
//
// # Usage in Tests
//
//	// Basic usage with default behavior
//	mockProvider := mock.NewMockProvider()
//	embeddings, err := mockProvider.Embedder().EmbedText(ctx, "test")
//
//	// Custom behavior injection
//	classifier := mock.NewMockClassifier()
//	classifier.ClassifyFunc = func(ctx context.Context, prompt, text string) (string, error) {
//	    return "", context.DeadlineExceeded
//	}
//
//	// Check call counts
//	count := classifier.CallCount()
//
// # Default Behavior
//
//   - MockEmbedder: Returns deterministic unit vectors based on text hash
//   - MockClassifier: Returns valid tag JSON with issues picked from keywords
//   - MockProvider: Aggregates mock embedder and classifier
package mock
