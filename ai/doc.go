// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package ai provides abstractions for the external AI services used during ingestion.
//
// The package is designed around three interfaces:
//
//   - Embedder: Generates vector embeddings from chunk text
//   - Classifier: Returns a chat model's raw answer for a prompt and a chunk
//   - AIProvider: Aggregates both for initialization and shutdown
//
// # Implementation Packages
//
//   - ai/openai: OpenAI-compatible APIs (Ollama, LocalAI, vLLM) through langchaingo
//   - ai/gemini: Google Gemini through the generative-ai-go SDK
//   - ai/mock: Test doubles for unit testing without external dependencies
//
// Public constructors (openai.NewProvider, gemini.NewProvider) return interface
// types. Mock constructors return concrete types so tests can inject behavior
// and assert on call counts.
//
// # Rate Limiting
//
// NewRateLimitedClassifier and NewRateLimitedEmbedder wrap any implementation
// with a token-bucket limiter so that a run with many workers stays inside a
// provider's request quota.
//
// # Usage Example
//
//	cfg := ai.NewConfig(ai.WithProvider(ai.ProviderGemini), ai.WithAPIKey(key))
//	provider, err := gemini.NewProvider(ctx, cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer provider.Close()
//
//	answer, err := provider.Classifier().Classify(ctx, systemPrompt, chunkText)
//	vector, err := provider.Embedder().EmbedText(ctx, chunkText)
package ai
