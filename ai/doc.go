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

// Package ai provides abstractions for the embedding services used by the
// ingestion pipeline.
//
// The Embedder interface is implemented by:
//
//   - ai/inference: HTTP client for inference endpoints that accept
//     {"inputs": text} and answer with loosely shaped vectors
//   - ai/openai: OpenAI-compatible /v1/embeddings APIs via langchaingo
//   - ai/mock: test doubles
//
// Public constructors return concrete types where tests or callers need more
// than the interface (for example inference.Client.Embed with an explicit
// retry budget); mocks always return concrete types so tests can inject
// behavior and inspect call counts.
//
// Config carries the settings shared by all implementations: endpoint, model,
// input truncation and the retry budget.
package ai
