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

// Package index manages the lifecycle of a remote vector index.
//
// A Service is the narrow view of a vector database the pipeline needs:
// describe, create and upsert. Backends live in subpackages (pinecone,
// qdrant) and a test double in index/mock.
//
// The Manager brings a named index to the Ready state:
//
//	Unknown --describe ok--> Ready
//	Unknown --not found--> Creating --describe ok--> Ready
//	Creating --60 failed polls--> CreationTimeout
//
// Creation first tries a serverless spec and falls back to a capacity
// (pod) spec. The dimension comes from the caller, from a single sample
// embedding, or from Config.DefaultDimension, in that order.
//
// Example:
//
//	mgr, err := index.NewManager(pineconeClient, index.DefaultConfig(),
//	    index.WithEmbedder(embedder),
//	)
//	desc, err := mgr.EnsureReady(ctx, "docs", 0)
package index
