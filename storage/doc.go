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

// Package storage provides the storage abstraction layer for ingestion run
// history.
//
// A RunRepository records every ingestion attempt, successful or not, so
// operators can list recent runs and look up earlier runs of the same
// content. Runs are keyed by run ID and indexed by start time and by the
// blake2b content ID of the source text.
//
//	repo, err := badger.NewRunRepository(path)  // returns storage.RunRepository
//
// # Serialization
//
// Records are encoded with mus-go. See MarshalRun and UnmarshalRun.
//
// # Usage
//
// Use in tests with in-memory storage:
//
//	repo, err := badger.NewMemoryRunRepository()
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer repo.Close()
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines.
package storage
