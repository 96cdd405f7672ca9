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

package storage

import "errors"

// Run history errors. Badger and codec failures are wrapped around these.
var (
	ErrNotFound      = errors.New("run not found")
	ErrStorageClosed = errors.New("run history is closed")

	// ErrInvalidQuery rejects a nil run, an empty run ID or a bad list limit.
	ErrInvalidQuery = errors.New("invalid run query")

	ErrSerializationFailed = errors.New("run encoding failed")

	// ErrTruncatedData reports a length prefix that runs past the buffer.
	ErrTruncatedData = errors.New("run record truncated")
)
