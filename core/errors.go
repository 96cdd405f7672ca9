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

package core

import (
	"errors"
	"fmt"
	"time"
)

// Embedding error kinds
var (
	// ErrEmptyInput indicates the text to embed was blank. Never retried.
	ErrEmptyInput = errors.New("empty input")

	// ErrMalformedResponse indicates the embedding response was not parseable.
	ErrMalformedResponse = errors.New("malformed response")

	// ErrUnexpectedFormat indicates no vector could be located in the response.
	ErrUnexpectedFormat = errors.New("unexpected embedding format")

	// ErrInvalidValue indicates a vector element is not a finite number.
	ErrInvalidValue = errors.New("invalid embedding value")

	// ErrInvalidDimension indicates an empty or oversized vector.
	ErrInvalidDimension = errors.New("invalid embedding dimension")

	// ErrTransport indicates the embedding service could not be reached
	// or answered with a non-success status.
	ErrTransport = errors.New("embedding transport failure")
)

// Index error kinds
var (
	// ErrConnectionFailed indicates the existence check failed for a reason
	// other than the index being absent.
	ErrConnectionFailed = errors.New("index connection failed")

	// ErrCreationFailed indicates every create-index attempt was rejected.
	ErrCreationFailed = errors.New("index creation failed")

	// ErrCreationTimeout indicates the index never became ready.
	ErrCreationTimeout = errors.New("index creation timed out")

	// ErrDimensionMismatch indicates the index dimension differs from the
	// run's embedding dimension.
	ErrDimensionMismatch = errors.New("index dimension mismatch")

	// ErrUpsertFailed indicates the batch upsert was rejected.
	ErrUpsertFailed = errors.New("index upsert failed")
)

// Ingestion error kinds
var (
	// ErrNoExtractableText indicates the source text was blank.
	ErrNoExtractableText = errors.New("no text extracted from document")

	// ErrNoSuccessfulEmbeddings indicates every chunk failed to embed.
	ErrNoSuccessfulEmbeddings = errors.New("no embeddings were successfully generated")
)

// EmbeddingError is returned by embedding clients.
// Index is the offending element position for ErrInvalidValue, -1 otherwise.
type EmbeddingError struct {
	Kind  error
	Index int
	Err   error
}

// NewEmbeddingError creates an EmbeddingError without an element index.
func NewEmbeddingError(kind, cause error) *EmbeddingError {
	return &EmbeddingError{Kind: kind, Index: -1, Err: cause}
}

func (e *EmbeddingError) Error() string {
	msg := e.Kind.Error()
	if e.Index >= 0 {
		msg = fmt.Sprintf("%s at index %d", msg, e.Index)
	}
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *EmbeddingError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IndexError is returned by the index lifecycle manager and upserts.
type IndexError struct {
	Kind  error
	Index string
	Err   error
}

// NewIndexError creates an IndexError for the named index.
func NewIndexError(kind error, index string, cause error) *IndexError {
	return &IndexError{Kind: kind, Index: index, Err: cause}
}

func (e *IndexError) Error() string {
	msg := fmt.Sprintf("%s: %q", e.Kind, e.Index)
	if e.Err != nil {
		msg = msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *IndexError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// IngestionError is a fatal outcome of an ingestion run.
type IngestionError struct {
	Kind   error
	Source string
}

func (e *IngestionError) Error() string {
	if e.Source == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Source)
}

func (e *IngestionError) Unwrap() error {
	return e.Kind
}

var classifications = []struct {
	kind error
	name string
}{
	{ErrEmptyInput, "EmptyInput"},
	{ErrMalformedResponse, "MalformedResponse"},
	{ErrUnexpectedFormat, "UnexpectedFormat"},
	{ErrInvalidValue, "InvalidValue"},
	{ErrInvalidDimension, "InvalidDimension"},
	{ErrTransport, "Transport"},
	{ErrConnectionFailed, "ConnectionFailed"},
	{ErrCreationFailed, "CreationFailed"},
	{ErrCreationTimeout, "CreationTimeout"},
	{ErrDimensionMismatch, "DimensionMismatch"},
	{ErrUpsertFailed, "UpsertFailed"},
	{ErrNoExtractableText, "NoExtractableText"},
	{ErrNoSuccessfulEmbeddings, "NoSuccessfulEmbeddings"},
}

// Classify returns the error classification name, or "Internal" for errors
// outside the taxonomy.
func Classify(err error) string {
	if err == nil {
		return ""
	}
	var ie *IngestionError
	if errors.As(err, &ie) {
		return classifyKind(ie.Kind)
	}
	var xe *IndexError
	if errors.As(err, &xe) {
		return classifyKind(xe.Kind)
	}
	var ee *EmbeddingError
	if errors.As(err, &ee) {
		return classifyKind(ee.Kind)
	}
	return classifyKind(err)
}

func classifyKind(err error) string {
	for _, c := range classifications {
		if errors.Is(err, c.kind) {
			return c.name
		}
	}
	return "Internal"
}

// ErrorOutcome is the user-visible body of a fatal run error.
type ErrorOutcome struct {
	Error          string    `json:"error" yaml:"error"`
	Message        string    `json:"message" yaml:"message"`
	Classification string    `json:"classification" yaml:"classification"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}

// NewErrorOutcome converts a fatal error into an ErrorOutcome.
func NewErrorOutcome(err error, now time.Time) ErrorOutcome {
	return ErrorOutcome{
		Error:          "An error occurred during processing",
		Message:        err.Error(),
		Classification: Classify(err),
		Timestamp:      now.UTC(),
	}
}
