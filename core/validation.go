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
	"math"
)

// ErrInvalidReport indicates an IngestionReport violates its accounting rules.
var ErrInvalidReport = errors.New("invalid ingestion report")

// ValidateVector checks an embedding vector against the domain rules.
//
// Validation rules:
//   - length must be in (0, MaxDimension]
//   - every element must be finite
func ValidateVector(v []float32) error {
	if len(v) == 0 || len(v) > MaxDimension {
		return &EmbeddingError{Kind: ErrInvalidDimension, Index: -1,
			Err: fmt.Errorf("dimension %d outside (0, %d]", len(v), MaxDimension)}
	}
	for i, f := range v {
		x := float64(f)
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return &EmbeddingError{Kind: ErrInvalidValue, Index: i}
		}
	}
	return nil
}

// ValidateReport checks the chunk accounting of a report.
//
// Validation rules:
//   - SuccessfulChunks + len(FailedChunks) == TotalChunks
//   - one vector ID per successful chunk
//   - at least one successful chunk
func ValidateReport(report *IngestionReport) error {
	if report == nil {
		return fmt.Errorf("%w: report is nil", ErrInvalidReport)
	}
	if report.SuccessfulChunks+len(report.FailedChunks) != report.TotalChunks {
		return fmt.Errorf("%w: %d successful + %d failed != %d total", ErrInvalidReport,
			report.SuccessfulChunks, len(report.FailedChunks), report.TotalChunks)
	}
	if len(report.VectorIDs) != report.SuccessfulChunks {
		return fmt.Errorf("%w: %d vector ids for %d successful chunks", ErrInvalidReport,
			len(report.VectorIDs), report.SuccessfulChunks)
	}
	if report.SuccessfulChunks == 0 {
		return fmt.Errorf("%w: %w", ErrInvalidReport, ErrNoSuccessfulEmbeddings)
	}
	return nil
}

// NormalizeVector normalizes a vector to unit length.
// Returns a new vector. If the input is a zero vector, returns a zero vector.
func NormalizeVector(v []float32) []float32 {
	if len(v) == 0 {
		return v
	}

	var magnitude float64
	for _, val := range v {
		magnitude += float64(val) * float64(val)
	}
	magnitude = math.Sqrt(magnitude)

	result := make([]float32, len(v))
	if magnitude == 0 {
		return result
	}
	for i, val := range v {
		result[i] = float32(float64(val) / magnitude)
	}
	return result
}
