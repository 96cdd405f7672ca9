package core

import (
	"errors"
	"math"
	"testing"
)

func TestValidateVector(t *testing.T) {
	tests := []struct {
		name      string
		vector    []float32
		wantErr   error
		wantIndex int
	}{
		{name: "valid vector", vector: []float32{0.1, -0.2, 3}},
		{name: "empty vector", vector: nil, wantErr: ErrInvalidDimension, wantIndex: -1},
		{name: "oversized vector", vector: make([]float32, MaxDimension+1), wantErr: ErrInvalidDimension, wantIndex: -1},
		{name: "max dimension allowed", vector: make([]float32, MaxDimension)},
		{name: "NaN element", vector: []float32{1, float32(math.NaN())}, wantErr: ErrInvalidValue, wantIndex: 1},
		{name: "infinite element", vector: []float32{float32(math.Inf(1)), 1}, wantErr: ErrInvalidValue, wantIndex: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateVector(tt.vector)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateVector() error = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateVector() error = %v, want %v", err, tt.wantErr)
			}
			var ee *EmbeddingError
			if !errors.As(err, &ee) {
				t.Fatalf("ValidateVector() error is not an EmbeddingError")
			}
			if ee.Index != tt.wantIndex {
				t.Errorf("Index = %d, want %d", ee.Index, tt.wantIndex)
			}
		})
	}
}

func TestValidateReport(t *testing.T) {
	tests := []struct {
		name    string
		report  *IngestionReport
		wantErr bool
	}{
		{
			name:   "balanced report",
			report: &IngestionReport{TotalChunks: 3, SuccessfulChunks: 2, FailedChunks: []FailedChunk{{Index: 0}}, VectorIDs: []string{"a", "b"}},
		},
		{
			name:    "nil report",
			report:  nil,
			wantErr: true,
		},
		{
			name:    "unbalanced counts",
			report:  &IngestionReport{TotalChunks: 3, SuccessfulChunks: 1, VectorIDs: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "missing vector ids",
			report:  &IngestionReport{TotalChunks: 2, SuccessfulChunks: 2, VectorIDs: []string{"a"}},
			wantErr: true,
		},
		{
			name:    "no successes",
			report:  &IngestionReport{TotalChunks: 1, FailedChunks: []FailedChunk{{Index: 0}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateReport(tt.report)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateReport() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidReport) {
				t.Errorf("ValidateReport() error should wrap ErrInvalidReport, got %v", err)
			}
		})
	}
}

func TestNormalizeVector(t *testing.T) {
	got := NormalizeVector([]float32{3, 4})
	if math.Abs(float64(got[0])-0.6) > 1e-6 || math.Abs(float64(got[1])-0.8) > 1e-6 {
		t.Errorf("NormalizeVector() = %v, want [0.6 0.8]", got)
	}

	zero := NormalizeVector([]float32{0, 0, 0})
	for _, v := range zero {
		if v != 0 {
			t.Errorf("NormalizeVector() of zero vector = %v", zero)
		}
	}

	if out := NormalizeVector(nil); len(out) != 0 {
		t.Errorf("NormalizeVector(nil) = %v", out)
	}
}
