package inference

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docingest/core"
)

func TestNormalize_Shapes(t *testing.T) {
	tests := []struct {
		name string
		body string
		want []float32
	}{
		{name: "embedding field", body: `{"embedding":[0.1,0.2,0.3]}`, want: []float32{0.1, 0.2, 0.3}},
		{name: "embedding field nested", body: `{"embedding":[[0.1,0.2]]}`, want: []float32{0.1, 0.2}},
		{name: "embeddings field", body: `{"embeddings":[[1,2],[3,4]]}`, want: []float32{1, 2}},
		{name: "vectors field", body: `{"vectors":[[5,6]]}`, want: []float32{5, 6}},
		{name: "zero key", body: `{"0":[1,2,3]}`, want: []float32{1, 2, 3}},
		{name: "raw array", body: `[1,2,3]`, want: []float32{1, 2, 3}},
		{name: "array of arrays", body: `[[0.5,0.25]]`, want: []float32{0.5, 0.25}},
		{name: "five levels", body: `[[[[[[7,8]]]]]]`, want: []float32{7, 8}},
		{name: "numeric strings", body: `{"embedding":["1.5"," -2 ","3e-1"]}`, want: []float32{1.5, -2, 0.3}},
		{name: "string recovery", body: `"vector: [0.1, -0.2, 3]"`, want: []float32{0.1, -0.2, 3}},
		{name: "string inside array", body: `["[1,2]"]`, want: []float32{1, 2}},
		{name: "raw array of numeric strings", body: `["0.1","0.2","0.3"]`, want: []float32{0.1, 0.2, 0.3}},
		{name: "null embedding falls through", body: `{"embedding":null,"vectors":[[9]]}`, want: []float32{9}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Normalize([]byte(tt.body))
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.want, got, 1e-6)
		})
	}
}

func TestNormalize_Errors(t *testing.T) {
	tests := []struct {
		name  string
		body  string
		kind  error
		index int
	}{
		{name: "not json", body: `<html>oops</html>`, kind: core.ErrMalformedResponse, index: -1},
		{name: "empty body", body: ``, kind: core.ErrMalformedResponse, index: -1},
		{name: "object without vector", body: `{"result":"ok"}`, kind: core.ErrUnexpectedFormat, index: -1},
		{name: "number", body: `42`, kind: core.ErrUnexpectedFormat, index: -1},
		{name: "string without brackets", body: `"no vector here"`, kind: core.ErrUnexpectedFormat, index: -1},
		{name: "too deep", body: `[[[[[[[[1]]]]]]]]`, kind: core.ErrUnexpectedFormat, index: -1},
		{name: "bool element", body: `{"embedding":[0.1,true]}`, kind: core.ErrInvalidValue, index: 1},
		{name: "non numeric string", body: `{"embedding":["x"]}`, kind: core.ErrInvalidValue, index: 0},
		{name: "nan string", body: `{"embedding":[1,"NaN"]}`, kind: core.ErrInvalidValue, index: 1},
		{name: "float32 overflow", body: `{"embedding":[1e39]}`, kind: core.ErrInvalidValue, index: 0},
		{name: "empty vector", body: `{"embedding":[]}`, kind: core.ErrInvalidDimension, index: -1},
		{name: "empty bracket string", body: `"[ ]"`, kind: core.ErrInvalidValue, index: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Normalize([]byte(tt.body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)

			var ee *core.EmbeddingError
			require.ErrorAs(t, err, &ee)
			assert.Equal(t, tt.index, ee.Index)
		})
	}
}

func TestNormalize_DimensionBound(t *testing.T) {
	build := func(n int) []byte {
		b := []byte(`{"embedding":[`)
		for i := 0; i < n; i++ {
			if i > 0 {
				b = append(b, ',')
			}
			b = append(b, '1')
		}
		return append(b, ']', '}')
	}

	vec, err := Normalize(build(core.MaxDimension))
	require.NoError(t, err)
	assert.Len(t, vec, core.MaxDimension)

	_, err = Normalize(build(core.MaxDimension + 1))
	assert.ErrorIs(t, err, core.ErrInvalidDimension)
}
