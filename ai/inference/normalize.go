package inference

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/poiesic/docingest/core"
)

// maxUnwrapDepth bounds how many levels of [[...]] nesting are peeled off.
const maxUnwrapDepth = 5

var bracketedVector = regexp.MustCompile(`\[([-\d.,\s]+)\]`)

// rule is one normalization step. Rules are pure and run in order.
type rule func(v any) (any, error)

var rules = []rule{
	selectCandidate,
	unwrapNested,
	recoverString,
	coerceValues,
	checkDimension,
}

// Normalize converts a raw embedding response body into a vector.
//
// Accepted shapes include:
//   - {"embedding": [..]}, {"embeddings": [[..]]}, {"vectors": [[..]]}
//   - {"0": [..]} and bare arrays, nested up to five levels deep
//   - strings containing a bracketed list such as "[0.1, 0.2]"
//
// Numeric strings are coerced. Any element that is not a finite float32
// fails with core.ErrInvalidValue.
func Normalize(body []byte) ([]float32, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, core.NewEmbeddingError(core.ErrMalformedResponse, err)
	}

	var err error
	for _, r := range rules {
		if v, err = r(v); err != nil {
			return nil, err
		}
	}
	return v.([]float32), nil
}

// selectCandidate picks the value most likely to hold the vector.
func selectCandidate(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for _, key := range []string{"embedding", "embeddings", "vectors", "0"} {
			if c, ok := t[key]; ok && c != nil {
				return c, nil
			}
		}
		return t, nil
	case []any:
		if len(t) > 0 {
			switch first := t[0].(type) {
			case []any:
				return first, nil
			case string:
				// A bare list of numeric strings is the vector itself.
				if strings.Contains(first, "[") {
					return first, nil
				}
			}
		}
		return t, nil
	default:
		return v, nil
	}
}

// unwrapNested takes the first element while the value is an array of arrays.
func unwrapNested(v any) (any, error) {
	for depth := 0; ; depth++ {
		arr, ok := v.([]any)
		if !ok || len(arr) == 0 {
			return v, nil
		}
		inner, ok := arr[0].([]any)
		if !ok {
			return v, nil
		}
		if depth == maxUnwrapDepth {
			return nil, core.NewEmbeddingError(core.ErrUnexpectedFormat,
				fmt.Errorf("nested deeper than %d levels", maxUnwrapDepth))
		}
		v = inner
	}
}

// recoverString extracts a bracketed number list from a string candidate.
// Anything that is still not an array after this rule is rejected.
func recoverString(v any) (any, error) {
	switch t := v.(type) {
	case []any:
		return t, nil
	case string:
		m := bracketedVector.FindStringSubmatch(t)
		if m == nil {
			return nil, core.NewEmbeddingError(core.ErrUnexpectedFormat,
				fmt.Errorf("no vector found in string response"))
		}
		parts := strings.Split(m[1], ",")
		out := make([]any, len(parts))
		for i, p := range parts {
			out[i] = strings.TrimSpace(p)
		}
		return out, nil
	default:
		return nil, core.NewEmbeddingError(core.ErrUnexpectedFormat,
			fmt.Errorf("got %T, want an array", v))
	}
}

// coerceValues converts every element to a finite float32.
func coerceValues(v any) (any, error) {
	arr := v.([]any)
	out := make([]float32, len(arr))
	for i, el := range arr {
		f, ok := toFloat(el)
		if !ok || math.IsNaN(f) || math.IsInf(f, 0) || math.Abs(f) > math.MaxFloat32 {
			return nil, &core.EmbeddingError{Kind: core.ErrInvalidValue, Index: i}
		}
		out[i] = float32(f)
	}
	return out, nil
}

func toFloat(el any) (float64, bool) {
	var s string
	switch t := el.(type) {
	case json.Number:
		s = t.String()
	case string:
		s = strings.TrimSpace(t)
	case float64:
		return t, true
	default:
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

func checkDimension(v any) (any, error) {
	vec := v.([]float32)
	if len(vec) == 0 || len(vec) > core.MaxDimension {
		return nil, core.NewEmbeddingError(core.ErrInvalidDimension,
			fmt.Errorf("dimension %d outside (0, %d]", len(vec), core.MaxDimension))
	}
	return vec, nil
}
