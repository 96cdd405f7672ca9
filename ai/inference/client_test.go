package inference

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docingest/ai"
	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/retry"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...ai.ConfigOption) (*Client, *retry.FakeClock) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	opts = append([]ai.ConfigOption{ai.WithEmbeddingHost(server.URL)}, opts...)
	clock := retry.NewFakeClock(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))
	client, err := NewClient(ai.NewConfig(opts...), WithClock(clock))
	require.NoError(t, err)
	return client, clock
}

func TestClient_Embed(t *testing.T) {
	var got embedRequest
	client, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `{"embedding":[0.1,0.2,0.3]}`)
	})

	vec, err := client.Embed(context.Background(), "  hello world  ", 3)
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.1, 0.2, 0.3}, vec, 1e-6)
	assert.Equal(t, "hello world", got.Inputs)
	assert.Empty(t, clock.Sleeps())
}

func TestClient_EmbedEmptyInput(t *testing.T) {
	var calls atomic.Int32
	client, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	})

	_, err := client.Embed(context.Background(), " \n\t ", 3)
	assert.ErrorIs(t, err, core.ErrEmptyInput)
	assert.Zero(t, calls.Load())
	assert.Empty(t, clock.Sleeps())
}

func TestClient_BearerToken(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `[1,2]`)
	}, ai.WithAPIKey("secret"))

	_, err := client.EmbedText(context.Background(), "text")
	require.NoError(t, err)
}

func TestClient_Truncates(t *testing.T) {
	var got embedRequest
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		fmt.Fprint(w, `[1]`)
	}, ai.WithMaxInputChars(10))

	_, err := client.Embed(context.Background(), strings.Repeat("é", 25), 1)
	require.NoError(t, err)
	assert.Equal(t, 10, utf8.RuneCountInString(got.Inputs))
}

func TestClient_RetryDelays(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		sleeps []time.Duration
	}{
		{name: "ordinary failure", body: "upstream error", sleeps: []time.Duration{2 * time.Second, 2 * time.Second}},
		{name: "worker died", body: "Worker died unexpectedly", sleeps: []time.Duration{5 * time.Second, 10 * time.Second}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			client, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if calls.Add(1) < 3 {
					http.Error(w, tt.body, http.StatusInternalServerError)
					return
				}
				fmt.Fprint(w, `{"embedding":[1,2]}`)
			})

			vec, err := client.Embed(context.Background(), "text", 3)
			require.NoError(t, err)
			assert.Len(t, vec, 2)
			assert.Equal(t, int32(3), calls.Load())
			assert.Equal(t, tt.sleeps, clock.Sleeps())
		})
	}
}

func TestClient_ExhaustedReturnsLastError(t *testing.T) {
	var calls atomic.Int32
	client, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		if n < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		fmt.Fprint(w, `{"embedding":[]}`)
	})

	_, err := client.Embed(context.Background(), "text", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidDimension)
	assert.Equal(t, int32(3), calls.Load())
	assert.Len(t, clock.Sleeps(), 2)
}

func TestClient_InvalidValueRetriedUpToLimit(t *testing.T) {
	var calls atomic.Int32
	client, clock := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `{"embedding":[0.1,"abc"]}`)
	})

	_, err := client.Embed(context.Background(), "text", 3)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrInvalidValue)

	var ee *core.EmbeddingError
	require.ErrorAs(t, err, &ee)
	assert.Equal(t, 1, ee.Index)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, clock.Sleeps())
}

func TestClient_TransportErrorCarriesStatus(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model loading", http.StatusBadGateway)
	})

	_, err := client.Embed(context.Background(), "text", 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, core.ErrTransport)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "model loading")
}

func TestClient_ContextCanceled(t *testing.T) {
	var calls atomic.Int32
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		fmt.Fprint(w, `[1]`)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := client.Embed(ctx, "text", 3)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Zero(t, calls.Load())
}

func TestClient_EmbedTexts(t *testing.T) {
	client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		fmt.Fprintf(w, `{"embedding":[%d]}`, len(req.Inputs))
	}, ai.WithRequestsPerSecond(1000))

	vecs, err := client.EmbedTexts(context.Background(), []string{"a", "bb", "ccc"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}, {3}}, vecs)
}

func TestNewClient_Options(t *testing.T) {
	_, err := NewClient(ai.DefaultConfig(), WithHTTPClient(nil))
	assert.Error(t, err)

	_, err = NewClient(ai.DefaultConfig(), WithClock(nil))
	assert.Error(t, err)

	_, err = NewClient(ai.DefaultConfig(), WithLogger(nil))
	assert.Error(t, err)

	_, err = NewClient(ai.NewConfig(ai.WithMaxRetries(0)))
	assert.Error(t, err)

	c, err := NewClient(nil)
	require.NoError(t, err)
	assert.Nil(t, c.limiter)
}
