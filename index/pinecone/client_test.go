package pinecone

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/pinecone-io/go-pinecone/v5/pinecone"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
)

type fakeControl struct {
	mu         sync.Mutex
	indexes    map[string]*pinecone.Index
	ready      bool
	serverless []*pinecone.CreateServerlessIndexRequest
	pods       []*pinecone.CreatePodIndexRequest
	createErr  error
}

func newFakeControl() *fakeControl {
	return &fakeControl{indexes: make(map[string]*pinecone.Index), ready: true}
}

func (f *fakeControl) add(name string, dimension int32) {
	f.indexes[name] = &pinecone.Index{
		Name:      name,
		Dimension: &dimension,
		Metric:    pinecone.Cosine,
		Host:      name + "-abc.svc.pinecone.io",
	}
}

func (f *fakeControl) DescribeIndex(ctx context.Context, name string) (*pinecone.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	model, ok := f.indexes[name]
	if !ok {
		return nil, &pinecone.PineconeError{Code: http.StatusNotFound, Msg: errors.New("failed to describe index: NOT_FOUND")}
	}
	out := *model
	state := pinecone.Ready
	if !f.ready {
		state = pinecone.Initializing
	}
	out.Status = &pinecone.IndexStatus{Ready: f.ready, State: state}
	return &out, nil
}

func (f *fakeControl) create(name string, dimension int32, metric *pinecone.IndexMetric) (*pinecone.Index, error) {
	if f.createErr != nil {
		return nil, f.createErr
	}
	if _, ok := f.indexes[name]; ok {
		return nil, &pinecone.PineconeError{Code: http.StatusConflict, Msg: errors.New("ALREADY_EXISTS")}
	}
	f.add(name, dimension)
	f.indexes[name].Metric = *metric
	return f.indexes[name], nil
}

func (f *fakeControl) CreateServerlessIndex(ctx context.Context, in *pinecone.CreateServerlessIndexRequest) (*pinecone.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.serverless = append(f.serverless, in)
	return f.create(in.Name, *in.Dimension, in.Metric)
}

func (f *fakeControl) CreatePodIndex(ctx context.Context, in *pinecone.CreatePodIndexRequest) (*pinecone.Index, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pods = append(f.pods, in)
	return f.create(in.Name, in.Dimension, in.Metric)
}

type fakeData struct {
	mu        sync.Mutex
	host      string
	namespace string
	batches   [][]*pinecone.Vector
	filters   []map[string]any
	stats     *pinecone.DescribeIndexStatsResponse
	statsErr  error
	upsertErr error
	closed    bool
}

func (f *fakeData) UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return 0, f.upsertErr
	}
	f.batches = append(f.batches, in)
	return uint32(len(in)), nil
}

func (f *fakeData) DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error) {
	if f.statsErr != nil {
		return nil, f.statsErr
	}
	if f.stats == nil {
		return &pinecone.DescribeIndexStatsResponse{}, nil
	}
	return f.stats, nil
}

func (f *fakeData) DeleteVectorsByFilter(ctx context.Context, filter *pinecone.MetadataFilter) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters = append(f.filters, filter.AsMap())
	return nil
}

func (f *fakeData) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// testClient wires a Client to fakes and returns every data plane it dials.
func testClient(t *testing.T, control *fakeControl, data *fakeData) (*Client, *[]string) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	cfg.Namespace = "docs-ns"

	var dials []string
	c, err := NewClient(cfg,
		WithControlPlane(control),
		WithConnector(func(host, namespace string) (DataPlane, error) {
			dials = append(dials, host)
			data.host = host
			data.namespace = namespace
			return data, nil
		}),
	)
	require.NoError(t, err)
	return c, &dials
}

func TestClient_DescribeIndex(t *testing.T) {
	control := newFakeControl()
	data := &fakeData{stats: &pinecone.DescribeIndexStatsResponse{
		TotalVectorCount: 40,
		Namespaces: map[string]*pinecone.NamespaceSummary{
			"docs-ns": {VectorCount: 12},
			"other":   {VectorCount: 28},
		},
	}}
	c, dials := testClient(t, control, data)

	_, err := c.DescribeIndex(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrNotFound)
	assert.True(t, index.IsNotFound(err))

	control.add("docs", 128)
	stats, err := c.DescribeIndex(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, "docs", stats.Name)
	assert.Equal(t, 128, stats.Dimension)
	assert.Equal(t, core.MetricCosine, stats.Metric)
	assert.Equal(t, "docs-abc.svc.pinecone.io", stats.Host)
	assert.Equal(t, int64(12), stats.VectorCount)

	assert.Equal(t, []string{"docs-abc.svc.pinecone.io"}, *dials)
	assert.Equal(t, "docs-ns", data.namespace)
}

func TestClient_DescribeIndexTotalCount(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 8)
	data := &fakeData{stats: &pinecone.DescribeIndexStatsResponse{TotalVectorCount: 40}}

	cfg := DefaultConfig()
	cfg.APIKey = "test-key"
	c, err := NewClient(cfg, WithControlPlane(control), WithConnector(func(string, string) (DataPlane, error) {
		return data, nil
	}))
	require.NoError(t, err)

	stats, err := c.DescribeIndex(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, int64(40), stats.VectorCount)
}

func TestClient_DescribeIndexStatsFailure(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 8)
	data := &fakeData{statsErr: errors.New("unavailable")}
	c, _ := testClient(t, control, data)

	stats, err := c.DescribeIndex(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 8, stats.Dimension)
	assert.Zero(t, stats.VectorCount)
}

func TestClient_DescribeIndexNotReady(t *testing.T) {
	control := newFakeControl()
	control.ready = false
	control.add("docs", 8)
	c, dials := testClient(t, control, &fakeData{})

	_, err := c.DescribeIndex(context.Background(), "docs")
	assert.ErrorIs(t, err, index.ErrNotReady)
	assert.False(t, index.IsNotFound(err))
	assert.Contains(t, err.Error(), "Initializing")
	assert.Empty(t, *dials)
}

func TestClient_CreateIndexSpecs(t *testing.T) {
	control := newFakeControl()
	c, _ := testClient(t, control, &fakeData{})

	require.NoError(t, c.CreateIndex(context.Background(), index.CreateRequest{
		Name: "a", Dimension: 4, Metric: core.MetricDotProduct,
		Spec: index.Spec{Serverless: &index.ServerlessSpec{Cloud: "aws", Region: "us-east-1"}},
	}))
	require.Len(t, control.serverless, 1)
	req := control.serverless[0]
	assert.Equal(t, pinecone.Aws, req.Cloud)
	assert.Equal(t, "us-east-1", req.Region)
	assert.Equal(t, int32(4), *req.Dimension)
	assert.Equal(t, pinecone.Dotproduct, *req.Metric)

	require.NoError(t, c.CreateIndex(context.Background(), index.CreateRequest{
		Name: "b", Dimension: 4, Metric: core.MetricCosine,
		Spec: index.Spec{Capacity: &index.CapacitySpec{Environment: "us-east-1-aws", PodType: "p1.x1"}},
	}))
	require.Len(t, control.pods, 1)
	pod := control.pods[0]
	assert.Equal(t, "p1.x1", pod.PodType)
	assert.Equal(t, "us-east-1-aws", pod.Environment)
	assert.Equal(t, int32(1), pod.Shards)

	err := c.CreateIndex(context.Background(), index.CreateRequest{
		Name: "b", Dimension: 4, Metric: core.MetricCosine,
		Spec: index.Spec{Capacity: &index.CapacitySpec{Environment: "us-east-1-aws", PodType: "p1.x1", Pods: 2}},
	})
	assert.ErrorIs(t, err, index.ErrAlreadyExists)
	assert.True(t, index.IsAlreadyExists(err))

	assert.Error(t, c.CreateIndex(context.Background(), index.CreateRequest{Name: "c", Dimension: 4}))
}

func TestClient_CreateIndexForbidden(t *testing.T) {
	control := newFakeControl()
	control.createErr = &pinecone.PineconeError{Code: http.StatusForbidden, Msg: errors.New("FORBIDDEN")}
	c, _ := testClient(t, control, &fakeData{})

	err := c.CreateIndex(context.Background(), index.CreateRequest{
		Name: "a", Dimension: 4, Metric: core.MetricCosine,
		Spec: index.Spec{Serverless: &index.ServerlessSpec{Cloud: "aws", Region: "blocked"}},
	})
	var pe *pinecone.PineconeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusForbidden, pe.Code)
	assert.False(t, index.IsAlreadyExists(err))
}

func TestClient_UpsertBatches(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 2)
	data := &fakeData{}
	c, dials := testClient(t, control, data)

	records := make([]core.UpsertRecord, 250)
	ts := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	for i := range records {
		records[i] = core.UpsertRecord{
			ID:     fmt.Sprintf("id-%d", i),
			Values: []float32{float32(i), 1},
			Metadata: core.ChunkMetadata{
				Source: "doc.pdf", ChunkIndex: i, TotalChunks: 250,
				TextLength: 5, Text: "hello", Timestamp: ts,
			},
		}
	}

	require.NoError(t, c.Upsert(context.Background(), "docs", records))
	require.Len(t, data.batches, 3)
	assert.Len(t, data.batches[0], 100)
	assert.Len(t, data.batches[1], 100)
	assert.Len(t, data.batches[2], 50)

	first := data.batches[0][0]
	assert.Equal(t, "id-0", first.Id)
	require.NotNil(t, first.Values)
	assert.Equal(t, []float32{0, 1}, *first.Values)
	metadata := first.Metadata.AsMap()
	assert.Equal(t, "doc.pdf", metadata["source"])
	assert.Equal(t, float64(250), metadata["totalChunks"])
	assert.Equal(t, "2025-03-01T12:00:00Z", metadata["timestamp"])

	require.NoError(t, c.Upsert(context.Background(), "docs", records[:1]))
	assert.Len(t, *dials, 1, "connection is reused")
}

func TestClient_UpsertMissingIndex(t *testing.T) {
	c, dials := testClient(t, newFakeControl(), &fakeData{})

	err := c.Upsert(context.Background(), "missing", []core.UpsertRecord{{ID: "x", Values: []float32{1}}})
	assert.True(t, index.IsNotFound(err))
	assert.Empty(t, *dials)
}

func TestClient_UpsertTranslatesGRPC(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 1)
	data := &fakeData{upsertErr: status.Error(codes.NotFound, "namespace gone")}
	c, _ := testClient(t, control, data)

	err := c.Upsert(context.Background(), "docs", []core.UpsertRecord{{ID: "x", Values: []float32{1}}})
	require.Error(t, err)
	assert.ErrorIs(t, err, index.ErrNotFound)
	assert.Contains(t, err.Error(), "upsert batch at 0")
}

func TestClient_DeleteBySource(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 2)
	data := &fakeData{}
	c, _ := testClient(t, control, data)

	require.NoError(t, c.DeleteBySource(context.Background(), "docs", "s3://bucket/doc.pdf"))
	require.Len(t, data.filters, 1)
	assert.Equal(t, map[string]any{"source": map[string]any{"$eq": "s3://bucket/doc.pdf"}}, data.filters[0])

	assert.ErrorIs(t, c.DeleteBySource(context.Background(), "docs", ""), index.ErrSourceRequired)
	assert.True(t, index.IsNotFound(c.DeleteBySource(context.Background(), "missing", "a")))
}

func TestClient_Close(t *testing.T) {
	control := newFakeControl()
	control.add("docs", 2)
	data := &fakeData{}
	c, _ := testClient(t, control, data)

	require.NoError(t, c.Close())
	_, err := c.DescribeIndex(context.Background(), "docs")
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, data.closed)
}

func TestNewClient_SDK(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "k"
	c, err := NewClient(cfg)
	require.NoError(t, err)
	assert.NotNil(t, c.control)
	assert.NotNil(t, c.connect)

	_, err = NewClient(cfg, WithControlPlane(nil))
	assert.Error(t, err)
	_, err = NewClient(cfg, WithHTTPClient(nil))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	assert.Error(t, cfg.Validate(), "api key is required")

	cfg.APIKey = "k"
	cfg.ControllerURL = "https://api.example.com/"
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "https://api.example.com", cfg.ControllerURL)

	cfg.UpsertBatchSize = 0
	assert.Error(t, cfg.Validate())
	cfg.UpsertBatchSize = 1001
	assert.Error(t, cfg.Validate())

	_, err := NewClient(nil)
	assert.Error(t, err)
}
