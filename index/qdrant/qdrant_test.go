package qdrant

import (
	"context"
	"fmt"
	"testing"
	"time"

	pb "github.com/qdrant/go-client/qdrant"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
)

type fakeCollections struct {
	info    map[string]*pb.CollectionInfo
	creates []*pb.CreateCollection
	apiKeys []string
}

func (f *fakeCollections) Get(ctx context.Context, in *pb.GetCollectionInfoRequest, _ ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error) {
	if md, ok := metadata.FromOutgoingContext(ctx); ok {
		f.apiKeys = append(f.apiKeys, md.Get("api-key")...)
	}
	info, ok := f.info[in.CollectionName]
	if !ok {
		return nil, status.Errorf(codes.NotFound, "Collection `%s` doesn't exist!", in.CollectionName)
	}
	return &pb.GetCollectionInfoResponse{Result: info}, nil
}

func (f *fakeCollections) Create(ctx context.Context, in *pb.CreateCollection, _ ...grpc.CallOption) (*pb.CollectionOperationResponse, error) {
	f.creates = append(f.creates, in)
	if _, ok := f.info[in.CollectionName]; ok {
		return nil, status.Errorf(codes.AlreadyExists, "Collection `%s` already exists!", in.CollectionName)
	}
	f.info[in.CollectionName] = collectionInfo(pb.CollectionStatus_Green, in.GetVectorsConfig().GetParams().GetSize(), in.GetVectorsConfig().GetParams().GetDistance())
	return &pb.CollectionOperationResponse{Result: true}, nil
}

type fakePoints struct {
	batches []*pb.UpsertPoints
	deletes []*pb.DeletePoints
	err     error
}

func (f *fakePoints) Upsert(ctx context.Context, in *pb.UpsertPoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.batches = append(f.batches, in)
	return &pb.PointsOperationResponse{}, nil
}

func (f *fakePoints) Delete(ctx context.Context, in *pb.DeletePoints, _ ...grpc.CallOption) (*pb.PointsOperationResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.deletes = append(f.deletes, in)
	return &pb.PointsOperationResponse{}, nil
}

func collectionInfo(st pb.CollectionStatus, size uint64, distance pb.Distance) *pb.CollectionInfo {
	count := uint64(7)
	return &pb.CollectionInfo{
		Status:      st,
		PointsCount: &count,
		Config: &pb.CollectionConfig{
			Params: &pb.CollectionParams{
				VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
					Params: &pb.VectorParams{Size: size, Distance: distance},
				}},
			},
		},
	}
}

func newTestRepository(cfg *Config) (*Repository, *fakeCollections, *fakePoints) {
	cols := &fakeCollections{info: make(map[string]*pb.CollectionInfo)}
	pts := &fakePoints{}
	return NewWithClients(cols, pts, cfg, nil), cols, pts
}

func TestDescribeIndex(t *testing.T) {
	repo, cols, _ := newTestRepository(nil)
	cols.info["docs"] = collectionInfo(pb.CollectionStatus_Green, 384, pb.Distance_Dot)

	stats, err := repo.DescribeIndex(context.Background(), "docs")
	require.NoError(t, err)
	assert.Equal(t, 384, stats.Dimension)
	assert.Equal(t, core.MetricDotProduct, stats.Metric)
	assert.Equal(t, int64(7), stats.VectorCount)

	_, err = repo.DescribeIndex(context.Background(), "missing")
	assert.ErrorIs(t, err, index.ErrNotFound)

	cols.info["red"] = collectionInfo(pb.CollectionStatus_Red, 8, pb.Distance_Cosine)
	_, err = repo.DescribeIndex(context.Background(), "red")
	assert.ErrorIs(t, err, index.ErrNotReady)
}

func TestCreateIndex(t *testing.T) {
	repo, cols, _ := newTestRepository(nil)

	require.NoError(t, repo.CreateIndex(context.Background(), index.CreateRequest{
		Name: "serverless", Dimension: 128, Metric: core.MetricCosine,
		Spec: index.Spec{Serverless: &index.ServerlessSpec{Cloud: "aws", Region: "us-east-1"}},
	}))
	require.NoError(t, repo.CreateIndex(context.Background(), index.CreateRequest{
		Name: "capacity", Dimension: 64, Metric: core.MetricEuclidean,
		Spec: index.Spec{Capacity: &index.CapacitySpec{Environment: "us-east-1-aws", PodType: "p1.x1", Pods: 2}},
	}))

	require.Len(t, cols.creates, 2)
	assert.Nil(t, cols.creates[0].ShardNumber)
	assert.Equal(t, uint64(128), cols.creates[0].GetVectorsConfig().GetParams().GetSize())
	assert.Equal(t, pb.Distance_Cosine, cols.creates[0].GetVectorsConfig().GetParams().GetDistance())

	assert.Equal(t, uint32(2), cols.creates[1].GetShardNumber())
	assert.Equal(t, uint32(1), cols.creates[1].GetReplicationFactor())
	assert.Equal(t, pb.Distance_Euclid, cols.creates[1].GetVectorsConfig().GetParams().GetDistance())

	err := repo.CreateIndex(context.Background(), index.CreateRequest{Name: "capacity", Dimension: 64})
	assert.True(t, index.IsAlreadyExists(err))
}

func TestUpsert(t *testing.T) {
	cfg := DefaultConfig()
	cfg.UpsertBatchSize = 2
	cfg.APIKey = "secret"
	repo, _, pts := newTestRepository(cfg)

	ts := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	records := make([]core.UpsertRecord, 3)
	for i := range records {
		records[i] = core.UpsertRecord{
			ID:     fmt.Sprintf("00000000-0000-4000-8000-00000000000%d", i),
			Values: []float32{1, float32(i)},
			Metadata: core.ChunkMetadata{
				Source: "a.txt", ChunkIndex: i, TotalChunks: 3, TextLength: 4, Text: "text", Timestamp: ts,
			},
		}
	}

	require.NoError(t, repo.Upsert(context.Background(), "docs", records))
	require.Len(t, pts.batches, 2)
	assert.Len(t, pts.batches[0].Points, 2)
	assert.Len(t, pts.batches[1].Points, 1)
	assert.True(t, pts.batches[0].GetWait())

	p := pts.batches[1].Points[0]
	assert.Equal(t, records[2].ID, p.GetId().GetUuid())
	assert.Equal(t, []float32{1, 2}, p.GetVectors().GetVector().GetData())
	assert.Equal(t, "a.txt", p.Payload["source"].GetStringValue())
	assert.Equal(t, int64(2), p.Payload["chunkIndex"].GetIntegerValue())
	assert.Equal(t, "2025-03-01T00:00:00Z", p.Payload["timestamp"].GetStringValue())
}

func TestUpsertError(t *testing.T) {
	repo, _, pts := newTestRepository(nil)
	pts.err = status.Error(codes.NotFound, "no collection")

	err := repo.Upsert(context.Background(), "docs", []core.UpsertRecord{{ID: "7", Values: []float32{1}}})
	assert.ErrorIs(t, err, index.ErrNotFound)
}

func TestUpsertPointIDs(t *testing.T) {
	repo, _, pts := newTestRepository(nil)

	records := []core.UpsertRecord{
		{ID: "42", Values: []float32{1}},
		{ID: "{00000000-0000-4000-8000-000000000001}", Values: []float32{2}},
	}
	require.NoError(t, repo.Upsert(context.Background(), "docs", records))
	require.Len(t, pts.batches, 1)
	assert.Equal(t, uint64(42), pts.batches[0].Points[0].GetId().GetNum())
	assert.Equal(t, "00000000-0000-4000-8000-000000000001", pts.batches[0].Points[1].GetId().GetUuid())

	err := repo.Upsert(context.Background(), "docs", []core.UpsertRecord{
		{ID: "7", Values: []float32{1}},
		{ID: "chunk-1", Values: []float32{1}},
	})
	assert.ErrorIs(t, err, ErrInvalidPointID)
	assert.Contains(t, err.Error(), "chunk-1")
	assert.Len(t, pts.batches, 1, "nothing is sent when any id is invalid")
}

func TestDeleteBySource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	repo, _, pts := newTestRepository(cfg)

	require.NoError(t, repo.DeleteBySource(context.Background(), "docs", "s3://bucket/doc.pdf"))
	require.Len(t, pts.deletes, 1)
	del := pts.deletes[0]
	assert.Equal(t, "docs", del.CollectionName)
	assert.True(t, del.GetWait())
	must := del.GetPoints().GetFilter().GetMust()
	require.Len(t, must, 1)
	assert.Equal(t, "source", must[0].GetField().GetKey())
	assert.Equal(t, "s3://bucket/doc.pdf", must[0].GetField().GetMatch().GetKeyword())

	assert.ErrorIs(t, repo.DeleteBySource(context.Background(), "docs", ""), index.ErrSourceRequired)

	pts.err = status.Error(codes.NotFound, "no collection")
	assert.ErrorIs(t, repo.DeleteBySource(context.Background(), "docs", "a"), index.ErrNotFound)
}

func TestAPIKeyMetadata(t *testing.T) {
	cfg := DefaultConfig()
	cfg.APIKey = "secret"
	repo, cols, _ := newTestRepository(cfg)

	_, _ = repo.DescribeIndex(context.Background(), "docs")
	assert.Equal(t, []string{"secret"}, cols.apiKeys)
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	cfg := DefaultConfig()
	cfg.Host = ""
	assert.Error(t, cfg.Validate())

	cfg = DefaultConfig()
	cfg.ReplicationFactor = 0
	assert.Error(t, cfg.Validate())
}

func TestRepositoryCloseWithoutConn(t *testing.T) {
	repo, _, _ := newTestRepository(nil)
	assert.NoError(t, repo.Close())
}
