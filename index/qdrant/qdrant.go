// Package qdrant implements index.Service on Qdrant collections over gRPC.
package qdrant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/google/uuid"
	pb "github.com/qdrant/go-client/qdrant"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
	"github.com/poiesic/docingest/observability"
)

// Config holds the Qdrant connection settings.
type Config struct {
	Host   string
	Port   int
	APIKey string

	// ReplicationFactor applies to collections created with a capacity spec.
	// Default: 1
	ReplicationFactor int

	// UpsertBatchSize is the number of points per upsert request.
	// Default: 100
	UpsertBatchSize int
}

// DefaultConfig returns a Config for a local Qdrant.
func DefaultConfig() *Config {
	return &Config{
		Host:              "localhost",
		Port:              6334,
		ReplicationFactor: 1,
		UpsertBatchSize:   100,
	}
}

// Validate checks that the configuration is valid and complete.
func (c *Config) Validate() error {
	if c.Host == "" {
		return errors.New("qdrant config: Host is required")
	}
	if c.Port <= 0 {
		return errors.New("qdrant config: Port must be greater than 0")
	}
	if c.ReplicationFactor < 1 {
		return errors.New("qdrant config: ReplicationFactor must be at least 1")
	}
	if c.UpsertBatchSize < 1 {
		return errors.New("qdrant config: UpsertBatchSize must be at least 1")
	}
	return nil
}

// CollectionsAPI is the subset of pb.CollectionsClient used here.
type CollectionsAPI interface {
	Get(ctx context.Context, in *pb.GetCollectionInfoRequest, opts ...grpc.CallOption) (*pb.GetCollectionInfoResponse, error)
	Create(ctx context.Context, in *pb.CreateCollection, opts ...grpc.CallOption) (*pb.CollectionOperationResponse, error)
}

// PointsAPI is the subset of pb.PointsClient used here.
type PointsAPI interface {
	Upsert(ctx context.Context, in *pb.UpsertPoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
	Delete(ctx context.Context, in *pb.DeletePoints, opts ...grpc.CallOption) (*pb.PointsOperationResponse, error)
}

// Repository is a Qdrant index.Service. An index name is a collection name.
type Repository struct {
	conn        *grpc.ClientConn
	collections CollectionsAPI
	points      PointsAPI
	config      *Config
	logger      *slog.Logger
}

// New dials Qdrant and returns a Repository.
func New(config *Config, logger *slog.Logger) (*Repository, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("qdrant connect: %w", err)
	}
	r := NewWithClients(pb.NewCollectionsClient(conn), pb.NewPointsClient(conn), config, logger)
	r.conn = conn
	return r, nil
}

// NewWithClients builds a Repository on existing clients.
func NewWithClients(collections CollectionsAPI, points PointsAPI, config *Config, logger *slog.Logger) *Repository {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Repository{
		collections: collections,
		points:      points,
		config:      config,
		logger:      logger.With("component", "qdrant"),
	}
}

// DescribeIndex reads the collection info. A red collection fails with
// index.ErrNotReady.
func (r *Repository) DescribeIndex(ctx context.Context, name string) (*index.Stats, error) {
	resp, err := r.collections.Get(r.withAuth(ctx), &pb.GetCollectionInfoRequest{CollectionName: name})
	if err != nil {
		return nil, translate(err)
	}

	info := resp.GetResult()
	if info.GetStatus() == pb.CollectionStatus_Red {
		return nil, fmt.Errorf("%w: collection %s is red", index.ErrNotReady, name)
	}

	stats := &index.Stats{Name: name, VectorCount: int64(info.GetPointsCount())}
	if params := info.GetConfig().GetParams().GetVectorsConfig().GetParams(); params != nil {
		stats.Dimension = int(params.GetSize())
		stats.Metric = metricFromDistance(params.GetDistance())
	}
	return stats, nil
}

// CreateIndex creates a collection. Serverless specs use the server's
// default sharding; capacity specs set shard and replication factors.
func (r *Repository) CreateIndex(ctx context.Context, req index.CreateRequest) error {
	create := &pb.CreateCollection{
		CollectionName: req.Name,
		VectorsConfig: &pb.VectorsConfig{Config: &pb.VectorsConfig_Params{
			Params: &pb.VectorParams{
				Size:     uint64(req.Dimension),
				Distance: distanceFromMetric(req.Metric),
			},
		}},
	}
	if c := req.Spec.Capacity; c != nil {
		shards := uint32(max(c.Pods, 1))
		replicas := uint32(r.config.ReplicationFactor)
		create.ShardNumber = &shards
		create.ReplicationFactor = &replicas
	}

	r.logger.Debug("creating collection", "collection", req.Name, "dimension", req.Dimension)
	resp, err := r.collections.Create(r.withAuth(ctx), create)
	if err != nil {
		return translate(err)
	}
	if !resp.GetResult() {
		return fmt.Errorf("qdrant: create collection %s was not acknowledged", req.Name)
	}
	return nil
}

// Upsert writes records as points in batches of UpsertBatchSize.
// Qdrant point IDs are UUIDs or unsigned integers; any other record ID
// fails the whole call before a batch is sent.
func (r *Repository) Upsert(ctx context.Context, name string, records []core.UpsertRecord) (err error) {
	ctx, span := observability.StartIndexSpan(ctx, "upsert", name)
	defer func() { observability.EndSpan(span, err) }()

	ids := make([]*pb.PointId, len(records))
	for i, rec := range records {
		if ids[i], err = pointID(rec.ID); err != nil {
			return err
		}
	}

	wait := true
	batchSize := r.config.UpsertBatchSize
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		points := make([]*pb.PointStruct, 0, end-start)
		for i, rec := range records[start:end] {
			points = append(points, &pb.PointStruct{
				Id:      ids[start+i],
				Vectors: &pb.Vectors{VectorsOptions: &pb.Vectors_Vector{Vector: &pb.Vector{Data: rec.Values}}},
				Payload: payload(rec.Metadata.Map()),
			})
		}

		if _, err := r.points.Upsert(r.withAuth(ctx), &pb.UpsertPoints{
			CollectionName: name,
			Wait:           &wait,
			Points:         points,
		}); err != nil {
			return fmt.Errorf("upsert batch at %d: %w", start, translate(err))
		}
	}
	return nil
}

// DeleteBySource deletes every point whose source payload equals source.
func (r *Repository) DeleteBySource(ctx context.Context, name, source string) (err error) {
	if source == "" {
		return index.ErrSourceRequired
	}
	ctx, span := observability.StartIndexSpan(ctx, "delete", name)
	defer func() { observability.EndSpan(span, err) }()

	wait := true
	r.logger.Debug("deleting source", "collection", name, "source", source)
	_, err = r.points.Delete(r.withAuth(ctx), &pb.DeletePoints{
		CollectionName: name,
		Wait:           &wait,
		Points: pb.NewPointsSelectorFilter(&pb.Filter{
			Must: []*pb.Condition{pb.NewMatch("source", source)},
		}),
	})
	if err != nil {
		return translate(err)
	}
	return nil
}

// Close releases the gRPC connection, if this Repository dialed it.
func (r *Repository) Close() error {
	if r.conn == nil {
		return nil
	}
	return r.conn.Close()
}

func (r *Repository) withAuth(ctx context.Context) context.Context {
	if r.config.APIKey == "" {
		return ctx
	}
	return metadata.AppendToOutgoingContext(ctx, "api-key", r.config.APIKey)
}

// ErrInvalidPointID rejects a record ID that is neither a UUID nor an
// unsigned integer.
var ErrInvalidPointID = errors.New("qdrant: point id must be a UUID or an unsigned integer")

func pointID(id string) (*pb.PointId, error) {
	if u, err := uuid.Parse(id); err == nil {
		return pb.NewIDUUID(u.String()), nil
	}
	if n, err := strconv.ParseUint(id, 10, 64); err == nil {
		return pb.NewIDNum(n), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidPointID, id)
}

func translate(err error) error {
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", index.ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", index.ErrAlreadyExists, err)
	default:
		return err
	}
}

func payload(m map[string]any) map[string]*pb.Value {
	out := make(map[string]*pb.Value, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: t}}
		case int:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: int64(t)}}
		case int64:
			out[k] = &pb.Value{Kind: &pb.Value_IntegerValue{IntegerValue: t}}
		case float64:
			out[k] = &pb.Value{Kind: &pb.Value_DoubleValue{DoubleValue: t}}
		case bool:
			out[k] = &pb.Value{Kind: &pb.Value_BoolValue{BoolValue: t}}
		default:
			out[k] = &pb.Value{Kind: &pb.Value_StringValue{StringValue: fmt.Sprint(t)}}
		}
	}
	return out
}

func distanceFromMetric(m core.Metric) pb.Distance {
	switch m {
	case core.MetricEuclidean:
		return pb.Distance_Euclid
	case core.MetricDotProduct:
		return pb.Distance_Dot
	default:
		return pb.Distance_Cosine
	}
}

func metricFromDistance(d pb.Distance) core.Metric {
	switch d {
	case pb.Distance_Euclid:
		return core.MetricEuclidean
	case pb.Distance_Dot:
		return core.MetricDotProduct
	case pb.Distance_Cosine:
		return core.MetricCosine
	default:
		return ""
	}
}

var _ index.Service = (*Repository)(nil)
