// Package pinecone implements index.Service on the Pinecone Go SDK.
package pinecone

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/pinecone-io/go-pinecone/v5/pinecone"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
	"github.com/poiesic/docingest/observability"
)

// ControlPlane is the subset of *pinecone.Client used to manage indexes.
type ControlPlane interface {
	DescribeIndex(ctx context.Context, idxName string) (*pinecone.Index, error)
	CreateServerlessIndex(ctx context.Context, in *pinecone.CreateServerlessIndexRequest) (*pinecone.Index, error)
	CreatePodIndex(ctx context.Context, in *pinecone.CreatePodIndexRequest) (*pinecone.Index, error)
}

// DataPlane is the subset of *pinecone.IndexConnection used for vectors.
type DataPlane interface {
	UpsertVectors(ctx context.Context, in []*pinecone.Vector) (uint32, error)
	DescribeIndexStats(ctx context.Context) (*pinecone.DescribeIndexStatsResponse, error)
	DeleteVectorsByFilter(ctx context.Context, metadataFilter *pinecone.MetadataFilter) error
	Close() error
}

// Connector opens a data plane connection to an index host.
type Connector func(host, namespace string) (DataPlane, error)

// Client is a Pinecone index.Service. It keeps one data plane connection
// per index it has written to or described.
type Client struct {
	config     *Config
	control    ControlPlane
	connect    Connector
	httpClient *http.Client
	logger     *slog.Logger

	mu    sync.Mutex
	hosts map[string]string
	conns map[string]DataPlane
}

// Option configures a Client.
type Option func(*Client) error

// WithHTTPClient sets the HTTP client used for control plane requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		if hc == nil {
			return errors.New("http client cannot be nil")
		}
		c.httpClient = hc
		return nil
	}
}

// WithControlPlane replaces the SDK control plane client.
func WithControlPlane(cp ControlPlane) Option {
	return func(c *Client) error {
		if cp == nil {
			return errors.New("control plane cannot be nil")
		}
		c.control = cp
		return nil
	}
}

// WithConnector replaces the SDK data plane dialer.
func WithConnector(fn Connector) Option {
	return func(c *Client) error {
		if fn == nil {
			return errors.New("connector cannot be nil")
		}
		c.connect = fn
		return nil
	}
}

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) error {
		if logger == nil {
			return errors.New("logger cannot be nil")
		}
		c.logger = logger
		return nil
	}
}

// NewClient creates a Pinecone client. No request is made until the first
// operation.
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		return nil, errors.New("pinecone config cannot be nil")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	c := &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.RequestTimeout},
		logger:     slog.Default(),
		hosts:      make(map[string]string),
		conns:      make(map[string]DataPlane),
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, err
		}
	}
	c.logger = c.logger.With("component", "pinecone")

	if c.control == nil || c.connect == nil {
		sdk, err := pinecone.NewClient(pinecone.NewClientParams{
			ApiKey:     config.APIKey,
			Host:       config.ControllerURL,
			RestClient: c.httpClient,
		})
		if err != nil {
			return nil, fmt.Errorf("pinecone client: %w", err)
		}
		if c.control == nil {
			c.control = sdk
		}
		if c.connect == nil {
			c.connect = func(host, namespace string) (DataPlane, error) {
				conn, err := sdk.Index(pinecone.NewIndexConnParams{Host: host, Namespace: namespace})
				if err != nil {
					return nil, err
				}
				return conn, nil
			}
		}
	}
	return c, nil
}

// DescribeIndex fetches the index model and its vector count. Indexes that
// are still initializing fail with index.ErrNotReady. A failed stats call
// leaves VectorCount at zero.
func (c *Client) DescribeIndex(ctx context.Context, name string) (*index.Stats, error) {
	model, err := c.describe(ctx, name)
	if err != nil {
		return nil, err
	}

	stats := &index.Stats{
		Name:   model.Name,
		Metric: core.Metric(model.Metric),
		Host:   model.Host,
	}
	if model.Dimension != nil {
		stats.Dimension = int(*model.Dimension)
	}

	count, err := c.vectorCount(ctx, name)
	if err != nil {
		c.logger.Warn("failed to read index stats", "index", name, "err", err)
		return stats, nil
	}
	stats.VectorCount = count
	return stats, nil
}

// CreateIndex requests a new index. A conflict fails with index.ErrAlreadyExists.
func (c *Client) CreateIndex(ctx context.Context, req index.CreateRequest) error {
	metric := pinecone.IndexMetric(req.Metric)
	dimension := int32(req.Dimension)

	c.logger.Debug("creating index", "index", req.Name, "dimension", req.Dimension)
	var err error
	switch {
	case req.Spec.Serverless != nil:
		_, err = c.control.CreateServerlessIndex(ctx, &pinecone.CreateServerlessIndexRequest{
			Name:      req.Name,
			Dimension: &dimension,
			Metric:    &metric,
			Cloud:     pinecone.Cloud(req.Spec.Serverless.Cloud),
			Region:    req.Spec.Serverless.Region,
		})
	case req.Spec.Capacity != nil:
		_, err = c.control.CreatePodIndex(ctx, &pinecone.CreatePodIndexRequest{
			Name:        req.Name,
			Dimension:   dimension,
			Metric:      &metric,
			Environment: req.Spec.Capacity.Environment,
			PodType:     req.Spec.Capacity.PodType,
			Shards:      int32(max(req.Spec.Capacity.Pods, 1)),
		})
	default:
		return errors.New("pinecone: create request has no spec")
	}
	if err != nil {
		return translate(err)
	}
	return nil
}

// Upsert writes records in batches of UpsertBatchSize. Batches already
// written stay written when a later batch fails.
func (c *Client) Upsert(ctx context.Context, name string, records []core.UpsertRecord) (err error) {
	ctx, span := observability.StartIndexSpan(ctx, "upsert", name)
	defer func() { observability.EndSpan(span, err) }()

	conn, err := c.dataPlane(ctx, name)
	if err != nil {
		return err
	}

	batchSize := c.config.UpsertBatchSize
	for start := 0; start < len(records); start += batchSize {
		end := min(start+batchSize, len(records))
		vectors := make([]*pinecone.Vector, 0, end-start)
		for _, r := range records[start:end] {
			metadata, err := structpb.NewStruct(r.Metadata.Map())
			if err != nil {
				return fmt.Errorf("metadata for %s: %w", r.ID, err)
			}
			values := r.Values
			vectors = append(vectors, &pinecone.Vector{Id: r.ID, Values: &values, Metadata: metadata})
		}

		count, err := conn.UpsertVectors(ctx, vectors)
		if err != nil {
			return fmt.Errorf("upsert batch at %d: %w", start, translate(err))
		}
		c.logger.Debug("upserted batch", "index", name, "start", start, "count", count)
	}
	return nil
}

// DeleteBySource deletes the vectors of one source with a metadata filter.
func (c *Client) DeleteBySource(ctx context.Context, name, source string) (err error) {
	if source == "" {
		return index.ErrSourceRequired
	}
	ctx, span := observability.StartIndexSpan(ctx, "delete", name)
	defer func() { observability.EndSpan(span, err) }()

	conn, err := c.dataPlane(ctx, name)
	if err != nil {
		return err
	}
	filter, err := structpb.NewStruct(map[string]any{
		"source": map[string]any{"$eq": source},
	})
	if err != nil {
		return err
	}

	c.logger.Debug("deleting source", "index", name, "source", source)
	if err := conn.DeleteVectorsByFilter(ctx, filter); err != nil {
		return translate(err)
	}
	return nil
}

// Close releases every data plane connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var errs []error
	for name, conn := range c.conns {
		if err := conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", name, err))
		}
		delete(c.conns, name)
	}
	return errors.Join(errs...)
}

func (c *Client) describe(ctx context.Context, name string) (*pinecone.Index, error) {
	model, err := c.control.DescribeIndex(ctx, name)
	if err != nil {
		return nil, translate(err)
	}
	if model.Status == nil || !model.Status.Ready {
		state := "unknown"
		if model.Status != nil {
			state = string(model.Status.State)
		}
		return nil, fmt.Errorf("%w: %s is %s", index.ErrNotReady, name, state)
	}
	if model.Host != "" {
		c.mu.Lock()
		c.hosts[name] = model.Host
		c.mu.Unlock()
	}
	return model, nil
}

func (c *Client) vectorCount(ctx context.Context, name string) (int64, error) {
	conn, err := c.dataPlane(ctx, name)
	if err != nil {
		return 0, err
	}
	resp, err := conn.DescribeIndexStats(ctx)
	if err != nil {
		return 0, translate(err)
	}
	if ns := c.config.Namespace; ns != "" {
		if summary, ok := resp.Namespaces[ns]; ok && summary != nil {
			return int64(summary.VectorCount), nil
		}
		return 0, nil
	}
	return int64(resp.TotalVectorCount), nil
}

// dataPlane returns the cached connection for name, dialing it on first use.
func (c *Client) dataPlane(ctx context.Context, name string) (DataPlane, error) {
	c.mu.Lock()
	conn, ok := c.conns[name]
	host := c.hosts[name]
	c.mu.Unlock()
	if ok {
		return conn, nil
	}

	if host == "" {
		model, err := c.describe(ctx, name)
		if err != nil {
			return nil, err
		}
		host = model.Host
	}
	if host == "" {
		return nil, fmt.Errorf("pinecone: index %s has no host", name)
	}

	conn, err := c.connect(host, c.config.Namespace)
	if err != nil {
		return nil, fmt.Errorf("pinecone: connect to %s: %w", host, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.conns[name]; ok {
		_ = conn.Close()
		return existing, nil
	}
	c.conns[name] = conn
	return conn, nil
}

// translate maps SDK and gRPC failures onto the index sentinels.
func translate(err error) error {
	var pe *pinecone.PineconeError
	if errors.As(err, &pe) {
		switch pe.Code {
		case http.StatusNotFound:
			return fmt.Errorf("%w: %w", index.ErrNotFound, err)
		case http.StatusConflict:
			return fmt.Errorf("%w: %w", index.ErrAlreadyExists, err)
		}
		return err
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("%w: %w", index.ErrNotFound, err)
	case codes.AlreadyExists:
		return fmt.Errorf("%w: %w", index.ErrAlreadyExists, err)
	}
	return err
}

var _ index.Service = (*Client)(nil)
