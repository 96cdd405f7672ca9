package index

import (
	"context"

	"github.com/poiesic/docingest/core"
)

// Service is the vector database surface used by the pipeline.
type Service interface {
	// DescribeIndex returns the index properties. It fails with an error
	// satisfying IsNotFound when the index does not exist and with
	// ErrNotReady while the index is still initializing.
	DescribeIndex(ctx context.Context, name string) (*Stats, error)

	// CreateIndex requests creation of a new index. Creation is
	// asynchronous; poll DescribeIndex until it succeeds.
	CreateIndex(ctx context.Context, req CreateRequest) error

	// Upsert writes records into the index in one logical operation.
	Upsert(ctx context.Context, name string, records []core.UpsertRecord) error

	// DeleteBySource removes every vector whose source metadata equals
	// source. Deleting a source with no vectors is not an error.
	DeleteBySource(ctx context.Context, name, source string) error
}

// Stats describes an existing index.
type Stats struct {
	Name      string
	Dimension int
	Metric    core.Metric
	// Host is the data plane address, when the backend has one.
	Host string
	// VectorCount is the number of stored vectors, when known.
	VectorCount int64
}

// ServerlessSpec places an index on managed serverless infrastructure.
type ServerlessSpec struct {
	Cloud  string
	Region string
}

// CapacitySpec places an index on provisioned capacity (pods or shards).
type CapacitySpec struct {
	Environment string
	PodType     string
	Pods        int
}

// Spec selects the infrastructure for a new index. Exactly one field is set.
type Spec struct {
	Serverless *ServerlessSpec
	Capacity   *CapacitySpec
}

// CreateRequest is the input to Service.CreateIndex.
type CreateRequest struct {
	Name      string
	Dimension int
	Metric    core.Metric
	Spec      Spec
}
