// Package mock provides an in-memory index.Service for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/index"
)

// Service is an in-memory index.Service.
// Function fields override the default behavior when set.
type Service struct {
	// ReadyAfter is the number of DescribeIndex calls that report
	// index.ErrNotReady after an index is created.
	ReadyAfter int

	DescribeIndexFunc func(ctx context.Context, name string) (*index.Stats, error)
	CreateIndexFunc   func(ctx context.Context, req index.CreateRequest) error
	UpsertFunc        func(ctx context.Context, name string, records []core.UpsertRecord) error
	DeleteFunc        func(ctx context.Context, name, source string) error

	mu             sync.Mutex
	indexes        map[string]*index.Stats
	pending        map[string]int
	records        map[string][]core.UpsertRecord
	describeCalls  int
	createRequests []index.CreateRequest
	upsertCalls    int
	deletes        []string
}

// NewService creates an empty in-memory service.
func NewService() *Service {
	return &Service{
		indexes: make(map[string]*index.Stats),
		pending: make(map[string]int),
		records: make(map[string][]core.UpsertRecord),
	}
}

// AddIndex registers a ready index.
func (s *Service) AddIndex(name string, dimension int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.indexes[name] = &index.Stats{Name: name, Dimension: dimension, Metric: core.MetricCosine}
}

func (s *Service) DescribeIndex(ctx context.Context, name string) (*index.Stats, error) {
	s.mu.Lock()
	s.describeCalls++
	fn := s.DescribeIndexFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.indexes[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", index.ErrNotFound, name)
	}
	if s.pending[name] > 0 {
		s.pending[name]--
		return nil, fmt.Errorf("%w: %s", index.ErrNotReady, name)
	}
	out := *stats
	out.VectorCount = int64(len(s.records[name]))
	return &out, nil
}

func (s *Service) CreateIndex(ctx context.Context, req index.CreateRequest) error {
	s.mu.Lock()
	s.createRequests = append(s.createRequests, req)
	fn := s.CreateIndexFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, req)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[req.Name]; ok {
		return fmt.Errorf("%w: %s", index.ErrAlreadyExists, req.Name)
	}
	s.indexes[req.Name] = &index.Stats{Name: req.Name, Dimension: req.Dimension, Metric: req.Metric}
	s.pending[req.Name] = s.ReadyAfter
	return nil
}

func (s *Service) Upsert(ctx context.Context, name string, records []core.UpsertRecord) error {
	s.mu.Lock()
	s.upsertCalls++
	fn := s.UpsertFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, records)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	stats, ok := s.indexes[name]
	if !ok {
		return fmt.Errorf("%w: %s", index.ErrNotFound, name)
	}
	for _, r := range records {
		if len(r.Values) != stats.Dimension {
			return fmt.Errorf("vector %s has dimension %d, index has %d", r.ID, len(r.Values), stats.Dimension)
		}
	}
	s.records[name] = append(s.records[name], records...)
	return nil
}

func (s *Service) DeleteBySource(ctx context.Context, name, source string) error {
	s.mu.Lock()
	s.deletes = append(s.deletes, source)
	fn := s.DeleteFunc
	s.mu.Unlock()
	if fn != nil {
		return fn(ctx, name, source)
	}
	if source == "" {
		return index.ErrSourceRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.indexes[name]; !ok {
		return fmt.Errorf("%w: %s", index.ErrNotFound, name)
	}
	kept := s.records[name][:0]
	for _, r := range s.records[name] {
		if r.Metadata.Source != source {
			kept = append(kept, r)
		}
	}
	s.records[name] = kept
	return nil
}

// Records returns the records upserted into the named index.
func (s *Service) Records(name string) []core.UpsertRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.UpsertRecord, len(s.records[name]))
	copy(out, s.records[name])
	return out
}

// DescribeCalls returns the number of DescribeIndex calls.
func (s *Service) DescribeCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.describeCalls
}

// CreateRequests returns every CreateIndex request in call order.
func (s *Service) CreateRequests() []index.CreateRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]index.CreateRequest, len(s.createRequests))
	copy(out, s.createRequests)
	return out
}

// UpsertCalls returns the number of Upsert calls.
func (s *Service) UpsertCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.upsertCalls
}

// Deletes returns the source of every DeleteBySource call in call order.
func (s *Service) Deletes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.deletes))
	copy(out, s.deletes)
	return out
}

var _ index.Service = (*Service)(nil)
