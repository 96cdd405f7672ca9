// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"fmt"
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/docingest/core"
)

// runFormatVersion prefixes every encoded run.
const runFormatVersion = 1

// MarshalID serializes an ID to bytes.
func MarshalID(id core.ID) []byte {
	buf := make([]byte, varint.Uint64.Size(uint64(id)))
	varint.Uint64.Marshal(uint64(id), buf)
	return buf
}

// UnmarshalID deserializes an ID from bytes.
func UnmarshalID(data []byte) (core.ID, error) {
	v, _, err := varint.Uint64.Unmarshal(data)
	return core.ID(v), err
}

// MarshalRun serializes a Run to bytes.
func MarshalRun(run *core.Run) []byte {
	buf := make([]byte, runSize(run))
	runMarshal(run, buf)
	return buf
}

// UnmarshalRun deserializes a Run from bytes.
func UnmarshalRun(data []byte) (*core.Run, error) {
	run, err := runUnmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return run, nil
}

func runSize(r *core.Run) int {
	size := varint.Int.Size(runFormatVersion)
	size += ord.String.Size(r.ID)
	size += ord.String.Size(r.Source)
	size += varint.Uint64.Size(uint64(r.ContentID))
	size += ord.String.Size(r.IndexName)
	size += ord.String.Size(string(r.Status))
	size += varint.Int.Size(r.TotalChunks)
	size += varint.Int.Size(r.SuccessfulChunks)
	size += varint.Int.Size(len(r.FailedChunks))
	for _, f := range r.FailedChunks {
		size += varint.Int.Size(f.Index)
		size += ord.String.Size(f.Error)
	}
	size += varint.Int.Size(r.EmbeddingDimension)
	size += varint.Int.Size(len(r.VectorIDs))
	for _, id := range r.VectorIDs {
		size += ord.String.Size(id)
	}
	size += varint.Int.Size(r.TotalTextLength)
	size += ord.Bool.Size(r.IndexCreated)
	size += ord.String.Size(r.Classification)
	size += ord.String.Size(r.Error)
	size += varint.Int64.Size(r.StartedAt.UnixMicro())
	size += varint.Int64.Size(r.FinishedAt.UnixMicro())
	return size
}

func runMarshal(r *core.Run, bs []byte) (n int) {
	n += varint.Int.Marshal(runFormatVersion, bs[n:])
	n += ord.String.Marshal(r.ID, bs[n:])
	n += ord.String.Marshal(r.Source, bs[n:])
	n += varint.Uint64.Marshal(uint64(r.ContentID), bs[n:])
	n += ord.String.Marshal(r.IndexName, bs[n:])
	n += ord.String.Marshal(string(r.Status), bs[n:])
	n += varint.Int.Marshal(r.TotalChunks, bs[n:])
	n += varint.Int.Marshal(r.SuccessfulChunks, bs[n:])
	n += varint.Int.Marshal(len(r.FailedChunks), bs[n:])
	for _, f := range r.FailedChunks {
		n += varint.Int.Marshal(f.Index, bs[n:])
		n += ord.String.Marshal(f.Error, bs[n:])
	}
	n += varint.Int.Marshal(r.EmbeddingDimension, bs[n:])
	n += varint.Int.Marshal(len(r.VectorIDs), bs[n:])
	for _, id := range r.VectorIDs {
		n += ord.String.Marshal(id, bs[n:])
	}
	n += varint.Int.Marshal(r.TotalTextLength, bs[n:])
	n += ord.Bool.Marshal(r.IndexCreated, bs[n:])
	n += ord.String.Marshal(r.Classification, bs[n:])
	n += ord.String.Marshal(r.Error, bs[n:])
	n += varint.Int64.Marshal(r.StartedAt.UnixMicro(), bs[n:])
	n += varint.Int64.Marshal(r.FinishedAt.UnixMicro(), bs[n:])
	return n
}

// decoder threads the read offset and the first error through a sequence
// of unmarshal calls.
type decoder struct {
	bs  []byte
	n   int
	err error
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	v, n, err := ord.String.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) int() int {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) count() int {
	c := d.int()
	if d.err == nil && (c < 0 || c > len(d.bs)-d.n) {
		d.err = ErrTruncatedData
		return 0
	}
	return c
}

func (d *decoder) int64() int64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Int64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) uint64() uint64 {
	if d.err != nil {
		return 0
	}
	v, n, err := varint.Uint64.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func (d *decoder) bool() bool {
	if d.err != nil {
		return false
	}
	v, n, err := ord.Bool.Unmarshal(d.bs[d.n:])
	d.n += n
	d.err = err
	return v
}

func runUnmarshal(bs []byte) (*core.Run, error) {
	d := &decoder{bs: bs}
	if version := d.int(); d.err == nil && version != runFormatVersion {
		return nil, fmt.Errorf("unsupported run format version %d", version)
	}

	r := &core.Run{}
	r.ID = d.str()
	r.Source = d.str()
	r.ContentID = core.ID(d.uint64())
	r.IndexName = d.str()
	r.Status = core.RunStatus(d.str())
	r.TotalChunks = d.int()
	r.SuccessfulChunks = d.int()
	if c := d.count(); c > 0 {
		r.FailedChunks = make([]core.FailedChunk, c)
		for i := range r.FailedChunks {
			r.FailedChunks[i].Index = d.int()
			r.FailedChunks[i].Error = d.str()
		}
	}
	r.EmbeddingDimension = d.int()
	if c := d.count(); c > 0 {
		r.VectorIDs = make([]string, c)
		for i := range r.VectorIDs {
			r.VectorIDs[i] = d.str()
		}
	}
	r.TotalTextLength = d.int()
	r.IndexCreated = d.bool()
	r.Classification = d.str()
	r.Error = d.str()
	r.StartedAt = time.UnixMicro(d.int64()).UTC()
	r.FinishedAt = time.UnixMicro(d.int64()).UTC()

	if d.err != nil {
		return nil, d.err
	}
	return r, nil
}
