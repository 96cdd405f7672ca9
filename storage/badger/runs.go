package badger

import (
	"context"
	"errors"
	"slices"

	"github.com/dgraph-io/badger/v4"

	"github.com/poiesic/docingest/core"
	"github.com/poiesic/docingest/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
	owned   bool
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository opens a BadgerDB database at path and returns a
// repository that owns it.
func NewRunRepository(path string) (storage.RunRepository, error) {
	backend, err := OpenBackend(path, false, nil)
	if err != nil {
		return nil, err
	}
	return &RunRepository{backend: backend, owned: true}, nil
}

// newRunRepository wraps a backend the caller keeps ownership of.
func newRunRepository(backend *Backend) *RunRepository {
	return &RunRepository{backend: backend}
}

// Close closes the backend if this repository opened it.
func (r *RunRepository) Close() error {
	if r.owned {
		return r.backend.Close()
	}
	return nil
}

// SaveRun inserts or replaces a run together with its index entries.
func (r *RunRepository) SaveRun(ctx context.Context, run *core.Run) error {
	if run == nil || run.ID == "" {
		return storage.ErrInvalidQuery
	}
	return r.backend.WithUpdate(func(tx *badger.Txn) error {
		key := makeRunKey(run.ID)

		// Drop index entries of a previous version of this run
		old, err := r.readRun(tx, key)
		if err != nil {
			return err
		}
		if old != nil {
			if err := tx.Delete(makeRunDateKey(old.StartedAt, old.ID)); err != nil {
				return err
			}
			if err := tx.Delete(makeRunContentKey(old.ContentID, old.StartedAt, old.ID)); err != nil {
				return err
			}
		}

		if err := tx.Set(key, storage.MarshalRun(run)); err != nil {
			return err
		}
		if err := tx.Set(makeRunDateKey(run.StartedAt, run.ID), []byte(run.ID)); err != nil {
			return err
		}
		if err := tx.Set(makeRunContentKey(run.ContentID, run.StartedAt, run.ID), []byte(run.ID)); err != nil {
			return err
		}
		return nil
	})
}

// GetRun retrieves a single run by ID.
func (r *RunRepository) GetRun(ctx context.Context, id string) (*core.Run, error) {
	var run *core.Run
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		run, err = r.readRun(tx, makeRunKey(id))
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

// GetRecentRuns returns up to limit runs, most recently started first.
func (r *RunRepository) GetRecentRuns(ctx context.Context, limit int) ([]*core.Run, error) {
	if limit <= 0 {
		return nil, storage.ErrInvalidQuery
	}

	var runs []*core.Run
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = []byte(runDatePrefix)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse iteration must seek past the last possible key
		seek := append([]byte(runDatePrefix), 0xff)
		for iter.Seek(seek); iter.Valid() && len(runs) < limit; iter.Next() {
			run, err := r.readIndexed(tx, iter.Item())
			if err != nil {
				return err
			}
			if run != nil {
				runs = append(runs, run)
			}
		}
		return nil
	}, false)
	return runs, err
}

// GetRunsByContent returns every run of the given content, oldest first.
func (r *RunRepository) GetRunsByContent(ctx context.Context, contentID core.ID) ([]*core.Run, error) {
	var runs []*core.Run
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		prefix := makePartialRunContentKey(contentID)
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Seek(prefix); iter.ValidForPrefix(prefix); iter.Next() {
			run, err := r.readIndexed(tx, iter.Item())
			if err != nil {
				return err
			}
			if run != nil {
				runs = append(runs, run)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(runs, func(a, b *core.Run) int {
		return a.StartedAt.Compare(b.StartedAt)
	})
	return runs, nil
}

// readIndexed follows an index entry to its run.
func (r *RunRepository) readIndexed(tx *badger.Txn, item *badger.Item) (*core.Run, error) {
	id, err := item.ValueCopy(nil)
	if err != nil {
		return nil, err
	}
	return r.readRun(tx, makeRunKey(string(id)))
}

// readRun reads a run, returning nil when the key is absent.
func (r *RunRepository) readRun(tx *badger.Txn, key []byte) (*core.Run, error) {
	item, err := tx.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	var run *core.Run
	err = item.Value(func(val []byte) error {
		var err error
		run, err = storage.UnmarshalRun(val)
		return err
	})
	return run, err
}
