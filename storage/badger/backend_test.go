package badger

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docingest/storage"
)

func TestOpenBackend_InMemory(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NotNil(t, backend)
	defer backend.Close()

	assert.False(t, backend.IsClosed())
}

func TestOpenBackend_FileSystem(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "db")
	backend, err := OpenBackend(dir, false, nil)
	require.NoError(t, err)
	defer backend.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestOpenBackend_NotADirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file.txt")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0644))

	_, err := OpenBackend(file, false, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a directory")
}

func TestBackendClose(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)

	assert.False(t, backend.IsClosed())
	require.NoError(t, backend.Close())
	assert.True(t, backend.IsClosed())
}

func TestWithUpdate(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	defer backend.Close()

	boom := errors.New("boom")
	err = backend.WithUpdate(func(tx *badger.Txn) error {
		if err := tx.Set([]byte("discarded"), []byte("v")); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	err = backend.WithUpdate(func(tx *badger.Txn) error {
		return tx.Set([]byte("kept"), []byte("v"))
	})
	require.NoError(t, err)

	err = backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte("discarded"))
		return err
	}, false)
	assert.ErrorIs(t, err, badger.ErrKeyNotFound)

	err = backend.WithTx(func(tx *badger.Txn) error {
		_, err := tx.Get([]byte("kept"))
		return err
	}, false)
	assert.NoError(t, err)
}

func TestWithUpdate_Closed(t *testing.T) {
	backend, err := OpenBackend("", true, nil)
	require.NoError(t, err)
	require.NoError(t, backend.Close())

	err = backend.WithUpdate(func(tx *badger.Txn) error { return nil })
	assert.ErrorIs(t, err, storage.ErrStorageClosed)
}
