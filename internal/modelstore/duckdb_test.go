package modelstore

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// createTestDuckDBStore creates an in-memory DuckDB store with a page limit of 2.
func createTestDuckDBStore(t *testing.T) *DuckDBStore {
	t.Helper()
	store, err := NewDuckDBStore(":memory:", WithPageLimit(2), WithLogger(quietLogger()))
	require.NoError(t, err, "failed to create test DuckDB store")
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestDuckDBStore(t *testing.T) {
	runStoreSuite(t, createTestDuckDBStore(t))
}

func TestDuckDBStore_DuplicateID(t *testing.T) {
	ctx := context.Background()
	store := createTestDuckDBStore(t)
	require.NoError(t, store.Initialize(ctx))

	require.NoError(t, store.Store(ctx, &MetaModel{ID: "same", Tags: []string{"a"}}))
	err := store.Store(ctx, &MetaModel{ID: "same", Tags: []string{"b"}})
	require.Error(t, err)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "store", storeErr.Operation)
	assert.Equal(t, "duckdb", storeErr.Backend)

	// The failed transaction left no tag behind.
	got, err := store.Get(ctx, Filter{Tags: []string{"b"}})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestDuckDBStore_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "models.db")

	store, err := NewDuckDBStore(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	require.NoError(t, store.Initialize(ctx))
	require.NoError(t, store.Store(ctx, &MetaModel{ID: "kept", Artifact: []byte{0, 1, 2}, Columns: []string{"open"}, CreationDate: epoch}))
	require.NoError(t, store.Close())

	reopened, err := NewDuckDBStore(path, WithLogger(quietLogger()))
	require.NoError(t, err)
	defer reopened.Close()
	require.NoError(t, reopened.Initialize(ctx))

	got, err := reopened.Get(ctx, Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "kept", got[0].ID)
	assert.Equal(t, []byte{0, 1, 2}, got[0].Artifact)
	assert.Equal(t, []string{"open"}, got[0].Columns)
	assert.True(t, epoch.Equal(got[0].CreationDate))
}
