package postgres_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/charles/internal/storage"
	"github.com/scrypster/charles/internal/storage/postgres"
)

// postgresTestDSN returns the DSN for the test database.
// If POSTGRES_TEST_DSN is not set, tests are skipped.
func postgresTestDSN(t *testing.T) string {
	t.Helper()

	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set; skipping PostgreSQL integration tests")
	}
	return dsn
}

func newTestIndex(t *testing.T) *postgres.VectorIndex {
	t.Helper()

	idx, err := postgres.NewVectorIndex(postgresTestDSN(t), nil)
	require.NoError(t, err, "NewVectorIndex should succeed")
	require.NoError(t, idx.TruncateForTest(context.Background()))

	t.Cleanup(func() {
		_ = idx.Close()
	})
	return idx
}

func TestVectorIndex_InsertSearchCount(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	docs := []storage.Document{
		{ID: "near", Text: "near", Embedding: []float32{1, 1}, Metadata: storage.Metadata{PriorCategory: "A", PriorType: storage.PriorBelief}},
		{ID: "far", Text: "far", Embedding: []float32{5, 5}, Metadata: storage.Metadata{PriorCategory: "B", PriorType: storage.PriorDesire}},
	}
	require.NoError(t, idx.Insert(ctx, docs))
	require.NoError(t, idx.Insert(ctx, docs[:1]), "duplicate ids are ignored")

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := idx.Search(ctx, []float32{0, 0}, 2, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "near", got[0].ID)
	assert.InDelta(t, 1.41421, got[0].Distance, 1e-4)
	assert.Equal(t, []float32{1, 1}, got[0].Embedding)

	got, err = idx.Search(ctx, []float32{0, 0}, 2, storage.Filter{Type: storage.PriorDesire})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "far", got[0].ID)
}

func TestVectorIndex_InsertReplacesOtherDimension(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	old := storage.Document{ID: "a", Text: "old", Embedding: []float32{1, 0}}
	require.NoError(t, idx.Insert(ctx, []storage.Document{old}))
	require.NoError(t, idx.Insert(ctx, []storage.Document{{ID: "a", Text: "new", Embedding: []float32{1, 0, 0}}}))

	n, err := idx.CountDimension(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = idx.CountDimension(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := idx.Search(ctx, []float32{1, 0, 0}, 1, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Text)
}
