package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/charles/internal/storage"
)

func newTestIndex(t *testing.T) *VectorIndex {
	t.Helper()
	idx, err := NewVectorIndex(":memory:", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = idx.Close() })
	return idx
}

func doc(id, text, category, typ string, emb ...float32) storage.Document {
	return storage.Document{
		ID:        id,
		Text:      text,
		Embedding: emb,
		Metadata:  storage.Metadata{PriorCategory: category, PriorType: typ},
	}
}

func TestCodecRoundTrip(t *testing.T) {
	in := []float32{0, 1.5, -2.25, 3e-8}
	out, err := decodeEmbedding(encodeEmbedding(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeEmbedding([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestVectorIndex_InsertIgnoresExistingIDs(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Insert(ctx, []storage.Document{
		doc("a", "first", "Empirical Beliefs", storage.PriorBelief, 1, 0),
		doc("b", "second", "Social Desires", storage.PriorDesire, 0, 1),
	}))
	require.NoError(t, idx.Insert(ctx, []storage.Document{
		doc("a", "replaced?", "Empirical Beliefs", storage.PriorBelief, 9, 9),
	}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := idx.Search(ctx, []float32{1, 0}, 1, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "first", got[0].Text)
	assert.InDelta(t, 0, got[0].Distance, 1e-9)
}

func TestVectorIndex_InsertReplacesOtherDimension(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Insert(ctx, []storage.Document{doc("a", "old", "A", storage.PriorBelief, 1, 0)}))
	require.NoError(t, idx.Insert(ctx, []storage.Document{doc("a", "new", "A", storage.PriorBelief, 1, 0, 0)}))

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = idx.CountDimension(ctx, 2)
	require.NoError(t, err)
	assert.Zero(t, n)
	n, err = idx.CountDimension(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := idx.Search(ctx, []float32{1, 0, 0}, 1, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "new", got[0].Text)

	got, err = idx.Search(ctx, []float32{1, 0}, 1, storage.Filter{})
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestVectorIndex_SearchRanksByL2AndFilters(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	require.NoError(t, idx.Insert(ctx, []storage.Document{
		doc("near", "near", "A", storage.PriorBelief, 1, 1),
		doc("mid", "mid", "B", storage.PriorBelief, 3, 3),
		doc("far", "far", "A", storage.PriorDesire, 10, 10),
	}))

	got, err := idx.Search(ctx, []float32{0, 0}, 3, storage.Filter{})
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, []string{"near", "mid", "far"}, []string{got[0].ID, got[1].ID, got[2].ID})
	assert.Less(t, got[0].Distance, got[1].Distance)

	got, err = idx.Search(ctx, []float32{0, 0}, 5, storage.Filter{Category: "A"})
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = idx.Search(ctx, []float32{0, 0}, 5, storage.Filter{Type: storage.PriorDesire})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "far", got[0].ID)
	assert.Equal(t, "A", got[0].Metadata.PriorCategory)
}

func TestVectorIndex_RejectsInvalidInput(t *testing.T) {
	ctx := context.Background()
	idx := newTestIndex(t)

	err := idx.Insert(ctx, []storage.Document{{ID: "x", Text: "no vector"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)

	_, err = idx.Search(ctx, []float32{1}, 0, storage.Filter{})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestVectorIndex_PersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "priors.db")

	idx, err := NewVectorIndex(path, nil)
	require.NoError(t, err)
	require.NoError(t, idx.Insert(ctx, []storage.Document{doc("a", "kept", "A", storage.PriorBelief, 1)}))
	require.NoError(t, idx.Close())

	idx, err = NewVectorIndex(path, nil)
	require.NoError(t, err)
	defer idx.Close()

	n, err := idx.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestDBPathFromDSN(t *testing.T) {
	assert.Equal(t, "", dbPathFromDSN(":memory:"))
	assert.Equal(t, "", dbPathFromDSN("file::memory:"))
	assert.Equal(t, "/tmp/x.db", dbPathFromDSN("file:/tmp/x.db?mode=rwc"))
	assert.Equal(t, "/tmp/y.db", dbPathFromDSN("/tmp/y.db"))
}
