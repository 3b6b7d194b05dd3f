package sqlite

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/core"
)

func TestVectorEncoding(t *testing.T) {
	in := []float32{0, 1, -1, 0.5, math.MaxFloat32, float32(math.Inf(-1))}
	out, err := decodeVector(encodeVector(in))
	require.NoError(t, err)
	assert.Equal(t, in, out)

	_, err = decodeVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestRepository_RoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "vectors.db")

	r, err := Open(path)
	require.NoError(t, err)

	require.NoError(t, r.Insert(ctx, "docs", []core.Embedding{
		{ID: "a", Namespace: "docs", Content: "alpha", Vector: []float32{1, 0}},
		{ID: "b", Namespace: "docs", Content: "beta", Vector: []float32{0, 1}},
		{ID: "c", Namespace: "docs", Content: "gamma", Vector: []float32{0.6, 0.8}},
	}))
	require.NoError(t, r.Insert(ctx, "other", []core.Embedding{
		{ID: "a", Namespace: "other", Content: "same id, other namespace", Vector: []float32{1, 2, 3}},
	}))
	require.NoError(t, r.Delete(ctx, "docs", []string{"b", "missing"}))
	require.NoError(t, r.Close())

	r, err = Open(path)
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	require.Len(t, got["docs"], 2)
	assert.Equal(t, "a", got["docs"][0].ID)
	assert.Equal(t, "c", got["docs"][1].ID)
	assert.Equal(t, []float32{0.6, 0.8}, got["docs"][1].Vector)
	assert.Equal(t, "gamma", got["docs"][1].Content)
	assert.Equal(t, []float32{1, 2, 3}, got["other"][0].Vector)
}

func TestRepository_BatchIsAtomic(t *testing.T) {
	ctx := context.Background()
	r, err := Open(filepath.Join(t.TempDir(), "vectors.db"))
	require.NoError(t, err)
	defer r.Close()

	require.NoError(t, r.Insert(ctx, "ns", []core.Embedding{{ID: "x", Content: "x", Vector: []float32{1}}}))

	err = r.Insert(ctx, "ns", []core.Embedding{
		{ID: "y", Content: "y", Vector: []float32{1}},
		{ID: "x", Content: "duplicate", Vector: []float32{1}},
	})
	require.Error(t, err)

	got, err := r.Load(ctx)
	require.NoError(t, err)
	require.Len(t, got["ns"], 1, "a failed batch leaves no partial rows")
	assert.Equal(t, "x", got["ns"][0].ID)
}
