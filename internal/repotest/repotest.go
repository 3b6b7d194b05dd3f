// Package repotest holds the behaviour every collection and document
// repository must share, so adapters run the same checks.
package repotest

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/core"
)

// Repository is what an adapter provides.
type Repository interface {
	core.CollectionRepository
	core.DocumentRepository
}

// Factory returns a fresh, empty repository.
type Factory func(t *testing.T) Repository

func collection(id string) core.Collection {
	return core.Collection{
		ID:        id,
		Title:     id,
		Schema:    json.RawMessage(`{"type":"object","properties":{"n":{"type":"integer"}}}`),
		CreatedAt: time.Unix(1700000000, 0).UTC(),
	}
}

func doc(coll, id string, n int) core.Document {
	return core.Document{ID: id, CollectionID: coll, Fields: core.Fields{"n": json.Number(fmt.Sprint(n))}}
}

// Run executes the shared checks against repositories built by newRepo.
func Run(t *testing.T, newRepo Factory) {
	t.Run("Collections", func(t *testing.T) { testCollections(t, newRepo(t)) })
	t.Run("Documents", func(t *testing.T) { testDocuments(t, newRepo(t)) })
	t.Run("ScanOrder", func(t *testing.T) { testScanOrder(t, newRepo(t)) })
	t.Run("Purge", func(t *testing.T) { testPurge(t, newRepo(t)) })
	t.Run("NestedValuesAreCopied", func(t *testing.T) { testNestedValuesAreCopied(t, newRepo(t)) })
	t.Run("MissingCollection", func(t *testing.T) { testMissingCollection(t, newRepo(t)) })
	t.Run("ConcurrentInserts", func(t *testing.T) { testConcurrentInserts(t, newRepo(t)) })
}

func testCollections(t *testing.T, r Repository) {
	ctx := context.Background()

	require.NoError(t, r.CreateCollection(ctx, collection("b")))
	require.NoError(t, r.CreateCollection(ctx, collection("a")))
	require.NoError(t, r.CreateCollection(ctx, collection("c")))

	err := r.CreateCollection(ctx, collection("a"))
	assert.ErrorIs(t, err, core.ErrConflict)

	list, err := r.ListCollections(ctx)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].ID, list[1].ID, list[2].ID})
	assert.JSONEq(t, string(collection("a").Schema), string(list[1].Schema))
	assert.True(t, collection("a").CreatedAt.Equal(list[1].CreatedAt))

	require.NoError(t, r.DeleteCollection(ctx, "a"))
	assert.ErrorIs(t, r.DeleteCollection(ctx, "a"), core.ErrNotFound)

	list, err = r.ListCollections(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testDocuments(t *testing.T, r Repository) {
	ctx := context.Background()
	require.NoError(t, r.CreateCollection(ctx, collection("c")))

	require.NoError(t, r.Insert(ctx, doc("c", "x", 1)))
	assert.ErrorIs(t, r.Insert(ctx, doc("c", "x", 2)), core.ErrConflict)

	got, err := r.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, "x", got.ID)
	assert.Equal(t, "c", got.CollectionID)
	assert.Equal(t, json.Number("1"), got.Fields["n"])

	require.NoError(t, r.Replace(ctx, doc("c", "x", 5)))
	got, err = r.Get(ctx, "c", "x")
	require.NoError(t, err)
	assert.Equal(t, json.Number("5"), got.Fields["n"])

	assert.ErrorIs(t, r.Replace(ctx, doc("c", "ghost", 1)), core.ErrNotFound)

	require.NoError(t, r.Remove(ctx, "c", "x"))
	_, err = r.Get(ctx, "c", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)
	assert.ErrorIs(t, r.Remove(ctx, "c", "x"), core.ErrNotFound)
}

func testScanOrder(t *testing.T, r Repository) {
	ctx := context.Background()
	require.NoError(t, r.CreateCollection(ctx, collection("c")))

	ids := []string{"m", "a", "z", "b"}
	for i, id := range ids {
		require.NoError(t, r.Insert(ctx, doc("c", id, i)))
	}
	// Replacing keeps the original position.
	require.NoError(t, r.Replace(ctx, doc("c", "a", 99)))

	var seen []string
	require.NoError(t, r.Scan(ctx, "c", func(d core.Document) bool {
		seen = append(seen, d.ID)
		return true
	}))
	assert.Equal(t, ids, seen)

	seen = nil
	require.NoError(t, r.Scan(ctx, "c", func(d core.Document) bool {
		seen = append(seen, d.ID)
		return len(seen) < 2
	}))
	assert.Equal(t, []string{"m", "a"}, seen)
}

func testPurge(t *testing.T, r Repository) {
	ctx := context.Background()
	require.NoError(t, r.CreateCollection(ctx, collection("c")))
	for i := 0; i < 5; i++ {
		require.NoError(t, r.Insert(ctx, doc("c", fmt.Sprintf("d%d", i), i)))
	}

	n, err := r.Purge(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	count := 0
	require.NoError(t, r.Scan(ctx, "c", func(core.Document) bool { count++; return true }))
	assert.Zero(t, count)

	// The collection itself survives a purge.
	require.NoError(t, r.Insert(ctx, doc("c", "d0", 0)))
}

func testMissingCollection(t *testing.T, r Repository) {
	ctx := context.Background()

	assert.ErrorIs(t, r.Insert(ctx, doc("nope", "x", 1)), core.ErrNotFound)
	assert.ErrorIs(t, r.Replace(ctx, doc("nope", "x", 1)), core.ErrNotFound)
	assert.ErrorIs(t, r.Remove(ctx, "nope", "x"), core.ErrNotFound)
	_, err := r.Get(ctx, "nope", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = r.Purge(ctx, "nope")
	assert.ErrorIs(t, err, core.ErrNotFound)
	err = r.Scan(ctx, "nope", func(core.Document) bool { return true })
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Documents do not outlive their collection.
	require.NoError(t, r.CreateCollection(ctx, collection("c")))
	require.NoError(t, r.Insert(ctx, doc("c", "x", 1)))
	require.NoError(t, r.DeleteCollection(ctx, "c"))
	require.NoError(t, r.CreateCollection(ctx, collection("c")))
	_, err = r.Get(ctx, "c", "x")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func testConcurrentInserts(t *testing.T, r Repository) {
	ctx := context.Background()
	require.NoError(t, r.CreateCollection(ctx, collection("c")))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, r.Insert(ctx, doc("c", fmt.Sprintf("d%02d", i), i)))
		}()
	}
	wg.Wait()

	count := 0
	require.NoError(t, r.Scan(ctx, "c", func(core.Document) bool { count++; return true }))
	assert.Equal(t, 20, count)
}

func testNestedValuesAreCopied(t *testing.T, r Repository) {
	ctx := context.Background()
	require.NoError(t, r.CreateCollection(ctx, collection("c")))

	fields := core.Fields{"meta": map[string]any{"n": json.Number("1")}, "tags": []any{"a"}}
	require.NoError(t, r.Insert(ctx, core.Document{ID: "x", CollectionID: "c", Fields: fields}))
	fields["meta"].(map[string]any)["n"] = "after insert"
	fields["tags"].([]any)[0] = "after insert"

	got, err := r.Get(ctx, "c", "x")
	require.NoError(t, err)
	got.Fields["meta"].(map[string]any)["n"] = "after get"
	got.Fields["tags"].([]any)[0] = "after get"

	require.NoError(t, r.Scan(ctx, "c", func(d core.Document) bool {
		d.Fields["meta"].(map[string]any)["n"] = "after scan"
		return true
	}))

	got, err = r.Get(ctx, "c", "x")
	require.NoError(t, err)
	meta, ok := got.Fields["meta"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "1", fmt.Sprint(meta["n"]))
	assert.Equal(t, []any{"a"}, got.Fields["tags"])
}
