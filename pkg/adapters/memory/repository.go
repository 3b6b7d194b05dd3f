// Package memory provides in-memory collection and document repositories for
// ephemeral nodes and tests.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/aretw0/quipu/pkg/core"
)

type storedDoc struct {
	seq    uint64
	fields core.Fields
}

type collection struct {
	meta core.Collection
	seq  uint64
	docs map[string]*storedDoc
}

// Repository keeps collections and documents in maps guarded by one lock.
// Documents are deep-copied on the way in and on the way out.
type Repository struct {
	mu    sync.RWMutex
	colls map[string]*collection
	order []string
	seq   uint64
}

// NewRepository creates an empty repository.
func NewRepository() *Repository {
	return &Repository{colls: make(map[string]*collection)}
}

// CreateCollection implements core.CollectionRepository.
func (r *Repository) CreateCollection(ctx context.Context, c core.Collection) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.colls[c.ID]; ok {
		return core.Conflict("collection", c.ID)
	}
	r.colls[c.ID] = &collection{meta: c, docs: make(map[string]*storedDoc)}
	r.order = append(r.order, c.ID)
	return nil
}

// DeleteCollection implements core.CollectionRepository.
func (r *Repository) DeleteCollection(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.colls[id]; !ok {
		return core.NotFound("collection", id)
	}
	delete(r.colls, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	return nil
}

// ListCollections implements core.CollectionRepository.
func (r *Repository) ListCollections(ctx context.Context) ([]core.Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]core.Collection, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.colls[id].meta)
	}
	return out, nil
}

// Insert implements core.DocumentRepository.
func (r *Repository) Insert(ctx context.Context, doc core.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colls[doc.CollectionID]
	if !ok {
		return core.NotFound("collection", doc.CollectionID)
	}
	if _, ok := c.docs[doc.ID]; ok {
		return core.Conflict("document", doc.ID)
	}
	c.seq++
	c.docs[doc.ID] = &storedDoc{seq: c.seq, fields: doc.Fields.Clone()}
	return nil
}

// Replace implements core.DocumentRepository.
func (r *Repository) Replace(ctx context.Context, doc core.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colls[doc.CollectionID]
	if !ok {
		return core.NotFound("collection", doc.CollectionID)
	}
	d, ok := c.docs[doc.ID]
	if !ok {
		return core.NotFound("document", doc.ID)
	}
	c.docs[doc.ID] = &storedDoc{seq: d.seq, fields: doc.Fields.Clone()}
	return nil
}

// Get implements core.DocumentRepository.
func (r *Repository) Get(ctx context.Context, coll, id string) (core.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	c, ok := r.colls[coll]
	if !ok {
		return core.Document{}, core.NotFound("collection", coll)
	}
	d, ok := c.docs[id]
	if !ok {
		return core.Document{}, core.NotFound("document", id)
	}
	return core.Document{ID: id, CollectionID: coll, Fields: d.fields.Clone()}, nil
}

// Remove implements core.DocumentRepository.
func (r *Repository) Remove(ctx context.Context, coll, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colls[coll]
	if !ok {
		return core.NotFound("collection", coll)
	}
	if _, ok := c.docs[id]; !ok {
		return core.NotFound("document", id)
	}
	delete(c.docs, id)
	return nil
}

// Scan implements core.DocumentRepository. The callback runs on a snapshot,
// outside the lock.
func (r *Repository) Scan(ctx context.Context, coll string, fn func(core.Document) bool) error {
	r.mu.RLock()
	c, ok := r.colls[coll]
	if !ok {
		r.mu.RUnlock()
		return core.NotFound("collection", coll)
	}
	type item struct {
		id  string
		doc *storedDoc
	}
	items := make([]item, 0, len(c.docs))
	for id, d := range c.docs {
		items = append(items, item{id, d})
	}
	r.mu.RUnlock()

	sort.Slice(items, func(i, j int) bool { return items[i].doc.seq < items[j].doc.seq })
	for _, it := range items {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !fn(core.Document{ID: it.id, CollectionID: coll, Fields: it.doc.fields.Clone()}) {
			return nil
		}
	}
	return nil
}

// Purge implements core.DocumentRepository.
func (r *Repository) Purge(ctx context.Context, coll string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c, ok := r.colls[coll]
	if !ok {
		return 0, core.NotFound("collection", coll)
	}
	n := len(c.docs)
	c.docs = make(map[string]*storedDoc)
	return n, nil
}

// ComponentType implements introspection.Component.
func (r *Repository) ComponentType() string { return "memory" }

var (
	_ core.CollectionRepository = (*Repository)(nil)
	_ core.DocumentRepository   = (*Repository)(nil)
)
