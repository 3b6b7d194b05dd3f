package core

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/aretw0/quipu/pkg/schema"
)

// Terminator ends every live subscription of a collection.
type Terminator interface {
	Terminate(collection string) int
}

// DeleteResult is returned by Registry.Delete.
type DeleteResult struct {
	Code         int `json:"code"`
	DeletedCount int `json:"deleted_count"`
}

type registryEntry struct {
	collection Collection
	schema     *schema.Schema
}

// Registry owns collection definitions and their compiled schemas.
// Reads share an RWMutex; create and delete take it exclusively.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*registryEntry
	order   []string

	repo   CollectionRepository
	docs   DocumentRepository
	bus    Terminator
	logger *slog.Logger
}

// NewRegistry builds a registry and loads existing collections from repo.
// docs is used to purge documents on delete and bus (optional) to terminate
// subscriptions.
func NewRegistry(ctx context.Context, repo CollectionRepository, docs DocumentRepository, bus Terminator, logger *slog.Logger) (*Registry, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	r := &Registry{
		entries: make(map[string]*registryEntry),
		repo:    repo,
		docs:    docs,
		bus:     bus,
		logger:  logger,
	}

	stored, err := repo.ListCollections(ctx)
	if err != nil {
		return nil, Internal("load collections", err)
	}
	for _, c := range stored {
		s, err := schema.Compile(c.Schema)
		if err != nil {
			logger.Warn("skipping collection with unreadable schema", "collection", c.ID, "error", err)
			continue
		}
		r.entries[c.ID] = &registryEntry{collection: c, schema: s}
		r.order = append(r.order, c.ID)
	}
	logger.Debug("registry loaded", "collections", len(r.order))
	return r, nil
}

// DeriveID computes the deterministic id used when a collection is created
// without one.
func DeriveID(s *schema.Schema) string {
	sum := sha256.Sum256(s.Canonical())
	return hex.EncodeToString(sum[:])[:16]
}

// Create registers a new collection. An empty id is derived from the schema.
func (r *Registry) Create(ctx context.Context, id string, rawSchema []byte) (Collection, error) {
	s, err := schema.Compile(rawSchema)
	if err != nil {
		return Collection{}, FromSchema(err)
	}
	if id == "" {
		id = DeriveID(s)
	}
	if err := ValidateID("collection", id); err != nil {
		return Collection{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.entries[id]; ok {
		return Collection{}, Conflict("collection", id)
	}

	c := Collection{
		ID:        id,
		Title:     s.Title(),
		Schema:    s.Raw(),
		CreatedAt: time.Now().UTC(),
	}
	if err := r.repo.CreateCollection(ctx, c); err != nil {
		return Collection{}, Internal("create collection", err)
	}

	r.entries[id] = &registryEntry{collection: c, schema: s}
	r.order = append(r.order, id)
	r.logger.Info("collection created", "collection", id, "title", c.Title)
	return c, nil
}

// Get returns a collection by id.
func (r *Registry) Get(ctx context.Context, id string) (Collection, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return Collection{}, NotFound("collection", id)
	}
	return e.collection, nil
}

// Exists reports whether the collection is registered.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[id]
	return ok
}

// Delete removes the collection, purges its documents and terminates its
// subscriptions. A second delete of the same id fails with ErrNotFound.
func (r *Registry) Delete(ctx context.Context, id string) (DeleteResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[id]
	if !ok {
		return DeleteResult{}, NotFound("collection", id)
	}

	// Unregister first so new writes fail validation with NotFound.
	delete(r.entries, id)

	purged, err := r.docs.Purge(ctx, id)
	if err != nil && !errors.Is(err, ErrNotFound) {
		r.entries[id] = entry
		return DeleteResult{}, Internal("purge documents", err)
	}
	if err := r.repo.DeleteCollection(ctx, id); err != nil && !errors.Is(err, ErrNotFound) {
		r.entries[id] = entry
		return DeleteResult{}, Internal("delete collection", err)
	}
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	var closed int
	if r.bus != nil {
		closed = r.bus.Terminate(id)
	}
	r.logger.Info("collection deleted", "collection", id, "documents", purged, "subscribers", closed)
	return DeleteResult{Code: 0, DeletedCount: purged}, nil
}

// List returns collections in creation order. limit <= 0 means no limit.
func (r *Registry) List(ctx context.Context, limit, offset int) ([]CollectionMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	lo, hi := Page{Limit: limit, Offset: offset}.Apply(len(r.order))
	out := make([]CollectionMetadata, 0, hi-lo)
	for _, id := range r.order[lo:hi] {
		out = append(out, r.entries[id].collection.Metadata())
	}
	return out, nil
}

// Validate runs the collection schema against a candidate document body.
func (r *Registry) Validate(ctx context.Context, id string, fields Fields) error {
	s, err := r.Schema(id)
	if err != nil {
		return err
	}
	return FromSchema(s.Validate(map[string]any(fields)))
}

// Schema returns the compiled schema of a collection.
func (r *Registry) Schema(id string) (*schema.Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[id]
	if !ok {
		return nil, NotFound("collection", id)
	}
	return e.schema, nil
}

// Len returns the number of registered collections.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// ValidateID rejects identifiers that cannot be used as storage keys.
func ValidateID(kind, id string) error {
	if id == "" {
		return Invalid("%s id cannot be empty", kind)
	}
	if len(id) > 256 {
		return Invalid("%s id is longer than 256 bytes", kind)
	}
	for _, r := range id {
		if r < 0x20 || r == 0x7f {
			return Invalid("%s id contains control characters", kind)
		}
	}
	return nil
}
