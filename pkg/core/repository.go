package core

import "context"

// CollectionRepository persists collection definitions.
// Adhering to this interface keeps the registry independent of the
// underlying storage mechanism (bbolt, memory, etc).
type CollectionRepository interface {
	// CreateCollection stores a new collection. It fails with ErrConflict if
	// the id is taken.
	CreateCollection(ctx context.Context, c Collection) error

	// DeleteCollection removes the collection record together with whatever
	// documents remain in it. It fails with ErrNotFound if absent.
	DeleteCollection(ctx context.Context, id string) error

	// ListCollections returns every collection in creation order.
	ListCollections(ctx context.Context) ([]Collection, error)
}

// DocumentRepository persists documents keyed by (collection, id).
// Every write checks that the collection still exists inside the same storage
// transaction and fails with ErrNotFound otherwise.
type DocumentRepository interface {
	// Insert stores a new document. ErrConflict if the id is already present.
	Insert(ctx context.Context, doc Document) error

	// Replace overwrites an existing document, keeping its insertion position.
	// ErrNotFound if the id is absent.
	Replace(ctx context.Context, doc Document) error

	// Get retrieves a document by id.
	Get(ctx context.Context, collection, id string) (Document, error)

	// Remove deletes a document. ErrNotFound if absent.
	Remove(ctx context.Context, collection, id string) error

	// Scan calls fn for every document of the collection in insertion order
	// until fn returns false.
	Scan(ctx context.Context, collection string, fn func(Document) bool) error

	// Purge deletes every document of the collection and returns how many
	// were removed.
	Purge(ctx context.Context, collection string) (int, error)
}

// VectorRepository persists embeddings per namespace.
type VectorRepository interface {
	// Load returns every stored embedding grouped by namespace, each group in
	// insertion order.
	Load(ctx context.Context) (map[string][]Embedding, error)

	// Insert stores a batch atomically.
	Insert(ctx context.Context, namespace string, batch []Embedding) error

	// Delete removes the given ids from the namespace.
	Delete(ctx context.Context, namespace string, ids []string) error
}

// Embedder turns texts into vectors. Implementations are black boxes from the
// engine's point of view.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
	Name() string
}

// Publisher receives the events produced by successful mutations.
type Publisher interface {
	Publish(e Event)
}
