package core

import "context"

// VectorService stores embeddings per namespace and answers similarity
// queries. pkg/vector provides the implementation.
type VectorService interface {
	Upsert(ctx context.Context, namespace string, texts []string, model string) (UpsertResult, error)
	Query(ctx context.Context, namespace, text string, topK int, model string) (QueryResult, error)
	Delete(ctx context.Context, namespace string, ids []string) (VectorDeleteResult, error)
	Embed(ctx context.Context, texts []string, model string) (EmbedResult, error)
	Get(ctx context.Context, namespace, id string) (Embedding, error)
	Namespaces() []NamespaceInfo
}

// UpsertResult lists the ids assigned to an upserted batch, in input order.
type UpsertResult struct {
	IDs           []string `json:"ids"`
	UpsertedCount int      `json:"upserted_count"`
}

// QueryResult holds the best matches of a similarity query, best first.
type QueryResult struct {
	Matches []Match `json:"matches"`
	TopK    int     `json:"top_k"`
}

// VectorDeleteResult lists the ids that were actually removed.
type VectorDeleteResult struct {
	Embeddings   []string `json:"embeddings"`
	DeletedCount int      `json:"deleted_count"`
}

// EmbedResult is the output of a storage-free embedding call.
type EmbedResult struct {
	Data       []Embedding `json:"data"`
	Created    float64     `json:"created"`
	EmbedCount int         `json:"embedCount"`
}

// NamespaceInfo describes one vector namespace.
type NamespaceInfo struct {
	Name      string `json:"name"`
	Count     int    `json:"count"`
	Dimension int    `json:"dimension"`
}
