// Package vector implements the per-namespace embedding index.
//
// Entries are immutable once stored and carry a precomputed unit vector, so a
// similarity query is a float32 dot product per entry and repeated identical
// queries produce identical scores.
package vector

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hupe1980/vecgo/distance"
	"golang.org/x/sync/errgroup"

	"github.com/aretw0/quipu/pkg/core"
)

// Models resolves an embedding model by name. An empty name selects the
// default model.
type Models interface {
	Resolve(name string) (core.Embedder, error)
}

// Option configures an Index.
type Option func(*Index)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(ix *Index) {
		if l != nil {
			ix.logger = l
		}
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m core.MetricsCollector) Option {
	return func(ix *Index) {
		if m != nil {
			ix.metrics = m
		}
	}
}

type entry struct {
	emb  core.Embedding
	unit []float32
}

type namespace struct {
	mu      sync.RWMutex
	name    string
	dim     int
	entries []*entry
	byID    map[string]*entry
}

// exists reports whether the namespace ever received an embedding.
// Must be called with mu held.
func (ns *namespace) exists() bool { return ns.dim > 0 }

// Index stores embeddings per namespace. Each namespace has its own lock.
type Index struct {
	mu     sync.RWMutex
	spaces map[string]*namespace

	repo    core.VectorRepository
	models  Models
	logger  *slog.Logger
	metrics core.MetricsCollector
}

// Open builds an index and loads the embeddings held by repo. repo may be nil
// for a purely in-memory index.
func Open(ctx context.Context, repo core.VectorRepository, models Models, opts ...Option) (*Index, error) {
	if models == nil {
		return nil, errors.New("vector index requires a model resolver")
	}
	ix := &Index{
		spaces:  make(map[string]*namespace),
		repo:    repo,
		models:  models,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
		metrics: core.NoopMetricsCollector{},
	}
	for _, opt := range opts {
		opt(ix)
	}

	if repo == nil {
		return ix, nil
	}

	stored, err := repo.Load(ctx)
	if err != nil {
		return nil, core.Internal("load embeddings", err)
	}

	var mu sync.Mutex
	var g errgroup.Group
	for name, embs := range stored {
		g.Go(func() error {
			ns := &namespace{name: name, byID: make(map[string]*entry, len(embs))}
			for _, e := range embs {
				if ns.dim == 0 {
					ns.dim = len(e.Vector)
				}
				ns.add(newEntry(e))
			}
			mu.Lock()
			ix.spaces[name] = ns
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	ix.logger.Debug("vector index loaded", "namespaces", len(ix.spaces))
	return ix, nil
}

func newEntry(e core.Embedding) *entry {
	unit, ok := distance.NormalizeL2Copy(e.Vector)
	if !ok {
		unit = make([]float32, len(e.Vector))
	}
	return &entry{emb: e, unit: unit}
}

func (ns *namespace) add(e *entry) {
	ns.entries = append(ns.entries, e)
	ns.byID[e.emb.ID] = e
}

func (ix *Index) lookup(name string) *namespace {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.spaces[name]
}

func (ix *Index) lookupOrCreate(name string) *namespace {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ns, ok := ix.spaces[name]
	if !ok {
		ns = &namespace{name: name, byID: make(map[string]*entry)}
		ix.spaces[name] = ns
	}
	return ns
}

func (ix *Index) embed(ctx context.Context, texts []string, model string) ([][]float32, error) {
	e, err := ix.models.Resolve(model)
	if err != nil {
		return nil, err
	}
	vecs, err := e.Embed(ctx, texts)
	if err != nil {
		return nil, core.Upstream(err)
	}
	if len(vecs) != len(texts) {
		return nil, core.Upstream(errors.New("provider returned a different number of vectors"))
	}
	if len(vecs) == 0 {
		return vecs, nil
	}
	dim := len(vecs[0])
	if dim == 0 {
		return nil, core.Upstream(errors.New("provider returned an empty vector"))
	}
	for _, v := range vecs[1:] {
		if len(v) != dim {
			return nil, &core.DimensionMismatchError{Expected: dim, Actual: len(v)}
		}
	}
	return vecs, nil
}

// Upsert embeds the whole batch, then stores it atomically. A provider
// failure stores nothing.
func (ix *Index) Upsert(ctx context.Context, name string, texts []string, model string) (res core.UpsertResult, err error) {
	start := time.Now()
	defer func() { ix.metrics.RecordVector("upsert", name, len(texts), time.Since(start), err) }()

	if err := core.ValidateID("namespace", name); err != nil {
		return core.UpsertResult{}, err
	}
	if len(texts) == 0 {
		return core.UpsertResult{}, core.Invalid("texts must not be empty")
	}

	vecs, err := ix.embed(ctx, texts, model)
	if err != nil {
		return core.UpsertResult{}, err
	}
	dim := len(vecs[0])

	batch := make([]core.Embedding, len(texts))
	ids := make([]string, len(texts))
	for i, text := range texts {
		ids[i] = uuid.NewString()
		batch[i] = core.Embedding{ID: ids[i], Namespace: name, Content: text, Vector: vecs[i]}
	}

	ns := ix.lookupOrCreate(name)
	ns.mu.Lock()
	defer ns.mu.Unlock()

	if ns.exists() && ns.dim != dim {
		return core.UpsertResult{}, &core.DimensionMismatchError{Expected: ns.dim, Actual: dim}
	}
	if ix.repo != nil {
		if err := ix.repo.Insert(ctx, name, batch); err != nil {
			return core.UpsertResult{}, core.Internal("store embeddings", err)
		}
	}
	ns.dim = dim
	for _, e := range batch {
		ns.add(newEntry(e))
	}

	ix.logger.Debug("embeddings upserted", "namespace", name, "count", len(batch))
	return core.UpsertResult{IDs: ids, UpsertedCount: len(ids)}, nil
}

// Query returns the topK entries most similar to text, best first. Equal
// scores keep insertion order.
func (ix *Index) Query(ctx context.Context, name, text string, topK int, model string) (res core.QueryResult, err error) {
	start := time.Now()
	defer func() { ix.metrics.RecordVector("query", name, topK, time.Since(start), err) }()

	if topK <= 0 {
		return core.QueryResult{}, core.Invalid("top_k must be a positive integer")
	}
	ns := ix.lookup(name)
	if ns == nil {
		return core.QueryResult{}, core.NotFound("namespace", name)
	}

	vecs, err := ix.embed(ctx, []string{text}, model)
	if err != nil {
		return core.QueryResult{}, err
	}
	q, ok := distance.NormalizeL2Copy(vecs[0])
	if !ok {
		q = make([]float32, len(vecs[0]))
	}

	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if !ns.exists() {
		return core.QueryResult{}, core.NotFound("namespace", name)
	}
	if len(q) != ns.dim {
		return core.QueryResult{}, &core.DimensionMismatchError{Expected: ns.dim, Actual: len(q)}
	}

	matches := make([]core.Match, len(ns.entries))
	for i, e := range ns.entries {
		matches[i] = core.Match{ID: e.emb.ID, Content: e.emb.Content, Score: distance.Dot(q, e.unit)}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].Score > matches[j].Score })
	if len(matches) > topK {
		matches = matches[:topK]
	}
	return core.QueryResult{Matches: matches, TopK: topK}, nil
}

// Delete removes the given ids. Unknown ids are skipped.
func (ix *Index) Delete(ctx context.Context, name string, ids []string) (res core.VectorDeleteResult, err error) {
	start := time.Now()
	defer func() { ix.metrics.RecordVector("delete", name, len(ids), time.Since(start), err) }()

	ns := ix.lookup(name)
	if ns == nil {
		return core.VectorDeleteResult{}, core.NotFound("namespace", name)
	}

	ns.mu.Lock()
	defer ns.mu.Unlock()

	if !ns.exists() {
		return core.VectorDeleteResult{}, core.NotFound("namespace", name)
	}

	removed := make([]string, 0, len(ids))
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		if _, ok := ns.byID[id]; ok && !drop[id] {
			drop[id] = true
			removed = append(removed, id)
		}
	}
	if len(removed) == 0 {
		return core.VectorDeleteResult{Embeddings: removed}, nil
	}

	if ix.repo != nil {
		if err := ix.repo.Delete(ctx, name, removed); err != nil {
			return core.VectorDeleteResult{}, core.Internal("delete embeddings", err)
		}
	}

	kept := make([]*entry, 0, len(ns.entries)-len(removed))
	for _, e := range ns.entries {
		if drop[e.emb.ID] {
			delete(ns.byID, e.emb.ID)
			continue
		}
		kept = append(kept, e)
	}
	ns.entries = kept

	ix.logger.Debug("embeddings deleted", "namespace", name, "count", len(removed))
	return core.VectorDeleteResult{Embeddings: removed, DeletedCount: len(removed)}, nil
}

// Embed computes vectors without storing them.
func (ix *Index) Embed(ctx context.Context, texts []string, model string) (res core.EmbedResult, err error) {
	start := time.Now()
	defer func() { ix.metrics.RecordVector("embed", "", len(texts), time.Since(start), err) }()

	if len(texts) == 0 {
		return core.EmbedResult{}, core.Invalid("texts must not be empty")
	}
	vecs, err := ix.embed(ctx, texts, model)
	if err != nil {
		return core.EmbedResult{}, err
	}

	data := make([]core.Embedding, len(texts))
	for i, text := range texts {
		data[i] = core.Embedding{ID: uuid.NewString(), Content: text, Vector: vecs[i]}
	}
	return core.EmbedResult{
		Data:       data,
		Created:    time.Since(start).Seconds(),
		EmbedCount: len(data),
	}, nil
}

// Get returns one stored embedding.
func (ix *Index) Get(ctx context.Context, name, id string) (core.Embedding, error) {
	ns := ix.lookup(name)
	if ns == nil {
		return core.Embedding{}, core.NotFound("namespace", name)
	}
	ns.mu.RLock()
	defer ns.mu.RUnlock()

	if !ns.exists() {
		return core.Embedding{}, core.NotFound("namespace", name)
	}
	e, ok := ns.byID[id]
	if !ok {
		return core.Embedding{}, core.NotFound("embedding", id)
	}
	return e.emb, nil
}

// Namespaces lists every namespace that holds or held embeddings, by name.
func (ix *Index) Namespaces() []core.NamespaceInfo {
	ix.mu.RLock()
	spaces := make([]*namespace, 0, len(ix.spaces))
	for _, ns := range ix.spaces {
		spaces = append(spaces, ns)
	}
	ix.mu.RUnlock()

	out := make([]core.NamespaceInfo, 0, len(spaces))
	for _, ns := range spaces {
		ns.mu.RLock()
		if ns.exists() {
			out = append(out, core.NamespaceInfo{Name: ns.name, Count: len(ns.entries), Dimension: ns.dim})
		}
		ns.mu.RUnlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

var _ core.VectorService = (*Index)(nil)
