package platform

import (
	"context"
	"io"
	"log/slog"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/quipu/pkg/adapters/fs"
	lcsource "github.com/aretw0/quipu/pkg/adapters/lifecycle"
	"github.com/aretw0/quipu/pkg/bus"
	"github.com/aretw0/quipu/pkg/core"
	"github.com/aretw0/quipu/pkg/embeddings"
	"github.com/aretw0/quipu/pkg/vector"
)

// Node is a fully wired engine with the components that back it.
type Node struct {
	Engine  *core.Engine
	Bus     *bus.Bus
	Vectors *vector.Index       // nil when vectors are disabled
	Models  *embeddings.Registry // nil when vectors are disabled
	Schemas *fs.SchemaDir        // nil without a schema directory
	DataDir string

	logger *slog.Logger
	cancel context.CancelFunc
}

// New opens (or creates) a node whose state lives in dataDir.
//
//	node, err := quipu.New(ctx, "./data", quipu.WithSchemaDir("./schemas"))
//
// The data directory is adapter-specific: the bolt adapter keeps quipu.db and
// vectors.db there, the memory adapter ignores it.
func New(ctx context.Context, dataDir string, opts ...Option) (*Node, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if o.metrics == nil {
		o.metrics = core.NoopMetricsCollector{}
	}

	dir, err := Init(dataDir, opts...)
	if err != nil {
		return nil, err
	}

	var closers []io.Closer
	fail := func(err error) (*Node, error) {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i].Close()
		}
		return nil, err
	}

	repo, closer, err := openRepository(dir, o)
	if err != nil {
		return fail(err)
	}
	if closer != nil {
		closers = append(closers, closer)
	}

	var (
		models *embeddings.Registry
		index  *vector.Index
	)
	if o.vectors {
		models, err = openModels(o)
		if err != nil {
			return fail(err)
		}
		index, closer, err = openVectors(ctx, dir, models, o)
		if err != nil {
			return fail(err)
		}
		if closer != nil {
			closers = append(closers, closer)
		}
	}

	b := bus.New(
		bus.WithBuffer(o.eventBuffer),
		bus.WithLogger(o.logger),
		bus.WithMetrics(o.metrics),
	)

	cfg := core.EngineConfig{
		Collections:      repo,
		Documents:        repo,
		Broker:           b,
		Logger:           o.logger,
		Metrics:          o.metrics,
		BroadcastReads:   o.broadcastR,
		BroadcastQueries: o.broadcastQ,
		ReadOnly:         o.readOnly,
		Closers:          closers,
	}
	if index != nil {
		cfg.Vectors = index
	}
	engine, err := core.NewEngine(ctx, cfg)
	if err != nil {
		b.Close()
		return fail(err)
	}

	node := &Node{
		Engine:  engine,
		Bus:     b,
		Vectors: index,
		Models:  models,
		DataDir: dir,
		logger:  o.logger,
	}

	if o.schemaDir != "" {
		if err := node.openSchemas(ctx, o); err != nil {
			_ = node.Close()
			return nil, err
		}
	}

	o.logger.Info("node ready",
		"data_dir", dir,
		"adapter", o.adapter,
		"collections", engine.Registry().Len(),
		"vectors", index != nil,
		"read_only", o.readOnly,
	)
	return node, nil
}

// openSchemas imports the schema directory and starts its watcher. The
// watcher lives until Close.
func (n *Node) openSchemas(ctx context.Context, o *options) error {
	dir := fs.New(fs.Config{
		Path:         o.schemaDir,
		SystemDir:    o.systemDir,
		Logger:       o.logger,
		ErrorHandler: o.errorHandler,
	})
	if err := dir.Initialize(ctx); err != nil {
		return err
	}
	n.Schemas = dir

	res, err := dir.Sync(ctx, n.Engine)
	if err != nil {
		return err
	}
	for name, reason := range res.Failed {
		n.logger.Warn("schema file skipped", "file", name, "reason", reason)
	}

	if !o.watchSchemas || o.readOnly {
		return nil
	}

	watchCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	events, err := dir.Watch(watchCtx, n.Engine)
	if err != nil {
		cancel()
		return err
	}
	n.cancel = cancel

	lifecycle.Go(watchCtx, func(ctx context.Context) error {
		for e := range events {
			n.logger.Info("schema directory event", "event", e.String())
		}
		return nil
	})
	return nil
}

// Source subscribes to a collection and exposes its events as a
// lifecycle.Source. The source starts forwarding once Start is called.
func (n *Node) Source(ctx context.Context, collection, pattern string) (lifecycle.Source, error) {
	sub, err := n.Engine.Subscribe(ctx, collection, pattern)
	if err != nil {
		return nil, err
	}
	return lcsource.NewSource(sub), nil
}

// Close stops the schema watcher, ends every subscription and releases the
// repositories.
func (n *Node) Close() error {
	if n.cancel != nil {
		n.cancel()
	}
	return n.Engine.Close()
}

// State implements introspection.Introspectable.
func (n *Node) State() any {
	state := map[string]any{
		"engine":   n.Engine.State(),
		"data_dir": n.DataDir,
	}
	if n.Schemas != nil {
		state["schemas"] = n.Schemas.State()
	}
	if n.Models != nil {
		state["models"] = n.Models.Models()
	}
	return state
}

// ComponentType implements introspection.Component.
func (n *Node) ComponentType() string { return "node" }
