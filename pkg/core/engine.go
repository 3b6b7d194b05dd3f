package core

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"
)

// Subscription is a live, ordered stream of events for one collection.
type Subscription interface {
	// C is closed when the subscription ends.
	C() <-chan Event
	// Err reports why the stream ended, once C is closed.
	Err() error
	// Close unsubscribes. Safe to call more than once.
	Close()
}

// Broker fans events out to subscribers.
type Broker interface {
	Publisher
	Terminator
	Subscribe(ctx context.Context, collection, pattern string) (Subscription, error)
	Close()
}

// Request is one call of the mutation protocol.
type Request struct {
	Event  EventType `json:"event"`
	ID     string    `json:"id,omitempty"`
	Data   Fields    `json:"data,omitempty"`
	Limit  int       `json:"limit,omitempty"`
	Offset int       `json:"offset,omitempty"`
}

// Result is the protocol response. Data is a Document, a []Document or a
// status object depending on the event.
type Result struct {
	Collection string    `json:"collection"`
	Event      EventType `json:"event"`
	Data       any       `json:"data"`
}

// Deleted is the status returned for a delete request.
type Deleted struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// Stopped is the status returned for a stop request.
type Stopped struct {
	Terminated int `json:"terminated"`
}

// EngineConfig wires the engine's collaborators.
type EngineConfig struct {
	Collections CollectionRepository
	Documents   DocumentRepository
	Broker      Broker
	Vectors     VectorService
	Logger      *slog.Logger
	Metrics     MetricsCollector

	// BroadcastReads publishes read events to subscribers.
	BroadcastReads bool
	// BroadcastQueries publishes query events (with their results).
	BroadcastQueries bool
	// ReadOnly rejects create, update and delete with ErrReadOnly.
	ReadOnly bool

	// Closers are released by Close after the broker, in order.
	Closers []io.Closer
}

// Engine implements the unified document protocol on top of the registry,
// the store and the broker.
type Engine struct {
	registry *Registry
	store    *Store
	broker   Broker
	vectors  VectorService
	logger   *slog.Logger
	metrics  MetricsCollector
	cfg      EngineConfig
}

// NewEngine builds an engine and loads the stored collections.
func NewEngine(ctx context.Context, cfg EngineConfig) (*Engine, error) {
	if cfg.Collections == nil || cfg.Documents == nil || cfg.Broker == nil {
		return nil, errors.New("engine requires collection and document repositories and a broker")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetricsCollector{}
	}

	registry, err := NewRegistry(ctx, cfg.Collections, cfg.Documents, cfg.Broker, cfg.Logger)
	if err != nil {
		return nil, err
	}

	return &Engine{
		registry: registry,
		store:    NewStore(cfg.Documents, registry, cfg.Broker, cfg.Logger),
		broker:   cfg.Broker,
		vectors:  cfg.Vectors,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		cfg:      cfg,
	}, nil
}

// Handle routes a protocol request to the store and publishes the outcome.
func (e *Engine) Handle(ctx context.Context, collection string, req Request) (res Result, err error) {
	if !req.Event.Valid() {
		return Result{}, Invalid("unknown event %q", req.Event)
	}

	start := time.Now()
	defer func() {
		e.metrics.RecordMutation(collection, req.Event, time.Since(start), err)
		if err != nil {
			e.logger.Debug("request failed", "collection", collection, "event", req.Event, "id", req.ID, "error", err)
		}
	}()

	if e.cfg.ReadOnly {
		switch req.Event {
		case EventCreate, EventUpdate, EventDelete:
			return Result{}, ErrReadOnly
		}
	}

	res = Result{Collection: collection, Event: req.Event}

	switch req.Event {
	case EventCreate:
		res.Data, err = e.store.Create(ctx, collection, req.ID, req.Data)

	case EventRead:
		if req.ID == "" {
			return Result{}, Invalid("read requires an id")
		}
		if e.cfg.BroadcastReads {
			res.Data, err = e.store.ReadNotify(ctx, collection, req.ID)
		} else {
			res.Data, err = e.store.Read(ctx, collection, req.ID)
		}

	case EventUpdate:
		if req.ID == "" {
			return Result{}, Invalid("update requires an id")
		}
		res.Data, err = e.store.Update(ctx, collection, req.ID, req.Data)

	case EventDelete:
		if req.ID == "" {
			return Result{}, Invalid("delete requires an id")
		}
		_, err = e.store.Delete(ctx, collection, req.ID)
		res.Data = Deleted{ID: req.ID, Deleted: err == nil}

	case EventQuery:
		var docs []Document
		docs, err = e.store.Query(ctx, collection, Predicate(req.Data), Page{Limit: req.Limit, Offset: req.Offset})
		if err == nil && e.cfg.BroadcastQueries {
			e.broker.Publish(NewEvent(collection, EventQuery, "", docs))
		}
		res.Data = docs

	case EventStop:
		if !e.registry.Exists(collection) {
			return Result{}, NotFound("collection", collection)
		}
		n := e.broker.Terminate(collection)
		e.logger.Info("subscriptions stopped", "collection", collection, "subscribers", n)
		res.Data = Stopped{Terminated: n}
	}

	if err != nil {
		return Result{}, err
	}
	return res, nil
}

// CreateCollection registers a collection. An empty id is derived from the
// schema.
func (e *Engine) CreateCollection(ctx context.Context, id string, rawSchema []byte) (Collection, error) {
	if e.cfg.ReadOnly {
		return Collection{}, ErrReadOnly
	}
	return e.registry.Create(ctx, id, rawSchema)
}

// GetCollection returns a collection definition.
func (e *Engine) GetCollection(ctx context.Context, id string) (Collection, error) {
	return e.registry.Get(ctx, id)
}

// DeleteCollection removes a collection, its documents and its subscribers.
func (e *Engine) DeleteCollection(ctx context.Context, id string) (DeleteResult, error) {
	if e.cfg.ReadOnly {
		return DeleteResult{}, ErrReadOnly
	}
	return e.registry.Delete(ctx, id)
}

// ListCollections pages through collections in creation order.
func (e *Engine) ListCollections(ctx context.Context, limit, offset int) ([]CollectionMetadata, error) {
	return e.registry.List(ctx, limit, offset)
}

// Subscribe opens a live stream of events for a collection. pattern is an
// optional glob over document ids.
func (e *Engine) Subscribe(ctx context.Context, collection, pattern string) (Subscription, error) {
	if !e.registry.Exists(collection) {
		return nil, NotFound("collection", collection)
	}
	sub, err := e.broker.Subscribe(ctx, collection, pattern)
	if err != nil {
		return nil, err
	}
	// The collection may have been deleted while subscribing.
	if !e.registry.Exists(collection) {
		sub.Close()
		return nil, NotFound("collection", collection)
	}
	e.logger.Debug("subscribed", "collection", collection, "pattern", pattern)
	return sub, nil
}

// Registry exposes the schema registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Store exposes the document store.
func (e *Engine) Store() *Store { return e.store }

// Vectors exposes the vector index, nil when none is configured.
func (e *Engine) Vectors() VectorService { return e.vectors }

// ReadOnly reports whether mutations are rejected.
func (e *Engine) ReadOnly() bool { return e.cfg.ReadOnly }

// Close terminates every subscription and releases the repositories.
func (e *Engine) Close() error {
	e.broker.Close()
	var errs []error
	for _, c := range e.cfg.Closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
