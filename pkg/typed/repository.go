package typed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aretw0/quipu/pkg/core"
)

// DocumentModel is a typed view of a core.Document.
type DocumentModel[T any] struct {
	ID         string
	Collection string
	Data       T        // The typed fields
	Saver      Saver[T] // Active Record reference
}

// Saver persists typed documents. Collection implements it.
type Saver[T any] interface {
	Save(ctx context.Context, doc *DocumentModel[T]) error
}

// Save persists the document using the attached saver.
func (d *DocumentModel[T]) Save(ctx context.Context) error {
	if d.Saver == nil {
		return fmt.Errorf("document is detached (missing Saver)")
	}
	return d.Saver.Save(ctx, d)
}

// Handler executes protocol requests. *core.Engine satisfies it.
type Handler interface {
	Handle(ctx context.Context, collection string, req core.Request) (core.Result, error)
}

// Collection gives type-safe access to the documents of one collection.
// Every call goes through the protocol, so validation and event publication
// behave exactly as for untyped clients.
type Collection[T any] struct {
	h  Handler
	id string
}

// NewCollection wraps the collection id served by h.
func NewCollection[T any](h Handler, id string) *Collection[T] {
	return &Collection[T]{h: h, id: id}
}

// ID returns the collection id.
func (c *Collection[T]) ID() string { return c.id }

// Create stores a new document. An empty id lets the engine generate one.
func (c *Collection[T]) Create(ctx context.Context, id string, data T) (*DocumentModel[T], error) {
	fields, err := toFields(data)
	if err != nil {
		return nil, err
	}
	res, err := c.h.Handle(ctx, c.id, core.Request{Event: core.EventCreate, ID: id, Data: fields})
	if err != nil {
		return nil, err
	}
	return c.model(res.Data)
}

// Save creates the document, or merges its fields into the stored one when
// the id already exists. The stored result is copied back into doc.
func (c *Collection[T]) Save(ctx context.Context, doc *DocumentModel[T]) error {
	fields, err := toFields(doc.Data)
	if err != nil {
		return err
	}

	var res core.Result
	if doc.ID != "" {
		res, err = c.h.Handle(ctx, c.id, core.Request{Event: core.EventUpdate, ID: doc.ID, Data: fields})
		if errors.Is(err, core.ErrNotFound) {
			err = nil
			res.Data = nil
		}
	}
	if err == nil && res.Data == nil {
		res, err = c.h.Handle(ctx, c.id, core.Request{Event: core.EventCreate, ID: doc.ID, Data: fields})
	}
	if err != nil {
		return err
	}

	saved, err := c.model(res.Data)
	if err != nil {
		return err
	}
	*doc = *saved
	return nil
}

// Get retrieves a document and decodes its fields.
func (c *Collection[T]) Get(ctx context.Context, id string) (*DocumentModel[T], error) {
	res, err := c.h.Handle(ctx, c.id, core.Request{Event: core.EventRead, ID: id})
	if err != nil {
		return nil, err
	}
	return c.model(res.Data)
}

// Query returns the documents whose fields equal every entry of pred.
func (c *Collection[T]) Query(ctx context.Context, pred core.Predicate, page core.Page) ([]*DocumentModel[T], error) {
	res, err := c.h.Handle(ctx, c.id, core.Request{
		Event:  core.EventQuery,
		Data:   core.Fields(pred),
		Limit:  page.Limit,
		Offset: page.Offset,
	})
	if err != nil {
		return nil, err
	}
	return c.models(res.Data)
}

// List returns every document of the collection.
func (c *Collection[T]) List(ctx context.Context) ([]*DocumentModel[T], error) {
	return c.Query(ctx, nil, core.Page{})
}

// Delete removes a document by id.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	_, err := c.h.Handle(ctx, c.id, core.Request{Event: core.EventDelete, ID: id})
	return err
}

func (c *Collection[T]) model(data any) (*DocumentModel[T], error) {
	doc, ok := data.(core.Document)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", data)
	}
	return fromCore(doc, c)
}

func (c *Collection[T]) models(data any) ([]*DocumentModel[T], error) {
	if data == nil {
		return []*DocumentModel[T]{}, nil
	}
	docs, ok := data.([]core.Document)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", data)
	}
	out := make([]*DocumentModel[T], 0, len(docs))
	for _, d := range docs {
		m, err := fromCore(d, c)
		if err != nil {
			return nil, fmt.Errorf("failed to process document %s: %w", d.ID, err)
		}
		out = append(out, m)
	}
	return out, nil
}

// toFields converts a typed value to document fields, keeping numbers exact.
func toFields(v any) (core.Fields, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal typed data: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var fields core.Fields
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("typed data must encode to a JSON object: %w", err)
	}
	if fields == nil {
		fields = core.Fields{}
	}
	return fields, nil
}

func fromCore[T any](doc core.Document, saver Saver[T]) (*DocumentModel[T], error) {
	raw, err := json.Marshal(doc.Fields)
	if err != nil {
		return nil, fmt.Errorf("fields marshal failed: %w", err)
	}
	var data T
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, fmt.Errorf("unmarshal to target type failed: %w", err)
	}
	return &DocumentModel[T]{
		ID:         doc.ID,
		Collection: doc.CollectionID,
		Data:       data,
		Saver:      saver,
	}, nil
}
