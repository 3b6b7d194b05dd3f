package core

import (
	"context"
	"io"
	"log/slog"

	"github.com/google/uuid"

	"github.com/aretw0/quipu/pkg/schema"
)

// Store applies document operations for every collection in the registry.
//
// Mutations hold an exclusive lock on (collection, id) for validation,
// persistence and publication, so the events of one document reach
// subscribers in the order the mutations were applied. Reads take no lock.
type Store struct {
	repo     DocumentRepository
	registry *Registry
	locks    *lockTable
	pub      Publisher
	logger   *slog.Logger
}

// NewStore creates a Store. pub may be nil.
func NewStore(repo DocumentRepository, registry *Registry, pub Publisher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Store{
		repo:     repo,
		registry: registry,
		locks:    newLockTable(),
		pub:      pub,
		logger:   logger,
	}
}

// Create stores a new document. The id comes from the id argument or, when
// that is empty, from a string "id" field of fields; an empty id is replaced
// by a random UUID. The "id" field is never stored as part of the document.
func (s *Store) Create(ctx context.Context, coll, id string, fields Fields) (Document, error) {
	fields = fields.Clone()
	if raw, ok := fields["id"]; ok {
		dataID, isString := raw.(string)
		switch {
		case !isString || dataID == "":
			return Document{}, Invalid("document id in data must be a non-empty string")
		case id == "":
			id = dataID
		case id != dataID:
			return Document{}, Invalid("document id %q does not match id %q in data", id, dataID)
		}
		delete(fields, "id")
	}
	if id == "" {
		id = uuid.NewString()
	} else if err := ValidateID("document", id); err != nil {
		return Document{}, err
	}

	unlock := s.locks.Lock(coll, id)
	defer unlock()

	if _, err := s.registry.Schema(coll); err != nil {
		return Document{}, err
	}
	if _, err := s.repo.Get(ctx, coll, id); err == nil {
		return Document{}, Conflict("document", id)
	} else if KindOf(err) != KindNotFound {
		return Document{}, Internal("create document", err)
	}

	if err := s.registry.Validate(ctx, coll, fields); err != nil {
		return Document{}, err
	}

	doc := Document{ID: id, CollectionID: coll, Fields: fields}
	if err := s.repo.Insert(ctx, doc); err != nil {
		return Document{}, Internal("create document", err)
	}

	s.logger.Debug("document created", "collection", coll, "id", id)
	s.publish(NewEvent(coll, EventCreate, id, doc))
	return doc, nil
}

// Read returns the latest committed version of a document.
func (s *Store) Read(ctx context.Context, coll, id string) (Document, error) {
	if !s.registry.Exists(coll) {
		return Document{}, NotFound("collection", coll)
	}
	doc, err := s.repo.Get(ctx, coll, id)
	if err != nil {
		return Document{}, Internal("read document", err)
	}
	return doc, nil
}

// Update merges partial into the stored fields (top-level replace) and
// validates the merged result. An "id" field in partial must name the
// document being updated and is not stored.
func (s *Store) Update(ctx context.Context, coll, id string, partial Fields) (Document, error) {
	if raw, ok := partial["id"]; ok && raw != id {
		return Document{}, Invalid("document id %q does not match id %v in data", id, raw)
	}

	unlock := s.locks.Lock(coll, id)
	defer unlock()

	if _, err := s.registry.Schema(coll); err != nil {
		return Document{}, err
	}
	current, err := s.repo.Get(ctx, coll, id)
	if err != nil {
		return Document{}, Internal("update document", err)
	}

	merged := current.Fields.Clone()
	for k, v := range partial {
		if k == "id" {
			continue
		}
		merged[k] = schema.Normalize(v)
	}
	if err := s.registry.Validate(ctx, coll, merged); err != nil {
		return Document{}, err
	}

	doc := Document{ID: id, CollectionID: coll, Fields: merged}
	if err := s.repo.Replace(ctx, doc); err != nil {
		return Document{}, Internal("update document", err)
	}

	s.logger.Debug("document updated", "collection", coll, "id", id, "fields", len(partial))
	s.publish(NewEvent(coll, EventUpdate, id, doc))
	return doc, nil
}

// ReadNotify reads a document and publishes a read event while holding the
// document lock, so the event is ordered against the mutations of that id.
func (s *Store) ReadNotify(ctx context.Context, coll, id string) (Document, error) {
	unlock := s.locks.Lock(coll, id)
	defer unlock()

	doc, err := s.Read(ctx, coll, id)
	if err != nil {
		return Document{}, err
	}
	s.publish(NewEvent(coll, EventRead, id, doc))
	return doc, nil
}

// Delete removes a document and returns its last version.
func (s *Store) Delete(ctx context.Context, coll, id string) (Document, error) {
	unlock := s.locks.Lock(coll, id)
	defer unlock()

	if !s.registry.Exists(coll) {
		return Document{}, NotFound("collection", coll)
	}
	doc, err := s.repo.Get(ctx, coll, id)
	if err != nil {
		return Document{}, Internal("delete document", err)
	}
	if err := s.repo.Remove(ctx, coll, id); err != nil {
		return Document{}, Internal("delete document", err)
	}

	s.logger.Debug("document deleted", "collection", coll, "id", id)
	s.publish(NewEvent(coll, EventDelete, id, doc))
	return doc, nil
}

// Query returns every document whose fields deep-equal the predicate, in
// insertion order. The page is applied after filtering.
func (s *Store) Query(ctx context.Context, coll string, pred Predicate, page Page) ([]Document, error) {
	if !s.registry.Exists(coll) {
		return nil, NotFound("collection", coll)
	}
	pred = Predicate(Fields(pred).Clone())

	var (
		out     []Document
		skipped int
	)
	err := s.repo.Scan(ctx, coll, func(doc Document) bool {
		if !pred.Matches(doc.Fields) {
			return true
		}
		if skipped < page.Offset {
			skipped++
			return true
		}
		out = append(out, doc)
		return page.Limit <= 0 || len(out) < page.Limit
	})
	if err != nil {
		return nil, Internal("query documents", err)
	}
	if out == nil {
		out = []Document{}
	}
	return out, nil
}

func (s *Store) publish(e Event) {
	if s.pub != nil {
		s.pub.Publish(e)
	}
}

// Matches reports whether every predicate field deep-equals the
// corresponding document field. An empty predicate matches everything.
func (p Predicate) Matches(fields Fields) bool {
	for k, want := range p {
		got, ok := fields[k]
		if !ok || !schema.Equal(got, want) {
			return false
		}
	}
	return true
}
