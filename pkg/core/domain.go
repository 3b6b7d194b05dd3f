// Package core holds the domain of quipu: collections, documents, the events
// emitted on every mutation, and the services that tie storage, validation and
// fan-out together.
package core

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/quipu/pkg/schema"
)

// Fields is the JSON object body of a document.
// Keys serialize in lexicographic order.
type Fields map[string]any

// Clone returns a deep copy of f in decoded JSON form: nested maps become
// map[string]any and slices become []any, whatever their Go type.
func (f Fields) Clone() Fields {
	out := make(Fields, len(f))
	for k, v := range f {
		out[k] = schema.Normalize(v)
	}
	return out
}

// Collection is a named, schema-governed group of documents.
type Collection struct {
	ID        string          `json:"id"`
	Title     string          `json:"title,omitempty"`
	Schema    json.RawMessage `json:"schema"`
	CreatedAt time.Time       `json:"created_at"`
}

// Metadata returns the list view of the collection.
func (c Collection) Metadata() CollectionMetadata {
	return CollectionMetadata{ID: c.ID, Title: c.Title, CreatedAt: c.CreatedAt}
}

// CollectionMetadata is what List returns for each collection.
type CollectionMetadata struct {
	ID        string    `json:"id"`
	Title     string    `json:"title,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is a stored JSON object that belongs to exactly one collection.
type Document struct {
	ID           string `json:"id"`
	CollectionID string `json:"collection_id"`
	Fields       Fields `json:"fields"`
}

// EventType is the verb of the mutation protocol.
type EventType string

const (
	EventCreate EventType = "create"
	EventRead   EventType = "read"
	EventUpdate EventType = "update"
	EventDelete EventType = "delete"
	EventQuery  EventType = "query"
	EventStop   EventType = "stop"
)

// Valid reports whether t is one of the protocol verbs.
func (t EventType) Valid() bool {
	switch t {
	case EventCreate, EventRead, EventUpdate, EventDelete, EventQuery, EventStop:
		return true
	}
	return false
}

// Event describes a mutation (or protocol signal) delivered to subscribers.
// Data is a Document, a []Document, or nil.
type Event struct {
	CollectionID string    `json:"collection_id"`
	Type         EventType `json:"type"`
	ID           string    `json:"id,omitempty"`
	Data         any       `json:"data,omitempty"`
	Timestamp    int64     `json:"timestamp"` // unix millis
}

// String implements fmt.Stringer.
func (e Event) String() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s", e.CollectionID, e.Type)
	}
	return fmt.Sprintf("%s %s %s", e.CollectionID, e.Type, e.ID)
}

// NewEvent stamps an event with the current time.
func NewEvent(collection string, typ EventType, id string, data any) Event {
	return Event{
		CollectionID: collection,
		Type:         typ,
		ID:           id,
		Data:         data,
		Timestamp:    time.Now().UnixMilli(),
	}
}

// Predicate is an exact-match filter: every field must deep-equal the
// corresponding document field.
type Predicate map[string]any

// Page bounds a list or query result. A non-positive Limit means no limit.
type Page struct {
	Limit  int `json:"limit,omitempty"`
	Offset int `json:"offset,omitempty"`
}

// Apply slices n items according to the page and returns the [lo, hi) bounds.
func (p Page) Apply(n int) (int, int) {
	lo := p.Offset
	if lo < 0 {
		lo = 0
	}
	if lo > n {
		lo = n
	}
	hi := n
	if p.Limit > 0 && lo+p.Limit < n {
		hi = lo + p.Limit
	}
	return lo, hi
}

// Embedding is a stored vector with the text it was generated from.
type Embedding struct {
	ID        string    `json:"id"`
	Namespace string    `json:"namespace,omitempty"`
	Content   string    `json:"content"`
	Vector    []float32 `json:"embedding"`
}

// Match is a similarity query hit.
type Match struct {
	ID      string  `json:"id"`
	Content string  `json:"content"`
	Score   float32 `json:"score"`
}
