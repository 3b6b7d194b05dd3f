package core

import (
	"github.com/aretw0/introspection"
)

// EngineState exposes internal state for observability.
type EngineState struct {
	Collections      int    `json:"collections"`
	DocumentLocks    int    `json:"document_locks"`
	ReadOnly         bool   `json:"read_only"`
	BroadcastReads   bool   `json:"broadcast_reads"`
	BroadcastQueries bool   `json:"broadcast_queries"`
	RepositoryType   string `json:"repository_type"`
	Broker           any    `json:"broker,omitempty"`
	Vectors          any    `json:"vectors,omitempty"`
}

// State implements introspection.Introspectable.
func (e *Engine) State() any {
	repoType := "repository"
	// Try to get component type if repository implements introspection.Component
	if comp, ok := e.cfg.Documents.(introspection.Component); ok {
		repoType = comp.ComponentType()
	}

	s := EngineState{
		Collections:      e.registry.Len(),
		DocumentLocks:    e.store.locks.Len(),
		ReadOnly:         e.cfg.ReadOnly,
		BroadcastReads:   e.cfg.BroadcastReads,
		BroadcastQueries: e.cfg.BroadcastQueries,
		RepositoryType:   repoType,
	}
	if in, ok := e.broker.(introspection.Introspectable); ok {
		s.Broker = in.State()
	}
	if in, ok := e.vectors.(introspection.Introspectable); ok {
		s.Vectors = in.State()
	}
	return s
}

// ComponentType implements introspection.Component.
func (e *Engine) ComponentType() string {
	return "engine"
}

var _ introspection.Introspectable = (*Engine)(nil)
var _ introspection.Component = (*Engine)(nil)
