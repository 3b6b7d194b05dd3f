package vector

import (
	"github.com/aretw0/introspection"

	"github.com/aretw0/quipu/pkg/core"
)

// State is the observable snapshot of an Index.
type State struct {
	Namespaces []core.NamespaceInfo `json:"namespaces"`
	Persistent bool                 `json:"persistent"`
}

// State implements introspection.Introspectable.
func (ix *Index) State() any {
	return State{
		Namespaces: ix.Namespaces(),
		Persistent: ix.repo != nil,
	}
}

// ComponentType implements introspection.Component.
func (ix *Index) ComponentType() string {
	return "vector-index"
}

var _ introspection.Introspectable = (*Index)(nil)
var _ introspection.Component = (*Index)(nil)
