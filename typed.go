package quipu

import (
	"context"
	"fmt"

	"github.com/aretw0/quipu/pkg/typed"
)

// DocumentModel is a document whose fields are decoded into T.
type DocumentModel[T any] = typed.DocumentModel[T]

// Collection gives type-safe access to one collection.
type Collection[T any] = typed.Collection[T]

// Typed wraps an existing collection of the node.
func Typed[T any](node *Node, collection string) *Collection[T] {
	return typed.NewCollection[T](node.Engine, collection)
}

// EnsureCollection returns a typed view of collection, registering it with
// rawSchema first when it does not exist yet.
func EnsureCollection[T any](ctx context.Context, node *Node, collection string, rawSchema []byte) (*Collection[T], error) {
	if !node.Engine.Registry().Exists(collection) {
		if _, err := node.Engine.CreateCollection(ctx, collection, rawSchema); err != nil {
			return nil, fmt.Errorf("ensure collection %s: %w", collection, err)
		}
	}
	return typed.NewCollection[T](node.Engine, collection), nil
}
