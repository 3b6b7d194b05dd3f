package typed

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/quipu/pkg/core"
)

// Subscriber opens event streams. *core.Engine satisfies it.
type Subscriber interface {
	Subscribe(ctx context.Context, collection, pattern string) (core.Subscription, error)
}

// Event is a collection event with its documents decoded.
type Event[T any] struct {
	Type      core.EventType
	ID        string
	Documents []*DocumentModel[T] // one for create/read/update/delete, many for query
	Timestamp int64
	Err       error // set when the payload does not decode into T
}

// Watch streams the events of the collection decoded into T. The channel is
// closed when ctx ends, a stop event arrives, or the subscription is dropped.
func (c *Collection[T]) Watch(ctx context.Context, sub Subscriber, pattern string) (<-chan Event[T], error) {
	s, err := sub.Subscribe(ctx, c.id, pattern)
	if err != nil {
		return nil, err
	}

	out := make(chan Event[T])
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(out)
		defer s.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.C():
				if !ok {
					return s.Err()
				}
				select {
				case out <- c.decode(e):
				case <-ctx.Done():
					return nil
				}
				if e.Type == core.EventStop {
					return nil
				}
			}
		}
	}, lifecycle.WithErrorHandler(func(err error) {
		slog.Default().Debug("typed watch ended", "collection", c.id, "error", err)
	}))
	return out, nil
}

func (c *Collection[T]) decode(e core.Event) Event[T] {
	out := Event[T]{Type: e.Type, ID: e.ID, Timestamp: e.Timestamp}
	switch data := e.Data.(type) {
	case nil:
	case core.Document:
		m, err := fromCore(data, c)
		if err != nil {
			out.Err = err
			break
		}
		out.Documents = []*DocumentModel[T]{m}
	case []core.Document:
		out.Documents, out.Err = c.models(data)
	default:
		out.Err = fmt.Errorf("unexpected event payload %T", data)
	}
	return out
}
