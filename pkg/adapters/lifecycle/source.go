// Package lifecycle bridges collection subscriptions to lifecycle sources, so
// document events can drive a lifecycle event loop.
package lifecycle

import (
	"context"
	"sync"

	"github.com/aretw0/lifecycle"

	"github.com/aretw0/quipu/pkg/core"
)

type subscriptionSource struct {
	sub core.Subscription
	out chan lifecycle.Event

	mu  sync.Mutex
	err error
}

// NewSource creates a lifecycle.Source that emits the events of sub.
// core.Event implements lifecycle.Event through its String method.
func NewSource(sub core.Subscription) lifecycle.Source {
	return &subscriptionSource{
		sub: sub,
		out: make(chan lifecycle.Event),
	}
}

func (s *subscriptionSource) Events() <-chan lifecycle.Event {
	return s.out
}

// Err reports why the underlying subscription ended, once Events is closed.
func (s *subscriptionSource) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *subscriptionSource) Start(ctx context.Context) error {
	lifecycle.Go(ctx, func(ctx context.Context) error {
		defer close(s.out)
		defer s.sub.Close()
		for {
			select {
			case <-ctx.Done():
				return nil
			case e, ok := <-s.sub.C():
				if !ok {
					s.mu.Lock()
					s.err = s.sub.Err()
					s.mu.Unlock()
					return nil
				}
				select {
				case s.out <- e:
				case <-ctx.Done():
					return nil
				}
			}
		}
	})
	return nil
}
