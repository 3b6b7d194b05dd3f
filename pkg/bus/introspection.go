package bus

import "github.com/aretw0/introspection"

// State is the observable snapshot of a Bus.
type State struct {
	Buffer      int            `json:"buffer"`
	Subscribers map[string]int `json:"subscribers"`
	Delivered   int64          `json:"delivered"`
	Dropped     int64          `json:"dropped"`
	Closed      bool           `json:"closed"`
}

// State implements introspection.Introspectable.
func (b *Bus) State() any {
	b.mu.RLock()
	defer b.mu.RUnlock()

	subs := make(map[string]int, len(b.subs))
	for collection, set := range b.subs {
		subs[collection] = len(set)
	}
	return State{
		Buffer:      b.buffer,
		Subscribers: subs,
		Delivered:   b.delivered.Load(),
		Dropped:     b.dropped.Load(),
		Closed:      b.closed,
	}
}

// ComponentType implements introspection.Component.
func (b *Bus) ComponentType() string {
	return "event-bus"
}

var _ introspection.Introspectable = (*Bus)(nil)
var _ introspection.Component = (*Bus)(nil)
