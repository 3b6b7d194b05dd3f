package bus_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/bus"
	"github.com/aretw0/quipu/pkg/core"
)

func event(coll, id string, typ core.EventType) core.Event {
	return core.NewEvent(coll, typ, id, nil)
}

func drain(sub core.Subscription) []core.Event {
	var out []core.Event
	for e := range sub.C() {
		out = append(out, e)
	}
	return out
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	b := bus.New()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "users", "")
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		b.Publish(event("users", fmt.Sprintf("u%d", i), core.EventCreate))
	}
	b.Publish(event("other", "x", core.EventCreate))

	for i := 0; i < 10; i++ {
		select {
		case e := <-sub.C():
			assert.Equal(t, fmt.Sprintf("u%d", i), e.ID)
		case <-time.After(time.Second):
			t.Fatal("timeout waiting for event")
		}
	}
	assert.Len(t, sub.C(), 0)
}

func TestBus_NoBacklogReplay(t *testing.T) {
	b := bus.New()
	defer b.Close()

	b.Publish(event("users", "before", core.EventCreate))

	sub, err := b.Subscribe(context.Background(), "users", "")
	require.NoError(t, err)
	b.Publish(event("users", "after", core.EventCreate))

	e := <-sub.C()
	assert.Equal(t, "after", e.ID)
}

func TestBus_PatternFilter(t *testing.T) {
	b := bus.New()
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "orders", "eu-*")
	require.NoError(t, err)

	b.Publish(event("orders", "us-1", core.EventCreate))
	b.Publish(event("orders", "eu-1", core.EventCreate))
	b.Publish(core.NewEvent("orders", core.EventQuery, "", []core.Document{}))

	got := []core.Event{<-sub.C(), <-sub.C()}
	assert.Equal(t, "eu-1", got[0].ID)
	assert.Equal(t, core.EventQuery, got[1].Type)

	_, err = b.Subscribe(context.Background(), "orders", "[")
	assert.ErrorIs(t, err, core.ErrValidation)
}

func TestBus_SlowConsumerIsDropped(t *testing.T) {
	b := bus.New(bus.WithBuffer(2))
	defer b.Close()

	slow, err := b.Subscribe(context.Background(), "c", "")
	require.NoError(t, err)
	fast, err := b.Subscribe(context.Background(), "c", "")
	require.NoError(t, err)

	done := make(chan []core.Event)
	go func() {
		var got []core.Event
		for e := range fast.C() {
			got = append(got, e)
			if len(got) == 3 {
				break
			}
		}
		done <- got
	}()

	for i := 0; i < 3; i++ {
		b.Publish(event("c", fmt.Sprintf("d%d", i), core.EventCreate))
		// give the fast consumer a chance to drain
		time.Sleep(10 * time.Millisecond)
	}

	got := drain(slow)
	assert.Len(t, got, 2)
	assert.ErrorIs(t, slow.Err(), bus.ErrSlowConsumer)

	select {
	case events := <-done:
		assert.Len(t, events, 3)
	case <-time.After(time.Second):
		t.Fatal("fast consumer was blocked")
	}

	state := b.State().(bus.State)
	assert.EqualValues(t, 1, state.Dropped)
}

func TestBus_TerminateSendsStopThenCloses(t *testing.T) {
	b := bus.New(bus.WithBuffer(1))
	defer b.Close()

	sub, err := b.Subscribe(context.Background(), "c", "")
	require.NoError(t, err)

	// Fill the regular slot; stop must still fit.
	b.Publish(event("c", "a", core.EventCreate))
	assert.Equal(t, 1, b.Terminate("c"))

	got := drain(sub)
	require.Len(t, got, 2)
	assert.Equal(t, core.EventCreate, got[0].Type)
	assert.Equal(t, core.EventStop, got[1].Type)
	assert.ErrorIs(t, sub.Err(), bus.ErrTerminated)
	assert.Equal(t, 0, b.Subscribers("c"))

	// Publishing afterwards reaches nobody.
	b.Publish(event("c", "b", core.EventCreate))
}

func TestBus_ContextCancelUnsubscribes(t *testing.T) {
	b := bus.New()
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	sub, err := b.Subscribe(ctx, "c", "")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("c"))

	cancel()
	assert.Empty(t, drain(sub))
	assert.ErrorIs(t, sub.Err(), context.Canceled)
	assert.Eventually(t, func() bool { return b.Subscribers("c") == 0 }, time.Second, 5*time.Millisecond)
}

func TestBus_CloseIsIdempotent(t *testing.T) {
	b := bus.New()
	sub, err := b.Subscribe(context.Background(), "c", "")
	require.NoError(t, err)

	sub.Close()
	sub.Close()
	assert.Empty(t, drain(sub))
	assert.NoError(t, sub.Err())

	b.Close()
	b.Close()
	_, err = b.Subscribe(context.Background(), "c", "")
	assert.ErrorIs(t, err, bus.ErrClosed)
}

func TestBus_UnsubscribeDuringPublish(t *testing.T) {
	b := bus.New(bus.WithBuffer(1000))
	defer b.Close()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		sub, err := b.Subscribe(context.Background(), "c", "")
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			time.Sleep(time.Millisecond)
			sub.Close()
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 500; i++ {
			b.Publish(event("c", "x", core.EventUpdate))
		}
	}()
	wg.Wait()

	assert.Equal(t, 0, b.Subscribers("c"))
}
