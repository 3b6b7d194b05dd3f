package core_test

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/adapters/memory"
	"github.com/aretw0/quipu/pkg/bus"
	"github.com/aretw0/quipu/pkg/core"
)

const userSchema = `{
	"title": "users",
	"type": "object",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"age":   {"type": "integer", "minimum": 0},
		"role":  {"type": "string", "enum": ["admin", "member"]},
		"tags":  {"type": "array", "items": {"type": "string"}}
	},
	"required": ["name"]
}`

type fixture struct {
	engine *core.Engine
	bus    *bus.Bus
}

func setup(t *testing.T, mutate ...func(*core.EngineConfig)) fixture {
	t.Helper()
	repo := memory.NewRepository()
	b := bus.New()
	cfg := core.EngineConfig{
		Collections:      repo,
		Documents:        repo,
		Broker:           b,
		BroadcastReads:   true,
		BroadcastQueries: true,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	e, err := core.NewEngine(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	_, err = e.CreateCollection(context.Background(), "users", []byte(userSchema))
	require.NoError(t, err)
	return fixture{engine: e, bus: b}
}

func (f fixture) do(t *testing.T, req core.Request) core.Result {
	t.Helper()
	res, err := f.engine.Handle(context.Background(), "users", req)
	require.NoError(t, err)
	return res
}

func next(t *testing.T, sub core.Subscription) core.Event {
	t.Helper()
	select {
	case e, ok := <-sub.C():
		require.True(t, ok, "subscription closed early")
		return e
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for event")
	}
	return core.Event{}
}

func TestEngine_CreateThenRead(t *testing.T) {
	f := setup(t)
	data := core.Fields{"name": "ada", "age": 36, "tags": []any{"math", "engines"}}

	created := f.do(t, core.Request{Event: core.EventCreate, Data: data}).Data.(core.Document)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, "users", created.CollectionID)

	read := f.do(t, core.Request{Event: core.EventRead, ID: created.ID}).Data.(core.Document)
	assert.Equal(t, created.ID, read.ID)
	assert.Equal(t, data, read.Fields)
}

func TestEngine_CreateTakesIDFromData(t *testing.T) {
	f := setup(t)

	doc := f.do(t, core.Request{Event: core.EventCreate, Data: core.Fields{"id": "u1", "name": "ada"}}).Data.(core.Document)
	assert.Equal(t, "u1", doc.ID)
	assert.NotContains(t, doc.Fields, "id")
}

func TestEngine_DuplicateIDConflicts(t *testing.T) {
	f := setup(t)
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})

	_, err := f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "grace"}})
	assert.ErrorIs(t, err, core.ErrConflict)

	read := f.do(t, core.Request{Event: core.EventRead, ID: "u1"}).Data.(core.Document)
	assert.Equal(t, "ada", read.Fields["name"], "no silent overwrite")
}

func TestEngine_UpdateMergesShallow(t *testing.T) {
	f := setup(t)
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada", "age": 36, "tags": []any{"a"}}})

	updated := f.do(t, core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": 37, "tags": []any{"b", "c"}}}).Data.(core.Document)
	want := core.Fields{"name": "ada", "age": 37, "tags": []any{"b", "c"}}
	assert.Equal(t, want, updated.Fields)

	read := f.do(t, core.Request{Event: core.EventRead, ID: "u1"}).Data.(core.Document)
	assert.Equal(t, want, read.Fields)
}

func TestEngine_UpdateValidatesMergedDocument(t *testing.T) {
	f := setup(t)
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})

	_, err := f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": -1}})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "/age", verr.Violations[0].Path)

	_, err = f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventUpdate, ID: "ghost", Data: core.Fields{"age": 1}})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_InvalidDocumentsAreRejected(t *testing.T) {
	f := setup(t)

	tests := []struct {
		name string
		data core.Fields
	}{
		{"missing required", core.Fields{"age": 3}},
		{"wrong type", core.Fields{"name": 42}},
		{"enum", core.Fields{"name": "x", "role": "owner"}},
		{"array item", core.Fields{"name": "x", "tags": []any{"ok", 1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventCreate, Data: tt.data})
			assert.ErrorIs(t, err, core.ErrValidation)
			assert.Equal(t, core.KindValidation, core.KindOf(err))
		})
	}

	docs := f.do(t, core.Request{Event: core.EventQuery}).Data.([]core.Document)
	assert.Empty(t, docs)
}

func TestEngine_DeleteTwice(t *testing.T) {
	f := setup(t)
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})

	res := f.do(t, core.Request{Event: core.EventDelete, ID: "u1"})
	assert.Equal(t, core.Deleted{ID: "u1", Deleted: true}, res.Data)

	_, err := f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventDelete, ID: "u1"})
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.engine.Handle(context.Background(), "users", core.Request{Event: core.EventRead, ID: "u1"})
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestEngine_Query(t *testing.T) {
	f := setup(t)
	for i, role := range []string{"admin", "member", "admin", "member", "member"} {
		f.do(t, core.Request{Event: core.EventCreate, ID: fmt.Sprintf("u%d", i), Data: core.Fields{"name": fmt.Sprintf("n%d", i), "role": role, "age": i}})
	}

	all := f.do(t, core.Request{Event: core.EventQuery}).Data.([]core.Document)
	require.Len(t, all, 5)
	for i, d := range all {
		assert.Equal(t, fmt.Sprintf("u%d", i), d.ID, "insertion order")
	}

	admins := f.do(t, core.Request{Event: core.EventQuery, Data: core.Fields{"role": "admin"}}).Data.([]core.Document)
	require.Len(t, admins, 2)
	assert.Equal(t, "u0", admins[0].ID)
	assert.Equal(t, "u2", admins[1].ID)

	// Numbers compare by value regardless of their Go representation.
	byAge := f.do(t, core.Request{Event: core.EventQuery, Data: core.Fields{"age": json.Number("3")}}).Data.([]core.Document)
	require.Len(t, byAge, 1)
	assert.Equal(t, "u3", byAge[0].ID)

	none := f.do(t, core.Request{Event: core.EventQuery, Data: core.Fields{"role": "admin", "age": 1}}).Data.([]core.Document)
	assert.Empty(t, none)
	assert.NotNil(t, none)

	paged := f.do(t, core.Request{Event: core.EventQuery, Data: core.Fields{"role": "member"}, Limit: 2, Offset: 1}).Data.([]core.Document)
	require.Len(t, paged, 2)
	assert.Equal(t, "u3", paged[0].ID)
	assert.Equal(t, "u4", paged[1].ID)
}

func TestEngine_RequestErrors(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Handle(ctx, "users", core.Request{Event: "explode"})
	assert.ErrorIs(t, err, core.ErrValidation)

	for _, ev := range []core.EventType{core.EventRead, core.EventUpdate, core.EventDelete} {
		_, err = f.engine.Handle(ctx, "users", core.Request{Event: ev})
		assert.ErrorIs(t, err, core.ErrValidation, ev)
	}

	for _, ev := range []core.EventType{core.EventCreate, core.EventRead, core.EventUpdate, core.EventDelete, core.EventQuery, core.EventStop} {
		_, err = f.engine.Handle(ctx, "nope", core.Request{Event: ev, ID: "x", Data: core.Fields{"name": "x"}})
		assert.ErrorIs(t, err, core.ErrNotFound, ev)
	}
}

func TestEngine_SubscriberSeesMutationsInOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.do(t, core.Request{Event: core.EventCreate, ID: "before", Data: core.Fields{"name": "x"}})

	sub, err := f.engine.Subscribe(ctx, "users", "")
	require.NoError(t, err)

	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})
	f.do(t, core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": 1}})
	f.do(t, core.Request{Event: core.EventRead, ID: "u1"})
	f.do(t, core.Request{Event: core.EventQuery})
	f.do(t, core.Request{Event: core.EventDelete, ID: "u1"})

	want := []core.EventType{core.EventCreate, core.EventUpdate, core.EventRead, core.EventQuery, core.EventDelete}
	for _, typ := range want {
		e := next(t, sub)
		assert.Equal(t, typ, e.Type)
		assert.Equal(t, "users", e.CollectionID)
	}

	// Nothing after disconnect.
	sub.Close()
	f.do(t, core.Request{Event: core.EventCreate, ID: "u2", Data: core.Fields{"name": "late"}})
	for e := range sub.C() {
		t.Fatalf("unexpected event after close: %+v", e)
	}
}

func TestEngine_BroadcastPolicy(t *testing.T) {
	f := setup(t, func(c *core.EngineConfig) {
		c.BroadcastReads = false
		c.BroadcastQueries = false
	})
	sub, err := f.engine.Subscribe(context.Background(), "users", "")
	require.NoError(t, err)

	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})
	f.do(t, core.Request{Event: core.EventRead, ID: "u1"})
	f.do(t, core.Request{Event: core.EventQuery})
	f.do(t, core.Request{Event: core.EventDelete, ID: "u1"})

	assert.Equal(t, core.EventCreate, next(t, sub).Type)
	assert.Equal(t, core.EventDelete, next(t, sub).Type)
}

func TestEngine_StopEndsSubscriptions(t *testing.T) {
	f := setup(t)
	sub, err := f.engine.Subscribe(context.Background(), "users", "")
	require.NoError(t, err)

	res := f.do(t, core.Request{Event: core.EventStop})
	assert.Equal(t, core.Stopped{Terminated: 1}, res.Data)

	assert.Equal(t, core.EventStop, next(t, sub).Type)
	_, ok := <-sub.C()
	assert.False(t, ok)

	// The collection itself is untouched.
	_, err = f.engine.GetCollection(context.Background(), "users")
	assert.NoError(t, err)
}

func TestEngine_DeleteCollection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		f.do(t, core.Request{Event: core.EventCreate, Data: core.Fields{"name": "x"}})
	}

	subs := make([]core.Subscription, 3)
	for i := range subs {
		var err error
		subs[i], err = f.engine.Subscribe(ctx, "users", "")
		require.NoError(t, err)
	}

	res, err := f.engine.DeleteCollection(ctx, "users")
	require.NoError(t, err)
	assert.Equal(t, core.DeleteResult{Code: 0, DeletedCount: 3}, res)

	for _, sub := range subs {
		assert.Equal(t, core.EventStop, next(t, sub).Type)
		_, ok := <-sub.C()
		assert.False(t, ok, "stream closes after stop")
	}

	_, err = f.engine.DeleteCollection(ctx, "users")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.engine.GetCollection(ctx, "users")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.engine.Subscribe(ctx, "users", "")
	assert.ErrorIs(t, err, core.ErrNotFound)
	_, err = f.engine.Handle(ctx, "users", core.Request{Event: core.EventQuery})
	assert.ErrorIs(t, err, core.ErrNotFound)

	// Recreating the id starts empty.
	_, err = f.engine.CreateCollection(ctx, "users", []byte(userSchema))
	require.NoError(t, err)
	docs := f.do(t, core.Request{Event: core.EventQuery}).Data.([]core.Document)
	assert.Empty(t, docs)
}

func TestEngine_ConcurrentCreateAndUpdateAreLinearized(t *testing.T) {
	for round := 0; round < 20; round++ {
		f := setup(t)
		ctx := context.Background()

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			f.engine.Handle(ctx, "users", core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "created", "age": 1, "role": "admin"}})
		}()
		go func() {
			defer wg.Done()
			f.engine.Handle(ctx, "users", core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"name": "updated", "age": 2}})
		}()
		wg.Wait()

		doc := f.do(t, core.Request{Event: core.EventRead, ID: "u1"}).Data.(core.Document)
		switch doc.Fields["name"] {
		case "created":
			assert.Equal(t, core.Fields{"name": "created", "age": 1, "role": "admin"}, doc.Fields)
		case "updated":
			assert.Equal(t, core.Fields{"name": "updated", "age": 2, "role": "admin"}, doc.Fields)
		default:
			t.Fatalf("unexpected state %v", doc.Fields)
		}
	}
}

func TestEngine_ConcurrentUpdatesPublishInMutationOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada", "age": 0}})

	sub, err := f.engine.Subscribe(ctx, "users", "")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.engine.Handle(ctx, "users", core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": i}})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	var last core.Document
	for i := 0; i < 20; i++ {
		last = next(t, sub).Data.(core.Document)
	}
	final := f.do(t, core.Request{Event: core.EventRead, ID: "u1"}).Data.(core.Document)
	assert.Equal(t, final.Fields["age"], last.Fields["age"], "last event matches the stored state")

	state := f.engine.State().(core.EngineState)
	assert.Zero(t, state.DocumentLocks, "locks are released")
}

func TestEngine_LocksReleasedOnFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	f.engine.Handle(ctx, "users", core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"age": "bad"}})
	f.engine.Handle(ctx, "users", core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": 1}})
	f.engine.Handle(ctx, "users", core.Request{Event: core.EventDelete, ID: "u1"})

	done := make(chan struct{})
	go func() {
		defer close(done)
		f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ok"}})
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock leaked")
	}
	assert.Zero(t, f.engine.State().(core.EngineState).DocumentLocks)
}

func TestEngine_ReadOnly(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada"}})

	repo := memory.NewRepository()
	require.NoError(t, repo.CreateCollection(ctx, core.Collection{ID: "users", Schema: []byte(userSchema)}))
	ro, err := core.NewEngine(ctx, core.EngineConfig{Collections: repo, Documents: repo, Broker: bus.New(), ReadOnly: true})
	require.NoError(t, err)
	defer ro.Close()

	for _, ev := range []core.EventType{core.EventCreate, core.EventUpdate, core.EventDelete} {
		_, err := ro.Handle(ctx, "users", core.Request{Event: ev, ID: "u1", Data: core.Fields{"name": "x"}})
		assert.ErrorIs(t, err, core.ErrReadOnly, ev)
	}
	_, err = ro.Handle(ctx, "users", core.Request{Event: core.EventQuery})
	assert.NoError(t, err)

	_, err = ro.CreateCollection(ctx, "other", []byte(userSchema))
	assert.ErrorIs(t, err, core.ErrReadOnly)
	_, err = ro.DeleteCollection(ctx, "users")
	assert.ErrorIs(t, err, core.ErrReadOnly)
	assert.True(t, ro.ReadOnly())
	assert.Equal(t, core.KindReadOnly, core.KindOf(core.ErrReadOnly))
}

func TestEngine_State(t *testing.T) {
	f := setup(t)
	state := f.engine.State().(core.EngineState)
	assert.Equal(t, 1, state.Collections)
	assert.Equal(t, "memory", state.RepositoryType)
	assert.NotNil(t, state.Broker)
	assert.Nil(t, state.Vectors)
	assert.Equal(t, "engine", f.engine.ComponentType())
}

const itemSchema = `{
	"type": "object",
	"properties": {
		"meta": {"type": "object", "properties": {"n": {"type": "integer"}}},
		"tags": {"type": "array", "items": {"type": "string"}}
	}
}`

func withItems(t *testing.T, f fixture) {
	t.Helper()
	_, err := f.engine.CreateCollection(context.Background(), "items", []byte(itemSchema))
	require.NoError(t, err)
}

func TestEngine_NestedGoValues(t *testing.T) {
	f := setup(t)
	withItems(t, f)
	ctx := context.Background()

	res, err := f.engine.Handle(ctx, "items", core.Request{
		Event: core.EventCreate,
		ID:    "i1",
		Data:  core.Fields{"meta": core.Fields{"n": 1}, "tags": []string{"a", "b"}},
	})
	require.NoError(t, err)
	doc := res.Data.(core.Document)
	assert.Equal(t, map[string]any{"n": 1}, doc.Fields["meta"])
	assert.Equal(t, []any{"a", "b"}, doc.Fields["tags"])

	_, err = f.engine.Handle(ctx, "items", core.Request{
		Event: core.EventCreate,
		ID:    "i2",
		Data:  core.Fields{"meta": core.Fields{"n": "one"}},
	})
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Violations, 1)
	assert.Equal(t, "/meta/n", verr.Violations[0].Path)

	res, err = f.engine.Handle(ctx, "items", core.Request{
		Event: core.EventQuery,
		Data:  core.Fields{"meta": core.Fields{"n": 1}},
	})
	require.NoError(t, err)
	docs := res.Data.([]core.Document)
	require.Len(t, docs, 1)
	assert.Equal(t, "i1", docs[0].ID)

	res, err = f.engine.Handle(ctx, "items", core.Request{
		Event: core.EventQuery,
		Data:  core.Fields{"tags": []string{"a", "b"}},
	})
	require.NoError(t, err)
	assert.Len(t, res.Data.([]core.Document), 1)
}

func TestEngine_StoredDocumentsAreIsolated(t *testing.T) {
	f := setup(t)
	withItems(t, f)
	ctx := context.Background()

	sub, err := f.engine.Subscribe(ctx, "items", "")
	require.NoError(t, err)

	input := core.Fields{"meta": map[string]any{"n": 1}, "tags": []any{"a"}}
	res, err := f.engine.Handle(ctx, "items", core.Request{Event: core.EventCreate, ID: "i1", Data: input})
	require.NoError(t, err)

	input["meta"].(map[string]any)["n"] = "changed through input"
	res.Data.(core.Document).Fields["meta"].(map[string]any)["n"] = "changed through result"
	res.Data.(core.Document).Fields["tags"].([]any)[0] = 42
	next(t, sub).Data.(core.Document).Fields["meta"].(map[string]any)["n"] = "changed through event"

	res, err = f.engine.Handle(ctx, "items", core.Request{Event: core.EventRead, ID: "i1"})
	require.NoError(t, err)
	read := res.Data.(core.Document)
	read.Fields["meta"].(map[string]any)["n"] = "changed through read"

	res, err = f.engine.Handle(ctx, "items", core.Request{Event: core.EventRead, ID: "i1"})
	require.NoError(t, err)
	assert.Equal(t, core.Fields{"meta": map[string]any{"n": 1}, "tags": []any{"a"}}, res.Data.(core.Document).Fields)
}

func TestEngine_IDFieldRules(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.engine.Handle(ctx, "users", core.Request{Event: core.EventCreate, ID: "x", Data: core.Fields{"id": "y", "name": "a"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	_, err = f.engine.Handle(ctx, "users", core.Request{Event: core.EventCreate, Data: core.Fields{"id": 7, "name": "a"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	doc := f.do(t, core.Request{Event: core.EventCreate, ID: "x", Data: core.Fields{"id": "x", "name": "a"}}).Data.(core.Document)
	assert.Equal(t, "x", doc.ID)
	assert.Equal(t, core.Fields{"name": "a"}, doc.Fields)

	_, err = f.engine.Handle(ctx, "users", core.Request{Event: core.EventUpdate, ID: "x", Data: core.Fields{"id": "y"}})
	assert.ErrorIs(t, err, core.ErrValidation)

	doc = f.do(t, core.Request{Event: core.EventUpdate, ID: "x", Data: core.Fields{"id": "x", "name": "b"}}).Data.(core.Document)
	assert.Equal(t, core.Fields{"name": "b"}, doc.Fields)
}

func TestEngine_ReadEventsFollowMutationOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.do(t, core.Request{Event: core.EventCreate, ID: "u1", Data: core.Fields{"name": "ada", "age": 0}})

	sub, err := f.engine.Subscribe(ctx, "users", "u1")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 1; i <= 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, err := f.engine.Handle(ctx, "users", core.Request{Event: core.EventUpdate, ID: "u1", Data: core.Fields{"age": i}})
			assert.NoError(t, err)
		}()
		go func() {
			defer wg.Done()
			_, err := f.engine.Handle(ctx, "users", core.Request{Event: core.EventRead, ID: "u1"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	current := any(0)
	for i := 0; i < 40; i++ {
		e := next(t, sub)
		age := e.Data.(core.Document).Fields["age"]
		switch e.Type {
		case core.EventUpdate:
			current = age
		case core.EventRead:
			assert.Equal(t, current, age, "a read event carries the latest preceding update")
		default:
			t.Fatalf("unexpected event %s", e)
		}
	}
}
