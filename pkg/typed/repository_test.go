package typed_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/pkg/adapters/memory"
	"github.com/aretw0/quipu/pkg/bus"
	"github.com/aretw0/quipu/pkg/core"
	"github.com/aretw0/quipu/pkg/typed"
)

type UserProfile struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Age   int    `json:"age"`
}

const profileSchema = `{
	"title": "profiles",
	"type": "object",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"email": {"type": "string"},
		"age":   {"type": "integer", "minimum": 0}
	},
	"required": ["name"]
}`

func setupEngine(t *testing.T) *core.Engine {
	t.Helper()
	repo := memory.NewRepository()
	e, err := core.NewEngine(context.Background(), core.EngineConfig{
		Collections: repo,
		Documents:   repo,
		Broker:      bus.New(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { e.Close() })

	_, err = e.CreateCollection(context.Background(), "profiles", []byte(profileSchema))
	require.NoError(t, err)
	return e
}

func TestCollection_CRUD(t *testing.T) {
	ctx := context.Background()
	users := typed.NewCollection[UserProfile](setupEngine(t), "profiles")

	alice, err := users.Create(ctx, "alice", UserProfile{Name: "Alice", Email: "alice@example.com", Age: 30})
	require.NoError(t, err)
	assert.Equal(t, "alice", alice.ID)
	assert.Equal(t, "profiles", alice.Collection)

	got, err := users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, UserProfile{Name: "Alice", Email: "alice@example.com", Age: 30}, got.Data)

	// Active Record save through the attached collection.
	got.Data.Age = 31
	require.NoError(t, got.Save(ctx))

	got, err = users.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 31, got.Data.Age)

	_, err = users.Create(ctx, "alice", UserProfile{Name: "Alice again"})
	assert.ErrorIs(t, err, core.ErrConflict)

	_, err = users.Create(ctx, "", UserProfile{Name: ""})
	assert.ErrorIs(t, err, core.ErrValidation)

	require.NoError(t, users.Delete(ctx, "alice"))
	_, err = users.Get(ctx, "alice")
	assert.ErrorIs(t, err, core.ErrNotFound)
}

func TestCollection_SaveCreatesMissing(t *testing.T) {
	ctx := context.Background()
	users := typed.NewCollection[UserProfile](setupEngine(t), "profiles")

	doc := &typed.DocumentModel[UserProfile]{Data: UserProfile{Name: "Generated"}}
	require.NoError(t, users.Save(ctx, doc))
	assert.NotEmpty(t, doc.ID, "the engine assigns an id")
	assert.NotNil(t, doc.Saver)

	named := &typed.DocumentModel[UserProfile]{ID: "bob", Data: UserProfile{Name: "Bob", Age: 40}}
	require.NoError(t, users.Save(ctx, named))

	list, err := users.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, doc.ID, list[0].ID)
	assert.Equal(t, "bob", list[1].ID)

	found, err := users.Query(ctx, core.Predicate{"name": "Bob"}, core.Page{})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 40, found[0].Data.Age)

	detached := &typed.DocumentModel[UserProfile]{ID: "x"}
	assert.Error(t, detached.Save(ctx))
}

func TestCollection_Watch(t *testing.T) {
	engine := setupEngine(t)
	users := typed.NewCollection[UserProfile](engine, "profiles")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events, err := users.Watch(ctx, engine, "")
	require.NoError(t, err)

	_, err = users.Create(ctx, "carol", UserProfile{Name: "Carol", Age: 25})
	require.NoError(t, err)
	_, err = engine.Handle(ctx, "profiles", core.Request{Event: core.EventStop})
	require.NoError(t, err)

	var got []typed.Event[UserProfile]
	timeout := time.After(2 * time.Second)
	for done := false; !done; {
		select {
		case e, ok := <-events:
			if !ok {
				done = true
				break
			}
			got = append(got, e)
		case <-timeout:
			t.Fatal("timeout waiting for typed events")
		}
	}

	require.Len(t, got, 2)
	assert.Equal(t, core.EventCreate, got[0].Type)
	require.NoError(t, got[0].Err)
	require.Len(t, got[0].Documents, 1)
	assert.Equal(t, "Carol", got[0].Documents[0].Data.Name)
	assert.Equal(t, core.EventStop, got[1].Type)
	assert.Empty(t, got[1].Documents)
}

func TestCollection_WatchUnknownCollection(t *testing.T) {
	engine := setupEngine(t)
	ghosts := typed.NewCollection[UserProfile](engine, "ghosts")
	_, err := ghosts.Watch(context.Background(), engine, "")
	assert.ErrorIs(t, err, core.ErrNotFound)
}
