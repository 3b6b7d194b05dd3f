package quipu_test

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/aretw0/quipu"
	"github.com/aretw0/quipu/pkg/core"
)

const userSchema = `{
	"title": "users",
	"type": "object",
	"properties": {
		"name":  {"type": "string", "minLength": 1},
		"email": {"type": "string", "format": "email"}
	},
	"required": ["name"]
}`

// Example_basic demonstrates how to open a node, register a collection and
// store a document through the protocol.
func Example_basic() {
	tmpDir, err := os.MkdirTemp("", "quipu-example-*")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(tmpDir)

	ctx := context.Background()
	node, err := quipu.New(ctx, tmpDir)
	if err != nil {
		log.Fatal(err)
	}
	defer node.Close()

	if _, err := node.Engine.CreateCollection(ctx, "users", []byte(userSchema)); err != nil {
		log.Fatal(err)
	}

	res, err := node.Engine.Handle(ctx, "users", core.Request{
		Event: core.EventCreate,
		ID:    "ada",
		Data:  core.Fields{"name": "Ada Lovelace"},
	})
	if err != nil {
		log.Fatal(err)
	}

	doc := res.Data.(core.Document)
	fmt.Printf("Created %s in %s\n", doc.ID, doc.CollectionID)
	// Output:
	// Created ada in users
}

// ExampleTyped demonstrates the generic typed wrapper.
func ExampleTyped() {
	ctx := context.Background()
	node, err := quipu.New(ctx, "", quipu.WithAdapter(quipu.AdapterMemory), quipu.WithVectors(false))
	if err != nil {
		log.Fatal(err)
	}
	defer node.Close()

	type User struct {
		Name  string `json:"name"`
		Email string `json:"email,omitempty"`
	}

	users, err := quipu.EnsureCollection[User](ctx, node, "users", []byte(userSchema))
	if err != nil {
		log.Fatal(err)
	}

	if _, err := users.Create(ctx, "alice", User{Name: "Alice", Email: "alice@example.com"}); err != nil {
		log.Fatal(err)
	}

	doc, err := users.Get(ctx, "alice")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Printf("User Name: %s\n", doc.Data.Name)
	// Output:
	// User Name: Alice
}

// Example_vectors stores texts in a namespace and queries the closest one.
func Example_vectors() {
	ctx := context.Background()
	node, err := quipu.New(ctx, "", quipu.WithAdapter(quipu.AdapterMemory))
	if err != nil {
		log.Fatal(err)
	}
	defer node.Close()

	vectors := node.Engine.Vectors()
	if _, err := vectors.Upsert(ctx, "faq", []string{
		"how do I reset my password",
		"where can I download invoices",
	}, ""); err != nil {
		log.Fatal(err)
	}

	res, err := vectors.Query(ctx, "faq", "where can I download invoices", 1, "")
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(res.Matches[0].Content)
	// Output:
	// where can I download invoices
}
