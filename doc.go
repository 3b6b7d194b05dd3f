// Package quipu is the Composition Root of the Quipu document store.
//
// It connects the core engine (Domain Layer) with the storage, event and
// vector adapters using the Hexagonal Architecture pattern.
//
// Quipu keeps JSON documents in named collections, each governed by a JSON
// Schema. Every mutation goes through one protocol (create, read, update,
// delete, query, stop) and is broadcast to the live subscribers of its
// collection. A vector index stores text embeddings per namespace and answers
// cosine-similarity queries.
//
// Features:
//
//   - **Schema Governed**: documents are validated against their collection schema on every write.
//   - **Live Events**: ordered per-collection event streams with id pattern filters.
//   - **Vector Search**: per-namespace embeddings with local, OpenAI and Ollama models.
//   - **Typed Access**: generic wrapper (`Typed[T]`) for type-safe documents.
//   - **Embedded Storage**: bbolt for documents, SQLite for vectors, or purely in memory.
//
// Usage:
//
//	node, err := quipu.New(ctx, "./data",
//		quipu.WithLogger(logger),
//		quipu.WithSchemaDir("./schemas"),
//	)
//	defer node.Close()
//
//	res, err := node.Engine.Handle(ctx, "users", core.Request{
//		Event: core.EventCreate,
//		Data:  core.Fields{"name": "Ada"},
//	})
package quipu
