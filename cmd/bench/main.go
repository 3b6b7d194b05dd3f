package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/aretw0/quipu"
	"github.com/aretw0/quipu/pkg/core"
)

const benchSchema = `{
	"title": "events",
	"type": "object",
	"properties": {
		"kind":   {"type": "string", "enum": ["click", "view", "buy"]},
		"user":   {"type": "string"},
		"amount": {"type": "number", "minimum": 0}
	},
	"required": ["kind", "user"]
}`

var kinds = []string{"click", "view", "buy"}

func main() {
	count := flag.Int("count", 5000, "Number of documents to create")
	workers := flag.Int("workers", 16, "Concurrent writers")
	adapter := flag.String("adapter", quipu.AdapterBolt, "Storage adapter (bolt or memory)")
	texts := flag.Int("texts", 1000, "Number of texts to embed (0 skips the vector phase)")
	keep := flag.Bool("keep", false, "Keep the benchmark data directory after running")
	verbose := flag.Bool("v", false, "Log engine activity")
	flag.Parse()

	benchDir, err := os.MkdirTemp("", "quipu_bench_")
	if err != nil {
		panic(err)
	}
	defer func() {
		if !*keep {
			os.RemoveAll(benchDir)
		} else {
			fmt.Printf("Keeping bench dir: %s\n", benchDir)
		}
	}()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if *verbose {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	opts := []quipu.Option{quipu.WithLogger(logger), quipu.WithAdapter(*adapter)}

	ctx := context.Background()
	node, err := quipu.New(ctx, benchDir, opts...)
	if err != nil {
		panic(err)
	}
	if _, err := node.Engine.CreateCollection(ctx, "events", []byte(benchSchema)); err != nil {
		panic(err)
	}

	// Phase 1: concurrent creates.
	fmt.Printf("Creating %d documents with %d workers (%s)...\n", *count, *workers, *adapter)
	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i := 0; i < *count; i++ {
		g.Go(func() error {
			_, err := node.Engine.Handle(gctx, "events", core.Request{
				Event: core.EventCreate,
				ID:    fmt.Sprintf("e%06d", i),
				Data: core.Fields{
					"kind":   kinds[i%len(kinds)],
					"user":   fmt.Sprintf("u%d", i%97),
					"amount": float64(i%500) / 10,
				},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
	createDur := time.Since(start)

	// Phase 2: predicate queries.
	start = time.Now()
	var matched int
	for _, kind := range kinds {
		res, err := node.Engine.Handle(ctx, "events", core.Request{Event: core.EventQuery, Data: core.Fields{"kind": kind}})
		if err != nil {
			panic(err)
		}
		matched += len(res.Data.([]core.Document))
	}
	queryDur := time.Since(start)

	// Phase 3: concurrent updates on a small key space.
	start = time.Now()
	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(*workers)
	for i := 0; i < *count; i++ {
		g.Go(func() error {
			_, err := node.Engine.Handle(gctx, "events", core.Request{
				Event: core.EventUpdate,
				ID:    fmt.Sprintf("e%06d", i%100),
				Data:  core.Fields{"amount": float64(i)},
			})
			return err
		})
	}
	if err := g.Wait(); err != nil {
		panic(err)
	}
	updateDur := time.Since(start)

	// Phase 4: vectors.
	var upsertDur, vqueryDur time.Duration
	if *texts > 0 && node.Vectors != nil {
		batch := make([]string, 0, 100)
		start = time.Now()
		for i := 0; i < *texts; i++ {
			batch = append(batch, fmt.Sprintf("user u%d performed %s number %d", i%97, kinds[i%len(kinds)], i))
			if len(batch) == cap(batch) || i == *texts-1 {
				if _, err := node.Vectors.Upsert(ctx, "bench", batch, ""); err != nil {
					panic(err)
				}
				batch = batch[:0]
			}
		}
		upsertDur = time.Since(start)

		start = time.Now()
		for i := 0; i < 100; i++ {
			if _, err := node.Vectors.Query(ctx, "bench", fmt.Sprintf("user u%d performed buy", i), 10, ""); err != nil {
				panic(err)
			}
		}
		vqueryDur = time.Since(start)
	}

	if err := node.Close(); err != nil {
		panic(err)
	}

	// Phase 5: cold start (reload collections and embeddings).
	start = time.Now()
	node2, err := quipu.New(ctx, benchDir, opts...)
	if err != nil {
		panic(err)
	}
	reopenDur := time.Since(start)
	node2.Close()

	fmt.Printf("--------------------------------------------------\n")
	fmt.Printf("Benchmark Result (%d documents, %s):\n", *count, *adapter)
	fmt.Printf("  Create:       %v (%.0f ops/s)\n", createDur, float64(*count)/createDur.Seconds())
	fmt.Printf("  Query x3:     %v (%d matches)\n", queryDur, matched)
	fmt.Printf("  Update (hot): %v (%.0f ops/s)\n", updateDur, float64(*count)/updateDur.Seconds())
	if upsertDur > 0 {
		fmt.Printf("  Upsert:       %v (%d texts)\n", upsertDur, *texts)
		fmt.Printf("  Vector query: %v (100 queries)\n", vqueryDur)
	}
	fmt.Printf("  Reopen:       %v\n", reopenDur)
	fmt.Printf("--------------------------------------------------\n")
}
