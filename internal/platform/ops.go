package platform

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/aretw0/quipu/pkg/adapters/bolt"
	"github.com/aretw0/quipu/pkg/adapters/memory"
	"github.com/aretw0/quipu/pkg/adapters/sqlite"
	"github.com/aretw0/quipu/pkg/embeddings"
	"github.com/aretw0/quipu/pkg/vector"
)

// Files kept in the data directory by the bolt adapter.
const (
	DocumentsFile = "quipu.db"
	VectorsFile   = "vectors.db"
)

// Init prepares the data directory and returns its resolved path.
//
// Under `go run` or `go test` the path is re-rooted into a temp sandbox
// unless dev safety is disabled or the node is read-only. A read-only node
// requires the directory to exist already.
func Init(dataDir string, opts ...Option) (string, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}

	bypassSafety := o.readOnly || !o.devSafety
	useTemp := o.forceTemp || (IsDevRun() && !bypassSafety)
	dir := ResolveDataDir(dataDir, useTemp)

	if o.logger != nil && useTemp && filepath.Clean(dataDir) != dir {
		o.logger.Warn("running in SAFE MODE (Dev/Test)", "original_path", dataDir, "resolved_path", dir)
	}

	if o.repository != nil || o.adapter == AdapterMemory {
		return dir, nil
	}

	if o.readOnly {
		info, err := os.Stat(dir)
		if err != nil {
			return "", fmt.Errorf("read-only data directory: %w", err)
		}
		if !info.IsDir() {
			return "", fmt.Errorf("read-only data directory %s is not a directory", dir)
		}
		return dir, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("failed to create data directory: %w", err)
	}
	return dir, nil
}

// openRepository selects the collection and document storage.
func openRepository(dir string, o *options) (Repository, io.Closer, error) {
	if o.repository != nil {
		return o.repository, nil, nil
	}

	switch o.adapter {
	case AdapterMemory:
		return memory.NewRepository(), nil, nil
	case AdapterBolt:
		r, err := bolt.Open(filepath.Join(dir, DocumentsFile), o.logger)
		if err != nil {
			return nil, nil, err
		}
		return r, r, nil
	default:
		return nil, nil, fmt.Errorf("unknown adapter: %s", o.adapter)
	}
}

// openModels builds the model registry: the local models plus every
// embedder registered with WithEmbedder, rate limited when configured.
func openModels(o *options) (*embeddings.Registry, error) {
	models := embeddings.NewRegistry()
	for _, e := range o.embedders {
		models.Register(e.name, embeddings.NewLimited(e.embedder, o.ratePerSec, o.rateBurst))
	}
	if o.defaultModel != "" {
		if err := models.SetDefault(o.defaultModel); err != nil {
			return nil, err
		}
	}
	return models, nil
}

// openVectors opens the vector index. Persistent adapters back it with a
// SQLite file next to the documents.
func openVectors(ctx context.Context, dir string, models *embeddings.Registry, o *options) (*vector.Index, io.Closer, error) {
	var (
		repo   *sqlite.Repository
		closer io.Closer
	)
	if o.repository == nil && o.adapter == AdapterBolt {
		r, err := sqlite.Open(filepath.Join(dir, VectorsFile))
		if err != nil {
			return nil, nil, err
		}
		repo, closer = r, r
	}

	vopts := []vector.Option{vector.WithLogger(o.logger), vector.WithMetrics(o.metrics)}
	var (
		ix  *vector.Index
		err error
	)
	if repo != nil {
		ix, err = vector.Open(ctx, repo, models, vopts...)
	} else {
		ix, err = vector.Open(ctx, nil, models, vopts...)
	}
	if err != nil {
		if closer != nil {
			_ = closer.Close()
		}
		return nil, nil, err
	}
	return ix, closer, nil
}
