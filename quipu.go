package quipu

import (
	"context"
	"log/slog"

	"github.com/aretw0/quipu/internal/platform"
	"github.com/aretw0/quipu/pkg/core"
)

// --- Types ---

// Node is a fully wired engine: storage, event bus, vector index and the
// optional schema directory.
type Node = platform.Node

// Config is the file form of a node configuration (quipu.yaml).
type Config = platform.Config

// Repository stores collections and documents.
type Repository = platform.Repository

// --- Configuration ---

// Option defines a functional option for configuring a node.
type Option = platform.Option

// Storage adapters.
const (
	AdapterBolt   = platform.AdapterBolt
	AdapterMemory = platform.AdapterMemory
)

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return platform.WithLogger(logger)
}

// WithRepository allows injecting a custom storage adapter.
func WithRepository(repo Repository) Option {
	return platform.WithRepository(repo)
}

// WithAdapter selects the storage adapter by name ("bolt" or "memory").
func WithAdapter(name string) Option {
	return platform.WithAdapter(name)
}

// WithEventBuffer sets the per-subscriber channel size.
func WithEventBuffer(size int) Option {
	return platform.WithEventBuffer(size)
}

// WithBroadcastReads controls whether reads are published to subscribers.
func WithBroadcastReads(enabled bool) Option {
	return platform.WithBroadcastReads(enabled)
}

// WithBroadcastQueries controls whether query results are published to
// subscribers.
func WithBroadcastQueries(enabled bool) Option {
	return platform.WithBroadcastQueries(enabled)
}

// WithReadOnly rejects every mutation with core.ErrReadOnly.
func WithReadOnly(enabled bool) Option {
	return platform.WithReadOnly(enabled)
}

// WithDevSafety controls the temp sandbox used under `go run` and `go test`.
func WithDevSafety(enabled bool) Option {
	return platform.WithDevSafety(enabled)
}

// WithForceTemp forces the use of a temporary directory (useful for testing).
func WithForceTemp(force bool) Option {
	return platform.WithForceTemp(force)
}

// WithVectors enables or disables the vector index.
func WithVectors(enabled bool) Option {
	return platform.WithVectors(enabled)
}

// WithEmbedder registers an embedding model under name.
func WithEmbedder(name string, e core.Embedder) Option {
	return platform.WithEmbedder(name, e)
}

// WithDefaultModel selects the model used when a request names none.
func WithDefaultModel(name string) Option {
	return platform.WithDefaultModel(name)
}

// WithEmbedRateLimit caps the texts per second sent to registered embedders.
func WithEmbedRateLimit(perSecond float64, burst int) Option {
	return platform.WithEmbedRateLimit(perSecond, burst)
}

// WithSchemaDir loads and watches a directory of collection schemas.
func WithSchemaDir(dir string) Option {
	return platform.WithSchemaDir(dir)
}

// WithSchemaWatch enables or disables watching the schema directory.
func WithSchemaWatch(enabled bool) Option {
	return platform.WithSchemaWatch(enabled)
}

// WithSystemDir sets the hidden state directory (e.g. ".quipu").
func WithSystemDir(name string) Option {
	return platform.WithSystemDir(name)
}

// WithMetrics sets the metrics collector.
func WithMetrics(m core.MetricsCollector) Option {
	return platform.WithMetrics(m)
}

// WithWatcherErrorHandler receives errors raised by the schema watcher.
func WithWatcherErrorHandler(fn func(error)) Option {
	return platform.WithWatcherErrorHandler(fn)
}

// --- Factory ---

// New opens (or creates) a node whose state lives in dataDir.
func New(ctx context.Context, dataDir string, opts ...Option) (*Node, error) {
	return platform.New(ctx, dataDir, opts...)
}

// LoadConfig reads a quipu.yaml file and applies environment overrides.
func LoadConfig(path string) (Config, error) {
	return platform.LoadConfig(path)
}

// --- Safety & Utils ---

// ResolveDataDir determines the actual data directory based on safety rules.
func ResolveDataDir(userPath string, forceTemp bool) string {
	return platform.ResolveDataDir(userPath, forceTemp)
}

// IsDevRun checks if the current process is running via `go run` or `go test`.
func IsDevRun() bool {
	return platform.IsDevRun()
}

// FindRoot looks upwards for a directory holding quipu.yaml or .quipu.
func FindRoot(startDir string) (string, error) {
	return platform.FindRoot(startDir)
}

// ConfigFile is the configuration file name looked up by FindRoot.
const ConfigFile = platform.ConfigFile

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = platform.DefaultAddr
