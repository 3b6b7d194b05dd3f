package platform

import (
	"log/slog"

	"github.com/aretw0/quipu/pkg/core"
)

// Adapters understood by WithAdapter.
const (
	AdapterBolt   = "bolt"
	AdapterMemory = "memory"
)

// Repository stores collections and documents.
type Repository interface {
	core.CollectionRepository
	core.DocumentRepository
}

type embedderEntry struct {
	name     string
	embedder core.Embedder
}

// options holds the internal configuration of a node.
type options struct {
	repository   Repository
	logger       *slog.Logger
	adapter      string
	eventBuffer  int
	broadcastR   bool
	broadcastQ   bool
	readOnly     bool
	devSafety    bool
	forceTemp    bool
	vectors      bool
	embedders    []embedderEntry
	defaultModel string
	ratePerSec   float64
	rateBurst    int
	schemaDir    string
	watchSchemas bool
	systemDir    string
	metrics      core.MetricsCollector
	errorHandler func(error)
}

// Option defines a functional option for configuring a node.
type Option func(*options)

// defaultOptions returns the default configuration.
func defaultOptions() *options {
	return &options{
		adapter:      AdapterBolt,
		broadcastR:   true,
		broadcastQ:   true,
		devSafety:    true,
		vectors:      true,
		watchSchemas: true,
		systemDir:    ".quipu",
	}
}

// WithLogger sets the logger shared by every component.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithRepository injects a custom storage adapter. The adapter selected by
// WithAdapter is then ignored.
func WithRepository(repo Repository) Option {
	return func(o *options) {
		o.repository = repo
	}
}

// WithAdapter selects the storage adapter by name ("bolt" or "memory").
// Defaults to "bolt".
func WithAdapter(name string) Option {
	return func(o *options) {
		o.adapter = name
	}
}

// WithEventBuffer sets the per-subscriber channel size.
// Zero means default (100).
func WithEventBuffer(size int) Option {
	return func(o *options) {
		o.eventBuffer = size
	}
}

// WithBroadcastReads controls whether read requests are published to
// subscribers. Enabled by default.
func WithBroadcastReads(enabled bool) Option {
	return func(o *options) {
		o.broadcastR = enabled
	}
}

// WithBroadcastQueries controls whether query results are published to
// subscribers. Enabled by default.
func WithBroadcastQueries(enabled bool) Option {
	return func(o *options) {
		o.broadcastQ = enabled
	}
}

// WithReadOnly enables read-only mode.
// In this mode:
// 1. create, update and delete requests return ErrReadOnly.
// 2. The data directory must already exist and is never created.
// 3. Schema files are loaded but never watched.
// 4. The dev sandbox is bypassed (the real path is used).
func WithReadOnly(enabled bool) Option {
	return func(o *options) {
		o.readOnly = enabled
	}
}

// WithDevSafety controls the sandbox used when running via `go run` or
// `go test`. By default (true) the data directory is re-rooted under the
// system temp directory in that case.
//
// CAUTION: Only disable this if you are sure your code is safe.
func WithDevSafety(enabled bool) Option {
	return func(o *options) {
		o.devSafety = enabled
	}
}

// WithForceTemp forces the data directory into the temp sandbox.
func WithForceTemp(force bool) Option {
	return func(o *options) {
		o.forceTemp = force
	}
}

// WithVectors enables or disables the vector index. Enabled by default.
func WithVectors(enabled bool) Option {
	return func(o *options) {
		o.vectors = enabled
	}
}

// WithEmbedder registers an embedding model under name, replacing a local
// model of the same name.
func WithEmbedder(name string, e core.Embedder) Option {
	return func(o *options) {
		o.embedders = append(o.embedders, embedderEntry{name: name, embedder: e})
	}
}

// WithDefaultModel selects the model used when requests do not name one.
func WithDefaultModel(name string) Option {
	return func(o *options) {
		o.defaultModel = name
	}
}

// WithEmbedRateLimit caps the texts per second sent to the embedders
// registered with WithEmbedder. Local models are never limited.
func WithEmbedRateLimit(perSecond float64, burst int) Option {
	return func(o *options) {
		o.ratePerSec = perSecond
		o.rateBurst = burst
	}
}

// WithSchemaDir loads collection schemas from the "*.json" files of dir at
// startup and, unless disabled with WithSchemaWatch, registers new files as
// they appear.
func WithSchemaDir(dir string) Option {
	return func(o *options) {
		o.schemaDir = dir
	}
}

// WithSchemaWatch enables or disables watching the schema directory.
func WithSchemaWatch(enabled bool) Option {
	return func(o *options) {
		o.watchSchemas = enabled
	}
}

// WithSystemDir sets the hidden directory used for internal state inside the
// schema directory. Defaults to ".quipu".
func WithSystemDir(name string) Option {
	return func(o *options) {
		o.systemDir = name
	}
}

// WithMetrics sets the metrics collector shared by the engine, the bus and
// the vector index.
func WithMetrics(m core.MetricsCollector) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithWatcherErrorHandler registers a callback for errors raised while
// watching the schema directory. They are otherwise only logged.
func WithWatcherErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}
