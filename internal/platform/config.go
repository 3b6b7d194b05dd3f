package platform

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/quipu/pkg/embeddings"
)

// DefaultAddr is the listen address used when none is configured.
const DefaultAddr = ":8080"

// Config is the file form of a node configuration (quipu.yaml).
type Config struct {
	Addr        string          `yaml:"addr"`
	DataDir     string          `yaml:"data_dir"`
	Adapter     string          `yaml:"adapter"`
	ReadOnly    bool            `yaml:"read_only"`
	EventBuffer int             `yaml:"event_buffer"`
	Broadcast   BroadcastConfig `yaml:"broadcast"`
	Vectors     VectorConfig    `yaml:"vectors"`
	Schemas     SchemaConfig    `yaml:"schemas"`
	Log         LogConfig       `yaml:"log"`
}

// BroadcastConfig selects which non-mutating requests reach subscribers.
// Unset values keep the default (enabled).
type BroadcastConfig struct {
	Reads   *bool `yaml:"reads"`
	Queries *bool `yaml:"queries"`
}

// VectorConfig configures the vector index and its embedding models.
type VectorConfig struct {
	Disabled     bool             `yaml:"disabled"`
	DefaultModel string           `yaml:"default_model"`
	RateLimit    RateLimitConfig  `yaml:"rate_limit"`
	Providers    []ProviderConfig `yaml:"providers"`
}

// RateLimitConfig bounds the texts per second sent to remote providers.
type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// ProviderConfig registers one embedding model backed by a provider.
type ProviderConfig struct {
	Name       string `yaml:"name"`     // model name used in requests
	Provider   string `yaml:"provider"` // "openai", "ollama" or "local"
	Model      string `yaml:"model"`    // provider-side model, defaults to Name
	URL        string `yaml:"url"`
	APIKey     string `yaml:"api_key"`
	Dimensions int    `yaml:"dimensions"`
}

// SchemaConfig points at a directory of collection schemas.
type SchemaConfig struct {
	Dir     string `yaml:"dir"`
	NoWatch bool   `yaml:"no_watch"`
}

// LogConfig selects the log level ("debug", "info", "warn", "error") and
// format ("text" or "json").
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// LoadConfig reads a YAML configuration file and applies the environment
// overrides. A missing file yields the defaults.
func LoadConfig(path string) (Config, error) {
	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	cfg.ApplyEnv(os.Getenv)
	if cfg.Addr == "" {
		cfg.Addr = DefaultAddr
	}
	return cfg, nil
}

// ApplyEnv overrides file values with QUIPU_ADDR, QUIPU_DATA_DIR and
// QUIPU_MODEL, and fills missing provider credentials from OPENAI_API_KEY
// and OLLAMA_URL.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if v := getenv("QUIPU_ADDR"); v != "" {
		c.Addr = v
	}
	if v := getenv("QUIPU_DATA_DIR"); v != "" {
		c.DataDir = v
	}
	if v := getenv("QUIPU_MODEL"); v != "" {
		c.Vectors.DefaultModel = v
	}

	openaiKey, ollamaURL := getenv("OPENAI_API_KEY"), getenv("OLLAMA_URL")
	for i := range c.Vectors.Providers {
		p := &c.Vectors.Providers[i]
		switch p.Provider {
		case "openai":
			if p.APIKey == "" {
				p.APIKey = openaiKey
			}
		case "ollama":
			if p.URL == "" {
				p.URL = ollamaURL
			}
		}
	}
}

// Options translates the configuration into node options. Remote providers
// are constructed here, so a missing API key fails early.
func (c Config) Options() ([]Option, error) {
	opts := []Option{
		WithReadOnly(c.ReadOnly),
		WithEventBuffer(c.EventBuffer),
		WithVectors(!c.Vectors.Disabled),
	}
	if c.Adapter != "" {
		opts = append(opts, WithAdapter(c.Adapter))
	}
	if c.Broadcast.Reads != nil {
		opts = append(opts, WithBroadcastReads(*c.Broadcast.Reads))
	}
	if c.Broadcast.Queries != nil {
		opts = append(opts, WithBroadcastQueries(*c.Broadcast.Queries))
	}
	if c.Schemas.Dir != "" {
		opts = append(opts, WithSchemaDir(c.Schemas.Dir), WithSchemaWatch(!c.Schemas.NoWatch))
	}

	for _, p := range c.Vectors.Providers {
		if p.Name == "" {
			return nil, fmt.Errorf("embedding provider %q has no name", p.Provider)
		}
		model := p.Model
		if model == "" {
			model = p.Name
		}
		e, err := embeddings.NewEmbedder(embeddings.Config{
			Provider:   p.Provider,
			Model:      model,
			OllamaURL:  p.URL,
			OpenAIKey:  p.APIKey,
			OpenAIURL:  p.URL,
			Dimensions: p.Dimensions,
		})
		if err != nil {
			return nil, fmt.Errorf("embedding provider %s: %w", p.Name, err)
		}
		opts = append(opts, WithEmbedder(p.Name, e))
	}
	if c.Vectors.RateLimit.PerSecond > 0 {
		opts = append(opts, WithEmbedRateLimit(c.Vectors.RateLimit.PerSecond, c.Vectors.RateLimit.Burst))
	}
	if c.Vectors.DefaultModel != "" {
		opts = append(opts, WithDefaultModel(c.Vectors.DefaultModel))
	}
	return opts, nil
}

// NewLogger builds the logger described by the configuration. verbose
// forces the debug level.
func (c Config) NewLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(c.Log.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	handlerOpts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.Log.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, handlerOpts))
	}
	return slog.New(slog.NewTextHandler(w, handlerOpts))
}
