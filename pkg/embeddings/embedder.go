// Package embeddings provides the text-to-vector providers used by the vector
// index: offline feature-hashing models, OpenAI and Ollama HTTP clients, and a
// rate-limited wrapper.
package embeddings

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aretw0/quipu/pkg/core"
)

// Built-in local models.
const (
	ModelPolySage  = "poly-sage"
	ModelDeepPulse = "deep-pulse"
	ModelMiniScope = "mini-scope"
)

// DefaultModel is used when a request does not name one.
const DefaultModel = ModelPolySage

// Config holds configuration for creating an embedder.
type Config struct {
	Provider string // "local", "openai" or "ollama"
	Model    string

	// Ollama config
	OllamaURL string

	// OpenAI config
	OpenAIKey string
	OpenAIURL string

	// Dimensions overrides the provider default.
	Dimensions int
}

// NewEmbedder creates an embedder based on the config.
func NewEmbedder(cfg Config) (core.Embedder, error) {
	switch cfg.Provider {
	case "", "local":
		return NewLocal(cfg.Model)
	case "ollama":
		return NewOllamaEmbedder(cfg.OllamaURL, cfg.Model, cfg.Dimensions)
	case "openai":
		return NewOpenAIEmbedder(cfg.OpenAIKey, cfg.Model, WithBaseURL(cfg.OpenAIURL), WithDimensions(cfg.Dimensions))
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}
}

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name       string `json:"name"`
	Provider   string `json:"provider"`
	Dimensions int    `json:"dimensions"`
	Default    bool   `json:"default"`
}

// Registry maps model names to embedders.
type Registry struct {
	mu       sync.RWMutex
	models   map[string]core.Embedder
	fallback string
}

// NewRegistry returns a registry holding the three local models, with
// poly-sage as default.
func NewRegistry() *Registry {
	r := &Registry{models: make(map[string]core.Embedder), fallback: DefaultModel}
	for _, name := range []string{ModelPolySage, ModelDeepPulse, ModelMiniScope} {
		e, _ := NewLocal(name)
		r.models[name] = e
	}
	return r
}

// Register adds or replaces a model.
func (r *Registry) Register(name string, e core.Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[name] = e
}

// SetDefault selects the model used for empty model names.
func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[name]; !ok {
		return core.Invalid("unknown embedding model %q", name)
	}
	r.fallback = name
	return nil
}

// Resolve returns the embedder registered under name, or the default when
// name is empty.
func (r *Registry) Resolve(name string) (core.Embedder, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.fallback
	}
	e, ok := r.models[name]
	if !ok {
		return nil, core.Invalid("unknown embedding model %q", name)
	}
	return e, nil
}

// Models lists the registered models sorted by name.
func (r *Registry) Models() []ModelInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ModelInfo, 0, len(r.models))
	for name, e := range r.models {
		out = append(out, ModelInfo{
			Name:       name,
			Provider:   e.Name(),
			Dimensions: e.Dimensions(),
			Default:    name == r.fallback,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
