package embeddings

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
	"github.com/hupe1980/vecgo/distance"
)

// LocalEmbedder is a deterministic feature-hashing model. Words and character
// trigrams are hashed into signed buckets and the result is L2-normalized, so
// texts sharing vocabulary score close together. It needs no network and is
// what the node uses out of the box.
type LocalEmbedder struct {
	name string
	dims int
	seed uint64
}

var localModels = map[string]struct {
	dims int
	seed uint64
}{
	ModelPolySage:  {768, 0x9e3779b97f4a7c15},
	ModelDeepPulse: {768, 0xc2b2ae3d27d4eb4f},
	ModelMiniScope: {384, 0x165667b19e3779f9},
}

// NewLocal returns one of the built-in local models. An empty name selects
// DefaultModel.
func NewLocal(name string) (*LocalEmbedder, error) {
	if name == "" {
		name = DefaultModel
	}
	m, ok := localModels[name]
	if !ok {
		return nil, fmt.Errorf("unknown local model %q", name)
	}
	return &LocalEmbedder{name: name, dims: m.dims, seed: m.seed}, nil
}

// Embed implements core.Embedder.
func (l *LocalEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = l.vector(text)
	}
	return out, nil
}

func (l *LocalEmbedder) vector(text string) []float32 {
	v := make([]float32, l.dims)
	for _, word := range tokenize(text) {
		l.add(v, "w:"+word, 1)
		padded := "^" + word + "$"
		runes := []rune(padded)
		for i := 0; i+3 <= len(runes); i++ {
			l.add(v, "t:"+string(runes[i:i+3]), 0.5)
		}
	}
	distance.NormalizeL2InPlace(v)
	return v
}

func (l *LocalEmbedder) add(v []float32, feature string, weight float32) {
	h := xxhash.Sum64String(feature) ^ l.seed
	h *= 0xff51afd7ed558ccd
	h ^= h >> 33
	bucket := h % uint64(len(v))
	if h&(1<<63) != 0 {
		weight = -weight
	}
	v[bucket] += weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// Dimensions implements core.Embedder.
func (l *LocalEmbedder) Dimensions() int { return l.dims }

// Name implements core.Embedder.
func (l *LocalEmbedder) Name() string { return "local/" + l.name }
