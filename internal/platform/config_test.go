package platform_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/quipu/internal/platform"
)

const sampleConfig = `
addr: ":9090"
data_dir: ./state
adapter: memory
event_buffer: 32
broadcast:
  reads: false
vectors:
  default_model: mini-scope
  rate_limit:
    per_second: 20
    burst: 5
  providers:
    - name: small
      provider: openai
      model: text-embedding-3-small
    - name: nomic
      provider: ollama
      model: nomic-embed-text
schemas:
  dir: ./schemas
  no_watch: true
log:
  level: warn
  format: json
`

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), platform.ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte(sampleConfig), 0644))

	cfg, err := platform.LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "memory", cfg.Adapter)
	assert.Equal(t, 32, cfg.EventBuffer)
	require.NotNil(t, cfg.Broadcast.Reads)
	assert.False(t, *cfg.Broadcast.Reads)
	assert.Nil(t, cfg.Broadcast.Queries)
	assert.Equal(t, "./schemas", cfg.Schemas.Dir)
	assert.True(t, cfg.Schemas.NoWatch)
	require.Len(t, cfg.Vectors.Providers, 2)
	assert.Equal(t, 20.0, cfg.Vectors.RateLimit.PerSecond)
}

func TestLoadConfig_Missing(t *testing.T) {
	cfg, err := platform.LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.Addr)
}

func TestLoadConfig_Malformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), platform.ConfigFile)
	require.NoError(t, os.WriteFile(path, []byte("addr: [unterminated"), 0644))
	_, err := platform.LoadConfig(path)
	assert.Error(t, err)
}

func TestConfig_ApplyEnv(t *testing.T) {
	cfg := platform.Config{
		Addr: ":9090",
		Vectors: platform.VectorConfig{Providers: []platform.ProviderConfig{
			{Name: "small", Provider: "openai"},
			{Name: "keyed", Provider: "openai", APIKey: "from-file"},
			{Name: "nomic", Provider: "ollama"},
		}},
	}
	env := map[string]string{
		"QUIPU_ADDR":     ":7000",
		"QUIPU_DATA_DIR": "/var/lib/quipu",
		"QUIPU_MODEL":    "deep-pulse",
		"OPENAI_API_KEY": "sk-test",
		"OLLAMA_URL":     "http://ollama:11434",
	}
	cfg.ApplyEnv(func(k string) string { return env[k] })

	assert.Equal(t, ":7000", cfg.Addr)
	assert.Equal(t, "/var/lib/quipu", cfg.DataDir)
	assert.Equal(t, "deep-pulse", cfg.Vectors.DefaultModel)
	assert.Equal(t, "sk-test", cfg.Vectors.Providers[0].APIKey)
	assert.Equal(t, "from-file", cfg.Vectors.Providers[1].APIKey, "file values win over the environment")
	assert.Equal(t, "http://ollama:11434", cfg.Vectors.Providers[2].URL)
}

func TestConfig_Options(t *testing.T) {
	cfg := platform.Config{
		Adapter: platform.AdapterMemory,
		Vectors: platform.VectorConfig{
			DefaultModel: "small",
			Providers: []platform.ProviderConfig{
				{Name: "small", Provider: "openai", APIKey: "sk-test", Model: "text-embedding-3-small"},
			},
		},
	}
	opts, err := cfg.Options()
	require.NoError(t, err)

	node, err := platform.New(context.Background(), t.TempDir(), opts...)
	require.NoError(t, err)
	defer node.Close()

	var names []string
	for _, m := range node.Models.Models() {
		if m.Default {
			names = append(names, m.Name)
		}
	}
	assert.Equal(t, []string{"small"}, names)

	cfg.Vectors.Providers[0].APIKey = ""
	_, err = cfg.Options()
	assert.Error(t, err, "openai requires a key")

	cfg.Vectors.Providers = []platform.ProviderConfig{{Provider: "local"}}
	_, err = cfg.Options()
	assert.Error(t, err, "providers need a name")
}

func TestConfig_NewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := platform.Config{Log: platform.LogConfig{Level: "warn", Format: "json"}}.NewLogger(&buf, false)
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")
	assert.NotContains(t, buf.String(), "hidden")
	assert.Contains(t, buf.String(), `"msg":"shown"`)

	buf.Reset()
	logger = platform.Config{}.NewLogger(&buf, true)
	logger.Debug("verbose")
	assert.Contains(t, buf.String(), "msg=verbose")
}
