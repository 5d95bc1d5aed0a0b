package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "sk-test")
	cfg, err := LoadConfig(writeConfig(t, `{}`))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":8081", cfg.Server.WSAddress)
	assert.Equal(t, "gpt-3.5-turbo", cfg.LLM.DefaultModel)
	assert.Equal(t, "sk-test", cfg.LLM.APIKey)
	assert.Equal(t, "google", cfg.Search.Provider)
	assert.Equal(t, 5, cfg.Search.MaxLinks)
	assert.Equal(t, DefaultExcludedSites, cfg.Search.ExcludedSites)
	assert.True(t, cfg.Search.InsecureSkipVerify)
	assert.Equal(t, ".V3FYCf", cfg.Search.Selectors.SnippetContainer)
	assert.Equal(t, "p", cfg.Loader.Selector)
	assert.Equal(t, DefaultMaxChars, cfg.Loader.MaxChars)
	assert.True(t, cfg.Ingest.Split)
	assert.Equal(t, 1000, cfg.Ingest.ChunkSize)
	assert.Equal(t, 200, cfg.Ingest.ChunkOverlap)
	assert.Equal(t, "file", cfg.Store.Backend)
	assert.Equal(t, 1, cfg.Store.TopK)
	assert.Equal(t, 5*time.Second, cfg.Store.Redis.Timeout)
	assert.Equal(t, "2.4", cfg.Protocol.AcceptedVersion)
	assert.Equal(t, DefaultQueryInstruction, cfg.Protocol.QueryInstruction)
}

func TestLoadConfigFileAndEnv(t *testing.T) {
	t.Setenv("GROUNDCHAT_SEARCH_MAX_LINKS", "3")
	t.Setenv("GROUNDCHAT_LLM_API_KEY", "sk-env")
	path := writeConfig(t, `{
		"llm": {"default_model": "gpt-4", "embedding_provider": "hash", "hash_dimensions": 64},
		"store": {"backend": "redis", "redis": {"host": "cache", "port": "6380"}},
		"protocol": {"accepted_version": "3.0"}
	}`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "gpt-4", cfg.LLM.DefaultModel)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.Equal(t, "hash", cfg.LLM.EmbeddingProvider)
	assert.Equal(t, 64, cfg.LLM.HashDimensions)
	assert.Equal(t, 3, cfg.Search.MaxLinks)
	assert.Equal(t, "cache:6380", cfg.Store.Redis.Addr())
	assert.Equal(t, "3.0", cfg.Protocol.AcceptedVersion)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.json"))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Server:   ServerConfig{Address: ":8080"},
			LLM:      LLMConfig{DefaultModel: "m", EmbeddingProvider: "hash", HashDimensions: 8},
			Search:   SearchConfig{Provider: "google", URLTemplate: "https://e.example/?q=%s", MaxLinks: 5},
			Loader:   LoaderConfig{Fetcher: "http", Extract: "paragraph", Selector: "p"},
			Ingest:   IngestConfig{Split: true, ChunkSize: 100, ChunkOverlap: 10},
			Store:    StoreConfig{Backend: "file", Path: "store", TopK: 1},
			Protocol: ProtocolConfig{AcceptedVersion: "2.4"},
		}
	}
	c := valid()
	require.NoError(t, c.Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"no listeners", func(c *Config) { c.Server.Address = "" }},
		{"no model", func(c *Config) { c.LLM.DefaultModel = " " }},
		{"unknown embedder", func(c *Config) { c.LLM.EmbeddingProvider = "word2vec" }},
		{"template without placeholder", func(c *Config) { c.Search.URLTemplate = "https://e.example/" }},
		{"serper without key", func(c *Config) { c.Search.Provider = "serper" }},
		{"zero links", func(c *Config) { c.Search.MaxLinks = 0 }},
		{"too many links", func(c *Config) { c.Search.MaxLinks = 10 }},
		{"unknown fetcher", func(c *Config) { c.Loader.Fetcher = "curl" }},
		{"paragraph without selector", func(c *Config) { c.Loader.Selector = "" }},
		{"negative max chars", func(c *Config) { c.Loader.MaxChars = -1 }},
		{"overlap too large", func(c *Config) { c.Ingest.ChunkOverlap = 100 }},
		{"redis without host", func(c *Config) { c.Store.Backend = "redis" }},
		{"zero top k", func(c *Config) { c.Store.TopK = 0 }},
		{"no version", func(c *Config) { c.Protocol.AcceptedVersion = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(&c)
			assert.Error(t, c.Validate())
		})
	}

	c = valid()
	c.Ingest = IngestConfig{Split: false}
	assert.NoError(t, c.Validate(), "chunk settings are ignored when splitting is off")
}
