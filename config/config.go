package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mohammad-safakhou/groundchat/tools/web_search/filter"
	"github.com/spf13/viper"
)

// Config holds all configuration for the chat backend
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Search    SearchConfig    `mapstructure:"search"`
	Loader    LoaderConfig    `mapstructure:"loader"`
	Ingest    IngestConfig    `mapstructure:"ingest"`
	Store     StoreConfig     `mapstructure:"store"`
	Protocol  ProtocolConfig  `mapstructure:"protocol"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// ServerConfig contains the listeners of the legacy HTTP API and the session channel
type ServerConfig struct {
	Address         string `mapstructure:"address"`    // legacy HTTP API, /healthz, /metrics
	WSAddress       string `mapstructure:"ws_address"` // dedicated websocket listener
	ReadBufferSize  int    `mapstructure:"read_buffer_size"`
	WriteBufferSize int    `mapstructure:"write_buffer_size"`
}

func (s ServerConfig) Validate() error {
	if strings.TrimSpace(s.Address) == "" && strings.TrimSpace(s.WSAddress) == "" {
		return fmt.Errorf("server.address or server.ws_address required")
	}
	return nil
}

// LLMConfig contains the completion and embedding provider settings
type LLMConfig struct {
	Provider          string        `mapstructure:"provider"` // openai
	APIKey            string        `mapstructure:"api_key"`
	BaseURL           string        `mapstructure:"base_url"`
	DefaultModel      string        `mapstructure:"default_model"`
	EmbeddingProvider string        `mapstructure:"embedding_provider"` // openai, hash
	EmbeddingModel    string        `mapstructure:"embedding_model"`
	HashDimensions    int           `mapstructure:"hash_dimensions"`
	Timeout           time.Duration `mapstructure:"timeout"`
}

func (l LLMConfig) Validate() error {
	if strings.TrimSpace(l.DefaultModel) == "" {
		return fmt.Errorf("llm.default_model required")
	}
	switch l.EmbeddingProvider {
	case "openai":
		if strings.TrimSpace(l.EmbeddingModel) == "" {
			return fmt.Errorf("llm.embedding_model required for openai embeddings")
		}
	case "hash":
		if l.HashDimensions <= 0 {
			return fmt.Errorf("llm.hash_dimensions must be > 0")
		}
	default:
		return fmt.Errorf("llm.embedding_provider %q not supported", l.EmbeddingProvider)
	}
	return nil
}

// SearchConfig contains the search engine settings
type SearchConfig struct {
	Provider           string          `mapstructure:"provider"` // google, serper, brave
	URLTemplate        string          `mapstructure:"url_template"`
	UserAgent          string          `mapstructure:"user_agent"`
	InsecureSkipVerify bool            `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration   `mapstructure:"timeout"` // zero means no timeout
	MaxLinks           int             `mapstructure:"max_links"`
	ExcludedSites      []string        `mapstructure:"excluded_sites"`
	SerperAPIKey       string          `mapstructure:"serper_api_key"`
	BraveAPIKey        string          `mapstructure:"brave_api_key"`
	Selectors          SelectorsConfig `mapstructure:"selectors"`
}

// SelectorsConfig describes the result-page markup. It tracks one engine's current
// page structure and is expected to change when the engine changes its markup.
type SelectorsConfig struct {
	SnippetHeadings     []string `mapstructure:"snippet_headings"`
	SnippetContainer    string   `mapstructure:"snippet_container"`
	SnippetSourceName   string   `mapstructure:"snippet_source_name"`
	RelatedQuestion     string   `mapstructure:"related_question"`
	RelatedQuestionText string   `mapstructure:"related_question_text"`
}

func (s SearchConfig) Validate() error {
	switch s.Provider {
	case "google":
		if !strings.Contains(s.URLTemplate, "%s") {
			return fmt.Errorf("search.url_template must contain %%s")
		}
	case "serper":
		if strings.TrimSpace(s.SerperAPIKey) == "" {
			return fmt.Errorf("search.serper_api_key required for serper provider")
		}
	case "brave":
		if strings.TrimSpace(s.BraveAPIKey) == "" {
			return fmt.Errorf("search.brave_api_key required for brave provider")
		}
	default:
		return fmt.Errorf("search.provider %q not supported", s.Provider)
	}
	if s.MaxLinks <= 0 || s.MaxLinks > filter.DefaultMax {
		return fmt.Errorf("search.max_links must be in [1, %d]", filter.DefaultMax)
	}
	return nil
}

// LoaderConfig contains the page loader settings used during ingestion
type LoaderConfig struct {
	Fetcher            string        `mapstructure:"fetcher"` // http, chromedp
	Selector           string        `mapstructure:"selector"`
	Extract            string        `mapstructure:"extract"` // paragraph, readability
	UserAgent          string        `mapstructure:"user_agent"`
	InsecureSkipVerify bool          `mapstructure:"insecure_skip_verify"`
	Timeout            time.Duration `mapstructure:"timeout"`
	MaxChars           int           `mapstructure:"max_chars"` // per page, 0 keeps everything
}

func (l LoaderConfig) Validate() error {
	if l.Fetcher != "http" && l.Fetcher != "chromedp" {
		return fmt.Errorf("loader.fetcher %q not supported", l.Fetcher)
	}
	if l.Extract != "paragraph" && l.Extract != "readability" {
		return fmt.Errorf("loader.extract %q not supported", l.Extract)
	}
	if l.Extract == "paragraph" && strings.TrimSpace(l.Selector) == "" {
		return fmt.Errorf("loader.selector required for paragraph extraction")
	}
	if l.MaxChars < 0 {
		return fmt.Errorf("loader.max_chars must be >= 0")
	}
	return nil
}

// IngestConfig controls how fetched pages are chunked before indexing
type IngestConfig struct {
	Split        bool     `mapstructure:"split"`
	ChunkSize    int      `mapstructure:"chunk_size"`
	ChunkOverlap int      `mapstructure:"chunk_overlap"`
	Separators   []string `mapstructure:"separators"`
}

func (i IngestConfig) Validate() error {
	if !i.Split {
		return nil
	}
	if i.ChunkSize <= 0 {
		return fmt.Errorf("ingest.chunk_size must be > 0")
	}
	if i.ChunkOverlap < 0 || i.ChunkOverlap >= i.ChunkSize {
		return fmt.Errorf("ingest.chunk_overlap must be in [0, chunk_size)")
	}
	return nil
}

// StoreConfig contains the similarity store persistence settings
type StoreConfig struct {
	Backend  string      `mapstructure:"backend"` // file, redis
	Path     string      `mapstructure:"path"`
	RedisKey string      `mapstructure:"redis_key"`
	Redis    RedisConfig `mapstructure:"redis"`
	TopK     int         `mapstructure:"top_k"`
}

func (s StoreConfig) Validate() error {
	switch s.Backend {
	case "file":
		if strings.TrimSpace(s.Path) == "" {
			return fmt.Errorf("store.path required for file backend")
		}
	case "redis":
		if err := s.Redis.Validate(); err != nil {
			return err
		}
	default:
		return fmt.Errorf("store.backend %q not supported", s.Backend)
	}
	if s.TopK <= 0 {
		return fmt.Errorf("store.top_k must be > 0")
	}
	return nil
}

// RedisConfig contains Redis connection settings
type RedisConfig struct {
	Host     string        `mapstructure:"host"`
	Port     string        `mapstructure:"port"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func (r RedisConfig) Validate() error {
	if strings.TrimSpace(r.Host) == "" {
		return fmt.Errorf("store.redis.host required")
	}
	if strings.TrimSpace(r.Port) == "" {
		return fmt.Errorf("store.redis.port required")
	}
	return nil
}

// Addr returns host:port
func (r RedisConfig) Addr() string { return fmt.Sprintf("%s:%s", r.Host, r.Port) }

// ProtocolConfig contains the session protocol rules
type ProtocolConfig struct {
	AcceptedVersion  string `mapstructure:"accepted_version"`
	QueryInstruction string `mapstructure:"query_instruction"`
}

func (p ProtocolConfig) Validate() error {
	if strings.TrimSpace(p.AcceptedVersion) == "" {
		return fmt.Errorf("protocol.accepted_version required")
	}
	return nil
}

// TelemetryConfig contains telemetry and monitoring settings
type TelemetryConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	ServiceName    string `mapstructure:"service_name"`
	ServiceVersion string `mapstructure:"service_version"`
	OTLPEndpoint   string `mapstructure:"otlp_endpoint"`
}

// DefaultExcludedSites are prefixes of pages that never yield useful scraped text.
var DefaultExcludedSites = []string{
	"https://twitter.com",
	"https://mobile.twitter.com",
	"https://www.youtube.com",
	"https://youtube.com",
	"https://dic.pixiv",
	"https://ototoy.jp",
	"https://mora.jp",
	"https://dic.nicovideo.jp/",
}

const (
	DefaultUserAgent        = "Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:109.0) Gecko/20100101 Firefox/111.0"
	DefaultMaxChars         = 20000
	DefaultQueryInstruction = "Suggest a Google query to help to generate reply. Write down only a query, and follow input language."
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.ws_address", ":8081")
	v.SetDefault("server.read_buffer_size", 1024*1024)
	v.SetDefault("server.write_buffer_size", 64*1024)

	// empty defaults make the keys visible to AutomaticEnv
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.base_url", "")
	v.SetDefault("search.serper_api_key", "")
	v.SetDefault("search.brave_api_key", "")
	v.SetDefault("store.redis.password", "")
	v.SetDefault("telemetry.otlp_endpoint", "")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.default_model", "gpt-3.5-turbo")
	v.SetDefault("llm.embedding_provider", "openai")
	v.SetDefault("llm.embedding_model", "text-embedding-ada-002")
	v.SetDefault("llm.hash_dimensions", 256)
	v.SetDefault("llm.timeout", 0)

	v.SetDefault("search.provider", "google")
	v.SetDefault("search.url_template", "https://www.google.com/search?q=%s")
	v.SetDefault("search.user_agent", DefaultUserAgent)
	v.SetDefault("search.insecure_skip_verify", true)
	v.SetDefault("search.timeout", 0)
	v.SetDefault("search.max_links", 5)
	v.SetDefault("search.excluded_sites", DefaultExcludedSites)
	v.SetDefault("search.selectors.snippet_headings", []string{"ウェブページから抽出された強調スニペット", "Featured snippet from the web"})
	v.SetDefault("search.selectors.snippet_container", ".V3FYCf")
	v.SetDefault("search.selectors.snippet_source_name", "span.VuuXrf")
	v.SetDefault("search.selectors.related_question", `div[jsname="yEVEwb"]`)
	v.SetDefault("search.selectors.related_question_text", "span")

	v.SetDefault("loader.fetcher", "http")
	v.SetDefault("loader.selector", "p")
	v.SetDefault("loader.extract", "paragraph")
	v.SetDefault("loader.user_agent", DefaultUserAgent)
	v.SetDefault("loader.insecure_skip_verify", false)
	v.SetDefault("loader.timeout", 0)
	v.SetDefault("loader.max_chars", DefaultMaxChars)

	v.SetDefault("ingest.split", true)
	v.SetDefault("ingest.chunk_size", 1000)
	v.SetDefault("ingest.chunk_overlap", 200)
	v.SetDefault("ingest.separators", []string{"\n\n", "\n", " ", ""})

	v.SetDefault("store.backend", "file")
	v.SetDefault("store.path", "store")
	v.SetDefault("store.redis_key", "groundchat:store")
	v.SetDefault("store.redis.host", "localhost")
	v.SetDefault("store.redis.port", "6379")
	v.SetDefault("store.redis.timeout", 5*time.Second)
	v.SetDefault("store.top_k", 1)

	v.SetDefault("protocol.accepted_version", "2.4")
	v.SetDefault("protocol.query_instruction", DefaultQueryInstruction)

	v.SetDefault("telemetry.enabled", true)
	v.SetDefault("telemetry.service_name", "groundchat")
	v.SetDefault("telemetry.service_version", "dev")
}

// LoadConfig loads config from file. An empty path searches the usual locations and
// falls back to defaults plus GROUNDCHAT_* environment variables when no file exists.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigName("config") // name of config file (without extension)
	v.SetConfigType("json")   // REQUIRED if the config file does not have the extension in the name
	setDefaults(v)

	if path == "" {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		exe, _ := os.Executable()
		exeDir := filepath.Dir(exe)
		v.AddConfigPath(exeDir)
		v.AddConfigPath(filepath.Join(exeDir, "..", "config"))
	} else {
		v.SetConfigFile(path)
	}

	v.SetEnvPrefix("GROUNDCHAT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if cfg.LLM.APIKey == "" {
		cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate runs every section validator
func (c *Config) Validate() error {
	validators := []interface{ Validate() error }{
		c.Server, c.LLM, c.Search, c.Loader, c.Ingest, c.Store, c.Protocol,
	}
	for _, v := range validators {
		if err := v.Validate(); err != nil {
			return err
		}
	}
	return nil
}
