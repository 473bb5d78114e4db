package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the knowledge-base QA service.
type Config struct {
	Source    SourceConfig    `yaml:"source"`
	Chunk     ChunkConfig     `yaml:"chunk"`
	Index     IndexConfig     `yaml:"index"`
	Retrieve  RetrieveConfig  `yaml:"retrieve"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Reranker  RerankerConfig  `yaml:"reranker"`
	LLM       LLMConfig       `yaml:"llm"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`

	// QAMode reuses an existing index instead of rebuilding it on startup.
	QAMode bool `yaml:"qa_mode"`
}

// SourceConfig selects the upstream knowledge source.
type SourceConfig struct {
	Provider      string   `yaml:"provider"` // "yuque", "local"
	BaseURL       string   `yaml:"base_url"`
	TokenEnv      string   `yaml:"token_env"`
	Group         string   `yaml:"group"`
	Namespace     string   `yaml:"namespace"` // single repo when set, otherwise every repo of Group
	TimeoutSecs   int      `yaml:"timeout_secs"`
	MaxRetries    int      `yaml:"max_retries"`
	BackoffBaseMS int      `yaml:"backoff_base_ms"`
	Dir           string   `yaml:"dir"` // local provider root
	Includes      []string `yaml:"includes"`
	Excludes      []string `yaml:"excludes"`
}

// ChunkConfig controls document splitting. Sizes are in characters.
type ChunkConfig struct {
	Size      int  `yaml:"size"`
	Overlap   int  `yaml:"overlap"`
	HardSplit bool `yaml:"hard_split"`
}

// IndexConfig holds vector index configuration.
type IndexConfig struct {
	Dimension int    `yaml:"dimension"`
	Path      string `yaml:"path"` // base path or URL; artifacts get .vec and .docs suffixes
}

// RetrieveConfig holds two-stage retrieval configuration.
type RetrieveConfig struct {
	TopKInitial  int `yaml:"top_k_initial"`
	TopKRerank   int `yaml:"top_k_rerank"`
	CacheSize    int `yaml:"cache_size"`
	CacheTTLSecs int `yaml:"cache_ttl_secs"`
}

// EmbeddingConfig holds embedding configuration.
type EmbeddingConfig struct {
	Provider  string `yaml:"provider"` // "openai", "ollama", "mock"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
	BatchSize int    `yaml:"batch_size"`
}

// RerankerConfig holds reranking configuration.
type RerankerConfig struct {
	Provider  string `yaml:"provider"` // "cohere", "simple", "none"
	Model     string `yaml:"model"`
	BaseURL   string `yaml:"base_url"`
	APIKeyEnv string `yaml:"api_key_env"`
}

// LLMConfig holds text generation configuration.
type LLMConfig struct {
	Provider            string  `yaml:"provider"` // "openai", "ollama"
	Model               string  `yaml:"model"`
	BaseURL             string  `yaml:"base_url"`
	APIKeyEnv           string  `yaml:"api_key_env"`
	MaxTokens           int     `yaml:"max_tokens"`
	Temperature         float32 `yaml:"temperature"`
	TimezoneOffsetHours int     `yaml:"timezone_offset_hours"`
}

// ServerConfig holds HTTP API configuration.
type ServerConfig struct {
	Addr       string `yaml:"addr"`
	WatchIndex bool   `yaml:"watch_index"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "text", "json"
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Source: SourceConfig{
			Provider:      "yuque",
			BaseURL:       "https://www.yuque.com/api/v2",
			TokenEnv:      "YUQUE_TOKEN",
			TimeoutSecs:   60,
			MaxRetries:    3,
			BackoffBaseMS: 1000,
			Includes:      []string{"**/*.md", "**/*.markdown", "**/*.txt", "**/*.html"},
			Excludes:      []string{"**/.git/**", "**/node_modules/**", "**/.kbrag/**"},
		},
		Chunk: ChunkConfig{
			Size:      460,
			Overlap:   100,
			HardSplit: true,
		},
		Index: IndexConfig{
			Dimension: 768,
		},
		Retrieve: RetrieveConfig{
			TopKInitial:  20,
			TopKRerank:   10,
			CacheSize:    256,
			CacheTTLSecs: 300,
		},
		Embedding: EmbeddingConfig{
			Provider:  "openai",
			Model:     "BAAI/bge-base-zh-v1.5",
			BaseURL:   "https://api.siliconflow.cn/v1",
			APIKeyEnv: "OPENAI_API_KEY",
			BatchSize: 32,
		},
		Reranker: RerankerConfig{
			Provider:  "cohere",
			Model:     "netease-youdao/bce-reranker-base_v1",
			BaseURL:   "https://api.siliconflow.cn/v1",
			APIKeyEnv: "OPENAI_API_KEY",
		},
		LLM: LLMConfig{
			Provider:            "openai",
			Model:               "Qwen/Qwen2.5-7B-Instruct",
			BaseURL:             "https://api.siliconflow.cn/v1",
			APIKeyEnv:           "OPENAI_API_KEY",
			MaxTokens:           8192,
			Temperature:         0.7,
			TimezoneOffsetHours: 8,
		},
		Server: ServerConfig{
			Addr: ":8000",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
		QAMode: true,
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for kbrag.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "kbrag.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".kbrag", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ErrInvalidConfig marks configuration errors; they are fatal and never retried.
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks the values the core depends on.
func (c *Config) Validate() error {
	var errs []error
	if c.Chunk.Size <= 0 {
		errs = append(errs, fmt.Errorf("chunk.size must be positive, got %d", c.Chunk.Size))
	}
	if c.Chunk.Overlap < 0 || c.Chunk.Overlap >= c.Chunk.Size {
		errs = append(errs, fmt.Errorf("chunk.overlap must be in [0, chunk.size), got %d", c.Chunk.Overlap))
	}
	if c.Index.Dimension <= 0 {
		errs = append(errs, fmt.Errorf("index.dimension must be positive, got %d", c.Index.Dimension))
	}
	if c.Retrieve.TopKInitial <= 0 || c.Retrieve.TopKRerank <= 0 {
		errs = append(errs, fmt.Errorf("retrieve.top_k_initial and retrieve.top_k_rerank must be positive"))
	}
	if c.Retrieve.TopKRerank > c.Retrieve.TopKInitial {
		errs = append(errs, fmt.Errorf("retrieve.top_k_rerank (%d) exceeds retrieve.top_k_initial (%d)",
			c.Retrieve.TopKRerank, c.Retrieve.TopKInitial))
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
}

// DataDir returns the directory holding the index and catalog.
func DataDir(dir string) string {
	return filepath.Join(dir, ".kbrag")
}

// IndexBasePath returns the index artifact base path. A configured path wins.
func (c *Config) IndexBasePath(dir string) string {
	if c.Index.Path != "" {
		return c.Index.Path
	}
	return filepath.Join(DataDir(dir), "index")
}

// CatalogPath returns the path to the ingestion catalog database.
func CatalogPath(dir string) string {
	return filepath.Join(DataDir(dir), "catalog.db")
}

// EnsureDataDir ensures the .kbrag directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(DataDir(dir), 0755)
}
