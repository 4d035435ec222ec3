package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"sparkrag/internal/spark"
)

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr               string `yaml:"addr"`
	RequestTimeoutSecs int    `yaml:"request_timeout_secs"`
	// StreamTimeoutSecs bounds a whole /ask/stream response.
	StreamTimeoutSecs int `yaml:"stream_timeout_secs"`
}

// SparkConfig holds the inference service endpoint. Credentials are read from
// the environment variables named here, never from the file itself.
type SparkConfig struct {
	URL                string   `yaml:"url"`
	Domain             string   `yaml:"domain"`
	AppIDEnv           string   `yaml:"app_id_env"`
	APIKeyEnv          string   `yaml:"api_key_env"`
	APISecretEnv       string   `yaml:"api_secret_env"`
	Temperature        *float64 `yaml:"temperature,omitempty"`
	MaxTokens          int      `yaml:"max_tokens"`
	OpenTimeoutSecs    int      `yaml:"open_timeout_secs"`
	IdleTimeoutSecs    int      `yaml:"idle_timeout_secs"`
	InsecureSkipVerify bool     `yaml:"insecure_skip_verify"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
	MaxRetries  int    `yaml:"max_retries"`
	// AllowMissingKey permits keyless servers such as a local Ollama.
	AllowMissingKey bool `yaml:"allow_missing_key"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type"`
	Dimension int                   `yaml:"dimension"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Type              string `yaml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences"`
	ChunkSize         int    `yaml:"chunk_size"`
	ChunkOverlap      int    `yaml:"chunk_overlap"`
	// MinLength is the hybrid chunker threshold below which text stays whole.
	MinLength int `yaml:"min_length"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type   string        `yaml:"type"`
	Qdrant *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKey      string `yaml:"api_key"`
	Collection  string `yaml:"collection"`
	Distance    string `yaml:"distance"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RerankerConfig selects the reranker: none, lexical or remote.
type RerankerConfig struct {
	Type        string `yaml:"type"`
	URL         string `yaml:"url"`
	Model       string `yaml:"model"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// RetrievalConfig tunes how context is gathered for answers.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// Candidates multiplies TopK when fetching results to rerank.
	Candidates       int `yaml:"candidates"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

// TelemetryConfig toggles the stdout trace exporter.
type TelemetryConfig struct {
	Enabled     bool   `yaml:"enabled"`
	ServiceName string `yaml:"service_name"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server"`
	Spark       SparkConfig       `yaml:"spark"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Reranker    RerankerConfig    `yaml:"reranker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := defaultConfig()
			return cfg, nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/sparkrag/config.yaml.
// If neither exists, it writes defaults to ~/.config/sparkrag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// SparkCredentials reads the credentials from the configured environment
// variables. Missing values are left empty and surface as signing errors.
func (c *AppConfig) SparkCredentials() spark.Credentials {
	return spark.Credentials{
		AppID:     os.Getenv(c.Spark.AppIDEnv),
		APIKey:    os.Getenv(c.Spark.APIKeyEnv),
		APISecret: os.Getenv(c.Spark.APISecretEnv),
	}
}

// SparkClientConfig converts the spark section into a client configuration.
func (c *AppConfig) SparkClientConfig() spark.Config {
	return spark.Config{
		URL:                c.Spark.URL,
		Domain:             c.Spark.Domain,
		Credentials:        c.SparkCredentials(),
		Temperature:        c.Spark.Temperature,
		MaxTokens:          c.Spark.MaxTokens,
		OpenTimeout:        seconds(c.Spark.OpenTimeoutSecs),
		IdleTimeout:        seconds(c.Spark.IdleTimeoutSecs),
		InsecureSkipVerify: c.Spark.InsecureSkipVerify,
	}
}

func seconds(n int) time.Duration { return time.Duration(n) * time.Second }

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "sparkrag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "hashing"},
		Chunker:     ChunkerConfig{Type: "recursive"},
		VectorStore: VectorStoreConfig{Type: "memory"},
		Reranker:    RerankerConfig{Type: "lexical"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":5000"
	}
	if cfg.Server.RequestTimeoutSecs == 0 {
		cfg.Server.RequestTimeoutSecs = 60
	}
	if cfg.Server.StreamTimeoutSecs == 0 {
		cfg.Server.StreamTimeoutSecs = 300
	}

	if cfg.Spark.URL == "" {
		cfg.Spark.URL = "wss://spark-api.xf-yun.com/v4.0/chat"
	}
	if cfg.Spark.Domain == "" {
		cfg.Spark.Domain = "4.0Ultra"
	}
	if cfg.Spark.AppIDEnv == "" {
		cfg.Spark.AppIDEnv = "SPARK_APPID"
	}
	if cfg.Spark.APIKeyEnv == "" {
		cfg.Spark.APIKeyEnv = "SPARK_API_KEY"
	}
	if cfg.Spark.APISecretEnv == "" {
		cfg.Spark.APISecretEnv = "SPARK_API_SECRET"
	}
	if cfg.Spark.Temperature == nil {
		t := 0.5
		cfg.Spark.Temperature = &t
	}
	if cfg.Spark.OpenTimeoutSecs == 0 {
		cfg.Spark.OpenTimeoutSecs = 10
	}
	if cfg.Spark.IdleTimeoutSecs == 0 {
		cfg.Spark.IdleTimeoutSecs = 30
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Dimension == 0 {
		cfg.Embedder.Dimension = 1024
	}
	if cfg.Embedder.Type == "openai" && cfg.Embedder.OpenAI == nil {
		cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "text-embedding-3-small"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}

	if cfg.Chunker.Type == "" {
		cfg.Chunker.Type = "recursive"
	}
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 200
	}
	if cfg.Chunker.ChunkOverlap == 0 {
		cfg.Chunker.ChunkOverlap = 50
	}
	if cfg.Chunker.MinLength == 0 {
		cfg.Chunker.MinLength = 300
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "memory"
	}
	if cfg.VectorStore.Type == "qdrant" && cfg.VectorStore.Qdrant == nil {
		cfg.VectorStore.Qdrant = &QdrantConfig{}
	}
	if q := cfg.VectorStore.Qdrant; q != nil {
		if q.URL == "" {
			q.URL = "http://localhost:6333"
		}
		if q.Collection == "" {
			q.Collection = "comment_vectors"
		}
	}

	if cfg.Reranker.Type == "" {
		cfg.Reranker.Type = "none"
	}

	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 3
	}
	if cfg.Retrieval.Candidates == 0 {
		cfg.Retrieval.Candidates = 3
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "sparkrag"
	}
}
