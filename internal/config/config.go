package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// DataConfig locates and parses the review CSV files.
type DataConfig struct {
	Pattern   string `yaml:"pattern"`
	Years     []int  `yaml:"years"`
	Delimiter string `yaml:"delimiter"`
	RowErrors string `yaml:"row_errors"`
}

// HashingEmbedderConfig configures the local feature-hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        uint64  `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type          string        `yaml:"type"`
	Path          string        `yaml:"path"`
	Collection    string        `yaml:"collection"`
	Distance      string        `yaml:"distance"`
	LeaseTTLSecs  int           `yaml:"lease_ttl_secs"`
	BusyTimeoutMs int           `yaml:"busy_timeout_ms"`
	Qdrant        *QdrantConfig `yaml:"qdrant,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIKeyEnv string `yaml:"api_key_env"`
	UseTLS    bool   `yaml:"use_tls"`
}

// IndexerConfig controls batched writes.
type IndexerConfig struct {
	BatchSize  int    `yaml:"batch_size"`
	MaxRetries uint64 `yaml:"max_retries"`
}

// QueryConfig holds query defaults.
type QueryConfig struct {
	Question  string   `yaml:"question"`
	TopK      int      `yaml:"top_k"`
	MinRating *float64 `yaml:"min_rating,omitempty"`
}

// ChatConfig configures the chat completion answerer.
type ChatConfig struct {
	BaseURL           string  `yaml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env"`
	Model             string  `yaml:"model"`
	Temperature       float64 `yaml:"temperature"`
	TimeoutSecs       int     `yaml:"timeout_secs"`
	MaxRetries        uint64  `yaml:"max_retries"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// AnswerConfig selects and configures the answer synthesizer.
type AnswerConfig struct {
	Type         string      `yaml:"type"`
	MaxSentences int         `yaml:"max_sentences"`
	Chat         *ChatConfig `yaml:"chat,omitempty"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Data        DataConfig        `yaml:"data"`
	Embedder    EmbedderConfig    `yaml:"embedder"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Indexer     IndexerConfig     `yaml:"indexer"`
	Query       QueryConfig       `yaml:"query"`
	Answer      AnswerConfig      `yaml:"answer"`
	Log         LogConfig         `yaml:"log"`
}

// LeaseTTL returns the writer lease lifetime.
func (c VectorStoreConfig) LeaseTTL() time.Duration {
	return time.Duration(c.LeaseTTLSecs) * time.Second
}

// BusyTimeout returns how long SQLite waits on a locked database.
func (c VectorStoreConfig) BusyTimeout() time.Duration {
	return time.Duration(c.BusyTimeoutMs) * time.Millisecond
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
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

// LoadDefault tries ./config.yaml first, then ~/.config/carreviews/config.yaml.
// If neither exists, it writes defaults to ~/.config/carreviews/config.yaml and returns them.
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

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "carreviews", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Data.Pattern == "" {
		cfg.Data.Pattern = "data/*.csv"
	}
	if len(cfg.Data.Years) == 0 {
		cfg.Data.Years = []int{2017}
	}
	if cfg.Data.Delimiter == "" {
		cfg.Data.Delimiter = ","
	}
	if cfg.Data.RowErrors == "" {
		cfg.Data.RowErrors = "fail"
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "hashing"
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 384
		}
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		if cfg.Embedder.OpenAI.BaseURL == "" {
			cfg.Embedder.OpenAI.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Embedder.OpenAI.APIKeyEnv == "" {
			cfg.Embedder.OpenAI.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Embedder.OpenAI.Model == "" {
			cfg.Embedder.OpenAI.Model = "multi-qa-MiniLM-L6-cos-v1"
		}
		if cfg.Embedder.OpenAI.TimeoutSecs == 0 {
			cfg.Embedder.OpenAI.TimeoutSecs = 30
		}
	}

	if cfg.VectorStore.Type == "" {
		cfg.VectorStore.Type = "sqlite"
	}
	if cfg.VectorStore.Path == "" {
		cfg.VectorStore.Path = "car_review_embeddings"
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "car_reviews"
	}
	if cfg.VectorStore.Distance == "" {
		cfg.VectorStore.Distance = "cosine"
	}
	if cfg.VectorStore.LeaseTTLSecs == 0 {
		cfg.VectorStore.LeaseTTLSecs = 600
	}
	if cfg.VectorStore.BusyTimeoutMs == 0 {
		cfg.VectorStore.BusyTimeoutMs = 5000
	}
	if cfg.VectorStore.Type == "qdrant" {
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.Host == "" {
			cfg.VectorStore.Qdrant.Host = "localhost"
		}
		if cfg.VectorStore.Qdrant.Port == 0 {
			cfg.VectorStore.Qdrant.Port = 6334
		}
	}

	if cfg.Indexer.BatchSize == 0 {
		cfg.Indexer.BatchSize = 166
	}

	if cfg.Query.Question == "" {
		cfg.Query.Question = "Find me some positive reviews that discuss the car's performance"
	}
	if cfg.Query.TopK == 0 {
		cfg.Query.TopK = 5
	}

	if cfg.Answer.Type == "" {
		cfg.Answer.Type = "extractive"
	}
	if cfg.Answer.MaxSentences == 0 {
		cfg.Answer.MaxSentences = 5
	}
	if cfg.Answer.Type == "chat" {
		if cfg.Answer.Chat == nil {
			cfg.Answer.Chat = &ChatConfig{}
		}
		if cfg.Answer.Chat.BaseURL == "" {
			cfg.Answer.Chat.BaseURL = "https://api.openai.com/v1"
		}
		if cfg.Answer.Chat.APIKeyEnv == "" {
			cfg.Answer.Chat.APIKeyEnv = "OPENAI_API_KEY"
		}
		if cfg.Answer.Chat.Model == "" {
			cfg.Answer.Chat.Model = "gpt-4o-mini"
		}
		if cfg.Answer.Chat.TimeoutSecs == 0 {
			cfg.Answer.Chat.TimeoutSecs = 60
		}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}
