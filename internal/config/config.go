package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Inkwell
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Admin     AdminConfig     `mapstructure:"admin"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Chunker   ChunkerConfig   `mapstructure:"chunker"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	LLM       LLMConfig       `mapstructure:"llm"`
	Retrieval RetrievalConfig `mapstructure:"retrieval"`
	Autosave  AutosaveConfig  `mapstructure:"autosave"`
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Host    string `mapstructure:"host"`
	Port    int    `mapstructure:"port"`
	BaseURL string `mapstructure:"base_url"`
}

// AdminConfig holds API authentication configuration
type AdminConfig struct {
	APIKey string `mapstructure:"api_key"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path           string `mapstructure:"path"`
	WriteBatchSize int    `mapstructure:"write_batch_size"`
}

// ChunkerConfig holds text segmentation configuration
type ChunkerConfig struct {
	MaxTokens     int `mapstructure:"max_tokens"`
	OverlapTokens int `mapstructure:"overlap_tokens"`
}

// EmbeddingConfig holds embedding provider configuration
type EmbeddingConfig struct {
	BaseURL       string `mapstructure:"base_url"`
	APIKey        string `mapstructure:"api_key"`
	Model         string `mapstructure:"model"`
	BatchSize     int    `mapstructure:"batch_size"`
	MinIntervalMS int    `mapstructure:"min_interval_ms"`
}

// LLMConfig holds completion provider configuration
type LLMConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	APIKey    string `mapstructure:"api_key"`
	Model     string `mapstructure:"model"`
	MaxTokens int    `mapstructure:"max_tokens"`
}

// RetrievalConfig holds evidence retrieval configuration
type RetrievalConfig struct {
	EvidenceLimit int `mapstructure:"evidence_limit"`
}

// AutosaveConfig holds draft autosave configuration
type AutosaveConfig struct {
	DebounceMS int `mapstructure:"debounce_ms"`
}

// Load loads configuration from file and environment
func Load(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	setDefaults(v)

	// Read config file if specified
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	// Environment variables
	v.SetEnvPrefix("INKWELL")
	v.AutomaticEnv()

	// Read config
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		// Config file not found, use defaults
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")

	v.SetDefault("admin.api_key", "")

	v.SetDefault("database.path", "./data/inkwell.db")
	v.SetDefault("database.write_batch_size", 500)

	v.SetDefault("chunker.max_tokens", 500)
	v.SetDefault("chunker.overlap_tokens", 50)

	v.SetDefault("embedding.base_url", "https://api.openai.com/v1")
	v.SetDefault("embedding.api_key", "")
	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.batch_size", 50)
	v.SetDefault("embedding.min_interval_ms", 200)

	v.SetDefault("llm.base_url", "https://api.openai.com/v1")
	v.SetDefault("llm.api_key", "")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_tokens", 1024)

	v.SetDefault("retrieval.evidence_limit", 8)

	v.SetDefault("autosave.debounce_ms", 2000)
}

// Address returns the server address
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// MinInterval returns the minimum spacing between embedding provider calls.
func (c *Config) MinInterval() time.Duration {
	return time.Duration(c.Embedding.MinIntervalMS) * time.Millisecond
}

// Debounce returns the autosave quiet period.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Autosave.DebounceMS) * time.Millisecond
}
