// Package config provides configuration loading and management for the
// knowledge pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment names accepted by Validate.
const (
	EnvLocal      = "local"
	EnvStaging    = "staging"
	EnvProduction = "production"
)

// Config represents the complete pipeline configuration. Keys are flat;
// the same names are recognized as environment variable overrides
// (uppercased) by the Loader.
type Config struct {
	// ProjectID scopes every read and write in both stores.
	ProjectID string `yaml:"project_id"`

	// MongoURI is the document store connection string.
	MongoURI string `yaml:"mongodb_uri"`
	// MongoDatabase is the database holding sources/chunks/extractions.
	MongoDatabase string `yaml:"mongodb_database"`
	// ConnectionTimeoutMS bounds document store connection establishment.
	ConnectionTimeoutMS int `yaml:"connection_timeout_ms"`
	// MaxPoolSize caps the document store connection pool.
	MaxPoolSize uint64 `yaml:"max_pool_size"`

	// QdrantURL is the vector store address (host:port or URL).
	QdrantURL string `yaml:"qdrant_url"`
	// QdrantAPIKey authenticates vector store requests. Optional.
	QdrantAPIKey string `yaml:"qdrant_api_key"`

	// AnthropicAPIKey authenticates LLM requests.
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	// LLMModel is the model identifier for extraction calls.
	LLMModel string `yaml:"llm_model"`
	// LLMMaxTokens caps LLM response length.
	LLMMaxTokens int `yaml:"llm_max_tokens"`
	// ModelRegistryPath optionally points at a JSON model registry file.
	// When set it replaces the single-model registry built from LLMModel.
	ModelRegistryPath string `yaml:"model_registry_path"`

	// Environment is one of local, staging, production.
	// Production rejects localhost store URIs.
	Environment string `yaml:"environment"`

	// ListenAddr is the query service bind address.
	ListenAddr string `yaml:"listen_addr"`

	// PromptDir is the directory holding extraction prompt files.
	PromptDir string `yaml:"prompt_dir"`

	// EmbeddingURL is the embedding service base URL.
	EmbeddingURL string `yaml:"embedding_url"`
	// EmbeddingModel is the embedding model name.
	EmbeddingModel string `yaml:"embedding_model"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`

	// APIKeys seeds the query service credential registry.
	APIKeys []APIKeyConfig `yaml:"api_keys"`
}

// APIKeyConfig declares one API key for the query service.
type APIKeyConfig struct {
	// Key is the credential (kp_ prefix + 32 hex chars).
	Key string `yaml:"key"`
	// Tier is REGISTERED or PREMIUM. Callers without a key are PUBLIC.
	Tier string `yaml:"tier"`
	// ExpiresAt optionally deactivates the key after this instant.
	ExpiresAt time.Time `yaml:"expires_at,omitempty"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProjectID:           "default",
		MongoURI:            "mongodb://localhost:27017",
		MongoDatabase:       "knowledge",
		ConnectionTimeoutMS: 10000,
		MaxPoolSize:         10,
		QdrantURL:           "localhost:6334",
		LLMModel:            "claude-sonnet-4-20250514",
		LLMMaxTokens:        8192,
		Environment:         EnvLocal,
		ListenAddr:          ":8080",
		PromptDir:           "prompts",
		EmbeddingURL:        "http://localhost:11434",
		EmbeddingModel:      "nomic-embed-text",
		LogLevel:            "info",
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	if c.ProjectID == "" {
		return fmt.Errorf("project_id is required")
	}
	if c.MongoURI == "" {
		return fmt.Errorf("mongodb_uri is required")
	}
	if c.MongoDatabase == "" {
		return fmt.Errorf("mongodb_database is required")
	}
	if c.ConnectionTimeoutMS <= 0 {
		return fmt.Errorf("connection_timeout_ms must be positive")
	}
	if c.QdrantURL == "" {
		return fmt.Errorf("qdrant_url is required")
	}
	if c.LLMModel == "" {
		return fmt.Errorf("llm_model is required")
	}
	if c.LLMMaxTokens <= 0 {
		return fmt.Errorf("llm_max_tokens must be positive")
	}

	switch c.Environment {
	case EnvLocal, EnvStaging, EnvProduction:
	default:
		return fmt.Errorf("environment must be local, staging, or production (got %q)", c.Environment)
	}

	if c.Environment == EnvProduction {
		if isLocalhost(c.MongoURI) {
			return fmt.Errorf("production environment rejects localhost mongodb_uri %q", c.MongoURI)
		}
		if isLocalhost(c.QdrantURL) {
			return fmt.Errorf("production environment rejects localhost qdrant_url %q", c.QdrantURL)
		}
	}

	for i, k := range c.APIKeys {
		if k.Key == "" {
			return fmt.Errorf("api_keys[%d]: key is required", i)
		}
		if k.Tier == "" {
			return fmt.Errorf("api_keys[%d]: tier is required", i)
		}
	}

	return nil
}

// ConnectionTimeout returns the document store connection timeout as a
// duration.
func (c *Config) ConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeoutMS) * time.Millisecond
}

// isLocalhost reports whether a store URI points at the local machine.
func isLocalhost(uri string) bool {
	return strings.Contains(uri, "localhost") || strings.Contains(uri, "127.0.0.1")
}

// LoadFromFile loads configuration from a YAML file.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file.
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for
// non-zero values).
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	if other.ProjectID != "" {
		c.ProjectID = other.ProjectID
	}
	if other.MongoURI != "" {
		c.MongoURI = other.MongoURI
	}
	if other.MongoDatabase != "" {
		c.MongoDatabase = other.MongoDatabase
	}
	if other.ConnectionTimeoutMS != 0 {
		c.ConnectionTimeoutMS = other.ConnectionTimeoutMS
	}
	if other.MaxPoolSize != 0 {
		c.MaxPoolSize = other.MaxPoolSize
	}
	if other.QdrantURL != "" {
		c.QdrantURL = other.QdrantURL
	}
	if other.QdrantAPIKey != "" {
		c.QdrantAPIKey = other.QdrantAPIKey
	}
	if other.AnthropicAPIKey != "" {
		c.AnthropicAPIKey = other.AnthropicAPIKey
	}
	if other.LLMModel != "" {
		c.LLMModel = other.LLMModel
	}
	if other.LLMMaxTokens != 0 {
		c.LLMMaxTokens = other.LLMMaxTokens
	}
	if other.ModelRegistryPath != "" {
		c.ModelRegistryPath = other.ModelRegistryPath
	}
	if other.Environment != "" {
		c.Environment = other.Environment
	}
	if other.ListenAddr != "" {
		c.ListenAddr = other.ListenAddr
	}
	if other.PromptDir != "" {
		c.PromptDir = other.PromptDir
	}
	if other.EmbeddingURL != "" {
		c.EmbeddingURL = other.EmbeddingURL
	}
	if other.EmbeddingModel != "" {
		c.EmbeddingModel = other.EmbeddingModel
	}
	if other.LogLevel != "" {
		c.LogLevel = other.LogLevel
	}
	if len(other.APIKeys) > 0 {
		c.APIKeys = other.APIKeys
	}
}
