// Package config loads application settings from a config file and
// PAPERQUERY_-prefixed environment variables via viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Settings is the full application configuration.
type Settings struct {
	Database   DatabaseConfig   `mapstructure:"database"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Generation GenerationConfig `mapstructure:"generation"`
	Retrieval  RetrievalConfig  `mapstructure:"retrieval"`
	Fusion     FusionConfig     `mapstructure:"fusion"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Server     ServerConfig     `mapstructure:"server"`
	Debug      bool             `mapstructure:"debug"`
}

// DatabaseConfig locates the SQLite corpus database.
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// EmbeddingConfig selects and tunes the embedding provider.
type EmbeddingConfig struct {
	Provider  string        `mapstructure:"provider"` // openai, jina, local
	Model     string        `mapstructure:"model"`
	APIKey    string        `mapstructure:"api_key"`
	BaseURL   string        `mapstructure:"base_url"`
	CacheSize int           `mapstructure:"cache_size"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// GenerationConfig tunes the chat-completion backend.
type GenerationConfig struct {
	Model       string        `mapstructure:"model"`
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	MaxTokens   int           `mapstructure:"max_tokens"`
	Temperature float64       `mapstructure:"temperature"`
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// RetrievalConfig bounds the hybrid retrieval stage.
type RetrievalConfig struct {
	MaxTopK        int           `mapstructure:"max_top_k"`
	KPerBranch     int           `mapstructure:"k_per_branch"` // candidates fetched per search branch
	ContextUnits   int           `mapstructure:"context_units"`
	VectorTimeout  time.Duration `mapstructure:"vector_timeout"`
	KeywordTimeout time.Duration `mapstructure:"keyword_timeout"`
}

// FusionConfig holds the signal weights for result fusion. The weights
// need not sum to 1; they are applied to per-signal scores already
// normalized to [0, 1].
type FusionConfig struct {
	SimilarityWeight float64 `mapstructure:"similarity_weight"`
	KeywordWeight    float64 `mapstructure:"keyword_weight"`
	CitationWeight   float64 `mapstructure:"citation_weight"`
}

// CacheConfig tunes the answer cache.
type CacheConfig struct {
	TTL     time.Duration `mapstructure:"ttl"`
	MaxSize int           `mapstructure:"max_size"`
}

// ServerConfig tunes the HTTP listener.
type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	home, _ := os.UserHomeDir()
	v.SetDefault("database.path", filepath.Join(home, ".paperquery", "papers.db"))

	v.SetDefault("embedding.provider", "")
	v.SetDefault("embedding.model", "")
	v.SetDefault("embedding.cache_size", 10000)
	v.SetDefault("embedding.timeout", 30*time.Second)

	v.SetDefault("generation.model", "gpt-4o-mini")
	v.SetDefault("generation.base_url", "https://api.openai.com/v1")
	v.SetDefault("generation.max_tokens", 2000)
	v.SetDefault("generation.temperature", 0.7)
	v.SetDefault("generation.timeout", 60*time.Second)
	v.SetDefault("generation.max_retries", 3)

	v.SetDefault("retrieval.max_top_k", 50)
	v.SetDefault("retrieval.k_per_branch", 20)
	v.SetDefault("retrieval.context_units", 8000)
	v.SetDefault("retrieval.vector_timeout", 15*time.Second)
	v.SetDefault("retrieval.keyword_timeout", 5*time.Second)

	v.SetDefault("fusion.similarity_weight", 0.6)
	v.SetDefault("fusion.keyword_weight", 0.25)
	v.SetDefault("fusion.citation_weight", 0.15)

	v.SetDefault("cache.ttl", time.Hour)
	v.SetDefault("cache.max_size", 1000)

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 120*time.Second)
	v.SetDefault("server.shutdown_timeout", 10*time.Second)

	v.SetDefault("debug", false)
}

// Load reads settings from the given config file (optional; empty path
// uses defaults and environment only). Environment variables use the
// PAPERQUERY_ prefix with underscores, e.g. PAPERQUERY_CACHE_TTL=30m.
func Load(path string) (*Settings, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("PAPERQUERY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}

	return &s, nil
}

// Validate rejects settings the pipeline cannot run with.
func (s *Settings) Validate() error {
	if s.Retrieval.MaxTopK <= 0 {
		return fmt.Errorf("retrieval.max_top_k must be > 0")
	}
	if s.Retrieval.ContextUnits <= 0 {
		return fmt.Errorf("retrieval.context_units must be > 0")
	}
	if s.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be > 0")
	}
	if s.Fusion.SimilarityWeight < 0 || s.Fusion.KeywordWeight < 0 || s.Fusion.CitationWeight < 0 {
		return fmt.Errorf("fusion weights must be >= 0")
	}
	if s.Fusion.SimilarityWeight+s.Fusion.KeywordWeight+s.Fusion.CitationWeight == 0 {
		return fmt.Errorf("at least one fusion weight must be > 0")
	}
	return nil
}
