package embedder

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmorrow/paperquery/internal/config"
)

// Environment variables consulted when the config does not name a
// provider explicitly.
const (
	EnvOpenAIAPIKey = "OPENAI_API_KEY"
	EnvJinaAPIKey   = "JINA_API_KEY"
)

// New creates an embedder from configuration.
// Selection order:
//  1. cfg.Provider when set (openai, jina, local)
//  2. auto-detect from OPENAI_API_KEY / JINA_API_KEY
//  3. local fallback (deterministic, offline)
func New(cfg config.EmbeddingConfig) (Embedder, error) {
	cache := NewCache(cfg.CacheSize)

	apiKey := cfg.APIKey

	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		if apiKey == "" {
			apiKey = os.Getenv(EnvOpenAIAPIKey)
		}
		return NewOpenAIProvider(apiKey, cfg.Model, cfg.BaseURL, cfg.Timeout, cache)
	case ProviderJina:
		if apiKey == "" {
			apiKey = os.Getenv(EnvJinaAPIKey)
		}
		return NewJinaProvider(apiKey, cfg.Model, cfg.BaseURL, cfg.Timeout, cache)
	case ProviderLocal:
		return NewLocalProvider(cache)
	case "":
		// Fall through to auto-detection.
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, cfg.Provider)
	}

	if key := os.Getenv(EnvOpenAIAPIKey); key != "" {
		return NewOpenAIProvider(key, cfg.Model, cfg.BaseURL, cfg.Timeout, cache)
	}
	if key := os.Getenv(EnvJinaAPIKey); key != "" {
		return NewJinaProvider(key, cfg.Model, cfg.BaseURL, cfg.Timeout, cache)
	}

	return NewLocalProvider(cache)
}
