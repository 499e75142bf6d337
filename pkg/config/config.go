// Package config loads service configuration from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	// DatabaseURL is the Postgres connection string.
	DatabaseURL string

	// CacheURL is the Redis URL used for both the idempotency cache and
	// the work queue broker.
	CacheURL string

	HTTPPort string

	API   APIConfig
	LLM   LLMConfig
	Tools ToolsConfig
	Queue *QueueConfig
	RAG   RAGConfig

	// RetentionAge deletes terminal jobs older than this. Zero disables
	// retention cleanup.
	RetentionAge time.Duration
}

// APIConfig gates the research endpoints behind a shared secret.
type APIConfig struct {
	AuthEnabled bool
	SecretKey   string
}

// LLMConfig selects and configures the model provider.
type LLMConfig struct {
	// Provider is "bedrock" or "openai".
	Provider string

	Region  string // bedrock
	Profile string // bedrock

	OpenAIKey        string
	OpenAIModel      string
	OpenAIEmbedModel string
	OpenAIBaseURL    string

	// CallTimeout bounds a single generate/embed call.
	CallTimeout time.Duration
}

// ToolsConfig configures the agent-callable tools.
type ToolsConfig struct {
	WebSearchKey string

	// MaxContentLen truncates web search result content beyond this many
	// characters.
	MaxContentLen int

	// CallTimeout bounds a single tool invocation.
	CallTimeout time.Duration
}

// RAGConfig configures chunking of approved report content.
type RAGConfig struct {
	// MinChunkLen drops paragraphs shorter than this from indexing.
	MinChunkLen int
}

// Load reads configuration from the environment. Only DATABASE_URL and
// CACHE_URL are required; everything else has a default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	cacheURL := os.Getenv("CACHE_URL")
	if cacheURL == "" {
		return nil, fmt.Errorf("CACHE_URL is required")
	}

	cfg := &Config{
		DatabaseURL: dbURL,
		CacheURL:    cacheURL,
		HTTPPort:    getEnvOrDefault("HTTP_PORT", "8080"),
		API: APIConfig{
			AuthEnabled: getEnvBool("API_AUTH_ENABLED", false),
			SecretKey:   os.Getenv("API_SECRET_KEY"),
		},
		LLM: LLMConfig{
			Provider:         getEnvOrDefault("LLM_PROVIDER", "bedrock"),
			Region:           getEnvOrDefault("LLM_PROVIDER_REGION", "us-east-1"),
			Profile:          getEnvOrDefault("LLM_PROVIDER_PROFILE", "default"),
			OpenAIKey:        os.Getenv("OPENAI_COMPATIBLE_KEY"),
			OpenAIModel:      getEnvOrDefault("OPENAI_COMPATIBLE_MODEL", "anthropic/claude-3-sonnet"),
			OpenAIEmbedModel: getEnvOrDefault("OPENAI_COMPATIBLE_EMBED_MODEL", "text-embedding-3-small"),
			OpenAIBaseURL:    getEnvOrDefault("OPENAI_COMPATIBLE_URL", "https://openrouter.ai/api/v1"),
			CallTimeout:      getEnvDuration("LLM_CALL_TIMEOUT", 2*time.Minute),
		},
		Tools: ToolsConfig{
			WebSearchKey:  os.Getenv("WEB_SEARCH_KEY"),
			MaxContentLen: getEnvInt("WEB_SEARCH_MAX_CONTENT", 5000),
			CallTimeout:   getEnvDuration("TOOL_CALL_TIMEOUT", time.Minute),
		},
		Queue:        QueueConfigFromEnv(),
		RAG:          RAGConfig{MinChunkLen: getEnvInt("RAG_MIN_CHUNK_LEN", 50)},
		RetentionAge: getEnvDuration("JOB_RETENTION_AGE", 0),
	}

	if cfg.API.AuthEnabled && cfg.API.SecretKey == "" {
		return nil, fmt.Errorf("API_SECRET_KEY is required when API_AUTH_ENABLED is set")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return defaultVal
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(val); err == nil {
			return d
		}
	}
	return defaultVal
}
