// Package config loads the environment-sourced configuration surface
// (knowthis/spec.md §6.3) and the query-enhancer prompt file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config holds every environment-sourced setting the service reads at
// startup. Validation fails closed: Validate collects every problem but
// returns only the first, and main exits with the configuration exit code
// on it.
type Config struct {
	// Chat platform
	ChatBotToken string
	ChatChannels []string

	// Embedding / LLM provider (single provider, single key)
	EmbedAPIKey string

	// Vector store
	VectorAPIKey    string // presence selects the remote backend; empty -> local fallback
	VectorIndexName string
	DatabaseURL     string // remote backend DSN when VectorAPIKey is set

	// Ingestion
	RefreshIntervalHours int
	ChunkSize            int
	ChunkOverlap         int
	IngestionConcurrency int

	// Rate limiting
	ChatRateLimitPerMinute int

	// Request server
	APIKeys             []string // whitelisted bearer tokens
	ListenAddr          string
	CanvasWebhookSecret string
	AllowedOrigins      []string

	// Response cache
	RedisURL string

	// Ambient
	Port        string
	LogLevel    string
	LogFormat   string
	Environment string

	// Query enhancer
	EnhancerPromptPath string

	// Supplemental: permalink synthesis
	ChatWorkspaceDomain string
}

// Load reads every recognized option from the environment, applying
// defaults where spec §6.3 specifies one.
func Load() *Config {
	return &Config{
		ChatBotToken: os.Getenv("CHAT_BOT_TOKEN"),
		ChatChannels: splitCSV(os.Getenv("CHAT_CHANNELS")),

		EmbedAPIKey: os.Getenv("EMBED_API_KEY"),

		VectorAPIKey:    os.Getenv("VECTOR_API_KEY"),
		VectorIndexName: getEnvOrDefault("VECTOR_INDEX_NAME", "messages"),
		DatabaseURL:     getEnvOrDefault("DATABASE_URL", "postgres://localhost/knowthis?sslmode=disable"),

		RefreshIntervalHours: getEnvIntOrDefault("REFRESH_INTERVAL_HOURS", 1),
		ChunkSize:            getEnvIntOrDefault("CHUNK_SIZE", 8000),
		ChunkOverlap:         getEnvIntOrDefault("CHUNK_OVERLAP", 200),
		IngestionConcurrency: getEnvIntOrDefault("INGESTION_CONCURRENCY", 3),

		ChatRateLimitPerMinute: getEnvIntOrDefault("CHAT_RATE_LIMIT_PER_MINUTE", 0),

		APIKeys:             whitelistKeys(),
		ListenAddr:          getEnvOrDefault("LISTEN_ADDR", "0.0.0.0:5000"),
		CanvasWebhookSecret: os.Getenv("CANVAS_WEBHOOK_SECRET"),
		AllowedOrigins:      splitCSV(os.Getenv("CORS_ALLOWED_ORIGINS")),

		RedisURL: os.Getenv("REDIS_URL"),

		Port:        getEnvOrDefault("PORT", "5000"),
		LogLevel:    getEnvOrDefault("LOG_LEVEL", "INFO"),
		LogFormat:   getEnvOrDefault("LOG_FORMAT", "text"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),

		EnhancerPromptPath: getEnvOrDefault("ENHANCER_PROMPT_PATH", "config/enhancer_prompt.yaml"),

		ChatWorkspaceDomain: os.Getenv("CHAT_WORKSPACE_DOMAIN"),
	}
}

// whitelistKeys merges the singular API_KEY option with the comma-separated
// WHITELIST_KEYS option into one bearer-token whitelist.
func whitelistKeys() []string {
	var keys []string
	if k := os.Getenv("API_KEY"); k != "" {
		keys = append(keys, k)
	}
	keys = append(keys, splitCSV(os.Getenv("WHITELIST_KEYS"))...)
	return keys
}

// Validate reports the first configuration problem found, or nil. It
// mirrors the teacher's collect-then-return-first shape; main does not
// retry, it exits with code 1 on the returned error.
func (c *Config) Validate() error {
	var errs []string

	if c.ChatBotToken == "" {
		errs = append(errs, "CHAT_BOT_TOKEN is required")
	}
	if len(c.ChatChannels) == 0 {
		errs = append(errs, "CHAT_CHANNELS is required")
	}
	if c.EmbedAPIKey == "" {
		errs = append(errs, "EMBED_API_KEY is required")
	}
	if c.VectorAPIKey != "" && c.DatabaseURL == "" {
		errs = append(errs, "DATABASE_URL is required when VECTOR_API_KEY is set")
	}
	if len(c.APIKeys) == 0 {
		errs = append(errs, "API_KEY or WHITELIST_KEYS is required")
	}
	if c.RefreshIntervalHours <= 0 {
		errs = append(errs, "REFRESH_INTERVAL_HOURS must be positive")
	}

	validLogLevels := []string{"DEBUG", "INFO", "WARN", "ERROR"}
	if !contains(validLogLevels, strings.ToUpper(c.LogLevel)) {
		errs = append(errs, "LOG_LEVEL must be one of: DEBUG, INFO, WARN, ERROR")
	}
	validLogFormats := []string{"text", "json"}
	if !contains(validLogFormats, strings.ToLower(c.LogFormat)) {
		errs = append(errs, "LOG_FORMAT must be one of: text, json")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", errs[0])
	}
	return nil
}

// UsesRemoteVectorStore reports whether the remote (Postgres/pgvector)
// backend should be constructed instead of the local file fallback.
func (c *Config) UsesRemoteVectorStore() bool { return c.VectorAPIKey != "" }

func (c *Config) IsProduction() bool  { return strings.ToLower(c.Environment) == "production" }
func (c *Config) IsDevelopment() bool { return strings.ToLower(c.Environment) == "development" }

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func contains(slice []string, item string) bool {
	for _, s := range slice {
		if s == item {
			return true
		}
	}
	return false
}
