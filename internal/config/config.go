// Package config loads matgraph configuration from the environment.
package config

import (
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Provider names for LLM and embedding backends.
const (
	ProviderOpenAI    = "openai"
	ProviderOllama    = "ollama"
	ProviderAnthropic = "anthropic"
	ProviderBedrock   = "bedrock"
)

// Blob backends.
const (
	BlobLocal = "local"
	BlobGCS   = "gcs"
)

// Config holds all configuration values.
// Every component receives the slice it needs through its constructor.
type Config struct {
	// SurrealDB connection (process registry, upload metadata)
	SurrealDBURL       string
	SurrealDBNamespace string
	SurrealDBDatabase  string
	SurrealDBUser      string
	SurrealDBPass      string
	SurrealDBAuthLevel string

	// Neo4j connection (ontology + instance graph)
	Neo4jURI         string
	Neo4jUser        string
	Neo4jPassword    string
	Neo4jDatabase    string
	Neo4jMaxPoolSize int
	Neo4jTimeout     time.Duration

	// Redis (caches)
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	CacheTTL      time.Duration

	// LLM
	LLMProvider     string
	LLMModel        string
	LLMRequestsPerS float64
	OpenAIAPIKey    string
	AnthropicAPIKey string
	OllamaHost      string
	AWSRegion       string

	// Embeddings
	EmbedProvider  string
	EmbedModel     string
	EmbedDimension int

	// Blob store
	BlobBackend string
	BlobDir     string
	GCSBucket   string
	GCSCredFile string

	// Callbacks
	CallbackAPIKey  string
	CallbackTimeout time.Duration

	// Task runner
	Workers   int
	QueueSize int

	// HTTP server
	ServerPort string

	// Prompt overrides (optional YAML file)
	PromptsFile string

	// Logging
	LogFile  string
	LogLevel slog.Level
}

// Load reads configuration from environment variables.
func Load() Config {
	return Config{
		SurrealDBURL:       getEnv("SURREALDB_URL", "ws://localhost:8000/rpc"),
		SurrealDBNamespace: getEnv("SURREALDB_NAMESPACE", "matgraph"),
		SurrealDBDatabase:  getEnv("SURREALDB_DATABASE", "registry"),
		SurrealDBUser:      getEnv("SURREALDB_USER", "root"),
		SurrealDBPass:      getEnv("SURREALDB_PASS", "root"),
		SurrealDBAuthLevel: getEnv("SURREALDB_AUTH_LEVEL", "root"),

		Neo4jURI:         getEnv("NEO4J_URI", "neo4j://localhost:7687"),
		Neo4jUser:        getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:    getEnv("NEO4J_PASSWORD", ""),
		Neo4jDatabase:    getEnv("NEO4J_DATABASE", ""),
		Neo4jMaxPoolSize: getEnvInt("NEO4J_MAX_POOL_SIZE", 50),
		Neo4jTimeout:     time.Duration(getEnvInt("NEO4J_TIMEOUT_SECONDS", 10)) * time.Second,

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvInt("REDIS_DB", 0),
		CacheTTL:      time.Duration(getEnvInt("MATGRAPH_CACHE_TTL_HOURS", 0)) * time.Hour,

		LLMProvider:     getEnv("MATGRAPH_LLM_PROVIDER", ProviderOpenAI),
		LLMModel:        getEnv("MATGRAPH_LLM_MODEL", "gpt-4o-mini"),
		LLMRequestsPerS: getEnvFloat("MATGRAPH_LLM_RPS", 4),
		OpenAIAPIKey:    getEnv("OPENAI_API_KEY", ""),
		AnthropicAPIKey: getEnv("ANTHROPIC_API_KEY", ""),
		OllamaHost:      getEnv("OLLAMA_HOST", "http://localhost:11434"),
		AWSRegion:       getEnv("AWS_REGION", "us-east-1"),

		EmbedProvider:  getEnv("MATGRAPH_EMBED_PROVIDER", ProviderOllama),
		EmbedModel:     getEnv("MATGRAPH_EMBED_MODEL", "all-minilm:l6-v2"),
		EmbedDimension: getEnvInt("MATGRAPH_EMBED_DIMENSION", 384),

		BlobBackend: getEnv("MATGRAPH_BLOB_BACKEND", BlobLocal),
		BlobDir:     getEnv("MATGRAPH_BLOB_DIR", "/tmp/matgraph/uploads"),
		GCSBucket:   getEnv("MATGRAPH_GCS_BUCKET", ""),
		GCSCredFile: getEnv("GOOGLE_APPLICATION_CREDENTIALS", ""),

		CallbackAPIKey:  getEnv("MATGRAPH_CALLBACK_API_KEY", ""),
		CallbackTimeout: time.Duration(getEnvInt("MATGRAPH_CALLBACK_TIMEOUT_SECONDS", 30)) * time.Second,

		Workers:   getEnvInt("MATGRAPH_WORKERS", 4),
		QueueSize: getEnvInt("MATGRAPH_QUEUE_SIZE", 64),

		ServerPort: getEnv("MATGRAPH_SERVER_PORT", "8484"),

		PromptsFile: getEnv("MATGRAPH_PROMPTS_FILE", ""),

		LogFile:  getEnv("MATGRAPH_LOG_FILE", "/tmp/matgraph.log"),
		LogLevel: parseLogLevel(getEnv("MATGRAPH_LOG_LEVEL", "INFO")),
	}
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(v)
	if err != nil || parsed < 0 {
		return defaultVal
	}
	return parsed
}

func getEnvFloat(key string, defaultVal float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return defaultVal
	}
	parsed, err := strconv.ParseFloat(v, 64)
	if err != nil || parsed <= 0 {
		return defaultVal
	}
	return parsed
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToUpper(s) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
