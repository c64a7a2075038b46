package config

import (
	"fmt"
	"os"
	"strconv"
)

// Config holds all application configuration loaded from environment
// variables. It is immutable after Load() returns.
type Config struct {
	Port             int
	Environment      string
	DatabaseURL      string
	DatabaseMaxConns int

	RedisURL string

	ElasticsearchURL         string
	ElasticsearchIndex       string
	ElasticsearchCJKAnalyzer string

	PubSubProjectID string
	PubSubEmulator  string

	GCSBucketName    string
	StorageRoot      string
	FileMaxSizeBytes int64

	JWTSigningKey   string
	JWTAccessTTLMin int
	AEADKey         string

	DefaultChunkSize    int
	DefaultChunkOverlap int
	VectorDimensions    int
	EmbedBatchSize      int
	EmbedRatePerSec     float64

	PromptsPath string

	ContextTTLSeconds int
	ActiveTTLSeconds  int
	ArchiveDays       int
	MaxContextTurns   int
	MaxContextTokens  int

	RetrievalTestRateLimitPerMin int

	CORSOrigins string

	VertexAIProject  string
	VertexAILocation string
	DocAIProcessor   string
}

// Load reads configuration from environment variables. Required
// variables cause an error if missing; everything else has a sensible
// default.
func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("config.Load: DATABASE_URL is required")
	}

	cfg := &Config{
		Port:             envInt("PORT", 8080),
		Environment:      envStr("ENVIRONMENT", "development"),
		DatabaseURL:      dbURL,
		DatabaseMaxConns: envInt("DATABASE_MAX_CONNS", 30),

		RedisURL: envStr("REDIS_URL", "redis://localhost:6379/0"),

		ElasticsearchURL:         envStr("ELASTICSEARCH_URL", "http://localhost:9200"),
		ElasticsearchIndex:       envStr("ELASTICSEARCH_INDEX", "ragbox_chunks"),
		ElasticsearchCJKAnalyzer: envStr("ELASTICSEARCH_CJK_ANALYZER", "smartcn"),

		PubSubProjectID: envStr("PUBSUB_PROJECT_ID", ""),
		PubSubEmulator:  envStr("PUBSUB_EMULATOR_HOST", ""),

		GCSBucketName:    envStr("GCS_BUCKET_NAME", ""),
		StorageRoot:      envStr("STORAGE_ROOT", "./data/documents"),
		FileMaxSizeBytes: int64(envInt("MAX_FILE_SIZE", 50*1024*1024)),

		JWTSigningKey:   envStr("JWT_SIGNING_KEY", ""),
		JWTAccessTTLMin: envInt("JWT_ACCESS_TTL_MIN", 60),
		AEADKey:         envStr("AEAD_KEY", ""),

		DefaultChunkSize:    envInt("DEFAULT_CHUNK_SIZE", 500),
		DefaultChunkOverlap: envInt("DEFAULT_CHUNK_OVERLAP", 50),
		VectorDimensions:    envInt("VECTOR_DIMENSIONS", 768),
		EmbedBatchSize:      envInt("EMBED_BATCH_SIZE", 64),
		EmbedRatePerSec:     envFloat("EMBED_RATE_PER_SEC", 0),

		PromptsPath: envStr("PROMPTS_PATH", ""),

		ContextTTLSeconds: envInt("CONTEXT_TTL", 7200),
		ActiveTTLSeconds:  envInt("ACTIVE_TTL", 86400),
		ArchiveDays:       envInt("SESSION_ARCHIVE_DAYS", 7),
		MaxContextTurns:   envInt("MAX_CONTEXT_TURNS", 10),
		MaxContextTokens:  envInt("MAX_CONTEXT_TOKENS", 4000),

		RetrievalTestRateLimitPerMin: envInt("RETRIEVAL_TEST_RATE_LIMIT", 30),

		CORSOrigins: envStr("CORS_ORIGINS", "*"),

		VertexAIProject:  envStr("GOOGLE_CLOUD_PROJECT", ""),
		VertexAILocation: envStr("VERTEX_AI_LOCATION", "us-central1"),
		DocAIProcessor:   envStr("DOCAI_PROCESSOR", ""),
	}

	if cfg.Environment != "development" {
		if cfg.JWTSigningKey == "" || len(cfg.JWTSigningKey) < 32 {
			return nil, fmt.Errorf("config.Load: JWT_SIGNING_KEY must be set and at least 32 bytes in %s", cfg.Environment)
		}
		if len(cfg.AEADKey) != 32 {
			return nil, fmt.Errorf("config.Load: AEAD_KEY must be exactly 32 bytes in %s", cfg.Environment)
		}
	}

	return cfg, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
