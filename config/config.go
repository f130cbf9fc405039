package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full process configuration.
type Config struct {
	Model     ModelConfig     `yaml:"model"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Summary   SummaryConfig   `yaml:"summary"`
	Cache     CacheConfig     `yaml:"cache"`
	Audit     AuditConfig     `yaml:"audit"`
	Vector    VectorConfig    `yaml:"vector"`
	Redis     RedisConfig     `yaml:"redis"`
	Limits    LimitsConfig    `yaml:"limits"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// ModelConfig selects the answer-generation model.
type ModelConfig struct {
	Provider    string  `yaml:"provider"`
	Name        string  `yaml:"name"`
	Version     string  `yaml:"version"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// EmbeddingConfig selects the embedding model.
type EmbeddingConfig struct {
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url"`
	BatchSize int    `yaml:"batch_size"`
}

// CollectionConfig describes one regulatory collection.
type CollectionConfig struct {
	Key          string `yaml:"key"`
	Regulator    string `yaml:"regulator"`
	Authority    string `yaml:"authority"`
	Jurisdiction string `yaml:"jurisdiction"`
	ChunkFile    string `yaml:"chunk_file"`
}

// RetrievalConfig controls search and answer generation.
type RetrievalConfig struct {
	TopK                int                `yaml:"top_k"`
	AnswerTopK          int                `yaml:"answer_top_k"`
	SimilarityThreshold float64            `yaml:"similarity_threshold"`
	TokenBudget         int                `yaml:"token_budget"`
	Tokenizer           string             `yaml:"tokenizer"`
	ChunkDir            string             `yaml:"chunk_dir"`
	Collections         []CollectionConfig `yaml:"collections"`
}

// SummaryConfig selects the summarization mode.
type SummaryConfig struct {
	Mode string `yaml:"mode"`
}

// CacheConfig selects the response cache backend.
type CacheConfig struct {
	Backend string        `yaml:"backend"`
	Dir     string        `yaml:"dir"`
	TTL     time.Duration `yaml:"ttl"`
}

// AuditConfig selects the audit recorder backend.
type AuditConfig struct {
	Backend       string `yaml:"backend"`
	PostgresDSN   string `yaml:"postgres_dsn"`
	MongoURI      string `yaml:"mongo_uri"`
	MongoDatabase string `yaml:"mongo_database"`
}

// VectorConfig selects the vector store backend.
type VectorConfig struct {
	Backend     string `yaml:"backend"`
	PostgresDSN string `yaml:"postgres_dsn"`
	TablePrefix string `yaml:"table_prefix"`
}

// RedisConfig is shared by the redis cache and audit backends.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// LimitsConfig bounds external calls and runs.
type LimitsConfig struct {
	LLMRequestsPerMinute   int           `yaml:"llm_requests_per_minute"`
	StageRequestsPerSecond float64       `yaml:"stage_requests_per_second"`
	RunTimeout             time.Duration `yaml:"run_timeout"`
	MaxQueryRunes          int           `yaml:"max_query_runes"`
}

// TelemetryConfig controls tracing.
type TelemetryConfig struct {
	Disable     bool    `yaml:"disable"`
	ServiceName string  `yaml:"service_name"`
	Endpoint    string  `yaml:"endpoint"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// DefaultCollections returns the cssf, dora and eba collections in their
// fixed query order.
func DefaultCollections() []CollectionConfig {
	return []CollectionConfig{
		{Key: "cssf", Regulator: "CSSF", Authority: "CSSF", Jurisdiction: "LU", ChunkFile: "cssf_sections.json"},
		{Key: "dora", Regulator: "DORA", Authority: "European Union", Jurisdiction: "EU", ChunkFile: "dora_articles.json"},
		{Key: "eba", Regulator: "EBA", Authority: "European Banking Authority", Jurisdiction: "EU", ChunkFile: "eba_paragraphs.json"},
	}
}

// Default returns a configuration usable with only an OpenAI key.
func Default() *Config {
	return &Config{
		Model: ModelConfig{
			Provider:  "openai",
			Name:      "gpt-5-mini",
			Version:   "gpt-4.1",
			MaxTokens: 2000,
		},
		Embedding: EmbeddingConfig{
			Model:     "text-embedding-3-small",
			Dimension: 1536,
			BatchSize: 50,
		},
		Retrieval: RetrievalConfig{
			TopK:                5,
			AnswerTopK:          5,
			SimilarityThreshold: 0.55,
			TokenBudget:         6000,
			Tokenizer:           "word",
			ChunkDir:            "data/processed/chunks",
			Collections:         DefaultCollections(),
		},
		Summary:   SummaryConfig{Mode: "executive"},
		Cache:     CacheConfig{Backend: "file", Dir: "data/cache"},
		Audit:     AuditConfig{Backend: "memory", MongoDatabase: "regulatory_rag"},
		Vector:    VectorConfig{Backend: "memory", TablePrefix: "regrag_"},
		Redis:     RedisConfig{Addr: "localhost:6379"},
		Limits:    LimitsConfig{MaxQueryRunes: 4000},
		Telemetry: TelemetryConfig{ServiceName: "regulatory-rag"},
	}
}

// Load reads path (when non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	cfg.ApplyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from environment variables. Provider API keys
// only fill empty fields.
func (c *Config) ApplyEnv() {
	if c.Model.APIKey == "" {
		switch c.Model.Provider {
		case "claude":
			c.Model.APIKey = os.Getenv("ANTHROPIC_API_KEY")
		case "gemini":
			c.Model.APIKey = os.Getenv("GEMINI_API_KEY")
		default:
			c.Model.APIKey = os.Getenv("OPENAI_API_KEY")
		}
	}
	if c.Embedding.APIKey == "" {
		c.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	c.Model.Version = getEnv("REGRAG_MODEL_VERSION", c.Model.Version)
	c.Redis.Addr = getEnv("REGRAG_REDIS_ADDR", c.Redis.Addr)
	c.Redis.DB = getEnvInt("REGRAG_REDIS_DB", c.Redis.DB)
	if dsn := os.Getenv("REGRAG_POSTGRES_DSN"); dsn != "" {
		c.Audit.PostgresDSN = dsn
		c.Vector.PostgresDSN = dsn
	}
	c.Audit.MongoURI = getEnv("REGRAG_MONGO_URI", c.Audit.MongoURI)
	c.Retrieval.ChunkDir = getEnv("REGRAG_CHUNK_DIR", c.Retrieval.ChunkDir)
	c.Cache.Dir = getEnv("REGRAG_CACHE_DIR", c.Cache.Dir)
	c.Limits.RunTimeout = getEnvDuration("REGRAG_RUN_TIMEOUT", c.Limits.RunTimeout)
}

// Validate checks every section and returns all problems at once.
func (c *Config) Validate() error {
	v := NewValidator()

	v.ValidateOneOf("model.provider", c.Model.Provider, "openai", "claude", "gemini")
	v.RequireNonEmpty("model.name", c.Model.Name)
	v.RequireNonEmpty("model.api_key", c.Model.APIKey)
	v.RequirePositive("model.max_tokens", c.Model.MaxTokens)
	v.ValidateFloatRange("model.temperature", c.Model.Temperature, 0, 2)

	v.RequireNonEmpty("embedding.model", c.Embedding.Model)
	v.RequireNonEmpty("embedding.api_key", c.Embedding.APIKey)
	v.RequirePositive("embedding.dimension", c.Embedding.Dimension)
	v.RequirePositive("embedding.batch_size", c.Embedding.BatchSize)

	v.RequirePositive("retrieval.top_k", c.Retrieval.TopK)
	v.RequirePositive("retrieval.answer_top_k", c.Retrieval.AnswerTopK)
	v.ValidateFloatRange("retrieval.similarity_threshold", c.Retrieval.SimilarityThreshold, 0, 1)
	v.ValidateRange("retrieval.token_budget", c.Retrieval.TokenBudget, 0, 1_000_000)
	v.ValidateOneOf("retrieval.tokenizer", c.Retrieval.Tokenizer, "word", "tiktoken")
	if len(c.Retrieval.Collections) == 0 {
		v.add("retrieval.collections", "at least one collection is required")
	}
	keys := make([]string, 0, len(c.Retrieval.Collections))
	for i, col := range c.Retrieval.Collections {
		prefix := fmt.Sprintf("retrieval.collections[%d]", i)
		v.RequireNonEmpty(prefix+".key", col.Key)
		v.RequireNonEmpty(prefix+".regulator", col.Regulator)
		v.RequireNonEmpty(prefix+".chunk_file", col.ChunkFile)
		keys = append(keys, col.Key)
	}
	v.ValidateUnique("retrieval.collections.key", keys)

	v.ValidateOneOf("summary.mode", c.Summary.Mode, "executive", "audit")

	v.ValidateOneOf("cache.backend", c.Cache.Backend, "none", "memory", "file", "redis")
	if c.Cache.Backend == "file" {
		v.RequireNonEmpty("cache.dir", c.Cache.Dir)
	}

	v.ValidateOneOf("audit.backend", c.Audit.Backend, "none", "memory", "postgres", "mongo", "redis")
	switch c.Audit.Backend {
	case "postgres":
		v.RequireNonEmpty("audit.postgres_dsn", c.Audit.PostgresDSN)
	case "mongo":
		v.RequireNonEmpty("audit.mongo_uri", c.Audit.MongoURI)
		v.RequireNonEmpty("audit.mongo_database", c.Audit.MongoDatabase)
	}

	v.ValidateOneOf("vector.backend", c.Vector.Backend, "memory", "postgres")
	if c.Vector.Backend == "postgres" {
		v.RequireNonEmpty("vector.postgres_dsn", c.Vector.PostgresDSN)
	}

	if c.Cache.Backend == "redis" || c.Audit.Backend == "redis" {
		v.RequireNonEmpty("redis.addr", c.Redis.Addr)
		v.ValidateDBNumber("redis.db", c.Redis.DB)
	}

	v.RequireNonNegative("limits.stage_requests_per_second", c.Limits.StageRequestsPerSecond)
	v.ValidateRange("limits.llm_requests_per_minute", c.Limits.LLMRequestsPerMinute, 0, 1_000_000)
	v.ValidateFloatRange("telemetry.sample_ratio", c.Telemetry.SampleRatio, 0, 1)
	if c.Limits.RunTimeout < 0 {
		v.add("limits.run_timeout", "value must not be negative, got %s", c.Limits.RunTimeout)
	}

	return v.Error()
}

// ChunkPath resolves a collection's chunk file against the chunk directory.
func (c *Config) ChunkPath(col CollectionConfig) string {
	if filepath.IsAbs(col.ChunkFile) || c.Retrieval.ChunkDir == "" {
		return col.ChunkFile
	}
	return filepath.Join(c.Retrieval.ChunkDir, col.ChunkFile)
}

// CollectionKeys returns the configured collection keys in order.
func (c *Config) CollectionKeys() []string {
	keys := make([]string, len(c.Retrieval.Collections))
	for i, col := range c.Retrieval.Collections {
		keys[i] = col.Key
	}
	return keys
}

func getEnv(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
