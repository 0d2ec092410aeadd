package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"

	pkgerrors "feynman-go/backend/pkg/errors"
)

// BackendKind selects the graph storage implementation. The set of backends
// is closed: new kinds require a new constant and construction wiring.
type BackendKind string

const (
	// BackendMemory is the embedded in-process graph with JSON snapshot persistence
	BackendMemory BackendKind = "memory"
	// BackendNeo4j delegates graph operations to a Neo4j server
	BackendNeo4j BackendKind = "neo4j"
)

// Config holds all application configuration
type Config struct {
	// App
	Port string
	Env  string

	// Graph storage
	Backend     BackendKind
	StoragePath string // snapshot file for the memory backend

	// Neo4j
	Neo4jURI      string
	Neo4jUser     string
	Neo4jPassword string
	Neo4jDatabase string

	// Extraction LLM (OpenAI-compatible endpoint)
	OpenAIAPIKey  string
	OpenAIBaseURL string
	OpenAIModel   string
	LLMTimeout    int // seconds

	// Builder
	SimilarityThreshold float64
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file, but don't fail if it doesn't exist
	_ = godotenv.Load()

	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		Env:                 getEnv("ENV", "development"),
		Backend:             BackendKind(getEnv("KG_BACKEND", string(BackendMemory))),
		StoragePath:         getEnv("KG_STORAGE_PATH", "data/knowledge_graph.json"),
		Neo4jURI:            getEnv("NEO4J_URI", "bolt://localhost:7687"),
		Neo4jUser:           getEnv("NEO4J_USER", "neo4j"),
		Neo4jPassword:       getEnv("NEO4J_PASSWORD", "password"),
		Neo4jDatabase:       getEnv("NEO4J_DATABASE", "neo4j"),
		OpenAIAPIKey:        getEnv("OPENAI_API_KEY", ""),
		OpenAIBaseURL:       getEnv("OPENAI_BASE_URL", ""),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		LLMTimeout:          getEnvInt("LLM_TIMEOUT", 120),
		SimilarityThreshold: getEnvFloat("KG_SIMILARITY_THRESHOLD", 0.8),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that required configuration values are set
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
		if c.StoragePath == "" {
			return pkgerrors.NewConfigMissingRequired("KG_STORAGE_PATH")
		}
	case BackendNeo4j:
		if c.Neo4jURI == "" {
			return pkgerrors.NewConfigMissingRequired("NEO4J_URI")
		}
		if c.Neo4jUser == "" {
			return pkgerrors.NewConfigMissingRequired("NEO4J_USER")
		}
		if c.Neo4jPassword == "" {
			return pkgerrors.NewConfigMissingRequired("NEO4J_PASSWORD")
		}
	default:
		return fmt.Errorf("unsupported KG_BACKEND: %s", c.Backend)
	}

	if c.SimilarityThreshold <= 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("KG_SIMILARITY_THRESHOLD must be in (0, 1], got %f", c.SimilarityThreshold)
	}

	// The OpenAI key is optional: without it the extractor falls back to
	// rule-based extraction.
	return nil
}

// IsDevelopment returns true if running in development mode
func (c *Config) IsDevelopment() bool {
	return c.Env == "development"
}

// IsProduction returns true if running in production mode
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		var result float64
		if _, err := fmt.Sscanf(value, "%f", &result); err == nil {
			return result
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
