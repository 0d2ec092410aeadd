package config

import "testing"

func TestValidate_BackendKinds(t *testing.T) {
	cfg := &Config{Backend: BackendMemory, StoragePath: "data/graph.json", SimilarityThreshold: 0.8}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Memory backend config should validate: %v", err)
	}

	cfg = &Config{Backend: BackendMemory, SimilarityThreshold: 0.8}
	if err := cfg.Validate(); err == nil {
		t.Error("Memory backend without a storage path should fail")
	}

	cfg = &Config{
		Backend:             BackendNeo4j,
		Neo4jURI:            "bolt://localhost:7687",
		Neo4jUser:           "neo4j",
		Neo4jPassword:       "secret",
		SimilarityThreshold: 0.8,
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Neo4j backend config should validate: %v", err)
	}

	cfg = &Config{Backend: "cassandra", SimilarityThreshold: 0.8}
	if err := cfg.Validate(); err == nil {
		t.Error("Unknown backend kind should fail")
	}
}

func TestValidate_SimilarityThreshold(t *testing.T) {
	cfg := &Config{Backend: BackendMemory, StoragePath: "p", SimilarityThreshold: 1.5}
	if err := cfg.Validate(); err == nil {
		t.Error("Out-of-range threshold should fail")
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Backend != BackendMemory && cfg.Backend != BackendNeo4j {
		t.Errorf("Unexpected default backend: %s", cfg.Backend)
	}
	if cfg.Port == "" {
		t.Error("Port should have a default")
	}
}
