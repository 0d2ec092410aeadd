package storage

import (
	"context"

	"feynman-go/backend/internal/schema"
)

// Backend is the pluggable graph storage contract. Both implementations
// (embedded memory graph, Neo4j) expose identical semantics:
//
//   - AddTriple is idempotent on triple identity: inserting an already-present
//     triple returns false and performs no mutation.
//   - AddTriples applies AddTriple per member with skip-and-continue; a failing
//     member never aborts the rest, and the count reflects only successes.
//   - GetSubgraph/GetNeighbors on an unknown node return empty results,
//     never an error.
//   - Clear is the only path that removes nodes or edges.
type Backend interface {
	AddTriple(ctx context.Context, t schema.Triple) (bool, error)
	AddTriples(ctx context.Context, triples []schema.Triple) (int, error)
	GetGraph(ctx context.Context, topicFilter string, limit int) (schema.GraphSnapshot, error)
	GetSubgraph(ctx context.Context, centerNode string, radius int) (schema.GraphSnapshot, error)
	GetNeighbors(ctx context.Context, nodeID string) ([]string, error)
	GetStats(ctx context.Context) (schema.Stats, error)
	Clear(ctx context.Context) error
	Close(ctx context.Context) error
}

// ComponentAnalyzer is implemented by backends that can traverse the whole
// graph cheaply enough to report weakly-connected components. The Neo4j
// backend does not implement it.
type ComponentAnalyzer interface {
	ConnectedComponents(ctx context.Context) (count int, largest int, err error)
}
