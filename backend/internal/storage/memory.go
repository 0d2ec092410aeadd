package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"feynman-go/backend/internal/schema"
	"feynman-go/backend/pkg/logger"
	"go.uber.org/zap"
)

// ============================================================================
// Embedded Memory Backend
// ============================================================================

type nodeRecord struct {
	Label      string
	Type       string
	Properties map[string]interface{}
}

type edgeRecord struct {
	Source       string
	Target       string
	Relationship string
	Weight       float64
	Provenance   string
	Timestamp    time.Time
}

// MemoryBackend holds the graph in memory with adjacency indices for O(1)
// neighbor lookup, and persists the full snapshot to a JSON document after
// every successful batch commit. The document is fully reloaded on startup
// before any call is served.
//
// Durability is at-least-once only: a crash mid-write can leave a partially
// updated document. Queries may run concurrently; the design assumes at most
// one commit in flight at a time per instance.
type MemoryBackend struct {
	mu          sync.RWMutex
	storagePath string
	logger      *zap.Logger

	nodes    map[string]*nodeRecord
	edges    map[string]*edgeRecord
	adjacent map[string]map[string]struct{} // undirected neighbor index
	incident map[string]map[string]struct{} // node id -> incident edge ids
	triples  map[string]schema.Triple       // triple id -> original triple, for audit/export
}

// NewMemoryBackend creates the embedded backend and loads any persisted
// snapshot from storagePath.
func NewMemoryBackend(storagePath string) (*MemoryBackend, error) {
	b := &MemoryBackend{
		storagePath: storagePath,
		logger:      logger.Named("storage.memory"),
		nodes:       make(map[string]*nodeRecord),
		edges:       make(map[string]*edgeRecord),
		adjacent:    make(map[string]map[string]struct{}),
		incident:    make(map[string]map[string]struct{}),
		triples:     make(map[string]schema.Triple),
	}

	if dir := filepath.Dir(storagePath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create storage dir: %w", err)
		}
	}

	if err := b.load(); err != nil {
		// A corrupt snapshot must not brick the backend; start empty.
		b.logger.Error("Failed to load persisted graph, starting empty",
			zap.String("path", storagePath),
			zap.Error(err),
		)
	}

	return b, nil
}

// AddTriple inserts the triple if its id is new. It returns false and performs
// no mutation when the triple is already present or would form a self-loop.
func (b *MemoryBackend) AddTriple(ctx context.Context, t schema.Triple) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addTripleLocked(t)
}

func (b *MemoryBackend) addTripleLocked(t schema.Triple) (bool, error) {
	tripleID := t.ID()
	if _, exists := b.triples[tripleID]; exists {
		return false, nil
	}

	subjectID := schema.NodeID(t.Subject)
	objectID := schema.NodeID(t.Object)
	if subjectID == objectID {
		// Self-loops never exist in the graph
		b.logger.Debug("Dropping self-loop triple",
			zap.String("subject", t.Subject),
			zap.String("object", t.Object),
		)
		return false, nil
	}

	b.ensureNodeLocked(subjectID, t.Subject)
	b.ensureNodeLocked(objectID, t.Object)

	b.edges[tripleID] = &edgeRecord{
		Source:       subjectID,
		Target:       objectID,
		Relationship: t.Predicate,
		Weight:       t.Confidence,
		Provenance:   t.Source,
		Timestamp:    t.Timestamp,
	}
	b.linkLocked(subjectID, objectID, tripleID)
	b.triples[tripleID] = t

	return true, nil
}

func (b *MemoryBackend) ensureNodeLocked(id, label string) {
	if _, ok := b.nodes[id]; ok {
		return
	}
	b.nodes[id] = &nodeRecord{
		Label:      label,
		Type:       "entity",
		Properties: map[string]interface{}{},
	}
	b.adjacent[id] = make(map[string]struct{})
	b.incident[id] = make(map[string]struct{})
}

func (b *MemoryBackend) linkLocked(source, target, edgeID string) {
	b.adjacent[source][target] = struct{}{}
	b.adjacent[target][source] = struct{}{}
	b.incident[source][edgeID] = struct{}{}
	b.incident[target][edgeID] = struct{}{}
}

// AddTriples applies AddTriple to each member of the batch. A single failing
// member is skipped, never aborting the rest; the returned count reflects only
// successful insertions. The snapshot is persisted once after the batch.
func (b *MemoryBackend) AddTriples(ctx context.Context, triples []schema.Triple) (int, error) {
	b.mu.Lock()
	added := 0
	for _, t := range triples {
		if err := t.Validate(); err != nil {
			b.logger.Warn("Skipping invalid triple", zap.Error(err))
			continue
		}
		ok, err := b.addTripleLocked(t)
		if err != nil {
			b.logger.Warn("Skipping failed triple",
				zap.String("triple_id", t.ID()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			added++
		}
	}
	b.mu.Unlock()

	if err := b.save(); err != nil {
		b.logger.Error("Failed to persist graph snapshot", zap.Error(err))
	}

	return added, nil
}

// GetGraph returns the full graph. topicFilter retains nodes whose label, id,
// or any property value contains the filter (case-insensitive) and edges whose
// both endpoints survive. A limit is applied to nodes first; edges are then
// re-filtered to those fully inside the retained node set.
func (b *MemoryBackend) GetGraph(ctx context.Context, topicFilter string, limit int) (schema.GraphSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	nodes := b.snapshotNodesLocked()
	edges := b.snapshotEdgesLocked()

	if topicFilter != "" {
		nodes, edges = filterByTopic(nodes, edges, topicFilter)
	}

	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
		edges = inducedEdges(nodes, edges)
	}

	return schema.GraphSnapshot{
		Nodes: nodes,
		Edges: edges,
		Metadata: map[string]interface{}{
			"total_nodes": len(b.nodes),
			"total_edges": len(b.edges),
			"filtered":    topicFilter != "" || limit > 0,
		},
	}, nil
}

// GetSubgraph performs a breadth-first traversal over the undirected view out
// to radius hops from the center, inclusive, and returns the induced subgraph.
// An unknown center yields an empty snapshot, never an error.
func (b *MemoryBackend) GetSubgraph(ctx context.Context, centerNode string, radius int) (schema.GraphSnapshot, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	centerID := schema.NodeID(centerNode)
	if _, ok := b.nodes[centerID]; !ok {
		b.logger.Debug("Subgraph center not found", zap.String("center", centerNode))
		return schema.EmptySnapshot(), nil
	}

	visited := map[string]struct{}{centerID: {}}
	frontier := []string{centerID}
	for hop := 0; hop < radius && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			for neighbor := range b.adjacent[id] {
				if _, seen := visited[neighbor]; !seen {
					visited[neighbor] = struct{}{}
					next = append(next, neighbor)
				}
			}
		}
		frontier = next
	}

	edges := []schema.Edge{}
	for id, e := range b.edges {
		if _, ok := visited[e.Source]; !ok {
			continue
		}
		if _, ok := visited[e.Target]; !ok {
			continue
		}
		edges = append(edges, b.edgeSnapshotLocked(id, e))
	}
	sort.Slice(edges, func(i, j int) bool { return edges[i].ID < edges[j].ID })

	// Node degrees are induced: only edges inside the subgraph count
	degrees := make(map[string]int, len(visited))
	for _, e := range edges {
		degrees[e.Source]++
		degrees[e.Target]++
	}

	nodes := make([]schema.Node, 0, len(visited))
	for id := range visited {
		node := b.nodeSnapshotLocked(id)
		node.Degree = degrees[id]
		nodes = append(nodes, node)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })

	return schema.GraphSnapshot{
		Nodes: nodes,
		Edges: edges,
		Metadata: map[string]interface{}{
			"center_node":   centerNode,
			"radius":        radius,
			"subgraph_size": len(nodes),
		},
	}, nil
}

// GetNeighbors returns the direct neighbors of a node in either direction.
// Unknown or isolated nodes yield an empty list.
func (b *MemoryBackend) GetNeighbors(ctx context.Context, nodeID string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	id := schema.NodeID(nodeID)
	neighbors := b.adjacent[id]
	result := make([]string, 0, len(neighbors))
	for neighbor := range neighbors {
		result = append(result, neighbor)
	}
	sort.Strings(result)
	return result, nil
}

// GetStats returns node/edge counts, degree aggregates and the relationship
// type histogram.
func (b *MemoryBackend) GetStats(ctx context.Context) (schema.Stats, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := schema.Stats{
		NumNodes:      len(b.nodes),
		NumEdges:      len(b.edges),
		Relationships: make(map[string]int),
		LastUpdated:   time.Now().UTC(),
	}

	degreeSum := 0
	for id := range b.nodes {
		degree := len(b.incident[id])
		degreeSum += degree
		if degree > stats.MaxDegree {
			stats.MaxDegree = degree
		}
	}
	if stats.NumNodes > 0 {
		stats.AvgDegree = float64(degreeSum) / float64(stats.NumNodes)
	}

	for _, e := range b.edges {
		stats.Relationships[e.Relationship]++
	}

	return stats, nil
}

// Clear removes all nodes and edges. It is the only removal path.
func (b *MemoryBackend) Clear(ctx context.Context) error {
	b.mu.Lock()
	b.nodes = make(map[string]*nodeRecord)
	b.edges = make(map[string]*edgeRecord)
	b.adjacent = make(map[string]map[string]struct{})
	b.incident = make(map[string]map[string]struct{})
	b.triples = make(map[string]schema.Triple)
	b.mu.Unlock()

	return b.save()
}

// Close persists the current snapshot and releases nothing else; the memory
// backend holds no external connections.
func (b *MemoryBackend) Close(ctx context.Context) error {
	return b.save()
}

// ConnectedComponents reports the number of weakly connected components and
// the size of the largest one.
func (b *MemoryBackend) ConnectedComponents(ctx context.Context) (int, int, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	visited := make(map[string]struct{}, len(b.nodes))
	count, largest := 0, 0

	for id := range b.nodes {
		if _, seen := visited[id]; seen {
			continue
		}
		count++
		size := 0
		queue := []string{id}
		visited[id] = struct{}{}
		for len(queue) > 0 {
			current := queue[0]
			queue = queue[1:]
			size++
			for neighbor := range b.adjacent[current] {
				if _, seen := visited[neighbor]; !seen {
					visited[neighbor] = struct{}{}
					queue = append(queue, neighbor)
				}
			}
		}
		if size > largest {
			largest = size
		}
	}

	return count, largest, nil
}

// Triples returns the stored triple map keyed by triple id (audit/export).
func (b *MemoryBackend) Triples(ctx context.Context) (map[string]schema.Triple, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make(map[string]schema.Triple, len(b.triples))
	for id, t := range b.triples {
		out[id] = t
	}
	return out, nil
}

// ============================================================================
// Snapshot helpers
// ============================================================================

func (b *MemoryBackend) nodeSnapshotLocked(id string) schema.Node {
	record := b.nodes[id]
	return schema.Node{
		ID:         id,
		Label:      record.Label,
		Type:       record.Type,
		Properties: record.Properties,
		Degree:     len(b.incident[id]),
	}
}

func (b *MemoryBackend) edgeSnapshotLocked(id string, record *edgeRecord) schema.Edge {
	props := map[string]interface{}{
		"timestamp": record.Timestamp.UTC().Format(time.RFC3339),
	}
	if record.Provenance != "" {
		props["source"] = record.Provenance
	}
	return schema.Edge{
		ID:           id,
		Source:       record.Source,
		Target:       record.Target,
		Relationship: record.Relationship,
		Weight:       record.Weight,
		Properties:   props,
	}
}

func (b *MemoryBackend) snapshotNodesLocked() []schema.Node {
	ids := make([]string, 0, len(b.nodes))
	for id := range b.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]schema.Node, 0, len(ids))
	for _, id := range ids {
		nodes = append(nodes, b.nodeSnapshotLocked(id))
	}
	return nodes
}

func (b *MemoryBackend) snapshotEdgesLocked() []schema.Edge {
	ids := make([]string, 0, len(b.edges))
	for id := range b.edges {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	edges := make([]schema.Edge, 0, len(ids))
	for _, id := range ids {
		edges = append(edges, b.edgeSnapshotLocked(id, b.edges[id]))
	}
	return edges
}

func filterByTopic(nodes []schema.Node, edges []schema.Edge, topic string) ([]schema.Node, []schema.Edge) {
	topicLower := strings.ToLower(topic)

	filtered := make([]schema.Node, 0, len(nodes))
	for _, node := range nodes {
		if strings.Contains(strings.ToLower(node.Label), topicLower) ||
			strings.Contains(strings.ToLower(node.ID), topicLower) ||
			propertiesContain(node.Properties, topicLower) {
			filtered = append(filtered, node)
		}
	}

	return filtered, inducedEdges(filtered, edges)
}

func propertiesContain(props map[string]interface{}, topicLower string) bool {
	for _, v := range props {
		if strings.Contains(strings.ToLower(fmt.Sprintf("%v", v)), topicLower) {
			return true
		}
	}
	return false
}

func inducedEdges(nodes []schema.Node, edges []schema.Edge) []schema.Edge {
	retained := make(map[string]struct{}, len(nodes))
	for _, node := range nodes {
		retained[node.ID] = struct{}{}
	}

	result := make([]schema.Edge, 0, len(edges))
	for _, edge := range edges {
		if _, ok := retained[edge.Source]; !ok {
			continue
		}
		if _, ok := retained[edge.Target]; !ok {
			continue
		}
		result = append(result, edge)
	}
	return result
}

// ============================================================================
// Persistence
// ============================================================================

type persistedNode struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
}

type persistedEdge struct {
	Source       string  `json:"source"`
	Target       string  `json:"target"`
	Key          string  `json:"key"`
	Relationship string  `json:"relationship"`
	Weight       float64 `json:"weight"`
	Provenance   string  `json:"provenance,omitempty"`
	Timestamp    string  `json:"timestamp"`
}

type persistedDocument struct {
	Nodes    []persistedNode          `json:"nodes"`
	Edges    []persistedEdge          `json:"edges"`
	Triples  map[string]schema.Triple `json:"triples"`
	Metadata map[string]interface{}   `json:"metadata"`
}

func (b *MemoryBackend) save() error {
	b.mu.RLock()

	doc := persistedDocument{
		Nodes:   make([]persistedNode, 0, len(b.nodes)),
		Edges:   make([]persistedEdge, 0, len(b.edges)),
		Triples: make(map[string]schema.Triple, len(b.triples)),
		Metadata: map[string]interface{}{
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"num_nodes":  len(b.nodes),
			"num_edges":  len(b.edges),
		},
	}

	for id, record := range b.nodes {
		doc.Nodes = append(doc.Nodes, persistedNode{
			ID:         id,
			Label:      record.Label,
			Type:       record.Type,
			Properties: record.Properties,
		})
	}
	for id, record := range b.edges {
		doc.Edges = append(doc.Edges, persistedEdge{
			Source:       record.Source,
			Target:       record.Target,
			Key:          id,
			Relationship: record.Relationship,
			Weight:       record.Weight,
			Provenance:   record.Provenance,
			Timestamp:    record.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	for id, t := range b.triples {
		doc.Triples[id] = t
	}

	b.mu.RUnlock()

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal graph snapshot: %w", err)
	}

	if err := os.WriteFile(b.storagePath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write graph snapshot: %w", err)
	}

	b.logger.Debug("Graph snapshot persisted",
		zap.String("path", b.storagePath),
		zap.Int("nodes", len(doc.Nodes)),
		zap.Int("edges", len(doc.Edges)),
	)
	return nil
}

func (b *MemoryBackend) load() error {
	data, err := os.ReadFile(b.storagePath)
	if err != nil {
		if os.IsNotExist(err) {
			b.logger.Info("No persisted graph found, starting empty",
				zap.String("path", b.storagePath))
			return nil
		}
		return fmt.Errorf("failed to read graph snapshot: %w", err)
	}

	var doc persistedDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse graph snapshot: %w", err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, n := range doc.Nodes {
		props := n.Properties
		if props == nil {
			props = map[string]interface{}{}
		}
		b.nodes[n.ID] = &nodeRecord{Label: n.Label, Type: n.Type, Properties: props}
		b.adjacent[n.ID] = make(map[string]struct{})
		b.incident[n.ID] = make(map[string]struct{})
	}
	for _, e := range doc.Edges {
		timestamp, _ := time.Parse(time.RFC3339, e.Timestamp)
		b.edges[e.Key] = &edgeRecord{
			Source:       e.Source,
			Target:       e.Target,
			Relationship: e.Relationship,
			Weight:       e.Weight,
			Provenance:   e.Provenance,
			Timestamp:    timestamp,
		}
		// Endpoints must exist as nodes; tolerate documents missing them
		b.ensureNodeLocked(e.Source, e.Source)
		b.ensureNodeLocked(e.Target, e.Target)
		b.linkLocked(e.Source, e.Target, e.Key)
	}
	if doc.Triples != nil {
		b.triples = doc.Triples
	}

	b.logger.Info("Graph snapshot loaded",
		zap.String("path", b.storagePath),
		zap.Int("nodes", len(b.nodes)),
		zap.Int("edges", len(b.edges)),
	)
	return nil
}
