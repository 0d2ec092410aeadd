package storage

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"

	"feynman-go/backend/internal/schema"
	pkgerrors "feynman-go/backend/pkg/errors"
	"feynman-go/backend/pkg/logger"
)

// ============================================================================
// Neo4j Backend
// ============================================================================

// Neo4jBackend delegates graph operations to a Neo4j server, translating
// node/edge upserts into MERGE statements keyed by normalized entity id and
// relation type. Connection failure makes the backend fail closed for all
// operations until reconnected; there is no fallback to another backend.
type Neo4jBackend struct {
	driver   neo4j.DriverWithContext
	database string
	logger   *zap.Logger
}

// NewNeo4jBackend wraps an already-constructed driver. Connectivity is
// verified up front so a misconfigured backend fails at startup, not on the
// first query.
func NewNeo4jBackend(ctx context.Context, driver neo4j.DriverWithContext, database string) (*Neo4jBackend, error) {
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, pkgerrors.NewBackendUnavailable("neo4j", err)
	}
	return &Neo4jBackend{
		driver:   driver,
		database: database,
		logger:   logger.Named("storage.neo4j"),
	}, nil
}

// Close closes the underlying driver
func (b *Neo4jBackend) Close(ctx context.Context) error {
	return b.driver.Close(ctx)
}

func (b *Neo4jBackend) readSession(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: b.database,
	})
}

func (b *Neo4jBackend) writeSession(ctx context.Context) neo4j.SessionWithContext {
	return b.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: b.database,
	})
}

// AddTriple upserts both entity nodes and the relationship for the triple.
// Returns false without mutation when the triple id is already present or the
// endpoints normalize to the same node.
func (b *Neo4jBackend) AddTriple(ctx context.Context, t schema.Triple) (bool, error) {
	if err := t.Validate(); err != nil {
		return false, err
	}

	subjectID := schema.NodeID(t.Subject)
	objectID := schema.NodeID(t.Object)
	if subjectID == objectID {
		return false, nil
	}

	session := b.writeSession(ctx)
	defer session.Close(ctx)

	tripleID := t.ID()

	existsQuery := `
		MATCH ()-[r:RELATION {triple_id: $tripleID}]->()
		RETURN r.triple_id as id
		LIMIT 1
	`
	result, err := session.Run(ctx, existsQuery, map[string]interface{}{
		"tripleID": tripleID,
	})
	if err != nil {
		return false, pkgerrors.NewStorageQueryFailed("add_triple", err)
	}
	if result.Next(ctx) {
		return false, nil
	}
	if err := result.Err(); err != nil {
		return false, pkgerrors.NewStorageQueryFailed("add_triple", err)
	}

	query := `
		MERGE (s:Entity {id: $subjectID})
		ON CREATE SET s.label = $subject, s.type = 'entity'
		MERGE (o:Entity {id: $objectID})
		ON CREATE SET o.label = $object, o.type = 'entity'
		MERGE (s)-[r:RELATION {triple_id: $tripleID}]->(o)
		SET r.type = $predicate,
		    r.confidence = $confidence,
		    r.source = $source,
		    r.timestamp = $timestamp
		RETURN r.triple_id as id
	`
	_, err = session.Run(ctx, query, map[string]interface{}{
		"subjectID":  subjectID,
		"subject":    t.Subject,
		"objectID":   objectID,
		"object":     t.Object,
		"tripleID":   tripleID,
		"predicate":  t.Predicate,
		"confidence": t.Confidence,
		"source":     t.Source,
		"timestamp":  t.Timestamp.UTC().Format(time.RFC3339),
	})
	if err != nil {
		return false, pkgerrors.NewStorageQueryFailed("add_triple", err)
	}

	return true, nil
}

// AddTriples upserts a batch with skip-and-continue: a malformed or failing
// member is logged and skipped, never aborting the rest.
func (b *Neo4jBackend) AddTriples(ctx context.Context, triples []schema.Triple) (int, error) {
	added := 0
	for _, t := range triples {
		ok, err := b.AddTriple(ctx, t)
		if err != nil {
			b.logger.Warn("Skipping failed triple upsert",
				zap.String("triple_id", t.ID()),
				zap.Error(err),
			)
			continue
		}
		if ok {
			added++
		}
	}
	return added, nil
}

// GetGraph fetches all nodes and relationships, then applies the same topic
// filter and node-first limit semantics as the embedded backend.
func (b *Neo4jBackend) GetGraph(ctx context.Context, topicFilter string, limit int) (schema.GraphSnapshot, error) {
	session := b.readSession(ctx)
	defer session.Close(ctx)

	nodesResult, err := session.Run(ctx, `
		MATCH (n:Entity)
		RETURN n.id as id, n.label as label, n.type as type
	`, nil)
	if err != nil {
		return schema.GraphSnapshot{}, pkgerrors.NewStorageQueryFailed("get_graph", err)
	}

	nodesByID := make(map[string]schema.Node)
	for nodesResult.Next(ctx) {
		record := nodesResult.Record()
		id := getStringFromRecord(record, "id")
		nodesByID[id] = schema.Node{
			ID:         id,
			Label:      getStringFromRecord(record, "label"),
			Type:       getStringFromRecord(record, "type"),
			Properties: map[string]interface{}{},
		}
	}
	if err := nodesResult.Err(); err != nil {
		return schema.GraphSnapshot{}, pkgerrors.NewStorageQueryFailed("get_graph", err)
	}

	edges, err := b.fetchEdges(ctx, session, nil)
	if err != nil {
		return schema.GraphSnapshot{}, err
	}

	nodes := applyDegrees(nodesByID, edges)

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
			"backend":  "neo4j",
			"filtered": topicFilter != "" || limit > 0,
		},
	}, nil
}

// GetSubgraph traverses the undirected view out to radius hops and returns the
// induced subgraph. An unknown center yields an empty snapshot.
func (b *Neo4jBackend) GetSubgraph(ctx context.Context, centerNode string, radius int) (schema.GraphSnapshot, error) {
	session := b.readSession(ctx)
	defer session.Close(ctx)

	centerID := schema.NodeID(centerNode)
	if radius < 0 {
		radius = 0
	}

	// Variable-length patterns cannot be parameterized; radius is an int
	// formatted into the query, never user text.
	visitedQuery := fmt.Sprintf(`
		MATCH (center:Entity {id: $centerID})
		MATCH (center)-[*0..%d]-(n:Entity)
		RETURN DISTINCT n.id as id, n.label as label, n.type as type
	`, radius)

	result, err := session.Run(ctx, visitedQuery, map[string]interface{}{
		"centerID": centerID,
	})
	if err != nil {
		return schema.GraphSnapshot{}, pkgerrors.NewStorageQueryFailed("get_subgraph", err)
	}

	nodesByID := make(map[string]schema.Node)
	for result.Next(ctx) {
		record := result.Record()
		id := getStringFromRecord(record, "id")
		nodesByID[id] = schema.Node{
			ID:         id,
			Label:      getStringFromRecord(record, "label"),
			Type:       getStringFromRecord(record, "type"),
			Properties: map[string]interface{}{},
		}
	}
	if err := result.Err(); err != nil {
		return schema.GraphSnapshot{}, pkgerrors.NewStorageQueryFailed("get_subgraph", err)
	}

	if len(nodesByID) == 0 {
		b.logger.Debug("Subgraph center not found", zap.String("center", centerNode))
		return schema.EmptySnapshot(), nil
	}

	visitedIDs := make([]string, 0, len(nodesByID))
	for id := range nodesByID {
		visitedIDs = append(visitedIDs, id)
	}

	edges, err := b.fetchEdges(ctx, session, visitedIDs)
	if err != nil {
		return schema.GraphSnapshot{}, err
	}
	nodes := applyDegrees(nodesByID, edges)

	return schema.GraphSnapshot{
		Nodes: nodes,
		Edges: edges,
		Metadata: map[string]interface{}{
			"center_node": centerNode,
			"radius":      radius,
			"backend":     "neo4j",
		},
	}, nil
}

// GetNeighbors returns direct neighbors in either direction; empty for an
// unknown or isolated node.
func (b *Neo4jBackend) GetNeighbors(ctx context.Context, nodeID string) ([]string, error) {
	session := b.readSession(ctx)
	defer session.Close(ctx)

	result, err := session.Run(ctx, `
		MATCH (n:Entity {id: $nodeID})-[:RELATION]-(m:Entity)
		RETURN DISTINCT m.id as id
		ORDER BY id
	`, map[string]interface{}{
		"nodeID": schema.NodeID(nodeID),
	})
	if err != nil {
		return nil, pkgerrors.NewStorageQueryFailed("get_neighbors", err)
	}

	neighbors := []string{}
	for result.Next(ctx) {
		neighbors = append(neighbors, getStringFromRecord(result.Record(), "id"))
	}
	if err := result.Err(); err != nil {
		return nil, pkgerrors.NewStorageQueryFailed("get_neighbors", err)
	}
	return neighbors, nil
}

// GetStats aggregates counts, degrees and the relationship histogram
func (b *Neo4jBackend) GetStats(ctx context.Context) (schema.Stats, error) {
	session := b.readSession(ctx)
	defer session.Close(ctx)

	stats := schema.Stats{
		Relationships: make(map[string]int),
		LastUpdated:   time.Now().UTC(),
	}

	degreesResult, err := session.Run(ctx, `
		MATCH (n:Entity)
		OPTIONAL MATCH (n)-[r:RELATION]-()
		RETURN n.id as id, count(r) as degree
	`, nil)
	if err != nil {
		return schema.Stats{}, pkgerrors.NewStorageQueryFailed("get_stats", err)
	}

	degreeSum := 0
	for degreesResult.Next(ctx) {
		record := degreesResult.Record()
		degree := getIntFromRecord(record, "degree")
		stats.NumNodes++
		degreeSum += degree
		if degree > stats.MaxDegree {
			stats.MaxDegree = degree
		}
	}
	if err := degreesResult.Err(); err != nil {
		return schema.Stats{}, pkgerrors.NewStorageQueryFailed("get_stats", err)
	}
	if stats.NumNodes > 0 {
		stats.AvgDegree = float64(degreeSum) / float64(stats.NumNodes)
	}

	relResult, err := session.Run(ctx, `
		MATCH ()-[r:RELATION]->()
		RETURN r.type as type, count(r) as count
	`, nil)
	if err != nil {
		return schema.Stats{}, pkgerrors.NewStorageQueryFailed("get_stats", err)
	}
	for relResult.Next(ctx) {
		record := relResult.Record()
		relType := getStringFromRecord(record, "type")
		count := getIntFromRecord(record, "count")
		stats.Relationships[relType] = count
		stats.NumEdges += count
	}
	if err := relResult.Err(); err != nil {
		return schema.Stats{}, pkgerrors.NewStorageQueryFailed("get_stats", err)
	}

	return stats, nil
}

// Clear removes every entity node and its relationships
func (b *Neo4jBackend) Clear(ctx context.Context) error {
	session := b.writeSession(ctx)
	defer session.Close(ctx)

	_, err := session.Run(ctx, `MATCH (n:Entity) DETACH DELETE n`, nil)
	if err != nil {
		return pkgerrors.NewStorageQueryFailed("clear", err)
	}
	b.logger.Info("Graph cleared")
	return nil
}

// fetchEdges pulls relationships, optionally restricted to those whose both
// endpoints are in ids (the induced edge set).
func (b *Neo4jBackend) fetchEdges(ctx context.Context, session neo4j.SessionWithContext, ids []string) ([]schema.Edge, error) {
	query := `
		MATCH (s:Entity)-[r:RELATION]->(o:Entity)
		RETURN r.triple_id as id, s.id as source, o.id as target,
		       r.type as relationship, r.confidence as weight,
		       r.source as provenance, r.timestamp as timestamp
	`
	params := map[string]interface{}{}
	if ids != nil {
		query = `
			MATCH (s:Entity)-[r:RELATION]->(o:Entity)
			WHERE s.id IN $ids AND o.id IN $ids
			RETURN r.triple_id as id, s.id as source, o.id as target,
			       r.type as relationship, r.confidence as weight,
			       r.source as provenance, r.timestamp as timestamp
		`
		params["ids"] = ids
	}

	result, err := session.Run(ctx, query, params)
	if err != nil {
		return nil, pkgerrors.NewStorageQueryFailed("fetch_edges", err)
	}

	edges := []schema.Edge{}
	for result.Next(ctx) {
		record := result.Record()
		props := map[string]interface{}{
			"timestamp": getStringFromRecord(record, "timestamp"),
		}
		if provenance := getStringFromRecord(record, "provenance"); provenance != "" {
			props["source"] = provenance
		}
		edges = append(edges, schema.Edge{
			ID:           getStringFromRecord(record, "id"),
			Source:       getStringFromRecord(record, "source"),
			Target:       getStringFromRecord(record, "target"),
			Relationship: getStringFromRecord(record, "relationship"),
			Weight:       getFloat64FromRecord(record, "weight"),
			Properties:   props,
		})
	}
	if err := result.Err(); err != nil {
		return nil, pkgerrors.NewStorageQueryFailed("fetch_edges", err)
	}

	return edges, nil
}

// applyDegrees recomputes node degrees from the edge set and returns nodes
// sorted by id.
func applyDegrees(nodesByID map[string]schema.Node, edges []schema.Edge) []schema.Node {
	degrees := make(map[string]int, len(nodesByID))
	for _, edge := range edges {
		degrees[edge.Source]++
		degrees[edge.Target]++
	}

	ids := make([]string, 0, len(nodesByID))
	for id := range nodesByID {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	nodes := make([]schema.Node, 0, len(ids))
	for _, id := range ids {
		node := nodesByID[id]
		node.Degree = degrees[id]
		nodes = append(nodes, node)
	}
	return nodes
}
