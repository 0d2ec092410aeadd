package builder

import (
	"context"
	"sort"

	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/storage"
)

// ============================================================================
// Structural Analysis
// ============================================================================

// NodeAnalysis summarizes the degree distribution
type NodeAnalysis struct {
	TotalNodes int     `json:"total_nodes"`
	AvgDegree  float64 `json:"avg_degree"`
	MaxDegree  int     `json:"max_degree"`
	MinDegree  int     `json:"min_degree"`
}

// EdgeAnalysis summarizes the relationship types
type EdgeAnalysis struct {
	TotalEdges         int            `json:"total_edges"`
	RelationshipTypes  map[string]int `json:"relationship_types"`
	MostCommonRelation string         `json:"most_common_relation,omitempty"`
}

// Connectivity is only populated when the backend can traverse the full graph
type Connectivity struct {
	NumComponents        int `json:"num_components"`
	LargestComponentSize int `json:"largest_component_size"`
}

// StructureAnalysis is the full structural report
type StructureAnalysis struct {
	Nodes        NodeAnalysis           `json:"node_analysis"`
	Edges        EdgeAnalysis           `json:"edge_analysis"`
	Connectivity *Connectivity          `json:"connectivity,omitempty"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
}

// AnalyzeStructure reports the degree distribution and the relationship-type
// histogram with its most common relation. When the backend exposes full
// traversal it also reports weakly-connected-component counts.
func (b *Builder) AnalyzeStructure(ctx context.Context) (StructureAnalysis, error) {
	snapshot, err := b.storage.GetGraph(ctx, "", 0)
	if err != nil {
		return StructureAnalysis{}, err
	}

	analysis := StructureAnalysis{
		Nodes: NodeAnalysis{TotalNodes: len(snapshot.Nodes)},
		Edges: EdgeAnalysis{
			TotalEdges:        len(snapshot.Edges),
			RelationshipTypes: make(map[string]int),
		},
		Metadata: snapshot.Metadata,
	}

	degreeSum := 0
	for i, node := range snapshot.Nodes {
		degreeSum += node.Degree
		if node.Degree > analysis.Nodes.MaxDegree {
			analysis.Nodes.MaxDegree = node.Degree
		}
		if i == 0 || node.Degree < analysis.Nodes.MinDegree {
			analysis.Nodes.MinDegree = node.Degree
		}
	}
	if len(snapshot.Nodes) > 0 {
		analysis.Nodes.AvgDegree = float64(degreeSum) / float64(len(snapshot.Nodes))
	}

	mostCommonCount := 0
	for _, edge := range snapshot.Edges {
		analysis.Edges.RelationshipTypes[edge.Relationship]++
		if count := analysis.Edges.RelationshipTypes[edge.Relationship]; count > mostCommonCount {
			mostCommonCount = count
			analysis.Edges.MostCommonRelation = edge.Relationship
		}
	}

	if analyzer, ok := b.storage.(storage.ComponentAnalyzer); ok {
		count, largest, err := analyzer.ConnectedComponents(ctx)
		if err == nil {
			analysis.Connectivity = &Connectivity{
				NumComponents:        count,
				LargestComponentSize: largest,
			}
		}
	}

	return analysis, nil
}

// ImportanceRanking returns the topK nodes sorted by degree descending
func (b *Builder) ImportanceRanking(ctx context.Context, topK int) ([]schema.RankedEntity, error) {
	if topK < 1 {
		topK = 10
	}

	snapshot, err := b.storage.GetGraph(ctx, "", 0)
	if err != nil {
		return nil, err
	}

	nodes := snapshot.Nodes
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Degree > nodes[j].Degree
	})
	if len(nodes) > topK {
		nodes = nodes[:topK]
	}

	ranked := make([]schema.RankedEntity, 0, len(nodes))
	for _, node := range nodes {
		ranked = append(ranked, schema.RankedEntity{
			Entity: node.Label,
			ID:     node.ID,
			Degree: node.Degree,
			Type:   node.Type,
		})
	}
	return ranked, nil
}

// MergeFrom rebuilds the other backend's snapshot as triples and runs them
// through the full build pipeline into this builder's backend.
func (b *Builder) MergeFrom(ctx context.Context, other storage.Backend) (schema.BuildReport, error) {
	snapshot, err := other.GetGraph(ctx, "", 0)
	if err != nil {
		return schema.BuildReport{}, err
	}
	return b.BuildFromTriples(ctx, SnapshotToTriples(snapshot))
}

// SnapshotToTriples reconstructs triples from a snapshot's edges, resolving
// endpoint labels through its nodes.
func SnapshotToTriples(snapshot schema.GraphSnapshot) []schema.Triple {
	labels := make(map[string]string, len(snapshot.Nodes))
	for _, node := range snapshot.Nodes {
		labels[node.ID] = node.Label
	}

	triples := make([]schema.Triple, 0, len(snapshot.Edges))
	for _, edge := range snapshot.Edges {
		subject, okS := labels[edge.Source]
		object, okT := labels[edge.Target]
		if !okS || !okT {
			continue
		}
		triple := schema.Triple{
			Subject:    subject,
			Predicate:  edge.Relationship,
			Object:     object,
			Confidence: edge.Weight,
		}
		if source, ok := edge.Properties["source"].(string); ok {
			triple.Source = source
		}
		triples = append(triples, triple)
	}
	return triples
}
