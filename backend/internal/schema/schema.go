package schema

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// ============================================================================
// Knowledge Graph Data Model
// ============================================================================

// Triple is a (subject, predicate, object) fact annotated with a confidence
// score and provenance. Identity is a pure function of subject/predicate/object;
// confidence, source and timestamp never affect it, so re-ingesting the same
// fact with different metadata is recognized as the same triple.
type Triple struct {
	Subject    string    `json:"subject"`
	Predicate  string    `json:"predicate"`
	Object     string    `json:"object"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source,omitempty"`
	Timestamp  time.Time `json:"timestamp"`
}

// ID returns the stable identifier for the triple: the first 12 hex characters
// of md5("subject|predicate|object").
func (t Triple) ID() string {
	sum := md5.Sum([]byte(t.Subject + "|" + t.Predicate + "|" + t.Object))
	return hex.EncodeToString(sum[:])[:12]
}

// Validate checks structural constraints on a triple
func (t Triple) Validate() error {
	if strings.TrimSpace(t.Subject) == "" {
		return fmt.Errorf("triple subject is empty")
	}
	if strings.TrimSpace(t.Predicate) == "" {
		return fmt.Errorf("triple predicate is empty")
	}
	if strings.TrimSpace(t.Object) == "" {
		return fmt.Errorf("triple object is empty")
	}
	if t.Confidence < 0 || t.Confidence > 1 {
		return fmt.Errorf("triple confidence %f out of [0,1]", t.Confidence)
	}
	return nil
}

// NodeID derives a node identifier from an entity label: trimmed, case-folded,
// with internal whitespace runs collapsed to a single underscore. Two mentions
// that normalize identically always resolve to the same node.
func NodeID(label string) string {
	fields := strings.Fields(strings.ToLower(label))
	return strings.Join(fields, "_")
}

// Node is a graph node. Degree is derived from incident edges and is never
// independently settable.
type Node struct {
	ID         string                 `json:"id"`
	Label      string                 `json:"label"`
	Type       string                 `json:"type"`
	Properties map[string]interface{} `json:"properties,omitempty"`
	Degree     int                    `json:"degree"`
}

// Edge is a graph edge. Its ID is the originating triple's ID, its weight the
// triple's confidence. Multiple edges may exist between the same node pair.
type Edge struct {
	ID           string                 `json:"id"`
	Source       string                 `json:"source"`
	Target       string                 `json:"target"`
	Relationship string                 `json:"relationship"`
	Weight       float64                `json:"weight"`
	Properties   map[string]interface{} `json:"properties,omitempty"`
}

// GraphSnapshot is the unit returned by every query and used for export/import
type GraphSnapshot struct {
	Nodes    []Node                 `json:"nodes"`
	Edges    []Edge                 `json:"edges"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// EmptySnapshot returns a snapshot with allocated (not nil) slices
func EmptySnapshot() GraphSnapshot {
	return GraphSnapshot{
		Nodes:    []Node{},
		Edges:    []Edge{},
		Metadata: map[string]interface{}{},
	}
}

// Stats summarizes the structural shape of the graph
type Stats struct {
	NumNodes      int            `json:"num_nodes"`
	NumEdges      int            `json:"num_edges"`
	AvgDegree     float64        `json:"avg_degree"`
	MaxDegree     int            `json:"max_degree"`
	Relationships map[string]int `json:"relationships"`
	LastUpdated   time.Time      `json:"last_updated"`
}

// ============================================================================
// Request / Response Shapes
// ============================================================================

// Query types form a closed set
const (
	QueryFull      = "full"
	QuerySubgraph  = "subgraph"
	QueryNeighbors = "neighbors"
	QueryStats     = "stats"
)

// Query is a knowledge graph query request
type Query struct {
	QueryType   string `json:"query_type"`
	CenterNode  string `json:"center_node,omitempty"`
	Radius      int    `json:"radius,omitempty"`
	TopicFilter string `json:"topic_filter,omitempty"`
	Limit       int    `json:"limit,omitempty"`
}

// Normalize applies the documented defaults. Radius 0 is a meaningful value
// for subgraph queries (center only), so only negative radii are reset.
func (q *Query) Normalize() {
	if q.Radius < 0 {
		q.Radius = 1
	}
	if q.Limit <= 0 {
		q.Limit = 100
	}
}

// BuildRequest asks for a graph build from text or a file. Exactly one of
// Text/FilePath is expected.
type BuildRequest struct {
	Text         string                 `json:"text,omitempty"`
	FilePath     string                 `json:"file_path,omitempty"`
	BuildOptions map[string]interface{} `json:"build_options,omitempty"`
}

// BuildReport describes the outcome of a single builder commit
type BuildReport struct {
	BuildID                string `json:"build_id"`
	InputCount             int    `json:"input_count"`
	PostNormalizationCount int    `json:"post_normalization_count"`
	PostMergeCount         int    `json:"post_merge_count"`
	AddedCount             int    `json:"added_count"`
	GraphStats             Stats  `json:"graph_stats"`
}

// EntityMatch is one fuzzy entity search hit
type EntityMatch struct {
	ID     string  `json:"id"`
	Label  string  `json:"label"`
	Type   string  `json:"type"`
	Degree int     `json:"degree"`
	Score  float64 `json:"score"`
}

// RankedEntity is one row of the importance ranking
type RankedEntity struct {
	Entity string `json:"entity"`
	ID     string `json:"id"`
	Degree int    `json:"degree"`
	Type   string `json:"type"`
}
