package service

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"

	"feynman-go/backend/internal/builder"
	"feynman-go/backend/internal/schema"
	pkgerrors "feynman-go/backend/pkg/errors"
)

const (
	defaultSearchLimit = 10

	// minMatchScore drops edit-distance noise; exact and substring
	// matches always clear it.
	minMatchScore = 0.5
)

// SearchEntities finds nodes whose label or id matches the query string.
// Exact matches score 1.0, substring matches 0.8, anything else falls back
// to edit-distance similarity. Results are sorted by score descending.
func (s *Service) SearchEntities(ctx context.Context, query string, limit int) Result {
	query = strings.TrimSpace(query)
	if query == "" {
		return failure("search query is empty", nil)
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	snapshot, err := s.storage.GetGraph(ctx, "", 0)
	if err != nil {
		return failure("entity search failed", err)
	}

	needle := strings.ToLower(query)
	var matches []schema.EntityMatch
	for _, node := range snapshot.Nodes {
		score := matchScore(needle, strings.ToLower(node.Label))
		if idScore := matchScore(needle, node.ID); idScore > score {
			score = idScore
		}
		if score < minMatchScore {
			continue
		}
		matches = append(matches, schema.EntityMatch{
			ID:     node.ID,
			Label:  node.Label,
			Type:   node.Type,
			Degree: node.Degree,
			Score:  score,
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("%d entities matched", len(matches)),
		Data:    matches,
	}
}

func matchScore(needle, candidate string) float64 {
	if candidate == needle {
		return 1.0
	}
	if strings.Contains(candidate, needle) || strings.Contains(needle, candidate) {
		return 0.8
	}
	maxLen := len([]rune(needle))
	if l := len([]rune(candidate)); l > maxLen {
		maxLen = l
	}
	if maxLen == 0 {
		return 0
	}
	dist := levenshtein.ComputeDistance(needle, candidate)
	return 1.0 - float64(dist)/float64(maxLen)
}

// EntityContext returns an entity's neighborhood subgraph together with the
// relationships it participates in, for explain-style lookups.
func (s *Service) EntityContext(ctx context.Context, id string, radius int) Result {
	if strings.TrimSpace(id) == "" {
		return failure("entity id is empty", nil)
	}
	if radius < 0 {
		radius = 1
	}

	nodeID := schema.NodeID(id)
	snapshot, err := s.storage.GetSubgraph(ctx, nodeID, radius)
	if err != nil {
		return failure("entity context lookup failed", err)
	}
	if len(snapshot.Nodes) == 0 {
		return failure(fmt.Sprintf("entity not found: %s", id),
			pkgerrors.NewNodeNotFound(nodeID))
	}

	neighbors, err := s.storage.GetNeighbors(ctx, nodeID)
	if err != nil {
		return failure("entity context lookup failed", err)
	}

	return Result{
		Success: true,
		Message: fmt.Sprintf("context for %s retrieved", id),
		Data: map[string]interface{}{
			"subgraph":       snapshot,
			"triples":        builder.SnapshotToTriples(snapshot),
			"neighbor_count": len(neighbors),
		},
	}
}

// Export serializes the full graph. Only the json format is supported.
func (s *Service) Export(ctx context.Context, format string) Result {
	if format != "" && !strings.EqualFold(format, "json") {
		return failure("export failed", pkgerrors.NewUnsupportedQuery("export:"+format))
	}

	snapshot, err := s.storage.GetGraph(ctx, "", 0)
	if err != nil {
		return failure("graph export failed", err)
	}

	payload, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return failure("graph serialization failed", err)
	}

	return Result{
		Success: true,
		Message: "graph exported",
		Data:    string(payload),
	}
}
