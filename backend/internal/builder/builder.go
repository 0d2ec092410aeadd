package builder

import (
	"context"
	"sort"
	"strings"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/storage"
	"feynman-go/backend/pkg/logger"
)

// DefaultSimilarityThreshold is the minimum similarity ratio for two entity
// mentions to be merged into one node.
const DefaultSimilarityThreshold = 0.8

// Builder turns raw triples into a deduplicated, entity-resolved set and
// commits it to a storage backend.
type Builder struct {
	storage   storage.Backend
	threshold float64
	logger    *zap.Logger
}

// New creates a builder. A threshold outside (0, 1] falls back to the default.
func New(backend storage.Backend, threshold float64) *Builder {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultSimilarityThreshold
	}
	return &Builder{
		storage:   backend,
		threshold: threshold,
		logger:    logger.Named("builder"),
	}
}

// BuildFromTriples runs the full pipeline: entity normalization and fuzzy
// merge, self-loop elimination, relation merge, and commit.
func (b *Builder) BuildFromTriples(ctx context.Context, triples []schema.Triple) (schema.BuildReport, error) {
	report := schema.BuildReport{
		BuildID:    uuid.New().String(),
		InputCount: len(triples),
	}

	b.logger.Info("Building knowledge graph",
		zap.String("build_id", report.BuildID),
		zap.Int("input_triples", len(triples)),
	)

	normalized := b.normalizeAndMergeEntities(triples)
	report.PostNormalizationCount = len(normalized)

	merged := mergeDuplicateRelations(normalized)
	report.PostMergeCount = len(merged)

	added, err := b.storage.AddTriples(ctx, merged)
	if err != nil {
		return report, err
	}
	report.AddedCount = added

	stats, err := b.storage.GetStats(ctx)
	if err != nil {
		return report, err
	}
	report.GraphStats = stats

	b.logger.Info("Knowledge graph build finished",
		zap.String("build_id", report.BuildID),
		zap.Int("post_normalization", report.PostNormalizationCount),
		zap.Int("post_merge", report.PostMergeCount),
		zap.Int("added", report.AddedCount),
	)
	return report, nil
}

// normalizeAndMergeEntities rewrites every triple's subject/object through the
// fuzzy entity mapping, then drops triples that became self-loops.
func (b *Builder) normalizeAndMergeEntities(triples []schema.Triple) []schema.Triple {
	entitySet := make(map[string]struct{})
	for _, t := range triples {
		entitySet[t.Subject] = struct{}{}
		entitySet[t.Object] = struct{}{}
	}
	entities := make([]string, 0, len(entitySet))
	for entity := range entitySet {
		entities = append(entities, entity)
	}
	sort.Strings(entities)

	mapping := b.buildEntityMapping(entities)

	normalized := make([]schema.Triple, 0, len(triples))
	for _, t := range triples {
		subject := mapping[t.Subject]
		object := mapping[t.Object]

		// Self-loop elimination
		if subject == object {
			b.logger.Debug("Dropping self-loop after entity merge",
				zap.String("subject", t.Subject),
				zap.String("object", t.Object),
			)
			continue
		}

		normalized = append(normalized, schema.Triple{
			Subject:    subject,
			Predicate:  t.Predicate,
			Object:     object,
			Confidence: t.Confidence,
			Source:     t.Source,
			Timestamp:  t.Timestamp,
		})
	}
	return normalized
}

// buildEntityMapping groups entities whose pairwise similarity reaches the
// threshold. A disjoint-set over entities guarantees transitive merging (if
// A~B and B~C then A, B and C share one class) regardless of iteration order.
// The canonical representative is the shortest member, ties broken
// lexicographically.
//
// The pairwise comparison is O(n^2) in distinct entities per batch. That is
// fine for conversation- and document-scale ingestion, and a known limit for
// bulk corpora.
func (b *Builder) buildEntityMapping(entities []string) map[string]string {
	dsu := newDisjointSet(len(entities))
	for i := 0; i < len(entities); i++ {
		for j := i + 1; j < len(entities); j++ {
			if similarity(entities[i], entities[j]) >= b.threshold {
				dsu.union(i, j)
			}
		}
	}

	canonical := make(map[int]string)
	for i, entity := range entities {
		root := dsu.find(i)
		current, ok := canonical[root]
		if !ok || betterCanonical(entity, current) {
			canonical[root] = entity
		}
	}

	mapping := make(map[string]string, len(entities))
	for i, entity := range entities {
		mapping[entity] = canonical[dsu.find(i)]
	}
	return mapping
}

// betterCanonical prefers the shorter label, then the lexicographically first
func betterCanonical(candidate, current string) bool {
	if len(candidate) != len(current) {
		return len(candidate) < len(current)
	}
	return candidate < current
}

// similarity is an edit-distance ratio over case-folded strings: 1 minus the
// Levenshtein distance divided by the longer length.
func similarity(a, b string) float64 {
	a = strings.ToLower(a)
	b = strings.ToLower(b)
	if a == b {
		return 1.0
	}
	longest := len([]rune(a))
	if l := len([]rune(b)); l > longest {
		longest = l
	}
	if longest == 0 {
		return 1.0
	}
	distance := levenshtein.ComputeDistance(a, b)
	return 1.0 - float64(distance)/float64(longest)
}

// mergeDuplicateRelations groups triples by (subject, predicate, object) and
// merges each group into one triple keeping the maximum confidence, the union
// of distinct sources, and the earliest timestamp.
func mergeDuplicateRelations(triples []schema.Triple) []schema.Triple {
	type groupKey struct {
		subject, predicate, object string
	}

	groups := make(map[groupKey][]schema.Triple)
	order := []groupKey{}
	for _, t := range triples {
		key := groupKey{t.Subject, t.Predicate, t.Object}
		if _, seen := groups[key]; !seen {
			order = append(order, key)
		}
		groups[key] = append(groups[key], t)
	}

	merged := make([]schema.Triple, 0, len(groups))
	for _, key := range order {
		group := groups[key]
		if len(group) == 1 {
			merged = append(merged, group[0])
			continue
		}
		merged = append(merged, mergeTripleGroup(group))
	}
	return merged
}

func mergeTripleGroup(group []schema.Triple) schema.Triple {
	result := group[0]

	seenSources := make(map[string]struct{})
	sources := []string{}
	for _, t := range group {
		if t.Confidence > result.Confidence {
			result.Confidence = t.Confidence
		}
		if t.Timestamp.Before(result.Timestamp) {
			result.Timestamp = t.Timestamp
		}
		if t.Source == "" {
			continue
		}
		if _, seen := seenSources[t.Source]; !seen {
			seenSources[t.Source] = struct{}{}
			sources = append(sources, t.Source)
		}
	}
	result.Source = strings.Join(sources, "; ")

	return result
}

// ============================================================================
// Disjoint Set
// ============================================================================

type disjointSet struct {
	parent []int
	rank   []int
}

func newDisjointSet(n int) *disjointSet {
	dsu := &disjointSet{
		parent: make([]int, n),
		rank:   make([]int, n),
	}
	for i := range dsu.parent {
		dsu.parent[i] = i
	}
	return dsu
}

func (d *disjointSet) find(i int) int {
	for d.parent[i] != i {
		d.parent[i] = d.parent[d.parent[i]] // path halving
		i = d.parent[i]
	}
	return i
}

func (d *disjointSet) union(i, j int) {
	ri, rj := d.find(i), d.find(j)
	if ri == rj {
		return
	}
	if d.rank[ri] < d.rank[rj] {
		ri, rj = rj, ri
	}
	d.parent[rj] = ri
	if d.rank[ri] == d.rank[rj] {
		d.rank[ri]++
	}
}
