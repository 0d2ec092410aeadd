package builder

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/storage"
)

func newTestBuilder(t *testing.T) (*Builder, *storage.MemoryBackend) {
	t.Helper()
	backend, err := storage.NewMemoryBackend(filepath.Join(t.TempDir(), "graph.json"))
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	return New(backend, DefaultSimilarityThreshold), backend
}

func TestSimilarity(t *testing.T) {
	cases := []struct {
		a, b string
		want float64
	}{
		{"python", "python", 1.0},
		{"Python", "python", 1.0},
		{"", "", 1.0},
		{"abcdefghij", "abcdefghix", 0.9},
		{"abcd", "wxyz", 0.0},
	}
	for _, tc := range cases {
		if got := similarity(tc.a, tc.b); got != tc.want {
			t.Errorf("similarity(%q, %q) = %f, want %f", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestBuildEntityMapping_Transitive(t *testing.T) {
	b, _ := newTestBuilder(t)

	// a~b and b~c reach the threshold, a~c alone does not. All three must
	// still land in one merge class.
	a := "aaaaaaaaaa"
	bb := "aaaaaaaabb"
	c := "aaaaaabbbb"
	if similarity(a, c) >= b.threshold {
		t.Fatal("Test fixture broken: a and c should not be directly similar")
	}

	mapping := b.buildEntityMapping([]string{a, bb, c})
	if mapping[a] != mapping[bb] || mapping[bb] != mapping[c] {
		t.Errorf("Expected one merge class, got %q / %q / %q",
			mapping[a], mapping[bb], mapping[c])
	}
}

func TestBuildEntityMapping_CanonicalChoice(t *testing.T) {
	b, _ := newTestBuilder(t)

	// Shorter label wins; ties break lexicographically
	mapping := b.buildEntityMapping([]string{"machine learning", "machine learnin"})
	if mapping["machine learning"] != "machine learnin" {
		t.Errorf("Expected the shorter label as canonical, got %q",
			mapping["machine learning"])
	}

	mapping = b.buildEntityMapping([]string{"python", "Python"})
	if mapping["python"] != "Python" {
		t.Errorf("Expected lexicographically first label on ties, got %q",
			mapping["python"])
	}
}

func TestMergeDuplicateRelations(t *testing.T) {
	early := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	late := early.Add(24 * time.Hour)

	merged := mergeDuplicateRelations([]schema.Triple{
		{Subject: "Go", Predicate: "is", Object: "language", Confidence: 0.6, Source: "doc1", Timestamp: late},
		{Subject: "Go", Predicate: "is", Object: "language", Confidence: 0.9, Source: "doc2", Timestamp: early},
		{Subject: "Go", Predicate: "made by", Object: "Google", Confidence: 0.7, Source: "doc1", Timestamp: early},
	})

	if len(merged) != 2 {
		t.Fatalf("Expected 2 merged triples, got %d", len(merged))
	}

	first := merged[0]
	if first.Confidence != 0.9 {
		t.Errorf("Expected max confidence 0.9, got %f", first.Confidence)
	}
	if first.Source != "doc1; doc2" {
		t.Errorf("Expected both sources joined, got %q", first.Source)
	}
	if !first.Timestamp.Equal(early) {
		t.Errorf("Expected earliest timestamp, got %v", first.Timestamp)
	}
}

func TestNormalizeAndMergeEntities_DropsSelfLoops(t *testing.T) {
	b, _ := newTestBuilder(t)

	normalized := b.normalizeAndMergeEntities([]schema.Triple{
		{Subject: "Python", Predicate: "也叫", Object: "python", Confidence: 0.8},
		{Subject: "Python", Predicate: "是", Object: "编程语言", Confidence: 0.8},
	})

	if len(normalized) != 1 {
		t.Fatalf("Expected 1 triple after self-loop elimination, got %d", len(normalized))
	}
	if normalized[0].Object != "编程语言" {
		t.Errorf("Wrong surviving triple: %+v", normalized[0])
	}
}

func TestBuildFromTriples_EndToEnd(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuilder(t)

	now := time.Now()
	triples := []schema.Triple{
		{Subject: "Python", Predicate: "是", Object: "编程语言", Confidence: 0.9, Source: "讲解", Timestamp: now},
		{Subject: "Python", Predicate: "用于", Object: "数据分析", Confidence: 0.8, Source: "讲解", Timestamp: now},
		{Subject: "机器学习", Predicate: "使用", Object: "数据分析", Confidence: 0.8, Source: "讲解", Timestamp: now},
		{Subject: "机器学习", Predicate: "属于", Object: "人工智能", Confidence: 0.9, Source: "讲解", Timestamp: now},
	}

	report, err := b.BuildFromTriples(ctx, triples)
	if err != nil {
		t.Fatalf("BuildFromTriples failed: %v", err)
	}
	if report.AddedCount != 4 {
		t.Errorf("Expected 4 added, got %d", report.AddedCount)
	}
	if report.GraphStats.NumNodes != 5 {
		t.Errorf("Expected 5 nodes, got %d", report.GraphStats.NumNodes)
	}
	if report.GraphStats.NumEdges != 4 {
		t.Errorf("Expected 4 edges, got %d", report.GraphStats.NumEdges)
	}

	ranking, err := b.ImportanceRanking(ctx, 3)
	if err != nil {
		t.Fatalf("ImportanceRanking failed: %v", err)
	}
	if len(ranking) != 3 {
		t.Fatalf("Expected 3 ranked entities, got %d", len(ranking))
	}
	if ranking[0].Entity != "Python" || ranking[0].Degree != 2 {
		t.Errorf("Expected Python with degree 2 on top, got %+v", ranking[0])
	}

	// Rebuilding the same input adds nothing
	report, err = b.BuildFromTriples(ctx, triples)
	if err != nil {
		t.Fatalf("Second build failed: %v", err)
	}
	if report.AddedCount != 0 {
		t.Errorf("Rebuild should add 0 triples, got %d", report.AddedCount)
	}
}

func TestBuildFromTriples_LibraryEntityMerge(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuilder(t)

	// "Python" and "Python库" sit above the similarity threshold
	// (distance 1 over 7 runes, ratio 0.857) and merge into one node,
	// so Python picks up the NumPy edge as well.
	now := time.Now()
	triples := []schema.Triple{
		{Subject: "Python", Predicate: "是", Object: "编程语言", Confidence: 0.9, Source: "讲解", Timestamp: now},
		{Subject: "Python", Predicate: "支持", Object: "面向对象编程", Confidence: 0.8, Source: "讲解", Timestamp: now},
		{Subject: "NumPy", Predicate: "是", Object: "Python库", Confidence: 0.9, Source: "讲解", Timestamp: now},
		{Subject: "Pandas", Predicate: "基于", Object: "NumPy", Confidence: 0.8, Source: "讲解", Timestamp: now},
	}

	report, err := b.BuildFromTriples(ctx, triples)
	if err != nil {
		t.Fatalf("BuildFromTriples failed: %v", err)
	}
	if report.AddedCount != 4 {
		t.Errorf("Expected 4 added, got %d", report.AddedCount)
	}
	if report.GraphStats.NumNodes != 5 {
		t.Errorf("Expected 5 nodes after the merge, got %d", report.GraphStats.NumNodes)
	}
	if report.GraphStats.NumEdges != 4 {
		t.Errorf("Expected 4 edges, got %d", report.GraphStats.NumEdges)
	}

	ranking, err := b.ImportanceRanking(ctx, 1)
	if err != nil {
		t.Fatalf("ImportanceRanking failed: %v", err)
	}
	if len(ranking) != 1 || ranking[0].Entity != "Python" {
		t.Fatalf("Expected Python on top, got %+v", ranking)
	}
	if ranking[0].Degree != 3 {
		t.Errorf("Expected merged Python with degree 3, got %d", ranking[0].Degree)
	}
}

func TestAnalyzeStructure(t *testing.T) {
	ctx := context.Background()
	b, _ := newTestBuilder(t)

	_, err := b.BuildFromTriples(ctx, []schema.Triple{
		{Subject: "a", Predicate: "r1", Object: "b", Confidence: 0.8},
		{Subject: "b", Predicate: "r1", Object: "c", Confidence: 0.8},
		{Subject: "x", Predicate: "r2", Object: "y", Confidence: 0.8},
	})
	if err != nil {
		t.Fatalf("BuildFromTriples failed: %v", err)
	}

	analysis, err := b.AnalyzeStructure(ctx)
	if err != nil {
		t.Fatalf("AnalyzeStructure failed: %v", err)
	}
	if analysis.Nodes.TotalNodes != 5 {
		t.Errorf("Expected 5 nodes, got %d", analysis.Nodes.TotalNodes)
	}
	if analysis.Edges.MostCommonRelation != "r1" {
		t.Errorf("Expected r1 as most common relation, got %q", analysis.Edges.MostCommonRelation)
	}
	if analysis.Connectivity == nil {
		t.Fatal("Memory backend should report connectivity")
	}
	if analysis.Connectivity.NumComponents != 2 {
		t.Errorf("Expected 2 components, got %d", analysis.Connectivity.NumComponents)
	}
}

func TestMergeFrom(t *testing.T) {
	ctx := context.Background()

	source, err := storage.NewMemoryBackend(filepath.Join(t.TempDir(), "src.json"))
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	if _, err := source.AddTriples(ctx, []schema.Triple{
		{Subject: "Go", Predicate: "is", Object: "language", Confidence: 0.9},
		{Subject: "Go", Predicate: "compiles to", Object: "machine code", Confidence: 0.8},
	}); err != nil {
		t.Fatalf("AddTriples failed: %v", err)
	}

	b, _ := newTestBuilder(t)
	report, err := b.MergeFrom(ctx, source)
	if err != nil {
		t.Fatalf("MergeFrom failed: %v", err)
	}
	if report.AddedCount != 2 {
		t.Errorf("Expected 2 triples merged, got %d", report.AddedCount)
	}
}

func TestDisjointSet(t *testing.T) {
	dsu := newDisjointSet(5)
	dsu.union(0, 1)
	dsu.union(1, 2)
	dsu.union(3, 4)

	if dsu.find(0) != dsu.find(2) {
		t.Error("0 and 2 should share a root via 1")
	}
	if dsu.find(0) == dsu.find(3) {
		t.Error("0 and 3 should be in different sets")
	}
}
