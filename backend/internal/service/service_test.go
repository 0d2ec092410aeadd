package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"feynman-go/backend/internal/builder"
	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/storage"
)

// fakeExtractor returns canned triples, or an error
type fakeExtractor struct {
	triples []schema.Triple
	err     error
}

func (f *fakeExtractor) ExtractTriples(ctx context.Context, text, source string) ([]schema.Triple, error) {
	return f.triples, f.err
}

func (f *fakeExtractor) ExtractFromFile(ctx context.Context, path string) ([]schema.Triple, error) {
	return f.triples, f.err
}

func newTestService(t *testing.T, extractor TripleExtractor) (*Service, storage.Backend) {
	t.Helper()
	backend, err := storage.NewMemoryBackend(filepath.Join(t.TempDir(), "graph.json"))
	if err != nil {
		t.Fatalf("NewMemoryBackend failed: %v", err)
	}
	b := builder.New(backend, builder.DefaultSimilarityThreshold)
	return New(extractor, b, backend), backend
}

func sampleTriples() []schema.Triple {
	now := time.Now()
	return []schema.Triple{
		{Subject: "Python", Predicate: "是", Object: "编程语言", Confidence: 0.9, Source: "讲解", Timestamp: now},
		{Subject: "Python", Predicate: "用于", Object: "数据分析", Confidence: 0.8, Source: "讲解", Timestamp: now},
	}
}

func TestBuildFromText(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{triples: sampleTriples()})

	result := svc.BuildFromText(context.Background(), "Python是一种编程语言", "lesson")
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}
	report, ok := result.Data.(schema.BuildReport)
	if !ok {
		t.Fatalf("Expected a BuildReport, got %T", result.Data)
	}
	if report.AddedCount != 2 {
		t.Errorf("Expected 2 added, got %d", report.AddedCount)
	}
}

func TestBuildFromText_EmptyInput(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})

	result := svc.BuildFromText(context.Background(), "   ", "lesson")
	if result.Success {
		t.Error("Blank text should fail validation")
	}
}

func TestBuildFromText_EmptyExtraction(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{triples: nil})

	// Nothing extracted is a valid outcome, not an error
	result := svc.BuildFromText(context.Background(), "一段没有结构的闲聊", "chat")
	if !result.Success {
		t.Errorf("Empty extraction should succeed, got %+v", result)
	}
	if result.Message == "" {
		t.Error("Expected an explanatory message")
	}
}

func TestBuildFromText_ExtractorError(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{err: errors.New("llm unreachable")})

	result := svc.BuildFromText(context.Background(), "some text", "lesson")
	if result.Success {
		t.Error("Extractor failure should surface as an unsuccessful result")
	}
	if result.Error == "" {
		t.Error("Expected the error message in the result")
	}
}

func TestBuild_Dispatch(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{triples: sampleTriples()})
	ctx := context.Background()

	if result := svc.Build(ctx, schema.BuildRequest{}); result.Success {
		t.Error("Empty request should fail")
	}
	if result := svc.Build(ctx, schema.BuildRequest{Text: "t", FilePath: "p"}); result.Success {
		t.Error("Both text and file_path should fail")
	}
	if result := svc.Build(ctx, schema.BuildRequest{Text: "Python是编程语言"}); !result.Success {
		t.Errorf("Text build should succeed, got %+v", result)
	}
}

func TestBuildFromConversation(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{triples: sampleTriples()})

	result := svc.BuildFromConversation(context.Background(), []ConversationMessage{
		{Role: "system", Content: "you are a tutor"},
		{Role: "user", Content: "什么是Python？"},
		{Role: "assistant", Content: "Python是一种编程语言。"},
	})
	if !result.Success {
		t.Fatalf("Expected success, got %+v", result)
	}

	if result := svc.BuildFromConversation(context.Background(), nil); result.Success {
		t.Error("Empty conversation should fail")
	}
}

func TestQuery_Dispatch(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()

	if result := svc.BuildFromTriples(ctx, sampleTriples()); !result.Success {
		t.Fatalf("Setup build failed: %+v", result)
	}

	result := svc.Query(ctx, schema.Query{QueryType: schema.QueryFull})
	if !result.Success {
		t.Fatalf("Full query failed: %+v", result)
	}
	snapshot := result.Data.(schema.GraphSnapshot)
	if len(snapshot.Nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(snapshot.Nodes))
	}

	result = svc.Query(ctx, schema.Query{QueryType: schema.QuerySubgraph, CenterNode: "Python", Radius: 1})
	if !result.Success {
		t.Fatalf("Subgraph query failed: %+v", result)
	}
	snapshot = result.Data.(schema.GraphSnapshot)
	if len(snapshot.Nodes) != 3 {
		t.Errorf("Expected 3 nodes around Python, got %d", len(snapshot.Nodes))
	}

	result = svc.Query(ctx, schema.Query{QueryType: schema.QueryNeighbors, CenterNode: "Python"})
	if !result.Success {
		t.Fatalf("Neighbors query failed: %+v", result)
	}

	result = svc.Query(ctx, schema.Query{QueryType: schema.QueryStats})
	if !result.Success {
		t.Fatalf("Stats query failed: %+v", result)
	}

	if result := svc.Query(ctx, schema.Query{QueryType: schema.QuerySubgraph}); result.Success {
		t.Error("Subgraph query without a center should fail")
	}
	if result := svc.Query(ctx, schema.Query{QueryType: "unknown"}); result.Success {
		t.Error("Unknown query type should fail")
	}
}

func TestQuery_MissingCenterNode(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.Query(ctx, schema.Query{QueryType: schema.QueryNeighbors, CenterNode: "不存在的节点"})
	if !result.Success {
		t.Fatalf("Unknown center should yield an empty result, not an error: %+v", result)
	}
	snapshot := result.Data.(schema.GraphSnapshot)
	if len(snapshot.Nodes) != 0 {
		t.Errorf("Expected empty snapshot, got %d nodes", len(snapshot.Nodes))
	}
}

func TestGetStats(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.GetStats(ctx)
	if !result.Success {
		t.Fatalf("GetStats failed: %+v", result)
	}
	data := result.Data.(map[string]interface{})
	for _, key := range []string{"basic", "structure", "top_entities"} {
		if _, ok := data[key]; !ok {
			t.Errorf("Missing %q in stats payload", key)
		}
	}
}

func TestSearchEntities(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.SearchEntities(ctx, "Python", 10)
	if !result.Success {
		t.Fatalf("SearchEntities failed: %+v", result)
	}
	matches := result.Data.([]schema.EntityMatch)
	if len(matches) == 0 {
		t.Fatal("Expected at least one match")
	}
	if matches[0].ID != "python" || matches[0].Score != 1.0 {
		t.Errorf("Expected exact match for python, got %+v", matches[0])
	}

	// Substring match scores below exact
	result = svc.SearchEntities(ctx, "数据", 10)
	matches = result.Data.([]schema.EntityMatch)
	if len(matches) == 0 {
		t.Fatal("Expected a substring match")
	}
	if matches[0].Score != 0.8 {
		t.Errorf("Expected substring score 0.8, got %f", matches[0].Score)
	}

	if result := svc.SearchEntities(ctx, "  ", 10); result.Success {
		t.Error("Blank query should fail")
	}

	// Weak edit-distance matches stay below the score floor
	result = svc.SearchEntities(ctx, "zzzzzzzz", 10)
	if !result.Success {
		t.Fatalf("SearchEntities failed: %+v", result)
	}
	if matches := result.Data.([]schema.EntityMatch); len(matches) != 0 {
		t.Errorf("Expected no matches for an unrelated query, got %+v", matches)
	}

	// Limit truncates
	result = svc.SearchEntities(ctx, "Python", 1)
	matches = result.Data.([]schema.EntityMatch)
	if len(matches) > 1 {
		t.Errorf("Expected at most 1 match, got %d", len(matches))
	}
}

func TestEntityContext(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.EntityContext(ctx, "Python", 1)
	if !result.Success {
		t.Fatalf("EntityContext failed: %+v", result)
	}
	data := result.Data.(map[string]interface{})
	snapshot := data["subgraph"].(schema.GraphSnapshot)
	if len(snapshot.Nodes) != 3 {
		t.Errorf("Expected 3 nodes, got %d", len(snapshot.Nodes))
	}
	if data["neighbor_count"].(int) != 2 {
		t.Errorf("Expected 2 neighbors, got %v", data["neighbor_count"])
	}
	triples := data["triples"].([]schema.Triple)
	if len(triples) != 2 {
		t.Errorf("Expected 2 related triples, got %d", len(triples))
	}

	if result := svc.EntityContext(ctx, "不存在", 1); result.Success {
		t.Error("Unknown entity should fail")
	}
}

func TestExport(t *testing.T) {
	svc, _ := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.Export(ctx, "json")
	if !result.Success {
		t.Fatalf("Export failed: %+v", result)
	}
	payload, ok := result.Data.(string)
	if !ok || payload == "" {
		t.Fatal("Expected a JSON string payload")
	}

	if result := svc.Export(ctx, "xml"); result.Success {
		t.Error("Unsupported format should fail")
	}
}

func TestClear(t *testing.T) {
	svc, backend := newTestService(t, &fakeExtractor{})
	ctx := context.Background()
	_ = svc.BuildFromTriples(ctx, sampleTriples())

	result := svc.Clear(ctx)
	if !result.Success {
		t.Fatalf("Clear failed: %+v", result)
	}

	stats, _ := backend.GetStats(ctx)
	if stats.NumNodes != 0 {
		t.Errorf("Expected empty graph, got %d nodes", stats.NumNodes)
	}
}
