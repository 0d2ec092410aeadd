package schema

import (
	"testing"
	"time"
)

func TestTripleID_Deterministic(t *testing.T) {
	a := Triple{Subject: "Python", Predicate: "是", Object: "编程语言"}
	b := Triple{Subject: "Python", Predicate: "是", Object: "编程语言"}

	if a.ID() != b.ID() {
		t.Errorf("Expected identical IDs, got %s and %s", a.ID(), b.ID())
	}
	if len(a.ID()) != 12 {
		t.Errorf("Expected 12-character ID, got %d characters", len(a.ID()))
	}
}

func TestTripleID_IgnoresMetadata(t *testing.T) {
	a := Triple{Subject: "Go", Predicate: "is", Object: "language", Confidence: 0.6, Source: "doc1"}
	b := Triple{
		Subject:    "Go",
		Predicate:  "is",
		Object:     "language",
		Confidence: 0.9,
		Source:     "doc2",
		Timestamp:  time.Now(),
	}

	if a.ID() != b.ID() {
		t.Errorf("Metadata must not affect the ID: %s vs %s", a.ID(), b.ID())
	}
}

func TestTripleID_DistinctContent(t *testing.T) {
	a := Triple{Subject: "Go", Predicate: "is", Object: "language"}
	b := Triple{Subject: "Go", Predicate: "is", Object: "tool"}

	if a.ID() == b.ID() {
		t.Error("Different triples must have different IDs")
	}
}

func TestNodeID_Normalization(t *testing.T) {
	cases := []struct {
		label string
		want  string
	}{
		{"Python", "python"},
		{" python ", "python"},
		{"PYTHON", "python"},
		{"machine learning", "machine_learning"},
		{"  machine   learning  ", "machine_learning"},
		{"编程语言", "编程语言"},
	}

	for _, tc := range cases {
		if got := NodeID(tc.label); got != tc.want {
			t.Errorf("NodeID(%q) = %q, want %q", tc.label, got, tc.want)
		}
	}
}

func TestTripleValidate(t *testing.T) {
	valid := Triple{Subject: "a", Predicate: "b", Object: "c"}
	if err := valid.Validate(); err != nil {
		t.Errorf("Expected valid triple, got %v", err)
	}

	invalid := []Triple{
		{Predicate: "b", Object: "c"},
		{Subject: "a", Object: "c"},
		{Subject: "a", Predicate: "b"},
		{Subject: "  ", Predicate: "b", Object: "c"},
	}
	for i, tr := range invalid {
		if err := tr.Validate(); err == nil {
			t.Errorf("Case %d: expected validation error", i)
		}
	}
}

func TestQueryNormalize(t *testing.T) {
	q := Query{QueryType: QuerySubgraph, Radius: -2}
	q.Normalize()
	if q.Radius != 1 {
		t.Errorf("Negative radius should reset to 1, got %d", q.Radius)
	}
	if q.Limit != 100 {
		t.Errorf("Zero limit should default to 100, got %d", q.Limit)
	}

	// Radius 0 means center-only and must survive normalization
	q = Query{QueryType: QuerySubgraph, Radius: 0, Limit: 5}
	q.Normalize()
	if q.Radius != 0 {
		t.Errorf("Radius 0 must be preserved, got %d", q.Radius)
	}
	if q.Limit != 5 {
		t.Errorf("Explicit limit must be preserved, got %d", q.Limit)
	}
}
