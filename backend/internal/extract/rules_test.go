package extract

import (
	"strings"
	"testing"
)

func TestExtractWithRules_Patterns(t *testing.T) {
	text := "机器学习属于人工智能领域。深度学习包含神经网络。Python用于数据分析。"

	triples := extractWithRules(text, "notes")
	if len(triples) != 3 {
		t.Fatalf("Expected 3 triples, got %d: %+v", len(triples), triples)
	}

	predicates := map[string]bool{}
	for _, tr := range triples {
		predicates[tr.Predicate] = true
		if tr.Subject == tr.Object {
			t.Errorf("Rule extraction produced a self-referential triple: %+v", tr)
		}
	}
	for _, want := range []string{"属于", "包含", "用于"} {
		if !predicates[want] {
			t.Errorf("Missing predicate %q in %v", want, predicates)
		}
	}
}

func TestExtractWithRules_SkipsShortSentences(t *testing.T) {
	if triples := extractWithRules("a属于b", "src"); len(triples) != 0 {
		t.Errorf("Short sentence should be skipped, got %+v", triples)
	}
}

func TestExtractWithRules_Capped(t *testing.T) {
	var sentences []string
	for i := 0; i < 20; i++ {
		sentences = append(sentences, "概念"+strings.Repeat("甲", i+1)+"属于领域"+strings.Repeat("乙", i+1))
	}

	triples := extractWithRules(strings.Join(sentences, "。"), "src")
	if len(triples) > maxRuleTriples {
		t.Errorf("Expected at most %d triples, got %d", maxRuleTriples, len(triples))
	}
}

func TestSplitSentences(t *testing.T) {
	sentences := splitSentences("第一句。第二句！Third sentence.\n第四句")
	if len(sentences) != 4 {
		t.Errorf("Expected 4 sentences, got %d: %v", len(sentences), sentences)
	}
}

func TestTruncateEntity(t *testing.T) {
	long := strings.Repeat("长", 20)
	if got := truncateEntity(long); len([]rune(got)) != 15 {
		t.Errorf("Expected 15-rune truncation, got %d runes", len([]rune(got)))
	}
	if got := truncateEntity("short"); got != "short" {
		t.Errorf("Short entity should be unchanged, got %q", got)
	}
}
