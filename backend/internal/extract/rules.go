package extract

import (
	"regexp"
	"strings"
	"time"

	"feynman-go/backend/internal/schema"
)

// ============================================================================
// Rule-Based Extraction
// ============================================================================

const (
	ruleConfidence = 0.6
	maxRuleTriples = 8
)

type rulePattern struct {
	re      *regexp.Regexp
	extract func(match []string) (subject, predicate, object string)
}

// Sentence-level relation patterns for the tutoring domain's primary corpus
// language. "X是Y的Z" inverts: the property Z belongs to X, stated about Y.
var rulePatterns = []rulePattern{
	{
		re: regexp.MustCompile(`(.{1,20})是(.{1,20})的(.{1,20})`),
		extract: func(m []string) (string, string, string) {
			return m[3], "是", m[1]
		},
	},
	{
		re: regexp.MustCompile(`(.{1,20})属于(.{1,20})`),
		extract: func(m []string) (string, string, string) {
			return m[1], "属于", m[2]
		},
	},
	{
		re: regexp.MustCompile(`(.{1,20})包含(.{1,20})`),
		extract: func(m []string) (string, string, string) {
			return m[1], "包含", m[2]
		},
	},
	{
		re: regexp.MustCompile(`(.{1,20})用于(.{1,20})`),
		extract: func(m []string) (string, string, string) {
			return m[1], "用于", m[2]
		},
	},
}

// extractWithRules is the fallback when no LLM is configured or it returned
// nothing: simple relation-verb patterns over sentences, low confidence,
// capped output.
func extractWithRules(text, source string) []schema.Triple {
	now := time.Now().UTC()
	triples := []schema.Triple{}

	for _, sentence := range splitSentences(text) {
		if len(strings.TrimSpace(sentence)) < 10 {
			continue
		}

		for _, pattern := range rulePatterns {
			match := pattern.re.FindStringSubmatch(sentence)
			if match == nil {
				continue
			}

			subject, predicate, object := pattern.extract(match)
			subject = truncateEntity(strings.TrimSpace(subject))
			object = truncateEntity(strings.TrimSpace(object))

			if len([]rune(subject)) <= 1 || len([]rune(object)) <= 1 || subject == object {
				continue
			}

			triples = append(triples, schema.Triple{
				Subject:    subject,
				Predicate:  predicate,
				Object:     object,
				Confidence: ruleConfidence,
				Source:     source,
				Timestamp:  now,
			})
			if len(triples) >= maxRuleTriples {
				return triples
			}
		}
	}

	return triples
}

func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '。' || r == '\n' || r == '.' || r == '！' || r == '!'
	})
}

func truncateEntity(entity string) string {
	runes := []rune(entity)
	if len(runes) > 15 {
		return string(runes[:15])
	}
	return entity
}
