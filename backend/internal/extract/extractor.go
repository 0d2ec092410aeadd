package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"time"

	"github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"feynman-go/backend/internal/schema"
	pkgerrors "feynman-go/backend/pkg/errors"
	"feynman-go/backend/pkg/logger"
)

// extractionPrompt instructs the model to return structured triples as JSON
const extractionPrompt = `You are a knowledge graph construction assistant. Extract structured knowledge from the text below as a list of triples.

Rules:
1. Identify important entities (people, concepts, technical terms, methods).
2. Identify relations between entities (is-a, belongs-to, uses, causes, contains).
3. Stay faithful to the text; do not speculate.
4. Split complex sentences into multiple simple triples.
5. Normalize relation verbs (contains, belongs to, causes, implements, uses).

Return JSON with a "triples" array where each element has "subject", "predicate", "object" and "confidence" fields.

Text:
%s

Return the JSON extraction result:`

var jsonObjectPattern = regexp.MustCompile(`(?s)\{.*\}`)

// Extractor turns raw text into candidate knowledge triples. It prefers an
// LLM behind an OpenAI-compatible endpoint and falls back to rule-based
// pattern extraction when no model is configured or the model yields nothing.
// An empty result is a valid outcome, not an error.
type Extractor struct {
	client  *openai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures an Extractor
type Option func(*Extractor)

// WithLLM enables LLM extraction against an OpenAI-compatible endpoint.
// An empty baseURL uses the default OpenAI API.
func WithLLM(apiKey, baseURL, model string) Option {
	return func(e *Extractor) {
		if apiKey == "" {
			return
		}
		cfg := openai.DefaultConfig(apiKey)
		if baseURL != "" {
			cfg.BaseURL = baseURL
		}
		e.client = openai.NewClientWithConfig(cfg)
		e.model = model
	}
}

// WithTimeout bounds each LLM call
func WithTimeout(timeout time.Duration) Option {
	return func(e *Extractor) {
		if timeout > 0 {
			e.timeout = timeout
		}
	}
}

// New creates an extractor. Without WithLLM it only does rule-based extraction.
func New(opts ...Option) *Extractor {
	e := &Extractor{
		timeout: 120 * time.Second,
		logger:  logger.Named("extract"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ExtractTriples extracts triples from text, tagging each with source.
// LLM extraction is attempted first; if it is unconfigured or returns nothing,
// the rule-based extractor runs. Results are deduplicated by triple id.
func (e *Extractor) ExtractTriples(ctx context.Context, text, source string) ([]schema.Triple, error) {
	var triples []schema.Triple

	if e.client != nil {
		llmTriples, err := e.extractWithLLM(ctx, text, source)
		if err != nil {
			e.logger.Warn("LLM extraction failed, falling back to rules", zap.Error(err))
		} else {
			triples = llmTriples
		}
	}

	if len(triples) == 0 {
		triples = extractWithRules(text, source)
		e.logger.Debug("Rule-based extraction produced triples",
			zap.Int("count", len(triples)))
	}

	return dedupeTriples(triples), nil
}

func (e *Extractor) extractWithLLM(ctx context.Context, text, source string) ([]schema.Triple, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model: e.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(extractionPrompt, text),
			},
		},
		Temperature: 0.1,
	}

	// Retry with linear backoff; rate limits and transient gateway errors
	// are the common failure here.
	var resp openai.ChatCompletionResponse
	var err error
	maxRetries := 3
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * time.Second
			e.logger.Warn("Retrying LLM extraction",
				zap.Int("attempt", attempt+1),
				zap.Duration("backoff", backoff),
			)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}

		resp, err = e.client.CreateChatCompletion(ctx, req)
		if err == nil {
			break
		}
	}
	if err != nil {
		return nil, pkgerrors.NewExtractionFailed(source, err)
	}

	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in llm response")
	}

	return parseTriplesJSON(resp.Choices[0].Message.Content, source)
}

type wireTriple struct {
	Subject    string  `json:"subject"`
	Predicate  string  `json:"predicate"`
	Object     string  `json:"object"`
	Confidence float64 `json:"confidence"`
}

type wireExtraction struct {
	Triples []wireTriple `json:"triples"`
}

// parseTriplesJSON pulls the outermost JSON object out of the model output and
// decodes its triples array.
func parseTriplesJSON(content, source string) ([]schema.Triple, error) {
	match := jsonObjectPattern.FindString(content)
	if match == "" {
		return nil, fmt.Errorf("no JSON object in llm response")
	}

	var extraction wireExtraction
	if err := json.Unmarshal([]byte(match), &extraction); err != nil {
		return nil, fmt.Errorf("failed to parse llm response JSON: %w", err)
	}

	now := time.Now().UTC()
	triples := make([]schema.Triple, 0, len(extraction.Triples))
	for _, wt := range extraction.Triples {
		if wt.Subject == "" || wt.Predicate == "" || wt.Object == "" {
			continue
		}
		confidence := wt.Confidence
		if confidence <= 0 || confidence > 1 {
			confidence = 0.8
		}
		triples = append(triples, schema.Triple{
			Subject:    wt.Subject,
			Predicate:  wt.Predicate,
			Object:     wt.Object,
			Confidence: confidence,
			Source:     source,
			Timestamp:  now,
		})
	}
	return triples, nil
}

// dedupeTriples keeps the first occurrence of each triple id
func dedupeTriples(triples []schema.Triple) []schema.Triple {
	seen := make(map[string]struct{}, len(triples))
	unique := make([]schema.Triple, 0, len(triples))
	for _, t := range triples {
		id := t.ID()
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, t)
	}
	return unique
}
