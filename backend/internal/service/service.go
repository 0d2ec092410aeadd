package service

import (
	"context"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"feynman-go/backend/internal/builder"
	"feynman-go/backend/internal/schema"
	"feynman-go/backend/internal/storage"
	pkgerrors "feynman-go/backend/pkg/errors"
	"feynman-go/backend/pkg/logger"
)

// TripleExtractor is the extraction collaborator contract. Implementations
// turn raw text or files into candidate triples; an empty result is a valid,
// non-error outcome.
type TripleExtractor interface {
	ExtractTriples(ctx context.Context, text, source string) ([]schema.Triple, error)
	ExtractFromFile(ctx context.Context, path string) ([]schema.Triple, error)
}

// Result is the uniform response shape for every service operation. No
// internal error escapes to a caller: failures become Success=false with a
// structured message.
type Result struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

func failure(message string, err error) Result {
	r := Result{Success: false, Message: message}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Service is the facade composing the extraction collaborator, the builder
// and a storage backend. Its lifecycle is owned by whoever constructs it;
// there is no package-level instance.
type Service struct {
	extractor TripleExtractor
	builder   *builder.Builder
	storage   storage.Backend
	logger    *zap.Logger
}

// New wires the service from its collaborators
func New(extractor TripleExtractor, b *builder.Builder, backend storage.Backend) *Service {
	return &Service{
		extractor: extractor,
		builder:   b,
		storage:   backend,
		logger:    logger.Named("service"),
	}
}

// ============================================================================
// Build Operations
// ============================================================================

// Build dispatches a build request: exactly one of Text/FilePath is expected.
func (s *Service) Build(ctx context.Context, req schema.BuildRequest) Result {
	hasText := strings.TrimSpace(req.Text) != ""
	hasFile := strings.TrimSpace(req.FilePath) != ""

	switch {
	case hasText && hasFile:
		return failure("provide either text or file_path, not both",
			pkgerrors.NewValidationFailed("text/file_path", "mutually exclusive"))
	case hasText:
		return s.BuildFromText(ctx, req.Text, "")
	case hasFile:
		return s.BuildFromFile(ctx, req.FilePath)
	default:
		return failure("provide text content or a file path",
			pkgerrors.NewValidationFailed("text/file_path", "one is required"))
	}
}

// BuildFromText extracts triples from text and commits them. An empty
// extraction is a successful outcome with an explanatory message.
func (s *Service) BuildFromText(ctx context.Context, text, source string) Result {
	if strings.TrimSpace(text) == "" {
		return failure("text content is empty",
			pkgerrors.NewValidationFailed("text", "empty"))
	}

	s.logger.Info("Building graph from text",
		zap.Int("text_length", len(text)),
		zap.String("source", source),
	)

	triples, err := s.extractor.ExtractTriples(ctx, text, source)
	if err != nil {
		return failure("triple extraction failed", err)
	}
	if len(triples) == 0 {
		return Result{
			Success: true,
			Message: "no knowledge triples were extracted from the text; " +
				"the content may be unsuited to structured extraction",
			Data: schema.BuildReport{},
		}
	}

	return s.BuildFromTriples(ctx, triples)
}

// BuildFromFile extracts triples from a file and commits them
func (s *Service) BuildFromFile(ctx context.Context, path string) Result {
	if _, err := os.Stat(path); err != nil {
		return failure(fmt.Sprintf("file not found: %s", path), err)
	}

	triples, err := s.extractor.ExtractFromFile(ctx, path)
	if err != nil {
		return failure(fmt.Sprintf("extraction from %s failed", path), err)
	}
	if len(triples) == 0 {
		return Result{
			Success: true,
			Message: fmt.Sprintf("no knowledge triples were extracted from %s", path),
			Data:    schema.BuildReport{},
		}
	}

	return s.BuildFromTriples(ctx, triples)
}

// ConversationMessage is one turn of a conversation transcript
type ConversationMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// BuildFromConversation merges user/assistant turns and builds from the
// combined text.
func (s *Service) BuildFromConversation(ctx context.Context, history []ConversationMessage) Result {
	var parts []string
	for _, msg := range history {
		if msg.Role != "user" && msg.Role != "assistant" {
			continue
		}
		if content := strings.TrimSpace(msg.Content); content != "" {
			parts = append(parts, content)
		}
	}
	if len(parts) == 0 {
		return failure("conversation is empty", nil)
	}
	return s.BuildFromText(ctx, strings.Join(parts, "\n\n"), "conversation")
}

// BuildFromTriples commits pre-extracted triples through the builder pipeline
func (s *Service) BuildFromTriples(ctx context.Context, triples []schema.Triple) Result {
	report, err := s.builder.BuildFromTriples(ctx, triples)
	if err != nil {
		return failure("graph build failed", err)
	}
	return Result{
		Success: true,
		Message: fmt.Sprintf("knowledge graph updated: %d triples added", report.AddedCount),
		Data:    report,
	}
}

// ============================================================================
// Query Operations
// ============================================================================

// Query dispatches a graph query by type
func (s *Service) Query(ctx context.Context, q schema.Query) Result {
	q.Normalize()

	s.logger.Debug("Querying knowledge graph",
		zap.String("query_type", q.QueryType),
		zap.String("center", q.CenterNode),
	)

	switch q.QueryType {
	case schema.QueryFull:
		snapshot, err := s.storage.GetGraph(ctx, q.TopicFilter, q.Limit)
		if err != nil {
			return failure("graph query failed", err)
		}
		return Result{Success: true, Message: "graph retrieved", Data: snapshot}

	case schema.QuerySubgraph:
		if q.CenterNode == "" {
			return failure("subgraph query requires a center node", nil)
		}
		snapshot, err := s.storage.GetSubgraph(ctx, q.CenterNode, q.Radius)
		if err != nil {
			return failure("subgraph query failed", err)
		}
		return Result{Success: true, Message: "subgraph retrieved", Data: snapshot}

	case schema.QueryNeighbors:
		if q.CenterNode == "" {
			return failure("neighbors query requires a center node", nil)
		}
		snapshot, err := s.neighborhood(ctx, q.CenterNode)
		if err != nil {
			return failure("neighbors query failed", err)
		}
		return Result{Success: true, Message: "neighbors retrieved", Data: snapshot}

	case schema.QueryStats:
		stats, err := s.storage.GetStats(ctx)
		if err != nil {
			return failure("stats query failed", err)
		}
		return Result{Success: true, Message: "stats retrieved", Data: stats}

	default:
		return failure("query failed", pkgerrors.NewUnsupportedQuery(q.QueryType))
	}
}

// neighborhood returns the induced subgraph over a node and its direct
// neighbors.
func (s *Service) neighborhood(ctx context.Context, center string) (schema.GraphSnapshot, error) {
	neighbors, err := s.storage.GetNeighbors(ctx, center)
	if err != nil {
		return schema.GraphSnapshot{}, err
	}
	if len(neighbors) == 0 {
		return schema.EmptySnapshot(), nil
	}
	return s.storage.GetSubgraph(ctx, center, 1)
}

// GetStats assembles basic counts, the structural analysis and the importance
// ranking into one report.
func (s *Service) GetStats(ctx context.Context) Result {
	basic, err := s.storage.GetStats(ctx)
	if err != nil {
		return failure("failed to read graph stats", err)
	}

	structure, err := s.builder.AnalyzeStructure(ctx)
	if err != nil {
		return failure("failed to analyze graph structure", err)
	}

	ranking, err := s.builder.ImportanceRanking(ctx, 10)
	if err != nil {
		return failure("failed to rank entities", err)
	}

	return Result{
		Success: true,
		Message: "stats retrieved",
		Data: map[string]interface{}{
			"basic":        basic,
			"structure":    structure,
			"top_entities": ranking,
		},
	}
}

// Clear removes all graph data; the only removal path.
func (s *Service) Clear(ctx context.Context) Result {
	if err := s.storage.Clear(ctx); err != nil {
		return failure("failed to clear graph", err)
	}
	return Result{Success: true, Message: "graph cleared"}
}
