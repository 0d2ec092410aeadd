package extract

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"feynman-go/backend/internal/schema"
)

const (
	// Files above this size are split into overlapping chunks
	chunkFileThreshold = 10000
	chunkSize          = 2000
	chunkOverlap       = 200
	// Chunks are extracted concurrently, bounded to keep LLM rate limits sane
	maxConcurrentChunks = 4
)

// ExtractFromFile reads a file and extracts triples from its content.
// HTML files are reduced to readable text first. Large files are split into
// overlapping chunks which are extracted concurrently; each chunk's triples
// carry a "path#chunk_i" source tag.
func (e *Extractor) ExtractFromFile(ctx context.Context, path string) ([]schema.Triple, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file %s: %w", path, err)
	}

	text := string(data)
	switch strings.ToLower(filepath.Ext(path)) {
	case ".html", ".htm":
		text, err = htmlToText(text)
		if err != nil {
			return nil, fmt.Errorf("failed to parse HTML in %s: %w", path, err)
		}
	}

	if len(text) <= chunkFileThreshold {
		return e.ExtractTriples(ctx, text, path)
	}

	chunks := splitText(text, chunkSize, chunkOverlap)
	e.logger.Info("Extracting large file in chunks",
		zap.String("path", path),
		zap.Int("chunks", len(chunks)),
	)

	results := make([][]schema.Triple, len(chunks))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChunks)
	for i, chunk := range chunks {
		i, chunk := i, chunk
		g.Go(func() error {
			chunkSource := fmt.Sprintf("%s#chunk_%d", path, i)
			triples, err := e.ExtractTriples(gctx, chunk, chunkSource)
			if err != nil {
				// A failing chunk costs its own triples only
				e.logger.Warn("Chunk extraction failed",
					zap.String("source", chunkSource),
					zap.Error(err),
				)
				return nil
			}
			mu.Lock()
			results[i] = triples
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var all []schema.Triple
	for _, triples := range results {
		all = append(all, triples...)
	}
	return dedupeTriples(all), nil
}

// htmlToText strips boilerplate elements and returns the page's readable text
func htmlToText(htmlContent string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(htmlContent))
	if err != nil {
		return "", err
	}

	doc.Find("script, style, noscript, nav, footer, header, aside").Remove()

	var parts []string
	doc.Find("h1, h2, h3, h4, h5, h6, p, li").Each(func(_ int, s *goquery.Selection) {
		text := strings.TrimSpace(s.Text())
		if text != "" {
			parts = append(parts, text)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(doc.Find("body").Text()), nil
	}
	return strings.Join(parts, "\n"), nil
}

// splitText cuts text into overlapping chunks, preferring sentence or line
// boundaries for the cut point.
func splitText(text string, size, overlap int) []string {
	var chunks []string
	runes := []rune(text)
	length := len(runes)
	start := 0

	for start < length {
		end := start + size
		if end > length {
			end = length
		}

		if end < length {
			window := string(runes[start:end])
			sepLen := len("。")
			split := strings.LastIndex(window, "。")
			if split == -1 {
				split = strings.LastIndex(window, "\n")
				sepLen = len("\n")
			}
			if split > 0 {
				end = start + len([]rune(window[:split+sepLen]))
				if end > length {
					end = length
				}
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		if next <= start {
			next = start + 1
		}
		start = next
	}

	return chunks
}
