package agent

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"faqrag/config"
	"faqrag/model"
	"faqrag/store"
	"faqrag/types"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"github.com/patrickmn/go-cache"
	"go.uber.org/zap"
)

// NoInformationMessage is returned when no document is relevant to the question.
const NoInformationMessage = "죄송합니다. 질문과 관련된 정보를 등록된 문서에서 찾을 수 없습니다."

const (
	sourcePreviewRunes = 200
	statsCacheKey      = "chat-stats"
	statsCacheTTL      = 30 * time.Second
)

// Assistant answers questions from the indexed documents.
type Assistant struct {
	store    store.DBStorer
	embedder model.EmbedderInterface
	llm      Generator
	search   config.SearchConfig
	overlap  int
	stats    *cache.Cache
}

func NewAssistant(storer store.DBStorer, embedder model.EmbedderInterface, llm Generator, search config.SearchConfig, overlap int) *Assistant {
	return &Assistant{
		store:    storer,
		embedder: embedder,
		llm:      llm,
		search:   search,
		overlap:  overlap,
		stats:    cache.New(statsCacheTTL, time.Minute),
	}
}

func (a *Assistant) Answer(ctx context.Context, question string) (*types.ChatResponse, error) {
	start := time.Now()
	log := ctxzap.Extract(ctx)

	queryVec, err := a.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w", err)
	}

	similarChunks, err := a.store.Search(ctx, queryVec, a.search.TopK)
	if err != nil {
		return nil, fmt.Errorf("search chunks: %w", err)
	}

	qualityChunks := a.filterChunks(ctx, similarChunks)
	log.Debug("chunks retrieved", zap.Int("found", len(similarChunks)), zap.Int("relevant", len(qualityChunks)))

	if len(qualityChunks) == 0 {
		return &types.ChatResponse{
			Message:        NoInformationMessage,
			Sources:        []types.Source{},
			ProcessingTime: time.Since(start).Milliseconds(),
			Model:          a.llm.Model(),
		}, nil
	}

	confidence := qualityChunks[0].Distance
	docContext, contextChunks := a.buildContext(ctx, qualityChunks)

	sources, err := a.formatSources(ctx, contextChunks)
	if err != nil {
		return nil, err
	}

	answer, err := a.llm.GenerateAnswer(ctx, docContext, question)
	if err != nil {
		return nil, fmt.Errorf("generate answer: %w", err)
	}

	return &types.ChatResponse{
		Message:        answer,
		Sources:        sources,
		Confidence:     percent(confidence),
		ProcessingTime: time.Since(start).Milliseconds(),
		Model:          a.llm.Model(),
		IsLLMGenerated: true,
	}, nil
}

// Stats summarizes the retrieval corpus, cached briefly.
func (a *Assistant) Stats(ctx context.Context) (*types.ChatStats, error) {
	if v, ok := a.stats.Get(statsCacheKey); ok {
		stats := *v.(*types.ChatStats)
		stats.CachedQueries = a.cachedQueries()
		return &stats, nil
	}

	s, err := a.store.SearchStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("search stats: %w", err)
	}

	stats := &types.ChatStats{
		SearchStats:    s,
		Model:          a.llm.Model(),
		EmbeddingModel: a.embedder.Model(),
	}
	if s.CompletedDocuments > 0 {
		stats.AverageChunksPerDocument = math.Round(float64(s.TotalChunks)/float64(s.CompletedDocuments)*100) / 100
	}
	a.stats.Set(statsCacheKey, stats, cache.DefaultExpiration)

	out := *stats
	out.CachedQueries = a.cachedQueries()
	return &out, nil
}

func (a *Assistant) cachedQueries() int {
	if c, ok := a.embedder.(interface{ Len() int }); ok {
		return c.Len()
	}
	return 0
}

func (a *Assistant) filterChunks(ctx context.Context, chunks []types.Chunk) []types.Chunk {
	result := make([]types.Chunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Distance >= a.search.MinSimilarity {
			result = append(result, chunk)
		} else {
			ctxzap.Debug(ctx, "chunk filtered out", zap.Float64("similarity", chunk.Distance), zap.Float64("min", a.search.MinSimilarity))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Distance > result[j].Distance
	})
	return result
}

// buildContext groups chunks per document, in document order, until the
// context length limit is reached.
func (a *Assistant) buildContext(ctx context.Context, chunks []types.Chunk) (string, []types.Chunk) {
	grouped := make(map[uuid.UUID][]types.Chunk)
	var order []uuid.UUID
	for _, ch := range chunks {
		if _, ok := grouped[ch.DocID]; !ok {
			order = append(order, ch.DocID)
		}
		grouped[ch.DocID] = append(grouped[ch.DocID], ch)
	}

	var contextChunks []types.Chunk
	var sb strings.Builder
	limit := a.search.MaxContextLength

outer:
	for n, docID := range order {
		docChunks := grouped[docID]
		sort.SliceStable(docChunks, func(i, j int) bool {
			return docChunks[i].Index < docChunks[j].Index
		})
		docChunks = removeChunkOverlaps(docChunks, a.overlap)

		fmt.Fprintf(&sb, "Document %d:\n", n+1)
		for _, ch := range docChunks {
			var part strings.Builder
			if ch.Section != "" {
				fmt.Fprintf(&part, "## %s\n", ch.Section)
			}
			part.WriteString(ch.Content)
			part.WriteString("\n")

			if limit > 0 && sb.Len()+part.Len() > limit && len(contextChunks) > 0 {
				ctxzap.Debug(ctx, "context limit reached", zap.Int("limit", limit), zap.Int("chunks", len(contextChunks)))
				break outer
			}
			sb.WriteString(part.String())
			contextChunks = append(contextChunks, ch)
		}
		sb.WriteString("\n")
	}

	return strings.TrimSpace(sb.String()), contextChunks
}

// removeChunkOverlaps trims the words a chunk shares with its predecessor.
func removeChunkOverlaps(chunks []types.Chunk, overlap int) []types.Chunk {
	if len(chunks) <= 1 || overlap <= 0 {
		return chunks
	}
	result := make([]types.Chunk, 0, len(chunks))

	for i, chunk := range chunks {
		if i == 0 {
			result = append(result, chunk)
			continue
		}

		prev := chunks[i-1]
		consecutive := chunk.Index == prev.Index+1 &&
			chunk.Type == string(types.ChunkText) && prev.Type == string(types.ChunkText)
		if !consecutive {
			result = append(result, chunk)
			continue
		}

		words := strings.Fields(chunk.Content)
		if len(words) > overlap {
			chunk.Content = strings.Join(words[overlap:], " ")
			result = append(result, chunk)
		}
	}
	return result
}

func (a *Assistant) formatSources(ctx context.Context, chunks []types.Chunk) ([]types.Source, error) {
	docs := make(map[uuid.UUID]*types.Document)
	sources := make([]types.Source, 0, len(chunks))
	for _, chunk := range chunks {
		doc, ok := docs[chunk.DocID]
		if !ok {
			var err error
			doc, err = a.store.GetDocumentByID(ctx, chunk.DocID)
			if errors.Is(err, store.ErrNotFound) {
				// deleted between search and lookup
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get document %s: %w", chunk.DocID, err)
			}
			docs[chunk.DocID] = doc
		}

		sources = append(sources, types.Source{
			DocID:      chunk.DocID.String(),
			Title:      doc.Title,
			Content:    preview(chunk.Content, sourcePreviewRunes),
			Similarity: percent(chunk.Distance),
			URL:        doc.URL,
		})
	}
	return sources, nil
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}

func percent(similarity float64) int {
	p := int(math.Round(similarity * 100))
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}
