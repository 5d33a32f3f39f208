package loader

import (
	"context"
	"fmt"

	"faqrag/model"
	"faqrag/store"
	"faqrag/types"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// PipelineResult is the structured outcome of chunking and embedding a document.
// Success false with a nil error is an expected failure, e.g. nothing to index.
type PipelineResult struct {
	Success    bool
	ChunkCount int
	Error      string
}

// Pipeline turns a persisted document into searchable chunks.
type Pipeline interface {
	Process(ctx context.Context, doc types.Document) (*PipelineResult, error)
}

var _ Pipeline = (*EmbedPipeline)(nil)

type EmbedPipeline struct {
	chunker     *Chunker
	embedder    model.EmbedderInterface
	store       store.DBStorer
	countTokens func(string) int
}

func NewEmbedPipeline(chunker *Chunker, embedder model.EmbedderInterface, storer store.DBStorer) *EmbedPipeline {
	return &EmbedPipeline{
		chunker:     chunker,
		embedder:    embedder,
		store:       storer,
		countTokens: model.CountTokens,
	}
}

// WithTokenCounter replaces the tiktoken based counter.
func (p *EmbedPipeline) WithTokenCounter(fn func(string) int) *EmbedPipeline {
	p.countTokens = fn
	return p
}

func (p *EmbedPipeline) Process(ctx context.Context, doc types.Document) (*PipelineResult, error) {
	log := ctxzap.Extract(ctx).With(zap.String("document_id", doc.ID.String()))

	chunks := p.chunker.Split(doc.ID, doc.Content)
	if len(chunks) == 0 {
		return &PipelineResult{Error: "no indexable text"}, nil
	}

	embedded := make([]types.Chunk, 0, len(chunks))
	var lastErr error
	for _, c := range chunks {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		c.TokenCount = p.countTokens(c.Content)

		text := c.Content
		if c.Section != "" {
			text = c.Section + "\n" + text
		}
		vec, err := p.embedder.Embed(ctx, text)
		if err != nil {
			log.Warn("embedding error", zap.Int("position", c.Index), zap.Error(err))
			lastErr = err
			continue
		}
		c.Embedding = vec
		embedded = append(embedded, c)
	}

	if len(embedded) == 0 {
		return &PipelineResult{Error: fmt.Sprintf("embedding failed for all %d chunks: %v", len(chunks), lastErr)}, nil
	}

	if err := p.store.SaveChunks(ctx, doc.ID, embedded); err != nil {
		return nil, fmt.Errorf("save chunks: %w", err)
	}

	if skipped := len(chunks) - len(embedded); skipped > 0 {
		log.Warn("some chunks were not embedded", zap.Int("skipped", skipped), zap.Int("saved", len(embedded)))
	}
	log.Info("document indexed", zap.Int("chunks", len(embedded)))

	return &PipelineResult{Success: true, ChunkCount: len(embedded)}, nil
}
