package loader

import (
	"context"
	"errors"
	"strings"
	"testing"

	"faqrag/store"
	"faqrag/types"

	"github.com/google/uuid"
)

const testMaxSize = 1024

type fakeEmbedder struct {
	err   error
	calls int
}

func (f *fakeEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	// two-dimensional vector derived from the text so search has something to rank
	return []float32{float32(len(text)%7 + 1), 1}, nil
}

func (f *fakeEmbedder) Model() string { return "fake-embed" }

type fakePipeline struct {
	result *PipelineResult
	err    error
	calls  int
}

func (f *fakePipeline) Process(ctx context.Context, doc types.Document) (*PipelineResult, error) {
	f.calls++
	return f.result, f.err
}

// spyStore wraps the memory store, counting calls and injecting failures.
type spyStore struct {
	*store.MemoryStore
	lookups    int
	creates    int
	findErr    error
	deleteErr  error
	hideTitles bool
}

func (s *spyStore) FindDocumentByTitle(ctx context.Context, title string) (*types.Document, error) {
	s.lookups++
	if s.findErr != nil {
		return nil, s.findErr
	}
	if s.hideTitles {
		return nil, store.ErrNotFound
	}
	return s.MemoryStore.FindDocumentByTitle(ctx, title)
}

func (s *spyStore) CreateDocument(ctx context.Context, doc types.Document) error {
	s.creates++
	return s.MemoryStore.CreateDocument(ctx, doc)
}

func (s *spyStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	return s.MemoryStore.DeleteDocument(ctx, id)
}

func wordCount(s string) int { return len(strings.Fields(s)) }

func newTestIngestor(t *testing.T) (*Ingestor, *spyStore, *fakeEmbedder) {
	t.Helper()
	st := &spyStore{MemoryStore: store.NewMemoryStore()}
	emb := &fakeEmbedder{}
	pipeline := NewEmbedPipeline(NewChunker(5, 1), emb, st).WithTokenCounter(wordCount)
	return NewIngestor(st, NewNormalizer(testMaxSize), pipeline, nil), st, emb
}

func textUpload(name, text string) Upload {
	return Upload{
		FileName:     name,
		FileType:     "text/plain",
		DeclaredSize: int64(len(text)),
		Data:         []byte(text),
		Encoding:     EncodingMultipart,
	}
}

func countDocuments(t *testing.T, s store.DBStorer) int {
	t.Helper()
	_, total, err := s.ListDocuments(context.Background(), types.DocumentFilter{}, 100, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	return total
}

var errBoom = errors.New("boom")
