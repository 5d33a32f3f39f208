package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"faqrag/types"

	"github.com/google/uuid"
)

func memDoc(title string, typ types.DocumentType, status types.DocumentStatus, created time.Time) types.Document {
	return types.Document{
		ID:        uuid.New(),
		Title:     title,
		Type:      typ,
		Status:    status,
		CreatedAt: created,
		UpdatedAt: created,
	}
}

func TestMemoryStoreUniqueTitle(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()

	if err := s.CreateDocument(ctx, memDoc("a.txt", types.TypeTXT, types.StatusProcessing, now)); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	err := s.CreateDocument(ctx, memDoc("a.txt", types.TypeTXT, types.StatusProcessing, now))
	if !errors.Is(err, ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}
	// title match is case-sensitive
	if err := s.CreateDocument(ctx, memDoc("A.txt", types.TypeTXT, types.StatusProcessing, now)); err != nil {
		t.Fatalf("CreateDocument with different case: %v", err)
	}
}

func TestMemoryStoreDeleteRemovesChunks(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	doc := memDoc("a.txt", types.TypeTXT, types.StatusCompleted, time.Now())
	if err := s.CreateDocument(ctx, doc); err != nil {
		t.Fatalf("CreateDocument: %v", err)
	}
	if err := s.SaveChunks(ctx, doc.ID, []types.Chunk{{ID: uuid.New(), Content: "x", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	if err := s.DeleteDocument(ctx, doc.ID); err != nil {
		t.Fatalf("DeleteDocument: %v", err)
	}
	if _, err := s.FindDocumentByTitle(ctx, "a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	stats, _ := s.SearchStats(ctx)
	if stats.TotalChunks != 0 {
		t.Fatalf("expected chunks to be removed, got %d", stats.TotalChunks)
	}
	if err := s.DeleteDocument(ctx, doc.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestMemoryStoreReplaceDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	now := time.Now()
	a := memDoc("a.txt", types.TypeTXT, types.StatusCompleted, now)
	b := memDoc("b.txt", types.TypeTXT, types.StatusCompleted, now)
	for _, doc := range []types.Document{a, b} {
		if err := s.CreateDocument(ctx, doc); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}
	if err := s.SaveChunks(ctx, a.ID, []types.Chunk{{ID: uuid.New(), Content: "x", Embedding: []float32{1, 0}}}); err != nil {
		t.Fatalf("SaveChunks: %v", err)
	}

	renamed := a
	renamed.Title = "b.txt"
	if err := s.ReplaceDocument(ctx, renamed); !errors.Is(err, ErrDuplicateTitle) {
		t.Fatalf("expected ErrDuplicateTitle, got %v", err)
	}
	if stats, _ := s.SearchStats(ctx); stats.TotalChunks != 1 {
		t.Fatalf("title collision must keep chunks, got %d", stats.TotalChunks)
	}

	renamed.Title = "c.txt"
	if err := s.ReplaceDocument(ctx, renamed); err != nil {
		t.Fatalf("ReplaceDocument: %v", err)
	}
	if stats, _ := s.SearchStats(ctx); stats.TotalChunks != 0 {
		t.Fatalf("expected chunks to be dropped, got %d", stats.TotalChunks)
	}
	if _, err := s.FindDocumentByTitle(ctx, "a.txt"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("old title must be released, got %v", err)
	}
}

func TestMemoryStoreListOrderAndPaging(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i, title := range []string{"one", "two", "three"} {
		if err := s.CreateDocument(ctx, memDoc(title, types.TypeTXT, types.StatusCompleted, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}

	page, total, err := s.ListDocuments(ctx, types.DocumentFilter{}, 2, 0)
	if err != nil {
		t.Fatalf("ListDocuments: %v", err)
	}
	if total != 3 || len(page) != 2 {
		t.Fatalf("expected 2 of 3, got %d of %d", len(page), total)
	}
	if page[0].Title != "three" || page[1].Title != "two" {
		t.Fatalf("expected newest first, got %s, %s", page[0].Title, page[1].Title)
	}

	page, _, _ = s.ListDocuments(ctx, types.DocumentFilter{}, 2, 2)
	if len(page) != 1 || page[0].Title != "one" {
		t.Fatalf("unexpected second page: %+v", page)
	}

	page, total, _ = s.ListDocuments(ctx, types.DocumentFilter{}, 2, 10)
	if len(page) != 0 || total != 3 {
		t.Fatalf("expected empty page past the end, got %d (total %d)", len(page), total)
	}
}

func TestMemoryStoreSearchSkipsUnfinishedDocuments(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	done := memDoc("done", types.TypeTXT, types.StatusCompleted, time.Now())
	pending := memDoc("pending", types.TypeTXT, types.StatusProcessing, time.Now())
	for _, d := range []types.Document{done, pending} {
		if err := s.CreateDocument(ctx, d); err != nil {
			t.Fatalf("CreateDocument: %v", err)
		}
	}
	_ = s.SaveChunks(ctx, done.ID, []types.Chunk{
		{ID: uuid.New(), Content: "close", Embedding: []float32{1, 0}},
		{ID: uuid.New(), Content: "far", Embedding: []float32{0, 1}},
	})
	_ = s.SaveChunks(ctx, pending.ID, []types.Chunk{{ID: uuid.New(), Content: "hidden", Embedding: []float32{1, 0}}})

	hits, err := s.Search(ctx, []float32{1, 0}, 5)
	if err != nil {
		t.Fatalf("Search: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits, got %d", len(hits))
	}
	if hits[0].Content != "close" || hits[0].Distance < 0.99 {
		t.Fatalf("expected closest chunk first, got %+v", hits[0])
	}
}
