package loader

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"faqrag/store"
	"faqrag/types"

	"github.com/avast/retry-go/v4"
	"github.com/google/uuid"
)

const reportText = "Quarterly report. Revenue grew in every region and support tickets dropped by half."

func TestIngestNewDocument(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.Ingest(ctx, textUpload("report.txt", reportText), types.ActionNone)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.DocumentID == "" {
		t.Fatal("expected a document id")
	}
	if res.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", res.Status, res.Message)
	}
	if res.ChunkCount == 0 {
		t.Fatal("expected chunks to be produced")
	}

	doc, err := st.FindDocumentByTitle(ctx, "report.txt")
	if err != nil {
		t.Fatalf("FindDocumentByTitle: %v", err)
	}
	if doc.ID.String() != res.DocumentID || doc.Status != types.StatusCompleted || doc.ChunkCount != res.ChunkCount {
		t.Fatalf("stored document does not match result: %+v", doc)
	}
	if doc.Type != types.TypeTXT || doc.ExtractionStatus != types.ExtractionFull {
		t.Fatalf("unexpected type or extraction: %s %s", doc.Type, doc.ExtractionStatus)
	}
}

func TestIngestDuplicateWithoutActionConflicts(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	first, err := ing.Ingest(ctx, textUpload("report.txt", reportText), types.ActionNone)
	if err != nil {
		t.Fatalf("first Ingest: %v", err)
	}
	creates := st.creates

	_, err = ing.Ingest(ctx, textUpload("report.txt", "other text"), types.ActionNone)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	var dup *DuplicateError
	if !errors.As(err, &dup) {
		t.Fatalf("expected *DuplicateError, got %T", err)
	}
	if dup.Existing.ID != first.DocumentID || dup.Existing.Title != "report.txt" {
		t.Fatalf("unexpected existing summary: %+v", dup.Existing)
	}
	if st.creates != creates {
		t.Fatal("conflict must not create a document")
	}
	if n := countDocuments(t, st); n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
}

func TestIngestDuplicateSkip(t *testing.T) {
	ing, st, emb := newTestIngestor(t)
	ctx := context.Background()

	first, _ := ing.Ingest(ctx, textUpload("report.txt", reportText), types.ActionNone)
	embeds := emb.calls

	res, err := ing.Ingest(ctx, textUpload("report.txt", "replacement"), types.ActionSkip)
	if err != nil {
		t.Fatalf("Ingest skip: %v", err)
	}
	if !res.Skipped || res.DocumentID != first.DocumentID {
		t.Fatalf("expected skip of %s, got %+v", first.DocumentID, res)
	}
	if emb.calls != embeds {
		t.Fatal("skip must not run the pipeline")
	}
	doc, _ := st.FindDocumentByTitle(ctx, "report.txt")
	if doc.Content != reportText {
		t.Fatal("skip must leave the existing document untouched")
	}
}

func TestIngestDuplicateOverwrite(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	first, _ := ing.Ingest(ctx, textUpload("report.txt", reportText), types.ActionNone)
	oldDoc, _ := st.FindDocumentByTitle(ctx, "report.txt")

	res, err := ing.Ingest(ctx, textUpload("report.txt", "New revision of the report with different text."), types.ActionOverwrite)
	if err != nil {
		t.Fatalf("Ingest overwrite: %v", err)
	}
	if res.DocumentID == first.DocumentID {
		t.Fatal("overwrite must create a new id")
	}
	if !res.Overwritten || res.Status != types.StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}

	if _, err := st.GetDocumentByID(ctx, oldDoc.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("old document should be gone, got %v", err)
	}
	if n := countDocuments(t, st); n != 1 {
		t.Fatalf("expected exactly one document for the title, got %d", n)
	}
	stats, _ := st.SearchStats(ctx)
	if stats.TotalChunks != res.ChunkCount {
		t.Fatalf("old chunks should be gone: %d chunks stored, %d expected", stats.TotalChunks, res.ChunkCount)
	}
	newDoc, _ := st.FindDocumentByTitle(ctx, "report.txt")
	if !newDoc.CreatedAt.After(oldDoc.CreatedAt) && !newDoc.CreatedAt.Equal(oldDoc.CreatedAt) {
		t.Fatal("expected fresh timestamps")
	}
}

func TestIngestOverwriteDeleteFailure(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, textUpload("report.txt", reportText), types.ActionNone); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	st.deleteErr = errBoom
	creates := st.creates

	_, err := ing.Ingest(ctx, textUpload("report.txt", "replacement"), types.ActionOverwrite)
	var depErr *DependencyError
	if !errors.As(err, &depErr) || depErr.Kind != KindDeleteFailed {
		t.Fatalf("expected DELETE_FAILED dependency error, got %v", err)
	}
	if !errors.Is(err, ErrDependency) {
		t.Fatal("expected error to match ErrDependency")
	}
	if st.creates != creates {
		t.Fatal("replacement must not be created when delete fails")
	}
}

func TestIngestUnknownAction(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	_, err := ing.Ingest(context.Background(), textUpload("a.txt", "text"), types.DuplicateAction("merge"))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestIngestOversizedNeverTouchesStore(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	u := textUpload("big.txt", strings.Repeat("a", testMaxSize+1))

	_, err := ing.Ingest(context.Background(), u, types.ActionNone)
	if !errors.Is(err, ErrPayloadTooLarge) {
		t.Fatalf("expected ErrPayloadTooLarge, got %v", err)
	}
	if st.lookups != 0 || st.creates != 0 {
		t.Fatalf("store was touched: %d lookups, %d creates", st.lookups, st.creates)
	}
}

func TestIngestStoreLookupFailure(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	st.findErr = errBoom

	_, err := ing.Ingest(context.Background(), textUpload("a.txt", "text"), types.ActionNone)
	if !errors.Is(err, ErrDependency) || !errors.Is(err, errBoom) {
		t.Fatalf("expected dependency error wrapping boom, got %v", err)
	}
}

func TestIngestLostRaceIsConflict(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, textUpload("a.txt", "first text"), types.ActionNone); err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	// the duplicate check misses, the unique title constraint still catches it
	st.hideTitles = true

	_, err := ing.Ingest(ctx, textUpload("a.txt", "second text"), types.ActionNone)
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
	if n := countDocuments(t, st); n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
}

func TestIngestPipelineUnsuccessfulIsPartialSuccess(t *testing.T) {
	ing, st, emb := newTestIngestor(t)
	ctx := context.Background()
	emb.err = errBoom

	res, err := ing.Ingest(ctx, textUpload("a.txt", "some text to embed"), types.ActionNone)
	if err != nil {
		t.Fatalf("pipeline failure must not be an error: %v", err)
	}
	if res.Status != types.StatusFailed || res.ChunkCount != 0 {
		t.Fatalf("expected failed with 0 chunks, got %+v", res)
	}

	doc, err := st.FindDocumentByTitle(ctx, "a.txt")
	if err != nil {
		t.Fatalf("failed document must be kept: %v", err)
	}
	if doc.Status != types.StatusFailed || doc.ErrorMessage == "" {
		t.Fatalf("expected failed status with message, got %+v", doc)
	}
}

func TestIngestPipelineErrorIsPartialSuccess(t *testing.T) {
	st := &spyStore{MemoryStore: store.NewMemoryStore()}
	pipeline := &fakePipeline{err: errBoom}
	ing := NewIngestor(st, NewNormalizer(testMaxSize), pipeline, nil)

	res, err := ing.Ingest(context.Background(), textUpload("a.txt", "text"), types.ActionNone)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != types.StatusFailed || !strings.Contains(res.Message, "boom") {
		t.Fatalf("expected failed result mentioning the error, got %+v", res)
	}
}

func TestIngestPipelineStructuredFailure(t *testing.T) {
	st := &spyStore{MemoryStore: store.NewMemoryStore()}
	pipeline := &fakePipeline{result: &PipelineResult{Error: "no indexable text"}}
	ing := NewIngestor(st, NewNormalizer(testMaxSize), pipeline, nil)

	res, err := ing.Ingest(context.Background(), textUpload("a.txt", "text"), types.ActionNone)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Status != types.StatusFailed || res.Message != "no indexable text" {
		t.Fatalf("unexpected result: %+v", res)
	}
}

func TestReingestKeepsID(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	first, _ := ing.Ingest(ctx, textUpload("faq.txt", reportText), types.ActionNone)

	res, err := ing.Reingest(ctx, first.DocumentID, textUpload("faq.txt", "Updated answers for the most common questions."))
	if err != nil {
		t.Fatalf("Reingest: %v", err)
	}
	if res.DocumentID != first.DocumentID || res.Status != types.StatusCompleted {
		t.Fatalf("unexpected result: %+v", res)
	}
	doc, _ := st.FindDocumentByTitle(ctx, "faq.txt")
	if !strings.HasPrefix(doc.Content, "Updated answers") {
		t.Fatalf("content not replaced: %q", doc.Content)
	}
	stats, _ := st.SearchStats(ctx)
	if stats.TotalChunks != res.ChunkCount {
		t.Fatalf("expected only new chunks, got %d stored vs %d", stats.TotalChunks, res.ChunkCount)
	}
}

func TestReingestMissingDocument(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	_, err := ing.Reingest(context.Background(), uuid.NewString(), textUpload("a.txt", "x"))
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	_, err = ing.Reingest(context.Background(), "not-a-uuid", textUpload("a.txt", "x"))
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}

func TestReingestTitleCollisionKeepsChunks(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	a, _ := ing.Ingest(ctx, textUpload("a.txt", reportText), types.ActionNone)
	if _, err := ing.Ingest(ctx, textUpload("b.txt", reportText), types.ActionNone); err != nil {
		t.Fatalf("Ingest b.txt: %v", err)
	}
	before, _ := st.SearchStats(ctx)
	original, _ := st.FindDocumentByTitle(ctx, "a.txt")

	_, err := ing.Reingest(ctx, a.DocumentID, textUpload("b.txt", "Renamed onto an existing title."))
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}

	after, _ := st.SearchStats(ctx)
	if after.TotalChunks != before.TotalChunks {
		t.Fatalf("failed reingest changed chunks: %d before, %d after", before.TotalChunks, after.TotalChunks)
	}
	doc, err := st.FindDocumentByTitle(ctx, "a.txt")
	if err != nil {
		t.Fatalf("a.txt must keep its title: %v", err)
	}
	if doc.Status != types.StatusCompleted || doc.ChunkCount != a.ChunkCount || doc.Content != original.Content {
		t.Fatalf("a.txt changed after failed reingest: %+v", doc)
	}
}

func TestDeleteDocument(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()
	res, _ := ing.Ingest(ctx, textUpload("a.txt", reportText), types.ActionNone)

	deleted, err := ing.Delete(ctx, res.DocumentID)
	if err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if deleted.Title != "a.txt" {
		t.Fatalf("unexpected deleted summary: %+v", deleted)
	}
	if n := countDocuments(t, st); n != 0 {
		t.Fatalf("expected no documents, got %d", n)
	}
	if _, err := ing.Delete(ctx, res.DocumentID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestURLWithContentAndDeleteByURL(t *testing.T) {
	ing, st, _ := newTestIngestor(t)
	ctx := context.Background()

	res, err := ing.IngestURL(ctx, URLUpload{URL: "https://example.com/faq", Content: "Shipping takes three days."}, types.ActionNone)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	doc, err := st.FindDocumentByURL(ctx, "https://example.com/faq")
	if err != nil {
		t.Fatalf("FindDocumentByURL: %v", err)
	}
	if doc.Type != types.TypeURL || doc.Title != "https://example.com/faq" || doc.ID.String() != res.DocumentID {
		t.Fatalf("unexpected url document: %+v", doc)
	}

	if _, err := ing.DeleteByURL(ctx, "https://example.com/faq"); err != nil {
		t.Fatalf("DeleteByURL: %v", err)
	}
	if _, err := ing.DeleteByURL(ctx, "https://example.com/faq"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestIngestURLFetchesPage(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, `<html><head><style>p{}</style></head><body><h1>Returns</h1><p>Items can be returned within 30&nbsp;days.</p><script>track()</script></body></html>`)
	}))
	defer srv.Close()

	st := store.NewMemoryStore()
	emb := &fakeEmbedder{}
	pipeline := NewEmbedPipeline(NewChunker(50, 5), emb, st).WithTokenCounter(wordCount)
	fetcher := NewPageFetcher(0, testMaxSize, retry.Attempts(3), retry.Delay(0))
	ing := NewIngestor(st, NewNormalizer(testMaxSize), pipeline, fetcher)

	res, err := ing.IngestURL(context.Background(), URLUpload{URL: srv.URL + "/returns", Title: "Returns policy"}, types.ActionNone)
	if err != nil {
		t.Fatalf("IngestURL: %v", err)
	}
	if res.Status != types.StatusCompleted {
		t.Fatalf("expected completed, got %+v", res)
	}
	doc, _ := st.FindDocumentByTitle(context.Background(), "Returns policy")
	if strings.Contains(doc.Content, "<") || strings.Contains(doc.Content, "track()") {
		t.Fatalf("markup not stripped: %q", doc.Content)
	}
	if !strings.Contains(doc.Content, "returned within 30") {
		t.Fatalf("page text missing: %q", doc.Content)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, got %d attempts", attempts)
	}
}

func TestIngestURLRejectsInvalidURL(t *testing.T) {
	ing, _, _ := newTestIngestor(t)
	_, err := ing.IngestURL(context.Background(), URLUpload{URL: "ftp://example.com/x", Content: "x"}, types.ActionNone)
	if !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest, got %v", err)
	}
}
