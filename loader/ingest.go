package loader

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"faqrag/store"
	"faqrag/types"

	"github.com/google/uuid"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// IngestResult describes the outcome of an upload. A failed pipeline is
// reported here with Status failed, it is not an error.
type IngestResult struct {
	DocumentID       string
	Status           types.DocumentStatus
	ChunkCount       int
	Message          string
	ExtractionStatus types.ExtractionStatus
	Skipped          bool
	Overwritten      bool
	Existing         *types.DocumentSummary
}

// URLUpload is a web page to index. Content is fetched when empty.
type URLUpload struct {
	URL     string
	Title   string
	Content string
}

type Ingestor struct {
	store      store.DBStorer
	normalizer *Normalizer
	resolver   *Resolver
	pipeline   Pipeline
	fetcher    *PageFetcher
	now        func() time.Time
}

func NewIngestor(storer store.DBStorer, normalizer *Normalizer, pipeline Pipeline, fetcher *PageFetcher) *Ingestor {
	return &Ingestor{
		store:      storer,
		normalizer: normalizer,
		resolver:   NewResolver(storer),
		pipeline:   pipeline,
		fetcher:    fetcher,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (i *Ingestor) Normalizer() *Normalizer {
	return i.normalizer
}

func (i *Ingestor) Resolver() *Resolver {
	return i.resolver
}

// Ingest normalizes the upload, applies the duplicate policy, stores the
// document and indexes it synchronously.
func (i *Ingestor) Ingest(ctx context.Context, u Upload, action types.DuplicateAction) (*IngestResult, error) {
	content, err := i.normalizer.Normalize(ctx, u)
	if err != nil {
		return nil, err
	}

	title := strings.TrimSpace(u.FileName)
	decision, err := i.resolver.Resolve(ctx, title, action)
	if err != nil {
		return nil, err
	}
	if decision.Skipped {
		return skippedResult(decision.Existing), nil
	}

	now := i.now()
	doc := types.Document{
		ID:               uuid.New(),
		Title:            title,
		Type:             content.Type,
		Status:           types.StatusProcessing,
		Content:          content.Text,
		ExtractionStatus: content.Extraction,
		FileSize:         content.FileSize,
		FileType:         content.FileType,
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	res, err := i.createAndIndex(ctx, doc)
	if err != nil {
		return nil, err
	}
	res.Overwritten = decision.Overwritten
	if decision.Overwritten && res.Status == types.StatusCompleted {
		res.Message = "document overwritten and processed successfully"
	}
	return res, nil
}

// IngestURL indexes a web page under its title, the URL when no title is given.
func (i *Ingestor) IngestURL(ctx context.Context, u URLUpload, action types.DuplicateAction) (*IngestResult, error) {
	pageURL, err := url.Parse(strings.TrimSpace(u.URL))
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return nil, badRequest("invalid url %q", u.URL)
	}

	text := cleanText(u.Content)
	fileType := "text/plain"
	if text == "" {
		if i.fetcher == nil {
			return nil, badRequest("content is required")
		}
		page, err := i.fetcher.Fetch(ctx, pageURL.String())
		if err != nil {
			return nil, err
		}
		text, fileType = page.Text, page.ContentType
	}
	if text == "" {
		return nil, badRequest("no text found at %s", pageURL)
	}
	if size := int64(len(text)); size > i.normalizer.MaxSize {
		return nil, tooLarge(size, i.normalizer.MaxSize)
	}

	title := strings.TrimSpace(u.Title)
	if title == "" {
		title = pageURL.String()
	}

	decision, err := i.resolver.Resolve(ctx, title, action)
	if err != nil {
		return nil, err
	}
	if decision.Skipped {
		return skippedResult(decision.Existing), nil
	}

	now := i.now()
	doc := types.Document{
		ID:               uuid.New(),
		Title:            title,
		Type:             types.TypeURL,
		Status:           types.StatusProcessing,
		Content:          text,
		ExtractionStatus: types.ExtractionFull,
		FileSize:         int64(len(text)),
		FileType:         fileType,
		URL:              pageURL.String(),
		CreatedAt:        now,
		UpdatedAt:        now,
	}

	res, err := i.createAndIndex(ctx, doc)
	if err != nil {
		return nil, err
	}
	res.Overwritten = decision.Overwritten
	return res, nil
}

// Reingest replaces the content of an existing document, keeping its id.
func (i *Ingestor) Reingest(ctx context.Context, documentID string, u Upload) (*IngestResult, error) {
	id, err := parseID(documentID)
	if err != nil {
		return nil, err
	}

	existing, err := i.store.GetDocumentByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, dependency("get document", err)
	}

	content, err := i.normalizer.Normalize(ctx, u)
	if err != nil {
		return nil, err
	}

	doc := *existing
	doc.Title = strings.TrimSpace(u.FileName)
	doc.Type = content.Type
	doc.Status = types.StatusProcessing
	doc.Content = content.Text
	doc.ExtractionStatus = content.Extraction
	doc.ChunkCount = 0
	doc.FileSize = content.FileSize
	doc.FileType = content.FileType
	doc.ErrorMessage = ""
	doc.UpdatedAt = i.now()

	if err := i.store.ReplaceDocument(ctx, doc); err != nil {
		if errors.Is(err, store.ErrDuplicateTitle) {
			return nil, i.duplicateOf(ctx, doc.Title)
		}
		return nil, dependency("replace document", err)
	}

	res, err := i.index(ctx, doc)
	if err != nil {
		return nil, err
	}
	if res.Status == types.StatusCompleted {
		res.Message = "document updated successfully"
	}
	return res, nil
}

// Delete removes a document and its chunks.
func (i *Ingestor) Delete(ctx context.Context, documentID string) (*types.DocumentSummary, error) {
	id, err := parseID(documentID)
	if err != nil {
		return nil, err
	}
	doc, err := i.store.GetDocumentByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, documentID)
	}
	if err != nil {
		return nil, dependency("get document", err)
	}
	return i.delete(ctx, doc)
}

// DeleteByURL removes the most recent document created from pageURL.
func (i *Ingestor) DeleteByURL(ctx context.Context, pageURL string) (*types.DocumentSummary, error) {
	doc, err := i.store.FindDocumentByURL(ctx, strings.TrimSpace(pageURL))
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, pageURL)
	}
	if err != nil {
		return nil, dependency("find document by url", err)
	}
	return i.delete(ctx, doc)
}

func (i *Ingestor) delete(ctx context.Context, doc *types.Document) (*types.DocumentSummary, error) {
	err := i.store.DeleteDocument(ctx, doc.ID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, doc.ID)
	}
	if err != nil {
		return nil, &DependencyError{Op: "delete document", Kind: KindDeleteFailed, Err: err}
	}

	ctxzap.Extract(ctx).Info("document deleted",
		zap.String("document_id", doc.ID.String()),
		zap.String("title", doc.Title),
	)
	summary := doc.Summary()
	return &summary, nil
}

func (i *Ingestor) createAndIndex(ctx context.Context, doc types.Document) (*IngestResult, error) {
	if err := i.store.CreateDocument(ctx, doc); err != nil {
		// another request created the same title after our duplicate check
		if errors.Is(err, store.ErrDuplicateTitle) {
			return nil, i.duplicateOf(ctx, doc.Title)
		}
		return nil, dependency("create document", err)
	}

	ctxzap.Extract(ctx).Info("document created",
		zap.String("document_id", doc.ID.String()),
		zap.String("title", doc.Title),
		zap.String("type", string(doc.Type)),
		zap.String("extraction", string(doc.ExtractionStatus)),
	)

	return i.index(ctx, doc)
}

// index runs the pipeline and records the final status. A cancelled context
// leaves the document in processing.
func (i *Ingestor) index(ctx context.Context, doc types.Document) (*IngestResult, error) {
	log := ctxzap.Extract(ctx).With(zap.String("document_id", doc.ID.String()))

	status := types.StatusCompleted
	chunkCount := 0
	message := "document processed successfully"
	errMsg := ""

	result, err := i.pipeline.Process(ctx, doc)
	switch {
	case err != nil && ctx.Err() != nil:
		return nil, ctx.Err()
	case err != nil:
		status = types.StatusFailed
		errMsg = fmt.Sprintf("pipeline error: %v", err)
		message = errMsg
		log.Error("pipeline failed", zap.Error(err))
	case result == nil || !result.Success:
		status = types.StatusFailed
		errMsg = "pipeline returned no result"
		if result != nil && result.Error != "" {
			errMsg = result.Error
		}
		message = errMsg
		log.Warn("pipeline unsuccessful", zap.String("reason", errMsg))
	default:
		chunkCount = result.ChunkCount
	}

	if err := i.store.SetDocumentStatus(ctx, doc.ID, status, chunkCount, errMsg); err != nil {
		return nil, dependency("update document status", err)
	}

	return &IngestResult{
		DocumentID:       doc.ID.String(),
		Status:           status,
		ChunkCount:       chunkCount,
		Message:          message,
		ExtractionStatus: doc.ExtractionStatus,
	}, nil
}

func (i *Ingestor) duplicateOf(ctx context.Context, title string) error {
	check, err := i.resolver.Check(ctx, title)
	if err != nil || !check.IsDuplicate {
		return &DuplicateError{Existing: types.DocumentSummary{Title: title}}
	}
	return &DuplicateError{Existing: *check.Existing}
}

func skippedResult(existing *types.DocumentSummary) *IngestResult {
	return &IngestResult{
		DocumentID:       existing.ID,
		Status:           existing.Status,
		ChunkCount:       existing.ChunkCount,
		Message:          fmt.Sprintf("document %q already exists, upload skipped", existing.Title),
		ExtractionStatus: existing.ExtractionStatus,
		Skipped:          true,
		Existing:         existing,
	}
}

func parseID(s string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(s))
	if err != nil {
		return uuid.Nil, badRequest("invalid document id %q", s)
	}
	return id, nil
}
