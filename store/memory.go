package store

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"faqrag/types"

	"github.com/google/uuid"
)

var _ DBStorer = (*MemoryStore)(nil)

// MemoryStore keeps documents and chunks in memory and is safe for concurrent use.
// It enforces the same unique title constraint as the Postgres schema.
type MemoryStore struct {
	mu      sync.RWMutex
	docs    map[uuid.UUID]types.Document
	byTitle map[string]uuid.UUID
	chunks  map[uuid.UUID][]types.Chunk
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		docs:    make(map[uuid.UUID]types.Document),
		byTitle: make(map[string]uuid.UUID),
		chunks:  make(map[uuid.UUID][]types.Chunk),
	}
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (m *MemoryStore) CreateDocument(ctx context.Context, doc types.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.byTitle[doc.Title]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTitle, doc.Title)
	}
	m.docs[doc.ID] = doc
	m.byTitle[doc.Title] = doc.ID
	return nil
}

// ReplaceDocument overwrites an existing document and drops its chunks.
func (m *MemoryStore) ReplaceDocument(ctx context.Context, doc types.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.docs[doc.ID]
	if !ok {
		return ErrNotFound
	}
	if old.Title != doc.Title {
		if id, taken := m.byTitle[doc.Title]; taken && id != doc.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateTitle, doc.Title)
		}
		delete(m.byTitle, old.Title)
		m.byTitle[doc.Title] = doc.ID
	}
	doc.CreatedAt = old.CreatedAt
	m.docs[doc.ID] = doc
	delete(m.chunks, doc.ID)
	return nil
}

func (m *MemoryStore) SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.Status = status
	doc.ChunkCount = chunkCount
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	m.docs[id] = doc
	return nil
}

func (m *MemoryStore) GetDocumentByID(ctx context.Context, id uuid.UUID) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (m *MemoryStore) FindDocumentByTitle(ctx context.Context, title string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.byTitle[title]
	if !ok {
		return nil, ErrNotFound
	}
	doc := m.docs[id]
	return &doc, nil
}

func (m *MemoryStore) FindDocumentByURL(ctx context.Context, url string) (*types.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var found *types.Document
	for _, doc := range m.docs {
		if doc.URL != url {
			continue
		}
		if found == nil || doc.CreatedAt.After(found.CreatedAt) {
			d := doc
			found = &d
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryStore) DeleteDocument(ctx context.Context, id uuid.UUID) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.docs[id]
	if !ok {
		return ErrNotFound
	}
	delete(m.docs, id)
	delete(m.byTitle, doc.Title)
	delete(m.chunks, id)
	return nil
}

func (m *MemoryStore) ListDocuments(ctx context.Context, filter types.DocumentFilter, limit, offset int) ([]types.DocumentSummary, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	m.mu.RLock()
	matched := make([]types.Document, 0, len(m.docs))
	for _, doc := range m.docs {
		if filter.Status != "" && doc.Status != filter.Status {
			continue
		}
		if filter.Type != "" && doc.Type != filter.Type {
			continue
		}
		matched = append(matched, doc)
	}
	m.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if offset >= total {
		return []types.DocumentSummary{}, total, nil
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}

	out := make([]types.DocumentSummary, 0, end-offset)
	for _, doc := range matched[offset:end] {
		out = append(out, doc.Summary())
	}
	return out, total, nil
}

func (m *MemoryStore) DocumentFacets(ctx context.Context) ([]types.DocumentFacet, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	type key struct {
		t types.DocumentType
		s types.DocumentStatus
	}
	groups := make(map[key]*types.DocumentFacet)
	for _, doc := range m.docs {
		k := key{doc.Type, doc.Status}
		f, ok := groups[k]
		if !ok {
			f = &types.DocumentFacet{Type: doc.Type, Status: doc.Status}
			groups[k] = f
		}
		f.Documents++
		f.Chunks += doc.ChunkCount
	}

	facets := make([]types.DocumentFacet, 0, len(groups))
	for _, f := range groups {
		facets = append(facets, *f)
	}
	return facets, nil
}

func (m *MemoryStore) SaveChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.docs[docID]; !ok {
		return ErrNotFound
	}
	for _, c := range chunks {
		c.DocID = docID
		m.chunks[docID] = append(m.chunks[docID], c)
	}
	return nil
}

// Search ranks embedded chunks of completed documents by cosine similarity.
func (m *MemoryStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(queryVec) == 0 {
		return nil, errors.New("empty query vector")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var hits []types.Chunk
	for docID, chunks := range m.chunks {
		if m.docs[docID].Status != types.StatusCompleted {
			continue
		}
		for _, c := range chunks {
			if len(c.Embedding) != len(queryVec) {
				continue
			}
			c.Distance = cosine(queryVec, c.Embedding)
			hits = append(hits, c)
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance > hits[j].Distance })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *MemoryStore) SearchStats(ctx context.Context) (types.SearchStats, error) {
	var stats types.SearchStats
	if err := ctx.Err(); err != nil {
		return stats, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, doc := range m.docs {
		stats.TotalDocuments++
		if doc.Status != types.StatusCompleted {
			continue
		}
		stats.CompletedDocuments++
		if stats.LastIndexedAt == nil || doc.UpdatedAt.After(*stats.LastIndexedAt) {
			t := doc.UpdatedAt
			stats.LastIndexedAt = &t
		}
	}
	for _, chunks := range m.chunks {
		for _, c := range chunks {
			stats.TotalChunks++
			if len(c.Embedding) > 0 {
				stats.EmbeddedChunks++
			}
		}
	}
	return stats, nil
}

func (m *MemoryStore) Close() error {
	return nil
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
