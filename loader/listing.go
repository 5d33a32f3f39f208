package loader

import (
	"context"

	"faqrag/store"
	"faqrag/types"
)

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

type Page struct {
	Limit  int
	Offset int
}

// normalize clamps the page to the allowed window.
func (p Page) normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}

type ListResult struct {
	Documents  []types.DocumentSummary `json:"documents"`
	Stats      types.ListStats         `json:"stats"`
	Pagination types.Pagination        `json:"pagination"`
}

type Lister struct {
	store store.DBStorer
}

func NewLister(storer store.DBStorer) *Lister {
	return &Lister{store: storer}
}

// List returns one page of documents matching filter. Stats always cover the
// whole collection regardless of filter.
func (l *Lister) List(ctx context.Context, filter types.DocumentFilter, page Page) (*ListResult, error) {
	if filter.Status != "" && !filter.Status.Valid() {
		return nil, badRequest("unknown status %q", filter.Status)
	}
	if filter.Type != "" && !filter.Type.Valid() {
		return nil, badRequest("unknown type %q", filter.Type)
	}
	page = page.normalize()

	docs, total, err := l.store.ListDocuments(ctx, filter, page.Limit, page.Offset)
	if err != nil {
		return nil, dependency("list documents", err)
	}
	if docs == nil {
		docs = []types.DocumentSummary{}
	}

	facets, err := l.store.DocumentFacets(ctx)
	if err != nil {
		return nil, dependency("document facets", err)
	}

	return &ListResult{
		Documents: docs,
		Stats:     ReduceStats(facets),
		Pagination: types.Pagination{
			Limit:   page.Limit,
			Offset:  page.Offset,
			Total:   total,
			HasMore: page.Offset+len(docs) < total,
		},
	}, nil
}

// ReduceStats folds per (type, status) facets into overall, file and URL stats.
func ReduceStats(facets []types.DocumentFacet) types.ListStats {
	var stats types.ListStats
	for _, f := range facets {
		addFacet(&stats.DocumentStats, f)
		switch {
		case f.Type.IsFile():
			addFacet(&stats.FileStats, f)
		case f.Type == types.TypeURL:
			addFacet(&stats.URLStats, f)
		}
	}
	return stats
}

func addFacet(s *types.DocumentStats, f types.DocumentFacet) {
	s.TotalDocuments += f.Documents
	s.TotalChunks += f.Chunks
	switch f.Status {
	case types.StatusCompleted:
		s.CompletedDocuments += f.Documents
	case types.StatusProcessing:
		s.PendingDocuments += f.Documents
	case types.StatusFailed:
		s.FailedDocuments += f.Documents
	}
}
