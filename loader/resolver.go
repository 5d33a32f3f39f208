package loader

import (
	"context"
	"errors"

	"faqrag/store"
	"faqrag/types"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// Check is the result of a duplicate lookup.
type Check struct {
	IsDuplicate bool
	Existing    *types.DocumentSummary
}

// Decision tells the caller what to do after duplicate resolution.
type Decision struct {
	Proceed     bool
	Skipped     bool
	Overwritten bool
	Existing    *types.DocumentSummary
}

// Resolver applies the duplicate policy keyed by document title.
type Resolver struct {
	store store.DBStorer
}

func NewResolver(storer store.DBStorer) *Resolver {
	return &Resolver{store: storer}
}

func (r *Resolver) Check(ctx context.Context, title string) (*Check, error) {
	doc, err := r.store.FindDocumentByTitle(ctx, title)
	if errors.Is(err, store.ErrNotFound) {
		return &Check{}, nil
	}
	if err != nil {
		return nil, dependency("find document by title", err)
	}
	summary := doc.Summary()
	return &Check{IsDuplicate: true, Existing: &summary}, nil
}

func (r *Resolver) Resolve(ctx context.Context, title string, action types.DuplicateAction) (*Decision, error) {
	if !action.Valid() {
		return nil, badRequest("unknown duplicate action %q", action)
	}

	check, err := r.Check(ctx, title)
	if err != nil {
		return nil, err
	}
	if !check.IsDuplicate {
		return &Decision{Proceed: true}, nil
	}

	log := ctxzap.Extract(ctx).With(
		zap.String("title", title),
		zap.String("existing_id", check.Existing.ID),
	)

	switch action {
	case types.ActionSkip:
		log.Info("duplicate skipped")
		return &Decision{Skipped: true, Existing: check.Existing}, nil

	case types.ActionOverwrite:
		id, err := parseID(check.Existing.ID)
		if err != nil {
			return nil, dependency("parse existing id", err)
		}
		if err := r.store.DeleteDocument(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
			log.Error("failed to delete document being overwritten", zap.Error(err))
			return nil, &DependencyError{Op: "delete existing document", Kind: KindDeleteFailed, Err: err}
		}
		log.Info("existing document removed for overwrite")
		return &Decision{Proceed: true, Overwritten: true, Existing: check.Existing}, nil

	default:
		return nil, &DuplicateError{Existing: *check.Existing}
	}
}
