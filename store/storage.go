package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"faqrag/types"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as database/sql driver
	"github.com/pgvector/pgvector-go"
)

var (
	ErrNotFound       = errors.New("record not found")
	ErrDuplicateTitle = errors.New("document with this title already exists")
)

const uniqueViolation = "23505"

type DBStorer interface {
	Ping(context.Context) error
	CreateDocument(context.Context, types.Document) error
	ReplaceDocument(context.Context, types.Document) error
	SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error
	GetDocumentByID(context.Context, uuid.UUID) (*types.Document, error)
	FindDocumentByTitle(context.Context, string) (*types.Document, error)
	FindDocumentByURL(context.Context, string) (*types.Document, error)
	DeleteDocument(context.Context, uuid.UUID) error
	ListDocuments(ctx context.Context, filter types.DocumentFilter, limit, offset int) ([]types.DocumentSummary, int, error)
	DocumentFacets(context.Context) ([]types.DocumentFacet, error)
	SaveChunks(context.Context, uuid.UUID, []types.Chunk) error
	Search(context.Context, []float32, int) ([]types.Chunk, error)
	SearchStats(context.Context) (types.SearchStats, error)
	Close() error
}

var _ DBStorer = (*PostgresStore)(nil)

// Options controls database pool behavior.
type Options struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, connStr string, opts Options) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if opts.MaxOpenConns > 0 {
		db.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		db.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if opts.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(opts.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &PostgresStore{db: db}, nil
}

// NewPostgresStoreFromDB wraps an already opened handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) Init(ctx context.Context) error {
	return RunMigrations(ctx, p.db)
}

func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

const documentColumns = `id, title, type, status, content, extraction_status, chunk_count, file_size, file_type, url, error_message, created_at, updated_at`

func (p *PostgresStore) CreateDocument(ctx context.Context, doc types.Document) error {
	query := `INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	_, err := p.db.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		string(doc.Type),
		string(doc.Status),
		doc.Content,
		string(doc.ExtractionStatus),
		doc.ChunkCount,
		doc.FileSize,
		doc.FileType,
		doc.URL,
		doc.ErrorMessage,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateTitle, doc.Title)
	}
	return err
}

// ReplaceDocument overwrites the row of an existing document and drops its
// chunks in one transaction. On error neither the row nor the chunks change.
func (p *PostgresStore) ReplaceDocument(ctx context.Context, doc types.Document) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `UPDATE documents SET
			title = $2,
			type = $3,
			status = $4,
			content = $5,
			extraction_status = $6,
			chunk_count = $7,
			file_size = $8,
			file_type = $9,
			url = $10,
			error_message = $11,
			updated_at = $12
		WHERE id = $1`
	res, err := tx.ExecContext(ctx, query,
		doc.ID,
		doc.Title,
		string(doc.Type),
		string(doc.Status),
		doc.Content,
		string(doc.ExtractionStatus),
		doc.ChunkCount,
		doc.FileSize,
		doc.FileType,
		doc.URL,
		doc.ErrorMessage,
		doc.UpdatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %s", ErrDuplicateTitle, doc.Title)
	}
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = $1", doc.ID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	return tx.Commit()
}

func (p *PostgresStore) SetDocumentStatus(ctx context.Context, id uuid.UUID, status types.DocumentStatus, chunkCount int, errMsg string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE documents SET status = $2, chunk_count = $3, error_message = $4, updated_at = now() WHERE id = $1`,
		id, string(status), chunkCount, errMsg,
	)
	if err != nil {
		return err
	}
	return expectAffected(res)
}

func (p *PostgresStore) GetDocumentByID(ctx context.Context, docID uuid.UUID) (*types.Document, error) {
	return p.getDocument(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, docID)
}

// FindDocumentByTitle matches the title exactly (case-sensitive).
func (p *PostgresStore) FindDocumentByTitle(ctx context.Context, title string) (*types.Document, error) {
	return p.getDocument(ctx, `SELECT `+documentColumns+` FROM documents WHERE title = $1 LIMIT 1`, title)
}

func (p *PostgresStore) FindDocumentByURL(ctx context.Context, url string) (*types.Document, error) {
	return p.getDocument(ctx, `SELECT `+documentColumns+` FROM documents WHERE url = $1 ORDER BY created_at DESC LIMIT 1`, url)
}

func (p *PostgresStore) getDocument(ctx context.Context, query string, arg any) (*types.Document, error) {
	doc, err := scanDocument(p.db.QueryRowContext(ctx, query, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*types.Document, error) {
	var (
		doc              types.Document
		docType          string
		status           string
		extractionStatus string
	)
	if err := row.Scan(
		&doc.ID,
		&doc.Title,
		&docType,
		&status,
		&doc.Content,
		&extractionStatus,
		&doc.ChunkCount,
		&doc.FileSize,
		&doc.FileType,
		&doc.URL,
		&doc.ErrorMessage,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	); err != nil {
		return nil, err
	}
	doc.Type = types.DocumentType(docType)
	doc.Status = types.DocumentStatus(status)
	doc.ExtractionStatus = types.ExtractionStatus(extractionStatus)
	return &doc, nil
}

// DeleteDocument removes the document and all of its chunks in one transaction.
func (p *PostgresStore) DeleteDocument(ctx context.Context, docID uuid.UUID) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM chunks WHERE doc_id = $1", docID); err != nil {
		return fmt.Errorf("delete chunks: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM documents WHERE id = $1", docID)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if err := expectAffected(res); err != nil {
		return err
	}

	return tx.Commit()
}

func (p *PostgresStore) ListDocuments(ctx context.Context, filter types.DocumentFilter, limit, offset int) ([]types.DocumentSummary, int, error) {
	var (
		conds []string
		args  []any
	)
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.Type != "" {
		args = append(args, string(filter.Type))
		conds = append(conds, fmt.Sprintf("type = $%d", len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := p.db.QueryRowContext(ctx, `SELECT count(*) FROM documents`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}

	// content is left out on purpose, the listing never returns it
	query := fmt.Sprintf(`SELECT id, title, type, status, extraction_status, chunk_count, file_size, file_type, url, error_message, created_at, updated_at
		FROM documents%s
		ORDER BY created_at DESC
		LIMIT $%d OFFSET $%d`, where, len(args)+1, len(args)+2)
	rows, err := p.db.QueryContext(ctx, query, append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := make([]types.DocumentSummary, 0, limit)
	for rows.Next() {
		var (
			id uuid.UUID
			s  types.DocumentSummary
		)
		if err := rows.Scan(
			&id,
			&s.Title,
			&s.Type,
			&s.Status,
			&s.ExtractionStatus,
			&s.ChunkCount,
			&s.FileSize,
			&s.FileType,
			&s.URL,
			&s.ErrorMessage,
			&s.CreatedAt,
			&s.UpdatedAt,
		); err != nil {
			return nil, 0, err
		}
		s.ID = id.String()
		docs = append(docs, s)
	}
	return docs, total, rows.Err()
}

func (p *PostgresStore) DocumentFacets(ctx context.Context) ([]types.DocumentFacet, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT type, status, count(*), COALESCE(sum(chunk_count), 0)
		FROM documents
		GROUP BY type, status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var facets []types.DocumentFacet
	for rows.Next() {
		var f types.DocumentFacet
		if err := rows.Scan(&f.Type, &f.Status, &f.Documents, &f.Chunks); err != nil {
			return nil, err
		}
		facets = append(facets, f)
	}
	return facets, rows.Err()
}

func (p *PostgresStore) SaveChunks(ctx context.Context, docID uuid.UUID, chunks []types.Chunk) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	query := `
    INSERT INTO chunks (id, doc_id, position, type, section, content, token_count, embedding)
    VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	for _, c := range chunks {
		var embedding any
		if len(c.Embedding) > 0 {
			embedding = pgvector.NewVector(c.Embedding)
		}
		if _, err := tx.ExecContext(ctx, query,
			c.ID, docID, c.Index, c.Type, c.Section, c.Content, c.TokenCount, embedding,
		); err != nil {
			return fmt.Errorf("insert chunk %d: %w", c.Index, err)
		}
	}
	return tx.Commit()
}

// Search returns the chunks of completed documents closest to queryVec,
// Distance holding the cosine similarity.
func (p *PostgresStore) Search(ctx context.Context, queryVec []float32, limit int) ([]types.Chunk, error) {
	if len(queryVec) == 0 {
		return nil, errors.New("empty query vector")
	}

	vector := pgvector.NewVector(queryVec)

	query := `
		SELECT pc.id, pc.doc_id, pc.position, pc.type, pc.section, pc.content,
		       1-(pc.embedding <=> $1) as distance
		FROM chunks pc
		JOIN documents doc ON pc.doc_id = doc.id
		WHERE pc.embedding IS NOT NULL AND doc.status = 'completed'
		ORDER BY pc.embedding <=> $1
		LIMIT $2
	`
	rows, err := p.db.QueryContext(ctx, query, vector, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []types.Chunk
	for rows.Next() {
		var chunk types.Chunk
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocID,
			&chunk.Index,
			&chunk.Type,
			&chunk.Section,
			&chunk.Content,
			&chunk.Distance,
		); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

func (p *PostgresStore) SearchStats(ctx context.Context) (types.SearchStats, error) {
	var (
		stats         types.SearchStats
		lastIndexedAt sql.NullTime
	)
	err := p.db.QueryRowContext(ctx, `
		SELECT count(*),
		       count(*) FILTER (WHERE status = 'completed'),
		       max(updated_at) FILTER (WHERE status = 'completed')
		FROM documents`).Scan(&stats.TotalDocuments, &stats.CompletedDocuments, &lastIndexedAt)
	if err != nil {
		return stats, fmt.Errorf("document stats: %w", err)
	}
	if lastIndexedAt.Valid {
		stats.LastIndexedAt = &lastIndexedAt.Time
	}

	err = p.db.QueryRowContext(ctx, `SELECT count(*), count(embedding) FROM chunks`).
		Scan(&stats.TotalChunks, &stats.EmbeddedChunks)
	if err != nil {
		return stats, fmt.Errorf("chunk stats: %w", err)
	}
	return stats, nil
}

func (p *PostgresStore) Close() error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func expectAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
