package types

import (
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
)

type ChunkType string

const (
	ChunkText     ChunkType = "text"
	ChunkTableRow ChunkType = "tablerow"
)

type DocumentStatus string

const (
	StatusProcessing DocumentStatus = "processing"
	StatusCompleted  DocumentStatus = "completed"
	StatusFailed     DocumentStatus = "failed"
)

func (s DocumentStatus) Valid() bool {
	switch s {
	case StatusProcessing, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

type DocumentType string

const (
	TypePDF   DocumentType = "pdf"
	TypeDOCX  DocumentType = "docx"
	TypeTXT   DocumentType = "txt"
	TypeURL   DocumentType = "url"
	TypeOther DocumentType = "other"
)

// IsFile reports whether t belongs to the uploaded-file family used by file statistics.
func (t DocumentType) IsFile() bool {
	return t == TypePDF || t == TypeDOCX || t == TypeTXT
}

func (t DocumentType) Valid() bool {
	switch t {
	case TypePDF, TypeDOCX, TypeTXT, TypeURL, TypeOther:
		return true
	}
	return false
}

// TypeFromFileName derives the document type from the file extension.
func TypeFromFileName(name string) DocumentType {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".pdf":
		return TypePDF
	case ".docx":
		return TypeDOCX
	case ".txt", ".md", ".markdown", ".csv":
		return TypeTXT
	default:
		return TypeOther
	}
}

// ExtractionStatus tells whether Content holds the real document text
// or a metadata-only placeholder.
type ExtractionStatus string

const (
	ExtractionFull        ExtractionStatus = "full"
	ExtractionPlaceholder ExtractionStatus = "placeholder"
)

type DuplicateAction string

const (
	ActionNone      DuplicateAction = ""
	ActionSkip      DuplicateAction = "skip"
	ActionOverwrite DuplicateAction = "overwrite"
)

func (a DuplicateAction) Valid() bool {
	return a == ActionNone || a == ActionSkip || a == ActionOverwrite
}

type Chunk struct {
	ID         uuid.UUID
	DocID      uuid.UUID
	Index      int
	Type       string
	Section    string
	Content    string
	TokenCount int
	Embedding  []float32
	Distance   float64 // cosine similarity, filled by search
}

type Document struct {
	ID               uuid.UUID
	Title            string // original file name, the de-duplication key
	Type             DocumentType
	Status           DocumentStatus
	Content          string
	ExtractionStatus ExtractionStatus
	ChunkCount       int
	FileSize         int64
	FileType         string // declared MIME type
	URL              string
	ErrorMessage     string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Summary drops the content field.
func (d Document) Summary() DocumentSummary {
	return DocumentSummary{
		ID:               d.ID.String(),
		Title:            d.Title,
		Type:             d.Type,
		Status:           d.Status,
		ExtractionStatus: d.ExtractionStatus,
		ChunkCount:       d.ChunkCount,
		FileSize:         d.FileSize,
		FileType:         d.FileType,
		URL:              d.URL,
		ErrorMessage:     d.ErrorMessage,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	}
}

// DocumentSummary is the listing representation of a Document.
type DocumentSummary struct {
	ID               string           `json:"id"`
	Title            string           `json:"title"`
	Type             DocumentType     `json:"type"`
	Status           DocumentStatus   `json:"status"`
	ExtractionStatus ExtractionStatus `json:"extraction_status"`
	ChunkCount       int              `json:"chunk_count"`
	FileSize         int64            `json:"file_size"`
	FileType         string           `json:"file_type"`
	URL              string           `json:"url,omitempty"`
	ErrorMessage     string           `json:"error_message,omitempty"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

type DocumentFilter struct {
	Status DocumentStatus
	Type   DocumentType
}

// DocumentFacet is one (type, status) group of the full document set.
type DocumentFacet struct {
	Type      DocumentType
	Status    DocumentStatus
	Documents int
	Chunks    int
}

type DocumentStats struct {
	TotalDocuments     int `json:"totalDocuments"`
	CompletedDocuments int `json:"completedDocuments"`
	TotalChunks        int `json:"totalChunks"`
	PendingDocuments   int `json:"pendingDocuments"`
	FailedDocuments    int `json:"failedDocuments"`
}

type ListStats struct {
	DocumentStats
	FileStats DocumentStats `json:"fileStats"`
	URLStats  DocumentStats `json:"urlStats"`
}

type Pagination struct {
	Limit   int  `json:"limit"`
	Offset  int  `json:"offset"`
	Total   int  `json:"total"`
	HasMore bool `json:"hasMore"`
}

// SearchStats aggregates the retrieval corpus.
type SearchStats struct {
	TotalDocuments     int        `json:"totalDocuments"`
	CompletedDocuments int        `json:"completedDocuments"`
	TotalChunks        int        `json:"totalChunks"`
	EmbeddedChunks     int        `json:"embeddedChunks"`
	LastIndexedAt      *time.Time `json:"lastIndexedAt"`
}
