package loader

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"mime"
	"net/http"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"faqrag/types"

	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type Encoding string

const (
	EncodingMultipart Encoding = "multipart"
	EncodingBase64    Encoding = "base64"
)

// Upload is a file as received by a transport, before normalization.
type Upload struct {
	FileName     string
	FileType     string
	DeclaredSize int64
	Data         []byte
	Encoding     Encoding
}

// Content is the transport independent result of normalization.
type Content struct {
	Text       string
	Type       types.DocumentType
	FileSize   int64
	FileType   string
	Extraction types.ExtractionStatus
}

type Normalizer struct {
	MaxSize int64
}

func NewNormalizer(maxSize int64) *Normalizer {
	return &Normalizer{MaxSize: maxSize}
}

// DecodeJSONUpload parses the Base64-in-JSON upload body. The declared size is
// checked before the content is decoded.
func (n *Normalizer) DecodeJSONUpload(body []byte) (Upload, types.DuplicateAction, error) {
	if len(strings.TrimSpace(string(body))) == 0 {
		return Upload{}, "", badRequest("request body is empty")
	}

	var params types.UploadParams
	if err := json.Unmarshal(body, &params); err != nil {
		return Upload{}, "", badRequest("invalid JSON request")
	}
	if errs := params.Validate(); len(errs) > 0 {
		fields := make([]string, 0, len(errs))
		for field := range errs {
			fields = append(fields, field)
		}
		sort.Strings(fields)
		return Upload{}, "", badRequest("missing or invalid fields: %s", strings.Join(fields, ", "))
	}

	if params.FileSize > n.MaxSize {
		return Upload{}, "", tooLarge(params.FileSize, n.MaxSize)
	}

	encoded := stripDataURLPrefix(params.Content)
	if est := int64(base64.StdEncoding.DecodedLen(len(encoded))); est > n.MaxSize+2 {
		return Upload{}, "", tooLarge(est, n.MaxSize)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return Upload{}, "", badRequest("invalid base64 content")
	}
	if int64(len(data)) > n.MaxSize {
		return Upload{}, "", tooLarge(int64(len(data)), n.MaxSize)
	}

	return Upload{
		FileName:     params.FileName,
		FileType:     params.FileType,
		DeclaredSize: params.FileSize,
		Data:         data,
		Encoding:     EncodingBase64,
	}, types.DuplicateAction(params.DuplicateAction), nil
}

func stripDataURLPrefix(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "data:") {
		if i := strings.Index(s, ";base64,"); i >= 0 {
			return s[i+len(";base64,"):]
		}
	}
	return s
}

// CheckSize rejects a declared size above the upload limit.
func (n *Normalizer) CheckSize(size int64) error {
	if size > n.MaxSize {
		return tooLarge(size, n.MaxSize)
	}
	return nil
}

// Normalize turns an upload into text ready for chunking. Extraction failures
// degrade to a metadata placeholder instead of failing the upload.
func (n *Normalizer) Normalize(ctx context.Context, u Upload) (*Content, error) {
	if err := n.CheckSize(u.DeclaredSize); err != nil {
		return nil, err
	}
	if int64(len(u.Data)) > n.MaxSize {
		return nil, tooLarge(int64(len(u.Data)), n.MaxSize)
	}
	if strings.TrimSpace(u.FileName) == "" {
		return nil, badRequest("file name is required")
	}
	if len(u.Data) == 0 {
		return nil, badRequest("file is empty")
	}

	docType := types.TypeFromFileName(u.FileName)
	content := &Content{
		Type:       docType,
		FileSize:   int64(len(u.Data)),
		FileType:   detectFileType(u.FileType, u.FileName, u.Data),
		Extraction: types.ExtractionFull,
	}

	text, err := extractText(docType, u.Data)
	text = cleanText(text)
	if err != nil || text == "" {
		ctxzap.Extract(ctx).Warn("text extraction unavailable, storing placeholder",
			zap.String("file", u.FileName),
			zap.String("type", string(docType)),
			zap.Error(err),
		)
		content.Text = placeholderText(u.FileName, docType, u.Data)
		content.Extraction = types.ExtractionPlaceholder
		return content, nil
	}

	content.Text = text
	return content, nil
}

func detectFileType(declared, fileName string, data []byte) string {
	if declared = strings.TrimSpace(declared); declared != "" {
		return declared
	}
	if byExt := mime.TypeByExtension(strings.ToLower(filepath.Ext(fileName))); byExt != "" {
		return byExt
	}
	return http.DetectContentType(data)
}

func extractText(docType types.DocumentType, data []byte) (string, error) {
	switch docType {
	case types.TypePDF:
		return extractPDF(data)
	case types.TypeDOCX:
		return extractDOCX(data)
	default:
		if !utf8.Valid(data) {
			return "", fmt.Errorf("content of type %s is not valid UTF-8 text", docType)
		}
		return string(data), nil
	}
}

func placeholderText(fileName string, docType types.DocumentType, data []byte) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Document: %s\n", fileName)
	fmt.Fprintf(&b, "Type: %s\n", docType)
	fmt.Fprintf(&b, "Size: %d bytes\n", len(data))
	if docType == types.TypePDF {
		if pages, err := pdfPageCount(data); err == nil {
			fmt.Fprintf(&b, "Pages: %d\n", pages)
		}
	}
	b.WriteString("Full text extraction for this document is deferred; only its metadata is indexed.")
	return b.String()
}

func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\x00", "")
	return strings.TrimSpace(s)
}
