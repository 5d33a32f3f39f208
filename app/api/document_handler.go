package api

import (
	"fmt"
	"io"
	"mime/multipart"
	"strings"

	"faqrag/loader"
	"faqrag/logger"
	"faqrag/types"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

type DocumentHandler struct {
	ingestor *loader.Ingestor
	lister   *loader.Lister
}

func NewDocumentHandler(ingestor *loader.Ingestor, lister *loader.Lister) *DocumentHandler {
	return &DocumentHandler{
		ingestor: ingestor,
		lister:   lister,
	}
}

// HandleUpload accepts a multipart file or a Base64 JSON body.
func (h *DocumentHandler) HandleUpload(c *fiber.Ctx) error {
	var (
		upload loader.Upload
		action types.DuplicateAction
		err    error
	)
	if isMultipart(c) {
		upload, err = h.readMultipart(c)
		action = types.DuplicateAction(strings.TrimSpace(c.FormValue("duplicateAction")))
	} else {
		upload, action, err = h.ingestor.Normalizer().DecodeJSONUpload(c.Body())
	}
	if err != nil {
		return err
	}

	ctx := logger.AddFields(c.UserContext(),
		zap.String("action", "upload_document"),
		zap.String("file", upload.FileName),
		zap.String("encoding", string(upload.Encoding)),
	)
	res, err := h.ingestor.Ingest(ctx, upload, action)
	if err != nil {
		return err
	}
	return c.JSON(ingestResponse(res))
}

func (h *DocumentHandler) HandleUploadURL(c *fiber.Ctx) error {
	var params types.URLParams
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return types.NewValidationError(errs)
	}

	ctx := logger.AddFields(c.UserContext(), zap.String("action", "upload_url"), zap.String("url", params.URL))
	res, err := h.ingestor.IngestURL(ctx, loader.URLUpload{
		URL:     params.URL,
		Title:   params.Title,
		Content: params.Content,
	}, types.DuplicateAction(params.DuplicateAction))
	if err != nil {
		return err
	}
	return c.JSON(ingestResponse(res))
}

func (h *DocumentHandler) HandleList(c *fiber.Ctx) error {
	filter := types.DocumentFilter{
		Status: types.DocumentStatus(c.Query("status")),
		Type:   types.DocumentType(c.Query("type")),
	}
	page := loader.Page{
		Limit:  c.QueryInt("limit", loader.DefaultPageLimit),
		Offset: c.QueryInt("offset", 0),
	}

	res, err := h.lister.List(c.UserContext(), filter, page)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":    true,
		"documents":  res.Documents,
		"stats":      res.Stats,
		"pagination": res.Pagination,
	})
}

// HandleUpdate replaces the file of an existing document. Multipart only.
func (h *DocumentHandler) HandleUpdate(c *fiber.Ctx) error {
	if !isMultipart(c) {
		return NewError(fiber.StatusBadRequest, "multipart/form-data is required")
	}

	documentID := strings.TrimSpace(c.FormValue("documentId"))
	if documentID == "" {
		return ErrMissingField("documentId")
	}
	fileName := strings.TrimSpace(c.FormValue("fileName"))
	if fileName == "" {
		return ErrMissingField("fileName")
	}

	upload, err := h.readMultipart(c)
	if err != nil {
		return err
	}
	upload.FileName = fileName

	ctx := logger.AddFields(c.UserContext(), zap.String("action", "update_document"), zap.String("document_id", documentID))
	res, err := h.ingestor.Reingest(ctx, documentID, upload)
	if err != nil {
		return err
	}
	return c.JSON(ingestResponse(res))
}

func (h *DocumentHandler) HandleDelete(c *fiber.Ctx) error {
	var (
		deleted *types.DocumentSummary
		err     error
	)
	ctx := logger.WithAction(c.UserContext(), "delete_document")
	switch documentID, pageURL := c.Query("documentId"), c.Query("url"); {
	case documentID != "":
		deleted, err = h.ingestor.Delete(ctx, documentID)
	case pageURL != "":
		deleted, err = h.ingestor.DeleteByURL(ctx, pageURL)
	default:
		return NewError(fiber.StatusBadRequest, "documentId or url is required")
	}
	if err != nil {
		return err
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"message":  "document deleted",
		"document": deleted,
	})
}

func (h *DocumentHandler) readMultipart(c *fiber.Ctx) (loader.Upload, error) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return loader.Upload{}, ErrMissingField("file")
	}
	normalizer := h.ingestor.Normalizer()
	if err := normalizer.CheckSize(fileHeader.Size); err != nil {
		return loader.Upload{}, err
	}

	data, err := readFormFile(fileHeader, normalizer.MaxSize)
	if err != nil {
		return loader.Upload{}, err
	}

	return loader.Upload{
		FileName:     fileHeader.Filename,
		FileType:     fileHeader.Header.Get(fiber.HeaderContentType),
		DeclaredSize: fileHeader.Size,
		Data:         data,
		Encoding:     loader.EncodingMultipart,
	}, nil
}

func readFormFile(fileHeader *multipart.FileHeader, limit int64) ([]byte, error) {
	file, err := fileHeader.Open()
	if err != nil {
		return nil, fmt.Errorf("open uploaded file: %w", err)
	}
	defer file.Close()

	// one extra byte lets the normalizer see an oversized file
	return io.ReadAll(io.LimitReader(file, limit+1))
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(string(c.Request().Header.ContentType()), fiber.MIMEMultipartForm)
}

func ingestResponse(res *loader.IngestResult) fiber.Map {
	if res.Skipped {
		return fiber.Map{
			"success":          false,
			"error":            CodeFileSkipped,
			"message":          res.Message,
			"documentId":       res.DocumentID,
			"existingDocument": res.Existing,
		}
	}
	return fiber.Map{
		"success":          true,
		"documentId":       res.DocumentID,
		"message":          res.Message,
		"status":           res.Status,
		"chunkCount":       res.ChunkCount,
		"extractionStatus": res.ExtractionStatus,
		"overwritten":      res.Overwritten,
	}
}
