package types

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Validater interface {
	Validate() map[string]string
}

func Validate(v Validater) map[string]string {
	return v.Validate()
}

type ChatParams struct {
	Message string `json:"message" validate:"required"`
}

func (params *ChatParams) Validate() map[string]string {
	params.Message = strings.TrimSpace(params.Message)
	return validateStruct(params)
}

// UploadParams is the JSON (Base64) variant of a document upload.
type UploadParams struct {
	FileName        string `json:"fileName" validate:"required"`
	FileSize        int64  `json:"fileSize" validate:"gte=0"`
	FileType        string `json:"fileType"`
	Content         string `json:"content" validate:"required"`
	DuplicateAction string `json:"duplicateAction"`
}

func (params *UploadParams) Validate() map[string]string {
	params.FileName = strings.TrimSpace(params.FileName)
	return validateStruct(params)
}

type URLParams struct {
	URL             string `json:"url" validate:"required,url"`
	Title           string `json:"title"`
	Content         string `json:"content"`
	DuplicateAction string `json:"duplicateAction"`
}

func (params *URLParams) Validate() map[string]string {
	params.URL = strings.TrimSpace(params.URL)
	params.Title = strings.TrimSpace(params.Title)
	return validateStruct(params)
}

func validateStruct(params any) map[string]string {
	err := validate.Struct(params)
	if err == nil {
		return nil
	}
	var errs validator.ValidationErrors
	if !errors.As(err, &errs) {
		return map[string]string{"request": err.Error()}
	}
	out := make(map[string]string, len(errs))
	for _, e := range errs {
		out[e.Field()] = fmt.Sprintf("failed on '%s' tag", e.Tag())
	}
	return out
}

func NewValidationError(errors map[string]string) ValidationError {
	return ValidationError{
		Status: http.StatusUnprocessableEntity,
		Errors: errors,
	}
}

type ValidationError struct {
	Status int               `json:"status"`
	Errors map[string]string `json:"errors"`
}

func (e ValidationError) Error() string {
	return "validation failed"
}

type ChatResponse struct {
	Message        string   `json:"message"`
	Sources        []Source `json:"sources"`
	Confidence     int      `json:"confidence"`
	ProcessingTime int64    `json:"processingTime"`
	Model          string   `json:"model"`
	IsLLMGenerated bool     `json:"isLLMGenerated"`
}

type Source struct {
	DocID      string `json:"documentId"`
	Title      string `json:"title"`
	Content    string `json:"content"`
	Similarity int    `json:"similarity"`
	URL        string `json:"url"`
}

type ChatStats struct {
	SearchStats
	AverageChunksPerDocument float64 `json:"averageChunksPerDocument"`
	Model                    string  `json:"model"`
	EmbeddingModel           string  `json:"embeddingModel"`
	CachedQueries            int     `json:"cachedQueries"`
}
