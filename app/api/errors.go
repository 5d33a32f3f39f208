package api

import (
	"errors"
	"fmt"

	"faqrag/loader"
	"faqrag/model"
	"faqrag/types"

	"github.com/gofiber/fiber/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

const (
	CodeDuplicateFile = "DUPLICATE_FILE"
	CodeFileSkipped   = "FILE_SKIPPED"
	CodeDeleteFailed  = loader.KindDeleteFailed

	msgConfigError   = "서비스 설정 오류"
	msgInternalError = "internal server error"
)

func ErrorHandler(c *fiber.Ctx, err error) error {
	log := ctxzap.Extract(c.UserContext())

	var valErr types.ValidationError
	if errors.As(err, &valErr) {
		return c.Status(valErr.Status).JSON(valErr)
	}

	var apiErr Error
	if !errors.As(err, &apiErr) {
		apiErr = FromError(err)
	}

	if apiErr.Code >= fiber.StatusInternalServerError {
		log.Error("request failed", zap.Int("status", apiErr.Code), zap.Error(err))
	} else {
		log.Info("request rejected", zap.Int("status", apiErr.Code), zap.String("error", apiErr.Message))
	}
	return c.Status(apiErr.Code).JSON(apiErr)
}

type Error struct {
	Code     int                    `json:"-"`
	Success  bool                   `json:"success"`
	Message  string                 `json:"error"`
	Details  string                 `json:"details,omitempty"`
	Existing *types.DocumentSummary `json:"existingDocument,omitempty"`
}

// Error implements the Error interface
func (e Error) Error() string {
	return e.Message
}

func NewError(code int, err string) Error {
	return Error{
		Code:    code,
		Message: err,
	}
}

// FromError maps domain errors to their HTTP representation.
func FromError(err error) Error {
	var (
		dupErr   *loader.DuplicateError
		depErr   *loader.DependencyError
		fiberErr *fiber.Error
	)
	switch {
	case errors.As(err, &dupErr):
		existing := dupErr.Existing
		return Error{
			Code:     fiber.StatusConflict,
			Message:  CodeDuplicateFile,
			Details:  fmt.Sprintf("document %q already exists", existing.Title),
			Existing: &existing,
		}
	case errors.Is(err, loader.ErrBadRequest):
		return NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, loader.ErrPayloadTooLarge):
		return NewError(fiber.StatusRequestEntityTooLarge, err.Error())
	case errors.Is(err, loader.ErrNotFound):
		return NewError(fiber.StatusNotFound, err.Error())
	case errors.As(err, &depErr) && depErr.Kind == loader.KindDeleteFailed:
		return Error{
			Code:    fiber.StatusInternalServerError,
			Message: CodeDeleteFailed,
			Details: "failed to delete the existing document",
		}
	case errors.Is(err, model.ErrNotConfigured):
		return Error{
			Code:    fiber.StatusInternalServerError,
			Message: msgConfigError,
			Details: "LLM or embedding service is not configured",
		}
	case errors.Is(err, model.ErrUnavailable):
		return Error{
			Code:    fiber.StatusServiceUnavailable,
			Message: "upstream service unavailable",
			Details: "the embedding or LLM service could not be reached",
		}
	case errors.As(err, &fiberErr):
		return NewError(fiberErr.Code, fiberErr.Message)
	default:
		return NewError(fiber.StatusInternalServerError, msgInternalError)
	}
}

func ErrBadRequest() Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: "invalid JSON request",
	}
}

func ErrMissingField(field string) Error {
	return Error{
		Code:    fiber.StatusBadRequest,
		Message: fmt.Sprintf("%s is required", field),
	}
}
