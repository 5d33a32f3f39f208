package api

import (
	"context"

	"faqrag/logger"
	"faqrag/types"

	"github.com/gofiber/fiber/v2"
)

type ChatService interface {
	Answer(ctx context.Context, question string) (*types.ChatResponse, error)
	Stats(ctx context.Context) (*types.ChatStats, error)
}

type ChatHandler struct {
	assistant ChatService
}

func NewChatHandler(assistant ChatService) *ChatHandler {
	return &ChatHandler{assistant: assistant}
}

func (h *ChatHandler) HandleChat(c *fiber.Ctx) error {
	var params types.ChatParams
	if err := c.BodyParser(&params); err != nil {
		return ErrBadRequest()
	}
	if errs := types.Validate(&params); len(errs) > 0 {
		return ErrMissingField("message")
	}

	ctx := logger.WithAction(c.UserContext(), "chat")
	resp, err := h.assistant.Answer(ctx, params.Message)
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success":  true,
		"response": resp,
	})
}

func (h *ChatHandler) HandleStats(c *fiber.Ctx) error {
	stats, err := h.assistant.Stats(c.UserContext())
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"success": true,
		"stats":   stats,
	})
}
