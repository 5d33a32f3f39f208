package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type CheckHandler struct {
	store Pinger
}

func NewCheckHandler(store Pinger) *CheckHandler {
	return &CheckHandler{store: store}
}

func (h *CheckHandler) HandleHealthy(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"result": "ok"})
}

// HandleReady reports whether the store answers within two seconds.
func (h *CheckHandler) HandleReady(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
	defer cancel()

	if err := h.store.Ping(ctx); err != nil {
		ctxzap.Extract(ctx).Warn("store not ready", zap.Error(err))
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"result": "unavailable"})
	}
	return c.JSON(fiber.Map{"result": "ok"})
}
