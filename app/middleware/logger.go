package middleware

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/grpc-ecosystem/go-grpc-middleware/logging/zap/ctxzap"
	"go.uber.org/zap"
)

// RequestIDKey is the fiber local set by the requestid middleware.
const RequestIDKey = "requestid"

// Logger logs HTTP requests and puts a request scoped logger into the user context.
// Errors are rendered here so the finish line carries the final status.
func Logger(logger *zap.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		requestID, _ := c.Locals(RequestIDKey).(string)

		reqLogger := logger.With(zap.String("request_id", requestID))
		c.SetUserContext(ctxzap.ToContext(c.UserContext(), reqLogger))

		reqLogger.Info("Start handle HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.String("remote_addr", c.IP()),
		)

		if err := c.Next(); err != nil {
			if handlerErr := c.App().ErrorHandler(c, err); handlerErr != nil {
				_ = c.SendStatus(fiber.StatusInternalServerError)
			}
		}

		reqLogger.Info("Finish handle HTTP request",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Int("status", c.Response().StatusCode()),
			zap.Int("bytes", len(c.Response().Body())),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
		return nil
	}
}
