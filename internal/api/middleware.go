package api

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/gmsas95/dosewise/internal/errors"
)

// metricsMiddleware counts every request by route and outcome
func (s *Server) metricsMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = statusFor(err)
		}

		s.metrics.RecordRequest(status < fiber.StatusInternalServerError)
		s.metrics.RecordRoute(c.Method() + " " + c.Route().Path)
		s.metrics.RecordResponseTime(time.Since(start))
		return err
	}
}

// handleError renders every handler error as {"error", "code"}
func (s *Server) handleError(c *fiber.Ctx, err error) error {
	status := statusFor(err)

	if status >= fiber.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("method", c.Method()),
			zap.String("path", c.Path()),
			zap.Error(err),
		)
	}

	body := fiber.Map{"error": err.Error()}
	if apperrors.IsAppError(err) {
		body["code"] = apperrors.GetCode(err)
	}
	return c.Status(status).JSON(body)
}

func statusFor(err error) int {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return fe.Code
	}

	switch apperrors.GetCode(err) {
	case apperrors.ErrReminderNotFound.Code, apperrors.ErrNotFound.Code:
		return fiber.StatusNotFound
	case apperrors.ErrMissingScheduleID.Code, apperrors.ErrUnknownFrequency.Code,
		apperrors.ErrInvalidRule.Code, apperrors.ErrInvalidTimezone.Code, apperrors.ErrInvalidStart.Code,
		apperrors.ErrInvalidTime.Code, apperrors.ErrInvalidDate.Code,
		apperrors.ErrBadRequest.Code, apperrors.ErrConfigInvalid.Code:
		return fiber.StatusBadRequest
	case apperrors.ErrDispatch.Code:
		return fiber.StatusBadGateway
	default:
		return fiber.StatusInternalServerError
	}
}
