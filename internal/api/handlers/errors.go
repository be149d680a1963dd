package handlers

import (
	"errors"

	"github.com/agentx/guardian-backend/internal/models"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// StatusFor maps a service error to its HTTP status
func StatusFor(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case models.IsValidation(err):
		return fiber.StatusBadRequest
	case errors.Is(err, models.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, models.ErrContentUnreachable):
		return fiber.StatusUnprocessableEntity
	case errors.Is(err, models.ErrBackendUnavailable):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders handler errors as {"error", "code"}. Internal errors
// are logged and their text is not returned.
func ErrorHandler(logger *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := StatusFor(err)
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.WithError(err).WithFields(logrus.Fields{
				"method": c.Method(),
				"path":   c.Path(),
			}).Error("Request failed")
			msg = "internal server error"
		}

		return c.Status(code).JSON(fiber.Map{
			"error": msg,
			"code":  code,
		})
	}
}

func badRequest(msg string) error {
	return fiber.NewError(fiber.StatusBadRequest, msg)
}
