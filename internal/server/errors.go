package server

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/oussamajomaa/mont-vert/internal/apperr"
	"github.com/sirupsen/logrus"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:                 fiber.StatusBadRequest,
	apperr.KindNotFound:                   fiber.StatusNotFound,
	apperr.KindConflict:                   fiber.StatusConflict,
	apperr.KindInsufficientStock:          fiber.StatusUnprocessableEntity,
	apperr.KindInsufficientAvailableStock: fiber.StatusUnprocessableEntity,
}

// ErrorHandler renders every error as {"error", "code"}. Business errors keep
// their message; anything unclassified is logged and hidden behind a 500.
func ErrorHandler(log *logrus.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		if kind, ok := apperr.KindOf(err); ok {
			status, known := kindStatus[kind]
			if !known {
				status = fiber.StatusInternalServerError
			}
			return c.Status(status).JSON(fiber.Map{
				"error": apperr.Message(err),
				"code":  kind,
			})
		}

		var fe *fiber.Error
		if errors.As(err, &fe) {
			return c.Status(fe.Code).JSON(fiber.Map{
				"error": fe.Message,
				"code":  httpCode(fe.Code),
			})
		}

		log.WithError(err).WithFields(logrus.Fields{
			"method": c.Method(),
			"path":   c.Path(),
		}).Error("unexpected error")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "internal server error",
			"code":  "INTERNAL",
		})
	}
}

func httpCode(status int) string {
	switch status {
	case fiber.StatusBadRequest:
		return string(apperr.KindValidation)
	case fiber.StatusUnauthorized:
		return "UNAUTHORIZED"
	case fiber.StatusForbidden:
		return "FORBIDDEN"
	case fiber.StatusNotFound:
		return string(apperr.KindNotFound)
	case fiber.StatusConflict:
		return string(apperr.KindConflict)
	case fiber.StatusTooManyRequests:
		return "RATE_LIMITED"
	}
	if status >= fiber.StatusInternalServerError {
		return "INTERNAL"
	}
	return "ERROR"
}
