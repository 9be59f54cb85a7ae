package exts

import (
	"errors"

	"git.solsynth.dev/hypernet/kolab/pkg/internal/services"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

var kindStatus = map[services.ErrorKind]int{
	services.KindUnauthenticated:   fiber.StatusUnauthorized,
	services.KindForbidden:         fiber.StatusForbidden,
	services.KindNotFound:          fiber.StatusNotFound,
	services.KindInvalidArgument:   fiber.StatusBadRequest,
	services.KindConflict:          fiber.StatusConflict,
	services.KindDependencyFailure: fiber.StatusServiceUnavailable,
	services.KindInternal:          fiber.StatusInternalServerError,
}

var statusKind = map[int]services.ErrorKind{
	fiber.StatusUnauthorized: services.KindUnauthenticated,
	fiber.StatusForbidden:    services.KindForbidden,
	fiber.StatusNotFound:     services.KindNotFound,
	fiber.StatusBadRequest:   services.KindInvalidArgument,
	fiber.StatusConflict:     services.KindConflict,
}

func StatusOf(kind services.ErrorKind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return fiber.StatusInternalServerError
}

// ErrorHandler renders every failure as {success, kind, error, status?, retryable}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	body := fiber.Map{"success": false}

	var se *services.Error
	var fe *fiber.Error
	code := fiber.StatusInternalServerError
	switch {
	case errors.As(err, &se):
		code = StatusOf(se.Kind)
		body["kind"] = se.Kind
		body["error"] = se.Message
		body["retryable"] = se.Retryable()
		if len(se.Status) > 0 {
			body["status"] = se.Status
		}
		if se.Err != nil {
			log.Warn().Err(se.Err).Str("kind", se.Kind).Str("path", c.Path()).Msg(se.Message)
		}
	case errors.As(err, &fe):
		code = fe.Code
		kind, ok := statusKind[fe.Code]
		body["kind"] = lo.Ternary(ok, kind, services.KindInternal)
		body["error"] = fe.Message
		body["retryable"] = false
	default:
		log.Error().Err(err).Str("path", c.Path()).Msg("Unhandled error occurred when serving request.")
		body["kind"] = services.KindInternal
		body["error"] = "internal server error"
		body["retryable"] = false
	}

	return c.Status(code).JSON(body)
}
