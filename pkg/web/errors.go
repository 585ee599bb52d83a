package web

import (
	"errors"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"

	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/persistence"
	"github.com/dukex/nodelog/pkg/storage"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType("not_found").
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError maps log store and repository errors to problem responses.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, logstore.ErrInvalidLog), errors.Is(err, logstore.ErrInvalidField):
		return badRequest(c, err.Error())

	case persistence.IsLogNotFound(err):
		return notFound(c, "log not found")

	case errors.Is(err, logstore.ErrNotOffloaded):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("not_offloaded").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case errors.Is(err, persistence.ErrLogAlreadyExists):
		problem := problems.NewStatusProblem(409).
			WithInstance(c.Path()).
			WithType("conflict").
			WithDetail(err.Error())

		return c.Status(fiber.StatusConflict).JSON(problem)

	case storage.IsNotFound(err):
		return notFound(c, "offloaded payload not found")

	default:
		return internalError(c, err)
	}
}
