package web

import (
	"errors"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/moogar0880/problems"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/persistence"
	"github.com/unifyos/unify/pkg/services"
)

func badRequest(c fiber.Ctx, detail string) error {
	problem := problems.NewStatusProblem(400).
		WithInstance(c.Path()).
		WithType("validation_error").
		WithDetail(detail)

	return c.Status(fiber.StatusBadRequest).JSON(problem)
}

func notFound(c fiber.Ctx, problemType, detail string) error {
	problem := problems.NewStatusProblem(404).
		WithInstance(c.Path()).
		WithType(problemType).
		WithDetail(detail)

	return c.Status(fiber.StatusNotFound).JSON(problem)
}

func storeUnavailable(c fiber.Ctx) error {
	problem := problems.NewStatusProblem(503).
		WithInstance(c.Path()).
		WithType("store_unavailable").
		WithDetail("execution store unavailable, retry later")

	return c.Status(fiber.StatusServiceUnavailable).JSON(problem)
}

func internalError(c fiber.Ctx, err error) error {
	problem := problems.NewStatusProblem(500).
		WithInstance(c.Path()).
		WithType("internal_error").
		WithError(err)

	return c.Status(fiber.StatusInternalServerError).JSON(problem)
}

// handleServiceError provides typed error handling for service layer errors.
func handleServiceError(c fiber.Ctx, err error) error {
	switch {
	case services.IsValidationError(err):
		problemType := "validation_error"
		if code := services.ErrorCode(err); code != "" {
			problemType = strings.ToLower(code)
		}

		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType(problemType).
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case services.IsPreconditionError(err):
		problem := problems.NewStatusProblem(412).
			WithInstance(c.Path()).
			WithType("trigger_app_not_connected").
			WithDetail(err.Error())

		return c.Status(fiber.StatusPreconditionFailed).JSON(problem)

	case errors.Is(err, ingest.ErrInvalidEvent):
		problem := problems.NewStatusProblem(400).
			WithInstance(c.Path()).
			WithType("invalid_event").
			WithDetail(err.Error())

		return c.Status(fiber.StatusBadRequest).JSON(problem)

	case persistence.IsWorkflowNotFound(err):
		return notFound(c, "workflow_not_found", "workflow not found")

	case persistence.IsExecutionNotFound(err):
		return notFound(c, "execution_not_found", "execution not found")

	case persistence.IsStoreUnavailable(err):
		return storeUnavailable(c)

	default:
		return internalError(c, err)
	}
}
