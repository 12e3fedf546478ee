// Package web provides HTTP handlers and REST API endpoints for workflow management.
package web

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"
	"github.com/unifyos/unify/pkg/ingest"
	"github.com/unifyos/unify/pkg/registry"
	"github.com/unifyos/unify/pkg/services"
)

type APIHandlers struct {
	workflowService *services.Workflow
	dispatcher      Dispatcher
	validator       *validator.Validate
	registry        *registry.Registry
	logger          *slog.Logger
}

func NewAPIHandlers(
	workflowService *services.Workflow,
	dispatcher Dispatcher,
	validator *validator.Validate,
	registry *registry.Registry,
	logger *slog.Logger,
) *APIHandlers {
	return &APIHandlers{
		workflowService: workflowService,
		dispatcher:      dispatcher,
		validator:       validator,
		registry:        registry,
		logger:          logger.With("module", "web"),
	}
}

// Register mounts every API route on router.
func (h *APIHandlers) Register(router fiber.Router) {
	w := router.Group("/workflows")
	w.Get("/", h.GetWorkflows)
	w.Post("/", h.CreateWorkflow)
	w.Get("/:id", h.GetWorkflow)
	w.Patch("/:id", h.UpdateWorkflow)
	w.Delete("/:id", h.DeleteWorkflow)
	w.Post("/:id/enable", h.EnableWorkflow)
	w.Post("/:id/disable", h.DisableWorkflow)
	w.Post("/:id/test", h.TestWorkflow)
	w.Get("/:id/executions", h.GetWorkflowExecutions)

	router.Get("/executions/:id", h.GetExecution)
	router.Post("/webhooks/:app", h.ReceiveWebhook)
	router.Get("/health", h.HealthCheck)
}

func (h *APIHandlers) GetWorkflows(c fiber.Ctx) error {
	req := services.ListWorkflowsRequest{OwnerID: c.Query("owner_id")}

	if enabledStr := c.Query("enabled"); enabledStr != "" {
		enabled, err := strconv.ParseBool(enabledStr)
		if err != nil {
			return badRequest(c, "Invalid query parameters: enabled must be a boolean")
		}

		req.Enabled = &enabled
	}

	result, err := h.workflowService.List(c.Context(), req)
	if err != nil {
		return handleServiceError(c, err)
	}

	response := ListWorkflowsResponse{
		Workflows: make([]WorkflowResponse, len(result.Workflows)),
		Meta:      result.Meta,
	}

	for i, workflow := range result.Workflows {
		response.Workflows[i] = NewWorkflowResponse(workflow)
	}

	return c.JSON(response)
}

func (h *APIHandlers) GetWorkflow(c fiber.Ctx) error {
	workflow, err := h.workflowService.FetchByID(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewWorkflowResponse(workflow))
}

func (h *APIHandlers) CreateWorkflow(c fiber.Ctx) error {
	var req CreateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	created, err := h.workflowService.Create(c.Context(), req.toModel())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(NewWorkflowResponse(created))
}

func (h *APIHandlers) UpdateWorkflow(c fiber.Ctx) error {
	var req UpdateWorkflowRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	updated, err := h.workflowService.Update(c.Context(), c.Params("id"), req.toService())
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewWorkflowResponse(updated))
}

func (h *APIHandlers) DeleteWorkflow(c fiber.Ctx) error {
	err := h.workflowService.Delete(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) EnableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, true)
}

func (h *APIHandlers) DisableWorkflow(c fiber.Ctx) error {
	return h.setEnabled(c, false)
}

func (h *APIHandlers) setEnabled(c fiber.Ctx, enabled bool) error {
	workflow, err := h.workflowService.SetEnabled(c.Context(), c.Params("id"), enabled)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewWorkflowResponse(workflow))
}

// TestWorkflow answers 200 for every recorded run, failed ones included.
func (h *APIHandlers) TestWorkflow(c fiber.Ctx) error {
	execution, err := h.workflowService.Test(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(NewTestWorkflowResponse(execution))
}

func (h *APIHandlers) GetWorkflowExecutions(c fiber.Ctx) error {
	executions, err := h.workflowService.ListExecutions(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(fiber.Map{"executions": executions})
}

func (h *APIHandlers) GetExecution(c fiber.Ctx) error {
	execution, err := h.workflowService.GetExecution(c.Context(), c.Params("id"))
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(execution)
}

// ReceiveWebhook accepts a provider delivery. Slack url_verification
// handshakes are answered with their challenge.
func (h *APIHandlers) ReceiveWebhook(c fiber.Ctx) error {
	var body map[string]any
	if err := json.Unmarshal(c.Body(), &body); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if body["type"] == "url_verification" {
		return c.JSON(fiber.Map{"challenge": body["challenge"]})
	}

	raw := ingest.RawEvent{
		App:        c.Params("app"),
		EventType:  c.Query("event_type"),
		EventID:    c.Get("X-Event-Id"),
		Body:       body,
		ReceivedAt: time.Now().UTC(),
	}

	err := h.dispatcher.Dispatch(c.Context(), raw)
	if err != nil {
		h.logger.WarnContext(c.Context(), "Webhook not accepted", "app", raw.App, "error", err)

		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "accepted"})
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	repositoryCheck, repOk := h.workflowService.HealthCheck(c.Context())

	status := "unhealthy"
	message := "Unify API is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if repOk {
		status = "healthy"
		message = "Unify API is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"repository": repositoryCheck,
			"executors":  h.registry.Apps(),
		},
		"timestamp": time.Now().UTC(),
	})
}
