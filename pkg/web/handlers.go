package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v3"

	"github.com/dukex/nodelog/pkg/logstore"
	"github.com/dukex/nodelog/pkg/models"
)

const (
	defaultURLExpiry = 15 * time.Minute
	maxURLExpiry     = 7 * 24 * time.Hour
)

// LogStore is the log store surface served over HTTP. logstore.Service implements it.
type LogStore interface {
	SaveLog(ctx context.Context, data *models.NodeLogData, workspaceID string) (*logstore.SaveResult, error)
	GetLog(ctx context.Context, logID string) (*models.LogRecord, error)
	GetLogs(ctx context.Context, logIDs []string) map[string]logstore.GetResult
	DeleteLog(ctx context.Context, logID string) error
	DeleteOffloadedData(ctx context.Context, logID string) error
	DeleteExecutionLogs(ctx context.Context, executionID string) (int, error)
	SignedURL(ctx context.Context, logID string, field models.PayloadField, expires time.Duration) (string, error)
	HealthCheck(ctx context.Context) error
}

type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

type APIHandlers struct {
	store      LogStore
	repository HealthChecker
	validator  *validator.Validate
	logger     *slog.Logger
}

func NewAPIHandlers(store LogStore, repository HealthChecker, validator *validator.Validate, logger *slog.Logger) *APIHandlers {
	return &APIHandlers{
		store:      store,
		repository: repository,
		validator:  validator,
		logger:     logger.With("module", "web"),
	}
}

func (h *APIHandlers) SaveLog(c fiber.Ctx) error {
	var req SaveLogRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	result, err := h.store.SaveLog(c.Context(), req.Log, req.WorkspaceID)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(result)
}

func (h *APIHandlers) GetLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Log ID is required")
	}

	record, err := h.store.GetLog(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(record)
}

func (h *APIHandlers) GetLogs(c fiber.Ctx) error {
	var req GetLogsRequest
	if err := c.Bind().JSON(&req); err != nil {
		return badRequest(c, "Invalid JSON format")
	}

	if err := h.validator.Struct(req); err != nil {
		return badRequest(c, err.Error())
	}

	results := h.store.GetLogs(c.Context(), req.IDs)

	response := GetLogsResponse{Logs: make(map[string]*models.LogRecord, len(results))}

	for id, result := range results {
		if result.Err != nil {
			if response.Errors == nil {
				response.Errors = map[string]string{}
			}

			response.Errors[id] = result.Err.Error()

			continue
		}

		response.Logs[id] = result.Log
	}

	return c.JSON(response)
}

func (h *APIHandlers) DeleteLog(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Log ID is required")
	}

	err := h.store.DeleteLog(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *APIHandlers) DeleteOffloadedData(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Log ID is required")
	}

	err := h.store.DeleteOffloadedData(c.Context(), id)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.SendStatus(fiber.StatusNoContent)
}

// SignedURL serves GET /logs/:id/:field/url?expires=15m.
func (h *APIHandlers) SignedURL(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Log ID is required")
	}

	expires := defaultURLExpiry

	if raw := c.Query("expires"); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 || parsed > maxURLExpiry {
			return badRequest(c, "expires must be a positive duration of at most 168h")
		}

		expires = parsed
	}

	url, err := h.store.SignedURL(c.Context(), id, models.PayloadField(c.Params("field")), expires)
	if err != nil {
		return handleServiceError(c, err)
	}

	return c.JSON(SignedURLResponse{URL: url, ExpiresAt: time.Now().UTC().Add(expires)})
}

func (h *APIHandlers) DeleteExecutionLogs(c fiber.Ctx) error {
	id := c.Params("id")
	if id == "" {
		return badRequest(c, "Execution ID is required")
	}

	deleted, err := h.store.DeleteExecutionLogs(c.Context(), id)

	response := DeleteExecutionLogsResponse{ExecutionID: id, Deleted: deleted}
	if err != nil {
		h.logger.WarnContext(c.Context(), "execution logs partially deleted",
			"execution_id", id, "deleted", deleted, "error", err)

		response.Error = err.Error()

		return c.Status(fiber.StatusInternalServerError).JSON(response)
	}

	return c.JSON(response)
}

func (h *APIHandlers) HealthCheck(c fiber.Ctx) error {
	storageCheck := "ok"
	repositoryCheck := "ok"
	healthy := true

	if err := h.store.HealthCheck(c.Context()); err != nil {
		storageCheck = err.Error()
		healthy = false
	}

	if err := h.repository.HealthCheck(c.Context()); err != nil {
		repositoryCheck = err.Error()
		healthy = false
	}

	status := "unhealthy"
	message := "nodelog is unhealthy"
	httpStatus := http.StatusServiceUnavailable

	if healthy {
		status = "healthy"
		message = "nodelog is healthy"
		httpStatus = http.StatusOK
	}

	return c.Status(httpStatus).JSON(fiber.Map{
		"status":  status,
		"message": message,
		"checkers": fiber.Map{
			"storage":    storageCheck,
			"repository": repositoryCheck,
		},
		"timestamp": time.Now().UTC(),
	})
}

// ready reports whether both the storage provider and the repository answer.
func (h *APIHandlers) ready(c fiber.Ctx) bool {
	return h.store.HealthCheck(c.Context()) == nil && h.repository.HealthCheck(c.Context()) == nil
}
