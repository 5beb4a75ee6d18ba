package http

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/careloop/intake/internal/domain"
	"github.com/careloop/intake/internal/service"
)

// Handler handles HTTP requests.
type Handler struct {
	service *service.Service
	logger  *zap.Logger
}

// NewHandler creates a new handler.
func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	return &Handler{service: svc, logger: logger}
}

// RegisterRoutes registers routes with the echo server.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.POST("/v1/intake/message", h.StepIntake)
	e.GET("/v1/sessions/:conversation_id", h.GetSession)
	e.GET("/health", h.Health)
}

// StepIntake advances a session by one step, creating it when no
// conversation id is supplied.
// POST /v1/intake/message
func (h *Handler) StepIntake(c echo.Context) error {
	var req domain.StepRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: "invalid request body"})
	}

	resp, err := h.service.Step(c.Request().Context(), req)
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// GetSession returns the current projection of a session without advancing
// it.
// GET /v1/sessions/:conversation_id
func (h *Handler) GetSession(c echo.Context) error {
	resp, err := h.service.Snapshot(c.Request().Context(), c.Param("conversation_id"))
	if err != nil {
		return h.writeError(c, err)
	}
	return c.JSON(http.StatusOK, resp)
}

// Health returns health status.
func (h *Handler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"version": "0.1.0",
	})
}

func (h *Handler) writeError(c echo.Context, err error) error {
	var collabErr *domain.CollaboratorError
	switch {
	case errors.Is(err, domain.ErrValidation):
		return c.JSON(http.StatusBadRequest, domain.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		return c.JSON(http.StatusNotFound, domain.ErrorResponse{Error: err.Error()})
	case errors.As(err, &collabErr):
		h.logger.Error("collaborator call failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: err.Error()})
	default:
		h.logger.Error("step failed", zap.Error(err))
		return c.JSON(http.StatusInternalServerError, domain.ErrorResponse{Error: "internal error"})
	}
}
