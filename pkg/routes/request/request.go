// Package request exposes the scribe request surface: creation, cancellation,
// matching triggers and attempt history.
package request

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/lib/pq"

	"github.com/scribeworks/quill/internal/repositories/request"
	"github.com/scribeworks/quill/pkg/matching"
	"github.com/scribeworks/quill/pkg/models"
)

var validate = validator.New()

// Handler handles scribe request routes
type Handler struct {
	requests    *request.Repository
	attempts    matching.AttemptStore
	coordinator *matching.Coordinator
	logger      ectologger.Logger
}

// NewHandler creates a new request handler
func NewHandler(requests *request.Repository, attempts matching.AttemptStore, coordinator *matching.Coordinator, logger ectologger.Logger) *Handler {
	return &Handler{
		requests:    requests,
		attempts:    attempts,
		coordinator: coordinator,
		logger:      logger,
	}
}

// Register registers request routes on the group
func Register(g *echo.Group, h *Handler) {
	g.POST("", h.Create)
	g.GET("", h.List)
	g.GET("/:id", h.Get)
	g.POST("/:id/cancel", h.Cancel)
	g.POST("/:id/match", h.Match)
	g.GET("/:id/attempts", h.ListAttempts)
}

// Create creates a new pending scribe request
func (h *Handler) Create(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.CreateRequestRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	created, err := h.requests.Create(ctx, &models.ScribeRequest{
		RequesterID:       req.RequesterID,
		Latitude:          req.Latitude,
		Longitude:         req.Longitude,
		Address:           req.Address,
		WindowStart:       req.WindowStart,
		DurationMinutes:   req.DurationMinutes,
		Urgency:           req.Urgency,
		RequiredLanguages: pq.StringArray(req.RequiredLanguages),
	})
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, created)
}

// List returns requests, optionally filtered by status, newest first
func (h *Handler) List(c echo.Context) error {
	ctx := c.Request().Context()

	var status *models.RequestStatus
	if raw := c.QueryParam("status"); raw != "" {
		s := models.RequestStatus(raw)
		status = &s
	}

	page, _ := strconv.Atoi(c.QueryParam("page"))
	pageSize, _ := strconv.Atoi(c.QueryParam("page_size"))
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}

	items, err := h.requests.List(ctx, status, page, pageSize)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.RequestListResponse{
		Items:      items,
		TotalCount: len(items),
		Page:       page,
		PageSize:   pageSize,
	})
}

// Get returns a request by id
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.requests.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Cancel supersedes any outstanding proposal and cancels the request
func (h *Handler) Cancel(c echo.Context) error {
	ctx := c.Request().Context()

	if err := h.coordinator.CancelMatching(ctx, c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// Match triggers a matching cycle for the request
func (h *Handler) Match(c echo.Context) error {
	ctx := c.Request().Context()

	outcome, err := h.coordinator.StartMatching(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, outcome)
}

// ListAttempts returns the request's full attempt history
func (h *Handler) ListAttempts(c echo.Context) error {
	ctx := c.Request().Context()

	id := c.Param("id")
	if _, err := h.requests.Get(ctx, id); err != nil {
		return err
	}

	attempts, err := h.attempts.ListByRequest(ctx, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, models.AttemptListResponse{
		Items:      attempts,
		TotalCount: len(attempts),
	})
}
