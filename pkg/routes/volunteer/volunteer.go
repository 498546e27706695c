// Package volunteer exposes the volunteer profile surface
package volunteer

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/scribeworks/quill/internal/repositories/volunteer"
	"github.com/scribeworks/quill/pkg/models"
)

var validate = validator.New()

// Handler handles volunteer routes
type Handler struct {
	volunteers *volunteer.Repository
}

// NewHandler creates a new volunteer handler
func NewHandler(volunteers *volunteer.Repository) *Handler {
	return &Handler{volunteers: volunteers}
}

// Register registers volunteer routes on the group
func Register(g *echo.Group, h *Handler) {
	g.PUT("/:id", h.Upsert)
	g.GET("/:id", h.Get)
	g.POST("/:id/availability", h.SetAvailability)
}

// Upsert creates or replaces a volunteer profile
func (h *Handler) Upsert(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.UpsertVolunteerRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	result, err := h.volunteers.Upsert(ctx, req.ToVolunteer(c.Param("id")))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// Get returns a volunteer by id
func (h *Handler) Get(c echo.Context) error {
	ctx := c.Request().Context()

	result, err := h.volunteers.Get(ctx, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, result)
}

// SetAvailability toggles whether the volunteer receives proposals
func (h *Handler) SetAvailability(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.SetAvailabilityRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := h.volunteers.SetActive(ctx, c.Param("id"), req.Active); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
