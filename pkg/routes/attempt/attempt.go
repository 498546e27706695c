// Package attempt exposes the volunteer response surface for proposals
package attempt

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/scribeworks/quill/pkg/matching"
	"github.com/scribeworks/quill/pkg/models"
)

var validate = validator.New()

// Handler handles match attempt routes
type Handler struct {
	coordinator *matching.Coordinator
}

// NewHandler creates a new attempt handler
func NewHandler(coordinator *matching.Coordinator) *Handler {
	return &Handler{coordinator: coordinator}
}

// Register registers attempt routes on the group
func Register(g *echo.Group, h *Handler) {
	g.POST("/:id/respond", h.Respond)
}

// Respond applies a volunteer's accept or decline to a proposal
func (h *Handler) Respond(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.RespondRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	outcome, err := h.coordinator.Respond(ctx, c.Param("id"), req.Decision)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, outcome)
}
