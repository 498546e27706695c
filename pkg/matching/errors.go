package matching

import (
	"fmt"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
)

// NotFound returns a 404 HTTP error with a descriptive message
func NotFound(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusNotFound, fmt.Sprintf(format, args...))
}

// Conflict returns a 409 HTTP error. Used when an active proposal already
// exists for a request or a volunteer was already asked.
func Conflict(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf(format, args...))
}

// InvalidState returns a 409 HTTP error for a disallowed state transition,
// such as responding to an attempt that already closed.
func InvalidState(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusConflict, fmt.Sprintf(format, args...))
}

// BadRequest returns a 400 HTTP error
func BadRequest(format string, args ...any) error {
	return httperror.NewHTTPError(http.StatusBadRequest, fmt.Sprintf(format, args...))
}

// IsConflict reports whether err carries HTTP status 409
func IsConflict(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusConflict
}

// IsNotFound reports whether err carries HTTP status 404
func IsNotFound(err error) bool {
	return httperror.IsHTTPError(err) && httperror.GetStatusCode(err) == http.StatusNotFound
}
