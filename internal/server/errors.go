package server

import (
	"errors"
	"net/http"

	"github.com/jonathan/chart-digitizer/internal/jobs"
	"github.com/jonathan/chart-digitizer/internal/types"
)

// ErrNotCompleted is returned when an export is requested before processing finished.
var ErrNotCompleted = errors.New("chart processing not completed")

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var verr *types.ValidationError
	switch {
	case err == nil:
		return http.StatusInternalServerError
	case errors.As(err, &verr), errors.Is(err, ErrNotCompleted):
		return http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, jobs.ErrDispatcherClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// detailFor returns the client-facing message for err. Internal failures get fallback so
// driver errors are not echoed.
func detailFor(err error, fallback string) string {
	var verr *types.ValidationError
	switch {
	case errors.As(err, &verr):
		return verr.Message
	case errors.Is(err, ErrNotCompleted):
		return "Chart processing not completed"
	case errors.Is(err, types.ErrNotFound):
		return "Chart not found"
	case errors.Is(err, jobs.ErrDispatcherClosed):
		return "Server is shutting down"
	default:
		return fallback
	}
}
