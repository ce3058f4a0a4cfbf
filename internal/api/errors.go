// errors.go - Structured error responses for the heatmap API
package api

import (
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"

	"github.com/labstack/echo/v4"
)

// Error codes carried in APIError.Code
const (
	CodeBadRequest         = "BAD_REQUEST"
	CodeValidation         = "VALIDATION_ERROR"
	CodeInvalidDiagram     = "INVALID_DIAGRAM"
	CodeNotFound           = "NOT_FOUND"
	CodeInternal           = "INTERNAL_ERROR"
	CodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	codeHTTP               = "HTTP_ERROR"
	codeUnknown            = "UNKNOWN_ERROR"
)

// APIError is the JSON body of every failed request
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func newAPIError(status int, code, message string, cause error) *APIError {
	e := &APIError{Status: status, Code: code, Message: message}
	if cause != nil {
		e.Details = cause.Error()
	}
	return e
}

// NewBadRequestError reports a body or parameter that could not be decoded
func NewBadRequestError(message string, cause error) *APIError {
	return newAPIError(http.StatusBadRequest, CodeBadRequest, message, cause)
}

// NewValidationError reports a missing or out-of-range field
func NewValidationError(field string) *APIError {
	return newAPIError(http.StatusBadRequest, CodeValidation, "validation failed for field: "+field, nil)
}

// NewInvalidDiagramError reports an upload that is not a usable keyboard diagram
func NewInvalidDiagramError(message string, cause error) *APIError {
	return newAPIError(http.StatusUnprocessableEntity, CodeInvalidDiagram, message, cause)
}

func NewNotFoundError(resource string, id string) *APIError {
	return newAPIError(http.StatusNotFound, CodeNotFound, fmt.Sprintf("%s not found: %s", resource, id), nil)
}

func NewInternalError(message string, cause error) *APIError {
	return newAPIError(http.StatusInternalServerError, CodeInternal, message, cause)
}

// NewServiceUnavailableError reports that the statistics database could not be read
func NewServiceUnavailableError(message string, cause error) *APIError {
	return newAPIError(http.StatusServiceUnavailable, CodeServiceUnavailable, message, cause)
}

var exposeDetails atomic.Bool

func init() {
	exposeDetails.Store(true)
}

// SetExposeErrorDetails controls whether unexpected errors carry their
// message in the response. The server turns it off unless LogLevel is debug.
func SetExposeErrorDetails(on bool) {
	exposeDetails.Store(on)
}

// ErrorHandler renders any handler error as an APIError.
// Usage: e.HTTPErrorHandler = api.ErrorHandler
func ErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}

	var apiErr *APIError
	var httpErr *echo.HTTPError

	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &httpErr):
		apiErr = newAPIError(httpErr.Code, codeHTTP, fmt.Sprintf("%v", httpErr.Message), nil)
	default:
		apiErr = newAPIError(http.StatusInternalServerError, codeUnknown, "An unexpected error occurred", nil)
		if exposeDetails.Load() {
			apiErr.Details = err.Error()
		}
	}

	if c.Request().Method == http.MethodHead {
		c.NoContent(apiErr.Status)
		return
	}
	c.JSON(apiErr.Status, apiErr)
}
