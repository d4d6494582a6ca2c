package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	domainagg "github.com/edgeward/fleet-backend/internal/domain/aggregates"
)

// StatusFor maps an aggregate error code to an HTTP status.
func StatusFor(code domainagg.ErrorCode) int {
	switch code {
	case domainagg.CodeValidation:
		return http.StatusBadRequest
	case domainagg.CodeForbidden:
		return http.StatusForbidden
	case domainagg.CodeNotFound:
		return http.StatusNotFound
	case domainagg.CodeConflict:
		return http.StatusConflict
	case domainagg.CodeRetryable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// RespondDomainError writes err with the status and code of its aggregate
// error. Uncoded errors are reported as unexpected without leaking the cause.
func RespondDomainError(c *gin.Context, err error) {
	var aggErr *domainagg.Error
	if !errors.As(err, &aggErr) {
		c.JSON(http.StatusInternalServerError, ErrorEnvelope{
			Error: APIError{Message: "internal error", Code: string(domainagg.CodeUnexpected)},
		})
		return
	}
	msg := aggErr.Message
	if msg == "" || aggErr.Code == domainagg.CodeUnexpected {
		msg = http.StatusText(StatusFor(aggErr.Code))
	}
	c.JSON(StatusFor(aggErr.Code), ErrorEnvelope{
		Error: APIError{Message: msg, Code: string(aggErr.Code)},
	})
}
