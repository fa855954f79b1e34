package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zen-systems/helpgate/pkg/faq"
	"github.com/zen-systems/helpgate/pkg/router"
	"github.com/zen-systems/helpgate/pkg/session"
)

const (
	codeBadRequest  = "BAD_REQUEST"
	codeNotFound    = "NOT_FOUND"
	codeConflict    = "CONFLICT"
	codeRateLimited = "RATE_LIMITED"
	codeUnavailable = "SERVICE_UNAVAILABLE"
	codeInternal    = "INTERNAL_ERROR"
)

// apiError is the JSON error body returned by every endpoint.
type apiError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func badRequest(msg string) *apiError {
	return &apiError{Status: http.StatusBadRequest, Code: codeBadRequest, Message: msg}
}

func internalError(err error) *apiError {
	return &apiError{Status: http.StatusInternalServerError, Code: codeInternal, Message: err.Error()}
}

// toAPIError maps domain errors onto HTTP statuses.
func toAPIError(err error) *apiError {
	var invalid *router.InvalidInputError
	switch {
	case errors.As(err, &invalid):
		return badRequest(invalid.Error())
	case errors.Is(err, session.ErrDuplicateSession):
		return &apiError{Status: http.StatusConflict, Code: codeConflict, Message: err.Error()}
	case errors.Is(err, session.ErrSessionNotFound):
		return &apiError{Status: http.StatusNotFound, Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, faq.ErrIndexUnavailable):
		return &apiError{Status: http.StatusServiceUnavailable, Code: codeUnavailable, Message: err.Error()}
	default:
		return internalError(err)
	}
}

func writeError(c *gin.Context, e *apiError) {
	c.AbortWithStatusJSON(e.Status, gin.H{"error": e})
}
