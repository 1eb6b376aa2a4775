package introspect

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/flowkit/errors"
)

// DataResponse is the success envelope.
type DataResponse struct {
	Data any `json:"data"`
}

// ErrorResponse is the failure envelope.
type ErrorResponse struct {
	Error *errors.Error `json:"error"`
}

func respondOK(c *gin.Context, data any) {
	c.JSON(http.StatusOK, DataResponse{Data: data})
}

// respondError derives the status from the error kind. Errors that are not
// engine errors are reported as 500.
func respondError(c *gin.Context, err error) {
	e, ok := errors.As(err)
	if !ok {
		e = errors.New(errors.KindInvalidState, err.Error()).WithCause(err)
	}
	c.JSON(statusFor(e.Kind), ErrorResponse{Error: e})
}

func statusFor(kind errors.Kind) int {
	switch kind {
	case errors.KindNoSuchProcess, errors.KindNoSuchPort, errors.KindNoSuchProcessType, errors.KindNoSuchAlgorithm:
		return http.StatusNotFound
	case errors.KindPipelineNotSetup, errors.KindPipelineAlreadySetup, errors.KindInvalidState:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
