package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/apperr"
	"github.com/your-org/attendance/pkg/dto"
)

const internalErrorMessage = "An error occurred on the server."

// statusOf maps an error kind to its HTTP status.
func statusOf(err error) int {
	switch {
	case errors.Is(err, apperr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, apperr.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, apperr.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, apperr.ErrExternal):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err. Uncategorised errors are logged and answered with
// a generic message.
func writeError(c *gin.Context, err error) {
	status := statusOf(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed",
			"method", c.Request.Method,
			"path", c.FullPath(),
			"error", err,
		)
		c.JSON(status, dto.ErrorResponse{Error: internalErrorMessage})
		return
	}
	c.JSON(status, dto.ErrorResponse{
		Error: apperr.MessageOf(err, http.StatusText(status)),
		Code:  apperr.CodeOf(err),
	})
}

func badRequest(c *gin.Context, code, message string) {
	c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: message, Code: code})
}
