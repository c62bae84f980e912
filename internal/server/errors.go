package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/zulandar/conductor/internal/review"
	"github.com/zulandar/conductor/internal/runbook"
	"github.com/zulandar/conductor/internal/scripts"
)

// ErrForbidden is returned when the caller may not perform an operation.
var ErrForbidden = errors.New("forbidden")

func statusOf(err error) int {
	switch {
	case errors.Is(err, runbook.ErrInvalid), errors.Is(err, scripts.ErrOutsideDir):
		return http.StatusBadRequest
	case errors.Is(err, runbook.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, runbook.ErrConflict), errors.Is(err, review.ErrNotPending):
		return http.StatusConflict
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	}
	return http.StatusInternalServerError
}

func respondError(c *gin.Context, err error) {
	status := statusOf(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		_ = c.Error(err)
		msg = "internal error"
	}
	c.JSON(status, gin.H{"error": msg})
}
