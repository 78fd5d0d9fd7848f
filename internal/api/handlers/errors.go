package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/descriptor"
	"github.com/your-org/attendance/internal/storage"
)

// statusFor maps the error taxonomy onto HTTP statuses and the message shown to clients.
func statusFor(err error) (int, string) {
	var ve *descriptor.ValidationError
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, ve.Error()
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, storage.ErrUnavailable):
		return http.StatusServiceUnavailable, "storage unavailable, retry the request"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func respondError(c *gin.Context, err error) {
	status, msg := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.JSON(status, gin.H{"error": msg})
}
