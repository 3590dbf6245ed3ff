// errors.go renders classified gateway errors as the JSON error envelope
// shared by every endpoint: {"status": ..., "error": ..., "message": ...}
// plus any kind-specific detail fields (quay_response, validation_info,
// greenwave_response).
package api

import (
	"log/slog"

	"github.com/gin-gonic/gin"

	"github.com/manifest-gateway/manifest-gateway/internal/errdefs"
)

// renderError writes err as the JSON error envelope and aborts the request.
// Unclassified errors become a 500 InternalError with a generic message so
// internals never leak to clients.
func renderError(c *gin.Context, err error) {
	e := errdefs.AsError(err)

	if e.Status() >= 500 {
		slog.Error("request failed",
			"path", c.FullPath(),
			"error", string(e.Kind),
			"message", e.Message,
			"cause", err)
	} else {
		slog.Info("request rejected",
			"path", c.FullPath(),
			"error", string(e.Kind),
			"message", e.Message)
	}

	body := gin.H{
		"status":  e.Status(),
		"error":   string(e.Kind),
		"message": e.Message,
	}
	for key, value := range e.Detail {
		body[key] = value
	}
	c.AbortWithStatusJSON(e.Status(), body)
}
