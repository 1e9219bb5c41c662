package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/syncpad/syncpad/internal/chat"
	"github.com/syncpad/syncpad/internal/repository"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

// respondError maps the service error taxonomy onto HTTP statuses in one
// place, so every handler reports the same failure the same way.
//
//   - unknown code / session: 404 — user-correctable, the UI says
//     "invalid code", never a generic error.
//   - invalid chat body: 422 — rejected before it ever reached the store.
//   - store unavailable: 503 — transient, the client may retry.
//
// Anything else is a bug or an unclassified backend failure: logged with
// the full chain, reported as a bare 500.
func respondError(c *gin.Context, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, repository.ErrCodeNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "invalid session code"})
	case errors.Is(err, repository.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, chat.ErrInvalidMessage):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
	case errors.Is(err, session.ErrStoreUnavailable):
		logger.Warn("store unavailable", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "store unavailable, retry shortly"})
	default:
		logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
