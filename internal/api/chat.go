package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/chat"
	"github.com/syncpad/syncpad/internal/middleware"
	"go.uber.org/zap"
)

type ChatHandler struct {
	log    *chat.Log
	logger *zap.Logger
}

func NewChatHandler(log *chat.Log, logger *zap.Logger) *ChatHandler {
	return &ChatHandler{log: log, logger: logger}
}

type appendMessageRequest struct {
	Body string `json:"body" binding:"required"`
	// MessageID is the client-generated idempotency key. A client that
	// retries a timed-out send repeats the same id and gets the original
	// message back instead of a duplicate. Optional: omitted means the
	// server mints one and the send must not be retried.
	MessageID string `json:"message_id"`
}

// Append handles POST /v1/sessions/:id/messages.
func (h *ChatHandler) Append(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var req appendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	messageID := uuid.Nil
	if req.MessageID != "" {
		messageID, err = uuid.Parse(req.MessageID)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid message_id"})
			return
		}
	}

	msg, err := h.log.Append(c.Request.Context(), sessionID,
		middleware.GetUserID(c), middleware.GetDisplayName(c), req.Body, messageID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusCreated, msg)
}

// List handles GET /v1/sessions/:id/messages?since=42 — the resync
// backlog. "since" is the last ordinal the client saw; 0 or absent means
// the whole log.
func (h *ChatHandler) List(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var since int64
	if s := c.Query("since"); s != "" {
		since, err = strconv.ParseInt(s, 10, 64)
		if err != nil || since < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'since' parameter"})
			return
		}
	}

	msgs, err := h.log.ListFrom(c.Request.Context(), sessionID, since)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, msgs)
}
