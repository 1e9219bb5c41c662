package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/syncpad/syncpad/internal/suggest"
	"go.uber.org/zap"
)

// SuggestHandler proxies the external tag/description service. Out-of-band
// by design: nothing here reads or writes session state, and a failure is
// reported as exactly that — the session keeps working.
type SuggestHandler struct {
	client *suggest.Client
	logger *zap.Logger
}

func NewSuggestHandler(client *suggest.Client, logger *zap.Logger) *SuggestHandler {
	return &SuggestHandler{client: client, logger: logger}
}

type suggestRequest struct {
	FileName    string `json:"file_name" binding:"required"`
	FileContent string `json:"file_content" binding:"required"`
}

// Suggest handles POST /v1/suggest.
func (h *SuggestHandler) Suggest(c *gin.Context) {
	var req suggestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	out, err := h.client.Suggest(c.Request.Context(), req.FileName, req.FileContent)
	if err != nil {
		h.logger.Warn("suggestion service failed", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "suggestions unavailable"})
		return
	}

	c.JSON(http.StatusOK, out)
}
