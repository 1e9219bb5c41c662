package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/auth"
	"go.uber.org/zap"
)

// tokenTTL is generous on purpose: identities are anonymous and per
// browser session, there is no account to protect from a long-lived token.
const tokenTTL = 7 * 24 * time.Hour

// IdentityHandler mints anonymous identities. This is the server-side
// analogue of anonymous sign-in: the client's very first call, before any
// session operation, returns an opaque user id wrapped in a signed token.
//
// The response doubles as the client bootstrap: it carries the quiescence
// window the server wants editors to coalesce writes over, so the debounce
// is tuned in one place (COALESCE_INTERVAL_MS) for every client.
type IdentityHandler struct {
	secret           string
	coalesceInterval time.Duration
	logger           *zap.Logger
}

func NewIdentityHandler(secret string, coalesceInterval time.Duration, logger *zap.Logger) *IdentityHandler {
	return &IdentityHandler{secret: secret, coalesceInterval: coalesceInterval, logger: logger}
}

type createIdentityRequest struct {
	DisplayName string `json:"display_name"`
}

type createIdentityResponse struct {
	Token              string    `json:"token"`
	UserID             uuid.UUID `json:"user_id"`
	DisplayName        string    `json:"display_name,omitempty"`
	CoalesceIntervalMS int64     `json:"coalesce_interval_ms"`
}

// Create handles POST /v1/identity — public, it IS the door.
func (h *IdentityHandler) Create(c *gin.Context) {
	// Body is optional: most clients send nothing and get a fallback name
	// derived later from the user id.
	var req createIdentityRequest
	_ = c.ShouldBindJSON(&req)

	userID := uuid.New()
	token, err := auth.GenerateToken(userID, req.DisplayName, h.secret, tokenTTL)
	if err != nil {
		h.logger.Error("failed to mint identity token", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
		return
	}

	c.JSON(http.StatusCreated, createIdentityResponse{
		Token:              token,
		UserID:             userID,
		DisplayName:        req.DisplayName,
		CoalesceIntervalMS: h.coalesceInterval.Milliseconds(),
	})
}
