package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/middleware"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/presence"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

// SessionHandler serves the session lifecycle: create, join by code,
// leave, snapshot, and the document write endpoint that coalesced client
// flushes land on.
type SessionHandler struct {
	store    *session.Store
	presence *presence.Manager
	logger   *zap.Logger
}

func NewSessionHandler(store *session.Store, pres *presence.Manager, logger *zap.Logger) *SessionHandler {
	return &SessionHandler{store: store, presence: pres, logger: logger}
}

// Create handles POST /v1/sessions.
func (h *SessionHandler) Create(c *gin.Context) {
	userID := middleware.GetUserID(c)
	owner := models.Participant{
		UserID:      userID,
		DisplayName: presence.DisplayNameOrFallback(userID, middleware.GetDisplayName(c)),
	}

	snap, err := h.store.Create(c.Request.Context(), owner)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	presence.Decorate(snap.Participants)

	c.JSON(http.StatusCreated, snap)
}

type joinSessionRequest struct {
	Code string `json:"code" binding:"required,len=6"`
}

// Join handles POST /v1/sessions/join — share code in, snapshot out.
func (h *SessionHandler) Join(c *gin.Context) {
	var req joinSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "a 6-character session code is required"})
		return
	}

	snap, err := h.presence.JoinByCode(c.Request.Context(), req.Code,
		middleware.GetUserID(c), middleware.GetDisplayName(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, snap)
}

// Leave handles POST /v1/sessions/:id/leave. Leaving twice is fine; the
// second call is a no-op and still returns 204.
func (h *SessionHandler) Leave(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	if err := h.presence.Leave(c.Request.Context(), sessionID, middleware.GetUserID(c)); err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.Status(http.StatusNoContent)
}

// Get handles GET /v1/sessions/:id — a full snapshot, used by clients
// reconciling after a reconnect.
func (h *SessionHandler) Get(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	snap, err := h.store.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, h.logger, err)
		return
	}
	presence.Decorate(snap.Participants)

	c.JSON(http.StatusOK, snap)
}

type writeDocumentRequest struct {
	// Content may legitimately be empty (the user deleted everything), so
	// no "required" binding — presence of the field is enough.
	Content  string `json:"content"`
	FileName string `json:"file_name"`
}

// WriteDocument handles PUT /v1/sessions/:id/document.
//
// This is where a client's coalesced flush lands: one call per quiescence
// window, or an immediate one for a file upload (file_name set). The write
// is applied last-write-wins and fanned out tagged with the caller as
// origin.
func (h *SessionHandler) WriteDocument(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	var req writeDocumentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	doc, err := h.store.WriteDocument(c.Request.Context(), sessionID,
		req.FileName, req.Content, middleware.GetUserID(c))
	if err != nil {
		respondError(c, h.logger, err)
		return
	}

	c.JSON(http.StatusOK, doc)
}
