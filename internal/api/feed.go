package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/syncpad/syncpad/internal/feed"
	"github.com/syncpad/syncpad/internal/middleware"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/presence"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// FeedHandler upgrades GET /v1/sessions/:id/feed to a websocket and pumps
// the session's change feed down it.
//
// Frame order is the contract: one snapshot frame first (current document
// plus roster — the client's reconciliation point), then live events in
// per-session FIFO order. The subscription is taken BEFORE the snapshot is
// read, so a mutation landing in between appears both in the snapshot and
// as an event — at-least-once, which the echo filter's content comparison
// absorbs; the gap where an event could be lost never exists.
type FeedHandler struct {
	store    *session.Store
	broker   *feed.Broker
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewFeedHandler(store *session.Store, broker *feed.Broker, logger *zap.Logger) *FeedHandler {
	return &FeedHandler{
		store:  store,
		broker: broker,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Origin enforcement is the deployment proxy's job; the token
			// in the query string already gates who can connect.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

// Subscribe handles GET /v1/sessions/:id/feed.
func (h *FeedHandler) Subscribe(c *gin.Context) {
	sessionID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}
	userID := middleware.GetUserID(c)

	// Snapshot existence check before the upgrade so an invalid session is
	// a clean 404 instead of a dropped socket.
	if _, err := h.store.Snapshot(c.Request.Context(), sessionID); err != nil {
		respondError(c, h.logger, err)
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	sub := h.broker.Subscribe(sessionID)
	defer sub.Close()
	defer conn.Close()

	// Subscribed; now read the snapshot the client will reconcile from.
	snap, err := h.store.Snapshot(c.Request.Context(), sessionID)
	if err != nil {
		h.logger.Warn("snapshot after subscribe failed",
			zap.String("session_id", sessionID.String()), zap.Error(err))
		return
	}
	presence.Decorate(snap.Participants)

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(models.ChangeEvent{
		SessionID: sessionID,
		Kind:      models.KindSnapshot,
		Snapshot:  snap,
	}); err != nil {
		return
	}

	h.logger.Info("feed subscribed",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", userID.String()),
	)

	// Reader goroutine: we never expect client frames, but reading is how
	// we notice the peer going away and how pongs are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.Request.Context().Done():
			return
		case ev, ok := <-sub.Events():
			if !ok {
				return
			}
			if ev.Kind == models.KindParticipantJoined && ev.Participant != nil {
				p := *ev.Participant
				p.AvatarURL = presence.AvatarURL(p.UserID)
				ev.Participant = &p
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
