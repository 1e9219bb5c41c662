// Package presence maintains the live roster of a session and derives the
// display identity (name fallback, avatar) every client renders.
package presence

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

// Manager fronts the session store's join/leave path and decorates roster
// entries. Join against an unknown code surfaces repository.ErrCodeNotFound
// so the caller can say "invalid code" instead of a generic failure.
type Manager struct {
	store  *session.Store
	logger *zap.Logger
}

func NewManager(store *session.Store, logger *zap.Logger) *Manager {
	return &Manager{store: store, logger: logger}
}

// JoinByCode resolves the share code and joins the session, returning the
// decorated snapshot. Idempotent under retries — rejoining changes nothing
// and announces nothing.
func (m *Manager) JoinByCode(ctx context.Context, code string, userID uuid.UUID, displayName string) (*models.SessionSnapshot, error) {
	sessionID, err := m.store.Resolve(ctx, code)
	if err != nil {
		return nil, err
	}
	return m.Join(ctx, sessionID, userID, displayName)
}

// Join adds the user to the roster with a fallback display name when none
// was supplied.
func (m *Manager) Join(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID, displayName string) (*models.SessionSnapshot, error) {
	snap, err := m.store.Join(ctx, sessionID, models.Participant{
		UserID:      userID,
		DisplayName: DisplayNameOrFallback(userID, displayName),
	})
	if err != nil {
		return nil, err
	}
	Decorate(snap.Participants)
	m.logger.Info("participant joined",
		zap.String("session_id", sessionID.String()),
		zap.String("user_id", userID.String()),
		zap.Int("roster_size", len(snap.Participants)),
	)
	return snap, nil
}

// Leave removes the user from the roster; absent users are a no-op.
func (m *Manager) Leave(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) error {
	return m.store.Leave(ctx, sessionID, userID)
}

// Decorate fills the derived AvatarURL on each roster entry in place.
func Decorate(participants []models.Participant) {
	for i := range participants {
		participants[i].AvatarURL = AvatarURL(participants[i].UserID)
	}
}

// DisplayNameOrFallback returns the supplied name, or "User " plus the
// first four characters of the user id when the name is blank.
func DisplayNameOrFallback(userID uuid.UUID, displayName string) string {
	if name := strings.TrimSpace(displayName); name != "" {
		return name
	}
	return "User " + userID.String()[:4]
}

// AvatarURL derives a deterministic placeholder avatar for a user. Pure
// function: the same user id always maps to the same image, so every
// client renders the same face without coordinating.
func AvatarURL(userID uuid.UUID) string {
	return fmt.Sprintf("https://picsum.photos/seed/%s/40/40", userID)
}
