// Package chat is the append-only, strictly ordered message log of a
// session. It shares the session's serialization domain with the document
// path but fans out through its own event kind — chat and document updates
// never block each other's consumers.
package chat

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/feed"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/repository"
	"github.com/syncpad/syncpad/internal/session"
	"go.uber.org/zap"
)

// ErrInvalidMessage rejects empty or over-length bodies. Checked before
// any store call so a bad message never costs a network round trip.
var ErrInvalidMessage = errors.New("invalid chat message")

// DefaultBacklogLimit caps a single ListFrom page.
const DefaultBacklogLimit = 200

type Log struct {
	repo   repository.ChatRepository
	feed   *feed.Broker
	locks  *session.Locks
	logger *zap.Logger
}

func NewLog(repo repository.ChatRepository, broker *feed.Broker, locks *session.Locks, logger *zap.Logger) *Log {
	return &Log{repo: repo, feed: broker, locks: locks, logger: logger}
}

// Append validates, persists and fans out one message.
//
// messageID is the client-generated idempotency key; pass uuid.Nil to let
// the server mint one (callers that never retry). A retried append with the
// same key returns the originally stored message and publishes nothing new.
//
// Ordering: the insert assigns the ordinal and the event is published
// under the session lock, so if Append(a) returns before Append(b) starts,
// every subscriber sees a before b.
func (l *Log) Append(ctx context.Context, sessionID uuid.UUID, senderID uuid.UUID, senderName, body string, messageID uuid.UUID) (*models.ChatMessage, error) {
	if err := ValidateBody(body); err != nil {
		return nil, err
	}
	if messageID == uuid.Nil {
		messageID = uuid.New()
	}

	var stored *models.ChatMessage
	err := l.locks.Do(sessionID, func() error {
		var inserted bool
		var err error
		stored, inserted, err = l.repo.Append(ctx, models.ChatMessage{
			ID:         messageID,
			SessionID:  sessionID,
			SenderID:   senderID,
			SenderName: senderName,
			Body:       body,
		})
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return err
			}
			return fmt.Errorf("append chat message: %w: %w", session.ErrStoreUnavailable, err)
		}
		// A retried append (same idempotency key) returns the original row
		// and publishes nothing — subscribers already saw it.
		if inserted {
			l.feed.Publish(models.ChangeEvent{
				SessionID: sessionID,
				Kind:      models.KindChatMessageAppended,
				OriginID:  senderID,
				Message:   stored,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// ListFrom returns the ordered backlog after sinceSeq, for clients
// resynchronizing after a reconnect.
func (l *Log) ListFrom(ctx context.Context, sessionID uuid.UUID, sinceSeq int64) ([]models.ChatMessage, error) {
	msgs, err := l.repo.ListFrom(ctx, sessionID, sinceSeq, DefaultBacklogLimit)
	if err != nil {
		return nil, fmt.Errorf("list chat backlog: %w: %w", session.ErrStoreUnavailable, err)
	}
	return msgs, nil
}

// ValidateBody enforces the message contract: non-blank, at most
// MaxChatBodyLen characters. Runes, not bytes — a 400-character message in
// a multi-byte script is still a valid message.
func ValidateBody(body string) error {
	if strings.TrimSpace(body) == "" {
		return fmt.Errorf("%w: empty body", ErrInvalidMessage)
	}
	if len([]rune(body)) > models.MaxChatBodyLen {
		return fmt.Errorf("%w: body exceeds %d characters", ErrInvalidMessage, models.MaxChatBodyLen)
	}
	return nil
}
