package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/models"
)

// Sentinel errors shared by every backend implementation. Callers match
// with errors.Is — the API layer maps these to user-facing statuses
// ("invalid code" for not-found, a transient banner for unavailable).
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrCodeNotFound    = errors.New("session code not found")

	// ErrCodeTaken means the generated share code collided with a live
	// session's. Retryable with a fresh code; any other create failure is not.
	ErrCodeTaken = errors.New("session code already taken")
)

// SessionRepository is the contract the session store service builds on.
//
// The backend must give us atomic read-modify-write on a session row; the
// methods here are each a single statement (or a single transaction) so the
// per-session serialization above this layer is the only ordering that
// matters.
//
// Every method takes ctx first — all of this is I/O, and a cancelled
// request should cancel its query.
type SessionRepository interface {
	// Create inserts the session, its share code, and the owner as the sole
	// participant, in one transaction. Returns the session with ID,
	// CreatedAt and document defaults populated.
	Create(ctx context.Context, ownerID uuid.UUID, owner models.Participant, doc models.Document, code string) (*models.Session, error)

	// Get returns ErrSessionNotFound if the id does not resolve.
	Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error)

	// Snapshot returns the session plus its full roster, joined-at order.
	Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error)

	// AddParticipant is idempotent: re-adding an existing userId is a no-op
	// and reports added=false so the caller can skip the join event.
	AddParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) (added bool, err error)

	// RemoveParticipant is idempotent: removing an absent user is a no-op,
	// reported as removed=false, never an error.
	RemoveParticipant(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) (removed bool, err error)

	// WriteDocument applies content unconditionally (last-write-wins) and
	// bumps the version counter in the same statement. Empty name keeps the
	// stored document name.
	WriteDocument(ctx context.Context, sessionID uuid.UUID, name, content string, writerID uuid.UUID) (*models.Document, error)

	// Delete destroys the session, roster, chat log and share code.
	Delete(ctx context.Context, sessionID uuid.UUID) error
}

// ChatRepository persists the append-only per-session message sequence.
type ChatRepository interface {
	// Append inserts the message and returns it with the server-assigned
	// Seq and SentAt. The message ID is the client idempotency key: a
	// duplicate append returns the already-stored row with inserted=false
	// instead of inserting a second one, so the caller knows not to
	// re-announce it.
	Append(ctx context.Context, msg models.ChatMessage) (stored *models.ChatMessage, inserted bool, err error)

	// ListFrom returns messages with Seq > sinceSeq in ascending Seq order,
	// capped at limit. sinceSeq 0 means the whole backlog.
	ListFrom(ctx context.Context, sessionID uuid.UUID, sinceSeq int64, limit int) ([]models.ChatMessage, error)
}

// CodeRepository maps the 6-character share code to the full session id.
type CodeRepository interface {
	// Resolve returns ErrCodeNotFound for unknown or retired codes.
	Resolve(ctx context.Context, code string) (uuid.UUID, error)
}
