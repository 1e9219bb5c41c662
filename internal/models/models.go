package models

import (
	"time"

	"github.com/google/uuid"
)

// Session is one shared-editing collaboration instance.
//
// The document lives inline on the session rather than in its own table:
// a session has exactly one document, and every read of the session wants
// the document anyway (snapshot-on-join, snapshot-on-resubscribe). One row,
// one read.
//
// Code is the human-shareable 6-character handle. It is NOT the session ID —
// the ID is a UUID and stays opaque; the code is a separate lookup key that
// can be retired when the session dies.
type Session struct {
	ID        uuid.UUID `json:"id"`
	OwnerID   uuid.UUID `json:"owner_id"`
	Code      string    `json:"code"`
	Document  Document  `json:"document"`
	CreatedAt time.Time `json:"created_at"`
}

// Document is the shared text buffer inside a session.
//
// Version is bumped atomically on every accepted write. The policy is
// last-write-wins: the version never gates a write, it only orders the
// DocumentChanged events that writes produce. There is no merge algorithm,
// so rejecting a "stale" write would leave nowhere for its content to go.
//
// LastWriterID is what makes echo suppression possible: the client that
// authored a write sees its own ID come back on the event and skips
// re-applying content over its in-progress keystrokes.
type Document struct {
	Name         string    `json:"name"`
	Content      string    `json:"content"`
	Version      int64     `json:"version"`
	LastWriterID uuid.UUID `json:"last_writer_id"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DefaultDocument is what a freshly created session starts with.
func DefaultDocument() Document {
	return Document{
		Name:    "untitled.txt",
		Content: "// Start collaborating!",
	}
}

// Participant is one entry in a session's live roster.
//
// AvatarURL is derived deterministically from the user ID (same input,
// same output) and never stored — see presence.AvatarURL. It is carried
// here so snapshots and join events arrive at clients already decorated.
type Participant struct {
	UserID      uuid.UUID `json:"user_id"`
	DisplayName string    `json:"display_name"`
	AvatarURL   string    `json:"avatar_url,omitempty"`
	JoinedAt    time.Time `json:"joined_at"`
}

// ChatMessage is a single immutable message in a session's chat log.
//
// ID is generated by the sending client and doubles as the idempotency key:
// a retried append with the same ID inserts nothing the second time. Seq is
// the server-assigned ordinal (bigserial) — it, not the wall clock, defines
// the order every client observes, so two messages sent in the same
// millisecond still have a total order.
type ChatMessage struct {
	ID         uuid.UUID `json:"id"`
	SessionID  uuid.UUID `json:"session_id"`
	Seq        int64     `json:"seq"`
	SenderID   uuid.UUID `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Body       string    `json:"body"`
	SentAt     time.Time `json:"sent_at"`
}

// MaxChatBodyLen caps a chat message body. Enforced before any store call.
const MaxChatBodyLen = 500

// SessionSnapshot is the full current state handed to a client on join and
// on (re)subscribe. A subscriber that missed events while disconnected
// reconciles from this rather than replaying a log.
type SessionSnapshot struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
}

// ChangeKind discriminates what a ChangeEvent carries.
type ChangeKind string

const (
	KindDocumentChanged     ChangeKind = "document_changed"
	KindParticipantJoined   ChangeKind = "participant_joined"
	KindParticipantLeft     ChangeKind = "participant_left"
	KindChatMessageAppended ChangeKind = "chat_message_appended"
	// KindSnapshot is only ever the first frame on a feed connection; the
	// broker never publishes it.
	KindSnapshot ChangeKind = "snapshot"
)

// ChangeEvent is one accepted mutation, fanned out to every subscriber of
// the session. Ephemeral — produced after the store accepts a mutation,
// never persisted.
//
// OriginID tags who caused the mutation. Echo suppression compares it
// against the local user ID; modeling the origin as event data (instead of
// a mutable "I am updating" flag on the client) keeps the check race-free
// across concurrent deliveries.
//
// Exactly one of the payload pointers is set, matching Kind.
type ChangeEvent struct {
	SessionID   uuid.UUID        `json:"session_id"`
	Kind        ChangeKind       `json:"kind"`
	OriginID    uuid.UUID        `json:"origin_id"`
	Document    *Document        `json:"document,omitempty"`
	Participant *Participant     `json:"participant,omitempty"`
	Message     *ChatMessage     `json:"message,omitempty"`
	Snapshot    *SessionSnapshot `json:"snapshot,omitempty"`
}
