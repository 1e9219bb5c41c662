// Package session is the authoritative record of every live collaboration:
// who owns it, who is in it, and what the shared document currently says.
// All mutations flow through Store, which serializes them per session and
// publishes a tagged ChangeEvent for each one the backend accepts.
package session

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/syncpad/syncpad/internal/feed"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/repository"
	"go.uber.org/zap"
)

// ErrStoreUnavailable wraps backend failures that are not the caller's
// fault — retryable, surfaced to clients as a transient condition rather
// than a 4xx.
var ErrStoreUnavailable = errors.New("store unavailable")

// codeAlphabet deliberately omits 0/O/1/I/L: the code is read aloud and
// typed by humans.
const (
	codeAlphabet = "ABCDEFGHJKMNPQRSTUVWXYZ23456789"
	CodeLength   = 6

	// createRetries bounds share-code collision retries. 31^6 codes makes a
	// collision vanishingly rare; three attempts is already paranoid.
	createRetries = 3
)

type Store struct {
	sessions repository.SessionRepository
	codes    repository.CodeRepository
	feed     *feed.Broker
	locks    *Locks
	logger   *zap.Logger
}

func NewStore(sessions repository.SessionRepository, codes repository.CodeRepository, broker *feed.Broker, locks *Locks, logger *zap.Logger) *Store {
	return &Store{
		sessions: sessions,
		codes:    codes,
		feed:     broker,
		locks:    locks,
		logger:   logger,
	}
}

// Create allocates a new session with owner as the sole participant and a
// fresh share code. No event is published — there is nobody subscribed yet.
func (s *Store) Create(ctx context.Context, owner models.Participant) (*models.SessionSnapshot, error) {
	var sess *models.Session
	var err error
	for attempt := 0; attempt < createRetries; attempt++ {
		code, codeErr := NewCode()
		if codeErr != nil {
			return nil, codeErr
		}
		sess, err = s.sessions.Create(ctx, owner.UserID, owner, models.DefaultDocument(), code)
		if err == nil {
			break
		}
		// Only a code collision earns a fresh code and another attempt; a
		// backend failure would fail identically three times.
		if !errors.Is(err, repository.ErrCodeTaken) {
			return nil, storeErr("create session", err)
		}
	}
	if err != nil {
		return nil, storeErr("create session", err)
	}

	s.logger.Info("session created",
		zap.String("session_id", sess.ID.String()),
		zap.String("code", sess.Code),
		zap.String("owner_id", sess.OwnerID.String()),
	)
	return &models.SessionSnapshot{
		Session:      *sess,
		Participants: []models.Participant{owner},
	}, nil
}

// Resolve maps a share code to the session id. Unknown codes surface as
// repository.ErrCodeNotFound — "invalid code", not a generic failure.
func (s *Store) Resolve(ctx context.Context, code string) (uuid.UUID, error) {
	id, err := s.codes.Resolve(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrCodeNotFound) {
			return uuid.Nil, err
		}
		return uuid.Nil, storeErr("resolve code", err)
	}
	return id, nil
}

// Join adds p to the roster (idempotently) and returns the current
// snapshot. A ParticipantJoined event is published only on first join —
// a retried join must not re-announce the user.
func (s *Store) Join(ctx context.Context, sessionID uuid.UUID, p models.Participant) (*models.SessionSnapshot, error) {
	var snap *models.SessionSnapshot
	err := s.locks.Do(sessionID, func() error {
		added, err := s.sessions.AddParticipant(ctx, sessionID, p)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return err
			}
			return storeErr("join session", err)
		}
		snap, err = s.sessions.Snapshot(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return err
			}
			return storeErr("snapshot session", err)
		}
		if added {
			joined := p
			for _, rp := range snap.Participants {
				if rp.UserID == p.UserID {
					joined = rp
					break
				}
			}
			s.feed.Publish(models.ChangeEvent{
				SessionID:   sessionID,
				Kind:        models.KindParticipantJoined,
				OriginID:    p.UserID,
				Participant: &joined,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return snap, nil
}

// Leave removes the participant; absent users are a silent no-op, so
// leaving twice is safe. When the owner leaves, the session is destroyed:
// remaining subscribers see the owner's ParticipantLeft event and their
// feed ends.
func (s *Store) Leave(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) error {
	return s.locks.Do(sessionID, func() error {
		sess, err := s.sessions.Get(ctx, sessionID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				// Already gone — leaving a dead session is a no-op.
				return nil
			}
			return storeErr("get session", err)
		}

		removed, err := s.sessions.RemoveParticipant(ctx, sessionID, userID)
		if err != nil {
			return storeErr("leave session", err)
		}
		if removed {
			s.feed.Publish(models.ChangeEvent{
				SessionID:   sessionID,
				Kind:        models.KindParticipantLeft,
				OriginID:    userID,
				Participant: &models.Participant{UserID: userID},
			})
		}

		if sess.OwnerID == userID {
			if err := s.sessions.Delete(ctx, sessionID); err != nil {
				return storeErr("delete session", err)
			}
			s.logger.Info("session destroyed by owner leave",
				zap.String("session_id", sessionID.String()),
			)
		}
		return nil
	})
}

// WriteDocument applies an accepted coalesced write: unconditional
// last-write-wins, version bumped by the store, DocumentChanged published
// with the writer tagged as origin so the author's own client can suppress
// the echo.
func (s *Store) WriteDocument(ctx context.Context, sessionID uuid.UUID, name, content string, writerID uuid.UUID) (*models.Document, error) {
	var doc *models.Document
	err := s.locks.Do(sessionID, func() error {
		var err error
		doc, err = s.sessions.WriteDocument(ctx, sessionID, name, content, writerID)
		if err != nil {
			if errors.Is(err, repository.ErrSessionNotFound) {
				return err
			}
			return storeErr("write document", err)
		}
		s.feed.Publish(models.ChangeEvent{
			SessionID: sessionID,
			Kind:      models.KindDocumentChanged,
			OriginID:  writerID,
			Document:  doc,
		})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Snapshot returns the current document plus roster. This is what a
// resubscribing client reconciles from in place of replaying missed events.
func (s *Store) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	snap, err := s.sessions.Snapshot(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return nil, err
		}
		return nil, storeErr("snapshot session", err)
	}
	return snap, nil
}

// Feed exposes the broker for subscription by the delivery layer.
func (s *Store) Feed() *feed.Broker {
	return s.feed
}

// NewCode generates a 6-character share code from the unambiguous alphabet,
// crypto-random so codes aren't guessable from each other.
func NewCode() (string, error) {
	buf := make([]byte, CodeLength)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	out := make([]byte, CodeLength)
	for i, b := range buf {
		out[i] = codeAlphabet[int(b)%len(codeAlphabet)]
	}
	return string(out), nil
}

func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStoreUnavailable, err)
}
