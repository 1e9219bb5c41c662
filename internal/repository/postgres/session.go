package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncpad/syncpad/internal/models"
	"github.com/syncpad/syncpad/internal/repository"
)

// SQLSTATEs we translate into the repository's error taxonomy instead of
// leaking driver errors: a participant insert against an unknown session
// fails the foreign key (ErrSessionNotFound), and a share-code insert that
// hits an existing code fails the primary key (ErrCodeTaken).
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

type SessionStore struct {
	pool *pgxpool.Pool
}

func NewSessionStore(pool *pgxpool.Pool) *SessionStore {
	return &SessionStore{pool: pool}
}

func (s *SessionStore) Create(ctx context.Context, ownerID uuid.UUID, owner models.Participant, doc models.Document, code string) (*models.Session, error) {
	// Session row + share code + owner roster entry are one unit: a session
	// that exists without a code can never be joined, so all three commit
	// or none do.
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create session: %w", err)
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO sessions (id, owner_id, doc_name, doc_content, version, last_writer_id, doc_updated_at, created_at)
		VALUES (uuid_generate_v4(), $1, $2, $3, 0, $1, now(), now())
		RETURNING id, owner_id, doc_name, doc_content, version, last_writer_id, doc_updated_at, created_at`

	var sess models.Session
	err = tx.QueryRow(ctx, query, ownerID, doc.Name, doc.Content).Scan(
		&sess.ID,
		&sess.OwnerID,
		&sess.Document.Name,
		&sess.Document.Content,
		&sess.Document.Version,
		&sess.Document.LastWriterID,
		&sess.Document.UpdatedAt,
		&sess.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if _, err = tx.Exec(ctx,
		`INSERT INTO session_codes (code, session_id) VALUES ($1, $2)`,
		code, sess.ID,
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, fmt.Errorf("insert session code: %w", repository.ErrCodeTaken)
		}
		return nil, fmt.Errorf("insert session code: %w", err)
	}
	sess.Code = code

	if _, err = tx.Exec(ctx,
		`INSERT INTO participants (session_id, user_id, display_name, joined_at)
		 VALUES ($1, $2, $3, now())`,
		sess.ID, owner.UserID, owner.DisplayName,
	); err != nil {
		return nil, fmt.Errorf("insert owner participant: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Get(ctx context.Context, sessionID uuid.UUID) (*models.Session, error) {
	query := `
		SELECT s.id, s.owner_id, c.code, s.doc_name, s.doc_content, s.version, s.last_writer_id, s.doc_updated_at, s.created_at
		FROM sessions s
		JOIN session_codes c ON c.session_id = s.id
		WHERE s.id = $1`

	var sess models.Session
	err := s.pool.QueryRow(ctx, query, sessionID).Scan(
		&sess.ID,
		&sess.OwnerID,
		&sess.Code,
		&sess.Document.Name,
		&sess.Document.Content,
		&sess.Document.Version,
		&sess.Document.LastWriterID,
		&sess.Document.UpdatedAt,
		&sess.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("get session: %w", err)
	}
	return &sess, nil
}

func (s *SessionStore) Snapshot(ctx context.Context, sessionID uuid.UUID) (*models.SessionSnapshot, error) {
	sess, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT user_id, display_name, joined_at
		FROM participants
		WHERE session_id = $1
		ORDER BY joined_at, user_id`

	rows, err := s.pool.Query(ctx, query, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list participants: %w", err)
	}
	defer rows.Close()

	participants := make([]models.Participant, 0)
	for rows.Next() {
		var p models.Participant
		if err := rows.Scan(&p.UserID, &p.DisplayName, &p.JoinedAt); err != nil {
			return nil, fmt.Errorf("scan participant: %w", err)
		}
		participants = append(participants, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate participants: %w", err)
	}

	return &models.SessionSnapshot{Session: *sess, Participants: participants}, nil
}

func (s *SessionStore) AddParticipant(ctx context.Context, sessionID uuid.UUID, p models.Participant) (bool, error) {
	// ON CONFLICT DO NOTHING makes join idempotent: re-joining is a
	// zero-row insert, not a primary key violation. The caller reads the
	// affected-row count to decide whether a ParticipantJoined event is due
	// — a retried join must not announce the user twice.
	query := `
		INSERT INTO participants (session_id, user_id, display_name, joined_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (session_id, user_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, query, sessionID, p.UserID, p.DisplayName)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return false, repository.ErrSessionNotFound
		}
		return false, fmt.Errorf("add participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SessionStore) RemoveParticipant(ctx context.Context, sessionID uuid.UUID, userID uuid.UUID) (bool, error) {
	// DELETE is naturally idempotent: leaving twice deletes zero rows the
	// second time, which is success, not an error.
	query := `
		DELETE FROM participants
		WHERE session_id = $1 AND user_id = $2`

	tag, err := s.pool.Exec(ctx, query, sessionID, userID)
	if err != nil {
		return false, fmt.Errorf("remove participant: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func (s *SessionStore) WriteDocument(ctx context.Context, sessionID uuid.UUID, name, content string, writerID uuid.UUID) (*models.Document, error) {
	// Unconditional overwrite — last-write-wins. version = version + 1 in
	// the same statement keeps the counter strictly increasing under
	// concurrent writers without a read-modify-write round trip; it orders
	// the resulting events and never rejects a write.
	query := `
		UPDATE sessions
		SET doc_content = $2,
		    doc_name = COALESCE(NULLIF($3, ''), doc_name),
		    version = version + 1,
		    last_writer_id = $4,
		    doc_updated_at = now()
		WHERE id = $1
		RETURNING doc_name, doc_content, version, last_writer_id, doc_updated_at`

	var doc models.Document
	err := s.pool.QueryRow(ctx, query, sessionID, content, name, writerID).Scan(
		&doc.Name,
		&doc.Content,
		&doc.Version,
		&doc.LastWriterID,
		&doc.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrSessionNotFound
		}
		return nil, fmt.Errorf("write document: %w", err)
	}
	return &doc, nil
}

func (s *SessionStore) Delete(ctx context.Context, sessionID uuid.UUID) error {
	// participants, chat_messages and session_codes all cascade from the
	// sessions row.
	_, err := s.pool.Exec(ctx, `DELETE FROM sessions WHERE id = $1`, sessionID)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
