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

type ChatStore struct {
	pool *pgxpool.Pool
}

func NewChatStore(pool *pgxpool.Pool) *ChatStore {
	return &ChatStore{pool: pool}
}

func (s *ChatStore) Append(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, bool, error) {
	// seq is a bigserial — Postgres assigns the ordinal, so the observed
	// order is decided here, once, for every client.
	//
	// ON CONFLICT (id) DO NOTHING + the fallback SELECT makes a retried
	// append return the original row instead of a duplicate: the message ID
	// is client-generated precisely so the retry carries the same key.
	query := `
		INSERT INTO chat_messages (id, session_id, sender_id, sender_name, body, sent_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (id) DO NOTHING
		RETURNING id, session_id, seq, sender_id, sender_name, body, sent_at`

	var out models.ChatMessage
	err := s.pool.QueryRow(ctx, query,
		msg.ID, msg.SessionID, msg.SenderID, msg.SenderName, msg.Body,
	).Scan(
		&out.ID,
		&out.SessionID,
		&out.Seq,
		&out.SenderID,
		&out.SenderName,
		&out.Body,
		&out.SentAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Conflict path: the key already exists. Return the original
			// row and report it as not-inserted so no second event goes out.
			stored, err := s.getByID(ctx, msg.ID)
			return stored, false, err
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgForeignKeyViolation {
			return nil, false, repository.ErrSessionNotFound
		}
		return nil, false, fmt.Errorf("insert chat message: %w", err)
	}
	return &out, true, nil
}

func (s *ChatStore) getByID(ctx context.Context, id uuid.UUID) (*models.ChatMessage, error) {
	query := `
		SELECT id, session_id, seq, sender_id, sender_name, body, sent_at
		FROM chat_messages
		WHERE id = $1`

	var out models.ChatMessage
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&out.ID,
		&out.SessionID,
		&out.Seq,
		&out.SenderID,
		&out.SenderName,
		&out.Body,
		&out.SentAt,
	)
	if err != nil {
		return nil, fmt.Errorf("get chat message: %w", err)
	}
	return &out, nil
}

func (s *ChatStore) ListFrom(ctx context.Context, sessionID uuid.UUID, sinceSeq int64, limit int) ([]models.ChatMessage, error) {
	// Ascending by seq: this is a resync backlog, the client replays it in
	// order. sinceSeq is the last ordinal the client saw (0 = everything).
	query := `
		SELECT id, session_id, seq, sender_id, sender_name, body, sent_at
		FROM chat_messages
		WHERE session_id = $1 AND seq > $2
		ORDER BY seq
		LIMIT $3`

	rows, err := s.pool.Query(ctx, query, sessionID, sinceSeq, limit)
	if err != nil {
		return nil, fmt.Errorf("list chat messages: %w", err)
	}
	defer rows.Close()

	messages := make([]models.ChatMessage, 0)
	for rows.Next() {
		var msg models.ChatMessage
		if err := rows.Scan(
			&msg.ID,
			&msg.SessionID,
			&msg.Seq,
			&msg.SenderID,
			&msg.SenderName,
			&msg.Body,
			&msg.SentAt,
		); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat messages: %w", err)
	}

	return messages, nil
}
