package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/syncpad/syncpad/internal/repository"
)

// CodeStore resolves the 6-character share code to the full session id.
//
// A dedicated lookup table, not a prefix of the id: UUIDs can't be prefix-
// queried cheaply, and a separate table lets the code die with the session
// (FK cascade) while staying a single indexed point lookup.
type CodeStore struct {
	pool *pgxpool.Pool
}

func NewCodeStore(pool *pgxpool.Pool) *CodeStore {
	return &CodeStore{pool: pool}
}

func (s *CodeStore) Resolve(ctx context.Context, code string) (uuid.UUID, error) {
	query := `
		SELECT session_id
		FROM session_codes
		WHERE code = $1`

	var sessionID uuid.UUID
	err := s.pool.QueryRow(ctx, query, strings.ToUpper(strings.TrimSpace(code))).Scan(&sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, repository.ErrCodeNotFound
		}
		return uuid.Nil, fmt.Errorf("resolve code: %w", err)
	}
	return sessionID, nil
}
