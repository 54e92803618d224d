package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
)

// Store keeps conversation state in conversation_state and turn audit rows in
// query_audit. Rows older than maxAge are treated as absent.
type Store struct {
	db     *sql.DB
	maxAge time.Duration
	now    func() time.Time
}

func NewStore(db *sql.DB, maxAge time.Duration) *Store {
	return &Store{db: db, maxAge: maxAge, now: time.Now}
}

func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping conversation store db: %w", err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, conversationID string) (conversation.State, error) {
	query := `
SELECT conversation_id, tenant_id, last_ast, query_count, updated_at
FROM conversation_state
WHERE conversation_id = $1
  AND updated_at >= $2`

	var (
		state   conversation.State
		payload []byte
	)
	if err := s.db.QueryRowContext(ctx, query, conversationID, s.cutoff()).Scan(
		&state.ConversationID,
		&state.TenantID,
		&payload,
		&state.QueryCount,
		&state.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return conversation.State{}, conversation.ErrNotFound
		}
		return conversation.State{}, fmt.Errorf("get conversation state: %w", err)
	}

	last, err := ast.Decode(payload)
	if err != nil {
		return conversation.State{}, fmt.Errorf("decode conversation %s ast: %w", conversationID, err)
	}
	state.LastAST = last
	return state, nil
}

func (s *Store) Put(ctx context.Context, state conversation.State) error {
	payload, err := json.Marshal(state.LastAST)
	if err != nil {
		return fmt.Errorf("encode conversation %s ast: %w", state.ConversationID, err)
	}
	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = s.now().UTC()
	}

	query := `
INSERT INTO conversation_state (conversation_id, tenant_id, last_ast, query_count, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (conversation_id)
DO UPDATE SET
  tenant_id = EXCLUDED.tenant_id,
  last_ast = EXCLUDED.last_ast,
  query_count = EXCLUDED.query_count,
  updated_at = EXCLUDED.updated_at`
	if _, err := s.db.ExecContext(ctx, query,
		state.ConversationID,
		state.TenantID,
		string(payload),
		state.QueryCount,
		updatedAt,
	); err != nil {
		return fmt.Errorf("put conversation state: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, conversationID string) error {
	if _, err := s.db.ExecContext(ctx, `
DELETE FROM conversation_state
WHERE conversation_id = $1`, conversationID); err != nil {
		return fmt.Errorf("delete conversation state: %w", err)
	}
	return nil
}

// PurgeExpired removes state rows last updated before olderThan.
func (s *Store) PurgeExpired(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM conversation_state
WHERE updated_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge conversation state: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge conversation state rows affected: %w", err)
	}
	return deleted, nil
}

func (s *Store) RecordTurn(ctx context.Context, entry conversation.AuditEntry) error {
	query := `
INSERT INTO query_audit (conversation_id, tenant_id, intent, outcome, error_code, sql_text, param_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)`
	if _, err := s.db.ExecContext(ctx, query,
		entry.ConversationID,
		entry.TenantID,
		string(entry.Intent),
		entry.Outcome,
		entry.ErrorCode,
		entry.SQL,
		entry.ParamCount,
	); err != nil {
		return fmt.Errorf("record query audit: %w", err)
	}
	return nil
}

// PurgeAudit removes audit rows created before olderThan.
func (s *Store) PurgeAudit(ctx context.Context, olderThan time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
DELETE FROM query_audit
WHERE created_at < $1`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("purge query audit: %w", err)
	}
	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("purge query audit rows affected: %w", err)
	}
	return deleted, nil
}

func (s *Store) cutoff() time.Time {
	if s.maxAge <= 0 {
		return time.Time{}
	}
	return s.now().UTC().Add(-s.maxAge)
}
