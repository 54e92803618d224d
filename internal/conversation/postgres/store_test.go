package postgres

import (
	"context"
	"database/sql"
	"errors"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
)

const selectStateSQL = `
SELECT conversation_id, tenant_id, last_ast, query_count, updated_at
FROM conversation_state
WHERE conversation_id = $1
  AND updated_at >= $2`

func TestGetDecodesStoredAST(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return updatedAt.Add(10 * time.Minute) }

	mock.ExpectQuery(regexp.QuoteMeta(selectStateSQL)).
		WithArgs("conv-1", updatedAt.Add(-50*time.Minute)).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "tenant_id", "last_ast", "query_count", "updated_at"}).
			AddRow("conv-1", "acme", []byte(`{"metrics":[{"function":"sum","field":"quantity"}],"dimensions":[{"field":"region"}],"limit":10}`), 3, updatedAt))

	state, err := store.Get(context.Background(), "conv-1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if state.TenantID != "acme" || state.QueryCount != 3 {
		t.Fatalf("state = %#v", state)
	}
	if len(state.LastAST.Metrics) != 1 || state.LastAST.Metrics[0].Function != ast.Sum {
		t.Fatalf("LastAST.Metrics = %#v", state.LastAST.Metrics)
	}
	if got := state.LastAST.Limit; !got.Explicit() || got.Value != 10 {
		t.Fatalf("LastAST.Limit = %#v", got)
	}
	if !state.UpdatedAt.Equal(updatedAt) {
		t.Fatalf("UpdatedAt = %v, want %v", state.UpdatedAt, updatedAt)
	}
	assertSQLMock(t, mock)
}

func TestGetReturnsNotFound(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)

	mock.ExpectQuery(regexp.QuoteMeta(selectStateSQL)).
		WithArgs("missing", sqlmock.AnyArg()).
		WillReturnError(sql.ErrNoRows)

	_, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, conversation.ErrNotFound) {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
	assertSQLMock(t, mock)
}

func TestGetRejectsCorruptAST(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, 0)

	mock.ExpectQuery(regexp.QuoteMeta(selectStateSQL)).
		WithArgs("conv-1", time.Time{}).
		WillReturnRows(sqlmock.NewRows([]string{"conversation_id", "tenant_id", "last_ast", "query_count", "updated_at"}).
			AddRow("conv-1", "", []byte(`{"charts":[]}`), 1, time.Now()))

	if _, err := store.Get(context.Background(), "conv-1"); err == nil {
		t.Fatal("expected decode error for unknown AST key")
	}
	assertSQLMock(t, mock)
}

func TestPutUpsertsState(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)
	updatedAt := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO conversation_state (conversation_id, tenant_id, last_ast, query_count, updated_at)
VALUES ($1, $2, $3::jsonb, $4, $5)
ON CONFLICT (conversation_id)
DO UPDATE SET
  tenant_id = EXCLUDED.tenant_id,
  last_ast = EXCLUDED.last_ast,
  query_count = EXCLUDED.query_count,
  updated_at = EXCLUDED.updated_at`)).
		WithArgs("conv-1", "acme", `{"metrics":null,"dimensions":[{"field":"region"}],"filters":null,"order_by":null}`, 2, updatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := store.Put(context.Background(), conversation.State{
		ConversationID: "conv-1",
		TenantID:       "acme",
		LastAST:        ast.Query{Dimensions: []ast.Dimension{{Field: "region"}}},
		QueryCount:     2,
		UpdatedAt:      updatedAt,
	})
	if err != nil {
		t.Fatalf("Put() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestDeleteState(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM conversation_state
WHERE conversation_id = $1`)).
		WithArgs("conv-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := store.Delete(context.Background(), "conv-1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestRecordTurnInsertsAuditRow(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)

	mock.ExpectExec(regexp.QuoteMeta(`
INSERT INTO query_audit (conversation_id, tenant_id, intent, outcome, error_code, sql_text, param_count)
VALUES ($1, $2, $3, $4, $5, $6, $7)`)).
		WithArgs("conv-1", "acme", "refine", "rejected", "UNKNOWN_FIELD", "", 0).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := store.RecordTurn(context.Background(), conversation.AuditEntry{
		ConversationID: "conv-1",
		TenantID:       "acme",
		Intent:         conversation.IntentRefine,
		Outcome:        "rejected",
		ErrorCode:      "UNKNOWN_FIELD",
	})
	if err != nil {
		t.Fatalf("RecordTurn() error = %v", err)
	}
	assertSQLMock(t, mock)
}

func TestPurgeReportsDeletedRows(t *testing.T) {
	db, mock := newSQLMock(t)
	store := NewStore(db, time.Hour)
	cutoff := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM conversation_state
WHERE updated_at < $1`)).
		WithArgs(cutoff).
		WillReturnResult(sqlmock.NewResult(0, 4))
	mock.ExpectExec(regexp.QuoteMeta(`
DELETE FROM query_audit
WHERE created_at < $1`)).
		WithArgs(cutoff).
		WillReturnError(errors.New("boom"))

	deleted, err := store.PurgeExpired(context.Background(), cutoff)
	if err != nil {
		t.Fatalf("PurgeExpired() error = %v", err)
	}
	if deleted != 4 {
		t.Fatalf("deleted = %d, want 4", deleted)
	}
	if _, err := store.PurgeAudit(context.Background(), cutoff); err == nil {
		t.Fatal("expected PurgeAudit() error")
	}
	assertSQLMock(t, mock)
}

func newSQLMock(t *testing.T) (*sql.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, mock
}

func assertSQLMock(t *testing.T, mock sqlmock.Sqlmock) {
	t.Helper()
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}
