// Package conversation keeps the per-conversation query state that lets a
// follow-up question refine the previous one, and serialises turns so each
// follow-up sees the result of the turn before it.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
)

var ErrNotFound = errors.New("conversation: not found")

// State is what survives between turns.
type State struct {
	ConversationID string
	TenantID       string
	LastAST        ast.Query
	QueryCount     int
	UpdatedAt      time.Time
}

// Store persists conversation state. Get returns ErrNotFound for unknown or
// expired conversations.
type Store interface {
	Get(ctx context.Context, conversationID string) (State, error)
	Put(ctx context.Context, state State) error
	Delete(ctx context.Context, conversationID string) error
}

// AuditEntry records one turn's outcome. SQL is empty for rejected turns.
type AuditEntry struct {
	ConversationID string
	TenantID       string
	Intent         Intent
	Outcome        string
	ErrorCode      string
	SQL            string
	ParamCount     int
}

type Auditor interface {
	RecordTurn(ctx context.Context, entry AuditEntry) error
}

type Intent string

const (
	IntentRefine Intent = "refine"
	IntentReset  Intent = "reset"
)

// ParseIntent accepts refine/reset in any case; empty means refine.
func ParseIntent(raw string) (Intent, error) {
	switch Intent(strings.ToLower(strings.TrimSpace(raw))) {
	case "", IntentRefine:
		return IntentRefine, nil
	case IntentReset:
		return IntentReset, nil
	default:
		return "", fmt.Errorf("unsupported intent %q", raw)
	}
}
