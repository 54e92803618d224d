package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/merge"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/pipeline"
)

// Runner is the core pipeline as the service sees it.
type Runner interface {
	Run(ctx context.Context, previous *ast.Query, delta ast.Query) (pipeline.Output, error)
}

type Turn struct {
	// ConversationID is generated when empty.
	ConversationID string
	TenantID       string
	Delta          ast.Query
	Intent         Intent
}

type TurnResult struct {
	ConversationID string
	Intent         Intent
	Output         pipeline.Output
	// Merged is true when the delta was merged onto a previous query.
	Merged bool
	// FellBack is true when the merged query was rejected and the delta alone
	// was compiled instead.
	FellBack bool
	// Replayed is true when a non-actionable delta re-ran the previous query.
	Replayed   bool
	QueryCount int
}

type Service struct {
	store   Store
	runner  Runner
	auditor Auditor
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	locks   keyedMutex
}

type Option func(*Service)

func WithAuditor(auditor Auditor) Option {
	return func(s *Service) { s.auditor = auditor }
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, runner Runner, opts ...Option) *Service {
	s := &Service{
		store:  store,
		runner: runner,
		logger: slog.Default(),
		now:    time.Now,
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ask runs one conversation turn. Turns on the same conversation are
// serialised; state is persisted only when the turn compiles.
func (s *Service) Ask(ctx context.Context, turn Turn) (TurnResult, error) {
	if turn.Intent == "" {
		turn.Intent = IntentRefine
	}
	if turn.ConversationID == "" {
		turn.ConversationID = s.newID()
	}

	unlock := s.locks.lock(turn.ConversationID)
	defer unlock()

	result := TurnResult{ConversationID: turn.ConversationID, Intent: turn.Intent}

	previous, err := s.load(ctx, turn)
	if err != nil {
		return result, err
	}
	queryCount := 0
	if previous != nil {
		queryCount = previous.QueryCount
	}

	var out pipeline.Output
	switch {
	case previous == nil || turn.Intent == IntentReset:
		out, err = s.runner.Run(ctx, nil, turn.Delta)
	case !merge.IsActionable(turn.Delta):
		result.Replayed = true
		out, err = s.runner.Run(ctx, &previous.LastAST, ast.Empty())
	default:
		result.Merged = true
		out, err = s.runner.Run(ctx, &previous.LastAST, turn.Delta)
		if outcome, _ := pipeline.Classify(err); outcome == pipeline.OutcomeRejected {
			fallback, fallbackErr := s.runner.Run(ctx, nil, turn.Delta)
			if fallbackErr == nil {
				s.logger.InfoContext(ctx, "conversation_merge_fallback",
					slog.String("trace_id", observability.TraceIDFromContext(ctx)),
					slog.String("conversation_id", turn.ConversationID),
					slog.String("merged_error", err.Error()),
				)
				out, err = fallback, nil
				result.Merged = false
				result.FellBack = true
			}
		}
	}

	outcome, code := pipeline.Classify(err)
	observability.ObserveConversationTurn(string(turn.Intent), outcome)
	s.audit(ctx, turn, outcome, code, out)
	if err != nil {
		return result, err
	}

	result.Output = out
	result.QueryCount = queryCount
	if result.Replayed {
		return result, nil
	}

	result.QueryCount = queryCount + 1
	if err := s.store.Put(ctx, State{
		ConversationID: turn.ConversationID,
		TenantID:       turn.TenantID,
		LastAST:        out.Merged,
		QueryCount:     result.QueryCount,
		UpdatedAt:      s.now().UTC(),
	}); err != nil {
		return result, fmt.Errorf("save conversation %s: %w", turn.ConversationID, err)
	}
	return result, nil
}

// Reset forgets a conversation. Resetting an unknown conversation is not an
// error.
func (s *Service) Reset(ctx context.Context, tenantID, conversationID string) error {
	unlock := s.locks.lock(conversationID)
	defer unlock()

	state, err := s.store.Get(ctx, conversationID)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load conversation %s: %w", conversationID, err)
	}
	if state.TenantID != tenantID {
		return nil
	}
	if err := s.store.Delete(ctx, conversationID); err != nil {
		return fmt.Errorf("delete conversation %s: %w", conversationID, err)
	}
	return nil
}

// State returns the stored state of a conversation owned by tenantID.
func (s *Service) State(ctx context.Context, tenantID, conversationID string) (State, error) {
	state, err := s.store.Get(ctx, conversationID)
	if err != nil {
		return State{}, err
	}
	if state.TenantID != tenantID {
		return State{}, ErrNotFound
	}
	return state, nil
}

// load returns the previous state, or nil when the conversation is new,
// expired or belongs to another tenant.
func (s *Service) load(ctx context.Context, turn Turn) (*State, error) {
	state, err := s.store.Get(ctx, turn.ConversationID)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load conversation %s: %w", turn.ConversationID, err)
	}
	if state.TenantID != turn.TenantID {
		return nil, ErrNotFound
	}
	return &state, nil
}

func (s *Service) audit(ctx context.Context, turn Turn, outcome, code string, out pipeline.Output) {
	if s.auditor == nil {
		return
	}
	entry := AuditEntry{
		ConversationID: turn.ConversationID,
		TenantID:       turn.TenantID,
		Intent:         turn.Intent,
		Outcome:        outcome,
		ErrorCode:      code,
	}
	if outcome == pipeline.OutcomeOK {
		entry.SQL = out.SQL
		entry.ParamCount = len(out.Params)
	}
	if err := s.auditor.RecordTurn(ctx, entry); err != nil {
		s.logger.WarnContext(ctx, "conversation_audit_failed",
			slog.String("trace_id", observability.TraceIDFromContext(ctx)),
			slog.String("conversation_id", turn.ConversationID),
			slog.String("error", err.Error()),
		)
	}
}

// keyedMutex hands out one mutex per key and drops it once no goroutine holds
// or waits for it.
type keyedMutex struct {
	mu      sync.Mutex
	entries map[string]*keyedEntry
}

type keyedEntry struct {
	mu   sync.Mutex
	refs int
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	if k.entries == nil {
		k.entries = map[string]*keyedEntry{}
	}
	entry, ok := k.entries[key]
	if !ok {
		entry = &keyedEntry{}
		k.entries[key] = entry
	}
	entry.refs++
	k.mu.Unlock()

	entry.mu.Lock()
	return func() {
		entry.mu.Unlock()
		k.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}
