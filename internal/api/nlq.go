package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/config"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
	"github.com/abhiyan52/ClarityQL/internal/nl2sql"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/pipeline"
	"github.com/abhiyan52/ClarityQL/internal/query"
	"github.com/abhiyan52/ClarityQL/internal/safety"
)

const maxRequestBytes = 1 << 20

type compileRequest struct {
	PreviousAST json.RawMessage `json:"previous_ast"`
	AST         json.RawMessage `json:"ast"`
}

type nlQueryRequest struct {
	ConversationID string          `json:"conversation_id"`
	Question       string          `json:"question"`
	AST            json.RawMessage `json:"ast"`
	Intent         string          `json:"intent"`
	Execute        bool            `json:"execute"`
	RowLimit       int             `json:"row_limit"`
}

type compileResponse struct {
	pipeline.Output
	Sentence    string `json:"sentence"`
	DiffSummary string `json:"diff_summary"`
}

type nlQueryResponse struct {
	ConversationID string              `json:"conversation_id"`
	Intent         conversation.Intent `json:"intent"`
	Merged         bool                `json:"merged"`
	FellBack       bool                `json:"fell_back"`
	Replayed       bool                `json:"replayed"`
	QueryCount     int                 `json:"query_count"`
	Parsed         *nl2sql.ParseResult `json:"parsed,omitempty"`
	Result         compileResponse     `json:"result"`
	Execution      *executionResponse  `json:"execution,omitempty"`
}

type executionResponse struct {
	query.Result
	DurationMS int64 `json:"duration_ms"`
}

type conversationResponse struct {
	ConversationID string    `json:"conversation_id"`
	LastAST        ast.Query `json:"last_ast"`
	QueryCount     int       `json:"query_count"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// handleCompile runs the stateless pipeline on a caller supplied AST and
// optional previous AST. Nothing is persisted.
func handleCompile(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Compiler == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "compiler is not configured", false, nil)
		return
	}
	var request compileRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if len(request.AST) == 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "ast is required", false, nil)
		return
	}
	delta, err := ast.Decode(request.AST)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AST", err.Error(), false, nil)
		return
	}
	var previous *ast.Query
	if len(request.PreviousAST) > 0 && !bytes.Equal(bytes.TrimSpace(request.PreviousAST), []byte("null")) {
		decoded, err := ast.Decode(request.PreviousAST)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AST", "previous_ast: "+err.Error(), false, nil)
			return
		}
		previous = &decoded
	}

	out, err := deps.Compiler.Run(r.Context(), previous, delta)
	if err != nil {
		writePipelineError(deps.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newCompileResponse(out))
}

// handleNLQuery runs one conversation turn from either a question, parsed by
// the model, or a hand written AST delta, and optionally executes the result.
func handleNLQuery(cfg config.Config, deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "conversations are not configured", false, nil)
		return
	}
	var request nlQueryRequest
	if err := decodeJSONBody(w, r, &request); err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	request.Question = strings.TrimSpace(request.Question)
	hasAST := len(request.AST) > 0
	if (request.Question == "") == !hasAST {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "exactly one of question or ast is required", false, nil)
		return
	}
	intent, err := conversation.ParseIntent(request.Intent)
	if err != nil {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), false, nil)
		return
	}
	if request.RowLimit < 0 {
		writeError(r.Context(), w, http.StatusBadRequest, "INVALID_REQUEST", "row_limit must be non-negative", false, nil)
		return
	}
	if request.Execute && (!cfg.Execution.Enabled || deps.QueryEngine == nil || deps.Files == nil) {
		writeError(r.Context(), w, http.StatusNotImplemented, "EXECUTION_DISABLED", "query execution is not enabled", false, nil)
		return
	}

	tenantID := tenantFromRequest(r)
	turn := conversation.Turn{
		ConversationID: strings.TrimSpace(request.ConversationID),
		TenantID:       tenantID,
		Intent:         intent,
	}

	var parsed *nl2sql.ParseResult
	if hasAST {
		delta, err := ast.Decode(request.AST)
		if err != nil {
			writeError(r.Context(), w, http.StatusBadRequest, "INVALID_AST", err.Error(), false, nil)
			return
		}
		turn.Delta = delta
	} else {
		if deps.Parser == nil {
			writeError(r.Context(), w, http.StatusNotImplemented, "PARSER_DISABLED", "natural language parsing is not enabled", false, nil)
			return
		}
		result, ok := parseQuestion(deps, w, r, turn, request.Question)
		if !ok {
			return
		}
		parsed = &result
		turn.Delta = result.AST
		if request.Intent == "" && result.Intent != "" {
			turn.Intent = result.Intent
		}
	}

	turnResult, err := deps.Conversations.Ask(r.Context(), turn)
	if err != nil {
		writePipelineError(deps.Logger, w, r, err)
		return
	}

	response := nlQueryResponse{
		ConversationID: turnResult.ConversationID,
		Intent:         turnResult.Intent,
		Merged:         turnResult.Merged,
		FellBack:       turnResult.FellBack,
		Replayed:       turnResult.Replayed,
		QueryCount:     turnResult.QueryCount,
		Parsed:         parsed,
		Result:         newCompileResponse(turnResult.Output),
	}

	if request.Execute {
		execution, err := executeOutput(r.Context(), cfg, deps, turnResult.Output, request.RowLimit)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				writeError(r.Context(), w, http.StatusGatewayTimeout, "QUERY_TIMEOUT", "query execution timed out", true, map[string]any{
					"conversation_id": turnResult.ConversationID,
				})
				return
			}
			if deps.Logger != nil {
				deps.Logger.ErrorContext(r.Context(), "nlq execution failed",
					slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
					slog.String("conversation_id", turnResult.ConversationID),
					slog.String("error", err.Error()),
				)
			}
			writeError(r.Context(), w, http.StatusInternalServerError, "EXECUTION_FAILED", err.Error(), false, map[string]any{
				"conversation_id": turnResult.ConversationID,
			})
			return
		}
		response.Execution = execution
	}
	writeJSON(w, http.StatusOK, response)
}

func parseQuestion(deps Dependencies, w http.ResponseWriter, r *http.Request, turn conversation.Turn, question string) (nl2sql.ParseResult, bool) {
	request := nl2sql.Request{Question: question}
	if turn.ConversationID != "" && turn.Intent != conversation.IntentReset {
		state, err := deps.Conversations.State(r.Context(), turn.TenantID, turn.ConversationID)
		switch {
		case err == nil:
			request.PreviousAST = &state.LastAST
		case errors.Is(err, conversation.ErrNotFound):
		default:
			writePipelineError(deps.Logger, w, r, err)
			return nl2sql.ParseResult{}, false
		}
	}

	result, err := deps.Parser.Parse(r.Context(), request)
	if err != nil {
		if errors.Is(err, nl2sql.ErrUnparseable) {
			writeError(r.Context(), w, http.StatusUnprocessableEntity, "PARSE_FAILED", err.Error(), false, nil)
			return nl2sql.ParseResult{}, false
		}
		if deps.Logger != nil {
			deps.Logger.WarnContext(r.Context(), "nlq parse failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("error", err.Error()),
			)
		}
		writeError(r.Context(), w, http.StatusBadGateway, "PARSER_UNAVAILABLE", err.Error(), true, nil)
		return nl2sql.ParseResult{}, false
	}
	return result, true
}

func executeOutput(ctx context.Context, cfg config.Config, deps Dependencies, out pipeline.Output, requested int) (*executionResponse, error) {
	if cfg.Execution.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.Execution.Timeout)
		defer cancel()
	}
	rowLimit := cfg.Execution.RowLimit
	if requested > 0 && (rowLimit <= 0 || requested < rowLimit) {
		rowLimit = requested
	}
	files, err := deps.Files(ctx, out.Plan.Tables)
	if err != nil {
		return nil, err
	}
	result, err := deps.QueryEngine.Execute(ctx, query.Request{
		SQL:      out.SQL,
		Args:     out.Params,
		RowLimit: rowLimit,
		Files:    files,
	})
	if err != nil {
		return nil, err
	}
	return &executionResponse{Result: result, DurationMS: result.Duration.Milliseconds()}, nil
}

func handleGetConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "conversations are not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	state, err := deps.Conversations.State(r.Context(), tenantFromRequest(r), id)
	if err != nil {
		writePipelineError(deps.Logger, w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conversationResponse{
		ConversationID: state.ConversationID,
		LastAST:        state.LastAST,
		QueryCount:     state.QueryCount,
		UpdatedAt:      state.UpdatedAt.UTC(),
	})
}

func handleResetConversation(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Conversations == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "conversations are not configured", false, nil)
		return
	}
	id := strings.TrimSpace(r.PathValue("id"))
	if err := deps.Conversations.Reset(r.Context(), tenantFromRequest(r), id); err != nil {
		writePipelineError(deps.Logger, w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func newCompileResponse(out pipeline.Output) compileResponse {
	return compileResponse{
		Output:      out,
		Sentence:    out.Explanation.Sentence(),
		DiffSummary: out.Diff.Summary(),
	}
}

// writePipelineError maps validation rejections to 422 with their typed code
// and details, unknown conversations to 404, and everything else to 500.
func writePipelineError(logger *slog.Logger, w http.ResponseWriter, r *http.Request, err error) {
	var rejection safety.Rejection
	switch {
	case errors.As(err, &rejection):
		writeError(r.Context(), w, http.StatusUnprocessableEntity, rejection.Code(), rejection.Error(), false, rejection.Details())
	case errors.Is(err, conversation.ErrNotFound):
		writeError(r.Context(), w, http.StatusNotFound, "CONVERSATION_NOT_FOUND", "conversation not found", false, nil)
	case errors.Is(err, context.DeadlineExceeded):
		writeError(r.Context(), w, http.StatusGatewayTimeout, "TIMEOUT", err.Error(), true, nil)
	default:
		if logger != nil {
			logger.ErrorContext(r.Context(), "nlq request failed",
				slog.String("trace_id", observability.TraceIDFromContext(r.Context())),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
		}
		writeError(r.Context(), w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error", true, nil)
	}
}

func decodeJSONBody(w http.ResponseWriter, r *http.Request, dst any) error {
	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}
