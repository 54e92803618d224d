// Package nl2sql turns a natural-language question into a query AST delta by
// asking an OpenAI-compatible chat model. The model never writes SQL; its
// output goes through the same validation as any hand-written AST.
package nl2sql

import (
	"context"
	"errors"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/conversation"
)

// ErrUnparseable is returned when the model answer is not a usable AST.
var ErrUnparseable = errors.New("nl2sql: model output is not a valid query")

type Request struct {
	Question string
	// PreviousAST is the conversation's last query, nil on the first turn.
	PreviousAST *ast.Query
}

type ParseResult struct {
	AST      ast.Query           `json:"ast"`
	Intent   conversation.Intent `json:"intent"`
	Provider string              `json:"provider"`
	Model    string              `json:"model"`
}

type Parser interface {
	Parse(ctx context.Context, req Request) (ParseResult, error)
}
