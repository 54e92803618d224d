// Package pipeline composes the query core: merge, validate, resolve joins,
// compile. Each step's output is the next step's only input and the first
// error stops the run.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/compiler"
	"github.com/abhiyan52/ClarityQL/internal/joins"
	"github.com/abhiyan52/ClarityQL/internal/merge"
	"github.com/abhiyan52/ClarityQL/internal/observability"
	"github.com/abhiyan52/ClarityQL/internal/safety"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

type Output struct {
	Merged      ast.Query            `json:"merged"`
	Plan        joins.Plan           `json:"plan"`
	SQL         string               `json:"sql"`
	Params      []any                `json:"params"`
	Explanation compiler.Explanation `json:"explanation"`
	Diff        merge.Delta          `json:"diff"`
}

// Run executes the core pipeline. With a nil previous the delta is merged
// onto an empty query and Diff reports it against that. Field references are
// qualified against reg first, so "region" and "orders.region" merge as one
// field.
func Run(reg *schema.Registry, comp *compiler.Compiler, previous *ast.Query, delta ast.Query) (Output, error) {
	before := ast.Empty()
	if previous != nil {
		before = safety.Canonicalize(*previous, reg)
	}
	merged := merge.Merge(before, safety.Canonicalize(delta, reg))

	if err := safety.Validate(merged, reg); err != nil {
		return Output{}, err
	}
	plan, err := joins.Resolve(merged, reg)
	if err != nil {
		return Output{}, err
	}
	result, err := comp.Compile(merged, plan)
	if err != nil {
		return Output{}, err
	}
	return Output{
		Merged:      merged,
		Plan:        plan,
		SQL:         result.SQL,
		Params:      result.Params,
		Explanation: result.Explanation,
		Diff:        merge.Diff(before, merged),
	}, nil
}

// Classify maps a pipeline error to its outcome label and error code.
func Classify(err error) (outcome, code string) {
	if err == nil {
		return OutcomeOK, ""
	}
	var rejection safety.Rejection
	if errors.As(err, &rejection) {
		return OutcomeRejected, rejection.Code()
	}
	return OutcomeError, "INTERNAL_ERROR"
}

// Pipeline runs the core with logging and metrics around it.
type Pipeline struct {
	reg      *schema.Registry
	compiler *compiler.Compiler
	logger   *slog.Logger
}

func New(reg *schema.Registry, comp *compiler.Compiler, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{reg: reg, compiler: comp, logger: logger}
}

func (p *Pipeline) Registry() *schema.Registry {
	return p.reg
}

func (p *Pipeline) Run(ctx context.Context, previous *ast.Query, delta ast.Query) (Output, error) {
	start := time.Now()
	out, err := Run(p.reg, p.compiler, previous, delta)
	elapsed := time.Since(start)

	outcome, code := Classify(err)
	observability.ObservePipelineRun(outcome, code, elapsed)

	attrs := []any{
		slog.String("trace_id", observability.TraceIDFromContext(ctx)),
		slog.String("outcome", outcome),
		slog.Bool("merged", previous != nil),
		slog.String("duration", elapsed.String()),
	}
	switch outcome {
	case OutcomeOK:
		p.logger.InfoContext(ctx, "nlq_pipeline", append(attrs,
			slog.Any("tables", out.Plan.Tables),
			slog.Int("params", len(out.Params)),
		)...)
	case OutcomeRejected:
		p.logger.InfoContext(ctx, "nlq_pipeline", append(attrs,
			slog.String("error_code", code),
			slog.String("error", err.Error()),
		)...)
	default:
		p.logger.ErrorContext(ctx, "nlq_pipeline", append(attrs,
			slog.String("error_code", code),
			slog.String("error", err.Error()),
		)...)
	}
	return out, err
}
