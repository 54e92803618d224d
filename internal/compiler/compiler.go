// Package compiler turns a validated query and its join plan into
// parameterized SQL. Every filter value travels as a bind parameter; the SQL
// text only ever contains registry identifiers, quoted output aliases, fixed
// keywords and the validated row limit.
package compiler

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/joins"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

// ErrInvariant marks failures on input that should already have been
// validated. They are internal errors, never the caller's fault.
var ErrInvariant = errors.New("compiler invariant violated")

type Placeholder string

const (
	// Dollar renders $1, $2, ... (PostgreSQL, DuckDB).
	Dollar Placeholder = "dollar"
	// Question renders ? for every parameter.
	Question Placeholder = "question"
)

func ParsePlaceholder(raw string) (Placeholder, error) {
	switch Placeholder(strings.ToLower(strings.TrimSpace(raw))) {
	case "", Dollar:
		return Dollar, nil
	case Question:
		return Question, nil
	default:
		return "", fmt.Errorf("unsupported placeholder style %q", raw)
	}
}

type Options struct {
	Placeholder Placeholder
}

type Compiler struct {
	reg  *schema.Registry
	opts Options
}

type Result struct {
	SQL         string      `json:"sql"`
	Params      []any       `json:"params"`
	Explanation Explanation `json:"explanation"`
}

func New(reg *schema.Registry, opts Options) *Compiler {
	if opts.Placeholder == "" {
		opts.Placeholder = Dollar
	}
	return &Compiler{reg: reg, opts: opts}
}

// Compile renders q against plan. q must have passed safety.Validate and plan
// must come from joins.Resolve for the same query.
func (c *Compiler) Compile(q ast.Query, plan joins.Plan) (Result, error) {
	if len(q.Metrics) == 0 && len(q.Dimensions) == 0 {
		return Result{}, fmt.Errorf("%w: nothing to select", ErrInvariant)
	}
	inPlan := make(map[string]struct{}, len(plan.Tables))
	for _, table := range plan.Tables {
		inPlan[table] = struct{}{}
	}
	b := &builder{compiler: c, inPlan: inPlan}

	selects := make([]string, 0, len(q.Dimensions)+len(q.Metrics))
	groupBy := make([]string, 0, len(q.Dimensions))
	for _, dimension := range q.Dimensions {
		expr, _, err := b.fieldExpr(dimension.Field)
		if err != nil {
			return Result{}, err
		}
		selects = append(selects, expr+" AS "+quoteIdent(dimension.OutputName()))
		groupBy = append(groupBy, expr)
	}
	for _, metric := range q.Metrics {
		expr, _, err := b.fieldExpr(metric.Field)
		if err != nil {
			return Result{}, err
		}
		aggregate, err := aggregateExpr(metric.Function, expr)
		if err != nil {
			return Result{}, err
		}
		selects = append(selects, aggregate+" AS "+quoteIdent(metric.OutputName()))
	}

	var sql strings.Builder
	sql.WriteString("SELECT ")
	sql.WriteString(strings.Join(selects, ", "))
	sql.WriteString(" FROM ")
	sql.WriteString(plan.Base)
	for _, step := range plan.Joins {
		fmt.Fprintf(&sql, " INNER JOIN %s ON %s.%s = %s.%s", step.Right, step.Left, step.LeftKey, step.Right, step.RightKey)
	}

	if len(q.Filters) > 0 {
		predicates := make([]string, 0, len(q.Filters))
		for _, filter := range q.Filters {
			predicate, err := b.predicate(filter)
			if err != nil {
				return Result{}, err
			}
			predicates = append(predicates, predicate)
		}
		sql.WriteString(" WHERE ")
		sql.WriteString(strings.Join(predicates, " AND "))
	}

	if len(groupBy) > 0 {
		sql.WriteString(" GROUP BY ")
		sql.WriteString(strings.Join(groupBy, ", "))
	}

	if len(q.OrderBy) > 0 {
		canonical := c.canonical()
		terms := make([]string, 0, len(q.OrderBy))
		for _, order := range q.OrderBy {
			target, ok := q.OrderTarget(order.Field, canonical)
			if !ok {
				return Result{}, fmt.Errorf("%w: order by %q is not selected", ErrInvariant, order.Field)
			}
			terms = append(terms, quoteIdent(target)+" "+strings.ToUpper(string(order.Direction.Normalized())))
		}
		sql.WriteString(" ORDER BY ")
		sql.WriteString(strings.Join(terms, ", "))
	}

	limit := q.Limit.Effective()
	if limit < 1 || limit > ast.MaxLimit {
		return Result{}, fmt.Errorf("%w: limit %d out of range", ErrInvariant, limit)
	}
	sql.WriteString(" LIMIT ")
	sql.WriteString(strconv.Itoa(limit))

	params := b.params
	if params == nil {
		params = []any{}
	}
	return Result{
		SQL:         sql.String(),
		Params:      params,
		Explanation: Explain(q, plan),
	}, nil
}

func (c *Compiler) canonical() func(string) string {
	return func(ref string) string {
		if field, ok := c.reg.Lookup(ref); ok {
			return field.Ref()
		}
		return ast.NormalizeRef(ref)
	}
}

type builder struct {
	compiler *Compiler
	inPlan   map[string]struct{}
	params   []any
}

func (b *builder) fieldExpr(ref string) (string, schema.Field, error) {
	field, ok := b.compiler.reg.Lookup(ref)
	if !ok {
		return "", schema.Field{}, fmt.Errorf("%w: unknown field %q", ErrInvariant, ref)
	}
	if _, ok := b.inPlan[field.Table]; !ok {
		return "", schema.Field{}, fmt.Errorf("%w: table %q of field %q is not in the join plan", ErrInvariant, field.Table, ref)
	}
	var expr string
	switch {
	case field.Derived():
		e := field.Expression
		expr = fmt.Sprintf("(%s.%s %s %s.%s)", field.Table, e.Left, e.Op, field.Table, e.Right)
	case field.DateTrunc != "":
		expr = fmt.Sprintf("date_trunc('%s', %s.%s)", field.DateTrunc, field.Table, field.Column)
	default:
		expr = field.Table + "." + field.Column
	}
	return expr, field, nil
}

func aggregateExpr(fn ast.Function, expr string) (string, error) {
	switch fn {
	case ast.Sum:
		return "SUM(" + expr + ")", nil
	case ast.Count:
		return "COUNT(" + expr + ")", nil
	case ast.CountDistinct:
		return "COUNT(DISTINCT " + expr + ")", nil
	case ast.Avg:
		return "AVG(" + expr + ")", nil
	case ast.Min:
		return "MIN(" + expr + ")", nil
	case ast.Max:
		return "MAX(" + expr + ")", nil
	default:
		return "", fmt.Errorf("%w: unsupported function %q", ErrInvariant, fn)
	}
}

var comparisonSQL = map[ast.Operator]string{
	ast.Eq:   "=",
	ast.Neq:  "<>",
	ast.Gt:   ">",
	ast.Gte:  ">=",
	ast.Lt:   "<",
	ast.Lte:  "<=",
	ast.Like: "LIKE",
}

func (b *builder) predicate(filter ast.Filter) (string, error) {
	expr, field, err := b.fieldExpr(filter.Field)
	if err != nil {
		return "", err
	}
	switch filter.Operator {
	case ast.IsNull:
		return expr + " IS NULL", nil
	case ast.NotNull:
		return expr + " IS NOT NULL", nil
	case ast.Between:
		values, ok := filter.Value.([]any)
		if !ok || len(values) != 2 {
			return "", fmt.Errorf("%w: between on %q needs two values", ErrInvariant, filter.Field)
		}
		low, err := b.bind(values[0], field)
		if err != nil {
			return "", err
		}
		high, err := b.bind(values[1], field)
		if err != nil {
			return "", err
		}
		return expr + " BETWEEN " + low + " AND " + high, nil
	case ast.In, ast.NotIn:
		values, ok := filter.Value.([]any)
		if !ok || len(values) == 0 {
			return "", fmt.Errorf("%w: %s on %q needs a non-empty list", ErrInvariant, filter.Operator, filter.Field)
		}
		placeholders := make([]string, 0, len(values))
		for _, value := range values {
			placeholder, err := b.bind(value, field)
			if err != nil {
				return "", err
			}
			placeholders = append(placeholders, placeholder)
		}
		keyword := " IN ("
		if filter.Operator == ast.NotIn {
			keyword = " NOT IN ("
		}
		return expr + keyword + strings.Join(placeholders, ", ") + ")", nil
	}

	op, ok := comparisonSQL[filter.Operator]
	if !ok {
		return "", fmt.Errorf("%w: unsupported operator %q", ErrInvariant, filter.Operator)
	}
	placeholder, err := b.bind(filter.Value, field)
	if err != nil {
		return "", err
	}
	return expr + " " + op + " " + placeholder, nil
}

// bind appends value to the parameter list and returns its placeholder. Date
// strings become time.Time and values of closed sets take the registry's
// spelling.
func (b *builder) bind(value any, field schema.Field) (string, error) {
	if !ast.IsScalar(value) {
		return "", fmt.Errorf("%w: non-scalar value for %q", ErrInvariant, field.Ref())
	}
	switch field.Type {
	case schema.Date:
		if text, ok := value.(string); ok {
			parsed, err := parseDate(text)
			if err != nil {
				return "", fmt.Errorf("%w: %v", ErrInvariant, err)
			}
			value = parsed
		}
	default:
		if text, ok := value.(string); ok {
			for _, allowed := range field.AllowedValues {
				if strings.EqualFold(allowed, text) {
					value = allowed
					break
				}
			}
		}
	}
	b.params = append(b.params, value)
	if b.compiler.opts.Placeholder == Question {
		return "?", nil
	}
	return "$" + strconv.Itoa(len(b.params)), nil
}

func parseDate(text string) (time.Time, error) {
	if t, err := time.Parse(time.DateOnly, text); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, text)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date %q: %w", text, err)
	}
	return t, nil
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}
