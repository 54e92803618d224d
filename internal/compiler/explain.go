package compiler

import (
	"fmt"
	"strings"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/joins"
)

// Explanation is a structured, user facing account of what a compiled query
// computes.
type Explanation struct {
	Aggregates   []string `json:"aggregates"`
	GroupBy      []string `json:"group_by"`
	Filters      []string `json:"filters"`
	OrderBy      []string `json:"order_by"`
	Limit        int      `json:"limit"`
	SourceTables []string `json:"source_tables"`
}

var functionLabels = map[ast.Function]string{
	ast.Sum:           "total",
	ast.Count:         "count of",
	ast.CountDistinct: "distinct count of",
	ast.Avg:           "average",
	ast.Min:           "minimum",
	ast.Max:           "maximum",
}

var operatorLabels = map[ast.Operator]string{
	ast.Eq:      "is",
	ast.Neq:     "is not",
	ast.Gt:      "is greater than",
	ast.Gte:     "is at least",
	ast.Lt:      "is less than",
	ast.Lte:     "is at most",
	ast.Between: "is between",
	ast.In:      "is one of",
	ast.NotIn:   "is not one of",
	ast.Like:    "matches",
	ast.IsNull:  "is missing",
	ast.NotNull: "is present",
}

// Explain describes q and plan without touching the registry.
func Explain(q ast.Query, plan joins.Plan) Explanation {
	e := Explanation{
		Aggregates:   make([]string, 0, len(q.Metrics)),
		GroupBy:      make([]string, 0, len(q.Dimensions)),
		Filters:      make([]string, 0, len(q.Filters)),
		OrderBy:      make([]string, 0, len(q.OrderBy)),
		Limit:        q.Limit.Effective(),
		SourceTables: append([]string{}, plan.Tables...),
	}
	for _, metric := range q.Metrics {
		label, ok := functionLabels[metric.Function]
		if !ok {
			label = string(metric.Function)
		}
		e.Aggregates = append(e.Aggregates, label+" "+metric.Field)
	}
	for _, dimension := range q.Dimensions {
		e.GroupBy = append(e.GroupBy, dimension.Field)
	}
	for _, filter := range q.Filters {
		e.Filters = append(e.Filters, describeFilter(filter))
	}
	for _, order := range q.OrderBy {
		direction := "descending"
		if order.Direction.Normalized() == ast.Asc {
			direction = "ascending"
		}
		e.OrderBy = append(e.OrderBy, order.Field+" "+direction)
	}
	return e
}

func describeFilter(filter ast.Filter) string {
	label, ok := operatorLabels[filter.Operator]
	if !ok {
		label = string(filter.Operator)
	}
	switch filter.Operator {
	case ast.IsNull, ast.NotNull:
		return filter.Field + " " + label
	case ast.Between:
		if values, ok := filter.Value.([]any); ok && len(values) == 2 {
			return fmt.Sprintf("%s %s %v and %v", filter.Field, label, values[0], values[1])
		}
	case ast.In, ast.NotIn:
		if values, ok := filter.Value.([]any); ok {
			parts := make([]string, 0, len(values))
			for _, value := range values {
				parts = append(parts, fmt.Sprint(value))
			}
			return fmt.Sprintf("%s %s %s", filter.Field, label, strings.Join(parts, ", "))
		}
	}
	return fmt.Sprintf("%s %s %v", filter.Field, label, filter.Value)
}

// Sentence renders the explanation as one sentence, e.g. "Calculating total
// quantity grouped by region, limited to 50 rows, using data from orders."
func (e Explanation) Sentence() string {
	var b strings.Builder
	b.WriteString("Calculating ")
	switch {
	case len(e.Aggregates) > 0:
		b.WriteString(joinWords(e.Aggregates))
		if len(e.GroupBy) > 0 {
			b.WriteString(" grouped by ")
			b.WriteString(joinWords(e.GroupBy))
		}
	case len(e.GroupBy) > 0:
		b.WriteString("distinct ")
		b.WriteString(joinWords(e.GroupBy))
	default:
		b.WriteString("nothing")
	}
	if len(e.Filters) > 0 {
		b.WriteString(" where ")
		b.WriteString(strings.Join(e.Filters, " and "))
	}
	if len(e.OrderBy) > 0 {
		b.WriteString(", ordered by ")
		b.WriteString(joinWords(e.OrderBy))
	}
	fmt.Fprintf(&b, ", limited to %d rows", e.Limit)
	if len(e.SourceTables) > 0 {
		b.WriteString(", using data from ")
		b.WriteString(joinWords(e.SourceTables))
	}
	b.WriteString(".")
	return b.String()
}

func joinWords(items []string) string {
	switch len(items) {
	case 0:
		return ""
	case 1:
		return items[0]
	default:
		return strings.Join(items[:len(items)-1], ", ") + " and " + items[len(items)-1]
	}
}
