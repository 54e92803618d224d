// Package safety proves that a query only references legal, type-compatible
// schema elements before anything is compiled. Validation is pure and
// deterministic: the same query and registry always yield the same verdict.
package safety

import (
	"fmt"
	"strings"
	"time"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

const (
	minLimit = 1
	maxLimit = ast.MaxLimit
)

type check func(q ast.Query, reg *schema.Registry) []error

// checks run in this order; Validate reports the first violation of the
// first failing check.
var checks = []check{
	checkSelection,
	checkFieldsExist,
	checkAggregatable,
	checkOperatorTypes,
	checkFilterShapes,
	checkOrderScope,
	checkOutputNames,
	checkLimit,
}

// Validate returns nil when q is safe to compile against reg, or the first
// violation found as one of the typed errors in this package.
func Validate(q ast.Query, reg *schema.Registry) error {
	for _, run := range checks {
		if violations := run(q, reg); len(violations) > 0 {
			return violations[0]
		}
	}
	return nil
}

// ValidateAll runs every check and returns all violations in check order.
// Fields that do not exist are reported once, by the existence check; a
// filter whose operator does not fit its field type is not shape checked.
func ValidateAll(q ast.Query, reg *schema.Registry) []error {
	var out []error
	for _, run := range checks {
		out = append(out, run(q, reg)...)
	}
	return out
}

func checkSelection(q ast.Query, _ *schema.Registry) []error {
	if len(q.Metrics) == 0 && len(q.Dimensions) == 0 {
		return []error{&EmptySelectionError{}}
	}
	return nil
}

func checkFieldsExist(q ast.Query, reg *schema.Registry) []error {
	var out []error
	missing := func(ref, as string) {
		if _, ok := reg.Lookup(ref); !ok {
			out = append(out, &UnknownFieldError{Field: ref, ReferencedAs: as})
		}
	}
	for _, metric := range q.Metrics {
		missing(metric.Field, "metric")
	}
	for _, dimension := range q.Dimensions {
		missing(dimension.Field, "dimension")
	}
	for _, filter := range q.Filters {
		missing(filter.Field, "filter")
	}
	for _, order := range q.OrderBy {
		if q.HasOutputName(order.Field) {
			continue
		}
		missing(order.Field, "order_by")
	}
	return out
}

func checkAggregatable(q ast.Query, reg *schema.Registry) []error {
	var out []error
	for _, metric := range q.Metrics {
		field, ok := reg.Lookup(metric.Field)
		if !ok {
			continue
		}
		if !aggregatable(metric.Function, field) {
			out = append(out, &NonAggregatableFieldError{Field: metric.Field, Function: string(metric.Function)})
		}
	}
	return out
}

func aggregatable(fn ast.Function, field schema.Field) bool {
	switch fn {
	case ast.Count, ast.CountDistinct:
		return true
	case ast.Sum, ast.Avg:
		return field.Aggregatable && field.Type == schema.Numeric
	case ast.Min, ast.Max:
		return (field.Aggregatable && field.Type == schema.Numeric) || field.Type == schema.Date
	default:
		return false
	}
}

func checkOperatorTypes(q ast.Query, reg *schema.Registry) []error {
	var out []error
	for _, filter := range q.Filters {
		field, ok := reg.Lookup(filter.Field)
		if !ok {
			continue
		}
		if !operatorApplies(filter.Operator, field.Type) {
			out = append(out, &OperatorTypeMismatchError{
				Field:     filter.Field,
				Operator:  string(filter.Operator),
				FieldType: string(field.Type),
			})
		}
	}
	return out
}

func operatorApplies(op ast.Operator, fieldType schema.FieldType) bool {
	switch {
	case !op.Valid():
		return false
	case op.Comparison():
		return fieldType == schema.Numeric || fieldType == schema.Date
	case op == ast.Like:
		return fieldType == schema.String
	default:
		return true
	}
}

func checkFilterShapes(q ast.Query, reg *schema.Registry) []error {
	var out []error
	for _, filter := range q.Filters {
		field, ok := reg.Lookup(filter.Field)
		if !ok || !operatorApplies(filter.Operator, field.Type) {
			continue
		}
		if reason := filterShape(filter, field); reason != "" {
			out = append(out, &MalformedFilterError{
				Field:    filter.Field,
				Operator: string(filter.Operator),
				Reason:   reason,
			})
		}
	}
	return out
}

// filterShape returns why filter's value does not fit its operator and field,
// or "" when it does.
func filterShape(filter ast.Filter, field schema.Field) string {
	switch op := filter.Operator; {
	case op.NullCheck():
		return ""
	case op == ast.Between:
		values, ok := filter.Value.([]any)
		if !ok || len(values) != 2 {
			return "between requires exactly two values"
		}
		for _, value := range values {
			if reason := scalarFits(value, field, false); reason != "" {
				return reason
			}
		}
		if !ordered(values[0], values[1], field.Type) {
			return "between requires the lower bound first"
		}
		return ""
	case op == ast.In || op == ast.NotIn:
		values, ok := filter.Value.([]any)
		if !ok || len(values) == 0 {
			return fmt.Sprintf("%s requires a non-empty list of values", op)
		}
		for _, value := range values {
			if reason := scalarFits(value, field, true); reason != "" {
				return reason
			}
		}
		return ""
	case op == ast.Like:
		pattern, ok := filter.Value.(string)
		if !ok || pattern == "" {
			return "like requires a non-empty string pattern"
		}
		return ""
	default:
		return scalarFits(filter.Value, field, op == ast.Eq || op == ast.Neq)
	}
}

func scalarFits(value any, field schema.Field, checkAllowed bool) string {
	if !ast.IsScalar(value) {
		return fmt.Sprintf("expected a single value, got %T", value)
	}
	switch field.Type {
	case schema.Numeric:
		if _, ok := toFloat(value); !ok {
			return fmt.Sprintf("numeric field requires a numeric value, got %v", value)
		}
	case schema.Date:
		if _, ok := toDate(value); !ok {
			return fmt.Sprintf("date field requires YYYY-MM-DD or RFC 3339, got %v", value)
		}
	}
	if checkAllowed && len(field.AllowedValues) > 0 {
		text, ok := value.(string)
		if !ok || !field.Allows(text) {
			return fmt.Sprintf("%v is not one of %v", value, field.AllowedValues)
		}
	}
	return ""
}

func ordered(low, high any, fieldType schema.FieldType) bool {
	if fieldType == schema.Date {
		lo, _ := toDate(low)
		hi, _ := toDate(high)
		return !hi.Before(lo)
	}
	lo, _ := toFloat(low)
	hi, _ := toFloat(high)
	return lo <= hi
}

func toFloat(value any) (float64, bool) {
	switch v := value.(type) {
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	case float32:
		return float64(v), true
	case float64:
		return v, true
	default:
		return 0, false
	}
}

func toDate(value any) (time.Time, bool) {
	text, ok := value.(string)
	if !ok {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.DateOnly, text); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func checkOrderScope(q ast.Query, reg *schema.Registry) []error {
	var out []error
	canonical := Canonical(reg)
	for _, order := range q.OrderBy {
		if !q.HasOutputName(order.Field) {
			if _, ok := reg.Lookup(order.Field); !ok {
				continue
			}
		}
		if _, ok := q.OrderTarget(order.Field, canonical); !ok {
			out = append(out, &InvalidOrderByError{Field: order.Field})
		}
	}
	return out
}

func checkOutputNames(q ast.Query, _ *schema.Registry) []error {
	var out []error
	seen := make(map[string]struct{}, len(q.Metrics)+len(q.Dimensions))
	add := func(name string) {
		key := strings.ToLower(name)
		if _, exists := seen[key]; exists {
			out = append(out, &DuplicateOutputError{Name: name})
			return
		}
		seen[key] = struct{}{}
	}
	for _, dimension := range q.Dimensions {
		add(dimension.OutputName())
	}
	for _, metric := range q.Metrics {
		add(metric.OutputName())
	}
	return out
}

func checkLimit(q ast.Query, _ *schema.Registry) []error {
	limit := q.Limit.Effective()
	if limit < minLimit || limit > maxLimit {
		return []error{&LimitOutOfRangeError{Limit: limit}}
	}
	return nil
}

// Canonical maps field references to the registry's qualified name so bare
// and qualified spellings compare equal. Unknown references map to their
// normalized text.
func Canonical(reg *schema.Registry) func(string) string {
	return func(ref string) string {
		if field, ok := reg.Lookup(ref); ok {
			return field.Ref()
		}
		return ast.NormalizeRef(ref)
	}
}

// Canonicalize rewrites the metric, dimension and filter fields of q that the
// registry knows to their qualified spelling. Unknown references and order-by
// targets are kept as written. q is not modified.
func Canonicalize(q ast.Query, reg *schema.Registry) ast.Query {
	out := q.Clone()
	qualify := func(ref string) string {
		if field, ok := reg.Lookup(ref); ok {
			return field.Ref()
		}
		return ref
	}
	for i := range out.Metrics {
		out.Metrics[i].Field = qualify(out.Metrics[i].Field)
	}
	for i := range out.Dimensions {
		out.Dimensions[i].Field = qualify(out.Dimensions[i].Field)
	}
	for i := range out.Filters {
		out.Filters[i].Field = qualify(out.Filters[i].Field)
	}
	return out
}
