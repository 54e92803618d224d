// Package merge reconciles a follow-up query delta with the previous turn's
// query. Merging never fails and never mutates its inputs.
package merge

import (
	"github.com/abhiyan52/ClarityQL/internal/ast"
)

// Merge combines previous and delta:
//   - metrics and order-by are replaced when the delta carries any;
//   - dimensions accumulate by field, first-seen order;
//   - filters are keyed by field, the delta overwriting in place or appending;
//   - the limit changes only when the delta states one, "default" included.
func Merge(previous, delta ast.Query) ast.Query {
	merged := ast.Query{
		Metrics:    mergeMetrics(previous.Metrics, delta.Metrics),
		Dimensions: mergeDimensions(previous.Dimensions, delta.Dimensions),
		Filters:    mergeFilters(previous.Filters, delta.Filters),
		OrderBy:    mergeOrderBy(previous.OrderBy, delta.OrderBy),
		Limit:      previous.Limit,
	}
	if delta.Limit.Specified() {
		merged.Limit = delta.Limit
	}
	return merged
}

// IsActionable reports whether delta asks for any change at all.
func IsActionable(delta ast.Query) bool {
	return len(delta.Metrics) > 0 ||
		len(delta.Dimensions) > 0 ||
		len(delta.Filters) > 0 ||
		len(delta.OrderBy) > 0 ||
		delta.Limit.Specified()
}

func mergeMetrics(previous, delta []ast.Metric) []ast.Metric {
	source := previous
	if len(delta) > 0 {
		source = delta
	}
	if len(source) == 0 {
		return nil
	}
	return append([]ast.Metric(nil), source...)
}

func mergeOrderBy(previous, delta []ast.OrderBy) []ast.OrderBy {
	source := previous
	if len(delta) > 0 {
		source = delta
	}
	if len(source) == 0 {
		return nil
	}
	return append([]ast.OrderBy(nil), source...)
}

func mergeDimensions(previous, delta []ast.Dimension) []ast.Dimension {
	if len(previous)+len(delta) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(previous)+len(delta))
	out := make([]ast.Dimension, 0, len(previous)+len(delta))
	for _, group := range [][]ast.Dimension{previous, delta} {
		for _, dimension := range group {
			key := ast.NormalizeRef(dimension.Field)
			if _, exists := seen[key]; exists {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, dimension)
		}
	}
	return out
}

func mergeFilters(previous, delta []ast.Filter) []ast.Filter {
	if len(previous)+len(delta) == 0 {
		return nil
	}
	position := make(map[string]int, len(previous)+len(delta))
	out := make([]ast.Filter, 0, len(previous)+len(delta))
	for _, group := range [][]ast.Filter{previous, delta} {
		for _, filter := range group {
			key := ast.NormalizeRef(filter.Field)
			if i, exists := position[key]; exists {
				out[i] = filter.Clone()
				continue
			}
			position[key] = len(out)
			out = append(out, filter.Clone())
		}
	}
	return out
}
