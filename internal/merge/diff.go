package merge

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/abhiyan52/ClarityQL/internal/ast"
)

// Delta describes what changed between two queries. It feeds explanations and
// API responses only.
type Delta struct {
	MetricsAdded      []ast.Metric    `json:"metrics_added,omitempty"`
	MetricsRemoved    []ast.Metric    `json:"metrics_removed,omitempty"`
	DimensionsAdded   []ast.Dimension `json:"dimensions_added,omitempty"`
	DimensionsRemoved []ast.Dimension `json:"dimensions_removed,omitempty"`
	FiltersAdded      []ast.Filter    `json:"filters_added,omitempty"`
	FiltersChanged    []FilterChange  `json:"filters_changed,omitempty"`
	FiltersRemoved    []ast.Filter    `json:"filters_removed,omitempty"`
	OrderChanged      bool            `json:"order_changed,omitempty"`
	LimitChanged      bool            `json:"limit_changed,omitempty"`
	LimitBefore       ast.Limit       `json:"limit_before,omitzero"`
	LimitAfter        ast.Limit       `json:"limit_after,omitzero"`
}

type FilterChange struct {
	Before ast.Filter `json:"before"`
	After  ast.Filter `json:"after"`
}

func Diff(before, after ast.Query) Delta {
	var d Delta

	beforeMetrics := indexMetrics(before.Metrics)
	afterMetrics := indexMetrics(after.Metrics)
	for _, metric := range after.Metrics {
		if _, ok := beforeMetrics[metricKey(metric)]; !ok {
			d.MetricsAdded = append(d.MetricsAdded, metric)
		}
	}
	for _, metric := range before.Metrics {
		if _, ok := afterMetrics[metricKey(metric)]; !ok {
			d.MetricsRemoved = append(d.MetricsRemoved, metric)
		}
	}

	beforeDims := indexDimensions(before.Dimensions)
	afterDims := indexDimensions(after.Dimensions)
	for _, dimension := range after.Dimensions {
		if _, ok := beforeDims[ast.NormalizeRef(dimension.Field)]; !ok {
			d.DimensionsAdded = append(d.DimensionsAdded, dimension)
		}
	}
	for _, dimension := range before.Dimensions {
		if _, ok := afterDims[ast.NormalizeRef(dimension.Field)]; !ok {
			d.DimensionsRemoved = append(d.DimensionsRemoved, dimension)
		}
	}

	beforeFilters := indexFilters(before.Filters)
	afterFilters := indexFilters(after.Filters)
	for _, filter := range after.Filters {
		previous, ok := beforeFilters[ast.NormalizeRef(filter.Field)]
		switch {
		case !ok:
			d.FiltersAdded = append(d.FiltersAdded, filter)
		case previous.Operator != filter.Operator || !reflect.DeepEqual(previous.Value, filter.Value):
			d.FiltersChanged = append(d.FiltersChanged, FilterChange{Before: previous, After: filter})
		}
	}
	for _, filter := range before.Filters {
		if _, ok := afterFilters[ast.NormalizeRef(filter.Field)]; !ok {
			d.FiltersRemoved = append(d.FiltersRemoved, filter)
		}
	}

	d.OrderChanged = !equalOrder(before.OrderBy, after.OrderBy)
	if before.Limit.Effective() != after.Limit.Effective() {
		d.LimitChanged = true
		d.LimitBefore = before.Limit
		d.LimitAfter = after.Limit
	}
	return d
}

func (d Delta) Empty() bool {
	return len(d.MetricsAdded) == 0 &&
		len(d.MetricsRemoved) == 0 &&
		len(d.DimensionsAdded) == 0 &&
		len(d.DimensionsRemoved) == 0 &&
		len(d.FiltersAdded) == 0 &&
		len(d.FiltersChanged) == 0 &&
		len(d.FiltersRemoved) == 0 &&
		!d.OrderChanged &&
		!d.LimitChanged
}

// Summary renders the delta as a short, human readable list of changes.
func (d Delta) Summary() string {
	if d.Empty() {
		return "no changes"
	}
	var parts []string
	for _, metric := range d.MetricsAdded {
		parts = append(parts, fmt.Sprintf("added metric %s(%s)", metric.Function, metric.Field))
	}
	for _, metric := range d.MetricsRemoved {
		parts = append(parts, fmt.Sprintf("removed metric %s(%s)", metric.Function, metric.Field))
	}
	for _, dimension := range d.DimensionsAdded {
		parts = append(parts, "added grouping by "+dimension.Field)
	}
	for _, dimension := range d.DimensionsRemoved {
		parts = append(parts, "removed grouping by "+dimension.Field)
	}
	for _, filter := range d.FiltersAdded {
		parts = append(parts, fmt.Sprintf("added filter %s %s", filter.Field, filter.Operator))
	}
	for _, change := range d.FiltersChanged {
		parts = append(parts, fmt.Sprintf("changed filter %s to %s %v", change.After.Field, change.After.Operator, change.After.Value))
	}
	for _, filter := range d.FiltersRemoved {
		parts = append(parts, "removed filter "+filter.Field)
	}
	if d.OrderChanged {
		parts = append(parts, "changed ordering")
	}
	if d.LimitChanged {
		parts = append(parts, fmt.Sprintf("limit %d -> %d", d.LimitBefore.Effective(), d.LimitAfter.Effective()))
	}
	return strings.Join(parts, "; ")
}

func metricKey(metric ast.Metric) string {
	return string(metric.Function) + ":" + ast.NormalizeRef(metric.Field)
}

func indexMetrics(metrics []ast.Metric) map[string]struct{} {
	out := make(map[string]struct{}, len(metrics))
	for _, metric := range metrics {
		out[metricKey(metric)] = struct{}{}
	}
	return out
}

func indexDimensions(dimensions []ast.Dimension) map[string]struct{} {
	out := make(map[string]struct{}, len(dimensions))
	for _, dimension := range dimensions {
		out[ast.NormalizeRef(dimension.Field)] = struct{}{}
	}
	return out
}

func indexFilters(filters []ast.Filter) map[string]ast.Filter {
	out := make(map[string]ast.Filter, len(filters))
	for _, filter := range filters {
		out[ast.NormalizeRef(filter.Field)] = filter
	}
	return out
}

func equalOrder(a, b []ast.OrderBy) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if ast.NormalizeRef(a[i].Field) != ast.NormalizeRef(b[i].Field) ||
			a[i].Direction.Normalized() != b[i].Direction.Normalized() {
			return false
		}
	}
	return true
}
