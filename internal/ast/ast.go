// Package ast defines the structured query description produced by the parse
// step and consumed by merge, validation, join resolution and compilation.
//
// Field references are plain strings: a bare field name ("region") when it is
// unique across the registry, or a table-qualified one ("orders.region").
package ast

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

type Function string

const (
	Sum           Function = "sum"
	Count         Function = "count"
	CountDistinct Function = "count_distinct"
	Avg           Function = "avg"
	Min           Function = "min"
	Max           Function = "max"
)

var functions = map[string]Function{
	"sum": Sum, "count": Count, "count_distinct": CountDistinct,
	"avg": Avg, "min": Min, "max": Max,
}

func (f Function) Valid() bool {
	_, ok := functions[string(f)]
	return ok
}

func (f *Function) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("metric function: %w", err)
	}
	fn, ok := functions[strings.ToLower(strings.TrimSpace(raw))]
	if !ok {
		return fmt.Errorf("unsupported metric function %q", raw)
	}
	*f = fn
	return nil
}

type Operator string

const (
	Eq      Operator = "eq"
	Neq     Operator = "neq"
	Gt      Operator = "gt"
	Gte     Operator = "gte"
	Lt      Operator = "lt"
	Lte     Operator = "lte"
	Between Operator = "between"
	In      Operator = "in"
	NotIn   Operator = "not_in"
	Like    Operator = "like"
	IsNull  Operator = "is_null"
	NotNull Operator = "not_null"
)

var operatorSpellings = map[Operator][]string{
	Eq:      {"=", "=="},
	Neq:     {"!=", "<>"},
	Gt:      {">"},
	Gte:     {">="},
	Lt:      {"<"},
	Lte:     {"<="},
	Between: nil,
	In:      nil,
	NotIn:   {"not in"},
	Like:    nil,
	IsNull:  {"is null"},
	NotNull: {"is_not_null", "is not null"},
}

var operators = func() map[string]Operator {
	out := map[string]Operator{}
	for op, spellings := range operatorSpellings {
		out[string(op)] = op
		for _, spelling := range spellings {
			out[spelling] = op
		}
	}
	return out
}()

// ParseOperator maps canonical and symbolic spellings to an Operator.
func ParseOperator(raw string) (Operator, bool) {
	op, ok := operators[strings.ToLower(strings.TrimSpace(raw))]
	return op, ok
}

func (o Operator) Valid() bool {
	_, ok := operatorSpellings[o]
	return ok
}

// Comparison reports whether the operator orders values (gt, gte, lt, lte, between).
func (o Operator) Comparison() bool {
	switch o {
	case Gt, Gte, Lt, Lte, Between:
		return true
	default:
		return false
	}
}

// NullCheck reports whether the operator takes no value.
func (o Operator) NullCheck() bool {
	return o == IsNull || o == NotNull
}

func (o *Operator) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("filter operator: %w", err)
	}
	op, ok := ParseOperator(raw)
	if !ok {
		return fmt.Errorf("unsupported filter operator %q", raw)
	}
	*o = op
	return nil
}

type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

func (d *Direction) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("order direction: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "asc", "ascending":
		*d = Asc
	case "", "desc", "descending":
		*d = Desc
	default:
		return fmt.Errorf("unsupported order direction %q", raw)
	}
	return nil
}

// Normalized returns Desc for an unset direction.
func (d Direction) Normalized() Direction {
	if d == Asc {
		return Asc
	}
	return Desc
}

type Metric struct {
	Function Function `json:"function"`
	Field    string   `json:"field"`
	Alias    string   `json:"alias,omitempty"`
}

type Dimension struct {
	Field string `json:"field"`
	Alias string `json:"alias,omitempty"`
}

// Filter restricts rows. Value is a scalar (string, int64, float64, bool), a
// []any of scalars for in/not_in, a two element []any for between, or nil for
// null checks.
type Filter struct {
	Field    string   `json:"field"`
	Operator Operator `json:"operator"`
	Value    any      `json:"value,omitempty"`
}

func (f *Filter) UnmarshalJSON(data []byte) error {
	var raw struct {
		Field    string          `json:"field"`
		Operator Operator        `json:"operator"`
		Value    json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	f.Field = raw.Field
	f.Operator = raw.Operator
	f.Value = nil
	if len(raw.Value) == 0 {
		return nil
	}
	decoder := json.NewDecoder(bytes.NewReader(raw.Value))
	decoder.UseNumber()
	var value any
	if err := decoder.Decode(&value); err != nil {
		return fmt.Errorf("filter %s value: %w", raw.Field, err)
	}
	f.Value = normalizeValue(value)
	return nil
}

type OrderBy struct {
	Field     string    `json:"field"`
	Direction Direction `json:"direction"`
}

func (o *OrderBy) UnmarshalJSON(data []byte) error {
	type plain OrderBy
	decoded := plain{Direction: Desc}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return err
	}
	*o = OrderBy(decoded)
	return nil
}

// Query is one turn's structured query description.
type Query struct {
	Metrics    []Metric    `json:"metrics"`
	Dimensions []Dimension `json:"dimensions"`
	Filters    []Filter    `json:"filters"`
	OrderBy    []OrderBy   `json:"order_by"`
	Limit      Limit       `json:"limit,omitzero"`
}

// Empty returns the no-op delta.
func Empty() Query {
	return Query{}
}

// Clone returns a deep copy that shares no slices with q.
func (q Query) Clone() Query {
	out := Query{Limit: q.Limit}
	if q.Metrics != nil {
		out.Metrics = append([]Metric(nil), q.Metrics...)
	}
	if q.Dimensions != nil {
		out.Dimensions = append([]Dimension(nil), q.Dimensions...)
	}
	if q.Filters != nil {
		out.Filters = make([]Filter, len(q.Filters))
		for i, filter := range q.Filters {
			out.Filters[i] = filter.Clone()
		}
	}
	if q.OrderBy != nil {
		out.OrderBy = append([]OrderBy(nil), q.OrderBy...)
	}
	return out
}

func (f Filter) Clone() Filter {
	if values, ok := f.Value.([]any); ok {
		f.Value = append([]any(nil), values...)
	}
	return f
}

// Decode parses a JSON query description. Unknown keys are rejected.
func Decode(data []byte) (Query, error) {
	return DecodeReader(bytes.NewReader(data))
}

func DecodeReader(r io.Reader) (Query, error) {
	decoder := json.NewDecoder(r)
	decoder.DisallowUnknownFields()
	var q Query
	if err := decoder.Decode(&q); err != nil {
		return Query{}, fmt.Errorf("decode query: %w", err)
	}
	return q, nil
}

// NormalizeRef canonicalises a field reference for identity comparisons.
func NormalizeRef(ref string) string {
	return strings.ToLower(strings.TrimSpace(ref))
}

// IsScalar reports whether v is a single filter value.
func IsScalar(v any) bool {
	switch v.(type) {
	case string, bool, int, int32, int64, float32, float64:
		return true
	default:
		return false
	}
}

func normalizeValue(v any) any {
	switch typed := v.(type) {
	case json.Number:
		if i, err := typed.Int64(); err == nil {
			return i
		}
		if f, err := typed.Float64(); err == nil {
			return f
		}
		return typed.String()
	case []any:
		out := make([]any, len(typed))
		for i, item := range typed {
			out[i] = normalizeValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, item := range typed {
			out[key] = normalizeValue(item)
		}
		return out
	default:
		return v
	}
}

// OutputName is the column name the metric gets in the result set: its alias,
// or "<function>_<field>".
func (m Metric) OutputName() string {
	if alias := strings.TrimSpace(m.Alias); alias != "" {
		return alias
	}
	return string(m.Function) + "_" + fieldName(m.Field)
}

// OutputName is the dimension's alias, or its field name.
func (d Dimension) OutputName() string {
	if alias := strings.TrimSpace(d.Alias); alias != "" {
		return alias
	}
	return fieldName(d.Field)
}

// OrderTarget maps an order-by reference to the output column it sorts by.
// Output names match first; otherwise the reference is compared with metric
// and dimension fields through canonical, which lets callers resolve bare and
// qualified spellings to the same key.
func (q Query) OrderTarget(ref string, canonical func(string) string) (string, bool) {
	normalized := NormalizeRef(ref)
	for _, metric := range q.Metrics {
		if strings.EqualFold(metric.OutputName(), normalized) {
			return metric.OutputName(), true
		}
	}
	for _, dimension := range q.Dimensions {
		if strings.EqualFold(dimension.OutputName(), normalized) {
			return dimension.OutputName(), true
		}
	}
	key := canonical(ref)
	for _, metric := range q.Metrics {
		if canonical(metric.Field) == key {
			return metric.OutputName(), true
		}
	}
	for _, dimension := range q.Dimensions {
		if canonical(dimension.Field) == key {
			return dimension.OutputName(), true
		}
	}
	return "", false
}

// HasOutputName reports whether ref names a metric or dimension output column.
func (q Query) HasOutputName(ref string) bool {
	for _, metric := range q.Metrics {
		if strings.EqualFold(metric.OutputName(), NormalizeRef(ref)) {
			return true
		}
	}
	for _, dimension := range q.Dimensions {
		if strings.EqualFold(dimension.OutputName(), NormalizeRef(ref)) {
			return true
		}
	}
	return false
}

func fieldName(ref string) string {
	ref = NormalizeRef(ref)
	if i := strings.LastIndexByte(ref, '.'); i >= 0 {
		return ref[i+1:]
	}
	return ref
}
