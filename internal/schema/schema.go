// Package schema holds the static catalog the query pipeline compiles against:
// tables, semantic fields, their types and aggregatability, and the join edges
// between tables. A Registry is immutable once built and safe for concurrent use.
package schema

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

type FieldType string

const (
	Numeric     FieldType = "numeric"
	String      FieldType = "string"
	Date        FieldType = "date"
	Categorical FieldType = "categorical"
)

func (t FieldType) valid() bool {
	switch t {
	case Numeric, String, Date, Categorical:
		return true
	default:
		return false
	}
}

// Expression defines a derived field as a binary arithmetic operation over two
// physical columns of the field's own table.
type Expression struct {
	Left  string `yaml:"left" json:"left"`
	Op    string `yaml:"op" json:"op"`
	Right string `yaml:"right" json:"right"`
}

type Field struct {
	Table         string
	Name          string
	Column        string
	Type          FieldType
	Aggregatable  bool
	Description   string
	AllowedValues []string
	DateTrunc     string
	Expression    *Expression
}

// Ref returns the table-qualified name of the field.
func (f Field) Ref() string {
	return f.Table + "." + f.Name
}

func (f Field) Derived() bool {
	return f.Expression != nil
}

// Allows reports whether value is acceptable for a field with a closed value set.
func (f Field) Allows(value string) bool {
	if len(f.AllowedValues) == 0 {
		return true
	}
	for _, allowed := range f.AllowedValues {
		if strings.EqualFold(allowed, value) {
			return true
		}
	}
	return false
}

type Table struct {
	Name        string
	Description string
	PrimaryKey  string
	Fields      []Field
}

type JoinEdge struct {
	LeftTable  string
	RightTable string
	LeftKey    string
	RightKey   string
}

type Registry struct {
	tables    map[string]Table
	names     []string
	qualified map[string]Field
	bare      map[string][]Field
	edges     []JoinEdge
	graph     *Graph
}

var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

var dateTruncUnits = map[string]struct{}{
	"day": {}, "week": {}, "month": {}, "quarter": {}, "year": {},
}

var expressionOps = map[string]struct{}{
	"+": {}, "-": {}, "*": {}, "/": {},
}

// New validates the table and join definitions and builds a Registry. Every
// identifier that can reach SQL text is checked here, so the compiler may emit
// registry names without further escaping.
func New(tables []Table, joins []JoinEdge) (*Registry, error) {
	if len(tables) == 0 {
		return nil, fmt.Errorf("schema: at least one table is required")
	}
	r := &Registry{
		tables:    make(map[string]Table, len(tables)),
		qualified: map[string]Field{},
		bare:      map[string][]Field{},
	}

	for _, table := range tables {
		if !identPattern.MatchString(table.Name) {
			return nil, fmt.Errorf("schema: invalid table name %q", table.Name)
		}
		if _, exists := r.tables[table.Name]; exists {
			return nil, fmt.Errorf("schema: duplicate table %q", table.Name)
		}
		if table.PrimaryKey != "" && !identPattern.MatchString(table.PrimaryKey) {
			return nil, fmt.Errorf("schema: table %q: invalid primary key %q", table.Name, table.PrimaryKey)
		}
		fields := make([]Field, 0, len(table.Fields))
		for _, field := range table.Fields {
			field.Table = table.Name
			if field.Column == "" && field.Expression == nil {
				field.Column = field.Name
			}
			if err := validateField(field); err != nil {
				return nil, fmt.Errorf("schema: table %q: %w", table.Name, err)
			}
			if _, exists := r.qualified[field.Ref()]; exists {
				return nil, fmt.Errorf("schema: duplicate field %q", field.Ref())
			}
			r.qualified[field.Ref()] = field
			r.bare[field.Name] = append(r.bare[field.Name], field)
			fields = append(fields, field)
		}
		sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
		table.Fields = fields
		r.tables[table.Name] = table
		r.names = append(r.names, table.Name)
	}
	sort.Strings(r.names)

	for _, edge := range joins {
		if _, ok := r.tables[edge.LeftTable]; !ok {
			return nil, fmt.Errorf("schema: join references unknown table %q", edge.LeftTable)
		}
		if _, ok := r.tables[edge.RightTable]; !ok {
			return nil, fmt.Errorf("schema: join references unknown table %q", edge.RightTable)
		}
		if edge.LeftTable == edge.RightTable {
			return nil, fmt.Errorf("schema: self join on %q is not supported", edge.LeftTable)
		}
		if !identPattern.MatchString(edge.LeftKey) || !identPattern.MatchString(edge.RightKey) {
			return nil, fmt.Errorf("schema: join %s-%s has an invalid key", edge.LeftTable, edge.RightTable)
		}
		r.edges = append(r.edges, edge)
	}
	r.graph = newGraph(r.names, r.edges)
	return r, nil
}

func validateField(field Field) error {
	if !identPattern.MatchString(field.Name) {
		return fmt.Errorf("invalid field name %q", field.Name)
	}
	if !field.Type.valid() {
		return fmt.Errorf("field %q: invalid type %q", field.Name, field.Type)
	}
	if field.Expression != nil {
		expr := field.Expression
		if !identPattern.MatchString(expr.Left) || !identPattern.MatchString(expr.Right) {
			return fmt.Errorf("field %q: expression operands must be column names", field.Name)
		}
		if _, ok := expressionOps[expr.Op]; !ok {
			return fmt.Errorf("field %q: unsupported expression operator %q", field.Name, expr.Op)
		}
		if field.Type != Numeric {
			return fmt.Errorf("field %q: derived fields must be numeric", field.Name)
		}
	} else if !identPattern.MatchString(field.Column) {
		return fmt.Errorf("field %q: invalid column %q", field.Name, field.Column)
	}
	if field.DateTrunc != "" {
		if _, ok := dateTruncUnits[field.DateTrunc]; !ok {
			return fmt.Errorf("field %q: unsupported date_trunc %q", field.Name, field.DateTrunc)
		}
		if field.Type != Date {
			return fmt.Errorf("field %q: date_trunc requires a date field", field.Name)
		}
	}
	if field.Aggregatable && field.Type != Numeric {
		return fmt.Errorf("field %q: only numeric fields can be aggregatable", field.Name)
	}
	return nil
}

// Lookup resolves a field reference. Qualified references ("orders.region")
// always resolve when declared; bare names resolve only when unique.
func (r *Registry) Lookup(ref string) (Field, bool) {
	ref = strings.ToLower(strings.TrimSpace(ref))
	if ref == "" {
		return Field{}, false
	}
	if strings.Contains(ref, ".") {
		field, ok := r.qualified[ref]
		return field, ok
	}
	candidates := r.bare[ref]
	if len(candidates) != 1 {
		return Field{}, false
	}
	return candidates[0], true
}

func (r *Registry) Table(name string) (Table, bool) {
	table, ok := r.tables[name]
	return table, ok
}

// Tables returns the tables sorted by name.
func (r *Registry) Tables() []Table {
	out := make([]Table, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.tables[name])
	}
	return out
}

// Fields returns every field sorted by qualified name.
func (r *Registry) Fields() []Field {
	out := make([]Field, 0, len(r.qualified))
	for _, name := range r.names {
		out = append(out, r.tables[name].Fields...)
	}
	return out
}

func (r *Registry) Edges() []JoinEdge {
	out := make([]JoinEdge, len(r.edges))
	copy(out, r.edges)
	return out
}

func (r *Registry) Graph() *Graph {
	return r.graph
}
