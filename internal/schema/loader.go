package schema

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"
)

//go:embed default.yaml
var defaultDocument []byte

type document struct {
	Tables []tableDocument `yaml:"tables"`
	Joins  []joinDocument  `yaml:"joins"`
}

type tableDocument struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	PrimaryKey  string          `yaml:"primary_key"`
	Fields      []fieldDocument `yaml:"fields"`
}

type fieldDocument struct {
	Name          string      `yaml:"name"`
	Column        string      `yaml:"column"`
	Type          FieldType   `yaml:"type"`
	Aggregatable  bool        `yaml:"aggregatable"`
	Description   string      `yaml:"description"`
	AllowedValues []string    `yaml:"allowed_values"`
	DateTrunc     string      `yaml:"date_trunc"`
	Expression    *Expression `yaml:"expression"`
}

type joinDocument struct {
	LeftTable  string `yaml:"left_table"`
	RightTable string `yaml:"right_table"`
	LeftKey    string `yaml:"left_key"`
	RightKey   string `yaml:"right_key"`
}

// Default returns the registry embedded in the binary (orders, products,
// customers).
func Default() (*Registry, error) {
	return Parse(defaultDocument)
}

// Load reads a registry definition from a YAML file. An empty path loads the
// embedded default.
func Load(path string) (*Registry, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator-supplied schema file
	if err != nil {
		return nil, fmt.Errorf("read schema %s: %w", path, err)
	}
	registry, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("load schema %s: %w", path, err)
	}
	return registry, nil
}

// Parse decodes a YAML registry definition. Unknown keys are rejected so a
// typo in the catalog fails at startup instead of silently dropping a field.
func Parse(data []byte) (*Registry, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc document
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("parse schema: empty document")
		}
		return nil, fmt.Errorf("parse schema: %w", err)
	}

	tables := make([]Table, 0, len(doc.Tables))
	for _, td := range doc.Tables {
		table := Table{
			Name:        td.Name,
			Description: td.Description,
			PrimaryKey:  td.PrimaryKey,
			Fields:      make([]Field, 0, len(td.Fields)),
		}
		for _, fd := range td.Fields {
			table.Fields = append(table.Fields, Field{
				Name:          fd.Name,
				Column:        fd.Column,
				Type:          fd.Type,
				Aggregatable:  fd.Aggregatable,
				Description:   fd.Description,
				AllowedValues: fd.AllowedValues,
				DateTrunc:     fd.DateTrunc,
				Expression:    fd.Expression,
			})
		}
		tables = append(tables, table)
	}

	joins := make([]JoinEdge, 0, len(doc.Joins))
	for _, jd := range doc.Joins {
		joins = append(joins, JoinEdge{
			LeftTable:  jd.LeftTable,
			RightTable: jd.RightTable,
			LeftKey:    jd.LeftKey,
			RightKey:   jd.RightKey,
		})
	}
	return New(tables, joins)
}
