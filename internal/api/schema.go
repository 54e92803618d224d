package api

import (
	"net/http"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

type schemaFieldResponse struct {
	Ref           string           `json:"ref"`
	Name          string           `json:"name"`
	Type          schema.FieldType `json:"type"`
	Aggregatable  bool             `json:"aggregatable"`
	Derived       bool             `json:"derived"`
	Description   string           `json:"description,omitempty"`
	AllowedValues []string         `json:"allowed_values,omitempty"`
}

type schemaTableResponse struct {
	Name        string                `json:"name"`
	Description string                `json:"description,omitempty"`
	PrimaryKey  string                `json:"primary_key,omitempty"`
	Fields      []schemaFieldResponse `json:"fields"`
}

type schemaJoinResponse struct {
	Left  string `json:"left"`
	Right string `json:"right"`
	On    string `json:"on"`
}

type schemaResponse struct {
	Tables        []schemaTableResponse `json:"tables"`
	Joins         []schemaJoinResponse  `json:"joins"`
	StandardLimit int                   `json:"standard_limit"`
	MaxLimit      int                   `json:"max_limit"`
}

func handleSchema(deps Dependencies, w http.ResponseWriter, r *http.Request) {
	if deps.Registry == nil {
		writeError(r.Context(), w, http.StatusNotImplemented, "NOT_IMPLEMENTED", "schema registry is not configured", false, nil)
		return
	}
	writeJSON(w, http.StatusOK, describeRegistry(deps.Registry))
}

func describeRegistry(reg *schema.Registry) schemaResponse {
	tables := reg.Tables()
	response := schemaResponse{
		Tables:        make([]schemaTableResponse, 0, len(tables)),
		Joins:         make([]schemaJoinResponse, 0, len(reg.Edges())),
		StandardLimit: ast.StandardLimit,
		MaxLimit:      ast.MaxLimit,
	}
	for _, table := range tables {
		item := schemaTableResponse{
			Name:        table.Name,
			Description: table.Description,
			PrimaryKey:  table.PrimaryKey,
			Fields:      make([]schemaFieldResponse, 0, len(table.Fields)),
		}
		for _, field := range table.Fields {
			item.Fields = append(item.Fields, schemaFieldResponse{
				Ref:           field.Ref(),
				Name:          field.Name,
				Type:          field.Type,
				Aggregatable:  field.Aggregatable,
				Derived:       field.Derived(),
				Description:   field.Description,
				AllowedValues: field.AllowedValues,
			})
		}
		response.Tables = append(response.Tables, item)
	}
	for _, edge := range reg.Edges() {
		response.Joins = append(response.Joins, schemaJoinResponse{
			Left:  edge.LeftTable,
			Right: edge.RightTable,
			On:    edge.LeftTable + "." + edge.LeftKey + " = " + edge.RightTable + "." + edge.RightKey,
		})
	}
	return response
}
