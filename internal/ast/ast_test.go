package ast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeNormalisesValuesAndSpellings(t *testing.T) {
	q, err := Decode([]byte(`{
		"metrics": [{"function": "SUM", "field": "quantity", "alias": "total_qty"}],
		"dimensions": [{"field": "region"}],
		"filters": [
			{"field": "quantity", "operator": ">=", "value": 10},
			{"field": "unit_price", "operator": "between", "value": [1.5, 20]},
			{"field": "region", "operator": "in", "value": ["Europe", "APAC"]},
			{"field": "country", "operator": "is_not_null"}
		],
		"order_by": [{"field": "total_qty"}],
		"limit": 10
	}`))
	require.NoError(t, err)

	require.Len(t, q.Metrics, 1)
	assert.Equal(t, Sum, q.Metrics[0].Function)
	require.Len(t, q.Filters, 4)
	assert.Equal(t, Gte, q.Filters[0].Operator)
	assert.Equal(t, int64(10), q.Filters[0].Value)
	assert.Equal(t, []any{1.5, int64(20)}, q.Filters[1].Value)
	assert.Equal(t, []any{"Europe", "APAC"}, q.Filters[2].Value)
	assert.Equal(t, NotNull, q.Filters[3].Operator)
	assert.Nil(t, q.Filters[3].Value)
	require.Len(t, q.OrderBy, 1)
	assert.Equal(t, Desc, q.OrderBy[0].Direction)
	assert.Equal(t, ExplicitLimit(10), q.Limit)
}

func TestDecodeRejectsUnknownVocabulary(t *testing.T) {
	for name, input := range map[string]string{
		"function":  `{"metrics": [{"function": "median", "field": "quantity"}]}`,
		"operator":  `{"filters": [{"field": "region", "operator": "regex", "value": "x"}]}`,
		"direction": `{"order_by": [{"field": "region", "direction": "sideways"}]}`,
		"key":       `{"metrics": [], "chart": "bar"}`,
		"limit":     `{"limit": 2.5}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(input))
			assert.Error(t, err)
		})
	}
}

func TestLimitTriState(t *testing.T) {
	tests := []struct {
		input     string
		want      Limit
		effective int
	}{
		{input: `{}`, want: Limit{}, effective: StandardLimit},
		{input: `{"limit": null}`, want: Limit{}, effective: StandardLimit},
		{input: `{"limit": "default"}`, want: DefaultLimit(), effective: StandardLimit},
		{input: `{"limit": 7}`, want: ExplicitLimit(7), effective: 7},
		{input: `{"limit": "25"}`, want: ExplicitLimit(25), effective: 25},
		{input: `{"limit": 0}`, want: ExplicitLimit(0), effective: 0},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			q, err := Decode([]byte(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.want, q.Limit)
			assert.Equal(t, tt.effective, q.Limit.Effective())
		})
	}
}

func TestLimitMarshalRoundsTrip(t *testing.T) {
	encoded, err := json.Marshal(Query{Limit: DefaultLimit()})
	require.NoError(t, err)
	assert.Contains(t, string(encoded), `"limit":"default"`)

	encoded, err = json.Marshal(Query{})
	require.NoError(t, err)
	assert.NotContains(t, string(encoded), "limit")

	encoded, err = json.Marshal(Query{Limit: ExplicitLimit(3)})
	require.NoError(t, err)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	assert.Equal(t, ExplicitLimit(3), decoded.Limit)
}

func TestCloneSharesNoSlices(t *testing.T) {
	original := Query{
		Metrics:    []Metric{{Function: Sum, Field: "quantity"}},
		Dimensions: []Dimension{{Field: "region"}},
		Filters:    []Filter{{Field: "region", Operator: In, Value: []any{"Europe"}}},
		OrderBy:    []OrderBy{{Field: "region", Direction: Asc}},
	}
	clone := original.Clone()
	clone.Metrics[0].Field = "unit_price"
	clone.Dimensions[0].Field = "country"
	clone.Filters[0].Value.([]any)[0] = "APAC"
	clone.OrderBy[0].Direction = Desc

	assert.Equal(t, "quantity", original.Metrics[0].Field)
	assert.Equal(t, "region", original.Dimensions[0].Field)
	assert.Equal(t, []any{"Europe"}, original.Filters[0].Value)
	assert.Equal(t, Asc, original.OrderBy[0].Direction)
}

func TestOperatorClassification(t *testing.T) {
	assert.True(t, Between.Comparison())
	assert.False(t, Like.Comparison())
	assert.True(t, IsNull.NullCheck())
	assert.True(t, NotIn.Valid())
	assert.False(t, Operator(">").Valid())

	op, ok := ParseOperator(" != ")
	require.True(t, ok)
	assert.Equal(t, Neq, op)
}
