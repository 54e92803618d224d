package pipeline

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/abhiyan52/ClarityQL/internal/ast"
	"github.com/abhiyan52/ClarityQL/internal/compiler"
	"github.com/abhiyan52/ClarityQL/internal/joins"
	"github.com/abhiyan52/ClarityQL/internal/safety"
	"github.com/abhiyan52/ClarityQL/internal/schema"
)

func newCore(t *testing.T) (*schema.Registry, *compiler.Compiler) {
	t.Helper()
	reg, err := schema.Default()
	require.NoError(t, err)
	return reg, compiler.New(reg, compiler.Options{})
}

func TestRunTwoTurnConversation(t *testing.T) {
	reg, comp := newCore(t)

	first, err := Run(reg, comp, nil, ast.Query{
		Metrics: []ast.Metric{{Function: ast.Sum, Field: "quantity"}},
	})
	require.NoError(t, err)
	assert.Equal(t, `SELECT SUM(orders.quantity) AS "sum_quantity" FROM orders LIMIT 50`, first.SQL)
	assert.Equal(t, []string{"orders"}, first.Plan.Tables)
	assert.Len(t, first.Diff.MetricsAdded, 1)

	second, err := Run(reg, comp, &first.Merged, ast.Query{
		Dimensions: []ast.Dimension{{Field: "product_line"}},
	})
	require.NoError(t, err)
	assert.Equal(t,
		`SELECT products.product_line AS "product_line", SUM(orders.quantity) AS "sum_quantity" `+
			`FROM orders INNER JOIN products ON orders.product_id = products.product_id `+
			`GROUP BY products.product_line LIMIT 50`,
		second.SQL)
	assert.Equal(t, []ast.Metric{{Function: ast.Sum, Field: "orders.quantity"}}, second.Merged.Metrics)
	assert.Equal(t, []ast.Dimension{{Field: "products.product_line"}}, second.Diff.DimensionsAdded)
	assert.Empty(t, second.Diff.MetricsAdded)
}

func TestRunFilterFollowUpOverridesValue(t *testing.T) {
	reg, comp := newCore(t)
	previous := ast.Query{
		Metrics: []ast.Metric{{Function: ast.Sum, Field: "revenue"}},
		Filters: []ast.Filter{{Field: "region", Operator: ast.Eq, Value: "Europe"}},
	}

	out, err := Run(reg, comp, &previous, ast.Query{
		Filters: []ast.Filter{{Field: "region", Operator: ast.Eq, Value: "APAC"}},
	})
	require.NoError(t, err)
	assert.Equal(t, []any{"APAC"}, out.Params)
	assert.Contains(t, out.SQL, "WHERE orders.region = $1")
	require.Len(t, out.Diff.FiltersChanged, 1)
	assert.Equal(t, "Europe", previous.Filters[0].Value)
}

func TestRunMergesBareAndQualifiedSpellingsAsOneField(t *testing.T) {
	reg, comp := newCore(t)
	previous := ast.Query{
		Dimensions: []ast.Dimension{{Field: "region"}},
		Filters:    []ast.Filter{{Field: "region", Operator: ast.Eq, Value: "Europe"}},
	}

	out, err := Run(reg, comp, &previous, ast.Query{
		Dimensions: []ast.Dimension{{Field: "orders.region"}},
		Filters:    []ast.Filter{{Field: "orders.region", Operator: ast.Eq, Value: "APAC"}},
		OrderBy:    []ast.OrderBy{{Field: "region", Direction: ast.Desc}},
	})
	require.NoError(t, err)
	assert.Equal(t, []ast.Dimension{{Field: "orders.region"}}, out.Merged.Dimensions)
	assert.Equal(t, []ast.Filter{{Field: "orders.region", Operator: ast.Eq, Value: "APAC"}}, out.Merged.Filters)
	assert.Equal(t, []any{"APAC"}, out.Params)
	assert.Equal(t,
		`SELECT orders.region AS "region" FROM orders WHERE orders.region = $1 `+
			`GROUP BY orders.region ORDER BY "region" DESC LIMIT 50`,
		out.SQL)
	require.Len(t, out.Diff.FiltersChanged, 1)
	assert.Empty(t, out.Diff.FiltersAdded)
	assert.Empty(t, out.Diff.DimensionsAdded)
	assert.Equal(t, "region", previous.Filters[0].Field)
}

func TestRunDefaultLimitResetsPreviousLimit(t *testing.T) {
	reg, comp := newCore(t)
	previous := ast.Query{
		Dimensions: []ast.Dimension{{Field: "region"}},
		Limit:      ast.ExplicitLimit(10),
	}

	delta, err := ast.Decode([]byte(`{"limit": "default"}`))
	require.NoError(t, err)
	out, err := Run(reg, comp, &previous, delta)
	require.NoError(t, err)
	assert.Equal(t, ast.DefaultLimit(), out.Merged.Limit)
	assert.True(t, strings.HasSuffix(out.SQL, " LIMIT 50"), out.SQL)
	assert.True(t, out.Diff.LimitChanged)
}

func TestRunRejectsDuplicateOutputNames(t *testing.T) {
	reg, comp := newCore(t)

	_, err := Run(reg, comp, nil, ast.Query{
		Metrics: []ast.Metric{
			{Function: ast.Sum, Field: "quantity"},
			{Function: ast.Sum, Field: "orders.quantity"},
		},
	})
	var duplicate *safety.DuplicateOutputError
	require.ErrorAs(t, err, &duplicate)
	assert.Equal(t, "sum_quantity", duplicate.Name)
}

func TestRunStopsAtFirstTypedError(t *testing.T) {
	reg, comp := newCore(t)

	_, err := Run(reg, comp, nil, ast.Query{
		Metrics: []ast.Metric{{Function: ast.Sum, Field: "region"}},
	})
	assert.ErrorIs(t, err, safety.ErrRejected)
	var nonAggregatable *safety.NonAggregatableFieldError
	assert.ErrorAs(t, err, &nonAggregatable)

	outcome, code := Classify(err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, "NON_AGGREGATABLE_FIELD", code)
}

func TestRunReportsUnresolvableJoin(t *testing.T) {
	reg, err := schema.New([]schema.Table{
		{Name: "orders", Fields: []schema.Field{{Name: "quantity", Type: schema.Numeric, Aggregatable: true}}},
		{Name: "stores", Fields: []schema.Field{{Name: "city", Type: schema.String}}},
	}, nil)
	require.NoError(t, err)

	_, err = Run(reg, compiler.New(reg, compiler.Options{}), nil, ast.Query{
		Metrics:    []ast.Metric{{Function: ast.Sum, Field: "quantity"}},
		Dimensions: []ast.Dimension{{Field: "city"}},
	})
	var unresolvable *joins.UnresolvableJoinError
	require.ErrorAs(t, err, &unresolvable)

	outcome, code := Classify(err)
	assert.Equal(t, OutcomeRejected, outcome)
	assert.Equal(t, "UNRESOLVABLE_JOIN", code)
}

func TestClassifyInternalErrors(t *testing.T) {
	outcome, code := Classify(nil)
	assert.Equal(t, OutcomeOK, outcome)
	assert.Empty(t, code)

	outcome, code = Classify(errors.New("boom"))
	assert.Equal(t, OutcomeError, outcome)
	assert.Equal(t, "INTERNAL_ERROR", code)
}

func TestPipelineLogsEveryRun(t *testing.T) {
	reg, comp := newCore(t)
	var buf bytes.Buffer
	p := New(reg, comp, slog.New(slog.NewJSONHandler(&buf, nil)))

	_, err := p.Run(context.Background(), nil, ast.Query{Dimensions: []ast.Dimension{{Field: "region"}}})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"msg":"nlq_pipeline"`)
	assert.Contains(t, buf.String(), `"outcome":"ok"`)

	buf.Reset()
	_, err = p.Run(context.Background(), nil, ast.Query{
		Dimensions: []ast.Dimension{{Field: "region"}},
		Limit:      ast.ExplicitLimit(5000),
	})
	require.Error(t, err)
	assert.Contains(t, buf.String(), `"error_code":"LIMIT_OUT_OF_RANGE"`)
	assert.Same(t, reg, p.Registry())
}
