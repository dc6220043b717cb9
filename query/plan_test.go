package query

import (
	"context"
	"testing"

	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMakeScanPlan(t *testing.T) {
	batch, err := utils.StringsToBatch("tables", []string{"cpu", "mem"})
	require.NoError(t, err)

	plan, err := MakeScanPlan(batch)
	require.NoError(t, err)
	assert.Equal(t, "tables", plan.Schema().Field(0).Name)

	out, err := plan.Execute(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 1)
	col := out[0].Column(0).(*array.String)
	assert.Equal(t, "cpu", col.Value(0))
	assert.Equal(t, "mem", col.Value(1))
}

func TestMakeScanPlanNilBatch(t *testing.T) {
	_, err := MakeScanPlan(nil)
	assert.ErrorIs(t, err, ErrPlanConstruction)
}

func TestTableNamesPlanIsDeferred(t *testing.T) {
	c := &fakeChunk{id: 1, table: "cpu"}
	plan, err := c.TableNames(context.Background(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = plan.Execute(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
