package utils

import (
	"fmt"
	"math"
	"testing"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompareValues(t *testing.T) {
	tests := []struct {
		a, b any
		want int
	}{
		{int64(1), 2.5, -1},
		{float32(2), int64(2), 0},
		{3.0, 1, 1},
		{"b", "a", 1},
		{false, true, -1},
		{true, true, 0},
		{int64(9007199254740993), int64(9007199254740992), 1},
		{int64(9007199254740992), int64(9007199254740993), -1},
		{int64(math.MaxInt64), int64(math.MaxInt64 - 1), 1},
		{int64(-1), uint64(math.MaxUint64), -1},
		{uint64(math.MaxUint64), int64(5), 1},
		{uint32(7), 7, 0},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%v vs %v", tt.a, tt.b), func(t *testing.T) {
			got, err := CompareValues(tt.a, tt.b)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := CompareValues("1", 1.0)
	assert.ErrorIs(t, err, ErrIncomparable)
	_, err = CompareValues(1.0, true)
	assert.ErrorIs(t, err, ErrIncomparable)
}

func TestBuildArrayAndValueAt(t *testing.T) {
	mem := memory.NewGoAllocator()
	arr, err := BuildArray(mem, arrow.PrimitiveTypes.Int64, []any{int64(4), nil, int64(6)})
	require.NoError(t, err)
	defer arr.Release()
	assert.Equal(t, 3, arr.Len())
	assert.Equal(t, int64(4), ValueAt(arr, 0))
	assert.Nil(t, ValueAt(arr, 1))

	_, err = BuildArray(mem, arrow.BinaryTypes.String, []any{"a", 1.0})
	assert.ErrorIs(t, err, ErrValueType)
	_, err = BuildArray(mem, arrow.FixedWidthTypes.Date32, []any{nil})
	assert.ErrorIs(t, err, ErrUnsupportedDataType)
}

func TestStrIterToBatch(t *testing.T) {
	rec, err := StrIterToBatch("tables", []*string{Ptr("cpu"), nil})
	require.NoError(t, err)
	defer rec.Release()
	col := rec.Column(0).(*array.String)
	assert.Equal(t, "cpu", col.Value(0))
	assert.True(t, col.IsNull(1))

	_, err = StringsToBatch("", []string{"cpu"})
	assert.ErrorIs(t, err, ErrEmptyColumnName)
}

func TestSortedFields(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: "usage", Type: arrow.PrimitiveTypes.Float64},
		{Name: "host", Type: arrow.BinaryTypes.String},
	}, nil)
	fields := SortedFields(schema)
	assert.Equal(t, "host", fields[0].Name)
	// the schema itself is untouched
	assert.Equal(t, "usage", schema.Field(0).Name)
}

func TestIsPermanent(t *testing.T) {
	assert.True(t, IsPermanent(fmt.Errorf("wrapped: %w", PermError("no bucket"))))
	assert.False(t, IsPermanent(fmt.Errorf("timeout")))
}

func TestSliceHelpers(t *testing.T) {
	assert.Equal(t, []int{2, 0, 1}, AppendUnique([]int{2, 0}, 0, 1, 2, 1))
	assert.True(t, Contains([]string{"cpu", "mem"}, "mem"))
	assert.False(t, Contains(nil, "cpu"))
	assert.NotNil(t, OrEmpty[string](nil))
	assert.Equal(t, 3, Deref(nil, 3))
	assert.Equal(t, 0, Deref(Ptr(0), 3))
}

func TestIDs(t *testing.T) {
	a, b := GenQueryID(), GenQueryID()
	assert.NotEqual(t, a, b)
	assert.Len(t, a, len("q_")+27)
	assert.Equal(t, "q_", a[:2])
	assert.Len(t, GenShortID(), 8)
}
