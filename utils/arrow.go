package utils

import (
	"errors"
	"fmt"
	"sort"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
)

var (
	ErrEmptyColumnName     = errors.New("column name must not be empty")
	ErrUnsupportedDataType = errors.New("unsupported arrow data type")
	ErrValueType           = errors.New("value does not match column type")
)

// StrIterToBatch builds a single nullable string column batch named column.
// A nil entry becomes a null.
func StrIterToBatch(column string, values []*string) (arrow.Record, error) {
	if column == "" {
		return nil, ErrEmptyColumnName
	}
	schema := arrow.NewSchema([]arrow.Field{{Name: column, Type: arrow.BinaryTypes.String, Nullable: true}}, nil)

	b := array.NewStringBuilder(memory.DefaultAllocator)
	defer b.Release()
	b.Reserve(len(values))
	for _, v := range values {
		if v == nil {
			b.AppendNull()
			continue
		}
		b.Append(*v)
	}
	arr := b.NewArray()
	defer arr.Release()

	if arr.Len() != len(values) {
		return nil, fmt.Errorf("built %d values for column %s, expected %d", arr.Len(), column, len(values))
	}
	return array.NewRecord(schema, []arrow.Array{arr}, int64(len(values))), nil
}

// StringsToBatch is StrIterToBatch for a list without nulls.
func StringsToBatch(column string, values []string) (arrow.Record, error) {
	ptrs := make([]*string, len(values))
	for i := range values {
		ptrs[i] = &values[i]
	}
	return StrIterToBatch(column, ptrs)
}

// SortedFields returns the fields of schema ordered lexicographically by name.
func SortedFields(schema *arrow.Schema) []arrow.Field {
	fields := append([]arrow.Field(nil), schema.Fields()...)
	sort.SliceStable(fields, func(i, j int) bool {
		return fields[i].Name < fields[j].Name
	})
	return fields
}

// DataTypeOf maps a Go column value onto the arrow type that stores it.
func DataTypeOf(v any) (arrow.DataType, bool) {
	switch v.(type) {
	case string:
		return arrow.BinaryTypes.String, true
	case float64:
		return arrow.PrimitiveTypes.Float64, true
	case float32:
		return arrow.PrimitiveTypes.Float32, true
	case int64:
		return arrow.PrimitiveTypes.Int64, true
	case bool:
		return arrow.FixedWidthTypes.Boolean, true
	default:
		return nil, false
	}
}

// BuildArray builds an array of type dt from values, nil entries become nulls.
func BuildArray(mem memory.Allocator, dt arrow.DataType, values []any) (arrow.Array, error) {
	switch dt.ID() {
	case arrow.STRING:
		b := array.NewStringBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			s, ok := v.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, dt)
			}
			b.Append(s)
		}
		return b.NewArray(), nil
	case arrow.FLOAT64:
		b := array.NewFloat64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, ok := v.(float64)
			if !ok {
				return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, dt)
			}
			b.Append(f)
		}
		return b.NewArray(), nil
	case arrow.FLOAT32:
		b := array.NewFloat32Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			f, ok := v.(float32)
			if !ok {
				return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, dt)
			}
			b.Append(f)
		}
		return b.NewArray(), nil
	case arrow.INT64:
		b := array.NewInt64Builder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			i, ok := v.(int64)
			if !ok {
				return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, dt)
			}
			b.Append(i)
		}
		return b.NewArray(), nil
	case arrow.BOOL:
		b := array.NewBooleanBuilder(mem)
		defer b.Release()
		for _, v := range values {
			if v == nil {
				b.AppendNull()
				continue
			}
			x, ok := v.(bool)
			if !ok {
				return nil, fmt.Errorf("%w: %T for %s", ErrValueType, v, dt)
			}
			b.Append(x)
		}
		return b.NewArray(), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedDataType, dt)
	}
}

// ValueAt returns the Go value at row i of arr, nil for nulls and
// unsupported types.
func ValueAt(arr arrow.Array, i int) any {
	if arr.IsNull(i) {
		return nil
	}
	switch a := arr.(type) {
	case *array.String:
		return a.Value(i)
	case *array.Float64:
		return a.Value(i)
	case *array.Float32:
		return a.Value(i)
	case *array.Int64:
		return a.Value(i)
	case *array.Boolean:
		return a.Value(i)
	default:
		return nil
	}
}
