package parquet_accumulator

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	"github.com/danthegoodman1/icetier/utils"
	"github.com/xitongsys/parquet-go-source/buffer"
	"github.com/xitongsys/parquet-go/common"
	"github.com/xitongsys/parquet-go/reader"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"
)

type (
	// ParquetSchemaAccumulator collects the rows of arrow records that share one
	// schema and encodes them as a single parquet file.
	ParquetSchemaAccumulator struct {
		arrowSchema *arrow.Schema
		schema      ParquetSchema
		rows        []map[string]any
	}

	ParquetSchema struct {
		TagStructs SchemaTag        `json:"-,omitempty"`
		Fields     []*ParquetSchema `json:",omitempty"`
	}

	ParquetJSONSchema struct {
		Tag    string               `json:",omitempty"`
		Fields []*ParquetJSONSchema `json:",omitempty"`
	}

	SchemaTag struct {
		Name           string         `json:"name,omitempty"`
		Type           string         `json:"type,omitempty"`
		ConvertedType  string         `json:"convertedtype,omitempty"`
		RepetitionType RepetitionType `json:"repetitiontype,omitempty"`
		Encoding       string         `json:"encoding,omitempty"`
	}

	RepetitionType string
)

var (
	Optional RepetitionType = "OPTIONAL"
	Required RepetitionType = "REQUIRED"

	ErrUnsupportedType  = errors.New("arrow type has no parquet mapping")
	ErrSchemaMismatch   = errors.New("record schema does not match accumulator schema")
	ErrMissingColumn    = errors.New("parquet row is missing column")
	ErrColumnListLength = errors.New("column lists differ in length")
)

// NewParquetAccumulator maps every field of schema onto a parquet column.
// Nullable fields are OPTIONAL, the rest REQUIRED.
func NewParquetAccumulator(schema *arrow.Schema) (*ParquetSchemaAccumulator, error) {
	pa := &ParquetSchemaAccumulator{
		arrowSchema: schema,
		schema: ParquetSchema{
			TagStructs: SchemaTag{
				Name:           "parquet_go_root",
				RepetitionType: Required,
			},
		},
	}
	for _, field := range schema.Fields() {
		fieldSchema, err := getParquetSchema(field)
		if err != nil {
			return nil, err
		}
		pa.schema.Fields = append(pa.schema.Fields, fieldSchema)
	}
	return pa, nil
}

func getParquetSchema(field arrow.Field) (*ParquetSchema, error) {
	schema := &ParquetSchema{
		TagStructs: SchemaTag{
			Name:           field.Name,
			RepetitionType: Required,
		},
	}
	if field.Nullable {
		schema.TagStructs.RepetitionType = Optional
	}
	switch field.Type.ID() {
	case arrow.STRING:
		schema.TagStructs.Type = "BYTE_ARRAY"
		schema.TagStructs.ConvertedType = "UTF8"
		schema.TagStructs.Encoding = "PLAIN"
	case arrow.FLOAT64:
		schema.TagStructs.Type = "DOUBLE"
	case arrow.FLOAT32:
		schema.TagStructs.Type = "FLOAT"
	case arrow.INT64:
		schema.TagStructs.Type = "INT64"
	case arrow.BOOL:
		schema.TagStructs.Type = "BOOLEAN"
	default:
		return nil, fmt.Errorf("%w: %s for column %s", ErrUnsupportedType, field.Type, field.Name)
	}
	return schema, nil
}

// WriteRecord buffers the rows of rec, whose schema must equal the
// accumulator's.
func (pa *ParquetSchemaAccumulator) WriteRecord(rec arrow.Record) error {
	if !pa.arrowSchema.Equal(rec.Schema()) {
		return fmt.Errorf("%w: got %s", ErrSchemaMismatch, rec.Schema())
	}
	for row := 0; row < int(rec.NumRows()); row++ {
		m := make(map[string]any, rec.NumCols())
		for i, field := range pa.arrowSchema.Fields() {
			m[field.Name] = utils.ValueAt(rec.Column(i), row)
		}
		pa.rows = append(pa.rows, m)
	}
	return nil
}

func (pa *ParquetSchemaAccumulator) NumRows() int {
	return len(pa.rows)
}

// Encode writes every buffered row as one parquet file.
func (pa *ParquetSchemaAccumulator) Encode() ([]byte, error) {
	schemaString, err := pa.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	var buf bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(schemaString, &buf, 4)
	if err != nil {
		return nil, fmt.Errorf("error in writer.NewJSONWriterFromWriter: %w", err)
	}
	for _, row := range pa.rows {
		b, err := json.Marshal(row)
		if err != nil {
			return nil, fmt.Errorf("error in json.Marshal: %w", err)
		}
		if err = pw.Write(string(b)); err != nil {
			return nil, fmt.Errorf("error in pw.Write: %w", err)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("error in pw.WriteStop: %w", err)
	}
	return buf.Bytes(), nil
}

func (pa *ParquetSchemaAccumulator) GetColumnNames() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.TagStructs.Name)
	}
	return cols
}

func (ps *ParquetSchema) GetType() string {
	switch ps.TagStructs.Type {
	case "BYTE_ARRAY":
		return "string"
	case "DOUBLE":
		return "double"
	case "FLOAT":
		return "float"
	case "INT64":
		return "int64"
	case "BOOLEAN":
		return "bool"
	default:
		return "unknown"
	}
}

// GetColumnTypes returns the types of columns in the same order as
// GetColumnNames: `string`, `double`, `float`, `int64` or `bool`
func (pa *ParquetSchemaAccumulator) GetColumnTypes() []string {
	var cols []string
	for _, field := range pa.schema.Fields {
		cols = append(cols, field.GetType())
	}
	return cols
}

// GetColumnNullable reports, in GetColumnNames order, which columns are OPTIONAL.
func (pa *ParquetSchemaAccumulator) GetColumnNullable() []bool {
	var nullable []bool
	for _, field := range pa.schema.Fields {
		nullable = append(nullable, field.TagStructs.RepetitionType == Optional)
	}
	return nullable
}

// SchemaFromColumns rebuilds the arrow schema described by GetColumnNames,
// GetColumnTypes and GetColumnNullable.
func SchemaFromColumns(names, types []string, nullable []bool) (*arrow.Schema, error) {
	if len(names) != len(types) || len(names) != len(nullable) {
		return nil, fmt.Errorf("%w: %d names, %d types and %d nullability flags", ErrColumnListLength, len(names), len(types), len(nullable))
	}
	fields := make([]arrow.Field, 0, len(names))
	for i, name := range names {
		var dt arrow.DataType
		switch types[i] {
		case "string":
			dt = arrow.BinaryTypes.String
		case "double":
			dt = arrow.PrimitiveTypes.Float64
		case "float":
			dt = arrow.PrimitiveTypes.Float32
		case "int64":
			dt = arrow.PrimitiveTypes.Int64
		case "bool":
			dt = arrow.FixedWidthTypes.Boolean
		default:
			return nil, fmt.Errorf("%w: %s for column %s", ErrUnsupportedType, types[i], name)
		}
		fields = append(fields, arrow.Field{Name: name, Type: dt, Nullable: nullable[i]})
	}
	return arrow.NewSchema(fields, nil), nil
}

func (ps *ParquetSchema) ToParquetJSONSchema() *ParquetJSONSchema {
	var tagArr []string
	if ps.TagStructs.Type != "" {
		tagArr = append(tagArr, "type="+ps.TagStructs.Type)
	}
	if ps.TagStructs.ConvertedType != "" {
		tagArr = append(tagArr, "convertedtype="+ps.TagStructs.ConvertedType)
	}
	if ps.TagStructs.Encoding != "" {
		tagArr = append(tagArr, "encoding="+ps.TagStructs.Encoding)
	}
	if ps.TagStructs.Name != "" {
		tagArr = append(tagArr, "name="+ps.TagStructs.Name)
	}
	if string(ps.TagStructs.RepetitionType) != "" {
		tagArr = append(tagArr, "repetitiontype="+string(ps.TagStructs.RepetitionType))
	}
	var fields []*ParquetJSONSchema
	for _, field := range ps.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	return &ParquetJSONSchema{
		Tag:    strings.Join(tagArr, ", "),
		Fields: fields,
	}
}

// GetSchemaString returns the JSON formatted schema string parquet-go expects
func (pa *ParquetSchemaAccumulator) GetSchemaString() (string, error) {
	var fields []*ParquetJSONSchema
	for _, field := range pa.schema.Fields {
		fields = append(fields, field.ToParquetJSONSchema())
	}
	pjs := ParquetJSONSchema{
		Tag:    "name=parquet_go_root, repetitiontype=REQUIRED",
		Fields: fields,
	}

	b, err := json.Marshal(pjs)
	if err != nil {
		return "", fmt.Errorf("error in json.Marshal: %w", err)
	}
	return string(b), nil
}

// DecodeRecord is ReadRecord over an encoded file held in memory.
func DecodeRecord(b []byte, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	pf, err := buffer.NewBufferFile(b)
	if err != nil {
		return nil, fmt.Errorf("error in buffer.NewBufferFile: %w", err)
	}
	return ReadRecord(pf, schema, mem)
}

// ReadRecord reads a whole parquet file written for schema into one record.
// The caller owns pf and closes it.
func ReadRecord(pf source.ParquetFile, schema *arrow.Schema, mem memory.Allocator) (arrow.Record, error) {
	pa, err := NewParquetAccumulator(schema)
	if err != nil {
		return nil, err
	}
	schemaString, err := pa.GetSchemaString()
	if err != nil {
		return nil, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	pr, err := reader.NewParquetReader(pf, schemaString, 4)
	if err != nil {
		return nil, fmt.Errorf("error in reader.NewParquetReader: %w", err)
	}
	defer pr.ReadStop()

	var rows []interface{}
	if num := int(pr.GetNumRows()); num > 0 {
		rows, err = pr.ReadByNumber(num)
		if err != nil {
			return nil, fmt.Errorf("error in pr.ReadByNumber: %w", err)
		}
	}

	fields := schema.Fields()
	columns := make([][]any, len(fields))
	for i := range columns {
		columns[i] = make([]any, 0, len(rows))
	}
	for _, item := range rows {
		// row is a struct with one field per column
		v := reflect.Indirect(reflect.ValueOf(item))
		for i, field := range fields {
			fv := v.FieldByName(common.StringToVariableName(field.Name))
			if !fv.IsValid() {
				return nil, fmt.Errorf("%w: %s", ErrMissingColumn, field.Name)
			}
			if fv.Kind() == reflect.Ptr {
				if fv.IsNil() {
					columns[i] = append(columns[i], nil)
					continue
				}
				fv = fv.Elem()
			}
			columns[i] = append(columns[i], fv.Interface())
		}
	}

	arrs := make([]arrow.Array, 0, len(fields))
	defer func() {
		for _, a := range arrs {
			a.Release()
		}
	}()
	for i, field := range fields {
		arr, err := utils.BuildArray(mem, field.Type, columns[i])
		if err != nil {
			return nil, fmt.Errorf("error in BuildArray for column %s: %w", field.Name, err)
		}
		arrs = append(arrs, arr)
	}
	return array.NewRecord(schema, arrs, int64(len(rows))), nil
}
