// Copyright 2023 Planet Labs PBC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package geoparquet

import (
	"fmt"
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/twpayne/go-geom"
)

// FeatureWriter buffers features into records and writes them with a
// Writer.  Geometry fields in the schema must be binary; the Writer converts
// them to the configured encodings.
type FeatureWriter struct {
	writer            *Writer
	maxRowGroupLength int64
	bufferedLength    int64
	recordBuilder     *array.RecordBuilder
}

func NewFeatureWriter(config *WriterConfig) (*FeatureWriter, error) {
	parquetProps := config.ParquetWriterProps
	if parquetProps == nil {
		parquetProps = parquet.NewWriterProperties()
	}

	writer, err := NewWriter(config)
	if err != nil {
		return nil, err
	}

	return &FeatureWriter{
		writer:            writer,
		maxRowGroupLength: parquetProps.MaxRowGroupLength(),
		recordBuilder:     array.NewRecordBuilder(parquetProps.Allocator(), config.ArrowSchema),
	}, nil
}

// Write appends a feature to the current batch.  A full batch is flushed
// as a row group.
func (w *FeatureWriter) Write(feature *geo.Feature) error {
	if w.writer.closed {
		return ErrClosedWriter
	}

	for i, field := range w.recordBuilder.Schema().Fields() {
		builder := w.recordBuilder.Field(i)
		var err error
		if w.writer.geometryColumn(field.Name) != nil {
			err = w.appendGeometry(feature, field, builder)
		} else {
			err = appendField(field, feature.Properties, builder, "the property is missing in the feature")
		}
		if err != nil {
			return err
		}
	}

	w.bufferedLength += 1
	if w.bufferedLength < w.maxRowGroupLength {
		return nil
	}
	return w.flush()
}

func (w *FeatureWriter) flush() error {
	record := w.recordBuilder.NewRecord()
	defer record.Release()
	if err := w.writer.Write(record); err != nil {
		return err
	}
	w.bufferedLength = 0
	return nil
}

func (w *FeatureWriter) appendGeometry(feature *geo.Feature, field arrow.Field, builder array.Builder) error {
	name := field.Name
	binaryBuilder, ok := builder.(*array.BinaryBuilder)
	if !ok {
		return fmt.Errorf("expected column %q to have a binary type, got %s", name, builder.Type().Name())
	}

	value := any(feature.Geometry)
	if name != w.writer.primary {
		value = feature.Properties[name]
	}
	if value == nil {
		if !field.Nullable {
			return fmt.Errorf("feature missing required %q geometry", name)
		}
		binaryBuilder.AppendNull()
		return nil
	}
	return appendWKB(binaryBuilder, name, value)
}

// appendField appends the named member of values, or a null when it is
// absent and the field allows one.
func appendField(field arrow.Field, values map[string]any, builder array.Builder, missing string) error {
	value, ok := values[field.Name]
	if ok && value != nil {
		return appendValue(field.Name, value, builder)
	}
	if !field.Nullable {
		return fmt.Errorf("field %q is required, but %s", field.Name, missing)
	}
	builder.AppendNull()
	return nil
}

type appender[T any] interface {
	Append(T)
}

func appendAs[T any](b appender[T], name string, value any, expected string) error {
	v, ok := value.(T)
	if !ok {
		return fmt.Errorf("expected %q to be %s, got %v", name, expected, value)
	}
	b.Append(v)
	return nil
}

func appendValue(name string, value any, builder array.Builder) error {
	if value == nil {
		builder.AppendNull()
		return nil
	}

	switch b := builder.(type) {
	case *array.BooleanBuilder:
		return appendAs[bool](b, name, value, "a boolean")
	case *array.StringBuilder:
		return appendAs[string](b, name, value, "a string")
	case *array.Float64Builder:
		return appendFloat(b, name, value)
	case *array.Int64Builder:
		return appendInt(b, name, value)
	case *array.BinaryBuilder:
		return appendWKB(b, name, value)
	case *array.ListBuilder:
		return appendList(b, name, value)
	case *array.StructBuilder:
		return appendStruct(b, name, value)
	default:
		return fmt.Errorf("unsupported builder type %#v", b)
	}
}

func appendFloat(b *array.Float64Builder, name string, value any) error {
	switch v := value.(type) {
	case float64:
		b.Append(v)
	case int64:
		b.Append(float64(v))
	case int:
		b.Append(float64(v))
	default:
		return fmt.Errorf("expected %q to be a float64, got %v", name, value)
	}
	return nil
}

func appendInt(b *array.Int64Builder, name string, value any) error {
	switch v := value.(type) {
	case int64:
		b.Append(v)
	case int:
		b.Append(int64(v))
	case float64:
		if v != math.Trunc(v) {
			return fmt.Errorf("expected %q to be an integer, got %v", name, value)
		}
		b.Append(int64(v))
	default:
		return fmt.Errorf("expected %q to be an int64, got %v", name, value)
	}
	return nil
}

func appendWKB(b *array.BinaryBuilder, name string, value any) error {
	g, ok := value.(geom.T)
	if !ok {
		return fmt.Errorf("expected %q to be a geometry, got %v", name, value)
	}
	data, err := geoarrow.MarshalWKB(g)
	if err != nil {
		return fmt.Errorf("failed to encode %q as WKB: %w", name, err)
	}
	b.Append(data)
	return nil
}

func appendList(b *array.ListBuilder, name string, value any) error {
	items, ok := toSlice(value)
	if !ok {
		return fmt.Errorf("expected %q to be a list, got %v", name, value)
	}
	b.Append(true)
	valueBuilder := b.ValueBuilder()
	for _, item := range items {
		if err := appendValue(name, item, valueBuilder); err != nil {
			return err
		}
	}
	return nil
}

func appendStruct(b *array.StructBuilder, name string, value any) error {
	members, ok := value.(map[string]any)
	if !ok {
		return fmt.Errorf("expected %q to be map[string]any, got %v", name, value)
	}
	structType, ok := b.Type().(*arrow.StructType)
	if !ok {
		return fmt.Errorf("expected builder for %q to have a struct type, got %v", name, b.Type())
	}

	b.Append(true)
	for i, field := range structType.Fields() {
		if err := appendField(field, members, b.FieldBuilder(i), "the property is missing"); err != nil {
			return err
		}
	}
	return nil
}

// toSlice accepts []any as decoded from JSON as well as typed slices.
func toSlice(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case []bool:
		return toAnySlice(v), true
	case []string:
		return toAnySlice(v), true
	case []float64:
		return toAnySlice(v), true
	case []int64:
		return toAnySlice(v), true
	case []map[string]any:
		return toAnySlice(v), true
	default:
		return nil, false
	}
}

func toAnySlice[T any](values []T) []any {
	items := make([]any, len(values))
	for i, v := range values {
		items[i] = v
	}
	return items
}

// Metadata returns the geo metadata written on Close.
func (w *FeatureWriter) Metadata() *Metadata {
	return w.writer.Metadata()
}

func (w *FeatureWriter) Close() error {
	if w.writer.closed {
		return ErrClosedWriter
	}
	defer w.recordBuilder.Release()
	if w.bufferedLength > 0 {
		if err := w.flush(); err != nil {
			_ = w.writer.Abort()
			return err
		}
	}
	return w.writer.Close()
}

// Abort drops buffered features and releases the writer without finalizing
// the file.  Abort after Close is a no-op.
func (w *FeatureWriter) Abort() error {
	if w.writer.closed {
		return nil
	}
	w.recordBuilder.Release()
	return w.writer.Abort()
}
