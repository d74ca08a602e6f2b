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

package pqutil

import (
	"errors"
	"fmt"
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
)

// ArrowSchemaBuilder derives an arrow schema from JSON-like rows.  A field
// stays pending while its values are null or empty and is resolved by a later
// row.  Types seen in different rows are merged: objects with different keys
// become one struct and integers widen to doubles.
type ArrowSchemaBuilder struct {
	fields     map[string]*arrow.Field
	geometries map[string]bool
}

func NewArrowSchemaBuilder() *ArrowSchemaBuilder {
	return &ArrowSchemaBuilder{
		fields:     map[string]*arrow.Field{},
		geometries: map[string]bool{},
	}
}

func (b *ArrowSchemaBuilder) Has(name string) bool {
	_, has := b.fields[name]
	return has
}

// AddGeometry adds a WKB geometry field.  Later values for the same name are
// not inspected.
func (b *ArrowSchemaBuilder) AddGeometry(name string) {
	field := geoarrow.Field(name, geoarrow.EncodingWKB, geo.XY)
	b.fields[name] = &field
	b.geometries[name] = true
}

func (b *ArrowSchemaBuilder) Add(record map[string]any) error {
	for name, value := range record {
		if b.geometries[name] {
			continue
		}
		field, err := inferField(name, value)
		if err != nil {
			return fmt.Errorf("error converting value for %s: %w", name, err)
		}
		merged, err := mergeFields(b.fields[name], field)
		if err != nil {
			return err
		}
		b.fields[name] = merged
	}
	return nil
}

// inferField returns nil for values that do not determine a type.
func inferField(name string, value any) (*arrow.Field, error) {
	var dataType arrow.DataType
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		dataType = arrow.FixedWidthTypes.Boolean
	case int, int64:
		dataType = arrow.PrimitiveTypes.Int64
	case int32:
		dataType = arrow.PrimitiveTypes.Int32
	case float32:
		dataType = arrow.PrimitiveTypes.Float32
	case float64:
		dataType = arrow.PrimitiveTypes.Float64
	case []byte:
		dataType = arrow.BinaryTypes.Binary
	case string:
		dataType = arrow.BinaryTypes.String
	case []any:
		var element *arrow.Field
		for _, item := range v {
			itemField, err := inferField(name, item)
			if err != nil {
				return nil, err
			}
			element, err = mergeFields(element, itemField)
			if err != nil {
				return nil, errors.New("slices must be of all the same type")
			}
		}
		if element == nil {
			return nil, nil
		}
		dataType = arrow.ListOf(element.Type)
	case map[string]any:
		if len(v) == 0 {
			return nil, nil
		}
		fields := make([]arrow.Field, 0, len(v))
		for _, key := range sortedKeys(v) {
			field, err := inferField(key, v[key])
			if err != nil {
				return nil, fmt.Errorf("trouble generating schema for field %q: %w", key, err)
			}
			if field == nil {
				return nil, nil
			}
			fields = append(fields, *field)
		}
		dataType = arrow.StructOf(fields...)
	default:
		return nil, fmt.Errorf("cannot convert value: %v", v)
	}
	return &arrow.Field{Name: name, Type: dataType, Nullable: true}, nil
}

// mergeFields combines the types inferred for a field from two values.
// Either argument may be nil for an unresolved field.
func mergeFields(a *arrow.Field, b *arrow.Field) (*arrow.Field, error) {
	if a == nil {
		return b, nil
	}
	if b == nil || arrow.TypeEqual(a.Type, b.Type) {
		return a, nil
	}

	conflict := fmt.Errorf("conflicting types for %q: %s and %s", a.Name, a.Type, b.Type)
	switch at := a.Type.(type) {
	case *arrow.Int64Type, *arrow.Int32Type:
		if b.Type.ID() == arrow.FLOAT64 {
			return b, nil
		}
	case *arrow.Float64Type:
		if id := b.Type.ID(); id == arrow.INT64 || id == arrow.INT32 {
			return a, nil
		}
	case *arrow.ListType:
		bt, ok := b.Type.(*arrow.ListType)
		if !ok {
			return nil, conflict
		}
		element, err := mergeFields(&arrow.Field{Name: a.Name, Type: at.Elem()}, &arrow.Field{Name: b.Name, Type: bt.Elem()})
		if err != nil {
			return nil, err
		}
		return &arrow.Field{Name: a.Name, Type: arrow.ListOf(element.Type), Nullable: true}, nil
	case *arrow.StructType:
		bt, ok := b.Type.(*arrow.StructType)
		if !ok {
			return nil, conflict
		}
		return mergeStructs(a.Name, at, bt)
	}
	return nil, conflict
}

func mergeStructs(name string, a *arrow.StructType, b *arrow.StructType) (*arrow.Field, error) {
	children := map[string]*arrow.Field{}
	for _, field := range append(slices.Clone(a.Fields()), b.Fields()...) {
		merged, err := mergeFields(children[field.Name], &field)
		if err != nil {
			return nil, fmt.Errorf("trouble generating schema for field %q: %w", name, err)
		}
		children[field.Name] = merged
	}

	fields := make([]arrow.Field, 0, len(children))
	for _, key := range sortedKeys(children) {
		fields = append(fields, *children[key])
	}
	return &arrow.Field{Name: name, Type: arrow.StructOf(fields...), Nullable: true}, nil
}

func (b *ArrowSchemaBuilder) Ready() bool {
	for _, field := range b.fields {
		if field == nil {
			return false
		}
	}
	return true
}

func (b *ArrowSchemaBuilder) Schema() (*arrow.Schema, error) {
	fields := make([]arrow.Field, 0, len(b.fields))
	for _, name := range sortedKeys(b.fields) {
		field := b.fields[name]
		if field == nil {
			return nil, fmt.Errorf("could not derive type for field: %s", name)
		}
		fields = append(fields, *field)
	}
	return arrow.NewSchema(fields, nil), nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
