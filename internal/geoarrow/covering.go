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

package geoarrow

import (
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
)

var CoveringFieldNames = []string{"xmin", "ymin", "xmax", "ymax"}

// CoveringType is the struct type of a bounding box covering column.
var CoveringType = arrow.StructOf(
	arrow.Field{Name: "xmin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	arrow.Field{Name: "ymin", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	arrow.Field{Name: "xmax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
	arrow.Field{Name: "ymax", Type: arrow.PrimitiveTypes.Float64, Nullable: false},
)

func CoveringField(name string) arrow.Field {
	return arrow.Field{Name: name, Type: CoveringType, Nullable: true}
}

// BuildCovering returns a struct array with the 2D rectangle of each row.
// Null and empty geometries produce null rows.
func BuildCovering(mem memory.Allocator, arr arrow.Array, enc Encoding) (arrow.Array, error) {
	decoder, err := NewDecoder(arr, enc)
	if err != nil {
		return nil, err
	}

	builder := array.NewStructBuilder(mem, CoveringType)
	defer builder.Release()
	builder.Reserve(decoder.Len())

	values := make([]*array.Float64Builder, len(CoveringFieldNames))
	for i := range values {
		values[i] = builder.FieldBuilder(i).(*array.Float64Builder)
	}

	for i := 0; i < decoder.Len(); i++ {
		bound, ok, err := decoder.Rect(i)
		if err != nil {
			return nil, err
		}
		if !ok {
			builder.AppendNull()
			continue
		}
		builder.Append(true)
		values[0].Append(bound.Min[0])
		values[1].Append(bound.Min[1])
		values[2].Append(bound.Max[0])
		values[3].Append(bound.Max[1])
	}

	return builder.NewArray(), nil
}
