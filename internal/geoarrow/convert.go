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
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/twpayne/go-geom"
)

// InferNative picks the native encoding that can hold every geometry type in
// an inventory.  A single type maps to its own encoding, and a single type
// together with its multi counterpart maps to the multi encoding.  A native
// column has one dimension, so an inventory mixing 2D and 3D tags is
// unsupported.
func InferNative(types *geo.TypeInventory) (Encoding, geo.Dimension, error) {
	if types == nil || types.Len() == 0 {
		return 0, 0, &UnsupportedEncodingError{Encoding: "native", Reason: "no geometry types recorded"}
	}

	dim := geo.XY
	if types.HasZ() {
		dim = geo.XYZ
	}

	family := geo.UnknownType
	for _, tag := range types.Tags() {
		if tag.Z != types.HasZ() {
			return 0, 0, &UnsupportedEncodingError{Encoding: "native", Reason: fmt.Sprintf("mixed dimensions %v", types.Strings())}
		}
		multi := tag.Type.Multi()
		if multi == geo.GeometryCollection {
			return 0, 0, &UnsupportedEncodingError{Encoding: "native", Reason: "geometry collections have no native layout"}
		}
		if family != geo.UnknownType && family != multi {
			return 0, 0, &UnsupportedEncodingError{Encoding: "native", Reason: fmt.Sprintf("mixed geometry types %v", types.Strings())}
		}
		family = multi
	}

	single := true
	for _, tag := range types.Tags() {
		if tag.Type.IsMulti() {
			single = false
		}
	}

	if single {
		enc, _ := EncodingFor(types.Tags()[0].Type)
		return enc, dim, nil
	}
	enc, _ := EncodingFor(family)
	return enc, dim, nil
}

// Promote converts a single part geometry into the multi part geometry
// required by the encoding.  Other geometries are returned unchanged.
func Promote(g geom.T, enc Encoding) geom.T {
	layout := g.Layout()
	switch enc {
	case EncodingMultiPoint:
		if p, ok := g.(*geom.Point); ok {
			if p.Empty() {
				return geom.NewMultiPoint(layout)
			}
			return geom.NewMultiPointFlat(layout, p.FlatCoords())
		}
	case EncodingMultiLineString:
		if ls, ok := g.(*geom.LineString); ok {
			flat := ls.FlatCoords()
			return geom.NewMultiLineStringFlat(layout, flat, []int{len(flat)})
		}
	case EncodingMultiPolygon:
		if p, ok := g.(*geom.Polygon); ok {
			return geom.NewMultiPolygonFlat(layout, p.FlatCoords(), [][]int{p.Ends()})
		}
	}
	return g
}

// Convert re-encodes an array.  Single part geometries are promoted when
// converting to a multi encoding.  The dimension is used for native targets.
// The input array is retained and returned when no conversion is needed.
func Convert(mem memory.Allocator, arr arrow.Array, from Encoding, to Encoding, dim geo.Dimension) (arrow.Array, error) {
	if from == to && (to == EncodingWKB || sameDimension(arr, dim)) {
		arr.Retain()
		return arr, nil
	}

	decoder, err := NewDecoder(arr, from)
	if err != nil {
		return nil, err
	}

	builder := NewBuilder(mem, to, dim)
	defer builder.Release()

	for i := 0; i < decoder.Len(); i++ {
		g, err := decoder.Geometry(i)
		if err != nil {
			return nil, err
		}
		if g != nil && to.IsNative() {
			g = Promote(g, to)
		}
		if err := builder.Append(g); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}

func sameDimension(arr arrow.Array, dim geo.Dimension) bool {
	d, err := DimensionOfType(arr.DataType())
	return err == nil && d == dim
}
