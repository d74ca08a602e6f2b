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
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkb"
	"github.com/twpayne/go-geom/encoding/wkbcommon"
)

var emptyPointAsNaN = wkbcommon.WKBOptionEmptyPointHandling(wkbcommon.EmptyPointHandlingNaN)

// MarshalWKB encodes a geometry as little-endian ISO WKB.  Empty points are
// written with NaN coordinates.
func MarshalWKB(g geom.T) ([]byte, error) {
	return wkb.Marshal(g, wkb.NDR, emptyPointAsNaN)
}

// UnmarshalWKB decodes a WKB value.  Points with NaN coordinates are read as
// empty points.
func UnmarshalWKB(data []byte) (geom.T, error) {
	return wkb.Unmarshal(data, emptyPointAsNaN)
}

type coordBuilder struct {
	builder *array.StructBuilder
	values  []*array.Float64Builder
}

func newCoordBuilder(builder *array.StructBuilder) *coordBuilder {
	values := make([]*array.Float64Builder, builder.NumField())
	for i := range values {
		values[i] = builder.FieldBuilder(i).(*array.Float64Builder)
	}
	return &coordBuilder{builder: builder, values: values}
}

// appendFlat appends one vertex per stride of flat coordinates.
func (c *coordBuilder) appendFlat(flat []float64, stride int) {
	for i := 0; i+stride <= len(flat); i += stride {
		c.builder.Append(true)
		for k, values := range c.values {
			values.Append(flat[i+k])
		}
	}
}

func (c *coordBuilder) appendEmpty() {
	c.builder.Append(true)
	for _, values := range c.values {
		values.Append(geom.PointEmptyCoord())
	}
}

// Builder appends geometries to an arrow array in a single encoding.  Native
// encodings accept one geometry type and one dimension.
type Builder struct {
	encoding Encoding
	dim      geo.Dimension
	builder  array.Builder
	binary   *array.BinaryBuilder
	lists    []*array.ListBuilder
	coords   *coordBuilder
}

func NewBuilder(mem memory.Allocator, enc Encoding, dim geo.Dimension) *Builder {
	b := &Builder{
		encoding: enc,
		dim:      dim,
		builder:  array.NewBuilder(mem, DataType(enc, dim)),
	}

	next := b.builder
	for {
		switch typed := next.(type) {
		case *array.BinaryBuilder:
			b.binary = typed
			return b
		case *array.ListBuilder:
			b.lists = append(b.lists, typed)
			next = typed.ValueBuilder()
		case *array.StructBuilder:
			b.coords = newCoordBuilder(typed)
			return b
		default:
			panic("unexpected builder for geometry type " + DataType(enc, dim).String())
		}
	}
}

func (b *Builder) Encoding() Encoding {
	return b.encoding
}

func (b *Builder) Dimension() geo.Dimension {
	return b.dim
}

func (b *Builder) Type() arrow.DataType {
	return b.builder.Type()
}

func (b *Builder) Len() int {
	return b.builder.Len()
}

func (b *Builder) AppendNull() {
	b.builder.AppendNull()
}

// Append adds a geometry.  A nil geometry is appended as null.
func (b *Builder) Append(g geom.T) error {
	if g == nil {
		b.AppendNull()
		return nil
	}

	if b.binary != nil {
		data, err := MarshalWKB(g)
		if err != nil {
			return err
		}
		b.binary.Append(data)
		return nil
	}

	if err := b.check(g); err != nil {
		return err
	}

	flat := g.FlatCoords()
	stride := g.Stride()

	switch g := g.(type) {
	case *geom.Point:
		if g.Empty() {
			b.coords.appendEmpty()
		} else {
			b.coords.appendFlat(flat, stride)
		}
	case *geom.LineString, *geom.MultiPoint:
		b.lists[0].Append(true)
		b.coords.appendFlat(flat, stride)
	case *geom.Polygon:
		b.lists[0].Append(true)
		b.appendParts(b.lists[1], flat, 0, g.Ends(), stride)
	case *geom.MultiLineString:
		b.lists[0].Append(true)
		b.appendParts(b.lists[1], flat, 0, g.Ends(), stride)
	case *geom.MultiPolygon:
		b.lists[0].Append(true)
		start := 0
		for _, ends := range g.Endss() {
			b.lists[1].Append(true)
			start = b.appendParts(b.lists[2], flat, start, ends, stride)
		}
	}
	return nil
}

// appendParts appends one list entry per end offset and returns the offset of
// the last end.
func (b *Builder) appendParts(list *array.ListBuilder, flat []float64, start int, ends []int, stride int) int {
	for _, end := range ends {
		list.Append(true)
		b.coords.appendFlat(flat[start:end], stride)
		start = end
	}
	return start
}

func (b *Builder) check(g geom.T) error {
	tag, err := geo.TagOf(g)
	if err != nil {
		return err
	}
	if tag.Type != b.encoding.GeometryType() {
		return &MixedTypeError{Encoding: b.encoding, Found: tag, Row: b.Len()}
	}
	dim, err := geo.DimensionOf(g)
	if err != nil {
		return err
	}
	if dim != b.dim {
		return &DimensionMismatchError{Expected: b.dim, Found: dim, Row: b.Len()}
	}
	return nil
}

// NewArray returns the built array and resets the builder.
func (b *Builder) NewArray() arrow.Array {
	return b.builder.NewArray()
}

func (b *Builder) Release() {
	b.builder.Release()
}

// Encode builds an array from a sequence of geometries.  For native encodings
// the dimension is taken from the first non-nil geometry.
func Encode(mem memory.Allocator, geoms []geom.T, enc Encoding) (arrow.Array, error) {
	dim := geo.XY
	for _, g := range geoms {
		if g == nil {
			continue
		}
		d, err := geo.DimensionOf(g)
		if err != nil {
			return nil, err
		}
		dim = d
		break
	}

	builder := NewBuilder(mem, enc, dim)
	defer builder.Release()

	for _, g := range geoms {
		if err := builder.Append(g); err != nil {
			return nil, err
		}
	}
	return builder.NewArray(), nil
}
