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
	"math"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/paulmach/orb"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/twpayne/go-geom"
)

type binaryArray interface {
	arrow.Array
	Value(i int) []byte
}

var listDepth = map[Encoding]int{
	EncodingPoint:           0,
	EncodingLineString:      1,
	EncodingPolygon:         2,
	EncodingMultiPoint:      1,
	EncodingMultiLineString: 2,
	EncodingMultiPolygon:    3,
}

// Decoder reads geometries from an arrow array.  The array is not retained.
type Decoder struct {
	arr      arrow.Array
	encoding Encoding
	dim      geo.Dimension
	binary   binaryArray
	lists    []*array.List
	coords   []*array.Float64
}

func NewDecoder(arr arrow.Array, enc Encoding) (*Decoder, error) {
	d := &Decoder{arr: arr, encoding: enc, dim: geo.XY}

	if enc == EncodingWKB {
		binary, ok := arr.(binaryArray)
		if !ok {
			return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: fmt.Sprintf("expected binary array, got %s", arr.DataType())}
		}
		d.binary = binary
		return d, nil
	}

	depth, ok := listDepth[enc]
	if !ok {
		return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: "unknown encoding"}
	}

	next := arr
	for i := 0; i < depth; i++ {
		list, ok := next.(*array.List)
		if !ok {
			return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: fmt.Sprintf("expected %d levels of lists in %s", depth, arr.DataType())}
		}
		d.lists = append(d.lists, list)
		next = list.ListValues()
	}

	coords, ok := next.(*array.Struct)
	if !ok {
		return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: fmt.Sprintf("expected coordinate struct in %s", arr.DataType())}
	}
	dim, err := DimensionOfType(coords.DataType())
	if err != nil {
		return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: err.Error()}
	}
	d.dim = dim
	for i := 0; i < coords.NumField(); i++ {
		values, ok := coords.Field(i).(*array.Float64)
		if !ok {
			return nil, &UnsupportedEncodingError{Encoding: enc.String(), Reason: "coordinates must be float64"}
		}
		d.coords = append(d.coords, values)
	}
	return d, nil
}

func (d *Decoder) Len() int {
	return d.arr.Len()
}

func (d *Decoder) IsNull(i int) bool {
	return d.arr.IsNull(i)
}

// Dimension is the dimension of a native array.  WKB arrays report XY.
func (d *Decoder) Dimension() geo.Dimension {
	return d.dim
}

// coordRange returns the range of vertex indices for a row of a native array.
func (d *Decoder) coordRange(i int) (int, int) {
	if len(d.lists) == 0 {
		return i, i + 1
	}
	lo, hi := d.lists[0].ValueOffsets(i)
	for _, list := range d.lists[1:] {
		if lo == hi {
			return 0, 0
		}
		lo, _ = list.ValueOffsets(int(lo))
		_, hi = list.ValueOffsets(int(hi - 1))
	}
	return int(lo), int(hi)
}

func (d *Decoder) flatCoords(lo, hi int) []float64 {
	if hi <= lo {
		return nil
	}
	stride := len(d.coords)
	flat := make([]float64, 0, (hi-lo)*stride)
	for k := lo; k < hi; k++ {
		for _, values := range d.coords {
			flat = append(flat, values.Value(k))
		}
	}
	return flat
}

// ends returns the flat coordinate end offsets for the children of a list
// entry, relative to the vertex at base.
func (d *Decoder) ends(list *array.List, lo, hi int64, base int) []int {
	var ends []int
	stride := len(d.coords)
	for j := lo; j < hi; j++ {
		_, end := list.ValueOffsets(int(j))
		ends = append(ends, (int(end)-base)*stride)
	}
	return ends
}

// Geometry returns the geometry for a row, or nil for null rows.
func (d *Decoder) Geometry(i int) (geom.T, error) {
	if d.arr.IsNull(i) {
		return nil, nil
	}

	if d.binary != nil {
		data := d.binary.Value(i)
		if len(data) == 0 {
			return nil, nil
		}
		g, err := UnmarshalWKB(data)
		if err != nil {
			return nil, fmt.Errorf("trouble decoding WKB in row %d: %w", i, err)
		}
		return g, nil
	}

	layout := d.dim.Layout()
	lo, hi := d.coordRange(i)
	flat := d.flatCoords(lo, hi)

	switch d.encoding {
	case EncodingPoint:
		return geom.NewPointFlatMaybeEmpty(layout, flat), nil
	case EncodingLineString:
		return geom.NewLineStringFlat(layout, flat), nil
	case EncodingMultiPoint:
		return geom.NewMultiPointFlat(layout, flat), nil
	case EncodingPolygon:
		rlo, rhi := d.lists[0].ValueOffsets(i)
		return geom.NewPolygonFlat(layout, flat, d.ends(d.lists[1], rlo, rhi, lo)), nil
	case EncodingMultiLineString:
		rlo, rhi := d.lists[0].ValueOffsets(i)
		return geom.NewMultiLineStringFlat(layout, flat, d.ends(d.lists[1], rlo, rhi, lo)), nil
	case EncodingMultiPolygon:
		plo, phi := d.lists[0].ValueOffsets(i)
		var endss [][]int
		for p := plo; p < phi; p++ {
			rlo, rhi := d.lists[1].ValueOffsets(int(p))
			endss = append(endss, d.ends(d.lists[2], rlo, rhi, lo))
		}
		return geom.NewMultiPolygonFlat(layout, flat, endss), nil
	default:
		return nil, &UnsupportedEncodingError{Encoding: d.encoding.String(), Reason: "unknown encoding"}
	}
}

// Rect returns the 2D rectangle of a row.  The second return value is false
// for null or empty rows.  Native rows are measured from their coordinates
// without building geometries.
func (d *Decoder) Rect(i int) (orb.Bound, bool, error) {
	if d.arr.IsNull(i) {
		return orb.Bound{}, false, nil
	}

	if d.binary != nil {
		g, err := d.Geometry(i)
		if err != nil || g == nil {
			return orb.Bound{}, false, err
		}
		bound, ok := geo.Rect(g)
		return bound, ok, nil
	}

	lo, hi := d.coordRange(i)
	xs, ys := d.coords[0], d.coords[1]
	var bound orb.Bound
	found := false
	for k := lo; k < hi; k++ {
		x, y := xs.Value(k), ys.Value(k)
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		point := orb.Point{x, y}
		if !found {
			bound = orb.Bound{Min: point, Max: point}
			found = true
			continue
		}
		bound = bound.Extend(point)
	}
	return bound, found, nil
}

// Decode returns one geometry per row.  Null rows are nil.
func Decode(arr arrow.Array, enc Encoding) ([]geom.T, error) {
	decoder, err := NewDecoder(arr, enc)
	if err != nil {
		return nil, err
	}
	geoms := make([]geom.T, decoder.Len())
	for i := range geoms {
		g, err := decoder.Geometry(i)
		if err != nil {
			return nil, err
		}
		geoms[i] = g
	}
	return geoms, nil
}
