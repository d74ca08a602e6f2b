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

package geo

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/paulmach/orb"
	"github.com/twpayne/go-geom"
)

// GeometryType is one of the seven base geometry types a column can hold.
type GeometryType int

const (
	UnknownType GeometryType = iota
	Point
	LineString
	Polygon
	MultiPoint
	MultiLineString
	MultiPolygon
	GeometryCollection
)

var GeometryTypes = []GeometryType{
	Point,
	LineString,
	Polygon,
	MultiPoint,
	MultiLineString,
	MultiPolygon,
	GeometryCollection,
}

var geometryTypeNames = map[GeometryType]string{
	Point:              "Point",
	LineString:         "LineString",
	Polygon:            "Polygon",
	MultiPoint:         "MultiPoint",
	MultiLineString:    "MultiLineString",
	MultiPolygon:       "MultiPolygon",
	GeometryCollection: "GeometryCollection",
}

func (t GeometryType) String() string {
	if name, ok := geometryTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// Multi returns the multi-part counterpart of a single-part type.  Multi-part
// types and collections are returned unchanged.
func (t GeometryType) Multi() GeometryType {
	switch t {
	case Point:
		return MultiPoint
	case LineString:
		return MultiLineString
	case Polygon:
		return MultiPolygon
	default:
		return t
	}
}

func (t GeometryType) IsMulti() bool {
	return t == MultiPoint || t == MultiLineString || t == MultiPolygon
}

// Dimension is the number of coordinate values per vertex.  Measured
// coordinates are not supported.
type Dimension int

const (
	XY  Dimension = 2
	XYZ Dimension = 3
)

func (d Dimension) String() string {
	switch d {
	case XY:
		return "xy"
	case XYZ:
		return "xyz"
	default:
		return "unknown"
	}
}

func (d Dimension) Size() int {
	return int(d)
}

func (d Dimension) Layout() geom.Layout {
	if d == XYZ {
		return geom.XYZ
	}
	return geom.XY
}

var ErrUnsupportedLayout = errors.New("measured coordinates are not supported")

// DimensionOf returns the dimension of a geometry.  Geometries without a
// layout (like an empty collection) are treated as XY.
func DimensionOf(g geom.T) (Dimension, error) {
	switch g.Layout() {
	case geom.NoLayout, geom.XY:
		return XY, nil
	case geom.XYZ:
		return XYZ, nil
	default:
		return 0, fmt.Errorf("%w: got %s layout", ErrUnsupportedLayout, g.Layout())
	}
}

func HasZ(g geom.T) bool {
	return g.Layout().ZIndex() >= 0
}

// TypeOf switches over the closed set of geometry types.
func TypeOf(g geom.T) (GeometryType, error) {
	switch g.(type) {
	case *geom.Point:
		return Point, nil
	case *geom.LineString:
		return LineString, nil
	case *geom.Polygon:
		return Polygon, nil
	case *geom.MultiPoint:
		return MultiPoint, nil
	case *geom.MultiLineString:
		return MultiLineString, nil
	case *geom.MultiPolygon:
		return MultiPolygon, nil
	case *geom.GeometryCollection:
		return GeometryCollection, nil
	default:
		return UnknownType, fmt.Errorf("unsupported geometry type %T", g)
	}
}

// TypeTag pairs a geometry type with whether it carries Z values.  Tags are
// comparable and are used as set members.
type TypeTag struct {
	Type GeometryType
	Z    bool
}

func (t TypeTag) String() string {
	if t.Z {
		return t.Type.String() + " Z"
	}
	return t.Type.String()
}

// TagOf returns the tag for the top level of a geometry.  Members of a
// collection are not inspected.
func TagOf(g geom.T) (TypeTag, error) {
	typ, err := TypeOf(g)
	if err != nil {
		return TypeTag{}, err
	}
	return TypeTag{Type: typ, Z: HasZ(g)}, nil
}

func ParseTypeTag(value string) (TypeTag, error) {
	name, z := strings.CutSuffix(value, " Z")
	for typ, typeName := range geometryTypeNames {
		if typeName == name {
			return TypeTag{Type: typ, Z: z}, nil
		}
	}
	return TypeTag{}, fmt.Errorf("unknown geometry type %q", value)
}

// EachCoord calls fn with the flat values of every vertex in a geometry.
// Collections are walked recursively.
func EachCoord(g geom.T, fn func(coord []float64)) {
	if collection, ok := g.(*geom.GeometryCollection); ok {
		for _, member := range collection.Geoms() {
			EachCoord(member, fn)
		}
		return
	}
	stride := g.Stride()
	if stride == 0 {
		return
	}
	flat := g.FlatCoords()
	for i := 0; i+stride <= len(flat); i += stride {
		fn(flat[i : i+stride])
	}
}

// Rect returns the 2D rectangle covering all vertices of a geometry.  The
// second return value is false for geometries without any vertices.
func Rect(g geom.T) (orb.Bound, bool) {
	var bound orb.Bound
	found := false
	EachCoord(g, func(coord []float64) {
		x, y := coord[0], coord[1]
		if math.IsNaN(x) || math.IsNaN(y) {
			return
		}
		point := orb.Point{x, y}
		if !found {
			bound = orb.Bound{Min: point, Max: point}
			found = true
			return
		}
		bound = bound.Extend(point)
	})
	return bound, found
}
