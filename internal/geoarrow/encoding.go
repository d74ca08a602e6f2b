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

// Package geoarrow converts between geometries and their columnar arrow
// representations: WKB binary and the native separated-coordinate layouts.
package geoarrow

import (
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/planetlabs/geocol/internal/geo"
)

// Encoding names the physical representation of a geometry column.
type Encoding int

const (
	EncodingWKB Encoding = iota
	EncodingPoint
	EncodingLineString
	EncodingPolygon
	EncodingMultiPoint
	EncodingMultiLineString
	EncodingMultiPolygon
)

var Encodings = []Encoding{
	EncodingWKB,
	EncodingPoint,
	EncodingLineString,
	EncodingPolygon,
	EncodingMultiPoint,
	EncodingMultiLineString,
	EncodingMultiPolygon,
}

var encodingNames = map[Encoding]string{
	EncodingWKB:             "WKB",
	EncodingPoint:           "point",
	EncodingLineString:      "linestring",
	EncodingPolygon:         "polygon",
	EncodingMultiPoint:      "multipoint",
	EncodingMultiLineString: "multilinestring",
	EncodingMultiPolygon:    "multipolygon",
}

// String returns the name used in file metadata.
func (e Encoding) String() string {
	if name, ok := encodingNames[e]; ok {
		return name
	}
	return "unknown"
}

// ExtensionName returns the value of the arrow extension name field metadata.
func (e Encoding) ExtensionName() string {
	return "geoarrow." + strings.ToLower(e.String())
}

func (e Encoding) IsNative() bool {
	return e != EncodingWKB
}

// GeometryType returns the geometry type stored by a native encoding.
func (e Encoding) GeometryType() geo.GeometryType {
	switch e {
	case EncodingPoint:
		return geo.Point
	case EncodingLineString:
		return geo.LineString
	case EncodingPolygon:
		return geo.Polygon
	case EncodingMultiPoint:
		return geo.MultiPoint
	case EncodingMultiLineString:
		return geo.MultiLineString
	case EncodingMultiPolygon:
		return geo.MultiPolygon
	default:
		return geo.UnknownType
	}
}

// EncodingFor returns the native encoding for a geometry type.  Geometry
// collections have no native encoding.
func EncodingFor(typ geo.GeometryType) (Encoding, bool) {
	for _, enc := range Encodings {
		if enc.IsNative() && enc.GeometryType() == typ {
			return enc, true
		}
	}
	return 0, false
}

// ParseEncoding accepts a metadata encoding name ("WKB", "point", ...) or an
// extension name ("geoarrow.wkb", ...).
func ParseEncoding(value string) (Encoding, error) {
	name := strings.ToLower(strings.TrimPrefix(value, "geoarrow."))
	for enc, encName := range encodingNames {
		if strings.ToLower(encName) == name {
			return enc, nil
		}
	}
	return 0, fmt.Errorf("unsupported geometry encoding %q", value)
}

const ExtensionNameKey = "ARROW:extension:name"

var coordNames = []string{"x", "y", "z"}

// CoordType returns the struct type for a single vertex.
func CoordType(dim geo.Dimension) *arrow.StructType {
	fields := make([]arrow.Field, dim.Size())
	for i := range fields {
		fields[i] = arrow.Field{
			Name:     coordNames[i],
			Type:     arrow.PrimitiveTypes.Float64,
			Nullable: false,
		}
	}
	return arrow.StructOf(fields...)
}

func listOf(name string, typ arrow.DataType) *arrow.ListType {
	return arrow.ListOfField(arrow.Field{Name: name, Type: typ, Nullable: false})
}

// DataType returns the arrow type used to store geometries in the given
// encoding.  The dimension is ignored for WKB.
func DataType(enc Encoding, dim geo.Dimension) arrow.DataType {
	coord := CoordType(dim)
	switch enc {
	case EncodingPoint:
		return coord
	case EncodingLineString:
		return listOf("vertices", coord)
	case EncodingPolygon:
		return listOf("rings", listOf("vertices", coord))
	case EncodingMultiPoint:
		return listOf("points", coord)
	case EncodingMultiLineString:
		return listOf("linestrings", listOf("vertices", coord))
	case EncodingMultiPolygon:
		return listOf("polygons", listOf("rings", listOf("vertices", coord)))
	default:
		return arrow.BinaryTypes.Binary
	}
}

// Field returns a nullable geometry field annotated with its extension name.
func Field(name string, enc Encoding, dim geo.Dimension) arrow.Field {
	return arrow.Field{
		Name:     name,
		Type:     DataType(enc, dim),
		Nullable: true,
		Metadata: arrow.NewMetadata([]string{ExtensionNameKey}, []string{enc.ExtensionName()}),
	}
}

// Annotate returns a copy of the field with the extension name for the
// encoding set.  Other field metadata is preserved.
func Annotate(field arrow.Field, enc Encoding) arrow.Field {
	keys := []string{ExtensionNameKey}
	values := []string{enc.ExtensionName()}
	for i, key := range field.Metadata.Keys() {
		if key == ExtensionNameKey {
			continue
		}
		keys = append(keys, key)
		values = append(values, field.Metadata.Values()[i])
	}
	field.Metadata = arrow.NewMetadata(keys, values)
	return field
}

// EncodingOf determines the encoding of a field.  The extension name metadata
// is used when present; otherwise binary fields are WKB and fields with a
// coordinate struct type are points.
func EncodingOf(field arrow.Field) (Encoding, error) {
	if name, ok := field.Metadata.GetValue(ExtensionNameKey); ok && strings.HasPrefix(name, "geoarrow.") {
		enc, err := ParseEncoding(name)
		if err != nil {
			return 0, &UnsupportedEncodingError{Encoding: name, Reason: "unknown extension"}
		}
		return enc, nil
	}
	switch field.Type.ID() {
	case arrow.BINARY, arrow.LARGE_BINARY:
		return EncodingWKB, nil
	case arrow.STRUCT:
		if _, err := DimensionOfType(field.Type); err == nil {
			return EncodingPoint, nil
		}
	}
	return 0, &UnsupportedEncodingError{Encoding: field.Type.String(), Reason: fmt.Sprintf("field %q is not a geometry column", field.Name)}
}

// DimensionOfType finds the vertex struct nested in a native type and returns
// the dimension it stores.
func DimensionOfType(typ arrow.DataType) (geo.Dimension, error) {
	for {
		switch t := typ.(type) {
		case *arrow.ListType:
			typ = t.Elem()
		case *arrow.StructType:
			switch t.NumFields() {
			case 2:
				return geo.XY, nil
			case 3:
				return geo.XYZ, nil
			default:
				return 0, fmt.Errorf("unexpected coordinate struct with %d fields", t.NumFields())
			}
		default:
			return 0, fmt.Errorf("unexpected type %s in native geometry layout", typ)
		}
	}
}
