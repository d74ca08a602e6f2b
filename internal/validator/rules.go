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

package validator

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/schema"
	"github.com/paulmach/orb"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/twpayne/go-geom"
	"golang.org/x/mod/semver"
)

type MetadataMap map[string]any

type ColumnMetdataMap map[string]map[string]any

// MetadataValue is the raw JSON stored under the geo metadata key.
type MetadataValue string

type FileInfo struct {
	File        *file.Reader
	ArrowSchema *arrow.Schema
	Metadata    *geoparquet.Metadata
}

type RuleData interface {
	*file.Reader | MetadataMap | ColumnMetdataMap | MetadataValue | *FileInfo
}

type Rule interface {
	Title() string
	Validate() error
}

type errFatal string

var ErrFatal = errFatal("fatal error")

func (e errFatal) Error() string {
	return string(e)
}

func (e errFatal) Is(target error) bool {
	_, ok := target.(errFatal)
	return ok
}

func fatal(format string, a ...any) errFatal {
	return errFatal(fmt.Sprintf(format, a...))
}

type GenericRule[T RuleData] struct {
	title    string
	value    T
	validate func(T) error
}

var _ Rule = (*GenericRule[*file.Reader])(nil)

func (r *GenericRule[T]) Title() string {
	return r.title
}

func (r *GenericRule[T]) Init(value T) {
	r.value = value
}

func (r *GenericRule[T]) Validate() error {
	return r.validate(r.value)
}

// GeometryValue is the outcome of decoding one row of a geometry column.
type GeometryValue struct {
	Row      int
	Geometry geom.T
	Err      error
}

// ColumnValueRule is checked against every value of every geometry column.
// The first error sticks.
type ColumnValueRule[T any] struct {
	title string
	value func(*FileInfo, string, T) error
	info  *FileInfo
	err   error
}

var _ Rule = (*ColumnValueRule[geom.T])(nil)

func (r *ColumnValueRule[T]) Title() string {
	return r.title
}

func (r *ColumnValueRule[T]) Init(info *FileInfo) {
	r.info = info
	r.err = nil
}

func (r *ColumnValueRule[T]) Value(name string, data T) error {
	if r.err == nil {
		r.err = r.value(r.info, name, data)
	}
	return r.err
}

func (r *ColumnValueRule[T]) Validate() error {
	return r.err
}

func asJSON(value any) string {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Sprintf("<unable to encode as JSON: %s>", err)
	}
	return string(data)
}

func RequiredGeoKey() Rule {
	return &GenericRule[*file.Reader]{
		title: fmt.Sprintf("file must include a %q metadata key", geoparquet.MetadataKey),
		validate: func(file *file.Reader) error {
			kv := file.MetaData().KeyValueMetadata()
			if kv.FindValue(geoparquet.MetadataKey) == nil {
				return fatal("missing %q metadata key", geoparquet.MetadataKey)
			}
			return nil
		},
	}
}

func RequiredMetadataType() Rule {
	return &GenericRule[*file.Reader]{
		title: "metadata must be a JSON object",
		validate: func(file *file.Reader) error {
			value, geoErr := geoparquet.GetMetadataValue(file.MetaData().KeyValueMetadata())
			if geoErr != nil {
				return fatal("%s", geoErr)
			}

			metadataMap := map[string]any{}
			jsonErr := json.Unmarshal([]byte(value), &metadataMap)
			if jsonErr != nil {
				return fatal("failed to parse file metadata as a JSON object")
			}
			return nil
		},
	}
}

func RequiredVersion() Rule {
	return &GenericRule[MetadataMap]{
		title: `metadata must include a "version" string`,
		validate: func(metadata MetadataMap) error {
			value, ok := metadata["version"]
			if !ok {
				return fatal(`missing "version" in metadata`)
			}
			version, ok := value.(string)
			if !ok {
				return fatal(`expected "version" to be a string, got %s`, asJSON(value))
			}
			if version == "" {
				return fatal(`expected "version" to be a non-empty string`)
			}
			if !semver.IsValid("v" + version) {
				return fmt.Errorf(`expected "version" to be a semantic version, got %q`, version)
			}
			return nil
		},
	}
}

func RequiredPrimaryColumn() Rule {
	return &GenericRule[MetadataMap]{
		title: `metadata must include a "primary_column" string`,
		validate: func(metadata MetadataMap) error {
			name, ok := metadata["primary_column"]
			if !ok {
				return errors.New(`missing "primary_column" in metadata`)
			}
			_, ok = name.(string)
			if !ok {
				return fmt.Errorf(`expected "primary_column" to be a string, got %s`, asJSON(name))
			}
			return nil
		},
	}
}

func RequiredColumns() Rule {
	return &GenericRule[MetadataMap]{
		title: `metadata must include a "columns" object`,
		validate: func(metadata MetadataMap) error {
			columnsAny, ok := metadata["columns"]
			if !ok {
				return fatal(`missing "columns" in metadata`)
			}
			columnsMap, ok := columnsAny.(map[string]any)
			if !ok {
				return fatal(`expected "columns" to be an object, got %s`, asJSON(columnsAny))
			}
			for name, meta := range columnsMap {
				_, ok := meta.(map[string]any)
				if !ok {
					return fatal(`expected column %q to be an object, got %s`, name, asJSON(meta))
				}
			}
			return nil
		},
	}
}

func PrimaryColumnInLookup() Rule {
	return &GenericRule[MetadataMap]{
		title: `column metadata must include the "primary_column" name`,
		validate: func(metadata MetadataMap) error {
			name, _ := metadata["primary_column"].(string)
			columns, _ := metadata["columns"].(map[string]any)
			if _, ok := columns[name]; !ok {
				return fatal("the %q column is not included in the column metadata", name)
			}
			return nil
		},
	}
}

func isValidEncoding(value string) bool {
	for _, enc := range geoarrow.Encodings {
		if enc.String() == value {
			return true
		}
	}
	return false
}

func RequiredColumnEncoding() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `column metadata must include a valid "encoding" string`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				_, ok := meta["encoding"]
				if !ok {
					return fatal(`missing "encoding" for column %q`, name)
				}
				encoding, ok := meta["encoding"].(string)
				if !ok {
					return fatal(`expected "encoding" for column %q to be a string, got %s`, name, asJSON(meta["encoding"]))
				}
				if !isValidEncoding(encoding) {
					return fatal(`unsupported encoding %q for column %q`, encoding, name)
				}
			}
			return nil
		},
	}
}

func RequiredGeometryTypes() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `column metadata must include a "geometry_types" list`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				value, ok := meta["geometry_types"]
				if !ok {
					// 0.x documents use "geometry_type"
					value, ok = meta["geometry_type"]
				}
				if !ok {
					return fmt.Errorf(`missing "geometry_types" for column %q`, name)
				}
				if single, ok := value.(string); ok {
					value = []any{single}
				}
				geometryTypes, ok := value.([]any)
				if !ok {
					return fmt.Errorf(`expected "geometry_types" for column %q to be a list, got %s`, name, asJSON(value))
				}
				seen := map[string]bool{}
				for _, item := range geometryTypes {
					geometryType, ok := item.(string)
					if !ok {
						return fmt.Errorf(`expected "geometry_types" for column %q to be a list of strings, got %s`, name, asJSON(geometryTypes))
					}
					if _, err := geo.ParseTypeTag(geometryType); err != nil {
						return fmt.Errorf(`unsupported geometry type %q for column %q`, geometryType, name)
					}
					if seen[geometryType] {
						return fmt.Errorf(`duplicate geometry type %q for column %q`, geometryType, name)
					}
					seen[geometryType] = true
				}
			}
			return nil
		},
	}
}

func projJSONSchemaUrl(version string) string {
	return fmt.Sprintf("https://proj.org/schemas/v%s/projjson.schema.json", version)
}

func OptionalCRS() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "crs" must be null or a PROJJSON object`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			schemas := map[string]*jsonschema.Schema{}
			for name, meta := range columnMetadata {
				if meta["crs"] == nil {
					continue
				}
				crs, ok := meta["crs"].(map[string]any)
				if !ok {
					return fmt.Errorf(`expected "crs" for column %q to be an object, got %s`, name, asJSON(meta["crs"]))
				}
				schemaUrl, ok := crs["$schema"].(string)
				if !ok {
					schemaUrl = projJSONSchemaUrl("0.6")
				}
				projSchema, ok := schemas[schemaUrl]
				if !ok {
					compiled, err := jsonschema.NewCompiler().Compile(schemaUrl)
					if err != nil {
						return fmt.Errorf("failed to compile PROJJSON schema: %w", err)
					}
					schemas[schemaUrl] = compiled
					projSchema = compiled
				}
				err := projSchema.Validate(crs)
				if err == nil {
					continue
				}
				validationErr := &jsonschema.ValidationError{}
				if !errors.As(err, &validationErr) {
					return err
				}
				return fmt.Errorf("validation failed against %s: %s", schemaUrl, geoparquet.SimplifiedValidationMessage(validationErr))
			}
			return nil
		},
	}
}

func OptionalOrientation() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "orientation" must be a valid string`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				_, ok := meta["orientation"]
				if !ok {
					continue
				}
				orientation, ok := meta["orientation"].(string)
				if !ok {
					return fmt.Errorf(`expected "orientation" for column %q to be a string, got %s`, name, asJSON(meta["orientation"]))
				}
				if orientation != geoparquet.OrientationCounterClockwise {
					return fmt.Errorf(`unsupported orientation %q for column %q, expected %q`, orientation, name, geoparquet.OrientationCounterClockwise)
				}
			}
			return nil
		},
	}
}

func OptionalEdges() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "edges" must be a valid string`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				_, ok := meta["edges"]
				if !ok {
					continue
				}
				edges, ok := meta["edges"].(string)
				if !ok {
					return fmt.Errorf(`expected "edges" for column %q to be a string, got %s`, name, asJSON(meta["edges"]))
				}
				if edges != geoparquet.EdgesPlanar && edges != geoparquet.EdgesSpherical {
					return fmt.Errorf(`unsupported edges %q for column %q, expected %q or %q`, edges, name, geoparquet.EdgesPlanar, geoparquet.EdgesSpherical)
				}
			}
			return nil
		},
	}
}

func OptionalBbox() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "bbox" must be an array of 4 or 6 numbers`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				_, ok := meta["bbox"]
				if !ok {
					continue
				}
				bbox, ok := meta["bbox"].([]any)
				if !ok {
					return fatal(`expected "bbox" for column %q to be a list, got %s`, name, asJSON(meta["bbox"]))
				}
				if len(bbox) != 4 && len(bbox) != 6 {
					return fatal(`expected "bbox" for column %q to be a list of 4 or 6 numbers, got %s`, name, asJSON(bbox))
				}
				for _, value := range bbox {
					_, ok := value.(float64)
					if !ok {
						return fatal(`expected "bbox" for column %q to be a list of numbers, got %s`, name, asJSON(bbox))
					}
				}
			}
			return nil
		},
	}
}

func OptionalEpoch() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "epoch" must be a number`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				_, ok := meta["epoch"]
				if !ok {
					continue
				}
				_, ok = meta["epoch"].(float64)
				if !ok {
					return fatal(`expected "epoch" for column %q to be a number, got %s`, name, asJSON(meta["epoch"]))
				}
			}
			return nil
		},
	}
}

func OptionalCovering() Rule {
	return &GenericRule[ColumnMetdataMap]{
		title: `optional "covering" must name the xmin, ymin, xmax, and ymax fields of a bbox column`,
		validate: func(columnMetadata ColumnMetdataMap) error {
			for name, meta := range columnMetadata {
				value, ok := meta["covering"]
				if !ok {
					continue
				}
				covering, ok := value.(map[string]any)
				if !ok {
					return fatal(`expected "covering" for column %q to be an object, got %s`, name, asJSON(value))
				}
				bbox, ok := covering["bbox"].(map[string]any)
				if !ok {
					return fatal(`expected "covering" for column %q to include a "bbox" object, got %s`, name, asJSON(covering))
				}
				parent := ""
				for _, key := range geoarrow.CoveringFieldNames {
					path, ok := bbox[key].([]any)
					if !ok || len(path) != 2 {
						return fatal(`expected covering %q for column %q to be a list of two strings, got %s`, key, name, asJSON(bbox[key]))
					}
					column, ok := path[0].(string)
					if !ok {
						return fatal(`expected covering %q for column %q to be a list of two strings, got %s`, key, name, asJSON(path))
					}
					if _, ok := path[1].(string); !ok {
						return fatal(`expected covering %q for column %q to be a list of two strings, got %s`, key, name, asJSON(path))
					}
					if parent == "" {
						parent = column
					}
					if column != parent {
						return fatal(`expected all covering fields for column %q to be in the same column, got %q and %q`, name, parent, column)
					}
				}
			}
			return nil
		},
	}
}

func ValidMetadataDocument() Rule {
	return &GenericRule[MetadataValue]{
		title: "metadata must match the schema for its version",
		validate: func(value MetadataValue) error {
			if _, err := geoparquet.ParseMetadata([]byte(value)); err != nil {
				return fatal("%s", err)
			}
			return nil
		},
	}
}

func NativeEncodingVersion() Rule {
	return &GenericRule[*FileInfo]{
		title: "native geometry encodings require version 1.1.0 or later",
		validate: func(info *FileInfo) error {
			version := "v" + info.Metadata.Version
			if semver.Compare(version, "v1.1.0") >= 0 {
				return nil
			}
			for name, col := range info.Metadata.Columns {
				if col.Encoding != geoarrow.EncodingWKB.String() {
					return fmt.Errorf("column %q uses the %q encoding, which is not supported in version %s", name, col.Encoding, info.Metadata.Version)
				}
			}
			return nil
		},
	}
}

func rootField(info *FileInfo, name string) (schema.Node, error) {
	root := info.File.MetaData().Schema.Root()
	index := root.FieldIndexByName(name)
	if index < 0 {
		return nil, fatal("missing geometry column %q", name)
	}
	return root.Field(index), nil
}

func GeometryUngrouped() Rule {
	return &GenericRule[*FileInfo]{
		title: "WKB geometry columns must not be grouped",
		validate: func(info *FileInfo) error {
			for name, col := range info.Metadata.Columns {
				field, err := rootField(info, name)
				if err != nil {
					return err
				}
				if col.Encoding != geoarrow.EncodingWKB.String() {
					continue
				}
				if _, ok := field.(*schema.PrimitiveNode); !ok {
					return fmt.Errorf("column %q must not be a group", name)
				}
			}

			return nil
		},
	}
}

func GeometryDataType() Rule {
	return &GenericRule[*FileInfo]{
		title: "geometry columns must be stored as BYTE_ARRAY (WKB) or with the native layout for their encoding",
		validate: func(info *FileInfo) error {
			for name, col := range info.Metadata.Columns {
				field, err := rootField(info, name)
				if err != nil {
					return err
				}

				enc, err := col.GeoArrowEncoding()
				if err != nil {
					return fatal("%s", err)
				}

				if !enc.IsNative() {
					primitive, ok := field.(*schema.PrimitiveNode)
					if !ok {
						return fatal("expected primitive column for %q", name)
					}
					if primitive.PhysicalType() != parquet.Types.ByteArray {
						return fatal("unexpected type for column %q, got %s", name, primitive.PhysicalType())
					}
					continue
				}

				arrowFields, ok := info.ArrowSchema.FieldsByName(name)
				if !ok {
					return fatal("missing geometry column %q", name)
				}
				empty := array.MakeArrayOfNull(memory.DefaultAllocator, arrowFields[0].Type, 0)
				_, decodeErr := geoarrow.NewDecoder(empty, enc)
				empty.Release()
				if decodeErr != nil {
					return fatal("unexpected layout for %q column %q: %s", col.Encoding, name, decodeErr)
				}
			}

			return nil
		},
	}
}

func GeometryRepetition() Rule {
	return &GenericRule[*FileInfo]{
		title: "geometry columns must be required or optional, not repeated",
		validate: func(info *FileInfo) error {
			for name := range info.Metadata.Columns {
				field, err := rootField(info, name)
				if err != nil {
					return err
				}

				repetitionType := field.RepetitionType()
				if repetitionType == parquet.Repetitions.Repeated {
					return fmt.Errorf("column %q must not be repeated", name)
				}
				if repetitionType != parquet.Repetitions.Required && repetitionType != parquet.Repetitions.Optional {
					return fmt.Errorf("column %q must be required or optional", name)
				}
			}

			return nil
		},
	}
}

func CoveringColumnPresent() Rule {
	return &GenericRule[*FileInfo]{
		title: "covering columns must be structs with double xmin, ymin, xmax, and ymax fields",
		validate: func(info *FileInfo) error {
			for name, col := range info.Metadata.Columns {
				if col.Covering == nil {
					continue
				}
				bboxName := col.Covering.Column()
				fields, ok := info.ArrowSchema.FieldsByName(bboxName)
				if !ok {
					return fmt.Errorf("missing covering column %q for column %q", bboxName, name)
				}
				structType, ok := fields[0].Type.(*arrow.StructType)
				if !ok {
					return fmt.Errorf("expected covering column %q to be a struct, got %s", bboxName, fields[0].Type)
				}
				bbox := col.Covering.Bbox
				for _, path := range [][]string{bbox.Xmin, bbox.Ymin, bbox.Xmax, bbox.Ymax} {
					if len(path) != 2 || path[0] != bboxName {
						return fmt.Errorf("expected covering fields for column %q to be in %q, got %v", name, bboxName, path)
					}
					field, ok := structType.FieldByName(path[1])
					if !ok {
						return fmt.Errorf("missing field %q in covering column %q", path[1], bboxName)
					}
					if field.Type.ID() != arrow.FLOAT64 && field.Type.ID() != arrow.FLOAT32 {
						return fmt.Errorf("expected field %q in covering column %q to be a float, got %s", path[1], bboxName, field.Type)
					}
				}
			}
			return nil
		},
	}
}

func GeometryEncoding() Rule {
	return &ColumnValueRule[*GeometryValue]{
		title: `all geometry values match the "encoding" metadata`,
		value: func(info *FileInfo, name string, value *GeometryValue) error {
			geomColumn := info.Metadata.Columns[name]
			if geomColumn == nil {
				return fatal("missing geometry column %q", name)
			}
			if value.Err != nil {
				return fatal("invalid geometry in column %q: %s", name, value.Err)
			}

			return nil
		},
	}
}

func GeometryTypes() Rule {
	return &ColumnValueRule[geom.T]{
		title: `all geometry types must be included in the "geometry_types" metadata (if not empty)`,
		value: func(info *FileInfo, name string, geometry geom.T) error {
			geomColumn := info.Metadata.Columns[name]
			if geomColumn == nil {
				return fatal("missing geometry column %q", name)
			}

			inventory, err := geomColumn.TypeInventory()
			if err != nil {
				return fatal("%s", err)
			}
			if inventory.Len() == 0 {
				return nil
			}
			tag, err := geo.TagOf(geometry)
			if err != nil {
				return fmt.Errorf("unexpected geometry in column %q: %w", name, err)
			}
			if !inventory.Contains(tag) {
				return fmt.Errorf("unexpected geometry type %q for column %q", tag, name)
			}

			return nil
		},
	}
}

func ringOrientation(layout geom.Layout, flat []float64) orb.Orientation {
	stride := layout.Stride()
	ring := make(orb.Ring, 0, len(flat)/stride)
	for i := 0; i+1 < len(flat); i += stride {
		ring = append(ring, orb.Point{flat[i], flat[i+1]})
	}
	return ring.Orientation()
}

func checkPolygonOrientation(name string, polygon *geom.Polygon) error {
	for i := 0; i < polygon.NumLinearRings(); i++ {
		ring := polygon.LinearRing(i)
		orientation := ringOrientation(ring.Layout(), ring.FlatCoords())
		if i == 0 {
			if orientation != orb.CCW {
				return fmt.Errorf("invalid orientation for exterior ring in column %q", name)
			}
			continue
		}
		if orientation != orb.CW {
			return fmt.Errorf("invalid orientation for interior ring in column %q", name)
		}
	}
	return nil
}

func GeometryOrientation() Rule {
	return &ColumnValueRule[geom.T]{
		title: `all polygon geometries must follow the "orientation" metadata (if present)`,
		value: func(info *FileInfo, name string, geometry geom.T) error {
			geomColumn := info.Metadata.Columns[name]
			if geomColumn == nil {
				return fatal("missing geometry column %q", name)
			}

			if geomColumn.Orientation == "" {
				return nil
			}
			if geomColumn.Orientation != geoparquet.OrientationCounterClockwise {
				return fmt.Errorf("unsupported orientation %q for column %q", geomColumn.Orientation, name)
			}

			switch g := geometry.(type) {
			case *geom.Polygon:
				return checkPolygonOrientation(name, g)
			case *geom.MultiPolygon:
				for i := 0; i < g.NumPolygons(); i++ {
					if err := checkPolygonOrientation(name, g.Polygon(i)); err != nil {
						return err
					}
				}
			}

			return nil
		},
	}
}

func GeometryBounds() Rule {
	return &ColumnValueRule[geom.T]{
		title: `all geometries must fall within the "bbox" metadata (if present)`,
		value: func(info *FileInfo, name string, geometry geom.T) error {
			geomColumn := info.Metadata.Columns[name]
			if geomColumn == nil {
				return fatal("missing geometry column %q", name)
			}

			bbox := geomColumn.BoundingBox()
			if len(bbox) == 0 {
				return nil
			}
			if !bbox.Valid() {
				return fmt.Errorf("invalid bbox length for column %q", name)
			}
			declared := bbox.XY()
			x0, y0 := declared.Min.X(), declared.Min.Y()
			x1, y1 := declared.Max.X(), declared.Max.Y()

			bound, ok := geo.Rect(geometry)
			if !ok {
				return nil
			}
			if x0 <= x1 {
				// bbox does not cross the antimeridian
				if bound.Min.X() < x0 {
					return fmt.Errorf("geometry in column %q extends to %f, west of the bbox", name, bound.Min.X())
				}
				if bound.Max.X() > x1 {
					return fmt.Errorf("geometry in column %q extends to %f, east of the bbox", name, bound.Max.X())
				}
			} else {
				// bbox crosses the antimeridian
				if bound.Max.X() > x1 && bound.Max.X() < x0 {
					return fmt.Errorf("geometry in column %q extends to %f, outside of the bbox", name, bound.Max.X())
				}
				if bound.Min.X() < x0 && bound.Min.X() > x1 {
					return fmt.Errorf("geometry in column %q extends to %f, outside of the bbox", name, bound.Min.X())
				}
			}
			if bound.Min.Y() < y0 {
				return fmt.Errorf("geometry in column %q extends to %f, south of the bbox", name, bound.Min.Y())
			}
			if bound.Max.Y() > y1 {
				return fmt.Errorf("geometry in column %q extends to %f, north of the bbox", name, bound.Max.Y())
			}

			z0, z1, ok := bbox.Z()
			if !ok || !geo.HasZ(geometry) {
				return nil
			}
			var outside error
			geo.EachCoord(geometry, func(coord []float64) {
				if outside != nil || len(coord) < 3 {
					return
				}
				if coord[2] < z0 || coord[2] > z1 {
					outside = fmt.Errorf("geometry in column %q has z value %f, outside of the bbox", name, coord[2])
				}
			})
			return outside
		},
	}
}
