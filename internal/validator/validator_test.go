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

package validator_test

import (
	"bytes"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geojson"
	"github.com/planetlabs/geocol/internal/test"
	"github.com/planetlabs/geocol/internal/validator"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"github.com/stretchr/testify/suite"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

// projSchema stands in for the published PROJJSON schema.
const projSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["type"],
	"properties": {"type": {"type": "string"}}
}`

func loadSchema(schemaURL string) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(projSchema)), nil
}

const collection = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {"name": "Tanzania"},
			"geometry": {
				"type": "Polygon",
				"coordinates": [[[33.9, -0.95], [31.87, -1.03], [30.77, -2.29], [33.9, -0.95]]]
			}
		},
		{
			"type": "Feature",
			"properties": {"name": "Kenya"},
			"geometry": {
				"type": "MultiPolygon",
				"coordinates": [[[[39.2, -4.68], [41.86, 3.92], [35.03, 5.51], [39.2, -4.68]]]]
			}
		}
	]
}`

type Suite struct {
	suite.Suite
	originalHttpLoader  func(string) (io.ReadCloser, error)
	originalHttpsLoader func(string) (io.ReadCloser, error)
}

func (s *Suite) SetupSuite() {
	s.originalHttpLoader = jsonschema.Loaders["http"]
	s.originalHttpsLoader = jsonschema.Loaders["https"]
	jsonschema.Loaders["http"] = loadSchema
	jsonschema.Loaders["https"] = loadSchema
}

func (s *Suite) TearDownSuite() {
	jsonschema.Loaders["http"] = s.originalHttpLoader
	jsonschema.Loaders["https"] = s.originalHttpsLoader
}

func (s *Suite) fromGeoJSON(options *geojson.ConvertOptions) []byte {
	output := &bytes.Buffer{}
	s.Require().NoError(geojson.ToParquet(strings.NewReader(collection), output, options))
	return output.Bytes()
}

// withMetadata writes geometries with the given geo metadata value.
func (s *Suite) withMetadata(geometries []geom.T, enc geoarrow.Encoding, metadata string) []byte {
	arr, err := geoarrow.Encode(memory.DefaultAllocator, geometries, enc)
	s.Require().NoError(err)
	defer arr.Release()

	schema := arrow.NewSchema([]arrow.Field{geoarrow.Field("geometry", enc, geo.XY)}, nil)
	record := array.NewRecord(schema, []arrow.Array{arr}, int64(len(geometries)))
	defer record.Release()

	output := &bytes.Buffer{}
	writer, err := pqarrow.NewFileWriter(schema, output, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	s.Require().NoError(err)
	s.Require().NoError(writer.Write(record))
	if metadata != "" {
		s.Require().NoError(writer.AppendKeyValueMetadata("geo", metadata))
	}
	s.Require().NoError(writer.Close())
	return output.Bytes()
}

func (s *Suite) geometries(values ...string) []geom.T {
	geometries := make([]geom.T, len(values))
	for i, value := range values {
		g, err := wkt.Unmarshal(value)
		s.Require().NoError(err)
		geometries[i] = g
	}
	return geometries
}

func (s *Suite) validate(data []byte, metadataOnly bool) *validator.Report {
	v := validator.New(metadataOnly)
	report, err := v.Validate(context.Background(), bytes.NewReader(data), "test.parquet")
	s.Require().NoError(err)
	return report
}

func (s *Suite) check(report *validator.Report, title string) *validator.Check {
	for _, check := range report.Checks {
		if strings.HasPrefix(check.Title, title) {
			return check
		}
	}
	s.FailNow("missing check", title)
	return nil
}

func (s *Suite) assertAllPassed(report *validator.Report) {
	for _, check := range report.Checks {
		s.True(check.Run, check.Title)
		s.True(check.Passed, "%s: %s", check.Title, check.Message)
	}
	s.True(report.Passed())
}

func (s *Suite) TestValidCases() {
	cases := []struct {
		name    string
		options *geojson.ConvertOptions
	}{
		{name: "wkb"},
		{name: "native", options: &geojson.ConvertOptions{Encoding: "native"}},
		{name: "covering", options: &geojson.ConvertOptions{Covering: true}},
		{name: "native covering", options: &geojson.ConvertOptions{Encoding: "native", Covering: true}},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			report := s.validate(s.fromGeoJSON(c.options), false)
			s.False(report.MetadataOnly)
			s.Len(report.Checks, len(validator.MetadataOnlyRules())+len(validator.DataScanningRules()))
			s.assertAllPassed(report)
		})
	}
}

func (s *Suite) TestMetadataOnly() {
	report := s.validate(test.GeoParquetFromJSON(s.T(), collection), true)
	s.True(report.MetadataOnly)
	s.Len(report.Checks, len(validator.MetadataOnlyRules()))
	s.assertAllPassed(report)
	s.Equal(validator.Summary{Passed: len(validator.MetadataOnlyRules())}, report.Summary())
}

func (s *Suite) TestMissingGeoKey() {
	data := test.ParquetFromJSON(s.T(), `[{"name": "one"}]`, nil)
	report := s.validate(data, false)

	first := report.Checks[0]
	s.True(first.Run)
	s.False(first.Passed)
	s.Equal(`missing "geo" metadata key`, first.Message)

	for _, check := range report.Checks[2:] {
		s.False(check.Run, check.Title)
	}
	s.False(report.Passed())

	summary := report.Summary()
	s.GreaterOrEqual(summary.Failed, 1)
	s.Equal(len(report.Checks), summary.Passed+summary.Failed+summary.NotRun)
}

func (s *Suite) TestUnsupportedEncoding() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKT", "geometry_types": []}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, `column metadata must include a valid "encoding"`)
	s.True(check.Run)
	s.False(check.Passed)
	s.Equal(`unsupported encoding "WKT" for column "geometry"`, check.Message)

	s.False(s.check(report, "metadata must match the schema").Run)
}

func (s *Suite) TestPrimaryColumnMissing() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geom",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": []}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, `column metadata must include the "primary_column" name`)
	s.False(check.Passed)
	s.Contains(check.Message, `"geom"`)
}

func (s *Suite) TestGeometryTypesMismatch() {
	data := s.withMetadata(s.geometries("POINT (1 2)", "POINT (3 4)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": ["Polygon"]}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "all geometry types must be included")
	s.True(check.Run)
	s.False(check.Passed)
	s.Equal(`unexpected geometry type "Point" for column "geometry"`, check.Message)

	s.True(s.check(report, "all geometries must fall within").Passed)
}

func (s *Suite) TestGeometryBounds() {
	data := s.withMetadata(s.geometries("POINT (0.5 0.5)", "POINT (2 0.5)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": ["Point"], "bbox": [0, 0, 1, 1]}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "all geometries must fall within")
	s.True(check.Run)
	s.False(check.Passed)
	s.Equal(`geometry in column "geometry" extends to 2.000000, east of the bbox`, check.Message)
}

func (s *Suite) TestGeometryBoundsAntimeridian() {
	data := s.withMetadata(s.geometries("POINT (175 0)", "POINT (-175 0)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": ["Point"], "bbox": [170, -1, -170, 1]}}
	}`)
	report := s.validate(data, false)
	s.assertAllPassed(report)
}

func (s *Suite) TestGeometryOrientation() {
	data := s.withMetadata(s.geometries("POLYGON ((0 0, 0 1, 1 1, 1 0, 0 0))"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": ["Polygon"], "orientation": "counterclockwise"}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "all polygon geometries must follow")
	s.True(check.Run)
	s.False(check.Passed)
	s.Equal(`invalid orientation for exterior ring in column "geometry"`, check.Message)
}

func (s *Suite) TestInvalidWKB() {
	arr := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer arr.Release()
	arr.Append([]byte{1, 2, 3})
	values := arr.NewArray()
	defer values.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true}}, nil)
	record := array.NewRecord(schema, []arrow.Array{values}, 1)
	defer record.Release()

	output := &bytes.Buffer{}
	writer, err := pqarrow.NewFileWriter(schema, output, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	s.Require().NoError(err)
	s.Require().NoError(writer.Write(record))
	s.Require().NoError(writer.AppendKeyValueMetadata("geo", `{
		"version": "1.0.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": []}}
	}`))
	s.Require().NoError(writer.Close())

	report := s.validate(output.Bytes(), false)

	check := s.check(report, `all geometry values match the "encoding"`)
	s.True(check.Run)
	s.False(check.Passed)
	s.Contains(check.Message, `invalid geometry in column "geometry"`)

	s.False(s.check(report, "all geometry types must be included").Run)
}

func (s *Suite) TestNativeEncodingVersion() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingPoint, `{
		"version": "1.0.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "point", "geometry_types": ["Point"]}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "native geometry encodings require")
	s.True(check.Run)
	s.False(check.Passed)
	s.Contains(check.Message, `"point" encoding`)

	s.True(s.check(report, "geometry columns must be stored as").Passed)
	s.True(s.check(report, "all geometry types must be included").Passed)
}

func (s *Suite) TestNativeLayoutMismatch() {
	data := s.withMetadata(s.geometries("LINESTRING (0 0, 1 1)"), geoarrow.EncodingLineString, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "polygon", "geometry_types": []}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "geometry columns must be stored as")
	s.True(check.Run)
	s.False(check.Passed)
	s.Contains(check.Message, `unexpected layout for "polygon" column "geometry"`)
}

func (s *Suite) TestMissingCoveringColumn() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {
			"encoding": "WKB",
			"geometry_types": ["Point"],
			"covering": {"bbox": {
				"xmin": ["bbox", "xmin"],
				"ymin": ["bbox", "ymin"],
				"xmax": ["bbox", "xmax"],
				"ymax": ["bbox", "ymax"]
			}}
		}}
	}`)
	report := s.validate(data, true)

	check := s.check(report, "covering columns must be structs")
	s.True(check.Run)
	s.False(check.Passed)
	s.Equal(`missing covering column "bbox" for column "geometry"`, check.Message)
}

func (s *Suite) TestCRS() {
	cases := []struct {
		name    string
		crs     string
		message string
	}{
		{name: "projjson", crs: `{"type": "GeographicCRS", "name": "WGS 84"}`},
		{name: "null", crs: `null`},
		{name: "invalid", crs: `{"name": "WGS 84"}`, message: "validation failed against https://proj.org/schemas/v0.6/projjson.schema.json"},
	}

	for _, c := range cases {
		s.Run(c.name, func() {
			data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
				"version": "1.1.0",
				"primary_column": "geometry",
				"columns": {"geometry": {"encoding": "WKB", "geometry_types": ["Point"], "crs": `+c.crs+`}}
			}`)
			report := s.validate(data, true)
			check := s.check(report, `optional "crs"`)
			s.True(check.Run)
			if c.message == "" {
				s.True(check.Passed, check.Message)
				return
			}
			s.False(check.Passed)
			s.Contains(check.Message, c.message)
		})
	}
}

func (s *Suite) TestLegacyVersion() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
		"version": "0.4.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_type": "Point"}}
	}`)
	report := s.validate(data, false)
	s.assertAllPassed(report)
}

func (s *Suite) TestUnsupportedVersion() {
	data := s.withMetadata(s.geometries("POINT (1 2)"), geoarrow.EncodingWKB, `{
		"version": "2.0.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": []}}
	}`)
	report := s.validate(data, false)

	check := s.check(report, "metadata must match the schema")
	s.True(check.Run)
	s.False(check.Passed)
	s.Contains(check.Message, "2.0.0")
	s.False(s.check(report, "geometry columns must be required or optional").Run)
}

func TestSuite(t *testing.T) {
	suite.Run(t, &Suite{})
}
