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

package command_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/planetlabs/geocol/cmd/geocol/command"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/test"
)

const nullIsland = `{
	"type": "FeatureCollection",
	"features": [
		{
			"type": "Feature",
			"properties": {
				"name": "Null Island"
			},
			"geometry": {
				"type": "Point",
				"coordinates": [0, 0]
			}
		}
	]
}`

func (s *Suite) TestConvertGeoJSONToGeoParquetFile() {
	output := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	data, err := os.ReadFile(output)
	s.Require().NoError(err)

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()
	s.Equal(int64(4), fileReader.NumRows())

	metadata := s.readMetadata(data)
	s.Equal("geometry", metadata.PrimaryColumn)
	geometry := metadata.Columns["geometry"]
	s.Require().NotNil(geometry)
	s.Equal("WKB", geometry.Encoding)
	s.Equal([]string{"Polygon"}, geometry.GeometryTypes)
	s.Equal([]float64{-118, -11, 42, 33}, geometry.Bounds)
	s.Nil(geometry.Covering)
}

func (s *Suite) TestConvertFailureLeavesNoOutput() {
	input := s.writeFile("mixed.geojson", []byte(`{
		"type": "FeatureCollection",
		"features": [
			{"type": "Feature", "properties": {"name": "one"}, "geometry": {"type": "Point", "coordinates": [1, 2]}},
			{"type": "Feature", "properties": {"name": 2}, "geometry": {"type": "Point", "coordinates": [3, 4]}}
		]
	}`))
	output := filepath.Join(s.dir, "mixed.parquet")

	cmd := &command.ConvertCmd{From: "auto", To: "auto", Min: 1, Input: input, Output: output}
	s.ErrorContains(cmd.Run(s.env), `expected "name" to be a string`)

	_, err := os.Stat(output)
	s.ErrorIs(err, os.ErrNotExist)
}

func (s *Suite) TestConvertNativeWithCovering() {
	output := s.countriesParquet("countries.parquet", &command.ConvertCmd{
		From:     "auto",
		To:       "auto",
		Encoding: "native",
		Covering: true,
	})

	data, err := os.ReadFile(output)
	s.Require().NoError(err)

	metadata := s.readMetadata(data)
	geometry := metadata.Columns["geometry"]
	s.Require().NotNil(geometry)
	s.Equal("polygon", geometry.Encoding)
	s.Require().NotNil(geometry.Covering)
	s.Equal("bbox", geometry.Covering.Column())
}

func (s *Suite) TestConvertEncodingFromConfig() {
	s.env.Config.Encoding = "multipolygon"
	output := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	data, err := os.ReadFile(output)
	s.Require().NoError(err)
	s.Equal("multipolygon", s.readMetadata(data).Columns["geometry"].Encoding)
}

func (s *Suite) TestConvertFlagsOverrideConfig() {
	s.env.Config.Encoding = "native"
	output := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto", Encoding: "wkb"})

	data, err := os.ReadFile(output)
	s.Require().NoError(err)
	s.Equal("WKB", s.readMetadata(data).Columns["geometry"].Encoding)
}

func (s *Suite) TestConvertInvalidCompression() {
	cmd := &command.ConvertCmd{
		From:        "geojson",
		To:          "geoparquet",
		Compression: "zip",
	}
	s.writeStdin([]byte(nullIsland))

	s.ErrorContains(cmd.Run(s.env), `unsupported compression "zip"`)
}

func (s *Suite) TestConvertInvalidEncoding() {
	cmd := &command.ConvertCmd{
		From:     "geojson",
		To:       "geoparquet",
		Encoding: "wkt",
	}
	s.writeStdin([]byte(nullIsland))

	s.ErrorContains(cmd.Run(s.env), `unsupported geometry encoding "wkt"`)
}

func (s *Suite) TestConvertGeoParquetToGeoJSONStdout() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	cmd := &command.ConvertCmd{
		From:  "auto",
		Input: input,
		To:    "geojson",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	collection := &geo.FeatureCollection{}
	s.Require().NoError(json.Unmarshal(data, collection))
	s.Len(collection.Features, 4)
}

func (s *Suite) TestConvertGeoParquetToGeoJSONBbox() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	cmd := &command.ConvertCmd{
		Input: input,
		To:    "geojson",
		Bbox:  "-100,20,-90,25",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	collection := &geo.FeatureCollection{}
	s.Require().NoError(json.Unmarshal(data, collection))
	s.Require().Len(collection.Features, 1)
	s.Equal("Mexico", collection.Features[0].Properties["name"])
}

func (s *Suite) TestConvertBboxRequiresGeoJSONOutput() {
	cmd := &command.ConvertCmd{
		Input: s.writeFile("countries.geojson", []byte(countries)),
		To:    "geoparquet",
		Bbox:  "-100,20,-90,25",
	}

	s.ErrorContains(cmd.Run(s.env), "the --bbox option is only supported when writing GeoJSON")
}

func (s *Suite) TestConvertGeoJSONToGeoParquetStdout() {
	cmd := &command.ConvertCmd{
		From:  "auto",
		Input: s.writeFile("countries.geojson", []byte(countries)),
		To:    "parquet",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()

	s.Equal(int64(4), fileReader.NumRows())
}

func (s *Suite) TestConvertGeoParquetToUnknownStdout() {
	cmd := &command.ConvertCmd{
		From:  "auto",
		Input: s.writeFile("countries.geojson", []byte(countries)),
	}

	s.ErrorContains(cmd.Run(s.env), "when writing to stdout, the --to option must be provided")
}

func (s *Suite) TestConvertUnknownOutputExtension() {
	cmd := &command.ConvertCmd{
		Input:  s.writeFile("countries.geojson", []byte(countries)),
		Output: "countries.csv",
	}

	s.ErrorContains(cmd.Run(s.env), "could not determine output format for countries.csv")
}

func (s *Suite) TestConvertGeoJSONToGeoJSON() {
	cmd := &command.ConvertCmd{
		Input: s.writeFile("countries.geojson", []byte(countries)),
		To:    "geojson",
	}

	s.ErrorContains(cmd.Run(s.env), "GeoJSON input can only be converted to GeoParquet")
}

func (s *Suite) TestConvertGeoJSONStdinToGeoParquetStdout() {
	s.writeStdin([]byte(nullIsland))

	cmd := &command.ConvertCmd{
		From: "geojson",
		To:   "geoparquet",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()

	s.Equal(int64(1), fileReader.NumRows())
}

func (s *Suite) TestConvertGeoParquetStdinToGeoJSONStdout() {
	s.writeStdin(test.GeoParquetFromJSON(s.T(), nullIsland))

	cmd := &command.ConvertCmd{
		From: "geoparquet",
		To:   "geojson",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	collection := &geo.FeatureCollection{}
	s.Require().NoError(json.Unmarshal(data, collection))
	s.Len(collection.Features, 1)
}

func (s *Suite) TestConvertUnknownStdinToGeoParquetStdout() {
	cmd := &command.ConvertCmd{
		To: "geoparquet",
	}

	s.ErrorContains(cmd.Run(s.env), "when reading from stdin, the --from option must be provided")
}

func (s *Suite) TestConvertParquetWithWKT() {
	s.writeStdin(test.ParquetFromJSON(s.T(), `[
		{"name": "one", "geometry": "POINT (1 2)"},
		{"name": "two", "geometry": "POINT (3 4)"}
	]`, nil))

	cmd := &command.ConvertCmd{
		From:               "parquet",
		To:                 "geoparquet",
		InputPrimaryColumn: "geometry",
	}

	s.Require().NoError(cmd.Run(s.env))
	metadata := s.readMetadata(s.readStdout())
	geometry := metadata.Columns["geometry"]
	s.Require().NotNil(geometry)
	s.Equal("WKB", geometry.Encoding)
	s.Equal([]string{"Point"}, geometry.GeometryTypes)
	s.Equal([]float64{1, 2, 3, 4}, geometry.Bounds)
}

func (s *Suite) TestConvertGeoParquetUrlToGeoJSONStdout() {
	s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	cmd := &command.ConvertCmd{
		Input: s.server.URL + "/countries.parquet",
		To:    "geojson",
	}

	s.Require().NoError(cmd.Run(s.env))
	data := s.readStdout()

	collection := &geo.FeatureCollection{}
	s.Require().NoError(json.Unmarshal(data, collection))
	s.Len(collection.Features, 4)
}
