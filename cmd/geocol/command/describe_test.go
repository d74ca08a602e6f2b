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
	"encoding/json"
	"os"

	"github.com/apache/arrow-go/v18/parquet"
	"github.com/planetlabs/geocol/cmd/geocol/command"
	"github.com/planetlabs/geocol/internal/test"
)

func (s *Suite) TestDescribe() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{
		From:        "auto",
		To:          "auto",
		Compression: "gzip",
	})

	cmd := &command.DescribeCmd{
		Input:  input,
		Format: "json",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := s.readStdout()
	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(output, info))

	s.Equal(int64(4), info.NumRows)
	s.Equal(int64(1), info.NumRowGroups)
	s.Require().Len(info.Schema.Fields, 4)

	fields := map[string]*command.DescribeSchema{}
	for _, field := range info.Schema.Fields {
		fields[field.Name] = field
		s.Equal("gzip", field.Compression)
		s.True(field.Optional)
	}

	s.Require().Contains(fields, "geometry")
	s.Equal("binary", fields["geometry"].Type)

	s.Require().Contains(fields, "name")
	s.Equal("binary", fields["name"].Type)
	s.Equal("string", fields["name"].Annotation)

	s.Require().Contains(fields, "pop_est")
	s.Equal("double", fields["pop_est"].Type)

	s.Require().NotNil(info.Metadata)
	s.Equal("geometry", info.Metadata.PrimaryColumn)
	s.Len(info.Issues, 0)
}

func (s *Suite) TestDescribeNumRowGroups() {
	s.writeStdin(test.ParquetFromJSON(s.T(), `[
		{"num": 0},
		{"num": 1},
		{"num": 2},
		{"num": 3},
		{"num": 4},
		{"num": 5},
		{"num": 6},
		{"num": 7}
	]`, parquet.NewWriterProperties(parquet.WithMaxRowGroupLength(2))))

	cmd := &command.DescribeCmd{
		Format: "json",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := s.readStdout()
	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(output, info))

	s.Equal(int64(8), info.NumRows)
	s.Equal(int64(4), info.NumRowGroups)
}

func (s *Suite) TestDescribeFromStdin() {
	s.writeStdin(test.GeoParquetFromJSON(s.T(), nullIsland))

	cmd := &command.DescribeCmd{
		Format: "json",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := s.readStdout()
	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(output, info))

	s.Equal(int64(1), info.NumRows)
	s.Equal(int64(1), info.NumRowGroups)
	s.Require().Len(info.Schema.Fields, 2)

	s.Equal("geometry", info.Schema.Fields[0].Name)
	s.Equal("binary", info.Schema.Fields[0].Type)
	s.Equal("zstd", info.Schema.Fields[0].Compression)
	s.True(info.Schema.Fields[0].Optional)

	s.Equal("name", info.Schema.Fields[1].Name)
	s.Equal("binary", info.Schema.Fields[1].Type)
	s.Equal("string", info.Schema.Fields[1].Annotation)
	s.Equal("zstd", info.Schema.Fields[1].Compression)
	s.True(info.Schema.Fields[1].Optional)

	s.Len(info.Issues, 0)
}

func (s *Suite) TestDescribeMissingMetadata() {
	s.writeStdin(test.ParquetFromJSON(s.T(), `[
		{
			"food": "burrito",
			"good": true
		},
		{
			"food": "onion",
			"good": false
		}
	]`, nil))

	cmd := &command.DescribeCmd{
		Format: "json",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := s.readStdout()
	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(output, info))

	s.Equal(int64(2), info.NumRows)
	s.Require().Len(info.Schema.Fields, 2)

	s.Equal("food", info.Schema.Fields[0].Name)
	s.Equal("binary", info.Schema.Fields[0].Type)
	s.Equal("string", info.Schema.Fields[0].Annotation)
	s.True(info.Schema.Fields[0].Optional)

	s.Equal("good", info.Schema.Fields[1].Name)
	s.Equal("boolean", info.Schema.Fields[1].Type)
	s.True(info.Schema.Fields[1].Optional)

	s.Nil(info.Metadata)
	s.Require().Len(info.Issues, 1)
	s.Contains(info.Issues[0], "Not a valid GeoParquet file (missing the \"geo\" metadata key).")
}

func (s *Suite) TestDescribeText() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto", Covering: true})

	cmd := &command.DescribeCmd{
		Input:  input,
		Format: "text",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := string(s.readStdout())
	s.Contains(output, "Geometry Types")
	s.Contains(output, "Polygon")
	s.Contains(output, "[-118, -11, 42, 33]")
	s.Contains(output, "covering")
	s.Contains(output, "1.1.0")
}

func (s *Suite) TestDescribeSchema() {
	input := s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	cmd := &command.DescribeCmd{
		Input:  input,
		Format: "schema",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := string(s.readStdout())
	s.Contains(output, "message")
	s.Contains(output, "optional binary geometry;")
	s.Contains(output, "optional binary name (STRING);")
}

func (s *Suite) TestDescribeFromUrl() {
	s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"})

	cmd := &command.DescribeCmd{
		Format: "json",
		Input:  s.server.URL + "/countries.parquet",
	}

	s.Require().NoError(cmd.Run(s.env))

	output := s.readStdout()
	info := &command.DescribeInfo{}
	s.Require().NoError(json.Unmarshal(output, info))

	s.Equal(int64(4), info.NumRows)
	s.Equal(int64(1), info.NumRowGroups)
	s.Len(info.Issues, 0)
}

func (s *Suite) TestDescribeMissingFile() {
	cmd := &command.DescribeCmd{
		Format: "json",
		Input:  "does-not-exist.parquet",
	}

	err := cmd.Run(s.env)
	s.ErrorContains(err, `trouble getting a reader from "does-not-exist.parquet"`)
	s.ErrorIs(err, os.ErrNotExist)
}
