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
	"errors"
	"io"
	"os"
	"path/filepath"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/cmd/geocol/command"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/twpayne/go-geom"
)

// names reads the name column of a GeoParquet file.
func (s *Suite) names(data []byte) []string {
	recordReader, err := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{
		Reader: bytes.NewReader(data),
	})
	s.Require().NoError(err)
	defer func() { _ = recordReader.Close() }()

	indices := recordReader.ArrowSchema().FieldIndices("name")
	s.Require().Len(indices, 1)

	names := []string{}
	for {
		record, err := recordReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		s.Require().NoError(err)
		values := record.Column(indices[0]).(*array.String)
		for i := 0; i < values.Len(); i += 1 {
			names = append(names, values.Value(i))
		}
	}
	return names
}

func (s *Suite) partitionedCountries() string {
	return s.countriesParquet("partitioned.parquet", &command.ConvertCmd{
		From:           "auto",
		To:             "auto",
		Covering:       true,
		RowGroupLength: 2,
	})
}

func (s *Suite) TestExtractDropCols() {
	cmd := &command.ExtractCmd{
		Input:    s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		DropCols: "continent,pop_est",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()

	s.Equal(int64(4), fileReader.NumRows())
	s.Equal(2, fileReader.MetaData().Schema.NumColumns())
	s.Equal([]string{"Tanzania", "Kenya", "Mexico", "Cuba"}, s.names(data))
}

func (s *Suite) TestExtractKeepOnlyCols() {
	cmd := &command.ExtractCmd{
		Input:        s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		KeepOnlyCols: "geometry, name",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()

	s.Equal(int64(4), fileReader.NumRows())
	s.Equal(2, fileReader.MetaData().Schema.NumColumns())

	metadata := s.readMetadata(data)
	s.Equal([]string{"Polygon"}, metadata.Columns["geometry"].GeometryTypes)
}

func (s *Suite) TestExtractKeepOnlyColsWithoutGeometry() {
	cmd := &command.ExtractCmd{
		Input:        s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		KeepOnlyCols: "name",
	}
	s.ErrorContains(cmd.Run(s.env), "columns must include primary geometry column")
}

func (s *Suite) TestExtractConflictingColumnOptions() {
	cmd := &command.ExtractCmd{
		Input:        s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		KeepOnlyCols: "geometry",
		DropCols:     "name",
	}
	s.ErrorContains(cmd.Run(s.env), "cannot be used together")
}

func (s *Suite) TestExtractInvalidBbox() {
	cmd := &command.ExtractCmd{
		Input: s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		Bbox:  "1,2,3",
	}
	s.ErrorContains(cmd.Run(s.env), "please provide 4 comma-separated values")
}

func (s *Suite) TestExtractBbox() {
	cmd := &command.ExtractCmd{
		Input: s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		Bbox:  "-100,20,-90,25",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()
	s.Equal([]string{"Mexico"}, s.names(data))

	metadata := s.readMetadata(data)
	s.Equal([]float64{-118, 14, -86, 33}, metadata.Columns["geometry"].Bounds)
}

func (s *Suite) TestExtractBboxPartitioned() {
	input := s.partitionedCountries()

	inputData, err := os.ReadFile(input)
	s.Require().NoError(err)
	fileReader, err := file.NewParquetReader(bytes.NewReader(inputData))
	s.Require().NoError(err)
	s.Equal(2, fileReader.NumRowGroups())
	s.Require().NoError(fileReader.Close())

	cmd := &command.ExtractCmd{
		Input: input,
		Bbox:  "30,-5,36,-3",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()
	s.Equal([]string{"Tanzania", "Kenya"}, s.names(data))

	metadata := s.readMetadata(data)
	s.Require().NotNil(metadata.Columns["geometry"].Covering)
	s.Equal("bbox", metadata.Columns["geometry"].Covering.Column())
}

func (s *Suite) TestExtractBboxNoIntersectingRowGroups() {
	cmd := &command.ExtractCmd{
		Input: s.partitionedCountries(),
		Bbox:  "0,60,10,70",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	s.Require().NoError(err)
	defer func() { _ = fileReader.Close() }()
	s.Equal(int64(0), fileReader.NumRows())

	metadata := s.readMetadata(data)
	s.Equal("geometry", metadata.PrimaryColumn)
}

func (s *Suite) TestExtractDropCoveringColumn() {
	cmd := &command.ExtractCmd{
		Input:    s.partitionedCountries(),
		Bbox:     "-100,20,-90,25",
		DropCols: "bbox",
	}
	s.Require().NoError(cmd.Run(s.env))

	data := s.readStdout()
	s.Equal([]string{"Mexico"}, s.names(data))

	metadata := s.readMetadata(data)
	s.Nil(metadata.Columns["geometry"].Covering)
}

func (s *Suite) TestExtractToFile() {
	output := filepath.Join(s.dir, "extracted.parquet")
	cmd := &command.ExtractCmd{
		Input:  s.countriesParquet("countries.parquet", &command.ConvertCmd{From: "auto", To: "auto"}),
		Output: output,
		Bbox:   "-100,20,-90,25",
	}
	s.Require().NoError(cmd.Run(s.env))

	data, err := os.ReadFile(output)
	s.Require().NoError(err)
	s.Equal([]string{"Mexico"}, s.names(data))
	s.Empty(s.readStdout())
}

// invalidGeometryParquet has geo metadata and a geometry column whose second
// value is not WKB.
func (s *Suite) invalidGeometryParquet() []byte {
	valid, err := geoarrow.MarshalWKB(geom.NewPointFlat(geom.XY, []float64{1, 2}))
	s.Require().NoError(err)

	builder := array.NewBinaryBuilder(memory.DefaultAllocator, arrow.BinaryTypes.Binary)
	defer builder.Release()
	builder.Append(valid)
	builder.Append([]byte{1, 2, 3})
	values := builder.NewArray()
	defer values.Release()

	schema := arrow.NewSchema([]arrow.Field{{Name: "geometry", Type: arrow.BinaryTypes.Binary, Nullable: true}}, nil)
	record := array.NewRecord(schema, []arrow.Array{values}, 2)
	defer record.Release()

	output := &bytes.Buffer{}
	writer, err := pqarrow.NewFileWriter(schema, output, parquet.NewWriterProperties(), pqarrow.DefaultWriterProps())
	s.Require().NoError(err)
	s.Require().NoError(writer.Write(record))
	s.Require().NoError(writer.AppendKeyValueMetadata(geoparquet.MetadataKey, `{
		"version": "1.1.0",
		"primary_column": "geometry",
		"columns": {"geometry": {"encoding": "WKB", "geometry_types": []}}
	}`))
	s.Require().NoError(writer.Close())
	return output.Bytes()
}

func (s *Suite) TestExtractFailureLeavesNoOutput() {
	input := s.writeFile("invalid.parquet", s.invalidGeometryParquet())

	outputs := map[string]string{
		"local path": filepath.Join(s.dir, "failed-local.parquet"),
		"blob":       "file://" + filepath.ToSlash(s.dir) + "/failed-blob.parquet",
	}
	for label, output := range outputs {
		s.Run(label, func() {
			cmd := &command.ExtractCmd{Input: input, Output: output}
			s.Require().Error(cmd.Run(s.env))
		})
	}

	for _, name := range []string{"failed-local.parquet", "failed-blob.parquet"} {
		_, err := os.Stat(filepath.Join(s.dir, name))
		s.ErrorIs(err, os.ErrNotExist, name)
	}
}
