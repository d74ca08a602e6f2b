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

package geoparquet_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/geoparquet"
	"github.com/planetlabs/geocol/internal/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
)

func point(coord ...float64) *geom.Point {
	layout := geom.XY
	if len(coord) == 3 {
		layout = geom.XYZ
	}
	return geom.NewPoint(layout).MustSetCoords(coord)
}

func mustWKT(t *testing.T, value string) geom.T {
	g, err := wkt.Unmarshal(value)
	require.NoError(t, err)
	return g
}

func toWKT(t *testing.T, geometries []geom.T) []string {
	values := make([]string, len(geometries))
	for i, g := range geometries {
		if g == nil {
			values[i] = ""
			continue
		}
		value, err := wkt.Marshal(g)
		require.NoError(t, err)
		values[i] = value
	}
	return values
}

// newRecord builds a record with a "name" column and a WKB "geometry" column.
func newRecord(t *testing.T, geometries []geom.T) arrow.Record {
	geometry, err := geoarrow.Encode(memory.DefaultAllocator, geometries, geoarrow.EncodingWKB)
	require.NoError(t, err)
	defer geometry.Release()

	names := array.NewStringBuilder(memory.DefaultAllocator)
	defer names.Release()
	for i := range geometries {
		names.Append(fmt.Sprintf("feature-%d", i))
	}
	nameArray := names.NewArray()
	defer nameArray.Release()

	schema := arrow.NewSchema([]arrow.Field{
		{Name: "name", Type: arrow.BinaryTypes.String, Nullable: true},
		geoarrow.Field("geometry", geoarrow.EncodingWKB, geo.XY),
	}, nil)
	return array.NewRecord(schema, []arrow.Array{nameArray, geometry}, int64(len(geometries)))
}

func writeRecords(t *testing.T, config *geoparquet.WriterConfig, records ...arrow.Record) []byte {
	output := &bytes.Buffer{}
	config.Writer = output
	if config.ArrowSchema == nil {
		config.ArrowSchema = records[0].Schema()
	}

	writer, err := geoparquet.NewWriter(config)
	require.NoError(t, err)
	for _, record := range records {
		require.NoError(t, writer.Write(record))
		record.Release()
	}
	require.NoError(t, writer.Close())
	return output.Bytes()
}

func newReader(t *testing.T, data []byte, representation geoparquet.Representation) *geoparquet.RecordReader {
	reader, err := geoparquet.NewRecordReaderFromConfig(&geoparquet.ReaderConfig{
		Reader:         bytes.NewReader(data),
		Representation: representation,
	})
	require.NoError(t, err)
	return reader
}

func readGeometries(t *testing.T, reader *geoparquet.RecordReader, column string) []geom.T {
	enc, ok := reader.Encoding(column)
	require.True(t, ok)

	geometries := []geom.T{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)

		indices := record.Schema().FieldIndices(column)
		require.Len(t, indices, 1)
		decoded, err := geoarrow.Decode(record.Column(indices[0]), enc)
		require.NoError(t, err)
		geometries = append(geometries, decoded...)
	}
	return geometries
}

func rawMetadata(t *testing.T, data []byte) string {
	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer fileReader.Close()

	value, err := geoparquet.GetMetadataValue(fileReader.MetaData().KeyValueMetadata())
	require.NoError(t, err)
	return value
}

func TestFromParquetWKT(t *testing.T) {
	data := test.ParquetFromJSON(t, `[
		{"name": "one", "geometry": "POINT (1 2)"},
		{"name": "two", "geometry": "POINT (3 4)"},
		{"name": "three", "geometry": null}
	]`, nil)

	output := &bytes.Buffer{}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(data), output, nil))

	reader := newReader(t, output.Bytes(), geoparquet.AsStored)
	defer reader.Close()

	metadata := reader.Metadata()
	assert.Equal(t, geoparquet.Version, metadata.Version)
	assert.Equal(t, "geometry", metadata.PrimaryColumn)
	col := metadata.Columns["geometry"]
	require.NotNil(t, col)
	assert.Equal(t, "WKB", col.Encoding)
	assert.Equal(t, []string{"Point"}, col.GeometryTypes)
	assert.Equal(t, []float64{1, 2, 3, 4}, col.Bounds)

	geometries := readGeometries(t, reader, "geometry")
	assert.Equal(t, []string{"POINT (1 2)", "POINT (3 4)", ""}, toWKT(t, geometries))
}

func TestFromParquetKeepsProperties(t *testing.T) {
	data := test.ParquetFromJSON(t, `[
		{"name": "one", "count": 1, "geometry": "POINT (1 2)"},
		{"name": "two", "count": 2, "geometry": null}
	]`, nil)

	output := &bytes.Buffer{}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(data), output, nil))

	rows := []map[string]any{}
	require.NoError(t, json.Unmarshal([]byte(test.ParquetToJSON(t, bytes.NewReader(output.Bytes()))), &rows))
	require.Len(t, rows, 2)
	assert.Equal(t, "one", rows[0]["name"])
	assert.Equal(t, 1.0, rows[0]["count"])
	assert.NotNil(t, rows[0]["geometry"])
	assert.Equal(t, "two", rows[1]["name"])
	assert.Nil(t, rows[1]["geometry"])
}

func TestFromParquetMissingColumn(t *testing.T) {
	data := test.ParquetFromJSON(t, `[{"name": "one", "geom": "POINT (1 2)"}]`, nil)

	err := geoparquet.FromParquet(bytes.NewReader(data), &bytes.Buffer{}, nil)
	require.ErrorContains(t, err, "--input-primary-column")
}

func TestFromParquetInputPrimaryColumn(t *testing.T) {
	data := test.ParquetFromJSON(t, `[
		{"name": "one", "geom": "LINESTRING (0 0, 10 10)"},
		{"name": "two", "geom": "LINESTRING (5 5, 20 -5)"}
	]`, nil)

	output := &bytes.Buffer{}
	options := &geoparquet.ConvertOptions{InputPrimaryColumn: "geom", Covering: true}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(data), output, options))

	reader := newReader(t, output.Bytes(), geoparquet.AsStored)
	defer reader.Close()

	metadata := reader.Metadata()
	assert.Equal(t, "geom", metadata.PrimaryColumn)
	col := metadata.Columns["geom"]
	require.NotNil(t, col)
	assert.Equal(t, []float64{0, -5, 20, 10}, col.Bounds)
	assert.Equal(t, geoparquet.NewCovering("bbox"), col.Covering)
	assert.True(t, reader.ArrowSchema().HasField("bbox"))
}

func TestFromParquetNative(t *testing.T) {
	data := test.ParquetFromJSON(t, `[
		{"name": "one", "geometry": "POLYGON ((0 0, 1 0, 1 1, 0 0))"},
		{"name": "two", "geometry": "MULTIPOLYGON (((2 2, 3 2, 3 3, 2 2)))"}
	]`, nil)

	output := &bytes.Buffer{}
	options := &geoparquet.ConvertOptions{Encoding: geoparquet.EncodingNative}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(data), output, options))

	reader := newReader(t, output.Bytes(), geoparquet.AsStored)
	defer reader.Close()

	col := reader.Metadata().Columns["geometry"]
	require.NotNil(t, col)
	assert.Equal(t, "multipolygon", col.Encoding)
	assert.Equal(t, []string{"MultiPolygon"}, col.GeometryTypes)

	geometries := readGeometries(t, reader, "geometry")
	assert.Equal(t, []string{
		"MULTIPOLYGON (((0 0, 1 0, 1 1, 0 0)))",
		"MULTIPOLYGON (((2 2, 3 2, 3 3, 2 2)))",
	}, toWKT(t, geometries))
}

func TestFromParquetNativeMixed(t *testing.T) {
	data := test.ParquetFromJSON(t, `[
		{"name": "one", "geometry": "POINT (0 0)"},
		{"name": "two", "geometry": "LINESTRING (0 0, 1 1)"}
	]`, nil)

	options := &geoparquet.ConvertOptions{Encoding: geoparquet.EncodingNative}
	err := geoparquet.FromParquet(bytes.NewReader(data), &bytes.Buffer{}, options)
	require.Error(t, err)
	unsupported := &geoarrow.UnsupportedEncodingError{}
	assert.ErrorAs(t, err, &unsupported)
}

func TestFromParquetKeepsMetadata(t *testing.T) {
	input := writeRecords(t, &geoparquet.WriterConfig{
		Columns: map[string]*geoparquet.ColumnConfig{
			"geometry": {CRS: []byte(`{"id":{"authority":"OGC","code":"CRS84"}}`), Edges: geoparquet.EdgesSpherical},
		},
	}, newRecord(t, []geom.T{point(1, 2), point(3, 4)}))

	output := &bytes.Buffer{}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(input), output, &geoparquet.ConvertOptions{Compression: "snappy"}))

	reader := newReader(t, output.Bytes(), geoparquet.AsStored)
	defer reader.Close()

	col := reader.Metadata().Columns["geometry"]
	require.NotNil(t, col)
	assert.Equal(t, geoparquet.EdgesSpherical, col.Edges)
	assert.Equal(t, "OGC:CRS84", col.CRSName())
	assert.Equal(t, []float64{1, 2, 3, 4}, col.Bounds)
}

func TestFromParquetRowGroupLength(t *testing.T) {
	input := writeRecords(t, &geoparquet.WriterConfig{},
		newRecord(t, []geom.T{point(1, 2), point(3, 4), point(5, 6), point(7, 8), point(9, 10)}))

	output := &bytes.Buffer{}
	require.NoError(t, geoparquet.FromParquet(bytes.NewReader(input), output, &geoparquet.ConvertOptions{RowGroupLength: 2}))

	fileReader, err := file.NewParquetReader(bytes.NewReader(output.Bytes()))
	require.NoError(t, err)
	defer fileReader.Close()
	assert.Equal(t, 3, fileReader.NumRowGroups())
	assert.Equal(t, int64(5), fileReader.NumRows())
}

func TestWrittenFileIsReadableParquet(t *testing.T) {
	data := writeRecords(t, &geoparquet.WriterConfig{}, newRecord(t, []geom.T{point(1, 2)}))

	fileReader, err := file.NewParquetReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer fileReader.Close()

	arrowReader, err := pqarrow.NewFileReader(fileReader, pqarrow.ArrowReadProperties{}, memory.DefaultAllocator)
	require.NoError(t, err)
	schema, err := arrowReader.Schema()
	require.NoError(t, err)

	field, ok := schema.FieldsByName("geometry")
	require.True(t, ok)
	assert.Equal(t, arrow.BINARY, field[0].Type.ID())

	test.AssertArrowSchemaMatches(t, `
		message {
			optional binary name (STRING);
			optional binary geometry;
		}
	`, schema)
}
