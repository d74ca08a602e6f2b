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

package geoparquet

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"github.com/planetlabs/geocol/internal/pqutil"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/wkt"
	"go.uber.org/zap"
)

// EncodingNative asks for every geometry column to be written with the
// native encoding that fits its geometry types.
const EncodingNative = "native"

type ConvertOptions struct {
	InputPrimaryColumn string
	Compression        string
	RowGroupLength     int

	// Encoding is empty to keep the input encodings, "native", or the name
	// of a specific encoding ("wkb", "point", ...).
	Encoding string
	Covering bool
	Logger   *zap.Logger
}

func getMetadata(fileReader *file.Reader, convertOptions *ConvertOptions) (*Metadata, error) {
	metadata, err := GetMetadataFromFileReader(fileReader)
	if err != nil {
		if !errors.Is(err, ErrNoMetadata) {
			return nil, err
		}
		primaryColumn := DefaultGeometryColumn
		if convertOptions.InputPrimaryColumn != "" {
			primaryColumn = convertOptions.InputPrimaryColumn
		}
		metadata = &Metadata{
			Version:       Version,
			PrimaryColumn: primaryColumn,
			Columns: map[string]*GeometryColumn{
				primaryColumn: {
					Encoding:      geoarrow.EncodingWKB.String(),
					GeometryTypes: []string{},
				},
			},
		}
	}
	if convertOptions.InputPrimaryColumn != "" && metadata.PrimaryColumn != convertOptions.InputPrimaryColumn {
		metadata.PrimaryColumn = convertOptions.InputPrimaryColumn
		if _, ok := metadata.Columns[metadata.PrimaryColumn]; !ok {
			metadata.Columns[metadata.PrimaryColumn] = &GeometryColumn{
				Encoding:      geoarrow.EncodingWKB.String(),
				GeometryTypes: []string{},
			}
		}
	}
	return metadata, nil
}

type textArray interface {
	arrow.Array
	Value(int) string
}

// convertColumn describes how an input geometry column is prepared for the
// writer.
type convertColumn struct {
	name  string
	index int
	text  bool
	input geoarrow.Encoding
}

// FromParquet rewrites a parquet file as GeoParquet.  Geometry columns are
// found from existing geo metadata or from the primary column name.  String
// geometry columns are parsed as WKT.
func FromParquet(input parquet.ReaderAtSeeker, output io.Writer, convertOptions *ConvertOptions) error {
	if convertOptions == nil {
		convertOptions = &ConvertOptions{}
	}
	logger := convertOptions.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fileReader, err := file.NewParquetReader(input)
	if err != nil {
		return fmt.Errorf("trouble reading parquet file: %w", err)
	}
	defer fileReader.Close()

	metadata, err := getMetadata(fileReader, convertOptions)
	if err != nil {
		return err
	}

	mem := memory.DefaultAllocator
	batchSize := int64(defaultReadBatchSize)
	if convertOptions.RowGroupLength > 0 && int64(convertOptions.RowGroupLength) < batchSize {
		batchSize = int64(convertOptions.RowGroupLength)
	}
	arrowReader, err := pqarrow.NewFileReader(fileReader, pqarrow.ArrowReadProperties{BatchSize: batchSize}, mem)
	if err != nil {
		return fmt.Errorf("trouble creating arrow reader: %w", err)
	}

	inputSchema, err := arrowReader.Schema()
	if err != nil {
		return fmt.Errorf("trouble getting arrow schema: %w", err)
	}

	ctx := context.Background()
	schema, columns, err := prepareSchema(inputSchema, metadata)
	if err != nil {
		return err
	}

	columnConfigs := map[string]*ColumnConfig{}
	if convertOptions.Encoding != "" {
		for _, col := range columns {
			colConfig, err := resolveColumnConfig(ctx, arrowReader, fileReader, metadata, col, convertOptions.Encoding)
			if err != nil {
				return err
			}
			columnConfigs[col.name] = colConfig
		}
	}

	parquetProps, err := pqutil.NewWriterProperties(&pqutil.WriterOptions{
		Compression:    convertOptions.Compression,
		RowGroupLength: convertOptions.RowGroupLength,
		Allocator:      mem,
	}, fileReader)
	if err != nil {
		return err
	}

	version := Version
	if convertOptions.Encoding == "" && !convertOptions.Covering && metadata.Version != "" {
		version = metadata.Version
		if strings.HasPrefix(version, "0.") {
			version = Version
		}
	}

	writer, err := NewWriter(&WriterConfig{
		Writer:             output,
		ArrowSchema:        schema,
		Metadata:           metadata,
		PrimaryColumn:      metadata.PrimaryColumn,
		Columns:            columnConfigs,
		Covering:           convertOptions.Covering,
		Version:            version,
		ParquetWriterProps: parquetProps,
		ArrowWriterProps:   pqutil.NewArrowWriterProperties(),
		Logger:             logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = writer.Abort() }()

	for _, kv := range fileReader.MetaData().KeyValueMetadata() {
		if kv.Key == MetadataKey || kv.Key == "ARROW:schema" || kv.Value == nil {
			continue
		}
		if err := writer.AppendKeyValueMetadata(kv.Key, *kv.Value); err != nil {
			return err
		}
	}

	recordReader, err := arrowReader.GetRecordReader(ctx, nil, nil)
	if err != nil {
		return fmt.Errorf("trouble creating record reader: %w", err)
	}
	defer recordReader.Release()

	for {
		record, err := recordReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		if err := writeConverted(writer, mem, schema, columns, record); err != nil {
			return err
		}
	}

	logger.Info("converted parquet file",
		zap.Int64("rows", fileReader.NumRows()),
		zap.String("primary", metadata.PrimaryColumn),
	)
	return writer.Close()
}

// prepareSchema annotates the geometry fields of the input schema with their
// encoding.  String fields are replaced with WKB fields.
func prepareSchema(inputSchema *arrow.Schema, metadata *Metadata) (*arrow.Schema, []*convertColumn, error) {
	fields := make([]arrow.Field, inputSchema.NumFields())
	columns := []*convertColumn{}
	for index, field := range inputSchema.Fields() {
		fields[index] = field
		meta, ok := metadata.Columns[field.Name]
		if !ok {
			continue
		}
		enc, err := meta.GeoArrowEncoding()
		if err != nil {
			return nil, nil, err
		}
		col := &convertColumn{name: field.Name, index: index, input: enc}
		switch field.Type.ID() {
		case arrow.STRING, arrow.LARGE_STRING:
			col.text = true
			col.input = geoarrow.EncodingWKB
			field.Type = arrow.BinaryTypes.Binary
		}
		fields[index] = geoarrow.Annotate(field, col.input)
		columns = append(columns, col)
	}
	for name := range metadata.Columns {
		if !inputSchema.HasField(name) {
			message := fmt.Sprintf(
				"expected a geometry column named %q,"+
					" use the --input-primary-column to supply a different primary geometry",
				name,
			)
			return nil, nil, errors.New(message)
		}
	}
	schemaMetadata := inputSchema.Metadata()
	return arrow.NewSchema(fields, &schemaMetadata), columns, nil
}

// resolveColumnConfig picks the output encoding and dimension of a column.
// Geometry types are taken from the metadata or found by scanning the column.
func resolveColumnConfig(ctx context.Context, arrowReader *pqarrow.FileReader, fileReader *file.Reader, metadata *Metadata, col *convertColumn, encoding string) (*ColumnConfig, error) {
	types, err := metadata.Columns[col.name].TypeInventory()
	if err != nil {
		return nil, err
	}
	if types.Len() == 0 && (col.input == geoarrow.EncodingWKB || col.text) {
		scanned, err := scanTypes(ctx, arrowReader, fileReader, col)
		if err != nil {
			return nil, err
		}
		types = scanned
	}

	if strings.EqualFold(encoding, EncodingNative) {
		if col.input.IsNative() {
			return &ColumnConfig{Encoding: col.input.String()}, nil
		}
		enc, dim, err := geoarrow.InferNative(types)
		if err != nil {
			return nil, fmt.Errorf("column %q: %w", col.name, err)
		}
		return &ColumnConfig{Encoding: enc.String(), Dimension: dim}, nil
	}

	enc, err := geoarrow.ParseEncoding(encoding)
	if err != nil {
		return nil, err
	}
	colConfig := &ColumnConfig{Encoding: enc.String()}
	if enc.IsNative() && !col.input.IsNative() {
		colConfig.Dimension = geo.XY
		if types.HasZ() {
			colConfig.Dimension = geo.XYZ
		}
	}
	return colConfig, nil
}

func scanTypes(ctx context.Context, arrowReader *pqarrow.FileReader, fileReader *file.Reader, col *convertColumn) (*geo.TypeInventory, error) {
	indices := GetColumnIndices([]string{col.name}, fileReader.MetaData().Schema)
	recordReader, err := arrowReader.GetRecordReader(ctx, indices, nil)
	if err != nil {
		return nil, err
	}
	defer recordReader.Release()

	types := &geo.TypeInventory{}
	for {
		record, err := recordReader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		geometries, err := columnGeometries(record.Column(0), col)
		if err != nil {
			return nil, err
		}
		for _, g := range geometries {
			if err := types.Observe(g); err != nil {
				return nil, err
			}
		}
	}
	return types, nil
}

func columnGeometries(arr arrow.Array, col *convertColumn) ([]geom.T, error) {
	if !col.text {
		return geoarrow.Decode(arr, col.input)
	}
	values, ok := arr.(textArray)
	if !ok {
		return nil, fmt.Errorf("expected a string array for %q, got %s", col.name, arr.DataType())
	}
	geometries := make([]geom.T, values.Len())
	for i := 0; i < values.Len(); i++ {
		if values.IsNull(i) {
			continue
		}
		g, err := wkt.Unmarshal(values.Value(i))
		if err != nil {
			return nil, fmt.Errorf("trouble parsing WKT in %q: %w", col.name, err)
		}
		geometries[i] = g
	}
	return geometries, nil
}

func wktToWKB(mem memory.Allocator, arr arrow.Array, col *convertColumn) (arrow.Array, error) {
	geometries, err := columnGeometries(arr, col)
	if err != nil {
		return nil, err
	}
	return geoarrow.Encode(mem, geometries, geoarrow.EncodingWKB)
}

func writeConverted(writer *Writer, mem memory.Allocator, schema *arrow.Schema, columns []*convertColumn, record arrow.Record) error {
	arrays := make([]arrow.Array, record.NumCols())
	copy(arrays, record.Columns())
	converted := []arrow.Array{}
	defer func() {
		for _, arr := range converted {
			arr.Release()
		}
	}()

	for _, col := range columns {
		if !col.text {
			continue
		}
		arr, err := wktToWKB(mem, arrays[col.index], col)
		if err != nil {
			return err
		}
		converted = append(converted, arr)
		arrays[col.index] = arr
	}

	prepared := array.NewRecord(schema, arrays, record.NumRows())
	defer prepared.Release()
	return writer.Write(prepared)
}
