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
	"slices"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/apache/arrow-go/v18/parquet/schema"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"go.uber.org/zap"
)

const (
	defaultReadBatchSize = 1024
)

// Representation selects how geometry columns are returned by a reader.
type Representation int

const (
	// AsStored returns geometry columns in the encoding they were written with.
	AsStored Representation = iota

	// AsWKB returns every geometry column as WKB.
	AsWKB

	// AsNative returns every geometry column in a native encoding.  WKB
	// columns are converted to the encoding that fits their geometry types.
	AsNative
)

type ReaderConfig struct {
	BatchSize      int
	Reader         parquet.ReaderAtSeeker
	File           *file.Reader
	Context        context.Context
	Columns        []int
	RowGroups      []int
	Representation Representation
	Allocator      memory.Allocator
	Logger         *zap.Logger
}

type readColumn struct {
	name     string
	index    int
	input    geoarrow.Encoding
	encoding geoarrow.Encoding
	dim      geo.Dimension
	convert  bool
}

// RecordReader reads record batches from a GeoParquet file.  Geometry
// fields in the returned records carry the geoarrow extension name of their
// encoding.
type RecordReader struct {
	fileReader   *file.Reader
	metadata     *Metadata
	recordReader pqarrow.RecordReader
	schema       *arrow.Schema
	columns      []*readColumn
	mem          memory.Allocator
	logger       *zap.Logger
	current      arrow.Record
}

func NewParquetFileReader(config *ReaderConfig) (*file.Reader, error) {
	fileReader := config.File
	if fileReader == nil {
		if config.Reader == nil {
			return nil, errors.New("config must include a File or Reader value")
		}
		fr, frErr := file.NewParquetReader(config.Reader)
		if frErr != nil {
			return nil, frErr
		}
		fileReader = fr
	}
	return fileReader, nil
}

func NewArrowFileReader(config *ReaderConfig, parquetReader *file.Reader) (*pqarrow.FileReader, error) {
	batchSize := config.BatchSize
	if batchSize == 0 {
		batchSize = defaultReadBatchSize
	}

	mem := config.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	return pqarrow.NewFileReader(parquetReader, pqarrow.ArrowReadProperties{BatchSize: int64(batchSize)}, mem)
}

func NewRecordReaderFromConfig(config *ReaderConfig) (reader *RecordReader, err error) {
	parquetFileReader, err := NewParquetFileReader(config)
	if err != nil {
		return nil, fmt.Errorf("could not get ParquetFileReader: %w", err)
	}
	if config.File == nil {
		// the file reader was opened here and is closed with the record reader
		defer func() {
			if err != nil {
				_ = parquetFileReader.Close()
			}
		}()
	}

	arrowFileReader, err := NewArrowFileReader(config, parquetFileReader)
	if err != nil {
		return nil, fmt.Errorf("could not get ArrowFileReader: %w", err)
	}

	geoMetadata, err := GetMetadataFromFileReader(parquetFileReader)
	if err != nil {
		return nil, fmt.Errorf("could not get geo metadata from file reader: %w", err)
	}

	ctx := config.Context
	if ctx == nil {
		ctx = context.Background()
	}

	columns := config.Columns
	if len(columns) == 0 {
		columns = nil
	}
	if columns != nil {
		primaryIndices := GetColumnIndices([]string{geoMetadata.PrimaryColumn}, parquetFileReader.MetaData().Schema)
		for _, idx := range primaryIndices {
			if !slices.Contains(columns, idx) {
				return nil, fmt.Errorf("columns must include primary geometry column '%v' (index %v)", geoMetadata.PrimaryColumn, idx)
			}
		}
	}

	rowGroups := config.RowGroups
	if len(rowGroups) == 0 {
		rowGroups = nil
	}

	recordReader, recordErr := arrowFileReader.GetRecordReader(ctx, columns, rowGroups)
	if recordErr != nil {
		return nil, recordErr
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Debug("read geo metadata",
		zap.String("version", geoMetadata.Version),
		zap.String("primary", geoMetadata.PrimaryColumn),
	)

	mem := config.Allocator
	if mem == nil {
		mem = memory.DefaultAllocator
	}

	reader = &RecordReader{
		fileReader:   parquetFileReader,
		metadata:     geoMetadata,
		recordReader: recordReader,
		mem:          mem,
		logger:       logger,
	}
	if err := reader.resolve(config.Representation); err != nil {
		recordReader.Release()
		return nil, err
	}
	return reader, nil
}

// resolve decides the output encoding of every geometry column.
func (r *RecordReader) resolve(representation Representation) error {
	input := r.recordReader.Schema()
	fields := make([]arrow.Field, input.NumFields())
	for index, field := range input.Fields() {
		fields[index] = field
		meta, ok := r.metadata.Columns[field.Name]
		if !ok {
			continue
		}

		stored, err := meta.GeoArrowEncoding()
		if err != nil {
			return err
		}
		col := &readColumn{name: field.Name, index: index, input: stored, encoding: stored}
		if stored.IsNative() {
			dim, err := geoarrow.DimensionOfType(field.Type)
			if err != nil {
				return fmt.Errorf("column %q: %w", field.Name, err)
			}
			col.dim = dim
		}

		switch representation {
		case AsWKB:
			col.encoding = geoarrow.EncodingWKB
		case AsNative:
			if !stored.IsNative() {
				types, err := meta.TypeInventory()
				if err != nil {
					return err
				}
				enc, dim, err := geoarrow.InferNative(types)
				if err != nil {
					return fmt.Errorf("column %q: %w", field.Name, err)
				}
				col.encoding = enc
				col.dim = dim
			}
		}

		col.convert = col.encoding != col.input
		output := field
		if col.convert {
			output.Type = geoarrow.DataType(col.encoding, col.dim)
			output.Nullable = true
			r.logger.Debug("converting geometry column",
				zap.String("column", col.name),
				zap.Stringer("from", col.input),
				zap.Stringer("to", col.encoding),
			)
		}
		fields[index] = geoarrow.Annotate(output, col.encoding)
		r.columns = append(r.columns, col)
	}

	metadata := input.Metadata()
	r.schema = arrow.NewSchema(fields, &metadata)
	return nil
}

// Read returns the next record or io.EOF.  The record is valid until the
// next call to Read or Close.
func (r *RecordReader) Read() (arrow.Record, error) {
	if r.current != nil {
		r.current.Release()
		r.current = nil
	}

	record, err := r.recordReader.Read()
	if err != nil {
		return nil, err
	}

	columns := make([]arrow.Array, record.NumCols())
	copy(columns, record.Columns())
	converted := []arrow.Array{}
	defer func() {
		for _, arr := range converted {
			arr.Release()
		}
	}()

	for _, col := range r.columns {
		if !col.convert {
			continue
		}
		arr, err := geoarrow.Convert(r.mem, columns[col.index], col.input, col.encoding, col.dim)
		if err != nil {
			return nil, fmt.Errorf("trouble converting %q to %s: %w", col.name, col.encoding, err)
		}
		converted = append(converted, arr)
		columns[col.index] = arr
	}

	r.current = array.NewRecord(r.schema, columns, record.NumRows())
	return r.current, nil
}

func (r *RecordReader) Metadata() *Metadata {
	return r.metadata
}

// CRS returns the CRS of a geometry column.  The second value is false if the
// column has no CRS.
func (r *RecordReader) CRS(column string) ([]byte, bool) {
	meta, ok := r.metadata.Columns[column]
	if !ok || !meta.HasCRS() {
		return nil, false
	}
	return meta.CRS, true
}

// Encoding returns the encoding a geometry column is returned in.
func (r *RecordReader) Encoding(column string) (geoarrow.Encoding, bool) {
	for _, col := range r.columns {
		if col.name == column {
			return col.encoding, true
		}
	}
	return 0, false
}

func (r *RecordReader) Schema() *schema.Schema {
	return r.fileReader.MetaData().Schema
}

func (r *RecordReader) ArrowSchema() *arrow.Schema {
	return r.schema
}

func (r *RecordReader) NumRows() int64 {
	return r.fileReader.NumRows()
}

func (r *RecordReader) Close() error {
	if r.current != nil {
		r.current.Release()
		r.current = nil
	}
	r.recordReader.Release()
	return r.fileReader.Close()
}
