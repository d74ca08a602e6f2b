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
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/planetlabs/geocol/internal/geo"
	"github.com/planetlabs/geocol/internal/geoarrow"
	"go.uber.org/zap"
	"golang.org/x/mod/semver"
)

// ColumnConfig describes how a geometry column is written.  An empty
// Encoding keeps the encoding of the input column.  A zero Dimension uses the
// dimension of a native input column, or XY for WKB input.
type ColumnConfig struct {
	Encoding    string
	Dimension   geo.Dimension
	CRS         json.RawMessage
	Edges       string
	Orientation string
	Epoch       *float64
}

type WriterConfig struct {
	Writer      io.Writer
	ArrowSchema *arrow.Schema

	// Metadata from an existing file.  Its columns are registered as geometry
	// columns and their CRS and other descriptive fields are carried over.
	Metadata *Metadata

	PrimaryColumn      string
	Columns            map[string]*ColumnConfig
	Covering           bool
	Version            string
	ParquetWriterProps *parquet.WriterProperties
	ArrowWriterProps   *pqarrow.ArrowWriterProperties
	Logger             *zap.Logger
}

type geometryColumn struct {
	name     string
	index    int
	input    geoarrow.Encoding
	encoding geoarrow.Encoding
	dim      geo.Dimension
	covering string
	config   *ColumnConfig

	// existing covering column carried over from the input
	inputCovering string
}

// Writer writes record batches to a GeoParquet file.  Geometry columns are
// converted to their configured encoding, their types and bounds are
// accumulated across batches, and the geo metadata is written on Close.
// A Writer is not safe for concurrent use.
type Writer struct {
	fileWriter  *pqarrow.FileWriter
	sink        *sink
	inputSchema *arrow.Schema
	schema      *arrow.Schema
	mem         memory.Allocator
	logger      *zap.Logger
	version     string
	primary     string
	columns     []*geometryColumn
	byIndex     map[int]*geometryColumn
	stats       *geo.DatasetStats
	metadata    *Metadata
	closed      bool
}

func NewWriter(config *WriterConfig) (*Writer, error) {
	parquetProps := config.ParquetWriterProps
	if parquetProps == nil {
		parquetProps = parquet.NewWriterProperties()
	}

	arrowProps := config.ArrowWriterProps
	if arrowProps == nil {
		defaults := pqarrow.DefaultWriterProps()
		arrowProps = &defaults
	}

	if config.ArrowSchema == nil {
		return nil, errors.New("schema is required")
	}

	if config.Writer == nil {
		return nil, errors.New("writer is required")
	}

	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	version := config.Version
	if version == "" {
		version = Version
	}
	if _, err := handlerFor(version); err != nil {
		return nil, err
	}

	columns, primary, err := registerColumns(config)
	if err != nil {
		return nil, err
	}

	if len(columns) > 0 && semver.Compare("v"+version, "v1.1.0") < 0 {
		for _, col := range columns {
			if col.encoding.IsNative() || col.covering != "" {
				return nil, fmt.Errorf("column %q requires version 1.1.0 or later, got %s", col.name, version)
			}
		}
	}

	schema, err := outputSchema(config.ArrowSchema, columns)
	if err != nil {
		return nil, err
	}

	output := &sink{writer: config.Writer}
	fileWriter, fileErr := pqarrow.NewFileWriter(schema, output, parquetProps, *arrowProps)
	if fileErr != nil {
		return nil, fileErr
	}

	writer := &Writer{
		fileWriter:  fileWriter,
		sink:        output,
		inputSchema: config.ArrowSchema,
		schema:      schema,
		mem:         parquetProps.Allocator(),
		logger:      logger,
		version:     version,
		primary:     primary,
		columns:     columns,
		byIndex:     map[int]*geometryColumn{},
		stats:       geo.NewDatasetStats(false),
	}
	for _, col := range columns {
		writer.byIndex[col.index] = col
		writer.stats.AddColumn(col.name)
		logger.Debug("registered geometry column",
			zap.String("column", col.name),
			zap.Stringer("input", col.input),
			zap.Stringer("encoding", col.encoding),
			zap.Stringer("dimension", col.dim),
			zap.String("covering", col.covering),
		)
	}
	if len(columns) == 0 {
		logger.Warn("no geometry columns found in schema")
	}

	return writer, nil
}

func registerColumns(config *WriterConfig) ([]*geometryColumn, string, error) {
	inputSchema := config.ArrowSchema
	names := map[string]bool{}
	for name := range config.Columns {
		names[name] = true
	}
	if config.Metadata != nil {
		for name := range config.Metadata.Columns {
			names[name] = true
		}
	}
	for _, field := range inputSchema.Fields() {
		if _, ok := field.Metadata.GetValue(geoarrow.ExtensionNameKey); ok {
			if _, err := geoarrow.EncodingOf(field); err == nil {
				names[field.Name] = true
			}
		}
	}

	primary := config.PrimaryColumn
	if primary == "" && config.Metadata != nil {
		primary = config.Metadata.PrimaryColumn
	}
	if primary != "" {
		names[primary] = true
	} else if inputSchema.HasField(DefaultGeometryColumn) {
		names[DefaultGeometryColumn] = true
	}

	for name := range names {
		if !inputSchema.HasField(name) {
			message := fmt.Sprintf(
				"expected a geometry column named %q,"+
					" use the --input-primary-column to supply a different primary geometry",
				name,
			)
			return nil, "", errors.New(message)
		}
	}

	columns := []*geometryColumn{}
	for index, field := range inputSchema.Fields() {
		if !names[field.Name] {
			continue
		}
		col, err := newGeometryColumn(config, index, field)
		if err != nil {
			return nil, "", err
		}
		columns = append(columns, col)
	}

	if primary == "" && len(columns) > 0 {
		primary = columns[0].name
	}

	if config.Covering {
		for _, col := range columns {
			col.covering = col.name + "_" + DefaultCoveringColumn
			if col.name == primary {
				col.covering = DefaultCoveringColumn
			}
			if inputSchema.HasField(col.covering) {
				return nil, "", fmt.Errorf("cannot add covering for %q, the schema already has a %q column", col.name, col.covering)
			}
		}
	} else if config.Metadata != nil {
		for _, col := range columns {
			meta, ok := config.Metadata.Columns[col.name]
			if !ok || meta.Covering == nil {
				continue
			}
			if name := meta.Covering.Column(); name != "" && inputSchema.HasField(name) {
				col.inputCovering = name
			}
		}
	}

	return columns, primary, nil
}

func newGeometryColumn(config *WriterConfig, index int, field arrow.Field) (*geometryColumn, error) {
	colConfig := &ColumnConfig{}
	if config.Metadata != nil {
		if meta, ok := config.Metadata.Columns[field.Name]; ok {
			colConfig.CRS = meta.CRS
			colConfig.Edges = meta.Edges
			colConfig.Orientation = meta.Orientation
			colConfig.Epoch = meta.Epoch
		}
	}
	if c, ok := config.Columns[field.Name]; ok && c != nil {
		override := *c
		if override.CRS == nil {
			override.CRS = colConfig.CRS
		}
		if override.Edges == "" {
			override.Edges = colConfig.Edges
		}
		if override.Orientation == "" {
			override.Orientation = colConfig.Orientation
		}
		if override.Epoch == nil {
			override.Epoch = colConfig.Epoch
		}
		colConfig = &override
	}

	input, err := geoarrow.EncodingOf(field)
	if err != nil {
		return nil, err
	}

	encoding := input
	if colConfig.Encoding != "" {
		enc, err := geoarrow.ParseEncoding(colConfig.Encoding)
		if err != nil {
			return nil, err
		}
		encoding = enc
	}

	dim := colConfig.Dimension
	if dim == 0 {
		dim = geo.XY
		if input.IsNative() {
			d, err := geoarrow.DimensionOfType(field.Type)
			if err != nil {
				return nil, fmt.Errorf("column %q: %w", field.Name, err)
			}
			dim = d
		}
	}

	return &geometryColumn{
		name:     field.Name,
		index:    index,
		input:    input,
		encoding: encoding,
		dim:      dim,
		config:   colConfig,
	}, nil
}

// passThrough reports whether input arrays can be written without
// conversion.
func (c *geometryColumn) passThrough(field arrow.Field) bool {
	if c.input != c.encoding {
		return false
	}
	if c.encoding == geoarrow.EncodingWKB {
		return true
	}
	dim, err := geoarrow.DimensionOfType(field.Type)
	return err == nil && dim == c.dim
}

func outputSchema(input *arrow.Schema, columns []*geometryColumn) (*arrow.Schema, error) {
	byIndex := map[int]*geometryColumn{}
	for _, col := range columns {
		byIndex[col.index] = col
	}

	fields := make([]arrow.Field, 0, input.NumFields()+len(columns))
	coverings := []arrow.Field{}
	for index, field := range input.Fields() {
		col, ok := byIndex[index]
		if !ok {
			fields = append(fields, field)
			continue
		}
		output := field
		if !col.passThrough(field) {
			output.Type = geoarrow.DataType(col.encoding, col.dim)
			output.Nullable = true
		}
		fields = append(fields, geoarrow.Annotate(output, col.encoding))
		if col.covering != "" {
			coverings = append(coverings, geoarrow.CoveringField(col.covering))
		}
	}
	fields = append(fields, coverings...)

	metadata := input.Metadata()
	return arrow.NewSchema(fields, &metadata), nil
}

// Schema returns the schema of the written file.
func (w *Writer) Schema() *arrow.Schema {
	return w.schema
}

func (w *Writer) geometryColumn(name string) *geometryColumn {
	for _, col := range w.columns {
		if col.name == name {
			return col
		}
	}
	return nil
}

// AppendKeyValueMetadata adds file metadata.  The geo metadata key is
// reserved for the writer.
func (w *Writer) AppendKeyValueMetadata(key string, value string) error {
	if w.closed {
		return ErrClosedWriter
	}
	if key == MetadataKey {
		return fmt.Errorf("the %q metadata key is written on close", MetadataKey)
	}
	return w.fileWriter.AppendKeyValueMetadata(key, value)
}

// Write encodes a record batch.  The record must have the schema the writer
// was created with.
func (w *Writer) Write(record arrow.Record) error {
	if w.closed {
		return ErrClosedWriter
	}
	if err := checkSchema(w.inputSchema, record.Schema()); err != nil {
		return err
	}

	numFields := w.schema.NumFields()
	columns := make([]arrow.Array, 0, numFields)
	owned := []arrow.Array{}
	defer func() {
		for _, arr := range owned {
			arr.Release()
		}
	}()

	coverings := []arrow.Array{}
	batchStats := map[string]*geo.ColumnStats{}
	for i := 0; i < int(record.NumCols()); i++ {
		arr := record.Column(i)
		col, ok := w.byIndex[i]
		if !ok {
			columns = append(columns, arr)
			continue
		}

		encoded, stats, err := w.encode(col, arr)
		if err != nil {
			return fmt.Errorf("trouble encoding %q: %w", col.name, err)
		}
		owned = append(owned, encoded)
		columns = append(columns, encoded)
		batchStats[col.name] = stats

		if col.covering == "" {
			continue
		}
		covering, err := geoarrow.BuildCovering(w.mem, encoded, col.encoding)
		if err != nil {
			return fmt.Errorf("trouble building covering for %q: %w", col.name, err)
		}
		owned = append(owned, covering)
		coverings = append(coverings, covering)
	}
	columns = append(columns, coverings...)

	output := array.NewRecord(w.schema, columns, record.NumRows())
	defer output.Release()
	if err := w.fileWriter.WriteBuffered(output); err != nil {
		return err
	}

	for name, stats := range batchStats {
		w.stats.Merge(name, stats)
	}
	w.logger.Debug("wrote batch", zap.Int64("rows", record.NumRows()))
	return nil
}

func (w *Writer) encode(col *geometryColumn, arr arrow.Array) (arrow.Array, *geo.ColumnStats, error) {
	encoded, err := geoarrow.Convert(w.mem, arr, col.input, col.encoding, col.dim)
	if err != nil {
		return nil, nil, err
	}

	decoder, err := geoarrow.NewDecoder(encoded, col.encoding)
	if err != nil {
		encoded.Release()
		return nil, nil, err
	}

	stats := geo.NewColumnStats()
	for i := 0; i < decoder.Len(); i++ {
		g, err := decoder.Geometry(i)
		if err == nil {
			err = stats.Observe(g)
		}
		if err != nil {
			encoded.Release()
			return nil, nil, fmt.Errorf("row %d: %w", i, err)
		}
	}
	return encoded, stats, nil
}

func checkSchema(expected *arrow.Schema, actual *arrow.Schema) error {
	if expected.NumFields() != actual.NumFields() {
		return fmt.Errorf("expected record with %d fields, got %d", expected.NumFields(), actual.NumFields())
	}
	for i, field := range expected.Fields() {
		other := actual.Field(i)
		if field.Name != other.Name || !arrow.TypeEqual(field.Type, other.Type) {
			return fmt.Errorf("expected field %d to be %s, got %s", i, field, other)
		}
	}
	return nil
}

// Close writes the geo metadata and closes the file.  It fails with
// ErrNoGeometryColumn if the schema had no geometry columns, in which case
// the output is not a valid GeoParquet file.
func (w *Writer) Close() error {
	if w.closed {
		return ErrClosedWriter
	}
	w.closed = true

	states := make([]*ColumnState, len(w.columns))
	for i, col := range w.columns {
		covering := col.covering
		if covering == "" {
			covering = col.inputCovering
		}
		states[i] = &ColumnState{
			Name:        col.name,
			Encoding:    col.encoding,
			Stats:       w.stats.Column(col.name),
			CRS:         col.config.CRS,
			Edges:       col.config.Edges,
			Orientation: col.config.Orientation,
			Epoch:       col.config.Epoch,
			Covering:    covering,
		}
	}

	metadata, err := Finalize(w.version, w.primary, states)
	if err != nil {
		w.discard()
		return err
	}

	data, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode %s file metadata: %w", MetadataKey, err)
	}
	if err := w.fileWriter.AppendKeyValueMetadata(MetadataKey, string(data)); err != nil {
		return fmt.Errorf("failed to append %s file metadata: %w", MetadataKey, err)
	}
	w.metadata = metadata
	w.logger.Info("finalized geo metadata", zap.ByteString("metadata", data))

	return w.fileWriter.Close()
}

// Abort releases the writer without writing the geo metadata or the parquet
// footer.  Nothing more is written to the output, so a partially written
// file is never mistaken for a complete one.  Abort after Close is a no-op.
func (w *Writer) Abort() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.discard()
	w.logger.Debug("aborted write")
	return nil
}

// discard closes the file writer with its output detached.
func (w *Writer) discard() {
	w.sink.detached = true
	_ = w.fileWriter.Close()
}

// sink passes writes through to the configured output until it is detached.
// Closing a detached sink leaves the output open.
type sink struct {
	writer   io.Writer
	detached bool
}

func (s *sink) Write(data []byte) (int, error) {
	if s.detached {
		return len(data), nil
	}
	return s.writer.Write(data)
}

func (s *sink) Close() error {
	if closer, ok := s.writer.(io.Closer); ok && !s.detached {
		return closer.Close()
	}
	return nil
}

// Metadata returns the geo metadata written on Close, or nil if the writer
// has not been closed.
func (w *Writer) Metadata() *Metadata {
	return w.metadata
}
